package stream

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecodeFrame_Start(t *testing.T) {
	raw := `{"event":"start","sequenceNumber":"1","start":{"streamSid":"MZ1","accountSid":"AC1","callSid":"CA1",
		"tracks":["inbound"],"mediaFormat":{"encoding":"audio/x-mulaw","sampleRate":8000,"channels":1},
		"customParameters":{"call_id":"c-1","direction":"outbound"}},"streamSid":"MZ1"}`

	f, err := DecodeFrame([]byte(raw))
	require.NoError(t, err)
	assert.Equal(t, EventStart, f.Event)
	require.NotNil(t, f.Start)
	assert.Equal(t, "CA1", f.Start.CallSID)
	assert.Equal(t, 8000, f.Start.MediaFormat.SampleRate)
	assert.Equal(t, "c-1", f.Start.CustomParameters["call_id"])
}

func TestDecodeFrame_Media(t *testing.T) {
	f, err := DecodeFrame([]byte(`{"event":"media","streamSid":"MZ1","media":{"track":"inbound","chunk":"2","timestamp":"40","payload":"//8="}}`))
	require.NoError(t, err)
	b, err := f.Audio()
	require.NoError(t, err)
	assert.Equal(t, []byte{0xFF, 0xFF}, b)
}

func TestDecodeFrame_Rejects(t *testing.T) {
	_, err := DecodeFrame([]byte(`{"streamSid":"MZ1"}`))
	assert.Error(t, err)
	_, err = DecodeFrame([]byte(`nope`))
	assert.Error(t, err)

	f := Frame{Event: EventMedia, Media: &MediaInfo{Payload: "%%%"}}
	_, err = f.Audio()
	assert.Error(t, err)
}

func TestOutboundFrames(t *testing.T) {
	b, err := json.Marshal(mediaFrame("MZ1", []byte{0xFF, 0xFF}))
	require.NoError(t, err)
	assert.JSONEq(t, `{"event":"media","streamSid":"MZ1","media":{"payload":"//8="}}`, string(b))

	b, err = json.Marshal(markFrame("MZ1", "reply-1"))
	require.NoError(t, err)
	assert.JSONEq(t, `{"event":"mark","streamSid":"MZ1","mark":{"name":"reply-1"}}`, string(b))
}
