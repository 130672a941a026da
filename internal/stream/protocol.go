// Package stream runs one live media session per call: Twilio media frames in,
// recognized speech to the dialogue engine, synthesized replies back out.
package stream

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
)

// Inbound event names of the Twilio Media Streams protocol.
const (
	EventConnected = "connected"
	EventStart     = "start"
	EventMedia     = "media"
	EventMark      = "mark"
	EventStop      = "stop"
)

// Frame is the JSON envelope used in both directions.
type Frame struct {
	Event          string     `json:"event"`
	SequenceNumber string     `json:"sequenceNumber,omitempty"`
	StreamSID      string     `json:"streamSid,omitempty"`
	Start          *StartInfo `json:"start,omitempty"`
	Media          *MediaInfo `json:"media,omitempty"`
	Mark           *MarkInfo  `json:"mark,omitempty"`
	Stop           *StopInfo  `json:"stop,omitempty"`
}

type StartInfo struct {
	StreamSID        string            `json:"streamSid"`
	AccountSID       string            `json:"accountSid"`
	CallSID          string            `json:"callSid"`
	Tracks           []string          `json:"tracks,omitempty"`
	MediaFormat      MediaFormat       `json:"mediaFormat"`
	CustomParameters map[string]string `json:"customParameters,omitempty"`
}

type MediaFormat struct {
	Encoding   string `json:"encoding"`
	SampleRate int    `json:"sampleRate"`
	Channels   int    `json:"channels"`
}

type MediaInfo struct {
	Track     string `json:"track,omitempty"`
	Chunk     string `json:"chunk,omitempty"`
	Timestamp string `json:"timestamp,omitempty"`
	Payload   string `json:"payload"`
}

type MarkInfo struct {
	Name string `json:"name"`
}

type StopInfo struct {
	AccountSID string `json:"accountSid"`
	CallSID    string `json:"callSid"`
}

// DecodeFrame parses one text message. Frames without an event are rejected.
func DecodeFrame(data []byte) (Frame, error) {
	var f Frame
	if err := json.Unmarshal(data, &f); err != nil {
		return Frame{}, fmt.Errorf("stream: decode frame: %w", err)
	}
	if f.Event == "" {
		return Frame{}, fmt.Errorf("stream: frame without event")
	}
	return f, nil
}

// Audio returns the decoded μ-law payload of a media frame.
func (f Frame) Audio() ([]byte, error) {
	if f.Media == nil {
		return nil, nil
	}
	b, err := base64.StdEncoding.DecodeString(f.Media.Payload)
	if err != nil {
		return nil, fmt.Errorf("stream: media payload: %w", err)
	}
	return b, nil
}

func mediaFrame(streamSID string, ulaw []byte) Frame {
	return Frame{
		Event:     EventMedia,
		StreamSID: streamSID,
		Media:     &MediaInfo{Payload: base64.StdEncoding.EncodeToString(ulaw)},
	}
}

func markFrame(streamSID, name string) Frame {
	return Frame{Event: EventMark, StreamSID: streamSID, Mark: &MarkInfo{Name: name}}
}
