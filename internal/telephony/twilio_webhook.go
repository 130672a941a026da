package telephony

import (
	"net/http"
	"strconv"
	"strings"

	"voice-secretary/internal/calls"
)

// TwilioVoiceForm captures the subset of voice webhook fields we care about.
// Twilio sends application/x-www-form-urlencoded by default.
// Ref: https://www.twilio.com/docs/voice/twiml
//
// Keep it minimal and provider-adapter-only. Admission decisions are made by the Bridge.
type TwilioVoiceForm struct {
	CallSid    string
	AccountSid string
	From       string
	To         string
	Direction  string
	CallStatus string
	CallerName string
}

func ParseTwilioVoiceForm(r *http.Request) (TwilioVoiceForm, error) {
	if err := r.ParseForm(); err != nil {
		return TwilioVoiceForm{}, err
	}
	return TwilioVoiceForm{
		CallSid:    strings.TrimSpace(r.PostFormValue("CallSid")),
		AccountSid: r.PostFormValue("AccountSid"),
		From:       calls.NormalizeNumber(r.PostFormValue("From")),
		To:         calls.NormalizeNumber(r.PostFormValue("To")),
		Direction:  r.PostFormValue("Direction"),
		CallStatus: r.PostFormValue("CallStatus"),
		CallerName: r.PostFormValue("CallerName"),
	}, nil
}

func (f TwilioVoiceForm) InboundCall() InboundCall {
	return InboundCall{CallSID: f.CallSid, From: f.From, To: f.To}
}

// ParseTwilioStatusCallback reads a status callback. CallDuration is only present
// once the call has ended; a malformed value is treated as absent.
func ParseTwilioStatusCallback(r *http.Request) (StatusCallback, error) {
	if err := r.ParseForm(); err != nil {
		return StatusCallback{}, err
	}
	cb := StatusCallback{
		CallSID:    strings.TrimSpace(r.PostFormValue("CallSid")),
		CallStatus: r.PostFormValue("CallStatus"),
	}
	if raw := strings.TrimSpace(r.PostFormValue("CallDuration")); raw != "" {
		if d, err := strconv.Atoi(raw); err == nil && d >= 0 {
			cb.DurationSeconds = &d
		}
	}
	return cb, nil
}

// formParams flattens a parsed form for signature validation (first value per key).
func formParams(r *http.Request) map[string]string {
	out := make(map[string]string, len(r.PostForm))
	for k, v := range r.PostForm {
		if len(v) > 0 {
			out[k] = v[0]
		}
	}
	return out
}
