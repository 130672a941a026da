package telephony

import (
	"bytes"
	"encoding/xml"
	"errors"
	"strings"
)

// TwiML is a minimal Twilio Markup Language response builder.
// Only the verbs the voice pipeline emits are modeled.

const sayLanguage = "ja-JP"

const (
	announcementGreeting = "こんにちは。AIアシスタントのダンです。ご用件をお伺いします。"
	announcementApology  = "申し訳ありません。現在、音声会話機能は準備中です。後ほどおかけ直しください。"
	declineMessage       = "申し訳ありません。現在、お電話をお受けできません。"
)

type twimlResponse struct {
	XMLName xml.Name `xml:"Response"`
	Verbs   []any    `xml:",any"`
}

type twimlSay struct {
	XMLName  xml.Name `xml:"Say"`
	Language string   `xml:"language,attr,omitempty"`
	Text     string   `xml:",chardata"`
}

type twimlPause struct {
	XMLName xml.Name `xml:"Pause"`
	Length  int      `xml:"length,attr"`
}

type twimlHangup struct {
	XMLName xml.Name `xml:"Hangup"`
}

type twimlConnect struct {
	XMLName xml.Name    `xml:"Connect"`
	Stream  twimlStream `xml:"Stream"`
}

type twimlStream struct {
	URL        string           `xml:"url,attr"`
	Parameters []twimlParameter `xml:"Parameter"`
}

type twimlParameter struct {
	Name  string `xml:"name,attr"`
	Value string `xml:"value,attr"`
}

// StreamParam is one custom parameter echoed back in the media stream's start frame.
type StreamParam struct {
	Name  string
	Value string
}

// StreamDocument connects the call to a bidirectional media stream.
func StreamDocument(streamURL string, params ...StreamParam) (string, error) {
	if strings.TrimSpace(streamURL) == "" {
		return "", errors.New("telephony: stream url required")
	}
	s := twimlStream{URL: streamURL}
	for _, p := range params {
		if p.Name == "" {
			continue
		}
		s.Parameters = append(s.Parameters, twimlParameter{Name: p.Name, Value: p.Value})
	}
	return render(twimlConnect{Stream: s})
}

// AnnouncementDocument is the degraded-mode script used when no public webhook
// base is configured: a fixed greeting, an apology and a hang-up.
func AnnouncementDocument() (string, error) {
	return render(
		twimlSay{Language: sayLanguage, Text: announcementGreeting},
		twimlPause{Length: 2},
		twimlSay{Language: sayLanguage, Text: announcementApology},
		twimlHangup{},
	)
}

// DeclineDocument speaks a short refusal and hangs up.
func DeclineDocument() (string, error) {
	return render(
		twimlSay{Language: sayLanguage, Text: declineMessage},
		twimlHangup{},
	)
}

func render(verbs ...any) (string, error) {
	r := twimlResponse{Verbs: verbs}

	var buf bytes.Buffer
	buf.WriteString(xml.Header)
	enc := xml.NewEncoder(&buf)
	enc.Indent("", "  ")
	if err := enc.Encode(r); err != nil {
		return "", err
	}
	if err := enc.Flush(); err != nil {
		return "", err
	}
	return buf.String(), nil
}
