package telephony

import (
	"context"
	"errors"

	"github.com/twilio/twilio-go"
	twilioapi "github.com/twilio/twilio-go/rest/api/v2010"
)

// statusCallbackEvents are the call progress events Twilio reports back.
var statusCallbackEvents = []string{"initiated", "ringing", "answered", "completed"}

// TwilioProvider places and hangs up calls through the Twilio REST API.
type TwilioProvider struct {
	client *twilio.RestClient
}

// NewTwilioProvider returns ErrConfiguration when credentials are missing.
func NewTwilioProvider(accountSID, authToken string) (*TwilioProvider, error) {
	if accountSID == "" || authToken == "" {
		return nil, ErrConfiguration
	}
	client := twilio.NewRestClientWithParams(twilio.ClientParams{
		Username: accountSID,
		Password: authToken,
	})
	return &TwilioProvider{client: client}, nil
}

func (p *TwilioProvider) CreateCall(ctx context.Context, req OutboundCall) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	params := &twilioapi.CreateCallParams{}
	params.SetTo(req.To)
	params.SetFrom(req.From)
	params.SetTwiml(req.Document)
	if req.StatusCallbackURL != "" {
		params.SetStatusCallback(req.StatusCallbackURL)
		params.SetStatusCallbackEvent(statusCallbackEvents)
		params.SetStatusCallbackMethod("POST")
	}

	resp, err := p.client.Api.CreateCall(params)
	if err != nil {
		return "", err
	}
	if resp == nil || resp.Sid == nil || *resp.Sid == "" {
		return "", errors.New("twilio returned no call sid")
	}
	return *resp.Sid, nil
}

func (p *TwilioProvider) Hangup(ctx context.Context, callSID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	params := &twilioapi.UpdateCallParams{}
	params.SetStatus("completed")
	_, err := p.client.Api.UpdateCall(callSID, params)
	return err
}
