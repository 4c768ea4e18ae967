package notify

import (
	"context"
	"errors"
	"testing"

	twilioApi "github.com/twilio/twilio-go/rest/api/v2010"

	"github.com/careloop/engageflow/internal/models"
)

type mockSMSAPI struct {
	calls []twilioApi.CreateMessageParams
	err   error
}

func (m *mockSMSAPI) CreateMessage(params *twilioApi.CreateMessageParams) (*twilioApi.ApiV2010Message, error) {
	m.calls = append(m.calls, *params)
	if m.err != nil {
		return nil, m.err
	}
	return &twilioApi.ApiV2010Message{}, nil
}

func TestSendSMS_Availability(t *testing.T) {
	api := &mockSMSAPI{}
	svc := &TwilioService{api: api, from: "+15550000000"}

	err := svc.SendSMS(context.Background(), models.NotificationAvailability, "+15551234567", map[string]string{
		"pharmacy_name": "Main Street Pharmacy",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(api.calls) != 1 {
		t.Fatalf("expected 1 Twilio call, got %d", len(api.calls))
	}
	call := api.calls[0]
	if call.To == nil || *call.To != "+15551234567" {
		t.Errorf("unexpected recipient: %v", call.To)
	}
	if call.Body == nil || *call.Body == "" {
		t.Error("expected a non-empty message body")
	}
}

func TestSendSMS_UnknownKind(t *testing.T) {
	api := &mockSMSAPI{}
	svc := &TwilioService{api: api, from: "+15550000000"}

	if err := svc.SendSMS(context.Background(), models.NotificationKind("bogus"), "+15551234567", nil); err == nil {
		t.Error("expected error for unknown notification kind")
	}
	if len(api.calls) != 0 {
		t.Errorf("expected no Twilio calls, got %d", len(api.calls))
	}
}

func TestSendSMS_DeliveryFailure(t *testing.T) {
	api := &mockSMSAPI{err: errors.New("twilio unavailable")}
	svc := &TwilioService{api: api, from: "+15550000000"}

	err := svc.SendSMS(context.Background(), models.NotificationWelcome, "+15551234567", nil)
	if err == nil {
		t.Error("expected delivery failure to be returned for logging")
	}
}

func TestNewTwilioService_MissingCredentials(t *testing.T) {
	t.Setenv("TWILIO_ACCOUNT_SID", "")
	t.Setenv("TWILIO_AUTH_TOKEN", "")
	t.Setenv("TWILIO_FROM_NUMBER", "")

	if _, err := NewTwilioService(); err == nil {
		t.Error("expected error when credentials are missing")
	}
}

func TestNoopService(t *testing.T) {
	if err := (NoopService{}).SendSMS(context.Background(), models.NotificationWelcome, "+15551234567", nil); err != nil {
		t.Errorf("noop service should never fail, got %v", err)
	}
}
