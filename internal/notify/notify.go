// Package notify sends outbound SMS notifications via Twilio.
//
// Notifications are fire-and-forget side effects: failures are logged and
// never roll back the action they were attached to.
package notify

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/twilio/twilio-go"
	twilioApi "github.com/twilio/twilio-go/rest/api/v2010"

	"github.com/careloop/engageflow/internal/models"
)

// Service sends SMS notifications of a given kind.
type Service interface {
	SendSMS(ctx context.Context, kind models.NotificationKind, to string, params map[string]string) error
}

// smsAPI is the slice of the Twilio REST API the service uses, satisfied by
// the SDK's Api service and mockable in tests.
type smsAPI interface {
	CreateMessage(params *twilioApi.CreateMessageParams) (*twilioApi.ApiV2010Message, error)
}

// Opts holds configuration options for the Twilio service.
type Opts struct {
	AccountSID string
	AuthToken  string
	FromNumber string
}

// Option configures the Twilio service.
type Option func(*Opts)

// WithAccountSID sets the Twilio account SID.
func WithAccountSID(sid string) Option {
	return func(o *Opts) { o.AccountSID = sid }
}

// WithAuthToken sets the Twilio auth token.
func WithAuthToken(token string) Option {
	return func(o *Opts) { o.AuthToken = token }
}

// WithFromNumber sets the sending phone number.
func WithFromNumber(from string) Option {
	return func(o *Opts) { o.FromNumber = from }
}

// TwilioService implements Service with the Twilio REST API.
type TwilioService struct {
	api  smsAPI
	from string
}

// NewTwilioService creates a Twilio-backed notification service, falling
// back to TWILIO_* environment variables for unset options.
func NewTwilioService(opts ...Option) (*TwilioService, error) {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.AccountSID == "" {
		cfg.AccountSID = os.Getenv("TWILIO_ACCOUNT_SID")
	}
	if cfg.AuthToken == "" {
		cfg.AuthToken = os.Getenv("TWILIO_AUTH_TOKEN")
	}
	if cfg.FromNumber == "" {
		cfg.FromNumber = os.Getenv("TWILIO_FROM_NUMBER")
	}
	if cfg.AccountSID == "" || cfg.AuthToken == "" {
		return nil, fmt.Errorf("account SID and auth token must be provided")
	}
	if cfg.FromNumber == "" {
		return nil, fmt.Errorf("from number must be provided")
	}

	client := twilio.NewRestClientWithParams(twilio.ClientParams{
		Username: cfg.AccountSID,
		Password: cfg.AuthToken,
	})

	slog.Debug("Twilio notification service created", "from_set", cfg.FromNumber != "")
	return &TwilioService{api: client.Api, from: cfg.FromNumber}, nil
}

// SendSMS sends one notification. Unknown kinds are rejected; delivery
// failures are returned for the caller to log.
func (s *TwilioService) SendSMS(ctx context.Context, kind models.NotificationKind, to string, params map[string]string) error {
	body, err := renderBody(kind, params)
	if err != nil {
		return err
	}

	msgParams := &twilioApi.CreateMessageParams{}
	msgParams.SetTo(to)
	msgParams.SetFrom(s.from)
	msgParams.SetBody(body)

	if _, err := s.api.CreateMessage(msgParams); err != nil {
		slog.Warn("Twilio SendSMS failed", "kind", kind, "error", err)
		return fmt.Errorf("send %s sms: %w", kind, err)
	}
	slog.Info("Twilio SendSMS succeeded", "kind", kind)
	return nil
}

func renderBody(kind models.NotificationKind, params map[string]string) (string, error) {
	switch kind {
	case models.NotificationAvailability:
		pharmacy := params["pharmacy_name"]
		if pharmacy == "" {
			pharmacy = "your selected pharmacy"
		}
		return fmt.Sprintf("We are checking availability at %s and will text you the result shortly.", pharmacy), nil
	case models.NotificationWelcome:
		name := params["first_name"]
		if name == "" {
			return "Welcome! Your profile is confirmed and your savings support is ready.", nil
		}
		return fmt.Sprintf("Welcome, %s! Your profile is confirmed and your savings support is ready.", name), nil
	default:
		return "", fmt.Errorf("unknown notification kind %q", kind)
	}
}

// NoopService discards notifications; used when Twilio is not configured.
type NoopService struct{}

// SendSMS logs and drops the notification.
func (NoopService) SendSMS(ctx context.Context, kind models.NotificationKind, to string, params map[string]string) error {
	slog.Debug("Noop notification service dropping SMS", "kind", kind)
	return nil
}
