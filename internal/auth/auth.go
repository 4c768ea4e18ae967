// Package auth implements the phone/OTP verification flow: code dispatch,
// verification branching on the backend's status contract, additional
// identity checks, two-phase profile confirmation, and session restore
// within the validity window.
package auth

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/careloop/engageflow/internal/models"
	"github.com/careloop/engageflow/internal/notify"
	"github.com/careloop/engageflow/internal/phone"
	"github.com/careloop/engageflow/internal/store"
)

// State is the position in the verification flow.
type State string

const (
	// StateAnonymous is the initial state; no phone has been verified.
	StateAnonymous State = "anonymous"
	// StateOTPSent means a code was dispatched and awaits entry.
	StateOTPSent State = "otp_sent"
	// StateAwaitingIdentity means the code matched but the backend wants
	// additional identity fields before releasing the account.
	StateAwaitingIdentity State = "awaiting_identity"
	// StateVerifiedNewUser means the phone verified but no account exists;
	// a profile must be entered and confirmed.
	StateVerifiedNewUser State = "verified_new_user"
	// StateVerifiedExistingUser means an account was found and loaded.
	StateVerifiedExistingUser State = "verified_existing_user"
	// StateProfileConfirmed means a new user finished profile confirmation.
	StateProfileConfirmed State = "profile_confirmed"
)

// Backend is the slice of the backend client the auth flow uses.
type Backend interface {
	SendOTP(ctx context.Context, phoneNumber string) error
	VerifyOTP(ctx context.Context, phoneNumber, code string) (*models.VerifyResult, error)
	VerifyUserByVerified(ctx context.Context, phoneNumber, birthDate, ssn string) (*models.VerifyResult, error)
	GenerateAccessToken(ctx context.Context, profile models.Profile) (string, error)
	SyncUser(ctx context.Context, profile models.Profile, phoneNumber string) (*models.User, error)
}

// Outcome tells the caller where the flow went after a verification call.
type Outcome struct {
	// ExistingUser is set when an account was found and the session is now
	// authenticated.
	ExistingUser bool
	// NewUser is set when the phone verified but no account exists.
	NewUser bool
	// AdditionalInputs names the identity fields the backend still wants.
	AdditionalInputs []string
	// ManualFallback is set when the backend could not match an account
	// (mismatch, not found, denied) and the flow falls back to manual
	// profile entry. NewUser is set alongside it.
	ManualFallback bool
}

// Opts holds configuration options for the auth session.
type Opts struct {
	Notifier notify.Service
	Now      func() time.Time
}

// Option configures the auth session.
type Option func(*Opts)

// WithNotifier sets the SMS notification service.
func WithNotifier(n notify.Service) Option {
	return func(o *Opts) { o.Notifier = n }
}

// WithNow overrides the clock, mainly for expiry tests.
func WithNow(now func() time.Time) Option {
	return func(o *Opts) { o.Now = now }
}

// Session tracks one user's progress through verification. Backend status
// codes drive the branching; persistence happens only at authenticated
// milestones.
type Session struct {
	mu       sync.Mutex
	backend  Backend
	store    store.Store
	notifier notify.Service
	now      func() time.Time

	state            State
	phoneNumber      string
	user             *models.User
	authToken        string
	additionalInputs []string

	// spawn runs fire-and-forget side effects; tests replace it to run
	// them inline.
	spawn func(fn func())
}

// NewSession creates an auth session backed by the given store.
func NewSession(backend Backend, st store.Store, opts ...Option) *Session {
	cfg := Opts{Notifier: notify.NoopService{}, Now: time.Now}
	for _, opt := range opts {
		opt(&cfg)
	}
	return &Session{
		backend:  backend,
		store:    st,
		notifier: cfg.Notifier,
		now:      cfg.Now,
		state:    StateAnonymous,
		spawn:    func(fn func()) { go fn() },
	}
}

// SendOTP validates the phone number and asks the backend to dispatch a
// verification code.
func (s *Session) SendOTP(ctx context.Context, rawPhone string) error {
	digits := phone.Digits(rawPhone)
	if !phone.IsValidPhoneNumber(digits) {
		return models.ErrInvalidPhone
	}
	if err := s.backend.SendOTP(ctx, digits); err != nil {
		return err
	}

	s.mu.Lock()
	s.phoneNumber = digits
	s.state = StateOTPSent
	s.mu.Unlock()
	slog.Info("AuthSession OTP sent")
	return nil
}

// VerifyOTP submits the code and branches on the backend's status contract:
// 200 with a user loads the account, 200 with only a token means a new
// user, 435 requests additional identity fields, and the rejection codes
// surface as ErrAuthRejected.
func (s *Session) VerifyOTP(ctx context.Context, rawCode string) (*Outcome, error) {
	code := phone.FormatOTP(rawCode)
	if !phone.IsValidOTP(code) {
		return nil, models.ErrInvalidOTP
	}

	s.mu.Lock()
	if s.state != StateOTPSent {
		s.mu.Unlock()
		return nil, fmt.Errorf("no code was sent: %w", models.ErrAuthRejected)
	}
	phoneNumber := s.phoneNumber
	s.mu.Unlock()

	result, err := s.backend.VerifyOTP(ctx, phoneNumber, code)
	if err != nil {
		return nil, err
	}
	return s.applyVerifyResult(result)
}

// SubmitAdditionalInfo sends the extra identity fields requested by a 435
// response. The branching mirrors VerifyOTP.
func (s *Session) SubmitAdditionalInfo(ctx context.Context, birthDate, ssn string) (*Outcome, error) {
	s.mu.Lock()
	if s.state != StateAwaitingIdentity {
		s.mu.Unlock()
		return nil, fmt.Errorf("no additional fields were requested: %w", models.ErrAuthRejected)
	}
	phoneNumber := s.phoneNumber
	s.mu.Unlock()

	result, err := s.backend.VerifyUserByVerified(ctx, phoneNumber, birthDate, ssn)
	if err != nil {
		return nil, err
	}
	return s.applyVerifyResult(result)
}

func (s *Session) applyVerifyResult(result *models.VerifyResult) (*Outcome, error) {
	switch {
	case result.StatusCode == models.StatusVerifySuccess && result.User != nil:
		s.mu.Lock()
		s.user = result.User
		s.authToken = result.AuthToken
		s.state = StateVerifiedExistingUser
		s.additionalInputs = nil
		s.mu.Unlock()
		s.persistAuthenticated()
		slog.Info("AuthSession existing user verified")
		return &Outcome{ExistingUser: true}, nil

	case result.StatusCode == models.StatusVerifySuccess:
		s.mu.Lock()
		s.authToken = result.AuthToken
		s.state = StateVerifiedNewUser
		s.additionalInputs = nil
		s.mu.Unlock()
		slog.Info("AuthSession new user verified, profile required")
		return &Outcome{NewUser: true}, nil

	case result.StatusCode == models.StatusAdditionalFieldsNeeded:
		s.mu.Lock()
		s.state = StateAwaitingIdentity
		s.additionalInputs = append([]string(nil), result.AdditionalInputs...)
		s.mu.Unlock()
		slog.Info("AuthSession additional identity fields requested", "fields", result.AdditionalInputs)
		return &Outcome{AdditionalInputs: result.AdditionalInputs}, nil

	case result.StatusCode == models.StatusFieldMismatch,
		result.StatusCode == models.StatusUserNotFound,
		result.StatusCode == models.StatusAccessDenied:
		// The phone itself verified; the account could not be matched, so
		// the flow continues with manual profile entry.
		s.mu.Lock()
		s.state = StateVerifiedNewUser
		s.additionalInputs = nil
		s.mu.Unlock()
		slog.Warn("AuthSession account not matched, falling back to manual profile entry", "statusCode", result.StatusCode)
		return &Outcome{NewUser: true, ManualFallback: true}, nil

	default:
		slog.Warn("AuthSession unexpected verification status", "statusCode", result.StatusCode)
		return nil, fmt.Errorf("verification returned status %d: %w", result.StatusCode, models.ErrBackendRejected)
	}
}

// ConfirmProfile finishes onboarding for a new user. The token generation
// and the user sync are one logical commit: if either call fails nothing is
// recorded and the caller may retry the whole confirmation.
func (s *Session) ConfirmProfile(ctx context.Context, profile models.Profile) (*models.User, error) {
	if profile.FirstName == "" || profile.LastName == "" || profile.BirthDate == "" {
		return nil, models.ErrMissingProfile
	}

	s.mu.Lock()
	if s.state != StateVerifiedNewUser {
		s.mu.Unlock()
		return nil, fmt.Errorf("profile confirmation requires a verified new user: %w", models.ErrAuthRejected)
	}
	phoneNumber := s.phoneNumber
	s.mu.Unlock()

	token, err := s.backend.GenerateAccessToken(ctx, profile)
	if err != nil {
		return nil, fmt.Errorf("generate access token: %w", err)
	}
	user, err := s.backend.SyncUser(ctx, profile, phoneNumber)
	if err != nil {
		return nil, fmt.Errorf("sync user: %w", err)
	}

	s.mu.Lock()
	s.user = user
	s.authToken = token
	s.state = StateProfileConfirmed
	s.mu.Unlock()
	s.persistAuthenticated()

	// The welcome SMS never blocks or fails the confirmation.
	notifier := s.notifier
	s.spawn(func() {
		params := map[string]string{"first_name": user.FirstName}
		if err := notifier.SendSMS(context.Background(), models.NotificationWelcome, phoneNumber, params); err != nil {
			slog.Warn("AuthSession welcome SMS failed", "error", err)
		}
	})

	slog.Info("AuthSession profile confirmed")
	return user, nil
}

// persistAuthenticated writes the session record and the continuity record.
// Storage failures are logged; the in-memory state is already committed.
func (s *Session) persistAuthenticated() {
	s.mu.Lock()
	now := s.now()
	sess := models.Session{
		PhoneNumber:   s.phoneNumber,
		Authenticated: true,
		User:          s.user,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	last := models.LastKnownUser{PhoneNumber: s.phoneNumber, SeenAt: now}
	if s.user != nil {
		last.FirstName = s.user.FirstName
		last.LastName = s.user.LastName
	}
	s.mu.Unlock()

	if err := s.store.SaveSession(sess); err != nil {
		slog.Error("AuthSession failed to persist session", "error", err)
	}
	if err := s.store.SaveLastKnownUser(last); err != nil {
		slog.Error("AuthSession failed to persist last known user", "error", err)
	}
}

// Restore loads a persisted session for phone if one exists inside the
// validity window. Expired records are purged and reported via
// ErrSessionExpired; the caller falls back to the anonymous flow.
func (s *Session) Restore(phoneNumber string) (bool, error) {
	digits := phone.Digits(phoneNumber)
	sess, err := s.store.GetSession(digits)
	if err != nil {
		return false, fmt.Errorf("load session: %w", err)
	}
	if sess == nil || !sess.Authenticated {
		return false, nil
	}
	if sess.Expired(s.now()) {
		if err := s.store.DeleteSession(digits); err != nil {
			slog.Warn("AuthSession failed to purge expired session", "error", err)
		}
		slog.Info("AuthSession purged expired session")
		return false, models.ErrSessionExpired
	}

	s.mu.Lock()
	s.phoneNumber = sess.PhoneNumber
	s.user = sess.User
	s.state = StateVerifiedExistingUser
	s.mu.Unlock()
	slog.Info("AuthSession restored")
	return true, nil
}

// LastKnownUser returns the continuity record for phone, if any. It
// survives session expiry.
func (s *Session) LastKnownUser(phoneNumber string) (*models.LastKnownUser, error) {
	return s.store.GetLastKnownUser(phone.Digits(phoneNumber))
}

// Logout deletes the persisted session and returns to the anonymous state.
// The continuity record is kept.
func (s *Session) Logout() error {
	s.mu.Lock()
	phoneNumber := s.phoneNumber
	s.phoneNumber = ""
	s.user = nil
	s.authToken = ""
	s.additionalInputs = nil
	s.state = StateAnonymous
	s.mu.Unlock()

	if phoneNumber != "" {
		if err := s.store.DeleteSession(phoneNumber); err != nil {
			return fmt.Errorf("delete session: %w", err)
		}
	}
	slog.Info("AuthSession logged out")
	return nil
}

// State returns the current flow state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Authenticated reports whether the session reached a verified state.
func (s *Session) Authenticated() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state == StateVerifiedExistingUser || s.state == StateProfileConfirmed
}

// PhoneNumber returns the verified phone number digits.
func (s *Session) PhoneNumber() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.phoneNumber
}

// User returns the loaded account, or nil before verification completes.
func (s *Session) User() *models.User {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.user
}

// AdditionalInputs returns the identity fields requested by the backend.
func (s *Session) AdditionalInputs() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.additionalInputs...)
}
