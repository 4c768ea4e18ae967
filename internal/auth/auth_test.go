package auth

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/careloop/engageflow/internal/models"
	"github.com/careloop/engageflow/internal/store"
)

// mockBackend returns canned verification results and records calls.
type mockBackend struct {
	sendOTPErr     error
	verifyResult   *models.VerifyResult
	verifyErr      error
	identityResult *models.VerifyResult
	tokenErr       error
	syncUser       *models.User
	syncErr        error

	sentTo        []string
	verifiedCodes []string
	tokenCalls    int
	syncCalls     int
}

func (m *mockBackend) SendOTP(ctx context.Context, phoneNumber string) error {
	m.sentTo = append(m.sentTo, phoneNumber)
	return m.sendOTPErr
}

func (m *mockBackend) VerifyOTP(ctx context.Context, phoneNumber, code string) (*models.VerifyResult, error) {
	m.verifiedCodes = append(m.verifiedCodes, code)
	return m.verifyResult, m.verifyErr
}

func (m *mockBackend) VerifyUserByVerified(ctx context.Context, phoneNumber, birthDate, ssn string) (*models.VerifyResult, error) {
	return m.identityResult, nil
}

func (m *mockBackend) GenerateAccessToken(ctx context.Context, profile models.Profile) (string, error) {
	m.tokenCalls++
	if m.tokenErr != nil {
		return "", m.tokenErr
	}
	return "token-abc", nil
}

func (m *mockBackend) SyncUser(ctx context.Context, profile models.Profile, phoneNumber string) (*models.User, error) {
	m.syncCalls++
	return m.syncUser, m.syncErr
}

// mockNotifier records welcome SMS sends.
type mockNotifier struct {
	kinds []models.NotificationKind
	to    []string
}

func (m *mockNotifier) SendSMS(ctx context.Context, kind models.NotificationKind, to string, params map[string]string) error {
	m.kinds = append(m.kinds, kind)
	m.to = append(m.to, to)
	return nil
}

// newTestSession builds a session with the spawn hook running inline so
// side effects are visible synchronously.
func newTestSession(b *mockBackend, st store.Store, opts ...Option) *Session {
	s := NewSession(b, st, opts...)
	s.spawn = func(fn func()) { fn() }
	return s
}

func TestSendOTP_RejectsInvalidPhone(t *testing.T) {
	b := &mockBackend{}
	s := newTestSession(b, store.NewInMemoryStore())

	err := s.SendOTP(context.Background(), "555-123")
	if !errors.Is(err, models.ErrInvalidPhone) {
		t.Fatalf("expected ErrInvalidPhone, got %v", err)
	}
	if len(b.sentTo) != 0 {
		t.Error("invalid phone must not reach the backend")
	}
	if s.State() != StateAnonymous {
		t.Errorf("state should stay anonymous, got %s", s.State())
	}
}

func TestSendOTP_StripsFormatting(t *testing.T) {
	b := &mockBackend{}
	s := newTestSession(b, store.NewInMemoryStore())

	if err := s.SendOTP(context.Background(), "(555) 123-4567"); err != nil {
		t.Fatalf("SendOTP failed: %v", err)
	}
	if len(b.sentTo) != 1 || b.sentTo[0] != "5551234567" {
		t.Errorf("expected bare digits sent to backend, got %v", b.sentTo)
	}
	if s.State() != StateOTPSent {
		t.Errorf("expected otp_sent, got %s", s.State())
	}
}

func TestVerifyOTP_ExistingUserPersistsSession(t *testing.T) {
	user := &models.User{ID: "u1", FirstName: "Ada", LastName: "Lovelace"}
	b := &mockBackend{verifyResult: &models.VerifyResult{StatusCode: models.StatusVerifySuccess, User: user}}
	st := store.NewInMemoryStore()
	s := newTestSession(b, st)
	ctx := context.Background()

	if err := s.SendOTP(ctx, "5551234567"); err != nil {
		t.Fatalf("SendOTP failed: %v", err)
	}
	out, err := s.VerifyOTP(ctx, "123456")
	if err != nil {
		t.Fatalf("VerifyOTP failed: %v", err)
	}
	if !out.ExistingUser || out.NewUser {
		t.Errorf("expected existing-user outcome, got %+v", out)
	}
	if !s.Authenticated() || s.State() != StateVerifiedExistingUser {
		t.Errorf("expected authenticated existing user, got %s", s.State())
	}

	sess, _ := st.GetSession("5551234567")
	if sess == nil || !sess.Authenticated || sess.User.ID != "u1" {
		t.Errorf("expected persisted authenticated session, got %+v", sess)
	}
	last, _ := st.GetLastKnownUser("5551234567")
	if last == nil || last.FirstName != "Ada" {
		t.Errorf("expected continuity record, got %+v", last)
	}
}

func TestVerifyOTP_NewUserNeedsProfile(t *testing.T) {
	b := &mockBackend{verifyResult: &models.VerifyResult{StatusCode: models.StatusVerifySuccess, AuthToken: "tok"}}
	st := store.NewInMemoryStore()
	s := newTestSession(b, st)
	ctx := context.Background()

	if err := s.SendOTP(ctx, "5551234567"); err != nil {
		t.Fatalf("SendOTP failed: %v", err)
	}
	out, err := s.VerifyOTP(ctx, "123456")
	if err != nil {
		t.Fatalf("VerifyOTP failed: %v", err)
	}
	if !out.NewUser {
		t.Errorf("expected new-user outcome, got %+v", out)
	}
	if s.Authenticated() {
		t.Error("new user must not be authenticated before profile confirmation")
	}
	if sess, _ := st.GetSession("5551234567"); sess != nil {
		t.Error("nothing should be persisted before profile confirmation")
	}
}

func TestVerifyOTP_AdditionalFieldsRequested(t *testing.T) {
	b := &mockBackend{verifyResult: &models.VerifyResult{
		StatusCode:       models.StatusAdditionalFieldsNeeded,
		AdditionalInputs: []string{"dob", "ssn"},
	}}
	s := newTestSession(b, store.NewInMemoryStore())
	ctx := context.Background()

	if err := s.SendOTP(ctx, "5551234567"); err != nil {
		t.Fatalf("SendOTP failed: %v", err)
	}
	out, err := s.VerifyOTP(ctx, "123456")
	if err != nil {
		t.Fatalf("VerifyOTP failed: %v", err)
	}
	if len(out.AdditionalInputs) != 2 {
		t.Errorf("expected requested fields in outcome, got %+v", out)
	}
	if s.State() != StateAwaitingIdentity {
		t.Errorf("expected awaiting_identity, got %s", s.State())
	}

	// Supplying the fields completes verification.
	b.identityResult = &models.VerifyResult{StatusCode: models.StatusVerifySuccess, User: &models.User{ID: "u2"}}
	out, err = s.SubmitAdditionalInfo(ctx, "1990-01-02", "1234")
	if err != nil {
		t.Fatalf("SubmitAdditionalInfo failed: %v", err)
	}
	if !out.ExistingUser || !s.Authenticated() {
		t.Errorf("expected authenticated existing user after identity check, got %+v state %s", out, s.State())
	}
}

func TestVerifyOTP_UnmatchedAccountFallsBackToManualProfile(t *testing.T) {
	for _, code := range []int{models.StatusFieldMismatch, models.StatusUserNotFound, models.StatusAccessDenied} {
		b := &mockBackend{verifyResult: &models.VerifyResult{StatusCode: code}}
		s := newTestSession(b, store.NewInMemoryStore())
		ctx := context.Background()

		if err := s.SendOTP(ctx, "5551234567"); err != nil {
			t.Fatalf("SendOTP failed: %v", err)
		}
		out, err := s.VerifyOTP(ctx, "123456")
		if err != nil {
			t.Fatalf("status %d: expected manual fallback, got error %v", code, err)
		}
		if !out.ManualFallback || !out.NewUser {
			t.Errorf("status %d: expected manual-fallback outcome, got %+v", code, out)
		}
		if s.Authenticated() {
			t.Errorf("status %d must not authenticate", code)
		}
		if s.State() != StateVerifiedNewUser {
			t.Errorf("status %d: expected verified_new_user for manual entry, got %s", code, s.State())
		}
	}
}

func TestVerifyOTP_RejectsInvalidCode(t *testing.T) {
	b := &mockBackend{}
	s := newTestSession(b, store.NewInMemoryStore())
	ctx := context.Background()

	if err := s.SendOTP(ctx, "5551234567"); err != nil {
		t.Fatalf("SendOTP failed: %v", err)
	}
	if _, err := s.VerifyOTP(ctx, "12"); !errors.Is(err, models.ErrInvalidOTP) {
		t.Fatalf("expected ErrInvalidOTP, got %v", err)
	}
	if len(b.verifiedCodes) != 0 {
		t.Error("invalid code must not reach the backend")
	}
}

func TestConfirmProfile_TwoPhaseCommit(t *testing.T) {
	b := &mockBackend{
		verifyResult: &models.VerifyResult{StatusCode: models.StatusVerifySuccess, AuthToken: "tok"},
		syncUser:     &models.User{ID: "u3", FirstName: "Grace"},
	}
	st := store.NewInMemoryStore()
	n := &mockNotifier{}
	s := newTestSession(b, st, WithNotifier(n))
	ctx := context.Background()

	if err := s.SendOTP(ctx, "5551234567"); err != nil {
		t.Fatalf("SendOTP failed: %v", err)
	}
	if _, err := s.VerifyOTP(ctx, "123456"); err != nil {
		t.Fatalf("VerifyOTP failed: %v", err)
	}

	user, err := s.ConfirmProfile(ctx, models.Profile{FirstName: "Grace", LastName: "Hopper", BirthDate: "1906-12-09"})
	if err != nil {
		t.Fatalf("ConfirmProfile failed: %v", err)
	}
	if user.ID != "u3" {
		t.Errorf("unexpected user %+v", user)
	}
	if s.State() != StateProfileConfirmed || !s.Authenticated() {
		t.Errorf("expected profile_confirmed, got %s", s.State())
	}
	if b.tokenCalls != 1 || b.syncCalls != 1 {
		t.Errorf("expected both phases to run once, got token=%d sync=%d", b.tokenCalls, b.syncCalls)
	}
	if sess, _ := st.GetSession("5551234567"); sess == nil || !sess.Authenticated {
		t.Error("expected persisted session after confirmation")
	}
	if len(n.kinds) != 1 || n.kinds[0] != models.NotificationWelcome || n.to[0] != "5551234567" {
		t.Errorf("expected one welcome SMS, got %v to %v", n.kinds, n.to)
	}
}

func TestConfirmProfile_TokenFailureCommitsNothing(t *testing.T) {
	b := &mockBackend{
		verifyResult: &models.VerifyResult{StatusCode: models.StatusVerifySuccess, AuthToken: "tok"},
		tokenErr:     errors.New("token backend down"),
	}
	st := store.NewInMemoryStore()
	n := &mockNotifier{}
	s := newTestSession(b, st, WithNotifier(n))
	ctx := context.Background()

	if err := s.SendOTP(ctx, "5551234567"); err != nil {
		t.Fatalf("SendOTP failed: %v", err)
	}
	if _, err := s.VerifyOTP(ctx, "123456"); err != nil {
		t.Fatalf("VerifyOTP failed: %v", err)
	}

	_, err := s.ConfirmProfile(ctx, models.Profile{FirstName: "G", LastName: "H", BirthDate: "1906-12-09"})
	if err == nil {
		t.Fatal("expected confirmation to fail")
	}
	if b.syncCalls != 0 {
		t.Error("sync must not run when token generation fails")
	}
	if s.State() != StateVerifiedNewUser {
		t.Errorf("state should stay verified_new_user for retry, got %s", s.State())
	}
	if sess, _ := st.GetSession("5551234567"); sess != nil {
		t.Error("nothing should be persisted on failure")
	}
	if len(n.kinds) != 0 {
		t.Error("no welcome SMS on failure")
	}
}

func TestConfirmProfile_RejectsIncompleteProfile(t *testing.T) {
	b := &mockBackend{verifyResult: &models.VerifyResult{StatusCode: models.StatusVerifySuccess, AuthToken: "tok"}}
	s := newTestSession(b, store.NewInMemoryStore())
	ctx := context.Background()

	if err := s.SendOTP(ctx, "5551234567"); err != nil {
		t.Fatalf("SendOTP failed: %v", err)
	}
	if _, err := s.VerifyOTP(ctx, "123456"); err != nil {
		t.Fatalf("VerifyOTP failed: %v", err)
	}

	_, err := s.ConfirmProfile(ctx, models.Profile{FirstName: "OnlyFirst"})
	if !errors.Is(err, models.ErrMissingProfile) {
		t.Fatalf("expected ErrMissingProfile, got %v", err)
	}
	if b.tokenCalls != 0 {
		t.Error("validation failures must not reach the backend")
	}
}

func TestRestore_WithinWindow(t *testing.T) {
	st := store.NewInMemoryStore()
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	st.SaveSession(models.Session{
		PhoneNumber:   "5551234567",
		Authenticated: true,
		User:          &models.User{ID: "u1", FirstName: "Ada"},
		CreatedAt:     base,
		UpdatedAt:     base,
	})

	s := newTestSession(&mockBackend{}, st, WithNow(func() time.Time { return base.Add(23 * time.Hour) }))
	ok, err := s.Restore("5551234567")
	if err != nil || !ok {
		t.Fatalf("expected restore to succeed, ok=%v err=%v", ok, err)
	}
	if !s.Authenticated() || s.User().ID != "u1" {
		t.Errorf("expected restored authenticated user, got state %s", s.State())
	}
}

func TestRestore_ExpiredSessionPurged(t *testing.T) {
	st := store.NewInMemoryStore()
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	st.SaveSession(models.Session{
		PhoneNumber:   "5551234567",
		Authenticated: true,
		CreatedAt:     base,
		UpdatedAt:     base,
	})
	st.SaveLastKnownUser(models.LastKnownUser{PhoneNumber: "5551234567", FirstName: "Ada", SeenAt: base})

	s := newTestSession(&mockBackend{}, st, WithNow(func() time.Time { return base.Add(25 * time.Hour) }))
	ok, err := s.Restore("5551234567")
	if ok {
		t.Error("expired session must not restore")
	}
	if !errors.Is(err, models.ErrSessionExpired) {
		t.Errorf("expected ErrSessionExpired, got %v", err)
	}
	if sess, _ := st.GetSession("5551234567"); sess != nil {
		t.Error("expired session should be purged")
	}
	// Continuity record survives expiry.
	if last, _ := s.LastKnownUser("5551234567"); last == nil || last.FirstName != "Ada" {
		t.Errorf("expected surviving continuity record, got %+v", last)
	}
}

func TestRestore_UnknownPhone(t *testing.T) {
	s := newTestSession(&mockBackend{}, store.NewInMemoryStore())
	ok, err := s.Restore("5551234567")
	if ok || err != nil {
		t.Errorf("unknown phone should restore nothing, ok=%v err=%v", ok, err)
	}
}

func TestLogout_DeletesSessionKeepsContinuity(t *testing.T) {
	user := &models.User{ID: "u1", FirstName: "Ada"}
	b := &mockBackend{verifyResult: &models.VerifyResult{StatusCode: models.StatusVerifySuccess, User: user}}
	st := store.NewInMemoryStore()
	s := newTestSession(b, st)
	ctx := context.Background()

	if err := s.SendOTP(ctx, "5551234567"); err != nil {
		t.Fatalf("SendOTP failed: %v", err)
	}
	if _, err := s.VerifyOTP(ctx, "123456"); err != nil {
		t.Fatalf("VerifyOTP failed: %v", err)
	}

	if err := s.Logout(); err != nil {
		t.Fatalf("Logout failed: %v", err)
	}
	if s.Authenticated() || s.State() != StateAnonymous {
		t.Error("expected anonymous state after logout")
	}
	if sess, _ := st.GetSession("5551234567"); sess != nil {
		t.Error("session record should be deleted on logout")
	}
	if last, _ := st.GetLastKnownUser("5551234567"); last == nil {
		t.Error("continuity record should survive logout")
	}
}
