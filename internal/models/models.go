// Package models defines the core data structures for EngageFlow.
//
// It includes the onboarding step enum, chat messages, session records, and
// suggestion state shared across modules.
package models

import (
	"errors"
	"time"
)

// Role identifies the author of a chat message.
type Role string

const (
	// RoleUser marks a message authored by the patient.
	RoleUser Role = "user"
	// RoleAssistant marks a message authored by the assistant.
	RoleAssistant Role = "assistant"
)

// Message is a single entry in a chat session's append-only log.
// ID is monotonically increasing within a session and is the sole
// ordering guarantee.
type Message struct {
	ID        int64     `json:"id"`
	Role      Role      `json:"role"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"created_at"`
}

// User holds the profile snapshot returned by the verification backend.
type User struct {
	ID        string `json:"id,omitempty"`
	FirstName string `json:"first_name,omitempty"`
	LastName  string `json:"last_name,omitempty"`
	BirthDate string `json:"birth_date,omitempty"`
	ZipCode   string `json:"zip_code,omitempty"`
	Phone     string `json:"phone,omitempty"`
}

// Profile is the payload collected during manual profile entry.
type Profile struct {
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
	BirthDate string `json:"birth_date"`
	ZipCode   string `json:"zip_code,omitempty"`
}

// Session is the authenticated state persisted for a phone number.
// Records older than the validity window are ignored on restore.
type Session struct {
	PhoneNumber   string    `json:"phone_number"`
	Authenticated bool      `json:"authenticated"`
	User          *User     `json:"user,omitempty"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// SessionValidityWindow is how long a persisted session remains restorable.
const SessionValidityWindow = 24 * time.Hour

// Expired reports whether the session record is outside the validity window.
func (s *Session) Expired(now time.Time) bool {
	return now.Sub(s.CreatedAt) > SessionValidityWindow
}

// LastKnownUser is a lightweight record kept for cross-session continuity
// even after the full session expires.
type LastKnownUser struct {
	PhoneNumber string    `json:"phone_number"`
	FirstName   string    `json:"first_name,omitempty"`
	LastName    string    `json:"last_name,omitempty"`
	SeenAt      time.Time `json:"seen_at"`
}

// VerifyResult is the decoded response of the verification endpoints.
// StatusCode carries the backend's branching contract: 200 success (shape
// disambiguates new vs. existing user), 435 additional fields required,
// 403 field mismatch, 407/437 not found / access denied.
type VerifyResult struct {
	StatusCode       int      `json:"status_code"`
	User             *User    `json:"user,omitempty"`
	AuthToken        string   `json:"auth_token,omitempty"`
	AdditionalInputs []string `json:"additional_inputs,omitempty"`
	DuplicateRequest bool     `json:"duplicate_request,omitempty"`
}

// Backend status codes for the verification contract.
const (
	StatusVerifySuccess          = 200
	StatusAdditionalFieldsNeeded = 435
	StatusFieldMismatch          = 403
	StatusUserNotFound           = 407
	StatusAccessDenied           = 437
)

// PharmacyTarget identifies one pharmacy in an availability check run.
type PharmacyTarget struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Phone string `json:"phone,omitempty"`
}

// NotificationKind selects the SMS template for outbound notifications.
type NotificationKind string

const (
	// NotificationAvailability is sent when a pharmacy availability check
	// reaches the initiate substep for a target.
	NotificationAvailability NotificationKind = "availability"
	// NotificationWelcome is sent once after a new user confirms a profile.
	NotificationWelcome NotificationKind = "welcome"
)

// Error taxonomy. Validation errors block submission before any network
// call; guard rejections redirect rather than surface to the user.
var (
	ErrInvalidPhone    = errors.New("phone number must be 10 digits")
	ErrInvalidOTP      = errors.New("verification code must be 6 digits")
	ErrMissingProfile  = errors.New("first name, last name and birth date are required")
	ErrAuthRejected    = errors.New("verification was declined")
	ErrGuardRejected   = errors.New("step requires an authenticated session")
	ErrNoThread        = errors.New("chat thread has not been created")
	ErrSessionExpired  = errors.New("persisted session is outside the validity window")
	ErrBackendRejected = errors.New("backend rejected the request")
)

// APIResponse is the standard JSON envelope for the HTTP surface.
type APIResponse struct {
	Status  string      `json:"status"`
	Message string      `json:"message,omitempty"`
	Result  interface{} `json:"result,omitempty"`
}

// Success builds an ok envelope with optional result data.
func Success(result interface{}) APIResponse {
	return APIResponse{Status: "ok", Result: result}
}

// Error builds an error envelope with a user-facing message.
func Error(message string) APIResponse {
	return APIResponse{Status: "error", Message: message}
}
