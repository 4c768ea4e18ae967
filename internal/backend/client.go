// Package backend implements the HTTP client for the engagement backend:
// OTP verification, identity checks, profile sync, chat threads, and the
// suggestion-generation endpoints.
package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/careloop/engageflow/internal/models"
)

// Doer is the minimal HTTP client surface, satisfied by *http.Client.
type Doer interface {
	Do(req *http.Request) (*http.Response, error)
}

// Opts holds configuration options for the backend client.
type Opts struct {
	BaseURL    string
	HTTPClient Doer
	Timeout    time.Duration
}

// Option configures the backend client.
type Option func(*Opts)

// WithBaseURL sets the backend base URL.
func WithBaseURL(url string) Option {
	return func(o *Opts) { o.BaseURL = url }
}

// WithHTTPClient overrides the HTTP client, mainly for tests.
func WithHTTPClient(d Doer) Option {
	return func(o *Opts) { o.HTTPClient = d }
}

// Client talks to the engagement backend.
type Client struct {
	baseURL string
	http    Doer
}

// NewClient creates a backend client.
func NewClient(opts ...Option) (*Client, error) {
	cfg := Opts{Timeout: 30 * time.Second}
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("backend base URL not set")
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = &http.Client{Timeout: cfg.Timeout}
	}
	slog.Debug("Backend client created", "baseURL", cfg.BaseURL)
	return &Client{baseURL: cfg.BaseURL, http: cfg.HTTPClient}, nil
}

// post sends a JSON body and decodes the JSON response into out.
func (c *Client) post(ctx context.Context, path string, body, out interface{}) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("marshal request for %s: %w", path, err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("build request for %s: %w", path, err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("call %s: %w", path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusInternalServerError {
		return fmt.Errorf("%s returned HTTP %d: %w", path, resp.StatusCode, models.ErrBackendRejected)
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response from %s: %w", path, err)
	}
	return nil
}

// SendOTP asks the backend to dispatch a verification code to phone.
func (c *Client) SendOTP(ctx context.Context, phoneNumber string) error {
	var result struct {
		StatusCode int `json:"status_code"`
	}
	if err := c.post(ctx, "/send_otp", map[string]string{"phone": phoneNumber}, &result); err != nil {
		return err
	}
	if result.StatusCode != models.StatusVerifySuccess {
		slog.Warn("Backend SendOTP rejected", "statusCode", result.StatusCode)
		return fmt.Errorf("send_otp returned status %d: %w", result.StatusCode, models.ErrBackendRejected)
	}
	return nil
}

// VerifyOTP submits a verification code. The caller branches on the
// VerifyResult status code; non-2xx application statuses are data here,
// not errors.
func (c *Client) VerifyOTP(ctx context.Context, phoneNumber, code string) (*models.VerifyResult, error) {
	var result models.VerifyResult
	err := c.post(ctx, "/verify_otp", map[string]string{"phone": phoneNumber, "code": code}, &result)
	if err != nil {
		return nil, err
	}
	logDuplicateRequest("verify_otp", &result)
	return &result, nil
}

// VerifyUserByVerified checks additional identity fields (birth date, SSN
// last four) for an already-verified phone number.
func (c *Client) VerifyUserByVerified(ctx context.Context, phoneNumber, birthDate, ssn string) (*models.VerifyResult, error) {
	body := map[string]string{"phone": phoneNumber}
	if birthDate != "" {
		body["dob"] = birthDate
	}
	if ssn != "" {
		body["ssn"] = ssn
	}
	var result models.VerifyResult
	if err := c.post(ctx, "/verify_user_by_verified", body, &result); err != nil {
		return nil, err
	}
	logDuplicateRequest("verify_user_by_verified", &result)
	return &result, nil
}

// GenerateAccessToken obtains an access credential for a profile. First
// phase of profile confirmation.
func (c *Client) GenerateAccessToken(ctx context.Context, profile models.Profile) (string, error) {
	var result struct {
		StatusCode  int    `json:"status_code"`
		AccessToken string `json:"access_token"`
	}
	if err := c.post(ctx, "/generate_access_token", profile, &result); err != nil {
		return "", err
	}
	if result.StatusCode != models.StatusVerifySuccess || result.AccessToken == "" {
		return "", fmt.Errorf("generate_access_token returned status %d: %w", result.StatusCode, models.ErrBackendRejected)
	}
	return result.AccessToken, nil
}

// SyncUser persists a confirmed profile on the backend. Second phase of
// profile confirmation.
func (c *Client) SyncUser(ctx context.Context, profile models.Profile, phoneNumber string) (*models.User, error) {
	body := struct {
		models.Profile
		Phone string `json:"phone"`
	}{Profile: profile, Phone: phoneNumber}

	var result struct {
		StatusCode int          `json:"status_code"`
		User       *models.User `json:"user"`
	}
	if err := c.post(ctx, "/sync_user", body, &result); err != nil {
		return nil, err
	}
	if result.StatusCode != models.StatusVerifySuccess || result.User == nil {
		return nil, fmt.Errorf("sync_user returned status %d: %w", result.StatusCode, models.ErrBackendRejected)
	}
	return result.User, nil
}

// Duplicate-request detection is currently informational only; the backend
// flags duplicates but the flow takes no corrective action.
func logDuplicateRequest(endpoint string, result *models.VerifyResult) {
	if result.DuplicateRequest {
		slog.Warn("Backend flagged duplicate request", "endpoint", endpoint, "statusCode", result.StatusCode)
	}
}
