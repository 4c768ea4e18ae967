// Package store provides storage backends for EngageFlow.
//
// This file implements the SQLite-backed store.
package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	_ "embed"

	"github.com/careloop/engageflow/internal/models"
	_ "github.com/mattn/go-sqlite3"
)

//go:embed migrations_sqlite.sql
var sqliteMigrations string

// SQLiteStore persists records in a local SQLite database file.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens (and if necessary creates) the SQLite database at the
// DSN path and applies migrations.
func NewSQLiteStore(opts ...Option) (*SQLiteStore, error) {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.DSN == "" {
		slog.Error("SQLiteStore DSN not set")
		return nil, fmt.Errorf("database DSN not set")
	}

	dir := filepath.Dir(cfg.DSN)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		slog.Error("SQLiteStore failed to create database directory", "error", err, "dir", dir)
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	db, err := sql.Open("sqlite3", cfg.DSN)
	if err != nil {
		slog.Error("SQLiteStore failed to open database", "error", err)
		return nil, fmt.Errorf("failed to open sqlite database: %w", err)
	}
	if _, err := db.Exec(sqliteMigrations); err != nil {
		db.Close()
		slog.Error("SQLiteStore migration failed", "error", err)
		return nil, fmt.Errorf("failed to apply sqlite migrations: %w", err)
	}

	slog.Debug("SQLiteStore opened", "dsn", cfg.DSN)
	return &SQLiteStore{db: db}, nil
}

// SaveSession inserts or replaces the session record.
func (s *SQLiteStore) SaveSession(sess models.Session) error {
	userJSON, err := marshalUser(sess.User)
	if err != nil {
		slog.Error("SQLiteStore SaveSession marshal failed", "error", err, "phone", sess.PhoneNumber)
		return err
	}
	_, err = s.db.Exec(`
		INSERT OR REPLACE INTO sessions (phone_number, authenticated, user_data, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?)`,
		sess.PhoneNumber, sess.Authenticated, userJSON, sess.CreatedAt, sess.UpdatedAt)
	if err != nil {
		slog.Error("SQLiteStore SaveSession failed", "error", err, "phone", sess.PhoneNumber)
		return err
	}
	slog.Debug("SQLiteStore SaveSession succeeded", "phone", sess.PhoneNumber)
	return nil
}

// GetSession returns the session for a phone number, or nil when absent.
func (s *SQLiteStore) GetSession(phone string) (*models.Session, error) {
	var sess models.Session
	var userJSON sql.NullString
	err := s.db.QueryRow(`
		SELECT phone_number, authenticated, user_data, created_at, updated_at
		FROM sessions WHERE phone_number = ?`, phone).
		Scan(&sess.PhoneNumber, &sess.Authenticated, &userJSON, &sess.CreatedAt, &sess.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		slog.Error("SQLiteStore GetSession failed", "error", err, "phone", phone)
		return nil, err
	}
	sess.User, err = unmarshalUser(userJSON.String)
	if err != nil {
		slog.Error("SQLiteStore GetSession unmarshal failed", "error", err, "phone", phone)
		return nil, err
	}
	return &sess, nil
}

// DeleteSession removes the session record for a phone number.
func (s *SQLiteStore) DeleteSession(phone string) error {
	_, err := s.db.Exec(`DELETE FROM sessions WHERE phone_number = ?`, phone)
	if err != nil {
		slog.Error("SQLiteStore DeleteSession failed", "error", err, "phone", phone)
	}
	return err
}

// SaveLastKnownUser inserts or replaces the continuity record.
func (s *SQLiteStore) SaveLastKnownUser(u models.LastKnownUser) error {
	_, err := s.db.Exec(`
		INSERT OR REPLACE INTO last_known_users (phone_number, first_name, last_name, seen_at)
		VALUES (?, ?, ?, ?)`,
		u.PhoneNumber, u.FirstName, u.LastName, u.SeenAt)
	if err != nil {
		slog.Error("SQLiteStore SaveLastKnownUser failed", "error", err, "phone", u.PhoneNumber)
	}
	return err
}

// GetLastKnownUser returns the continuity record, or nil when absent.
func (s *SQLiteStore) GetLastKnownUser(phone string) (*models.LastKnownUser, error) {
	var u models.LastKnownUser
	err := s.db.QueryRow(`
		SELECT phone_number, first_name, last_name, seen_at
		FROM last_known_users WHERE phone_number = ?`, phone).
		Scan(&u.PhoneNumber, &u.FirstName, &u.LastName, &u.SeenAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		slog.Error("SQLiteStore GetLastKnownUser failed", "error", err, "phone", phone)
		return nil, err
	}
	return &u, nil
}

// AddMessage appends a message to a thread's log.
func (s *SQLiteStore) AddMessage(threadID string, m models.Message) error {
	_, err := s.db.Exec(`
		INSERT OR REPLACE INTO messages (thread_id, message_id, role, content, created_at)
		VALUES (?, ?, ?, ?, ?)`,
		threadID, m.ID, string(m.Role), m.Content, m.CreatedAt)
	if err != nil {
		slog.Error("SQLiteStore AddMessage failed", "error", err, "threadID", threadID, "messageID", m.ID)
	}
	return err
}

// GetMessages returns a thread's log ordered by message id.
func (s *SQLiteStore) GetMessages(threadID string) ([]models.Message, error) {
	rows, err := s.db.Query(`
		SELECT message_id, role, content, created_at
		FROM messages WHERE thread_id = ? ORDER BY message_id`, threadID)
	if err != nil {
		slog.Error("SQLiteStore GetMessages failed", "error", err, "threadID", threadID)
		return nil, err
	}
	defer rows.Close()

	var msgs []models.Message
	for rows.Next() {
		var m models.Message
		var role string
		if err := rows.Scan(&m.ID, &role, &m.Content, &m.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan message failed: %w", err)
		}
		m.Role = models.Role(role)
		msgs = append(msgs, m)
	}
	return msgs, rows.Err()
}

// DeleteMessages drops a thread's log.
func (s *SQLiteStore) DeleteMessages(threadID string) error {
	_, err := s.db.Exec(`DELETE FROM messages WHERE thread_id = ?`, threadID)
	if err != nil {
		slog.Error("SQLiteStore DeleteMessages failed", "error", err, "threadID", threadID)
	}
	return err
}

// Close closes the underlying database handle.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func marshalUser(u *models.User) (interface{}, error) {
	if u == nil {
		return nil, nil
	}
	b, err := json.Marshal(u)
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

func unmarshalUser(s string) (*models.User, error) {
	if s == "" {
		return nil, nil
	}
	var u models.User
	if err := json.Unmarshal([]byte(s), &u); err != nil {
		return nil, err
	}
	return &u, nil
}
