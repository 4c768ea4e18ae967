// Package store provides storage backends for EngageFlow.
//
// This file implements the PostgreSQL-backed store.
package store

import (
	"database/sql"
	"fmt"
	"log/slog"

	_ "embed"

	"github.com/careloop/engageflow/internal/models"
	_ "github.com/lib/pq"
)

//go:embed migrations_postgres.sql
var postgresMigrations string

// PostgresStore persists records in a PostgreSQL database.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore connects to the database named by the DSN and applies
// migrations.
func NewPostgresStore(opts ...Option) (*PostgresStore, error) {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.DSN == "" {
		slog.Error("PostgresStore DSN not set")
		return nil, fmt.Errorf("database DSN not set")
	}

	db, err := sql.Open("postgres", cfg.DSN)
	if err != nil {
		slog.Error("PostgresStore failed to open database", "error", err)
		return nil, fmt.Errorf("failed to open postgres database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		slog.Error("PostgresStore ping failed", "error", err)
		return nil, fmt.Errorf("failed to connect to postgres: %w", err)
	}
	if _, err := db.Exec(postgresMigrations); err != nil {
		db.Close()
		slog.Error("PostgresStore migration failed", "error", err)
		return nil, fmt.Errorf("failed to apply postgres migrations: %w", err)
	}

	slog.Debug("PostgresStore connected")
	return &PostgresStore{db: db}, nil
}

// SaveSession inserts or replaces the session record.
func (s *PostgresStore) SaveSession(sess models.Session) error {
	userJSON, err := marshalUser(sess.User)
	if err != nil {
		slog.Error("PostgresStore SaveSession marshal failed", "error", err, "phone", sess.PhoneNumber)
		return err
	}
	_, err = s.db.Exec(`
		INSERT INTO sessions (phone_number, authenticated, user_data, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (phone_number) DO UPDATE SET
			authenticated = EXCLUDED.authenticated,
			user_data = EXCLUDED.user_data,
			created_at = EXCLUDED.created_at,
			updated_at = EXCLUDED.updated_at`,
		sess.PhoneNumber, sess.Authenticated, userJSON, sess.CreatedAt, sess.UpdatedAt)
	if err != nil {
		slog.Error("PostgresStore SaveSession failed", "error", err, "phone", sess.PhoneNumber)
	}
	return err
}

// GetSession returns the session for a phone number, or nil when absent.
func (s *PostgresStore) GetSession(phone string) (*models.Session, error) {
	var sess models.Session
	var userJSON sql.NullString
	err := s.db.QueryRow(`
		SELECT phone_number, authenticated, user_data, created_at, updated_at
		FROM sessions WHERE phone_number = $1`, phone).
		Scan(&sess.PhoneNumber, &sess.Authenticated, &userJSON, &sess.CreatedAt, &sess.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		slog.Error("PostgresStore GetSession failed", "error", err, "phone", phone)
		return nil, err
	}
	sess.User, err = unmarshalUser(userJSON.String)
	if err != nil {
		slog.Error("PostgresStore GetSession unmarshal failed", "error", err, "phone", phone)
		return nil, err
	}
	return &sess, nil
}

// DeleteSession removes the session record for a phone number.
func (s *PostgresStore) DeleteSession(phone string) error {
	_, err := s.db.Exec(`DELETE FROM sessions WHERE phone_number = $1`, phone)
	if err != nil {
		slog.Error("PostgresStore DeleteSession failed", "error", err, "phone", phone)
	}
	return err
}

// SaveLastKnownUser inserts or replaces the continuity record.
func (s *PostgresStore) SaveLastKnownUser(u models.LastKnownUser) error {
	_, err := s.db.Exec(`
		INSERT INTO last_known_users (phone_number, first_name, last_name, seen_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (phone_number) DO UPDATE SET
			first_name = EXCLUDED.first_name,
			last_name = EXCLUDED.last_name,
			seen_at = EXCLUDED.seen_at`,
		u.PhoneNumber, u.FirstName, u.LastName, u.SeenAt)
	if err != nil {
		slog.Error("PostgresStore SaveLastKnownUser failed", "error", err, "phone", u.PhoneNumber)
	}
	return err
}

// GetLastKnownUser returns the continuity record, or nil when absent.
func (s *PostgresStore) GetLastKnownUser(phone string) (*models.LastKnownUser, error) {
	var u models.LastKnownUser
	err := s.db.QueryRow(`
		SELECT phone_number, first_name, last_name, seen_at
		FROM last_known_users WHERE phone_number = $1`, phone).
		Scan(&u.PhoneNumber, &u.FirstName, &u.LastName, &u.SeenAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		slog.Error("PostgresStore GetLastKnownUser failed", "error", err, "phone", phone)
		return nil, err
	}
	return &u, nil
}

// AddMessage appends a message to a thread's log.
func (s *PostgresStore) AddMessage(threadID string, m models.Message) error {
	_, err := s.db.Exec(`
		INSERT INTO messages (thread_id, message_id, role, content, created_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (thread_id, message_id) DO UPDATE SET
			role = EXCLUDED.role,
			content = EXCLUDED.content,
			created_at = EXCLUDED.created_at`,
		threadID, m.ID, string(m.Role), m.Content, m.CreatedAt)
	if err != nil {
		slog.Error("PostgresStore AddMessage failed", "error", err, "threadID", threadID, "messageID", m.ID)
	}
	return err
}

// GetMessages returns a thread's log ordered by message id.
func (s *PostgresStore) GetMessages(threadID string) ([]models.Message, error) {
	rows, err := s.db.Query(`
		SELECT message_id, role, content, created_at
		FROM messages WHERE thread_id = $1 ORDER BY message_id`, threadID)
	if err != nil {
		slog.Error("PostgresStore GetMessages failed", "error", err, "threadID", threadID)
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
func (s *PostgresStore) DeleteMessages(threadID string) error {
	_, err := s.db.Exec(`DELETE FROM messages WHERE thread_id = $1`, threadID)
	if err != nil {
		slog.Error("PostgresStore DeleteMessages failed", "error", err, "threadID", threadID)
	}
	return err
}

// Close closes the underlying database handle.
func (s *PostgresStore) Close() error {
	return s.db.Close()
}
