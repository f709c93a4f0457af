// Package store provides conversation persistence backends.
//
// This file implements the PostgreSQL-backed store.
package store

import (
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	_ "embed"

	"github.com/bebias/venera-bot/internal/models"
	_ "github.com/lib/pq"
)

// Database connection pool configuration constants
const (
	// DefaultMaxOpenConns is the default maximum number of open connections to the database
	DefaultMaxOpenConns = 25
	// DefaultMaxIdleConns is the default maximum number of idle connections in the pool
	DefaultMaxIdleConns = 25
	// DefaultConnMaxLifetime is the default maximum amount of time a connection may be reused
	DefaultConnMaxLifetime = 5 * time.Minute
)

//go:embed migrations_postgres.sql
var postgresMigrations string

type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a new Postgres store based on provided options.
func NewPostgresStore(opts ...Option) (*PostgresStore, error) {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	slog.Debug("PostgresStore.NewPostgresStore: creating Postgres store", "DSN_set", cfg.DSN != "")

	dsn := cfg.DSN
	if dsn == "" {
		slog.Error("PostgresStore DSN not set")
		return nil, fmt.Errorf("database DSN not set")
	}

	slog.Debug("Opening Postgres database connection")
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		slog.Error("Failed to open Postgres connection", "error", err)
		return nil, err
	}

	db.SetMaxOpenConns(DefaultMaxOpenConns)
	db.SetMaxIdleConns(DefaultMaxIdleConns)
	db.SetConnMaxLifetime(DefaultConnMaxLifetime)

	if err := db.Ping(); err != nil {
		slog.Error("Postgres ping failed", "error", err)
		return nil, err
	}

	slog.Debug("Running Postgres migrations")
	if _, err := db.Exec(postgresMigrations); err != nil {
		slog.Error("Failed to run migrations", "error", err)
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}
	slog.Debug("Postgres migrations applied successfully")

	return &PostgresStore{db: db}, nil
}

func (s *PostgresStore) AppendMessage(m models.ConversationMessage) error {
	_, err := s.db.Exec(`INSERT INTO conversation_messages (sender_id, role, content, time) VALUES ($1, $2, $3, $4)`,
		m.SenderID, m.Role, m.Content, m.Time)
	if err != nil {
		slog.Error("PostgresStore AppendMessage failed", "error", err, "sender_id", m.SenderID)
		return fmt.Errorf("failed to insert message for %s: %w", m.SenderID, err)
	}
	slog.Debug("PostgresStore AppendMessage succeeded", "sender_id", m.SenderID, "role", m.Role)
	return nil
}

func (s *PostgresStore) GetHistory(senderID string) ([]models.ConversationMessage, error) {
	rows, err := s.db.Query(`SELECT sender_id, role, content, time FROM conversation_messages WHERE sender_id = $1 ORDER BY id`, senderID)
	if err != nil {
		slog.Error("PostgresStore GetHistory query failed", "error", err, "sender_id", senderID)
		return nil, fmt.Errorf("failed to query history for %s: %w", senderID, err)
	}
	defer rows.Close()

	var msgs []models.ConversationMessage
	for rows.Next() {
		var m models.ConversationMessage
		if err := rows.Scan(&m.SenderID, &m.Role, &m.Content, &m.Time); err != nil {
			slog.Error("PostgresStore GetHistory scan failed", "error", err)
			return nil, fmt.Errorf("failed to scan message row: %w", err)
		}
		msgs = append(msgs, m)
	}
	if err := rows.Err(); err != nil {
		slog.Error("PostgresStore GetHistory rows iteration failed", "error", err)
		return nil, fmt.Errorf("failed to iterate message rows: %w", err)
	}
	slog.Debug("PostgresStore GetHistory succeeded", "sender_id", senderID, "count", len(msgs))
	return msgs, nil
}

func (s *PostgresStore) SaveProfile(p models.UserProfile) error {
	_, err := s.db.Exec(`INSERT INTO user_profiles (sender_id, name, profile_pic) VALUES ($1, $2, $3)
		ON CONFLICT (sender_id) DO UPDATE SET name = EXCLUDED.name, profile_pic = EXCLUDED.profile_pic`,
		p.SenderID, p.Name, p.ProfilePic)
	if err != nil {
		slog.Error("PostgresStore SaveProfile failed", "error", err, "sender_id", p.SenderID)
		return fmt.Errorf("failed to upsert profile for %s: %w", p.SenderID, err)
	}
	return nil
}

func (s *PostgresStore) GetProfile(senderID string) (models.UserProfile, bool, error) {
	var p models.UserProfile
	err := s.db.QueryRow(`SELECT sender_id, name, profile_pic FROM user_profiles WHERE sender_id = $1`, senderID).
		Scan(&p.SenderID, &p.Name, &p.ProfilePic)
	if err == sql.ErrNoRows {
		return models.UserProfile{}, false, nil
	}
	if err != nil {
		slog.Error("PostgresStore GetProfile failed", "error", err, "sender_id", senderID)
		return models.UserProfile{}, false, fmt.Errorf("failed to query profile for %s: %w", senderID, err)
	}
	return p, true, nil
}

// Close closes the underlying database.
func (s *PostgresStore) Close() error {
	return s.db.Close()
}
