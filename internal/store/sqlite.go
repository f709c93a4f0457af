// Package store provides conversation persistence backends.
//
// This file implements the SQLite-backed store.
package store

import (
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	_ "embed"

	"github.com/bebias/venera-bot/internal/models"
	_ "github.com/mattn/go-sqlite3"
)

// DefaultDirPermissions defines the default permissions for database directories.
const DefaultDirPermissions = 0755

//go:embed migrations_sqlite.sql
var sqliteMigrations string

type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore creates a new SQLite store with the given DSN.
// The DSN should be a file path to the SQLite database file.
// If the directory doesn't exist, it will be created.
func NewSQLiteStore(opts ...Option) (*SQLiteStore, error) {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	slog.Debug("NewSQLiteStore invoked", "DSN_set", cfg.DSN != "")

	dsn := cfg.DSN
	if dsn == "" {
		slog.Error("SQLiteStore DSN not set")
		return nil, fmt.Errorf("database DSN not set")
	}

	dir := filepath.Dir(dsn)
	if err := os.MkdirAll(dir, DefaultDirPermissions); err != nil {
		slog.Error("Failed to create database directory", "error", err, "dir", dir)
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	slog.Debug("Opening SQLite database connection")
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		slog.Error("Failed to open SQLite connection", "error", err)
		return nil, err
	}

	if err := db.Ping(); err != nil {
		slog.Error("SQLite ping failed", "error", err)
		return nil, err
	}

	slog.Debug("Running SQLite migrations")
	if _, err := db.Exec(sqliteMigrations); err != nil {
		slog.Error("Failed to run migrations", "error", err)
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}
	slog.Debug("SQLite migrations applied successfully")

	return &SQLiteStore{db: db}, nil
}

func (s *SQLiteStore) AppendMessage(m models.ConversationMessage) error {
	_, err := s.db.Exec(`INSERT INTO conversation_messages (sender_id, role, content, time) VALUES (?, ?, ?, ?)`,
		m.SenderID, m.Role, m.Content, m.Time)
	if err != nil {
		slog.Error("SQLiteStore AppendMessage failed", "error", err, "sender_id", m.SenderID)
		return fmt.Errorf("failed to insert message for %s: %w", m.SenderID, err)
	}
	slog.Debug("SQLiteStore AppendMessage succeeded", "sender_id", m.SenderID, "role", m.Role)
	return nil
}

func (s *SQLiteStore) GetHistory(senderID string) ([]models.ConversationMessage, error) {
	rows, err := s.db.Query(`SELECT sender_id, role, content, time FROM conversation_messages WHERE sender_id = ? ORDER BY id`, senderID)
	if err != nil {
		slog.Error("SQLiteStore GetHistory query failed", "error", err, "sender_id", senderID)
		return nil, fmt.Errorf("failed to query history for %s: %w", senderID, err)
	}
	defer rows.Close()

	var msgs []models.ConversationMessage
	for rows.Next() {
		var m models.ConversationMessage
		if err := rows.Scan(&m.SenderID, &m.Role, &m.Content, &m.Time); err != nil {
			slog.Error("SQLiteStore GetHistory scan failed", "error", err)
			return nil, fmt.Errorf("failed to scan message row: %w", err)
		}
		msgs = append(msgs, m)
	}
	if err := rows.Err(); err != nil {
		slog.Error("SQLiteStore GetHistory rows iteration failed", "error", err)
		return nil, fmt.Errorf("failed to iterate message rows: %w", err)
	}
	slog.Debug("SQLiteStore GetHistory succeeded", "sender_id", senderID, "count", len(msgs))
	return msgs, nil
}

func (s *SQLiteStore) SaveProfile(p models.UserProfile) error {
	_, err := s.db.Exec(`INSERT INTO user_profiles (sender_id, name, profile_pic) VALUES (?, ?, ?)
		ON CONFLICT(sender_id) DO UPDATE SET name = excluded.name, profile_pic = excluded.profile_pic`,
		p.SenderID, p.Name, p.ProfilePic)
	if err != nil {
		slog.Error("SQLiteStore SaveProfile failed", "error", err, "sender_id", p.SenderID)
		return fmt.Errorf("failed to upsert profile for %s: %w", p.SenderID, err)
	}
	return nil
}

func (s *SQLiteStore) GetProfile(senderID string) (models.UserProfile, bool, error) {
	var p models.UserProfile
	err := s.db.QueryRow(`SELECT sender_id, name, profile_pic FROM user_profiles WHERE sender_id = ?`, senderID).
		Scan(&p.SenderID, &p.Name, &p.ProfilePic)
	if err == sql.ErrNoRows {
		return models.UserProfile{}, false, nil
	}
	if err != nil {
		slog.Error("SQLiteStore GetProfile failed", "error", err, "sender_id", senderID)
		return models.UserProfile{}, false, fmt.Errorf("failed to query profile for %s: %w", senderID, err)
	}
	return p, true, nil
}

// Close closes the underlying database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
