// Package store provides conversation persistence backends for the chatbot.
//
// It includes SQLite and PostgreSQL stores plus an in-memory store for
// tests. The per-message pipeline appends every real inbound message here;
// the settled-burst pass reads the full history back.
package store

import (
	"strings"

	"github.com/bebias/venera-bot/internal/models"
)

// Store defines conversation persistence operations.
type Store interface {
	// AppendMessage appends one message to a sender's history.
	AppendMessage(m models.ConversationMessage) error

	// GetHistory returns a sender's messages in append order.
	GetHistory(senderID string) ([]models.ConversationMessage, error)

	// SaveProfile upserts display information for a sender.
	SaveProfile(p models.UserProfile) error

	// GetProfile returns the stored profile, with found=false if absent.
	GetProfile(senderID string) (models.UserProfile, bool, error)

	// Close releases the underlying database.
	Close() error
}

// Opts holds configuration options for store backends.
type Opts struct {
	DSN string
}

// Option defines a configuration option for store backends.
type Option func(*Opts)

// WithDSN sets the database connection string.
func WithDSN(dsn string) Option {
	return func(o *Opts) {
		o.DSN = dsn
	}
}

// DetectDSNType reports "postgres" for PostgreSQL connection strings and
// "sqlite" for anything else (treated as a file path).
func DetectDSNType(dsn string) string {
	if strings.HasPrefix(dsn, "postgres://") || strings.HasPrefix(dsn, "postgresql://") || strings.Contains(dsn, "host=") {
		return "postgres"
	}
	return "sqlite"
}
