// Package kvstore provides the shared key-value tracker used to persist
// burst state and feature flags across stateless handler invocations.
//
// It includes a Redis-backed store for production and an in-memory store
// for tests and single-process deployments.
package kvstore

import (
	"context"
	"time"
)

// Store defines the key-value operations the burst coordinator relies on.
// All values are stored as JSON documents.
type Store interface {
	// GetJSON reads the value at key into v. Returns false if the key does
	// not exist (or has expired); this is not an error.
	GetJSON(ctx context.Context, key string, v interface{}) (bool, error)

	// SetJSON writes v at key. A ttl > 0 sets a passive expiry.
	SetJSON(ctx context.Context, key string, v interface{}, ttl time.Duration) error

	// Delete removes the key. Deleting a missing key is not an error.
	Delete(ctx context.Context, key string) error

	// Close releases any underlying connections.
	Close() error
}

// Opts holds configuration options for key-value store backends.
type Opts struct {
	Addr     string // Redis address (host:port)
	Password string // Redis password, if required
	DB       int    // Redis database number
}

// Option defines a configuration option for key-value store backends.
type Option func(*Opts)

// WithAddr sets the Redis server address.
func WithAddr(addr string) Option {
	return func(o *Opts) {
		o.Addr = addr
	}
}

// WithPassword sets the Redis password.
func WithPassword(password string) Option {
	return func(o *Opts) {
		o.Password = password
	}
}

// WithDB sets the Redis database number.
func WithDB(db int) Option {
	return func(o *Opts) {
		o.DB = db
	}
}
