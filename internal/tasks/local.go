// Package tasks provides scheduler implementations.
//
// This file implements an in-process scheduler using Go timers, for
// deployments that run as a single long-lived service and do not need a
// hosted push scheduler. Callbacks are still delivered over HTTP to the
// resolution endpoint, signed the same way, so the resolution path is
// identical in both modes.
package tasks

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/bebias/venera-bot/internal/models"
)

// LocalScheduler delivers resolution callbacks from in-process timers.
// Delivery is best-effort once (a lost callback is covered by the burst
// record TTL), which is within the at-least-once contract.
type LocalScheduler struct {
	callbackURL string
	secret      string
	http        *http.Client

	mu     sync.Mutex
	timers map[string]*time.Timer
	nextID int64
}

// NewLocalScheduler creates an in-process scheduler targeting the given
// resolution endpoint.
func NewLocalScheduler(opts ...Option) (*LocalScheduler, error) {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.CallbackURL == "" {
		return nil, fmt.Errorf("scheduler callback URL not set")
	}
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 10 * time.Second}
	}
	slog.Debug("NewLocalScheduler configured", "callback_url", cfg.CallbackURL, "secret_set", cfg.Secret != "")
	return &LocalScheduler{
		callbackURL: cfg.CallbackURL,
		secret:      cfg.Secret,
		http:        httpClient,
		timers:      make(map[string]*time.Timer),
	}, nil
}

// ScheduleResolution arms a timer that delivers the signed callback after
// the delay.
func (s *LocalScheduler) ScheduleResolution(ctx context.Context, senderID string, delay time.Duration) error {
	s.mu.Lock()
	s.nextID++
	id := fmt.Sprintf("callback_%d", s.nextID)
	s.mu.Unlock()

	timer := time.AfterFunc(delay, func() {
		s.deliver(id, senderID)
		s.mu.Lock()
		delete(s.timers, id)
		s.mu.Unlock()
	})

	s.mu.Lock()
	s.timers[id] = timer
	s.mu.Unlock()

	slog.Debug("LocalScheduler.ScheduleResolution: timer armed", "id", id, "sender_id", senderID, "delay", delay)
	return nil
}

// deliver posts the signed resolution callback.
func (s *LocalScheduler) deliver(id, senderID string) {
	body, err := json.Marshal(models.ResolutionRequest{SenderID: senderID})
	if err != nil {
		slog.Error("LocalScheduler.deliver: failed to marshal callback body", "error", err, "id", id)
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.callbackURL, bytes.NewReader(body))
	if err != nil {
		slog.Error("LocalScheduler.deliver: failed to build request", "error", err, "id", id)
		return
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(SignatureHeader, Sign(s.secret, body))

	resp, err := s.http.Do(req)
	if err != nil {
		slog.Error("LocalScheduler.deliver: callback delivery failed", "error", err, "id", id, "sender_id", senderID)
		return
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		slog.Error("LocalScheduler.deliver: callback rejected", "status", resp.StatusCode, "id", id, "sender_id", senderID)
		return
	}
	slog.Debug("LocalScheduler.deliver: callback delivered", "id", id, "sender_id", senderID)
}

// Stop cancels all pending timers.
func (s *LocalScheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, timer := range s.timers {
		timer.Stop()
		delete(s.timers, id)
	}
	slog.Debug("LocalScheduler stopped")
}
