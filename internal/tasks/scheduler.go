// Package tasks provides the delayed-callback scheduler used to resolve
// message bursts.
//
// The scheduler contract is push-based: given a payload and a delay, it
// guarantees an HTTP callback to the burst-resolution endpoint at-or-after
// the requested time, with at-least-once delivery. Callbacks are signed with
// a shared secret so the resolution handler can authenticate them.
package tasks

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"github.com/bebias/venera-bot/internal/models"
)

// Scheduler schedules a burst-resolution callback for a sender.
type Scheduler interface {
	// ScheduleResolution requests a callback carrying {senderId} at-or-after
	// now + delay. Delivery is at-least-once; the resolution handler is
	// responsible for idempotency.
	ScheduleResolution(ctx context.Context, senderID string, delay time.Duration) error
}

// Opts holds configuration for scheduler clients.
type Opts struct {
	BaseURL     string // push-scheduler API base URL
	Token       string // bearer token for the scheduler API
	CallbackURL string // burst-resolution endpoint the scheduler will call
	Secret      string // shared secret for callback signatures
	HTTPClient  *http.Client
}

// Option defines a configuration option for scheduler clients.
type Option func(*Opts)

// WithBaseURL sets the push-scheduler API base URL.
func WithBaseURL(u string) Option {
	return func(o *Opts) {
		o.BaseURL = u
	}
}

// WithToken sets the bearer token for the scheduler API.
func WithToken(token string) Option {
	return func(o *Opts) {
		o.Token = token
	}
}

// WithCallbackURL sets the burst-resolution endpoint the scheduler calls.
func WithCallbackURL(u string) Option {
	return func(o *Opts) {
		o.CallbackURL = u
	}
}

// WithSecret sets the shared secret used to sign callbacks.
func WithSecret(secret string) Option {
	return func(o *Opts) {
		o.Secret = secret
	}
}

// WithHTTPClient overrides the HTTP client. Used in tests.
func WithHTTPClient(c *http.Client) Option {
	return func(o *Opts) {
		o.HTTPClient = c
	}
}

// PushClient schedules callbacks through a hosted push-scheduler service
// (publish-with-delay API: POST {base}/v2/publish/{callback-url} with a
// delay header and the payload as body).
type PushClient struct {
	baseURL     string
	token       string
	callbackURL string
	http        *http.Client
}

// NewPushClient creates a client for the hosted push scheduler.
func NewPushClient(opts ...Option) (*PushClient, error) {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("scheduler base URL not set")
	}
	if cfg.CallbackURL == "" {
		return nil, fmt.Errorf("scheduler callback URL not set")
	}
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 10 * time.Second}
	}
	slog.Debug("NewPushClient configured", "base_url", cfg.BaseURL, "callback_url", cfg.CallbackURL, "token_set", cfg.Token != "")
	return &PushClient{
		baseURL:     cfg.BaseURL,
		token:       cfg.Token,
		callbackURL: cfg.CallbackURL,
		http:        httpClient,
	}, nil
}

// ScheduleResolution publishes a delayed {senderId} message addressed to the
// resolution endpoint.
func (c *PushClient) ScheduleResolution(ctx context.Context, senderID string, delay time.Duration) error {
	payload, err := json.Marshal(models.ResolutionRequest{SenderID: senderID})
	if err != nil {
		return fmt.Errorf("failed to marshal resolution payload: %w", err)
	}

	publishURL := c.baseURL + "/v2/publish/" + url.QueryEscape(c.callbackURL)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, publishURL, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("failed to build publish request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Upstash-Delay", fmt.Sprintf("%ds", int(delay.Seconds())))
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		slog.Error("PushClient.ScheduleResolution: publish failed", "error", err, "sender_id", senderID)
		return fmt.Errorf("failed to publish delayed callback for %s: %w", senderID, err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		slog.Error("PushClient.ScheduleResolution: publish rejected", "status", resp.StatusCode, "sender_id", senderID)
		return fmt.Errorf("scheduler rejected publish for %s: status %d", senderID, resp.StatusCode)
	}

	slog.Info("PushClient.ScheduleResolution: callback scheduled", "sender_id", senderID, "delay", delay)
	return nil
}
