// Package messenger wraps the Facebook Graph send API for the chatbot.
//
// It provides message delivery and user profile lookup, plus a mock sender
// for tests.
package messenger

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

// DefaultGraphURL is the Graph API base used when none is configured.
const DefaultGraphURL = "https://graph.facebook.com/v19.0"

// Sender is the delivery abstraction the pipeline depends on.
type Sender interface {
	// SendMessage delivers one text message to a recipient.
	SendMessage(ctx context.Context, recipientID, text string) error

	// FetchProfile looks up display information for a user.
	FetchProfile(ctx context.Context, userID string) (models.UserProfile, error)
}

// Opts holds configuration options for the Graph API client.
type Opts struct {
	BaseURL    string
	PageToken  string
	HTTPClient *http.Client
}

// Option defines a configuration option for the Graph API client.
type Option func(*Opts)

// WithBaseURL overrides the Graph API base URL. Used in tests.
func WithBaseURL(u string) Option {
	return func(o *Opts) {
		o.BaseURL = u
	}
}

// WithPageToken sets the page access token.
func WithPageToken(token string) Option {
	return func(o *Opts) {
		o.PageToken = token
	}
}

// WithHTTPClient overrides the HTTP client. Used in tests.
func WithHTTPClient(c *http.Client) Option {
	return func(o *Opts) {
		o.HTTPClient = c
	}
}

// Client calls the Graph send API.
type Client struct {
	baseURL   string
	pageToken string
	http      *http.Client
}

// NewClient creates a Graph API client. The page token is required.
func NewClient(opts ...Option) (*Client, error) {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.PageToken == "" {
		return nil, fmt.Errorf("page access token not set")
	}
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = DefaultGraphURL
	}
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 15 * time.Second}
	}
	slog.Debug("Messenger NewClient configured", "base_url", baseURL)
	return &Client{baseURL: baseURL, pageToken: cfg.PageToken, http: httpClient}, nil
}

type sendRequest struct {
	Recipient models.Principal `json:"recipient"`
	Message   struct {
		Text string `json:"text"`
	} `json:"message"`
}

// SendMessage posts one text message to the send API.
func (c *Client) SendMessage(ctx context.Context, recipientID, text string) error {
	var body sendRequest
	body.Recipient.ID = recipientID
	body.Message.Text = text

	data, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("failed to marshal send request: %w", err)
	}

	endpoint := fmt.Sprintf("%s/me/messages?access_token=%s", c.baseURL, url.QueryEscape(c.pageToken))
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("failed to build send request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		slog.Error("Messenger.SendMessage: request failed", "error", err, "to", recipientID)
		return fmt.Errorf("failed to send message to %s: %w", recipientID, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		slog.Error("Messenger.SendMessage: send API rejected message", "status", resp.StatusCode, "to", recipientID, "body", string(respBody))
		return fmt.Errorf("send API rejected message to %s: status %d", recipientID, resp.StatusCode)
	}
	io.Copy(io.Discard, resp.Body)

	slog.Debug("Messenger.SendMessage succeeded", "to", recipientID, "length", len(text))
	return nil
}

type profileResponse struct {
	FirstName  string `json:"first_name"`
	LastName   string `json:"last_name"`
	ProfilePic string `json:"profile_pic"`
}

// FetchProfile looks up the user's display name and picture.
func (c *Client) FetchProfile(ctx context.Context, userID string) (models.UserProfile, error) {
	endpoint := fmt.Sprintf("%s/%s?fields=first_name,last_name,profile_pic&access_token=%s",
		c.baseURL, url.PathEscape(userID), url.QueryEscape(c.pageToken))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return models.UserProfile{}, fmt.Errorf("failed to build profile request: %w", err)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return models.UserProfile{}, fmt.Errorf("failed to fetch profile for %s: %w", userID, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		io.Copy(io.Discard, resp.Body)
		return models.UserProfile{}, fmt.Errorf("profile API returned status %d for %s", resp.StatusCode, userID)
	}

	var pr profileResponse
	if err := json.NewDecoder(resp.Body).Decode(&pr); err != nil {
		return models.UserProfile{}, fmt.Errorf("failed to decode profile for %s: %w", userID, err)
	}

	name := pr.FirstName
	if pr.LastName != "" {
		if name != "" {
			name += " "
		}
		name += pr.LastName
	}
	return models.UserProfile{SenderID: userID, Name: name, ProfilePic: pr.ProfilePic}, nil
}
