// Package pipeline provides the downstream turn trigger used by the burst
// resolver.
package pipeline

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/bebias/venera-bot/internal/models"
	"github.com/google/uuid"
)

// TurnTrigger causes the normal pipeline to run one consolidated pass over
// a sender's settled history.
type TurnTrigger interface {
	TriggerSettledTurn(ctx context.Context, senderID string) error
}

// DirectTrigger invokes the processor in-process. This is the default when
// the resolver and the pipeline run in the same service.
type DirectTrigger struct {
	Processor *Processor
}

// TriggerSettledTurn runs the settled-history pass directly.
func (t *DirectTrigger) TriggerSettledTurn(ctx context.Context, senderID string) error {
	return t.Processor.ProcessSettledHistory(ctx, senderID)
}

// HTTPTrigger posts a synthetic trigger-only webhook event to a remote
// message-ingress endpoint. Used when the resolver and the pipeline are
// deployed separately; the event shape matches a real inbound message so
// the ingress needs no separate code path, and the trigger-only marker
// keeps it out of stored history.
type HTTPTrigger struct {
	WebhookURL string
	HTTPClient *http.Client
}

// NewHTTPTrigger creates a trigger targeting the given webhook endpoint.
func NewHTTPTrigger(webhookURL string) *HTTPTrigger {
	return &HTTPTrigger{
		WebhookURL: webhookURL,
		HTTPClient: &http.Client{Timeout: 30 * time.Second},
	}
}

// TriggerSettledTurn posts the synthetic trigger event.
func (t *HTTPTrigger) TriggerSettledTurn(ctx context.Context, senderID string) error {
	payload := models.WebhookPayload{
		Object: "page",
		Entry: []models.WebhookEntry{{
			Messaging: []models.MessageEvent{{
				Sender:      models.Principal{ID: senderID},
				Recipient:   models.Principal{ID: "page"},
				Timestamp:   time.Now().UnixMilli(),
				Message:     &models.Message{MID: "trigger_" + uuid.NewString(), Text: ""},
				TriggerOnly: true,
			}},
		}},
	}

	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal trigger payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.WebhookURL, bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("failed to build trigger request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := t.HTTPClient.Do(req)
	if err != nil {
		slog.Error("HTTPTrigger.TriggerSettledTurn: trigger request failed", "error", err, "sender_id", senderID)
		return fmt.Errorf("failed to post trigger for %s: %w", senderID, err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		slog.Error("HTTPTrigger.TriggerSettledTurn: trigger rejected", "status", resp.StatusCode, "sender_id", senderID)
		return fmt.Errorf("trigger for %s rejected: status %d", senderID, resp.StatusCode)
	}

	slog.Debug("HTTPTrigger.TriggerSettledTurn: trigger delivered", "sender_id", senderID)
	return nil
}
