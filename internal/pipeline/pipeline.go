// Package pipeline implements the per-message processing pipeline: history
// persistence for every inbound message and the consolidated reply pass
// that runs once a message burst has settled.
//
// The burst coordinator is an optimization layer in front of this pipeline;
// if coordination fails, messages can still be processed here directly.
package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/bebias/venera-bot/internal/genai"
	"github.com/bebias/venera-bot/internal/kvstore"
	"github.com/bebias/venera-bot/internal/messenger"
	"github.com/bebias/venera-bot/internal/models"
	"github.com/bebias/venera-bot/internal/store"
	"github.com/openai/openai-go"
)

// PauseKey is the key-value store flag that pauses reply generation
// globally. It is plain external state consulted here, not part of the
// burst coordinator's state machine.
const PauseKey = "bot:paused"

// DefaultSystemPrompt is used when no prompt is configured.
const DefaultSystemPrompt = "You are a helpful customer-service assistant for an online store. " +
	"Answer concisely and in the customer's language."

// Opts holds configuration options for the processor.
type Opts struct {
	SystemPrompt string
	Now          func() time.Time
}

// Option defines a configuration option for the processor.
type Option func(*Opts)

// WithSystemPrompt sets the system prompt for reply generation.
func WithSystemPrompt(prompt string) Option {
	return func(o *Opts) {
		o.SystemPrompt = prompt
	}
}

// WithClock overrides the processor's time source. Used in tests.
func WithClock(now func() time.Time) Option {
	return func(o *Opts) {
		o.Now = now
	}
}

// Processor runs the normal message pipeline.
type Processor struct {
	st           store.Store
	ga           genai.ClientInterface
	sender       messenger.Sender
	kv           kvstore.Store
	systemPrompt string
	now          func() time.Time
}

// NewProcessor creates a pipeline processor over the given collaborators.
func NewProcessor(st store.Store, ga genai.ClientInterface, sender messenger.Sender, kv kvstore.Store, opts ...Option) *Processor {
	cfg := Opts{
		SystemPrompt: DefaultSystemPrompt,
		Now:          time.Now,
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	return &Processor{
		st:           st,
		ga:           ga,
		sender:       sender,
		kv:           kv,
		systemPrompt: cfg.SystemPrompt,
		now:          cfg.Now,
	}
}

// HandleInbound persists one real inbound message to history and enriches
// the sender's profile on first contact. Trigger-only events must not reach
// this method; they carry no content and are excluded from history.
func (p *Processor) HandleInbound(ctx context.Context, ev models.MessageEvent) error {
	if ev.TriggerOnly {
		return fmt.Errorf("trigger-only event must not be appended to history")
	}
	senderID := ev.Sender.ID

	if err := p.st.AppendMessage(models.ConversationMessage{
		SenderID: senderID,
		Role:     models.RoleUser,
		Content:  ev.Text(),
		Time:     ev.Timestamp,
	}); err != nil {
		return fmt.Errorf("failed to append inbound message for %s: %w", senderID, err)
	}
	slog.Debug("Processor.HandleInbound: message appended to history", "sender_id", senderID)

	// Fetch the profile once; failures here never block the message.
	if _, found, err := p.st.GetProfile(senderID); err == nil && !found {
		profile, err := p.sender.FetchProfile(ctx, senderID)
		if err != nil {
			slog.Warn("Processor.HandleInbound: profile fetch failed", "error", err, "sender_id", senderID)
		} else if profile.Name != "" {
			if err := p.st.SaveProfile(profile); err != nil {
				slog.Warn("Processor.HandleInbound: profile save failed", "error", err, "sender_id", senderID)
			}
		}
	}
	return nil
}

// ProcessSettledHistory runs one consolidated reply pass over the sender's
// stored history. The real messages are already in history from the
// per-message appends, so this generates and delivers a single reply.
func (p *Processor) ProcessSettledHistory(ctx context.Context, senderID string) error {
	paused, err := p.isPaused(ctx)
	if err != nil {
		slog.Warn("Processor.ProcessSettledHistory: pause flag unavailable, assuming not paused", "error", err)
	}
	if paused {
		slog.Info("Processor.ProcessSettledHistory: bot paused, skipping reply", "sender_id", senderID)
		return nil
	}

	history, err := p.st.GetHistory(senderID)
	if err != nil {
		return fmt.Errorf("failed to load history for %s: %w", senderID, err)
	}
	if len(history) == 0 {
		slog.Warn("Processor.ProcessSettledHistory: empty history, nothing to process", "sender_id", senderID)
		return nil
	}

	messages := make([]openai.ChatCompletionMessageParamUnion, 0, len(history)+1)
	messages = append(messages, openai.SystemMessage(p.systemPrompt))
	for _, m := range history {
		switch m.Role {
		case models.RoleAssistant:
			messages = append(messages, openai.AssistantMessage(m.Content))
		default:
			messages = append(messages, openai.UserMessage(m.Content))
		}
	}

	reply, err := p.ga.GenerateWithMessages(ctx, messages)
	if err != nil {
		return fmt.Errorf("failed to generate reply for %s: %w", senderID, err)
	}
	if strings.TrimSpace(reply) == "" {
		slog.Warn("Processor.ProcessSettledHistory: empty reply generated", "sender_id", senderID)
		return nil
	}

	for _, chunk := range splitReply(reply) {
		if err := p.sender.SendMessage(ctx, senderID, chunk); err != nil {
			return fmt.Errorf("failed to deliver reply to %s: %w", senderID, err)
		}
	}

	if err := p.st.AppendMessage(models.ConversationMessage{
		SenderID: senderID,
		Role:     models.RoleAssistant,
		Content:  reply,
		Time:     p.now().UnixMilli(),
	}); err != nil {
		return fmt.Errorf("failed to append reply for %s: %w", senderID, err)
	}

	slog.Info("Processor.ProcessSettledHistory: consolidated reply delivered", "sender_id", senderID, "history_len", len(history))
	return nil
}

// isPaused reads the global pause flag from the key-value store.
func (p *Processor) isPaused(ctx context.Context) (bool, error) {
	var paused bool
	found, err := p.kv.GetJSON(ctx, PauseKey, &paused)
	if err != nil {
		return false, err
	}
	return found && paused, nil
}

// splitReply breaks a long reply into paragraph chunks so multi-part
// answers arrive as separate messages.
func splitReply(reply string) []string {
	parts := strings.Split(reply, "\n\n")
	var chunks []string
	for _, part := range parts {
		part = strings.TrimSpace(part)
		if part != "" {
			chunks = append(chunks, part)
		}
	}
	if len(chunks) == 0 {
		return []string{reply}
	}
	return chunks
}
