// Package models defines webhook wire types for the Messenger platform.
package models

// WebhookPayload is the envelope POSTed by the Messenger platform (and by
// the synthetic turn trigger, which reuses the same shape).
type WebhookPayload struct {
	Object string         `json:"object"`
	Entry  []WebhookEntry `json:"entry"`
}

// WebhookEntry groups messaging events for one page.
type WebhookEntry struct {
	ID        string         `json:"id,omitempty"`
	Time      int64          `json:"time,omitempty"`
	Messaging []MessageEvent `json:"messaging"`
}

// Principal identifies one side of a Messenger conversation.
type Principal struct {
	ID string `json:"id"`
}

// Message is the message portion of a webhook event.
type Message struct {
	MID  string `json:"mid,omitempty"`
	Text string `json:"text"`
}

// MessageEvent is a single inbound messaging event.
//
// TriggerOnly marks a synthetic event injected by the burst resolver: it
// causes one consolidated processing pass over stored history and must not
// itself be appended to history.
type MessageEvent struct {
	Sender      Principal `json:"sender"`
	Recipient   Principal `json:"recipient"`
	Timestamp   int64     `json:"timestamp"` // unix milliseconds
	Message     *Message  `json:"message,omitempty"`
	TriggerOnly bool      `json:"__trigger_only,omitempty"`
}

// Validate checks that the event carries a sender ID.
func (e *MessageEvent) Validate() error {
	if e.Sender.ID == "" {
		return ErrMissingSenderID
	}
	return nil
}

// Text returns the message text, or empty for trigger-only events.
func (e *MessageEvent) Text() string {
	if e.Message == nil {
		return ""
	}
	return e.Message.Text
}

// Events flattens the payload into its messaging events.
func (p *WebhookPayload) Events() []MessageEvent {
	var events []MessageEvent
	for _, entry := range p.Entry {
		events = append(events, entry.Messaging...)
	}
	return events
}
