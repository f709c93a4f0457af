package messenger

import (
	"context"
	"sync"

	"github.com/bebias/venera-bot/internal/models"
)

// SentMessage records one delivery made through the mock sender.
type SentMessage struct {
	RecipientID string
	Text        string
}

// MockSender is an in-memory Sender for tests.
type MockSender struct {
	mu       sync.Mutex
	sent     []SentMessage
	profiles map[string]models.UserProfile

	// SendErr, when set, is returned by SendMessage.
	SendErr error
}

// NewMockSender creates an empty mock sender.
func NewMockSender() *MockSender {
	return &MockSender{profiles: make(map[string]models.UserProfile)}
}

// SendMessage records the delivery.
func (m *MockSender) SendMessage(ctx context.Context, recipientID, text string) error {
	if m.SendErr != nil {
		return m.SendErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sent = append(m.sent, SentMessage{RecipientID: recipientID, Text: text})
	return nil
}

// FetchProfile returns a registered profile, or an empty one.
func (m *MockSender) FetchProfile(ctx context.Context, userID string) (models.UserProfile, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if p, ok := m.profiles[userID]; ok {
		return p, nil
	}
	return models.UserProfile{SenderID: userID}, nil
}

// SetProfile registers a profile for FetchProfile to return.
func (m *MockSender) SetProfile(p models.UserProfile) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.profiles[p.SenderID] = p
}

// Sent returns a copy of all recorded deliveries.
func (m *MockSender) Sent() []SentMessage {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]SentMessage, len(m.sent))
	copy(out, m.sent)
	return out
}
