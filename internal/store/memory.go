// Package store provides conversation persistence backends.
//
// This file implements an in-memory store for tests.
package store

import (
	"sync"

	"github.com/bebias/venera-bot/internal/models"
)

// InMemoryStore keeps conversations in process memory.
type InMemoryStore struct {
	mu       sync.RWMutex
	history  map[string][]models.ConversationMessage
	profiles map[string]models.UserProfile
}

// NewInMemoryStore creates an empty in-memory store.
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		history:  make(map[string][]models.ConversationMessage),
		profiles: make(map[string]models.UserProfile),
	}
}

// AppendMessage appends one message to the sender's history.
func (s *InMemoryStore) AppendMessage(m models.ConversationMessage) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.history[m.SenderID] = append(s.history[m.SenderID], m)
	return nil
}

// GetHistory returns the sender's messages in append order.
func (s *InMemoryStore) GetHistory(senderID string) ([]models.ConversationMessage, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	msgs := s.history[senderID]
	out := make([]models.ConversationMessage, len(msgs))
	copy(out, msgs)
	return out, nil
}

// SaveProfile upserts the sender's profile.
func (s *InMemoryStore) SaveProfile(p models.UserProfile) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.profiles[p.SenderID] = p
	return nil
}

// GetProfile returns the stored profile if present.
func (s *InMemoryStore) GetProfile(senderID string) (models.UserProfile, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.profiles[senderID]
	return p, ok, nil
}

// Close releases nothing for the in-memory store.
func (s *InMemoryStore) Close() error {
	return nil
}
