// Package models defines shared types for the Venera chatbot service.
//
// It contains the Messenger webhook wire types, conversation records, and
// the standard API response envelope used by all HTTP handlers.
package models

import "errors"

// ErrMissingSenderID is returned when a webhook event or resolution request
// has no sender identifier.
var ErrMissingSenderID = errors.New("missing required field: senderId")

// Role identifies who authored a conversation message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// ConversationMessage is a single entry in a sender's conversation history.
type ConversationMessage struct {
	SenderID string `json:"senderId"`
	Role     Role   `json:"role"`
	Content  string `json:"content"`
	Time     int64  `json:"time"` // unix milliseconds
}

// UserProfile holds display information fetched from the Messenger profile API.
type UserProfile struct {
	SenderID   string `json:"senderId"`
	Name       string `json:"name,omitempty"`
	ProfilePic string `json:"profilePic,omitempty"`
}

// ResolutionRequest is the body of a burst-resolution callback.
type ResolutionRequest struct {
	SenderID string `json:"senderId"`
}

// Validate checks that the resolution request carries a sender ID.
func (r *ResolutionRequest) Validate() error {
	if r.SenderID == "" {
		return ErrMissingSenderID
	}
	return nil
}

// ResolutionStatus is the outcome reported by the burst-resolution handler.
type ResolutionStatus string

const (
	// ResolutionNoBurst means no burst record existed; another callback
	// already resolved it or the record expired.
	ResolutionNoBurst ResolutionStatus = "no_burst"
	// ResolutionTooSoon means the callback fired before the resolution
	// threshold elapsed; the record was left untouched.
	ResolutionTooSoon ResolutionStatus = "too_soon"
	// ResolutionSuccess means the record was cleared and exactly one
	// downstream turn was triggered.
	ResolutionSuccess ResolutionStatus = "success"
)

// API response types for consistent JSON responses

// APIStatus represents the status field of an API response.
type APIStatus string

const (
	APIStatusOK    APIStatus = "ok"
	APIStatusError APIStatus = "error"
)

// APIResponse represents a standard API response with a status and optional data.
type APIResponse struct {
	Status  string      `json:"status"`            // status of the API response
	Message string      `json:"message,omitempty"` // optional message for error responses or additional info
	Result  interface{} `json:"result,omitempty"`  // optional result data for successful responses
}

// APIResponseBuilder provides a fluent interface for building API responses.
type APIResponseBuilder struct {
	response APIResponse
}

// NewAPIResponseBuilder creates a new APIResponseBuilder instance.
func NewAPIResponseBuilder() *APIResponseBuilder {
	return &APIResponseBuilder{
		response: APIResponse{},
	}
}

// WithStatus sets the status of the API response.
func (b *APIResponseBuilder) WithStatus(status APIStatus) *APIResponseBuilder {
	b.response.Status = string(status)
	return b
}

// WithStatusString sets the status of the API response from a raw string.
// Used by handlers whose contract reports domain statuses (e.g. resolution
// outcomes) in the status field directly.
func (b *APIResponseBuilder) WithStatusString(status string) *APIResponseBuilder {
	b.response.Status = status
	return b
}

// WithMessage sets the message of the API response.
func (b *APIResponseBuilder) WithMessage(message string) *APIResponseBuilder {
	b.response.Message = message
	return b
}

// WithResult sets the result data of the API response.
func (b *APIResponseBuilder) WithResult(result interface{}) *APIResponseBuilder {
	b.response.Result = result
	return b
}

// Build constructs and returns the final APIResponse.
func (b *APIResponseBuilder) Build() APIResponse {
	return b.response
}

// Success creates a successful API response with optional result data.
func Success(result interface{}) APIResponse {
	return NewAPIResponseBuilder().
		WithStatus(APIStatusOK).
		WithResult(result).
		Build()
}

// SuccessWithMessage creates a successful API response with a message and optional result data.
func SuccessWithMessage(message string, result interface{}) APIResponse {
	return NewAPIResponseBuilder().
		WithStatus(APIStatusOK).
		WithMessage(message).
		WithResult(result).
		Build()
}

// Error creates an error API response with a message.
func Error(message string) APIResponse {
	return NewAPIResponseBuilder().
		WithStatus(APIStatusError).
		WithMessage(message).
		Build()
}

// Resolution creates an API response whose status field reports a
// burst-resolution outcome.
func Resolution(status ResolutionStatus) APIResponse {
	return NewAPIResponseBuilder().
		WithStatusString(string(status)).
		Build()
}
