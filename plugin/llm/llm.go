// Package llm normalizes vendor chat-completion APIs into one canonical
// event stream. Providers register with a model-name registry; callers go
// through the Gateway, which adds the request timeout horizon and the
// auxiliary single-shot operations (moderation, summaries, suggestions).
package llm

import (
	"context"
	"encoding/json"
)

// Message is a single chat turn in provider-agnostic form.
type Message struct {
	Role    string `json:"role"` // system, user, assistant
	Content string `json:"content"`
}

const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Tool describes a function the model may call.
type Tool struct {
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	Parameters  json.RawMessage `json:"parameters,omitempty"`
}

// CompletionRequest is the canonical parameter set. Optional knobs are
// pointers so that unset values are omitted from the provider call rather
// than sent as zeroes.
type CompletionRequest struct {
	Messages         []Message
	Model            string
	MaxTokens        *int
	Temperature      *float32
	TopP             *float32
	FrequencyPenalty *float32
	PresencePenalty  *float32
	TopK             *int
	// Tools carries every callable declaration. OpenAI's legacy
	// functions parameter is the same shape under an older name, so
	// callers pass those here too; providers emit the current form.
	Tools []Tool
}

// EventType identifies the payload carried by an Event.
type EventType string

const (
	EventContent      EventType = "content"
	EventFunctionCall EventType = "functionCall"
	EventCompletion   EventType = "completion"
	EventError        EventType = "error"
)

// ErrorKind classifies a stream failure for the caller's retry policy.
// Nothing in this package retries on its own.
type ErrorKind string

const (
	ErrRateLimited   ErrorKind = "RateLimited"
	ErrProviderError ErrorKind = "ProviderError"
	ErrTimeout       ErrorKind = "Timeout"
)

// Event is one canonical chunk of a streamed completion. A stream yields
// zero or more content/functionCall events followed by exactly one
// completion or error event, after which the channel is closed.
type Event struct {
	Type         EventType
	Content      string
	FunctionName string
	FunctionArgs string
	FinishReason string
	ErrKind      ErrorKind
	ErrMessage   string
}

// ModerationResult reports whether text violates the provider's
// content policy.
type ModerationResult struct {
	Flagged        bool               `json:"flagged"`
	CategoryScores map[string]float64 `json:"categoryScores,omitempty"`
}

// Provider is one vendor backend. StreamCompletion returns an error only
// for pre-stream failures (auth, bad request, dial); mid-stream failures
// arrive as an EventError on the channel.
type Provider interface {
	Name() string
	StreamCompletion(ctx context.Context, request CompletionRequest) (<-chan Event, error)
	Complete(ctx context.Context, request CompletionRequest) (string, error)
}

// Moderator is implemented by providers that expose a moderation endpoint.
type Moderator interface {
	Moderate(ctx context.Context, text string) (*ModerationResult, error)
}

func errorEvent(kind ErrorKind, message string) Event {
	return Event{Type: EventError, ErrKind: kind, ErrMessage: message}
}
