// Package ai implements the chat streaming orchestration: session
// resolution, message lifecycle, context assembly, and the relay of
// provider deltas to the caller as a typed event sequence.
package ai

import (
	"time"

	"github.com/hrygo/parley/server/internal/errors"
	"github.com/hrygo/parley/store"
)

// EventType discriminates the payload of a StreamEvent.
type EventType string

const (
	EventSessionCreated        EventType = "sessionCreated"
	EventUserMessageCreated    EventType = "userMessageCreated"
	EventAIMessageStarted      EventType = "aiMessageStarted"
	EventContentDelta          EventType = "contentDelta"
	EventFunctionCall          EventType = "functionCall"
	EventAIMessageCompleted    EventType = "aiMessageCompleted"
	EventError                 EventType = "error"
	EventRegenerationStarted   EventType = "regenerationStarted"
	EventRegenerationCompleted EventType = "regenerationCompleted"
)

// StreamEvent is one element of the outbound event sequence. Within one
// exchange events are strictly ordered: sessionCreated (when a session
// was implicitly created), userMessageCreated, aiMessageStarted, zero or
// more contentDelta/functionCall, then exactly one terminal
// aiMessageCompleted or error.
type StreamEvent struct {
	Type         EventType            `json:"type"`
	Timestamp    string               `json:"timestamp"`
	Session      *SessionPayload      `json:"session,omitempty"`
	Message      *MessagePayload      `json:"message,omitempty"`
	Delta        string               `json:"delta,omitempty"`
	FunctionCall *FunctionCallPayload `json:"functionCall,omitempty"`
	Error        *ErrorPayload        `json:"error,omitempty"`
}

type SessionPayload struct {
	UID       string `json:"uid"`
	Title     string `json:"title"`
	CreatedAt string `json:"createdAt,omitempty"`
}

type MessagePayload struct {
	UID           string `json:"uid"`
	SessionUID    string `json:"sessionUid"`
	Role          string `json:"role"`
	Content       string `json:"content,omitempty"`
	Status        string `json:"status"`
	TokensUsed    int32  `json:"tokensUsed,omitempty"`
	CompletedAt   string `json:"completedAt,omitempty"`
	RegeneratedAt string `json:"regeneratedAt,omitempty"`
}

type FunctionCallPayload struct {
	Name      string `json:"name,omitempty"`
	Arguments string `json:"arguments,omitempty"`
}

type ErrorPayload struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// EventStream is the caller-owned sink for orchestrator events. A Send
// error means the caller is gone; the orchestrator then switches to the
// finalize-with-partial-content path.
type EventStream interface {
	Send(event *StreamEvent) error
}

func newEvent(eventType EventType) *StreamEvent {
	return &StreamEvent{
		Type:      eventType,
		Timestamp: time.Now().UTC().Format(time.RFC3339Nano),
	}
}

func sessionEvent(eventType EventType, session *store.Session) *StreamEvent {
	event := newEvent(eventType)
	event.Session = &SessionPayload{
		UID:       session.UID,
		Title:     session.Title,
		CreatedAt: time.Unix(session.CreatedTs, 0).UTC().Format(time.RFC3339Nano),
	}
	return event
}

func messageEvent(eventType EventType, message *store.Message, sessionUID string) *StreamEvent {
	event := newEvent(eventType)
	payload := &MessagePayload{
		UID:        message.UID,
		SessionUID: sessionUID,
		Role:       message.Role.String(),
		Content:    message.Content,
		Status:     message.Status.String(),
		TokensUsed: message.TokensUsed,
	}
	if message.CompletedTs != nil {
		payload.CompletedAt = time.Unix(*message.CompletedTs, 0).UTC().Format(time.RFC3339Nano)
	}
	if message.RegeneratedTs != nil {
		payload.RegeneratedAt = time.Unix(*message.RegeneratedTs, 0).UTC().Format(time.RFC3339Nano)
	}
	event.Message = payload
	return event
}

func deltaEvent(delta string) *StreamEvent {
	event := newEvent(EventContentDelta)
	event.Delta = delta
	return event
}

func functionCallEvent(name, arguments string) *StreamEvent {
	event := newEvent(EventFunctionCall)
	event.FunctionCall = &FunctionCallPayload{Name: name, Arguments: arguments}
	return event
}

func errorEvent(err error) *StreamEvent {
	event := newEvent(EventError)
	code := errors.CodeOf(err)
	if code == "" {
		code = errors.ErrCodeProviderError
	}
	message := err.Error()
	// Storage internals never leak to the caller.
	if code == errors.ErrCodeStorageError {
		message = "internal storage error"
	}
	event.Error = &ErrorPayload{Code: string(code), Message: message}
	return event
}
