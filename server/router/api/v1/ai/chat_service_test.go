package ai

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hrygo/parley/plugin/llm"
	"github.com/hrygo/parley/server/internal/errors"
	"github.com/hrygo/parley/store"
)

func helloWorldScript() []llm.Event {
	return []llm.Event{
		{Type: llm.EventContent, Content: "Hel"},
		{Type: llm.EventContent, Content: "lo "},
		{Type: llm.EventContent, Content: "World"},
		{Type: llm.EventCompletion, FinishReason: "stop"},
	}
}

func TestStreamMessageCreatesSession(t *testing.T) {
	memory := newMemStore()
	provider := &fakeProvider{events: helloWorldScript()}
	service := newTestService(memory, provider)
	sink := &collector{}

	err := service.StreamMessage(context.Background(), &StreamMessageRequest{
		UserID:  1,
		Content: "Hi",
	}, sink)
	require.NoError(t, err)

	types := sink.types()
	require.GreaterOrEqual(t, len(types), 4)
	assert.Equal(t, EventSessionCreated, types[0])
	assert.Equal(t, EventUserMessageCreated, types[1])
	assert.Equal(t, EventAIMessageStarted, types[2])
	for _, eventType := range types[3 : len(types)-1] {
		assert.Equal(t, EventContentDelta, eventType)
	}
	assert.Equal(t, EventAIMessageCompleted, types[len(types)-1])

	// Deltas concatenate losslessly into the finalized content.
	finalized := sink.events[len(sink.events)-1].Message
	require.NotNil(t, finalized)
	assert.Equal(t, "Hello World", finalized.Content)
	assert.Equal(t, store.MessageCompleted.String(), finalized.Status)
	assert.NotEmpty(t, finalized.CompletedAt)

	sessionUID := sink.events[0].Session.UID
	session, err := memory.GetSession(context.Background(), &store.FindSession{UID: &sessionUID})
	require.NoError(t, err)
	require.NotNil(t, session)
	assert.Equal(t, "Hi", session.Title)
	assert.Equal(t, int32(2), session.MessageCount)
	assert.NotZero(t, session.LastActivityTs)
}

func TestStreamMessageProviderFailureKeepsUserMessage(t *testing.T) {
	memory := newMemStore()
	provider := &fakeProvider{events: []llm.Event{
		{Type: llm.EventContent, Content: "partial "},
		{Type: llm.EventError, ErrKind: llm.ErrRateLimited, ErrMessage: "429 too many requests"},
	}}
	service := newTestService(memory, provider)
	sink := &collector{}

	err := service.StreamMessage(context.Background(), &StreamMessageRequest{
		UserID:  1,
		Content: "Hi",
	}, sink)
	require.Error(t, err)
	assert.Equal(t, errors.ErrCodeRateLimitExceeded, errors.CodeOf(err))

	types := sink.types()
	assert.Equal(t, EventError, types[len(types)-1])

	sessionID := int32(1)
	messages, listErr := memory.ListMessages(context.Background(), &store.FindMessage{SessionID: &sessionID})
	require.NoError(t, listErr)
	require.Len(t, messages, 2)

	// The user turn survives the downstream failure.
	assert.Equal(t, store.MessageRoleUser, messages[0].Role)
	assert.Equal(t, store.MessageCompleted, messages[0].Status)
	assert.Equal(t, "Hi", messages[0].Content)

	// The assistant turn fails exactly once, keeping the partial content.
	assert.Equal(t, store.MessageRoleAssistant, messages[1].Role)
	assert.Equal(t, store.MessageFailed, messages[1].Status)
	assert.Equal(t, "partial ", messages[1].Content)
	assert.Contains(t, messages[1].Metadata, "RATE_LIMIT_EXCEEDED")
}

func TestStreamMessageUnknownSession(t *testing.T) {
	service := newTestService(newMemStore(), &fakeProvider{events: helloWorldScript()})
	sink := &collector{}

	err := service.StreamMessage(context.Background(), &StreamMessageRequest{
		UserID:     1,
		SessionUID: "missing",
		Content:    "Hi",
	}, sink)
	require.Error(t, err)
	assert.Equal(t, errors.ErrCodeNotFound, errors.CodeOf(err))
	assert.Empty(t, sink.types())
}

func TestStreamMessageOwnershipEnforced(t *testing.T) {
	memory := newMemStore()
	session, err := memory.CreateSession(context.Background(), &store.Session{
		UID:       "owned",
		CreatorID: 1,
		Status:    store.SessionActive,
	})
	require.NoError(t, err)
	_ = session

	service := newTestService(memory, &fakeProvider{events: helloWorldScript()})
	errStream := service.StreamMessage(context.Background(), &StreamMessageRequest{
		UserID:     2,
		SessionUID: "owned",
		Content:    "Hi",
	}, &collector{})
	require.Error(t, errStream)
	assert.Equal(t, errors.ErrCodeNotFound, errors.CodeOf(errStream))
}

func TestStreamMessageArchivedSessionRejected(t *testing.T) {
	memory := newMemStore()
	_, err := memory.CreateSession(context.Background(), &store.Session{
		UID:       "archived",
		CreatorID: 1,
		Status:    store.SessionArchived,
	})
	require.NoError(t, err)

	service := newTestService(memory, &fakeProvider{events: helloWorldScript()})
	errStream := service.StreamMessage(context.Background(), &StreamMessageRequest{
		UserID:     1,
		SessionUID: "archived",
		Content:    "Hi",
	}, &collector{})
	require.Error(t, errStream)
	assert.Equal(t, errors.ErrCodeConflict, errors.CodeOf(errStream))
}

func TestConcurrentStreamOnSessionConflicts(t *testing.T) {
	memory := newMemStore()
	_, err := memory.CreateSession(context.Background(), &store.Session{
		UID:       "busy",
		CreatorID: 1,
		Status:    store.SessionActive,
	})
	require.NoError(t, err)

	hold := make(chan struct{})
	started := make(chan struct{})
	provider := &fakeProvider{
		events:  []llm.Event{{Type: llm.EventContent, Content: "thinking"}},
		hold:    hold,
		started: started,
	}
	service := newTestService(memory, provider)

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		_ = service.StreamMessage(context.Background(), &StreamMessageRequest{
			UserID:     1,
			SessionUID: "busy",
			Content:    "first",
		}, &collector{})
	}()

	select {
	case <-started:
	case <-time.After(5 * time.Second):
		t.Fatal("first stream never reached the provider")
	}

	// While the first generation runs, exactly one message is in flight
	// and a second request is rejected.
	assert.Equal(t, 1, memory.generatingCount(1))
	errSecond := service.StreamMessage(context.Background(), &StreamMessageRequest{
		UserID:     1,
		SessionUID: "busy",
		Content:    "second",
	}, &collector{})
	require.Error(t, errSecond)
	assert.Equal(t, errors.ErrCodeConflict, errors.CodeOf(errSecond))

	close(hold)
	wg.Wait()
	assert.Equal(t, 0, memory.generatingCount(1))
}

func TestCancellationFinalizesPartialContent(t *testing.T) {
	memory := newMemStore()
	hold := make(chan struct{})
	defer close(hold)
	provider := &fakeProvider{
		events: []llm.Event{{Type: llm.EventContent, Content: "partial answer"}},
		hold:   hold,
	}
	service := newTestService(memory, provider)
	sink := &collector{}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- service.StreamMessage(ctx, &StreamMessageRequest{
			UserID:  1,
			Content: "Hi",
		}, sink)
	}()

	// Wait for the delta to arrive, then disconnect.
	require.Eventually(t, func() bool {
		types := sink.types()
		return len(types) > 0 && types[len(types)-1] == EventContentDelta
	}, 5*time.Second, 5*time.Millisecond)
	cancel()

	err := <-done
	require.Error(t, err)
	assert.Equal(t, errors.ErrCodeContextCanceled, errors.CodeOf(err))

	// The placeholder is finalized with the accumulated content rather
	// than left generating forever.
	sessionID := int32(1)
	messages, listErr := memory.ListMessages(context.Background(), &store.FindMessage{SessionID: &sessionID})
	require.NoError(t, listErr)
	require.Len(t, messages, 2)
	assert.Equal(t, store.MessageFailed, messages[1].Status)
	assert.Equal(t, "partial answer", messages[1].Content)
	assert.Equal(t, 0, memory.generatingCount(1))
}

func TestDisconnectAtMessageStartedFinalizesPlaceholder(t *testing.T) {
	memory := newMemStore()
	provider := &fakeProvider{events: helloWorldScript()}
	// Writes fail on a canceled context, as a real driver's would.
	service := newTestService(&cancelAwareStore{ChatStore: memory}, provider)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	sink := &disconnectSink{at: EventAIMessageStarted, cancel: cancel}

	err := service.StreamMessage(ctx, &StreamMessageRequest{
		UserID:  1,
		Content: "Hi",
	}, sink)
	require.Error(t, err)
	assert.Equal(t, errors.ErrCodeContextCanceled, errors.CodeOf(err))

	// The terminal write must land despite the canceled request
	// context: the placeholder ends failed, the user message stays.
	sessionID := int32(1)
	messages, listErr := memory.ListMessages(context.Background(), &store.FindMessage{SessionID: &sessionID})
	require.NoError(t, listErr)
	require.Len(t, messages, 2)
	assert.Equal(t, store.MessageCompleted, messages[0].Status)
	assert.Equal(t, store.MessageFailed, messages[1].Status)
	assert.Equal(t, 0, memory.generatingCount(1))
}

func TestRegenerateReusesMessage(t *testing.T) {
	memory := newMemStore()
	ctx := context.Background()
	session, err := memory.CreateSession(ctx, &store.Session{
		UID:       "s1",
		CreatorID: 1,
		Status:    store.SessionActive,
	})
	require.NoError(t, err)

	seed := []struct {
		uid     string
		role    store.MessageRole
		content string
	}{
		{"m1", store.MessageRoleUser, "first question"},
		{"m2", store.MessageRoleAssistant, "first answer"},
		{"m3", store.MessageRoleUser, "second question"},
		{"m4", store.MessageRoleAssistant, "old second answer"},
		{"m5", store.MessageRoleUser, "third question"},
	}
	base := time.Now().Unix()
	for i, m := range seed {
		message := &store.Message{
			UID:       m.uid,
			CreatorID: 1,
			SessionID: session.ID,
			Role:      m.role,
			Content:   m.content,
			Status:    store.MessageCompleted,
			CreatedTs: base + int64(i),
		}
		if m.role == store.MessageRoleAssistant {
			completedAt := base + int64(i)
			message.CompletedTs = &completedAt
		}
		_, err := memory.CreateMessage(ctx, message)
		require.NoError(t, err)
	}

	provider := &fakeProvider{events: []llm.Event{
		{Type: llm.EventContent, Content: "new second answer"},
		{Type: llm.EventCompletion, FinishReason: "stop"},
	}}
	service := newTestService(memory, provider)
	sink := &collector{}

	target, err := memory.GetMessage(ctx, &store.FindMessage{UID: strPtr("m4")})
	require.NoError(t, err)
	originalID := target.ID

	err = service.Regenerate(ctx, &RegenerateRequest{UserID: 1, MessageUID: "m4"}, sink)
	require.NoError(t, err)

	types := sink.types()
	assert.Equal(t, EventRegenerationStarted, types[0])
	assert.Equal(t, EventRegenerationCompleted, types[len(types)-1])

	// Identity is preserved; content is replaced and regeneratedAt set.
	regenerated, err := memory.GetMessage(ctx, &store.FindMessage{UID: strPtr("m4")})
	require.NoError(t, err)
	assert.Equal(t, originalID, regenerated.ID)
	assert.Equal(t, session.ID, regenerated.SessionID)
	assert.Equal(t, "new second answer", regenerated.Content)
	assert.Equal(t, store.MessageCompleted, regenerated.Status)
	require.NotNil(t, regenerated.RegeneratedTs)
	assert.Nil(t, regenerated.CompletedTs)

	// The rebuilt context stops strictly before the target.
	request := provider.lastRequest()
	require.Len(t, request.Messages, 3)
	assert.Equal(t, "first question", request.Messages[0].Content)
	assert.Equal(t, "first answer", request.Messages[1].Content)
	assert.Equal(t, "second question", request.Messages[2].Content)
}

func TestRegenerateRejectsUserMessage(t *testing.T) {
	memory := newMemStore()
	ctx := context.Background()
	session, err := memory.CreateSession(ctx, &store.Session{
		UID:       "s1",
		CreatorID: 1,
		Status:    store.SessionActive,
	})
	require.NoError(t, err)
	_, err = memory.CreateMessage(ctx, &store.Message{
		UID:       "u1",
		CreatorID: 1,
		SessionID: session.ID,
		Role:      store.MessageRoleUser,
		Status:    store.MessageCompleted,
	})
	require.NoError(t, err)

	service := newTestService(memory, &fakeProvider{})
	errRegen := service.Regenerate(ctx, &RegenerateRequest{UserID: 1, MessageUID: "u1"}, &collector{})
	require.Error(t, errRegen)
	assert.Equal(t, errors.ErrCodeInvalidArgument, errors.CodeOf(errRegen))
}

func TestStreamMessageSessionModelOverride(t *testing.T) {
	memory := newMemStore()
	temperature := float32(0.2)
	_, err := memory.CreateSession(context.Background(), &store.Session{
		UID:       "cfg",
		CreatorID: 1,
		Status:    store.SessionActive,
		Config: store.GenerationConfig{
			Model:       "claude-sonnet-4-5",
			Temperature: &temperature,
		},
	})
	require.NoError(t, err)

	provider := &fakeProvider{events: helloWorldScript()}
	service := newTestService(memory, provider)

	err = service.StreamMessage(context.Background(), &StreamMessageRequest{
		UserID:     1,
		SessionUID: "cfg",
		Content:    "Hi",
	}, &collector{})
	require.NoError(t, err)

	request := provider.lastRequest()
	assert.Equal(t, "claude-sonnet-4-5", request.Model)
	require.NotNil(t, request.Temperature)
	assert.Equal(t, float32(0.2), *request.Temperature)
}

func strPtr(s string) *string {
	return &s
}
