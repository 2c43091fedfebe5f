package ai

import (
	"context"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apierrors "github.com/hrygo/parley/server/internal/errors"
	"github.com/hrygo/parley/store"
)

func seedConversation(t *testing.T, memory *memStore) *store.Session {
	t.Helper()
	ctx := context.Background()
	session, err := memory.CreateSession(ctx, &store.Session{
		UID:       "s1",
		CreatorID: 1,
		Status:    store.SessionActive,
	})
	require.NoError(t, err)

	base := time.Now().Unix()
	turns := []struct {
		uid     string
		role    store.MessageRole
		content string
	}{
		{"m1", store.MessageRoleUser, "how do goroutines work?"},
		{"m2", store.MessageRoleAssistant, "they are lightweight threads managed by the runtime"},
	}
	for i, m := range turns {
		_, err := memory.CreateMessage(ctx, &store.Message{
			UID:       m.uid,
			CreatorID: 1,
			SessionID: session.ID,
			Role:      m.role,
			Content:   m.content,
			Status:    store.MessageCompleted,
			CreatedTs: base + int64(i),
		})
		require.NoError(t, err)
	}
	return session
}

func TestSuggestParsesProviderOutput(t *testing.T) {
	memory := newMemStore()
	provider := &fakeProvider{
		completeText: "1. What are channels used for in Go?\n2. How does the scheduler pick a goroutine?",
	}
	service := newTestService(memory, provider)
	seedConversation(t, memory)

	suggestions, err := service.Suggest(context.Background(), 1, "s1")
	require.NoError(t, err)
	assert.Equal(t, []string{
		"What are channels used for in Go?",
		"How does the scheduler pick a goroutine?",
	}, suggestions)
}

func TestSuggestFallsBackOnProviderFailure(t *testing.T) {
	memory := newMemStore()
	provider := &fakeProvider{completeErr: errors.New("provider down")}
	service := newTestService(memory, provider)
	seedConversation(t, memory)

	suggestions, err := service.Suggest(context.Background(), 1, "s1")
	require.NoError(t, err)
	assert.Equal(t, defaultSuggestions, suggestions)
}

func TestSuggestFallsBackOnEmptyOutput(t *testing.T) {
	memory := newMemStore()
	provider := &fakeProvider{completeText: "short"}
	service := newTestService(memory, provider)
	seedConversation(t, memory)

	suggestions, err := service.Suggest(context.Background(), 1, "s1")
	require.NoError(t, err)
	assert.Equal(t, defaultSuggestions, suggestions)
}

func TestSuggestUnknownSession(t *testing.T) {
	memory := newMemStore()
	service := newTestService(memory, &fakeProvider{})

	_, err := service.Suggest(context.Background(), 1, "missing")
	require.Error(t, err)
	assert.Equal(t, apierrors.ErrCodeNotFound, apierrors.CodeOf(err))
}

func TestSummarizeTruncatesToMaxLen(t *testing.T) {
	memory := newMemStore()
	provider := &fakeProvider{
		completeText: "A long summary of the whole conversation about goroutines.",
	}
	service := newTestService(memory, provider)
	seedConversation(t, memory)

	summary, err := service.Summarize(context.Background(), 1, "s1", 12)
	require.NoError(t, err)
	assert.Equal(t, "A long summa", summary)
}

func TestSummarizeOwnershipHidesSession(t *testing.T) {
	memory := newMemStore()
	service := newTestService(memory, &fakeProvider{})
	seedConversation(t, memory)

	_, err := service.Summarize(context.Background(), 2, "s1", 100)
	require.Error(t, err)
	assert.Equal(t, apierrors.ErrCodeNotFound, apierrors.CodeOf(err))
}
