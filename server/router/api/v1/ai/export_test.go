package ai

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hrygo/parley/server/internal/errors"
	"github.com/hrygo/parley/store"
)

func seedExportSession(t *testing.T) (*memStore, *ChatService) {
	t.Helper()
	memory := newMemStore()
	ctx := context.Background()
	session, err := memory.CreateSession(ctx, &store.Session{
		UID:       "exp",
		CreatorID: 1,
		Title:     "Export me",
		Status:    store.SessionActive,
	})
	require.NoError(t, err)

	turns := []struct {
		role    store.MessageRole
		content string
		status  store.MessageStatus
	}{
		{store.MessageRoleUser, "question", store.MessageCompleted},
		{store.MessageRoleAssistant, "answer", store.MessageCompleted},
		{store.MessageRoleAssistant, "", store.MessageGenerating},
	}
	for i, turn := range turns {
		_, err := memory.CreateMessage(ctx, &store.Message{
			UID:       turn.content + "-uid",
			CreatorID: 1,
			SessionID: session.ID,
			Role:      turn.role,
			Content:   turn.content,
			Status:    turn.status,
			CreatedTs: int64(i),
		})
		require.NoError(t, err)
	}

	return memory, newTestService(memory, &fakeProvider{})
}

func TestExportSessionJSON(t *testing.T) {
	_, service := seedExportSession(t)

	export, err := service.ExportSession(context.Background(), 1, "exp", ExportJSON)
	require.NoError(t, err)
	assert.Equal(t, "application/json", export.ContentType)
	assert.Equal(t, "exp.json", export.Filename)

	var decoded exportedSession
	require.NoError(t, json.Unmarshal(export.Data, &decoded))
	assert.Equal(t, "Export me", decoded.Title)
	// The in-flight placeholder is excluded.
	require.Len(t, decoded.Messages, 2)
	assert.Equal(t, "question", decoded.Messages[0].Content)
	assert.Equal(t, "answer", decoded.Messages[1].Content)
}

func TestExportSessionMarkdown(t *testing.T) {
	_, service := seedExportSession(t)

	export, err := service.ExportSession(context.Background(), 1, "exp", ExportMarkdown)
	require.NoError(t, err)
	content := string(export.Data)
	assert.Contains(t, content, "# Export me")
	assert.Contains(t, content, "**User**")
	assert.Contains(t, content, "**Assistant**")
	assert.Contains(t, content, "question")
}

func TestExportSessionText(t *testing.T) {
	_, service := seedExportSession(t)

	export, err := service.ExportSession(context.Background(), 1, "exp", ExportText)
	require.NoError(t, err)
	content := string(export.Data)
	assert.Contains(t, content, "user: question")
	assert.Contains(t, content, "assistant: answer")
}

func TestExportSessionUnknownFormat(t *testing.T) {
	_, service := seedExportSession(t)

	_, err := service.ExportSession(context.Background(), 1, "exp", ExportFormat("xml"))
	require.Error(t, err)
	assert.Equal(t, errors.ErrCodeInvalidArgument, errors.CodeOf(err))
}

func TestExportSessionNotFound(t *testing.T) {
	_, service := seedExportSession(t)

	_, err := service.ExportSession(context.Background(), 2, "exp", ExportJSON)
	require.Error(t, err)
	assert.Equal(t, errors.ErrCodeNotFound, errors.CodeOf(err))
}
