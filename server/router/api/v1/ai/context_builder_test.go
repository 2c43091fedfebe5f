package ai

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hrygo/parley/plugin/llm"
	"github.com/hrygo/parley/store"
)

func completedMessage(role store.MessageRole, content string) *store.Message {
	return &store.Message{Role: role, Content: content, Status: store.MessageCompleted}
}

func TestBuildExcludesNonCompletedMessages(t *testing.T) {
	builder := NewContextBuilder(0, "")
	messages := []*store.Message{
		completedMessage(store.MessageRoleUser, "a"),
		{Role: store.MessageRoleAssistant, Content: "", Status: store.MessageGenerating},
		completedMessage(store.MessageRoleUser, "b"),
		{Role: store.MessageRoleAssistant, Content: "half", Status: store.MessageFailed},
		{Role: store.MessageRoleAssistant, Content: "", Status: store.MessageRegenerating},
	}

	result := builder.Build(messages, nil)
	require.Len(t, result, 2)
	assert.Equal(t, llm.Message{Role: llm.RoleUser, Content: "a"}, result[0])
	assert.Equal(t, llm.Message{Role: llm.RoleUser, Content: "b"}, result[1])
}

func TestBuildCapsWindowKeepingNewest(t *testing.T) {
	builder := NewContextBuilder(10, "")
	messages := make([]*store.Message, 0, 30)
	for i := 0; i < 30; i++ {
		messages = append(messages, completedMessage(store.MessageRoleUser, fmt.Sprintf("turn %d", i)))
	}

	result := builder.Build(messages, nil)
	require.Len(t, result, 10)
	assert.Equal(t, "turn 20", result[0].Content)
	assert.Equal(t, "turn 29", result[9].Content)
}

func TestBuildPrependsSystemPrompt(t *testing.T) {
	builder := NewContextBuilder(0, "You are terse.")
	result := builder.Build([]*store.Message{completedMessage(store.MessageRoleUser, "hi")}, nil)

	require.Len(t, result, 2)
	assert.Equal(t, llm.RoleSystem, result[0].Role)
	assert.Equal(t, "You are terse.", result[0].Content)
	assert.Equal(t, llm.RoleUser, result[1].Role)
}

func TestBuildSystemPromptDoesNotConsumeWindow(t *testing.T) {
	builder := NewContextBuilder(2, "prompt")
	messages := []*store.Message{
		completedMessage(store.MessageRoleUser, "one"),
		completedMessage(store.MessageRoleAssistant, "two"),
		completedMessage(store.MessageRoleUser, "three"),
	}

	result := builder.Build(messages, nil)
	require.Len(t, result, 3)
	assert.Equal(t, llm.RoleSystem, result[0].Role)
	assert.Equal(t, "two", result[1].Content)
	assert.Equal(t, "three", result[2].Content)
}

func TestBuildInlinesAttachmentsIntoLastUserTurn(t *testing.T) {
	builder := NewContextBuilder(0, "")
	messages := []*store.Message{
		completedMessage(store.MessageRoleUser, "earlier question"),
		completedMessage(store.MessageRoleAssistant, "earlier answer"),
		completedMessage(store.MessageRoleUser, "see attached"),
		completedMessage(store.MessageRoleAssistant, "looking"),
	}

	result := builder.Build(messages, []string{"[Image attached: cat.png]"})
	require.Len(t, result, 4)
	assert.Equal(t, "earlier question", result[0].Content)
	assert.Equal(t, "see attached\n\n[Image attached: cat.png]", result[2].Content)
	assert.Equal(t, "looking", result[3].Content)
}

func TestBuildRoleMapping(t *testing.T) {
	builder := NewContextBuilder(0, "")
	messages := []*store.Message{
		completedMessage(store.MessageRoleSystem, "s"),
		completedMessage(store.MessageRoleUser, "u"),
		completedMessage(store.MessageRoleAssistant, "a"),
	}

	result := builder.Build(messages, nil)
	require.Len(t, result, 3)
	assert.Equal(t, llm.RoleSystem, result[0].Role)
	assert.Equal(t, llm.RoleUser, result[1].Role)
	assert.Equal(t, llm.RoleAssistant, result[2].Role)
}
