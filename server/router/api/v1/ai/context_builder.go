package ai

import (
	"strings"

	"github.com/hrygo/parley/plugin/llm"
	"github.com/hrygo/parley/store"
)

// DefaultContextWindow bounds how many prior turns one provider call sees.
const DefaultContextWindow = 50

// ContextBuilder assembles the provider input from a session's stored
// messages: completed turns only, in creation order, capped at the
// window, with the system prompt prepended and attachment fragments
// inlined into the last user turn.
type ContextBuilder struct {
	window       int
	systemPrompt string
}

func NewContextBuilder(window int, systemPrompt string) *ContextBuilder {
	if window <= 0 {
		window = DefaultContextWindow
	}
	return &ContextBuilder{window: window, systemPrompt: systemPrompt}
}

// Build converts stored messages into the ordered provider message list.
// Messages must already be in creation order; in-flight and failed turns
// are excluded so the model never sees partial content.
func (b *ContextBuilder) Build(messages []*store.Message, attachmentFragments []string) []llm.Message {
	completed := make([]llm.Message, 0, len(messages))
	for _, m := range messages {
		if m.Status != store.MessageCompleted {
			continue
		}
		completed = append(completed, llm.Message{
			Role:    roleToProvider(m.Role),
			Content: m.Content,
		})
	}

	if len(completed) > b.window {
		completed = completed[len(completed)-b.window:]
	}

	if len(attachmentFragments) > 0 {
		for i := len(completed) - 1; i >= 0; i-- {
			if completed[i].Role != llm.RoleUser {
				continue
			}
			var sb strings.Builder
			sb.WriteString(completed[i].Content)
			for _, fragment := range attachmentFragments {
				sb.WriteString("\n\n")
				sb.WriteString(fragment)
			}
			completed[i].Content = sb.String()
			break
		}
	}

	if b.systemPrompt == "" {
		return completed
	}
	result := make([]llm.Message, 0, len(completed)+1)
	result = append(result, llm.Message{Role: llm.RoleSystem, Content: b.systemPrompt})
	return append(result, completed...)
}

func roleToProvider(role store.MessageRole) string {
	switch role {
	case store.MessageRoleAssistant:
		return llm.RoleAssistant
	case store.MessageRoleSystem:
		return llm.RoleSystem
	default:
		return llm.RoleUser
	}
}
