package ai

import (
	"context"
	"log/slog"

	"github.com/hrygo/parley/plugin/llm"
	"github.com/hrygo/parley/server/internal/errors"
	"github.com/hrygo/parley/store"
)

// defaultSuggestions are served when the provider is unavailable or
// returns nothing usable. Suggestions are a convenience, not worth a
// failed response.
var defaultSuggestions = []string{
	"Can you explain that in more detail?",
	"What are the alternatives to this approach?",
	"Can you give me a concrete example?",
}

// Suggest proposes follow-up prompts for a session based on its
// completed turns.
func (c *ChatService) Suggest(ctx context.Context, userID int32, sessionUID string) ([]string, error) {
	history, err := c.loadHistory(ctx, userID, sessionUID)
	if err != nil {
		return nil, err
	}
	suggestions, gerr := c.gateway.Suggest(ctx, history, "")
	if gerr != nil || len(suggestions) == 0 {
		if gerr != nil {
			slog.Warn("suggestion generation failed, serving defaults", "session", sessionUID, "error", gerr)
		}
		return defaultSuggestions, nil
	}
	return suggestions, nil
}

// Summarize condenses a session's conversation to at most maxLen
// characters.
func (c *ChatService) Summarize(ctx context.Context, userID int32, sessionUID string, maxLen int) (string, error) {
	history, err := c.loadHistory(ctx, userID, sessionUID)
	if err != nil {
		return "", err
	}
	summary, err := c.gateway.Summarize(ctx, history, maxLen)
	if err != nil {
		return "", errors.Wrap(err, errors.ErrCodeProviderError, "failed to summarize conversation")
	}
	return summary, nil
}

// ModelCatalog lists the model names known to the registry. The registry
// is fail-open, so this is informational rather than a validation list.
func (c *ChatService) ModelCatalog() []string {
	return c.gateway.Registry().Models()
}

func (c *ChatService) loadHistory(ctx context.Context, userID int32, sessionUID string) ([]llm.Message, error) {
	session, err := c.store.GetSession(ctx, &store.FindSession{
		UID:            &sessionUID,
		CreatorID:      &userID,
		ExcludeDeleted: true,
	})
	if err != nil {
		return nil, errors.StorageError("failed to load session", err)
	}
	if session == nil {
		return nil, errors.NotFound("session not found")
	}

	messages, err := c.store.ListMessages(ctx, &store.FindMessage{
		SessionID: &session.ID,
		CreatorID: &userID,
	})
	if err != nil {
		return nil, errors.StorageError("failed to load session history", err)
	}
	return c.contextBuilder.Build(messages, nil), nil
}
