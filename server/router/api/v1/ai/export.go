package ai

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/hrygo/parley/server/internal/errors"
	"github.com/hrygo/parley/store"
)

// ExportFormat selects the serialization of an exported session.
type ExportFormat string

const (
	ExportJSON     ExportFormat = "json"
	ExportMarkdown ExportFormat = "markdown"
	ExportText     ExportFormat = "txt"
)

// Export is a serialized conversation plus the content type to serve it
// with.
type Export struct {
	Data        []byte
	ContentType string
	Filename    string
}

type exportedSession struct {
	Title     string            `json:"title"`
	CreatedAt string            `json:"createdAt"`
	Messages  []exportedMessage `json:"messages"`
}

type exportedMessage struct {
	Role      string `json:"role"`
	Content   string `json:"content"`
	Status    string `json:"status"`
	CreatedAt string `json:"createdAt"`
}

// ExportSession serializes a session's messages in the requested format.
// All messages are included, not just the context window; in-flight
// placeholders are skipped.
func (c *ChatService) ExportSession(ctx context.Context, userID int32, sessionUID string, format ExportFormat) (*Export, error) {
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

	exportable := make([]*store.Message, 0, len(messages))
	for _, m := range messages {
		if m.Status == store.MessageGenerating || m.Status == store.MessageRegenerating {
			continue
		}
		exportable = append(exportable, m)
	}

	switch format {
	case ExportJSON:
		return exportJSON(session, exportable)
	case ExportMarkdown:
		return exportMarkdown(session, exportable), nil
	case ExportText:
		return exportText(session, exportable), nil
	default:
		return nil, errors.InvalidArgument("unsupported export format: " + string(format))
	}
}

func exportJSON(session *store.Session, messages []*store.Message) (*Export, error) {
	out := exportedSession{
		Title:     session.Title,
		CreatedAt: formatTs(session.CreatedTs),
		Messages:  make([]exportedMessage, 0, len(messages)),
	}
	for _, m := range messages {
		out.Messages = append(out.Messages, exportedMessage{
			Role:      m.Role.String(),
			Content:   m.Content,
			Status:    m.Status.String(),
			CreatedAt: formatTs(m.CreatedTs),
		})
	}

	data, err := json.MarshalIndent(out, "", "  ")
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInvalidArgument, "failed to encode export")
	}
	return &Export{
		Data:        data,
		ContentType: "application/json",
		Filename:    session.UID + ".json",
	}, nil
}

func exportMarkdown(session *store.Session, messages []*store.Message) *Export {
	var sb strings.Builder
	sb.WriteString("# " + session.Title + "\n\n")
	for _, m := range messages {
		switch m.Role {
		case store.MessageRoleUser:
			sb.WriteString("**User**")
		case store.MessageRoleAssistant:
			sb.WriteString("**Assistant**")
		default:
			sb.WriteString("**System**")
		}
		sb.WriteString(" (" + formatTs(m.CreatedTs) + ")\n\n")
		sb.WriteString(m.Content)
		sb.WriteString("\n\n---\n\n")
	}
	return &Export{
		Data:        []byte(sb.String()),
		ContentType: "text/markdown; charset=utf-8",
		Filename:    session.UID + ".md",
	}
}

func exportText(session *store.Session, messages []*store.Message) *Export {
	var sb strings.Builder
	sb.WriteString(session.Title + "\n\n")
	for _, m := range messages {
		sb.WriteString(strings.ToLower(m.Role.String()) + ": " + m.Content + "\n\n")
	}
	return &Export{
		Data:        []byte(sb.String()),
		ContentType: "text/plain; charset=utf-8",
		Filename:    session.UID + ".txt",
	}
}

func formatTs(ts int64) string {
	return time.Unix(ts, 0).UTC().Format(time.RFC3339)
}
