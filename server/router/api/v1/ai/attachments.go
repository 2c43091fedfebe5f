package ai

import (
	"context"
	"log/slog"
	"strings"

	"github.com/hrygo/parley/store"
)

// AttachmentStore is the slice of the store the bridge needs.
type AttachmentStore interface {
	GetAttachment(ctx context.Context, find *store.FindAttachment) (*store.Attachment, error)
}

// AttachmentBridge resolves attachment references into text fragments
// that ride along with the triggering user turn. Resolution failures are
// skipped, never fatal: a missing attachment must not block the chat.
type AttachmentBridge struct {
	store AttachmentStore
}

func NewAttachmentBridge(attachmentStore AttachmentStore) *AttachmentBridge {
	return &AttachmentBridge{store: attachmentStore}
}

// Resolve maps attachment UIDs to descriptive fragments, preserving the
// request order of the UIDs that resolve.
func (b *AttachmentBridge) Resolve(ctx context.Context, uids []string, userID int32) []string {
	fragments := make([]string, 0, len(uids))
	for _, uid := range uids {
		uid := uid
		attachment, err := b.store.GetAttachment(ctx, &store.FindAttachment{UID: &uid, CreatorID: &userID})
		if err != nil {
			slog.Warn("failed to resolve attachment", "uid", uid, "error", err)
			continue
		}
		if attachment == nil {
			slog.Warn("attachment not found, skipping", "uid", uid)
			continue
		}
		fragments = append(fragments, renderAttachment(attachment))
	}
	return fragments
}

// renderAttachment formats one attachment by content type. Text-like
// attachments are inlined in full; binary kinds become a one-line marker.
func renderAttachment(attachment *store.Attachment) string {
	contentType := strings.ToLower(attachment.ContentType)
	switch {
	case strings.HasPrefix(contentType, "image/"):
		return "[Image attached: " + attachment.Filename + "]"
	case strings.HasPrefix(contentType, "text/"), contentType == "application/json":
		return "[File: " + attachment.Filename + "]\n" + attachment.TextContent + "\n[End of file]"
	case contentType == "application/pdf":
		return "[PDF attached: " + attachment.Filename + "]"
	default:
		return "[File attached: " + attachment.Filename + " (" + attachment.ContentType + ")]"
	}
}
