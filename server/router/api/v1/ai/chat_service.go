package ai

import (
	"context"
	"encoding/json"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/lithammer/shortuuid/v4"

	"github.com/hrygo/parley/plugin/llm"
	"github.com/hrygo/parley/server/internal/errors"
	"github.com/hrygo/parley/server/internal/observability"
	"github.com/hrygo/parley/store"
)

// ChatStore is the slice of the store the orchestrator needs. Ownership
// is enforced by the store itself through (id, creator) pairs.
type ChatStore interface {
	CreateSession(ctx context.Context, create *store.Session) (*store.Session, error)
	GetSession(ctx context.Context, find *store.FindSession) (*store.Session, error)
	UpdateSession(ctx context.Context, update *store.UpdateSession) (*store.Session, error)
	CreateMessage(ctx context.Context, create *store.Message) (*store.Message, error)
	GetMessage(ctx context.Context, find *store.FindMessage) (*store.Message, error)
	ListMessages(ctx context.Context, find *store.FindMessage) ([]*store.Message, error)
	UpdateMessage(ctx context.Context, update *store.UpdateMessage) (*store.Message, error)
	GetAttachment(ctx context.Context, find *store.FindAttachment) (*store.Attachment, error)
}

// ChatService drives one streamed exchange end to end: resolve or create
// the session, persist the user turn, create the assistant placeholder,
// relay provider deltas to the caller, and commit exactly one finalize
// write per exchange. Intermediate deltas live only in memory.
type ChatService struct {
	store             ChatStore
	gateway           *llm.Gateway
	contextBuilder    *ContextBuilder
	bridge            *AttachmentBridge
	defaultModel      string
	moderationEnabled bool

	mu       sync.Mutex
	inflight map[int32]struct{} // session ids with a running generation
}

type ChatServiceConfig struct {
	Store             ChatStore
	Gateway           *llm.Gateway
	ContextWindow     int
	SystemPrompt      string
	DefaultModel      string
	ModerationEnabled bool
}

func NewChatService(cfg ChatServiceConfig) *ChatService {
	return &ChatService{
		store:             cfg.Store,
		gateway:           cfg.Gateway,
		contextBuilder:    NewContextBuilder(cfg.ContextWindow, cfg.SystemPrompt),
		bridge:            NewAttachmentBridge(cfg.Store),
		defaultModel:      cfg.DefaultModel,
		moderationEnabled: cfg.ModerationEnabled,
		inflight:          make(map[int32]struct{}),
	}
}

// StreamMessageRequest starts one exchange. An empty SessionUID creates
// a new session implicitly; Model overrides the session's configured
// model for this exchange only.
type StreamMessageRequest struct {
	UserID      int32
	SessionUID  string
	Content     string
	Attachments []string
	Model       string
}

type RegenerateRequest struct {
	UserID     int32
	MessageUID string
}

// StreamMessage runs the full exchange. Pre-stream failures (validation,
// conflict, moderation) are returned without any event; once events have
// been emitted, failures additionally surface as a terminal error event.
// The persisted user message is never rolled back.
func (c *ChatService) StreamMessage(ctx context.Context, request *StreamMessageRequest, stream EventStream) error {
	logger := observability.NewRequestContext(slog.Default(), request.UserID)
	logger.Info("chat stream started",
		slog.Int(observability.LogFieldMessageLen, len(request.Content)),
		slog.String(observability.LogFieldSessionUID, request.SessionUID),
	)

	if c.moderationEnabled && request.Content != "" {
		result, err := c.gateway.Moderate(ctx, request.Content)
		if err != nil {
			// Moderation outages do not block the chat.
			logger.Warn("moderation check failed", slog.String("error", err.Error()))
		} else if result.Flagged {
			return errors.InvalidArgument("message content violates the content policy")
		}
	}

	session, created, err := c.resolveSession(ctx, request)
	if err != nil {
		return err
	}

	if !c.acquire(session.ID) {
		return errors.Conflict("a generation is already running on this session")
	}
	defer c.release(session.ID)

	if created {
		if err := stream.Send(sessionEvent(EventSessionCreated, session)); err != nil {
			return errors.ContextCanceled(err)
		}
	}

	now := time.Now().Unix()
	userMessage, err := c.store.CreateMessage(ctx, &store.Message{
		UID:         shortuuid.New(),
		CreatorID:   request.UserID,
		SessionID:   session.ID,
		Role:        store.MessageRoleUser,
		Content:     request.Content,
		Status:      store.MessageCompleted,
		Attachments: request.Attachments,
		CreatedTs:   now,
		UpdatedTs:   now,
	})
	if err != nil {
		return errors.StorageError("failed to persist user message", err)
	}
	if err := stream.Send(messageEvent(EventUserMessageCreated, userMessage, session.UID)); err != nil {
		return errors.ContextCanceled(err)
	}

	// The user message is committed before the context read so the
	// provider sees it even when history is re-read from the store.
	fragments := c.bridge.Resolve(ctx, request.Attachments, request.UserID)
	history, err := c.store.ListMessages(ctx, &store.FindMessage{
		SessionID: &session.ID,
		CreatorID: &request.UserID,
	})
	if err != nil {
		return errors.StorageError("failed to load session history", err)
	}
	providerMessages := c.contextBuilder.Build(history, fragments)

	placeholder, err := c.store.CreateMessage(ctx, &store.Message{
		UID:       shortuuid.New(),
		CreatorID: request.UserID,
		SessionID: session.ID,
		Role:      store.MessageRoleAssistant,
		Content:   "",
		Status:    store.MessageGenerating,
		ParentUID: userMessage.UID,
		CreatedTs: now,
		UpdatedTs: now,
	})
	if err != nil {
		return errors.StorageError("failed to create assistant placeholder", err)
	}
	if err := stream.Send(messageEvent(EventAIMessageStarted, placeholder, session.UID)); err != nil {
		c.finalizeFailure(ctx, placeholder, "", errors.ContextCanceled(err))
		return errors.ContextCanceled(err)
	}

	return c.generate(ctx, logger, stream, session, placeholder, providerMessages, request.Model, false)
}

// Regenerate reruns generation for an existing assistant message, reusing
// its id. The context is rebuilt from the turns strictly before the
// target in creation order; the prior content is discarded.
func (c *ChatService) Regenerate(ctx context.Context, request *RegenerateRequest, stream EventStream) error {
	logger := observability.NewRequestContext(slog.Default(), request.UserID)
	logger.Info("regeneration started", slog.String(observability.LogFieldMessageUID, request.MessageUID))

	message, err := c.store.GetMessage(ctx, &store.FindMessage{
		UID:       &request.MessageUID,
		CreatorID: &request.UserID,
	})
	if err != nil {
		return errors.StorageError("failed to load message", err)
	}
	if message == nil {
		return errors.NotFound("message not found")
	}
	if message.Role != store.MessageRoleAssistant {
		return errors.InvalidArgument("only assistant messages can be regenerated")
	}

	session, err := c.store.GetSession(ctx, &store.FindSession{
		ID:             &message.SessionID,
		CreatorID:      &request.UserID,
		ExcludeDeleted: true,
	})
	if err != nil {
		return errors.StorageError("failed to load session", err)
	}
	if session == nil {
		return errors.NotFound("session not found")
	}
	if session.Status != store.SessionActive {
		return errors.Conflict("session is not active")
	}

	if !c.acquire(session.ID) {
		return errors.Conflict("a generation is already running on this session")
	}
	defer c.release(session.ID)

	history, err := c.store.ListMessages(ctx, &store.FindMessage{
		SessionID: &session.ID,
		CreatorID: &request.UserID,
	})
	if err != nil {
		return errors.StorageError("failed to load session history", err)
	}

	// Reverse scan for the target; everything strictly before it in
	// creation order feeds the rebuilt context.
	cutoff := -1
	for i := len(history) - 1; i >= 0; i-- {
		if history[i].ID == message.ID {
			cutoff = i
			break
		}
	}
	if cutoff < 0 {
		return errors.NotFound("message not found in session history")
	}
	providerMessages := c.contextBuilder.Build(history[:cutoff], nil)

	now := time.Now().Unix()
	emptyContent := ""
	regenerating := store.MessageRegenerating
	message, err = c.store.UpdateMessage(ctx, &store.UpdateMessage{
		ID:               message.ID,
		CreatorID:        request.UserID,
		Content:          &emptyContent,
		Status:           &regenerating,
		UpdatedTs:        &now,
		ClearCompletedTs: true,
	})
	if err != nil {
		return errors.StorageError("failed to mark message regenerating", err)
	}
	if err := stream.Send(messageEvent(EventRegenerationStarted, message, session.UID)); err != nil {
		c.finalizeFailure(ctx, message, "", errors.ContextCanceled(err))
		return errors.ContextCanceled(err)
	}

	return c.generate(ctx, logger, stream, session, message, providerMessages, "", true)
}

func (c *ChatService) resolveSession(ctx context.Context, request *StreamMessageRequest) (*store.Session, bool, error) {
	if request.SessionUID != "" {
		session, err := c.store.GetSession(ctx, &store.FindSession{
			UID:            &request.SessionUID,
			CreatorID:      &request.UserID,
			ExcludeDeleted: true,
		})
		if err != nil {
			return nil, false, errors.StorageError("failed to load session", err)
		}
		if session == nil {
			return nil, false, errors.NotFound("session not found")
		}
		if session.Status != store.SessionActive {
			return nil, false, errors.Conflict("session is not active")
		}
		return session, false, nil
	}

	now := time.Now().Unix()
	session, err := c.store.CreateSession(ctx, &store.Session{
		UID:            shortuuid.New(),
		CreatorID:      request.UserID,
		Title:          DeriveTitle(request.Content),
		Status:         store.SessionActive,
		Config:         store.GenerationConfig{Model: c.defaultModel},
		CreatedTs:      now,
		UpdatedTs:      now,
		LastActivityTs: now,
	})
	if err != nil {
		return nil, false, errors.StorageError("failed to create session", err)
	}
	return session, true, nil
}

// generate drives the provider stream and performs the single terminal
// write. Caller disconnects finalize with whatever content accumulated
// so the placeholder never stays stuck in a generating state.
func (c *ChatService) generate(
	ctx context.Context,
	logger *observability.RequestContext,
	stream EventStream,
	session *store.Session,
	message *store.Message,
	providerMessages []llm.Message,
	modelOverride string,
	regenerating bool,
) error {
	model := modelOverride
	if model == "" {
		model = session.Config.Model
	}
	if model == "" {
		model = c.defaultModel
	}

	request := llm.CompletionRequest{
		Messages:         providerMessages,
		Model:            model,
		MaxTokens:        session.Config.MaxTokens,
		Temperature:      session.Config.Temperature,
		TopP:             session.Config.TopP,
		FrequencyPenalty: session.Config.FrequencyPenalty,
		PresencePenalty:  session.Config.PresencePenalty,
		TopK:             session.Config.TopK,
	}

	events, err := c.gateway.StreamCompletion(ctx, request)
	if err != nil {
		chatErr := errors.ProviderError("failed to start generation", err)
		c.finalizeFailure(ctx, message, "", chatErr)
		_ = stream.Send(errorEvent(chatErr))
		return chatErr
	}

	var buffer strings.Builder
	var calls []store.FunctionCall
	for {
		select {
		case event, ok := <-events:
			if !ok {
				// Cancellation can close the channel before the Done
				// branch is observed.
				if ctx.Err() != nil {
					return c.finishCanceled(ctx, logger, message, buffer.String(), ctx.Err())
				}
				// Stream ended without a terminal event; commit what
				// arrived as a normal completion.
				return c.finishSuccess(ctx, logger, stream, session, message, buffer.String(), calls, regenerating)
			}
			switch event.Type {
			case llm.EventContent:
				buffer.WriteString(event.Content)
				if err := stream.Send(deltaEvent(event.Content)); err != nil {
					return c.finishCanceled(ctx, logger, message, buffer.String(), err)
				}
			case llm.EventFunctionCall:
				calls = appendFunctionCall(calls, event.FunctionName, event.FunctionArgs)
				if err := stream.Send(functionCallEvent(event.FunctionName, event.FunctionArgs)); err != nil {
					return c.finishCanceled(ctx, logger, message, buffer.String(), err)
				}
			case llm.EventCompletion:
				return c.finishSuccess(ctx, logger, stream, session, message, buffer.String(), calls, regenerating)
			case llm.EventError:
				chatErr := providerEventError(event)
				c.finalizeFailure(ctx, message, buffer.String(), chatErr)
				_ = stream.Send(errorEvent(chatErr))
				logger.Warn("generation failed",
					slog.String(observability.LogFieldErrorCode, string(chatErr.Code)),
					slog.String(observability.LogFieldMessageUID, message.UID),
				)
				return chatErr
			}
		case <-ctx.Done():
			return c.finishCanceled(ctx, logger, message, buffer.String(), ctx.Err())
		}
	}
}

func (c *ChatService) finishSuccess(
	ctx context.Context,
	logger *observability.RequestContext,
	stream EventStream,
	session *store.Session,
	message *store.Message,
	content string,
	calls []store.FunctionCall,
	regenerating bool,
) error {
	now := time.Now().Unix()
	completed := store.MessageCompleted
	update := &store.UpdateMessage{
		ID:        message.ID,
		CreatorID: message.CreatorID,
		Content:   &content,
		Status:    &completed,
		UpdatedTs: &now,
	}
	if regenerating {
		update.RegeneratedTs = &now
	} else {
		update.CompletedTs = &now
	}
	if len(calls) > 0 {
		update.FunctionCalls = &calls
	}

	finalized, err := c.store.UpdateMessage(ctx, update)
	if err != nil {
		chatErr := errors.StorageError("failed to finalize message", err)
		_ = stream.Send(errorEvent(chatErr))
		return chatErr
	}

	sessionUpdate := &store.UpdateSession{
		ID:             session.ID,
		CreatorID:      session.CreatorID,
		LastActivityTs: &now,
		UpdatedTs:      &now,
	}
	if !regenerating {
		count := session.MessageCount + 2 // user turn + assistant turn
		sessionUpdate.MessageCount = &count
	}
	if _, err := c.store.UpdateSession(ctx, sessionUpdate); err != nil {
		// The message committed; a failed activity bump is not fatal.
		logger.Warn("failed to update session activity", slog.String("error", err.Error()))
	}

	eventType := EventAIMessageCompleted
	if regenerating {
		eventType = EventRegenerationCompleted
	}
	if err := stream.Send(messageEvent(eventType, finalized, session.UID)); err != nil {
		return errors.ContextCanceled(err)
	}

	logger.Info("generation completed",
		slog.String(observability.LogFieldMessageUID, finalized.UID),
		slog.Int(observability.LogFieldMessageLen, len(content)),
		slog.Int64(observability.LogFieldDuration, logger.DurationMs()),
	)
	return nil
}

// finishCanceled handles a caller disconnect mid-stream: the accumulated
// partial content is committed with a failed status.
func (c *ChatService) finishCanceled(ctx context.Context, logger *observability.RequestContext, message *store.Message, partial string, cause error) error {
	chatErr := errors.ContextCanceled(cause)
	c.finalizeFailure(ctx, message, partial, chatErr)
	logger.Info("generation canceled by caller",
		slog.String(observability.LogFieldMessageUID, message.UID),
		slog.Int(observability.LogFieldMessageLen, len(partial)),
	)
	return chatErr
}

// finalizeFailure is the terminal write for the failure paths. The
// partial content is preserved and the error detail lands in metadata.
// The write runs on a detached context: failure paths are usually
// reached because the caller context is already canceled, and the
// message must still leave its generating state.
func (c *ChatService) finalizeFailure(ctx context.Context, message *store.Message, partial string, chatErr *errors.ChatError) {
	ctx = context.WithoutCancel(ctx)
	now := time.Now().Unix()
	failed := store.MessageFailed
	metadata := failureMetadata(chatErr)
	if _, err := c.store.UpdateMessage(ctx, &store.UpdateMessage{
		ID:        message.ID,
		CreatorID: message.CreatorID,
		Content:   &partial,
		Status:    &failed,
		Metadata:  &metadata,
		UpdatedTs: &now,
	}); err != nil {
		slog.Error("failed to finalize failed message",
			slog.String(observability.LogFieldMessageUID, message.UID),
			slog.String("error", err.Error()),
		)
	}
}

func failureMetadata(chatErr *errors.ChatError) string {
	payload, err := json.Marshal(map[string]string{
		"errorCode":    string(chatErr.Code),
		"errorMessage": chatErr.Message,
	})
	if err != nil {
		return "{}"
	}
	return string(payload)
}

func providerEventError(event llm.Event) *errors.ChatError {
	switch event.ErrKind {
	case llm.ErrRateLimited:
		return errors.RateLimitExceeded(event.ErrMessage)
	case llm.ErrTimeout:
		return errors.Timeout(event.ErrMessage)
	default:
		return errors.ProviderError(event.ErrMessage, nil)
	}
}

// appendFunctionCall merges argument fragments into the current call
// when the provider streams them incrementally.
func appendFunctionCall(calls []store.FunctionCall, name, args string) []store.FunctionCall {
	if len(calls) > 0 && (name == "" || calls[len(calls)-1].Name == name) {
		calls[len(calls)-1].Arguments += args
		return calls
	}
	return append(calls, store.FunctionCall{Name: name, Arguments: args})
}

func (c *ChatService) acquire(sessionID int32) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, running := c.inflight[sessionID]; running {
		return false
	}
	c.inflight[sessionID] = struct{}{}
	return true
}

func (c *ChatService) release(sessionID int32) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.inflight, sessionID)
}
