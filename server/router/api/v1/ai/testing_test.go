package ai

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/hrygo/parley/plugin/llm"
	"github.com/hrygo/parley/store"
)

// memStore is an in-memory ChatStore for orchestrator tests.
type memStore struct {
	mu          sync.Mutex
	sessions    map[int32]*store.Session
	messages    map[int32]*store.Message
	attachments map[string]*store.Attachment
	nextID      int32
}

func newMemStore() *memStore {
	return &memStore{
		sessions:    make(map[int32]*store.Session),
		messages:    make(map[int32]*store.Message),
		attachments: make(map[string]*store.Attachment),
	}
}

func (s *memStore) CreateSession(_ context.Context, create *store.Session) (*store.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextID++
	create.ID = s.nextID
	s.sessions[create.ID] = create
	return create, nil
}

func (s *memStore) GetSession(_ context.Context, find *store.FindSession) (*store.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, session := range s.sessions {
		if find.ID != nil && session.ID != *find.ID {
			continue
		}
		if find.UID != nil && session.UID != *find.UID {
			continue
		}
		if find.CreatorID != nil && session.CreatorID != *find.CreatorID {
			continue
		}
		if find.ExcludeDeleted && session.Status == store.SessionDeleted {
			continue
		}
		return session, nil
	}
	return nil, nil
}

func (s *memStore) UpdateSession(_ context.Context, update *store.UpdateSession) (*store.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	session, ok := s.sessions[update.ID]
	if !ok || session.CreatorID != update.CreatorID {
		return nil, nil
	}
	if update.Title != nil {
		session.Title = *update.Title
	}
	if update.Status != nil {
		session.Status = *update.Status
	}
	if update.MessageCount != nil {
		session.MessageCount = *update.MessageCount
	}
	if update.UpdatedTs != nil {
		session.UpdatedTs = *update.UpdatedTs
	}
	if update.LastActivityTs != nil {
		session.LastActivityTs = *update.LastActivityTs
	}
	return session, nil
}

func (s *memStore) CreateMessage(_ context.Context, create *store.Message) (*store.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextID++
	create.ID = s.nextID
	s.messages[create.ID] = create
	return create, nil
}

func (s *memStore) GetMessage(_ context.Context, find *store.FindMessage) (*store.Message, error) {
	list, err := s.ListMessages(context.Background(), find)
	if err != nil || len(list) == 0 {
		return nil, err
	}
	return list[0], nil
}

func (s *memStore) ListMessages(_ context.Context, find *store.FindMessage) ([]*store.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	list := make([]*store.Message, 0)
	for _, message := range s.messages {
		if find.ID != nil && message.ID != *find.ID {
			continue
		}
		if find.UID != nil && message.UID != *find.UID {
			continue
		}
		if find.SessionID != nil && message.SessionID != *find.SessionID {
			continue
		}
		if find.CreatorID != nil && message.CreatorID != *find.CreatorID {
			continue
		}
		if find.Status != nil && message.Status != *find.Status {
			continue
		}
		list = append(list, message)
	}
	sort.Slice(list, func(i, j int) bool {
		if list[i].CreatedTs != list[j].CreatedTs {
			return list[i].CreatedTs < list[j].CreatedTs
		}
		return list[i].ID < list[j].ID
	})
	return list, nil
}

func (s *memStore) UpdateMessage(_ context.Context, update *store.UpdateMessage) (*store.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	message, ok := s.messages[update.ID]
	if !ok || message.CreatorID != update.CreatorID {
		return nil, nil
	}
	if update.Content != nil {
		message.Content = *update.Content
	}
	if update.Status != nil {
		message.Status = *update.Status
	}
	if update.FunctionCalls != nil {
		message.FunctionCalls = *update.FunctionCalls
	}
	if update.Metadata != nil {
		message.Metadata = *update.Metadata
	}
	if update.UpdatedTs != nil {
		message.UpdatedTs = *update.UpdatedTs
	}
	if update.CompletedTs != nil {
		message.CompletedTs = update.CompletedTs
	} else if update.ClearCompletedTs {
		message.CompletedTs = nil
	}
	if update.RegeneratedTs != nil {
		message.RegeneratedTs = update.RegeneratedTs
	}
	return message, nil
}

func (s *memStore) GetAttachment(_ context.Context, find *store.FindAttachment) (*store.Attachment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if find.UID == nil {
		return nil, nil
	}
	attachment, ok := s.attachments[*find.UID]
	if !ok {
		return nil, nil
	}
	if find.CreatorID != nil && attachment.CreatorID != *find.CreatorID {
		return nil, nil
	}
	return attachment, nil
}

// generatingCount reports how many messages are currently in an
// in-flight state.
func (s *memStore) generatingCount(sessionID int32) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	count := 0
	for _, m := range s.messages {
		if m.SessionID != sessionID {
			continue
		}
		if m.Status == store.MessageGenerating || m.Status == store.MessageRegenerating {
			count++
		}
	}
	return count
}

// fakeProvider replays a scripted event sequence. When hold is set, the
// provider emits its events and then blocks until hold is closed (or the
// context ends), keeping the generation in flight.
type fakeProvider struct {
	mu           sync.Mutex
	events       []llm.Event
	hold         chan struct{}
	started      chan struct{}
	requests     []llm.CompletionRequest
	completeText string
	completeErr  error
}

func (f *fakeProvider) Name() string { return "fake" }

func (f *fakeProvider) StreamCompletion(ctx context.Context, request llm.CompletionRequest) (<-chan llm.Event, error) {
	f.mu.Lock()
	f.requests = append(f.requests, request)
	started := f.started
	f.mu.Unlock()
	if started != nil {
		close(started)
		f.mu.Lock()
		f.started = nil
		f.mu.Unlock()
	}

	events := make(chan llm.Event)
	go func() {
		defer close(events)
		for _, event := range f.events {
			select {
			case events <- event:
			case <-ctx.Done():
				return
			}
		}
		if f.hold != nil {
			select {
			case <-f.hold:
			case <-ctx.Done():
			}
		}
	}()
	return events, nil
}

func (f *fakeProvider) Complete(_ context.Context, request llm.CompletionRequest) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.requests = append(f.requests, request)
	if f.completeErr != nil {
		return "", f.completeErr
	}
	if f.completeText != "" {
		return f.completeText, nil
	}
	return "a completion", nil
}

func (f *fakeProvider) lastRequest() llm.CompletionRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.requests[len(f.requests)-1]
}

// collector gathers emitted events; failing can simulate a disconnected
// caller after a given number of sends.
type collector struct {
	mu        sync.Mutex
	events    []*StreamEvent
	failAfter int // 0 means never fail
}

type errClientGone struct{}

func (errClientGone) Error() string { return "client gone" }

func (c *collector) Send(event *StreamEvent) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.failAfter > 0 && len(c.events) >= c.failAfter {
		return errClientGone{}
	}
	c.events = append(c.events, event)
	return nil
}

// cancelAwareStore rejects writes once the request context is canceled,
// the way a real SQL driver does.
type cancelAwareStore struct {
	ChatStore
}

func (s *cancelAwareStore) UpdateMessage(ctx context.Context, update *store.UpdateMessage) (*store.Message, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return s.ChatStore.UpdateMessage(ctx, update)
}

// disconnectSink simulates a caller that drops at a specific event:
// the request context is canceled and the send reports failure.
type disconnectSink struct {
	collector
	at     EventType
	cancel context.CancelFunc
}

func (d *disconnectSink) Send(event *StreamEvent) error {
	if event.Type == d.at {
		d.cancel()
		return errClientGone{}
	}
	return d.collector.Send(event)
}

func (c *collector) types() []EventType {
	c.mu.Lock()
	defer c.mu.Unlock()
	types := make([]EventType, 0, len(c.events))
	for _, event := range c.events {
		types = append(types, event.Type)
	}
	return types
}

func newTestService(chatStore ChatStore, provider llm.Provider) *ChatService {
	registry := llm.NewRegistry()
	registry.SetDefault(provider)
	gateway := llm.NewGateway(llm.GatewayConfig{
		Registry:     registry,
		Timeout:      time.Minute,
		DefaultModel: "test-model",
	})
	return NewChatService(ChatServiceConfig{
		Store:        chatStore,
		Gateway:      gateway,
		DefaultModel: "test-model",
	})
}
