package llm

import (
	"context"
	"regexp"
	"strings"
	"time"

	"github.com/pkg/errors"
)

const (
	// DefaultRequestTimeout bounds one provider exchange end to end.
	DefaultRequestTimeout = 60 * time.Second

	// summarizeInputLimit caps the transcript fed into a summary
	// completion so the auxiliary call stays cheap.
	summarizeInputLimit = 3000

	maxSuggestions      = 5
	minSuggestionLength = 10
)

// Gateway fronts the provider registry. It owns the request timeout
// horizon and the auxiliary single-shot operations; streaming callers get
// the canonical event stream with timeouts surfaced as ErrTimeout events.
type Gateway struct {
	registry     *Registry
	timeout      time.Duration
	defaultModel string
}

type GatewayConfig struct {
	Registry     *Registry
	Timeout      time.Duration // zero means DefaultRequestTimeout
	DefaultModel string        // model used by auxiliary completions
}

func NewGateway(cfg GatewayConfig) *Gateway {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = DefaultRequestTimeout
	}
	return &Gateway{
		registry:     cfg.Registry,
		timeout:      timeout,
		defaultModel: cfg.DefaultModel,
	}
}

func (g *Gateway) Registry() *Registry {
	return g.registry
}

// StreamCompletion resolves the provider for request.Model and relays its
// event stream. The gateway's timeout applies to the whole exchange; when
// it fires mid-stream the caller receives a terminal ErrTimeout event.
func (g *Gateway) StreamCompletion(ctx context.Context, request CompletionRequest) (<-chan Event, error) {
	provider, err := g.registry.Resolve(request.Model)
	if err != nil {
		return nil, err
	}

	streamCtx, cancel := context.WithTimeout(ctx, g.timeout)
	events, err := provider.StreamCompletion(streamCtx, request)
	if err != nil {
		cancel()
		return nil, err
	}

	out := make(chan Event)
	go func() {
		defer close(out)
		defer cancel()
		for {
			select {
			case event, ok := <-events:
				if !ok {
					return
				}
				select {
				case out <- event:
				case <-streamCtx.Done():
					g.emitDeadline(ctx, streamCtx, out)
					return
				}
				if event.Type == EventCompletion || event.Type == EventError {
					return
				}
			case <-streamCtx.Done():
				g.emitDeadline(ctx, streamCtx, out)
				return
			}
		}
	}()

	return out, nil
}

// emitDeadline surfaces a timeout as a terminal event. Caller-initiated
// cancellation stays silent; the orchestrator handles that path itself.
func (g *Gateway) emitDeadline(ctx, streamCtx context.Context, out chan<- Event) {
	if ctx.Err() != nil || !errors.Is(streamCtx.Err(), context.DeadlineExceeded) {
		return
	}
	select {
	case out <- errorEvent(ErrTimeout, "provider request exceeded "+g.timeout.String()):
	case <-ctx.Done():
	}
}

// Moderate checks text against the default provider's content policy.
// Providers without a moderation endpoint report nothing flagged.
func (g *Gateway) Moderate(ctx context.Context, text string) (*ModerationResult, error) {
	provider, err := g.registry.Resolve(g.defaultModel)
	if err != nil {
		return nil, err
	}
	moderator, ok := provider.(Moderator)
	if !ok {
		return &ModerationResult{}, nil
	}

	moderateCtx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()
	return moderator.Moderate(moderateCtx, text)
}

// Summarize condenses a conversation into at most maxLen characters. The
// transcript is capped before the call and the result is hard-truncated
// after it, so the bound holds regardless of how well the model obeys.
func (g *Gateway) Summarize(ctx context.Context, messages []Message, maxLen int) (string, error) {
	if maxLen <= 0 {
		return "", errors.New("maxLen must be positive")
	}

	transcript := buildTranscript(messages, summarizeInputLimit)
	if transcript == "" {
		return "", nil
	}

	result, err := g.complete(ctx, []Message{
		{Role: RoleSystem, Content: "Summarize the conversation below in a single short paragraph. Respond with the summary only."},
		{Role: RoleUser, Content: transcript},
	})
	if err != nil {
		return "", err
	}

	result = strings.TrimSpace(result)
	runes := []rune(result)
	if len(runes) > maxLen {
		result = string(runes[:maxLen])
	}
	return result, nil
}

var enumerationMarker = regexp.MustCompile(`^\s*(?:[-*•]+|\d+[.)、]?)\s*`)

// Suggest proposes up to five follow-up prompts for the conversation.
// The completion is parsed line by line; enumeration markers are
// stripped and short fragments discarded.
func (g *Gateway) Suggest(ctx context.Context, history []Message, extra string) ([]string, error) {
	prompt := "Based on the conversation, suggest follow-up questions the user might ask next. One suggestion per line, no preamble."
	if extra != "" {
		prompt += "\nAdditional context: " + extra
	}

	transcript := buildTranscript(history, summarizeInputLimit)
	result, err := g.complete(ctx, []Message{
		{Role: RoleSystem, Content: prompt},
		{Role: RoleUser, Content: transcript},
	})
	if err != nil {
		return nil, err
	}

	return ParseSuggestions(result), nil
}

// ParseSuggestions extracts suggestion lines from a structured completion.
func ParseSuggestions(completion string) []string {
	suggestions := make([]string, 0, maxSuggestions)
	for _, line := range strings.Split(completion, "\n") {
		line = enumerationMarker.ReplaceAllString(line, "")
		line = strings.Trim(strings.TrimSpace(line), `"`)
		if len([]rune(line)) <= minSuggestionLength {
			continue
		}
		suggestions = append(suggestions, line)
		if len(suggestions) == maxSuggestions {
			break
		}
	}
	return suggestions
}

func (g *Gateway) complete(ctx context.Context, messages []Message) (string, error) {
	provider, err := g.registry.Resolve(g.defaultModel)
	if err != nil {
		return "", err
	}

	completeCtx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()
	return provider.Complete(completeCtx, CompletionRequest{
		Model:    g.defaultModel,
		Messages: messages,
	})
}

func buildTranscript(messages []Message, limit int) string {
	var sb strings.Builder
	for _, m := range messages {
		if m.Content == "" {
			continue
		}
		sb.WriteString(m.Role)
		sb.WriteString(": ")
		sb.WriteString(m.Content)
		sb.WriteString("\n")
	}
	transcript := strings.TrimSpace(sb.String())
	runes := []rune(transcript)
	if len(runes) > limit {
		transcript = string(runes[:limit])
	}
	return transcript
}
