package llm

import (
	"context"
	"io"
	"net/http"

	"github.com/pkg/errors"
	"github.com/sashabaranov/go-openai"
)

// OpenAIProvider speaks the OpenAI chat-completions wire protocol. It also
// serves OpenAI-compatible vendors (DeepSeek and friends) via a custom
// base URL, so Name is configurable.
type OpenAIProvider struct {
	name   string
	client *openai.Client
}

type OpenAIConfig struct {
	Name    string // defaults to "openai"
	APIKey  string
	BaseURL string // empty means the official endpoint
}

func NewOpenAIProvider(cfg OpenAIConfig) *OpenAIProvider {
	clientConfig := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientConfig.BaseURL = cfg.BaseURL
	}
	name := cfg.Name
	if name == "" {
		name = "openai"
	}
	return &OpenAIProvider{
		name:   name,
		client: openai.NewClientWithConfig(clientConfig),
	}
}

func (p *OpenAIProvider) Name() string {
	return p.name
}

func (p *OpenAIProvider) StreamCompletion(ctx context.Context, request CompletionRequest) (<-chan Event, error) {
	req := p.buildRequest(request)
	req.Stream = true

	stream, err := p.client.CreateChatCompletionStream(ctx, req)
	if err != nil {
		return nil, errors.Wrap(err, "failed to open completion stream")
	}

	events := make(chan Event)
	go func() {
		defer close(events)
		defer stream.Close()

		finishReason := ""
		for {
			resp, err := stream.Recv()
			if errors.Is(err, io.EOF) {
				if finishReason == "" {
					finishReason = string(openai.FinishReasonStop)
				}
				p.send(ctx, events, Event{Type: EventCompletion, FinishReason: finishReason})
				return
			}
			if err != nil {
				p.send(ctx, events, errorEvent(classifyOpenAIError(ctx, err), err.Error()))
				return
			}
			if len(resp.Choices) == 0 {
				continue
			}

			choice := resp.Choices[0]
			if choice.FinishReason != "" {
				finishReason = string(choice.FinishReason)
			}
			if choice.Delta.Content != "" {
				if !p.send(ctx, events, Event{Type: EventContent, Content: choice.Delta.Content}) {
					return
				}
			}
			if fc := choice.Delta.FunctionCall; fc != nil {
				if !p.send(ctx, events, Event{Type: EventFunctionCall, FunctionName: fc.Name, FunctionArgs: fc.Arguments}) {
					return
				}
			}
			for _, tc := range choice.Delta.ToolCalls {
				if !p.send(ctx, events, Event{Type: EventFunctionCall, FunctionName: tc.Function.Name, FunctionArgs: tc.Function.Arguments}) {
					return
				}
			}
		}
	}()

	return events, nil
}

func (p *OpenAIProvider) Complete(ctx context.Context, request CompletionRequest) (string, error) {
	resp, err := p.client.CreateChatCompletion(ctx, p.buildRequest(request))
	if err != nil {
		return "", errors.Wrap(err, "failed to complete chat")
	}
	if len(resp.Choices) == 0 {
		return "", errors.New("empty chat response")
	}
	return resp.Choices[0].Message.Content, nil
}

func (p *OpenAIProvider) Moderate(ctx context.Context, text string) (*ModerationResult, error) {
	resp, err := p.client.Moderations(ctx, openai.ModerationRequest{Input: text})
	if err != nil {
		return nil, errors.Wrap(err, "failed to moderate text")
	}
	if len(resp.Results) == 0 {
		return &ModerationResult{}, nil
	}

	r := resp.Results[0]
	return &ModerationResult{
		Flagged: r.Flagged,
		CategoryScores: map[string]float64{
			"hate":            float64(r.CategoryScores.Hate),
			"harassment":      float64(r.CategoryScores.Harassment),
			"self-harm":       float64(r.CategoryScores.SelfHarm),
			"sexual":          float64(r.CategoryScores.Sexual),
			"violence":        float64(r.CategoryScores.Violence),
			"sexual/minors":   float64(r.CategoryScores.SexualMinors),
			"violence/graphic": float64(r.CategoryScores.ViolenceGraphic),
		},
	}, nil
}

func (p *OpenAIProvider) buildRequest(request CompletionRequest) openai.ChatCompletionRequest {
	messages := make([]openai.ChatCompletionMessage, len(request.Messages))
	for i, m := range request.Messages {
		messages[i] = openai.ChatCompletionMessage{Role: m.Role, Content: m.Content}
	}

	req := openai.ChatCompletionRequest{
		Model:    request.Model,
		Messages: messages,
	}
	if request.MaxTokens != nil {
		req.MaxTokens = *request.MaxTokens
	}
	if request.Temperature != nil {
		req.Temperature = *request.Temperature
	}
	if request.TopP != nil {
		req.TopP = *request.TopP
	}
	if request.FrequencyPenalty != nil {
		req.FrequencyPenalty = *request.FrequencyPenalty
	}
	if request.PresencePenalty != nil {
		req.PresencePenalty = *request.PresencePenalty
	}
	// TopK has no OpenAI equivalent and is dropped.
	for _, tool := range request.Tools {
		req.Tools = append(req.Tools, openai.Tool{
			Type: openai.ToolTypeFunction,
			Function: &openai.FunctionDefinition{
				Name:        tool.Name,
				Description: tool.Description,
				Parameters:  tool.Parameters,
			},
		})
	}
	return req
}

func (p *OpenAIProvider) send(ctx context.Context, events chan<- Event, event Event) bool {
	select {
	case events <- event:
		return true
	case <-ctx.Done():
		return false
	}
}

func classifyOpenAIError(ctx context.Context, err error) ErrorKind {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return ErrTimeout
	}
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) && apiErr.HTTPStatusCode == http.StatusTooManyRequests {
		return ErrRateLimited
	}
	return ErrProviderError
}
