package llm

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"

	"github.com/pkg/errors"
)

const (
	anthropicDefaultBaseURL = "https://api.anthropic.com"
	anthropicVersion        = "2023-06-01"
	anthropicMaxTokens      = 4096
)

// AnthropicProvider speaks the Anthropic Messages API over SSE. The
// lifecycle of one stream is:
//
//	message_start → content_block_start → content_block_delta(s) →
//	content_block_stop → message_delta → message_stop
type AnthropicProvider struct {
	apiKey  string
	baseURL string
	client  *http.Client
}

type AnthropicConfig struct {
	APIKey  string
	BaseURL string
}

func NewAnthropicProvider(cfg AnthropicConfig) *AnthropicProvider {
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = anthropicDefaultBaseURL
	}
	return &AnthropicProvider{
		apiKey:  cfg.APIKey,
		baseURL: strings.TrimSuffix(baseURL, "/"),
		client:  &http.Client{},
	}
}

func (p *AnthropicProvider) Name() string {
	return "anthropic"
}

type anthropicRequest struct {
	Model       string             `json:"model"`
	System      string             `json:"system,omitempty"`
	Messages    []anthropicMessage `json:"messages"`
	MaxTokens   int                `json:"max_tokens"`
	Temperature *float32           `json:"temperature,omitempty"`
	TopP        *float32           `json:"top_p,omitempty"`
	TopK        *int               `json:"top_k,omitempty"`
	Stream      bool               `json:"stream,omitempty"`
}

type anthropicMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type anthropicStreamEvent struct {
	Type         string `json:"type"`
	ContentBlock *struct {
		Type string `json:"type"`
		Name string `json:"name"`
	} `json:"content_block"`
	Delta *struct {
		Type        string `json:"type"`
		Text        string `json:"text"`
		PartialJSON string `json:"partial_json"`
		StopReason  string `json:"stop_reason"`
	} `json:"delta"`
	Error *struct {
		Type    string `json:"type"`
		Message string `json:"message"`
	} `json:"error"`
}

type anthropicResponse struct {
	Content []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"content"`
	Error *struct {
		Type    string `json:"type"`
		Message string `json:"message"`
	} `json:"error"`
}

func (p *AnthropicProvider) StreamCompletion(ctx context.Context, request CompletionRequest) (<-chan Event, error) {
	req := p.buildRequest(request)
	req.Stream = true

	resp, err := p.post(ctx, req)
	if err != nil {
		return nil, err
	}

	events := make(chan Event)
	go func() {
		defer close(events)
		defer resp.Body.Close()

		finishReason := ""
		functionName := ""
		scanner := bufio.NewScanner(resp.Body)
		scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
		for scanner.Scan() {
			line := scanner.Text()
			if !strings.HasPrefix(line, "data:") {
				continue
			}
			payload := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
			if payload == "" {
				continue
			}

			var event anthropicStreamEvent
			if err := json.Unmarshal([]byte(payload), &event); err != nil {
				p.send(ctx, events, errorEvent(ErrProviderError, "malformed stream event: "+err.Error()))
				return
			}

			switch event.Type {
			case "content_block_start":
				if event.ContentBlock != nil && event.ContentBlock.Type == "tool_use" {
					functionName = event.ContentBlock.Name
				}
			case "content_block_delta":
				if event.Delta == nil {
					continue
				}
				switch event.Delta.Type {
				case "text_delta":
					if !p.send(ctx, events, Event{Type: EventContent, Content: event.Delta.Text}) {
						return
					}
				case "input_json_delta":
					if !p.send(ctx, events, Event{Type: EventFunctionCall, FunctionName: functionName, FunctionArgs: event.Delta.PartialJSON}) {
						return
					}
				}
			case "content_block_stop":
				functionName = ""
			case "message_delta":
				if event.Delta != nil && event.Delta.StopReason != "" {
					finishReason = event.Delta.StopReason
				}
			case "message_stop":
				if finishReason == "" {
					finishReason = "end_turn"
				}
				p.send(ctx, events, Event{Type: EventCompletion, FinishReason: finishReason})
				return
			case "error":
				message := "provider stream error"
				kind := ErrProviderError
				if event.Error != nil {
					message = event.Error.Message
					if event.Error.Type == "rate_limit_error" {
						kind = ErrRateLimited
					}
					if event.Error.Type == "overloaded_error" {
						kind = ErrRateLimited
					}
				}
				p.send(ctx, events, errorEvent(kind, message))
				return
			}
		}
		if err := scanner.Err(); err != nil {
			kind := ErrProviderError
			if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
				kind = ErrTimeout
			}
			p.send(ctx, events, errorEvent(kind, err.Error()))
			return
		}
		// Body ended without message_stop. Treat what we got as complete.
		p.send(ctx, events, Event{Type: EventCompletion, FinishReason: "end_turn"})
	}()

	return events, nil
}

func (p *AnthropicProvider) Complete(ctx context.Context, request CompletionRequest) (string, error) {
	resp, err := p.post(ctx, p.buildRequest(request))
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	var parsed anthropicResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return "", errors.Wrap(err, "failed to decode completion response")
	}
	if parsed.Error != nil {
		return "", errors.Errorf("provider error: %s", parsed.Error.Message)
	}

	var sb strings.Builder
	for _, block := range parsed.Content {
		if block.Type == "text" {
			sb.WriteString(block.Text)
		}
	}
	return sb.String(), nil
}

func (p *AnthropicProvider) buildRequest(request CompletionRequest) anthropicRequest {
	req := anthropicRequest{
		Model:       request.Model,
		MaxTokens:   anthropicMaxTokens,
		Temperature: request.Temperature,
		TopP:        request.TopP,
		TopK:        request.TopK,
	}
	if request.MaxTokens != nil {
		req.MaxTokens = *request.MaxTokens
	}
	// System turns ride in a dedicated field, not the message list.
	for _, m := range request.Messages {
		if m.Role == RoleSystem {
			if req.System != "" {
				req.System += "\n"
			}
			req.System += m.Content
			continue
		}
		req.Messages = append(req.Messages, anthropicMessage{Role: m.Role, Content: m.Content})
	}
	return req
}

func (p *AnthropicProvider) post(ctx context.Context, body anthropicRequest) (*http.Response, error) {
	if p.apiKey == "" {
		return nil, errors.New("anthropic api key is not set")
	}

	payload, err := json.Marshal(body)
	if err != nil {
		return nil, errors.Wrap(err, "failed to encode request")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/v1/messages", bytes.NewReader(payload))
	if err != nil {
		return nil, errors.Wrap(err, "failed to build request")
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Api-Key", p.apiKey)
	req.Header.Set("Anthropic-Version", anthropicVersion)

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, errors.Wrap(err, "request failed")
	}
	if resp.StatusCode != http.StatusOK {
		defer resp.Body.Close()
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		if resp.StatusCode == http.StatusTooManyRequests {
			return nil, errors.Errorf("rate limited: %s", string(detail))
		}
		return nil, errors.Errorf("unexpected status %d: %s", resp.StatusCode, string(detail))
	}
	return resp, nil
}

func (p *AnthropicProvider) send(ctx context.Context, events chan<- Event, event Event) bool {
	select {
	case events <- event:
		return true
	case <-ctx.Done():
		return false
	}
}
