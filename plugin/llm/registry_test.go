package llm

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

type stubProvider struct {
	name string
}

func (s *stubProvider) Name() string { return s.name }

func (s *stubProvider) StreamCompletion(_ context.Context, _ CompletionRequest) (<-chan Event, error) {
	events := make(chan Event)
	close(events)
	return events, nil
}

func (s *stubProvider) Complete(_ context.Context, _ CompletionRequest) (string, error) {
	return "", nil
}

func TestRegistryExactMatch(t *testing.T) {
	openAI := &stubProvider{name: "openai"}
	anthropic := &stubProvider{name: "anthropic"}

	registry := NewRegistry()
	registry.RegisterModel("gpt-4o-mini", openAI)
	registry.RegisterModel("claude-sonnet-4-5", anthropic)

	p, err := registry.Resolve("claude-sonnet-4-5")
	require.NoError(t, err)
	require.Equal(t, "anthropic", p.Name())
}

func TestRegistryPrefixMatch(t *testing.T) {
	openAI := &stubProvider{name: "openai"}
	anthropic := &stubProvider{name: "anthropic"}

	registry := NewRegistry()
	registry.RegisterPrefix("gpt-", openAI)
	registry.RegisterPrefix("claude-", anthropic)

	p, err := registry.Resolve("claude-opus-4")
	require.NoError(t, err)
	require.Equal(t, "anthropic", p.Name())

	p, err = registry.Resolve("gpt-5")
	require.NoError(t, err)
	require.Equal(t, "openai", p.Name())
}

func TestRegistryLongestPrefixWins(t *testing.T) {
	generic := &stubProvider{name: "generic"}
	specific := &stubProvider{name: "specific"}

	registry := NewRegistry()
	registry.RegisterPrefix("gpt-", generic)
	registry.RegisterPrefix("gpt-4o", specific)

	p, err := registry.Resolve("gpt-4o-mini")
	require.NoError(t, err)
	require.Equal(t, "specific", p.Name())
}

func TestRegistryUnknownModelFailsOpen(t *testing.T) {
	fallback := &stubProvider{name: "fallback"}

	registry := NewRegistry()
	registry.RegisterModel("gpt-4o-mini", &stubProvider{name: "openai"})
	registry.SetDefault(fallback)

	// Unknown names are forwarded to the default provider so the vendor
	// can reject them itself.
	p, err := registry.Resolve("some-future-model")
	require.NoError(t, err)
	require.Equal(t, "fallback", p.Name())
}

func TestRegistryNoProviders(t *testing.T) {
	registry := NewRegistry()
	_, err := registry.Resolve("gpt-4o-mini")
	require.Error(t, err)
}
