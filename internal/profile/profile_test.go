package profile

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestValidateDefaults(t *testing.T) {
	p := &Profile{
		Mode:   "dev",
		Data:   t.TempDir(),
		Driver: "sqlite",
	}
	err := p.Validate()
	require.NoError(t, err)

	require.Equal(t, "gpt-4o-mini", p.ChatModel)
	require.Equal(t, "https://api.openai.com/v1", p.OpenAIBaseURL)
	require.Equal(t, "https://api.deepseek.com", p.DeepSeekBaseURL)
	require.Equal(t, "https://api.anthropic.com", p.AnthropicBaseURL)
	require.Equal(t, 50, p.ContextWindow)
	require.Equal(t, 60, p.RequestTimeoutSecs)
	require.Contains(t, p.DSN, "parley_dev.db")
}

func TestValidateUnknownModeFallsBackToDemo(t *testing.T) {
	p := &Profile{
		Mode:   "staging",
		Data:   t.TempDir(),
		Driver: "sqlite",
	}
	err := p.Validate()
	require.NoError(t, err)
	require.Equal(t, "demo", p.Mode)
}

func TestValidatePostgresRequiresDSN(t *testing.T) {
	p := &Profile{
		Mode:   "dev",
		Data:   t.TempDir(),
		Driver: "postgres",
	}
	err := p.Validate()
	require.Error(t, err)
}

func TestHasProvider(t *testing.T) {
	p := &Profile{}
	require.False(t, p.HasProvider())

	p.OpenAIAPIKey = "sk-test"
	require.True(t, p.HasProvider())

	p = &Profile{AnthropicAPIKey: "sk-ant"}
	require.True(t, p.HasProvider())
}
