package profile

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/pkg/errors"
)

// Profile is the configuration to start the main server.
type Profile struct {
	// Mode can be "prod" or "dev" or "demo"
	Mode string
	// Addr is the binding address for server
	Addr string
	// Port is the binding port for server
	Port int
	// Data is the data directory
	Data string
	// DSN points to where parley stores its own data
	DSN string
	// Driver is the database driver (sqlite or postgres)
	Driver string
	// Version is the current version of server
	Version string

	// LLM provider configuration
	ChatModel          string // PARLEY_CHAT_MODEL (default: gpt-4o-mini)
	SystemPrompt       string // PARLEY_SYSTEM_PROMPT
	ModerationEnabled  bool   // PARLEY_MODERATION_ENABLED
	OpenAIAPIKey       string // PARLEY_OPENAI_API_KEY
	OpenAIBaseURL      string // PARLEY_OPENAI_BASE_URL (default: https://api.openai.com/v1)
	DeepSeekAPIKey     string // PARLEY_DEEPSEEK_API_KEY
	DeepSeekBaseURL    string // PARLEY_DEEPSEEK_BASE_URL (default: https://api.deepseek.com)
	AnthropicAPIKey    string // PARLEY_ANTHROPIC_API_KEY
	AnthropicBaseURL   string // PARLEY_ANTHROPIC_BASE_URL (default: https://api.anthropic.com)
	ContextWindow      int    // PARLEY_CONTEXT_WINDOW (default: 50)
	RequestTimeoutSecs int    // PARLEY_REQUEST_TIMEOUT_SECONDS (default: 60)
}

func (p *Profile) IsDev() bool {
	return p.Mode != "prod"
}

// HasProvider returns true if at least one LLM provider is configured.
func (p *Profile) HasProvider() bool {
	return p.OpenAIAPIKey != "" || p.DeepSeekAPIKey != "" || p.AnthropicAPIKey != ""
}

func checkDataDir(dataDir string) (string, error) {
	// Convert to absolute path if relative path is supplied.
	if !filepath.IsAbs(dataDir) {
		relativeDir := filepath.Join(filepath.Dir(os.Args[0]), dataDir)
		absDir, err := filepath.Abs(relativeDir)
		if err != nil {
			return "", err
		}
		dataDir = absDir
	}
	// Trim trailing \ or / in case user supplies
	dataDir = strings.TrimRight(dataDir, "\\/")

	if _, err := os.Stat(dataDir); err != nil {
		return "", errors.Wrapf(err, "unable to access data folder %s", dataDir)
	}
	return dataDir, nil
}

// Validate normalizes the profile and fills in defaults.
func (p *Profile) Validate() error {
	if p.Mode != "demo" && p.Mode != "dev" && p.Mode != "prod" {
		p.Mode = "demo"
	}
	if p.Mode == "prod" && p.Data == "" {
		p.Data = "/var/opt/parley"
	}

	dataDir, err := checkDataDir(p.Data)
	if err != nil {
		return errors.Wrap(err, "failed to check data directory")
	}
	p.Data = dataDir

	if p.Driver == "sqlite" && p.DSN == "" {
		dbFile := fmt.Sprintf("parley_%s.db", p.Mode)
		p.DSN = filepath.Join(dataDir, dbFile)
	}
	if p.Driver == "postgres" && p.DSN == "" {
		return errors.New("dsn is required for postgres driver")
	}

	if p.ChatModel == "" {
		p.ChatModel = "gpt-4o-mini"
	}
	if p.OpenAIBaseURL == "" {
		p.OpenAIBaseURL = "https://api.openai.com/v1"
	}
	if p.DeepSeekBaseURL == "" {
		p.DeepSeekBaseURL = "https://api.deepseek.com"
	}
	if p.AnthropicBaseURL == "" {
		p.AnthropicBaseURL = "https://api.anthropic.com"
	}
	if p.ContextWindow <= 0 {
		p.ContextWindow = 50
	}
	if p.RequestTimeoutSecs <= 0 {
		p.RequestTimeoutSecs = 60
	}
	return nil
}
