package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/pkg/errors"

	"github.com/hrygo/parley/internal/profile"
	"github.com/hrygo/parley/plugin/llm"
	apiv1 "github.com/hrygo/parley/server/router/api/v1"
	"github.com/hrygo/parley/store"
)

type Server struct {
	Profile *profile.Profile
	Store   *store.Store

	echoServer *echo.Echo
}

func NewServer(ctx context.Context, profile *profile.Profile, store *store.Store) (*Server, error) {
	s := &Server{
		Profile: profile,
		Store:   store,
	}

	echoServer := echo.New()
	echoServer.HideBanner = true
	echoServer.HidePort = true
	echoServer.Use(echomw.Recover())
	echoServer.Use(echomw.CORS())
	s.echoServer = echoServer

	echoServer.GET("/healthz", func(c echo.Context) error {
		return c.String(http.StatusOK, "Service ready.")
	})

	gateway, err := newGateway(profile)
	if err != nil {
		return nil, errors.Wrap(err, "failed to initialize provider gateway")
	}
	apiV1Service := apiv1.NewAPIV1Service(profile, store, gateway)
	apiV1Service.RegisterRoutes(echoServer)

	return s, nil
}

func (s *Server) Start(ctx context.Context) error {
	address := fmt.Sprintf("%s:%d", s.Profile.Addr, s.Profile.Port)
	go func() {
		if err := s.echoServer.Start(address); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("failed to start echo server", "error", err)
		}
	}()
	return nil
}

func (s *Server) Shutdown(ctx context.Context) {
	shutdownCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	if err := s.echoServer.Shutdown(shutdownCtx); err != nil {
		slog.Error("failed to shutdown server", "error", err)
	}
	if err := s.Store.Close(); err != nil {
		slog.Error("failed to close database", "error", err)
	}
	slog.Info("server shutdown complete")
}

// newGateway assembles the model registry from the configured providers.
// The first configured provider becomes the fail-open default.
func newGateway(p *profile.Profile) (*llm.Gateway, error) {
	registry := llm.NewRegistry()
	var fallback llm.Provider

	if p.OpenAIAPIKey != "" {
		provider := llm.NewOpenAIProvider(llm.OpenAIConfig{
			APIKey:  p.OpenAIAPIKey,
			BaseURL: p.OpenAIBaseURL,
		})
		for _, prefix := range []string{"gpt-", "o1", "o3", "o4", "chatgpt-"} {
			registry.RegisterPrefix(prefix, provider)
		}
		for _, model := range []string{"gpt-4o", "gpt-4o-mini", "gpt-4.1", "gpt-4.1-mini"} {
			registry.RegisterModel(model, provider)
		}
		fallback = provider
	}

	if p.DeepSeekAPIKey != "" {
		// DeepSeek is OpenAI wire compatible.
		provider := llm.NewOpenAIProvider(llm.OpenAIConfig{
			Name:    "deepseek",
			APIKey:  p.DeepSeekAPIKey,
			BaseURL: p.DeepSeekBaseURL,
		})
		registry.RegisterPrefix("deepseek-", provider)
		for _, model := range []string{"deepseek-chat", "deepseek-reasoner"} {
			registry.RegisterModel(model, provider)
		}
		if fallback == nil {
			fallback = provider
		}
	}

	if p.AnthropicAPIKey != "" {
		provider := llm.NewAnthropicProvider(llm.AnthropicConfig{
			APIKey:  p.AnthropicAPIKey,
			BaseURL: p.AnthropicBaseURL,
		})
		registry.RegisterPrefix("claude-", provider)
		for _, model := range []string{"claude-sonnet-4-5", "claude-opus-4-1", "claude-haiku-4-5"} {
			registry.RegisterModel(model, provider)
		}
		if fallback == nil {
			fallback = provider
		}
	}

	if fallback == nil {
		return nil, errors.New("no LLM provider configured; set at least one API key")
	}
	registry.SetDefault(fallback)

	return llm.NewGateway(llm.GatewayConfig{
		Registry:     registry,
		Timeout:      time.Duration(p.RequestTimeoutSecs) * time.Second,
		DefaultModel: p.ChatModel,
	}), nil
}
