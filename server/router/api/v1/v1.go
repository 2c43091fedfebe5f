// Package v1 wires the chat orchestration onto the HTTP surface: SSE
// streaming endpoints, session and message CRUD, and the auxiliary
// conversation operations.
package v1

import (
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"
	"golang.org/x/sync/semaphore"

	"github.com/hrygo/parley/internal/profile"
	"github.com/hrygo/parley/plugin/llm"
	"github.com/hrygo/parley/server/internal/errors"
	"github.com/hrygo/parley/server/middleware"
	"github.com/hrygo/parley/server/router/api/v1/ai"
	"github.com/hrygo/parley/store"
)

const userIDHeader = "X-User-ID"

// chatRatePerSecond bounds how fast one user may start generations.
const (
	chatRatePerSecond = 1.0
	chatRateBurst     = 5
)

// maxConcurrentStreams caps in-flight generations across all users to
// bound provider connections and memory held by delta buffers.
const maxConcurrentStreams = 64

type APIV1Service struct {
	Profile     *profile.Profile
	Store       *store.Store
	ChatService *ai.ChatService

	rateLimiter     *middleware.RateLimiter
	streamSemaphore *semaphore.Weighted
}

func NewAPIV1Service(profile *profile.Profile, store *store.Store, gateway *llm.Gateway) *APIV1Service {
	return &APIV1Service{
		Profile: profile,
		Store:   store,
		ChatService: ai.NewChatService(ai.ChatServiceConfig{
			Store:             store,
			Gateway:           gateway,
			ContextWindow:     profile.ContextWindow,
			SystemPrompt:      profile.SystemPrompt,
			DefaultModel:      profile.ChatModel,
			ModerationEnabled: profile.ModerationEnabled,
		}),
		rateLimiter:     middleware.NewRateLimiter(chatRatePerSecond, chatRateBurst),
		streamSemaphore: semaphore.NewWeighted(maxConcurrentStreams),
	}
}

// RegisterRoutes mounts all v1 endpoints on the echo instance.
func (s *APIV1Service) RegisterRoutes(e *echo.Echo) {
	group := e.Group("/api/v1", s.authMiddleware)

	group.POST("/chat/stream", s.StreamChat)
	group.POST("/messages/:uid/regenerate", s.RegenerateMessage)

	group.GET("/sessions", s.ListSessions)
	group.POST("/sessions", s.CreateSession)
	group.GET("/sessions/:uid", s.GetSession)
	group.PATCH("/sessions/:uid", s.UpdateSession)
	group.DELETE("/sessions/:uid", s.DeleteSession)
	group.GET("/sessions/:uid/messages", s.ListSessionMessages)
	group.GET("/sessions/:uid/suggestions", s.SuggestFollowUps)
	group.POST("/sessions/:uid/summarize", s.SummarizeSession)
	group.GET("/sessions/:uid/export", s.ExportSession)

	group.POST("/messages/:uid/feedback", s.SetMessageFeedback)

	group.GET("/models", s.ListModels)
}

// authMiddleware resolves the caller from the trusted gateway header.
// Full authentication lives in front of this service.
func (s *APIV1Service) authMiddleware(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		raw := c.Request().Header.Get(userIDHeader)
		if raw == "" {
			return echo.NewHTTPError(http.StatusUnauthorized, "missing user identity")
		}
		userID, err := strconv.ParseInt(raw, 10, 32)
		if err != nil || userID <= 0 {
			return echo.NewHTTPError(http.StatusUnauthorized, "invalid user identity")
		}
		c.Set("userID", int32(userID))
		return next(c)
	}
}

func userIDFromContext(c echo.Context) int32 {
	userID, _ := c.Get("userID").(int32)
	return userID
}

// toHTTPError maps a ChatError to the HTTP status surface. Forbidden is
// reported as not found so ownership probing reveals nothing.
func toHTTPError(err error) *echo.HTTPError {
	switch errors.CodeOf(err) {
	case errors.ErrCodeInvalidArgument:
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	case errors.ErrCodeNotFound, errors.ErrCodeForbidden:
		return echo.NewHTTPError(http.StatusNotFound, "not found")
	case errors.ErrCodeConflict:
		return echo.NewHTTPError(http.StatusConflict, err.Error())
	case errors.ErrCodeRateLimitExceeded:
		return echo.NewHTTPError(http.StatusTooManyRequests, err.Error())
	case errors.ErrCodeTimeout:
		return echo.NewHTTPError(http.StatusGatewayTimeout, err.Error())
	case errors.ErrCodeUnauthorized:
		return echo.NewHTTPError(http.StatusUnauthorized, err.Error())
	case errors.ErrCodeStorageError:
		return echo.NewHTTPError(http.StatusInternalServerError, "internal storage error")
	default:
		return echo.NewHTTPError(http.StatusInternalServerError, "internal error")
	}
}
