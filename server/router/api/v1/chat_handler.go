package v1

import (
	"encoding/json"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/hrygo/parley/server/router/api/v1/ai"
)

type streamChatRequest struct {
	SessionUID  string   `json:"sessionUid"`
	Content     string   `json:"content"`
	Attachments []string `json:"attachments"`
	Model       string   `json:"model"`
}

// sseStream adapts the echo response into the orchestrator's event sink,
// writing one SSE data frame per event.
type sseStream struct {
	response *echo.Response
	sent     bool
}

func newSSEStream(c echo.Context) *sseStream {
	response := c.Response()
	response.Header().Set(echo.HeaderContentType, "text/event-stream")
	response.Header().Set(echo.HeaderCacheControl, "no-cache")
	response.Header().Set(echo.HeaderConnection, "keep-alive")
	return &sseStream{response: response}
}

func (s *sseStream) Send(event *ai.StreamEvent) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return err
	}
	if !s.sent {
		s.response.WriteHeader(http.StatusOK)
		s.sent = true
	}
	if _, err := s.response.Write([]byte("data: " + string(payload) + "\n\n")); err != nil {
		return err
	}
	s.response.Flush()
	return nil
}

// StreamChat runs one streamed exchange over SSE. Failures before the
// first event map to plain HTTP errors; later failures arrive inside the
// event stream.
func (s *APIV1Service) StreamChat(c echo.Context) error {
	userID := userIDFromContext(c)
	if !s.rateLimiter.AllowUser(userID) {
		return echo.NewHTTPError(http.StatusTooManyRequests, "too many chat requests")
	}
	if !s.streamSemaphore.TryAcquire(1) {
		return echo.NewHTTPError(http.StatusServiceUnavailable, "too many concurrent generations")
	}
	defer s.streamSemaphore.Release(1)

	var request streamChatRequest
	if err := c.Bind(&request); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "malformed request body")
	}

	stream := newSSEStream(c)
	err := s.ChatService.StreamMessage(c.Request().Context(), &ai.StreamMessageRequest{
		UserID:      userID,
		SessionUID:  request.SessionUID,
		Content:     request.Content,
		Attachments: request.Attachments,
		Model:       request.Model,
	}, stream)
	if err != nil && !stream.sent {
		return toHTTPError(err)
	}
	return nil
}

// RegenerateMessage reruns generation for an assistant message over SSE.
func (s *APIV1Service) RegenerateMessage(c echo.Context) error {
	userID := userIDFromContext(c)
	if !s.rateLimiter.AllowUser(userID) {
		return echo.NewHTTPError(http.StatusTooManyRequests, "too many chat requests")
	}
	if !s.streamSemaphore.TryAcquire(1) {
		return echo.NewHTTPError(http.StatusServiceUnavailable, "too many concurrent generations")
	}
	defer s.streamSemaphore.Release(1)

	stream := newSSEStream(c)
	err := s.ChatService.Regenerate(c.Request().Context(), &ai.RegenerateRequest{
		UserID:     userID,
		MessageUID: c.Param("uid"),
	}, stream)
	if err != nil && !stream.sent {
		return toHTTPError(err)
	}
	return nil
}
