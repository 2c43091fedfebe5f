package v1

import (
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/lithammer/shortuuid/v4"

	"github.com/hrygo/parley/store"
)

type sessionResponse struct {
	UID          string                  `json:"uid"`
	Title        string                  `json:"title"`
	Status       string                  `json:"status"`
	Config       *store.GenerationConfig `json:"config,omitempty"`
	MessageCount int32                   `json:"messageCount"`
	Pinned       bool                    `json:"pinned"`
	Tags         []string                `json:"tags,omitempty"`
	CreatedAt    string                  `json:"createdAt"`
	UpdatedAt    string                  `json:"updatedAt"`
	LastActivity string                  `json:"lastActivity,omitempty"`
}

type messageResponse struct {
	UID           string               `json:"uid"`
	SessionUID    string               `json:"sessionUid"`
	Role          string               `json:"role"`
	Content       string               `json:"content"`
	Status        string               `json:"status"`
	Attachments   []string             `json:"attachments,omitempty"`
	FunctionCalls []store.FunctionCall `json:"functionCalls,omitempty"`
	Feedback      string               `json:"feedback,omitempty"`
	CreatedAt     string               `json:"createdAt"`
	CompletedAt   string               `json:"completedAt,omitempty"`
	RegeneratedAt string               `json:"regeneratedAt,omitempty"`
}

type createSessionRequest struct {
	Title  string                  `json:"title"`
	Config *store.GenerationConfig `json:"config"`
}

type updateSessionRequest struct {
	Title  *string                 `json:"title"`
	Pinned *bool                   `json:"pinned"`
	Tags   *[]string               `json:"tags"`
	Status *string                 `json:"status"`
	Config *store.GenerationConfig `json:"config"`
}

type feedbackRequest struct {
	Feedback string `json:"feedback"`
}

func convertSession(session *store.Session) *sessionResponse {
	resp := &sessionResponse{
		UID:          session.UID,
		Title:        session.Title,
		Status:       session.Status.String(),
		MessageCount: session.MessageCount,
		Pinned:       session.Pinned,
		Tags:         session.Tags,
		CreatedAt:    formatUnix(session.CreatedTs),
		UpdatedAt:    formatUnix(session.UpdatedTs),
	}
	if session.Config.Model != "" || session.Config.Extra != nil {
		config := session.Config
		resp.Config = &config
	}
	if session.LastActivityTs != 0 {
		resp.LastActivity = formatUnix(session.LastActivityTs)
	}
	return resp
}

func convertMessage(message *store.Message, sessionUID string) *messageResponse {
	resp := &messageResponse{
		UID:           message.UID,
		SessionUID:    sessionUID,
		Role:          message.Role.String(),
		Content:       message.Content,
		Status:        message.Status.String(),
		Attachments:   message.Attachments,
		FunctionCalls: message.FunctionCalls,
		Feedback:      message.Feedback,
		CreatedAt:     formatUnix(message.CreatedTs),
	}
	if message.CompletedTs != nil {
		resp.CompletedAt = formatUnix(*message.CompletedTs)
	}
	if message.RegeneratedTs != nil {
		resp.RegeneratedAt = formatUnix(*message.RegeneratedTs)
	}
	return resp
}

func formatUnix(ts int64) string {
	return time.Unix(ts, 0).UTC().Format(time.RFC3339)
}

func (s *APIV1Service) ListSessions(c echo.Context) error {
	userID := userIDFromContext(c)
	find := &store.FindSession{
		CreatorID:      &userID,
		ExcludeDeleted: true,
	}
	if pinned := c.QueryParam("pinned"); pinned == "true" {
		value := true
		find.Pinned = &value
	}
	if status := c.QueryParam("status"); status != "" {
		sessionStatus := store.SessionStatus(status)
		find.Status = &sessionStatus
	}

	sessions, err := s.Store.ListSessions(c.Request().Context(), find)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, "internal storage error")
	}

	responses := make([]*sessionResponse, 0, len(sessions))
	for _, session := range sessions {
		responses = append(responses, convertSession(session))
	}
	return c.JSON(http.StatusOK, responses)
}

func (s *APIV1Service) CreateSession(c echo.Context) error {
	userID := userIDFromContext(c)
	var request createSessionRequest
	if err := c.Bind(&request); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "malformed request body")
	}

	title := request.Title
	if title == "" {
		title = "New Chat"
	}
	config := store.GenerationConfig{Model: s.Profile.ChatModel}
	if request.Config != nil {
		config = *request.Config
		if config.Model == "" {
			config.Model = s.Profile.ChatModel
		}
	}

	now := time.Now().Unix()
	session, err := s.Store.CreateSession(c.Request().Context(), &store.Session{
		UID:            shortuuid.New(),
		CreatorID:      userID,
		Title:          title,
		Status:         store.SessionActive,
		Config:         config,
		CreatedTs:      now,
		UpdatedTs:      now,
		LastActivityTs: now,
	})
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, "internal storage error")
	}
	return c.JSON(http.StatusOK, convertSession(session))
}

func (s *APIV1Service) GetSession(c echo.Context) error {
	session, httpErr := s.findOwnedSession(c)
	if httpErr != nil {
		return httpErr
	}
	return c.JSON(http.StatusOK, convertSession(session))
}

func (s *APIV1Service) UpdateSession(c echo.Context) error {
	session, httpErr := s.findOwnedSession(c)
	if httpErr != nil {
		return httpErr
	}

	var request updateSessionRequest
	if err := c.Bind(&request); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "malformed request body")
	}

	now := time.Now().Unix()
	update := &store.UpdateSession{
		ID:        session.ID,
		CreatorID: session.CreatorID,
		Title:     request.Title,
		Pinned:    request.Pinned,
		Tags:      request.Tags,
		Config:    request.Config,
		UpdatedTs: &now,
	}
	if request.Status != nil {
		status := store.SessionStatus(*request.Status)
		if status != store.SessionActive && status != store.SessionArchived {
			return echo.NewHTTPError(http.StatusBadRequest, "status must be ACTIVE or ARCHIVED")
		}
		update.Status = &status
	}

	updated, err := s.Store.UpdateSession(c.Request().Context(), update)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, "internal storage error")
	}
	return c.JSON(http.StatusOK, convertSession(updated))
}

// DeleteSession soft-deletes: the session disappears from listings but
// its rows stay until a hard cleanup.
func (s *APIV1Service) DeleteSession(c echo.Context) error {
	session, httpErr := s.findOwnedSession(c)
	if httpErr != nil {
		return httpErr
	}

	now := time.Now().Unix()
	deleted := store.SessionDeleted
	if _, err := s.Store.UpdateSession(c.Request().Context(), &store.UpdateSession{
		ID:        session.ID,
		CreatorID: session.CreatorID,
		Status:    &deleted,
		UpdatedTs: &now,
	}); err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, "internal storage error")
	}
	return c.NoContent(http.StatusNoContent)
}

func (s *APIV1Service) ListSessionMessages(c echo.Context) error {
	session, httpErr := s.findOwnedSession(c)
	if httpErr != nil {
		return httpErr
	}

	userID := userIDFromContext(c)
	messages, err := s.Store.ListMessages(c.Request().Context(), &store.FindMessage{
		SessionID: &session.ID,
		CreatorID: &userID,
	})
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, "internal storage error")
	}

	responses := make([]*messageResponse, 0, len(messages))
	for _, message := range messages {
		responses = append(responses, convertMessage(message, session.UID))
	}
	return c.JSON(http.StatusOK, responses)
}

func (s *APIV1Service) SetMessageFeedback(c echo.Context) error {
	userID := userIDFromContext(c)
	uid := c.Param("uid")

	var request feedbackRequest
	if err := c.Bind(&request); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "malformed request body")
	}
	if request.Feedback != "up" && request.Feedback != "down" && request.Feedback != "" {
		return echo.NewHTTPError(http.StatusBadRequest, "feedback must be up, down, or empty")
	}

	ctx := c.Request().Context()
	message, err := s.Store.GetMessage(ctx, &store.FindMessage{UID: &uid, CreatorID: &userID})
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, "internal storage error")
	}
	if message == nil {
		return echo.NewHTTPError(http.StatusNotFound, "not found")
	}

	now := time.Now().Unix()
	updated, err := s.Store.UpdateMessage(ctx, &store.UpdateMessage{
		ID:        message.ID,
		CreatorID: userID,
		Feedback:  &request.Feedback,
		UpdatedTs: &now,
	})
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, "internal storage error")
	}

	session, err := s.Store.GetSession(ctx, &store.FindSession{ID: &updated.SessionID, CreatorID: &userID})
	if err != nil || session == nil {
		return c.JSON(http.StatusOK, convertMessage(updated, ""))
	}
	return c.JSON(http.StatusOK, convertMessage(updated, session.UID))
}

func (s *APIV1Service) findOwnedSession(c echo.Context) (*store.Session, *echo.HTTPError) {
	userID := userIDFromContext(c)
	uid := c.Param("uid")
	session, err := s.Store.GetSession(c.Request().Context(), &store.FindSession{
		UID:            &uid,
		CreatorID:      &userID,
		ExcludeDeleted: true,
	})
	if err != nil {
		return nil, echo.NewHTTPError(http.StatusInternalServerError, "internal storage error")
	}
	if session == nil {
		return nil, echo.NewHTTPError(http.StatusNotFound, "not found")
	}
	return session, nil
}
