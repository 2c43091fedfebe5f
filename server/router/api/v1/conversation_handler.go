package v1

import (
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"

	"github.com/hrygo/parley/server/router/api/v1/ai"
)

const defaultSummaryLength = 200

// SuggestFollowUps returns up to five follow-up prompts for a session.
func (s *APIV1Service) SuggestFollowUps(c echo.Context) error {
	userID := userIDFromContext(c)
	suggestions, err := s.ChatService.Suggest(c.Request().Context(), userID, c.Param("uid"))
	if err != nil {
		return toHTTPError(err)
	}
	return c.JSON(http.StatusOK, map[string][]string{"suggestions": suggestions})
}

// SummarizeSession produces a bounded summary of the conversation.
func (s *APIV1Service) SummarizeSession(c echo.Context) error {
	userID := userIDFromContext(c)

	maxLen := defaultSummaryLength
	if raw := c.QueryParam("maxLength"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 {
			return echo.NewHTTPError(http.StatusBadRequest, "maxLength must be a positive integer")
		}
		maxLen = parsed
	}

	summary, err := s.ChatService.Summarize(c.Request().Context(), userID, c.Param("uid"), maxLen)
	if err != nil {
		return toHTTPError(err)
	}
	return c.JSON(http.StatusOK, map[string]string{"summary": summary})
}

// ExportSession downloads the conversation as json, markdown, or txt.
func (s *APIV1Service) ExportSession(c echo.Context) error {
	userID := userIDFromContext(c)

	format := ai.ExportFormat(c.QueryParam("format"))
	if format == "" {
		format = ai.ExportJSON
	}

	export, err := s.ChatService.ExportSession(c.Request().Context(), userID, c.Param("uid"), format)
	if err != nil {
		return toHTTPError(err)
	}

	c.Response().Header().Set(echo.HeaderContentDisposition, `attachment; filename="`+export.Filename+`"`)
	return c.Blob(http.StatusOK, export.ContentType, export.Data)
}

// ListModels reports the registered model names. The registry is
// fail-open, so unlisted names are still forwarded to providers.
func (s *APIV1Service) ListModels(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]any{
		"models":       s.ChatService.ModelCatalog(),
		"defaultModel": s.Profile.ChatModel,
	})
}
