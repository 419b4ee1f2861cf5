package api

import (
	"errors"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"

	"workbench/internal/action"
	"workbench/internal/chat"
	"workbench/internal/dispatch"
	"workbench/internal/runstate"
	"workbench/internal/session"
)

func (s *Server) handleSession(c echo.Context) error {
	return c.JSON(http.StatusOK, s.session.State())
}

func (s *Server) handleClear(c echo.Context) error {
	if err := s.session.ClearSession(); err != nil {
		return s.fail(c, err)
	}
	return c.JSON(http.StatusOK, s.session.State())
}

type chatRequest struct {
	Content string `json:"content"`
}

// chatFailure carries the errored run next to the message so clients can
// offer a retry.
type chatFailure struct {
	Error     string            `json:"error"`
	RequestID string            `json:"requestId"`
	Run       runstate.RunState `json:"run"`
	Retryable bool              `json:"retryable"`
}

func (s *Server) handleChat(c echo.Context) error {
	var req chatRequest
	if err := c.Bind(&req); err != nil {
		return errorJSON(c, http.StatusBadRequest, "invalid request body")
	}
	res, err := s.session.SendMessage(c.Request().Context(), req.Content)
	return s.chatResponse(c, res, err)
}

func (s *Server) handleRetry(c echo.Context) error {
	res, err := s.session.RetryLastMessage(c.Request().Context())
	return s.chatResponse(c, res, err)
}

func (s *Server) chatResponse(c echo.Context, res session.SendResult, err error) error {
	if err == nil {
		return c.JSON(http.StatusOK, res)
	}
	var dispatchErr *dispatch.Error
	if !errors.As(err, &dispatchErr) {
		return s.fail(c, err)
	}
	return c.JSON(statusFor(err), chatFailure{
		Error:     err.Error(),
		RequestID: res.RequestID,
		Run:       res.Run,
		Retryable: true,
	})
}

func (s *Server) handleSettings(c echo.Context) error {
	var patch chat.SettingsPatch
	if err := c.Bind(&patch); err != nil {
		return errorJSON(c, http.StatusBadRequest, "invalid request body")
	}
	return c.JSON(http.StatusOK, s.session.UpdateSettings(patch))
}

func (s *Server) handleReminder(c echo.Context) error {
	var patch chat.ReminderPatch
	if err := c.Bind(&patch); err != nil {
		return errorJSON(c, http.StatusBadRequest, "invalid request body")
	}
	return c.JSON(http.StatusOK, s.session.UpdateReminderConfig(patch))
}

// executeRequest names a pending proposal either by id or by echoing the
// proposal itself.
type executeRequest struct {
	ID     string           `json:"id"`
	Action *action.Proposal `json:"action"`
}

func (s *Server) handleExecute(c echo.Context) error {
	var req executeRequest
	if err := c.Bind(&req); err != nil {
		return errorJSON(c, http.StatusBadRequest, "invalid request body")
	}
	id := strings.TrimSpace(req.ID)
	if id == "" && req.Action != nil {
		id = strings.TrimSpace(req.Action.ID)
	}
	if id == "" {
		return errorJSON(c, http.StatusBadRequest, "id or action is required")
	}
	res, err := s.session.ExecuteAction(c.Request().Context(), id)
	if err != nil {
		return s.fail(c, err)
	}
	return c.JSON(http.StatusOK, res)
}

type executeBatchRequest struct {
	RequestID string            `json:"requestId"`
	IDs       []string          `json:"ids"`
	Actions   []action.Proposal `json:"actions"`
}

func (s *Server) handleExecuteBatch(c echo.Context) error {
	var req executeBatchRequest
	if err := c.Bind(&req); err != nil {
		return errorJSON(c, http.StatusBadRequest, "invalid request body")
	}
	ids := make([]string, 0, len(req.IDs)+len(req.Actions))
	for _, id := range req.IDs {
		if id = strings.TrimSpace(id); id != "" {
			ids = append(ids, id)
		}
	}
	for _, p := range req.Actions {
		if id := strings.TrimSpace(p.ID); id != "" {
			ids = append(ids, id)
		}
	}
	res, err := s.session.ExecuteBatch(c.Request().Context(), ids)
	if err != nil {
		return s.fail(c, err)
	}
	if req.RequestID != "" {
		s.logger.Debug("batch requested", "request_id", req.RequestID, "batch_id", res.BatchID)
	}
	return c.JSON(http.StatusOK, res)
}

func (s *Server) handleDismiss(c echo.Context) error {
	id := c.Param("id")
	return c.JSON(http.StatusOK, map[string]interface{}{
		"dismissed": s.session.DismissAction(id),
		"pending":   s.session.Pending(),
	})
}

func (s *Server) handleAudit(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]interface{}{"records": s.session.Audit()})
}

func (s *Server) handleCapabilities(c echo.Context) error {
	if s.tooling == nil {
		return c.JSON(http.StatusOK, map[string]interface{}{"builtinTools": action.BuiltinTypes()})
	}
	return c.JSON(http.StatusOK, s.tooling.Capabilities())
}
