package http

import (
	"net/http"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/askd/internal/conversation"
	"github.com/fyrsmithlabs/askd/internal/logging"
)

// handleHealth returns a simple health check response.
func (s *Server) handleHealth(c echo.Context) error {
	return c.JSON(http.StatusOK, HealthResponse{Status: "ok"})
}

// handleStart runs a new conversation until it suspends or stops.
func (s *Server) handleStart(c echo.Context) error {
	var req StartRequest
	if err := c.Bind(&req); err != nil {
		s.logger.Warn(c.Request().Context(), "invalid start request", zap.Error(err))
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	ctx := logging.WithRequesterID(c.Request().Context(), req.Requester.ID)

	res, err := s.conversations.Start(ctx, req.Query, req.Requester)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusCreated, res)
}

// handleResume delivers an approval decision.
func (s *Server) handleResume(c echo.Context) error {
	var req ResumeRequest
	if err := c.Bind(&req); err != nil {
		s.logger.Warn(c.Request().Context(), "invalid resume request", zap.Error(err))
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	d, err := conversation.ParseDecision(req.Decision)
	if err != nil {
		return err
	}
	res, err := s.conversations.Resume(c.Request().Context(), c.Param("id"), d, req.ApproverID)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, res)
}

// handleCancel stops a conversation. Unknown and finished conversations
// are accepted as well.
func (s *Server) handleCancel(c echo.Context) error {
	if err := s.conversations.Cancel(c.Request().Context(), c.Param("id")); err != nil {
		return err
	}
	return c.NoContent(http.StatusAccepted)
}

// handleGet returns the caller-facing view of a conversation.
func (s *Server) handleGet(c echo.Context) error {
	conv, err := s.conversations.Get(c.Request().Context(), c.Param("id"))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, conv)
}

// handleList lists the conversations in ?status=, pending approvals by
// default.
func (s *Server) handleList(c echo.Context) error {
	status := conversation.Status(c.QueryParam("status"))
	if status == "" {
		status = conversation.StatusSuspendedForApproval
	}
	if !status.IsTerminal() && !status.IsSuspended() && status != conversation.StatusRunning {
		return &conversation.ValidationError{Field: "status", Reason: "unknown status " + string(status)}
	}
	convs, err := s.conversations.List(c.Request().Context(), status)
	if err != nil {
		return err
	}
	out := ListResponse{Conversations: make([]ConversationSummary, 0, len(convs))}
	for _, conv := range convs {
		out.Conversations = append(out.Conversations, ConversationSummary{
			ConversationID: conv.ID,
			Status:         conv.Status,
			Stage:          conv.Stage,
			RequesterID:    conv.Requester.ID,
			Approval:       conv.Approval.Status,
			UpdatedAt:      conv.UpdatedAt,
		})
	}
	return c.JSON(http.StatusOK, out)
}
