package http

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/askd/internal/orchestrator"
)

// EventStream delivers the events of one conversation.
type EventStream interface {
	Next(ctx context.Context) (orchestrator.Event, error)
	Close() error
}

// EventSource opens event streams. notify.Publisher backs it in askd.
type EventSource interface {
	Watch(conversationID string) (EventStream, error)
}

// EventSourceFunc adapts a function to EventSource.
type EventSourceFunc func(conversationID string) (EventStream, error)

// Watch calls f.
func (f EventSourceFunc) Watch(conversationID string) (EventStream, error) { return f(conversationID) }

// handleEvents streams conversation events via Server-Sent Events.
//
// The first event is "status" with the current state. Transition events
// follow under their type name until the conversation finishes or the
// client disconnects. A comment line is written every heartbeat interval
// to keep proxies from closing the connection.
//
//	GET /api/v1/conversations/{id}/events
//
//	event: status
//	data: {"type":"status","conversation_id":"c1","status":"running","stage":"search"}
//
//	event: approval_requested
//	data: {"type":"approval_requested","conversation_id":"c1",...}
func (s *Server) handleEvents(c echo.Context) error {
	if s.events == nil {
		return echo.NewHTTPError(http.StatusNotImplemented, "event streaming is not enabled")
	}
	ctx := c.Request().Context()
	id := c.Param("id")

	// Subscribe before reading the state so no transition falls in between.
	stream, err := s.events.Watch(id)
	if err != nil {
		return err
	}
	defer func() {
		_ = stream.Close()
	}()

	conv, err := s.conversations.Get(ctx, id)
	if err != nil {
		return err
	}

	res := c.Response()
	res.Header().Set(echo.HeaderContentType, "text/event-stream")
	res.Header().Set(echo.HeaderCacheControl, "no-cache")
	res.Header().Set(echo.HeaderConnection, "keep-alive")
	res.Header().Set("X-Accel-Buffering", "no")
	res.WriteHeader(http.StatusOK)

	current := orchestrator.Event{
		Type:           "status",
		ConversationID: conv.ID,
		Status:         conv.Status,
		Stage:          conv.Stage,
		At:             conv.UpdatedAt,
	}
	if err := writeEvent(res, current); err != nil {
		return nil
	}
	if conv.Status.IsTerminal() {
		return nil
	}

	for {
		waitCtx, cancel := context.WithTimeout(ctx, s.config.Heartbeat)
		e, err := stream.Next(waitCtx)
		cancel()
		switch {
		case err == nil:
			if err := writeEvent(res, e); err != nil {
				return nil
			}
			if e.Type == orchestrator.EventFinished {
				return nil
			}
		case ctx.Err() != nil:
			return nil
		case errors.Is(err, context.DeadlineExceeded):
			if _, err := fmt.Fprint(res, ": heartbeat\n\n"); err != nil {
				return nil
			}
			res.Flush()
		default:
			s.logger.Warn(ctx, "event stream ended", zap.String("conversation_id", id), zap.Error(err))
			return nil
		}
	}
}

func writeEvent(res *echo.Response, e orchestrator.Event) error {
	data, err := json.Marshal(e)
	if err != nil {
		return err
	}
	if _, err := fmt.Fprintf(res, "event: %s\ndata: %s\n\n", e.Type, data); err != nil {
		return err
	}
	res.Flush()
	return nil
}
