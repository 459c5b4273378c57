package api

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"

	"github.com/ticketbridge/internal/conversation"
	"github.com/ticketbridge/internal/helpdesk"
	"github.com/ticketbridge/internal/jobqueue"
	"github.com/ticketbridge/internal/store"
	"github.com/ticketbridge/internal/ticketsync"
)

type MessageEvent struct {
	ConversationID int64 `json:"conversationId"`
	MessageID      int64 `json:"messageId"`
}

type StateChangeEvent struct {
	ConversationID int64              `json:"conversationId"`
	OldState       conversation.State `json:"oldState"`
	NewState       conversation.State `json:"newState"`
	ActorID        int64              `json:"actorId"`
}

type CreateTicketRequest struct {
	ActorID int64             `json:"actorId"`
	Fields  map[string]string `json:"fields"`
}

type ImportThreadRequest struct {
	MessageIDs []int64 `json:"messageIds"`
}

func validState(s conversation.State) bool {
	switch s {
	case conversation.StateNew, conversation.StateWaiting, conversation.StateSnoozed, conversation.StateClosed:
		return true
	}
	return false
}

func (s *Server) handleMessageEvent(c echo.Context) error {
	var ev MessageEvent
	if err := c.Bind(&ev); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if ev.ConversationID <= 0 || ev.MessageID <= 0 {
		return echo.NewHTTPError(http.StatusBadRequest, "conversationId and messageId are required")
	}
	conv, err := s.authorizedConversation(c, ev.ConversationID)
	if err != nil {
		return err
	}
	msg, err := s.store.GetMessage(c.Request().Context(), ev.MessageID)
	if errors.Is(err, store.ErrNotFound) || (err == nil && msg.ConversationID != conv.ID) {
		return echo.NewHTTPError(http.StatusNotFound, "message not found")
	}
	if err != nil {
		return s.internalError(err, "load message")
	}
	err = s.queue.EnqueueOutboundMessage(c.Request().Context(), jobqueue.OutboundMessageArgs{
		ConversationID: ev.ConversationID,
		MessageID:      ev.MessageID,
	})
	return s.queued(c, err)
}

func (s *Server) handleStateChangeEvent(c echo.Context) error {
	var ev StateChangeEvent
	if err := c.Bind(&ev); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if ev.ConversationID <= 0 || !validState(ev.NewState) {
		return echo.NewHTTPError(http.StatusBadRequest, "conversationId and a valid newState are required")
	}
	conv, err := s.authorizedConversation(c, ev.ConversationID)
	if err != nil {
		return err
	}
	if ev.ActorID != 0 {
		actor, err := s.store.GetActor(c.Request().Context(), ev.ActorID)
		if errors.Is(err, store.ErrNotFound) || (err == nil && actor.OrgID != conv.OrgID) {
			return echo.NewHTTPError(http.StatusBadRequest, "unknown actor")
		}
		if err != nil {
			return s.internalError(err, "load actor")
		}
	}
	err = s.queue.EnqueueStateChange(c.Request().Context(), jobqueue.StateChangeArgs{
		ConversationID: ev.ConversationID,
		OldState:       ev.OldState,
		NewState:       ev.NewState,
		ActorID:        ev.ActorID,
	})
	return s.queued(c, err)
}

// handleCreateTicket opens and links a ticket synchronously so the caller
// gets the ticket URL back.
func (s *Server) handleCreateTicket(c echo.Context) error {
	ctx := c.Request().Context()
	convID, err := pathID(c, "id")
	if err != nil {
		return err
	}
	var req CreateTicketRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	conv, err := s.authorizedConversation(c, convID)
	if err != nil {
		return err
	}
	fields, err := helpdesk.BindFields(req.Fields)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}

	actor := conversation.SystemActor(conv.OrgID)
	if req.ActorID != 0 {
		actor, err = s.store.GetActor(ctx, req.ActorID)
		if errors.Is(err, store.ErrNotFound) || (err == nil && actor.OrgID != conv.OrgID) {
			return echo.NewHTTPError(http.StatusBadRequest, "unknown actor")
		}
		if err != nil {
			return s.internalError(err, "load actor")
		}
	}

	ref, err := s.linker.CreateAndLink(ctx, conv, actor, fields)
	switch {
	case errors.Is(err, ticketsync.ErrAlreadyLinked):
		return c.JSON(http.StatusConflict, map[string]string{"ticketUrl": ref.String(), "error": err.Error()})
	case errors.Is(err, ticketsync.ErrNotConfigured), errors.Is(err, ticketsync.ErrNoHelpdeskUser):
		return echo.NewHTTPError(http.StatusUnprocessableEntity, err.Error())
	case err != nil:
		return s.internalError(err, "create ticket")
	case ref == nil:
		return echo.NewHTTPError(http.StatusBadGateway, "the helpdesk refused the ticket; see the conversation for details")
	}
	return c.JSON(http.StatusCreated, map[string]string{"ticketUrl": ref.String(), "webUrl": ref.WebURL()})
}

func (s *Server) handleImportThread(c echo.Context) error {
	convID, err := pathID(c, "id")
	if err != nil {
		return err
	}
	var req ImportThreadRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if _, err := s.authorizedConversation(c, convID); err != nil {
		return err
	}
	err = s.queue.EnqueueImportThread(c.Request().Context(), jobqueue.ImportThreadArgs{
		ConversationID: convID,
		MessageIDs:     req.MessageIDs,
	})
	return s.queued(c, err)
}

func (s *Server) handleInstall(c echo.Context) error   { return s.queueInstall(c, false) }
func (s *Server) handleUninstall(c echo.Context) error { return s.queueInstall(c, true) }

func (s *Server) queueInstall(c echo.Context, uninstall bool) error {
	orgID, err := pathID(c, "id")
	if err != nil {
		return err
	}
	if err := authorizeOrg(c, orgID); err != nil {
		return err
	}
	err = s.queue.EnqueueInstall(c.Request().Context(), jobqueue.HelpdeskInstallArgs{OrgID: orgID, Uninstall: uninstall})
	return s.queued(c, err)
}

// authorizedConversation loads a conversation the token's organization owns.
func (s *Server) authorizedConversation(c echo.Context, id int64) (*conversation.Conversation, error) {
	conv, err := s.store.GetConversation(c.Request().Context(), id)
	if errors.Is(err, store.ErrNotFound) {
		return nil, echo.NewHTTPError(http.StatusNotFound, "conversation not found")
	}
	if err != nil {
		return nil, s.internalError(err, "load conversation")
	}
	if err := authorizeOrg(c, conv.OrgID); err != nil {
		return nil, err
	}
	return conv, nil
}

func (s *Server) queued(c echo.Context, err error) error {
	if err != nil {
		s.logger.Error().Err(err).Str("path", c.Path()).Msg("Failed to queue job")
		return echo.NewHTTPError(http.StatusServiceUnavailable, "could not queue job")
	}
	return c.JSON(http.StatusAccepted, map[string]string{"status": "queued"})
}

func (s *Server) internalError(err error, what string) error {
	s.logger.Error().Err(err).Msg("Failed to " + what)
	return echo.NewHTTPError(http.StatusInternalServerError)
}

func pathID(c echo.Context, name string) (int64, error) {
	id, err := strconv.ParseInt(c.Param(name), 10, 64)
	if err != nil || id <= 0 {
		return 0, echo.NewHTTPError(http.StatusBadRequest, "invalid "+name)
	}
	return id, nil
}
