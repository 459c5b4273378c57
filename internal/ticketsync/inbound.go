package ticketsync

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/rs/zerolog"

	"github.com/ticketbridge/internal/chat"
	"github.com/ticketbridge/internal/conversation"
	"github.com/ticketbridge/internal/helpdesk"
	"github.com/ticketbridge/internal/identity"
	"github.com/ticketbridge/internal/render"
	"github.com/ticketbridge/internal/signals"
	"github.com/ticketbridge/internal/store"
	"github.com/ticketbridge/internal/synclock"
	"github.com/ticketbridge/internal/ticketlink"
)

// InboundRequest is one helpdesk webhook delivery.
type InboundRequest struct {
	OrgID     int64
	TicketURL string
	// Status and ExternalUserID are only set when the ticket status
	// changed. ExternalUserID is zero when the helpdesk sent no actor.
	Status         string
	ExternalUserID int64
}

// RetryBudget tells the engine which attempt of a queued job it is running.
type RetryBudget struct {
	Attempt     int
	MaxAttempts int
}

// Final reports whether no further attempt will follow this one.
func (b RetryBudget) Final() bool {
	return b.MaxAttempts > 0 && b.Attempt >= b.MaxAttempts
}

// ImportResult counts what one inbound run did.
type ImportResult struct {
	Seen    int
	Posted  int
	Skipped int
	Failed  int
	// Aborted is set when a comment page could not be fetched.
	Aborted       bool
	StatusChanged bool
	Closed        bool
}

// ImportTicketActivity replays new ticket comments into the chat thread and
// reconciles the ticket status with the conversation. Expected conditions
// such as an untracked ticket return a nil error. Unexpected errors are
// returned so the job is retried, except on the final attempt where they
// are logged and dropped.
func (e *Engine) ImportTicketActivity(ctx context.Context, req InboundRequest, budget RetryBudget) (*ImportResult, error) {
	result := &ImportResult{}
	err := e.importTicketActivity(ctx, req, result)
	if err == nil {
		return result, nil
	}
	if budget.Final() {
		e.logger.Error().Err(err).
			Int64("org_id", req.OrgID).
			Str("ticket_url", req.TicketURL).
			Int("attempt", budget.Attempt).
			Msg("Ticket sync failed on final attempt, giving up")
		return result, nil
	}
	return result, err
}

func (e *Engine) importTicketActivity(ctx context.Context, req InboundRequest, result *ImportResult) error {
	log := e.logger.With().Int64("org_id", req.OrgID).Str("ticket_url", req.TicketURL).Logger()

	ref, ok := ticketlink.ParseTicketReference(req.TicketURL)
	if !ok {
		log.Warn().Msg("Ignoring webhook with unrecognized ticket url")
		return nil
	}

	org, err := e.store.GetOrganization(ctx, req.OrgID)
	if errors.Is(err, store.ErrNotFound) {
		log.Warn().Msg("Webhook for unknown organization")
		return nil
	}
	if err != nil {
		return fmt.Errorf("load organization %d: %w", req.OrgID, err)
	}
	if !org.Enabled {
		log.Info().Msg("Organization is disabled, skipping ticket sync")
		return nil
	}

	lease, err := e.locker.Acquire(ctx, synclock.Key(EngineName, org.ID, ref.String()), e.cfg.LockWait)
	if err != nil {
		log.Warn().Err(err).Dur("waited", e.cfg.LockWait).Msg("Could not acquire ticket sync lock, continuing without it")
	} else {
		defer func() {
			if err := lease.Release(context.WithoutCancel(ctx)); err != nil {
				log.Warn().Err(err).Msg("Failed to release ticket sync lock")
			}
		}()
	}

	client, integration, err := e.clientFor(ctx, org.ID)
	if err != nil {
		return err
	}
	if client == nil {
		log.Info().Msg("Organization has no helpdesk credentials, skipping ticket sync")
		return nil
	}
	if !strings.EqualFold(integration.Subdomain, ref.Subdomain) {
		log.Warn().Str("subdomain", integration.Subdomain).Msg("Ticket belongs to a different helpdesk subdomain")
		return nil
	}

	conv, err := e.links.FindConversation(ctx, org.ID, ref)
	if err != nil {
		return err
	}
	if conv == nil {
		log.Info().Msg("Ticket is not linked to a conversation")
		return nil
	}
	log = e.conversationLogger(conv, &ref)

	if err := e.importComments(ctx, client, org, conv, ref, result, log); err != nil {
		return err
	}
	log.Info().
		Int("seen", result.Seen).
		Int("posted", result.Posted).
		Int("skipped", result.Skipped).
		Int("failed", result.Failed).
		Msg("Imported ticket comments")
	if result.Aborted {
		return nil
	}

	return e.reconcileStatus(ctx, client, org, conv, ref, req, result, log)
}

// importComments walks comment pages from the stored marker. The marker
// only moves once every page has been read.
func (e *Engine) importComments(ctx context.Context, client HelpdeskClient, org *conversation.Organization, conv *conversation.Conversation, ref ticketlink.TicketReference, result *ImportResult, log zerolog.Logger) error {
	marker, err := e.setting(ctx, conv.ID, SettingCommentMarker)
	if err != nil {
		return err
	}
	cursor := marker

	var next string
	for {
		page, err := client.ListTicketComments(ctx, ref.TicketID, e.cfg.PageSize, cursor)
		if err != nil {
			log.Error().Err(err).Str("cursor", cursor).Msg("Failed to fetch ticket comments, aborting sync")
			result.Aborted = true
			return nil
		}
		for i := range page.Comments {
			e.importComment(ctx, client, org, conv, &page.Comments[i], result, log)
		}
		if page.Meta.AfterCursor != "" {
			next = page.Meta.AfterCursor
		}
		if !page.Meta.HasMore || page.Meta.AfterCursor == "" {
			break
		}
		cursor = page.Meta.AfterCursor
	}

	if result.Seen == 0 {
		// An empty walk never moves the marker.
		if marker == "" && next != "" {
			log.Error().Str("cursor", next).Msg("Helpdesk returned a cursor without any comments, marker left unset")
		}
		return nil
	}
	if next == "" {
		if result.Seen > 0 {
			log.Error().Int("seen", result.Seen).Msg("Helpdesk returned comments without a cursor, marker not advanced")
		}
		return nil
	}
	return e.setSetting(ctx, conv.ID, SettingCommentMarker, next)
}

func (e *Engine) importComment(ctx context.Context, client HelpdeskClient, org *conversation.Organization, conv *conversation.Conversation, c *helpdesk.Comment, result *ImportResult, log zerolog.Logger) {
	result.Seen++
	log = log.With().Int64("comment_id", c.ID).Logger()

	if c.CreatedBy(helpdesk.ProductToken) {
		log.Debug().Str("client", c.Metadata.System.Client).Msg("Skipping comment written by this service")
		result.Skipped++
		return
	}
	if !c.Public {
		result.Skipped++
		return
	}

	display, err := e.identities.ResolveDisplayInfo(ctx, client, org, c.AuthorID)
	if err != nil {
		log.Warn().Err(err).Int64("author_id", c.AuthorID).Msg("Could not resolve comment author")
		display = &identity.DisplayInfo{Name: "Helpdesk"}
	}

	rendered, err := e.renderer.RenderComment(ctx, org, commentForRender(c))
	if err != nil {
		log.Error().Err(err).Msg("Failed to render ticket comment")
		result.Failed++
		return
	}

	post := chat.PostMessageRequest{
		Channel:  conv.RoomID,
		ThreadTS: conv.FirstMessageID,
		Text:     rendered.Text,
		Username: display.Name,
		IconURL:  display.AvatarURL,
		Blocks:   rendered.Blocks,
	}
	if _, err := e.chat.PostMessage(ctx, post); err != nil {
		log.Warn().Err(err).Msg("Failed to post comment, retrying without attachments")
		post.Blocks = chat.WithoutAttachments(post.Blocks)
		if _, err := e.chat.PostMessage(ctx, post); err != nil {
			log.Error().Err(err).Msg("Failed to post comment to chat")
			result.Failed++
			return
		}
	}
	result.Posted++
}

func commentForRender(c *helpdesk.Comment) render.Comment {
	out := render.Comment{Body: c.Body}
	if out.Body == "" {
		out.Body = c.PlainBody
	}
	for _, f := range c.Attachments {
		out.Attachments = append(out.Attachments, render.Attachment{
			Name:        f.FileName,
			URL:         f.ContentURL,
			ContentType: f.ContentType,
		})
	}
	return out
}

// reconcileStatus applies a webhook-carried status to the conversation.
func (e *Engine) reconcileStatus(ctx context.Context, client HelpdeskClient, org *conversation.Organization, conv *conversation.Conversation, ref ticketlink.TicketReference, req InboundRequest, result *ImportResult, log zerolog.Logger) error {
	if req.Status == "" || req.ExternalUserID == 0 {
		return nil
	}
	last, err := e.setting(ctx, conv.ID, SettingLastStatus)
	if err != nil {
		return err
	}
	if strings.EqualFold(last, req.Status) {
		return nil
	}
	log = log.With().Str("status", req.Status).Str("last_status", last).Logger()

	if IsResolvedStatus(req.Status) && conv.State.IsOpen() {
		actor := e.statusActor(ctx, client, org, req.ExternalUserID, log)
		if err := e.store.UpdateConversationState(ctx, conv.ID, conversation.StateClosed, actor); err != nil {
			return fmt.Errorf("close conversation %d: %w", conv.ID, err)
		}
		result.Closed = true
		log.Info().Int64("actor_id", actor.ID).Msg("Closed conversation after ticket was resolved")
	}

	changed := ref.WithStatus(req.Status)
	payload := signals.TicketStatusChangedPayload{
		TicketURL:      changed.String(),
		Status:         changed.Status,
		ConversationID: conv.ID,
		OrganizationID: org.ID,
	}
	if err := e.signals.Publish(ctx, signals.TicketStatusChanged, payload); err != nil {
		log.Error().Err(err).Msg("Failed to publish ticket status signal")
	}

	if err := e.setSetting(ctx, conv.ID, SettingLastStatus, req.Status); err != nil {
		return err
	}
	result.StatusChanged = true
	return nil
}

// statusActor finds the local actor behind a helpdesk user, falling back
// to the system actor.
func (e *Engine) statusActor(ctx context.Context, client HelpdeskClient, org *conversation.Organization, externalUserID int64, log zerolog.Logger) *conversation.Actor {
	info, err := e.identities.ResolveDisplayInfo(ctx, client, org, externalUserID)
	if err != nil {
		log.Debug().Err(err).Int64("external_user_id", externalUserID).Msg("Status change actor not resolvable, using system actor")
		return conversation.SystemActor(org.ID)
	}
	if info.Actor == nil {
		return conversation.SystemActor(org.ID)
	}
	return info.Actor
}

// ResetCommentMarker forgets how far comment import has progressed for the
// conversation linked to ticketURL, so the next sync starts from the first
// comment.
func (e *Engine) ResetCommentMarker(ctx context.Context, orgID int64, ticketURL string) error {
	ref, ok := ticketlink.ParseTicketReference(ticketURL)
	if !ok {
		return fmt.Errorf("not a ticket url: %q", ticketURL)
	}
	conv, err := e.links.FindConversation(ctx, orgID, ref)
	if err != nil {
		return err
	}
	if conv == nil {
		return fmt.Errorf("no conversation is linked to %s", ref)
	}
	if err := e.store.DeleteSetting(ctx, store.ConversationScope(conv.ID), SettingCommentMarker); err != nil {
		return fmt.Errorf("reset %s: %w", SettingCommentMarker, err)
	}
	log := e.conversationLogger(conv, &ref)
	log.Info().Msg("Comment marker reset")
	return nil
}
