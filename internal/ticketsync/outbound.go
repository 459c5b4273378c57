package ticketsync

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/rs/zerolog"

	"github.com/ticketbridge/internal/conversation"
	"github.com/ticketbridge/internal/helpdesk"
	"github.com/ticketbridge/internal/ticketlink"
)

// outboundTarget is everything resolved before writing to a linked ticket.
type outboundTarget struct {
	org    *conversation.Organization
	client HelpdeskClient
	ref    ticketlink.TicketReference
	log    zerolog.Logger
}

// resolveTarget loads the link, organization and client for conv. A nil
// target with a nil error means there is nothing to sync.
func (e *Engine) resolveTarget(ctx context.Context, conv *conversation.Conversation) (*outboundTarget, error) {
	ref, err := e.links.GetLink(ctx, conv.ID)
	if err != nil {
		return nil, err
	}
	if ref == nil {
		return nil, nil
	}
	log := e.conversationLogger(conv, ref)

	org, err := e.store.GetOrganization(ctx, conv.OrgID)
	if err != nil {
		return nil, fmt.Errorf("load organization %d: %w", conv.OrgID, err)
	}
	client, _, err := e.clientFor(ctx, org.ID)
	if err != nil {
		return nil, err
	}
	if client == nil {
		log.Info().Msg("Organization has no helpdesk credentials, not syncing")
		return nil, nil
	}
	return &outboundTarget{org: org, client: client, ref: *ref, log: log}, nil
}

// OnNewMessage adds a live chat message to the conversation's ticket as a
// comment.
func (e *Engine) OnNewMessage(ctx context.Context, conv *conversation.Conversation, msg *conversation.Message) error {
	if !msg.Live {
		return nil
	}
	target, err := e.resolveTarget(ctx, conv)
	if err != nil || target == nil {
		return err
	}
	return e.pushMessages(ctx, conv, target, []*conversation.Message{msg}, "add your message to the ticket")
}

// ImportThread pushes a thread's backlog onto its ticket, in order. Used
// when a conversation is linked after it already had replies.
func (e *Engine) ImportThread(ctx context.Context, conv *conversation.Conversation, msgs []*conversation.Message) error {
	if len(msgs) == 0 {
		return nil
	}
	target, err := e.resolveTarget(ctx, conv)
	if err != nil || target == nil {
		return err
	}
	return e.pushMessages(ctx, conv, target, msgs, "import the conversation into the ticket")
}

func (e *Engine) pushMessages(ctx context.Context, conv *conversation.Conversation, target *outboundTarget, msgs []*conversation.Message, action string) error {
	ticket, ok := e.fetchTicket(ctx, conv, target, msgs[0].Author)
	if !ok {
		return nil
	}
	if IsClosedStatus(ticket.Status) {
		target.log.Info().Msg("Ticket is closed, not adding comments")
		return nil
	}

	for _, msg := range msgs {
		if msg.Author == nil || msg.Author.IsSystem {
			continue
		}
		log := target.log.With().Int64("message_id", msg.ID).Int64("actor_id", msg.Author.ID).Logger()

		user, err := e.identities.ResolveExternalUser(ctx, target.client, target.org, msg.Author)
		if err != nil {
			if isHelpdeskFailure(err) {
				e.reportFailure(ctx, conv, msg.Author, action, err)
				return nil
			}
			return fmt.Errorf("resolve helpdesk user for actor %d: %w", msg.Author.ID, err)
		}
		if user == nil {
			log.Warn().Msg("No helpdesk user for message author, stopping sync")
			return nil
		}

		html, err := e.renderer.RenderHTML(ctx, target.org, msg)
		if err != nil {
			return fmt.Errorf("render message %d: %w", msg.ID, err)
		}
		update := helpdesk.TicketUpdate{Comment: &helpdesk.NewComment{
			HTMLBody: html,
			Public:   true,
			AuthorID: user.ID,
		}}
		written := e.mutateTicket(ctx, conv, msg.Author, action, func(ctx context.Context) error {
			_, err := target.client.UpdateTicket(ctx, target.ref.TicketID, update)
			return err
		})
		if !written {
			return nil
		}
		log.Debug().Msg("Added message to ticket")
	}
	return nil
}

// fetchTicket loads the linked ticket. A missing ticket is logged; other
// helpdesk failures are reported.
func (e *Engine) fetchTicket(ctx context.Context, conv *conversation.Conversation, target *outboundTarget, actor *conversation.Actor) (*helpdesk.Ticket, bool) {
	ticket, err := target.client.GetTicket(ctx, target.ref.TicketID)
	if err == nil {
		return ticket, true
	}
	if helpdesk.IsNotFound(err) {
		target.log.Warn().Msg("Linked ticket no longer exists")
		return nil, false
	}
	e.reportFailure(ctx, conv, actor, "load the ticket", err)
	return nil, false
}

// OnStateChanged mirrors a local state change onto the ticket status.
// Changes made by the system actor came from the helpdesk and are not
// written back.
func (e *Engine) OnStateChanged(ctx context.Context, conv *conversation.Conversation, change conversation.StateChange) error {
	if change.Actor == nil || change.Actor.IsSystem {
		return nil
	}
	target, err := e.resolveTarget(ctx, conv)
	if err != nil || target == nil {
		return err
	}

	ticket, ok := e.fetchTicket(ctx, conv, target, change.Actor)
	if !ok {
		return nil
	}
	status := TargetStatus(change.NewState, change.Actor.IsSupportee, ticket.Status)
	log := target.log.With().Str("from", ticket.Status).Str("to", status).Logger()
	if strings.EqualFold(status, ticket.Status) {
		log.Debug().Msg("Ticket already has target status")
		return nil
	}

	var updated *helpdesk.Ticket
	written := e.mutateTicket(ctx, conv, change.Actor, "update the ticket status", func(ctx context.Context) error {
		t, err := target.client.UpdateTicket(ctx, target.ref.TicketID, helpdesk.TicketUpdate{Status: status})
		updated = t
		return err
	})
	if !written {
		return nil
	}

	confirmed := status
	if updated != nil && updated.Status != "" {
		confirmed = updated.Status
	}
	if err := e.setSetting(ctx, conv.ID, SettingLastStatus, confirmed); err != nil {
		return err
	}
	log.Info().Msg("Updated ticket status")
	return nil
}

func isHelpdeskFailure(err error) bool {
	var apiErr *helpdesk.APIError
	return errors.As(err, &apiErr)
}
