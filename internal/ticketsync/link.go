package ticketsync

import (
	"context"
	"errors"
	"fmt"

	"github.com/ticketbridge/internal/conversation"
	"github.com/ticketbridge/internal/helpdesk"
	"github.com/ticketbridge/internal/ticketlink"
)

var (
	ErrAlreadyLinked  = errors.New("conversation already has a ticket")
	ErrNotConfigured  = errors.New("organization has no helpdesk integration")
	ErrNoHelpdeskUser = errors.New("no helpdesk user for actor")
)

// CreateAndLink opens a ticket for conv on behalf of actor, links it, and
// pushes the replies already in the thread. It returns nil with a nil
// error when the helpdesk refused the ticket; the failure has then been
// reported in the conversation.
func (e *Engine) CreateAndLink(ctx context.Context, conv *conversation.Conversation, actor *conversation.Actor, fields []helpdesk.TicketField) (*ticketlink.TicketReference, error) {
	existing, err := e.links.GetLink(ctx, conv.ID)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return existing, ErrAlreadyLinked
	}

	org, err := e.store.GetOrganization(ctx, conv.OrgID)
	if err != nil {
		return nil, fmt.Errorf("load organization %d: %w", conv.OrgID, err)
	}
	client, _, err := e.clientFor(ctx, org.ID)
	if err != nil {
		return nil, err
	}
	if client == nil {
		return nil, ErrNotConfigured
	}
	log := e.conversationLogger(conv, nil)

	msgs, err := e.store.ListMessages(ctx, conv.ID)
	if err != nil {
		return nil, fmt.Errorf("list messages: %w", err)
	}

	// The thread starter asked the question, so they are the requester.
	requesterActor := actor
	if len(msgs) > 0 && msgs[0].Author != nil && !msgs[0].Author.IsSystem {
		requesterActor = msgs[0].Author
	}
	requester, err := e.identities.ResolveExternalUser(ctx, client, org, requesterActor)
	if err != nil {
		return nil, fmt.Errorf("resolve requester: %w", err)
	}
	if requester == nil {
		return nil, ErrNoHelpdeskUser
	}

	create := helpdesk.TicketCreate{
		Subject:     conv.Title,
		RequesterID: requester.ID,
	}
	if len(msgs) > 0 {
		html, err := e.renderer.RenderHTML(ctx, org, msgs[0])
		if err != nil {
			return nil, fmt.Errorf("render first message: %w", err)
		}
		create.Comment = &helpdesk.NewComment{HTMLBody: html, Public: true, AuthorID: requester.ID}
	}
	helpdesk.ApplyFields(&create, fields)

	var ticket *helpdesk.Ticket
	created := e.mutateTicket(ctx, conv, actor, "create the ticket", func(ctx context.Context) error {
		t, err := client.CreateTicket(ctx, create)
		ticket = t
		return err
	})
	if !created {
		return nil, nil
	}

	ref := ticketlink.TicketReference{Subdomain: client.Subdomain(), TicketID: ticket.ID}
	if _, err := e.links.Link(ctx, conv, ref, actor); err != nil {
		return nil, err
	}
	if err := e.setSetting(ctx, conv.ID, SettingLastStatus, ticket.Status); err != nil {
		return nil, err
	}
	log.Info().Str("ticket_url", ref.String()).Msg("Created and linked ticket")

	if len(msgs) > 1 {
		if err := e.ImportThread(ctx, conv, msgs[1:]); err != nil {
			return &ref, err
		}
	}
	return &ref, nil
}
