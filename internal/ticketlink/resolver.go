package ticketlink

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/ticketbridge/internal/conversation"
	"github.com/ticketbridge/internal/store"
)

// LinkStore is the slice of the store the resolver needs.
type LinkStore interface {
	GetLink(ctx context.Context, conversationID int64, linkType conversation.LinkType) (*conversation.ConversationLink, error)
	FindConversationByLink(ctx context.Context, orgID int64, linkType conversation.LinkType, externalID string) (*conversation.Conversation, error)
	CreateLink(ctx context.Context, link *conversation.ConversationLink) error
}

// Resolver maps conversations to ticket references and back.
type Resolver struct {
	links  LinkStore
	logger zerolog.Logger
}

func NewResolver(links LinkStore, logger zerolog.Logger) *Resolver {
	return &Resolver{links: links, logger: logger}
}

// GetLink returns the conversation's ticket reference, or nil when the
// conversation has no ticket link or the stored value no longer parses.
func (r *Resolver) GetLink(ctx context.Context, conversationID int64) (*TicketReference, error) {
	link, err := r.links.GetLink(ctx, conversationID, conversation.LinkTypeTicket)
	if errors.Is(err, store.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load ticket link for conversation %d: %w", conversationID, err)
	}

	ref, ok := ParseTicketReference(link.ExternalID)
	if !ok {
		r.logger.Warn().
			Int64("conversation_id", conversationID).
			Str("external_id", link.ExternalID).
			Msg("Ignoring ticket link with unparseable external id")
		return nil, nil
	}
	return &ref, nil
}

// FindConversation returns the conversation linked to ref, or nil when the
// ticket is not tracked.
func (r *Resolver) FindConversation(ctx context.Context, orgID int64, ref TicketReference) (*conversation.Conversation, error) {
	conv, err := r.links.FindConversationByLink(ctx, orgID, conversation.LinkTypeTicket, ref.String())
	if errors.Is(err, store.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("find conversation for %s: %w", ref, err)
	}
	return conv, nil
}

// Link records ref as the conversation's ticket link using the canonical form.
func (r *Resolver) Link(ctx context.Context, conv *conversation.Conversation, ref TicketReference, createdBy *conversation.Actor) (*conversation.ConversationLink, error) {
	link := &conversation.ConversationLink{
		ConversationID: conv.ID,
		LinkType:       conversation.LinkTypeTicket,
		ExternalID:     ref.String(),
	}
	if createdBy != nil {
		link.CreatedByID = createdBy.ID
	}
	if err := r.links.CreateLink(ctx, link); err != nil {
		return nil, fmt.Errorf("link conversation %d to %s: %w", conv.ID, ref, err)
	}
	return link, nil
}
