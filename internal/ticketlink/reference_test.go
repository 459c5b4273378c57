package ticketlink

import (
	"context"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ticketbridge/internal/conversation"
	"github.com/ticketbridge/internal/store"
)

func TestParseTicketReference(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		want TicketReference
		ok   bool
	}{
		{"api form", "https://acme.zendesk.com/api/v2/tickets/42.json", TicketReference{Subdomain: "acme", TicketID: 42}, true},
		{"web form", "https://acme.zendesk.com/agent/tickets/42", TicketReference{Subdomain: "acme", TicketID: 42}, true},
		{"mixed case and padding", "  HTTPS://Acme.Zendesk.com/agent/tickets/7 ", TicketReference{Subdomain: "acme", TicketID: 7}, true},
		{"plain http", "http://acme.zendesk.com/agent/tickets/42", TicketReference{}, false},
		{"other host", "https://acme.example.com/agent/tickets/42", TicketReference{}, false},
		{"missing id", "https://acme.zendesk.com/agent/tickets/", TicketReference{}, false},
		{"zero id", "https://acme.zendesk.com/agent/tickets/0", TicketReference{}, false},
		{"overflow", "https://acme.zendesk.com/agent/tickets/99999999999999999999", TicketReference{}, false},
		{"trailing path", "https://acme.zendesk.com/api/v2/tickets/42.json/comments", TicketReference{}, false},
		{"empty", "", TicketReference{}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := ParseTicketReference(tt.raw)
			assert.Equal(t, tt.ok, ok)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestTicketReferenceForms(t *testing.T) {
	ref := TicketReference{Subdomain: "acme", TicketID: 42}
	assert.Equal(t, "https://acme.zendesk.com/api/v2/tickets/42.json", ref.String())
	assert.Equal(t, "https://acme.zendesk.com/agent/tickets/42", ref.WebURL())

	back, ok := ParseTicketReference(ref.WebURL())
	require.True(t, ok)
	assert.True(t, back.Equal(ref))

	solved := ref.WithStatus("solved")
	assert.True(t, solved.Equal(ref), "status does not take part in equality")
	assert.Equal(t, "solved", solved.Status)
	assert.Empty(t, ref.Status)
	assert.False(t, ref.Equal(TicketReference{Subdomain: "acme", TicketID: 43}))
}

func TestUserReference(t *testing.T) {
	ref, ok := ParseUserReference("https://acme.zendesk.com/api/v2/users/9001.json")
	require.True(t, ok)
	assert.Equal(t, UserReference{Subdomain: "acme", UserID: 9001}, ref)
	assert.Equal(t, "https://acme.zendesk.com/api/v2/users/9001.json", ref.String())

	_, ok = ParseUserReference("https://acme.zendesk.com/api/v2/tickets/9001.json")
	assert.False(t, ok)
}

func TestResolver(t *testing.T) {
	ctx := context.Background()
	s := store.NewInMemoryStore()
	s.AddConversation(&conversation.Conversation{ID: 10, OrgID: 1, State: conversation.StateNew})
	s.AddConversation(&conversation.Conversation{ID: 11, OrgID: 1, State: conversation.StateNew})
	r := NewResolver(s, zerolog.Nop())

	t.Run("no link", func(t *testing.T) {
		ref, err := r.GetLink(ctx, 10)
		require.NoError(t, err)
		assert.Nil(t, ref)
	})

	t.Run("link stores canonical form", func(t *testing.T) {
		web, ok := ParseTicketReference("https://acme.zendesk.com/agent/tickets/42")
		require.True(t, ok)
		link, err := r.Link(ctx, &conversation.Conversation{ID: 10, OrgID: 1}, web, &conversation.Actor{ID: 5})
		require.NoError(t, err)
		assert.Equal(t, "https://acme.zendesk.com/api/v2/tickets/42.json", link.ExternalID)
		assert.Equal(t, int64(5), link.CreatedByID)

		ref, err := r.GetLink(ctx, 10)
		require.NoError(t, err)
		require.NotNil(t, ref)
		assert.Equal(t, int64(42), ref.TicketID)

		conv, err := r.FindConversation(ctx, 1, *ref)
		require.NoError(t, err)
		require.NotNil(t, conv)
		assert.Equal(t, int64(10), conv.ID)

		other, err := r.FindConversation(ctx, 2, *ref)
		require.NoError(t, err)
		assert.Nil(t, other, "links are scoped to the organization")
	})

	t.Run("unparseable link is ignored", func(t *testing.T) {
		require.NoError(t, s.CreateLink(ctx, &conversation.ConversationLink{
			ConversationID: 11,
			LinkType:       conversation.LinkTypeTicket,
			ExternalID:     "not a ticket",
		}))
		ref, err := r.GetLink(ctx, 11)
		require.NoError(t, err)
		assert.Nil(t, ref)
	})
}
