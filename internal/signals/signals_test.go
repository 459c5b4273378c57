package signals

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDispatcherDeliversToHooks(t *testing.T) {
	logger := zerolog.Nop()
	ch := gochannel.NewGoChannel(gochannel.Config{Persistent: true}, NewWatermillLogger(logger))
	defer ch.Close()

	dispatcher := NewDispatcher(ch, logger)
	require.NoError(t, dispatcher.Publish(context.Background(), TicketStatusChanged, TicketStatusChangedPayload{
		TicketURL:      "https://acme.zendesk.com/api/v2/tickets/7.json",
		Status:         "open",
		ConversationID: 42,
		OrganizationID: 3,
	}))

	received := make(chan TicketStatusChangedPayload, 1)
	hooks := NewHooks(ch, logger)
	hooks.On(TicketStatusChanged, func(ctx context.Context, payload json.RawMessage) error {
		return errors.New("first hook fails")
	})
	hooks.On(TicketStatusChanged, func(ctx context.Context, payload json.RawMessage) error {
		var p TicketStatusChangedPayload
		if err := json.Unmarshal(payload, &p); err != nil {
			return err
		}
		received <- p
		return nil
	})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- hooks.Run(ctx) }()

	select {
	case p := <-received:
		assert.Equal(t, "open", p.Status)
		assert.Equal(t, int64(42), p.ConversationID)
		assert.Equal(t, int64(3), p.OrganizationID)
		assert.Equal(t, "https://acme.zendesk.com/api/v2/tickets/7.json", p.TicketURL)
	case <-time.After(2 * time.Second):
		t.Fatal("hook never ran")
	}

	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("hooks did not stop")
	}
}

func TestPayloadWireNames(t *testing.T) {
	body, err := json.Marshal(TicketStatusChangedPayload{TicketURL: "u", Status: "s", ConversationID: 1, OrganizationID: 2})
	require.NoError(t, err)
	assert.JSONEq(t, `{"ticketUrl":"u","status":"s","conversationId":1,"organizationId":2}`, string(body))
}

func TestDispatcherRejectsUnencodablePayload(t *testing.T) {
	ps := NewInProcess(zerolog.Nop())
	defer ps.Close()

	err := NewDispatcher(ps.Publisher, zerolog.Nop()).Publish(context.Background(), "x", make(chan int))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "encode signal x")
}
