// Package notify tells people in a conversation that a sync step failed.
package notify

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/ticketbridge/internal/store"
)

// TypeSyncFailed marks notifications raised by the sync engine.
const TypeSyncFailed = "ticket_sync_failed"

type Publisher interface {
	Publish(ctx context.Context, n *store.Notification) error
}

// Failure builds the notification for a helpdesk operation that could not
// be completed. Reasons are appended as a list under the summary.
func Failure(orgID, conversationID, actorID int64, action string, reasons ...string) *store.Notification {
	var kept []string
	for _, r := range reasons {
		if r = strings.TrimSpace(r); r != "" {
			kept = append(kept, r)
		}
	}
	body := strings.Join(kept, "\n")
	if len(kept) > 1 {
		body = "- " + strings.Join(kept, "\n- ")
	}
	return &store.Notification{
		OrgID:          orgID,
		ConversationID: conversationID,
		ActorID:        actorID,
		Type:           TypeSyncFailed,
		Title:          fmt.Sprintf("Could not %s", action),
		Body:           body,
	}
}

// StorePublisher persists notifications for the chat product to show.
type StorePublisher struct {
	store  store.NotificationStore
	logger zerolog.Logger
	now    func() time.Time
}

func NewStorePublisher(s store.NotificationStore, logger zerolog.Logger) *StorePublisher {
	return &StorePublisher{store: s, logger: logger, now: time.Now}
}

func (p *StorePublisher) Publish(ctx context.Context, n *store.Notification) error {
	if n.CreatedAt.IsZero() {
		n.CreatedAt = p.now().UTC()
	}
	if err := p.store.CreateNotification(ctx, n); err != nil {
		return fmt.Errorf("store notification: %w", err)
	}
	p.logger.Info().
		Int64("org_id", n.OrgID).
		Int64("conversation_id", n.ConversationID).
		Str("notification_id", n.ID).
		Str("title", n.Title).
		Msg("Notification stored")
	return nil
}

// LogPublisher only logs. Used by one-off CLI runs.
type LogPublisher struct {
	logger zerolog.Logger
}

func NewLogPublisher(logger zerolog.Logger) *LogPublisher {
	return &LogPublisher{logger: logger}
}

func (p *LogPublisher) Publish(ctx context.Context, n *store.Notification) error {
	p.logger.Warn().
		Int64("org_id", n.OrgID).
		Int64("conversation_id", n.ConversationID).
		Str("type", n.Type).
		Str("body", n.Body).
		Msg(n.Title)
	return nil
}
