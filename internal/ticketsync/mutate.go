package ticketsync

import (
	"context"

	"github.com/ticketbridge/internal/conversation"
	"github.com/ticketbridge/internal/helpdesk"
	"github.com/ticketbridge/internal/notify"
	"github.com/ticketbridge/internal/retry"
)

// mutateTicket runs one ticket write with a single retry on transient
// failures. A failure is classified, logged and reported to the people in
// the conversation; it never reaches the caller. It reports whether the
// write went through.
func (e *Engine) mutateTicket(ctx context.Context, conv *conversation.Conversation, actor *conversation.Actor, action string, write func(ctx context.Context) error) bool {
	log := e.conversationLogger(conv, nil)
	result := retry.RetryWithBackoff(ctx, e.cfg.MutateRetry, func() error {
		return write(ctx)
	}, &log)
	if result.Success {
		return true
	}
	e.reportFailure(ctx, conv, actor, action, result.LastError)
	return false
}

// reportFailure turns a failed helpdesk call into a log line and a
// notification naming the action and, where the helpdesk said, why.
func (e *Engine) reportFailure(ctx context.Context, conv *conversation.Conversation, actor *conversation.Actor, action string, err error) {
	log := e.conversationLogger(conv, nil)
	var reasons []string

	detail, ok := helpdesk.ClassifyError(err)
	switch {
	case ok && len(detail.ValidationErrors()) > 0:
		for _, v := range detail.ValidationErrors() {
			reasons = append(reasons, v.Description)
		}
		log.Warn().Str("code", detail.Code).Strs("validation_errors", reasons).Msgf("Helpdesk rejected attempt to %s", action)
	case ok:
		log.Error().Err(err).Str("code", detail.Code).Str("description", detail.Description).Msgf("Could not %s", action)
		if detail.Description != "" {
			reasons = append(reasons, detail.Description)
		} else {
			reasons = append(reasons, detail.Code)
		}
	default:
		log.Error().Err(err).Int("status", helpdesk.StatusCode(err)).Msgf("Could not %s", action)
	}

	var actorID int64
	if actor != nil {
		actorID = actor.ID
	}
	n := notify.Failure(conv.OrgID, conv.ID, actorID, action, reasons...)
	if perr := e.notifier.Publish(ctx, n); perr != nil {
		log.Error().Err(perr).Msg("Failed to publish sync failure notification")
	}
}
