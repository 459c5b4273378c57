package ticketsync

import (
	"strings"

	"github.com/ticketbridge/internal/conversation"
	"github.com/ticketbridge/internal/helpdesk"
)

// TargetStatus maps a local conversation state onto the ticket status that
// should be written. current is the ticket's status before the change.
func TargetStatus(state conversation.State, actorIsSupportee bool, current string) string {
	switch state {
	case conversation.StateWaiting:
		return helpdesk.StatusPending
	case conversation.StateSnoozed:
		return helpdesk.StatusOpen
	case conversation.StateClosed:
		return helpdesk.StatusSolved
	case conversation.StateNew:
		if current == helpdesk.StatusNew {
			return helpdesk.StatusNew
		}
	}
	if !actorIsSupportee {
		return helpdesk.StatusPending
	}
	return helpdesk.StatusOpen
}

// IsClosedStatus reports whether the ticket no longer accepts comments.
func IsClosedStatus(status string) bool {
	return strings.EqualFold(status, helpdesk.StatusClosed)
}

// IsResolvedStatus reports whether status means the request is done.
func IsResolvedStatus(status string) bool {
	return strings.EqualFold(status, helpdesk.StatusSolved) || IsClosedStatus(status)
}
