package jobqueue

import "github.com/ticketbridge/internal/conversation"

// InboundSyncArgs is one helpdesk webhook delivery waiting to be imported.
type InboundSyncArgs struct {
	OrgID          int64  `json:"org_id"`
	TicketURL      string `json:"ticket_url"`
	Status         string `json:"status,omitempty"`
	ExternalUserID int64  `json:"external_user_id,omitempty"`
}

func (InboundSyncArgs) Kind() string { return "ticket_inbound_sync" }

// OutboundMessageArgs pushes one chat message to the linked ticket.
type OutboundMessageArgs struct {
	ConversationID int64 `json:"conversation_id"`
	MessageID      int64 `json:"message_id"`
}

func (OutboundMessageArgs) Kind() string { return "ticket_outbound_message" }

// StateChangeArgs mirrors a conversation state change onto the ticket.
type StateChangeArgs struct {
	ConversationID int64              `json:"conversation_id"`
	OldState       conversation.State `json:"old_state"`
	NewState       conversation.State `json:"new_state"`
	ActorID        int64              `json:"actor_id,omitempty"` // zero for system changes
}

func (StateChangeArgs) Kind() string { return "ticket_state_change" }

// ImportThreadArgs pushes existing thread messages to the linked ticket.
// An empty MessageIDs pushes the whole thread.
type ImportThreadArgs struct {
	ConversationID int64   `json:"conversation_id"`
	MessageIDs     []int64 `json:"message_ids,omitempty"`
}

func (ImportThreadArgs) Kind() string { return "ticket_import_thread" }

// HelpdeskInstallArgs installs or removes the helpdesk automation for an
// organization.
type HelpdeskInstallArgs struct {
	OrgID     int64 `json:"org_id"`
	Uninstall bool  `json:"uninstall,omitempty"`
}

func (HelpdeskInstallArgs) Kind() string { return "helpdesk_install" }
