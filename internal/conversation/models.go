package conversation

import (
	"encoding/json"
	"time"
)

// Domain models for chat conversations tracked against helpdesk tickets.

type State string

const (
	StateNew     State = "new"
	StateWaiting State = "waiting"
	StateSnoozed State = "snoozed"
	StateClosed  State = "closed"
)

// IsOpen reports whether the conversation has not been resolved yet.
func (s State) IsOpen() bool {
	return s != StateClosed
}

type LinkType string

const (
	LinkTypeTicket LinkType = "zendesk.ticket"
)

// System names used for linked identities.
const (
	SystemZendesk = "zendesk"
)

type Organization struct {
	ID           int64
	Slug         string
	Name         string
	PlatformID   string // workspace/team id on the chat platform
	PlatformType string // e.g. "slack"
	BotName      string
	Enabled      bool
}

type Actor struct {
	ID             int64
	OrgID          int64
	PlatformUserID string
	DisplayName    string
	Email          string
	AvatarURL      string
	IsSupportee    bool
	IsSystem       bool
}

// SystemActor is the actor the engine attributes its own changes to.
func SystemActor(orgID int64) *Actor {
	return &Actor{
		ID:          0,
		OrgID:       orgID,
		DisplayName: "System",
		IsSystem:    true,
	}
}

type Conversation struct {
	ID             int64
	OrgID          int64
	Title          string
	State          State
	RoomID         string // chat channel id
	FirstMessageID string // platform id of the message anchoring the thread
}

type ConversationLink struct {
	ID             int64
	ConversationID int64
	LinkType       LinkType
	ExternalID     string
	CreatedByID    int64
	CreatedAt      time.Time
	Settings       json.RawMessage
}

type Attachment struct {
	Name        string
	URL         string
	ContentType string
}

type Message struct {
	ID                int64
	ConversationID    int64
	PlatformMessageID string
	Author            *Actor
	Text              string
	Live              bool // false when replayed by the engine or imported from history
	Attachments       []Attachment
	PostedAt          time.Time
}

type StateChange struct {
	ConversationID int64
	OldState       State
	NewState       State
	Actor          *Actor
}

// IdentityMetadata is the opaque blob stored alongside a linked identity.
type IdentityMetadata struct {
	Role     string `json:"role,omitempty"`
	IsFacade bool   `json:"isFacade,omitempty"`
}

type LinkedIdentity struct {
	ID           int64
	OrgID        int64
	ActorID      int64
	System       string
	ExternalID   string
	ExternalName string
	Metadata     IdentityMetadata
	CreatedAt    time.Time
	UpdatedAt    time.Time
}
