package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ticketbridge/internal/conversation"
)

var ErrNotFound = errors.New("not found")

// Scope namespaces a setting. Settings in this service are scoped to a
// conversation.
type Scope string

func ConversationScope(conversationID int64) Scope {
	return Scope(fmt.Sprintf("conversation:%d", conversationID))
}

// Integration holds one organization's helpdesk credentials and the ids of
// the automation objects installed on the helpdesk side.
type Integration struct {
	OrgID             int64  `json:"-"`
	System            string `json:"-"`
	Enabled           bool   `json:"-"`
	Subdomain         string `json:"subdomain"`
	Email             string `json:"email,omitempty"`
	APIToken          string `json:"api_token,omitempty"`
	OAuthToken        string `json:"oauth_token,omitempty"`
	WebhookID         string `json:"webhook_id,omitempty"`
	WebhookSecret     string `json:"webhook_secret,omitempty"`
	TriggerID         int64  `json:"trigger_id,omitempty"`
	TriggerCategoryID string `json:"trigger_category_id,omitempty"`
}

// HasCredentials reports whether the integration can authenticate.
func (i *Integration) HasCredentials() bool {
	if i == nil || i.Subdomain == "" {
		return false
	}
	return i.OAuthToken != "" || (i.Email != "" && i.APIToken != "")
}

type Notification struct {
	ID             string
	OrgID          int64
	ConversationID int64
	Type           string
	Title          string
	Body           string
	ActorID        int64
	CreatedAt      time.Time
}

type OrganizationStore interface {
	GetOrganization(ctx context.Context, id int64) (*conversation.Organization, error)
}

type IntegrationStore interface {
	GetIntegration(ctx context.Context, orgID int64, system string) (*Integration, error)
	SaveIntegration(ctx context.Context, integration *Integration) error
}

type ConversationStore interface {
	GetConversation(ctx context.Context, id int64) (*conversation.Conversation, error)
	UpdateConversationState(ctx context.Context, id int64, state conversation.State, actor *conversation.Actor) error
	ListMessages(ctx context.Context, conversationID int64) ([]*conversation.Message, error)
	GetMessage(ctx context.Context, id int64) (*conversation.Message, error)
}

type LinkStore interface {
	GetLink(ctx context.Context, conversationID int64, linkType conversation.LinkType) (*conversation.ConversationLink, error)
	FindConversationByLink(ctx context.Context, orgID int64, linkType conversation.LinkType, externalID string) (*conversation.Conversation, error)
	CreateLink(ctx context.Context, link *conversation.ConversationLink) error
}

type SettingsStore interface {
	GetSetting(ctx context.Context, scope Scope, name string) (string, error)
	SetSetting(ctx context.Context, scope Scope, name, value string) error
	DeleteSetting(ctx context.Context, scope Scope, name string) error
}

type ActorStore interface {
	GetActor(ctx context.Context, id int64) (*conversation.Actor, error)
	FindActorByEmail(ctx context.Context, orgID int64, email string) (*conversation.Actor, error)
}

type IdentityStore interface {
	GetLinkedIdentity(ctx context.Context, orgID, actorID int64, system string) (*conversation.LinkedIdentity, error)
	FindLinkedIdentityByExternalID(ctx context.Context, orgID int64, system, externalID string) (*conversation.LinkedIdentity, error)
	SaveLinkedIdentity(ctx context.Context, identity *conversation.LinkedIdentity) error
}

type NotificationStore interface {
	CreateNotification(ctx context.Context, n *Notification) error
}

// Store is everything the service persists.
type Store interface {
	OrganizationStore
	IntegrationStore
	ConversationStore
	LinkStore
	SettingsStore
	ActorStore
	IdentityStore
	NotificationStore
}
