// Package ticketsync keeps chat conversations and their linked helpdesk
// tickets in step, in both directions.
package ticketsync

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/ticketbridge/internal/chat"
	"github.com/ticketbridge/internal/conversation"
	"github.com/ticketbridge/internal/helpdesk"
	"github.com/ticketbridge/internal/identity"
	"github.com/ticketbridge/internal/notify"
	"github.com/ticketbridge/internal/render"
	"github.com/ticketbridge/internal/retry"
	"github.com/ticketbridge/internal/signals"
	"github.com/ticketbridge/internal/store"
	"github.com/ticketbridge/internal/synclock"
	"github.com/ticketbridge/internal/ticketlink"
)

// EngineName prefixes sync lock keys.
const EngineName = "ticketbridge"

// Conversation-scoped settings owned by the engine.
const (
	SettingCommentMarker = "zendesk.comment_marker"
	SettingLastStatus    = "zendesk.last_status"
)

const (
	DefaultLockWait = 5 * time.Second
	DefaultPageSize = helpdesk.MaxPageSize
)

// HelpdeskClient is the ticket API the engine drives for one organization.
type HelpdeskClient interface {
	identity.Users
	GetTicket(ctx context.Context, id int64) (*helpdesk.Ticket, error)
	CreateTicket(ctx context.Context, t helpdesk.TicketCreate) (*helpdesk.Ticket, error)
	UpdateTicket(ctx context.Context, id int64, u helpdesk.TicketUpdate) (*helpdesk.Ticket, error)
	ListTicketComments(ctx context.Context, ticketID int64, pageSize int, afterCursor string) (*helpdesk.CommentPage, error)
}

// ClientFactory builds a helpdesk client from an organization's stored
// integration.
type ClientFactory func(integration *store.Integration) HelpdeskClient

// NewClientFactory returns a ClientFactory backed by helpdesk.Client.
func NewClientFactory(opts ...helpdesk.Option) ClientFactory {
	return func(integration *store.Integration) HelpdeskClient {
		return helpdesk.NewClient(helpdesk.Credentials{
			Subdomain:  integration.Subdomain,
			Email:      integration.Email,
			APIToken:   integration.APIToken,
			OAuthToken: integration.OAuthToken,
		}, opts...)
	}
}

type ChatPoster interface {
	PostMessage(ctx context.Context, req chat.PostMessageRequest) (string, error)
}

type Renderer interface {
	RenderHTML(ctx context.Context, org *conversation.Organization, msg *conversation.Message) (string, error)
	RenderComment(ctx context.Context, org *conversation.Organization, c render.Comment) (*render.Rendered, error)
}

type IdentityResolver interface {
	ResolveExternalUser(ctx context.Context, users identity.Users, org *conversation.Organization, actor *conversation.Actor) (*helpdesk.User, error)
	ResolveDisplayInfo(ctx context.Context, users identity.Users, org *conversation.Organization, externalUserID int64) (*identity.DisplayInfo, error)
}

// Deps are the collaborators of an Engine. All fields are required.
type Deps struct {
	Store      store.Store
	Identities IdentityResolver
	Clients    ClientFactory
	Chat       ChatPoster
	Renderer   Renderer
	Locker     synclock.Locker
	Signals    signals.Publisher
	Notifier   notify.Publisher
	Logger     zerolog.Logger
}

type Config struct {
	PageSize    int
	LockWait    time.Duration
	MutateRetry retry.RetryConfig
}

func DefaultConfig() Config {
	return Config{
		PageSize:    DefaultPageSize,
		LockWait:    DefaultLockWait,
		MutateRetry: retry.SingleRetryConfig(),
	}
}

type Engine struct {
	store      store.Store
	links      *ticketlink.Resolver
	identities IdentityResolver
	clients    ClientFactory
	chat       ChatPoster
	renderer   Renderer
	locker     synclock.Locker
	signals    signals.Publisher
	notifier   notify.Publisher
	logger     zerolog.Logger
	cfg        Config
}

func NewEngine(deps Deps, cfg Config) *Engine {
	if cfg.PageSize <= 0 || cfg.PageSize > helpdesk.MaxPageSize {
		cfg.PageSize = DefaultPageSize
	}
	if cfg.LockWait <= 0 {
		cfg.LockWait = DefaultLockWait
	}
	logger := deps.Logger.With().Str("component", "ticketsync").Logger()
	return &Engine{
		store:      deps.Store,
		links:      ticketlink.NewResolver(deps.Store, logger),
		identities: deps.Identities,
		clients:    deps.Clients,
		chat:       deps.Chat,
		renderer:   deps.Renderer,
		locker:     deps.Locker,
		signals:    deps.Signals,
		notifier:   deps.Notifier,
		logger:     logger,
		cfg:        cfg,
	}
}

// Links exposes the engine's link resolver.
func (e *Engine) Links() *ticketlink.Resolver { return e.links }

// clientFor returns a client for the organization's helpdesk, or nil when
// the organization has no usable integration.
func (e *Engine) clientFor(ctx context.Context, orgID int64) (HelpdeskClient, *store.Integration, error) {
	integration, err := e.store.GetIntegration(ctx, orgID, conversation.SystemZendesk)
	if errors.Is(err, store.ErrNotFound) {
		return nil, nil, nil
	}
	if err != nil {
		return nil, nil, fmt.Errorf("load helpdesk integration: %w", err)
	}
	if !integration.Enabled || !integration.HasCredentials() {
		return nil, integration, nil
	}
	return e.clients(integration), integration, nil
}

// setting reads a conversation setting, treating a missing value as empty.
func (e *Engine) setting(ctx context.Context, conversationID int64, name string) (string, error) {
	v, err := e.store.GetSetting(ctx, store.ConversationScope(conversationID), name)
	if errors.Is(err, store.ErrNotFound) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("read %s: %w", name, err)
	}
	return v, nil
}

func (e *Engine) setSetting(ctx context.Context, conversationID int64, name, value string) error {
	if err := e.store.SetSetting(ctx, store.ConversationScope(conversationID), name, value); err != nil {
		return fmt.Errorf("write %s: %w", name, err)
	}
	return nil
}

// conversationLogger returns a logger carrying the usual sync fields.
func (e *Engine) conversationLogger(conv *conversation.Conversation, ref *ticketlink.TicketReference) zerolog.Logger {
	c := e.logger.With().Int64("org_id", conv.OrgID).Int64("conversation_id", conv.ID)
	if ref != nil {
		c = c.Str("ticket_url", ref.String())
	}
	return c.Logger()
}
