// Package installer provisions the helpdesk side of an organization's
// integration: the webhook that calls back into this service and the
// trigger that feeds it.
package installer

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/rs/zerolog"

	"github.com/ticketbridge/internal/conversation"
	"github.com/ticketbridge/internal/helpdesk"
	"github.com/ticketbridge/internal/store"
)

// PayloadTemplate is the trigger notification body. The helpdesk expands
// the placeholders before delivery.
const PayloadTemplate = `{"TicketUrl": "{{ticket.link}}", "TicketId": {{ticket.id}}, "TicketStatus": "{{ticket.status}}", "CurrentUserId": {{current_user.id}}}`

const categoryName = "Ticketbridge"

var ErrNotConfigured = errors.New("helpdesk integration has no credentials")

// Automation is the slice of the helpdesk API the installer drives.
type Automation interface {
	CreateWebhook(ctx context.Context, w helpdesk.Webhook) (*helpdesk.Webhook, error)
	UpdateWebhook(ctx context.Context, id string, w helpdesk.Webhook) error
	DeleteWebhook(ctx context.Context, id string) error
	GetWebhookSigningSecret(ctx context.Context, id string) (*helpdesk.SigningSecret, error)
	CreateTriggerCategory(ctx context.Context, tc helpdesk.TriggerCategory) (*helpdesk.TriggerCategory, error)
	UpdateTriggerCategory(ctx context.Context, id string, tc helpdesk.TriggerCategory) (*helpdesk.TriggerCategory, error)
	DeleteTriggerCategory(ctx context.Context, id string) error
	CreateTrigger(ctx context.Context, t helpdesk.Trigger) (*helpdesk.Trigger, error)
	UpdateTrigger(ctx context.Context, id int64, t helpdesk.Trigger) (*helpdesk.Trigger, error)
	DeleteTrigger(ctx context.Context, id int64) error
}

// AutomationFactory builds an Automation client from stored credentials.
type AutomationFactory func(integration *store.Integration) Automation

// NewAutomationFactory returns an AutomationFactory backed by helpdesk.Client.
func NewAutomationFactory(opts ...helpdesk.Option) AutomationFactory {
	return func(integration *store.Integration) Automation {
		return helpdesk.NewClient(helpdesk.Credentials{
			Subdomain:  integration.Subdomain,
			Email:      integration.Email,
			APIToken:   integration.APIToken,
			OAuthToken: integration.OAuthToken,
		}, opts...)
	}
}

type Installer struct {
	store     store.IntegrationStore
	clients   AutomationFactory
	publicURL string
	logger    zerolog.Logger
}

func New(s store.IntegrationStore, clients AutomationFactory, publicURL string, logger zerolog.Logger) *Installer {
	return &Installer{
		store:     s,
		clients:   clients,
		publicURL: strings.TrimRight(publicURL, "/"),
		logger:    logger.With().Str("component", "installer").Logger(),
	}
}

// WebhookEndpoint is where the helpdesk delivers trigger payloads for org.
func (i *Installer) WebhookEndpoint(orgID int64) string {
	return fmt.Sprintf("%s/webhooks/zendesk/%d", i.publicURL, orgID)
}

// Install creates or refreshes the webhook, trigger category and trigger
// for org and enables the integration. Running it again reuses the stored
// ids; objects deleted on the helpdesk side are recreated.
func (i *Installer) Install(ctx context.Context, org *conversation.Organization) error {
	integration, client, err := i.load(ctx, org.ID)
	if err != nil {
		return err
	}
	log := i.logger.With().Int64("org_id", org.ID).Str("subdomain", integration.Subdomain).Logger()

	webhookID, err := i.upsertWebhook(ctx, client, org, integration.WebhookID)
	if err != nil {
		return fmt.Errorf("install webhook: %w", err)
	}
	integration.WebhookID = webhookID

	secret, err := client.GetWebhookSigningSecret(ctx, webhookID)
	if err != nil {
		return fmt.Errorf("fetch webhook signing secret: %w", err)
	}
	integration.WebhookSecret = secret.Secret

	categoryID, err := i.upsertCategory(ctx, client, integration.TriggerCategoryID)
	if err != nil {
		return fmt.Errorf("install trigger category: %w", err)
	}
	integration.TriggerCategoryID = categoryID

	triggerID, err := i.upsertTrigger(ctx, client, org, integration.TriggerID, categoryID, webhookID)
	if err != nil {
		return fmt.Errorf("install trigger: %w", err)
	}
	integration.TriggerID = triggerID

	integration.Enabled = true
	if err := i.store.SaveIntegration(ctx, integration); err != nil {
		return fmt.Errorf("save integration: %w", err)
	}
	log.Info().
		Str("webhook_id", webhookID).
		Str("trigger_category_id", categoryID).
		Int64("trigger_id", triggerID).
		Msg("Helpdesk integration installed")
	return nil
}

// Uninstall removes the trigger, category and webhook and disables the
// integration. Objects that are already gone count as removed.
func (i *Installer) Uninstall(ctx context.Context, org *conversation.Organization) error {
	integration, client, err := i.load(ctx, org.ID)
	if err != nil {
		return err
	}
	log := i.logger.With().Int64("org_id", org.ID).Logger()

	if integration.TriggerID != 0 {
		if err := ignoreGone(client.DeleteTrigger(ctx, integration.TriggerID)); err != nil {
			return fmt.Errorf("delete trigger %d: %w", integration.TriggerID, err)
		}
		integration.TriggerID = 0
	}
	if integration.TriggerCategoryID != "" {
		if err := ignoreGone(client.DeleteTriggerCategory(ctx, integration.TriggerCategoryID)); err != nil {
			return fmt.Errorf("delete trigger category %s: %w", integration.TriggerCategoryID, err)
		}
		integration.TriggerCategoryID = ""
	}
	if integration.WebhookID != "" {
		if err := ignoreGone(client.DeleteWebhook(ctx, integration.WebhookID)); err != nil {
			return fmt.Errorf("delete webhook %s: %w", integration.WebhookID, err)
		}
		integration.WebhookID = ""
	}
	integration.WebhookSecret = ""
	integration.Enabled = false

	if err := i.store.SaveIntegration(ctx, integration); err != nil {
		return fmt.Errorf("save integration: %w", err)
	}
	log.Info().Msg("Helpdesk integration uninstalled")
	return nil
}

func (i *Installer) load(ctx context.Context, orgID int64) (*store.Integration, Automation, error) {
	integration, err := i.store.GetIntegration(ctx, orgID, conversation.SystemZendesk)
	if errors.Is(err, store.ErrNotFound) {
		return nil, nil, ErrNotConfigured
	}
	if err != nil {
		return nil, nil, fmt.Errorf("load integration: %w", err)
	}
	if !integration.HasCredentials() {
		return nil, nil, ErrNotConfigured
	}
	return integration, i.clients(integration), nil
}

func (i *Installer) upsertWebhook(ctx context.Context, client Automation, org *conversation.Organization, id string) (string, error) {
	w := helpdesk.Webhook{
		Name:          fmt.Sprintf("%s (%s)", helpdesk.ProductToken, org.Slug),
		Endpoint:      i.WebhookEndpoint(org.ID),
		HTTPMethod:    "POST",
		RequestFormat: "json",
		Status:        "active",
		Subscriptions: []string{"conditional_ticket_events"},
	}
	if id != "" {
		err := client.UpdateWebhook(ctx, id, w)
		if err == nil {
			return id, nil
		}
		if !helpdesk.IsNotFound(err) {
			return "", err
		}
		i.logger.Warn().Str("webhook_id", id).Msg("Stored webhook no longer exists, recreating")
	}
	created, err := client.CreateWebhook(ctx, w)
	if err != nil {
		return "", err
	}
	return created.ID, nil
}

func (i *Installer) upsertCategory(ctx context.Context, client Automation, id string) (string, error) {
	tc := helpdesk.TriggerCategory{Name: categoryName}
	if id != "" {
		updated, err := client.UpdateTriggerCategory(ctx, id, tc)
		if err == nil {
			return updated.ID, nil
		}
		if !helpdesk.IsNotFound(err) {
			return "", err
		}
		i.logger.Warn().Str("trigger_category_id", id).Msg("Stored trigger category no longer exists, recreating")
	}
	created, err := client.CreateTriggerCategory(ctx, tc)
	if err != nil {
		return "", err
	}
	return created.ID, nil
}

func (i *Installer) upsertTrigger(ctx context.Context, client Automation, org *conversation.Organization, id int64, categoryID, webhookID string) (int64, error) {
	t := Trigger(org, categoryID, webhookID)
	if id != 0 {
		updated, err := client.UpdateTrigger(ctx, id, t)
		if err == nil {
			return updated.ID, nil
		}
		if !helpdesk.IsNotFound(err) {
			return 0, err
		}
		i.logger.Warn().Int64("trigger_id", id).Msg("Stored trigger no longer exists, recreating")
	}
	created, err := client.CreateTrigger(ctx, t)
	if err != nil {
		return 0, err
	}
	return created.ID, nil
}

// Trigger describes the helpdesk trigger that notifies the webhook when a
// public comment is added or the ticket status changes.
func Trigger(org *conversation.Organization, categoryID, webhookID string) helpdesk.Trigger {
	return helpdesk.Trigger{
		Title:       fmt.Sprintf("Notify %s (%s)", helpdesk.ProductToken, org.Slug),
		Description: "Sends ticket activity to the chat thread linked to the ticket.",
		Active:      true,
		CategoryID:  categoryID,
		Conditions: helpdesk.Conditions{
			All: []helpdesk.Condition{},
			Any: []helpdesk.Condition{
				{Field: "comment_is_public", Operator: "is", Value: "true"},
				{Field: "status", Operator: "changed"},
			},
		},
		Actions: []helpdesk.Action{
			{Field: "notification_webhook", Value: []string{webhookID, PayloadTemplate}},
		},
	}
}

func ignoreGone(err error) error {
	if err == nil || helpdesk.IsGone(err) {
		return nil
	}
	return err
}
