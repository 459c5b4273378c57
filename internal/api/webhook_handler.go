package api

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/labstack/echo/v4"
	"github.com/santhosh-tekuri/jsonschema/v6"

	"github.com/ticketbridge/internal/conversation"
	"github.com/ticketbridge/internal/jobqueue"
	"github.com/ticketbridge/internal/store"
	"github.com/ticketbridge/internal/ticketlink"
	"github.com/ticketbridge/internal/webhookutils"
)

const webhookSchemaURL = "https://ticketbridge.app/schemas/helpdesk-webhook.json"

const webhookSchema = `{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "type": "object",
  "required": ["TicketUrl", "TicketId"],
  "properties": {
    "TicketUrl": {"type": "string", "minLength": 1},
    "TicketId": {"type": "integer", "minimum": 1},
    "TicketStatus": {"type": ["string", "null"]},
    "CurrentUserId": {"type": ["integer", "null"]}
  }
}`

func compileWebhookSchema() (*jsonschema.Schema, error) {
	doc, err := jsonschema.UnmarshalJSON(strings.NewReader(webhookSchema))
	if err != nil {
		return nil, err
	}
	c := jsonschema.NewCompiler()
	if err := c.AddResource(webhookSchemaURL, doc); err != nil {
		return nil, err
	}
	return c.Compile(webhookSchemaURL)
}

// WebhookPayload is the body rendered by the installed trigger.
type WebhookPayload struct {
	TicketURL     string  `json:"TicketUrl"`
	TicketID      int64   `json:"TicketId"`
	TicketStatus  *string `json:"TicketStatus"`
	CurrentUserID *int64  `json:"CurrentUserId"`
}

// handleHelpdeskWebhook accepts a trigger delivery and queues an inbound
// sync for the ticket.
func (s *Server) handleHelpdeskWebhook(c echo.Context) error {
	ctx := c.Request().Context()
	orgID, err := strconv.ParseInt(c.Param("orgID"), 10, 64)
	if err != nil || orgID <= 0 {
		return echo.NewHTTPError(http.StatusNotFound, "unknown organization")
	}

	body, err := io.ReadAll(c.Request().Body)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "could not read body")
	}

	integration, err := s.store.GetIntegration(ctx, orgID, conversation.SystemZendesk)
	if errors.Is(err, store.ErrNotFound) {
		return echo.NewHTTPError(http.StatusNotFound, "unknown organization")
	}
	if err != nil {
		s.logger.Error().Err(err).Int64("org_id", orgID).Msg("Failed to load integration for webhook")
		return echo.NewHTTPError(http.StatusInternalServerError)
	}
	if integration.WebhookSecret != "" {
		if err := webhookutils.VerifySignature(integration.WebhookSecret, c.Request().Header, body); err != nil {
			s.logger.Warn().Err(err).Int64("org_id", orgID).Msg("Rejected webhook with bad signature")
			return echo.NewHTTPError(http.StatusUnauthorized, "invalid signature")
		}
	}

	inst, err := jsonschema.UnmarshalJSON(bytes.NewReader(body))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "body is not valid JSON")
	}
	if err := s.payload.Validate(inst); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "payload does not match schema: "+err.Error())
	}
	var payload WebhookPayload
	if err := json.Unmarshal(body, &payload); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "malformed payload")
	}

	args := jobqueue.InboundSyncArgs{
		OrgID:     orgID,
		TicketURL: canonicalTicketURL(payload, integration.Subdomain),
	}
	if payload.TicketStatus != nil {
		args.Status = *payload.TicketStatus
	}
	if payload.CurrentUserID != nil {
		args.ExternalUserID = *payload.CurrentUserID
	}
	if err := s.queue.EnqueueInboundSync(ctx, args); err != nil {
		s.logger.Error().Err(err).Int64("org_id", orgID).Str("ticket_url", args.TicketURL).Msg("Failed to queue inbound sync")
		return echo.NewHTTPError(http.StatusServiceUnavailable, "could not queue sync")
	}
	return c.JSON(http.StatusAccepted, map[string]string{"status": "queued"})
}

// canonicalTicketURL normalizes the delivered link to the API form. The
// {{ticket.link}} placeholder renders without a scheme.
func canonicalTicketURL(p WebhookPayload, subdomain string) string {
	raw := strings.TrimSpace(p.TicketURL)
	if !strings.Contains(raw, "://") {
		raw = "https://" + raw
	}
	if ref, ok := ticketlink.ParseTicketReference(raw); ok && ref.TicketID == p.TicketID {
		return ref.String()
	}
	return ticketlink.TicketReference{Subdomain: strings.ToLower(subdomain), TicketID: p.TicketID}.String()
}
