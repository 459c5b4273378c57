package helpdesk

import (
	"context"
	"fmt"
)

// Webhook delivers trigger notifications to an HTTP endpoint.
type Webhook struct {
	ID            string   `json:"id,omitempty"`
	Name          string   `json:"name"`
	Endpoint      string   `json:"endpoint"`
	HTTPMethod    string   `json:"http_method"`
	RequestFormat string   `json:"request_format"`
	Status        string   `json:"status"`
	Subscriptions []string `json:"subscriptions"`
}

type SigningSecret struct {
	Algorithm string `json:"algorithm"`
	Secret    string `json:"secret"`
}

type TriggerCategory struct {
	ID       string `json:"id,omitempty"`
	Name     string `json:"name"`
	Position int    `json:"position,omitempty"`
}

type Condition struct {
	Field    string `json:"field"`
	Operator string `json:"operator"`
	Value    any    `json:"value,omitempty"`
}

type Conditions struct {
	All []Condition `json:"all"`
	Any []Condition `json:"any"`
}

type Action struct {
	Field string `json:"field"`
	Value any    `json:"value"`
}

type Trigger struct {
	ID          int64      `json:"id,omitempty"`
	Title       string     `json:"title"`
	Description string     `json:"description,omitempty"`
	Active      bool       `json:"active"`
	CategoryID  string     `json:"category_id,omitempty"`
	Conditions  Conditions `json:"conditions"`
	Actions     []Action   `json:"actions"`
}

func (c *Client) CreateWebhook(ctx context.Context, w Webhook) (*Webhook, error) {
	var resp struct {
		Webhook Webhook `json:"webhook"`
	}
	if err := c.do(ctx, "POST", "/api/v2/webhooks", map[string]any{"webhook": w}, &resp); err != nil {
		return nil, err
	}
	return &resp.Webhook, nil
}

// UpdateWebhook patches an existing webhook. The helpdesk answers 204.
func (c *Client) UpdateWebhook(ctx context.Context, id string, w Webhook) error {
	return c.do(ctx, "PATCH", "/api/v2/webhooks/"+id, map[string]any{"webhook": w}, nil)
}

func (c *Client) DeleteWebhook(ctx context.Context, id string) error {
	return c.do(ctx, "DELETE", "/api/v2/webhooks/"+id, nil, nil)
}

func (c *Client) GetWebhookSigningSecret(ctx context.Context, id string) (*SigningSecret, error) {
	var resp struct {
		SigningSecret SigningSecret `json:"signing_secret"`
	}
	if err := c.do(ctx, "GET", "/api/v2/webhooks/"+id+"/signing_secret", nil, &resp); err != nil {
		return nil, err
	}
	return &resp.SigningSecret, nil
}

func (c *Client) CreateTriggerCategory(ctx context.Context, tc TriggerCategory) (*TriggerCategory, error) {
	var resp struct {
		TriggerCategory TriggerCategory `json:"trigger_category"`
	}
	if err := c.do(ctx, "POST", "/api/v2/trigger_categories", map[string]any{"trigger_category": tc}, &resp); err != nil {
		return nil, err
	}
	return &resp.TriggerCategory, nil
}

func (c *Client) UpdateTriggerCategory(ctx context.Context, id string, tc TriggerCategory) (*TriggerCategory, error) {
	var resp struct {
		TriggerCategory TriggerCategory `json:"trigger_category"`
	}
	if err := c.do(ctx, "PATCH", "/api/v2/trigger_categories/"+id, map[string]any{"trigger_category": tc}, &resp); err != nil {
		return nil, err
	}
	return &resp.TriggerCategory, nil
}

func (c *Client) DeleteTriggerCategory(ctx context.Context, id string) error {
	return c.do(ctx, "DELETE", "/api/v2/trigger_categories/"+id, nil, nil)
}

func (c *Client) CreateTrigger(ctx context.Context, t Trigger) (*Trigger, error) {
	var resp struct {
		Trigger Trigger `json:"trigger"`
	}
	if err := c.do(ctx, "POST", "/api/v2/triggers.json", map[string]any{"trigger": t}, &resp); err != nil {
		return nil, err
	}
	return &resp.Trigger, nil
}

func (c *Client) UpdateTrigger(ctx context.Context, id int64, t Trigger) (*Trigger, error) {
	var resp struct {
		Trigger Trigger `json:"trigger"`
	}
	if err := c.do(ctx, "PUT", fmt.Sprintf("/api/v2/triggers/%d.json", id), map[string]any{"trigger": t}, &resp); err != nil {
		return nil, err
	}
	return &resp.Trigger, nil
}

func (c *Client) DeleteTrigger(ctx context.Context, id int64) error {
	return c.do(ctx, "DELETE", fmt.Sprintf("/api/v2/triggers/%d.json", id), nil, nil)
}
