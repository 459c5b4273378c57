package helpdesk

import (
	"context"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// Ticket statuses as the helpdesk reports them.
const (
	StatusNew     = "new"
	StatusOpen    = "open"
	StatusPending = "pending"
	StatusHold    = "hold"
	StatusSolved  = "solved"
	StatusClosed  = "closed"
)

// MaxPageSize is the largest page the cursor-paginated endpoints accept.
const MaxPageSize = 100

type Ticket struct {
	ID           int64         `json:"id"`
	URL          string        `json:"url"`
	Subject      string        `json:"subject"`
	Status       string        `json:"status"`
	Priority     string        `json:"priority,omitempty"`
	Type         string        `json:"type,omitempty"`
	RequesterID  int64         `json:"requester_id"`
	AssigneeID   int64         `json:"assignee_id,omitempty"`
	Tags         []string      `json:"tags,omitempty"`
	CustomFields []CustomField `json:"custom_fields,omitempty"`
	CreatedAt    time.Time     `json:"created_at"`
	UpdatedAt    time.Time     `json:"updated_at"`
}

type CustomField struct {
	ID    int64 `json:"id"`
	Value any   `json:"value"`
}

// NewComment is the comment payload of a ticket create or update.
type NewComment struct {
	Body     string `json:"body,omitempty"`
	HTMLBody string `json:"html_body,omitempty"`
	Public   bool   `json:"public"`
	AuthorID int64  `json:"author_id,omitempty"`
}

type TicketCreate struct {
	Subject      string        `json:"subject,omitempty"`
	Comment      *NewComment   `json:"comment,omitempty"`
	RequesterID  int64         `json:"requester_id,omitempty"`
	Status       string        `json:"status,omitempty"`
	Priority     string        `json:"priority,omitempty"`
	Type         string        `json:"type,omitempty"`
	Tags         []string      `json:"tags,omitempty"`
	CustomFields []CustomField `json:"custom_fields,omitempty"`
}

// TicketUpdate sets the latest fields on a ticket. Empty fields are left
// untouched by the helpdesk.
type TicketUpdate struct {
	Comment *NewComment `json:"comment,omitempty"`
	Status  string      `json:"status,omitempty"`
}

type Comment struct {
	ID          int64           `json:"id"`
	Type        string          `json:"type"`
	AuthorID    int64           `json:"author_id"`
	Body        string          `json:"body"`
	HTMLBody    string          `json:"html_body"`
	PlainBody   string          `json:"plain_body"`
	Public      bool            `json:"public"`
	Attachments []CommentFile   `json:"attachments"`
	Metadata    CommentMetadata `json:"metadata"`
	Via         *CommentVia     `json:"via,omitempty"`
	CreatedAt   time.Time       `json:"created_at"`
}

type CommentFile struct {
	ID          int64  `json:"id"`
	FileName    string `json:"file_name"`
	ContentURL  string `json:"content_url"`
	ContentType string `json:"content_type"`
	Size        int64  `json:"size"`
}

type CommentMetadata struct {
	System struct {
		Client    string `json:"client"`
		IPAddress string `json:"ip_address"`
		Location  string `json:"location"`
	} `json:"system"`
}

type CommentVia struct {
	Channel string `json:"channel"`
}

// CreatedBy reports whether the comment was written by a client whose
// User-Agent carries token.
func (c Comment) CreatedBy(token string) bool {
	return token != "" && strings.Contains(strings.ToLower(c.Metadata.System.Client), strings.ToLower(token))
}

type PageMeta struct {
	HasMore     bool   `json:"has_more"`
	AfterCursor string `json:"after_cursor"`
}

type CommentPage struct {
	Comments []Comment `json:"comments"`
	Meta     PageMeta  `json:"meta"`
}

func (c *Client) GetTicket(ctx context.Context, id int64) (*Ticket, error) {
	var resp struct {
		Ticket Ticket `json:"ticket"`
	}
	if err := c.do(ctx, "GET", fmt.Sprintf("/api/v2/tickets/%d.json", id), nil, &resp); err != nil {
		return nil, err
	}
	return &resp.Ticket, nil
}

func (c *Client) CreateTicket(ctx context.Context, t TicketCreate) (*Ticket, error) {
	var resp struct {
		Ticket Ticket `json:"ticket"`
	}
	body := map[string]any{"ticket": t}
	if err := c.do(ctx, "POST", "/api/v2/tickets.json", body, &resp); err != nil {
		return nil, err
	}
	return &resp.Ticket, nil
}

func (c *Client) UpdateTicket(ctx context.Context, id int64, u TicketUpdate) (*Ticket, error) {
	var resp struct {
		Ticket Ticket `json:"ticket"`
	}
	body := map[string]any{"ticket": u}
	if err := c.do(ctx, "PUT", fmt.Sprintf("/api/v2/tickets/%d.json", id), body, &resp); err != nil {
		return nil, err
	}
	return &resp.Ticket, nil
}

// ListTicketComments fetches one cursor page of a ticket's comments, oldest
// first. An empty afterCursor starts from the beginning.
func (c *Client) ListTicketComments(ctx context.Context, ticketID int64, pageSize int, afterCursor string) (*CommentPage, error) {
	if pageSize <= 0 || pageSize > MaxPageSize {
		pageSize = MaxPageSize
	}
	q := url.Values{}
	q.Set("page[size]", strconv.Itoa(pageSize))
	if afterCursor != "" {
		q.Set("page[after]", afterCursor)
	}
	q.Set("sort", "created_at")

	var page CommentPage
	path := fmt.Sprintf("/api/v2/tickets/%d/comments.json?%s", ticketID, q.Encode())
	if err := c.do(ctx, "GET", path, nil, &page); err != nil {
		return nil, err
	}
	return &page, nil
}
