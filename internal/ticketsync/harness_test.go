package ticketsync

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/ticketbridge/internal/chat"
	"github.com/ticketbridge/internal/conversation"
	"github.com/ticketbridge/internal/helpdesk"
	"github.com/ticketbridge/internal/identity"
	"github.com/ticketbridge/internal/notify"
	"github.com/ticketbridge/internal/render"
	"github.com/ticketbridge/internal/retry"
	"github.com/ticketbridge/internal/store"
	"github.com/ticketbridge/internal/synclock"
)

const ticketURL = "https://acme.zendesk.com/api/v2/tickets/42.json"

// fakeHelpdesk models one helpdesk account with cursor-paged comments.
type fakeHelpdesk struct {
	mu sync.Mutex

	subdomain string
	tickets   map[int64]*helpdesk.Ticket
	comments  map[int64][]helpdesk.Comment
	users     map[int64]*helpdesk.User
	nextID    int64

	updates    []helpdesk.TicketUpdate
	creates    []helpdesk.TicketCreate
	updateErrs []error
	createErr  error
	listErr    error
	listCalls  int
	getCalls   int

	// emptyCursor is returned on pages that carry no comments.
	emptyCursor string
}

func newFakeHelpdesk() *fakeHelpdesk {
	return &fakeHelpdesk{
		subdomain: "acme",
		tickets:   map[int64]*helpdesk.Ticket{42: {ID: 42, Status: helpdesk.StatusOpen}},
		comments:  make(map[int64][]helpdesk.Comment),
		users: map[int64]*helpdesk.User{
			7: {ID: 7, Name: "Agent Smith", Email: "agent@acme.test", Role: "agent"},
		},
		nextID: 500,
	}
}

func notFound() error {
	return &helpdesk.APIError{StatusCode: http.StatusNotFound, Status: "Not Found", Body: []byte(`{"error":"RecordNotFound","description":"Not found"}`)}
}

func (f *fakeHelpdesk) Subdomain() string { return f.subdomain }

func (f *fakeHelpdesk) GetUser(ctx context.Context, id int64) (*helpdesk.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	u, ok := f.users[id]
	if !ok {
		return nil, notFound()
	}
	cp := *u
	return &cp, nil
}

func (f *fakeHelpdesk) SearchUsers(ctx context.Context, search helpdesk.UserSearch) ([]helpdesk.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []helpdesk.User
	for _, u := range f.users {
		if strings.EqualFold(u.Email, search.Query) || (search.ExternalID != "" && u.ExternalID == search.ExternalID) {
			out = append(out, *u)
		}
	}
	return out, nil
}

func (f *fakeHelpdesk) CreateOrUpdateUser(ctx context.Context, u helpdesk.User) (*helpdesk.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextID++
	u.ID = f.nextID
	f.users[u.ID] = &u
	cp := u
	return &cp, nil
}

func (f *fakeHelpdesk) GetTicket(ctx context.Context, id int64) (*helpdesk.Ticket, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.getCalls++
	t, ok := f.tickets[id]
	if !ok {
		return nil, notFound()
	}
	cp := *t
	return &cp, nil
}

func (f *fakeHelpdesk) CreateTicket(ctx context.Context, c helpdesk.TicketCreate) (*helpdesk.Ticket, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.creates = append(f.creates, c)
	if f.createErr != nil {
		return nil, f.createErr
	}
	f.nextID++
	t := &helpdesk.Ticket{ID: f.nextID, Subject: c.Subject, Status: helpdesk.StatusNew, RequesterID: c.RequesterID}
	f.tickets[t.ID] = t
	cp := *t
	return &cp, nil
}

func (f *fakeHelpdesk) UpdateTicket(ctx context.Context, id int64, u helpdesk.TicketUpdate) (*helpdesk.Ticket, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.updates = append(f.updates, u)
	if len(f.updateErrs) > 0 {
		err := f.updateErrs[0]
		f.updateErrs = f.updateErrs[1:]
		if err != nil {
			return nil, err
		}
	}
	t, ok := f.tickets[id]
	if !ok {
		return nil, notFound()
	}
	if u.Status != "" {
		t.Status = u.Status
	}
	cp := *t
	return &cp, nil
}

// ListTicketComments pages with cursors of the form "c<offset>". An empty
// page carries no cursor.
func (f *fakeHelpdesk) ListTicketComments(ctx context.Context, ticketID int64, pageSize int, afterCursor string) (*helpdesk.CommentPage, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.listCalls++
	if f.listErr != nil {
		return nil, f.listErr
	}
	all := f.comments[ticketID]
	start := 0
	if afterCursor != "" {
		n, err := strconv.Atoi(strings.TrimPrefix(afterCursor, "c"))
		if err != nil {
			return nil, fmt.Errorf("bad cursor %q", afterCursor)
		}
		start = n
	}
	if start > len(all) {
		start = len(all)
	}
	end := start + pageSize
	if end > len(all) {
		end = len(all)
	}
	page := &helpdesk.CommentPage{Comments: append([]helpdesk.Comment(nil), all[start:end]...)}
	page.Meta.HasMore = end < len(all)
	if end > start {
		page.Meta.AfterCursor = "c" + strconv.Itoa(end)
	} else {
		page.Meta.AfterCursor = f.emptyCursor
	}
	return page, nil
}

func (f *fakeHelpdesk) addComment(ticketID int64, c helpdesk.Comment) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.comments[ticketID] = append(f.comments[ticketID], c)
}

func (f *fakeHelpdesk) updateCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.updates)
}

func publicComment(id, authorID int64, body string) helpdesk.Comment {
	return helpdesk.Comment{ID: id, AuthorID: authorID, Body: body, Public: true}
}

func ownComment(id, authorID int64, body string) helpdesk.Comment {
	c := publicComment(id, authorID, body)
	c.Metadata.System.Client = helpdesk.UserAgent()
	return c
}

type fakeChat struct {
	mu    sync.Mutex
	posts []chat.PostMessageRequest
	// fail decides whether a post fails; nil never fails.
	fail func(req chat.PostMessageRequest) bool
}

func (c *fakeChat) PostMessage(ctx context.Context, req chat.PostMessageRequest) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.posts = append(c.posts, req)
	if c.fail != nil && c.fail(req) {
		return "", &chat.APIError{Method: "chat.postMessage", StatusCode: http.StatusOK, Code: "invalid_blocks"}
	}
	return fmt.Sprintf("1700000000.%06d", len(c.posts)), nil
}

func (c *fakeChat) delivered() []chat.PostMessageRequest {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []chat.PostMessageRequest
	for _, p := range c.posts {
		if c.fail == nil || !c.fail(p) {
			out = append(out, p)
		}
	}
	return out
}

type publishedSignal struct {
	name    string
	payload any
}

type fakeSignals struct {
	mu   sync.Mutex
	sent []publishedSignal
}

func (s *fakeSignals) Publish(ctx context.Context, name string, payload any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sent = append(s.sent, publishedSignal{name: name, payload: payload})
	return nil
}

func (s *fakeSignals) published() []publishedSignal {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]publishedSignal(nil), s.sent...)
}

type harness struct {
	store    *store.InMemoryStore
	helpdesk *fakeHelpdesk
	chat     *fakeChat
	signals  *fakeSignals
	locker   *synclock.LocalLocker
	engine   *Engine

	org      *conversation.Organization
	conv     *conversation.Conversation
	agent    *conversation.Actor
	customer *conversation.Actor
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	h := &harness{
		store:    store.NewInMemoryStore(),
		helpdesk: newFakeHelpdesk(),
		chat:     &fakeChat{},
		signals:  &fakeSignals{},
		locker:   synclock.NewLocalLocker(),
		org: &conversation.Organization{
			ID: 1, Slug: "acme", Name: "Acme", PlatformID: "T1", PlatformType: "slack", BotName: "Bridge", Enabled: true,
		},
		conv: &conversation.Conversation{
			ID: 100, OrgID: 1, Title: "Printer on fire", State: conversation.StateNew, RoomID: "C1", FirstMessageID: "1699999999.000100",
		},
		agent:    &conversation.Actor{ID: 10, OrgID: 1, PlatformUserID: "U10", DisplayName: "Agent Smith", Email: "agent@acme.test"},
		customer: &conversation.Actor{ID: 11, OrgID: 1, PlatformUserID: "U11", DisplayName: "Casey", Email: "casey@example.com", IsSupportee: true},
	}
	ctx := context.Background()
	h.store.AddOrganization(h.org)
	h.store.AddActor(h.agent)
	h.store.AddActor(h.customer)
	h.store.AddConversation(h.conv)
	if err := h.store.SaveIntegration(ctx, &store.Integration{
		OrgID: 1, System: conversation.SystemZendesk, Enabled: true, Subdomain: "acme", OAuthToken: "token",
	}); err != nil {
		t.Fatalf("save integration: %v", err)
	}
	if err := h.store.CreateLink(ctx, &conversation.ConversationLink{
		ConversationID: h.conv.ID, LinkType: conversation.LinkTypeTicket, ExternalID: ticketURL,
	}); err != nil {
		t.Fatalf("create link: %v", err)
	}

	h.engine = h.newEngine(h.store, DefaultConfig().PageSize)
	return h
}

func (h *harness) newEngine(s store.Store, pageSize int) *Engine {
	logger := zerolog.Nop()
	return NewEngine(Deps{
		Store:      s,
		Identities: identity.NewResolver(s, nil, logger),
		Clients:    func(*store.Integration) HelpdeskClient { return h.helpdesk },
		Chat:       h.chat,
		Renderer:   render.New(nil),
		Locker:     h.locker,
		Signals:    h.signals,
		Notifier:   notify.NewStorePublisher(s, logger),
		Logger:     logger,
	}, Config{
		PageSize: pageSize,
		LockWait: 20 * time.Millisecond,
		MutateRetry: retry.RetryConfig{
			MaxRetries:  1,
			BaseDelay:   time.Millisecond,
			MaxDelay:    time.Millisecond,
			Multiplier:  1,
			ShouldRetry: retry.IsRetryableError,
		},
	})
}

func (h *harness) setting(t *testing.T, name string) string {
	t.Helper()
	v, err := h.store.GetSetting(context.Background(), store.ConversationScope(h.conv.ID), name)
	if errors.Is(err, store.ErrNotFound) {
		return ""
	}
	if err != nil {
		t.Fatalf("get setting %s: %v", name, err)
	}
	return v
}

func (h *harness) setSetting(t *testing.T, name, value string) {
	t.Helper()
	if err := h.store.SetSetting(context.Background(), store.ConversationScope(h.conv.ID), name, value); err != nil {
		t.Fatalf("set setting %s: %v", name, err)
	}
}
