package store

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/ticketbridge/internal/conversation"
)

// InMemoryStore is a threadsafe in-memory store for tests and local runs.
type InMemoryStore struct {
	mu            sync.RWMutex
	orgs          map[int64]*conversation.Organization
	integrations  map[string]*Integration
	conversations map[int64]*conversation.Conversation
	messages      map[int64]*conversation.Message
	links         map[int64]*conversation.ConversationLink
	settings      map[Scope]map[string]string
	actors        map[int64]*conversation.Actor
	identities    map[int64]*conversation.LinkedIdentity
	notifications []*Notification
	stateChanges  []conversation.StateChange
	nextID        int64
	now           func() time.Time
}

func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		orgs:          make(map[int64]*conversation.Organization),
		integrations:  make(map[string]*Integration),
		conversations: make(map[int64]*conversation.Conversation),
		messages:      make(map[int64]*conversation.Message),
		links:         make(map[int64]*conversation.ConversationLink),
		settings:      make(map[Scope]map[string]string),
		actors:        make(map[int64]*conversation.Actor),
		identities:    make(map[int64]*conversation.LinkedIdentity),
		nextID:        1000,
		now:           time.Now,
	}
}

func (s *InMemoryStore) id() int64 {
	s.nextID++
	return s.nextID
}

// AddOrganization seeds an organization.
func (s *InMemoryStore) AddOrganization(org *conversation.Organization) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *org
	s.orgs[org.ID] = &cp
}

// AddActor seeds an actor.
func (s *InMemoryStore) AddActor(actor *conversation.Actor) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *actor
	s.actors[actor.ID] = &cp
}

// AddConversation seeds a conversation.
func (s *InMemoryStore) AddConversation(conv *conversation.Conversation) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *conv
	s.conversations[conv.ID] = &cp
}

// AddMessage seeds a message.
func (s *InMemoryStore) AddMessage(msg *conversation.Message) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if msg.ID == 0 {
		msg.ID = s.id()
	}
	cp := *msg
	s.messages[msg.ID] = &cp
}

// Notifications returns every notification recorded so far.
func (s *InMemoryStore) Notifications() []*Notification {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]*Notification(nil), s.notifications...)
}

// StateChanges returns every state change applied through the store.
func (s *InMemoryStore) StateChanges() []conversation.StateChange {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]conversation.StateChange(nil), s.stateChanges...)
}

func (s *InMemoryStore) GetOrganization(ctx context.Context, id int64) (*conversation.Organization, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	org, ok := s.orgs[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *org
	return &cp, nil
}

func integrationKey(orgID int64, system string) string {
	return fmt.Sprintf("%s:%d", system, orgID)
}

func (s *InMemoryStore) GetIntegration(ctx context.Context, orgID int64, system string) (*Integration, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	in, ok := s.integrations[integrationKey(orgID, system)]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *in
	return &cp, nil
}

func (s *InMemoryStore) SaveIntegration(ctx context.Context, integration *Integration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *integration
	s.integrations[integrationKey(integration.OrgID, integration.System)] = &cp
	return nil
}

func (s *InMemoryStore) GetConversation(ctx context.Context, id int64) (*conversation.Conversation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	conv, ok := s.conversations[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *conv
	return &cp, nil
}

func (s *InMemoryStore) UpdateConversationState(ctx context.Context, id int64, state conversation.State, actor *conversation.Actor) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	conv, ok := s.conversations[id]
	if !ok {
		return ErrNotFound
	}
	s.stateChanges = append(s.stateChanges, conversation.StateChange{
		ConversationID: id,
		OldState:       conv.State,
		NewState:       state,
		Actor:          actor,
	})
	conv.State = state
	return nil
}

func (s *InMemoryStore) ListMessages(ctx context.Context, conversationID int64) ([]*conversation.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*conversation.Message, 0)
	for _, m := range s.messages {
		if m.ConversationID == conversationID {
			cp := *m
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].PostedAt.Equal(out[j].PostedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].PostedAt.Before(out[j].PostedAt)
	})
	return out, nil
}

func (s *InMemoryStore) GetMessage(ctx context.Context, id int64) (*conversation.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	m, ok := s.messages[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *m
	return &cp, nil
}

func (s *InMemoryStore) GetLink(ctx context.Context, conversationID int64, linkType conversation.LinkType) (*conversation.ConversationLink, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var found *conversation.ConversationLink
	for _, l := range s.links {
		if l.ConversationID != conversationID || l.LinkType != linkType {
			continue
		}
		if found == nil || l.CreatedAt.After(found.CreatedAt) {
			found = l
		}
	}
	if found == nil {
		return nil, ErrNotFound
	}
	cp := *found
	return &cp, nil
}

func (s *InMemoryStore) FindConversationByLink(ctx context.Context, orgID int64, linkType conversation.LinkType, externalID string) (*conversation.Conversation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, l := range s.links {
		if l.LinkType != linkType || l.ExternalID != externalID {
			continue
		}
		conv, ok := s.conversations[l.ConversationID]
		if !ok || conv.OrgID != orgID {
			continue
		}
		cp := *conv
		return &cp, nil
	}
	return nil, ErrNotFound
}

func (s *InMemoryStore) CreateLink(ctx context.Context, link *conversation.ConversationLink) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	link.ID = s.id()
	link.CreatedAt = s.now()
	cp := *link
	s.links[link.ID] = &cp
	return nil
}

func (s *InMemoryStore) GetSetting(ctx context.Context, scope Scope, name string) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.settings[scope][name]
	if !ok {
		return "", ErrNotFound
	}
	return v, nil
}

func (s *InMemoryStore) SetSetting(ctx context.Context, scope Scope, name, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.settings[scope] == nil {
		s.settings[scope] = make(map[string]string)
	}
	s.settings[scope][name] = value
	return nil
}

func (s *InMemoryStore) DeleteSetting(ctx context.Context, scope Scope, name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.settings[scope], name)
	return nil
}

func (s *InMemoryStore) GetActor(ctx context.Context, id int64) (*conversation.Actor, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	a, ok := s.actors[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *a
	return &cp, nil
}

func (s *InMemoryStore) FindActorByEmail(ctx context.Context, orgID int64, email string) (*conversation.Actor, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, a := range s.actors {
		if a.OrgID == orgID && a.Email != "" && strings.EqualFold(a.Email, email) {
			cp := *a
			return &cp, nil
		}
	}
	return nil, ErrNotFound
}

func (s *InMemoryStore) GetLinkedIdentity(ctx context.Context, orgID, actorID int64, system string) (*conversation.LinkedIdentity, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, li := range s.identities {
		if li.OrgID == orgID && li.ActorID == actorID && li.System == system {
			cp := *li
			return &cp, nil
		}
	}
	return nil, ErrNotFound
}

func (s *InMemoryStore) FindLinkedIdentityByExternalID(ctx context.Context, orgID int64, system, externalID string) (*conversation.LinkedIdentity, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, li := range s.identities {
		if li.OrgID == orgID && li.System == system && li.ExternalID == externalID {
			cp := *li
			return &cp, nil
		}
	}
	return nil, ErrNotFound
}

// SaveLinkedIdentity upserts by (org, actor, system).
func (s *InMemoryStore) SaveLinkedIdentity(ctx context.Context, identity *conversation.LinkedIdentity) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now()
	for id, li := range s.identities {
		if li.OrgID == identity.OrgID && li.ActorID == identity.ActorID && li.System == identity.System {
			identity.ID = id
			identity.CreatedAt = li.CreatedAt
			identity.UpdatedAt = now
			cp := *identity
			s.identities[id] = &cp
			return nil
		}
	}
	identity.ID = s.id()
	identity.CreatedAt = now
	identity.UpdatedAt = now
	cp := *identity
	s.identities[identity.ID] = &cp
	return nil
}

func (s *InMemoryStore) CreateNotification(ctx context.Context, n *Notification) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if n.ID == "" {
		n.ID = uuid.NewString()
	}
	n.CreatedAt = s.now()
	cp := *n
	s.notifications = append(s.notifications, &cp)
	return nil
}
