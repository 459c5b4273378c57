// Package identity links chat actors to helpdesk users.
package identity

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/rs/zerolog"

	"github.com/ticketbridge/internal/chat"
	"github.com/ticketbridge/internal/conversation"
	"github.com/ticketbridge/internal/helpdesk"
	"github.com/ticketbridge/internal/store"
	"github.com/ticketbridge/internal/ticketlink"
)

// ErrInvalidUserID is returned for helpdesk user ids that can never belong
// to a person, such as the helpdesk's own system user.
var ErrInvalidUserID = errors.New("invalid helpdesk user id")

// FacadeDomain is the mail domain of synthetic helpdesk users.
const FacadeDomain = "ticketbridge.app"

// Users is the part of the helpdesk client identity resolution needs.
type Users interface {
	Subdomain() string
	GetUser(ctx context.Context, id int64) (*helpdesk.User, error)
	SearchUsers(ctx context.Context, search helpdesk.UserSearch) ([]helpdesk.User, error)
	CreateOrUpdateUser(ctx context.Context, u helpdesk.User) (*helpdesk.User, error)
}

// Profiles supplies chat platform profiles when an actor has no email.
type Profiles interface {
	GetUserProfile(ctx context.Context, userID string) (*chat.UserProfile, error)
}

type Store interface {
	store.ActorStore
	store.IdentityStore
}

type Resolver struct {
	store    Store
	profiles Profiles
	logger   zerolog.Logger
}

func NewResolver(s Store, profiles Profiles, logger zerolog.Logger) *Resolver {
	return &Resolver{store: s, profiles: profiles, logger: logger}
}

// ResolveExternalUser returns the helpdesk user that represents actor,
// creating the link on first use. Resolution order is fixed: an existing
// link, then a unique email match, then a facade user. A nil user with a
// nil error means the helpdesk rejected the facade and the actor cannot be
// synced.
func (r *Resolver) ResolveExternalUser(ctx context.Context, users Users, org *conversation.Organization, actor *conversation.Actor) (*helpdesk.User, error) {
	log := r.logger.With().Int64("org_id", org.ID).Int64("actor_id", actor.ID).Logger()

	linked, err := r.store.GetLinkedIdentity(ctx, org.ID, actor.ID, conversation.SystemZendesk)
	switch {
	case err == nil:
		user, err := r.verifyLinked(ctx, users, linked)
		if err != nil {
			return nil, err
		}
		if user != nil {
			return user, nil
		}
		// The linked user is gone. Emails are not re-matched once a link
		// exists; the facade below overwrites the stale link.
		log.Warn().Str("external_id", linked.ExternalID).Msg("Linked helpdesk user no longer exists")
		return r.createFacade(ctx, users, org, actor, log)
	case !errors.Is(err, store.ErrNotFound):
		return nil, fmt.Errorf("load linked identity: %w", err)
	}

	user, err := r.matchByEmail(ctx, users, actor, log)
	if err != nil {
		return nil, err
	}
	if user != nil {
		if err := r.link(ctx, users, org, actor, user, false); err != nil {
			return nil, err
		}
		log.Info().Int64("user_id", user.ID).Msg("Linked actor to helpdesk user by email")
		return user, nil
	}

	return r.createFacade(ctx, users, org, actor, log)
}

// verifyLinked fetches the linked user. It returns nil, nil when the user
// no longer exists.
func (r *Resolver) verifyLinked(ctx context.Context, users Users, linked *conversation.LinkedIdentity) (*helpdesk.User, error) {
	ref, ok := ticketlink.ParseUserReference(linked.ExternalID)
	if !ok {
		return nil, nil
	}
	user, err := users.GetUser(ctx, ref.UserID)
	if helpdesk.IsNotFound(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("fetch linked helpdesk user %d: %w", ref.UserID, err)
	}

	if user.Name != linked.ExternalName || user.Role != linked.Metadata.Role {
		linked.ExternalName = user.Name
		linked.Metadata.Role = user.Role
		if err := r.store.SaveLinkedIdentity(ctx, linked); err != nil {
			return nil, fmt.Errorf("refresh linked identity: %w", err)
		}
	}
	return user, nil
}

func (r *Resolver) matchByEmail(ctx context.Context, users Users, actor *conversation.Actor, log zerolog.Logger) (*helpdesk.User, error) {
	email := strings.TrimSpace(actor.Email)
	if email == "" && r.profiles != nil && actor.PlatformUserID != "" {
		profile, err := r.profiles.GetUserProfile(ctx, actor.PlatformUserID)
		if err != nil {
			log.Warn().Err(err).Msg("Could not fetch chat profile for email lookup")
		} else {
			email = strings.TrimSpace(profile.Email)
		}
	}
	if email == "" {
		return nil, nil
	}

	found, err := users.SearchUsers(ctx, helpdesk.UserSearch{Query: email})
	if err != nil {
		return nil, fmt.Errorf("search helpdesk users by email: %w", err)
	}
	var match *helpdesk.User
	for i := range found {
		if !strings.EqualFold(found[i].Email, email) {
			continue
		}
		if match != nil {
			log.Warn().Msg("Email matches several helpdesk users, not linking")
			return nil, nil
		}
		match = &found[i]
	}
	return match, nil
}

func (r *Resolver) createFacade(ctx context.Context, users Users, org *conversation.Organization, actor *conversation.Actor, log zerolog.Logger) (*helpdesk.User, error) {
	user, err := users.CreateOrUpdateUser(ctx, helpdesk.User{
		Name:       FacadeName(org, actor),
		Email:      FacadeEmail(org, actor),
		ExternalID: FacadeExternalID(org, actor),
		Role:       "end-user",
		Verified:   true,
	})
	if err != nil {
		if detail, ok := helpdesk.ClassifyError(err); ok && detail.Code == "RecordInvalid" {
			ev := log.Error().Str("code", detail.Code).Str("description", detail.Description)
			for i, v := range detail.ValidationErrors() {
				ev = ev.Str(fmt.Sprintf("validation_%d", i), v.Description)
			}
			ev.Msg("Helpdesk rejected facade user")
			return nil, nil
		}
		return nil, fmt.Errorf("create facade helpdesk user: %w", err)
	}

	if err := r.link(ctx, users, org, actor, user, true); err != nil {
		return nil, err
	}
	log.Info().Int64("user_id", user.ID).Msg("Created facade helpdesk user")
	return user, nil
}

func (r *Resolver) link(ctx context.Context, users Users, org *conversation.Organization, actor *conversation.Actor, user *helpdesk.User, facade bool) error {
	identity := &conversation.LinkedIdentity{
		OrgID:        org.ID,
		ActorID:      actor.ID,
		System:       conversation.SystemZendesk,
		ExternalID:   ticketlink.UserReference{Subdomain: users.Subdomain(), UserID: user.ID}.String(),
		ExternalName: user.Name,
		Metadata:     conversation.IdentityMetadata{Role: user.Role, IsFacade: facade},
	}
	if err := r.store.SaveLinkedIdentity(ctx, identity); err != nil {
		return fmt.Errorf("save linked identity: %w", err)
	}
	return nil
}

// DisplayInfo is how a helpdesk user is shown in the chat thread.
type DisplayInfo struct {
	Name      string
	AvatarURL string
	Actor     *conversation.Actor // nil when no local actor is linked
}

// ResolveDisplayInfo maps a helpdesk user id to a name, avatar and, when
// one can be found, the local actor behind it.
func (r *Resolver) ResolveDisplayInfo(ctx context.Context, users Users, org *conversation.Organization, externalUserID int64) (*DisplayInfo, error) {
	if externalUserID < 1 {
		return nil, ErrInvalidUserID
	}
	ref := ticketlink.UserReference{Subdomain: users.Subdomain(), UserID: externalUserID}

	linked, err := r.store.FindLinkedIdentityByExternalID(ctx, org.ID, conversation.SystemZendesk, ref.String())
	if err == nil {
		actor, err := r.store.GetActor(ctx, linked.ActorID)
		if err == nil {
			return actorDisplay(actor, linked.ExternalName, ""), nil
		}
		if !errors.Is(err, store.ErrNotFound) {
			return nil, fmt.Errorf("load linked actor %d: %w", linked.ActorID, err)
		}
	} else if !errors.Is(err, store.ErrNotFound) {
		return nil, fmt.Errorf("find linked identity: %w", err)
	}

	user, err := users.GetUser(ctx, externalUserID)
	if err != nil {
		return nil, fmt.Errorf("fetch helpdesk user %d: %w", externalUserID, err)
	}

	if user.Email != "" {
		actor, err := r.store.FindActorByEmail(ctx, org.ID, user.Email)
		switch {
		case err == nil:
			if err := r.link(ctx, users, org, actor, user, false); err != nil {
				return nil, err
			}
			return actorDisplay(actor, user.Name, user.AvatarURL()), nil
		case !errors.Is(err, store.ErrNotFound):
			return nil, fmt.Errorf("find actor by email: %w", err)
		}
	}

	return &DisplayInfo{Name: user.Name, AvatarURL: user.AvatarURL()}, nil
}

func actorDisplay(actor *conversation.Actor, fallbackName, fallbackAvatar string) *DisplayInfo {
	info := &DisplayInfo{Name: actor.DisplayName, AvatarURL: actor.AvatarURL, Actor: actor}
	if info.Name == "" {
		info.Name = fallbackName
	}
	if info.AvatarURL == "" {
		info.AvatarURL = fallbackAvatar
	}
	return info
}

// FacadeEmail is a deterministic address unique to the actor's platform
// account.
func FacadeEmail(org *conversation.Organization, actor *conversation.Actor) string {
	local := sanitize(actor.PlatformUserID + "." + org.PlatformID)
	domain := sanitize(org.PlatformType + "." + org.Slug)
	return fmt.Sprintf("%s@%s.%s", local, domain, FacadeDomain)
}

func FacadeExternalID(org *conversation.Organization, actor *conversation.Actor) string {
	return fmt.Sprintf("%s:%s:%s", org.PlatformType, org.PlatformID, actor.PlatformUserID)
}

func FacadeName(org *conversation.Organization, actor *conversation.Actor) string {
	name := actor.DisplayName
	if name == "" {
		name = actor.PlatformUserID
	}
	bot := org.BotName
	if bot == "" {
		bot = "ticketbridge"
	}
	return fmt.Sprintf("%s (via %s)", name, bot)
}

func sanitize(s string) string {
	s = strings.ToLower(s)
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9', r == '.', r == '-':
			return r
		}
		return '-'
	}, s)
}
