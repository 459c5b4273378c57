package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/lib/pq"

	"github.com/ticketbridge/internal/conversation"
)

// PostgresStore implements Store on top of the tables created by
// database.Migrate.
type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore { return &PostgresStore{db: db} }

func (s *PostgresStore) GetOrganization(ctx context.Context, id int64) (*conversation.Organization, error) {
	var org conversation.Organization
	err := s.db.QueryRowContext(ctx, `
        SELECT id, slug, name, platform_id, platform_type, coalesce(bot_name,''), enabled
        FROM organizations WHERE id=$1
    `, id).Scan(&org.ID, &org.Slug, &org.Name, &org.PlatformID, &org.PlatformType, &org.BotName, &org.Enabled)
	if err != nil {
		return nil, notFound(err)
	}
	return &org, nil
}

func (s *PostgresStore) GetIntegration(ctx context.Context, orgID int64, system string) (*Integration, error) {
	var raw []byte
	in := Integration{OrgID: orgID, System: system}
	err := s.db.QueryRowContext(ctx, `
        SELECT enabled, settings FROM integrations WHERE org_id=$1 AND system=$2
    `, orgID, system).Scan(&in.Enabled, &raw)
	if err != nil {
		return nil, notFound(err)
	}
	if err := json.Unmarshal(raw, &in); err != nil {
		return nil, fmt.Errorf("decode %s integration settings for org %d: %w", system, orgID, err)
	}
	return &in, nil
}

func (s *PostgresStore) SaveIntegration(ctx context.Context, integration *Integration) error {
	raw, err := json.Marshal(integration)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `
        INSERT INTO integrations (org_id, system, enabled, settings)
        VALUES ($1,$2,$3,$4)
        ON CONFLICT (org_id, system) DO UPDATE
        SET enabled=EXCLUDED.enabled, settings=EXCLUDED.settings, updated_at=now()
    `, integration.OrgID, integration.System, integration.Enabled, raw)
	return err
}

func (s *PostgresStore) GetConversation(ctx context.Context, id int64) (*conversation.Conversation, error) {
	var conv conversation.Conversation
	var state string
	err := s.db.QueryRowContext(ctx, `
        SELECT id, org_id, coalesce(title,''), state, room_id, coalesce(first_message_id,'')
        FROM conversations WHERE id=$1
    `, id).Scan(&conv.ID, &conv.OrgID, &conv.Title, &state, &conv.RoomID, &conv.FirstMessageID)
	if err != nil {
		return nil, notFound(err)
	}
	conv.State = conversation.State(state)
	return &conv, nil
}

func (s *PostgresStore) UpdateConversationState(ctx context.Context, id int64, state conversation.State, actor *conversation.Actor) error {
	var actorID sql.NullInt64
	if actor != nil && !actor.IsSystem {
		actorID = sql.NullInt64{Int64: actor.ID, Valid: true}
	}
	res, err := s.db.ExecContext(ctx, `
        UPDATE conversations SET state=$1, state_changed_by=$2, updated_at=now() WHERE id=$3
    `, string(state), actorID, id)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PostgresStore) ListMessages(ctx context.Context, conversationID int64) ([]*conversation.Message, error) {
	rows, err := s.db.QueryContext(ctx, messageSelect+` WHERE m.conversation_id=$1 ORDER BY m.posted_at, m.id`, conversationID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]*conversation.Message, 0)
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

func (s *PostgresStore) GetMessage(ctx context.Context, id int64) (*conversation.Message, error) {
	m, err := scanMessage(s.db.QueryRowContext(ctx, messageSelect+` WHERE m.id=$1`, id))
	if err != nil {
		return nil, notFound(err)
	}
	return m, nil
}

const messageSelect = `
        SELECT m.id, m.conversation_id, coalesce(m.platform_message_id,''), m.text, m.live, m.attachments, m.posted_at,
               a.id, a.org_id, coalesce(a.platform_user_id,''), a.display_name, coalesce(a.email,''), coalesce(a.avatar_url,''), a.is_supportee
        FROM messages m JOIN actors a ON a.id = m.author_id`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanMessage(row rowScanner) (*conversation.Message, error) {
	var m conversation.Message
	var a conversation.Actor
	var attachments []byte
	if err := row.Scan(&m.ID, &m.ConversationID, &m.PlatformMessageID, &m.Text, &m.Live, &attachments, &m.PostedAt,
		&a.ID, &a.OrgID, &a.PlatformUserID, &a.DisplayName, &a.Email, &a.AvatarURL, &a.IsSupportee); err != nil {
		return nil, err
	}
	if len(attachments) > 0 {
		if err := json.Unmarshal(attachments, &m.Attachments); err != nil {
			return nil, fmt.Errorf("decode attachments for message %d: %w", m.ID, err)
		}
	}
	m.Author = &a
	return &m, nil
}

func (s *PostgresStore) GetLink(ctx context.Context, conversationID int64, linkType conversation.LinkType) (*conversation.ConversationLink, error) {
	var l conversation.ConversationLink
	var createdBy sql.NullInt64
	var settings []byte
	err := s.db.QueryRowContext(ctx, `
        SELECT id, conversation_id, link_type, external_id, created_by, created_at, settings
        FROM conversation_links
        WHERE conversation_id=$1 AND link_type=$2
        ORDER BY created_at DESC LIMIT 1
    `, conversationID, string(linkType)).Scan(&l.ID, &l.ConversationID, &l.LinkType, &l.ExternalID, &createdBy, &l.CreatedAt, &settings)
	if err != nil {
		return nil, notFound(err)
	}
	l.CreatedByID = createdBy.Int64
	l.Settings = settings
	return &l, nil
}

func (s *PostgresStore) FindConversationByLink(ctx context.Context, orgID int64, linkType conversation.LinkType, externalID string) (*conversation.Conversation, error) {
	var id int64
	err := s.db.QueryRowContext(ctx, `
        SELECT c.id FROM conversation_links l
        JOIN conversations c ON c.id = l.conversation_id
        WHERE c.org_id=$1 AND l.link_type=$2 AND l.external_id=$3
        ORDER BY l.created_at DESC LIMIT 1
    `, orgID, string(linkType), externalID).Scan(&id)
	if err != nil {
		return nil, notFound(err)
	}
	return s.GetConversation(ctx, id)
}

func (s *PostgresStore) CreateLink(ctx context.Context, link *conversation.ConversationLink) error {
	var createdBy sql.NullInt64
	if link.CreatedByID != 0 {
		createdBy = sql.NullInt64{Int64: link.CreatedByID, Valid: true}
	}
	return s.db.QueryRowContext(ctx, `
        INSERT INTO conversation_links (conversation_id, link_type, external_id, created_by, settings)
        VALUES ($1,$2,$3,$4,$5)
        RETURNING id, created_at
    `, link.ConversationID, string(link.LinkType), link.ExternalID, createdBy, nullIfEmptyJSON(link.Settings)).Scan(&link.ID, &link.CreatedAt)
}

func (s *PostgresStore) GetSetting(ctx context.Context, scope Scope, name string) (string, error) {
	var v string
	err := s.db.QueryRowContext(ctx, `SELECT value FROM settings WHERE scope=$1 AND name=$2`, string(scope), name).Scan(&v)
	if err != nil {
		return "", notFound(err)
	}
	return v, nil
}

func (s *PostgresStore) SetSetting(ctx context.Context, scope Scope, name, value string) error {
	_, err := s.db.ExecContext(ctx, `
        INSERT INTO settings (scope, name, value) VALUES ($1,$2,$3)
        ON CONFLICT (scope, name) DO UPDATE SET value=EXCLUDED.value, updated_at=now()
    `, string(scope), name, value)
	return err
}

func (s *PostgresStore) DeleteSetting(ctx context.Context, scope Scope, name string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM settings WHERE scope=$1 AND name=$2`, string(scope), name)
	return err
}

func (s *PostgresStore) GetActor(ctx context.Context, id int64) (*conversation.Actor, error) {
	return s.scanActor(s.db.QueryRowContext(ctx, actorSelect+` WHERE id=$1`, id))
}

func (s *PostgresStore) FindActorByEmail(ctx context.Context, orgID int64, email string) (*conversation.Actor, error) {
	return s.scanActor(s.db.QueryRowContext(ctx, actorSelect+` WHERE org_id=$1 AND lower(email)=lower($2) LIMIT 1`, orgID, email))
}

const actorSelect = `
        SELECT id, org_id, coalesce(platform_user_id,''), display_name, coalesce(email,''), coalesce(avatar_url,''), is_supportee
        FROM actors`

func (s *PostgresStore) scanActor(row *sql.Row) (*conversation.Actor, error) {
	var a conversation.Actor
	if err := row.Scan(&a.ID, &a.OrgID, &a.PlatformUserID, &a.DisplayName, &a.Email, &a.AvatarURL, &a.IsSupportee); err != nil {
		return nil, notFound(err)
	}
	return &a, nil
}

const identitySelect = `
        SELECT id, org_id, actor_id, system, external_id, coalesce(external_name,''), metadata, created_at, updated_at
        FROM linked_identities`

func (s *PostgresStore) GetLinkedIdentity(ctx context.Context, orgID, actorID int64, system string) (*conversation.LinkedIdentity, error) {
	return scanIdentity(s.db.QueryRowContext(ctx, identitySelect+` WHERE org_id=$1 AND actor_id=$2 AND system=$3`, orgID, actorID, system))
}

func (s *PostgresStore) FindLinkedIdentityByExternalID(ctx context.Context, orgID int64, system, externalID string) (*conversation.LinkedIdentity, error) {
	return scanIdentity(s.db.QueryRowContext(ctx, identitySelect+` WHERE org_id=$1 AND system=$2 AND external_id=$3 LIMIT 1`, orgID, system, externalID))
}

func scanIdentity(row *sql.Row) (*conversation.LinkedIdentity, error) {
	var li conversation.LinkedIdentity
	var meta []byte
	if err := row.Scan(&li.ID, &li.OrgID, &li.ActorID, &li.System, &li.ExternalID, &li.ExternalName, &meta, &li.CreatedAt, &li.UpdatedAt); err != nil {
		return nil, notFound(err)
	}
	if len(meta) > 0 {
		if err := json.Unmarshal(meta, &li.Metadata); err != nil {
			return nil, fmt.Errorf("decode identity metadata %d: %w", li.ID, err)
		}
	}
	return &li, nil
}

func (s *PostgresStore) SaveLinkedIdentity(ctx context.Context, identity *conversation.LinkedIdentity) error {
	meta, err := json.Marshal(identity.Metadata)
	if err != nil {
		return err
	}
	return s.db.QueryRowContext(ctx, `
        INSERT INTO linked_identities (org_id, actor_id, system, external_id, external_name, metadata)
        VALUES ($1,$2,$3,$4,$5,$6)
        ON CONFLICT (org_id, actor_id, system) DO UPDATE
        SET external_id=EXCLUDED.external_id, external_name=EXCLUDED.external_name, metadata=EXCLUDED.metadata, updated_at=now()
        RETURNING id, created_at, updated_at
    `, identity.OrgID, identity.ActorID, identity.System, identity.ExternalID, identity.ExternalName, meta).
		Scan(&identity.ID, &identity.CreatedAt, &identity.UpdatedAt)
}

func (s *PostgresStore) CreateNotification(ctx context.Context, n *Notification) error {
	var actorID sql.NullInt64
	if n.ActorID != 0 {
		actorID = sql.NullInt64{Int64: n.ActorID, Valid: true}
	}
	return s.db.QueryRowContext(ctx, `
        INSERT INTO notifications (org_id, conversation_id, type, title, body, actor_id)
        VALUES ($1,$2,$3,$4,$5,$6)
        RETURNING id, created_at
    `, n.OrgID, n.ConversationID, n.Type, n.Title, n.Body, actorID).Scan(&n.ID, &n.CreatedAt)
}

// ListNotifications returns the newest notifications for a conversation,
// optionally filtered by type.
func (s *PostgresStore) ListNotifications(ctx context.Context, conversationID int64, types []string, limit int) ([]*Notification, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx, `
        SELECT id, org_id, conversation_id, type, title, body, coalesce(actor_id,0), created_at
        FROM notifications
        WHERE conversation_id=$1 AND (cardinality($2::text[]) = 0 OR type = ANY($2))
        ORDER BY created_at DESC LIMIT $3
    `, conversationID, pq.Array(types), limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*Notification
	for rows.Next() {
		var n Notification
		if err := rows.Scan(&n.ID, &n.OrgID, &n.ConversationID, &n.Type, &n.Title, &n.Body, &n.ActorID, &n.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, &n)
	}
	return out, rows.Err()
}

func notFound(err error) error {
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	return err
}

func nullIfEmptyJSON(raw json.RawMessage) any {
	if len(raw) == 0 {
		return nil
	}
	return []byte(raw)
}
