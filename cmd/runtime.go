package cmd

import (
	"context"
	"database/sql"
	"fmt"
	"net/http"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/urfave/cli/v2"

	"github.com/ticketbridge/internal/chat"
	"github.com/ticketbridge/internal/config"
	"github.com/ticketbridge/internal/conversation"
	"github.com/ticketbridge/internal/database"
	"github.com/ticketbridge/internal/helpdesk"
	"github.com/ticketbridge/internal/identity"
	"github.com/ticketbridge/internal/installer"
	"github.com/ticketbridge/internal/logging"
	"github.com/ticketbridge/internal/notify"
	"github.com/ticketbridge/internal/render"
	"github.com/ticketbridge/internal/retry"
	"github.com/ticketbridge/internal/signals"
	"github.com/ticketbridge/internal/store"
	"github.com/ticketbridge/internal/synclock"
	"github.com/ticketbridge/internal/ticketsync"
)

// runtime holds the collaborators shared by the commands.
type runtime struct {
	cfg    *config.Config
	logger zerolog.Logger

	db     *sql.DB
	pool   *pgxpool.Pool
	redis  redis.UniversalClient
	store  *store.PostgresStore
	pubsub *signals.PubSub

	engine    *ticketsync.Engine
	installer *installer.Installer

	closers []func()
}

// newRuntime loads configuration and opens every connection. The pgx pool
// is only opened when withPool is set.
func newRuntime(c *cli.Context, withPool bool) (*runtime, error) {
	logger, err := logging.Setup(logging.Options{Level: c.String("log-level"), Pretty: c.Bool("pretty")})
	if err != nil {
		return nil, err
	}
	cfg, err := loadConfig(c)
	if err != nil {
		return nil, err
	}

	rt := &runtime{cfg: cfg, logger: logger}
	if err := rt.open(c.Context, withPool); err != nil {
		rt.Close()
		return nil, err
	}
	rt.wire()
	return rt, nil
}

func (rt *runtime) open(ctx context.Context, withPool bool) error {
	db, err := database.NewDB(ctx, rt.cfg.Database.URL)
	if err != nil {
		return err
	}
	rt.db = db
	rt.closers = append(rt.closers, func() { db.Close() })
	rt.store = store.NewPostgresStore(db)

	if withPool {
		pool, err := database.NewPool(ctx, rt.cfg.Database.URL)
		if err != nil {
			return err
		}
		rt.pool = pool
		rt.closers = append(rt.closers, pool.Close)
	}

	if rt.cfg.Redis.URL == "" {
		rt.logger.Warn().Msg("No redis url configured; sync locks and signals stay inside this process")
		rt.pubsub = signals.NewInProcess(rt.logger)
		rt.closers = append(rt.closers, func() { _ = rt.pubsub.Close() })
		return nil
	}

	opts, err := redis.ParseURL(rt.cfg.Redis.URL)
	if err != nil {
		return fmt.Errorf("parse redis url: %w", err)
	}
	client := redis.NewClient(opts)
	rt.closers = append(rt.closers, func() { _ = client.Close() })
	if err := client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("ping redis: %w", err)
	}
	rt.redis = client

	pubsub, err := signals.NewRedisStreams(client, rt.logger)
	if err != nil {
		return err
	}
	rt.pubsub = pubsub
	rt.closers = append(rt.closers, func() { _ = pubsub.Close() })
	return nil
}

func (rt *runtime) wire() {
	cfg := rt.cfg
	httpClient := &http.Client{Timeout: cfg.Helpdesk.Timeout}
	helpdeskOpts := []helpdesk.Option{
		helpdesk.WithHTTPClient(httpClient),
		helpdesk.WithRateLimit(cfg.Helpdesk.RateLimit, cfg.Helpdesk.Burst),
	}

	chatClient := chat.NewClient(cfg.Chat.BotToken, chat.WithBaseURL(cfg.Chat.APIURL), chat.WithLogger(rt.logger))

	var locker synclock.Locker = synclock.NewLocalLocker()
	if rt.redis != nil {
		locker = synclock.NewRedisLocker(rt.redis)
	}

	syncCfg := ticketsync.DefaultConfig()
	syncCfg.PageSize = cfg.Sync.PageSize
	syncCfg.LockWait = cfg.Sync.LockWait
	syncCfg.MutateRetry = retry.SingleRetryConfig()

	rt.engine = ticketsync.NewEngine(ticketsync.Deps{
		Store:      rt.store,
		Identities: identity.NewResolver(rt.store, chatClient, rt.logger.With().Str("component", "identity").Logger()),
		Clients:    ticketsync.NewClientFactory(helpdeskOpts...),
		Chat:       chatClient,
		Renderer:   render.New(profileMentions(chatClient, rt.logger)),
		Locker:     locker,
		Signals:    signals.NewDispatcher(rt.pubsub.Publisher, rt.logger),
		Notifier:   notify.NewStorePublisher(rt.store, rt.logger),
		Logger:     rt.logger,
	}, syncCfg)

	rt.installer = installer.New(rt.store, installer.NewAutomationFactory(helpdeskOpts...), cfg.Server.PublicURL, rt.logger)
}

// profileMentions resolves chat user mentions to display names.
func profileMentions(profiles identity.Profiles, logger zerolog.Logger) render.MentionResolver {
	return func(ctx context.Context, orgID int64, platformUserID string) string {
		p, err := profiles.GetUserProfile(ctx, platformUserID)
		if err != nil {
			logger.Debug().Err(err).Str("platform_user_id", platformUserID).Msg("Could not resolve mention")
			return ""
		}
		for _, name := range []string{p.DisplayName, p.RealName, p.Name} {
			if name != "" {
				return name
			}
		}
		return ""
	}
}

func (rt *runtime) Close() {
	for i := len(rt.closers) - 1; i >= 0; i-- {
		rt.closers[i]()
	}
}

// organization loads an organization by id for the admin commands.
func (rt *runtime) organization(ctx context.Context, id int64) (*conversation.Organization, error) {
	org, err := rt.store.GetOrganization(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("load organization %d: %w", id, err)
	}
	return org, nil
}
