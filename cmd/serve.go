package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/urfave/cli/v2"
	"golang.org/x/sync/errgroup"

	"github.com/ticketbridge/internal/api"
	"github.com/ticketbridge/internal/jobqueue"
	"github.com/ticketbridge/internal/signals"
)

// ServeCommand runs the API server, the job workers and the signal hooks.
func ServeCommand() *cli.Command {
	return &cli.Command{
		Name:  "serve",
		Usage: "Run the webhook receiver, event API and sync workers",
		Flags: []cli.Flag{
			&cli.IntFlag{
				Name:  "port",
				Usage: "Override the configured listen port",
			},
		},
		Action: runServe,
	}
}

func runServe(c *cli.Context) error {
	rt, err := newRuntime(c, true)
	if err != nil {
		return err
	}
	defer rt.Close()

	ctx, stop := signal.NotifyContext(c.Context, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	qcfg := jobqueue.DefaultQueueConfig()
	qcfg.MaxWorkers = rt.cfg.Sync.Workers
	qcfg.InboundMaxAttempts = rt.cfg.Sync.MaxAttempts

	queue, err := jobqueue.NewJobQueue(rt.pool, jobqueue.WorkerDeps{
		Store:     rt.store,
		Engine:    rt.engine,
		Installer: rt.installer,
		Logger:    rt.logger,
		Config:    qcfg,
	})
	if err != nil {
		return err
	}

	port := rt.cfg.Server.Port
	if c.IsSet("port") {
		port = c.Int("port")
	}
	server, err := api.NewServer(api.Options{
		Port:      port,
		JWTSecret: rt.cfg.Server.JWTSecret,
		Store:     rt.store,
		Queue:     queue,
		Linker:    rt.engine,
		Logger:    rt.logger,
	})
	if err != nil {
		return fmt.Errorf("create api server: %w", err)
	}

	hooks := signals.NewHooks(rt.pubsub.Subscriber, rt.logger)
	hooks.On(signals.TicketStatusChanged, func(ctx context.Context, payload json.RawMessage) error {
		var ev signals.TicketStatusChangedPayload
		if err := json.Unmarshal(payload, &ev); err != nil {
			return err
		}
		rt.logger.Info().
			Int64("org_id", ev.OrganizationID).
			Int64("conversation_id", ev.ConversationID).
			Str("ticket_url", ev.TicketURL).
			Str("status", ev.Status).
			Msg("Ticket status changed")
		return nil
	})

	if err := queue.Start(ctx); err != nil {
		return fmt.Errorf("start job queue: %w", err)
	}
	defer func() {
		stopCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := queue.Stop(stopCtx); err != nil {
			rt.logger.Error().Err(err).Msg("Job queue did not stop cleanly")
		}
	}()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return server.Start(gctx) })
	g.Go(func() error { return hooks.Run(gctx) })
	return g.Wait()
}
