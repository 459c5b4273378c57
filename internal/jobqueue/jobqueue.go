/*
Package jobqueue runs ticket sync work on a River job queue.

Tunables live in queue_config.go.
*/
package jobqueue

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/riverqueue/river"
	"github.com/riverqueue/river/riverdriver/riverpgxv5"
	"github.com/rs/zerolog"
)

// JobQueue manages the River job queue
type JobQueue struct {
	client *river.Client[pgx.Tx]
	config *QueueConfig
	logger zerolog.Logger
}

// NewJobQueue creates a queue that can run workers. Pass a nil deps.Engine
// for an insert-only client.
func NewJobQueue(pool *pgxpool.Pool, deps WorkerDeps) (*JobQueue, error) {
	config := deps.Config
	if config == nil {
		config = DefaultQueueConfig()
		deps.Config = config
	}

	riverConfig := &river.Config{RetryPolicy: config.RetryPolicy}
	if deps.Engine != nil {
		riverConfig.Queues = config.RiverQueueConfig()
		riverConfig.Workers = NewWorkers(deps)
	}

	client, err := river.NewClient(riverpgxv5.New(pool), riverConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create River client: %w", err)
	}

	return &JobQueue{
		client: client,
		config: config,
		logger: deps.Logger.With().Str("component", "jobqueue").Logger(),
	}, nil
}

// Start starts the job queue workers
func (jq *JobQueue) Start(ctx context.Context) error {
	return jq.client.Start(ctx)
}

// Stop stops the job queue workers
func (jq *JobQueue) Stop(ctx context.Context) error {
	return jq.client.Stop(ctx)
}

func (jq *JobQueue) insert(ctx context.Context, args river.JobArgs, opts *river.InsertOpts) error {
	res, err := jq.client.Insert(ctx, args, opts)
	if err != nil {
		return fmt.Errorf("failed to queue %s job: %w", args.Kind(), err)
	}
	jq.logger.Debug().Str("kind", args.Kind()).Int64("job_id", res.Job.ID).Msg("Job queued")
	return nil
}

func (jq *JobQueue) EnqueueInboundSync(ctx context.Context, args InboundSyncArgs) error {
	return jq.insert(ctx, args, &river.InsertOpts{Queue: QueueInbound, MaxAttempts: jq.config.InboundMaxAttempts})
}

func (jq *JobQueue) EnqueueOutboundMessage(ctx context.Context, args OutboundMessageArgs) error {
	return jq.insert(ctx, args, &river.InsertOpts{Queue: QueueOutbound, MaxAttempts: jq.config.OutboundMaxAttempts})
}

func (jq *JobQueue) EnqueueStateChange(ctx context.Context, args StateChangeArgs) error {
	return jq.insert(ctx, args, &river.InsertOpts{Queue: QueueOutbound, MaxAttempts: jq.config.OutboundMaxAttempts})
}

func (jq *JobQueue) EnqueueImportThread(ctx context.Context, args ImportThreadArgs) error {
	return jq.insert(ctx, args, &river.InsertOpts{Queue: QueueOutbound, MaxAttempts: jq.config.OutboundMaxAttempts})
}

func (jq *JobQueue) EnqueueInstall(ctx context.Context, args HelpdeskInstallArgs) error {
	return jq.insert(ctx, args, &river.InsertOpts{Queue: QueueOutbound, MaxAttempts: jq.config.InstallMaxAttempts})
}
