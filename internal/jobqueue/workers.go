package jobqueue

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/riverqueue/river"
	"github.com/rs/zerolog"

	"github.com/ticketbridge/internal/conversation"
	"github.com/ticketbridge/internal/store"
	"github.com/ticketbridge/internal/ticketsync"
)

// SyncEngine is the part of ticketsync.Engine the workers drive.
type SyncEngine interface {
	ImportTicketActivity(ctx context.Context, req ticketsync.InboundRequest, budget ticketsync.RetryBudget) (*ticketsync.ImportResult, error)
	OnNewMessage(ctx context.Context, conv *conversation.Conversation, msg *conversation.Message) error
	OnStateChanged(ctx context.Context, conv *conversation.Conversation, change conversation.StateChange) error
	ImportThread(ctx context.Context, conv *conversation.Conversation, msgs []*conversation.Message) error
}

type Installation interface {
	Install(ctx context.Context, org *conversation.Organization) error
	Uninstall(ctx context.Context, org *conversation.Organization) error
}

// WorkerDeps are shared by every worker.
type WorkerDeps struct {
	Store     store.Store
	Engine    SyncEngine
	Installer Installation
	Logger    zerolog.Logger
	Config    *QueueConfig
}

func (d WorkerDeps) timeout() time.Duration {
	if d.Config == nil {
		return 0
	}
	return d.Config.JobTimeout
}

// InboundSyncWorker imports helpdesk activity for one ticket.
type InboundSyncWorker struct {
	river.WorkerDefaults[InboundSyncArgs]
	deps WorkerDeps
}

func (w *InboundSyncWorker) Timeout(*river.Job[InboundSyncArgs]) time.Duration {
	return w.deps.timeout()
}

func (w *InboundSyncWorker) Work(ctx context.Context, job *river.Job[InboundSyncArgs]) error {
	args := job.Args
	result, err := w.deps.Engine.ImportTicketActivity(ctx, ticketsync.InboundRequest{
		OrgID:          args.OrgID,
		TicketURL:      args.TicketURL,
		Status:         args.Status,
		ExternalUserID: args.ExternalUserID,
	}, ticketsync.RetryBudget{Attempt: job.Attempt, MaxAttempts: job.MaxAttempts})
	if err != nil {
		return fmt.Errorf("import ticket activity: %w", err)
	}
	if result != nil && result.Aborted {
		w.deps.Logger.Warn().
			Int64("job_id", job.ID).
			Str("ticket_url", args.TicketURL).
			Msg("Inbound sync stopped early; the next delivery resumes from the saved marker")
	}
	return nil
}

// OutboundMessageWorker pushes a new chat message to the linked ticket.
type OutboundMessageWorker struct {
	river.WorkerDefaults[OutboundMessageArgs]
	deps WorkerDeps
}

func (w *OutboundMessageWorker) Timeout(*river.Job[OutboundMessageArgs]) time.Duration {
	return w.deps.timeout()
}

func (w *OutboundMessageWorker) Work(ctx context.Context, job *river.Job[OutboundMessageArgs]) error {
	conv, err := w.deps.loadConversation(ctx, job.Args.ConversationID)
	if conv == nil || err != nil {
		return err
	}
	msg, err := w.deps.Store.GetMessage(ctx, job.Args.MessageID)
	if errors.Is(err, store.ErrNotFound) {
		w.deps.Logger.Warn().Int64("message_id", job.Args.MessageID).Msg("Message vanished before it could be pushed")
		return nil
	}
	if err != nil {
		return fmt.Errorf("load message %d: %w", job.Args.MessageID, err)
	}
	if msg.ConversationID != conv.ID {
		w.deps.Logger.Warn().
			Int64("conversation_id", conv.ID).
			Int64("message_id", msg.ID).
			Int64("message_conversation_id", msg.ConversationID).
			Msg("Message belongs to another conversation, dropping job")
		return nil
	}
	return w.deps.Engine.OnNewMessage(ctx, conv, msg)
}

// StateChangeWorker mirrors a conversation state change onto the ticket.
type StateChangeWorker struct {
	river.WorkerDefaults[StateChangeArgs]
	deps WorkerDeps
}

func (w *StateChangeWorker) Timeout(*river.Job[StateChangeArgs]) time.Duration {
	return w.deps.timeout()
}

func (w *StateChangeWorker) Work(ctx context.Context, job *river.Job[StateChangeArgs]) error {
	args := job.Args
	conv, err := w.deps.loadConversation(ctx, args.ConversationID)
	if conv == nil || err != nil {
		return err
	}

	actor := conversation.SystemActor(conv.OrgID)
	if args.ActorID != 0 {
		actor, err = w.deps.Store.GetActor(ctx, args.ActorID)
		if errors.Is(err, store.ErrNotFound) {
			w.deps.Logger.Warn().Int64("actor_id", args.ActorID).Msg("Actor not found, dropping state change")
			return nil
		}
		if err != nil {
			return fmt.Errorf("load actor %d: %w", args.ActorID, err)
		}
		if actor.OrgID != conv.OrgID {
			w.deps.Logger.Warn().
				Int64("conversation_id", conv.ID).
				Int64("actor_id", actor.ID).
				Int64("actor_org_id", actor.OrgID).
				Msg("Actor belongs to another organization, dropping state change")
			return nil
		}
	}
	return w.deps.Engine.OnStateChanged(ctx, conv, conversation.StateChange{
		ConversationID: conv.ID,
		OldState:       args.OldState,
		NewState:       args.NewState,
		Actor:          actor,
	})
}

// ImportThreadWorker pushes existing thread messages to the linked ticket.
type ImportThreadWorker struct {
	river.WorkerDefaults[ImportThreadArgs]
	deps WorkerDeps
}

func (w *ImportThreadWorker) Timeout(*river.Job[ImportThreadArgs]) time.Duration {
	return w.deps.timeout()
}

func (w *ImportThreadWorker) Work(ctx context.Context, job *river.Job[ImportThreadArgs]) error {
	conv, err := w.deps.loadConversation(ctx, job.Args.ConversationID)
	if conv == nil || err != nil {
		return err
	}
	msgs, err := w.deps.Store.ListMessages(ctx, conv.ID)
	if err != nil {
		return fmt.Errorf("list messages: %w", err)
	}
	if len(job.Args.MessageIDs) > 0 {
		msgs = selectMessages(msgs, job.Args.MessageIDs)
	}
	return w.deps.Engine.ImportThread(ctx, conv, msgs)
}

// selectMessages keeps the messages named by ids, in thread order.
func selectMessages(msgs []*conversation.Message, ids []int64) []*conversation.Message {
	want := make(map[int64]bool, len(ids))
	for _, id := range ids {
		want[id] = true
	}
	out := make([]*conversation.Message, 0, len(ids))
	for _, m := range msgs {
		if want[m.ID] {
			out = append(out, m)
		}
	}
	return out
}

// HelpdeskInstallWorker installs or removes helpdesk automation.
type HelpdeskInstallWorker struct {
	river.WorkerDefaults[HelpdeskInstallArgs]
	deps WorkerDeps
}

func (w *HelpdeskInstallWorker) Work(ctx context.Context, job *river.Job[HelpdeskInstallArgs]) error {
	org, err := w.deps.Store.GetOrganization(ctx, job.Args.OrgID)
	if errors.Is(err, store.ErrNotFound) {
		w.deps.Logger.Warn().Int64("org_id", job.Args.OrgID).Msg("Organization not found, dropping install job")
		return nil
	}
	if err != nil {
		return fmt.Errorf("load organization %d: %w", job.Args.OrgID, err)
	}
	if job.Args.Uninstall {
		return w.deps.Installer.Uninstall(ctx, org)
	}
	return w.deps.Installer.Install(ctx, org)
}

// loadConversation returns nil without an error when the conversation was
// deleted; there is nothing left to sync.
func (d WorkerDeps) loadConversation(ctx context.Context, id int64) (*conversation.Conversation, error) {
	conv, err := d.Store.GetConversation(ctx, id)
	if errors.Is(err, store.ErrNotFound) {
		d.Logger.Warn().Int64("conversation_id", id).Msg("Conversation not found, dropping job")
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load conversation %d: %w", id, err)
	}
	return conv, nil
}

// NewWorkers registers every job kind.
func NewWorkers(deps WorkerDeps) *river.Workers {
	workers := river.NewWorkers()
	river.AddWorker(workers, &InboundSyncWorker{deps: deps})
	river.AddWorker(workers, &OutboundMessageWorker{deps: deps})
	river.AddWorker(workers, &StateChangeWorker{deps: deps})
	river.AddWorker(workers, &ImportThreadWorker{deps: deps})
	river.AddWorker(workers, &HelpdeskInstallWorker{deps: deps})
	return workers
}
