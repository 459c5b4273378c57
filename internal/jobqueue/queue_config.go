package jobqueue

import (
	"math"
	"time"

	"github.com/riverqueue/river"
	"github.com/riverqueue/river/rivertype"
)

// Queue names. Inbound syncs get their own queue so a burst of helpdesk
// webhooks cannot starve outbound pushes.
const (
	QueueInbound  = "ticket_inbound"
	QueueOutbound = river.QueueDefault
)

// QueueConfig holds the tunables for the River job queue.
type QueueConfig struct {
	MaxWorkers int // concurrent workers per queue

	InboundMaxAttempts  int // handed to the sync engine as its retry budget
	OutboundMaxAttempts int
	InstallMaxAttempts  int

	RetryPolicy RetryPolicy
	JobTimeout  time.Duration
}

// RetryPolicy schedules retries with capped exponential backoff.
type RetryPolicy struct {
	InitialInterval time.Duration
	MaxInterval     time.Duration
	Multiplier      float64
}

// NextRetry implements river.ClientRetryPolicy.
func (p RetryPolicy) NextRetry(job *rivertype.JobRow) time.Time {
	return time.Now().Add(p.Interval(job.Attempt))
}

// Interval is the wait after the given (1-based) failed attempt.
func (p RetryPolicy) Interval(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	d := float64(p.InitialInterval) * math.Pow(p.Multiplier, float64(attempt-1))
	if d > float64(p.MaxInterval) || math.IsInf(d, 0) {
		return p.MaxInterval
	}
	return time.Duration(d)
}

// DefaultQueueConfig returns the default configuration
func DefaultQueueConfig() *QueueConfig {
	return &QueueConfig{
		MaxWorkers:          10,
		InboundMaxAttempts:  3,
		OutboundMaxAttempts: 5,
		InstallMaxAttempts:  5,
		RetryPolicy: RetryPolicy{
			InitialInterval: 5 * time.Second,
			MaxInterval:     10 * time.Minute,
			Multiplier:      2.0,
		},
		JobTimeout: 2 * time.Minute,
	}
}

// RiverQueueConfig converts our config to River's queue configuration format
func (c *QueueConfig) RiverQueueConfig() map[string]river.QueueConfig {
	return map[string]river.QueueConfig{
		QueueOutbound: {MaxWorkers: c.MaxWorkers},
		QueueInbound:  {MaxWorkers: c.MaxWorkers},
	}
}
