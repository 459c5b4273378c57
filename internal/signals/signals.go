// Package signals publishes sync events to automation hooks.
package signals

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill-redisstream/pkg/redisstream"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

const (
	TicketStatusChanged = "ticket.status.changed"

	topicPrefix   = "signals."
	metadataName  = "signal_name"
	consumerGroup = "ticketbridge-hooks"
)

// TicketStatusChangedPayload is published after a ticket status change has
// been mirrored into its conversation.
type TicketStatusChangedPayload struct {
	TicketURL      string `json:"ticketUrl"`
	Status         string `json:"status"`
	ConversationID int64  `json:"conversationId"`
	OrganizationID int64  `json:"organizationId"`
}

// Publisher is what the sync engine needs to raise a signal.
type Publisher interface {
	Publish(ctx context.Context, name string, payload any) error
}

// Dispatcher publishes signals onto a watermill topic per signal name.
type Dispatcher struct {
	publisher message.Publisher
	logger    zerolog.Logger
}

func NewDispatcher(publisher message.Publisher, logger zerolog.Logger) *Dispatcher {
	return &Dispatcher{publisher: publisher, logger: logger}
}

func (d *Dispatcher) Publish(ctx context.Context, name string, payload any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encode signal %s: %w", name, err)
	}
	msg := message.NewMessage(watermill.NewUUID(), body)
	msg.Metadata.Set(metadataName, name)
	msg.SetContext(ctx)

	if err := d.publisher.Publish(topicPrefix+name, msg); err != nil {
		return fmt.Errorf("publish signal %s: %w", name, err)
	}
	d.logger.Debug().Str("signal", name).Str("message_id", msg.UUID).Msg("Published signal")
	return nil
}

// PubSub is a paired publisher and subscriber on the same transport.
type PubSub struct {
	Publisher  message.Publisher
	Subscriber message.Subscriber
	closers    []func() error
}

func (p *PubSub) Close() error {
	var first error
	for _, c := range p.closers {
		if err := c(); err != nil && first == nil {
			first = err
		}
	}
	return first
}

// NewInProcess keeps signals inside this process.
func NewInProcess(logger zerolog.Logger) *PubSub {
	ch := gochannel.NewGoChannel(gochannel.Config{OutputChannelBuffer: 64}, NewWatermillLogger(logger))
	return &PubSub{Publisher: ch, Subscriber: ch, closers: []func() error{ch.Close}}
}

// NewRedisStreams shares signals between processes through Redis Streams.
func NewRedisStreams(client redis.UniversalClient, logger zerolog.Logger) (*PubSub, error) {
	wlog := NewWatermillLogger(logger)
	pub, err := redisstream.NewPublisher(redisstream.PublisherConfig{Client: client}, wlog)
	if err != nil {
		return nil, fmt.Errorf("create redis stream publisher: %w", err)
	}
	sub, err := redisstream.NewSubscriber(redisstream.SubscriberConfig{
		Client:        client,
		ConsumerGroup: consumerGroup,
	}, wlog)
	if err != nil {
		_ = pub.Close()
		return nil, fmt.Errorf("create redis stream subscriber: %w", err)
	}
	return &PubSub{Publisher: pub, Subscriber: sub, closers: []func() error{sub.Close, pub.Close}}, nil
}

// Handler runs an automation for one signal. The payload is the raw JSON
// the publisher encoded.
type Handler func(ctx context.Context, payload json.RawMessage) error

// Hooks fans signals out to registered handlers.
type Hooks struct {
	subscriber message.Subscriber
	logger     zerolog.Logger

	mu       sync.Mutex
	handlers map[string][]Handler
}

func NewHooks(subscriber message.Subscriber, logger zerolog.Logger) *Hooks {
	return &Hooks{subscriber: subscriber, logger: logger, handlers: make(map[string][]Handler)}
}

// On registers h for signal name. Registrations after Run has started are
// not picked up.
func (h *Hooks) On(name string, handler Handler) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.handlers[name] = append(h.handlers[name], handler)
}

// Run consumes every registered signal until ctx is cancelled.
func (h *Hooks) Run(ctx context.Context) error {
	h.mu.Lock()
	registered := make(map[string][]Handler, len(h.handlers))
	for name, hs := range h.handlers {
		registered[name] = append([]Handler(nil), hs...)
	}
	h.mu.Unlock()

	var wg sync.WaitGroup
	for name, handlers := range registered {
		messages, err := h.subscriber.Subscribe(ctx, topicPrefix+name)
		if err != nil {
			return fmt.Errorf("subscribe to %s: %w", name, err)
		}
		wg.Add(1)
		go func(name string, handlers []Handler, messages <-chan *message.Message) {
			defer wg.Done()
			for msg := range messages {
				h.dispatch(ctx, name, handlers, msg)
			}
		}(name, handlers, messages)
	}

	<-ctx.Done()
	wg.Wait()
	return nil
}

// dispatch acks every message; a failing hook is logged, not redelivered.
func (h *Hooks) dispatch(ctx context.Context, name string, handlers []Handler, msg *message.Message) {
	defer msg.Ack()
	for i, handler := range handlers {
		if err := handler(ctx, json.RawMessage(msg.Payload)); err != nil {
			h.logger.Error().Err(err).
				Str("signal", name).
				Int("hook", i).
				Str("message_id", msg.UUID).
				Msg("Signal hook failed")
		}
	}
}
