package events

import (
	"context"
	"errors"
	"hash/fnv"
	"log/slog"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"

	jobmetrics "github.com/agoracloud/agora/internal/jobs"
)

// ErrBusClosed is returned by Publish once the bus has stopped.
var ErrBusClosed = errors.New("events: bus closed")

// BusConfig tunes the in-process bus.
type BusConfig struct {
	Partitions      int
	Buffer          int
	MaxRetries      uint64
	InitialInterval time.Duration
	MaxInterval     time.Duration
}

func (c BusConfig) withDefaults() BusConfig {
	if c.Partitions <= 0 {
		c.Partitions = 8
	}
	if c.Buffer <= 0 {
		c.Buffer = 256
	}
	if c.MaxRetries == 0 {
		c.MaxRetries = 8
	}
	if c.InitialInterval <= 0 {
		c.InitialInterval = 50 * time.Millisecond
	}
	if c.MaxInterval <= 0 {
		c.MaxInterval = 5 * time.Second
	}
	return c
}

type busItem struct {
	env     Envelope
	barrier chan struct{}
}

// Bus delivers envelopes in-process. Envelopes are hashed by Key onto a fixed
// set of partitions, each drained by one goroutine, so events sharing a key
// reach every subscription in publish order. A failing delivery is retried
// with exponential backoff and holds its partition until it succeeds or is dropped.
type Bus struct {
	dispatcher *Dispatcher
	cfg        BusConfig
	logger     *slog.Logger
	partitions []chan busItem

	startOnce sync.Once
	stopped   chan struct{}
	wg        sync.WaitGroup
}

// NewBus constructs a Bus; call Run to start delivery.
func NewBus(dispatcher *Dispatcher, cfg BusConfig, logger *slog.Logger) *Bus {
	cfg = cfg.withDefaults()
	if logger == nil {
		logger = slog.Default()
	}
	parts := make([]chan busItem, cfg.Partitions)
	for i := range parts {
		parts[i] = make(chan busItem, cfg.Buffer)
	}
	return &Bus{
		dispatcher: dispatcher,
		cfg:        cfg,
		logger:     logger,
		partitions: parts,
		stopped:    make(chan struct{}),
	}
}

// Run drains partitions until ctx is cancelled. Envelopes still queued at
// shutdown are not delivered.
func (b *Bus) Run(ctx context.Context) error {
	b.startOnce.Do(func() {
		for i := range b.partitions {
			b.wg.Add(1)
			go b.drain(ctx, b.partitions[i])
		}
	})
	<-ctx.Done()
	close(b.stopped)
	b.wg.Wait()
	return nil
}

// Publish enqueues envs. It blocks while the target partition is full.
func (b *Bus) Publish(ctx context.Context, envs ...Envelope) error {
	for _, env := range envs {
		if err := b.enqueue(ctx, b.partitionFor(env.Key), busItem{env: env}); err != nil {
			return err
		}
	}
	return nil
}

// Flush waits until every envelope published before the call was handled.
func (b *Bus) Flush(ctx context.Context) error {
	barriers := make([]chan struct{}, len(b.partitions))
	for i := range b.partitions {
		barriers[i] = make(chan struct{})
		if err := b.enqueue(ctx, i, busItem{barrier: barriers[i]}); err != nil {
			return err
		}
	}
	for _, done := range barriers {
		select {
		case <-done:
		case <-ctx.Done():
			return ctx.Err()
		case <-b.stopped:
			return ErrBusClosed
		}
	}
	return nil
}

func (b *Bus) enqueue(ctx context.Context, partition int, item busItem) error {
	select {
	case <-b.stopped:
		return ErrBusClosed
	default:
	}
	select {
	case b.partitions[partition] <- item:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-b.stopped:
		return ErrBusClosed
	}
}

func (b *Bus) partitionFor(key string) int {
	h := fnv.New32a()
	_, _ = h.Write([]byte(key))
	return int(h.Sum32() % uint32(len(b.partitions)))
}

func (b *Bus) drain(ctx context.Context, ch <-chan busItem) {
	defer b.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case item := <-ch:
			if item.barrier != nil {
				close(item.barrier)
				continue
			}
			for _, sub := range b.dispatcher.Subscriptions(item.env.Type) {
				b.deliver(ctx, sub.Name, item.env)
			}
		}
	}
}

func (b *Bus) deliver(ctx context.Context, name string, env Envelope) {
	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = b.cfg.InitialInterval
	policy.MaxInterval = b.cfg.MaxInterval
	policy.MaxElapsedTime = 0

	op := func() error {
		err := b.dispatcher.Deliver(ctx, name, env)
		if IsPermanent(err) {
			return backoff.Permanent(err)
		}
		return err
	}
	notify := func(err error, wait time.Duration) {
		b.logger.Warn("event delivery failed, retrying",
			slog.String("subscription", name),
			slog.String("event_id", env.ID),
			slog.Duration("wait", wait),
			slog.Any("error", err),
		)
	}

	err := backoff.RetryNotify(op, backoff.WithContext(backoff.WithMaxRetries(policy, b.cfg.MaxRetries), ctx), notify)
	switch {
	case err == nil:
	case ctx.Err() != nil:
		b.logger.Warn("event delivery interrupted by shutdown", slog.String("subscription", name), slog.String("event_id", env.ID))
	case IsPermanent(err):
		b.dispatcher.Drop(name, env, jobmetrics.ReasonPermanent, err)
	default:
		b.dispatcher.Drop(name, env, jobmetrics.ReasonExhausted, err)
	}
}
