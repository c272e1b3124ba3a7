package events

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	jobmetrics "github.com/agoracloud/agora/internal/jobs"
)

// HandlerFunc reacts to one envelope. Returning an error asks the transport
// to redeliver unless the error is Permanent.
type HandlerFunc func(ctx context.Context, env Envelope) error

// Subscription binds a named handler to an event type. The name is the unit
// of retry and de-duplication.
type Subscription struct {
	Name    string
	Type    Type
	Handler HandlerFunc
}

type permanentError struct {
	err error
}

func (e *permanentError) Error() string { return e.err.Error() }
func (e *permanentError) Unwrap() error { return e.err }

// Permanent marks err as not worth retrying.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

// IsPermanent reports whether err was marked with Permanent.
func IsPermanent(err error) bool {
	var p *permanentError
	return errors.As(err, &p)
}

// ErrUnknownSubscription is returned when delivering to a name nobody registered.
var ErrUnknownSubscription = errors.New("events: unknown subscription")

// Dispatcher routes envelopes to registered subscriptions. Transports (the
// in-process Bus and the asynq worker) call Deliver once per subscription.
type Dispatcher struct {
	mu      sync.RWMutex
	byType  map[Type][]Subscription
	byName  map[string]Subscription
	dedup   Deduper
	metrics *jobmetrics.Metrics
	logger  *slog.Logger
}

// NewDispatcher constructs a Dispatcher. dedup and metrics may be nil.
func NewDispatcher(dedup Deduper, metrics *jobmetrics.Metrics, logger *slog.Logger) *Dispatcher {
	if dedup == nil {
		dedup = NopDeduper{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Dispatcher{
		byType:  map[Type][]Subscription{},
		byName:  map[string]Subscription{},
		dedup:   dedup,
		metrics: metrics,
		logger:  logger,
	}
}

// Subscribe registers handler under name for events of type t.
func (d *Dispatcher) Subscribe(name string, t Type, handler HandlerFunc) {
	if name == "" || handler == nil {
		panic("events: subscription requires name and handler")
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, dup := d.byName[name]; dup {
		panic(fmt.Sprintf("events: duplicate subscription %q", name))
	}
	sub := Subscription{Name: name, Type: t, Handler: handler}
	d.byName[name] = sub
	d.byType[t] = append(d.byType[t], sub)
}

// Subscriptions returns the subscriptions registered for t.
func (d *Dispatcher) Subscriptions(t Type) []Subscription {
	d.mu.RLock()
	defer d.mu.RUnlock()
	subs := make([]Subscription, len(d.byType[t]))
	copy(subs, d.byType[t])
	return subs
}

// Deliver invokes the named subscription for env. Already processed
// envelopes are skipped; panics are turned into errors.
func (d *Dispatcher) Deliver(ctx context.Context, name string, env Envelope) (err error) {
	d.mu.RLock()
	sub, ok := d.byName[name]
	d.mu.RUnlock()
	if !ok {
		return Permanent(fmt.Errorf("%w: %s", ErrUnknownSubscription, name))
	}
	if sub.Type != env.Type {
		return Permanent(fmt.Errorf("events: subscription %s does not handle %s", name, env.Type))
	}

	key := dedupKey(name, env.ID)
	seen, err := d.dedup.Seen(ctx, key)
	if err != nil {
		d.logger.Warn("event dedup lookup", slog.String("subscription", name), slog.Any("error", err))
	} else if seen {
		d.logger.Debug("event already processed", slog.String("subscription", name), slog.String("event_id", env.ID))
		d.metrics.Duplicate(name)
		return nil
	}

	tracker := d.metrics.Track(name)
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("events: subscription %s panicked: %v", name, r)
		}
		err = tracker.End(err)
	}()

	if err = sub.Handler(ctx, env); err != nil {
		return err
	}
	if markErr := d.dedup.Mark(ctx, key); markErr != nil {
		d.logger.Warn("event dedup mark", slog.String("subscription", name), slog.Any("error", markErr))
	}
	return nil
}

// Drop records that a transport gave up on env for the named subscription.
func (d *Dispatcher) Drop(name string, env Envelope, reason string, err error) {
	d.metrics.Drop(name, reason)
	d.logger.Error("event dropped",
		slog.String("subscription", name),
		slog.String("event_id", env.ID),
		slog.String("event_type", string(env.Type)),
		slog.String("reason", reason),
		slog.Any("error", err),
	)
}

func dedupKey(name, id string) string {
	return "events:processed:" + name + ":" + id
}
