package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/hibiken/asynq"

	"github.com/agoracloud/agora/internal/events"
	jobmetrics "github.com/agoracloud/agora/internal/jobs"
)

const (
	// QueueDefault is the default queue name for background jobs.
	QueueDefault = "default"
	// QueueEvents carries lifecycle event deliveries.
	QueueEvents = "events"
	// TaskEventDeliver delivers one envelope to one subscription.
	TaskEventDeliver = "events:deliver"
)

// EventTaskPayload is the body of a TaskEventDeliver task.
type EventTaskPayload struct {
	Subscription string          `json:"subscription"`
	Envelope     events.Envelope `json:"envelope"`
}

// NewEventTask constructs a delivery task for one subscription.
func NewEventTask(subscription string, env events.Envelope) (*asynq.Task, error) {
	data, err := json.Marshal(EventTaskPayload{Subscription: subscription, Envelope: env})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskEventDeliver, data), nil
}

// EventTaskID is the asynq task id for a delivery, so a republished envelope
// is not enqueued twice for the same subscription.
func EventTaskID(subscription string, env events.Envelope) string {
	return env.ID + ":" + subscription
}

// EventPublisher fans envelopes out to one asynq task per subscription.
type EventPublisher struct {
	client     *Client
	dispatcher *events.Dispatcher
	maxRetry   int
}

// NewEventPublisher constructs an EventPublisher.
func NewEventPublisher(client *Client, dispatcher *events.Dispatcher, maxRetry int) *EventPublisher {
	if maxRetry <= 0 {
		maxRetry = 25
	}
	return &EventPublisher{client: client, dispatcher: dispatcher, maxRetry: maxRetry}
}

// Publish enqueues a delivery per (envelope, subscription).
func (p *EventPublisher) Publish(ctx context.Context, envs ...events.Envelope) error {
	for _, env := range envs {
		for _, sub := range p.dispatcher.Subscriptions(env.Type) {
			task, err := NewEventTask(sub.Name, env)
			if err != nil {
				return err
			}
			_, err = p.client.client.EnqueueContext(ctx, task,
				asynq.Queue(QueueEvents),
				asynq.TaskID(EventTaskID(sub.Name, env)),
				asynq.MaxRetry(p.maxRetry),
			)
			if err != nil && !errors.Is(err, asynq.ErrTaskIDConflict) {
				return fmt.Errorf("jobs: enqueue %s for %s: %w", env.Type, sub.Name, err)
			}
		}
	}
	return nil
}

// EventTaskHandler runs TaskEventDeliver tasks through the dispatcher.
type EventTaskHandler struct {
	dispatcher *events.Dispatcher
	logger     *slog.Logger
}

// NewEventTaskHandler constructs an EventTaskHandler.
func NewEventTaskHandler(dispatcher *events.Dispatcher, logger *slog.Logger) *EventTaskHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &EventTaskHandler{dispatcher: dispatcher, logger: logger}
}

// Handle processes TaskEventDeliver tasks. Undecodable tasks and permanent
// handler failures are not retried.
func (h *EventTaskHandler) Handle(ctx context.Context, t *asynq.Task) error {
	var payload EventTaskPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		h.logger.Error("decode event task", slog.Any("error", err))
		return asynq.SkipRetry
	}
	err := h.dispatcher.Deliver(ctx, payload.Subscription, payload.Envelope)
	if err == nil {
		return nil
	}
	if events.IsPermanent(err) {
		h.dispatcher.Drop(payload.Subscription, payload.Envelope, jobmetrics.ReasonPermanent, err)
		return fmt.Errorf("%v: %w", err, asynq.SkipRetry)
	}
	return err
}

// ErrorHandler records deliveries whose retries ran out.
func (h *EventTaskHandler) ErrorHandler() asynq.ErrorHandler {
	return asynq.ErrorHandlerFunc(func(ctx context.Context, t *asynq.Task, err error) {
		if t.Type() != TaskEventDeliver {
			return
		}
		retried, _ := asynq.GetRetryCount(ctx)
		maxRetry, _ := asynq.GetMaxRetry(ctx)
		if retried < maxRetry || errors.Is(err, asynq.SkipRetry) {
			return
		}
		var payload EventTaskPayload
		if json.Unmarshal(t.Payload(), &payload) != nil {
			return
		}
		h.dispatcher.Drop(payload.Subscription, payload.Envelope, jobmetrics.ReasonExhausted, err)
	})
}
