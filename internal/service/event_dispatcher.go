package service

import (
	"context"
	"encoding/json"
	"time"

	"go.uber.org/zap"

	"github.com/noah-isme/kidcare-enrollment-api/internal/models"
	"github.com/noah-isme/kidcare-enrollment-api/pkg/config"
	"github.com/noah-isme/kidcare-enrollment-api/pkg/jobs"
)

type notificationStore interface {
	Record(ctx context.Context, n *models.Notification) error
	MarkDelivered(ctx context.Context, id string, at time.Time) error
	MarkAttemptFailed(ctx context.Context, id, message string, final bool) error
}

// EventSink pushes a domain event to the outside world.
type EventSink interface {
	Deliver(ctx context.Context, event models.DomainEvent) error
}

// LogEventSink hands events to the log when no external channel is configured.
type LogEventSink struct {
	Logger *zap.Logger
}

// Deliver implements EventSink.
func (s LogEventSink) Deliver(_ context.Context, event models.DomainEvent) error {
	if s.Logger != nil {
		s.Logger.Info("domain event",
			zap.String("event_id", event.ID),
			zap.String("event_type", string(event.Type)),
			zap.String("student_id", event.StudentID),
			zap.String("session_id", event.SessionID),
		)
	}
	return nil
}

// EventDispatcher records every domain event and pushes it to the notification
// channel from a worker pool. Failed deliveries are retried with backoff; once
// retries run out the record is marked failed. Nothing here reports back to the
// operation that produced the event.
type EventDispatcher struct {
	queue   *jobs.Queue
	store   notificationStore
	sink    EventSink
	metrics *MetricsService
	logger  *zap.Logger
	now     func() time.Time
}

// NewEventDispatcher builds the dispatcher; call Start before publishing.
func NewEventDispatcher(store notificationStore, sink EventSink, metrics *MetricsService, cfg config.NotificationConfig, logger *zap.Logger) *EventDispatcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	if sink == nil {
		sink = LogEventSink{Logger: logger}
	}
	d := &EventDispatcher{
		store:   store,
		sink:    sink,
		metrics: metrics,
		logger:  logger,
		now:     func() time.Time { return time.Now().UTC() },
	}
	d.queue = jobs.NewQueue("notifications", d.deliver, jobs.QueueConfig{
		Workers:     cfg.Workers,
		BufferSize:  cfg.BufferSize,
		MaxRetries:  cfg.MaxRetries,
		RetryDelay:  cfg.RetryDelay,
		OnExhausted: d.exhausted,
		Logger:      logger,
	})
	return d
}

// Start launches the delivery workers.
func (d *EventDispatcher) Start(ctx context.Context) {
	d.queue.Start(ctx)
}

// Stop waits for in-flight deliveries to finish.
func (d *EventDispatcher) Stop() {
	d.queue.Stop()
}

// Publish hands events to the delivery workers without waiting for buffer
// room. An event that does not fit is dropped, counted and recorded as failed
// in the background.
func (d *EventDispatcher) Publish(_ context.Context, events ...models.DomainEvent) {
	for _, event := range events {
		job := jobs.Job{ID: event.ID, Type: string(event.Type), Payload: event}
		if err := d.queue.TryEnqueue(job); err != nil {
			d.logger.Error("notification dropped", zap.String("event_id", event.ID), zap.String("event_type", string(event.Type)), zap.Error(err))
			d.metrics.RecordNotification(false)
			go d.recordDropped(event, err)
		}
	}
}

func (d *EventDispatcher) recordDropped(event models.DomainEvent, cause error) {
	record, err := notificationFromEvent(event)
	if err != nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := d.store.Record(ctx, record); err != nil {
		d.logger.Warn("failed to record dropped notification", zap.String("event_id", event.ID), zap.Error(err))
		return
	}
	if err := d.store.MarkAttemptFailed(ctx, event.ID, cause.Error(), true); err != nil {
		d.logger.Warn("failed to mark notification failed", zap.String("event_id", event.ID), zap.Error(err))
	}
}

func (d *EventDispatcher) deliver(ctx context.Context, job jobs.Job) error {
	event, ok := job.Payload.(models.DomainEvent)
	if !ok {
		d.logger.Error("unexpected notification payload", zap.String("job_id", job.ID))
		return nil
	}

	record, err := notificationFromEvent(event)
	if err != nil {
		d.logger.Error("unencodable domain event", zap.String("event_id", event.ID), zap.Error(err))
		return nil
	}
	if err := d.store.Record(ctx, record); err != nil {
		return err
	}
	if err := d.sink.Deliver(ctx, event); err != nil {
		if markErr := d.store.MarkAttemptFailed(ctx, event.ID, err.Error(), false); markErr != nil {
			d.logger.Warn("failed to record delivery attempt", zap.String("event_id", event.ID), zap.Error(markErr))
		}
		return err
	}
	if err := d.store.MarkDelivered(ctx, event.ID, d.now()); err != nil {
		d.logger.Warn("failed to mark notification delivered", zap.String("event_id", event.ID), zap.Error(err))
	}
	d.metrics.RecordNotification(true)
	return nil
}

func (d *EventDispatcher) exhausted(job jobs.Job, err error) {
	d.metrics.RecordNotification(false)
	d.logger.Error("notification delivery failed", zap.String("event_id", job.ID), zap.String("event_type", job.Type), zap.Error(err))
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if markErr := d.store.MarkAttemptFailed(ctx, job.ID, err.Error(), true); markErr != nil {
		d.logger.Warn("failed to mark notification failed", zap.String("event_id", job.ID), zap.Error(markErr))
	}
}

func notificationFromEvent(event models.DomainEvent) (*models.Notification, error) {
	payload, err := json.Marshal(event)
	if err != nil {
		return nil, err
	}
	title := event.Title
	if title == "" {
		title = string(event.Type)
	}
	return &models.Notification{
		ID:          event.ID,
		EventType:   event.Type,
		StudentID:   event.StudentID,
		ClassID:     event.ClassID,
		SessionID:   event.SessionID,
		Title:       title,
		Message:     event.Message,
		Payload:     payload,
		IsBroadcast: event.IsBroadcast(),
		BatchID:     event.BatchID,
		Status:      models.NotificationStatusQueued,
		CreatedAt:   event.OccurredAt,
	}, nil
}
