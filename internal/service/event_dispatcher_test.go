package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/kidcare-enrollment-api/internal/models"
	"github.com/noah-isme/kidcare-enrollment-api/pkg/config"
)

type memoryNotificationStore struct {
	mu      sync.Mutex
	records map[string]models.Notification
	errors  map[string][]string
}

func newMemoryNotificationStore() *memoryNotificationStore {
	return &memoryNotificationStore{records: map[string]models.Notification{}, errors: map[string][]string{}}
}

func (s *memoryNotificationStore) Record(_ context.Context, n *models.Notification) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.records[n.ID]; !ok {
		s.records[n.ID] = *n
	}
	return nil
}

func (s *memoryNotificationStore) MarkDelivered(_ context.Context, id string, _ time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := s.records[id]
	n.Status = models.NotificationStatusDelivered
	s.records[id] = n
	return nil
}

func (s *memoryNotificationStore) MarkAttemptFailed(_ context.Context, id, message string, final bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.errors[id] = append(s.errors[id], message)
	if final {
		n := s.records[id]
		n.Status = models.NotificationStatusFailed
		s.records[id] = n
	}
	return nil
}

func (s *memoryNotificationStore) get(id string) (models.Notification, int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.records[id], len(s.errors[id])
}

// flakySink fails the first failures deliveries of every event.
type flakySink struct {
	mu       sync.Mutex
	failures int
	attempts map[string]int
}

func (s *flakySink) Deliver(_ context.Context, event models.DomainEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.attempts[event.ID]++
	if s.attempts[event.ID] <= s.failures {
		return errors.New("channel unavailable")
	}
	return nil
}

func newTestDispatcher(t *testing.T, store notificationStore, sink EventSink, retries int) *EventDispatcher {
	t.Helper()
	d := NewEventDispatcher(store, sink, nil, config.NotificationConfig{Workers: 2, BufferSize: 16, MaxRetries: retries, RetryDelay: time.Millisecond}, nil)
	d.Start(context.Background())
	t.Cleanup(d.Stop)
	return d
}

func TestEventDispatcherRetriesUntilDelivered(t *testing.T) {
	store := newMemoryNotificationStore()
	d := newTestDispatcher(t, store, &flakySink{failures: 2, attempts: map[string]int{}}, 3)

	d.Publish(context.Background(), models.DomainEvent{ID: "evt-1", Type: models.EventEnrollmentApproved, StudentID: "stu-1", OccurredAt: testNow})

	assert.Eventually(t, func() bool {
		n, _ := store.get("evt-1")
		return n.Status == models.NotificationStatusDelivered
	}, time.Second, 5*time.Millisecond)
	n, failures := store.get("evt-1")
	assert.Equal(t, 2, failures)
	assert.Equal(t, "EnrollmentApproved", n.Title)
	assert.False(t, n.IsBroadcast)
}

func TestEventDispatcherMarksExhaustedDeliveryFailed(t *testing.T) {
	store := newMemoryNotificationStore()
	d := newTestDispatcher(t, store, &flakySink{failures: 100, attempts: map[string]int{}}, 1)

	d.Publish(context.Background(), models.DomainEvent{ID: "evt-2", Type: models.EventWaitlistPromoted, StudentID: "stu-1", OccurredAt: testNow})

	assert.Eventually(t, func() bool {
		n, _ := store.get("evt-2")
		return n.Status == models.NotificationStatusFailed
	}, time.Second, 5*time.Millisecond)
}

func TestEventDispatcherFlagsBroadcasts(t *testing.T) {
	store := newMemoryNotificationStore()
	d := newTestDispatcher(t, store, &flakySink{attempts: map[string]int{}}, 0)
	batch := "batch-1"

	d.Publish(context.Background(),
		models.DomainEvent{ID: "b-1", Type: models.EventSessionBroadcast, StudentID: "stu-1", Title: "Snow day", Message: "Closed", BatchID: &batch},
		models.DomainEvent{ID: "b-2", Type: models.EventSessionBroadcast, StudentID: "stu-2", Title: "Snow day", Message: "Closed", BatchID: &batch},
	)

	assert.Eventually(t, func() bool {
		first, _ := store.get("b-1")
		second, _ := store.get("b-2")
		return first.Status == models.NotificationStatusDelivered && second.Status == models.NotificationStatusDelivered
	}, time.Second, 5*time.Millisecond)
	n, _ := store.get("b-1")
	assert.True(t, n.IsBroadcast)
	require.NotNil(t, n.BatchID)
	assert.Equal(t, batch, *n.BatchID)
	assert.Equal(t, "Snow day", n.Title)
	assert.Equal(t, "Closed", n.Message)
}

// stalledSink holds every delivery until released.
type stalledSink struct {
	release chan struct{}
}

func (s *stalledSink) Deliver(ctx context.Context, _ models.DomainEvent) error {
	select {
	case <-s.release:
	case <-ctx.Done():
	}
	return nil
}

func TestEventDispatcherPublishDoesNotWaitOnSlowSink(t *testing.T) {
	store := newMemoryNotificationStore()
	sink := &stalledSink{release: make(chan struct{})}
	d := NewEventDispatcher(store, sink, nil, config.NotificationConfig{Workers: 1, BufferSize: 2, RetryDelay: time.Millisecond}, nil)
	d.Start(context.Background())
	t.Cleanup(d.Stop)
	t.Cleanup(func() { close(sink.release) })

	events := make([]models.DomainEvent, 0, 10)
	for i := 0; i < 10; i++ {
		events = append(events, models.DomainEvent{ID: fmt.Sprintf("slow-%d", i), Type: models.EventEnrollmentPending, StudentID: "stu-1", OccurredAt: testNow})
	}

	done := make(chan struct{})
	go func() {
		d.Publish(context.Background(), events...)
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(200 * time.Millisecond):
		t.Fatal("publish waited on delivery")
	}

	assert.Eventually(t, func() bool {
		failed := 0
		for _, e := range events {
			if n, _ := store.get(e.ID); n.Status == models.NotificationStatusFailed {
				failed++
			}
		}
		return failed >= 7
	}, time.Second, 5*time.Millisecond)
}

func TestEventDispatcherPublishBeforeStartRecordsDrop(t *testing.T) {
	store := newMemoryNotificationStore()
	d := NewEventDispatcher(store, nil, nil, config.NotificationConfig{}, nil)

	d.Publish(context.Background(), models.DomainEvent{ID: "evt-3", Type: models.EventEnrollmentPending})
	assert.Eventually(t, func() bool {
		n, failures := store.get("evt-3")
		return n.Status == models.NotificationStatusFailed && failures == 1
	}, time.Second, 5*time.Millisecond)
}
