package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/kidcare-enrollment-api/internal/models"
)

// NotificationRepository stores the delivery log of dispatched events.
type NotificationRepository struct {
	db *sqlx.DB
}

// NewNotificationRepository constructs the repository.
func NewNotificationRepository(db *sqlx.DB) *NotificationRepository {
	return &NotificationRepository{db: db}
}

// Record inserts the notification once; retried deliveries reuse the same id.
func (r *NotificationRepository) Record(ctx context.Context, n *models.Notification) error {
	if n.Status == "" {
		n.Status = models.NotificationStatusQueued
	}
	if n.CreatedAt.IsZero() {
		n.CreatedAt = time.Now().UTC()
	}
	if len(n.Payload) == 0 {
		n.Payload = []byte("{}")
	}
	const query = `INSERT INTO notifications (id, event_type, student_id, class_id, session_id, title, message, payload, is_broadcast, batch_id, status, attempts, created_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8::jsonb, $9, $10, $11, $12, $13)
ON CONFLICT (id) DO NOTHING`
	// payload travels as text; lib/pq would encode a raw []byte as bytea.
	if _, err := r.db.ExecContext(ctx, query, n.ID, n.EventType, n.StudentID, n.ClassID, n.SessionID, n.Title, n.Message,
		string(n.Payload), n.IsBroadcast, n.BatchID, n.Status, n.Attempts, n.CreatedAt); err != nil {
		return fmt.Errorf("record notification: %w", err)
	}
	return nil
}

// MarkDelivered stamps a successful delivery.
func (r *NotificationRepository) MarkDelivered(ctx context.Context, id string, at time.Time) error {
	const query = `UPDATE notifications SET status = 'delivered', attempts = attempts + 1, last_error = NULL, delivered_at = $2 WHERE id = $1`
	if _, err := r.db.ExecContext(ctx, query, id, at); err != nil {
		return fmt.Errorf("mark notification delivered: %w", err)
	}
	return nil
}

// MarkAttemptFailed counts a failed attempt; final marks the record failed for good.
func (r *NotificationRepository) MarkAttemptFailed(ctx context.Context, id, message string, final bool) error {
	const query = `UPDATE notifications SET attempts = attempts + 1, last_error = $2,
status = CASE WHEN $3 THEN 'failed' ELSE status END WHERE id = $1`
	if _, err := r.db.ExecContext(ctx, query, id, message, final); err != nil {
		return fmt.Errorf("mark notification failed: %w", err)
	}
	return nil
}

// ListBroadcasts summarises broadcast batches, newest first.
func (r *NotificationRepository) ListBroadcasts(ctx context.Context, limit, offset int) ([]models.BroadcastSummary, int, error) {
	const query = `SELECT batch_id, MIN(session_id) AS session_id, MIN(title) AS title, MIN(message) AS message,
COUNT(*) AS recipients, COUNT(*) FILTER (WHERE status = 'delivered') AS delivered, MIN(created_at) AS created_at
FROM notifications WHERE is_broadcast = TRUE
GROUP BY batch_id ORDER BY MIN(created_at) DESC LIMIT $1 OFFSET $2`
	var summaries []models.BroadcastSummary
	if err := r.db.SelectContext(ctx, &summaries, query, limit, offset); err != nil {
		return nil, 0, fmt.Errorf("list broadcasts: %w", err)
	}
	var total int
	if err := r.db.GetContext(ctx, &total, `SELECT COUNT(DISTINCT batch_id) FROM notifications WHERE is_broadcast = TRUE`); err != nil {
		return nil, 0, fmt.Errorf("count broadcasts: %w", err)
	}
	return summaries, total, nil
}
