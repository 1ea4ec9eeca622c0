package models

import (
	"encoding/json"
	"time"
)

// NotificationStatus tracks delivery of a recorded notification.
type NotificationStatus string

// Notification delivery states.
const (
	NotificationStatusQueued    NotificationStatus = "queued"
	NotificationStatusDelivered NotificationStatus = "delivered"
	NotificationStatusFailed    NotificationStatus = "failed"
)

// Notification is the durable record of one dispatched event. Broadcasts are
// tagged explicitly at creation time with IsBroadcast and a shared BatchID.
type Notification struct {
	ID          string             `db:"id" json:"id"`
	EventType   EventType          `db:"event_type" json:"event_type"`
	StudentID   string             `db:"student_id" json:"student_id"`
	ClassID     string             `db:"class_id" json:"class_id"`
	SessionID   string             `db:"session_id" json:"session_id"`
	Title       string             `db:"title" json:"title"`
	Message     string             `db:"message" json:"message"`
	Payload     json.RawMessage    `db:"payload" json:"payload"`
	IsBroadcast bool               `db:"is_broadcast" json:"is_broadcast"`
	BatchID     *string            `db:"batch_id" json:"batch_id,omitempty"`
	Status      NotificationStatus `db:"status" json:"status"`
	Attempts    int                `db:"attempts" json:"attempts"`
	LastError   *string            `db:"last_error" json:"last_error,omitempty"`
	CreatedAt   time.Time          `db:"created_at" json:"created_at"`
	DeliveredAt *time.Time         `db:"delivered_at" json:"delivered_at,omitempty"`
}

// BroadcastSummary groups the notifications of one broadcast batch.
type BroadcastSummary struct {
	BatchID    string    `db:"batch_id" json:"batch_id"`
	SessionID  string    `db:"session_id" json:"session_id"`
	Title      string    `db:"title" json:"title"`
	Message    string    `db:"message" json:"message"`
	Recipients int       `db:"recipients" json:"recipients"`
	Delivered  int       `db:"delivered" json:"delivered"`
	CreatedAt  time.Time `db:"created_at" json:"created_at"`
}
