package models

import "time"

// EventType names a domain event emitted by the enrollment engine.
type EventType string

// Domain events.
const (
	EventEnrollmentPending   EventType = "EnrollmentPending"
	EventEnrollmentApproved  EventType = "EnrollmentApproved"
	EventEnrollmentRejected  EventType = "EnrollmentRejected"
	EventEnrollmentCancelled EventType = "EnrollmentCancelled"
	EventEnrollmentReset     EventType = "EnrollmentReset"
	EventEnrollmentArchived  EventType = "EnrollmentArchived"
	EventWaitlistJoined      EventType = "WaitlistJoined"
	EventWaitlistLeft        EventType = "WaitlistLeft"
	EventWaitlistPromoted    EventType = "WaitlistPromoted"
	EventWaitlistExpired     EventType = "WaitlistExpired"
	EventSessionBroadcast    EventType = "SessionBroadcast"
)

// DomainEvent is the payload handed to the notification dispatcher.
type DomainEvent struct {
	ID            string         `json:"id"`
	Type          EventType      `json:"eventType"`
	StudentID     string         `json:"studentId"`
	ClassID       string         `json:"classId"`
	SessionID     string         `json:"sessionId"`
	AdminNotes    *string        `json:"adminNotes,omitempty"`
	PaymentMethod *PaymentMethod `json:"paymentMethod,omitempty"`
	Title         string         `json:"title,omitempty"`
	Message       string         `json:"message,omitempty"`
	BatchID       *string        `json:"batchId,omitempty"`
	OccurredAt    time.Time      `json:"occurredAt"`
}

// IsBroadcast reports whether the event belongs to an admin broadcast batch.
func (e DomainEvent) IsBroadcast() bool {
	return e.BatchID != nil
}
