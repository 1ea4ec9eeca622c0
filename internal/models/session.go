package models

import "time"

// SessionStatus represents the lifecycle of a class session.
type SessionStatus string

// Possible session statuses.
const (
	SessionStatusScheduled SessionStatus = "scheduled"
	SessionStatusCompleted SessionStatus = "completed"
	SessionStatusCancelled SessionStatus = "cancelled"
)

// Valid reports whether s is a known status.
func (s SessionStatus) Valid() bool {
	switch s {
	case SessionStatusScheduled, SessionStatusCompleted, SessionStatusCancelled:
		return true
	}
	return false
}

// Session is one scheduled occurrence of a class with its own seat ledger.
type Session struct {
	ID            string        `db:"id" json:"id"`
	ClassID       string        `db:"class_id" json:"class_id"`
	Location      string        `db:"location" json:"location"`
	StartsAt      time.Time     `db:"starts_at" json:"starts_at"`
	EndsAt        time.Time     `db:"ends_at" json:"ends_at"`
	Capacity      int           `db:"capacity" json:"capacity"`
	EnrolledCount int           `db:"enrolled_count" json:"enrolled_count"`
	Status        SessionStatus `db:"status" json:"status"`
	WaitlistSeq   int64         `db:"waitlist_seq" json:"-"`
	CreatedAt     time.Time     `db:"created_at" json:"created_at"`
	UpdatedAt     time.Time     `db:"updated_at" json:"updated_at"`
}

// Remaining returns the number of free seats.
func (s Session) Remaining() int {
	if s.EnrolledCount >= s.Capacity {
		return 0
	}
	return s.Capacity - s.EnrolledCount
}

// IsFull reports whether every seat is taken.
func (s Session) IsFull() bool {
	return s.EnrolledCount >= s.Capacity
}

// Enrollable reports whether new seats may be reserved at now.
func (s Session) Enrollable(now time.Time) bool {
	return s.Status == SessionStatusScheduled && s.StartsAt.After(now)
}

// SessionAvailability is the public seat summary for a session.
type SessionAvailability struct {
	SessionID     string        `json:"session_id"`
	ClassID       string        `json:"class_id"`
	Status        SessionStatus `json:"status"`
	Capacity      int           `json:"capacity"`
	EnrolledCount int           `json:"enrolled_count"`
	Remaining     int           `json:"remaining"`
	IsFull        bool          `json:"is_full"`
	Waiting       int           `json:"waiting"`
}
