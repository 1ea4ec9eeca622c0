package models

import "time"

// WaitlistStatus represents the lifecycle of a waitlist entry.
type WaitlistStatus string

// Possible waitlist statuses.
const (
	WaitlistStatusWaiting   WaitlistStatus = "waiting"
	WaitlistStatusOffered   WaitlistStatus = "offered"
	WaitlistStatusExpired   WaitlistStatus = "expired"
	WaitlistStatusWithdrawn WaitlistStatus = "withdrawn"
)

// WaitlistEntry is a student queued for a seat in a full session. Position is
// assigned once per session and never reused; gaps are expected.
type WaitlistEntry struct {
	ID        string         `db:"id" json:"id"`
	StudentID string         `db:"student_id" json:"student_id"`
	ClassID   string         `db:"class_id" json:"class_id"`
	SessionID string         `db:"session_id" json:"session_id"`
	Position  int64          `db:"position" json:"position"`
	Status    WaitlistStatus `db:"status" json:"status"`
	JoinedAt  time.Time      `db:"joined_at" json:"joined_at"`
	OfferedAt *time.Time     `db:"offered_at" json:"offered_at,omitempty"`
	UpdatedAt time.Time      `db:"updated_at" json:"updated_at"`
}

// Active reports whether the entry still participates in promotion.
func (w WaitlistEntry) Active() bool {
	return w.Status == WaitlistStatusWaiting || w.Status == WaitlistStatusOffered
}
