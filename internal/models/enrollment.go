package models

import "time"

// EnrollmentStatus is the review axis of an enrollment.
type EnrollmentStatus string

// Possible enrollment statuses.
const (
	EnrollmentStatusPending  EnrollmentStatus = "pending"
	EnrollmentStatusApproved EnrollmentStatus = "approved"
	EnrollmentStatusRejected EnrollmentStatus = "rejected"
)

// EnrollmentType separates current records from archived history.
type EnrollmentType string

// Possible enrollment types.
const (
	EnrollmentTypeActive     EnrollmentType = "active"
	EnrollmentTypeHistorical EnrollmentType = "historical"
)

// PaymentStatus tracks settlement of the enrollment fee.
type PaymentStatus string

// Possible payment statuses.
const (
	PaymentStatusUnpaid PaymentStatus = "unpaid"
	PaymentStatusPaid   PaymentStatus = "paid"
	PaymentStatusWaived PaymentStatus = "waived"
)

// PaymentMethod is how the student intends to pay.
type PaymentMethod string

// Supported payment methods.
const (
	PaymentMethodSelf PaymentMethod = "Self"
	PaymentMethodEIP  PaymentMethod = "EIP"
)

// Enrollment captures a student's claim on one session of one class.
type Enrollment struct {
	ID            string           `db:"id" json:"id"`
	StudentID     string           `db:"student_id" json:"student_id"`
	ClassID       string           `db:"class_id" json:"class_id"`
	SessionID     string           `db:"session_id" json:"session_id"`
	Status        EnrollmentStatus `db:"enrollment_status" json:"enrollment_status"`
	Type          EnrollmentType   `db:"enrollment_type" json:"enrollment_type"`
	PaymentStatus PaymentStatus    `db:"payment_status" json:"payment_status"`
	PaymentMethod *PaymentMethod   `db:"payment_method" json:"payment_method,omitempty"`
	EnrolledAt    time.Time        `db:"enrolled_at" json:"enrolled_at"`
	ApprovedAt    *time.Time       `db:"approved_at" json:"approved_at,omitempty"`
	RejectedAt    *time.Time       `db:"rejected_at" json:"rejected_at,omitempty"`
	CancelledAt   *time.Time       `db:"cancelled_at" json:"cancelled_at,omitempty"`
	ArchivedAt    *time.Time       `db:"archived_at" json:"archived_at,omitempty"`
	AdminID       *string          `db:"admin_id" json:"admin_id,omitempty"`
	AdminNotes    *string          `db:"admin_notes" json:"admin_notes,omitempty"`
	UpdatedAt     time.Time        `db:"updated_at" json:"updated_at"`
}

// HoldsSeat reports whether the record currently occupies a seat in its session.
func (e Enrollment) HoldsSeat() bool {
	return e.Type == EnrollmentTypeActive &&
		(e.Status == EnrollmentStatusPending || e.Status == EnrollmentStatusApproved)
}

// EnrollmentFilter provides filters for the admin listing.
type EnrollmentFilter struct {
	StudentID string
	ClassID   string
	SessionID string
	Status    EnrollmentStatus
	Type      EnrollmentType
	From      *time.Time
	To        *time.Time
	Page      int
	PageSize  int
	SortBy    string
	SortOrder string
}

// EnrollmentReview carries the admin decision applied to a pending record.
type EnrollmentReview struct {
	Status  EnrollmentStatus
	AdminID string
	Notes   *string
	At      time.Time
}
