package repository

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/kidcare-enrollment-api/internal/models"
	"github.com/noah-isme/kidcare-enrollment-api/pkg/database"
	appErrors "github.com/noah-isme/kidcare-enrollment-api/pkg/errors"
)

// ActiveEnrollmentIndex is the partial unique index enforcing one active
// pending/approved enrollment per (student, class).
const ActiveEnrollmentIndex = "enrollments_active_student_class_uniq"

const enrollmentColumns = `id, student_id, class_id, session_id, enrollment_status, enrollment_type, payment_status, payment_method,
enrolled_at, approved_at, rejected_at, cancelled_at, archived_at, admin_id, admin_notes, updated_at`

// EnrollmentRepository handles persistence of enrollments.
type EnrollmentRepository struct {
	db sqlx.ExtContext
}

// NewEnrollmentRepository constructs the repository.
func NewEnrollmentRepository(db sqlx.ExtContext) *EnrollmentRepository {
	return &EnrollmentRepository{db: db}
}

// LockByID returns an enrollment holding a row lock for the rest of the transaction.
func (r *EnrollmentRepository) LockByID(ctx context.Context, id string) (*models.Enrollment, error) {
	query := `SELECT ` + enrollmentColumns + ` FROM enrollments WHERE id = $1 FOR UPDATE`
	var enrollment models.Enrollment
	if err := sqlx.GetContext(ctx, r.db, &enrollment, query, id); err != nil {
		return nil, err
	}
	return &enrollment, nil
}

// FindActiveByStudentClass returns the seat-holding enrollment for the pair, locked.
func (r *EnrollmentRepository) FindActiveByStudentClass(ctx context.Context, studentID, classID string) (*models.Enrollment, error) {
	query := `SELECT ` + enrollmentColumns + ` FROM enrollments
WHERE student_id = $1 AND class_id = $2 AND enrollment_type = 'active' AND enrollment_status IN ('pending', 'approved')
FOR UPDATE`
	var enrollment models.Enrollment
	if err := sqlx.GetContext(ctx, r.db, &enrollment, query, studentID, classID); err != nil {
		return nil, err
	}
	return &enrollment, nil
}

// Create persists a new enrollment. A collision on the active index is
// reported as ALREADY_ENROLLED; it is the authoritative duplicate signal.
func (r *EnrollmentRepository) Create(ctx context.Context, enrollment *models.Enrollment) error {
	if enrollment.ID == "" {
		enrollment.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	if enrollment.EnrolledAt.IsZero() {
		enrollment.EnrolledAt = now
	}
	if enrollment.UpdatedAt.IsZero() {
		enrollment.UpdatedAt = enrollment.EnrolledAt
	}
	if enrollment.Status == "" {
		enrollment.Status = models.EnrollmentStatusPending
	}
	if enrollment.Type == "" {
		enrollment.Type = models.EnrollmentTypeActive
	}
	if enrollment.PaymentStatus == "" {
		enrollment.PaymentStatus = models.PaymentStatusUnpaid
	}
	const query = `INSERT INTO enrollments (id, student_id, class_id, session_id, enrollment_status, enrollment_type, payment_status, payment_method, enrolled_at, updated_at)
VALUES (:id, :student_id, :class_id, :session_id, :enrollment_status, :enrollment_type, :payment_status, :payment_method, :enrolled_at, :updated_at)`
	if _, err := sqlx.NamedExecContext(ctx, r.db, query, enrollment); err != nil {
		if database.IsUniqueViolation(err, ActiveEnrollmentIndex) {
			return appErrors.Wrap(err, appErrors.ErrAlreadyEnrolled.Code, appErrors.ErrAlreadyEnrolled.Status, appErrors.ErrAlreadyEnrolled.Message)
		}
		return fmt.Errorf("create enrollment: %w", err)
	}
	return nil
}

// ApplyReview records an approve/reject decision on an active record.
func (r *EnrollmentRepository) ApplyReview(ctx context.Context, id string, review models.EnrollmentReview) error {
	const query = `UPDATE enrollments SET enrollment_status = $2,
approved_at = CASE WHEN $2 = 'approved' THEN $5 ELSE approved_at END,
rejected_at = CASE WHEN $2 = 'rejected' THEN $5 ELSE rejected_at END,
admin_id = $3, admin_notes = COALESCE($4, admin_notes), updated_at = $5
WHERE id = $1 AND enrollment_type = 'active'`
	if _, err := r.db.ExecContext(ctx, query, id, review.Status, review.AdminID, review.Notes, review.At); err != nil {
		return fmt.Errorf("apply enrollment review: %w", err)
	}
	return nil
}

// Cancel marks a student-initiated cancellation; the record ends up rejected with cancelled_at set.
func (r *EnrollmentRepository) Cancel(ctx context.Context, id string, at time.Time) error {
	const query = `UPDATE enrollments SET enrollment_status = 'rejected', rejected_at = $2, cancelled_at = $2, updated_at = $2
WHERE id = $1 AND enrollment_type = 'active'`
	if _, err := r.db.ExecContext(ctx, query, id, at); err != nil {
		return fmt.Errorf("cancel enrollment: %w", err)
	}
	return nil
}

// ResetToPending reopens review. Reactivating a rejected record can collide
// with a newer active enrollment, which surfaces as ALREADY_ENROLLED.
func (r *EnrollmentRepository) ResetToPending(ctx context.Context, id, adminID string, notes *string, at time.Time) error {
	const query = `UPDATE enrollments SET enrollment_status = 'pending', approved_at = NULL, rejected_at = NULL, cancelled_at = NULL,
admin_id = $2, admin_notes = COALESCE($3, admin_notes), updated_at = $4
WHERE id = $1 AND enrollment_type = 'active'`
	if _, err := r.db.ExecContext(ctx, query, id, adminID, notes, at); err != nil {
		if database.IsUniqueViolation(err, ActiveEnrollmentIndex) {
			return appErrors.Wrap(err, appErrors.ErrAlreadyEnrolled.Code, appErrors.ErrAlreadyEnrolled.Status, appErrors.ErrAlreadyEnrolled.Message)
		}
		return fmt.Errorf("reset enrollment: %w", err)
	}
	return nil
}

// UpdatePayment sets the payment status of an active record.
func (r *EnrollmentRepository) UpdatePayment(ctx context.Context, id string, status models.PaymentStatus, at time.Time) error {
	const query = `UPDATE enrollments SET payment_status = $2, updated_at = $3 WHERE id = $1 AND enrollment_type = 'active'`
	if _, err := r.db.ExecContext(ctx, query, id, status, at); err != nil {
		return fmt.Errorf("update enrollment payment: %w", err)
	}
	return nil
}

// ArchiveBySession moves every active record of the session to history.
// Records still pending review are rejected with pendingNote first, so that
// only approved/rejected records ever become historical.
func (r *EnrollmentRepository) ArchiveBySession(ctx context.Context, sessionID, pendingNote string, at time.Time) ([]models.Enrollment, error) {
	const rejectPending = `UPDATE enrollments SET enrollment_status = 'rejected', rejected_at = $2, admin_notes = $3, updated_at = $2
WHERE session_id = $1 AND enrollment_type = 'active' AND enrollment_status = 'pending'`
	if _, err := r.db.ExecContext(ctx, rejectPending, sessionID, at, pendingNote); err != nil {
		return nil, fmt.Errorf("reject pending enrollments: %w", err)
	}
	archive := `UPDATE enrollments SET enrollment_type = 'historical', archived_at = $2, updated_at = $2
WHERE session_id = $1 AND enrollment_type = 'active'
RETURNING ` + enrollmentColumns
	var archived []models.Enrollment
	if err := sqlx.SelectContext(ctx, r.db, &archived, archive, sessionID, at); err != nil {
		return nil, fmt.Errorf("archive enrollments: %w", err)
	}
	return archived, nil
}

// RejectSeatHolders rejects every seat-holding record of the session.
func (r *EnrollmentRepository) RejectSeatHolders(ctx context.Context, sessionID, note string, at time.Time) ([]models.Enrollment, error) {
	query := `UPDATE enrollments SET enrollment_status = 'rejected', rejected_at = $2, admin_notes = $3, updated_at = $2
WHERE session_id = $1 AND enrollment_type = 'active' AND enrollment_status IN ('pending', 'approved')
RETURNING ` + enrollmentColumns
	var rejected []models.Enrollment
	if err := sqlx.SelectContext(ctx, r.db, &rejected, query, sessionID, at, note); err != nil {
		return nil, fmt.Errorf("reject session enrollments: %w", err)
	}
	return rejected, nil
}

// ListSeatHolders returns the active pending/approved records of a session.
func (r *EnrollmentRepository) ListSeatHolders(ctx context.Context, sessionID string) ([]models.Enrollment, error) {
	query := `SELECT ` + enrollmentColumns + ` FROM enrollments
WHERE session_id = $1 AND enrollment_type = 'active' AND enrollment_status IN ('pending', 'approved')
ORDER BY enrolled_at`
	var enrollments []models.Enrollment
	if err := sqlx.SelectContext(ctx, r.db, &enrollments, query, sessionID); err != nil {
		return nil, fmt.Errorf("list seat holders: %w", err)
	}
	return enrollments, nil
}

// ListByStudent returns every enrollment of a student, newest first.
func (r *EnrollmentRepository) ListByStudent(ctx context.Context, studentID string) ([]models.Enrollment, error) {
	query := `SELECT ` + enrollmentColumns + ` FROM enrollments WHERE student_id = $1 ORDER BY enrolled_at DESC`
	var enrollments []models.Enrollment
	if err := sqlx.SelectContext(ctx, r.db, &enrollments, query, studentID); err != nil {
		return nil, fmt.Errorf("list student enrollments: %w", err)
	}
	return enrollments, nil
}

// ListSessionsToArchive returns completed sessions that still own active records.
func (r *EnrollmentRepository) ListSessionsToArchive(ctx context.Context, limit int) ([]string, error) {
	const query = `SELECT DISTINCT e.session_id FROM enrollments e
JOIN class_sessions s ON s.id = e.session_id
WHERE e.enrollment_type = 'active' AND s.status = 'completed'
LIMIT $1`
	var ids []string
	if err := sqlx.SelectContext(ctx, r.db, &ids, query, limit); err != nil {
		return nil, fmt.Errorf("list sessions to archive: %w", err)
	}
	return ids, nil
}

// List returns enrollments filtered by the provided criteria.
func (r *EnrollmentRepository) List(ctx context.Context, filter models.EnrollmentFilter) ([]models.Enrollment, int, error) {
	var conditions []string
	var args []interface{}

	if filter.StudentID != "" {
		conditions = append(conditions, fmt.Sprintf("student_id = $%d", len(args)+1))
		args = append(args, filter.StudentID)
	}
	if filter.ClassID != "" {
		conditions = append(conditions, fmt.Sprintf("class_id = $%d", len(args)+1))
		args = append(args, filter.ClassID)
	}
	if filter.SessionID != "" {
		conditions = append(conditions, fmt.Sprintf("session_id = $%d", len(args)+1))
		args = append(args, filter.SessionID)
	}
	if filter.Status != "" {
		conditions = append(conditions, fmt.Sprintf("enrollment_status = $%d", len(args)+1))
		args = append(args, filter.Status)
	}
	if filter.Type != "" {
		conditions = append(conditions, fmt.Sprintf("enrollment_type = $%d", len(args)+1))
		args = append(args, filter.Type)
	}
	if filter.From != nil {
		conditions = append(conditions, fmt.Sprintf("enrolled_at >= $%d", len(args)+1))
		args = append(args, *filter.From)
	}
	if filter.To != nil {
		conditions = append(conditions, fmt.Sprintf("enrolled_at < $%d", len(args)+1))
		args = append(args, *filter.To)
	}

	clause := ""
	if len(conditions) > 0 {
		clause = " WHERE " + strings.Join(conditions, " AND ")
	}

	allowedSorts := map[string]string{
		"enrolled_at": "enrolled_at",
		"updated_at":  "updated_at",
		"status":      "enrollment_status",
	}
	orderBy := allowedSorts[filter.SortBy]
	if orderBy == "" {
		orderBy = "enrolled_at"
	}
	order := strings.ToUpper(filter.SortOrder)
	if order != "ASC" && order != "DESC" {
		order = "DESC"
	}
	page, size := NormalizePage(filter.Page, filter.PageSize)
	offset := (page - 1) * size

	query := fmt.Sprintf(`SELECT %s FROM enrollments%s ORDER BY %s %s, id LIMIT %d OFFSET %d`, enrollmentColumns, clause, orderBy, order, size, offset)

	var enrollments []models.Enrollment
	if err := sqlx.SelectContext(ctx, r.db, &enrollments, query, args...); err != nil {
		return nil, 0, fmt.Errorf("list enrollments: %w", err)
	}

	var total int
	if err := sqlx.GetContext(ctx, r.db, &total, "SELECT COUNT(*) FROM enrollments"+clause, args...); err != nil {
		return nil, 0, fmt.Errorf("count enrollments: %w", err)
	}
	return enrollments, total, nil
}

// NormalizePage clamps paging input to sane bounds.
func NormalizePage(page, size int) (int, int) {
	if page < 1 {
		page = 1
	}
	if size <= 0 || size > 100 {
		size = 20
	}
	return page, size
}
