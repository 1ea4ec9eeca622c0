package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/kidcare-enrollment-api/internal/models"
	"github.com/noah-isme/kidcare-enrollment-api/pkg/database"
	appErrors "github.com/noah-isme/kidcare-enrollment-api/pkg/errors"
)

// ActiveWaitlistIndex allows one waiting/offered entry per (student, session).
const ActiveWaitlistIndex = "waitlist_entries_active_uniq"

const waitlistColumns = `id, student_id, class_id, session_id, position, status, joined_at, offered_at, updated_at`

// WaitlistRepository persists per-session FIFO waitlists.
type WaitlistRepository struct {
	db sqlx.ExtContext
}

// NewWaitlistRepository constructs the repository.
func NewWaitlistRepository(db sqlx.ExtContext) *WaitlistRepository {
	return &WaitlistRepository{db: db}
}

// FindActive returns the waiting/offered entry of a student for a session.
func (r *WaitlistRepository) FindActive(ctx context.Context, sessionID, studentID string) (*models.WaitlistEntry, error) {
	query := `SELECT ` + waitlistColumns + ` FROM waitlist_entries
WHERE session_id = $1 AND student_id = $2 AND status IN ('waiting', 'offered')`
	var entry models.WaitlistEntry
	if err := sqlx.GetContext(ctx, r.db, &entry, query, sessionID, studentID); err != nil {
		return nil, err
	}
	return &entry, nil
}

// FindLatest returns the most recent entry of a student for a session in any status.
func (r *WaitlistRepository) FindLatest(ctx context.Context, sessionID, studentID string) (*models.WaitlistEntry, error) {
	query := `SELECT ` + waitlistColumns + ` FROM waitlist_entries
WHERE session_id = $1 AND student_id = $2 ORDER BY joined_at DESC, position DESC LIMIT 1`
	var entry models.WaitlistEntry
	if err := sqlx.GetContext(ctx, r.db, &entry, query, sessionID, studentID); err != nil {
		return nil, err
	}
	return &entry, nil
}

// Create inserts a waiting entry at the already allocated position.
func (r *WaitlistRepository) Create(ctx context.Context, entry *models.WaitlistEntry) error {
	if entry.ID == "" {
		entry.ID = uuid.NewString()
	}
	if entry.JoinedAt.IsZero() {
		entry.JoinedAt = time.Now().UTC()
	}
	if entry.UpdatedAt.IsZero() {
		entry.UpdatedAt = entry.JoinedAt
	}
	if entry.Status == "" {
		entry.Status = models.WaitlistStatusWaiting
	}
	const query = `INSERT INTO waitlist_entries (id, student_id, class_id, session_id, position, status, joined_at, updated_at)
VALUES (:id, :student_id, :class_id, :session_id, :position, :status, :joined_at, :updated_at)`
	if _, err := sqlx.NamedExecContext(ctx, r.db, query, entry); err != nil {
		if database.IsUniqueViolation(err, ActiveWaitlistIndex) {
			return appErrors.Wrap(err, appErrors.ErrAlreadyWaitlisted.Code, appErrors.ErrAlreadyWaitlisted.Status, appErrors.ErrAlreadyWaitlisted.Message)
		}
		return fmt.Errorf("create waitlist entry: %w", err)
	}
	return nil
}

// NextWaiting locks the lowest-position waiting entry of the session.
func (r *WaitlistRepository) NextWaiting(ctx context.Context, sessionID string) (*models.WaitlistEntry, error) {
	query := `SELECT ` + waitlistColumns + ` FROM waitlist_entries
WHERE session_id = $1 AND status = 'waiting'
ORDER BY position ASC LIMIT 1 FOR UPDATE SKIP LOCKED`
	var entry models.WaitlistEntry
	if err := sqlx.GetContext(ctx, r.db, &entry, query, sessionID); err != nil {
		return nil, err
	}
	return &entry, nil
}

// UpdateStatus moves an entry to status; offered entries get offered_at stamped.
func (r *WaitlistRepository) UpdateStatus(ctx context.Context, id string, status models.WaitlistStatus, at time.Time) error {
	const query = `UPDATE waitlist_entries SET status = $2,
offered_at = CASE WHEN $2 = 'offered' THEN $3 ELSE offered_at END, updated_at = $3
WHERE id = $1`
	if _, err := r.db.ExecContext(ctx, query, id, status, at); err != nil {
		return fmt.Errorf("update waitlist entry: %w", err)
	}
	return nil
}

// DeleteActive removes the active entry of a student, returning whether one existed.
func (r *WaitlistRepository) DeleteActive(ctx context.Context, sessionID, studentID string) (bool, error) {
	const query = `DELETE FROM waitlist_entries WHERE session_id = $1 AND student_id = $2 AND status IN ('waiting', 'offered')`
	res, err := r.db.ExecContext(ctx, query, sessionID, studentID)
	if err != nil {
		return false, fmt.Errorf("delete active waitlist entry: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("delete active waitlist entry: %w", err)
	}
	return affected > 0, nil
}

// WithdrawBySession withdraws every active entry of a session.
func (r *WaitlistRepository) WithdrawBySession(ctx context.Context, sessionID string, at time.Time) ([]models.WaitlistEntry, error) {
	query := `UPDATE waitlist_entries SET status = 'withdrawn', updated_at = $2
WHERE session_id = $1 AND status IN ('waiting', 'offered')
RETURNING ` + waitlistColumns
	var entries []models.WaitlistEntry
	if err := sqlx.SelectContext(ctx, r.db, &entries, query, sessionID, at); err != nil {
		return nil, fmt.Errorf("withdraw session waitlist: %w", err)
	}
	return entries, nil
}

// ExpireOffersBefore expires offers left unresolved since before cutoff.
func (r *WaitlistRepository) ExpireOffersBefore(ctx context.Context, cutoff, at time.Time, limit int) ([]models.WaitlistEntry, error) {
	query := `UPDATE waitlist_entries SET status = 'expired', updated_at = $2
WHERE id IN (SELECT id FROM waitlist_entries WHERE status = 'offered' AND offered_at < $1 ORDER BY offered_at LIMIT $3 FOR UPDATE SKIP LOCKED)
RETURNING ` + waitlistColumns
	var entries []models.WaitlistEntry
	if err := sqlx.SelectContext(ctx, r.db, &entries, query, cutoff, at, limit); err != nil {
		return nil, fmt.Errorf("expire waitlist offers: %w", err)
	}
	return entries, nil
}

// CountWaiting returns how many students are waiting for the session.
func (r *WaitlistRepository) CountWaiting(ctx context.Context, sessionID string) (int, error) {
	var count int
	if err := sqlx.GetContext(ctx, r.db, &count, `SELECT COUNT(*) FROM waitlist_entries WHERE session_id = $1 AND status = 'waiting'`, sessionID); err != nil {
		return 0, fmt.Errorf("count waitlist: %w", err)
	}
	return count, nil
}

// ListActiveByStudent returns the student's waiting/offered entries.
func (r *WaitlistRepository) ListActiveByStudent(ctx context.Context, studentID string) ([]models.WaitlistEntry, error) {
	query := `SELECT ` + waitlistColumns + ` FROM waitlist_entries
WHERE student_id = $1 AND status IN ('waiting', 'offered') ORDER BY joined_at`
	var entries []models.WaitlistEntry
	if err := sqlx.SelectContext(ctx, r.db, &entries, query, studentID); err != nil {
		return nil, fmt.Errorf("list student waitlist: %w", err)
	}
	return entries, nil
}

// ListPromotableSessions returns enrollable sessions with free seats and waiting students.
func (r *WaitlistRepository) ListPromotableSessions(ctx context.Context, now time.Time, limit int) ([]string, error) {
	const query = `SELECT s.id FROM class_sessions s
WHERE s.status = 'scheduled' AND s.starts_at > $1 AND s.enrolled_count < s.capacity
AND EXISTS (SELECT 1 FROM waitlist_entries w WHERE w.session_id = s.id AND w.status = 'waiting')
ORDER BY s.starts_at LIMIT $2`
	var ids []string
	if err := sqlx.SelectContext(ctx, r.db, &ids, query, now, limit); err != nil {
		return nil, fmt.Errorf("list promotable sessions: %w", err)
	}
	return ids, nil
}
