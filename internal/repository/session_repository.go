package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/kidcare-enrollment-api/internal/models"
)

const sessionColumns = `id, class_id, location, starts_at, ends_at, capacity, enrolled_count, status, waitlist_seq, created_at, updated_at`

// SessionRepository reads session metadata and writes the admin-owned status.
// Descriptive fields belong to the class directory and are never written here.
type SessionRepository struct {
	db sqlx.ExtContext
}

// NewSessionRepository constructs the repository.
func NewSessionRepository(db sqlx.ExtContext) *SessionRepository {
	return &SessionRepository{db: db}
}

// FindByID returns a session by id. Missing sessions surface sql.ErrNoRows.
func (r *SessionRepository) FindByID(ctx context.Context, id string) (*models.Session, error) {
	query := `SELECT ` + sessionColumns + ` FROM class_sessions WHERE id = $1`
	var session models.Session
	if err := sqlx.GetContext(ctx, r.db, &session, query, id); err != nil {
		return nil, err
	}
	return &session, nil
}

// LockByID loads the session holding a row lock until the transaction ends.
func (r *SessionRepository) LockByID(ctx context.Context, id string) (*models.Session, error) {
	query := `SELECT ` + sessionColumns + ` FROM class_sessions WHERE id = $1 FOR UPDATE`
	var session models.Session
	if err := sqlx.GetContext(ctx, r.db, &session, query, id); err != nil {
		return nil, err
	}
	return &session, nil
}

// UpdateStatus sets the lifecycle status.
func (r *SessionRepository) UpdateStatus(ctx context.Context, id string, status models.SessionStatus, at time.Time) error {
	const query = `UPDATE class_sessions SET status = $2, updated_at = $3 WHERE id = $1`
	if _, err := r.db.ExecContext(ctx, query, id, status, at); err != nil {
		return fmt.Errorf("update session status: %w", err)
	}
	return nil
}

// Delete removes the session row. Dependents must be reconciled first.
func (r *SessionRepository) Delete(ctx context.Context, id string) error {
	if _, err := r.db.ExecContext(ctx, `DELETE FROM class_sessions WHERE id = $1`, id); err != nil {
		return fmt.Errorf("delete session: %w", err)
	}
	return nil
}

// NextWaitlistPosition allocates the next never-reused waitlist position.
func (r *SessionRepository) NextWaitlistPosition(ctx context.Context, id string) (int64, error) {
	const query = `UPDATE class_sessions SET waitlist_seq = waitlist_seq + 1 WHERE id = $1 RETURNING waitlist_seq`
	var position int64
	if err := sqlx.GetContext(ctx, r.db, &position, query, id); err != nil {
		return 0, err
	}
	return position, nil
}
