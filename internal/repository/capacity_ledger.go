package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/kidcare-enrollment-api/internal/models"
	appErrors "github.com/noah-isme/kidcare-enrollment-api/pkg/errors"
)

// CapacityLedger is the only writer of class_sessions.enrolled_count.
type CapacityLedger struct {
	db sqlx.ExtContext
}

// NewCapacityLedger constructs the ledger over a DB or an open transaction.
func NewCapacityLedger(db sqlx.ExtContext) *CapacityLedger {
	return &CapacityLedger{db: db}
}

// TryReserve takes one seat with a single guarded UPDATE. Concurrent callers
// serialize on the session row, so the counter never passes capacity.
// It returns false with a nil error when the session is full.
func (l *CapacityLedger) TryReserve(ctx context.Context, sessionID string, now time.Time) (bool, error) {
	const reserve = `UPDATE class_sessions SET enrolled_count = enrolled_count + 1, updated_at = $2
WHERE id = $1 AND enrolled_count < capacity AND status = 'scheduled' AND starts_at > $2
RETURNING enrolled_count`
	var count int
	err := sqlx.GetContext(ctx, l.db, &count, reserve, sessionID, now)
	if err == nil {
		return true, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return false, fmt.Errorf("reserve seat: %w", err)
	}

	var probe struct {
		Status   models.SessionStatus `db:"status"`
		StartsAt time.Time            `db:"starts_at"`
	}
	const classify = `SELECT status, starts_at FROM class_sessions WHERE id = $1`
	if err := sqlx.GetContext(ctx, l.db, &probe, classify, sessionID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return false, appErrors.ErrInvalidSession
		}
		return false, fmt.Errorf("classify reservation: %w", err)
	}
	if probe.Status != models.SessionStatusScheduled || !probe.StartsAt.After(now) {
		return false, appErrors.ErrSessionNotEnrollable
	}
	return false, nil
}

// Release frees one seat, flooring the counter at zero. Releasing against a
// deleted session is a no-op.
func (l *CapacityLedger) Release(ctx context.Context, sessionID string, now time.Time) error {
	const release = `UPDATE class_sessions SET enrolled_count = GREATEST(enrolled_count - 1, 0), updated_at = $2 WHERE id = $1`
	if _, err := l.db.ExecContext(ctx, release, sessionID, now); err != nil {
		return fmt.Errorf("release seat: %w", err)
	}
	return nil
}

// IsFull reports whether every seat of the session is taken.
func (l *CapacityLedger) IsFull(ctx context.Context, sessionID string) (bool, error) {
	const query = `SELECT enrolled_count >= capacity FROM class_sessions WHERE id = $1`
	var full bool
	if err := sqlx.GetContext(ctx, l.db, &full, query, sessionID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return false, appErrors.ErrInvalidSession
		}
		return false, fmt.Errorf("check session capacity: %w", err)
	}
	return full, nil
}
