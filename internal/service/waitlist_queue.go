package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/noah-isme/kidcare-enrollment-api/internal/models"
	appErrors "github.com/noah-isme/kidcare-enrollment-api/pkg/errors"
)

// JoinWaitlist queues the acting student behind a full session and returns the entry with its position.
func (s *EnrollmentCoordinator) JoinWaitlist(ctx context.Context, actor models.Actor, sessionID string) (*models.WaitlistEntry, error) {
	if !actor.Role.CanEnroll() {
		return nil, s.finish("waitlist_join", appErrors.ErrRoleNotEligible, "")
	}

	now := s.now()
	var entry *models.WaitlistEntry
	var events pendingEvents
	err := s.uow.Do(ctx, func(tx engineTx) error {
		events = events[:0]
		var err error
		entry, err = s.joinTx(ctx, tx, actor.ID, sessionID, now)
		if err != nil {
			return err
		}
		events.waitlist(models.EventWaitlistJoined, *entry)
		return nil
	})
	if err != nil {
		return nil, s.finish("waitlist_join", err, "failed to join waitlist")
	}
	s.metrics.RecordOutcome("waitlist_join", nil)
	s.afterCommit(ctx, events, sessionID)
	return entry, nil
}

// LeaveWaitlist withdraws the student's active entry. Leaving without an entry is a no-op.
func (s *EnrollmentCoordinator) LeaveWaitlist(ctx context.Context, actor models.Actor, sessionID string) error {
	now := s.now()
	var events pendingEvents
	err := s.uow.Do(ctx, func(tx engineTx) error {
		events = events[:0]
		entry, err := tx.Waitlist().FindActive(ctx, sessionID, actor.ID)
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return nil
			}
			return err
		}
		if err := tx.Waitlist().UpdateStatus(ctx, entry.ID, models.WaitlistStatusWithdrawn, now); err != nil {
			return err
		}
		entry.Status = models.WaitlistStatusWithdrawn
		entry.UpdatedAt = now
		events.waitlist(models.EventWaitlistLeft, *entry)
		return nil
	})
	if err != nil {
		return s.finish("waitlist_leave", err, "failed to leave waitlist")
	}
	s.metrics.RecordOutcome("waitlist_leave", nil)
	s.afterCommit(ctx, events, sessionID)
	return nil
}

// WaitlistStatus returns the student's latest entry for the session. Not being
// on the waitlist is an ordinary answer, so the NotFound it produces is not logged.
func (s *EnrollmentCoordinator) WaitlistStatus(ctx context.Context, actor models.Actor, sessionID string) (*models.WaitlistEntry, error) {
	var entry *models.WaitlistEntry
	err := s.uow.Do(ctx, func(tx engineTx) error {
		var err error
		entry, err = tx.Waitlist().FindLatest(ctx, sessionID, actor.ID)
		return err
	})
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "not on waitlist")
		}
		return nil, s.finish("waitlist_status", err, "failed to load waitlist entry")
	}
	return entry, nil
}

// PromoteNext hands a free seat of the session to its waitlist. It returns the
// created enrollment, or nil when nobody could be promoted.
func (s *EnrollmentCoordinator) PromoteNext(ctx context.Context, sessionID string) (*models.Enrollment, error) {
	now := s.now()
	var promoted *models.Enrollment
	var events pendingEvents
	err := s.uow.Do(ctx, func(tx engineTx) error {
		events = events[:0]
		var err error
		promoted, err = s.promoteTx(ctx, tx, sessionID, now, &events)
		return err
	})
	if err != nil {
		return nil, s.finish("promote", err, "failed to promote waitlist")
	}
	s.metrics.RecordOutcome("promote", nil)
	s.afterCommit(ctx, events, sessionID)
	return promoted, nil
}

// joinTx locks the session row so a concurrent release cannot free a seat
// between the fullness check and the insert.
func (s *EnrollmentCoordinator) joinTx(ctx context.Context, tx engineTx, studentID, sessionID string, now time.Time) (*models.WaitlistEntry, error) {
	session, err := tx.Sessions().LockByID(ctx, sessionID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrInvalidSession, "session not found")
		}
		return nil, err
	}
	if !session.Enrollable(now) {
		return nil, appErrors.ErrSessionNotEnrollable
	}
	if _, err := tx.Enrollments().FindActiveByStudentClass(ctx, studentID, session.ClassID); err == nil {
		return nil, appErrors.ErrAlreadyEnrolled
	} else if !errors.Is(err, sql.ErrNoRows) {
		return nil, err
	}
	if _, err := tx.Waitlist().FindActive(ctx, sessionID, studentID); err == nil {
		return nil, appErrors.ErrAlreadyWaitlisted
	} else if !errors.Is(err, sql.ErrNoRows) {
		return nil, err
	}

	full, err := tx.Ledger().IsFull(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if !full {
		return nil, appErrors.ErrSessionNotFull
	}

	position, err := tx.Sessions().NextWaitlistPosition(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	entry := &models.WaitlistEntry{
		ID:        uuid.NewString(),
		StudentID: studentID,
		ClassID:   session.ClassID,
		SessionID: sessionID,
		Position:  position,
		Status:    models.WaitlistStatusWaiting,
		JoinedAt:  now,
		UpdatedAt: now,
	}
	if err := tx.Waitlist().Create(ctx, entry); err != nil {
		return nil, err
	}
	return entry, nil
}

// promoteTx walks the waitlist head first. Each candidate is offered the seat
// inside its own savepoint: a candidate who can no longer enroll is expired and
// the next one is tried, while a seat or session that became unavailable stops
// the walk and leaves the queue untouched. Every iteration either returns or
// removes one waiting entry, so the walk ends.
func (s *EnrollmentCoordinator) promoteTx(ctx context.Context, tx engineTx, sessionID string, now time.Time, events *pendingEvents) (*models.Enrollment, error) {
	for attempt := 1; ; attempt++ {
		entry, err := tx.Waitlist().NextWaiting(ctx, sessionID)
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return nil, nil
			}
			return nil, err
		}

		savepoint := fmt.Sprintf("offer_%d", attempt)
		if err := tx.Savepoint(ctx, savepoint); err != nil {
			return nil, err
		}
		if err := tx.Waitlist().UpdateStatus(ctx, entry.ID, models.WaitlistStatusOffered, now); err != nil {
			return nil, err
		}

		enrollment, err := s.enrollTx(ctx, tx, entry.StudentID, entry.ClassID, sessionID, nil, now)
		if err == nil {
			if err := tx.ReleaseSavepoint(ctx, savepoint); err != nil {
				return nil, err
			}
			events.enrollment(models.EventWaitlistPromoted, *enrollment)
			return enrollment, nil
		}

		if rbErr := tx.RollbackToSavepoint(ctx, savepoint); rbErr != nil {
			return nil, rbErr
		}
		switch {
		case errors.Is(err, appErrors.ErrSessionFull),
			errors.Is(err, appErrors.ErrSessionNotEnrollable),
			errors.Is(err, appErrors.ErrInvalidSession):
			return nil, nil
		case errors.Is(err, appErrors.ErrAlreadyEnrolled):
			if err := tx.Waitlist().UpdateStatus(ctx, entry.ID, models.WaitlistStatusExpired, now); err != nil {
				return nil, err
			}
			entry.Status = models.WaitlistStatusExpired
			entry.UpdatedAt = now
			events.waitlist(models.EventWaitlistExpired, *entry)
		default:
			return nil, err
		}
	}
}

// promoteAfterRelease runs promotion inside the releasing transaction so the
// freed seat goes to the queue before anyone else can take it. A promotion
// failure is rolled back on its own and left to the sweep.
func (s *EnrollmentCoordinator) promoteAfterRelease(ctx context.Context, tx engineTx, sessionID string, now time.Time, events *pendingEvents) error {
	if err := tx.Savepoint(ctx, promotionSavepoint); err != nil {
		return err
	}
	mark := len(*events)
	if _, err := s.promoteTx(ctx, tx, sessionID, now, events); err != nil {
		*events = (*events)[:mark]
		if rbErr := tx.RollbackToSavepoint(ctx, promotionSavepoint); rbErr != nil {
			return rbErr
		}
		s.logger.Warn("waitlist promotion deferred to sweep", zap.String("session_id", sessionID), zap.Error(err))
		return nil
	}
	return tx.ReleaseSavepoint(ctx, promotionSavepoint)
}
