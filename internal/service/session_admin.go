package service

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/noah-isme/kidcare-enrollment-api/internal/models"
	appErrors "github.com/noah-isme/kidcare-enrollment-api/pkg/errors"
)

const (
	noteCompletedBeforeReview = "session completed before review"
	noteSessionCancelled      = "session cancelled"
	noteSessionDeleted        = "session deleted"
)

// SessionStatusRequest is the admin payload for a session lifecycle change.
type SessionStatusRequest struct {
	Status models.SessionStatus `json:"status" validate:"required,oneof=scheduled completed cancelled"`
}

// PaymentUpdateRequest sets the payment status of an enrollment.
type PaymentUpdateRequest struct {
	Status models.PaymentStatus `json:"payment_status" validate:"required,oneof=unpaid paid waived"`
}

// BroadcastRequest is an admin message to everyone holding a seat in a session.
type BroadcastRequest struct {
	Title   string `json:"title" validate:"required,max=200"`
	Message string `json:"message" validate:"required,max=4000"`
}

// BroadcastResult identifies the batch a broadcast was recorded under.
type BroadcastResult struct {
	BatchID    string `json:"batch_id"`
	Recipients int    `json:"recipients"`
}

// SetSessionStatus moves a scheduled session to completed or cancelled.
// Completion archives the session's active enrollments; cancellation rejects
// seat holders and withdraws the waitlist. Both are irreversible.
func (s *EnrollmentCoordinator) SetSessionStatus(ctx context.Context, actor models.Actor, sessionID string, req SessionStatusRequest) (*models.Session, error) {
	if !actor.Role.IsAdmin() {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "only administrators can change session status")
	}
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid session status payload")
	}

	now := s.now()
	var session *models.Session
	var events pendingEvents
	err := s.uow.Do(ctx, func(tx engineTx) error {
		events = events[:0]
		var err error
		session, err = tx.Sessions().LockByID(ctx, sessionID)
		if err != nil {
			return notFound(err, "session")
		}
		if session.Status == req.Status {
			return nil
		}
		if session.Status != models.SessionStatusScheduled {
			return appErrors.Clone(appErrors.ErrInvalidStateTransition, fmt.Sprintf("session is already %s", session.Status))
		}
		if err := tx.Sessions().UpdateStatus(ctx, sessionID, req.Status, now); err != nil {
			return err
		}
		session.Status = req.Status
		session.UpdatedAt = now

		switch req.Status {
		case models.SessionStatusCompleted:
			return s.archiveSessionTx(ctx, tx, sessionID, noteCompletedBeforeReview, now, &events)
		case models.SessionStatusCancelled:
			rejected, err := tx.Enrollments().RejectSeatHolders(ctx, sessionID, noteSessionCancelled, now)
			if err != nil {
				return err
			}
			for _, e := range rejected {
				if err := tx.Ledger().Release(ctx, sessionID, now); err != nil {
					return err
				}
				events.enrollment(models.EventEnrollmentRejected, e)
			}
			session.EnrolledCount -= len(rejected)
			if session.EnrolledCount < 0 {
				session.EnrolledCount = 0
			}
			return s.withdrawWaitlistTx(ctx, tx, sessionID, now, &events)
		}
		return nil
	})
	if err != nil {
		return nil, s.finish("session_status", err, "failed to update session status")
	}
	s.metrics.RecordOutcome("session_status", nil)
	s.afterCommit(ctx, events, sessionID)
	return session, nil
}

// DeleteSession archives the session's enrollments, withdraws its waitlist and
// removes the session. Archived records keep their session id for audit reads.
func (s *EnrollmentCoordinator) DeleteSession(ctx context.Context, actor models.Actor, sessionID string) error {
	if !actor.Role.IsAdmin() {
		return appErrors.Clone(appErrors.ErrForbidden, "only administrators can delete sessions")
	}

	now := s.now()
	var events pendingEvents
	err := s.uow.Do(ctx, func(tx engineTx) error {
		events = events[:0]
		if _, err := tx.Sessions().LockByID(ctx, sessionID); err != nil {
			return notFound(err, "session")
		}
		if err := s.archiveSessionTx(ctx, tx, sessionID, noteSessionDeleted, now, &events); err != nil {
			return err
		}
		if err := s.withdrawWaitlistTx(ctx, tx, sessionID, now, &events); err != nil {
			return err
		}
		return tx.Sessions().Delete(ctx, sessionID)
	})
	if err != nil {
		return s.finish("session_delete", err, "failed to delete session")
	}
	s.metrics.RecordOutcome("session_delete", nil)
	s.afterCommit(ctx, events, sessionID)
	return nil
}

// Availability returns the seat summary of a session and whether it came from cache.
func (s *EnrollmentCoordinator) Availability(ctx context.Context, sessionID string) (*models.SessionAvailability, bool, error) {
	key := availabilityKeyPrefix + sessionID
	var cached models.SessionAvailability
	if s.cache.Get(ctx, key, &cached) {
		return &cached, true, nil
	}

	var availability *models.SessionAvailability
	err := s.uow.Do(ctx, func(tx engineTx) error {
		session, err := tx.Sessions().FindByID(ctx, sessionID)
		if err != nil {
			return notFound(err, "session")
		}
		waiting, err := tx.Waitlist().CountWaiting(ctx, sessionID)
		if err != nil {
			return err
		}
		availability = &models.SessionAvailability{
			SessionID:     session.ID,
			ClassID:       session.ClassID,
			Status:        session.Status,
			Capacity:      session.Capacity,
			EnrolledCount: session.EnrolledCount,
			Remaining:     session.Remaining(),
			IsFull:        session.IsFull(),
			Waiting:       waiting,
		}
		return nil
	})
	if err != nil {
		return nil, false, s.finish("availability", err, "failed to load availability")
	}
	s.cache.Set(ctx, key, availability, s.cfg.AvailabilityTTL)
	return availability, false, nil
}

// Broadcast sends one message to every seat holder of the session. All
// notifications share a fresh batch id and are flagged as broadcasts.
func (s *EnrollmentCoordinator) Broadcast(ctx context.Context, actor models.Actor, sessionID string, req BroadcastRequest) (*BroadcastResult, error) {
	if !actor.Role.IsAdmin() {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "only administrators can broadcast")
	}
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid broadcast payload")
	}

	var holders []models.Enrollment
	err := s.uow.Do(ctx, func(tx engineTx) error {
		if _, err := tx.Sessions().FindByID(ctx, sessionID); err != nil {
			return notFound(err, "session")
		}
		var err error
		holders, err = tx.Enrollments().ListSeatHolders(ctx, sessionID)
		return err
	})
	if err != nil {
		return nil, s.finish("broadcast", err, "failed to load broadcast recipients")
	}

	batchID := uuid.NewString()
	now := s.now()
	events := make([]models.DomainEvent, 0, len(holders))
	for _, holder := range holders {
		events = append(events, models.DomainEvent{
			ID:         uuid.NewString(),
			Type:       models.EventSessionBroadcast,
			StudentID:  holder.StudentID,
			ClassID:    holder.ClassID,
			SessionID:  sessionID,
			Title:      req.Title,
			Message:    req.Message,
			BatchID:    &batchID,
			OccurredAt: now,
		})
	}
	if len(events) > 0 {
		s.events.Publish(ctx, events...)
	}
	s.metrics.RecordOutcome("broadcast", nil)
	s.logger.Info("broadcast queued", zap.String("session_id", sessionID), zap.String("batch_id", batchID), zap.Int("recipients", len(events)))
	return &BroadcastResult{BatchID: batchID, Recipients: len(events)}, nil
}

// UpdatePayment records the payment status of an active enrollment.
func (s *EnrollmentCoordinator) UpdatePayment(ctx context.Context, actor models.Actor, id string, req PaymentUpdateRequest) (*models.Enrollment, error) {
	if !actor.Role.IsAdmin() {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "only administrators can update payments")
	}
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid payment payload")
	}

	now := s.now()
	var enrollment *models.Enrollment
	err := s.uow.Do(ctx, func(tx engineTx) error {
		var err error
		enrollment, err = tx.Enrollments().LockByID(ctx, id)
		if err != nil {
			return notFound(err, "enrollment")
		}
		if enrollment.Type == models.EnrollmentTypeHistorical {
			return appErrors.Clone(appErrors.ErrInvalidStateTransition, "historical enrollments are immutable")
		}
		if err := tx.Enrollments().UpdatePayment(ctx, id, req.Status, now); err != nil {
			return err
		}
		enrollment.PaymentStatus = req.Status
		enrollment.UpdatedAt = now
		return nil
	})
	if err != nil {
		return nil, s.finish("payment", err, "failed to update payment")
	}
	s.metrics.RecordOutcome("payment", nil)
	return enrollment, nil
}

// ArchiveCompletedSessions moves active enrollments of completed sessions to
// history, one session per transaction. It returns the number of archived records.
func (s *EnrollmentCoordinator) ArchiveCompletedSessions(ctx context.Context, limit int) (int, error) {
	var sessionIDs []string
	err := s.uow.Do(ctx, func(tx engineTx) error {
		var err error
		sessionIDs, err = tx.Enrollments().ListSessionsToArchive(ctx, limit)
		return err
	})
	if err != nil {
		return 0, s.finish("sweep_archive", err, "failed to list sessions to archive")
	}

	archived := 0
	for _, sessionID := range sessionIDs {
		now := s.now()
		var events pendingEvents
		err := s.uow.Do(ctx, func(tx engineTx) error {
			events = events[:0]
			return s.archiveSessionTx(ctx, tx, sessionID, noteCompletedBeforeReview, now, &events)
		})
		if err != nil {
			s.logger.Warn("archive session failed", zap.String("session_id", sessionID), zap.Error(err))
			continue
		}
		archived += len(events)
		s.afterCommit(ctx, events, sessionID)
	}
	return archived, nil
}

// ExpireStaleOffers expires waitlist offers left unresolved for longer than the offer TTL.
func (s *EnrollmentCoordinator) ExpireStaleOffers(ctx context.Context, limit int) (int, error) {
	now := s.now()
	var events pendingEvents
	sessions := map[string]struct{}{}
	err := s.uow.Do(ctx, func(tx engineTx) error {
		events = events[:0]
		expired, err := tx.Waitlist().ExpireOffersBefore(ctx, now.Add(-s.cfg.OfferTTL), now, limit)
		if err != nil {
			return err
		}
		for _, entry := range expired {
			events.waitlist(models.EventWaitlistExpired, entry)
			sessions[entry.SessionID] = struct{}{}
		}
		return nil
	})
	if err != nil {
		return 0, s.finish("sweep_expire", err, "failed to expire waitlist offers")
	}
	ids := make([]string, 0, len(sessions))
	for id := range sessions {
		ids = append(ids, id)
	}
	s.afterCommit(ctx, events, ids...)
	return len(events), nil
}

// ReconcilePromotions fills free seats of sessions that still have a waiting queue.
func (s *EnrollmentCoordinator) ReconcilePromotions(ctx context.Context, limit int) (int, error) {
	now := s.now()
	var sessionIDs []string
	err := s.uow.Do(ctx, func(tx engineTx) error {
		var err error
		sessionIDs, err = tx.Waitlist().ListPromotableSessions(ctx, now, limit)
		return err
	})
	if err != nil {
		return 0, s.finish("sweep_promote", err, "failed to list promotable sessions")
	}

	promoted := 0
	for _, sessionID := range sessionIDs {
		for {
			enrollment, err := s.PromoteNext(ctx, sessionID)
			if err != nil {
				s.logger.Warn("reconcile promotion failed", zap.String("session_id", sessionID), zap.Error(err))
				break
			}
			if enrollment == nil {
				break
			}
			promoted++
		}
	}
	return promoted, nil
}

func (s *EnrollmentCoordinator) archiveSessionTx(ctx context.Context, tx engineTx, sessionID, pendingNote string, now time.Time, events *pendingEvents) error {
	archived, err := tx.Enrollments().ArchiveBySession(ctx, sessionID, pendingNote, now)
	if err != nil {
		return err
	}
	for _, e := range archived {
		events.enrollment(models.EventEnrollmentArchived, e)
	}
	return nil
}

func (s *EnrollmentCoordinator) withdrawWaitlistTx(ctx context.Context, tx engineTx, sessionID string, now time.Time, events *pendingEvents) error {
	withdrawn, err := tx.Waitlist().WithdrawBySession(ctx, sessionID, now)
	if err != nil {
		return err
	}
	for _, entry := range withdrawn {
		events.waitlist(models.EventWaitlistLeft, entry)
	}
	return nil
}
