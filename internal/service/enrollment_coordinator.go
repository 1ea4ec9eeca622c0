package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/noah-isme/kidcare-enrollment-api/internal/models"
	"github.com/noah-isme/kidcare-enrollment-api/internal/repository"
	appErrors "github.com/noah-isme/kidcare-enrollment-api/pkg/errors"
)

const (
	availabilityKeyPrefix = "availability:"
	promotionSavepoint    = "promotion"
)

type eventPublisher interface {
	Publish(ctx context.Context, events ...models.DomainEvent)
}

type nopPublisher struct{}

func (nopPublisher) Publish(context.Context, ...models.DomainEvent) {}

// CoordinatorConfig tunes the enrollment engine.
type CoordinatorConfig struct {
	// AutoWaitlist parks a SessionFull enroll on the waitlist in the same transaction.
	AutoWaitlist    bool
	OfferTTL        time.Duration
	AvailabilityTTL time.Duration
}

// EnrollRequest is the payload of a student enroll call.
type EnrollRequest struct {
	ClassID       string                `json:"class_id" validate:"required"`
	SessionID     string                `json:"session_id" validate:"required"`
	PaymentMethod *models.PaymentMethod `json:"payment_method,omitempty" validate:"omitempty,oneof=Self EIP"`
}

// EnrollResult reports where an enroll request landed. Exactly one field is set.
type EnrollResult struct {
	Enrollment *models.Enrollment    `json:"enrollment,omitempty"`
	Waitlist   *models.WaitlistEntry `json:"waitlist,omitempty"`
}

// ReviewRequest carries optional admin notes for approve/reject/reset.
type ReviewRequest struct {
	Notes *string `json:"notes,omitempty" validate:"omitempty,max=2000"`
}

// StudentEnrollments is everything a student currently has with the engine.
type StudentEnrollments struct {
	Enrollments []models.Enrollment    `json:"enrollments"`
	Waitlist    []models.WaitlistEntry `json:"waitlist"`
}

// EnrollmentCoordinator is the public face of the enrollment engine. Every
// mutating call runs in one unit of work; domain events are published only
// after commit and their delivery never affects the call's result.
type EnrollmentCoordinator struct {
	uow       unitOfWork
	events    eventPublisher
	cache     *CacheService
	metrics   *MetricsService
	cfg       CoordinatorConfig
	validator *validator.Validate
	logger    *zap.Logger
	now       func() time.Time
}

// NewEnrollmentCoordinator wires the coordinator.
func NewEnrollmentCoordinator(uow unitOfWork, events eventPublisher, cache *CacheService, metrics *MetricsService, cfg CoordinatorConfig, validate *validator.Validate, logger *zap.Logger) *EnrollmentCoordinator {
	if events == nil {
		events = nopPublisher{}
	}
	if validate == nil {
		validate = validator.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.OfferTTL <= 0 {
		cfg.OfferTTL = 24 * time.Hour
	}
	return &EnrollmentCoordinator{
		uow:       uow,
		events:    events,
		cache:     cache,
		metrics:   metrics,
		cfg:       cfg,
		validator: validate,
		logger:    logger,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// Enroll reserves a seat and creates a pending enrollment for the acting student.
func (s *EnrollmentCoordinator) Enroll(ctx context.Context, actor models.Actor, req EnrollRequest) (*EnrollResult, error) {
	if !actor.Role.CanEnroll() {
		return nil, s.finish("enroll", appErrors.ErrRoleNotEligible, "")
	}
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid enrollment payload")
	}

	now := s.now()
	result := &EnrollResult{}
	var events pendingEvents
	err := s.uow.Do(ctx, func(tx engineTx) error {
		events = events[:0]
		enrollment, err := s.enrollTx(ctx, tx, actor.ID, req.ClassID, req.SessionID, req.PaymentMethod, now)
		switch {
		case err == nil:
			result.Enrollment = enrollment
			events.enrollment(models.EventEnrollmentPending, *enrollment)
			return nil
		case s.cfg.AutoWaitlist && errors.Is(err, appErrors.ErrSessionFull):
			entry, err := s.joinTx(ctx, tx, actor.ID, req.SessionID, now)
			if err != nil {
				return err
			}
			result.Waitlist = entry
			events.waitlist(models.EventWaitlistJoined, *entry)
			return nil
		default:
			return err
		}
	})
	if err != nil {
		return nil, s.finish("enroll", err, "failed to enroll")
	}
	s.metrics.RecordOutcome("enroll", nil)
	s.afterCommit(ctx, events, req.SessionID)
	return result, nil
}

// Cancel withdraws the student's active enrollment for the class, frees its
// seat and hands the seat to the session's waitlist.
func (s *EnrollmentCoordinator) Cancel(ctx context.Context, actor models.Actor, classID string) (*models.Enrollment, error) {
	if classID == "" {
		return nil, appErrors.Clone(appErrors.ErrValidation, "class id is required")
	}

	now := s.now()
	var cancelled *models.Enrollment
	var events pendingEvents
	err := s.uow.Do(ctx, func(tx engineTx) error {
		events = events[:0]
		current, err := tx.Enrollments().FindActiveByStudentClass(ctx, actor.ID, classID)
		if err != nil {
			return notFound(err, "active enrollment for class")
		}
		next, err := nextState(*current, lifecycleCancel)
		if err != nil {
			return err
		}
		if err := tx.Enrollments().Cancel(ctx, current.ID, now); err != nil {
			return err
		}
		if err := s.applyLedger(ctx, tx, next.Ledger, current.SessionID, now); err != nil {
			return err
		}
		current.Status = next.To
		current.CancelledAt = &now
		current.RejectedAt = &now
		current.UpdatedAt = now
		events.enrollment(next.Emits, *current)
		cancelled = current
		return s.promoteAfterRelease(ctx, tx, current.SessionID, now, &events)
	})
	if err != nil {
		return nil, s.finish("cancel", err, "failed to cancel enrollment")
	}
	s.metrics.RecordOutcome("cancel", nil)
	s.afterCommit(ctx, events, cancelled.SessionID)
	return cancelled, nil
}

// Approve accepts a pending enrollment.
func (s *EnrollmentCoordinator) Approve(ctx context.Context, actor models.Actor, id string, req ReviewRequest) (*models.Enrollment, error) {
	return s.review(ctx, actor, id, lifecycleApprove, req)
}

// Reject declines a pending enrollment and releases its seat.
func (s *EnrollmentCoordinator) Reject(ctx context.Context, actor models.Actor, id string, req ReviewRequest) (*models.Enrollment, error) {
	return s.review(ctx, actor, id, lifecycleReject, req)
}

// ResetToPending reopens review of an approved or rejected enrollment. A
// rejected record has to win its seat back first.
func (s *EnrollmentCoordinator) ResetToPending(ctx context.Context, actor models.Actor, id string, req ReviewRequest) (*models.Enrollment, error) {
	return s.review(ctx, actor, id, lifecycleReset, req)
}

func (s *EnrollmentCoordinator) review(ctx context.Context, actor models.Actor, id string, ev lifecycleEvent, req ReviewRequest) (*models.Enrollment, error) {
	op := string(ev)
	if !actor.Role.IsAdmin() {
		return nil, s.finish(op, appErrors.Clone(appErrors.ErrForbidden, "only administrators can review enrollments"), "")
	}
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid review payload")
	}

	now := s.now()
	adminID := actor.ID
	var reviewed *models.Enrollment
	var events pendingEvents
	err := s.uow.Do(ctx, func(tx engineTx) error {
		events = events[:0]
		current, err := tx.Enrollments().LockByID(ctx, id)
		if err != nil {
			return notFound(err, "enrollment")
		}
		next, err := nextState(*current, ev)
		if err != nil {
			return err
		}
		if err := s.applyLedger(ctx, tx, next.Ledger, current.SessionID, now); err != nil {
			return err
		}

		if ev == lifecycleReset {
			if err := tx.Enrollments().ResetToPending(ctx, current.ID, adminID, req.Notes, now); err != nil {
				return err
			}
			current.ApprovedAt, current.RejectedAt, current.CancelledAt = nil, nil, nil
		} else {
			review := models.EnrollmentReview{Status: next.To, AdminID: adminID, Notes: req.Notes, At: now}
			if err := tx.Enrollments().ApplyReview(ctx, current.ID, review); err != nil {
				return err
			}
			if next.To == models.EnrollmentStatusApproved {
				current.ApprovedAt = &now
			} else {
				current.RejectedAt = &now
			}
		}
		current.Status = next.To
		current.AdminID = &adminID
		if req.Notes != nil {
			current.AdminNotes = req.Notes
		}
		current.UpdatedAt = now
		events.enrollment(next.Emits, *current)
		reviewed = current

		if next.Ledger == ledgerRelease {
			return s.promoteAfterRelease(ctx, tx, current.SessionID, now, &events)
		}
		return nil
	})
	if err != nil {
		return nil, s.finish(op, err, fmt.Sprintf("failed to %s enrollment", ev))
	}
	s.metrics.RecordOutcome(op, nil)
	s.afterCommit(ctx, events, reviewed.SessionID)
	return reviewed, nil
}

// ListForStudent returns the student's enrollments, newest first, with their active waitlist entries.
func (s *EnrollmentCoordinator) ListForStudent(ctx context.Context, studentID string) (*StudentEnrollments, error) {
	out := &StudentEnrollments{Enrollments: []models.Enrollment{}, Waitlist: []models.WaitlistEntry{}}
	err := s.uow.Do(ctx, func(tx engineTx) error {
		enrollments, err := tx.Enrollments().ListByStudent(ctx, studentID)
		if err != nil {
			return err
		}
		entries, err := tx.Waitlist().ListActiveByStudent(ctx, studentID)
		if err != nil {
			return err
		}
		if enrollments != nil {
			out.Enrollments = enrollments
		}
		if entries != nil {
			out.Waitlist = entries
		}
		return nil
	})
	if err != nil {
		return nil, s.finish("list_student", err, "failed to list enrollments")
	}
	return out, nil
}

// ListAllForAdmin returns a filtered, paginated enrollment projection.
func (s *EnrollmentCoordinator) ListAllForAdmin(ctx context.Context, filter models.EnrollmentFilter) ([]models.Enrollment, *models.Pagination, error) {
	if filter.From != nil && filter.To != nil && filter.To.Before(*filter.From) {
		return nil, nil, appErrors.Clone(appErrors.ErrValidation, "date range end precedes start")
	}
	filter.Page, filter.PageSize = repository.NormalizePage(filter.Page, filter.PageSize)

	var enrollments []models.Enrollment
	var total int
	err := s.uow.Do(ctx, func(tx engineTx) error {
		var err error
		enrollments, total, err = tx.Enrollments().List(ctx, filter)
		return err
	})
	if err != nil {
		return nil, nil, s.finish("list_admin", err, "failed to list enrollments")
	}
	if enrollments == nil {
		enrollments = []models.Enrollment{}
	}
	return enrollments, &models.Pagination{Page: filter.Page, PageSize: filter.PageSize, TotalCount: total}, nil
}

// enrollTx runs every Enroll precondition and, when all hold, reserves the
// seat and inserts the pending record. It is shared by student enrolls and
// waitlist promotion.
func (s *EnrollmentCoordinator) enrollTx(ctx context.Context, tx engineTx, studentID, classID, sessionID string, method *models.PaymentMethod, now time.Time) (*models.Enrollment, error) {
	session, err := tx.Sessions().FindByID(ctx, sessionID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrInvalidSession, "session not found")
		}
		return nil, err
	}
	if session.ClassID != classID {
		return nil, appErrors.Clone(appErrors.ErrInvalidSession, "session does not belong to class")
	}
	if !session.Enrollable(now) {
		return nil, appErrors.ErrSessionNotEnrollable
	}

	// Fast path only; the active-enrollment index is the authoritative check.
	if _, err := tx.Enrollments().FindActiveByStudentClass(ctx, studentID, classID); err == nil {
		return nil, appErrors.ErrAlreadyEnrolled
	} else if !errors.Is(err, sql.ErrNoRows) {
		return nil, err
	}

	if err := s.applyLedger(ctx, tx, ledgerReserve, sessionID, now); err != nil {
		return nil, err
	}

	enrollment := &models.Enrollment{
		ID:            uuid.NewString(),
		StudentID:     studentID,
		ClassID:       classID,
		SessionID:     sessionID,
		Status:        models.EnrollmentStatusPending,
		Type:          models.EnrollmentTypeActive,
		PaymentStatus: models.PaymentStatusUnpaid,
		PaymentMethod: method,
		EnrolledAt:    now,
		UpdatedAt:     now,
	}
	if err := tx.Enrollments().Create(ctx, enrollment); err != nil {
		return nil, err
	}
	if _, err := tx.Waitlist().DeleteActive(ctx, sessionID, studentID); err != nil {
		return nil, err
	}
	return enrollment, nil
}

func (s *EnrollmentCoordinator) applyLedger(ctx context.Context, tx engineTx, effect ledgerEffect, sessionID string, now time.Time) error {
	switch effect {
	case ledgerReserve:
		ok, err := tx.Ledger().TryReserve(ctx, sessionID, now)
		if err != nil {
			return err
		}
		if !ok {
			return appErrors.ErrSessionFull
		}
	case ledgerRelease:
		return tx.Ledger().Release(ctx, sessionID, now)
	}
	return nil
}

// afterCommit publishes the collected events and drops stale availability.
func (s *EnrollmentCoordinator) afterCommit(ctx context.Context, events pendingEvents, sessionIDs ...string) {
	for _, event := range events {
		switch event.Type {
		case models.EventWaitlistPromoted:
			s.metrics.RecordPromotion(true)
		case models.EventWaitlistExpired:
			s.metrics.RecordPromotion(false)
		}
	}
	if len(events) > 0 {
		s.events.Publish(ctx, events...)
	}
	keys := make([]string, 0, len(sessionIDs))
	for _, id := range sessionIDs {
		if id != "" {
			keys = append(keys, availabilityKeyPrefix+id)
		}
	}
	s.cache.Evict(ctx, keys...)
}

// finish records the outcome and turns unexpected failures into logged internal errors.
func (s *EnrollmentCoordinator) finish(op string, err error, msg string) error {
	s.metrics.RecordOutcome(op, err)
	if err == nil {
		return nil
	}
	var appErr *appErrors.Error
	if errors.As(err, &appErr) {
		return err
	}
	s.logger.Error(msg, zap.String("operation", op), zap.Error(err))
	return appErrors.Internal(err, msg)
}

func notFound(err error, what string) error {
	if errors.Is(err, sql.ErrNoRows) {
		return appErrors.Clone(appErrors.ErrNotFound, what+" not found")
	}
	return err
}

// pendingEvents buffers domain events until the unit of work commits.
type pendingEvents []models.DomainEvent

func (p *pendingEvents) enrollment(t models.EventType, e models.Enrollment) {
	*p = append(*p, models.DomainEvent{
		ID:            uuid.NewString(),
		Type:          t,
		StudentID:     e.StudentID,
		ClassID:       e.ClassID,
		SessionID:     e.SessionID,
		AdminNotes:    e.AdminNotes,
		PaymentMethod: e.PaymentMethod,
		OccurredAt:    e.UpdatedAt,
	})
}

func (p *pendingEvents) waitlist(t models.EventType, w models.WaitlistEntry) {
	*p = append(*p, models.DomainEvent{
		ID:         uuid.NewString(),
		Type:       t,
		StudentID:  w.StudentID,
		ClassID:    w.ClassID,
		SessionID:  w.SessionID,
		OccurredAt: w.UpdatedAt,
	})
}
