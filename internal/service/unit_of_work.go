package service

import (
	"context"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/kidcare-enrollment-api/internal/models"
	"github.com/noah-isme/kidcare-enrollment-api/internal/repository"
)

type ledgerStore interface {
	TryReserve(ctx context.Context, sessionID string, now time.Time) (bool, error)
	Release(ctx context.Context, sessionID string, now time.Time) error
	IsFull(ctx context.Context, sessionID string) (bool, error)
}

type sessionStore interface {
	FindByID(ctx context.Context, id string) (*models.Session, error)
	LockByID(ctx context.Context, id string) (*models.Session, error)
	UpdateStatus(ctx context.Context, id string, status models.SessionStatus, at time.Time) error
	Delete(ctx context.Context, id string) error
	NextWaitlistPosition(ctx context.Context, id string) (int64, error)
}

type enrollmentStore interface {
	LockByID(ctx context.Context, id string) (*models.Enrollment, error)
	FindActiveByStudentClass(ctx context.Context, studentID, classID string) (*models.Enrollment, error)
	Create(ctx context.Context, enrollment *models.Enrollment) error
	ApplyReview(ctx context.Context, id string, review models.EnrollmentReview) error
	Cancel(ctx context.Context, id string, at time.Time) error
	ResetToPending(ctx context.Context, id, adminID string, notes *string, at time.Time) error
	UpdatePayment(ctx context.Context, id string, status models.PaymentStatus, at time.Time) error
	ArchiveBySession(ctx context.Context, sessionID, pendingNote string, at time.Time) ([]models.Enrollment, error)
	RejectSeatHolders(ctx context.Context, sessionID, note string, at time.Time) ([]models.Enrollment, error)
	ListSeatHolders(ctx context.Context, sessionID string) ([]models.Enrollment, error)
	ListByStudent(ctx context.Context, studentID string) ([]models.Enrollment, error)
	ListSessionsToArchive(ctx context.Context, limit int) ([]string, error)
	List(ctx context.Context, filter models.EnrollmentFilter) ([]models.Enrollment, int, error)
}

type waitlistStore interface {
	FindActive(ctx context.Context, sessionID, studentID string) (*models.WaitlistEntry, error)
	FindLatest(ctx context.Context, sessionID, studentID string) (*models.WaitlistEntry, error)
	Create(ctx context.Context, entry *models.WaitlistEntry) error
	NextWaiting(ctx context.Context, sessionID string) (*models.WaitlistEntry, error)
	UpdateStatus(ctx context.Context, id string, status models.WaitlistStatus, at time.Time) error
	DeleteActive(ctx context.Context, sessionID, studentID string) (bool, error)
	WithdrawBySession(ctx context.Context, sessionID string, at time.Time) ([]models.WaitlistEntry, error)
	ExpireOffersBefore(ctx context.Context, cutoff, at time.Time, limit int) ([]models.WaitlistEntry, error)
	CountWaiting(ctx context.Context, sessionID string) (int, error)
	ListActiveByStudent(ctx context.Context, studentID string) ([]models.WaitlistEntry, error)
	ListPromotableSessions(ctx context.Context, now time.Time, limit int) ([]string, error)
}

// engineTx exposes the stores bound to one open transaction.
type engineTx interface {
	Ledger() ledgerStore
	Sessions() sessionStore
	Enrollments() enrollmentStore
	Waitlist() waitlistStore
	Savepoint(ctx context.Context, name string) error
	RollbackToSavepoint(ctx context.Context, name string) error
	ReleaseSavepoint(ctx context.Context, name string) error
}

// unitOfWork runs fn atomically: every write fn makes commits together or not at all.
type unitOfWork interface {
	Do(ctx context.Context, fn func(tx engineTx) error) error
}

// SQLUnitOfWork binds the engine stores to one Postgres transaction per call.
type SQLUnitOfWork struct {
	txm *repository.TxManager
}

// NewSQLUnitOfWork constructs the Postgres unit of work.
func NewSQLUnitOfWork(db *sqlx.DB) *SQLUnitOfWork {
	return &SQLUnitOfWork{txm: repository.NewTxManager(db)}
}

// Do implements unitOfWork.
func (u *SQLUnitOfWork) Do(ctx context.Context, fn func(tx engineTx) error) error {
	return u.txm.WithinTx(ctx, func(tx *sqlx.Tx) error {
		return fn(&sqlEngineTx{
			tx:          tx,
			ledger:      repository.NewCapacityLedger(tx),
			sessions:    repository.NewSessionRepository(tx),
			enrollments: repository.NewEnrollmentRepository(tx),
			waitlist:    repository.NewWaitlistRepository(tx),
		})
	})
}

type sqlEngineTx struct {
	tx          *sqlx.Tx
	ledger      *repository.CapacityLedger
	sessions    *repository.SessionRepository
	enrollments *repository.EnrollmentRepository
	waitlist    *repository.WaitlistRepository
}

func (t *sqlEngineTx) Ledger() ledgerStore          { return t.ledger }
func (t *sqlEngineTx) Sessions() sessionStore       { return t.sessions }
func (t *sqlEngineTx) Enrollments() enrollmentStore { return t.enrollments }
func (t *sqlEngineTx) Waitlist() waitlistStore      { return t.waitlist }

func (t *sqlEngineTx) Savepoint(ctx context.Context, name string) error {
	return repository.Savepoint(ctx, t.tx, name)
}

func (t *sqlEngineTx) RollbackToSavepoint(ctx context.Context, name string) error {
	return repository.RollbackToSavepoint(ctx, t.tx, name)
}

func (t *sqlEngineTx) ReleaseSavepoint(ctx context.Context, name string) error {
	return repository.ReleaseSavepoint(ctx, t.tx, name)
}
