package repository

import (
	"context"
	"regexp"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/kidcare-enrollment-api/internal/models"
	appErrors "github.com/noah-isme/kidcare-enrollment-api/pkg/errors"
)

var enrollmentRowColumns = []string{"id", "student_id", "class_id", "session_id", "enrollment_status", "enrollment_type", "payment_status", "payment_method",
	"enrolled_at", "approved_at", "rejected_at", "cancelled_at", "archived_at", "admin_id", "admin_notes", "updated_at"}

func newEnrollmentRepoMock(t *testing.T) (*sqlx.DB, sqlmock.Sqlmock, func()) {
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	return sqlx.NewDb(db, "sqlmock"), mock, func() { db.Close() }
}

func TestEnrollmentRepositoryCreateAppliesDefaults(t *testing.T) {
	db, mock, cleanup := newEnrollmentRepoMock(t)
	defer cleanup()
	repo := NewEnrollmentRepository(db)

	mock.ExpectExec("INSERT INTO enrollments").WillReturnResult(sqlmock.NewResult(1, 1))

	enrollment := &models.Enrollment{StudentID: "stu-1", ClassID: "class-1", SessionID: "sess-1"}
	require.NoError(t, repo.Create(context.Background(), enrollment))
	assert.NotEmpty(t, enrollment.ID)
	assert.Equal(t, models.EnrollmentStatusPending, enrollment.Status)
	assert.Equal(t, models.EnrollmentTypeActive, enrollment.Type)
	assert.Equal(t, models.PaymentStatusUnpaid, enrollment.PaymentStatus)
	assert.False(t, enrollment.EnrolledAt.IsZero())
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestEnrollmentRepositoryCreateMapsActiveIndexViolation(t *testing.T) {
	db, mock, cleanup := newEnrollmentRepoMock(t)
	defer cleanup()
	repo := NewEnrollmentRepository(db)

	mock.ExpectExec("INSERT INTO enrollments").
		WillReturnError(&pq.Error{Code: "23505", Constraint: ActiveEnrollmentIndex})

	err := repo.Create(context.Background(), &models.Enrollment{StudentID: "stu-1", ClassID: "class-1", SessionID: "sess-1"})
	require.Error(t, err)
	assert.ErrorIs(t, err, appErrors.ErrAlreadyEnrolled)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestEnrollmentRepositoryCreateOtherUniqueViolationIsNotDuplicate(t *testing.T) {
	db, mock, cleanup := newEnrollmentRepoMock(t)
	defer cleanup()
	repo := NewEnrollmentRepository(db)

	mock.ExpectExec("INSERT INTO enrollments").
		WillReturnError(&pq.Error{Code: "23505", Constraint: "enrollments_pkey"})

	err := repo.Create(context.Background(), &models.Enrollment{ID: "enr-1", StudentID: "stu-1", ClassID: "class-1", SessionID: "sess-1"})
	require.Error(t, err)
	assert.NotErrorIs(t, err, appErrors.ErrAlreadyEnrolled)
}

func TestEnrollmentRepositoryResetMapsActiveIndexViolation(t *testing.T) {
	db, mock, cleanup := newEnrollmentRepoMock(t)
	defer cleanup()
	repo := NewEnrollmentRepository(db)

	at := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	mock.ExpectExec(regexp.QuoteMeta("UPDATE enrollments SET enrollment_status = 'pending'")).
		WithArgs("enr-1", "admin-1", nil, at).
		WillReturnError(&pq.Error{Code: "23505", Constraint: ActiveEnrollmentIndex})

	err := repo.ResetToPending(context.Background(), "enr-1", "admin-1", nil, at)
	assert.ErrorIs(t, err, appErrors.ErrAlreadyEnrolled)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestEnrollmentRepositoryArchiveBySessionRejectsPendingFirst(t *testing.T) {
	db, mock, cleanup := newEnrollmentRepoMock(t)
	defer cleanup()
	repo := NewEnrollmentRepository(db)

	at := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	mock.ExpectExec(regexp.QuoteMeta("UPDATE enrollments SET enrollment_status = 'rejected'")+".*enrollment_status = 'pending'").
		WithArgs("sess-1", at, "session completed before review").
		WillReturnResult(sqlmock.NewResult(0, 1))
	rows := sqlmock.NewRows(enrollmentRowColumns).
		AddRow("enr-1", "stu-1", "class-1", "sess-1", "approved", "historical", "paid", "Self", at, at, nil, nil, at, "admin-1", nil, at).
		AddRow("enr-2", "stu-2", "class-1", "sess-1", "rejected", "historical", "unpaid", nil, at, nil, at, nil, at, nil, "session completed before review", at)
	mock.ExpectQuery(regexp.QuoteMeta("UPDATE enrollments SET enrollment_type = 'historical'")).
		WithArgs("sess-1", at).
		WillReturnRows(rows)

	archived, err := repo.ArchiveBySession(context.Background(), "sess-1", "session completed before review", at)
	require.NoError(t, err)
	require.Len(t, archived, 2)
	assert.Equal(t, models.EnrollmentTypeHistorical, archived[0].Type)
	assert.Equal(t, models.EnrollmentStatusRejected, archived[1].Status)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestEnrollmentRepositoryFindActiveByStudentClassLocks(t *testing.T) {
	db, mock, cleanup := newEnrollmentRepoMock(t)
	defer cleanup()
	repo := NewEnrollmentRepository(db)

	now := time.Now().UTC()
	rows := sqlmock.NewRows(enrollmentRowColumns).
		AddRow("enr-1", "stu-1", "class-1", "sess-1", "pending", "active", "unpaid", "EIP", now, nil, nil, nil, nil, nil, nil, now)
	mock.ExpectQuery("FROM enrollments\\s+WHERE student_id = \\$1 AND class_id = \\$2 .* FOR UPDATE").
		WithArgs("stu-1", "class-1").
		WillReturnRows(rows)

	enrollment, err := repo.FindActiveByStudentClass(context.Background(), "stu-1", "class-1")
	require.NoError(t, err)
	assert.True(t, enrollment.HoldsSeat())
	require.NotNil(t, enrollment.PaymentMethod)
	assert.Equal(t, models.PaymentMethodEIP, *enrollment.PaymentMethod)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestEnrollmentRepositoryListBuildsFilters(t *testing.T) {
	db, mock, cleanup := newEnrollmentRepoMock(t)
	defer cleanup()
	repo := NewEnrollmentRepository(db)

	now := time.Now().UTC()
	rows := sqlmock.NewRows(enrollmentRowColumns).
		AddRow("enr-1", "stu-1", "class-1", "sess-1", "approved", "active", "paid", "Self", now, now, nil, nil, nil, "admin-1", nil, now)
	mock.ExpectQuery(regexp.QuoteMeta("FROM enrollments WHERE session_id = $1 AND enrollment_status = $2 ORDER BY updated_at ASC, id LIMIT 10 OFFSET 10")).
		WithArgs("sess-1", models.EnrollmentStatusApproved).
		WillReturnRows(rows)
	mock.ExpectQuery(regexp.QuoteMeta("SELECT COUNT(*) FROM enrollments WHERE session_id = $1 AND enrollment_status = $2")).
		WithArgs("sess-1", models.EnrollmentStatusApproved).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(11))

	list, total, err := repo.List(context.Background(), models.EnrollmentFilter{
		SessionID: "sess-1",
		Status:    models.EnrollmentStatusApproved,
		Page:      2,
		PageSize:  10,
		SortBy:    "updated_at",
		SortOrder: "asc",
	})
	require.NoError(t, err)
	assert.Len(t, list, 1)
	assert.Equal(t, 11, total)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestEnrollmentRepositoryListIgnoresUnknownSort(t *testing.T) {
	db, mock, cleanup := newEnrollmentRepoMock(t)
	defer cleanup()
	repo := NewEnrollmentRepository(db)

	mock.ExpectQuery(regexp.QuoteMeta("FROM enrollments ORDER BY enrolled_at DESC, id LIMIT 20 OFFSET 0")).
		WillReturnRows(sqlmock.NewRows(enrollmentRowColumns))
	mock.ExpectQuery(regexp.QuoteMeta("SELECT COUNT(*) FROM enrollments")).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(0))

	_, total, err := repo.List(context.Background(), models.EnrollmentFilter{SortBy: "student_id; DROP TABLE enrollments", PageSize: 500})
	require.NoError(t, err)
	assert.Zero(t, total)
	require.NoError(t, mock.ExpectationsWereMet())
}
