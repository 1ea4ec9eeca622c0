package repository

import (
	"context"
	"regexp"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/kidcare-enrollment-api/internal/models"
)

func newNotificationRepoMock(t *testing.T) (*sqlx.DB, sqlmock.Sqlmock, func()) {
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	return sqlx.NewDb(db, "sqlmock"), mock, func() { db.Close() }
}

func TestNotificationRepositoryRecordIsIdempotent(t *testing.T) {
	db, mock, cleanup := newNotificationRepoMock(t)
	defer cleanup()
	repo := NewNotificationRepository(db)

	batch := "batch-1"
	mock.ExpectExec("INSERT INTO notifications .* ON CONFLICT \\(id\\) DO NOTHING").
		WithArgs("evt-1", models.EventSessionBroadcast, "stu-1", "class-1", "sess-1", "Room change", "Moved to hall B",
			`{"eventType":"SessionBroadcast"}`, true, &batch, models.NotificationStatusQueued, 0, sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := repo.Record(context.Background(), &models.Notification{
		ID:          "evt-1",
		EventType:   models.EventSessionBroadcast,
		StudentID:   "stu-1",
		ClassID:     "class-1",
		SessionID:   "sess-1",
		Title:       "Room change",
		Message:     "Moved to hall B",
		Payload:     []byte(`{"eventType":"SessionBroadcast"}`),
		IsBroadcast: true,
		BatchID:     &batch,
	})
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestNotificationRepositoryMarkAttemptFailed(t *testing.T) {
	db, mock, cleanup := newNotificationRepoMock(t)
	defer cleanup()
	repo := NewNotificationRepository(db)

	mock.ExpectExec(regexp.QuoteMeta("UPDATE notifications SET attempts = attempts + 1, last_error = $2")).
		WithArgs("evt-1", "redis down", true).
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, repo.MarkAttemptFailed(context.Background(), "evt-1", "redis down", true))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestNotificationRepositoryListBroadcasts(t *testing.T) {
	db, mock, cleanup := newNotificationRepoMock(t)
	defer cleanup()
	repo := NewNotificationRepository(db)

	now := time.Now().UTC()
	mock.ExpectQuery("FROM notifications WHERE is_broadcast = TRUE\\s+GROUP BY batch_id").
		WithArgs(20, 0).
		WillReturnRows(sqlmock.NewRows([]string{"batch_id", "session_id", "title", "message", "recipients", "delivered", "created_at"}).
			AddRow("batch-1", "sess-1", "Room change", "Moved to hall B", 12, 10, now))
	mock.ExpectQuery(regexp.QuoteMeta("SELECT COUNT(DISTINCT batch_id) FROM notifications WHERE is_broadcast = TRUE")).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(1))

	summaries, total, err := repo.ListBroadcasts(context.Background(), 20, 0)
	require.NoError(t, err)
	require.Len(t, summaries, 1)
	assert.Equal(t, 12, summaries[0].Recipients)
	assert.Equal(t, 10, summaries[0].Delivered)
	assert.Equal(t, 1, total)
	require.NoError(t, mock.ExpectationsWereMet())
}
