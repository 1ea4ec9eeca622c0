package errors

import (
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCloneStillMatchesKind(t *testing.T) {
	err := Clone(ErrAlreadyEnrolled, "student 42 already enrolled in class 7")
	assert.True(t, errors.Is(err, ErrAlreadyEnrolled))
	assert.False(t, errors.Is(err, ErrSessionFull))
	assert.Equal(t, "student 42 already enrolled in class 7", err.Error())
}

func TestWrappedKindSurvivesFmtWrap(t *testing.T) {
	err := fmt.Errorf("promote: %w", ErrSessionFull)
	assert.True(t, errors.Is(err, ErrSessionFull))
	appErr := FromError(err)
	assert.Equal(t, "SESSION_FULL", appErr.Code)
	assert.Equal(t, "join_waitlist", appErr.Details["next_action"])
}

func TestFromErrorDefaultsToInternal(t *testing.T) {
	appErr := FromError(sql.ErrConnDone)
	assert.Equal(t, ErrInternal.Code, appErr.Code)
	assert.Equal(t, http.StatusInternalServerError, appErr.Status)
	assert.ErrorIs(t, appErr, sql.ErrConnDone)
}

func TestNilSafety(t *testing.T) {
	var e *Error
	assert.Equal(t, "<nil>", e.Error())
	assert.Nil(t, e.Unwrap())
	assert.Nil(t, FromError(nil))
	assert.Nil(t, Clone(nil, "x"))
}
