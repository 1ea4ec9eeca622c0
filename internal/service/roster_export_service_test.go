package service

import (
	"context"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/kidcare-enrollment-api/internal/models"
	appErrors "github.com/noah-isme/kidcare-enrollment-api/pkg/errors"
)

type pagedRosterSource struct {
	total int
	calls int
}

func (p *pagedRosterSource) ListAllForAdmin(_ context.Context, filter models.EnrollmentFilter) ([]models.Enrollment, *models.Pagination, error) {
	p.calls++
	start := (filter.Page - 1) * filter.PageSize
	var out []models.Enrollment
	for i := start; i < p.total && i < start+filter.PageSize; i++ {
		out = append(out, models.Enrollment{
			ID:            fmt.Sprintf("enr-%d", i),
			StudentID:     fmt.Sprintf("stu-%d", i),
			ClassID:       "class-1",
			SessionID:     "sess-1",
			Status:        models.EnrollmentStatusApproved,
			Type:          models.EnrollmentTypeActive,
			PaymentStatus: models.PaymentStatusPaid,
			EnrolledAt:    time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
		})
	}
	return out, &models.Pagination{Page: filter.Page, PageSize: filter.PageSize, TotalCount: p.total}, nil
}

func TestRosterExportWalksAllPages(t *testing.T) {
	source := &pagedRosterSource{total: 150}
	svc := NewRosterExportService(source, nil)

	file, err := svc.Export(context.Background(), models.EnrollmentFilter{ClassID: "class-1"}, "CSV")
	require.NoError(t, err)
	assert.Equal(t, 2, source.calls)
	assert.Equal(t, "text/csv", file.ContentType)
	assert.True(t, strings.HasSuffix(file.Filename, ".csv"))
	lines := strings.Split(strings.TrimSpace(string(file.Body)), "\n")
	assert.Len(t, lines, 151)
}

func TestRosterExportPDF(t *testing.T) {
	svc := NewRosterExportService(&pagedRosterSource{total: 3}, nil)
	file, err := svc.Export(context.Background(), models.EnrollmentFilter{}, "pdf")
	require.NoError(t, err)
	assert.Equal(t, "application/pdf", file.ContentType)
	assert.True(t, strings.HasPrefix(string(file.Body), "%PDF"))
}

func TestRosterExportRejectsUnknownFormat(t *testing.T) {
	svc := NewRosterExportService(&pagedRosterSource{}, nil)
	_, err := svc.Export(context.Background(), models.EnrollmentFilter{}, "xlsx")
	assert.ErrorIs(t, err, appErrors.ErrValidation)
}
