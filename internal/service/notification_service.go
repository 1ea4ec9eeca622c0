package service

import (
	"context"

	"go.uber.org/zap"

	"github.com/noah-isme/kidcare-enrollment-api/internal/models"
	"github.com/noah-isme/kidcare-enrollment-api/internal/repository"
	appErrors "github.com/noah-isme/kidcare-enrollment-api/pkg/errors"
)

type broadcastReader interface {
	ListBroadcasts(ctx context.Context, limit, offset int) ([]models.BroadcastSummary, int, error)
}

// NotificationService serves the admin view over recorded notifications.
type NotificationService struct {
	repo   broadcastReader
	logger *zap.Logger
}

// NewNotificationService constructs the service.
func NewNotificationService(repo broadcastReader, logger *zap.Logger) *NotificationService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &NotificationService{repo: repo, logger: logger}
}

// ListBroadcasts returns broadcast batches grouped by their batch id, newest first.
func (s *NotificationService) ListBroadcasts(ctx context.Context, page, size int) ([]models.BroadcastSummary, *models.Pagination, error) {
	page, size = repository.NormalizePage(page, size)
	summaries, total, err := s.repo.ListBroadcasts(ctx, size, (page-1)*size)
	if err != nil {
		s.logger.Error("list broadcasts failed", zap.Error(err))
		return nil, nil, appErrors.Internal(err, "failed to list broadcasts")
	}
	if summaries == nil {
		summaries = []models.BroadcastSummary{}
	}
	return summaries, &models.Pagination{Page: page, PageSize: size, TotalCount: total}, nil
}
