package services

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	apperrors "github.com/lenmanean/logbloga/common/errors"
	"github.com/lenmanean/logbloga/models"
	aws_pkg "github.com/lenmanean/logbloga/pkg/aws"
	"github.com/lenmanean/logbloga/repository"
	"go.uber.org/zap"
)

// URLPresigner issues time-limited URLs for private objects.
type URLPresigner interface {
	PresignGet(ctx context.Context, key, downloadName string, expiry time.Duration) (string, error)
}

type DownloadRequest struct {
	Key       string
	UserID    uuid.UUID
	IPAddress string
	UserAgent string
}

type DownloadLink struct {
	URL       string    `json:"url"`
	FileName  string    `json:"file_name"`
	ExpiresAt time.Time `json:"expires_at"`
}

type DownloadService interface {
	IssueDownloadURL(ctx context.Context, req DownloadRequest) (*DownloadLink, error)
}

type downloadServiceImpl struct {
	orders    repository.OrderRepository
	products  repository.ProductRepository
	logs      repository.DownloadLogRepository
	presigner URLPresigner
	metrics   MetricsRecorder
	urlTTL    time.Duration
	logger    *zap.Logger
	now       func() time.Time
}

func NewDownloadService(
	orders repository.OrderRepository,
	products repository.ProductRepository,
	logs repository.DownloadLogRepository,
	presigner URLPresigner,
	metrics MetricsRecorder,
	urlTTL time.Duration,
	logger *zap.Logger,
) DownloadService {
	return &downloadServiceImpl{
		orders:    orders,
		products:  products,
		logs:      logs,
		presigner: presigner,
		metrics:   metrics,
		urlTTL:    urlTTL,
		logger:    logger,
		now:       time.Now,
	}
}

// IssueDownloadURL exchanges a download key for a signed URL. Unknown keys
// and keys of other users are NotFound. An expired key is Gone whatever the
// order status; an unexpired key of an unpaid order is Forbidden.
func (s *downloadServiceImpl) IssueDownloadURL(ctx context.Context, req DownloadRequest) (*DownloadLink, error) {
	item, err := s.orders.FindItemByDownloadKey(ctx, req.Key)
	if err != nil {
		return nil, apperrors.Internal(err)
	}
	if item == nil {
		return nil, apperrors.NotFound("Download not found")
	}

	order, err := s.orders.GetOrderWithItems(ctx, item.OrderID)
	if err != nil {
		return nil, apperrors.Internal(err)
	}
	if order == nil || order.UserID == nil || *order.UserID != req.UserID {
		return nil, apperrors.NotFound("Download not found")
	}

	now := s.now()
	if item.DownloadExpired(now) {
		return nil, apperrors.Gone("Download link has expired")
	}
	if order.Status != models.OrderStatusCompleted {
		return nil, apperrors.Forbidden("Order is not paid")
	}

	product, err := s.products.FindByID(ctx, item.ProductID)
	if err != nil {
		return nil, apperrors.Internal(err)
	}
	if product == nil || product.FileKey == "" {
		return nil, apperrors.NotFound("File not available")
	}

	url, err := s.presigner.PresignGet(ctx, product.FileKey, product.FileName, s.urlTTL)
	if err != nil {
		return nil, apperrors.Unavailable("Storage unavailable", fmt.Errorf("presign %s: %w", product.FileKey, err))
	}

	s.recordDownload(ctx, item, req)

	return &DownloadLink{
		URL:       url,
		FileName:  product.FileName,
		ExpiresAt: now.Add(min(s.urlTTL, aws_pkg.MaxPresignExpiry)),
	}, nil
}

// recordDownload bumps the counter and writes the audit row. Neither failure
// denies the download.
func (s *downloadServiceImpl) recordDownload(ctx context.Context, item *models.OrderItem, req DownloadRequest) {
	if err := s.orders.IncrementDownloadCount(ctx, item.ID); err != nil {
		s.logger.Warn("failed to increment download count", zap.String("item_id", item.ID.String()), zap.Error(err))
	}
	entry := &models.DownloadLog{
		OrderItemID: item.ID,
		UserID:      req.UserID,
		IPAddress:   req.IPAddress,
		UserAgent:   req.UserAgent,
	}
	if err := s.logs.Create(ctx, entry); err != nil {
		s.logger.Warn("failed to write download log", zap.String("item_id", item.ID.String()), zap.Error(err))
	}
	if s.metrics != nil {
		_ = s.metrics.RecordCount(ctx, aws_pkg.MetricDownloads, nil)
	}
}
