package services

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"html/template"
	"time"

	"github.com/google/uuid"
	"github.com/lenmanean/logbloga/models"
	"github.com/lenmanean/logbloga/repository"
	"github.com/lenmanean/logbloga/sender"
	"github.com/lenmanean/logbloga/templates"
	"go.uber.org/zap"
)

// EmailResult is the uniform outcome of an email send. A send skipped because
// of the user's preferences is a success with Skipped set.
type EmailResult struct {
	Success   bool
	MessageID string
	Skipped   bool
	Error     error
}

// Err returns nil for a successful result.
func (r EmailResult) Err() error {
	if r.Success {
		return nil
	}
	if r.Error != nil {
		return r.Error
	}
	return fmt.Errorf("email not sent")
}

// OrderEmailData is what the order emails are rendered from.
type OrderEmailData struct {
	OrderID         uuid.UUID
	OrderNumber     string
	Email           string
	CustomerName    string
	Status          models.OrderStatus
	Currency        string
	TotalAmount     int64
	Items           []models.OrderItem
	CouponCode      string
	CouponPercent   float64
	CouponExpiresAt time.Time
}

func OrderEmailDataFrom(order *models.Order) OrderEmailData {
	return OrderEmailData{
		OrderID:      order.ID,
		OrderNumber:  order.OrderNumber,
		Email:        order.CustomerEmail,
		CustomerName: order.CustomerName,
		Status:       order.Status,
		Currency:     order.Currency,
		TotalAmount:  order.TotalAmount,
		Items:        order.Items,
	}
}

type emailItemView struct {
	Name     string
	Quantity int
	Total    string
}

type emailView struct {
	CustomerName  string
	OrderNumber   string
	Status        string
	Items         []emailItemView
	Total         string
	OrderURL      string
	LibraryURL    string
	CouponCode    string
	CouponPercent string
	CouponExpires string
}

type emailConfig struct {
	tmplFile string
	subject  string
}

var emailConfigs = map[string]emailConfig{
	models.EmailCategoryOrderConfirmation: {
		tmplFile: "order_confirmation.html",
		subject:  "Order %s confirmed",
	},
	models.EmailCategoryPaymentReceipt: {
		tmplFile: "payment_receipt.html",
		subject:  "Payment received for order %s",
	},
	models.EmailCategoryOrderStatusUpdate: {
		tmplFile: "order_status_update.html",
		subject:  "Update on order %s",
	},
}

// NotificationService creates in-app notifications and sends the order
// emails. Email sends never return an error; callers inspect EmailResult.
type NotificationService interface {
	CreateNotification(ctx context.Context, input models.NotificationInput) (*models.Notification, error)
	SendOrderConfirmationEmail(ctx context.Context, userID *uuid.UUID, data OrderEmailData) EmailResult
	SendPaymentReceiptEmail(ctx context.Context, userID *uuid.UUID, data OrderEmailData) EmailResult
	SendOrderStatusUpdateEmail(ctx context.Context, userID *uuid.UUID, data OrderEmailData) EmailResult
	ListNotifications(ctx context.Context, userID uuid.UUID, unreadOnly bool, page, limit int) ([]models.Notification, int64, error)
	MarkRead(ctx context.Context, userID, notificationID uuid.UUID) error
	SetEmailEnabled(ctx context.Context, userID uuid.UUID, enabled bool) error
}

type notificationService struct {
	repo        repository.NotificationRepository
	emailSender sender.EmailSender
	templates   map[string]*template.Template
	baseURL     string
	logger      *zap.Logger
}

func NewNotificationService(
	repo repository.NotificationRepository,
	emailSender sender.EmailSender,
	baseURL string,
	logger *zap.Logger,
) (NotificationService, error) {
	tmpls := make(map[string]*template.Template)
	for category, cfg := range emailConfigs {
		tmpl, err := template.ParseFS(templates.FS, cfg.tmplFile)
		if err != nil {
			return nil, fmt.Errorf("failed to parse template for %s: %w", category, err)
		}
		tmpls[category] = tmpl
	}
	return &notificationService{
		repo:        repo,
		emailSender: emailSender,
		templates:   tmpls,
		baseURL:     baseURL,
		logger:      logger,
	}, nil
}

func (s *notificationService) CreateNotification(ctx context.Context, input models.NotificationInput) (*models.Notification, error) {
	n := &models.Notification{
		UserID:  input.UserID,
		Type:    input.Type,
		Title:   input.Title,
		Message: input.Message,
		Link:    input.Link,
	}
	if len(input.Metadata) > 0 {
		raw, err := json.Marshal(input.Metadata)
		if err != nil {
			return nil, fmt.Errorf("encode notification metadata: %w", err)
		}
		meta := string(raw)
		n.Metadata = &meta
	}
	if err := s.repo.Create(ctx, n); err != nil {
		return nil, fmt.Errorf("create notification: %w", err)
	}
	return n, nil
}

func (s *notificationService) SendOrderConfirmationEmail(ctx context.Context, userID *uuid.UUID, data OrderEmailData) EmailResult {
	return s.send(ctx, models.EmailCategoryOrderConfirmation, userID, data, false)
}

// SendPaymentReceiptEmail ignores the user's opt-out when the receipt carries
// a bonus coupon code.
func (s *notificationService) SendPaymentReceiptEmail(ctx context.Context, userID *uuid.UUID, data OrderEmailData) EmailResult {
	return s.send(ctx, models.EmailCategoryPaymentReceipt, userID, data, data.CouponCode != "")
}

func (s *notificationService) SendOrderStatusUpdateEmail(ctx context.Context, userID *uuid.UUID, data OrderEmailData) EmailResult {
	return s.send(ctx, models.EmailCategoryOrderStatusUpdate, userID, data, false)
}

func (s *notificationService) ListNotifications(ctx context.Context, userID uuid.UUID, unreadOnly bool, page, limit int) ([]models.Notification, int64, error) {
	return s.repo.ListForUser(ctx, userID, unreadOnly, limit, (page-1)*limit)
}

func (s *notificationService) MarkRead(ctx context.Context, userID, notificationID uuid.UUID) error {
	return s.repo.MarkRead(ctx, userID, notificationID)
}

func (s *notificationService) SetEmailEnabled(ctx context.Context, userID uuid.UUID, enabled bool) error {
	return s.repo.UpsertPreference(ctx, &models.NotificationPreference{UserID: userID, EmailNotifications: enabled})
}

func (s *notificationService) send(ctx context.Context, category string, userID *uuid.UUID, data OrderEmailData, alwaysSend bool) EmailResult {
	log := s.logger.With(
		zap.String("category", category),
		zap.String("order_id", data.OrderID.String()),
	)

	if data.Email == "" {
		log.Warn("missing recipient, email not sent")
		return EmailResult{Error: ErrNoRecipient}
	}

	if !alwaysSend && userID != nil && !s.emailEnabled(ctx, *userID) {
		log.Info("email disabled by user preference")
		s.saveLog(ctx, userID, data, category, models.StatusSkipped, "", "")
		return EmailResult{Success: true, Skipped: true}
	}

	body, err := s.render(category, data)
	if err != nil {
		log.Error("template render failed", zap.Error(err))
		s.saveLog(ctx, userID, data, category, models.StatusFailed, "", err.Error())
		return EmailResult{Error: err}
	}

	res, err := s.emailSender.SendEmail(ctx, sender.Message{
		To:      data.Email,
		Subject: fmt.Sprintf(emailConfigs[category].subject, data.OrderNumber),
		HTML:    body,
		Tags: map[string]string{
			"category": category,
			"order_id": data.OrderID.String(),
		},
	})
	if err != nil {
		log.Error("email send failed", zap.Error(err))
		s.saveLog(ctx, userID, data, category, models.StatusFailed, "", err.Error())
		return EmailResult{Error: err}
	}

	log.Info("email sent", zap.String("message_id", res.MessageID))
	s.saveLog(ctx, userID, data, category, models.StatusSent, res.MessageID, "")
	return EmailResult{Success: true, MessageID: res.MessageID}
}

// emailEnabled defaults to true when the user never saved preferences or the
// lookup fails.
func (s *notificationService) emailEnabled(ctx context.Context, userID uuid.UUID) bool {
	pref, err := s.repo.GetPreference(ctx, userID)
	if err != nil {
		s.logger.Warn("preference lookup failed, sending anyway",
			zap.String("user_id", userID.String()),
			zap.Error(err),
		)
		return true
	}
	return pref == nil || pref.EmailNotifications
}

func (s *notificationService) render(category string, data OrderEmailData) (string, error) {
	view := emailView{
		CustomerName: data.CustomerName,
		OrderNumber:  data.OrderNumber,
		Status:       string(data.Status),
		Total:        formatAmount(data.TotalAmount, data.Currency),
		OrderURL:     fmt.Sprintf("%s/account/orders/%s", s.baseURL, data.OrderID),
		LibraryURL:   s.baseURL + "/account/library",
		CouponCode:   data.CouponCode,
	}
	for _, item := range data.Items {
		view.Items = append(view.Items, emailItemView{
			Name:     item.ProductName,
			Quantity: item.Quantity,
			Total:    formatAmount(item.TotalPrice, data.Currency),
		})
	}
	if data.CouponCode != "" {
		view.CouponPercent = fmt.Sprintf("%g", data.CouponPercent)
		view.CouponExpires = data.CouponExpiresAt.Format("January 2, 2006")
	}

	var buf bytes.Buffer
	if err := s.templates[category].Execute(&buf, view); err != nil {
		return "", fmt.Errorf("template render failed: %w", err)
	}
	return buf.String(), nil
}

func (s *notificationService) saveLog(ctx context.Context, userID *uuid.UUID, data OrderEmailData, category, status, messageID, errMsg string) {
	orderID := data.OrderID
	entry := &models.NotificationLog{
		UserID:    userID,
		OrderID:   &orderID,
		Recipient: data.Email,
		Type:      category,
		Channel:   models.ChannelEmail,
		Status:    status,
		MessageID: messageID,
		Error:     errMsg,
	}
	if err := s.repo.SaveLog(ctx, entry); err != nil {
		s.logger.Error("failed to save notification log", zap.Error(err))
	}
}
