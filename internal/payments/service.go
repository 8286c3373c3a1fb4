package payments

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"strings"
	"time"

	"go-pos-ledger/internal/apperr"
	"go-pos-ledger/internal/events"
	"go-pos-ledger/internal/logger"
	"go-pos-ledger/internal/metrics"
	"go-pos-ledger/internal/models"
	"go-pos-ledger/internal/upi"

	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const (
	ReasonQRFailed    = "qr_generation_failed"
	ReasonExpired     = "upi_expired"
	ReasonSaleEdited  = "sale edited"
	ReasonLateSuccess = "paid_after_failure"
	reasonExpiredText = "expired"
)

var tracer = otel.Tracer("payments")

type Service struct {
	db        *gorm.DB
	qr        upi.Generator
	publisher events.Publisher
}

func NewService(db *gorm.DB, qr upi.Generator, publisher events.Publisher) *Service {
	if publisher == nil {
		publisher = events.NopPublisher{}
	}
	return &Service{db: db, qr: qr, publisher: publisher}
}

// Reconcile reports a committed sale whose follow-up step failed.
func (s *Service) Reconcile(ctx context.Context, reason string, saleID, paymentID uint, err error) {
	logger.Reconciliation(ctx, reason, saleID, paymentID).
		Err(err).
		Msg("Sale is committed but needs manual reconciliation")
	metrics.ReconciliationRequired.WithLabelValues(reason).Inc()
	events.PublishOrLog(ctx, s.publisher, events.Event{
		Type:      events.TypeReconciliationRequired,
		SaleID:    saleID,
		PaymentID: paymentID,
		Reason:    reason,
	})
}

// IssueQR produces the QR payload for a pending UPI payment. Runs after the
// sale transaction has committed.
func (s *Service) IssueQR(ctx context.Context, p *models.Payment) (*upi.QRPayload, error) {
	ctx, span := tracer.Start(ctx, "payments.IssueQR")
	defer span.End()
	span.SetAttributes(attribute.Int64("payment.id", int64(p.ID)), attribute.Int64("sale.id", int64(p.SaleID)))

	if s.qr == nil {
		err := errors.New("no QR generator configured")
		s.Reconcile(ctx, ReasonQRFailed, p.SaleID, p.ID, err)
		return nil, &apperr.UpstreamError{Service: "UPI QR generator", Err: err}
	}

	qr, err := s.qr.Generate(ctx, upi.Request{Reference: p.Reference, SaleID: p.SaleID, Amount: p.Amount})
	if err != nil {
		span.RecordError(err)
		s.Reconcile(ctx, ReasonQRFailed, p.SaleID, p.ID, err)
		return nil, &apperr.UpstreamError{Service: "UPI QR generator", Err: err}
	}
	qr.PaymentID = p.ID
	return qr, nil
}

// AfterCommit records metrics for freshly written payments and issues the
// QR for a pending UPI tender, if any.
func (s *Service) AfterCommit(ctx context.Context, rows []models.Payment) (*upi.QRPayload, error) {
	var (
		qr    *upi.QRPayload
		qrErr error
	)
	for i := range rows {
		p := &rows[i]
		metrics.PaymentsTotal.WithLabelValues(string(p.PaymentMethod), string(p.Status)).Inc()
		if p.PaymentMethod == models.PaymentUPI && p.Status == models.PaymentPending {
			qr, qrErr = s.IssueQR(ctx, p)
		}
	}
	return qr, qrErr
}

func (s *Service) Get(ctx context.Context, id uint) (*models.Payment, error) {
	var p models.Payment
	if err := s.db.WithContext(ctx).First(&p, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperr.NotFound("payment", id)
		}
		return nil, apperr.Persistence("load payment", err)
	}
	return &p, nil
}

func (s *Service) List(ctx context.Context, status string) ([]models.Payment, error) {
	q := s.db.WithContext(ctx).Order("id DESC").Limit(500)
	if status != "" {
		st := models.PaymentStatus(status)
		if st != models.PaymentPending && st != models.PaymentCompleted && st != models.PaymentFailed {
			return nil, apperr.Validation("status", "must be pending, completed or failed")
		}
		q = q.Where("status = ?", st)
	}
	var out []models.Payment
	if err := q.Find(&out).Error; err != nil {
		return nil, apperr.Persistence("list payments", err)
	}
	return out, nil
}

// transition moves a pending payment to a final state. The conditional
// update guarantees a payment completes at most once.
func (s *Service) transition(ctx context.Context, id uint, to models.PaymentStatus, reason string) (*models.Payment, error) {
	var p models.Payment
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		updates := map[string]any{"status": to}
		if to == models.PaymentCompleted {
			updates["confirmed_at"] = time.Now().UTC()
		} else {
			updates["failure_reason"] = reason
		}

		res := tx.Model(&models.Payment{}).
			Where("id = ? AND status = ?", id, models.PaymentPending).
			Updates(updates)
		if res.Error != nil {
			return apperr.Persistence("update payment", res.Error)
		}
		if err := tx.First(&p, id).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return apperr.NotFound("payment", id)
			}
			return apperr.Persistence("load payment", err)
		}
		if res.RowsAffected == 0 {
			return apperr.Conflict("payment %d is already %s", id, p.Status)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	metrics.PaymentsTotal.WithLabelValues(string(p.PaymentMethod), string(p.Status)).Inc()
	eventType := events.TypePaymentCompleted
	if to == models.PaymentFailed {
		eventType = events.TypePaymentFailed
	}
	events.PublishOrLog(ctx, s.publisher, events.Event{
		Type:      eventType,
		SaleID:    p.SaleID,
		PaymentID: p.ID,
		Method:    string(p.PaymentMethod),
		Amount:    p.Amount,
		Reason:    reason,
	})
	logger.Info(ctx).
		Uint("payment_id", p.ID).
		Uint("sale_id", p.SaleID).
		Str("status", string(p.Status)).
		Str("amount", p.Amount.String()).
		Msg("Payment status changed")
	return &p, nil
}

// Confirm completes a pending payment. A second call returns ConflictError
// and never counts the payment twice.
func (s *Service) Confirm(ctx context.Context, id uint) (*models.Payment, error) {
	ctx, span := tracer.Start(ctx, "payments.Confirm")
	defer span.End()
	span.SetAttributes(attribute.Int64("payment.id", int64(id)))
	return s.transition(ctx, id, models.PaymentCompleted, "")
}

func (s *Service) Fail(ctx context.Context, id uint, reason string) (*models.Payment, error) {
	if strings.TrimSpace(reason) == "" {
		reason = "failed"
	}
	return s.transition(ctx, id, models.PaymentFailed, reason)
}

// InitiatePayment opens a new pending UPI payment against a sale's
// outstanding balance and returns its QR payload.
func (s *Service) InitiatePayment(ctx context.Context, saleID uint, amount decimal.NullDecimal, userID uint) (*models.Payment, *upi.QRPayload, error) {
	ctx, span := tracer.Start(ctx, "payments.InitiatePayment")
	defer span.End()
	span.SetAttributes(attribute.Int64("sale.id", int64(saleID)))

	if amount.Valid && !amount.Decimal.IsPositive() {
		return nil, nil, apperr.InvalidAmount("payment amount must be greater than zero")
	}

	var p models.Payment
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var sale models.Sale
		err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).First(&sale, saleID).Error
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return apperr.NotFound("sale", saleID)
			}
			return apperr.Persistence("load sale", err)
		}
		if err := tx.Where("sale_id = ?", saleID).Find(&sale.Payments).Error; err != nil {
			return apperr.Persistence("load payments", err)
		}

		st := sale.Settlement()
		open := st.Outstanding.Sub(st.Pending)
		if !open.IsPositive() {
			return apperr.Validation("saleId", "sale %d has no unpaid balance without a pending payment", saleID)
		}
		due := open
		if amount.Valid {
			if amount.Decimal.GreaterThan(open) {
				return apperr.InvalidAmount("payment of %s exceeds the unpaid balance of %s",
					amount.Decimal.StringFixed(2), open.StringFixed(2))
			}
			due = amount.Decimal
		}

		p = models.Payment{
			SaleID:        sale.ID,
			UserID:        userID,
			CustomerID:    sale.CustomerID,
			Amount:        due,
			PaymentMethod: models.PaymentUPI,
			Status:        models.PaymentPending,
			Reference:     NewReference(),
		}
		if err := tx.Create(&p).Error; err != nil {
			return apperr.Persistence("create payment", err)
		}
		return nil
	})
	if err != nil {
		return nil, nil, err
	}

	metrics.PaymentsTotal.WithLabelValues(string(p.PaymentMethod), string(p.Status)).Inc()
	qr, err := s.IssueQR(ctx, &p)
	if err != nil {
		return &p, nil, err
	}
	return &p, qr, nil
}

// VerifySignature checks a hex HMAC-SHA256 of the raw webhook body.
func VerifySignature(secret string, body []byte, signature string) bool {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	expected := mac.Sum(nil)

	got, err := hex.DecodeString(strings.TrimSpace(signature))
	if err != nil {
		return false
	}
	return hmac.Equal(expected, got)
}

type WebhookEvent struct {
	Reference string              `json:"reference" binding:"required"`
	Status    string              `json:"status" binding:"required"`
	Amount    decimal.NullDecimal `json:"amount"`
	Reason    string              `json:"reason"`
}

type WebhookResult struct {
	Payment   *models.Payment `json:"payment"`
	Duplicate bool            `json:"duplicate"`
}

// HandleWebhook applies a gateway notification. Redelivery of an already
// applied notification is acknowledged without changing anything.
func (s *Service) HandleWebhook(ctx context.Context, ev WebhookEvent) (*WebhookResult, error) {
	ctx, span := tracer.Start(ctx, "payments.HandleWebhook")
	defer span.End()
	span.SetAttributes(attribute.String("payment.reference", ev.Reference))

	var target models.PaymentStatus
	switch strings.ToUpper(ev.Status) {
	case "SUCCESS", "COMPLETED":
		target = models.PaymentCompleted
	case "FAILED", "FAILURE":
		target = models.PaymentFailed
	default:
		return nil, apperr.Validation("status", "must be SUCCESS or FAILED")
	}

	var p models.Payment
	if err := s.db.WithContext(ctx).Where("reference = ?", ev.Reference).First(&p).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperr.NotFound("payment reference", ev.Reference)
		}
		return nil, apperr.Persistence("load payment", err)
	}
	if ev.Amount.Valid && !ev.Amount.Decimal.Equal(p.Amount) {
		return nil, apperr.Validation("amount", "notified amount %s does not match payment amount %s",
			ev.Amount.Decimal.StringFixed(2), p.Amount.StringFixed(2))
	}

	if p.Status == target {
		return &WebhookResult{Payment: &p, Duplicate: true}, nil
	}
	if p.Status != models.PaymentPending {
		conflict := apperr.Conflict("payment %s is already %s", p.Reference, p.Status)
		if target == models.PaymentCompleted {
			// Money arrived for a payment that expired or was voided.
			s.Reconcile(ctx, ReasonLateSuccess, p.SaleID, p.ID, conflict)
		}
		return nil, conflict
	}

	var (
		updated *models.Payment
		err     error
	)
	if target == models.PaymentCompleted {
		updated, err = s.Confirm(ctx, p.ID)
	} else {
		updated, err = s.Fail(ctx, p.ID, ev.Reason)
	}
	if err != nil {
		// Lost a race against another delivery of the same notification.
		var conflict *apperr.ConflictError
		if errors.As(err, &conflict) {
			if current, getErr := s.Get(ctx, p.ID); getErr == nil {
				if current.Status == target {
					return &WebhookResult{Payment: current, Duplicate: true}, nil
				}
				if target == models.PaymentCompleted {
					s.Reconcile(ctx, ReasonLateSuccess, p.SaleID, p.ID, err)
				}
			}
		}
		return nil, err
	}
	return &WebhookResult{Payment: updated}, nil
}

// ExpirePending fails UPI payments left pending longer than olderThan.
// Stock sold with the sale stays decremented; each expiry is reported for
// reconciliation instead.
func (s *Service) ExpirePending(ctx context.Context, olderThan time.Duration) (int, error) {
	cutoff := time.Now().UTC().Add(-olderThan)

	var stale []models.Payment
	err := s.db.WithContext(ctx).
		Where("status = ? AND payment_method = ? AND created_at < ?", models.PaymentPending, models.PaymentUPI, cutoff).
		Find(&stale).Error
	if err != nil {
		return 0, apperr.Persistence("load stale payments", err)
	}

	expired := 0
	for _, p := range stale {
		res := s.db.WithContext(ctx).Model(&models.Payment{}).
			Where("id = ? AND status = ?", p.ID, models.PaymentPending).
			Updates(map[string]any{"status": models.PaymentFailed, "failure_reason": reasonExpiredText})
		if res.Error != nil {
			return expired, apperr.Persistence("expire payment", res.Error)
		}
		if res.RowsAffected == 0 {
			continue
		}
		expired++
		metrics.PaymentsTotal.WithLabelValues(string(models.PaymentUPI), string(models.PaymentFailed)).Inc()
		s.Reconcile(ctx, ReasonExpired, p.SaleID, p.ID, nil)
	}

	if expired > 0 {
		logger.Info(ctx).Int("expired", expired).Dur("older_than", olderThan).Msg("Expired pending UPI payments")
	}
	return expired, nil
}

// RunExpiry calls ExpirePending every interval until ctx is cancelled.
func (s *Service) RunExpiry(ctx context.Context, interval, ttl time.Duration) {
	if ttl <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := s.ExpirePending(ctx, ttl); err != nil {
				logger.Error(ctx).Err(err).Msg("Pending payment expiry failed")
			}
		}
	}
}
