package customers

import (
	"context"
	"errors"
	"strings"
	"time"

	"go-pos-ledger/internal/apperr"
	"go-pos-ledger/internal/events"
	"go-pos-ledger/internal/logger"
	"go-pos-ledger/internal/metrics"
	"go-pos-ledger/internal/models"

	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var tracer = otel.Tracer("customers")

type Service struct {
	db        *gorm.DB
	publisher events.Publisher
}

func NewService(db *gorm.DB, publisher events.Publisher) *Service {
	if publisher == nil {
		publisher = events.NopPublisher{}
	}
	return &Service{db: db, publisher: publisher}
}

type CustomerInput struct {
	Name  string `json:"name" binding:"required"`
	Phone string `json:"phone" binding:"required"`
}

// CustomerDetail is a customer with the tail of its debt ledger.
type CustomerDetail struct {
	models.Customer
	Ledger []models.DebtEntry `json:"ledger"`
}

func (s *Service) Create(ctx context.Context, in CustomerInput) (*models.Customer, error) {
	name, phone := strings.TrimSpace(in.Name), strings.TrimSpace(in.Phone)
	if name == "" {
		return nil, apperr.Validation("name", "is required")
	}
	if phone == "" {
		return nil, apperr.Validation("phone", "is required")
	}

	var existing int64
	if err := s.db.WithContext(ctx).Model(&models.Customer{}).Where("phone = ?", phone).Count(&existing).Error; err != nil {
		return nil, apperr.Persistence("check phone", err)
	}
	if existing > 0 {
		return nil, apperr.Conflict("a customer with phone %s already exists", phone)
	}

	c := models.Customer{Name: name, Phone: phone}
	if err := s.db.WithContext(ctx).Create(&c).Error; err != nil {
		return nil, apperr.Persistence("create customer", err)
	}
	return &c, nil
}

func (s *Service) Get(ctx context.Context, id uint) (*CustomerDetail, error) {
	var c models.Customer
	if err := s.db.WithContext(ctx).First(&c, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperr.NotFound("customer", id)
		}
		return nil, apperr.Persistence("load customer", err)
	}

	detail := &CustomerDetail{Customer: c}
	err := s.db.WithContext(ctx).
		Where("customer_id = ?", id).
		Order("id DESC").
		Limit(50).
		Find(&detail.Ledger).Error
	if err != nil {
		return nil, apperr.Persistence("load debt ledger", err)
	}
	return detail, nil
}

func (s *Service) List(ctx context.Context, withDebt bool) ([]models.Customer, error) {
	q := s.db.WithContext(ctx).Order("name")
	if withDebt {
		q = q.Where("debt_amount > 0")
	}
	var out []models.Customer
	if err := q.Find(&out).Error; err != nil {
		return nil, apperr.Persistence("list customers", err)
	}
	return out, nil
}

// Lock loads a customer row for update inside a transaction.
func Lock(tx *gorm.DB, id uint) (*models.Customer, error) {
	var c models.Customer
	if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).First(&c, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperr.NotFound("customer", id)
		}
		return nil, apperr.Persistence("load customer", err)
	}
	return &c, nil
}

// IncrementDebt adds a debt-financed sale amount to the customer's balance.
func IncrementDebt(tx *gorm.DB, customerID uint, amount decimal.Decimal, saleID, userID uint) (*models.DebtEntry, error) {
	if !amount.IsPositive() {
		return nil, apperr.InvalidAmount("debt amount must be greater than zero")
	}

	res := tx.Model(&models.Customer{}).
		Where("id = ?", customerID).
		Update("debt_amount", gorm.Expr("debt_amount + CAST(? AS DECIMAL(12,2))", amount))
	if res.Error != nil {
		return nil, apperr.Persistence("increment debt", res.Error)
	}
	if res.RowsAffected == 0 {
		return nil, apperr.NotFound("customer", customerID)
	}
	return appendLedger(tx, customerID, models.DebtFromSale, amount, &saleID, userID)
}

// ReverseDebt takes back debt booked by a sale that is being rewritten.
// It fails when the customer already paid the debt down below the amount.
func ReverseDebt(tx *gorm.DB, customerID uint, amount decimal.Decimal, saleID, userID uint) (*models.DebtEntry, error) {
	if !amount.IsPositive() {
		return nil, nil
	}
	if err := decrement(tx, customerID, amount); err != nil {
		var invalid *apperr.InvalidAmountError
		if errors.As(err, &invalid) {
			return nil, apperr.InvalidAmount(
				"cannot reverse debt of %s for sale %d: customer %d has already paid part of it",
				amount.StringFixed(2), saleID, customerID)
		}
		return nil, err
	}
	return appendLedger(tx, customerID, models.DebtSaleReverse, amount.Neg(), &saleID, userID)
}

func decrement(tx *gorm.DB, customerID uint, amount decimal.Decimal) error {
	res := tx.Model(&models.Customer{}).
		Where("id = ? AND debt_amount >= CAST(? AS DECIMAL(12,2))", customerID, amount).
		Update("debt_amount", gorm.Expr("debt_amount - CAST(? AS DECIMAL(12,2))", amount))
	if res.Error != nil {
		return apperr.Persistence("decrement debt", res.Error)
	}
	if res.RowsAffected > 0 {
		return nil
	}

	var c models.Customer
	if err := tx.Select("id", "name", "debt_amount").First(&c, customerID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return apperr.NotFound("customer", customerID)
		}
		return apperr.Persistence("load customer", err)
	}
	return apperr.InvalidAmount("payment of %s exceeds %s's outstanding debt of %s",
		amount.StringFixed(2), c.Name, c.DebtAmount.StringFixed(2))
}

func appendLedger(tx *gorm.DB, customerID uint, kind models.DebtEntryKind, amount decimal.Decimal, saleID *uint, userID uint) (*models.DebtEntry, error) {
	var c models.Customer
	if err := tx.Select("id", "debt_amount").First(&c, customerID).Error; err != nil {
		return nil, apperr.Persistence("reload customer", err)
	}
	entry := models.DebtEntry{
		CustomerID:   customerID,
		Kind:         kind,
		Amount:       amount,
		BalanceAfter: c.DebtAmount,
		SaleID:       saleID,
		UserID:       userID,
	}
	if err := tx.Create(&entry).Error; err != nil {
		return nil, apperr.Persistence("append debt ledger", err)
	}
	return &entry, nil
}

// RecordPurchase stamps the customer's last purchase.
func RecordPurchase(tx *gorm.DB, customerID uint, amount decimal.Decimal, at time.Time) error {
	err := tx.Model(&models.Customer{}).
		Where("id = ?", customerID).
		Updates(map[string]any{
			"last_purchase_date":   at,
			"last_purchase_amount": amount,
		}).Error
	if err != nil {
		return apperr.Persistence("record purchase", err)
	}
	return nil
}

// ApplyDebtPayment settles part or all of a customer's existing debt.
// The amount must satisfy 0 < amount <= debt; otherwise nothing changes.
func (s *Service) ApplyDebtPayment(ctx context.Context, customerID uint, amount decimal.Decimal, userID uint) (*models.Customer, error) {
	ctx, span := tracer.Start(ctx, "customers.ApplyDebtPayment")
	defer span.End()
	span.SetAttributes(
		attribute.Int64("customer.id", int64(customerID)),
		attribute.String("payment.amount", amount.String()),
	)

	if !amount.IsPositive() {
		return nil, apperr.InvalidAmount("debt payment must be greater than zero")
	}

	var entry *models.DebtEntry
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := decrement(tx, customerID, amount); err != nil {
			return err
		}
		var err error
		entry, err = appendLedger(tx, customerID, models.DebtPayment, amount.Neg(), nil, userID)
		return err
	})
	if err != nil {
		logger.Warn(ctx).Err(err).Uint("customer_id", customerID).Str("amount", amount.String()).Msg("Debt payment rejected")
		return nil, err
	}

	metrics.DebtPayments.Inc()
	logger.Info(ctx).
		Uint("customer_id", customerID).
		Str("amount", amount.String()).
		Str("balance_after", entry.BalanceAfter.String()).
		Msg("Debt payment applied")

	events.PublishOrLog(ctx, s.publisher, events.Event{
		Type:       events.TypeDebtPaid,
		CustomerID: customerID,
		Amount:     amount,
		Balance:    entry.BalanceAfter,
	})

	var c models.Customer
	if err := s.db.WithContext(ctx).First(&c, customerID).Error; err != nil {
		return nil, apperr.Persistence("reload customer", err)
	}
	return &c, nil
}
