package sales

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go-pos-ledger/internal/apperr"
	"go-pos-ledger/internal/cache"
	"go-pos-ledger/internal/customers"
	"go-pos-ledger/internal/events"
	"go-pos-ledger/internal/inventory"
	"go-pos-ledger/internal/logger"
	"go-pos-ledger/internal/metrics"
	"go-pos-ledger/internal/models"
	"go-pos-ledger/internal/payments"
	"go-pos-ledger/internal/upi"

	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"gorm.io/gorm"
)

var tracer = otel.Tracer("sales-engine")

// Engine turns carts into sales. Stock, sale rows, synchronous payments and
// debt all change in one transaction; only QR generation and event
// publishing happen after commit.
type Engine struct {
	db        *gorm.DB
	payments  *payments.Service
	publisher events.Publisher
	cache     *cache.ProductCache
}

func NewEngine(db *gorm.DB, paymentSvc *payments.Service, publisher events.Publisher, productCache *cache.ProductCache) *Engine {
	if publisher == nil {
		publisher = events.NopPublisher{}
	}
	return &Engine{db: db, payments: paymentSvc, publisher: publisher, cache: productCache}
}

type CartLine struct {
	ProductID uint            `json:"productId"`
	Quantity  decimal.Decimal `json:"quantity"`
}

type CreateSaleInput struct {
	Items          []CartLine
	PaymentMethod  models.PaymentMethod
	Payments       []payments.Split
	CustomerID     *uint
	SaleType       models.SaleType
	FinalPrice     decimal.NullDecimal
	DiscountReason string
	UserID         uint
}

// Result is what a checkout returns. PaymentError is set when the sale is
// durable but its UPI QR could not be produced.
type Result struct {
	Sale         *models.Sale      `json:"sale"`
	Settlement   models.Settlement `json:"settlement"`
	PaymentQR    *upi.QRPayload    `json:"paymentQR,omitempty"`
	PaymentError string            `json:"paymentError,omitempty"`
}

func validateCart(items []CartLine) error {
	if len(items) == 0 {
		return apperr.Validation("items", "cart is empty")
	}
	for i, line := range items {
		if line.ProductID == 0 {
			return apperr.Validation(fmt.Sprintf("items[%d].productId", i), "is required")
		}
		if !line.Quantity.IsPositive() {
			return apperr.Validation(fmt.Sprintf("items[%d].quantity", i), "must be greater than zero")
		}
	}
	return nil
}

func validateFinalPrice(t models.SaleType, final decimal.NullDecimal) error {
	if !final.Valid {
		return nil
	}
	if t != models.SaleTypeWholesale {
		return apperr.Validation("finalPrice", "a negotiated final price is only allowed on wholesale sales")
	}
	if final.Decimal.IsNegative() {
		return apperr.Validation("finalPrice", "must not be negative")
	}
	if !final.Decimal.Equal(final.Decimal.Round(2)) {
		return apperr.Validation("finalPrice", "must have at most 2 decimal places")
	}
	return nil
}

// discountFor turns a negotiated final price into an explicit discount so
// the sale total keeps matching its line items.
func discountFor(t models.SaleType, final decimal.NullDecimal, total decimal.Decimal) (decimal.Decimal, error) {
	if err := validateFinalPrice(t, final); err != nil {
		return decimal.Zero, err
	}
	if !final.Valid {
		return decimal.Zero, nil
	}
	if final.Decimal.GreaterThan(total) {
		return decimal.Zero, apperr.Validation("finalPrice", "%s exceeds the sale total %s",
			final.Decimal.StringFixed(2), total.StringFixed(2))
	}
	return total.Sub(final.Decimal).Round(2), nil
}

func lineItem(p *models.Product, qty, price decimal.Decimal) models.SaleItem {
	return models.SaleItem{
		ProductID:   p.ID,
		ProductName: p.Name,
		Quantity:    qty,
		Price:       price,
		Subtotal:    price.Mul(qty).Round(2),
	}
}

// CreateSale validates the cart, reserves stock and persists the sale with
// its items and payments atomically.
func (e *Engine) CreateSale(ctx context.Context, in CreateSaleInput) (*Result, error) {
	ctx, span := tracer.Start(ctx, "sales.CreateSale")
	defer span.End()
	span.SetAttributes(
		attribute.Int("cart.lines", len(in.Items)),
		attribute.String("sale.type", string(in.SaleType)),
		attribute.String("payment.method", string(in.PaymentMethod)),
	)

	// 1. Reject malformed requests before opening a transaction
	if in.SaleType == "" {
		in.SaleType = models.SaleTypeRetail
	}
	err := validateCart(in.Items)
	if err == nil && !in.SaleType.Valid() {
		err = apperr.Validation("saleType", "must be one of retail, wholesale, hotel")
	}
	if err == nil {
		err = validateFinalPrice(in.SaleType, in.FinalPrice)
	}
	if err == nil {
		err = payments.CheckMethods(in.PaymentMethod, in.Payments, in.CustomerID)
	}
	if err != nil {
		return nil, e.failed(ctx, err)
	}

	var (
		sale models.Sale
		rows []models.Payment
	)
	err = e.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		// 2. The customer row is locked so debt changes serialise
		if in.CustomerID != nil {
			if _, err := customers.Lock(tx, *in.CustomerID); err != nil {
				return err
			}
		}

		// 3. Reserve stock line by line, in cart order
		total := decimal.Zero
		items := make([]models.SaleItem, 0, len(in.Items))
		movements := make([]models.StockMovement, 0, len(in.Items))
		for _, line := range in.Items {
			product, err := inventory.LoadForSale(tx, line.ProductID)
			if err != nil {
				return err
			}
			if err := inventory.CheckQuantity(product, line.Quantity); err != nil {
				return err
			}
			if err := inventory.AdjustStock(tx, product.ID, line.Quantity.Neg()); err != nil {
				return err
			}

			item := lineItem(product, line.Quantity, product.PriceFor(in.SaleType))
			total = total.Add(item.Subtotal)
			items = append(items, item)
			movements = append(movements, inventory.NewMovement(product.ID, line.Quantity.Neg(),
				inventory.Movement{Reason: inventory.ReasonSale, UserID: in.UserID}))
		}

		discount, err := discountFor(in.SaleType, in.FinalPrice, total)
		if err != nil {
			return err
		}

		// 4. Sale header and items
		sale = models.Sale{
			TotalAmount:    total,
			DiscountAmount: discount,
			UserID:         in.UserID,
			CustomerID:     in.CustomerID,
			SaleType:       in.SaleType,
			SaleDate:       time.Now().UTC(),
			Items:          items,
		}
		if discount.IsPositive() {
			sale.DiscountReason = in.DiscountReason
		}
		if err := tx.Create(&sale).Error; err != nil {
			return apperr.Persistence("create sale", err)
		}

		for i := range movements {
			movements[i].SaleID = &sale.ID
		}
		if err := inventory.RecordMovements(tx, movements); err != nil {
			return err
		}

		// 5. Payments, including any debt increment
		plan, err := payments.Plan(in.PaymentMethod, in.Payments, sale.PayableAmount(), in.CustomerID)
		if err != nil {
			return err
		}
		rows, err = payments.Record(tx, &sale, plan, in.UserID)
		if err != nil {
			return err
		}
		sale.Payments = rows

		if in.CustomerID != nil {
			return customers.RecordPurchase(tx, *in.CustomerID, sale.PayableAmount(), sale.SaleDate)
		}
		return nil
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "sale rolled back")
		return nil, e.failed(ctx, apperr.Classify("create sale", err))
	}
	span.SetAttributes(attribute.Int64("sale.id", int64(sale.ID)))

	// 6. Post-commit side effects
	metrics.SalesTotal.WithLabelValues(string(sale.SaleType)).Inc()
	metrics.SaleAmount.Observe(sale.PayableAmount().InexactFloat64())
	e.cache.Invalidate(ctx)

	result := &Result{Sale: &sale}
	qr, qrErr := e.payments.AfterCommit(ctx, rows)
	result.PaymentQR = qr
	if qrErr != nil {
		result.PaymentError = apperr.PublicMessage(qrErr) + "; the sale is saved and the QR can be reissued"
	}
	result.Settlement = sale.Settlement()

	events.PublishOrLog(ctx, e.publisher, events.Event{
		Type:       events.TypeSaleCreated,
		SaleID:     sale.ID,
		CustomerID: derefUint(sale.CustomerID),
		Method:     string(in.PaymentMethod),
		Amount:     sale.PayableAmount(),
	})
	logger.Info(ctx).
		Uint("sale_id", sale.ID).
		Uint("user_id", sale.UserID).
		Str("sale_type", string(sale.SaleType)).
		Str("total", sale.TotalAmount.String()).
		Str("payable", sale.PayableAmount().String()).
		Int("items", len(sale.Items)).
		Msg("Sale created")

	return result, nil
}

// failed counts and logs a rejected sale and returns err unchanged.
func (e *Engine) failed(ctx context.Context, err error) error {
	reason := failureReason(err)
	metrics.SaleFailures.WithLabelValues(reason).Inc()

	ev := logger.Warn(ctx)
	if reason == "persistence" {
		ev = logger.Error(ctx)
	}
	ev.Err(err).Str("reason", reason).Msg("Sale rejected")
	return err
}

func failureReason(err error) string {
	switch {
	case errors.Is(err, apperr.ErrInsufficientStock):
		return "insufficient_stock"
	case errors.Is(err, apperr.ErrNotFound):
		return "not_found"
	case errors.Is(err, apperr.ErrValidation):
		return "validation"
	case errors.Is(err, apperr.ErrInvalidAmount):
		return "invalid_amount"
	case errors.Is(err, apperr.ErrConflict):
		return "conflict"
	default:
		return "persistence"
	}
}

func derefUint(v *uint) uint {
	if v == nil {
		return 0
	}
	return *v
}
