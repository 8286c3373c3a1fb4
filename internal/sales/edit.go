package sales

import (
	"context"
	"errors"

	"go-pos-ledger/internal/apperr"
	"go-pos-ledger/internal/customers"
	"go-pos-ledger/internal/events"
	"go-pos-ledger/internal/inventory"
	"go-pos-ledger/internal/logger"
	"go-pos-ledger/internal/models"
	"go-pos-ledger/internal/payments"

	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// EditSaleInput replaces a sale's cart. Payments are rewritten only when
// Payments or PaymentMethod is given; otherwise completed payments stay.
type EditSaleInput struct {
	Items          []CartLine
	PaymentMethod  models.PaymentMethod
	Payments       []payments.Split
	CustomerID     *uint
	FinalPrice     decimal.NullDecimal
	DiscountReason string
	UserID         uint
}

func (in EditSaleInput) rewritesPayments() bool {
	return in.Payments != nil || in.PaymentMethod != ""
}

type cartEntry struct {
	productID uint
	quantity  decimal.Decimal
}

// mergeCart folds repeated products into one line, keeping first-seen order.
func mergeCart(items []CartLine) []cartEntry {
	index := map[uint]int{}
	var out []cartEntry
	for _, line := range items {
		if i, ok := index[line.ProductID]; ok {
			out[i].quantity = out[i].quantity.Add(line.Quantity)
			continue
		}
		index[line.ProductID] = len(out)
		out = append(out, cartEntry{productID: line.ProductID, quantity: line.Quantity})
	}
	return out
}

// EditSale rewrites a sale's items, and optionally its payments, applying
// only the per-product stock deltas. Kept products keep their sold price.
func (e *Engine) EditSale(ctx context.Context, saleID uint, in EditSaleInput) (*Result, error) {
	ctx, span := tracer.Start(ctx, "sales.EditSale")
	defer span.End()
	span.SetAttributes(attribute.Int64("sale.id", int64(saleID)), attribute.Int("cart.lines", len(in.Items)))

	if err := validateCart(in.Items); err != nil {
		return nil, e.failed(ctx, err)
	}
	if in.rewritesPayments() {
		if err := payments.CheckMethods(in.PaymentMethod, in.Payments, in.CustomerID); err != nil {
			// A debt tender may rely on the customer already on the sale.
			var verr *apperr.ValidationError
			if !(errors.As(err, &verr) && verr.Field == "customerId") {
				return nil, e.failed(ctx, err)
			}
		}
	}

	var (
		sale    *models.Sale
		newRows []models.Payment
		voided  []models.Payment
	)
	err := e.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		// 1. Lock the sale and load what it currently holds
		var locked models.Sale
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).First(&locked, saleID).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return apperr.NotFound("sale", saleID)
			}
			return apperr.Persistence("load sale", err)
		}
		if err := tx.Where("sale_id = ?", saleID).Order("id").Find(&locked.Items).Error; err != nil {
			return apperr.Persistence("load sale items", err)
		}
		if err := tx.Where("sale_id = ?", saleID).Order("id").Find(&locked.Payments).Error; err != nil {
			return apperr.Persistence("load payments", err)
		}
		if err := validateFinalPrice(locked.SaleType, in.FinalPrice); err != nil {
			return err
		}

		oldCustomer := locked.CustomerID
		newCustomer := oldCustomer
		if in.CustomerID != nil && (oldCustomer == nil || *oldCustomer != *in.CustomerID) {
			if !in.rewritesPayments() {
				return apperr.Validation("customerId", "changing the customer requires resubmitting payments")
			}
			if _, err := customers.Lock(tx, *in.CustomerID); err != nil {
				return err
			}
			newCustomer = in.CustomerID
		}
		if oldCustomer != nil {
			if _, err := customers.Lock(tx, *oldCustomer); err != nil {
				return err
			}
		}

		// 2. A QR issued for the old cart must never be confirmed
		var err error
		voided, err = payments.FailPendingForSale(tx, saleID, payments.ReasonSaleEdited)
		if err != nil {
			return err
		}

		// 3. Apply per-product stock deltas
		oldQty := map[uint]decimal.Decimal{}
		oldPrice := map[uint]decimal.Decimal{}
		var oldOrder []uint
		for _, item := range locked.Items {
			if _, seen := oldQty[item.ProductID]; !seen {
				oldOrder = append(oldOrder, item.ProductID)
				oldQty[item.ProductID] = decimal.Zero
				oldPrice[item.ProductID] = item.Price
			}
			oldQty[item.ProductID] = oldQty[item.ProductID].Add(item.Quantity)
		}

		mv := inventory.Movement{Reason: inventory.ReasonSaleEdit, SaleID: &locked.ID, UserID: in.UserID}
		cart := mergeCart(in.Items)
		inCart := map[uint]bool{}
		total := decimal.Zero
		items := make([]models.SaleItem, 0, len(cart))

		for _, line := range cart {
			inCart[line.productID] = true
			before, kept := oldQty[line.productID]
			delta := line.quantity.Sub(before)

			var (
				product *models.Product
				err     error
			)
			if kept && !delta.IsPositive() {
				product, err = lockProduct(tx, line.productID)
			} else {
				product, err = inventory.LoadForSale(tx, line.productID)
			}
			if err != nil {
				return err
			}
			if err := inventory.CheckQuantity(product, line.quantity); err != nil {
				return err
			}
			if err := inventory.Apply(tx, product.ID, delta.Neg(), mv); err != nil {
				return err
			}

			price := product.PriceFor(locked.SaleType)
			if kept {
				price = oldPrice[line.productID]
			}
			item := lineItem(product, line.quantity, price)
			item.SaleID = locked.ID
			total = total.Add(item.Subtotal)
			items = append(items, item)
		}
		for _, productID := range oldOrder {
			if inCart[productID] {
				continue
			}
			if err := inventory.Apply(tx, productID, oldQty[productID], mv); err != nil {
				return err
			}
		}

		// 4. Discount: a new final price wins, otherwise the old discount
		// stays as long as it still fits the new total.
		discount := locked.DiscountAmount
		reason := locked.DiscountReason
		if in.FinalPrice.Valid {
			discount, err = discountFor(locked.SaleType, in.FinalPrice, total)
			if err != nil {
				return err
			}
			reason = in.DiscountReason
		} else if discount.GreaterThan(total) {
			return apperr.Validation("finalPrice", "existing discount %s exceeds the new total %s; send a new finalPrice",
				discount.StringFixed(2), total.StringFixed(2))
		}
		if !discount.IsPositive() {
			reason = ""
		}

		// 5. Rewrite items and header
		if err := tx.Where("sale_id = ?", locked.ID).Delete(&models.SaleItem{}).Error; err != nil {
			return apperr.Persistence("delete sale items", err)
		}
		if err := tx.Create(&items).Error; err != nil {
			return apperr.Persistence("create sale items", err)
		}
		err = tx.Model(&models.Sale{}).Where("id = ?", locked.ID).Updates(map[string]any{
			"total_amount":    total,
			"discount_amount": discount,
			"discount_reason": reason,
			"customer_id":     newCustomer,
		}).Error
		if err != nil {
			return apperr.Persistence("update sale", err)
		}
		locked.TotalAmount = total
		locked.DiscountAmount = discount
		locked.CustomerID = newCustomer

		// 6. Rewrite payments when asked to
		if in.rewritesPayments() {
			for _, p := range locked.Payments {
				if p.Status != models.PaymentCompleted || p.PaymentMethod != models.PaymentDebt || oldCustomer == nil {
					continue
				}
				if _, err := customers.ReverseDebt(tx, *oldCustomer, p.Amount, locked.ID, in.UserID); err != nil {
					return err
				}
			}
			err := tx.Where("sale_id = ? AND status = ?", locked.ID, models.PaymentCompleted).
				Delete(&models.Payment{}).Error
			if err != nil {
				return apperr.Persistence("delete payments", err)
			}

			plan, err := payments.Plan(in.PaymentMethod, in.Payments, locked.PayableAmount(), newCustomer)
			if err != nil {
				return err
			}
			newRows, err = payments.Record(tx, &locked, plan, in.UserID)
			if err != nil {
				return err
			}
		}

		if newCustomer != nil {
			if err := customers.RecordPurchase(tx, *newCustomer, locked.PayableAmount(), locked.SaleDate); err != nil {
				return err
			}
		}

		sale, err = loadSale(tx, locked.ID)
		return err
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "sale edit rolled back")
		return nil, e.failed(ctx, apperr.Classify("edit sale", err))
	}

	e.cache.Invalidate(ctx)
	for _, p := range voided {
		events.PublishOrLog(ctx, e.publisher, events.Event{
			Type:      events.TypePaymentFailed,
			SaleID:    p.SaleID,
			PaymentID: p.ID,
			Method:    string(p.PaymentMethod),
			Amount:    p.Amount,
			Reason:    p.FailureReason,
		})
	}

	result := &Result{Sale: sale}
	qr, qrErr := e.payments.AfterCommit(ctx, newRows)
	result.PaymentQR = qr
	if qrErr != nil {
		result.PaymentError = apperr.PublicMessage(qrErr) + "; the sale is saved and the QR can be reissued"
	}
	result.Settlement = sale.Settlement()

	events.PublishOrLog(ctx, e.publisher, events.Event{
		Type:       events.TypeSaleEdited,
		SaleID:     sale.ID,
		CustomerID: derefUint(sale.CustomerID),
		Amount:     sale.PayableAmount(),
	})
	logger.Info(ctx).
		Uint("sale_id", sale.ID).
		Uint("user_id", in.UserID).
		Str("total", sale.TotalAmount.String()).
		Int("voided_payments", len(voided)).
		Bool("payments_rewritten", in.rewritesPayments()).
		Msg("Sale edited")

	return result, nil
}

func lockProduct(tx *gorm.DB, id uint) (*models.Product, error) {
	var p models.Product
	if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).First(&p, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperr.NotFound("product", id)
		}
		return nil, apperr.Persistence("load product", err)
	}
	return &p, nil
}
