package payments

import (
	"fmt"
	"strings"
	"time"

	"go-pos-ledger/internal/apperr"
	"go-pos-ledger/internal/customers"
	"go-pos-ledger/internal/models"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// Split is one tender in a (possibly split) settlement.
type Split struct {
	Method models.PaymentMethod `json:"method"`
	Amount decimal.Decimal      `json:"amount"`
}

// NewReference returns a UPI-safe transaction reference (35 chars max).
func NewReference() string {
	return "POS" + strings.ToUpper(strings.ReplaceAll(uuid.NewString(), "-", ""))
}

// CheckMethods validates tender methods before any amounts are known.
func CheckMethods(method models.PaymentMethod, splits []Split, customerID *uint) error {
	needsCustomer := false
	if len(splits) == 0 {
		if !method.Valid() {
			return apperr.Validation("paymentMethod", "must be one of cash, card, upi, debt")
		}
		needsCustomer = method == models.PaymentDebt
	}

	upiCount := 0
	for i, sp := range splits {
		field := fmt.Sprintf("payments[%d]", i)
		if !sp.Method.Valid() {
			return apperr.Validation(field+".method", "must be one of cash, card, upi, debt")
		}
		if !sp.Amount.IsPositive() {
			return apperr.Validation(field+".amount", "must be greater than zero")
		}
		if sp.Method == models.PaymentDebt {
			needsCustomer = true
		}
		if sp.Method == models.PaymentUPI {
			upiCount++
		}
	}
	if upiCount > 1 {
		return apperr.Validation("payments", "at most one UPI payment per sale")
	}
	if needsCustomer && customerID == nil {
		return apperr.Validation("customerId", "is required for debt payments")
	}
	return nil
}

// Plan resolves the tenders for a payable amount. Without explicit splits the
// whole amount goes to method; with splits they must add up exactly.
func Plan(method models.PaymentMethod, splits []Split, payable decimal.Decimal, customerID *uint) ([]Split, error) {
	if err := CheckMethods(method, splits, customerID); err != nil {
		return nil, err
	}

	if len(splits) == 0 {
		if !payable.IsPositive() {
			return nil, nil
		}
		return []Split{{Method: method, Amount: payable}}, nil
	}

	sum := decimal.Zero
	for _, sp := range splits {
		sum = sum.Add(sp.Amount)
	}
	if !sum.Equal(payable) {
		return nil, apperr.Validation("payments", "payments total %s does not match payable amount %s",
			sum.StringFixed(2), payable.StringFixed(2))
	}
	return splits, nil
}

// Record writes the payment rows of a sale inside the sale's transaction.
// Synchronous tenders are completed at once, UPI starts pending, and debt
// tenders increment the customer's balance in the same unit of work.
func Record(tx *gorm.DB, sale *models.Sale, plan []Split, userID uint) ([]models.Payment, error) {
	if len(plan) == 0 {
		return nil, nil
	}

	now := time.Now().UTC()
	rows := make([]models.Payment, 0, len(plan))
	for _, sp := range plan {
		p := models.Payment{
			SaleID:        sale.ID,
			UserID:        userID,
			CustomerID:    sale.CustomerID,
			Amount:        sp.Amount,
			PaymentMethod: sp.Method,
			Status:        models.PaymentPending,
			Reference:     NewReference(),
		}
		if sp.Method.Synchronous() {
			p.Status = models.PaymentCompleted
			p.ConfirmedAt = &now
		}
		if sp.Method == models.PaymentDebt {
			if sale.CustomerID == nil {
				return nil, apperr.Validation("customerId", "is required for debt payments")
			}
			if _, err := customers.IncrementDebt(tx, *sale.CustomerID, sp.Amount, sale.ID, userID); err != nil {
				return nil, err
			}
		}
		rows = append(rows, p)
	}

	if err := tx.Create(&rows).Error; err != nil {
		return nil, apperr.Persistence("create payments", err)
	}
	return rows, nil
}

// FailPendingForSale marks every pending payment of a sale failed so a QR
// issued for an outdated cart can no longer be confirmed.
func FailPendingForSale(tx *gorm.DB, saleID uint, reason string) ([]models.Payment, error) {
	var pending []models.Payment
	if err := tx.Where("sale_id = ? AND status = ?", saleID, models.PaymentPending).Find(&pending).Error; err != nil {
		return nil, apperr.Persistence("load pending payments", err)
	}
	if len(pending) == 0 {
		return nil, nil
	}

	err := tx.Model(&models.Payment{}).
		Where("sale_id = ? AND status = ?", saleID, models.PaymentPending).
		Updates(map[string]any{"status": models.PaymentFailed, "failure_reason": reason}).Error
	if err != nil {
		return nil, apperr.Persistence("fail pending payments", err)
	}
	for i := range pending {
		pending[i].Status = models.PaymentFailed
		pending[i].FailureReason = reason
	}
	return pending, nil
}
