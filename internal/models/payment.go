package models

import (
	"time"

	"github.com/shopspring/decimal"
)

type PaymentMethod string

const (
	PaymentCash PaymentMethod = "cash"
	PaymentCard PaymentMethod = "card"
	PaymentUPI  PaymentMethod = "upi"
	PaymentDebt PaymentMethod = "debt"
)

func (m PaymentMethod) Valid() bool {
	switch m {
	case PaymentCash, PaymentCard, PaymentUPI, PaymentDebt:
		return true
	}
	return false
}

// Synchronous methods are completed at checkout; UPI waits for confirmation.
func (m PaymentMethod) Synchronous() bool {
	return m != PaymentUPI
}

type PaymentStatus string

const (
	PaymentPending   PaymentStatus = "pending"
	PaymentCompleted PaymentStatus = "completed"
	PaymentFailed    PaymentStatus = "failed"
)

type Payment struct {
	ID            uint            `gorm:"primaryKey" json:"id"`
	SaleID        uint            `gorm:"index;not null" json:"sale_id"`
	UserID        uint            `gorm:"index;not null" json:"user_id"`
	CustomerID    *uint           `gorm:"index" json:"customer_id,omitempty"`
	Amount        decimal.Decimal `gorm:"type:decimal(12,2);not null" json:"amount"`
	PaymentMethod PaymentMethod   `gorm:"size:10;not null" json:"payment_method"`
	Status        PaymentStatus   `gorm:"size:12;not null;index" json:"status"`
	Reference     string          `gorm:"size:40;uniqueIndex;not null" json:"reference"`
	FailureReason string          `gorm:"size:255" json:"failure_reason,omitempty"`
	ConfirmedAt   *time.Time      `json:"confirmed_at,omitempty"`
	CreatedAt     time.Time       `json:"created_at"`
	UpdatedAt     time.Time       `json:"updated_at"`
}

type SettlementStatus string

const (
	SettlementSettled  SettlementStatus = "settled"
	SettlementPartial  SettlementStatus = "partial"
	SettlementUnpaid   SettlementStatus = "unpaid"
	SettlementOverpaid SettlementStatus = "overpaid"
)

// Settlement summarises a sale's payments against what is payable.
// Pending payments are reported but never counted as paid.
type Settlement struct {
	Payable     decimal.Decimal  `json:"payable"`
	Paid        decimal.Decimal  `json:"paid"`
	Pending     decimal.Decimal  `json:"pending"`
	Outstanding decimal.Decimal  `json:"outstanding"`
	Status      SettlementStatus `json:"status"`
}

// Settlement derives the settlement state from the loaded payments.
func (s *Sale) Settlement() Settlement {
	st := Settlement{
		Payable: s.PayableAmount(),
		Paid:    decimal.Zero,
		Pending: decimal.Zero,
	}
	for _, p := range s.Payments {
		switch p.Status {
		case PaymentCompleted:
			st.Paid = st.Paid.Add(p.Amount)
		case PaymentPending:
			st.Pending = st.Pending.Add(p.Amount)
		}
	}
	st.Outstanding = st.Payable.Sub(st.Paid)

	switch {
	case st.Outstanding.IsZero():
		st.Status = SettlementSettled
	case st.Outstanding.IsNegative():
		st.Status = SettlementOverpaid
	case st.Paid.IsZero():
		st.Status = SettlementUnpaid
	default:
		st.Status = SettlementPartial
	}
	return st
}
