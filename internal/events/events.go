// Package events publishes sale and payment lifecycle events after commit.
package events

import (
	"context"
	"strings"
	"time"

	"go-pos-ledger/internal/logger"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

const (
	TypeSaleCreated            = "sale.created"
	TypeSaleEdited             = "sale.edited"
	TypePaymentCompleted       = "payment.completed"
	TypePaymentFailed          = "payment.failed"
	TypeDebtPaid               = "debt.paid"
	TypeReconciliationRequired = "reconciliation.required"
)

const (
	StreamSales          = "sales"
	StreamPayments       = "payments"
	StreamReconciliation = "reconciliation"
)

type Event struct {
	ID         string          `json:"event_id"`
	Type       string          `json:"event_type"`
	Timestamp  time.Time       `json:"timestamp"`
	SaleID     uint            `json:"sale_id,omitempty"`
	PaymentID  uint            `json:"payment_id,omitempty"`
	CustomerID uint            `json:"customer_id,omitempty"`
	Method     string          `json:"payment_method,omitempty"`
	Amount     decimal.Decimal `json:"amount"`
	Balance    decimal.Decimal `json:"balance,omitempty"`
	Reason     string          `json:"reason,omitempty"`
}

// Stream returns the topic family an event type belongs to.
func Stream(eventType string) string {
	switch {
	case strings.HasPrefix(eventType, "sale."):
		return StreamSales
	case strings.HasPrefix(eventType, "reconciliation."):
		return StreamReconciliation
	default:
		return StreamPayments
	}
}

type Publisher interface {
	Publish(ctx context.Context, event Event) error
	Close() error
}

// NopPublisher drops events. Used when no broker is configured.
type NopPublisher struct{}

func (NopPublisher) Publish(context.Context, Event) error { return nil }
func (NopPublisher) Close() error                         { return nil }

// PublishOrLog fills in event metadata and publishes. A failure is logged and
// otherwise ignored: the ledger is already committed when events go out.
func PublishOrLog(ctx context.Context, p Publisher, event Event) {
	if p == nil {
		return
	}
	if event.ID == "" {
		event.ID = uuid.NewString()
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}
	if err := p.Publish(ctx, event); err != nil {
		logger.Warn(ctx).Err(err).
			Str("event_type", event.Type).
			Uint("sale_id", event.SaleID).
			Uint("payment_id", event.PaymentID).
			Msg("Failed to publish event")
	}
}
