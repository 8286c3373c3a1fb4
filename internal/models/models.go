package models

import (
	"time"

	"github.com/shopspring/decimal"
)

type SaleType string

const (
	SaleTypeRetail    SaleType = "retail"
	SaleTypeWholesale SaleType = "wholesale"
	SaleTypeHotel     SaleType = "hotel"
)

func (t SaleType) Valid() bool {
	switch t {
	case SaleTypeRetail, SaleTypeWholesale, SaleTypeHotel:
		return true
	}
	return false
}

type UnitType string

const (
	UnitPiece  UnitType = "piece"
	UnitWeight UnitType = "weight"
)

func (u UnitType) Valid() bool {
	return u == UnitPiece || u == UnitWeight
}

type User struct {
	ID           uint      `gorm:"primaryKey" json:"id"`
	Username     string    `gorm:"size:80;uniqueIndex;not null" json:"username"`
	PasswordHash string    `gorm:"not null" json:"-"`
	Role         string    `gorm:"size:20;not null;default:cashier" json:"role"`
	CreatedAt    time.Time `json:"created_at"`
}

type Product struct {
	ID                uint                `gorm:"primaryKey" json:"id"`
	Name              string              `gorm:"size:150;not null" json:"name"`
	Category          string              `gorm:"size:80;index" json:"category"`
	RetailPrice       decimal.Decimal     `gorm:"type:decimal(12,2);not null" json:"retail_price"`
	WholeSalePrice    decimal.NullDecimal `gorm:"type:decimal(12,2)" json:"wholesale_price"`
	CostPrice         decimal.Decimal     `gorm:"type:decimal(12,2);not null;default:0" json:"cost_price"`
	Stock             decimal.Decimal     `gorm:"type:decimal(14,3);not null;default:0" json:"stock"`
	UnitType          UnitType            `gorm:"size:10;not null;default:piece" json:"unit_type"`
	LowStockThreshold int                 `gorm:"not null;default:0" json:"low_stock_threshold"`
	Active            bool                `gorm:"not null;default:true" json:"active"`
	IsDeleted         bool                `gorm:"not null;default:false;index" json:"is_deleted"`
	ImageURL          string              `gorm:"size:255" json:"image_url"`
	CreatedAt         time.Time           `json:"created_at"`
	UpdatedAt         time.Time           `json:"updated_at"`
}

// PriceFor returns the unit price charged for the given sale type.
func (p *Product) PriceFor(t SaleType) decimal.Decimal {
	if t == SaleTypeWholesale && p.WholeSalePrice.Valid {
		return p.WholeSalePrice.Decimal
	}
	return p.RetailPrice
}

type Customer struct {
	ID                 uint            `gorm:"primaryKey" json:"id"`
	Name               string          `gorm:"size:120;not null" json:"name"`
	Phone              string          `gorm:"size:20;uniqueIndex;not null" json:"phone"`
	DebtAmount         decimal.Decimal `gorm:"type:decimal(12,2);not null;default:0" json:"debt_amount"`
	LastPurchaseDate   *time.Time      `json:"last_purchase_date"`
	LastPurchaseAmount decimal.Decimal `gorm:"type:decimal(12,2);not null;default:0" json:"last_purchase_amount"`
	CreatedAt          time.Time       `json:"created_at"`
	UpdatedAt          time.Time       `json:"updated_at"`
}

type Sale struct {
	ID             uint            `gorm:"primaryKey" json:"id"`
	TotalAmount    decimal.Decimal `gorm:"type:decimal(12,2);not null" json:"total_amount"`
	DiscountAmount decimal.Decimal `gorm:"type:decimal(12,2);not null;default:0" json:"discount_amount"`
	DiscountReason string          `gorm:"size:255" json:"discount_reason,omitempty"`
	UserID         uint            `gorm:"index;not null" json:"user_id"`
	CustomerID     *uint           `gorm:"index" json:"customer_id"`
	Customer       *Customer       `json:"customer,omitempty"`
	SaleType       SaleType        `gorm:"size:12;not null" json:"sale_type"`
	SaleDate       time.Time       `gorm:"index;not null" json:"sale_date"`
	Items          []SaleItem      `gorm:"foreignKey:SaleID" json:"items"`
	Payments       []Payment       `gorm:"foreignKey:SaleID" json:"payments"`
	CreatedAt      time.Time       `json:"created_at"`
	UpdatedAt      time.Time       `json:"updated_at"`
}

// PayableAmount is what the customer owes after any negotiated discount.
func (s *Sale) PayableAmount() decimal.Decimal {
	return s.TotalAmount.Sub(s.DiscountAmount)
}

// ItemsTotal sums the line subtotals.
func (s *Sale) ItemsTotal() decimal.Decimal {
	total := decimal.Zero
	for _, item := range s.Items {
		total = total.Add(item.Subtotal)
	}
	return total
}

type SaleItem struct {
	ID          uint            `gorm:"primaryKey" json:"id"`
	SaleID      uint            `gorm:"index;not null" json:"sale_id"`
	ProductID   uint            `gorm:"index;not null" json:"product_id"`
	Product     *Product        `json:"product,omitempty"`
	ProductName string          `gorm:"size:150" json:"product_name"`
	Quantity    decimal.Decimal `gorm:"type:decimal(14,3);not null" json:"quantity"`
	Price       decimal.Decimal `gorm:"type:decimal(12,2);not null" json:"price"`
	Subtotal    decimal.Decimal `gorm:"type:decimal(12,2);not null" json:"subtotal"`
}

// StockMovement records every change applied to Product.Stock.
type StockMovement struct {
	ID           uint            `gorm:"primaryKey" json:"id"`
	ProductID    uint            `gorm:"index;not null" json:"product_id"`
	Quantity     decimal.Decimal `gorm:"type:decimal(14,3);not null" json:"quantity"`
	Reason       string          `gorm:"size:20;not null" json:"reason"`
	SaleID       *uint           `gorm:"index" json:"sale_id,omitempty"`
	StockEntryID *uint           `json:"stock_entry_id,omitempty"`
	UserID       uint            `json:"user_id"`
	CreatedAt    time.Time       `json:"created_at"`
}

// StockEntry is an inbound delivery from a supplier.
type StockEntry struct {
	ID        uint            `gorm:"primaryKey" json:"id"`
	ProductID uint            `gorm:"index;not null" json:"product_id"`
	Quantity  decimal.Decimal `gorm:"type:decimal(14,3);not null" json:"quantity"`
	UnitCost  decimal.Decimal `gorm:"type:decimal(12,2);not null;default:0" json:"unit_cost"`
	Supplier  string          `gorm:"size:120" json:"supplier"`
	Note      string          `gorm:"size:255" json:"note"`
	UserID    uint            `json:"user_id"`
	CreatedAt time.Time       `json:"created_at"`
}

type DebtEntryKind string

const (
	DebtFromSale    DebtEntryKind = "sale"
	DebtPayment     DebtEntryKind = "payment"
	DebtSaleReverse DebtEntryKind = "reversal"
)

// DebtEntry is one line of a customer's debt ledger.
type DebtEntry struct {
	ID           uint            `gorm:"primaryKey" json:"id"`
	CustomerID   uint            `gorm:"index;not null" json:"customer_id"`
	Kind         DebtEntryKind   `gorm:"size:12;not null" json:"kind"`
	Amount       decimal.Decimal `gorm:"type:decimal(12,2);not null" json:"amount"`
	BalanceAfter decimal.Decimal `gorm:"type:decimal(12,2);not null" json:"balance_after"`
	SaleID       *uint           `gorm:"index" json:"sale_id,omitempty"`
	UserID       uint            `json:"user_id"`
	CreatedAt    time.Time       `json:"created_at"`
}

// All lists every persisted model in migration order.
func All() []any {
	return []any{
		&User{},
		&Product{},
		&Customer{},
		&Sale{},
		&SaleItem{},
		&Payment{},
		&StockMovement{},
		&StockEntry{},
		&DebtEntry{},
	}
}
