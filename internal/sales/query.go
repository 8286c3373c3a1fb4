package sales

import (
	"context"
	"errors"
	"time"

	"go-pos-ledger/internal/apperr"
	"go-pos-ledger/internal/models"

	"gorm.io/gorm"
)

// SaleView is a sale with its derived settlement state.
type SaleView struct {
	*models.Sale
	Settlement models.Settlement `json:"settlement"`
}

func newView(s *models.Sale) SaleView {
	return SaleView{Sale: s, Settlement: s.Settlement()}
}

type ListFilter struct {
	From       *time.Time
	To         *time.Time
	CustomerID *uint
	UserID     *uint
	SaleType   models.SaleType
	Limit      int
	Offset     int
}

func withDetails(db *gorm.DB) *gorm.DB {
	return db.
		Preload("Items", func(db *gorm.DB) *gorm.DB { return db.Order("id") }).
		Preload("Payments", func(db *gorm.DB) *gorm.DB { return db.Order("id") }).
		Preload("Customer")
}

func loadSale(db *gorm.DB, id uint) (*models.Sale, error) {
	var sale models.Sale
	if err := withDetails(db).First(&sale, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperr.NotFound("sale", id)
		}
		return nil, apperr.Persistence("load sale", err)
	}
	return &sale, nil
}

func (e *Engine) GetSale(ctx context.Context, id uint) (*SaleView, error) {
	sale, err := loadSale(e.db.WithContext(ctx), id)
	if err != nil {
		return nil, err
	}
	view := newView(sale)
	return &view, nil
}

// ListSales returns sales newest first with items, payments and customer.
func (e *Engine) ListSales(ctx context.Context, f ListFilter) ([]SaleView, int64, error) {
	if f.SaleType != "" && !f.SaleType.Valid() {
		return nil, 0, apperr.Validation("saleType", "must be one of retail, wholesale, hotel")
	}
	if f.Limit <= 0 || f.Limit > 200 {
		f.Limit = 50
	}
	if f.Offset < 0 {
		f.Offset = 0
	}

	q := e.db.WithContext(ctx).Model(&models.Sale{})
	if f.From != nil {
		q = q.Where("sale_date >= ?", f.From.UTC())
	}
	if f.To != nil {
		q = q.Where("sale_date <= ?", f.To.UTC())
	}
	if f.CustomerID != nil {
		q = q.Where("customer_id = ?", *f.CustomerID)
	}
	if f.UserID != nil {
		q = q.Where("user_id = ?", *f.UserID)
	}
	if f.SaleType != "" {
		q = q.Where("sale_type = ?", f.SaleType)
	}

	q = q.Session(&gorm.Session{})

	var total int64
	if err := q.Count(&total).Error; err != nil {
		return nil, 0, apperr.Persistence("count sales", err)
	}

	var sales []models.Sale
	err := withDetails(q).
		Order("sale_date DESC, id DESC").
		Limit(f.Limit).
		Offset(f.Offset).
		Find(&sales).Error
	if err != nil {
		return nil, 0, apperr.Persistence("list sales", err)
	}

	views := make([]SaleView, len(sales))
	for i := range sales {
		views[i] = newView(&sales[i])
	}
	return views, total, nil
}
