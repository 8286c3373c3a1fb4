package database

import (
	"time"

	"go-pos-ledger/internal/models"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// SalesReportResult is the headline figure set for a date range.
type SalesReportResult struct {
	TotalRevenue  decimal.Decimal `json:"total_revenue"`
	TotalDiscount decimal.Decimal `json:"total_discount"`
	TotalCount    int64           `json:"total_count"`
}

type TopSeller struct {
	ProductID   uint            `json:"product_id"`
	ProductName string          `json:"product_name"`
	Sold        decimal.Decimal `json:"sold"`
	Revenue     decimal.Decimal `json:"revenue"`
}

// GetSalesReport calculates sales within a specific date range.
// Revenue is the payable amount, i.e. after negotiated discounts.
func GetSalesReport(db *gorm.DB, start, end time.Time) (*SalesReportResult, error) {
	var row struct {
		Gross    decimal.Decimal
		Discount decimal.Decimal
		Orders   int64
	}

	err := db.Model(&models.Sale{}).
		Where("sale_date BETWEEN ? AND ?", start, end).
		Select("COALESCE(SUM(total_amount), 0) AS gross, COALESCE(SUM(discount_amount), 0) AS discount, COUNT(*) AS orders").
		Scan(&row).Error
	if err != nil {
		return nil, err
	}

	return &SalesReportResult{
		TotalRevenue:  row.Gross.Sub(row.Discount),
		TotalDiscount: row.Discount,
		TotalCount:    row.Orders,
	}, nil
}

// GetTopSellers ranks products by quantity sold in the range.
func GetTopSellers(db *gorm.DB, start, end time.Time, limit int) ([]TopSeller, error) {
	var out []TopSeller
	err := db.Table("sale_items").
		Select("sale_items.product_id, MAX(sale_items.product_name) AS product_name, SUM(sale_items.quantity) AS sold, SUM(sale_items.subtotal) AS revenue").
		Joins("JOIN sales ON sales.id = sale_items.sale_id").
		Where("sales.sale_date BETWEEN ? AND ?", start, end).
		Group("sale_items.product_id").
		Order("sold DESC").
		Limit(limit).
		Scan(&out).Error
	return out, err
}

// GetOutstandingDebt sums every customer's debt balance.
func GetOutstandingDebt(db *gorm.DB) (decimal.Decimal, error) {
	var row struct {
		Outstanding decimal.Decimal
	}
	err := db.Model(&models.Customer{}).
		Select("COALESCE(SUM(debt_amount), 0) AS outstanding").
		Scan(&row).Error
	return row.Outstanding, err
}

// GetPendingPayments sums pending UPI payments awaiting confirmation.
func GetPendingPayments(db *gorm.DB) (decimal.Decimal, int64, error) {
	var row struct {
		Total    decimal.Decimal
		Payments int64
	}
	err := db.Model(&models.Payment{}).
		Where("status = ?", models.PaymentPending).
		Select("COALESCE(SUM(amount), 0) AS total, COUNT(*) AS payments").
		Scan(&row).Error
	return row.Total, row.Payments, err
}

// ValuationItem is one product line of the stock valuation.
type ValuationItem struct {
	ProductID uint            `json:"product_id"`
	Name      string          `json:"name"`
	Quantity  decimal.Decimal `json:"quantity"`
	CostPrice decimal.Decimal `json:"cost_price"`
	TotalCost decimal.Decimal `json:"total_cost"`
}

// CategoryGroup represents one category table (e.g. "DRINKS").
type CategoryGroup struct {
	CategoryName string          `json:"category_name"`
	Items        []ValuationItem `json:"items"`
	Subtotal     decimal.Decimal `json:"subtotal"`
}

type StockValuation struct {
	Categories []CategoryGroup `json:"categories"`
	GrandTotal decimal.Decimal `json:"grand_total"`
}

// GetStockValuation values on-hand stock at cost price, grouped by category.
// Soft-deleted products are left out.
func GetStockValuation(db *gorm.DB) (*StockValuation, error) {
	var products []models.Product
	if err := db.Where("is_deleted = ?", false).Order("category, name").Find(&products).Error; err != nil {
		return nil, err
	}

	out := &StockValuation{Categories: []CategoryGroup{}, GrandTotal: decimal.Zero}
	index := map[string]int{}
	for _, p := range products {
		category := p.Category
		if category == "" {
			category = "Uncategorized"
		}
		i, ok := index[category]
		if !ok {
			i = len(out.Categories)
			index[category] = i
			out.Categories = append(out.Categories, CategoryGroup{CategoryName: category, Items: []ValuationItem{}, Subtotal: decimal.Zero})
		}

		stock := p.Stock.Round(3)
		itemTotal := stock.Mul(p.CostPrice).Round(2)
		group := &out.Categories[i]
		group.Items = append(group.Items, ValuationItem{
			ProductID: p.ID,
			Name:      p.Name,
			Quantity:  stock,
			CostPrice: p.CostPrice,
			TotalCost: itemTotal,
		})
		group.Subtotal = group.Subtotal.Add(itemTotal)
		out.GrandTotal = out.GrandTotal.Add(itemTotal)
	}
	return out, nil
}
