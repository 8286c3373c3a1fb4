package handlers

import (
	"net/http"
	"time"

	"go-pos-ledger/internal/database"
	"go-pos-ledger/internal/sales"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
)

const dateLayout = "2006-01-02"

type queryError struct {
	key string
	msg string
}

func (e *queryError) Error() string { return e.key + " " + e.msg }

func errDate(key string) error {
	return &queryError{key: key, msg: "must be a date in YYYY-MM-DD format"}
}

// ReportData defines the shape of our analytics response
type ReportData struct {
	From            time.Time            `json:"from"`
	To              time.Time            `json:"to"`
	TotalRevenue    decimal.Decimal      `json:"total_revenue"`
	TotalDiscount   decimal.Decimal      `json:"total_discount"`
	TotalOrders     int64                `json:"total_orders"`
	TopSelling      []database.TopSeller `json:"top_selling"`
	RecentSales     []sales.SaleView     `json:"recent_sales"`
	OutstandingDebt decimal.Decimal      `json:"outstanding_debt"`
	PendingPayments struct {
		Total decimal.Decimal `json:"total"`
		Count int64           `json:"count"`
	} `json:"pending_payments"`
}

// --- GET: /api/reports?from=&to= ---
// Without a range the report covers all time.
func (h *Handler) GetSalesReport(c *gin.Context) {
	from := time.Unix(0, 0).UTC()
	to := time.Now().UTC()
	if v := c.Query("from"); v != "" {
		t, err := time.Parse(dateLayout, v)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": errDate("from").Error()})
			return
		}
		from = t
	}
	if v := c.Query("to"); v != "" {
		t, err := time.Parse(dateLayout, v)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": errDate("to").Error()})
			return
		}
		to = t.Add(24*time.Hour - time.Nanosecond)
	}

	ctx := c.Request.Context()
	db := h.db.WithContext(ctx)
	data := ReportData{From: from, To: to}

	// 1. Revenue and order count
	summary, err := database.GetSalesReport(db, from, to)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to calculate revenue"})
		return
	}
	data.TotalRevenue = summary.TotalRevenue
	data.TotalDiscount = summary.TotalDiscount
	data.TotalOrders = summary.TotalCount

	// 2. Top 5 best sellers
	if data.TopSelling, err = database.GetTopSellers(db, from, to, 5); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to fetch top selling items"})
		return
	}

	// 3. Last 10 sales with their settlement
	if data.RecentSales, _, err = h.sales.ListSales(ctx, sales.ListFilter{From: &from, To: &to, Limit: 10}); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to fetch recent sales"})
		return
	}

	// 4. Money not yet collected
	if data.OutstandingDebt, err = database.GetOutstandingDebt(db); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to sum customer debt"})
		return
	}
	if data.PendingPayments.Total, data.PendingPayments.Count, err = database.GetPendingPayments(db); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to sum pending payments"})
		return
	}

	c.JSON(http.StatusOK, data)
}

// --- GET: /api/reports/valuation ---
// GetStockValuation calculates the total monetary value of all physical inventory
func (h *Handler) GetStockValuation(c *gin.Context) {
	valuation, err := database.GetStockValuation(h.db.WithContext(c.Request.Context()))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to fetch inventory"})
		return
	}
	c.JSON(http.StatusOK, valuation)
}
