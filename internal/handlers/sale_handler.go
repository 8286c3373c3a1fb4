package handlers

import (
	"net/http"
	"strconv"
	"time"

	"go-pos-ledger/internal/middleware"
	"go-pos-ledger/internal/models"
	"go-pos-ledger/internal/payments"
	"go-pos-ledger/internal/sales"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
)

// SaleRequest is what the POS screen sends for a checkout or an edit.
type SaleRequest struct {
	Items          []sales.CartLine     `json:"items"`
	PaymentMethod  models.PaymentMethod `json:"paymentMethod"`
	Payments       []payments.Split     `json:"payments"`
	CustomerID     *uint                `json:"customerId"`
	SaleType       models.SaleType      `json:"saleType"`
	FinalPrice     decimal.NullDecimal  `json:"finalPrice"`
	DiscountReason string               `json:"discountReason"`
}

// --- POST: /api/sales ---
func (h *Handler) CreateSale(c *gin.Context) {
	var req SaleRequest
	if !bindJSON(c, &req) {
		return
	}

	result, err := h.sales.CreateSale(c.Request.Context(), sales.CreateSaleInput{
		Items:          req.Items,
		PaymentMethod:  req.PaymentMethod,
		Payments:       req.Payments,
		CustomerID:     req.CustomerID,
		SaleType:       req.SaleType,
		FinalPrice:     req.FinalPrice,
		DiscountReason: req.DiscountReason,
		UserID:         middleware.UserID(c),
	})
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, result)
}

// --- PUT: /api/sales/:id ---
func (h *Handler) EditSale(c *gin.Context) {
	id, ok := paramID(c, "id")
	if !ok {
		return
	}
	var req SaleRequest
	if !bindJSON(c, &req) {
		return
	}

	result, err := h.sales.EditSale(c.Request.Context(), id, sales.EditSaleInput{
		Items:          req.Items,
		PaymentMethod:  req.PaymentMethod,
		Payments:       req.Payments,
		CustomerID:     req.CustomerID,
		FinalPrice:     req.FinalPrice,
		DiscountReason: req.DiscountReason,
		UserID:         middleware.UserID(c),
	})
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

// --- GET: /api/sales/:id ---
func (h *Handler) GetSale(c *gin.Context) {
	id, ok := paramID(c, "id")
	if !ok {
		return
	}
	sale, err := h.sales.GetSale(c.Request.Context(), id)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, sale)
}

// --- GET: /api/sales?from=2025-01-01&to=2025-01-31&customer_id=&user_id=&sale_type=&limit=&offset= ---
func (h *Handler) ListSales(c *gin.Context) {
	filter, err := saleFilter(c)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	list, total, err := h.sales.ListSales(c.Request.Context(), filter)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"sales": list, "total": total})
}

func saleFilter(c *gin.Context) (sales.ListFilter, error) {
	var f sales.ListFilter
	var err error

	if v := c.Query("from"); v != "" {
		from, perr := time.Parse(dateLayout, v)
		if perr != nil {
			return f, errDate("from")
		}
		f.From = &from
	}
	if v := c.Query("to"); v != "" {
		to, perr := time.Parse(dateLayout, v)
		if perr != nil {
			return f, errDate("to")
		}
		to = to.Add(24*time.Hour - time.Nanosecond)
		f.To = &to
	}
	if f.CustomerID, err = optionalUint(c, "customer_id"); err != nil {
		return f, err
	}
	if f.UserID, err = optionalUint(c, "user_id"); err != nil {
		return f, err
	}
	f.SaleType = models.SaleType(c.Query("sale_type"))
	f.Limit, _ = strconv.Atoi(c.Query("limit"))
	f.Offset, _ = strconv.Atoi(c.Query("offset"))
	return f, nil
}

func optionalUint(c *gin.Context, key string) (*uint, error) {
	v := c.Query(key)
	if v == "" {
		return nil, nil
	}
	n, err := strconv.ParseUint(v, 10, 64)
	if err != nil {
		return nil, &queryError{key: key, msg: "must be a positive integer"}
	}
	id := uint(n)
	return &id, nil
}
