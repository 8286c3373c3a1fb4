package handlers

import (
	"net/http"

	"go-pos-ledger/internal/customers"
	"go-pos-ledger/internal/middleware"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
)

type DebtPaymentRequest struct {
	DebtAmount decimal.Decimal `json:"debtAmount"`
}

// --- GET: /api/customers ---
func (h *Handler) ListCustomers(c *gin.Context) {
	list, err := h.customers.List(c.Request.Context(), c.Query("with_debt") == "true")
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, list)
}

// --- GET: /api/customers/:id ---
func (h *Handler) GetCustomer(c *gin.Context) {
	id, ok := paramID(c, "id")
	if !ok {
		return
	}
	detail, err := h.customers.Get(c.Request.Context(), id)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, detail)
}

// --- POST: /api/customers ---
func (h *Handler) CreateCustomer(c *gin.Context) {
	var in customers.CustomerInput
	if !bindJSON(c, &in) {
		return
	}
	customer, err := h.customers.Create(c.Request.Context(), in)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, customer)
}

// --- PUT: /api/customers/debt/:id ---
func (h *Handler) PayDebt(c *gin.Context) {
	id, ok := paramID(c, "id")
	if !ok {
		return
	}
	var req DebtPaymentRequest
	if !bindJSON(c, &req) {
		return
	}
	customer, err := h.customers.ApplyDebtPayment(c.Request.Context(), id, req.DebtAmount, middleware.UserID(c))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "Debt payment recorded", "customer": customer})
}
