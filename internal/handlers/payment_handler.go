package handlers

import (
	"net/http"

	"go-pos-ledger/internal/apperr"
	"go-pos-ledger/internal/logger"
	"go-pos-ledger/internal/middleware"
	"go-pos-ledger/internal/payments"

	"github.com/gin-gonic/gin"
	"github.com/gin-gonic/gin/binding"
	"github.com/shopspring/decimal"
)

const SignatureHeader = "X-Signature"

type InitiatePaymentRequest struct {
	SaleID uint                `json:"saleId" binding:"required"`
	Amount decimal.NullDecimal `json:"amount"`
}

type FailPaymentRequest struct {
	Reason string `json:"reason"`
}

// --- POST: /api/payments/initiatePayment ---
func (h *Handler) InitiatePayment(c *gin.Context) {
	var req InitiatePaymentRequest
	if !bindJSON(c, &req) {
		return
	}

	payment, qr, err := h.payments.InitiatePayment(c.Request.Context(), req.SaleID, req.Amount, middleware.UserID(c))
	if err != nil {
		if payment != nil {
			// The pending payment exists; only its QR is missing.
			c.JSON(http.StatusBadGateway, gin.H{"error": apperr.PublicMessage(err), "payment": payment})
			return
		}
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"payment": payment, "paymentQR": qr})
}

// --- POST: /api/payments/webhook ---
// Called by the payment gateway, so it sits outside AuthMiddleware. When a
// webhook secret is configured the raw body must carry a valid signature.
func (h *Handler) PaymentWebhook(c *gin.Context) {
	body, err := c.GetRawData()
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Unreadable body"})
		return
	}
	if h.webhookSecret != "" && !payments.VerifySignature(h.webhookSecret, body, c.GetHeader(SignatureHeader)) {
		logger.Warn(c.Request.Context()).Str("ip", c.ClientIP()).Msg("Rejected webhook with bad signature")
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Invalid signature"})
		return
	}

	var ev payments.WebhookEvent
	if err := binding.JSON.BindBody(body, &ev); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body: " + err.Error()})
		return
	}

	result, err := h.payments.HandleWebhook(c.Request.Context(), ev)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

// --- POST: /api/payments/:id/confirm ---
func (h *Handler) ConfirmPayment(c *gin.Context) {
	id, ok := paramID(c, "id")
	if !ok {
		return
	}
	payment, err := h.payments.Confirm(c.Request.Context(), id)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, payment)
}

// --- POST: /api/payments/:id/fail ---
func (h *Handler) FailPayment(c *gin.Context) {
	id, ok := paramID(c, "id")
	if !ok {
		return
	}
	var req FailPaymentRequest
	if c.Request.ContentLength > 0 && !bindJSON(c, &req) {
		return
	}
	payment, err := h.payments.Fail(c.Request.Context(), id, req.Reason)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, payment)
}

// --- GET: /api/payments?status=pending ---
func (h *Handler) ListPayments(c *gin.Context) {
	list, err := h.payments.List(c.Request.Context(), c.Query("status"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, list)
}
