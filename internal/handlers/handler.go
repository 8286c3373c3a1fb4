package handlers

import (
	"errors"
	"net/http"
	"strconv"

	"go-pos-ledger/internal/ai"
	"go-pos-ledger/internal/apperr"
	"go-pos-ledger/internal/auth"
	"go-pos-ledger/internal/customers"
	"go-pos-ledger/internal/inventory"
	"go-pos-ledger/internal/logger"
	"go-pos-ledger/internal/payments"
	"go-pos-ledger/internal/sales"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"
)

// Handler holds the services behind the HTTP API.
type Handler struct {
	db                *gorm.DB
	issuer            *auth.Issuer
	inventory         *inventory.Service
	customers         *customers.Service
	sales             *sales.Engine
	payments          *payments.Service
	assistant         *ai.Agent
	webhookSecret     string
	allowRegistration bool
	baseURL           string
	uploadDir         string
}

type Deps struct {
	DB                *gorm.DB
	Issuer            *auth.Issuer
	Inventory         *inventory.Service
	Customers         *customers.Service
	Sales             *sales.Engine
	Payments          *payments.Service
	Assistant         *ai.Agent
	WebhookSecret     string
	AllowRegistration bool
	BaseURL           string
	UploadDir         string
}

func New(d Deps) *Handler {
	if d.UploadDir == "" {
		d.UploadDir = "./uploads"
	}
	return &Handler{
		db:                d.DB,
		issuer:            d.Issuer,
		inventory:         d.Inventory,
		customers:         d.Customers,
		sales:             d.Sales,
		payments:          d.Payments,
		assistant:         d.Assistant,
		webhookSecret:     d.WebhookSecret,
		allowRegistration: d.AllowRegistration,
		baseURL:           d.BaseURL,
		uploadDir:         d.UploadDir,
	}
}

// respondError writes {"error": ...} with the status of the error's class.
func respondError(c *gin.Context, err error) {
	status := apperr.HTTPStatus(err)
	body := gin.H{"error": apperr.PublicMessage(err)}

	var stockErr *apperr.InsufficientStockError
	if errors.As(err, &stockErr) {
		body["product_id"] = stockErr.ProductID
		body["requested"] = stockErr.Requested
		body["available"] = stockErr.Available
	}
	var validationErr *apperr.ValidationError
	if errors.As(err, &validationErr) && validationErr.Field != "" {
		body["field"] = validationErr.Field
	}

	if status >= http.StatusInternalServerError {
		logger.Error(c.Request.Context()).Err(err).Str("path", c.Request.URL.Path).Msg("Request failed")
	}
	_ = c.Error(err)
	c.AbortWithStatusJSON(status, body)
}

func paramID(c *gin.Context, name string) (uint, bool) {
	id, err := strconv.ParseUint(c.Param(name), 10, 64)
	if err != nil || id == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid " + name})
		return 0, false
	}
	return uint(id), true
}

func bindJSON(c *gin.Context, v any) bool {
	if err := c.ShouldBindJSON(v); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body: " + err.Error()})
		return false
	}
	return true
}
