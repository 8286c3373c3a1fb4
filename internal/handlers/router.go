package handlers

import (
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"go-pos-ledger/internal/auth"
	"go-pos-ledger/internal/cache"
	"go-pos-ledger/internal/metrics"
	"go-pos-ledger/internal/middleware"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
)

type RouterConfig struct {
	CORSOrigins    []string
	MetricsEnabled bool
	ProductCache   *cache.ProductCache
	// WebDir holds the built frontend; the SPA fallback is skipped when empty.
	WebDir string
}

func NewRouter(h *Handler, cfg RouterConfig) *gin.Engine {
	if len(cfg.CORSOrigins) == 0 {
		cfg.CORSOrigins = []string{"http://localhost:5173"}
	}

	r := gin.New()
	r.Use(gin.Recovery(), middleware.RequestLogger())
	if cfg.MetricsEnabled {
		r.Use(metrics.Middleware())
		r.GET("/metrics", metrics.Handler())
	}

	r.Use(cors.New(cors.Config{
		AllowOrigins:     cfg.CORSOrigins,
		AllowMethods:     []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Authorization", middleware.RequestIDHeader},
		ExposeHeaders:    []string{"Content-Length", "X-Cache", middleware.RequestIDHeader},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}))

	r.GET("/health", func(c *gin.Context) { c.JSON(http.StatusOK, gin.H{"status": "online"}) })
	r.POST("/login", h.Login)
	if h.allowRegistration {
		r.POST("/register", h.Register)
	}
	r.Static("/uploads", h.uploadDir)

	// The gateway has no staff token; the body signature authenticates it.
	r.POST("/api/payments/webhook", h.PaymentWebhook)

	// --- PROTECTED ROUTES ---
	api := r.Group("/api")
	api.Use(middleware.AuthMiddleware(h.issuer))
	{
		products := api.Group("/products")
		products.Use(cfg.ProductCache.Middleware())
		products.GET("", h.GetProducts)
		products.GET("/low-stock", h.GetLowStock)
		products.GET("/:id", h.GetProduct)

		api.POST("/sales", h.CreateSale)
		api.GET("/sales", h.ListSales)
		api.GET("/sales/:id", h.GetSale)
		api.PUT("/sales/:id", h.EditSale)

		api.POST("/payments/initiatePayment", h.InitiatePayment)
		api.GET("/payments", h.ListPayments)
		api.POST("/payments/:id/confirm", h.ConfirmPayment)
		api.POST("/payments/:id/fail", h.FailPayment)

		api.GET("/customers", h.ListCustomers)
		api.POST("/customers", h.CreateCustomer)
		api.GET("/customers/:id", h.GetCustomer)
		api.PUT("/customers/debt/:id", h.PayDebt)

		// ADMIN ONLY
		admin := api.Group("")
		admin.Use(middleware.RequireRole(auth.RoleAdmin))
		{
			admin.POST("/products", h.AddProduct)
			admin.PUT("/products/:id", h.UpdateProduct)
			admin.DELETE("/products/:id", h.DeleteProduct)
			admin.POST("/stock-entries", h.ReceiveStock)
			admin.POST("/upload", h.UploadImage)
			admin.GET("/reports", h.GetSalesReport)
			admin.GET("/reports/valuation", h.GetStockValuation)
			admin.POST("/ask", h.AskAI)
		}
	}

	// SPA catch-all: unknown non-API paths serve index.html so the
	// frontend router can take over.
	r.NoRoute(func(c *gin.Context) {
		if cfg.WebDir == "" || strings.HasPrefix(c.Request.URL.Path, "/api/") {
			c.JSON(http.StatusNotFound, gin.H{"error": "Not found"})
			return
		}
		asset := filepath.Join(cfg.WebDir, filepath.Clean("/"+c.Request.URL.Path))
		if info, err := os.Stat(asset); err == nil && !info.IsDir() {
			c.File(asset)
			return
		}
		c.File(filepath.Join(cfg.WebDir, "index.html"))
	})

	return r
}
