package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go-pos-ledger/internal/ai"
	"go-pos-ledger/internal/auth"
	"go-pos-ledger/internal/cache"
	"go-pos-ledger/internal/customers"
	"go-pos-ledger/internal/database"
	"go-pos-ledger/internal/events"
	"go-pos-ledger/internal/handlers"
	"go-pos-ledger/internal/inventory"
	"go-pos-ledger/internal/logger"
	"go-pos-ledger/internal/payments"
	"go-pos-ledger/internal/sales"
	"go-pos-ledger/internal/tracing"
	"go-pos-ledger/internal/upi"

	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel/trace"
)

const serviceName = "pos-ledger"

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP server",
	RunE:  runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
	serveCmd.Flags().String("web-dir", "./web", "Directory of the built frontend served for unknown paths")
	serveCmd.Flags().Bool("migrate", true, "Sync the database schema before serving")
	rootCmd.Flags().AddFlagSet(serveCmd.Flags())
}

func runServe(cmd *cobra.Command, _ []string) error {
	cfg, db, err := bootstrap()
	if err != nil {
		return err
	}
	log := logger.WithComponent("server")

	webDir, _ := cmd.Flags().GetString("web-dir")
	migrate, _ := cmd.Flags().GetBool("migrate")
	if migrate {
		if err := database.Migrate(db); err != nil {
			return err
		}
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// 1. Tracing
	var tp trace.TracerProvider
	if cfg.TracingEnabled {
		tp, err = tracing.InitTracer(serviceName, cfg.JaegerEndpoint)
		if err != nil {
			log.Warn().Err(err).Msg("Tracing disabled")
		}
	}

	// 2. Event publisher
	var publisher events.Publisher = events.NopPublisher{}
	if len(cfg.KafkaBrokers) > 0 {
		kafka, err := events.NewKafkaPublisher(cfg.KafkaBrokers, cfg.KafkaTopicPrefix)
		if err != nil {
			log.Warn().Err(err).Msg("Kafka unavailable, events are not published")
		} else {
			publisher = kafka
		}
	}
	defer publisher.Close()

	// 3. Catalog cache
	productCache, err := cache.Connect(ctx, cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB, cfg.CacheTTL)
	if err != nil {
		log.Warn().Err(err).Msg("Redis unavailable, catalog cache disabled")
	}
	defer productCache.Close()

	// 4. Services
	qr, err := upi.NewQRGenerator(upi.Config{VPA: cfg.UPIID, PayeeName: cfg.UPIPayeeName, Currency: cfg.UPICurrency})
	if err != nil {
		return err
	}
	paymentSvc := payments.NewService(db, qr, publisher)
	h := handlers.New(handlers.Deps{
		DB:                db,
		Issuer:            auth.NewIssuer(cfg.JWTSecret, cfg.JWTTTL),
		Inventory:         inventory.NewService(db, productCache),
		Customers:         customers.NewService(db, publisher),
		Sales:             sales.NewEngine(db, paymentSvc, publisher, productCache),
		Payments:          paymentSvc,
		Assistant:         ai.NewAgent(db, cfg.GeminiAPIKey),
		WebhookSecret:     cfg.PaymentWebhookSecret,
		AllowRegistration: cfg.AllowRegistration,
		BaseURL:           cfg.BaseURL,
	})
	if cfg.AllowRegistration {
		log.Warn().Msg("Registration route is OPEN. Disable this in production!")
	}
	if cfg.PaymentWebhookSecret == "" {
		log.Warn().Msg("PAYMENT_WEBHOOK_SECRET is empty, webhook signatures are not checked")
	}

	// 5. Background expiry of stale UPI payments
	go paymentSvc.RunExpiry(ctx, cfg.UPIExpiryInterval, cfg.UPIPendingTTL)

	// 6. HTTP
	if !cfg.IsDevelopment() {
		gin.SetMode(gin.ReleaseMode)
	}
	router := handlers.NewRouter(h, handlers.RouterConfig{
		CORSOrigins:    cfg.CORSOrigins,
		MetricsEnabled: cfg.MetricsEnabled,
		ProductCache:   productCache,
		WebDir:         webDir,
	})

	var handler http.Handler = router
	if cfg.TracingEnabled {
		handler = otelhttp.NewHandler(router, serviceName)
	}
	srv := &http.Server{
		Addr:              ":" + cfg.HTTPPort,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info().Str("addr", srv.Addr).Str("base_url", cfg.BaseURL).Msg("Server starting")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	log.Info().Msg("Shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Server shutdown failed")
	}
	if tp != nil {
		if err := tracing.Shutdown(shutdownCtx, tp); err != nil {
			log.Error().Err(err).Msg("Tracer shutdown failed")
		}
	}
	return nil
}
