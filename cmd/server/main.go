package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	_ "github.com/joho/godotenv/autoload"
	"go.uber.org/zap"

	"africorex-crm/internal/database"
	"africorex-crm/internal/domain"
	"africorex-crm/internal/infrastructure/payment"
	"africorex-crm/internal/repo"
	"africorex-crm/internal/server"
	"africorex-crm/internal/service"
	"africorex-crm/internal/worker"
)

func main() {
	log, err := zap.NewProduction()
	if err != nil {
		panic(err)
	}
	defer log.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	db := database.NewPostgres()
	defer db.Close()

	if err := database.EnsureSchema(ctx, db); err != nil {
		log.Fatal("schema setup failed", zap.Error(err))
	}

	appURL := envOr("APP_URL", "http://localhost:8080")

	mpesa := payment.NewMpesaClient(log.Named("mpesa"), payment.MpesaConfig{
		BaseURL:        envOr("MPESA_API_BASE_URL", "https://sandbox.safaricom.co.ke"),
		ConsumerKey:    os.Getenv("MPESA_CONSUMER_KEY"),
		ConsumerSecret: os.Getenv("MPESA_CONSUMER_SECRET"),
		Passkey:        os.Getenv("MPESA_PASSKEY"),
		Shortcode:      os.Getenv("MPESA_SHORTCODE"),
		CallbackURL:    appURL + "/api/payments/mpesa/callback/" + os.Getenv("MPESA_CALLBACK_SECRET"),
	})
	flutterwave := payment.NewFlutterwaveClient(log.Named("flutterwave"), payment.FlutterwaveConfig{
		BaseURL:    envOr("FLUTTERWAVE_API_BASE_URL", "https://api.flutterwave.com/v3"),
		SecretKey:  os.Getenv("FLUTTERWAVE_SECRET_KEY"),
		SecretHash: os.Getenv("FLUTTERWAVE_SECRET_HASH"),
	})

	invoiceRepo := repo.NewInvoiceRepo(db)
	attemptRepo := repo.NewAttemptRepo(db)

	reconciler := service.NewReconcileService(log.Named("reconcile"), db, invoiceRepo, attemptRepo)
	ingestor := service.NewIngestService(log.Named("ingest"), attemptRepo, reconciler)
	initiations := service.NewInitiateService(log.Named("initiate"), invoiceRepo, attemptRepo, mpesa, flutterwave, appURL)
	invoices := service.NewInvoiceService(invoiceRepo)

	sweep := worker.NewSweepWorker(
		log.Named("sweep"),
		attemptRepo,
		ingestor,
		map[domain.Gateway]payment.StatusChecker{
			domain.GatewayMpesa:       mpesa,
			domain.GatewayFlutterwave: flutterwave,
		},
		time.Hour,
		24*time.Hour,
	)
	go sweep.Run(ctx)

	srv := server.New(
		log.Named("http"),
		server.Config{
			Addr:                ":" + envOr("PORT", "8080"),
			AllowedOrigins:      strings.Split(envOr("CORS_ORIGINS", appURL), ","),
			MpesaCallbackSecret: os.Getenv("MPESA_CALLBACK_SECRET"),
		},
		database.NewService(db),
		server.NewHMACVerifier(os.Getenv("SESSION_SECRET")),
		invoices,
		initiations,
		ingestor,
		reconciler,
		flutterwave,
	)

	httpServer := srv.HTTPServer()
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = httpServer.Shutdown(shutdownCtx)
	}()

	log.Info("server listening", zap.String("addr", httpServer.Addr))
	if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Fatal("server stopped", zap.Error(err))
	}
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
