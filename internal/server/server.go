package server

import (
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"africorex-crm/internal/database"
	"africorex-crm/internal/infrastructure/payment"
	"africorex-crm/internal/service"
)

// Config holds the HTTP-layer knobs.
type Config struct {
	Addr           string
	AllowedOrigins []string

	// MpesaCallbackSecret is the shared-secret path segment baked into the
	// callback URL registered with Daraja. Callbacks without it are
	// discarded.
	MpesaCallbackSecret string
}

// Server wires the payment services into gin handlers.
type Server struct {
	log         *zap.Logger
	cfg         Config
	health      database.Service
	sessions    SessionVerifier
	invoices    *service.InvoiceService
	initiations *service.InitiateService
	ingestor    service.Ingestor
	reconciler  service.Reconciler
	flutterwave *payment.FlutterwaveClient
}

func New(
	log *zap.Logger,
	cfg Config,
	health database.Service,
	sessions SessionVerifier,
	invoices *service.InvoiceService,
	initiations *service.InitiateService,
	ingestor service.Ingestor,
	reconciler service.Reconciler,
	flutterwave *payment.FlutterwaveClient,
) *Server {
	return &Server{
		log:         log,
		cfg:         cfg,
		health:      health,
		sessions:    sessions,
		invoices:    invoices,
		initiations: initiations,
		ingestor:    ingestor,
		reconciler:  reconciler,
		flutterwave: flutterwave,
	}
}

// Routes builds the gin engine with all endpoints registered.
func (s *Server) Routes() *gin.Engine {
	engine := gin.New()
	engine.Use(gin.Recovery())

	engine.Use(cors.New(cors.Config{
		AllowOrigins:     s.cfg.AllowedOrigins,
		AllowMethods:     []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowHeaders:     []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}))

	engine.GET("/health", s.healthHandler)

	// Provider callbacks authenticate themselves; no session.
	engine.POST("/api/payments/mpesa/callback/:token", s.mpesaCallbackHandler)
	engine.POST("/api/payments/flutterwave/webhook", s.flutterwaveWebhookHandler)

	api := engine.Group("/api", s.requireSession)
	{
		api.GET("/invoices", s.listInvoicesHandler)
		api.GET("/invoices/:id", s.getInvoiceHandler)
		api.POST("/invoices", s.createInvoiceHandler)

		api.POST("/payments/mpesa/stk-push", s.mpesaInitiateHandler)
		api.POST("/payments/flutterwave/initiate", s.flutterwaveInitiateHandler)

		admin := api.Group("/admin", s.requireAdmin)
		admin.POST("/invoices/:id/reconcile", s.reconcileHandler)
	}

	return engine
}

// HTTPServer wraps the engine in an http.Server with sane timeouts.
func (s *Server) HTTPServer() *http.Server {
	return &http.Server{
		Addr:         s.cfg.Addr,
		Handler:      s.Routes(),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  time.Minute,
	}
}

func (s *Server) healthHandler(c *gin.Context) {
	c.JSON(http.StatusOK, s.health.Health())
}
