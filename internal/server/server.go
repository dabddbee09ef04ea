// Package server sets up the HTTP server with all routes
package server

import (
	"context"
	"crypto/rand"
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	_ "github.com/lib/pq" // PostgreSQL driver

	"github.com/quacklabs/paygate/internal/audit"
	"github.com/quacklabs/paygate/internal/chain"
	"github.com/quacklabs/paygate/internal/clock"
	"github.com/quacklabs/paygate/internal/config"
	"github.com/quacklabs/paygate/internal/health"
	"github.com/quacklabs/paygate/internal/logging"
	"github.com/quacklabs/paygate/internal/membase"
	"github.com/quacklabs/paygate/internal/metrics"
	"github.com/quacklabs/paygate/internal/payment"
	"github.com/quacklabs/paygate/internal/policy"
	"github.com/quacklabs/paygate/internal/ratelimit"
	"github.com/quacklabs/paygate/internal/realtime"
	"github.com/quacklabs/paygate/internal/risk"
	"github.com/quacklabs/paygate/internal/security"
	"github.com/quacklabs/paygate/internal/session"
	"github.com/quacklabs/paygate/internal/signature"
	"github.com/quacklabs/paygate/internal/validation"
	"github.com/quacklabs/paygate/internal/wei"
)

// -----------------------------------------------------------------------------
// Server
// -----------------------------------------------------------------------------

// Server wraps the HTTP server and the authorization pipeline dependencies
type Server struct {
	cfg          *config.Config
	clk          clock.Clock
	mem          membase.Store
	chainClient  *chain.Client
	signer       *signature.Service
	sessions     *session.Manager
	policyStore  *policy.Store
	tracker      *policy.DailyTracker
	engine       *policy.Engine
	assessor     *risk.Assessor
	auditLog     *audit.Service
	orchestrator *payment.Orchestrator
	settings     *security.Settings
	hub          *realtime.Hub
	healthReg    *health.Registry
	rateLimiter  *ratelimit.Limiter
	db           *sql.DB // nil if using in-memory
	router       *gin.Engine
	httpSrv      *http.Server
	logger       *slog.Logger
	cancelRunCtx context.CancelFunc // cancels background goroutines started in Run

	// Health state
	ready   atomic.Bool
	healthy atomic.Bool
}

// Option configures the server
type Option func(*Server)

// WithLogger sets a custom logger
func WithLogger(logger *slog.Logger) Option {
	return func(s *Server) {
		s.logger = logger
	}
}

// WithClock sets a custom clock (for testing)
func WithClock(clk clock.Clock) Option {
	return func(s *Server) {
		s.clk = clk
	}
}

// WithChainClient sets a custom blockchain client (for testing)
func WithChainClient(c *chain.Client) Option {
	return func(s *Server) {
		s.chainClient = c
	}
}

// WithMemStore sets a custom persistence store (for testing)
func WithMemStore(mem membase.Store) Option {
	return func(s *Server) {
		s.mem = mem
	}
}

// New creates a new server instance
func New(cfg *config.Config, opts ...Option) (*Server, error) {
	s := &Server{
		cfg:    cfg,
		clk:    clock.System{},
		logger: logging.New(cfg.LogLevel, "json"),
	}

	// Apply options first (may set clock/chain client/logger/store)
	for _, opt := range opts {
		opt(s)
	}

	// Initialize storage (Postgres if DATABASE_URL set, otherwise in-memory)
	if s.mem == nil {
		if cfg.DatabaseURL != "" {
			db, err := sql.Open("postgres", cfg.DatabaseURL)
			if err != nil {
				return nil, fmt.Errorf("failed to open database: %w", err)
			}

			// Configure connection pool
			db.SetMaxOpenConns(25)
			db.SetMaxIdleConns(5)
			db.SetConnMaxLifetime(5 * time.Minute)

			// Test connection
			if err := db.Ping(); err != nil {
				return nil, fmt.Errorf("failed to connect to database: %w", err)
			}

			s.db = db
			s.mem = membase.NewPostgresStore(db)
			s.logger.Info("using PostgreSQL storage", "url", maskDSN(cfg.DatabaseURL))
		} else {
			s.mem = membase.NewMemoryStore()
			s.logger.Info("using in-memory storage (data will not persist)")
		}
	}

	// Blockchain client. Gas estimation and balance checks degrade gracefully
	// without it, so a dial failure is a warning rather than fatal.
	if s.chainClient == nil && cfg.RPCURL != "" {
		c, err := chain.New(chain.Config{RPCURL: cfg.RPCURL, ChainID: cfg.ChainID})
		if err != nil {
			s.logger.Warn("failed to connect to RPC, gas estimation disabled", "error", err)
		} else {
			s.chainClient = c
			s.logger.Info("blockchain client connected", "chain_id", cfg.ChainID)
		}
	}

	// Signing service
	signer, err := signature.NewService(cfg.AgentKey, s.clk)
	if err != nil {
		return nil, fmt.Errorf("failed to create signing service: %w", err)
	}
	s.signer = signer
	s.logger.Info("payment signing enabled", "agent", signer.Address())

	// Sessions are ephemeral by design and always live in memory
	s.sessions = session.NewManager(
		session.NewMemorySessionStore(),
		session.NewMemoryNonceStore(),
		s.clk,
		cfg.SessionTTL,
	)

	// Policy compliance
	s.policyStore = policy.NewStore(s.mem, defaultPolicy(cfg))
	s.tracker = policy.NewDailyTracker(s.clk)
	s.engine = policy.NewEngine(s.policyStore, s.tracker)

	// Audit trail
	s.auditLog = audit.New(s.mem, s.clk)

	// Risk assessment shares the daily tracker with the policy engine so
	// frequency checks see the same usage the compliance check enforces.
	// RPC reads go through a circuit breaker.
	var riskChain risk.ChainReader
	var payChain payment.ChainReader
	if s.chainClient != nil {
		guard := newGuardedChainReader(s.chainClient)
		riskChain = guard
		payChain = guard
	}
	s.assessor = risk.NewAssessor(s.mem, riskChain, s.tracker, s.clk)

	// Realtime hub for WebSocket event streaming
	s.hub = realtime.NewHub(s.logger)

	// Orchestrator runs the full pipeline: session, policy, risk, sign, audit
	s.orchestrator = payment.NewOrchestrator(
		s.sessions,
		s.engine,
		s.assessor,
		s.signer,
		payChain,
		s.mem,
		s.auditLog,
		s.hub,
	)

	// Wallet security settings (spend caps, allow/deny lists)
	s.settings = security.NewSettings(s.clk)

	// Health checks
	s.healthReg = health.NewRegistry()
	s.registerHealthChecks()

	// Configure gin
	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}

	s.router = gin.New()
	s.setupMiddleware()
	s.setupRoutes()

	s.healthy.Store(true)

	return s, nil
}

// defaultPolicy builds the fallback policy from configured BNB amounts.
func defaultPolicy(cfg *config.Config) policy.Policy {
	p := policy.Default()
	if v, ok := wei.Parse(cfg.DefaultMaxSingleTx); ok {
		p.MaxSingleTx = v.String()
	}
	if v, ok := wei.Parse(cfg.DefaultMaxDailySpend); ok {
		p.MaxDailySpend = v.String()
	}
	if cfg.DefaultDailyTxLimit > 0 {
		p.DailyTxLimit = cfg.DefaultDailyTxLimit
	}
	return p
}

// maskDSN hides password in connection string for logging
func maskDSN(dsn string) string {
	u, err := url.Parse(dsn)
	if err != nil {
		return "***"
	}
	if u.User != nil {
		u.User = url.UserPassword(u.User.Username(), "***")
	}
	return u.String()
}

func (s *Server) registerHealthChecks() {
	if s.db != nil {
		s.healthReg.Register("database", func(ctx context.Context) health.Status {
			if err := s.db.PingContext(ctx); err != nil {
				return health.Status{Name: "database", Healthy: false, Detail: err.Error()}
			}
			return health.Status{Name: "database", Healthy: true}
		})
	}

	if s.chainClient != nil {
		s.healthReg.Register("rpc", func(ctx context.Context) health.Status {
			if _, err := s.chainClient.GetGasPrice(ctx); err != nil {
				return health.Status{Name: "rpc", Healthy: false, Detail: err.Error()}
			}
			return health.Status{Name: "rpc", Healthy: true}
		})
	}
}

// -----------------------------------------------------------------------------
// Middleware
// -----------------------------------------------------------------------------

func (s *Server) setupMiddleware() {
	// Recovery with logging
	s.router.Use(gin.CustomRecovery(func(c *gin.Context, recovered interface{}) {
		logging.L(c.Request.Context()).Error("panic recovered",
			"error", recovered,
			"path", c.Request.URL.Path,
		)
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{
			"error":   "internal_error",
			"message": "An unexpected error occurred",
		})
	}))

	// Security headers
	s.router.Use(security.HeadersMiddleware())

	// CORS (allow all origins for demo - restrict in production)
	s.router.Use(security.CORSMiddleware([]string{"*"}))

	// Request size limit (1MB)
	s.router.Use(validation.RequestSizeMiddleware(validation.MaxRequestSize))

	// Rate limiting
	s.rateLimiter = ratelimit.New(ratelimit.DefaultConfig())
	s.router.Use(s.rateLimiter.Middleware())

	// Prometheus metrics
	s.router.Use(metrics.Middleware())

	// Request ID
	s.router.Use(s.requestIDMiddleware())

	// Logging
	s.router.Use(s.loggingMiddleware())
}

func (s *Server) requestIDMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		// Check for existing request ID (from load balancer, etc.)
		requestID := c.GetHeader("X-Request-ID")
		if requestID == "" {
			requestID = generateRequestID()
		}

		// Add to context
		ctx := logging.WithRequestID(c.Request.Context(), requestID)
		ctx = logging.WithLogger(ctx, s.logger)
		c.Request = c.Request.WithContext(ctx)

		// Set response header
		c.Header("X-Request-ID", requestID)

		c.Next()
	}
}

func (s *Server) loggingMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path

		c.Next()

		latency := time.Since(start)
		status := c.Writer.Status()

		logger := logging.L(c.Request.Context())

		// Log level based on status code
		switch {
		case status >= 500:
			logger.Error("request completed",
				"method", c.Request.Method,
				"path", path,
				"status", status,
				"latency_ms", latency.Milliseconds(),
				"client_ip", c.ClientIP(),
			)
		case status >= 400:
			logger.Warn("request completed",
				"method", c.Request.Method,
				"path", path,
				"status", status,
				"latency_ms", latency.Milliseconds(),
			)
		default:
			logger.Info("request completed",
				"method", c.Request.Method,
				"path", path,
				"status", status,
				"latency_ms", latency.Milliseconds(),
			)
		}
	}
}

// -----------------------------------------------------------------------------
// Routes
// -----------------------------------------------------------------------------

func (s *Server) setupRoutes() {
	// Health & metrics endpoints
	s.router.GET("/health", s.healthHandler)
	s.router.GET("/health/live", s.livenessHandler)
	s.router.GET("/health/ready", s.readinessHandler)
	s.router.GET("/metrics", metrics.Handler())

	// WebSocket for real-time event streaming
	s.router.GET("/ws/feed", func(c *gin.Context) {
		s.hub.HandleWebSocket(c.Writer, c.Request)
	})
	s.router.GET("/ws/feed/stats", s.feedStatsHandler)

	// API info
	s.router.GET("/api", s.infoHandler)

	api := s.router.Group("/api")

	paymentHandler := payment.NewHandler(s.orchestrator)
	paymentHandler.RegisterRoutes(api.Group("/payment"))

	policyHandler := policy.NewHandler(s.policyStore, s.auditLog)
	policyHandler.RegisterRoutes(api.Group("/policy"))

	auditHandler := audit.NewHandler(s.auditLog)
	auditHandler.RegisterRoutes(api.Group("/audit"))

	securityHandler := security.NewHandler(s.settings, s.auditLog)
	securityHandler.RegisterRoutes(api.Group("/security"))
}

// -----------------------------------------------------------------------------
// Handlers
// -----------------------------------------------------------------------------

// HealthResponse for health check endpoints
type HealthResponse struct {
	Status    string          `json:"status"`
	Version   string          `json:"version"`
	Checks    []health.Status `json:"checks,omitempty"`
	Timestamp string          `json:"timestamp"`
}

func (s *Server) healthHandler(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 5*time.Second)
	defer cancel()

	healthy, checks := s.healthReg.CheckAll(ctx)

	status := "healthy"
	httpStatus := http.StatusOK
	if !healthy {
		status = "degraded"
		httpStatus = http.StatusServiceUnavailable
	}

	c.JSON(httpStatus, HealthResponse{
		Status:    status,
		Version:   "0.1.0",
		Checks:    checks,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	})
}

func (s *Server) livenessHandler(c *gin.Context) {
	if !s.healthy.Load() {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unhealthy"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "alive"})
}

func (s *Server) readinessHandler(c *gin.Context) {
	if !s.ready.Load() {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "not_ready"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ready"})
}

func (s *Server) infoHandler(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"name":        "PayGate",
		"description": "Payment authorization core for AI agents",
		"version":     "0.1.0",
		"chain_id":    s.cfg.ChainID,
		"agent":       s.signer.Address(),
		"currency":    "BNB",
	})
}

func (s *Server) feedStatsHandler(c *gin.Context) {
	c.JSON(http.StatusOK, s.hub.Stats())
}

// -----------------------------------------------------------------------------
// Lifecycle
// -----------------------------------------------------------------------------

// Run starts the HTTP server with graceful shutdown
func (s *Server) Run(ctx context.Context) error {
	// Create a cancellable context for background goroutines so Shutdown() can stop them.
	runCtx, cancel := context.WithCancel(ctx)
	s.cancelRunCtx = cancel

	s.httpSrv = &http.Server{
		Addr:              ":" + s.cfg.Port,
		Handler:           s.router,
		ReadTimeout:       10 * time.Second,
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	// Channel to catch server errors
	errChan := make(chan error, 1)

	// Start server in goroutine
	go func() {
		s.logger.Info("starting server",
			"port", s.cfg.Port,
			"agent", s.signer.Address(),
		)
		if err := s.httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errChan <- err
		}
	}()

	// Start realtime hub
	go s.hub.Run(runCtx)

	// Start DB stats collector
	if s.db != nil {
		go metrics.StartDBStatsCollector(runCtx, s.db, 15*time.Second)
	}

	// Mark as ready after brief delay for startup
	go func() {
		time.Sleep(100 * time.Millisecond)
		s.ready.Store(true)
		s.logger.Info("server ready")
	}()

	// Wait for shutdown signal or error
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errChan:
		return fmt.Errorf("server error: %w", err)
	case sig := <-sigChan:
		s.logger.Info("shutdown signal received", "signal", sig.String())
	case <-ctx.Done():
		s.logger.Info("context cancelled")
	}

	return s.Shutdown()
}

// Shutdown gracefully stops the server
func (s *Server) Shutdown() error {
	s.ready.Store(false)
	s.logger.Info("starting graceful shutdown")

	// Cancel the context for all background goroutines (hub, collectors)
	if s.cancelRunCtx != nil {
		s.cancelRunCtx()
	}

	// Give load balancers time to stop sending traffic
	time.Sleep(5 * time.Second)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := s.httpSrv.Shutdown(ctx); err != nil {
		s.logger.Error("shutdown error", "error", err)
		return err
	}

	// Stop rate limiter cleanup goroutine
	if s.rateLimiter != nil {
		s.rateLimiter.Stop()
		s.logger.Info("rate limiter stopped")
	}

	// Close RPC connection
	if s.chainClient != nil {
		if err := s.chainClient.Close(); err != nil {
			s.logger.Error("RPC close error", "error", err)
		}
	}

	// Close database connection pool
	if s.db != nil {
		if err := s.db.Close(); err != nil {
			s.logger.Error("database close error", "error", err)
		} else {
			s.logger.Info("database connection closed")
		}
	}

	s.logger.Info("server stopped")
	return nil
}

// Router returns the gin router for testing
func (s *Server) Router() *gin.Engine {
	return s.router
}

// -----------------------------------------------------------------------------
// Helpers
// -----------------------------------------------------------------------------

func generateRequestID() string {
	bytes := make([]byte, 16)
	if _, err := rand.Read(bytes); err != nil {
		// Fallback to timestamp-based ID
		return fmt.Sprintf("%d", time.Now().UnixNano())
	}
	return hex.EncodeToString(bytes)
}
