package main

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/arcadian-labs/agentledger/internal/eventlog"
	"github.com/arcadian-labs/agentledger/internal/health"
	"github.com/arcadian-labs/agentledger/internal/httpapi"
	"github.com/arcadian-labs/agentledger/internal/ledger/identity"
	"github.com/arcadian-labs/agentledger/internal/ledger/names"
	"github.com/arcadian-labs/agentledger/internal/ledger/reputation"
	"github.com/arcadian-labs/agentledger/internal/webhooks"
	"github.com/arcadian-labs/agentledger/pkg/sigcheck"
)

func main() {
	logger, _ := zap.NewProduction()
	defer logger.Sync() //nolint:errcheck

	if err := run(logger); err != nil {
		logger.Fatal("registry exited with error", zap.Error(err))
	}
}

func run(logger *zap.Logger) error {
	// ── Configuration ────────────────────────────────────────────────────────
	viper.SetConfigName("registryd")
	viper.SetConfigType("yaml")
	viper.AddConfigPath("configs")
	viper.AddConfigPath(".")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	viper.SetDefault("registry.port", 8080)
	viper.SetDefault("registry.issuer_url", "")
	viper.SetDefault("registry.session_secret", "")
	viper.SetDefault("registry.session_ttl", "24h")
	viper.SetDefault("registry.cors_origins", []string{"http://localhost:3000"})
	viper.SetDefault("registry.rate_limit_rps", 20)
	viper.SetDefault("registry.probe_interval", "5m")
	viper.SetDefault("database.url", "")

	if err := viper.ReadInConfig(); err != nil {
		var cfgNotFound viper.ConfigFileNotFoundError
		if !errors.As(err, &cfgNotFound) {
			return fmt.Errorf("read config: %w", err)
		}
		logger.Warn("no config file found, using defaults and env vars")
	}

	httpPort := viper.GetInt("registry.port")
	issuerURL := viper.GetString("registry.issuer_url")
	if issuerURL == "" {
		issuerURL = fmt.Sprintf("http://localhost:%d", httpPort)
	}

	// ── Event log ────────────────────────────────────────────────────────────
	// The in-memory chain is authoritative; a Postgres mirror, when
	// configured, gives the chain durability across restarts.
	memLog := eventlog.New()
	var events eventlog.Log = memLog
	var db *pgxpool.Pool

	dbURL := viper.GetString("database.url")
	if dbURL != "" {
		var err error
		db, err = pgxpool.New(context.Background(), dbURL)
		if err != nil {
			return fmt.Errorf("connect to postgres: %w", err)
		}
		defer db.Close()
		if err := db.Ping(context.Background()); err != nil {
			return fmt.Errorf("ping postgres: %w", err)
		}
		logger.Info("connected to postgres")

		pgLog := eventlog.NewPostgresLog(db, logger)
		startCtx := context.Background()
		if err := pgLog.Verify(startCtx); err != nil {
			logger.Warn("event chain integrity check FAILED", zap.Error(err))
		} else {
			n, _ := pgLog.Len(startCtx)
			root, _ := pgLog.Root(startCtx)
			logger.Info("event chain verified", zap.Int("events", n), zap.String("root", root))
		}
		events = eventlog.Tee(memLog, pgLog, logger)
	} else {
		logger.Warn("no database.url configured; event log is in-memory only")
	}

	// ── Ledgers ──────────────────────────────────────────────────────────────
	verifier := sigcheck.New()
	idLedger := identity.New(verifier, events, logger)
	repLedger := reputation.New(idLedger, events, logger)
	resolver := names.New(idLedger, events, logger)

	// ── Sessions ─────────────────────────────────────────────────────────────
	secret := []byte(viper.GetString("registry.session_secret"))
	if len(secret) == 0 {
		// Ephemeral secret: sessions do not survive a restart.
		secret = make([]byte, 32)
		if _, err := rand.Read(secret); err != nil {
			return fmt.Errorf("generate session secret: %w", err)
		}
		logger.Warn("registry.session_secret not set; generated ephemeral secret",
			zap.String("hint", hex.EncodeToString(secret[:4])))
	}
	sessionTTL, _ := time.ParseDuration(viper.GetString("registry.session_ttl"))
	tokens := httpapi.NewTokenIssuer(secret, issuerURL, sessionTTL)

	// ── Metrics from the event stream ────────────────────────────────────────
	eventCh, cancelSub := memLog.Subscribe(256)
	defer cancelSub()
	go func() {
		for ev := range eventCh {
			httpapi.RecordEvent(ev.Type)
			httpapi.SetAgentsGauge(float64(idLedger.Total()))
		}
	}()

	// ── Webhooks ─────────────────────────────────────────────────────────────
	var hookStore webhooks.Store
	if db != nil {
		hookStore = webhooks.NewPostgresStore(db)
	} else {
		hookStore = webhooks.NewMemoryStore()
	}
	hooks := webhooks.NewService(hookStore, logger)

	hookCtx, stopHooks := context.WithCancel(context.Background())
	defer stopHooks()
	hookCh, cancelHookSub := memLog.Subscribe(256)
	defer cancelHookSub()
	go hooks.Run(hookCtx, hookCh)

	// ── Passport probing ─────────────────────────────────────────────────────
	probeInterval, _ := time.ParseDuration(viper.GetString("registry.probe_interval"))
	checker := health.New(idLedger, health.Config{Interval: probeInterval}, logger)
	if probeInterval > 0 {
		go checker.Run(hookCtx)
	} else {
		logger.Info("passport probing disabled")
	}

	// ── HTTP Router ───────────────────────────────────────────────────────────
	if os.Getenv("GIN_MODE") == "" {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()
	router.Use(gin.Recovery())

	corsOrigins := viper.GetStringSlice("registry.cors_origins")
	router.Use(cors.New(cors.Config{
		AllowOrigins:     corsOrigins,
		AllowMethods:     []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Authorization", "Accept"},
		ExposeHeaders:    []string{"Content-Length"},
		AllowCredentials: !containsWildcard(corsOrigins),
		MaxAge:           12 * time.Hour,
	}))

	// Security headers
	router.Use(func(c *gin.Context) {
		c.Header("X-Frame-Options", "DENY")
		c.Header("X-Content-Type-Options", "nosniff")
		c.Header("Referrer-Policy", "strict-origin-when-cross-origin")
		c.Next()
	})

	// Request body size limit (1 MB)
	router.Use(func(c *gin.Context) {
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, 1<<20)
		c.Next()
	})

	if rps := viper.GetInt("registry.rate_limit_rps"); rps > 0 {
		router.Use(httpapi.RateLimiter(rps, rps*2))
	}

	router.Use(httpapi.PrometheusMiddleware())
	router.Use(requestLogger(logger))

	router.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	router.GET("/metrics", httpapi.MetricsHandler())

	v1 := router.Group("/api/v1")
	authed := router.Group("/api/v1")
	authed.Use(httpapi.RequireAuth(tokens))

	httpapi.NewAuthHandler(verifier, tokens, logger).Register(v1)
	httpapi.NewAgentHandler(idLedger, logger).Register(v1, authed)
	httpapi.NewFeedbackHandler(repLedger, logger).Register(v1, authed)
	httpapi.NewNameHandler(resolver, logger).Register(v1, authed)
	httpapi.NewEventHandler(events, logger).Register(v1)
	httpapi.NewWebhookHandler(hooks, logger).Register(authed)
	httpapi.NewHealthHandler(checker).Register(v1)

	// ── Serve ────────────────────────────────────────────────────────────────
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", httpPort),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logger.Info("registry HTTP listening", zap.Int("port", httpPort))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("HTTP listen error", zap.Error(err))
		}
	}()

	<-quit
	logger.Info("shutting down registry...")

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		logger.Error("HTTP shutdown error", zap.Error(err))
	}

	logger.Info("registry stopped")
	return nil
}

// containsWildcard returns true if origins includes "*".
func containsWildcard(origins []string) bool {
	for _, o := range origins {
		if strings.TrimSpace(o) == "*" {
			return true
		}
	}
	return false
}

// requestLogger returns a Gin middleware that logs each request with zap.
func requestLogger(logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		logger.Info("request",
			zap.String("method", c.Request.Method),
			zap.String("path", c.Request.URL.Path),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("latency", time.Since(start)),
			zap.String("client_ip", c.ClientIP()),
		)
	}
}
