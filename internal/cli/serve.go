package cli

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/spf13/cobra"

	"github.com/sembalun/guard/internal/auth"
	"github.com/sembalun/guard/internal/background"
	"github.com/sembalun/guard/internal/clock"
	"github.com/sembalun/guard/internal/config"
	"github.com/sembalun/guard/internal/database"
	"github.com/sembalun/guard/internal/handlers"
	"github.com/sembalun/guard/internal/middleware"
	"github.com/sembalun/guard/internal/models"
	"github.com/sembalun/guard/internal/repositories"
	"github.com/sembalun/guard/internal/routes"
	"github.com/sembalun/guard/internal/services"
	pkgauth "github.com/sembalun/guard/pkg/auth"
	pkghttp "github.com/sembalun/guard/pkg/http"
)

func newServeCmd() *cobra.Command {
	var shutdownTimeout time.Duration

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP API",
		Long: `Starts the HTTP API.

Endpoints:
  POST   /auth/login                 Sign in, opens a session
  POST   /auth/register              Create an account
  POST   /auth/logout                Close the current session
  POST   /auth/logout-all            Close every session of the caller
  GET    /sessions                   List the caller's sessions
  DELETE /sessions/{id}              Revoke one of the caller's sessions
  POST   /audit/events               Report a client-side security event
  GET    /admin/audit/recent         Newest audit entries
  GET    /admin/audit/alerts         High and critical entries (?source=archive)
  GET    /admin/audit/users/{id}     A user's audit trail (?source=archive)
  GET    /admin/users/{id}/sessions  A user's sessions
  DELETE /admin/users/{id}/sessions  Sign a user out everywhere
  DELETE /admin/rate-limits/{key}    Clear a login throttle
  GET    /health                     Liveness and dependency check`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return fmt.Errorf("load configuration: %w", err)
			}
			return serve(cmd.Context(), cfg, shutdownTimeout)
		},
	}

	cmd.Flags().DurationVar(&shutdownTimeout, "shutdown-timeout", 30*time.Second, "grace period for in-flight requests on shutdown")

	return cmd
}

func serve(parent context.Context, cfg *config.Config, shutdownTimeout time.Duration) error {
	if parent == nil {
		parent = context.Background()
	}
	logger := newLogger(cfg.Server.LogLevel)
	slog.SetDefault(logger)
	logger.Info("configuration loaded", slog.String("env", cfg.Server.Env))

	db, err := database.NewConnection(&cfg.Database, logger)
	if err != nil {
		return fmt.Errorf("connect to database: %w", err)
	}
	defer db.Close()

	if cfg.Database.AutoMigrate {
		migrateCtx, cancel := context.WithTimeout(parent, time.Minute)
		err := db.Migrate(migrateCtx)
		cancel()
		if err != nil {
			return err
		}
	}

	clk := clock.NewRealClock()
	checks := map[string]handlers.Pinger{"database": db}

	var rateStore services.RateLimitStore
	switch cfg.RateLimit.Backend {
	case "redis":
		redisStore, err := repositories.NewRedisRateLimitRepository(parent, repositories.RedisConfig{
			Addr:     cfg.RateLimit.RedisAddr,
			Password: cfg.RateLimit.RedisPassword,
			DB:       cfg.RateLimit.RedisDB,
		})
		if err != nil {
			return fmt.Errorf("connect to redis: %w", err)
		}
		defer redisStore.Close()
		rateStore = redisStore
		checks["redis"] = redisStore
	default:
		rateStore = repositories.NewMemoryRateLimitRepository()
	}
	logger.Info("rate limit backend ready", slog.String("backend", cfg.RateLimit.Backend))

	var archive services.AuditArchive
	if cfg.Audit.ArchiveEnabled {
		archive = repositories.NewAuditArchiveRepository(db)
	}

	alertMin, err := models.ParseSeverity(cfg.Alert.MinSeverity)
	if err != nil {
		return fmt.Errorf("ALERT_MIN_SEVERITY: %w", err)
	}

	var notifier services.AlertNotifier
	if cfg.Alert.Enabled() {
		ses, err := services.NewSESAlertNotifier(parent, cfg.Alert.AWSRegion, cfg.Alert.EmailFrom, cfg.Alert.EmailTo, logger)
		if err != nil {
			return fmt.Errorf("initialize alert notifier: %w", err)
		}
		notifier = ses
		logger.Info("security alert e-mails enabled", slog.String("min_severity", alertMin.String()))
	}

	userRepo := repositories.NewUserRepository(db)
	limiter := services.NewRateLimiter(rateStore, clk, logger)
	sessions := services.NewSessionSecurity(repositories.NewSessionRepository(), models.SessionPolicy{
		MaxDuration: cfg.Security.SessionMaxDuration,
		MaxIdleTime: cfg.Security.SessionMaxIdle,
	}, clk, logger)
	audit := services.NewSecurityAuditLogger(
		repositories.NewAuditLogRepository(cfg.Audit.Capacity),
		archive,
		notifier,
		services.AuditLoggerConfig{Retention: cfg.Audit.Retention, AlertMinSeverity: alertMin},
		clk,
		logger,
	)
	tokens := auth.NewTokenManager(cfg.Auth.JWTSecret, cfg.Auth.AccessTokenExpiry, clk)

	authService := services.NewAuthService(services.AuthServiceDeps{
		Users:    userRepo,
		Hasher:   pkgauth.NewHasher(pkgauth.BcryptCost),
		Tokens:   tokens,
		Limiter:  limiter,
		Sessions: sessions,
		Audit:    audit,
		Timing: auth.NewTimingDelay(auth.TimingConfig{
			BaseDelay:   cfg.Security.TimingDelayBase,
			RandomDelay: cfg.Security.TimingDelayRandom,
		}),
		Policy: services.LoginPolicy{
			PerEmail: models.RateLimitRule{Max: cfg.Security.LoginMaxAttempts, Window: cfg.Security.LoginWindow},
			PerIP:    models.RateLimitRule{Max: cfg.Security.LoginIPMaxAttempts, Window: cfg.Security.LoginWindow},
		},
		Clock:  clk,
		Logger: logger,
	})

	bootstrapCtx, cancel := context.WithTimeout(parent, 10*time.Second)
	if err := ensureAdminUser(bootstrapCtx, userRepo, logger); err != nil {
		logger.Error("failed to ensure admin user", slog.Any("error", err))
	}
	cancel()

	ipConfig := &pkghttp.IPConfig{TrustedProxies: cfg.Server.TrustedProxies}
	cookieConfig := auth.CookieConfig{Secure: cfg.Auth.CookieSecure, SameSite: "strict"}

	router := chi.NewRouter()
	router.Use(chimiddleware.RequestID)
	router.Use(middleware.SecurityHeaders(middleware.SecurityHeadersConfig{Env: cfg.Server.Env}))
	router.Use(middleware.CORS(middleware.DefaultCORSConfig(cfg.Server.AllowedOrigins)))
	router.Use(middleware.SecureLogger(logger, ipConfig, cfg.Server.Env))
	router.Use(chimiddleware.Recoverer)
	router.Use(chimiddleware.Timeout(60 * time.Second))

	routes.RegisterRoutes(router, routes.Handlers{
		Auth:      handlers.NewAuthHandler(authService, ipConfig, cookieConfig),
		Sessions:  handlers.NewSessionHandler(sessions, audit, ipConfig),
		Audit:     handlers.NewAuditHandler(audit, ipConfig),
		RateLimit: handlers.NewRateLimitHandler(limiter, audit, ipConfig),
		Health:    handlers.NewHealthHandler(checks),
	}, auth.SessionMiddleware(tokens, sessions, audit, ipConfig), middleware.DefaultRateLimitConfig(ipConfig))

	cleanupManager := background.NewCleanupManager(logger, cfg.Security.CleanupInterval,
		background.Task{Name: "rate_limits", Sweeper: limiter},
		background.Task{Name: "sessions", Sweeper: sessions},
		background.Task{Name: "audit_log", Sweeper: audit},
	)

	server := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer stop()

	cleanupCtx, cleanupCancel := context.WithCancel(ctx)
	defer cleanupCancel()
	go cleanupManager.Start(cleanupCtx)

	errCh := make(chan error, 1)
	go func() {
		logger.Info("starting server", slog.String("addr", server.Addr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		cleanupManager.Stop()
		if err != nil {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	case <-ctx.Done():
		logger.Info("shutdown signal received")
	}

	cleanupManager.Stop()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown: %w", err)
	}

	// flush pending alert notifications before the process exits
	audit.Wait()

	logger.Info("server stopped gracefully")
	return nil
}
