package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"strings"

	"github.com/go-redis/redis/v8"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/robfig/cron/v3"
	"golang.org/x/sync/errgroup"

	"github.com/platinummonkey/hrm/pkg/api"
	"github.com/platinummonkey/hrm/pkg/async"
	"github.com/platinummonkey/hrm/pkg/audit"
	"github.com/platinummonkey/hrm/pkg/auth"
	"github.com/platinummonkey/hrm/pkg/config"
	"github.com/platinummonkey/hrm/pkg/database"
	"github.com/platinummonkey/hrm/pkg/httputil"
	"github.com/platinummonkey/hrm/pkg/mail"
	"github.com/platinummonkey/hrm/pkg/middleware"
	"github.com/platinummonkey/hrm/pkg/observability"
	"github.com/platinummonkey/hrm/pkg/rbac"
	"github.com/platinummonkey/hrm/pkg/users"
)

var version = "dev"

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.LoadConfig()
	if err != nil {
		return err
	}

	logger := observability.NewLogger(cfg.Observability.LogLevel, os.Stdout).
		WithField("service", cfg.Observability.OTelServiceName)
	ctx := context.Background()

	otelProviders, err := observability.InitOTel(ctx, observability.OTelConfig{
		Enabled:        cfg.Observability.OTelEnabled,
		Endpoint:       cfg.Observability.OTelEndpoint,
		ServiceName:    cfg.Observability.OTelServiceName,
		ServiceVersion: cfg.Observability.OTelServiceVersion,
		Insecure:       cfg.Observability.OTelInsecure,
	}, logger)
	if err != nil {
		return fmt.Errorf("failed to initialize OpenTelemetry: %w", err)
	}

	db, err := database.Open(ctx, cfg.Database)
	if err != nil {
		return err
	}
	logger.Info("Connected to PostgreSQL")

	if cfg.Database.MigrateOnStart {
		if err := database.Migrate(ctx, db); err != nil {
			db.Close()
			return err
		}
		if v, err := database.Version(ctx, db); err == nil {
			logger.WithField("version", v).Info("Database schema up to date")
		}
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	metrics := observability.NewMetrics(registry)

	var redisClient *redis.Client
	if cfg.RateLimit.RedisURL != "" {
		opts, err := redis.ParseURL(cfg.RateLimit.RedisURL)
		if err != nil {
			db.Close()
			return fmt.Errorf("invalid redis URL: %w", err)
		}
		redisClient = redis.NewClient(opts)
		if err := redisClient.Ping(ctx).Err(); err != nil {
			// Limits fall back to memory until Redis answers
			logger.WithError(err).Warn("Redis unavailable at startup")
		}
	}

	var mailer mail.Mailer
	if cfg.Mail.SMTPHost != "" {
		mailer, err = mail.NewSMTPMailer(mail.SMTPConfig{
			Host:     cfg.Mail.SMTPHost,
			Port:     cfg.Mail.SMTPPort,
			Username: cfg.Mail.SMTPUsername,
			Password: cfg.Mail.SMTPPassword,
			From:     cfg.Mail.From,
		})
		if err != nil {
			db.Close()
			return err
		}
	} else {
		logger.Warn("SMTP is not configured, mails are logged instead of sent")
		mailer = mail.NewLogMailer(logger)
	}

	tokens, err := auth.NewTokenIssuer([]byte(cfg.Auth.JWTSecret),
		auth.WithIssuer(cfg.Auth.Issuer),
		auth.WithSessionTTL(cfg.Auth.SessionTTL),
		auth.WithVerificationTTL(cfg.Auth.VerificationTTL),
	)
	if err != nil {
		db.Close()
		return err
	}
	trustedProxies, err := httputil.ParseTrustedProxies(cfg.Server.TrustedProxies)
	if err != nil {
		db.Close()
		return err
	}

	userStore := users.NewStore(db)
	roleStore := rbac.NewStore(db)

	checkerOpts := []rbac.CheckerOption{rbac.WithDecisionCounter(metrics.AuthzDecisionsTotal)}
	if cfg.Auth.AuthzCacheTTL > 0 {
		logger.WithField("ttl", cfg.Auth.AuthzCacheTTL.String()).
			Warn("Authorization snapshot cache enabled, role and status changes may take up to the TTL to apply")
		checkerOpts = append(checkerOpts, rbac.WithSnapshotCache(cfg.Auth.AuthzCacheSize, cfg.Auth.AuthzCacheTTL))
	}
	checker := rbac.NewChecker(userStore, roleStore, checkerOpts...)

	authn := middleware.NewAuthenticator(tokens, userStore, roleStore,
		middleware.WithTokenSources(
			middleware.BearerHeader(),
			middleware.CookieSource(cfg.Auth.CookieName),
			middleware.CookieSource("tokenUser"),
		),
		middleware.WithFailureCounter(metrics.AuthnFailuresTotal),
		middleware.WithAuthLogger(logger),
	)

	auditStore := audit.NewStore(db)
	auditPool := async.NewPool("audit", 2, 256, logger, async.WithTaskCounter(metrics.AsyncTasksTotal))
	var auditLogger audit.Logger
	var auditEvents *audit.Handlers
	if cfg.Audit.Enabled {
		auditLogger = audit.NewAsyncLogger(auditStore, auditPool)
		auditEvents = audit.NewHandlers(auditStore)
	}

	limitCtx, stopLimits := context.WithCancel(ctx)
	defer stopLimits()
	newLimit := func(name string) *middleware.RateLimitMiddleware {
		limitCfg := &middleware.RateLimitConfig{
			RequestsPerWindow: cfg.RateLimit.RequestsPerWindow,
			WindowDuration:    cfg.RateLimit.Window,
		}
		memory := middleware.NewRateLimiter(limitCfg)
		memory.StartCleanup(limitCtx)
		counter := middleware.WithRateLimitedCounter(metrics.RateLimitedTotal)
		if redisClient == nil {
			return middleware.NewRateLimitMiddleware(name, memory, counter)
		}
		distributed := middleware.NewDistributedRateLimiter(redisClient, limitCfg, "hrm:ratelimit")
		return middleware.NewRateLimitMiddleware(name, distributed, counter, middleware.WithFallback(memory))
	}

	resetCfg := &middleware.RateLimitConfig{
		RequestsPerWindow: cfg.RateLimit.ResetAttemptsPerEmail,
		WindowDuration:    cfg.RateLimit.Window,
	}
	resetMemory := middleware.NewRateLimiter(resetCfg)
	resetMemory.StartCleanup(limitCtx)
	var resetAttempts middleware.Limiter = resetMemory
	if redisClient != nil {
		resetAttempts = middleware.FallbackLimiter{
			Primary:  middleware.NewDistributedRateLimiter(redisClient, resetCfg, "hrm:attempts"),
			Fallback: resetMemory,
		}
	}

	service := users.NewService(userStore, roleStore, tokens, mailer, users.Config{
		AppOrigin: cfg.Auth.AppOrigin,
		VerifyURL: cfg.Auth.PublicURL + "/api/auth/verify",
		OTPTTL:    cfg.Auth.OTPTTL,
		InviteTTL: cfg.Auth.InviteTTL,
	}, users.WithLoginCounter(metrics.LoginAttemptsTotal),
		users.WithAuditLogger(auditLogger),
		users.WithResetAttemptLimiter(resetAttempts))

	server := api.NewServer(api.Config{
		AllowedOrigins: splitOrigins(cfg.Auth.AppOrigin),
		MaxBodyBytes:   cfg.Server.MaxBodyBytes,
		TrustedProxies: trustedProxies,
	}, api.Deps{
		Users: users.NewHandlers(service, users.CookieConfig{
			Name:      cfg.Auth.CookieName,
			AppOrigin: cfg.Auth.AppOrigin,
			MaxAge:    cfg.Auth.SessionTTL,
		}, checker),
		Roles: rbac.NewHandlers(roleStore, checker),
		Authn: authn,
		Authz: rbac.NewAuthorizer(checker),
		RateLimits: api.RateLimits{
			Login:  newLimit("login"),
			Forgot: newLimit("forgot_password"),
			Reset:  newLimit("reset_password"),
		},
		Logger:      logger,
		Metrics:     metrics,
		Audit:       auditLogger,
		AuditEvents: auditEvents,
	})

	var opsRegistry *prometheus.Registry
	if cfg.Observability.MetricsEnabled {
		opsRegistry = registry
	}
	health := observability.NewHealthChecker(db, redisClient, version)
	if cfg.Audit.Enabled {
		health.WithBacklog("audit_queue", auditPool)
	}

	apiServer := &http.Server{
		Addr:         net.JoinHostPort(cfg.Server.Host, cfg.Server.Port),
		Handler:      server,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}
	opsServer := &http.Server{
		Addr:         net.JoinHostPort(cfg.Server.Host, cfg.Server.HealthPort),
		Handler:      api.NewOpsRouter(health, opsRegistry),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	scheduler := cron.New(cron.WithChain(
		cron.Recover(cron.PrintfLogger(logger.Logrus())),
		cron.SkipIfStillRunning(cron.PrintfLogger(logger.Logrus())),
	))
	cleanup := users.NewCleanupJob(service, logger, metrics.CleanupRunsTotal, metrics.CleanupRowsCleared)
	if _, err := users.ScheduleCleanup(scheduler, cfg.Auth.CleanupCron, cleanup); err != nil {
		db.Close()
		return fmt.Errorf("invalid cleanup schedule %q: %w", cfg.Auth.CleanupCron, err)
	}
	retention := audit.NewRetentionJob(auditStore, cfg.Audit.Retention, logger)
	if _, err := audit.ScheduleRetention(scheduler, cfg.Audit.RetentionCron, retention); err != nil {
		db.Close()
		return fmt.Errorf("invalid audit retention schedule %q: %w", cfg.Audit.RetentionCron, err)
	}
	if _, err := scheduler.AddFunc("@every 15s", func() { metrics.RecordDBStats(db) }); err != nil {
		db.Close()
		return err
	}
	scheduler.Start()

	shutdown := observability.NewShutdownManager(logger, cfg.Server.ShutdownTimeout, apiServer, opsServer)
	shutdown.RegisterShutdownFunc("database", func(context.Context) error {
		return db.Close()
	})
	// Drains before the database closes
	shutdown.RegisterShutdownFunc("audit", auditPool.Shutdown)
	if redisClient != nil {
		shutdown.RegisterShutdownFunc("redis", func(context.Context) error {
			return redisClient.Close()
		})
	}
	shutdown.RegisterShutdownFunc("opentelemetry", func(ctx context.Context) error {
		return observability.ShutdownOTel(ctx, otelProviders, logger)
	})
	shutdown.RegisterShutdownFunc("scheduler", func(ctx context.Context) error {
		select {
		case <-scheduler.Stop().Done():
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	})

	g, gctx := errgroup.WithContext(ctx)
	for _, srv := range []*http.Server{apiServer, opsServer} {
		g.Go(func() error {
			logger.Infof("Listening on %s", srv.Addr)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("server %s: %w", srv.Addr, err)
			}
			return nil
		})
	}
	g.Go(func() error {
		return shutdown.WaitForShutdown(gctx)
	})

	return g.Wait()
}

func splitOrigins(origins string) []string {
	var out []string
	for _, origin := range strings.Split(origins, ",") {
		if origin = strings.TrimRight(strings.TrimSpace(origin), "/"); origin != "" {
			out = append(out, origin)
		}
	}
	return out
}
