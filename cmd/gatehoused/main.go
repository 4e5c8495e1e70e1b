package main

import (
	"context"
	"database/sql"
	"errors"
	"flag"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/go-redis/redis/v8"
	_ "github.com/lib/pq"
	"golang.org/x/sync/errgroup"

	"github.com/gatehouse-io/gatehouse/pkg/api"
	"github.com/gatehouse-io/gatehouse/pkg/audit"
	"github.com/gatehouse-io/gatehouse/pkg/auth"
	"github.com/gatehouse-io/gatehouse/pkg/claims"
	"github.com/gatehouse-io/gatehouse/pkg/config"
	"github.com/gatehouse-io/gatehouse/pkg/invitations"
	"github.com/gatehouse-io/gatehouse/pkg/middleware"
	"github.com/gatehouse-io/gatehouse/pkg/notify"
	"github.com/gatehouse-io/gatehouse/pkg/observability"
	"github.com/gatehouse-io/gatehouse/pkg/rbac"
	"github.com/gatehouse-io/gatehouse/pkg/tenants"
	"github.com/gatehouse-io/gatehouse/pkg/users"
)

func main() {
	migrate := flag.Bool("migrate", true, "Run schema migrations on startup")
	flag.Parse()

	cfg, err := config.LoadConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	logger := observability.NewLogger(cfg.Observability.LogLevel, os.Stdout)

	if err := run(cfg, logger, *migrate); err != nil {
		logger.WithError(err).Error("server exited with error")
		os.Exit(1)
	}
}

func run(cfg *config.Config, logger *observability.Logger, migrate bool) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	db, err := sql.Open("postgres", cfg.Database.URL)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	defer db.Close()
	db.SetMaxOpenConns(cfg.Database.MaxOpenConns)
	db.SetMaxIdleConns(cfg.Database.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.Database.ConnLifetime)

	if err := db.PingContext(ctx); err != nil {
		return fmt.Errorf("failed to ping database: %w", err)
	}

	if migrate {
		if err := rbac.RunMigrations(ctx, db); err != nil {
			return fmt.Errorf("migrations failed: %w", err)
		}
		if err := rbac.InitializeBuiltInRoles(ctx, rbac.NewStore(db)); err != nil {
			return fmt.Errorf("failed to seed built-in roles: %w", err)
		}
		logger.Info("migrations applied")
	}

	var redisClient *redis.Client
	if cfg.Redis.Enabled {
		redisClient = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		defer redisClient.Close()
		if err := redisClient.Ping(ctx).Err(); err != nil {
			logger.WithError(err).Warn("redis unreachable, tenant resolution will hit the database")
		}
	}

	metrics := observability.NewMetrics()

	tenantStore := tenants.NewStore(db)
	directoryOpts := []tenants.DirectoryOption{tenants.WithLogger(logger)}
	if redisClient != nil {
		directoryOpts = append(directoryOpts, tenants.WithCache(redisClient, cfg.Redis.CacheTTL))
	}
	directory := tenants.NewDirectory(tenantStore, directoryOpts...)

	userStore := users.NewStore(db)
	rbacMgr := rbac.NewManager(rbac.NewStore(db),
		rbac.WithLogger(logger), rbac.WithMetrics(metrics))

	var sender notify.EmailSender
	if cfg.Email.Provider == "ses" {
		sender, err = notify.NewSESSender(ctx, cfg.Email.SESRegion, cfg.Email.FromAddress)
		if err != nil {
			return fmt.Errorf("failed to initialize SES sender: %w", err)
		}
	} else {
		sender = notify.NewLogSender(logger)
	}
	notifier := notify.NewDispatcher(sender, cfg.Server.BaseURL, logger)

	invService := invitations.NewService(
		invitations.NewStore(db),
		invitations.NewTokenStore(db),
		tenantStore,
		userStore,
		rbacMgr,
		notifier,
		auth.NewArgon2Hasher(auth.DefaultArgon2Params()),
		invitations.WithLogger(logger),
		invitations.WithMetrics(metrics),
		invitations.WithValidityDays(cfg.Invitations.ValidityDays),
		invitations.WithActivateOnAccept(cfg.Invitations.ActivateOnAccept),
	)

	claimsBuilder := claims.NewBuilder(tenantStore, userStore, rbac.NewStore(db),
		claims.WithMetrics(metrics))

	var resolver middleware.PrincipalResolver
	if cfg.Auth.OIDCIssuerURL != "" {
		verifier, err := auth.NewPrincipalVerifier(ctx, cfg.Auth.OIDCIssuerURL, cfg.Auth.OIDCClientID)
		if err != nil {
			return fmt.Errorf("failed to initialize OIDC verifier: %w", err)
		}
		resolver = verifier
	} else {
		logger.Warn("no OIDC issuer configured, API authentication is disabled")
	}

	server := api.NewServer(api.Dependencies{
		Tenants:     tenantStore,
		Directory:   directory,
		Users:       userStore,
		Roles:       rbacMgr,
		Invitations: invService,
		Claims:      claimsBuilder,
		Audit:       audit.NewLogger(db, logger),
		Resolver:    resolver,
		Logger:      logger,
		Metrics:     metrics,
	})

	apiServer := &http.Server{
		Addr:         net.JoinHostPort(cfg.Server.Host, cfg.Server.Port),
		Handler:      server.Handler(),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	healthMux := http.NewServeMux()
	health := observability.NewHealthChecker(db, redisClient)
	healthMux.HandleFunc("/healthz", health.Liveness)
	healthMux.HandleFunc("/readyz", health.Readiness)
	if cfg.Observability.MetricsEnabled {
		metrics.RegisterMetricsEndpoint(healthMux)
	}
	healthServer := &http.Server{
		Addr:    net.JoinHostPort(cfg.Server.Host, cfg.Server.HealthPort),
		Handler: healthMux,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.WithField("addr", apiServer.Addr).Info("API server listening")
		if err := apiServer.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		logger.WithField("addr", healthServer.Addr).Info("health server listening")
		if err := healthServer.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		logger.Info("shutting down")
		if err := apiServer.Shutdown(shutdownCtx); err != nil {
			logger.WithError(err).Warn("API server shutdown failed")
		}
		return healthServer.Shutdown(shutdownCtx)
	})

	return g.Wait()
}
