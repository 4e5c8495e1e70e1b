package main

import (
	"context"
	"database/sql"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/lib/pq"
	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"

	"github.com/gatehouse-io/gatehouse/pkg/invitations"
	"github.com/gatehouse-io/gatehouse/pkg/notify"
	"github.com/gatehouse-io/gatehouse/pkg/observability"
	"github.com/gatehouse-io/gatehouse/pkg/rbac"
	"github.com/gatehouse-io/gatehouse/pkg/users"
)

var (
	dbURL             = flag.String("db-url", getEnv("GATEHOUSE_POSTGRES_URL", "postgres://localhost/gatehouse?sslmode=disable"), "PostgreSQL connection URL")
	sweepSchedule     = flag.String("sweep-schedule", "*/5 * * * *", "Cron schedule for expired assignment and invitation sweeps (default: every 5 minutes)")
	warningSchedule   = flag.String("warning-schedule", "0 8 * * *", "Cron schedule for role expiry warnings (default: 08:00 UTC)")
	warningWindowDays = flag.Int("warning-window-days", 3, "Warn about assignments expiring within this many days")
	baseURL           = flag.String("base-url", getEnv("GATEHOUSE_BASE_URL", "http://localhost:8080"), "Public base URL used in notification links")
	logLevel          = flag.String("log-level", "info", "Log level (debug, info, warn, error)")
	runOnce           = flag.Bool("run-once", false, "Run all sweeps once and exit (for testing)")
)

func main() {
	flag.Parse()

	logger := setupLogger(*logLevel)

	db, err := sql.Open("postgres", *dbURL)
	if err != nil {
		logger.WithError(err).Fatal("failed to connect to database")
	}
	defer db.Close()

	if err := db.Ping(); err != nil {
		logger.WithError(err).Fatal("failed to ping database")
	}

	sweeper := &sweeper{
		invitations: invitations.NewStore(db),
		assignments: rbac.NewStore(db),
		users:       users.NewStore(db),
		notifier: notify.NewDispatcher(
			notify.NewLogSender(observability.NewLogger(observability.InfoLevel, os.Stdout)),
			*baseURL, nil,
		),
		warningWindow: time.Duration(*warningWindowDays) * 24 * time.Hour,
		logger:        logger,
	}

	if *runOnce {
		ctx := context.Background()
		sweeper.sweep(ctx)
		sweeper.warnExpiring(ctx)
		logger.Info("run-once sweep completed")
		return
	}

	c := cron.New()

	if _, err := c.AddFunc(*sweepSchedule, func() {
		sweeper.sweep(context.Background())
	}); err != nil {
		logger.WithError(err).Fatal("failed to schedule sweep job")
	}

	if _, err := c.AddFunc(*warningSchedule, func() {
		sweeper.warnExpiring(context.Background())
	}); err != nil {
		logger.WithError(err).Fatal("failed to schedule expiry warning job")
	}

	c.Start()
	logger.WithFields(logrus.Fields{
		"sweep_schedule":   *sweepSchedule,
		"warning_schedule": *warningSchedule,
	}).Info("gatehouse sweeper started")

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan

	logger.Info("shutting down gracefully...")
	<-c.Stop().Done()
	logger.Info("sweeper stopped")
}

type sweeper struct {
	invitations   *invitations.Store
	assignments   *rbac.Store
	users         *users.Store
	notifier      *notify.Dispatcher
	warningWindow time.Duration
	logger        *logrus.Logger
}

// sweep transitions expired pending invitations and deactivates
// expired role assignments. Both updates are conditional, so
// overlapping runs are safe.
func (s *sweeper) sweep(ctx context.Context) {
	now := time.Now().UTC()

	expired, err := s.invitations.CleanupExpired(ctx, now)
	if err != nil {
		s.logger.WithError(err).Error("invitation cleanup failed")
	} else if expired > 0 {
		s.logger.WithField("count", expired).Info("expired invitations transitioned")
	}

	swept, err := s.assignments.SweepExpired(ctx, now)
	if err != nil {
		s.logger.WithError(err).Error("assignment sweep failed")
	} else if swept > 0 {
		s.logger.WithField("count", swept).Info("expired role assignments deactivated")
	}
}

// warnExpiring emails users whose role grants lapse within the warning
// window.
func (s *sweeper) warnExpiring(ctx context.Context) {
	now := time.Now().UTC()

	expiring, err := s.assignments.ListExpiringWithin(ctx, now, s.warningWindow)
	if err != nil {
		s.logger.WithError(err).Error("failed to list expiring assignments")
		return
	}

	for _, assignment := range expiring {
		user, err := s.users.Get(ctx, assignment.UserID)
		if err != nil {
			s.logger.WithError(err).WithField("user_id", assignment.UserID).
				Warn("skipping expiry warning, user lookup failed")
			continue
		}
		role, err := s.assignments.GetRole(ctx, assignment.RoleID)
		if err != nil {
			s.logger.WithError(err).WithField("role_id", assignment.RoleID).
				Warn("skipping expiry warning, role lookup failed")
			continue
		}
		if err := s.notifier.SendRoleExpiryWarning(ctx, user.Email, assignment, role.Name); err != nil {
			s.logger.WithError(err).WithField("user_id", user.ID).
				Warn("failed to send expiry warning")
		}
	}

	if len(expiring) > 0 {
		s.logger.WithField("count", len(expiring)).Info("expiry warnings dispatched")
	}
}

func setupLogger(level string) *logrus.Logger {
	logger := logrus.New()
	logger.SetFormatter(&logrus.JSONFormatter{})
	parsed, err := logrus.ParseLevel(level)
	if err != nil {
		parsed = logrus.InfoLevel
	}
	logger.SetLevel(parsed)
	return logger
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
