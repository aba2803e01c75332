package main

import (
	"context"
	"errors"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/segyhp/loan-engine/internal/config"
	"github.com/segyhp/loan-engine/internal/lock"
	"github.com/segyhp/loan-engine/internal/logger"
	"github.com/segyhp/loan-engine/internal/metrics"
	"github.com/segyhp/loan-engine/internal/repository"
	"github.com/segyhp/loan-engine/internal/service"

	"github.com/jmoiron/sqlx"
	"github.com/joho/godotenv"
	_ "github.com/lib/pq"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

// the job lock keeps scheduler replicas from reconciling at the same time
const (
	reconcileLockKey    = "lock:job:reconcile"
	reconcileLockExpiry = 10 * time.Minute
)

func main() {
	_ = godotenv.Load()

	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	zl, err := logger.New(cfg.Logging)
	if err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer zl.Sync()
	zl = zl.Named("scheduler")
	zl.Info("Starting loan scheduler...")

	db, err := sqlx.Connect("postgres", cfg.Database.DSN())
	if err != nil {
		zl.Fatal("Failed to initialize database", zap.Error(err))
	}
	defer db.Close()
	db.SetMaxOpenConns(cfg.Database.MaxOpenConns)
	db.SetMaxIdleConns(cfg.Database.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.Database.ConnMaxLifetime)

	redisClient := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr(),
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	defer redisClient.Close()

	locker, err := lock.NewRedisLocker(redisClient, lock.Options{
		Expiry:     reconcileLockExpiry,
		Tries:      1,
		RetryDelay: cfg.Business.LoanLockRetryDelay,
	}, zl)
	if err != nil {
		zl.Fatal("Failed to initialize job locker", zap.Error(err))
	}

	reconciler := service.NewReconciler(service.Dependencies{
		UoW:     repository.NewUnitOfWork(db, cfg.Database.LockTimeout),
		Repos:   repository.NewRepos(db),
		Policy:  service.PolicyFromConfig(cfg),
		Metrics: metrics.New(prometheus.DefaultRegisterer),
		Logger:  zl,
	})

	// Initialize cron scheduler
	c := cron.New(
		cron.WithSeconds(),
		cron.WithLocation(cfg.GetSchedulerLocation()),
		cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger)),
	)

	// Schedule tasks
	if err := setupCronJobs(c, cfg, zl, locker, reconciler); err != nil {
		zl.Fatal("Failed to schedule jobs", zap.Error(err))
	}

	// Start the scheduler
	c.Start()
	zl.Info("Scheduler started successfully", zap.String("reconcile_cron", cfg.Scheduler.ReconcileCron))

	// Wait for interrupt signal to gracefully shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	zl.Info("Shutting down scheduler...")
	<-c.Stop().Done()
	zl.Info("Scheduler stopped")
}

func setupCronJobs(c *cron.Cron, cfg *config.Config, zl *zap.Logger, locker lock.Locker, reconciler *service.Reconciler) error {
	// Nightly reconciliation of disbursements against the account ledger
	_, err := c.AddFunc(cfg.Scheduler.ReconcileCron, func() {
		runReconciliation(context.Background(), zl, locker, reconciler)
	})
	return err
}

func runReconciliation(ctx context.Context, zl *zap.Logger, locker lock.Locker, reconciler *service.Reconciler) {
	err := locker.WithLock(ctx, reconcileLockKey, func(ctx context.Context) error {
		report, err := reconciler.Run(ctx)
		if err != nil {
			return err
		}

		zl.Info("Reconciliation finished",
			zap.Int("loans_checked", report.LoansChecked),
			zap.Int("discrepancies", len(report.Discrepancies)),
			zap.Duration("took", report.FinishedAt.Sub(report.StartedAt)),
		)
		return nil
	})

	switch {
	case err == nil:
	case errors.Is(err, lock.ErrNotAcquired):
		zl.Info("Reconciliation already running elsewhere, skipping")
	default:
		zl.Error("Reconciliation failed", zap.Error(err))
	}
}
