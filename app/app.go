/*
Package app wires the ledger components from configuration.

PURPOSE:
  The HTTP server and ledgerctl run the same code paths. Both call Build,
  which opens the store and assembles the Ledger, the Reconciler and the
  Scheduler with the configured jobs registered. Only the server starts
  the Scheduler.

SEE ALSO:
  - cmd/server/main.go
  - cli/root.go
*/
package app

import (
	"context"
	"fmt"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/warp/installment-ledger/config"
	"github.com/warp/installment-ledger/ledger"
	"github.com/warp/installment-ledger/reconcile"
	"github.com/warp/installment-ledger/store/sqlite"
)

// App holds the assembled components.
type App struct {
	Config     *config.Config
	Store      *sqlite.Store
	Ledger     *ledger.Ledger
	Reconciler *reconcile.Reconciler
	Scheduler  *reconcile.Scheduler
	Metrics    *reconcile.Metrics
	Log        *zap.Logger

	claims *reconcile.RedisClaimStore
}

// Build opens the database and assembles every component.
func Build(ctx context.Context, cfg *config.Config, log *zap.Logger) (*App, error) {
	if log == nil {
		log = zap.NewNop()
	}

	store, err := sqlite.New(cfg.Database.Path)
	if err != nil {
		return nil, err
	}

	a := &App{
		Config:  cfg,
		Store:   store,
		Metrics: reconcile.NewMetrics(),
		Log:     log,
	}

	a.Ledger = ledger.NewLedger(store, log.Named("ledger"))

	rec := reconcile.NewReconciler(store, reconcile.NewLogSender(log.Named("notify"), cfg.Reminder.SenderName), log.Named("reconcile"))
	rec.Location = cfg.Location()
	rec.BatchSize = cfg.Scheduler.BatchSize
	rec.Metrics = a.Metrics
	rec.Reminders = reconcile.ReminderConfig{
		DaysBefore:   cfg.Reminder.DaysBefore,
		ResendWindow: cfg.ResendWindow(),
		SenderName:   cfg.Reminder.SenderName,
	}
	if cfg.Reminder.SendsPerSecond > 0 {
		rec.Limiter = rate.NewLimiter(rate.Limit(cfg.Reminder.SendsPerSecond), 1)
	}
	if cfg.Redis.Enabled {
		claims, err := reconcile.NewRedisClaimStore(ctx, reconcile.RedisConfig{
			Addr:      cfg.Redis.Addr,
			Password:  cfg.Redis.Password,
			DB:        cfg.Redis.DB,
			KeyPrefix: cfg.Redis.KeyPrefix,
		})
		if err != nil {
			store.Close()
			return nil, err
		}
		a.claims = claims
		rec.Claims = claims
	} else {
		rec.Claims = reconcile.NewMemoryClaimStore()
	}
	a.Reconciler = rec

	sched := reconcile.NewScheduler(log.Named("scheduler"))
	sched.Location = cfg.Location()
	sched.CheckInterval = cfg.Scheduler.CheckInterval
	sched.Recorder = store
	sched.Metrics = a.Metrics
	if err := reconcile.RegisterJobs(sched, rec, reconcile.Schedule{
		OverdueEvery: cfg.Scheduler.OverdueInterval,
		PaidEvery:    cfg.Scheduler.PaidInterval,
		LowStockAt:   cfg.Scheduler.LowStockAt,
		RemindersAt:  cfg.Scheduler.RemindersAt,
	}); err != nil {
		a.Close()
		return nil, fmt.Errorf("failed to register jobs: %w", err)
	}
	a.Scheduler = sched

	return a, nil
}

// Close releases the Redis client and the database.
func (a *App) Close() error {
	if a.claims != nil {
		if err := a.claims.Close(); err != nil {
			a.Log.Warn("failed to close redis client", zap.Error(err))
		}
	}
	return a.Store.Close()
}
