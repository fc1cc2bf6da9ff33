/*
scheduler.go - Automated ledger repair scheduler

PURPOSE:
  Periodically runs validate-and-fix so that ledger side effects that
  failed during a status update are repaired without an admin action.

DESIGN:
  - Runs a background goroutine with configurable check interval
  - Runs once immediately on start
  - Each pass is recorded as a repair run (trigger "scheduled")
  - The engine serialises runs, so a manual trigger never overlaps

CONFIGURATION:
  - CheckInterval: How often to run (default: 1 hour)
  - Enabled: Whether scheduler is active (default: true)

USAGE:
  scheduler := NewRepairScheduler(engine, logger)
  scheduler.Start()
  // ... later
  scheduler.Stop()

SEE ALSO:
  - handlers.go: ValidateCashFlow endpoint (manual trigger)
  - reconcile/repair.go: ValidateAndFix
*/
package api

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/warp/cashflow-engine/logging"
	"github.com/warp/cashflow-engine/reconcile"
)

// RepairScheduler runs ledger repair on a fixed interval.
type RepairScheduler struct {
	Engine        *reconcile.Engine
	CheckInterval time.Duration
	Enabled       bool
	Logger        *zap.Logger

	ticker *time.Ticker
	stop   chan struct{}
	cancel context.CancelFunc
	wg     sync.WaitGroup
	mu     sync.Mutex
}

// NewRepairScheduler creates a new scheduler.
func NewRepairScheduler(engine *reconcile.Engine, logger *zap.Logger) *RepairScheduler {
	return &RepairScheduler{
		Engine:        engine,
		CheckInterval: time.Hour,
		Enabled:       true,
		Logger:        logging.OrNop(logger).Named("scheduler"),
	}
}

// Start begins the scheduler. Calling Start twice is a no-op.
func (rs *RepairScheduler) Start() {
	rs.mu.Lock()
	defer rs.mu.Unlock()

	if !rs.Enabled || rs.CheckInterval <= 0 {
		rs.Logger.Info("disabled, not starting")
		return
	}
	if rs.ticker != nil {
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	rs.cancel = cancel
	rs.stop = make(chan struct{})
	rs.ticker = time.NewTicker(rs.CheckInterval)
	rs.wg.Add(1)

	go rs.run(ctx, rs.ticker.C, rs.stop)

	rs.Logger.Info("started", zap.Duration("interval", rs.CheckInterval))
}

// Stop stops the scheduler and waits for an in-flight pass to return.
func (rs *RepairScheduler) Stop() {
	rs.mu.Lock()
	defer rs.mu.Unlock()

	if rs.ticker == nil {
		return
	}
	rs.ticker.Stop()
	close(rs.stop)
	rs.cancel()
	rs.wg.Wait()
	rs.ticker = nil
	rs.Logger.Info("stopped")
}

func (rs *RepairScheduler) run(ctx context.Context, tick <-chan time.Time, stop <-chan struct{}) {
	defer rs.wg.Done()

	rs.RunNow(ctx)

	for {
		select {
		case <-tick:
			rs.RunNow(ctx)
		case <-stop:
			return
		}
	}
}

// RunNow triggers an immediate scheduled pass (for testing/admin).
func (rs *RepairScheduler) RunNow(ctx context.Context) reconcile.Run {
	run, err := rs.Engine.RunRepair(ctx, reconcile.TriggerScheduled)
	if err != nil {
		rs.Logger.Error("repair run failed", zap.String("run_id", run.ID), zap.Error(err))
		return run
	}
	if run.Report.Created > 0 || run.Report.Errors > 0 {
		rs.Logger.Info("repair run completed",
			zap.String("run_id", run.ID),
			zap.Int("created", run.Report.Created),
			zap.Int("errors", run.Report.Errors),
		)
	}
	return run
}

// NextRunTime returns when the next scheduled check will occur.
func (rs *RepairScheduler) NextRunTime() time.Time {
	return time.Now().Add(rs.CheckInterval)
}
