package orchestrator

import (
	"context"
	"sync"
	"time"

	"github.com/speedrun-hq/linkrunner/pkg/logger"
	"github.com/speedrun-hq/linkrunner/pkg/metrics"
)

const reconcileJobTimeout = 2 * time.Minute

// ActionSource lists the actions that still need reconciling
type ActionSource interface {
	PendingActionIDs(ctx context.Context) ([]string, error)
}

// ActionReconciler is the operation the workers run per action
type ActionReconciler interface {
	ReconcileAction(ctx context.Context, actionID string) (*ActionView, error)
}

// Reconciler periodically queues every unresolved action to a pool of workers.
// An action already queued or in flight is not queued again; a full queue drops the job.
type Reconciler struct {
	source   ActionSource
	target   ActionReconciler
	interval time.Duration
	workers  int
	jobs     chan string
	logger   logger.Logger

	mu       sync.Mutex
	inflight map[string]bool
	running  bool
	cancel   context.CancelFunc
	wg       sync.WaitGroup
}

func NewReconciler(source ActionSource, target ActionReconciler, interval time.Duration, workers int, logger logger.Logger) *Reconciler {
	if workers <= 0 {
		workers = 1
	}
	return &Reconciler{
		source:   source,
		target:   target,
		interval: interval,
		workers:  workers,
		jobs:     make(chan string, workers*10),
		logger:   logger,
		inflight: make(map[string]bool),
	}
}

// Start launches the workers and the scan loop
func (r *Reconciler) Start(ctx context.Context) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.running {
		return
	}

	ctx, r.cancel = context.WithCancel(ctx)
	r.running = true

	for i := 0; i < r.workers; i++ {
		r.wg.Add(1)
		go r.worker(ctx, i)
	}
	r.wg.Add(1)
	go r.run(ctx)
}

// Stop cancels the loop and waits for workers to finish their current action
func (r *Reconciler) Stop() {
	r.mu.Lock()
	if !r.running {
		r.mu.Unlock()
		return
	}
	r.cancel()
	r.running = false
	r.mu.Unlock()

	r.wg.Wait()
}

func (r *Reconciler) run(ctx context.Context) {
	defer r.wg.Done()
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	r.scan(ctx)
	for {
		select {
		case <-ticker.C:
			r.scan(ctx)
		case <-ctx.Done():
			return
		}
	}
}

// scan queues the pending actions and returns how many were queued
func (r *Reconciler) scan(ctx context.Context) int {
	ids, err := r.source.PendingActionIDs(ctx)
	if err != nil {
		r.logger.Error("Failed to list pending actions: %v", err)
		return 0
	}
	metrics.PendingActions.Set(float64(len(ids)))

	queued := 0
	for _, id := range ids {
		r.mu.Lock()
		if r.inflight[id] {
			r.mu.Unlock()
			continue
		}
		select {
		case r.jobs <- id:
			r.inflight[id] = true
			queued++
		default:
			metrics.DroppedReconcileJobs.Inc()
			r.logger.Notice("Reconcile queue full, dropping action %s until the next scan", id)
		}
		r.mu.Unlock()
	}
	if queued > 0 {
		r.logger.Debug("Queued %d of %d pending actions", queued, len(ids))
	}
	return queued
}

func (r *Reconciler) worker(ctx context.Context, id int) {
	defer r.wg.Done()
	r.logger.Debug("Starting reconcile worker %d", id)
	for {
		select {
		case <-ctx.Done():
			r.logger.Debug("Reconcile worker %d shutting down", id)
			return
		case actionID := <-r.jobs:
			r.reconcileOne(ctx, actionID)
		}
	}
}

func (r *Reconciler) reconcileOne(ctx context.Context, actionID string) {
	defer func() {
		r.mu.Lock()
		delete(r.inflight, actionID)
		r.mu.Unlock()
	}()

	jobCtx, cancel := context.WithTimeout(ctx, reconcileJobTimeout)
	defer cancel()

	start := time.Now()
	view, err := r.target.ReconcileAction(jobCtx, actionID)
	metrics.ReconcileDuration.Observe(time.Since(start).Seconds())
	if err != nil {
		r.logger.ErrorWithAction(actionID, "Reconciliation failed: %v", err)
		return
	}
	r.logger.DebugWithAction(actionID, "Reconciled, action is %s", view.Action.State)
}
