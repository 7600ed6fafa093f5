package feecache

import (
	"context"
	"sync"
	"time"

	"github.com/speedrun-hq/linkrunner/pkg/logger"
)

// Refresher periodically refreshes the fees of a fixed asset list
type Refresher struct {
	cache    *Cache
	assets   []string
	interval time.Duration
	stopChan chan struct{}
	mu       sync.RWMutex
	running  bool
	logger   logger.Logger
}

// NewRefresher creates a new refresher for the given assets
func NewRefresher(cache *Cache, assets []string, interval time.Duration, logger logger.Logger) *Refresher {
	return &Refresher{
		cache:    cache,
		assets:   append([]string(nil), assets...),
		interval: interval,
		logger:   logger,
	}
}

// Start begins the periodic refreshes
func (r *Refresher) Start(ctx context.Context) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.running {
		return
	}

	r.stopChan = make(chan struct{})
	r.running = true

	go r.run(ctx, r.stopChan)
}

// Stop halts the periodic refreshes
func (r *Refresher) Stop() {
	r.mu.Lock()
	defer r.mu.Unlock()

	if !r.running {
		return
	}

	close(r.stopChan)
	r.stopChan = nil
	r.running = false
}

// IsRunning returns whether the routine is currently running
func (r *Refresher) IsRunning() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.running
}

func (r *Refresher) run(ctx context.Context, stop <-chan struct{}) {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	r.refresh(ctx)

	for {
		select {
		case <-ticker.C:
			r.refresh(ctx)
		case <-stop:
			return
		case <-ctx.Done():
			return
		}
	}
}

func (r *Refresher) refresh(ctx context.Context) {
	timeoutCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	if err := r.cache.Refresh(timeoutCtx, r.assets); err != nil {
		r.logger.Error("Failed to refresh fees for %d assets: %v", len(r.assets), err)
		return
	}
	r.logger.Debug("Refreshed fees for %d assets", len(r.assets))
}
