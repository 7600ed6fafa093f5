package ratelimit

import (
	"context"
	"sync"
	"time"

	"github.com/speedrun-hq/linkrunner/pkg/logger"
)

// Sweeper periodically removes expired buckets
type Sweeper struct {
	limiter  *Limiter
	interval time.Duration
	stopChan chan struct{}
	mu       sync.Mutex
	running  bool
	logger   logger.Logger
}

func NewSweeper(limiter *Limiter, interval time.Duration, logger logger.Logger) *Sweeper {
	return &Sweeper{limiter: limiter, interval: interval, logger: logger}
}

// Start launches the sweep loop; it stops on Stop or when ctx is done
func (s *Sweeper) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return
	}
	s.stopChan = make(chan struct{})
	s.running = true
	go s.run(ctx, s.stopChan)
}

func (s *Sweeper) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.running {
		return
	}
	close(s.stopChan)
	s.stopChan = nil
	s.running = false
}

func (s *Sweeper) run(ctx context.Context, stop <-chan struct{}) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			removed, err := s.limiter.Sweep(ctx)
			if err != nil {
				s.logger.Error("Rate limit sweep failed: %v", err)
				continue
			}
			if removed > 0 {
				s.logger.Debug("Swept %d expired rate limit buckets", removed)
			}
		case <-stop:
			return
		case <-ctx.Done():
			return
		}
	}
}
