// Package ratelimit implements an aligned fixed-window limiter keyed by caller identity and method.
package ratelimit

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/speedrun-hq/linkrunner/pkg/apperr"
	"github.com/speedrun-hq/linkrunner/pkg/clock"
	"github.com/speedrun-hq/linkrunner/pkg/logger"
	"github.com/speedrun-hq/linkrunner/pkg/metrics"
)

// Bucket is the counter for one (identity, method, window start). End is in Unix seconds.
type Bucket struct {
	Count uint32
	End   uint64
}

// HitResult is what a store reports for one request
type HitResult struct {
	Allowed bool
	Count   uint32
	End     uint64
}

// Store keeps buckets. Hit must apply the read-modify-write for one key atomically.
type Store interface {
	// Hit counts one request against key. A missing bucket or one with End <= nowS is replaced by
	// a fresh bucket of count 1 ending at end. A live bucket at max rejects without incrementing.
	Hit(ctx context.Context, key string, nowS, end uint64, max uint32) (HitResult, error)
	// Sweep deletes buckets whose end has passed and returns how many were removed
	Sweep(ctx context.Context, nowS uint64) (int, error)
	// Reset deletes every bucket
	Reset(ctx context.Context) error
}

// ExceededError carries the time left until the bucket resets
type ExceededError struct {
	Identity   string
	Method     string
	RetryAfter time.Duration
}

func (e *ExceededError) Error() string {
	return fmt.Sprintf("rate limit exceeded for %s on %s, retry in %s", e.Identity, e.Method, e.RetryAfter)
}

// Limiter applies fixed-window limits on top of a Store
type Limiter struct {
	store  Store
	clock  clock.Clock
	policy Policy
	logger logger.Logger
}

// NewLimiter creates a limiter. Methods missing from policy are not limited by Allow.
func NewLimiter(store Store, clk clock.Clock, policy Policy, logger logger.Logger) *Limiter {
	return &Limiter{store: store, clock: clk, policy: policy, logger: logger}
}

// BucketKey returns the storage key for a bucket
func BucketKey(identity, method string, start uint64) string {
	return identity + ":" + method + ":" + strconv.FormatUint(start, 10)
}

// TryProcess counts one request by identity on method.
// A rejected request returns a logic error wrapping *ExceededError.
func (l *Limiter) TryProcess(ctx context.Context, identity, method string, maxRequests uint32, window time.Duration) error {
	if maxRequests == 0 {
		return apperr.Logic(method, "rate limit max requests must be greater than 0")
	}
	windowSeconds := uint64(window / time.Second)
	if windowSeconds == 0 {
		return apperr.Logic(method, "rate limit window must be at least 1s, got %s", window)
	}

	nowNs := l.clock.NowNs()
	nowS := nowNs / uint64(time.Second)
	start := nowS / windowSeconds * windowSeconds
	end := start + windowSeconds

	res, err := l.store.Hit(ctx, BucketKey(identity, method, start), nowS, end, maxRequests)
	if err != nil {
		return fmt.Errorf("rate limit store: %w", err)
	}
	if res.Allowed {
		return nil
	}

	metrics.RateLimitRejections.WithLabelValues(method).Inc()
	retryAfter := time.Duration(res.End*uint64(time.Second) - nowNs)
	l.logger.Debug("Rate limit hit for %s on %s (%d/%d), resets in %s", identity, method, res.Count, maxRequests, retryAfter)
	return &apperr.Error{
		Kind:    apperr.KindLogic,
		Entity:  method,
		Message: "rate limit exceeded",
		Err:     &ExceededError{Identity: identity, Method: method, RetryAfter: retryAfter},
	}
}

// Allow applies the configured rule for method, if any
func (l *Limiter) Allow(ctx context.Context, identity, method string) error {
	rule, ok := l.policy[method]
	if !ok {
		return nil
	}
	return l.TryProcess(ctx, identity, method, rule.MaxRequests, rule.Window)
}

// Sweep removes expired buckets
func (l *Limiter) Sweep(ctx context.Context) (int, error) {
	removed, err := l.store.Sweep(ctx, l.clock.NowNs()/uint64(time.Second))
	if err != nil {
		return 0, err
	}
	metrics.RateLimitBucketsSwept.Add(float64(removed))
	return removed, nil
}

// Reset drops all buckets
func (l *Limiter) Reset(ctx context.Context) error {
	return l.store.Reset(ctx)
}
