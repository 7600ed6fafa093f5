// Package clock provides the time source used by timeouts, rate limiting and fee caching.
package clock

import (
	"sync"
	"time"
)

// Clock returns the current time in nanoseconds since the Unix epoch
type Clock interface {
	NowNs() uint64
}

// System reads the wall clock
type System struct{}

func (System) NowNs() uint64 {
	return uint64(time.Now().UnixNano())
}

// Fake is a manually advanced clock for tests
type Fake struct {
	mu  sync.Mutex
	now uint64
}

func NewFake(nowNs uint64) *Fake {
	return &Fake{now: nowNs}
}

func (f *Fake) NowNs() uint64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.now
}

// Set moves the clock to an absolute time
func (f *Fake) Set(nowNs uint64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.now = nowNs
}

// Advance moves the clock forward by d
func (f *Fake) Advance(d time.Duration) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.now += uint64(d)
}
