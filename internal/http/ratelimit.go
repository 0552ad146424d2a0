package http

import (
	"sync"
	"sync/atomic"
	"time"
)

const (
	rateWindow    = time.Minute
	rateIdleAfter = 10 * time.Minute
	rateSweep     = 5 * time.Minute
)

// window counts one client's mutating requests since start.
type window struct {
	start time.Time
	seen  time.Time
	count int
}

// rateLimiter is a fixed-window limiter keyed by client IP.
type rateLimiter struct {
	mu      sync.Mutex
	limit   int
	windows map[string]*window
	now     func() time.Time

	rejected atomic.Int64
	done     chan struct{}
	stopOnce sync.Once
}

func newRateLimiter(perMinute int) *rateLimiter {
	if perMinute < 1 {
		perMinute = 60
	}
	rl := &rateLimiter{
		limit:   perMinute,
		windows: map[string]*window{},
		now:     time.Now,
		done:    make(chan struct{}),
	}
	go rl.sweepLoop()
	return rl
}

func (rl *rateLimiter) sweepLoop() {
	t := time.NewTicker(rateSweep)
	defer t.Stop()
	for {
		select {
		case <-rl.done:
			return
		case <-t.C:
			rl.sweep()
		}
	}
}

func (rl *rateLimiter) sweep() {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	idle := rl.now().Add(-rateIdleAfter)
	for key, w := range rl.windows {
		if w.seen.Before(idle) {
			delete(rl.windows, key)
		}
	}
}

// setLimit changes the per-window budget and forgets existing windows.
func (rl *rateLimiter) setLimit(perMinute int) {
	rl.mu.Lock()
	rl.limit = perMinute
	rl.windows = map[string]*window{}
	rl.mu.Unlock()
}

// allow counts a request for key and reports whether it fits the budget.
func (rl *rateLimiter) allow(key string) bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()
	w := rl.windows[key]
	if w == nil || now.Sub(w.start) >= rateWindow {
		w = &window{start: now}
		rl.windows[key] = w
	}
	w.seen = now
	w.count++
	if w.count > rl.limit {
		rl.rejected.Add(1)
		return false
	}
	return true
}

func (rl *rateLimiter) activeClients() int {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	return len(rl.windows)
}

func (rl *rateLimiter) totalRejected() int64 { return rl.rejected.Load() }

func (rl *rateLimiter) stop() {
	rl.stopOnce.Do(func() { close(rl.done) })
}
