package logx

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// Throttle suppresses bursts of repeated log lines per key.
//
// Each key gets its own token bucket refilled once per Every, holding at most
// Burst tokens. The zero value allows everything.
type Throttle struct {
	every time.Duration
	burst int

	mu   sync.Mutex
	keys map[string]*rate.Limiter
}

func NewThrottle(every time.Duration, burst int) *Throttle {
	if burst <= 0 {
		burst = 1
	}
	return &Throttle{every: every, burst: burst, keys: map[string]*rate.Limiter{}}
}

// Allow reports whether a line for key may be written now.
func (t *Throttle) Allow(key string) bool {
	if t == nil || t.every <= 0 {
		return true
	}
	t.mu.Lock()
	lim := t.keys[key]
	if lim == nil {
		lim = rate.NewLimiter(rate.Every(t.every), t.burst)
		t.keys[key] = lim
	}
	t.mu.Unlock()
	return lim.Allow()
}

// Forget drops the limiter for key (e.g. when a task is deleted).
func (t *Throttle) Forget(key string) {
	if t == nil {
		return
	}
	t.mu.Lock()
	delete(t.keys, key)
	t.mu.Unlock()
}
