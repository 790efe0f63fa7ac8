package handlers

import (
	"sync"
	"time"
)

// submitThrottle caps how often one checkout session may attempt order
// submission. Attempts are kept as per-session timestamps inside a rolling
// window; sessions whose attempts have all aged out are swept on the next
// recorded attempt, so abandoned checkouts do not accumulate.
type submitThrottle struct {
	maxAttempts int
	window      time.Duration
	now         func() time.Time

	mu       sync.Mutex
	attempts map[string][]time.Time
}

func newSubmitThrottle(maxAttempts int, window time.Duration, now func() time.Time) *submitThrottle {
	if maxAttempts <= 0 || window <= 0 {
		return nil
	}
	if now == nil {
		now = time.Now
	}
	return &submitThrottle{
		maxAttempts: maxAttempts,
		window:      window,
		now:         now,
		attempts:    make(map[string][]time.Time),
	}
}

// allow records a submission attempt for the session and reports whether it
// stays within the window. A nil throttle admits everything.
func (t *submitThrottle) allow(sessionID string) bool {
	if t == nil {
		return true
	}
	now := t.now()
	cutoff := now.Add(-t.window)

	t.mu.Lock()
	defer t.mu.Unlock()

	recent := t.attempts[sessionID][:0]
	for _, at := range t.attempts[sessionID] {
		if at.After(cutoff) {
			recent = append(recent, at)
		}
	}
	if len(recent) >= t.maxAttempts {
		t.attempts[sessionID] = recent
		return false
	}
	t.attempts[sessionID] = append(recent, now)
	t.sweepLocked(cutoff)
	return true
}

func (t *submitThrottle) sweepLocked(cutoff time.Time) {
	for id, stamps := range t.attempts {
		if len(stamps) == 0 || !stamps[len(stamps)-1].After(cutoff) {
			delete(t.attempts, id)
		}
	}
}
