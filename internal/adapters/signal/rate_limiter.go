package signal

import (
	"sync"
	"time"

	"github.com/dkeye/coderoom/internal/domain"
)

// pruneEvery is how many Allow calls pass between sweeps of idle users.
const pruneEvery = 1024

// RoomRateLimiter is a per user sliding window. A user may hold several
// connections; they share one window, which outlives any of them and is
// only dropped once it has aged out. A nil limiter allows everything.
type RoomRateLimiter struct {
	mu       sync.Mutex
	history  map[domain.UserID][]time.Time
	limit    int
	interval time.Duration
	now      func() time.Time
	calls    int
}

// NewRoomRateLimiter returns nil when limit or interval is not positive.
func NewRoomRateLimiter(limit int, interval time.Duration) *RoomRateLimiter {
	if limit <= 0 || interval <= 0 {
		return nil
	}
	return &RoomRateLimiter{
		history:  make(map[domain.UserID][]time.Time),
		limit:    limit,
		interval: interval,
		now:      time.Now,
	}
}

func (rl *RoomRateLimiter) Allow(uid domain.UserID) bool {
	if rl == nil {
		return true
	}
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()
	windowStart := now.Add(-rl.interval)
	if rl.calls++; rl.calls%pruneEvery == 0 {
		rl.pruneLocked(windowStart)
	}

	attempts := rl.history[uid]
	fresh := attempts[:0]
	for _, t := range attempts {
		if t.After(windowStart) {
			fresh = append(fresh, t)
		}
	}

	if len(fresh) >= rl.limit {
		rl.history[uid] = fresh
		return false
	}
	rl.history[uid] = append(fresh, now)
	return true
}

// pruneLocked drops users whose newest event is outside the window.
func (rl *RoomRateLimiter) pruneLocked(windowStart time.Time) {
	for uid, attempts := range rl.history {
		if len(attempts) == 0 || !attempts[len(attempts)-1].After(windowStart) {
			delete(rl.history, uid)
		}
	}
}
