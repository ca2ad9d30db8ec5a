package signal

import (
	"sync"
	"time"

	"github.com/dkeye/mediacore/internal/domain"
	"github.com/gammazero/deque"
)

// RoomRateLimiter is a sliding-window limiter for room joins, keyed by client.
type RoomRateLimiter struct {
	mu       sync.Mutex
	history  map[domain.SessionID]*deque.Deque[time.Time]
	limit    int
	interval time.Duration
	now      func() time.Time
}

func NewRoomRateLimiter(limit int, interval time.Duration) *RoomRateLimiter {
	return &RoomRateLimiter{
		history:  make(map[domain.SessionID]*deque.Deque[time.Time]),
		limit:    limit,
		interval: interval,
		now:      time.Now,
	}
}

func (rl *RoomRateLimiter) Allow(sid domain.SessionID) bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()
	windowStart := now.Add(-rl.interval)

	attempts, ok := rl.history[sid]
	if !ok {
		attempts = &deque.Deque[time.Time]{}
		rl.history[sid] = attempts
	}
	for attempts.Len() > 0 && !attempts.Front().After(windowStart) {
		attempts.PopFront()
	}
	if attempts.Len() >= rl.limit {
		return false
	}
	attempts.PushBack(now)
	return true
}

// Forget drops the history of sid.
func (rl *RoomRateLimiter) Forget(sid domain.SessionID) {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	delete(rl.history, sid)
}
