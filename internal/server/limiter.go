package server

import (
	"sync"

	"golang.org/x/time/rate"
)

const maxTrackedVoters = 4096

// voteLimiter throttles vote submissions per participant so one client cannot
// flood its room with refresh broadcasts.
type voteLimiter struct {
	mu       sync.Mutex
	limit    rate.Limit
	burst    int
	limiters map[string]*rate.Limiter
}

func newVoteLimiter(perSecond float64, burst int) *voteLimiter {
	return &voteLimiter{
		limit:    rate.Limit(perSecond),
		burst:    burst,
		limiters: make(map[string]*rate.Limiter),
	}
}

func (l *voteLimiter) Allow(roomID, name string) bool {
	key := roomID + "/" + name

	l.mu.Lock()
	lim, ok := l.limiters[key]
	if !ok {
		if len(l.limiters) >= maxTrackedVoters {
			// Full limiters carry no state worth keeping.
			for k, v := range l.limiters {
				if v.Tokens() >= float64(l.burst) {
					delete(l.limiters, k)
				}
			}
		}
		lim = rate.NewLimiter(l.limit, l.burst)
		l.limiters[key] = lim
	}
	l.mu.Unlock()

	return lim.Allow()
}
