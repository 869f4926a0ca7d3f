package chat

import (
	"errors"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

var (
	ErrCooldown    = errors.New("please wait a moment before sending another message")
	ErrRateLimited = errors.New("rate limit exceeded, please wait before trying again")
)

// Clock supplies the current time; tests inject a fake.
type Clock func() time.Time

// RateLimiter enforces a per-user request cooldown plus a per-minute budget.
// State is encapsulated here and the limiter is constructor-injected into the
// chat service rather than living in package globals, so it can be driven
// deterministically with a fake clock.
type RateLimiter struct {
	mu        sync.Mutex
	now       Clock
	cooldown  time.Duration
	perMinute int
	users     map[int64]*userLimiter
}

type userLimiter struct {
	limiter     *rate.Limiter
	lastRequest time.Time
}

func NewRateLimiter(perMinute int, cooldown time.Duration, now Clock) *RateLimiter {
	if now == nil {
		now = time.Now
	}
	if perMinute <= 0 {
		perMinute = 15
	}
	return &RateLimiter{
		now:       now,
		cooldown:  cooldown,
		perMinute: perMinute,
		users:     make(map[int64]*userLimiter),
	}
}

// Allow reports whether the user may issue a request now, consuming budget
// if so.
func (rl *RateLimiter) Allow(userID int64) error {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()
	u, ok := rl.users[userID]
	if !ok {
		u = &userLimiter{
			limiter: rate.NewLimiter(rate.Every(time.Minute/time.Duration(rl.perMinute)), rl.perMinute),
		}
		rl.users[userID] = u
	}

	if !u.lastRequest.IsZero() && now.Sub(u.lastRequest) < rl.cooldown {
		return ErrCooldown
	}
	if !u.limiter.AllowN(now, 1) {
		return ErrRateLimited
	}

	u.lastRequest = now
	return nil
}
