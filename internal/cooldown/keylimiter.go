package cooldown

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// KeyLimiter is a per-API-key RPM/RPD gate, a thin decorator in front of
// the cooldown tracker: a key that trips its RPM or RPD limit is rejected
// at admission without touching any deployment's cooldown window.
type KeyLimiter struct {
	mu       sync.Mutex
	perMin   map[string]*rate.Limiter
	perDay   map[string]*dailyCounter
	rpm      int
	rpd      int
}

type dailyCounter struct {
	day   time.Time
	count int
}

// NewKeyLimiter builds a KeyLimiter. rpm/rpd <= 0 disables that dimension.
func NewKeyLimiter(rpm, rpd int) *KeyLimiter {
	return &KeyLimiter{
		perMin: make(map[string]*rate.Limiter),
		perDay: make(map[string]*dailyCounter),
		rpm:    rpm,
		rpd:    rpd,
	}
}

// Allow reports whether keyID may dispatch one more request right now,
// consuming one unit of its RPM and RPD budget if so.
func (l *KeyLimiter) Allow(keyID string) bool {
	if l.rpm <= 0 && l.rpd <= 0 {
		return true
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.rpm > 0 {
		lim, ok := l.perMin[keyID]
		if !ok {
			lim = rate.NewLimiter(rate.Limit(float64(l.rpm)/60.0), l.rpm)
			l.perMin[keyID] = lim
		}
		if !lim.Allow() {
			return false
		}
	}

	if l.rpd > 0 {
		today := time.Now().Truncate(24 * time.Hour)
		c, ok := l.perDay[keyID]
		if !ok || !c.day.Equal(today) {
			c = &dailyCounter{day: today}
			l.perDay[keyID] = c
		}
		if c.count >= l.rpd {
			return false
		}
		c.count++
	}

	return true
}
