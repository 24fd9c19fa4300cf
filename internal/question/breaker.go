package question

import (
	"sync"
	"time"
)

// breaker is a consecutive-failure circuit breaker. After trip failures it
// opens for cooldown, doubling per extra failure up to maxCooldown. A quiet
// period of resetAfter since the last failure closes it again.
type breaker struct {
	mu          sync.Mutex
	trip        int
	cooldown    time.Duration
	maxCooldown time.Duration
	resetAfter  time.Duration

	fails       int
	openUntil   time.Time
	lastFailure time.Time
}

func newBreaker(trip int, cooldown time.Duration) *breaker {
	b := &breaker{}
	b.configure(trip, cooldown)
	return b
}

// configure applies settings. trip < 0 disables the breaker.
func (b *breaker) configure(trip int, cooldown time.Duration) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if trip == 0 {
		trip = 3
	}
	if cooldown <= 0 {
		cooldown = 30 * time.Second
	}
	b.trip = trip
	b.cooldown = cooldown
	b.maxCooldown = 16 * cooldown
	b.resetAfter = 10 * cooldown
}

func (b *breaker) allow(now time.Time) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.trip < 0 {
		return true
	}
	b.expireLocked(now)
	return b.openUntil.IsZero() || !now.Before(b.openUntil)
}

func (b *breaker) record(now time.Time, err error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.trip < 0 {
		return
	}
	b.expireLocked(now)
	if err == nil {
		b.fails = 0
		b.openUntil = time.Time{}
		b.lastFailure = time.Time{}
		return
	}
	b.fails++
	b.lastFailure = now
	if b.fails < b.trip {
		return
	}
	d := b.cooldown
	for i := 0; i < b.fails-b.trip && d < b.maxCooldown; i++ {
		d *= 2
	}
	b.openUntil = now.Add(min(d, b.maxCooldown))
}

func (b *breaker) expireLocked(now time.Time) {
	if !b.lastFailure.IsZero() && now.Sub(b.lastFailure) > b.resetAfter {
		b.fails = 0
		b.openUntil = time.Time{}
		b.lastFailure = time.Time{}
	}
}

// state returns consecutive failures and whether the breaker is open at now.
func (b *breaker) state(now time.Time) (fails int, open bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.fails, !b.openUntil.IsZero() && now.Before(b.openUntil)
}
