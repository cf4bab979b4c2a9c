package transport

import (
	"context"
	"math/rand"
	"time"
)

// Backoff paces redials of the server. A Backoff is owned by one goroutine.
type Backoff struct {
	cfg     BackoffConfig
	rng     *rand.Rand
	attempt int
}

func NewBackoff(cfg BackoffConfig, rng *rand.Rand) *Backoff {
	return &Backoff{cfg: cfg, rng: rng}
}

// Attempt is the number of delays handed out since the last Reset.
func (b *Backoff) Attempt() int {
	return b.attempt
}

// Reset starts over after a successful login.
func (b *Backoff) Reset() {
	b.attempt = 0
}

// Next advances to the following attempt and returns its delay.
func (b *Backoff) Next() time.Duration {
	b.attempt++
	return NextBackoffDelay(b.cfg, b.attempt, b.rng)
}

// Wait sleeps for the next delay. It returns ctx.Err() if ctx ends first.
func (b *Backoff) Wait(ctx context.Context) error {
	timer := time.NewTimer(b.Next())
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// NextBackoffDelay returns the delay before redial number attempt (1-based).
// The first redial waits InitialDelay; each later one grows by Multiplier
// up to MaxDelay. Jitter spreads the result over [0.5, 1.5) of that value.
func NextBackoffDelay(cfg BackoffConfig, attempt int, rng *rand.Rand) time.Duration {
	if attempt <= 1 || cfg.InitialDelay <= 0 {
		return max(cfg.InitialDelay, 0)
	}
	growth := max(cfg.Multiplier, 1.0)
	delay := float64(cfg.InitialDelay)
	for i := 1; i < attempt; i++ {
		delay *= growth
		if cfg.MaxDelay > 0 && delay >= float64(cfg.MaxDelay) {
			delay = float64(cfg.MaxDelay)
			break
		}
	}
	if cfg.Jitter {
		spread := 0.5
		if rng != nil {
			spread += rng.Float64()
		}
		delay *= spread
	}
	return time.Duration(delay)
}
