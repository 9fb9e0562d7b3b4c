package channel

import (
	"math"
	"math/rand"
	"time"
)

// Backoff defines the pause between refused connect attempts.
// The zero Multiplier behaves as 1.0, a fixed interval.
type Backoff struct {
	InitialDelay time.Duration
	Multiplier   float64
	MaxDelay     time.Duration
	Jitter       bool
}

// DefaultBackoff retries every DefaultRetryInterval.
func DefaultBackoff() Backoff {
	return Backoff{InitialDelay: DefaultRetryInterval, Multiplier: 1.0}
}

// NextDelay returns the retry delay after attempt N (1-based).
func NextDelay(cfg Backoff, attempt int, rng *rand.Rand) time.Duration {
	if attempt <= 1 {
		return cfg.InitialDelay
	}
	if cfg.InitialDelay <= 0 {
		return 0
	}
	if cfg.Multiplier < 1.0 {
		cfg.Multiplier = 1.0
	}
	delay := float64(cfg.InitialDelay) * math.Pow(cfg.Multiplier, float64(attempt-1))
	if cfg.MaxDelay > 0 && delay > float64(cfg.MaxDelay) {
		delay = float64(cfg.MaxDelay)
	}
	if cfg.Jitter {
		f := 0.5
		if rng != nil {
			f = 0.5 + rng.Float64()
		}
		delay = delay * f
	}
	return time.Duration(delay)
}
