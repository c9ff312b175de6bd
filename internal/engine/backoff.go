package engine

import (
	"math"
	"math/rand"
	"time"
)

// BackoffConfig tunes the retry delay schedule.
type BackoffConfig struct {
	Base       time.Duration
	Max        time.Duration
	Multiplier float64
	Jitter     bool
}

// nextDelay returns the retry delay for attempt N (1-based).
func nextDelay(cfg BackoffConfig, attempt int, rng *rand.Rand) time.Duration {
	if cfg.Base <= 0 {
		return 0
	}
	if cfg.Multiplier < 1.0 {
		cfg.Multiplier = 2.0
	}
	delay := float64(cfg.Base)
	if attempt > 1 {
		delay = float64(cfg.Base) * math.Pow(cfg.Multiplier, float64(attempt-1))
	}
	if cfg.Max > 0 && delay > float64(cfg.Max) {
		delay = float64(cfg.Max)
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
