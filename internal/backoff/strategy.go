// Package backoff provides the delay schedules used between retry attempts.
package backoff

import (
	"math/rand"
	"time"
)

// Strategy maps a retry attempt number to a wait duration. The attempt is
// 1-based: attempt 1 is the first retry after the initial call. Results are
// always clamped to max.
type Strategy interface {
	Delay(attempt int, base, max time.Duration) time.Duration
}

// Exponential doubles the base delay per retry: base * 2^(attempt-1).
type Exponential struct{}

func (Exponential) Delay(attempt int, base, max time.Duration) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	// Prevent overflow by limiting attempt
	if attempt > 30 {
		attempt = 30
	}
	d := time.Duration(float64(base) * pow(2.0, attempt-1))
	if d < 0 || d > max {
		d = max
	}
	return d
}

// Linear grows the delay arithmetically: base * attempt.
type Linear struct{}

func (Linear) Delay(attempt int, base, max time.Duration) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	d := base * time.Duration(attempt)
	if d < 0 || d > max {
		d = max
	}
	return d
}

// Fixed waits the base delay regardless of attempt.
type Fixed struct{}

func (Fixed) Delay(attempt int, base, max time.Duration) time.Duration {
	if base > max {
		return max
	}
	return base
}

// Jitter adds up to factor*d of uniform random delay, clamped to max.
// A factor outside [0,1] is clamped. Zero factor returns d unchanged.
func Jitter(d time.Duration, factor float64, max time.Duration) time.Duration {
	if factor <= 0 {
		return d
	}
	if factor > 1 {
		factor = 1
	}
	amount := time.Duration(float64(d) * factor * rand.Float64())
	if d+amount > max {
		return max
	}
	return d + amount
}

func pow(base float64, exponent int) float64 {
	result := 1.0
	for i := 0; i < exponent; i++ {
		result *= base
	}
	return result
}
