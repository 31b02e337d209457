// Package delay provides the backoff policies the call chain consults
// between stabilization attempts. Policies are stateless values: the next
// wait is a pure function of the attempt number, so a policy survives
// suspend/resume as long as the attempt counter does.
package delay

import (
	"time"
)

// Delay maps an attempt number (starting at 1) to the wait before the next
// attempt. A zero duration is the give-up sentinel: the caller must stop
// retrying.
type Delay interface {
	NextDelay(attempt int) time.Duration
}

// Constant waits the same duration every attempt until the accrued wait
// exceeds Timeout.
type Constant struct {
	Delay   time.Duration
	Timeout time.Duration
}

// NewConstant builds a constant policy with the given per-attempt delay and
// total budget.
func NewConstant(d, timeout time.Duration) Constant {
	return Constant{Delay: d, Timeout: timeout}
}

func (c Constant) NextDelay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	if c.Delay <= 0 {
		return 0
	}
	if time.Duration(attempt)*c.Delay > c.Timeout {
		return 0
	}
	return c.Delay
}

// Exponential grows the wait by Factor each attempt, capped per-attempt at
// Max and in total by Timeout.
type Exponential struct {
	// Base is the first attempt's delay.
	Base time.Duration
	// Factor multiplies the delay each attempt; values below 1 fall back to 2.
	Factor float64
	// Max caps a single delay. Zero means uncapped.
	Max     time.Duration
	Timeout time.Duration
}

func (e Exponential) NextDelay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	if e.Base <= 0 {
		return 0
	}
	factor := e.Factor
	if factor < 1 {
		factor = 2
	}
	var accrued time.Duration
	next := e.Base
	for i := 1; i <= attempt; i++ {
		d := next
		if e.Max > 0 && d > e.Max {
			d = e.Max
		}
		accrued += d
		if accrued > e.Timeout {
			return 0
		}
		if i == attempt {
			return d
		}
		next = time.Duration(float64(next) * factor)
	}
	return 0
}

// MultipleOf ramps linearly: attempt n waits n times the base delay, scaled
// by Multiple, until the accrued wait exceeds Timeout.
type MultipleOf struct {
	Delay time.Duration
	// Multiple scales the ramp; values below 1 fall back to 1.
	Multiple int
	Timeout  time.Duration
}

func (m MultipleOf) NextDelay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	if m.Delay <= 0 {
		return 0
	}
	multiple := m.Multiple
	if multiple < 1 {
		multiple = 1
	}
	var accrued time.Duration
	for i := 1; i <= attempt; i++ {
		d := m.Delay * time.Duration(i*multiple)
		accrued += d
		if accrued > m.Timeout {
			return 0
		}
		if i == attempt {
			return d
		}
	}
	return 0
}

// Blended consults its members in order and returns the first non-zero
// delay, so an early aggressive policy can hand off to a slower one once it
// exhausts its own budget.
type Blended struct {
	Delays []Delay
}

func (b Blended) NextDelay(attempt int) time.Duration {
	for _, d := range b.Delays {
		if d == nil {
			continue
		}
		if next := d.NextDelay(attempt); next > 0 {
			return next
		}
	}
	return 0
}
