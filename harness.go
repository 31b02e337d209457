package callchain

import "time"

// Harness drives an orchestration function to completion in-process by
// honoring IN_PROGRESS resume hints, the way the real host would by
// re-invoking with the persisted context. Meant for local tooling and
// tests; production hosts bring their own resumption machinery.
type Harness struct {
	maxResumes int
	sleep      func(time.Duration)
	logger     Logger
}

type HarnessOption func(*Harness)

// WithMaxResumes caps how many times the harness re-invokes before giving
// up and returning the last in-progress outcome.
func WithMaxResumes(n int) HarnessOption {
	return func(h *Harness) {
		if n > 0 {
			h.maxResumes = n
		}
	}
}

// WithSleeper replaces the wait between resumes, letting tests compress
// hints.
func WithSleeper(fn func(time.Duration)) HarnessOption {
	return func(h *Harness) {
		if fn != nil {
			h.sleep = fn
		}
	}
}

func WithHarnessLogger(l Logger) HarnessOption {
	return func(h *Harness) {
		if l != nil {
			h.logger = l
		}
	}
}

// NewHarness constructs a harness, applying defaults if unset.
func NewHarness(opts ...HarnessOption) *Harness {
	h := &Harness{
		maxResumes: 25,
		sleep:      sleepFor,
		logger:     NewFmtLogger(nil),
	}
	for _, o := range opts {
		if o != nil {
			o(h)
		}
	}
	return h
}

// Drive invokes fn, then re-invokes after each resume hint until fn returns
// a terminal outcome or the resume cap is reached. The last outcome is
// returned either way.
func Drive[M any](h *Harness, fn func() Outcome[M]) Outcome[M] {
	out := fn()
	for resumes := 0; !out.IsTerminal() && resumes < h.maxResumes; resumes++ {
		h.logger.Debug("resuming orchestration in %ds", out.CallbackDelaySeconds)
		h.sleep(time.Duration(out.CallbackDelaySeconds) * time.Second)
		out = fn()
	}
	return out
}
