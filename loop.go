package callchain

import (
	"fmt"
	"time"
)

const (
	// handshakeDelaySeconds is the fixed resume hint returned in handshake
	// mode, which never waits locally.
	handshakeDelaySeconds = 60

	// minCallbackDelaySeconds floors the resume hint on suspension.
	minCallbackDelaySeconds = 60

	// schedulingOverhead pads the budget comparison to cover loop latency
	// beyond the measured iteration time.
	schedulingOverhead = 100 * time.Millisecond
)

// run is the stabilization loop behind Done. Each iteration builds the
// request and obtains the response through memoized wrappers, gates the
// terminal callback on the stabilization predicate, funnels every failure
// through the active handler, and then decides between waiting locally and
// suspending: a local wait is taken only while the remaining invocation
// budget strictly exceeds next_delay + 2*elapsed + schedulingOverhead.
func run[C, M, Q, S any](s *Stabilizer[C, M, Q, S], cb CallbackFn[C, M, Q, S]) Outcome[M] {
	ch := s.caller.chain
	if ch.err != nil {
		return Failed(ch.model, ch.cxt, ErrCodeInvalidArgument, ch.err.Message)
	}
	if cb == nil {
		return Failed(ch.model, ch.cxt, ErrCodeInvalidArgument, "done callback can not be nil")
	}

	proxy := ch.proxy
	reqMaker := MemoizeRequest(ch.cxt, ch.callGraph, s.caller.maker)
	resMaker := MemoizeResponse(ch.cxt, ch.callGraph, s.invoke)
	waitFor := s.waitFor
	if waitFor != nil {
		waitFor = MemoizeStabilize(ch.cxt, ch.callGraph, waitFor)
	}
	handler := s.except
	if handler == nil {
		handler = func(req Q, err error, client *ServiceClient[C], model M, cxt *StdCallbackContext) Outcome[M] {
			return defaultHandler(proxy, req, err, client, model, cxt)
		}
	}

	attempt := ch.cxt.Attempts(ch.callGraph)

	var (
		req     Q
		res     S
		haveRes bool
	)
	// a request whose invocation never produced a response must not be
	// replayed on resume
	defer func() {
		if !haveRes {
			ch.cxt.EvictRequestRecord(ch.callGraph)
		}
	}()

	for {
		start := time.Now()

		var outcome Outcome[M]
		haveOutcome := false
		err := func() (err error) {
			defer func() {
				if r := recover(); r != nil {
					err = fmt.Errorf("panic during call execution: %v", r)
				}
			}()
			if req, err = reqMaker(ch.model); err != nil {
				return err
			}
			if res, err = resMaker(req, ch.client); err != nil {
				return err
			}
			haveRes = true
			if waitFor != nil {
				stable, err := waitFor(req, res, ch.client, ch.model, ch.cxt)
				if err != nil {
					return err
				}
				if !stable {
					return nil
				}
			}
			outcome = cb(req, res, ch.client, ch.model, ch.cxt)
			haveOutcome = true
			return nil
		}()
		if err != nil {
			outcome = handler(req, err, ch.client, ch.model, ch.cxt)
			haveOutcome = !outcome.CanContinue()
		}

		if haveOutcome && outcome.IsTerminal() {
			return outcome
		}

		if proxy.handshake {
			return InProgress(ch.model, ch.cxt, handshakeDelaySeconds)
		}

		if haveOutcome {
			return outcome
		}

		elapsed := time.Since(start)
		next := s.caller.delay.NextDelay(attempt)
		attempt++
		ch.cxt.SetAttempts(ch.callGraph, attempt)
		if next == 0 {
			return Failed(ch.model, ch.cxt, ErrCodeNotStabilized, "Exceeded attempts to wait")
		}

		localWait := next + 2*elapsed + schedulingOverhead
		if proxy.RemainingTime() > localWait {
			sleepFor(next)
			continue
		}

		hint := int(next / time.Second)
		if hint < minCallbackDelaySeconds {
			hint = minCallbackDelaySeconds
		}
		return InProgress(ch.model, ch.cxt, hint)
	}
}

// sleepFor blocks for the full duration. time.Sleep does not wake spuriously,
// but the deadline loop guarantees no partially consumed wait even if the
// runtime returns short.
func sleepFor(d time.Duration) {
	deadline := time.Now().Add(d)
	for {
		remaining := time.Until(deadline)
		if remaining <= 0 {
			return
		}
		time.Sleep(remaining)
	}
}
