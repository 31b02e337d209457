package callchain

import (
	"reflect"
	"strings"
	"time"

	"github.com/goliatone/go-callchain/delay"
	"github.com/goliatone/go-errors"
)

// Default backoff for every call: constant 5s delay inside a 20m budget.
// Chains override it per call via Retry.
const (
	defaultRetryDelay   = 5 * time.Second
	defaultRetryTimeout = 20 * time.Minute
)

// RequestMakerFn builds a remote request from the domain model.
type RequestMakerFn[M, Q any] func(M) (Q, error)

// InvokeFn issues the request through the injected client.
type InvokeFn[C, Q, S any] func(Q, *ServiceClient[C]) (S, error)

// StabilizeFn polls whether the side effect of a call reached its target
// state.
type StabilizeFn[C, M, Q, S any] func(Q, S, *ServiceClient[C], M, *StdCallbackContext) (bool, error)

// CallbackFn produces the terminal outcome once a call is stable.
type CallbackFn[C, M, Q, S any] func(Q, S, *ServiceClient[C], M, *StdCallbackContext) Outcome[M]

// HandlerFn replaces the default failure classification for one call.
type HandlerFn[C, M, Q any] func(Q, error, *ServiceClient[C], M, *StdCallbackContext) Outcome[M]

// FilterFn is the lighter override: return true to keep retrying, false to
// fall back to the default classification.
type FilterFn[C, M, Q any] func(Q, error, *ServiceClient[C], M, *StdCallbackContext) bool

// Chain is the first builder stage, bound to one call identifier. Stages
// narrow as the chain is assembled; Done on the final stage runs the call
// synchronously.
type Chain[C, M any] struct {
	proxy     *Proxy
	callGraph string
	client    *ServiceClient[C]
	model     M
	cxt       *StdCallbackContext
	err       *errors.Error
}

// Initiate starts a chain for one logical call site. All arguments are
// required; a violated requirement surfaces as a FAILED(InvalidArgument)
// outcome when the chain runs.
func Initiate[C, M any](p *Proxy, callGraph string, client *ServiceClient[C], model M, cxt *StdCallbackContext) *Chain[C, M] {
	ch := &Chain[C, M]{
		proxy:     p,
		callGraph: callGraph,
		client:    client,
		model:     model,
		cxt:       cxt,
	}
	switch {
	case p == nil:
		ch.err = invalidArgument("proxy can not be nil")
	case strings.TrimSpace(callGraph) == "":
		ch.err = invalidArgument("callGraph can not be empty")
	case client == nil:
		ch.err = invalidArgument("service client can not be nil")
	case isNilValue(model):
		ch.err = invalidArgument("model can not be nil")
	case cxt == nil:
		ch.err = invalidArgument("callback context can not be nil")
	}
	return ch
}

// Request attaches the request factory and moves to the caller stage.
func Request[C, M, Q any](ch *Chain[C, M], maker RequestMakerFn[M, Q]) *Caller[C, M, Q] {
	c := &Caller[C, M, Q]{
		chain: ch,
		maker: maker,
		delay: delay.NewConstant(defaultRetryDelay, defaultRetryTimeout),
	}
	if ch.err == nil && maker == nil {
		ch.err = invalidArgument("request maker can not be nil")
	}
	return c
}

// Caller holds the request factory and the backoff policy for the call.
type Caller[C, M, Q any] struct {
	chain *Chain[C, M]
	maker RequestMakerFn[M, Q]
	delay delay.Delay
}

// Retry overrides the default backoff for this call. Last write wins; the
// policy is fixed once Call is invoked.
func (c *Caller[C, M, Q]) Retry(d delay.Delay) *Caller[C, M, Q] {
	if d != nil {
		c.delay = d
	}
	return c
}

// Call attaches the invocation function and moves to the stabilizer stage.
func Call[C, M, Q, S any](c *Caller[C, M, Q], invoke InvokeFn[C, Q, S]) *Stabilizer[C, M, Q, S] {
	s := &Stabilizer[C, M, Q, S]{caller: c, invoke: invoke}
	if c.chain.err == nil && invoke == nil {
		c.chain.err = invalidArgument("invoke function can not be nil")
	}
	return s
}

// Stabilizer is the final configurable stage: optional stabilization
// predicate and optional failure-handling override, then Done.
type Stabilizer[C, M, Q, S any] struct {
	caller  *Caller[C, M, Q]
	invoke  InvokeFn[C, Q, S]
	waitFor StabilizeFn[C, M, Q, S]
	except  HandlerFn[C, M, Q]
}

// Stabilize attaches the polling predicate. Without one, a successful
// invocation is considered stable immediately.
func (s *Stabilizer[C, M, Q, S]) Stabilize(pred StabilizeFn[C, M, Q, S]) *Stabilizer[C, M, Q, S] {
	s.waitFor = pred
	return s
}

// ExceptHandler replaces the default failure classification for this call.
func (s *Stabilizer[C, M, Q, S]) ExceptHandler(h HandlerFn[C, M, Q]) *Stabilizer[C, M, Q, S] {
	s.except = h
	return s
}

// ExceptFilter keeps retrying when the filter claims a failure; everything
// else falls back to the default classification table.
func (s *Stabilizer[C, M, Q, S]) ExceptFilter(filter FilterFn[C, M, Q]) *Stabilizer[C, M, Q, S] {
	if filter == nil {
		return s
	}
	proxy := s.caller.chain.proxy
	return s.ExceptHandler(func(req Q, err error, client *ServiceClient[C], model M, cxt *StdCallbackContext) Outcome[M] {
		if filter(req, err, client, model, cxt) {
			return Progress(model, cxt)
		}
		return defaultHandler(proxy, req, err, client, model, cxt)
	})
}

// Done finalizes the chain and executes it synchronously, blocking through
// any local waits, and returns exactly one outcome.
func (s *Stabilizer[C, M, Q, S]) Done(cb CallbackFn[C, M, Q, S]) Outcome[M] {
	return run(s, cb)
}

// DoneRes is Done for callbacks that only need the response.
func (s *Stabilizer[C, M, Q, S]) DoneRes(fn func(S) Outcome[M]) Outcome[M] {
	return s.Done(func(_ Q, res S, _ *ServiceClient[C], _ M, _ *StdCallbackContext) Outcome[M] {
		return fn(res)
	})
}

// isNilValue reports whether a generic model is a typed nil.
func isNilValue(v any) bool {
	if v == nil {
		return true
	}
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Ptr, reflect.Interface, reflect.Map, reflect.Slice, reflect.Chan, reflect.Func:
		return rv.IsNil()
	default:
		return false
	}
}
