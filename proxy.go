// Package callchain is the call-orchestration layer resource handlers use to
// invoke a remote management API, wait for the change to stabilize, and
// classify failures into a small taxonomy. A chain is built fluently from a
// domain model, executed synchronously, and either finishes with a terminal
// outcome or suspends itself when the host's invocation budget cannot cover
// another local wait.
package callchain

import (
	"context"
	"math"
	"time"
)

// Credentials are the caller-scoped session credentials injected into
// outgoing requests.
type Credentials struct {
	AccessKeyID     string
	SecretAccessKey string
	SessionToken    string
}

// CredentialCarrier is implemented by request types that accept scoped
// credentials. Requests that do not implement it pass through untouched.
type CredentialCarrier interface {
	SetCredentials(*Credentials)
}

// Proxy owns the cross-call pieces of the engine: the credentials to inject,
// the live remaining-time supplier, the handshake flag, and the logger.
type Proxy struct {
	creds     Credentials
	remaining func() time.Duration
	handshake bool
	logger    Logger
}

type Option func(*Proxy)

func WithLogger(l Logger) Option {
	return func(p *Proxy) {
		if l != nil {
			p.logger = l
		}
	}
}

// WithHandshakeMode puts the proxy in the pre-check phase that never waits
// locally: every non-terminal iteration suspends with a fixed short hint.
func WithHandshakeMode(on bool) Option {
	return func(p *Proxy) {
		p.handshake = on
	}
}

// New constructs a proxy. remaining must report the host's decreasing
// execution budget; when nil the budget is treated as unbounded.
func New(creds Credentials, remaining func() time.Duration, opts ...Option) *Proxy {
	p := &Proxy{
		creds:     creds,
		remaining: remaining,
		logger:    NewFmtLogger(nil),
	}
	if p.remaining == nil {
		p.remaining = func() time.Duration { return math.MaxInt64 / 2 }
	}
	for _, o := range opts {
		if o != nil {
			o(p)
		}
	}
	return p
}

// NewHandshakeProxy is New with handshake mode enabled.
func NewHandshakeProxy(creds Credentials, remaining func() time.Duration, opts ...Option) *Proxy {
	return New(creds, remaining, append(opts, WithHandshakeMode(true))...)
}

// RemainingTime reports the wall-clock budget left in the current host
// invocation.
func (p *Proxy) RemainingTime() time.Duration {
	return p.remaining()
}

func (p *Proxy) log() Logger {
	if p.logger == nil {
		return NewFmtLogger(nil)
	}
	return p.logger
}

// ServiceClient wraps a remote client factory so invocation functions can
// reach the raw client while the proxy injects credentials around each call.
type ServiceClient[C any] struct {
	proxy   *Proxy
	factory func() C
}

// NewServiceClient binds a client factory to the proxy.
func NewServiceClient[C any](p *Proxy, factory func() C) *ServiceClient[C] {
	return &ServiceClient[C]{proxy: p, factory: factory}
}

// Client returns the underlying remote client.
func (s *ServiceClient[C]) Client() C {
	return s.factory()
}

func (s *ServiceClient[C]) applyCredentials(req any) {
	if cc, ok := req.(CredentialCarrier); ok {
		creds := s.proxy.creds
		cc.SetCredentials(&creds)
	}
}

func (s *ServiceClient[C]) clearCredentials(req any) {
	if cc, ok := req.(CredentialCarrier); ok {
		cc.SetCredentials(nil)
	}
}

// InjectCredentialsAndInvoke runs a synchronous remote call with the proxy
// credentials applied to the request for the duration of the call. Failures
// are logged and returned as-is.
func InjectCredentialsAndInvoke[C, Q, S any](sc *ServiceClient[C], req Q, fn func(Q) (S, error)) (S, error) {
	sc.applyCredentials(req)
	defer sc.clearCredentials(req)

	res, err := fn(req)
	if err != nil {
		sc.proxy.log().Error("failed to execute remote function: %v", err)
		var zero S
		return zero, err
	}
	return res, nil
}

// Async is a channel-backed future for an in-flight remote call.
type Async[S any] struct {
	ch chan asyncResult[S]
}

type asyncResult[S any] struct {
	value S
	err   error
}

// Await blocks until the call finishes or ctx is done.
func (a *Async[S]) Await(ctx context.Context) (S, error) {
	select {
	case r := <-a.ch:
		return r.value, r.err
	case <-ctx.Done():
		var zero S
		return zero, ctx.Err()
	}
}

// InjectCredentialsAndInvokeAsync runs the call on its own goroutine with
// the same credential scoping as the synchronous variant.
func InjectCredentialsAndInvokeAsync[C, Q, S any](sc *ServiceClient[C], req Q, fn func(Q) (S, error)) *Async[S] {
	ch := make(chan asyncResult[S], 1)
	sc.applyCredentials(req)
	go func() {
		defer sc.clearCredentials(req)
		res, err := fn(req)
		if err != nil {
			sc.proxy.log().Error("failed to execute remote function: %v", err)
		}
		ch <- asyncResult[S]{value: res, err: err}
	}()
	return &Async[S]{ch: ch}
}

// InjectCredentialsAndInvokePages runs a paginated call; the wrapped request
// carries the credential override across every page fetch the function
// performs.
func InjectCredentialsAndInvokePages[C, Q, S any](sc *ServiceClient[C], req Q, fn func(Q) ([]S, error)) ([]S, error) {
	sc.applyCredentials(req)
	defer sc.clearCredentials(req)

	pages, err := fn(req)
	if err != nil {
		sc.proxy.log().Error("failed to execute remote function: %v", err)
		return nil, err
	}
	return pages, nil
}

// defaultHandler is the engine's built-in failure classifier: it turns the
// Classify table into outcomes and logs retryable cases before letting the
// loop back off.
func defaultHandler[C, M, Q any](p *Proxy, _ Q, err error, _ *ServiceClient[C], model M, cxt *StdCallbackContext) Outcome[M] {
	cl := Classify(err)
	if cl.Retry {
		p.log().Warn("retrying for error %s", cl.Message)
		return Progress(model, cxt)
	}
	return Failed(model, cxt, cl.Code, cl.Message)
}
