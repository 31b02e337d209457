package callchain

import (
	"encoding/json"
	"sync"

	"github.com/goliatone/go-errors"
)

// StdCallbackContext memoizes per-call progress so an orchestration can
// suspend and resume without redoing work: the last built request, the last
// response, whether stabilization already passed, and the attempt counter,
// all keyed by call identifier. It is owned by a single orchestration
// instance and must round-trip through JSON when the host persists it.
type StdCallbackContext struct {
	mu    sync.Mutex
	calls map[string]*callRecord
}

type callRecord struct {
	request     any
	hasRequest  bool
	response    any
	hasResponse bool
	stabilized  bool
	attempts    int
}

func NewStdCallbackContext() *StdCallbackContext {
	return &StdCallbackContext{calls: map[string]*callRecord{}}
}

func (c *StdCallbackContext) record(id string) *callRecord {
	if c.calls == nil {
		c.calls = map[string]*callRecord{}
	}
	rec, ok := c.calls[id]
	if !ok {
		rec = &callRecord{attempts: 1}
		c.calls[id] = rec
	}
	return rec
}

// Attempts returns the retry counter for the call identifier. Counters
// start at 1 for a call that was never attempted.
func (c *StdCallbackContext) Attempts(id string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.record(id).attempts
}

// SetAttempts persists the retry counter. The loop writes it before every
// local wait so a crash mid-sleep resumes at the right attempt.
func (c *StdCallbackContext) SetAttempts(id string, n int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.record(id).attempts = n
}

// EvictRequestRecord drops the cached request and response for the call
// identifier. The loop evicts whenever an attempt ends without a response,
// so a resume never replays a request whose invocation never completed.
func (c *StdCallbackContext) EvictRequestRecord(id string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	rec, ok := c.calls[id]
	if !ok {
		return
	}
	rec.request = nil
	rec.hasRequest = false
	rec.response = nil
	rec.hasResponse = false
}

// Stabilized reports whether a stabilization check already passed for the
// call identifier.
func (c *StdCallbackContext) Stabilized(id string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	rec, ok := c.calls[id]
	return ok && rec.stabilized
}

func (c *StdCallbackContext) setStabilized(id string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.record(id).stabilized = true
}

// MemoizeRequest wraps a request factory so it runs at most once per
// orchestration instance; later calls return the cached request. A context
// rehydrated from JSON holds the request as raw bytes and decodes it
// lazily on first use.
func MemoizeRequest[M, Q any](c *StdCallbackContext, id string, maker func(M) (Q, error)) func(M) (Q, error) {
	return func(model M) (Q, error) {
		c.mu.Lock()
		rec := c.record(id)
		if rec.hasRequest {
			if q, ok, err := cachedValue[Q](&rec.request); ok || err != nil {
				c.mu.Unlock()
				return q, err
			}
		}
		c.mu.Unlock()

		q, err := maker(model)
		if err != nil {
			return q, err
		}

		c.mu.Lock()
		rec = c.record(id)
		rec.request = q
		rec.hasRequest = true
		c.mu.Unlock()
		return q, nil
	}
}

// MemoizeResponse wraps an invocation function with the same once-per-run
// caching as MemoizeRequest, keyed on the same call identifier.
func MemoizeResponse[C, Q, S any](c *StdCallbackContext, id string, invoke func(Q, *ServiceClient[C]) (S, error)) func(Q, *ServiceClient[C]) (S, error) {
	return func(req Q, client *ServiceClient[C]) (S, error) {
		c.mu.Lock()
		rec := c.record(id)
		if rec.hasResponse {
			if s, ok, err := cachedValue[S](&rec.response); ok || err != nil {
				c.mu.Unlock()
				return s, err
			}
		}
		c.mu.Unlock()

		s, err := invoke(req, client)
		if err != nil {
			return s, err
		}

		c.mu.Lock()
		rec = c.record(id)
		rec.response = s
		rec.hasResponse = true
		c.mu.Unlock()
		return s, nil
	}
}

// MemoizeStabilize wraps a stabilization predicate so that once it reports
// true for a call identifier, it is never evaluated again, including after
// a suspend/resume cycle.
func MemoizeStabilize[C, M, Q, S any](c *StdCallbackContext, id string, pred StabilizeFn[C, M, Q, S]) StabilizeFn[C, M, Q, S] {
	return func(req Q, res S, client *ServiceClient[C], model M, cxt *StdCallbackContext) (bool, error) {
		if c.Stabilized(id) {
			return true, nil
		}
		ok, err := pred(req, res, client, model, cxt)
		if err != nil {
			return false, err
		}
		if ok {
			c.setStabilized(id)
		}
		return ok, nil
	}
}

// cachedValue resolves a memoized slot that is either an in-memory value of
// type T or raw JSON left behind by rehydration. Decoded values replace the
// raw form in place.
func cachedValue[T any](slot *any) (T, bool, error) {
	var zero T
	if raw, ok := (*slot).(json.RawMessage); ok {
		var v T
		if err := json.Unmarshal(raw, &v); err != nil {
			return zero, false, errors.Wrap(err, errors.CategoryHandler, "decode memoized record")
		}
		*slot = v
		return v, true, nil
	}
	if v, ok := (*slot).(T); ok {
		return v, true, nil
	}
	return zero, false, nil
}

type callRecordJSON struct {
	Request     json.RawMessage `json:"request,omitempty"`
	HasRequest  bool            `json:"has_request,omitempty"`
	Response    json.RawMessage `json:"response,omitempty"`
	HasResponse bool            `json:"has_response,omitempty"`
	Stabilized  bool            `json:"stabilized,omitempty"`
	Attempts    int             `json:"attempts,omitempty"`
}

func (c *StdCallbackContext) MarshalJSON() ([]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make(map[string]callRecordJSON, len(c.calls))
	for id, rec := range c.calls {
		enc := callRecordJSON{
			HasRequest:  rec.hasRequest,
			HasResponse: rec.hasResponse,
			Stabilized:  rec.stabilized,
			Attempts:    rec.attempts,
		}
		if rec.hasRequest && rec.request != nil {
			raw, err := json.Marshal(rec.request)
			if err != nil {
				return nil, errors.Wrap(err, errors.CategoryHandler, "encode memoized request")
			}
			enc.Request = raw
		}
		if rec.hasResponse && rec.response != nil {
			raw, err := json.Marshal(rec.response)
			if err != nil {
				return nil, errors.Wrap(err, errors.CategoryHandler, "encode memoized response")
			}
			enc.Response = raw
		}
		out[id] = enc
	}
	return json.Marshal(out)
}

func (c *StdCallbackContext) UnmarshalJSON(data []byte) error {
	var in map[string]callRecordJSON
	if err := json.Unmarshal(data, &in); err != nil {
		return errors.Wrap(err, errors.CategoryHandler, "decode callback context")
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls = make(map[string]*callRecord, len(in))
	for id, enc := range in {
		rec := &callRecord{
			hasRequest:  enc.HasRequest,
			hasResponse: enc.HasResponse,
			stabilized:  enc.Stabilized,
			attempts:    enc.Attempts,
		}
		if rec.attempts == 0 {
			rec.attempts = 1
		}
		if enc.HasRequest {
			rec.request = json.RawMessage(enc.Request)
		}
		if enc.HasResponse {
			rec.response = json.RawMessage(enc.Response)
		}
		c.calls[id] = rec
	}
	return nil
}
