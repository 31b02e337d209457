package callchain

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/goliatone/go-callchain/delay"
)

func TestStabilizePollsUntilTrue(t *testing.T) {
	p, client := newTestProxy(nil)
	cxt := NewStdCallbackContext()
	makerCalls, invokeCalls, polls := 0, 0, 0

	start := time.Now()
	out := Call(
		Request(Initiate(p, "db::restore", client, testModel{Name: "db"}, cxt),
			func(m testModel) (*testRequest, error) {
				makerCalls++
				return &testRequest{Name: m.Name}, nil
			}).
			Retry(delay.NewConstant(5*time.Millisecond, time.Minute)),
		func(req *testRequest, sc *ServiceClient[*fakeSDK]) (*testResponse, error) {
			invokeCalls++
			return succeed(req, sc)
		},
	).Stabilize(
		func(*testRequest, *testResponse, *ServiceClient[*fakeSDK], testModel, *StdCallbackContext) (bool, error) {
			polls++
			return polls >= 3, nil
		},
	).Done(successCallback)

	if !out.IsSuccess() {
		t.Fatalf("expected SUCCESS, got %s/%s %s", out.Status, out.ErrorCode, out.Message)
	}
	if makerCalls != 1 || invokeCalls != 1 {
		t.Fatalf("request/invoke must be memoized across polls, got %d/%d", makerCalls, invokeCalls)
	}
	if polls != 3 {
		t.Fatalf("expected 3 polls, got %d", polls)
	}
	if n := cxt.Attempts("db::restore"); n != 3 {
		t.Fatalf("expected attempt counter to end at 3, got %d", n)
	}
	if elapsed := time.Since(start); elapsed < 10*time.Millisecond {
		t.Fatalf("expected two local waits, finished in %s", elapsed)
	}
}

func TestThrottledInvocationExhaustsIntoNotStabilized(t *testing.T) {
	p, client := newTestProxy(nil)
	cxt := NewStdCallbackContext()
	invokes := 0

	out := Call(
		Request(Initiate(p, "db::create", client, testModel{Name: "db"}, cxt), makeRequest).
			Retry(delay.NewConstant(time.Millisecond, 3*time.Millisecond)),
		func(*testRequest, *ServiceClient[*fakeSDK]) (*testResponse, error) {
			invokes++
			return nil, &ServiceError{StatusCode: http.StatusServiceUnavailable, Code: "Unavailable", Message: "try later"}
		},
	).Done(successCallback)

	if !out.IsFailed() || out.ErrorCode != ErrCodeNotStabilized {
		t.Fatalf("expected FAILED(NotStabilized), got %s/%s", out.Status, out.ErrorCode)
	}
	if !strings.Contains(out.Message, "Exceeded attempts") {
		t.Fatalf("expected exceeded-attempts message, got %q", out.Message)
	}
	if invokes != 4 {
		t.Fatalf("expected 4 invocations before exhaustion, got %d", invokes)
	}
}

func TestBudgetEqualToLocalWaitSuspends(t *testing.T) {
	// remaining == next + overhead: elapsed pushes the local wait to or past
	// the budget, and only a strictly larger budget may wait locally
	p, client := newTestProxy(func() time.Duration { return 150 * time.Millisecond })
	cxt := NewStdCallbackContext()

	out := Call(
		Request(Initiate(p, "db::modify", client, testModel{Name: "db"}, cxt), makeRequest).
			Retry(delay.NewConstant(50*time.Millisecond, time.Hour)),
		succeed,
	).Stabilize(
		func(*testRequest, *testResponse, *ServiceClient[*fakeSDK], testModel, *StdCallbackContext) (bool, error) {
			return false, nil
		},
	).Done(successCallback)

	if out.Status != StatusInProgress {
		t.Fatalf("expected IN_PROGRESS suspension, got %s/%s", out.Status, out.ErrorCode)
	}
	if out.CallbackDelaySeconds != 60 {
		t.Fatalf("expected 60s resume hint floor, got %d", out.CallbackDelaySeconds)
	}
	if n := cxt.Attempts("db::modify"); n != 2 {
		t.Fatalf("expected attempt persisted before suspension, got %d", n)
	}
}

func TestAmpleBudgetWaitsLocally(t *testing.T) {
	p, client := newTestProxy(nil)
	cxt := NewStdCallbackContext()
	polls := 0

	out := Call(
		Request(Initiate(p, "db::modify", client, testModel{Name: "db"}, cxt), makeRequest).
			Retry(delay.NewConstant(5*time.Millisecond, time.Minute)),
		succeed,
	).Stabilize(
		func(*testRequest, *testResponse, *ServiceClient[*fakeSDK], testModel, *StdCallbackContext) (bool, error) {
			polls++
			return polls >= 2, nil
		},
	).Done(successCallback)

	if !out.IsSuccess() {
		t.Fatalf("expected local wait then SUCCESS, got %s/%s", out.Status, out.ErrorCode)
	}
}

func TestSuspendHintUsesDelayWhenAboveFloor(t *testing.T) {
	p, client := newTestProxy(func() time.Duration { return 0 })
	cxt := NewStdCallbackContext()

	out := Call(
		Request(Initiate(p, "db::restore", client, testModel{Name: "db"}, cxt), makeRequest).
			Retry(delay.NewConstant(2*time.Minute, time.Hour)),
		succeed,
	).Stabilize(
		func(*testRequest, *testResponse, *ServiceClient[*fakeSDK], testModel, *StdCallbackContext) (bool, error) {
			return false, nil
		},
	).Done(successCallback)

	if out.Status != StatusInProgress || out.CallbackDelaySeconds != 120 {
		t.Fatalf("expected 120s hint, got %s/%d", out.Status, out.CallbackDelaySeconds)
	}
}

func TestHandshakeModeNeverWaitsLocally(t *testing.T) {
	creds := Credentials{AccessKeyID: "AKID", SecretAccessKey: "secret", SessionToken: "token"}
	p := NewHandshakeProxy(creds, ampleBudget)
	client := NewServiceClient(p, func() *fakeSDK { return &fakeSDK{} })
	cxt := NewStdCallbackContext()

	start := time.Now()
	out := Call(
		Request(Initiate(p, "db::precheck", client, testModel{Name: "db"}, cxt), makeRequest),
		succeed,
	).Stabilize(
		func(*testRequest, *testResponse, *ServiceClient[*fakeSDK], testModel, *StdCallbackContext) (bool, error) {
			return false, nil
		},
	).Done(successCallback)

	if out.Status != StatusInProgress || out.CallbackDelaySeconds != 60 {
		t.Fatalf("expected fixed 60s in-progress, got %s/%d", out.Status, out.CallbackDelaySeconds)
	}
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Fatalf("handshake mode must not sleep, took %s", elapsed)
	}
	if n := cxt.Attempts("db::precheck"); n != 1 {
		t.Fatalf("handshake returns before the retry decision, attempts = %d", n)
	}
}

func TestResumeSkipsCompletedSteps(t *testing.T) {
	cxt := NewStdCallbackContext()
	makerCalls, invokeCalls := 0, 0
	stable := false

	runOnce := func(remaining func() time.Duration) Outcome[testModel] {
		p, client := newTestProxy(remaining)
		return Call(
			Request(Initiate(p, "db::restore", client, testModel{Name: "db"}, cxt),
				func(m testModel) (*testRequest, error) {
					makerCalls++
					return &testRequest{Name: m.Name}, nil
				}).
				Retry(delay.NewConstant(30*time.Second, time.Hour)),
			func(req *testRequest, sc *ServiceClient[*fakeSDK]) (*testResponse, error) {
				invokeCalls++
				return succeed(req, sc)
			},
		).Stabilize(
			func(*testRequest, *testResponse, *ServiceClient[*fakeSDK], testModel, *StdCallbackContext) (bool, error) {
				return stable, nil
			},
		).Done(successCallback)
	}

	out := runOnce(func() time.Duration { return time.Second })
	if out.Status != StatusInProgress {
		t.Fatalf("expected suspension on thin budget, got %s", out.Status)
	}
	attempts := cxt.Attempts("db::restore")
	if attempts < 2 {
		t.Fatalf("expected attempts to advance before suspension, got %d", attempts)
	}

	stable = true
	out = runOnce(ampleBudget)
	if !out.IsSuccess() {
		t.Fatalf("expected SUCCESS on resume, got %s/%s", out.Status, out.ErrorCode)
	}
	if makerCalls != 1 || invokeCalls != 1 {
		t.Fatalf("resume must reuse memoized request/response, got %d/%d", makerCalls, invokeCalls)
	}
	if got := cxt.Attempts("db::restore"); got < attempts {
		t.Fatalf("attempt counter went backwards: %d -> %d", attempts, got)
	}
}

func TestOrchestrationSurvivesContextSerialization(t *testing.T) {
	cxt := NewStdCallbackContext()
	polls := 0

	runOnce := func(cxt *StdCallbackContext, remaining func() time.Duration) Outcome[testModel] {
		p, client := newTestProxy(remaining)
		return Call(
			Request(Initiate(p, "db::restore", client, testModel{Name: "db"}, cxt), makeRequest).
				Retry(delay.NewConstant(30*time.Second, time.Hour)),
			succeed,
		).Stabilize(
			func(*testRequest, *testResponse, *ServiceClient[*fakeSDK], testModel, *StdCallbackContext) (bool, error) {
				polls++
				return polls >= 2, nil
			},
		).Done(successCallback)
	}

	out := runOnce(cxt, func() time.Duration { return time.Second })
	if out.Status != StatusInProgress {
		t.Fatalf("expected suspension, got %s", out.Status)
	}

	raw, err := json.Marshal(cxt)
	if err != nil {
		t.Fatalf("marshal context: %v", err)
	}
	restored := NewStdCallbackContext()
	if err := json.Unmarshal(raw, restored); err != nil {
		t.Fatalf("unmarshal context: %v", err)
	}
	if restored.Attempts("db::restore") != cxt.Attempts("db::restore") {
		t.Fatalf("attempts lost in round trip")
	}

	out = runOnce(restored, ampleBudget)
	if !out.IsSuccess() {
		t.Fatalf("expected SUCCESS after rehydration, got %s/%s %s", out.Status, out.ErrorCode, out.Message)
	}
	if polls != 2 {
		t.Fatalf("expected exactly 2 polls across both invocations, got %d", polls)
	}
}

func TestFailedInvocationEvictsCachedRequest(t *testing.T) {
	cxt := NewStdCallbackContext()
	makerCalls := 0
	fail := true

	runOnce := func() Outcome[testModel] {
		p, client := newTestProxy(nil)
		return Call(
			Request(Initiate(p, "db::create", client, testModel{Name: "db"}, cxt),
				func(m testModel) (*testRequest, error) {
					makerCalls++
					return &testRequest{Name: m.Name}, nil
				}),
			func(req *testRequest, sc *ServiceClient[*fakeSDK]) (*testResponse, error) {
				if fail {
					return nil, &ServiceError{StatusCode: http.StatusBadRequest, Code: "Validation", Message: "bad name"}
				}
				return succeed(req, sc)
			},
		).Done(successCallback)
	}

	out := runOnce()
	if !out.IsFailed() || out.ErrorCode != ErrCodeInvalidRequest {
		t.Fatalf("expected FAILED(InvalidRequest), got %s/%s", out.Status, out.ErrorCode)
	}

	fail = false
	out = runOnce()
	if !out.IsSuccess() {
		t.Fatalf("expected SUCCESS on retry, got %s/%s", out.Status, out.ErrorCode)
	}
	if makerCalls != 2 {
		t.Fatalf("failed attempt must evict the cached request, maker ran %d times", makerCalls)
	}
}

func TestPanicInRequestFactoryBecomesInternalFailure(t *testing.T) {
	p, client := newTestProxy(nil)
	cxt := NewStdCallbackContext()

	out := Call(
		Request(Initiate(p, "db::create", client, testModel{Name: "db"}, cxt),
			func(testModel) (*testRequest, error) {
				panic("boom")
			}),
		succeed,
	).Done(successCallback)

	if !out.IsFailed() || out.ErrorCode != ErrCodeInternalFailure {
		t.Fatalf("expected FAILED(InternalFailure), got %s/%s", out.Status, out.ErrorCode)
	}
	if !strings.Contains(out.Message, "boom") {
		t.Fatalf("expected panic detail in message, got %q", out.Message)
	}
}

func TestInjectCredentialsAndInvokeScopesCredentials(t *testing.T) {
	_, client := newTestProxy(nil)
	req := &testRequest{Name: "web"}
	var seen *Credentials

	res, err := InjectCredentialsAndInvoke(client, req, func(r *testRequest) (*testResponse, error) {
		seen = r.creds
		return &testResponse{ID: "ok"}, nil
	})
	if err != nil || res.ID != "ok" {
		t.Fatalf("unexpected result: %v %v", res, err)
	}
	if seen == nil || seen.AccessKeyID != "AKID" {
		t.Fatalf("expected scoped credentials during call, got %+v", seen)
	}
	if req.creds != nil {
		t.Fatalf("expected credentials cleared after call")
	}
}

func TestInjectCredentialsAndInvokeClearsOnError(t *testing.T) {
	_, client := newTestProxy(nil)
	req := &testRequest{Name: "web"}
	wantErr := errors.New("nope")

	_, err := InjectCredentialsAndInvoke(client, req, func(*testRequest) (*testResponse, error) {
		return nil, wantErr
	})
	if !errors.Is(err, wantErr) {
		t.Fatalf("expected error surfaced, got %v", err)
	}
	if req.creds != nil {
		t.Fatalf("expected credentials cleared after failed call")
	}
}

func TestInjectCredentialsAndInvokeAsync(t *testing.T) {
	_, client := newTestProxy(nil)
	req := &testRequest{Name: "web"}

	fut := InjectCredentialsAndInvokeAsync(client, req, func(r *testRequest) (*testResponse, error) {
		if r.creds == nil {
			return nil, errors.New("missing credentials")
		}
		return &testResponse{ID: "async"}, nil
	})
	res, err := fut.Await(context.Background())
	if err != nil || res.ID != "async" {
		t.Fatalf("unexpected async result: %v %v", res, err)
	}
}

func TestAsyncAwaitHonorsContext(t *testing.T) {
	_, client := newTestProxy(nil)
	req := &testRequest{Name: "web"}
	release := make(chan struct{})

	fut := InjectCredentialsAndInvokeAsync(client, req, func(*testRequest) (*testResponse, error) {
		<-release
		return &testResponse{ID: "late"}, nil
	})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := fut.Await(ctx); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context cancellation, got %v", err)
	}
	close(release)
}

func TestInjectCredentialsAndInvokePages(t *testing.T) {
	_, client := newTestProxy(nil)
	req := &testRequest{Name: "web"}

	pages, err := InjectCredentialsAndInvokePages(client, req, func(r *testRequest) ([]*testResponse, error) {
		if r.creds == nil {
			return nil, errors.New("missing credentials")
		}
		return []*testResponse{{ID: "p1"}, {ID: "p2"}}, nil
	})
	if err != nil || len(pages) != 2 {
		t.Fatalf("unexpected pages: %v %v", pages, err)
	}
	if req.creds != nil {
		t.Fatalf("expected credentials cleared after paging")
	}
}
