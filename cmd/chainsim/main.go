// chainsim drives a simulated resource create through the call chain so the
// retry, stabilization, and suspend behavior can be observed locally with
// different delay policies and invocation budgets.
package main

import (
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/alecthomas/kong"

	callchain "github.com/goliatone/go-callchain"
	"github.com/goliatone/go-callchain/delay"
)

var cli struct {
	Kind      string        `help:"Delay policy kind." enum:"constant,exponential,multiple" default:"constant"`
	Delay     time.Duration `help:"Base delay between attempts." default:"200ms"`
	Timeout   time.Duration `help:"Total retry budget for the policy." default:"30s"`
	Budget    time.Duration `help:"Simulated invocation budget per run." default:"10s"`
	Failures  int           `help:"Throttled responses before the create is accepted." default:"1"`
	Polls     int           `help:"Stabilization polls before the resource is ready." default:"2"`
	Handshake bool          `help:"Run in the pre-check phase that never waits locally."`
}

type simModel struct {
	Name string `json:"name"`
}

type simRequest struct {
	Name  string `json:"name"`
	creds *callchain.Credentials
}

func (r *simRequest) SetCredentials(c *callchain.Credentials) { r.creds = c }

type simResponse struct {
	ID string `json:"id"`
}

// simService accepts a create after a configured number of throttles, then
// reports the resource in-progress for a configured number of polls.
type simService struct {
	failuresLeft int
	pollsLeft    int
	creates      int
	checks       int
}

func (s *simService) Create(req *simRequest) (*simResponse, error) {
	s.creates++
	if req.creds == nil {
		return nil, &callchain.NonRetryableError{Err: fmt.Errorf("request sent without credentials")}
	}
	if s.failuresLeft > 0 {
		s.failuresLeft--
		return nil, &callchain.ServiceError{
			StatusCode: http.StatusTooManyRequests,
			Code:       "Throttling",
			Message:    "rate exceeded",
		}
	}
	return &simResponse{ID: "sim-" + req.Name}, nil
}

func (s *simService) Ready(id string) bool {
	s.checks++
	if s.pollsLeft > 0 {
		s.pollsLeft--
		return false
	}
	return true
}

func buildDelay() delay.Delay {
	switch cli.Kind {
	case "exponential":
		return delay.Exponential{Base: cli.Delay, Factor: 2, Timeout: cli.Timeout}
	case "multiple":
		return delay.MultipleOf{Delay: cli.Delay, Timeout: cli.Timeout}
	default:
		return delay.NewConstant(cli.Delay, cli.Timeout)
	}
}

func main() {
	kong.Parse(&cli,
		kong.Name("chainsim"),
		kong.Description("Simulate a stabilizing remote call through the call chain."),
	)

	svc := &simService{failuresLeft: cli.Failures, pollsLeft: cli.Polls}
	model := simModel{Name: "demo"}
	cxt := callchain.NewStdCallbackContext()
	creds := callchain.Credentials{AccessKeyID: "SIMACCESS", SecretAccessKey: "simsecret", SessionToken: "simtoken"}
	policy := buildDelay()

	invocation := 0
	runOnce := func() callchain.Outcome[simModel] {
		invocation++
		start := time.Now()
		remaining := func() time.Duration { return cli.Budget - time.Since(start) }

		var proxy *callchain.Proxy
		if cli.Handshake {
			proxy = callchain.NewHandshakeProxy(creds, remaining)
		} else {
			proxy = callchain.New(creds, remaining)
		}
		client := callchain.NewServiceClient(proxy, func() *simService { return svc })

		out := callchain.Call(
			callchain.Request(
				callchain.Initiate(proxy, "chainsim::create", client, model, cxt),
				func(m simModel) (*simRequest, error) {
					return &simRequest{Name: m.Name}, nil
				},
			).Retry(policy),
			func(req *simRequest, c *callchain.ServiceClient[*simService]) (*simResponse, error) {
				return callchain.InjectCredentialsAndInvoke(c, req, c.Client().Create)
			},
		).Stabilize(
			func(_ *simRequest, res *simResponse, c *callchain.ServiceClient[*simService], _ simModel, _ *callchain.StdCallbackContext) (bool, error) {
				return c.Client().Ready(res.ID), nil
			},
		).DoneRes(func(res *simResponse) callchain.Outcome[simModel] {
			return callchain.Success(simModel{Name: res.ID})
		})

		fmt.Printf("invocation %d: status=%s code=%s hint=%ds creates=%d checks=%d\n",
			invocation, out.Status, out.ErrorCode, out.CallbackDelaySeconds, svc.creates, svc.checks)
		return out
	}

	// compress resume hints so the simulation stays interactive
	harness := callchain.NewHarness(
		callchain.WithMaxResumes(10),
		callchain.WithSleeper(func(time.Duration) { time.Sleep(200 * time.Millisecond) }),
	)
	out := callchain.Drive(harness, runOnce)

	if !out.IsSuccess() {
		fmt.Printf("finished without success: %s %s\n", out.ErrorCode, out.Message)
		os.Exit(1)
	}
	fmt.Printf("resource ready: %s\n", out.Model.Name)
}
