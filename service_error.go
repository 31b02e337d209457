package callchain

import "fmt"

// ServiceError is the failure shape the injected client is expected to
// return for remote-service errors. The default classifier keys off the
// HTTP status code; Code and Message travel into the failed outcome text.
type ServiceError struct {
	StatusCode int
	Code       string
	Message    string
	Err        error
}

func (e *ServiceError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("service error %d: Code(%s), %s", e.StatusCode, e.Code, e.Message)
	}
	return fmt.Sprintf("service error %d: %s", e.StatusCode, e.Message)
}

func (e *ServiceError) Unwrap() error { return e.Err }

// NonRetryableError marks a client-side failure that must never be retried.
// The classifier maps it straight to InvalidRequest.
type NonRetryableError struct {
	Err error
}

func (e *NonRetryableError) Error() string {
	if e.Err != nil {
		return e.Err.Error()
	}
	return "non retryable failure"
}

func (e *NonRetryableError) Unwrap() error { return e.Err }
