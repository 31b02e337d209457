package callchain

import (
	stderrors "errors"
	"fmt"
	"net/http"
)

// Classification is the engine's verdict on a failure. Retry means the
// attempt is worth repeating after backoff; otherwise Code and Message
// describe the terminal failure.
type Classification struct {
	Code    string
	Message string
	Retry   bool
}

// Classify maps a failure to the default outcome table. Custom per-call
// handlers may override any subset of this mapping; filter-style overrides
// fall back here for cases they decline.
func Classify(err error) Classification {
	var nre *NonRetryableError
	if stderrors.As(err, &nre) {
		// client side validation failure, nothing to retry
		return Classification{Code: ErrCodeInvalidRequest, Message: nre.Error()}
	}

	var se *ServiceError
	if stderrors.As(err, &se) {
		msg := fmt.Sprintf("Code(%s), %s", se.Code, se.Message)
		switch se.StatusCode {
		case http.StatusBadRequest:
			return Classification{Code: ErrCodeInvalidRequest, Message: msg}

		case http.StatusUnauthorized,
			http.StatusForbidden,
			http.StatusNetworkAuthenticationRequired:
			return Classification{Code: ErrCodeAccessDenied, Message: msg}

		case http.StatusNotFound, http.StatusGone:
			return Classification{Code: ErrCodeNotFound, Message: msg}

		case http.StatusServiceUnavailable,
			http.StatusGatewayTimeout,
			http.StatusTooManyRequests:
			// throttles and transient service faults recover via the loop
			return Classification{Message: se.Message, Retry: true}

		default:
			return Classification{Code: ErrCodeGeneralServiceException, Message: msg}
		}
	}

	return Classification{Code: ErrCodeInternalFailure, Message: err.Error()}
}
