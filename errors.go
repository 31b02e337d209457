package callchain

import (
	"github.com/goliatone/go-errors"
)

// Handler error codes surfaced on failed outcomes. Hosts key their state
// machines off these values, so they are stable strings rather than error
// values.
const (
	ErrCodeInvalidArgument         = "InvalidArgument"
	ErrCodeInvalidRequest          = "InvalidRequest"
	ErrCodeAccessDenied            = "AccessDenied"
	ErrCodeNotFound                = "NotFound"
	ErrCodeGeneralServiceException = "GeneralServiceException"
	ErrCodeInternalFailure         = "InternalFailure"
	ErrCodeNotStabilized           = "NotStabilized"
)

var (
	ErrInvalidArgument = errors.New("invalid argument", errors.CategoryValidation).
				WithTextCode(ErrCodeInvalidArgument)
	ErrInvalidRequest = errors.New("invalid request", errors.CategoryValidation).
				WithTextCode(ErrCodeInvalidRequest)
	ErrAccessDenied = errors.New("access denied", errors.CategoryBadInput).
			WithTextCode(ErrCodeAccessDenied)
	ErrNotFound = errors.New("resource not found", errors.CategoryBadInput).
			WithTextCode(ErrCodeNotFound)
	ErrGeneralService = errors.New("service call failed", errors.CategoryExternal).
				WithTextCode(ErrCodeGeneralServiceException)
	ErrInternalFailure = errors.New("internal failure", errors.CategoryHandler).
				WithTextCode(ErrCodeInternalFailure)
	ErrNotStabilized = errors.New("resource not stabilized", errors.CategoryHandler).
				WithTextCode(ErrCodeNotStabilized)
)

func invalidArgument(message string) *errors.Error {
	err := ErrInvalidArgument.Clone()
	err.Message = message
	return err
}
