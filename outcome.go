package callchain

// Status identifies where an orchestration step landed after one invocation.
type Status string

const (
	StatusInProgress Status = "IN_PROGRESS"
	StatusSuccess    Status = "SUCCESS"
	StatusFailed     Status = "FAILED"
)

// Outcome is the tri-state result produced by a call chain. StatusSuccess and
// StatusFailed are terminal; StatusInProgress means the host must re-invoke
// the orchestration with the same callback context, no sooner than
// CallbackDelaySeconds from now.
type Outcome[M any] struct {
	Status          Status
	Model           M
	CallbackContext *StdCallbackContext

	// CallbackDelaySeconds hints when the host should resume. Zero means the
	// engine itself may keep going within the current invocation.
	CallbackDelaySeconds int

	ErrorCode string
	Message   string
}

// Progress marks an attempt as retryable: not terminal, no suspension hint.
func Progress[M any](model M, cxt *StdCallbackContext) Outcome[M] {
	return Outcome[M]{
		Status:          StatusInProgress,
		Model:           model,
		CallbackContext: cxt,
	}
}

// InProgress suspends the orchestration until the host re-invokes it.
func InProgress[M any](model M, cxt *StdCallbackContext, delaySeconds int) Outcome[M] {
	return Outcome[M]{
		Status:               StatusInProgress,
		Model:                model,
		CallbackContext:      cxt,
		CallbackDelaySeconds: delaySeconds,
	}
}

// Success terminates the orchestration with the final domain model.
func Success[M any](model M) Outcome[M] {
	return Outcome[M]{
		Status: StatusSuccess,
		Model:  model,
	}
}

// Failed terminates the orchestration with a classified error.
func Failed[M any](model M, cxt *StdCallbackContext, code, message string) Outcome[M] {
	return Outcome[M]{
		Status:          StatusFailed,
		Model:           model,
		CallbackContext: cxt,
		ErrorCode:       code,
		Message:         message,
	}
}

func (o Outcome[M]) IsSuccess() bool { return o.Status == StatusSuccess }

func (o Outcome[M]) IsFailed() bool { return o.Status == StatusFailed }

// IsTerminal reports whether the host must stop re-invoking the
// orchestration.
func (o Outcome[M]) IsTerminal() bool {
	return o.Status == StatusSuccess || o.Status == StatusFailed
}

// CanContinue reports whether the outcome lets the current invocation keep
// retrying locally. Only an in-progress outcome without a resume hint
// qualifies; a hinted in-progress outcome is a suspension.
func (o Outcome[M]) CanContinue() bool {
	return o.Status == StatusInProgress && o.CallbackDelaySeconds == 0
}
