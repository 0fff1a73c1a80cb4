package optimizations

import "errors"

var (
	ErrNotFound             = errors.New("not found")
	ErrSessionActive        = errors.New("session already active")
	ErrNoPendingContinue    = errors.New("no continuation pending")
	ErrContinuationConsumed = errors.New("continuation already used")
	ErrMissingContinuation  = errors.New("missing continuation token")
	ErrStreamIdle           = errors.New("stream idle timeout")
	ErrStageOutput          = errors.New("stage output invalid")
	ErrGateBlocked          = errors.New("gate blocked session")

	errTargetMismatch = errors.New("validation: targetContentId does not match paused session")
)

const (
	ErrorCodeValidation   = "validation_error"
	ErrorCodeTransport    = "transport_error"
	ErrorCodeStageTimeout = "stage_timeout"
	ErrorCodeStageOutput  = "stage_output_invalid"
	ErrorCodeGateBlocked  = "gate_blocked"
	ErrorCodeStorage      = "storage_error"
	ErrorCodeInternal     = "internal_error"
)
