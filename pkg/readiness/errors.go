package readiness

import (
	"errors"
	"fmt"
	"time"
)

var (
	// ErrTimeout is matched by every *TimeoutError.
	ErrTimeout = errors.New("readiness wait timed out")

	// ErrContextLost marks an evaluation that failed because the rendering
	// context navigated away, was detached or was destroyed mid-check.
	// Driver adapters wrap such failures with it.
	ErrContextLost = errors.New("rendering context lost")

	// ErrFrameUnavailable is returned by Frame.Resolve when the embedding
	// element has no accessible nested context (cross-origin, detached).
	ErrFrameUnavailable = errors.New("frame context unavailable")
)

// TimeoutError reports a bounded wait that did not reach a stable,
// accepted value in time.
type TimeoutError struct {
	LastValue string        // last observed value, formatted
	Elapsed   time.Duration // time spent waiting
	Cause     error         // last evaluation error, if any
}

func (e *TimeoutError) Error() string {
	msg := fmt.Sprintf("timed out after %s (last observed: %s)", e.Elapsed.Round(time.Millisecond), e.LastValue)
	if e.Cause != nil {
		msg += fmt.Sprintf(", last error: %v", e.Cause)
	}
	return msg
}

func (e *TimeoutError) Is(target error) bool {
	return target == ErrTimeout
}

func (e *TimeoutError) Unwrap() error {
	return e.Cause
}

// StepError is the fatal outcome of a mandatory orchestrator step.
type StepError struct {
	Step Step
	Err  error
}

func (e *StepError) Error() string {
	return fmt.Sprintf("readiness step %s failed: %v", e.Step, e.Err)
}

func (e *StepError) Unwrap() error {
	return e.Err
}

// FrameWarning records a best-effort per-frame deviation. It never fails a pass.
type FrameWarning struct {
	Frame string
	Step  Step
	Err   error
}

func (w FrameWarning) String() string {
	return fmt.Sprintf("frame %s: %s: %v", w.Frame, w.Step, w.Err)
}

// IsTransient reports whether err is a recoverable evaluation failure.
func IsTransient(err error) bool {
	return errors.Is(err, ErrContextLost)
}
