package capability

import "github.com/sandboxrun/core/runtime/agent/toolerrors"

// BlockedError marks a tool failure as a policy/safety refusal rather than
// an operational failure: the loop reports TurnBlocked instead of retrying
// or treating the step as ordinary evidence. Wrap the underlying
// toolerrors.ToolError with NewBlocked when a tool declines to run.
type BlockedError struct {
	*toolerrors.ToolError
}

// NewBlocked wraps reason as a BlockedError.
func NewBlocked(reason string) *BlockedError {
	return &BlockedError{ToolError: toolerrors.New(reason)}
}

// StepLimitError describes a turn that exhausted MaxSteps without the
// policy signaling Done. Loop.Run does not return or construct it: on
// exhaustion it goes straight to a forced Synthesize round.
type StepLimitError struct{ Steps int }

func (e *StepLimitError) Error() string {
	return "capability: step budget exhausted"
}
