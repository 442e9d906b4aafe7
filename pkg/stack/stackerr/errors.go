package stackerr

import (
	"errors"
	"fmt"
	"strings"
)

// Kind classifies orchestration failures.
type Kind string

const (
	ToolingUnavailable Kind = "ToolingUnavailable"
	BuildFailure       Kind = "BuildFailure"
	ApplyFailure       Kind = "ApplyFailure"
	ReadinessTimeout   Kind = "ReadinessTimeout"
)

// maxOutputLines bounds how much tool output is carried on a build failure.
const maxOutputLines = 20

// StepError is the error carried out of a build or rollout step. Optional
// marks failures the caller downgrades to a warning.
type StepError struct {
	Kind     Kind
	Step     string
	Unit     string
	Optional bool
	ExitCode int
	Output   string
	Err      error
}

func (e *StepError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s at step %s", e.Kind, e.Step)
	if e.Unit != "" {
		fmt.Fprintf(&b, " (unit %s)", e.Unit)
	}
	if e.Kind == BuildFailure {
		fmt.Fprintf(&b, ": exit status %d", e.ExitCode)
	}
	if e.Err != nil {
		fmt.Fprintf(&b, ": %v", e.Err)
	}
	if e.Kind == BuildFailure && e.Output != "" {
		fmt.Fprintf(&b, "\n%s", e.Output)
	}
	return b.String()
}

func (e *StepError) Unwrap() error { return e.Err }

// Fatal reports whether the error must abort the run.
func (e *StepError) Fatal() bool {
	switch e.Kind {
	case ReadinessTimeout:
		return false
	case ApplyFailure:
		return !e.Optional
	default:
		return true
	}
}

// NewToolingUnavailable wraps a missing CLI or unreachable daemon.
func NewToolingUnavailable(step string, err error) error {
	return &StepError{Kind: ToolingUnavailable, Step: step, Err: err}
}

// NewBuildFailure wraps a non-zero build tool exit. Only the tail of the tool
// output is kept.
func NewBuildFailure(step, unit string, exitCode int, output string, err error) error {
	return &StepError{Kind: BuildFailure, Step: step, Unit: unit, ExitCode: exitCode, Output: tail(output, maxOutputLines), Err: err}
}

// NewApplyFailure wraps a rejected submission. optional marks resources whose
// failure is tolerable.
func NewApplyFailure(step, unit string, optional bool, err error) error {
	return &StepError{Kind: ApplyFailure, Step: step, Unit: unit, Optional: optional, Err: err}
}

// NewReadinessTimeout reports a stateful unit that did not become ready in time.
func NewReadinessTimeout(step, unit string, err error) error {
	return &StepError{Kind: ReadinessTimeout, Step: step, Unit: unit, Err: err}
}

// Extract returns the StepError in err's chain, if any.
func Extract(err error) (*StepError, bool) {
	if err == nil {
		return nil, false
	}
	var se *StepError
	if errors.As(err, &se) {
		return se, true
	}
	return nil, false
}

// IsKind reports whether err carries a StepError of the given kind.
func IsKind(err error, kind Kind) bool {
	se, ok := Extract(err)
	return ok && se.Kind == kind
}

func tail(s string, n int) string {
	s = strings.TrimRight(s, "\n")
	if s == "" {
		return ""
	}
	lines := strings.Split(s, "\n")
	if len(lines) <= n {
		return s
	}
	return strings.Join(lines[len(lines)-n:], "\n")
}
