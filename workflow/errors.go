// Package workflow sequences the externally visible steps of a minting
// campaign and carries the error shapes surfaced to callers.
package workflow

import "fmt"

// StepError wraps a collaborator failure with the step that produced it.
type StepError struct {
	Step    string
	Message string
	Err     error
}

func (e *StepError) Error() string {
	if e == nil {
		return "<nil>"
	}
	if e.Err == nil {
		return e.Message
	}
	return e.Message + ": " + e.Err.Error()
}

func (e *StepError) Unwrap() error { return e.Err }

// FanOutError reports that at least one branch of a concurrent fan-out
// failed. Its message is that of the lowest-indexed failure.
type FanOutError struct {
	Failed int
	Total  int
	Index  int
	Err    error
}

func (e *FanOutError) Error() string {
	if e == nil || e.Err == nil {
		return fmt.Sprintf("%d of %d operations failed", e.failed(), e.total())
	}
	return e.Err.Error()
}

func (e *FanOutError) Unwrap() error { return e.Err }

func (e *FanOutError) failed() int {
	if e == nil {
		return 0
	}
	return e.Failed
}

func (e *FanOutError) total() int {
	if e == nil {
		return 0
	}
	return e.Total
}
