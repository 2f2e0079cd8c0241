//nolint:revive // exported
package mtestresult

import (
	"apicheck/pkg/idwrap"
	"apicheck/pkg/model/mtestspec"
)

type Status int8

const (
	StatusUndefined Status = iota
	StatusPassed
	StatusFailed
)

func (s Status) String() string {
	switch s {
	case StatusPassed:
		return "passed"
	case StatusFailed:
		return "failed"
	default:
		return "undefined"
	}
}

// AssertionResult records the outcome of one assertion. The engine
// emits exactly one per input assertion, in input order, even when
// evaluation itself blew up (Passed=false with the error in Message).
type AssertionResult struct {
	ID       idwrap.IDWrap
	Type     mtestspec.AssertionType
	Path     string
	Matcher  mtestspec.Matcher
	Expected any
	Actual   any
	Passed   bool
	Message  string
}

// ResponseData is the post-redirect response snapshot assertions ran
// against, kept on the result for reporting.
type ResponseData struct {
	StatusCode int
	Headers    map[string]string
	Body       any
	URL        string
	Method     string
	DurationMS int64
}

// TestResult is the outcome of one Execute call. ErrorMessage is set
// only for transport-level failures, in which case AssertionResults is
// empty and ResponseData nil.
type TestResult struct {
	ExecutionID      string
	TestName         string
	Status           Status
	ErrorMessage     string
	AuthWarning      string
	ResponseData     *ResponseData
	AssertionResults []AssertionResult
}
