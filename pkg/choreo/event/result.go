package event

import (
	"fmt"
	"time"
)

// Error codes carried in ErrorInfo.
const (
	// CodeValidation marks an input that failed a structural or business check.
	// Not retryable.
	CodeValidation = "VALIDATION_ERROR"

	// CodeHandlerExecution marks a handler that failed on every attempt.
	// Retryable.
	CodeHandlerExecution = "HANDLER_EXECUTION_ERROR"

	// CodeDepthExceeded marks an emit refused because the chain nested too deep.
	CodeDepthExceeded = "DISPATCH_DEPTH_EXCEEDED"
)

// ErrorInfo is the structured form of a handler failure.
type ErrorInfo struct {
	Code      string         `json:"code"`
	Message   string         `json:"message"`
	Details   map[string]any `json:"details,omitempty"`
	Retryable bool           `json:"retryable"`
}

// Error implements the error interface.
func (e ErrorInfo) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Result is the outcome of one handler invocation for one envelope.
type Result struct {
	SubscriptionID string        `json:"subscription_id"`
	Handler        string        `json:"handler,omitempty"`
	Success        bool          `json:"success"`
	Data           any           `json:"data,omitempty"`
	Error          *ErrorInfo    `json:"error,omitempty"`
	Attempts       int           `json:"attempts"`
	Duration       time.Duration `json:"duration"`
}

// Failed returns the results that did not succeed.
func Failed(results []Result) []Result {
	var out []Result
	for _, r := range results {
		if !r.Success {
			out = append(out, r)
		}
	}
	return out
}

// AllSucceeded reports whether every result succeeded. An empty list succeeds.
func AllSucceeded(results []Result) bool {
	for _, r := range results {
		if !r.Success {
			return false
		}
	}
	return true
}
