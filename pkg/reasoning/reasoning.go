package reasoning

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// Message roles as seen by the reasoning service.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleTool      = "tool"
)

// Message is one conversation entry in provider-neutral form.
type Message struct {
	Role       string
	Content    string
	ToolCall   *ToolCall
	ToolCallID string
}

// ToolCall is a reasoning-service request to execute a tool.
type ToolCall struct {
	ID        string
	Name      string
	Arguments map[string]interface{}
}

// Tool describes an executable operation offered to the reasoning
// service.
type Tool struct {
	Name        string
	Description string
	Schema      map[string]interface{}
}

// Bundle is the full context for one reasoning call.
type Bundle struct {
	System      string
	Messages    []Message
	Tools       []Tool
	Model       string
	MaxTokens   int
	Temperature float64
}

// Usage reports token consumption for one call.
type Usage struct {
	InputTokens  int
	OutputTokens int
}

// Outcome is what the reasoning service decided: a final answer when
// ToolCall is nil, otherwise a tool request to execute before
// re-entering planning.
type Outcome struct {
	Answer   string
	ToolCall *ToolCall
	Usage    *Usage
}

// Client is a reasoning service.
type Client interface {
	Reason(ctx context.Context, bundle Bundle) (*Outcome, error)
	Provider() string
}

// ErrorKind classifies reasoning-service failures.
type ErrorKind string

const (
	KindUnavailable ErrorKind = "unavailable"
	KindTimeout     ErrorKind = "timeout"
	KindMalformed   ErrorKind = "malformed"
)

// Error is a classified reasoning-service failure.
type Error struct {
	Kind ErrorKind
	Err  error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("reasoning service %s", e.Kind)
	}
	return fmt.Sprintf("reasoning service %s: %v", e.Kind, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Kind extracts the failure kind, defaulting to unavailable for
// unclassified errors.
func Kind(err error) ErrorKind {
	var rerr *Error
	if errors.As(err, &rerr) {
		return rerr.Kind
	}
	return KindUnavailable
}

// classify maps an SDK failure onto the taxonomy. Context expiry is a
// timeout, everything else counts as unavailability.
func classify(err error) *Error {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return &Error{Kind: KindTimeout, Err: err}
	}
	return &Error{Kind: KindUnavailable, Err: err}
}

func malformed(format string, args ...interface{}) *Error {
	return &Error{Kind: KindMalformed, Err: fmt.Errorf(format, args...)}
}

// IsRetryable reports whether a failed call is worth one more attempt.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}

	var rerr *Error
	if errors.As(err, &rerr) {
		switch rerr.Kind {
		case KindMalformed, KindTimeout:
			return false
		}
		if rerr.Err != nil {
			err = rerr.Err
		}
	}

	errMsg := err.Error()

	// Network errors
	if strings.Contains(errMsg, "ECONNRESET") || strings.Contains(errMsg, "ETIMEDOUT") || strings.Contains(errMsg, "connection refused") {
		return true
	}

	// Rate limits
	if strings.Contains(errMsg, "429") || strings.Contains(errMsg, "rate limit") {
		return true
	}

	// Server errors
	if strings.Contains(errMsg, "500") || strings.Contains(errMsg, "502") || strings.Contains(errMsg, "503") || strings.Contains(errMsg, "504") {
		return true
	}

	return false
}
