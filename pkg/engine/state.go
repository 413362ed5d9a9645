package engine

import "time"

// State identifies one stage of a conversational turn.
type State string

const (
	StateReceived          State = "received"
	StatePermissionChecked State = "permission_checked"
	StatePlanning          State = "planning"
	StateToolExec          State = "tool_exec"
	StateResponseReady     State = "response_ready"
	StateDone              State = "done"
	StateFailedAuth        State = "failed_auth"
	StateFailedTimeout     State = "failed_timeout"
	StateFailedUpstream    State = "failed_upstream"
)

// Terminal reports whether no further transitions are possible.
func (s State) Terminal() bool {
	switch s {
	case StateDone, StateFailedAuth, StateFailedTimeout, StateFailedUpstream:
		return true
	}
	return false
}

// Failed reports whether the state is a terminal failure.
func (s State) Failed() bool {
	switch s {
	case StateFailedAuth, StateFailedTimeout, StateFailedUpstream:
		return true
	}
	return false
}

// Transition records one state change within a turn.
type Transition struct {
	From State     `json:"from"`
	To   State     `json:"to"`
	At   time.Time `json:"at"`
}

// Failure codes reported to callers. Authentication and validation
// codes are produced before any reasoning or tool work happens.
const (
	CodeAuthentication   = "authentication_error"
	CodeSessionExpired   = "session_expired"
	CodeValidation       = "validation_error"
	CodeReasoningTimeout = "reasoning_timeout"
	CodeReasoningDown    = "reasoning_unavailable"
	CodeToolUpstream     = "tool_upstream_error"
	CodeTurnTimeout      = "turn_timeout"
	CodeUnavailable      = "service_unavailable"
)
