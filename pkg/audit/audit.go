package audit

import "time"

// Entry is one audit record covering a full conversation turn.
// AdvisoryPermissions are the caller-supplied permission claims; they
// are recorded for forensics but never influence authorization.
type Entry struct {
	Timestamp           time.Time         `json:"timestamp"`
	Identity            string            `json:"identity"`
	SessionID           string            `json:"session_id"`
	Message             string            `json:"message"`
	Reply               string            `json:"reply"`
	Invocations         interface{}       `json:"invocations,omitempty"`
	AdvisoryPermissions []string          `json:"advisory_permissions,omitempty"`
	Context             map[string]string `json:"context,omitempty"`
	Outcome             string            `json:"outcome"`
	DurationMs          int64             `json:"duration_ms"`
}

// Sink receives audit entries. Record is fire-and-forget: it never
// blocks and never fails the caller.
type Sink interface {
	Record(entry Entry)
	Close() error
}

// NopSink discards every entry. Used when auditing is disabled.
type NopSink struct{}

func (NopSink) Record(Entry) {}

func (NopSink) Close() error { return nil }
