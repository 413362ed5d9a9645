package tools

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/forgechat/forgechat/pkg/permission"
	gonanoid "github.com/matoous/go-nanoid/v2"
)

// Descriptor describes a remotely executable tool as advertised by the
// tool backend.
type Descriptor struct {
	Name               string                 `json:"name"`
	Description        string                 `json:"description"`
	Schema             map[string]interface{} `json:"inputSchema,omitempty"`
	RequiredPermission string                 `json:"requiredPermission,omitempty"`
	Endpoint           string                 `json:"endpoint,omitempty"`
}

// Permission returns the descriptor's declared permission, falling back
// to the action map for descriptors that do not declare one.
func (d Descriptor) Permission() permission.Permission {
	if d.RequiredPermission != "" {
		return permission.Permission(d.RequiredPermission)
	}
	return permission.ForAction(d.Name)
}

// Status classifies the outcome of a tool invocation.
type Status string

const (
	StatusSuccess          Status = "success"
	StatusPermissionDenied Status = "permission_denied"
	StatusNotFound         Status = "not_found"
	StatusTimeout          Status = "timeout"
	StatusUpstreamError    Status = "upstream_error"
)

// InvocationRecord is the append-only account of one tool invocation.
// Every invocation produces one, whatever the outcome.
type InvocationRecord struct {
	InvocationID string                 `json:"invocation_id"`
	Tool         string                 `json:"tool"`
	Arguments    map[string]interface{} `json:"arguments,omitempty"`
	Status       Status                 `json:"status"`
	StartedAt    time.Time              `json:"started_at"`
	Duration     time.Duration          `json:"duration"`
	Result       interface{}            `json:"result,omitempty"`
	Error        string                 `json:"error,omitempty"`
	Suggestions  []string               `json:"suggestions,omitempty"`
	Truncated    bool                   `json:"truncated,omitempty"`
}

// Succeeded reports whether the invocation completed successfully.
func (r *InvocationRecord) Succeeded() bool {
	return r.Status == StatusSuccess
}

func newRecord(tool string, args map[string]interface{}, startedAt time.Time) *InvocationRecord {
	return &InvocationRecord{
		InvocationID: gonanoid.Must(),
		Tool:         tool,
		Arguments:    args,
		StartedAt:    startedAt,
	}
}

// Denied builds a permission_denied record for an invocation refused
// before reaching the gateway.
func Denied(tool string, args map[string]interface{}, reason string) *InvocationRecord {
	rec := newRecord(tool, args, time.Now())
	rec.Status = StatusPermissionDenied
	rec.Error = reason
	return rec
}

// Fingerprint identifies an invocation by tool name and canonical
// argument encoding. Identical fingerprints within one turn mean the
// same call.
func Fingerprint(tool string, args map[string]interface{}) string {
	data, err := json.Marshal(args)
	if err != nil {
		data = []byte(fmt.Sprintf("%v", args))
	}
	return tool + ":" + string(data)
}
