package tools

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/forgechat/forgechat/pkg/permission"
	"github.com/rs/zerolog/log"
	"github.com/xeipuuv/gojsonschema"
)

const (
	DefaultInvokeTimeout = 30 * time.Second
	maxOutputSize        = 10 * 1024
)

// Gateway performs permission-gated, timeout-guarded tool invocations.
// Every invocation yields a record; the gateway never panics a turn.
type Gateway struct {
	registry *Registry
	backend  Backend
	timeout  time.Duration
}

// NewGateway creates an invocation gateway over the registry and
// backend.
func NewGateway(registry *Registry, backend Backend, timeout time.Duration) (*Gateway, error) {
	if registry == nil {
		return nil, fmt.Errorf("tool registry is required")
	}
	if backend == nil {
		return nil, fmt.Errorf("tool backend is required")
	}
	if timeout <= 0 {
		timeout = DefaultInvokeTimeout
	}

	return &Gateway{
		registry: registry,
		backend:  backend,
		timeout:  timeout,
	}, nil
}

// Invoke runs the tool for a caller holding the given permission
// snapshot. Checks run in order: blocked operation, existence,
// permission, argument schema; only then does the backend get called,
// under the per-invocation timeout.
func (g *Gateway) Invoke(ctx context.Context, name string, args map[string]interface{}, callerPerms permission.Set) *InvocationRecord {
	startTime := time.Now()
	rec := newRecord(name, args, startTime)

	if permission.OperationBlocked(name) {
		log.Warn().
			Str("tool", name).
			Msg("Blocked operation requested")
		rec.Status = StatusPermissionDenied
		rec.Error = fmt.Sprintf("operation '%s' is not available through this interface", name)
		rec.Duration = time.Since(startTime)
		return rec
	}

	descriptor, ok := g.registry.Get(name)
	if !ok {
		rec.Status = StatusNotFound
		rec.Error = fmt.Sprintf("tool not found: %s", name)
		rec.Suggestions = g.registry.Suggest(name)
		rec.Duration = time.Since(startTime)

		log.Debug().
			Str("tool", name).
			Strs("suggestions", rec.Suggestions).
			Msg("Unknown tool requested")
		return rec
	}

	required := descriptor.Permission()
	if !callerPerms.Has(required) {
		log.Warn().
			Str("tool", name).
			Str("permission", string(required)).
			Msg("Tool invocation denied")
		rec.Status = StatusPermissionDenied
		rec.Error = fmt.Sprintf("permission '%s' required for tool '%s'", required, name)
		rec.Duration = time.Since(startTime)
		return rec
	}

	if err := g.validateArguments(name, args); err != nil {
		log.Debug().
			Str("tool", name).
			Err(err).
			Msg("Argument validation failed")
		rec.Status = StatusUpstreamError
		rec.Error = fmt.Sprintf("argument validation failed: %v", err)
		rec.Duration = time.Since(startTime)
		return rec
	}

	log.Debug().Str("tool", name).Msg("Invoking tool")

	timeoutCtx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	resultChan := make(chan interface{}, 1)
	errChan := make(chan error, 1)

	go func() {
		result, err := g.backend.CallTool(timeoutCtx, name, args)
		if err != nil {
			errChan <- err
		} else {
			resultChan <- result
		}
	}()

	select {
	case result := <-resultChan:
		rec.Duration = time.Since(startTime)
		rec.Status = StatusSuccess
		rec.Result, rec.Truncated = truncateOutput(result, maxOutputSize)

		log.Debug().
			Str("tool", name).
			Dur("duration", rec.Duration).
			Bool("truncated", rec.Truncated).
			Msg("Tool invocation completed")
		return rec

	case err := <-errChan:
		rec.Duration = time.Since(startTime)
		if errors.Is(err, context.DeadlineExceeded) {
			rec.Status = StatusTimeout
			rec.Error = fmt.Sprintf("tool invocation timeout after %v", g.timeout)
		} else {
			rec.Status = StatusUpstreamError
			rec.Error = err.Error()
		}

		log.Error().
			Str("tool", name).
			Dur("duration", rec.Duration).
			Err(err).
			Msg("Tool invocation failed")
		return rec

	case <-timeoutCtx.Done():
		rec.Duration = time.Since(startTime)
		rec.Status = StatusTimeout
		rec.Error = fmt.Sprintf("tool invocation timeout after %v", g.timeout)

		log.Error().
			Str("tool", name).
			Dur("duration", rec.Duration).
			Msg("Tool invocation timeout")
		return rec
	}
}

// validateArguments checks args against the tool's compiled schema.
// Tools without a schema accept anything.
func (g *Gateway) validateArguments(name string, args map[string]interface{}) error {
	schema := g.registry.Schema(name)
	if schema == nil {
		return nil
	}

	if args == nil {
		args = map[string]interface{}{}
	}

	result, err := schema.Validate(gojsonschema.NewGoLoader(args))
	if err != nil {
		return fmt.Errorf("schema validation error: %w", err)
	}

	if !result.Valid() {
		var msgs []string
		for _, desc := range result.Errors() {
			msgs = append(msgs, desc.String())
		}
		return fmt.Errorf("invalid arguments: %v", msgs)
	}

	return nil
}

// truncateOutput bounds a tool result before it enters conversation
// context and audit records.
func truncateOutput(v interface{}, max int) (interface{}, bool) {
	if s, ok := v.(string); ok {
		if len(s) <= max {
			return s, false
		}
		return s[:max] + "\n... (output truncated)", true
	}

	data, err := json.Marshal(v)
	if err != nil || len(data) <= max {
		return v, false
	}
	return string(data[:max]) + "\n... (output truncated)", true
}
