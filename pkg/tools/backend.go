package tools

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync/atomic"
	"time"
)

// Backend is the remote tool provider. It speaks JSON-RPC 2.0 over
// HTTP with the methods tools/list and tools/call.
type Backend interface {
	ListTools(ctx context.Context) ([]Descriptor, error)
	CallTool(ctx context.Context, name string, args map[string]interface{}) (interface{}, error)
	Ping(ctx context.Context) error
}

// RPCError is a structured error returned by the tool backend.
type RPCError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (e *RPCError) Error() string {
	return fmt.Sprintf("tool backend error %d: %s", e.Code, e.Message)
}

// BackendConfig holds connection settings for the tool backend.
type BackendConfig struct {
	Endpoint string
	Token    string
	Timeout  time.Duration
}

// HTTPBackend talks JSON-RPC 2.0 to the tool backend over HTTP.
type HTTPBackend struct {
	endpoint string
	token    string
	client   *http.Client
	nextID   atomic.Int64
}

// NewHTTPBackend creates a client for the tool backend.
func NewHTTPBackend(cfg BackendConfig) (*HTTPBackend, error) {
	if cfg.Endpoint == "" {
		return nil, fmt.Errorf("tool backend endpoint is required")
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}

	return &HTTPBackend{
		endpoint: cfg.Endpoint,
		token:    cfg.Token,
		client:   &http.Client{Timeout: cfg.Timeout},
	}, nil
}

type rpcRequest struct {
	JSONRPC string      `json:"jsonrpc"`
	ID      int64       `json:"id"`
	Method  string      `json:"method"`
	Params  interface{} `json:"params,omitempty"`
}

type rpcResponse struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      int64           `json:"id"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *RPCError       `json:"error,omitempty"`
}

func (b *HTTPBackend) call(ctx context.Context, method string, params interface{}) (json.RawMessage, error) {
	payload, err := json.Marshal(rpcRequest{
		JSONRPC: "2.0",
		ID:      b.nextID.Add(1),
		Method:  method,
		Params:  params,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to encode request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, b.endpoint, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	if b.token != "" {
		req.Header.Set("Authorization", "Bearer "+b.token)
	}

	resp, err := b.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("tool backend request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("tool backend returned status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	var rpcResp rpcResponse
	if err := json.Unmarshal(body, &rpcResp); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}
	if rpcResp.Error != nil {
		return nil, rpcResp.Error
	}

	return rpcResp.Result, nil
}

// ListTools fetches the advertised tool descriptors.
func (b *HTTPBackend) ListTools(ctx context.Context) ([]Descriptor, error) {
	raw, err := b.call(ctx, "tools/list", struct{}{})
	if err != nil {
		return nil, err
	}

	var result struct {
		Tools []Descriptor `json:"tools"`
	}
	if err := json.Unmarshal(raw, &result); err != nil {
		return nil, fmt.Errorf("failed to decode tool list: %w", err)
	}

	return result.Tools, nil
}

type callParams struct {
	Name      string                 `json:"name"`
	Arguments map[string]interface{} `json:"arguments,omitempty"`
}

// CallTool executes a tool remotely and returns its decoded result.
func (b *HTTPBackend) CallTool(ctx context.Context, name string, args map[string]interface{}) (interface{}, error) {
	raw, err := b.call(ctx, "tools/call", callParams{Name: name, Arguments: args})
	if err != nil {
		return nil, err
	}

	var result interface{}
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &result); err != nil {
			return nil, fmt.Errorf("failed to decode tool result: %w", err)
		}
	}
	return result, nil
}

// Ping checks backend reachability with a descriptor fetch.
func (b *HTTPBackend) Ping(ctx context.Context) error {
	_, err := b.ListTools(ctx)
	return err
}
