package tools

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// rpcServer is a JSON-RPC tool backend for tests. call may be nil for
// registry-only tests.
func rpcServer(t *testing.T, descriptors []Descriptor, call func(name string, args map[string]interface{}) (interface{}, *RPCError)) (*httptest.Server, *atomic.Int64, *atomic.Int64) {
	t.Helper()

	var listCalls, toolCalls atomic.Int64

	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req rpcRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))

		resp := rpcResponse{JSONRPC: "2.0", ID: req.ID}

		switch req.Method {
		case "tools/list":
			listCalls.Add(1)
			result, err := json.Marshal(map[string]interface{}{"tools": descriptors})
			require.NoError(t, err)
			resp.Result = result

		case "tools/call":
			toolCalls.Add(1)
			params, err := json.Marshal(req.Params)
			require.NoError(t, err)
			var cp callParams
			require.NoError(t, json.Unmarshal(params, &cp))

			result, rpcErr := call(cp.Name, cp.Arguments)
			if rpcErr != nil {
				resp.Error = rpcErr
			} else {
				raw, err := json.Marshal(result)
				require.NoError(t, err)
				resp.Result = raw
			}

		default:
			resp.Error = &RPCError{Code: -32601, Message: "method not found"}
		}

		w.Header().Set("Content-Type", "application/json")
		require.NoError(t, json.NewEncoder(w).Encode(resp))
	})

	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)
	return server, &listCalls, &toolCalls
}

func testDescriptors() []Descriptor {
	return []Descriptor{
		{
			Name:        "list_jobs",
			Description: "List jobs visible to the caller",
			Schema: map[string]interface{}{
				"type":                 "object",
				"properties":           map[string]interface{}{},
				"additionalProperties": false,
			},
			RequiredPermission: "job.read",
		},
		{
			Name:        "trigger_build",
			Description: "Trigger a build for a job",
			Schema: map[string]interface{}{
				"type": "object",
				"properties": map[string]interface{}{
					"job": map[string]interface{}{"type": "string"},
				},
				"required":             []interface{}{"job"},
				"additionalProperties": false,
			},
			RequiredPermission: "job.build",
		},
		{
			Name:               "get_build_status",
			Description:        "Fetch the status of a build",
			RequiredPermission: "job.read",
		},
	}
}

func newTestRegistry(t *testing.T, serverURL string, ttl time.Duration) *Registry {
	t.Helper()

	backend, err := NewHTTPBackend(BackendConfig{Endpoint: serverURL})
	require.NoError(t, err)
	registry, err := NewRegistry(backend, ttl)
	require.NoError(t, err)
	return registry
}

func TestRegistry_DiscoverCachesWithinTTL(t *testing.T) {
	server, listCalls, _ := rpcServer(t, testDescriptors(), nil)
	registry := newTestRegistry(t, server.URL, 10*time.Minute)

	first, err := registry.Discover(context.Background())
	require.NoError(t, err)
	assert.Len(t, first, 3)

	second, err := registry.Discover(context.Background())
	require.NoError(t, err)
	assert.Len(t, second, 3)

	assert.Equal(t, int64(1), listCalls.Load())
}

func TestRegistry_DiscoverRefreshesPastTTL(t *testing.T) {
	server, listCalls, _ := rpcServer(t, testDescriptors(), nil)
	registry := newTestRegistry(t, server.URL, time.Minute)

	base := time.Now()
	registry.now = func() time.Time { return base }

	_, err := registry.Discover(context.Background())
	require.NoError(t, err)

	registry.now = func() time.Time { return base.Add(2 * time.Minute) }
	_, err = registry.Discover(context.Background())
	require.NoError(t, err)

	assert.Equal(t, int64(2), listCalls.Load())
}

func TestRegistry_StaleCacheIsNotServedOnFailure(t *testing.T) {
	server, _, _ := rpcServer(t, testDescriptors(), nil)
	registry := newTestRegistry(t, server.URL, time.Minute)

	base := time.Now()
	registry.now = func() time.Time { return base }

	_, err := registry.Discover(context.Background())
	require.NoError(t, err)

	server.Close()
	registry.now = func() time.Time { return base.Add(2 * time.Minute) }

	_, err = registry.Discover(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "tool discovery failed")
}

func TestRegistry_GetAndList(t *testing.T) {
	server, _, _ := rpcServer(t, testDescriptors(), nil)
	registry := newTestRegistry(t, server.URL, time.Minute)

	require.NoError(t, registry.RefreshNow(context.Background()))

	d, ok := registry.Get("trigger_build")
	require.True(t, ok)
	assert.Equal(t, "job.build", d.RequiredPermission)
	assert.NotNil(t, registry.Schema("trigger_build"))
	assert.Nil(t, registry.Schema("get_build_status"))

	_, ok = registry.Get("no_such_tool")
	assert.False(t, ok)

	assert.Equal(t, 3, registry.Len())
	assert.Equal(t, []string{"get_build_status", "list_jobs", "trigger_build"}, registry.Names())
}

func TestRegistry_Suggest(t *testing.T) {
	server, _, _ := rpcServer(t, testDescriptors(), nil)
	registry := newTestRegistry(t, server.URL, time.Minute)
	require.NoError(t, registry.RefreshNow(context.Background()))

	tests := []struct {
		name     string
		input    string
		expected []string
	}{
		{name: "typo", input: "list_job", expected: []string{"list_jobs"}},
		{name: "prefix", input: "trigger", expected: []string{"trigger_build"}},
		{name: "substring", input: "build", expected: []string{"get_build_status", "trigger_build"}},
		{name: "no match", input: "zzzzzzzz", expected: nil},
		{name: "empty", input: "", expected: nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, registry.Suggest(tt.input))
		})
	}
}

func TestEditDistance(t *testing.T) {
	tests := []struct {
		a, b     string
		expected int
	}{
		{"", "", 0},
		{"abc", "abc", 0},
		{"abc", "abd", 1},
		{"abc", "", 3},
		{"list_jobs", "list_job", 1},
		{"kitten", "sitting", 3},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.expected, editDistance(tt.a, tt.b), "%s vs %s", tt.a, tt.b)
	}
}

func TestHTTPBackend_Validation(t *testing.T) {
	_, err := NewHTTPBackend(BackendConfig{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "endpoint is required")
}

func TestHTTPBackend_CallTool(t *testing.T) {
	server, _, toolCalls := rpcServer(t, nil, func(name string, args map[string]interface{}) (interface{}, *RPCError) {
		assert.Equal(t, "list_jobs", name)
		return map[string]interface{}{"jobs": []interface{}{"deploy", "test"}}, nil
	})

	backend, err := NewHTTPBackend(BackendConfig{Endpoint: server.URL})
	require.NoError(t, err)

	result, err := backend.CallTool(context.Background(), "list_jobs", nil)
	require.NoError(t, err)
	assert.Equal(t, int64(1), toolCalls.Load())

	m, ok := result.(map[string]interface{})
	require.True(t, ok)
	assert.Len(t, m["jobs"], 2)
}

func TestHTTPBackend_RPCErrorSurfaces(t *testing.T) {
	server, _, _ := rpcServer(t, nil, func(name string, args map[string]interface{}) (interface{}, *RPCError) {
		return nil, &RPCError{Code: -32000, Message: "job does not exist"}
	})

	backend, err := NewHTTPBackend(BackendConfig{Endpoint: server.URL})
	require.NoError(t, err)

	_, err = backend.CallTool(context.Background(), "get_build_status", nil)
	require.Error(t, err)

	var rpcErr *RPCError
	require.ErrorAs(t, err, &rpcErr)
	assert.Equal(t, -32000, rpcErr.Code)
}
