package gateway

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClientRegistry_AddGetRemove(t *testing.T) {
	registry := NewClientRegistry()

	client := &Client{ID: "client-1", ConnectedAt: time.Now()}
	registry.Add(client)

	got, exists := registry.Get("client-1")
	require.True(t, exists)
	assert.Equal(t, client, got)
	assert.Equal(t, 1, registry.Count())

	registry.Remove("client-1")
	_, exists = registry.Get("client-1")
	assert.False(t, exists)
	assert.Equal(t, 0, registry.Count())
}

func TestClientRegistry_BindSession(t *testing.T) {
	registry := NewClientRegistry()

	client := &Client{ID: "client-1", State: StateConnected}
	registry.Add(client)

	registry.BindSession("client-1", "sess-1", "alice", "tok-1")

	got, exists := registry.Get("client-1")
	require.True(t, exists)
	assert.Equal(t, "sess-1", got.SessionID)
	assert.Equal(t, "alice", got.Identity)
	assert.Equal(t, "tok-1", got.Token)
	assert.Equal(t, StateBound, got.State)
	assert.True(t, got.Bound())

	// Binding an unknown client is a no-op.
	registry.BindSession("missing", "sess-2", "bob", "tok-2")
	assert.Equal(t, 1, registry.Count())
}

func TestClientRegistry_GetConnectedClients(t *testing.T) {
	registry := NewClientRegistry()

	now := time.Now()
	registry.Add(&Client{ID: "fresh", ConnectedAt: now, LastActivity: now, IPAddress: "10.0.0.1"})
	registry.Add(&Client{ID: "stale", ConnectedAt: now.Add(-time.Hour), LastActivity: now.Add(-10 * time.Minute)})

	infos := registry.GetConnectedClients()
	require.Len(t, infos, 2)

	byID := make(map[string]ClientInfo, len(infos))
	for _, info := range infos {
		byID[info.ID] = info
	}

	assert.False(t, byID["fresh"].Idle)
	assert.Equal(t, "10.0.0.1", byID["fresh"].IPAddress)
	assert.True(t, byID["stale"].Idle)
}

func TestClientRegistry_UpdateActivity(t *testing.T) {
	registry := NewClientRegistry()

	old := time.Now().Add(-time.Hour)
	registry.Add(&Client{ID: "client-1", LastActivity: old})

	registry.UpdateActivity("client-1")

	got, _ := registry.Get("client-1")
	assert.True(t, got.LastActivity.After(old))
}
