package session

import (
	"testing"
	"time"

	"github.com/forgechat/forgechat/pkg/permission"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSession_ExpiredBoundary(t *testing.T) {
	base := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	sess := newSession("s1", "alice", permission.NewSet(), "tok", base, 15*time.Minute, DefaultMaxHistory)

	tests := []struct {
		name    string
		now     time.Time
		expired bool
	}{
		{name: "fresh", now: base, expired: false},
		{name: "just under timeout", now: base.Add(15*time.Minute - time.Second), expired: false},
		{name: "exactly at timeout", now: base.Add(15 * time.Minute), expired: false},
		{name: "past timeout", now: base.Add(15*time.Minute + time.Nanosecond), expired: true},
		{name: "long past timeout", now: base.Add(time.Hour), expired: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expired, sess.Expired(tt.now))
		})
	}
}

func TestSession_TouchExtendsExpiry(t *testing.T) {
	base := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	sess := newSession("s1", "alice", permission.NewSet(), "tok", base, 15*time.Minute, DefaultMaxHistory)

	later := base.Add(10 * time.Minute)
	sess.Touch(later)

	assert.False(t, sess.Expired(base.Add(20*time.Minute)))
	assert.Equal(t, later.Add(15*time.Minute), sess.ExpiresAt())
	assert.Equal(t, later, sess.LastActivity())
}

func TestSession_AppendHistoryDropsOldest(t *testing.T) {
	base := time.Now()
	sess := newSession("s1", "alice", permission.NewSet(), "tok", base, 15*time.Minute, 3)

	for i, content := range []string{"one", "two", "three", "four", "five"} {
		sess.AppendHistory(Message{
			Role:      "user",
			Content:   content,
			Timestamp: base.Add(time.Duration(i) * time.Second),
		})
	}

	history := sess.History()
	require.Len(t, history, 3)
	assert.Equal(t, "three", history[0].Content)
	assert.Equal(t, "five", history[2].Content)
}

func TestSession_SnapshotRoundTrip(t *testing.T) {
	base := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	sess := newSession("s1", "alice", permission.NewSet(permission.JobRead, permission.JobBuild), "tok", base, 15*time.Minute, DefaultMaxHistory)
	sess.AppendHistory(Message{Role: "user", Content: "hello", Timestamp: base})
	sess.Touch(base.Add(time.Minute))

	restored := FromSnapshot(sess.Snapshot(), DefaultMaxHistory)

	assert.Equal(t, sess.ID, restored.ID)
	assert.Equal(t, sess.Identity, restored.Identity)
	assert.Equal(t, sess.Token, restored.Token)
	assert.True(t, restored.HasPermission(permission.JobRead))
	assert.True(t, restored.HasPermission(permission.JobBuild))
	assert.False(t, restored.HasPermission(permission.JobDelete))
	assert.Equal(t, sess.Timeout, restored.Timeout)
	assert.True(t, sess.TokenExpiry.Equal(restored.TokenExpiry))
	assert.True(t, sess.LastActivity().Equal(restored.LastActivity()))
	require.Len(t, restored.History(), 1)
	assert.Equal(t, "hello", restored.History()[0].Content)
}
