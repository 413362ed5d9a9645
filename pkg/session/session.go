package session

import (
	"sync"
	"time"

	"github.com/forgechat/forgechat/pkg/permission"
)

// Message represents a single conversation turn kept in session history.
type Message struct {
	Role      string    `json:"role"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
}

// Session is a live delegated-authorization session. The identity,
// permission snapshot and token are fixed at creation; only the
// activity timestamp and conversation history change afterwards.
type Session struct {
	ID          string
	Identity    string
	Permissions permission.Set
	Token       string
	CreatedAt   time.Time
	Timeout     time.Duration
	TokenExpiry time.Time

	mu           sync.RWMutex
	lastActivity time.Time
	history      []Message
	maxHistory   int
}

// Snapshot is the persistable form of a session.
type Snapshot struct {
	ID           string    `json:"id"`
	Identity     string    `json:"identity"`
	Permissions  []string  `json:"permissions"`
	Token        string    `json:"token"`
	CreatedAt    time.Time `json:"created_at"`
	LastActivity time.Time `json:"last_activity"`
	Timeout      int64     `json:"timeout_ms"`
	TokenExpiry  time.Time `json:"token_expiry"`
	History      []Message `json:"history,omitempty"`
}

func newSession(id, identity string, perms permission.Set, token string, now time.Time, timeout time.Duration, maxHistory int) *Session {
	return &Session{
		ID:           id,
		Identity:     identity,
		Permissions:  perms,
		Token:        token,
		CreatedAt:    now,
		Timeout:      timeout,
		TokenExpiry:  now.Add(timeout),
		lastActivity: now,
		maxHistory:   maxHistory,
	}
}

// FromSnapshot rebuilds a session from persisted state.
func FromSnapshot(snap Snapshot, maxHistory int) *Session {
	return &Session{
		ID:           snap.ID,
		Identity:     snap.Identity,
		Permissions:  permission.FromStrings(snap.Permissions),
		Token:        snap.Token,
		CreatedAt:    snap.CreatedAt,
		Timeout:      time.Duration(snap.Timeout) * time.Millisecond,
		TokenExpiry:  snap.TokenExpiry,
		lastActivity: snap.LastActivity,
		history:      snap.History,
		maxHistory:   maxHistory,
	}
}

// Snapshot captures the session state for persistence.
func (s *Session) Snapshot() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()

	history := make([]Message, len(s.history))
	copy(history, s.history)

	return Snapshot{
		ID:           s.ID,
		Identity:     s.Identity,
		Permissions:  s.Permissions.Strings(),
		Token:        s.Token,
		CreatedAt:    s.CreatedAt,
		LastActivity: s.lastActivity,
		Timeout:      s.Timeout.Milliseconds(),
		TokenExpiry:  s.TokenExpiry,
		History:      history,
	}
}

// Touch refreshes the activity timestamp.
func (s *Session) Touch(now time.Time) {
	s.mu.Lock()
	s.lastActivity = now
	s.mu.Unlock()
}

// LastActivity returns the time of the most recent activity.
func (s *Session) LastActivity() time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.lastActivity
}

// Expired reports whether the session has been idle past its timeout.
func (s *Session) Expired(now time.Time) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return now.Sub(s.lastActivity) > s.Timeout
}

// ExpiresAt returns the instant the session expires absent further activity.
func (s *Session) ExpiresAt() time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.lastActivity.Add(s.Timeout)
}

// Age returns how long ago the session was created.
func (s *Session) Age(now time.Time) time.Duration {
	return now.Sub(s.CreatedAt)
}

// TokenRemaining returns how much lifetime the bound token has left.
func (s *Session) TokenRemaining(now time.Time) time.Duration {
	return s.TokenExpiry.Sub(now)
}

// HasPermission reports whether the frozen snapshot grants p.
func (s *Session) HasPermission(p permission.Permission) bool {
	return s.Permissions.Has(p)
}

// History returns a copy of the conversation history.
func (s *Session) History() []Message {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]Message, len(s.history))
	copy(out, s.history)
	return out
}

// AppendHistory adds messages to the conversation history, dropping the
// oldest entries once the cap is reached.
func (s *Session) AppendHistory(msgs ...Message) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.history = append(s.history, msgs...)
	if s.maxHistory > 0 && len(s.history) > s.maxHistory {
		s.history = s.history[len(s.history)-s.maxHistory:]
	}
}

// HistoryLen returns the number of retained history messages.
func (s *Session) HistoryLen() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.history)
}
