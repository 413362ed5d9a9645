package session

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/forgechat/forgechat/pkg/permission"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

const (
	DefaultTimeout          = 15 * time.Minute
	DefaultRenewalThreshold = 2 * time.Minute
	DefaultMaxHistory       = 50
	DefaultSensitiveMaxAge  = 5 * time.Minute
)

// TokenIssuer mints the bearer credential bound to a new session.
type TokenIssuer interface {
	Issue(identity, sessionID string, ttl time.Duration) (string, error)
}

// Store is the session registry consulted on every turn. Absence is
// reported as a nil session, never an error; errors are reserved for
// backend failures.
type Store interface {
	// Create resolves a fresh permission snapshot, issues a token and
	// registers a new session, replacing any prior session for the
	// same identity.
	Create(ctx context.Context, identity string) (*Session, error)

	// GetOrCreate reuses the identity's live session unless its token
	// is within the renewal threshold, in which case the old session
	// is invalidated and a fresh one issued.
	GetOrCreate(ctx context.Context, identity string) (*Session, error)

	// Get returns the live session and refreshes its activity
	// timestamp. Expired sessions are evicted and reported as absent.
	Get(ctx context.Context, sessionID string) (*Session, error)

	// ValidateAction reports whether the session exists, is unexpired
	// and its snapshot grants the permission. Pure check, no side
	// effects.
	ValidateAction(ctx context.Context, sessionID string, perm permission.Permission) bool

	// AppendHistory adds conversation messages to the session.
	AppendHistory(ctx context.Context, sessionID string, msgs ...Message) error

	Remove(ctx context.Context, sessionID string) error
	Len(ctx context.Context) (int, error)
	Close() error
}

// Config holds session lifecycle settings shared by all backends.
type Config struct {
	Timeout          time.Duration
	RenewalThreshold time.Duration
	MaxHistory       int
	SensitiveMaxAge  time.Duration
}

func (c *Config) applyDefaults() {
	if c.Timeout <= 0 {
		c.Timeout = DefaultTimeout
	}
	if c.RenewalThreshold <= 0 {
		c.RenewalThreshold = DefaultRenewalThreshold
	}
	if c.MaxHistory <= 0 {
		c.MaxHistory = DefaultMaxHistory
	}
	if c.SensitiveMaxAge <= 0 {
		c.SensitiveMaxAge = DefaultSensitiveMaxAge
	}
}

// MemoryStore is the default in-process session registry.
type MemoryStore struct {
	cfg      Config
	resolver permission.Resolver
	issuer   TokenIssuer
	now      func() time.Time

	mu         sync.RWMutex
	sessions   map[string]*Session
	byIdentity map[string]string
}

// NewMemoryStore creates an in-memory session store.
func NewMemoryStore(cfg Config, resolver permission.Resolver, issuer TokenIssuer) (*MemoryStore, error) {
	if resolver == nil {
		return nil, fmt.Errorf("permission resolver is required")
	}
	if issuer == nil {
		return nil, fmt.Errorf("token issuer is required")
	}
	cfg.applyDefaults()

	return &MemoryStore{
		cfg:        cfg,
		resolver:   resolver,
		issuer:     issuer,
		now:        time.Now,
		sessions:   make(map[string]*Session),
		byIdentity: make(map[string]string),
	}, nil
}

// buildSession resolves a snapshot and mints the token for a fresh
// session. A failing permission lookup degrades to an empty snapshot;
// it never widens access and never blocks session creation.
func buildSession(ctx context.Context, identity string, resolver permission.Resolver, issuer TokenIssuer, now time.Time, cfg Config) (*Session, error) {
	if identity == "" {
		return nil, fmt.Errorf("identity cannot be empty")
	}

	perms, err := resolver.Resolve(ctx, identity)
	if err != nil {
		log.Warn().
			Str("identity", identity).
			Err(err).
			Msg("Permission resolution failed, creating session with empty snapshot")
		perms = permission.NewSet()
	}

	id := uuid.NewString()
	token, err := issuer.Issue(identity, id, cfg.Timeout)
	if err != nil {
		return nil, fmt.Errorf("failed to issue session token: %w", err)
	}

	return newSession(id, identity, perms, token, now, cfg.Timeout, cfg.MaxHistory), nil
}

// Create registers a new session for the identity.
func (s *MemoryStore) Create(ctx context.Context, identity string) (*Session, error) {
	sess, err := buildSession(ctx, identity, s.resolver, s.issuer, s.now(), s.cfg)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	if prevID, ok := s.byIdentity[identity]; ok {
		delete(s.sessions, prevID)
	}
	s.sessions[sess.ID] = sess
	s.byIdentity[identity] = sess.ID
	s.mu.Unlock()

	log.Info().
		Str("session_id", sess.ID).
		Str("identity", identity).
		Int("permissions", len(sess.Permissions)).
		Msg("Session created")

	return sess, nil
}

// GetOrCreate returns the identity's live session, renewing it when the
// bound token is close to expiry.
func (s *MemoryStore) GetOrCreate(ctx context.Context, identity string) (*Session, error) {
	if identity == "" {
		return nil, fmt.Errorf("identity cannot be empty")
	}

	now := s.now()

	s.mu.RLock()
	sess := s.lookupIdentity(identity)
	s.mu.RUnlock()

	if sess != nil && !sess.Expired(now) && !now.After(sess.TokenExpiry) {
		if sess.TokenRemaining(now) >= s.cfg.RenewalThreshold {
			sess.Touch(now)
			return sess, nil
		}
		log.Debug().
			Str("session_id", sess.ID).
			Str("identity", identity).
			Dur("token_remaining", sess.TokenRemaining(now)).
			Msg("Token near expiry, renewing session")
	}

	if sess != nil {
		if err := s.Remove(ctx, sess.ID); err != nil {
			return nil, err
		}
	}

	return s.Create(ctx, identity)
}

// Get returns the session for the ID, refreshing its activity
// timestamp. Missing and expired sessions both come back nil; an
// expired session found here is evicted on the spot.
func (s *MemoryStore) Get(ctx context.Context, sessionID string) (*Session, error) {
	now := s.now()

	s.mu.RLock()
	sess := s.sessions[sessionID]
	s.mu.RUnlock()

	if sess == nil {
		return nil, nil
	}

	if sess.Expired(now) || now.After(sess.TokenExpiry) {
		if err := s.Remove(ctx, sessionID); err != nil {
			return nil, err
		}
		log.Debug().
			Str("session_id", sessionID).
			Msg("Expired session evicted on access")
		return nil, nil
	}

	sess.Touch(now)
	return sess, nil
}

// ValidateAction reports whether the session exists, is unexpired and
// its frozen snapshot grants the permission. Sensitive permissions
// additionally require a recently created session.
func (s *MemoryStore) ValidateAction(ctx context.Context, sessionID string, perm permission.Permission) bool {
	now := s.now()

	s.mu.RLock()
	sess := s.sessions[sessionID]
	s.mu.RUnlock()

	if sess == nil || sess.Expired(now) || now.After(sess.TokenExpiry) {
		return false
	}
	if !sess.HasPermission(perm) {
		return false
	}
	if perm.Sensitive() && sess.Age(now) > s.cfg.SensitiveMaxAge {
		log.Warn().
			Str("session_id", sessionID).
			Str("permission", string(perm)).
			Dur("session_age", sess.Age(now)).
			Msg("Sensitive action rejected for aged session")
		return false
	}
	return true
}

// AppendHistory adds conversation messages to the session and counts as
// activity.
func (s *MemoryStore) AppendHistory(ctx context.Context, sessionID string, msgs ...Message) error {
	s.mu.RLock()
	sess := s.sessions[sessionID]
	s.mu.RUnlock()

	if sess == nil {
		return fmt.Errorf("session not found: %s", sessionID)
	}

	sess.AppendHistory(msgs...)
	sess.Touch(s.now())
	return nil
}

// Remove deletes the session if present.
func (s *MemoryStore) Remove(ctx context.Context, sessionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, ok := s.sessions[sessionID]
	if !ok {
		return nil
	}
	delete(s.sessions, sessionID)
	if s.byIdentity[sess.Identity] == sessionID {
		delete(s.byIdentity, sess.Identity)
	}
	return nil
}

// Len returns the number of registered sessions, expired ones included
// until the next sweep.
func (s *MemoryStore) Len(ctx context.Context) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.sessions), nil
}

// EvictExpired removes every session past its idle timeout or token
// expiry and returns the number evicted.
func (s *MemoryStore) EvictExpired() int {
	now := s.now()

	s.mu.Lock()
	defer s.mu.Unlock()

	evicted := 0
	for id, sess := range s.sessions {
		if !sess.Expired(now) && !now.After(sess.TokenExpiry) {
			continue
		}
		delete(s.sessions, id)
		if s.byIdentity[sess.Identity] == id {
			delete(s.byIdentity, sess.Identity)
		}
		evicted++

		log.Debug().
			Str("session_id", id).
			Str("identity", sess.Identity).
			Msg("Session evicted")
	}

	return evicted
}

// Close drops all sessions.
func (s *MemoryStore) Close() error {
	s.mu.Lock()
	s.sessions = make(map[string]*Session)
	s.byIdentity = make(map[string]string)
	s.mu.Unlock()

	log.Info().Msg("Session store closed")
	return nil
}

// lookupIdentity must be called with at least a read lock held.
func (s *MemoryStore) lookupIdentity(identity string) *Session {
	id, ok := s.byIdentity[identity]
	if !ok {
		return nil
	}
	return s.sessions[id]
}
