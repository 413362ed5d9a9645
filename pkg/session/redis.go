package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/forgechat/forgechat/pkg/permission"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
)

const DefaultKeyPrefix = "forgechat:"

// RedisConfig holds connection settings for the external backend.
type RedisConfig struct {
	Addr      string
	Password  string
	DB        int
	KeyPrefix string
}

// RedisStore keeps sessions in Redis so several instances can share
// them and they survive restarts. Key TTLs track session expiry, so
// Redis itself performs the eviction sweep.
type RedisStore struct {
	cfg      Config
	client   *redis.Client
	prefix   string
	resolver permission.Resolver
	issuer   TokenIssuer
	now      func() time.Time
}

// NewRedisStore connects to Redis and verifies the connection.
func NewRedisStore(cfg Config, rcfg RedisConfig, resolver permission.Resolver, issuer TokenIssuer) (*RedisStore, error) {
	if rcfg.Addr == "" {
		return nil, fmt.Errorf("redis address is required")
	}
	if resolver == nil {
		return nil, fmt.Errorf("permission resolver is required")
	}
	if issuer == nil {
		return nil, fmt.Errorf("token issuer is required")
	}
	cfg.applyDefaults()

	prefix := rcfg.KeyPrefix
	if prefix == "" {
		prefix = DefaultKeyPrefix
	}

	client := redis.NewClient(&redis.Options{
		Addr:     rcfg.Addr,
		Password: rcfg.Password,
		DB:       rcfg.DB,
	})

	pingCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	log.Info().
		Str("addr", rcfg.Addr).
		Int("db", rcfg.DB).
		Msg("Redis session store connected")

	return &RedisStore{
		cfg:      cfg,
		client:   client,
		prefix:   prefix,
		resolver: resolver,
		issuer:   issuer,
		now:      time.Now,
	}, nil
}

func (s *RedisStore) sessionKey(sessionID string) string {
	return s.prefix + "session:" + sessionID
}

func (s *RedisStore) identityKey(identity string) string {
	return s.prefix + "identity:" + identity
}

// persist writes the session with a TTL matching the earlier of its
// idle expiry and token expiry.
func (s *RedisStore) persist(ctx context.Context, sess *Session) error {
	snap := sess.Snapshot()

	expiry := sess.ExpiresAt()
	if sess.TokenExpiry.Before(expiry) {
		expiry = sess.TokenExpiry
	}
	ttl := expiry.Sub(s.now())
	if ttl <= 0 {
		return s.Remove(ctx, sess.ID)
	}

	data, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("failed to encode session: %w", err)
	}

	if err := s.client.Set(ctx, s.sessionKey(sess.ID), data, ttl).Err(); err != nil {
		return fmt.Errorf("failed to store session: %w", err)
	}
	if err := s.client.Set(ctx, s.identityKey(sess.Identity), sess.ID, ttl).Err(); err != nil {
		return fmt.Errorf("failed to store identity index: %w", err)
	}
	return nil
}

// load fetches and decodes a session without touching it. Absent keys
// and locally detected expiry both come back nil.
func (s *RedisStore) load(ctx context.Context, sessionID string) (*Session, error) {
	data, err := s.client.Get(ctx, s.sessionKey(sessionID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load session: %w", err)
	}

	var snap Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, fmt.Errorf("failed to decode session: %w", err)
	}

	sess := FromSnapshot(snap, s.cfg.MaxHistory)

	now := s.now()
	if sess.Expired(now) || now.After(sess.TokenExpiry) {
		if err := s.Remove(ctx, sessionID); err != nil {
			return nil, err
		}
		return nil, nil
	}
	return sess, nil
}

// Create registers a new session for the identity.
func (s *RedisStore) Create(ctx context.Context, identity string) (*Session, error) {
	sess, err := buildSession(ctx, identity, s.resolver, s.issuer, s.now(), s.cfg)
	if err != nil {
		return nil, err
	}

	prevID, err := s.client.Get(ctx, s.identityKey(identity)).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("failed to check identity index: %w", err)
	}
	if prevID != "" && prevID != sess.ID {
		if err := s.client.Del(ctx, s.sessionKey(prevID)).Err(); err != nil {
			return nil, fmt.Errorf("failed to replace prior session: %w", err)
		}
	}

	if err := s.persist(ctx, sess); err != nil {
		return nil, err
	}

	log.Info().
		Str("session_id", sess.ID).
		Str("identity", identity).
		Int("permissions", len(sess.Permissions)).
		Msg("Session created")

	return sess, nil
}

// GetOrCreate returns the identity's live session, renewing it when the
// bound token is close to expiry.
func (s *RedisStore) GetOrCreate(ctx context.Context, identity string) (*Session, error) {
	if identity == "" {
		return nil, fmt.Errorf("identity cannot be empty")
	}

	prevID, err := s.client.Get(ctx, s.identityKey(identity)).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("failed to check identity index: %w", err)
	}

	if prevID != "" {
		sess, err := s.load(ctx, prevID)
		if err != nil {
			return nil, err
		}
		if sess != nil {
			now := s.now()
			if sess.TokenRemaining(now) >= s.cfg.RenewalThreshold {
				sess.Touch(now)
				if err := s.persist(ctx, sess); err != nil {
					return nil, err
				}
				return sess, nil
			}
			log.Debug().
				Str("session_id", sess.ID).
				Str("identity", identity).
				Dur("token_remaining", sess.TokenRemaining(now)).
				Msg("Token near expiry, renewing session")
			if err := s.Remove(ctx, sess.ID); err != nil {
				return nil, err
			}
		}
	}

	return s.Create(ctx, identity)
}

// Get returns the session for the ID with a refreshed activity
// timestamp, sliding the key TTL.
func (s *RedisStore) Get(ctx context.Context, sessionID string) (*Session, error) {
	sess, err := s.load(ctx, sessionID)
	if err != nil || sess == nil {
		return nil, err
	}

	sess.Touch(s.now())
	if err := s.persist(ctx, sess); err != nil {
		return nil, err
	}
	return sess, nil
}

// ValidateAction reports whether the session exists, is unexpired and
// its frozen snapshot grants the permission. Backend failures count as
// a failed check.
func (s *RedisStore) ValidateAction(ctx context.Context, sessionID string, perm permission.Permission) bool {
	sess, err := s.load(ctx, sessionID)
	if err != nil {
		log.Warn().
			Str("session_id", sessionID).
			Err(err).
			Msg("Action validation failed against redis, denying")
		return false
	}
	if sess == nil {
		return false
	}
	if !sess.HasPermission(perm) {
		return false
	}
	if perm.Sensitive() && sess.Age(s.now()) > s.cfg.SensitiveMaxAge {
		log.Warn().
			Str("session_id", sessionID).
			Str("permission", string(perm)).
			Dur("session_age", sess.Age(s.now())).
			Msg("Sensitive action rejected for aged session")
		return false
	}
	return true
}

// AppendHistory adds conversation messages to the session and counts as
// activity.
func (s *RedisStore) AppendHistory(ctx context.Context, sessionID string, msgs ...Message) error {
	sess, err := s.load(ctx, sessionID)
	if err != nil {
		return err
	}
	if sess == nil {
		return fmt.Errorf("session not found: %s", sessionID)
	}

	sess.AppendHistory(msgs...)
	sess.Touch(s.now())
	return s.persist(ctx, sess)
}

// Remove deletes the session and its identity index entry.
func (s *RedisStore) Remove(ctx context.Context, sessionID string) error {
	data, err := s.client.Get(ctx, s.sessionKey(sessionID)).Bytes()
	if err != nil && !errors.Is(err, redis.Nil) {
		return fmt.Errorf("failed to load session for removal: %w", err)
	}

	if err == nil {
		var snap Snapshot
		if jsonErr := json.Unmarshal(data, &snap); jsonErr == nil && snap.Identity != "" {
			current, idxErr := s.client.Get(ctx, s.identityKey(snap.Identity)).Result()
			if idxErr == nil && current == sessionID {
				if delErr := s.client.Del(ctx, s.identityKey(snap.Identity)).Err(); delErr != nil {
					return fmt.Errorf("failed to remove identity index: %w", delErr)
				}
			}
		}
	}

	if err := s.client.Del(ctx, s.sessionKey(sessionID)).Err(); err != nil {
		return fmt.Errorf("failed to remove session: %w", err)
	}
	return nil
}

// Len counts live sessions by scanning the session keyspace.
func (s *RedisStore) Len(ctx context.Context) (int, error) {
	count := 0
	iter := s.client.Scan(ctx, 0, s.prefix+"session:*", 100).Iterator()
	for iter.Next(ctx) {
		count++
	}
	if err := iter.Err(); err != nil {
		return 0, fmt.Errorf("failed to scan sessions: %w", err)
	}
	return count, nil
}

// Close releases the Redis connection.
func (s *RedisStore) Close() error {
	return s.client.Close()
}
