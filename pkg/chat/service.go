package chat

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/forgechat/forgechat/internal/metrics"
	"github.com/forgechat/forgechat/pkg/audit"
	"github.com/forgechat/forgechat/pkg/engine"
	"github.com/forgechat/forgechat/pkg/health"
	"github.com/forgechat/forgechat/pkg/session"
	"github.com/forgechat/forgechat/pkg/token"
	"github.com/forgechat/forgechat/pkg/tools"
)

// Sentinel errors for the facade's taxonomy. The transport layer maps
// these onto status codes; anything else is an internal failure.
var (
	ErrValidation     = errors.New("chat: invalid request")
	ErrAuthentication = errors.New("chat: authentication failed")
	ErrSessionExpired = errors.New("chat: session expired")
)

// DefaultMaxMessageLength bounds a single user message.
const DefaultMaxMessageLength = 1000

// Config holds facade settings.
type Config struct {
	MaxMessageLength int
	RenewalThreshold time.Duration
}

func (c *Config) applyDefaults() {
	if c.MaxMessageLength <= 0 {
		c.MaxMessageLength = DefaultMaxMessageLength
	}
	if c.RenewalThreshold <= 0 {
		c.RenewalThreshold = session.DefaultRenewalThreshold
	}
}

// SessionInfo is returned to a caller opening a conversation.
type SessionInfo struct {
	SessionID   string    `json:"session_id"`
	Token       string    `json:"token"`
	Permissions []string  `json:"permissions"`
	CreatedAt   time.Time `json:"created_at"`
	ExpiresAt   time.Time `json:"expires_at"`
}

// TurnRequest is one inbound conversational turn. Permissions are
// advisory only: they are audited and never consulted for
// authorization, which always runs against the session's snapshot.
type TurnRequest struct {
	SessionID   string            `json:"session_id"`
	Identity    string            `json:"identity"`
	Token       string            `json:"token"`
	Permissions []string          `json:"permissions,omitempty"`
	Message     string            `json:"message"`
	Context     map[string]string `json:"context,omitempty"`
}

// SessionState tells the caller where its session stands after a turn.
type SessionState struct {
	SessionID  string    `json:"session_id"`
	ExpiresAt  time.Time `json:"expires_at"`
	RenewalDue bool      `json:"renewal_due"`
}

// TurnResponse is the outcome of one turn. FailureCode is set for
// degraded outcomes that still produced a reply.
type TurnResponse struct {
	Reply        string                    `json:"reply"`
	Invocations  []*tools.InvocationRecord `json:"invocations,omitempty"`
	SessionState SessionState              `json:"session_state"`
	FailureCode  string                    `json:"failure_code,omitempty"`
}

// HealthStatus is the externally visible service health.
type HealthStatus struct {
	Level          string        `json:"level"`
	Dependencies   health.Health `json:"dependencies"`
	ActiveSessions int           `json:"active_sessions"`
}

// Service is the inbound facade: session issuance, turn processing and
// health, with audit and metrics around every turn.
type Service struct {
	cfg     Config
	store   session.Store
	codec   *token.Codec
	engine  *engine.Engine
	degrade *health.Controller
	sink    audit.Sink
	metrics *metrics.Metrics
	now     func() time.Time
}

// New creates the chat service.
func New(cfg Config, store session.Store, codec *token.Codec, eng *engine.Engine, degrade *health.Controller, sink audit.Sink, m *metrics.Metrics) (*Service, error) {
	if store == nil {
		return nil, errors.New("session store is required")
	}
	if codec == nil {
		return nil, errors.New("token codec is required")
	}
	if eng == nil {
		return nil, errors.New("orchestration engine is required")
	}
	if degrade == nil {
		return nil, errors.New("degradation controller is required")
	}
	if m == nil {
		return nil, errors.New("metrics are required")
	}
	if sink == nil {
		sink = audit.NopSink{}
	}
	cfg.applyDefaults()

	return &Service{
		cfg:     cfg,
		store:   store,
		codec:   codec,
		engine:  eng,
		degrade: degrade,
		sink:    sink,
		metrics: m,
		now:     time.Now,
	}, nil
}

// CreateSession opens a conversation for the identity, reusing its
// live session when one exists and is not near token renewal.
func (s *Service) CreateSession(ctx context.Context, identity string) (*SessionInfo, error) {
	identity = strings.TrimSpace(identity)
	if identity == "" {
		return nil, fmt.Errorf("%w: identity is required", ErrValidation)
	}

	start := s.now()
	sess, err := s.store.GetOrCreate(ctx, identity)
	if err != nil {
		s.degrade.ReportStoreFailure()
		return nil, fmt.Errorf("failed to create session: %w", err)
	}
	s.degrade.ReportStoreSuccess()

	if !sess.CreatedAt.Before(start) {
		s.metrics.SessionsCreated.Inc()
	}
	s.updateSessionsGauge(ctx)

	log.Info().
		Str("session_id", sess.ID).
		Str("identity", identity).
		Int("permissions", len(sess.Permissions)).
		Msg("Session ready")

	return &SessionInfo{
		SessionID:   sess.ID,
		Token:       sess.Token,
		Permissions: sess.Permissions.Strings(),
		CreatedAt:   sess.CreatedAt,
		ExpiresAt:   sess.ExpiresAt(),
	}, nil
}

// ProcessTurn validates the request, verifies the token binding and
// hands the turn to the engine. Validation rejects before any session
// work; auth failures carry distinct sentinels.
func (s *Service) ProcessTurn(ctx context.Context, req TurnRequest) (*TurnResponse, error) {
	start := s.now()

	if err := validateTurnRequest(req, s.cfg.MaxMessageLength); err != nil {
		s.observeTurn(engine.CodeValidation, start)
		return nil, err
	}

	claims, err := s.codec.Parse(req.Token)
	if err != nil {
		s.observeTurn(engine.CodeAuthentication, start)
		s.audit(req, "", nil, engine.CodeAuthentication, start)
		return nil, fmt.Errorf("%w: %v", ErrAuthentication, err)
	}
	if claims.SessionID != req.SessionID || claims.Identity != req.Identity {
		s.observeTurn(engine.CodeSessionExpired, start)
		s.audit(req, "", nil, engine.CodeSessionExpired, start)
		return nil, fmt.Errorf("%w: token does not match session", ErrSessionExpired)
	}

	res := s.engine.Run(ctx, engine.TurnInput{
		SessionID: req.SessionID,
		Identity:  req.Identity,
		Message:   req.Message,
	})

	outcome := res.FailureCode
	if outcome == "" {
		outcome = "ok"
	}
	s.observeTurn(outcome, start)
	for _, rec := range res.Records {
		s.metrics.ToolInvocationsTotal.WithLabelValues(rec.Tool, string(rec.Status)).Inc()
		s.metrics.ToolInvocationDuration.WithLabelValues(rec.Tool).Observe(rec.Duration.Seconds())
	}
	s.metrics.DegradationLevel.Set(s.degrade.Level().Value())
	s.updateSessionsGauge(ctx)
	s.audit(req, res.Reply, res.Records, outcome, start)

	switch res.FailureCode {
	case engine.CodeSessionExpired:
		return nil, fmt.Errorf("%w: session not found or expired", ErrSessionExpired)
	case engine.CodeAuthentication:
		return nil, fmt.Errorf("%w: identity does not match session", ErrAuthentication)
	}

	return &TurnResponse{
		Reply:        res.Reply,
		Invocations:  res.Records,
		SessionState: s.sessionState(ctx, req.SessionID),
		FailureCode:  res.FailureCode,
	}, nil
}

// Health reports the degradation level, dependency booleans and the
// active session count.
func (s *Service) Health(ctx context.Context) HealthStatus {
	level := s.degrade.Level()
	s.metrics.DegradationLevel.Set(level.Value())

	n, err := s.store.Len(ctx)
	if err != nil {
		log.Warn().Err(err).Msg("Failed to count active sessions")
		n = 0
	}

	return HealthStatus{
		Level:          string(level),
		Dependencies:   s.degrade.Health(),
		ActiveSessions: n,
	}
}

func validateTurnRequest(req TurnRequest, maxLen int) error {
	if strings.TrimSpace(req.SessionID) == "" {
		return fmt.Errorf("%w: session_id is required", ErrValidation)
	}
	if strings.TrimSpace(req.Identity) == "" {
		return fmt.Errorf("%w: identity is required", ErrValidation)
	}
	if strings.TrimSpace(req.Message) == "" {
		return fmt.Errorf("%w: message is required", ErrValidation)
	}
	if len(req.Message) > maxLen {
		return fmt.Errorf("%w: message exceeds %d characters", ErrValidation, maxLen)
	}
	return nil
}

func (s *Service) observeTurn(outcome string, start time.Time) {
	s.metrics.TurnsTotal.WithLabelValues(outcome).Inc()
	s.metrics.TurnDuration.WithLabelValues(outcome).Observe(s.now().Sub(start).Seconds())
}

func (s *Service) updateSessionsGauge(ctx context.Context) {
	if n, err := s.store.Len(ctx); err == nil {
		s.metrics.SessionsActive.Set(float64(n))
	}
}

func (s *Service) sessionState(ctx context.Context, sessionID string) SessionState {
	st := SessionState{SessionID: sessionID}
	sess, err := s.store.Get(ctx, sessionID)
	if err != nil || sess == nil {
		return st
	}
	st.ExpiresAt = sess.ExpiresAt()
	st.RenewalDue = sess.TokenRemaining(s.now()) < s.cfg.RenewalThreshold
	return st
}

// audit emits the turn record. Record never blocks; a full sink drops.
func (s *Service) audit(req TurnRequest, reply string, records []*tools.InvocationRecord, outcome string, start time.Time) {
	entry := audit.Entry{
		Timestamp:           start,
		Identity:            req.Identity,
		SessionID:           req.SessionID,
		Message:             req.Message,
		Reply:               reply,
		AdvisoryPermissions: req.Permissions,
		Context:             req.Context,
		Outcome:             outcome,
		DurationMs:          s.now().Sub(start).Milliseconds(),
	}
	if len(records) > 0 {
		entry.Invocations = records
	}
	s.sink.Record(entry)
}
