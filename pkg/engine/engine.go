package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/forgechat/forgechat/pkg/health"
	"github.com/forgechat/forgechat/pkg/reasoning"
	"github.com/forgechat/forgechat/pkg/session"
	"github.com/forgechat/forgechat/pkg/tools"
)

const (
	// DefaultMaxIterations bounds tool-call rounds within one turn.
	DefaultMaxIterations = 5

	// DefaultTurnBudget is the wall-clock limit for one turn.
	DefaultTurnBudget = 30 * time.Second

	// DefaultRetryBackoff is the pause before retrying a failed
	// reasoning call.
	DefaultRetryBackoff = 500 * time.Millisecond

	// DefaultToolFailureBudget is the number of consecutive
	// timeout/upstream_error invocations tolerated before the turn
	// falls back to partial synthesis.
	DefaultToolFailureBudget = 2
)

const fallbackReply = "I'm having trouble completing that request right now. Please try again in a moment."

const unavailableReply = "The assistant is temporarily unavailable. Please try again in a few minutes."

// Config holds orchestration parameters.
type Config struct {
	MaxIterations     int
	TurnBudget        time.Duration
	RetryBackoff      time.Duration
	ToolFailureBudget int
}

func (c *Config) applyDefaults() {
	if c.MaxIterations <= 0 {
		c.MaxIterations = DefaultMaxIterations
	}
	if c.TurnBudget <= 0 {
		c.TurnBudget = DefaultTurnBudget
	}
	if c.RetryBackoff <= 0 {
		c.RetryBackoff = DefaultRetryBackoff
	}
	if c.ToolFailureBudget <= 0 {
		c.ToolFailureBudget = DefaultToolFailureBudget
	}
}

// TurnInput is one user message bound to an authenticated session.
type TurnInput struct {
	SessionID string
	Identity  string
	Message   string
}

// Result is the terminal outcome of a turn. FailureCode is empty when
// the turn produced a normal reply, including degraded ones.
type Result struct {
	Reply       string
	Records     []*tools.InvocationRecord
	State       State
	Transitions []Transition
	Iterations  int
	FailureCode string
	Level       health.Level
	Usage       reasoning.Usage
	Duration    time.Duration
}

// Engine drives the bounded reasoning/tool loop for each turn.
type Engine struct {
	cfg      Config
	store    session.Store
	registry *tools.Registry
	gateway  *tools.Gateway
	client   reasoning.Client
	fallback reasoning.Client
	degrade  *health.Controller
	now      func() time.Time
}

// New creates an orchestration engine.
func New(cfg Config, store session.Store, registry *tools.Registry, gateway *tools.Gateway, client reasoning.Client, degrade *health.Controller) (*Engine, error) {
	if store == nil {
		return nil, errors.New("session store is required")
	}
	if registry == nil {
		return nil, errors.New("tool registry is required")
	}
	if gateway == nil {
		return nil, errors.New("tool gateway is required")
	}
	if client == nil {
		return nil, errors.New("reasoning client is required")
	}
	if degrade == nil {
		return nil, errors.New("degradation controller is required")
	}
	cfg.applyDefaults()

	return &Engine{
		cfg:      cfg,
		store:    store,
		registry: registry,
		gateway:  gateway,
		client:   client,
		fallback: reasoning.NewResponder(),
		degrade:  degrade,
		now:      time.Now,
	}, nil
}

// turn carries the mutable state of one in-flight turn.
type turn struct {
	in       TurnInput
	state    State
	trail    []Transition
	records  []*tools.InvocationRecord
	executed map[string]*tools.InvocationRecord
	started  time.Time
	now      func() time.Time
}

func (t *turn) transition(next State) {
	t.trail = append(t.trail, Transition{From: t.state, To: next, At: t.now()})
	t.state = next
}

func (t *turn) result(reply, code string, level health.Level, usage reasoning.Usage, iterations int) *Result {
	return &Result{
		Reply:       reply,
		Records:     t.records,
		State:       t.state,
		Transitions: t.trail,
		Iterations:  iterations,
		FailureCode: code,
		Level:       level,
		Usage:       usage,
		Duration:    t.now().Sub(t.started),
	}
}

// Run executes one conversational turn. It always returns a Result;
// failures are encoded in FailureCode, never raised.
func (e *Engine) Run(ctx context.Context, in TurnInput) *Result {
	t := &turn{
		in:       in,
		state:    StateReceived,
		executed: make(map[string]*tools.InvocationRecord),
		started:  e.now(),
		now:      e.now,
	}

	level := e.degrade.Level()
	if level == health.LevelUnavailable {
		t.transition(StateFailedUpstream)
		log.Warn().Str("session_id", in.SessionID).Msg("Turn rejected, service unavailable")
		return t.result(unavailableReply, CodeUnavailable, level, reasoning.Usage{}, 0)
	}

	sess, err := e.store.Get(ctx, in.SessionID)
	if err != nil {
		e.degrade.ReportStoreFailure()
		t.transition(StateFailedUpstream)
		log.Error().Err(err).Str("session_id", in.SessionID).Msg("Session lookup failed")
		return t.result(unavailableReply, CodeUnavailable, level, reasoning.Usage{}, 0)
	}
	e.degrade.ReportStoreSuccess()
	if sess == nil {
		t.transition(StateFailedAuth)
		return t.result("Your session has expired. Please start a new conversation.", CodeSessionExpired, level, reasoning.Usage{}, 0)
	}
	if sess.Identity != in.Identity {
		t.transition(StateFailedAuth)
		log.Warn().Str("session_id", in.SessionID).Str("identity", in.Identity).Msg("Session identity mismatch")
		return t.result("Authentication failed. Please start a new conversation.", CodeAuthentication, level, reasoning.Usage{}, 0)
	}
	t.transition(StatePermissionChecked)

	turnCtx, cancel := context.WithTimeout(ctx, e.cfg.TurnBudget)
	defer cancel()

	if level == health.LevelStatic {
		return e.runStatic(turnCtx, t, sess)
	}
	return e.runLoop(turnCtx, t, sess, level)
}

// runStatic answers from the keyword responder when the reasoning
// service is marked down.
func (e *Engine) runStatic(ctx context.Context, t *turn, sess *session.Session) *Result {
	t.transition(StatePlanning)
	bundle := reasoning.Bundle{Messages: conversationMessages(sess.History(), t.in.Message)}
	outcome, _ := e.fallback.Reason(ctx, bundle)
	t.transition(StateResponseReady)
	t.transition(StateDone)

	e.appendHistory(ctx, t.in.SessionID, t.in.Message, outcome.Answer)
	log.Info().Str("session_id", t.in.SessionID).Str("level", string(health.LevelStatic)).Msg("Turn answered statically")
	return t.result(outcome.Answer, "", health.LevelStatic, reasoning.Usage{}, 0)
}

func (e *Engine) runLoop(ctx context.Context, t *turn, sess *session.Session, level health.Level) *Result {
	bundle := reasoning.Bundle{
		System:   systemPrompt(sess, level == health.LevelToolLess),
		Messages: conversationMessages(sess.History(), t.in.Message),
	}
	if level != health.LevelToolLess {
		bundle.Tools = e.discoverTools(ctx)
	}

	var usage reasoning.Usage
	iterations := 0
	consecutiveHardFailures := 0

	for iterations < e.cfg.MaxIterations {
		if ctx.Err() != nil {
			return e.finishTimeout(t, level, usage, iterations)
		}
		iterations++
		t.transition(StatePlanning)

		outcome, err := e.reason(ctx, bundle)
		if err != nil {
			e.degrade.ReportReasoningFailure()
			return e.finishReasoningFailure(ctx, t, sess, err, level, usage, iterations)
		}
		e.degrade.ReportReasoningSuccess()
		if outcome.Usage != nil {
			usage.InputTokens += outcome.Usage.InputTokens
			usage.OutputTokens += outcome.Usage.OutputTokens
		}

		if outcome.ToolCall == nil {
			t.transition(StateResponseReady)
			t.transition(StateDone)
			e.appendHistory(ctx, t.in.SessionID, t.in.Message, outcome.Answer)
			log.Info().
				Str("session_id", t.in.SessionID).
				Int("iterations", iterations).
				Int("tool_calls", len(t.records)).
				Dur("duration", t.now().Sub(t.started)).
				Msg("Turn completed")
			return t.result(outcome.Answer, "", level, usage, iterations)
		}

		t.transition(StateToolExec)
		tc := outcome.ToolCall
		fingerprint := tools.Fingerprint(tc.Name, tc.Arguments)
		if prior, ok := t.executed[fingerprint]; ok {
			log.Debug().Str("session_id", t.in.SessionID).Str("tool", tc.Name).Msg("Duplicate invocation folded from prior result")
			bundle.Messages = appendRecord(bundle.Messages, tc, prior)
			continue
		}

		rec := e.invoke(ctx, t, sess, tc)
		t.records = append(t.records, rec)
		if rec.Succeeded() {
			t.executed[fingerprint] = rec
		}
		bundle.Messages = appendRecord(bundle.Messages, tc, rec)

		switch rec.Status {
		case tools.StatusTimeout, tools.StatusUpstreamError:
			e.degrade.ReportToolFailure()
			consecutiveHardFailures++
			if consecutiveHardFailures >= e.cfg.ToolFailureBudget {
				t.transition(StateFailedUpstream)
				reply := synthesizeReply(t.records)
				e.appendHistory(ctx, t.in.SessionID, t.in.Message, reply)
				log.Warn().
					Str("session_id", t.in.SessionID).
					Int("failures", consecutiveHardFailures).
					Msg("Tool failure budget exhausted, synthesizing fallback")
				return t.result(reply, CodeToolUpstream, level, usage, iterations)
			}
		case tools.StatusSuccess:
			e.degrade.ReportToolSuccess()
			consecutiveHardFailures = 0
		}
	}

	// Iteration bound hit: answer from whatever the tools returned.
	t.transition(StateResponseReady)
	t.transition(StateDone)
	reply := synthesizeReply(t.records)
	e.appendHistory(ctx, t.in.SessionID, t.in.Message, reply)
	log.Warn().
		Str("session_id", t.in.SessionID).
		Int("iterations", iterations).
		Msg("Iteration bound reached, synthesizing reply")
	return t.result(reply, "", level, usage, iterations)
}

// invoke re-validates the permission against the live session before
// handing the call to the gateway. The gateway checks the frozen
// snapshot again on its own.
func (e *Engine) invoke(ctx context.Context, t *turn, sess *session.Session, tc *reasoning.ToolCall) *tools.InvocationRecord {
	if desc, ok := e.registry.Get(tc.Name); ok {
		perm := desc.Permission()
		if !e.store.ValidateAction(ctx, t.in.SessionID, perm) {
			log.Warn().
				Str("session_id", t.in.SessionID).
				Str("tool", tc.Name).
				Str("permission", string(perm)).
				Msg("Tool invocation denied by session validation")
			return tools.Denied(tc.Name, tc.Arguments, fmt.Sprintf("permission '%s' required for tool '%s'", perm, tc.Name))
		}
	}
	return e.gateway.Invoke(ctx, tc.Name, tc.Arguments, sess.Permissions)
}

func (e *Engine) finishTimeout(t *turn, level health.Level, usage reasoning.Usage, iterations int) *Result {
	t.transition(StateFailedTimeout)
	reply := synthesizeReply(t.records)
	log.Warn().
		Str("session_id", t.in.SessionID).
		Dur("elapsed", t.now().Sub(t.started)).
		Msg("Turn budget exhausted")
	return t.result(reply, CodeTurnTimeout, level, usage, iterations)
}

func (e *Engine) finishReasoningFailure(ctx context.Context, t *turn, sess *session.Session, err error, level health.Level, usage reasoning.Usage, iterations int) *Result {
	kind := reasoning.Kind(err)
	log.Error().Err(err).
		Str("session_id", t.in.SessionID).
		Str("kind", string(kind)).
		Msg("Reasoning call failed")

	if kind == reasoning.KindTimeout {
		t.transition(StateFailedTimeout)
		reply := synthesizeReply(t.records)
		e.appendHistory(ctx, t.in.SessionID, t.in.Message, reply)
		return t.result(reply, CodeReasoningTimeout, level, usage, iterations)
	}

	// Unavailable or malformed: answer from the static responder so
	// the user still gets something useful.
	t.transition(StateFailedUpstream)
	bundle := reasoning.Bundle{Messages: conversationMessages(sess.History(), t.in.Message)}
	outcome, _ := e.fallback.Reason(ctx, bundle)
	e.appendHistory(ctx, t.in.SessionID, t.in.Message, outcome.Answer)
	return t.result(outcome.Answer, CodeReasoningDown, level, usage, iterations)
}

// reason calls the reasoning client with one retry on retryable errors.
func (e *Engine) reason(ctx context.Context, bundle reasoning.Bundle) (*reasoning.Outcome, error) {
	outcome, err := e.client.Reason(ctx, bundle)
	if err == nil || !reasoning.IsRetryable(err) {
		return outcome, err
	}

	log.Warn().Err(err).Msg("Reasoning call failed, retrying once")
	select {
	case <-time.After(e.cfg.RetryBackoff):
	case <-ctx.Done():
		return nil, &reasoning.Error{Kind: reasoning.KindTimeout, Err: ctx.Err()}
	}
	return e.client.Reason(ctx, bundle)
}

func (e *Engine) discoverTools(ctx context.Context) []reasoning.Tool {
	descriptors, err := e.registry.Discover(ctx)
	if err != nil {
		e.degrade.ReportToolFailure()
		log.Warn().Err(err).Msg("Tool discovery failed, continuing without tools")
		return nil
	}
	e.degrade.ReportToolSuccess()

	out := make([]reasoning.Tool, 0, len(descriptors))
	for _, d := range descriptors {
		out = append(out, reasoning.Tool{Name: d.Name, Description: d.Description, Schema: d.Schema})
	}
	return out
}

func (e *Engine) appendHistory(ctx context.Context, sessionID, userMsg, reply string) {
	if reply == "" {
		return
	}
	now := e.now()
	err := e.store.AppendHistory(ctx, sessionID,
		session.Message{Role: reasoning.RoleUser, Content: userMsg, Timestamp: now},
		session.Message{Role: reasoning.RoleAssistant, Content: reply, Timestamp: now},
	)
	if err != nil {
		log.Warn().Err(err).Str("session_id", sessionID).Msg("Failed to append conversation history")
	}
}

func conversationMessages(history []session.Message, userMsg string) []reasoning.Message {
	msgs := make([]reasoning.Message, 0, len(history)+1)
	for _, m := range history {
		msgs = append(msgs, reasoning.Message{Role: m.Role, Content: m.Content})
	}
	return append(msgs, reasoning.Message{Role: reasoning.RoleUser, Content: userMsg})
}

// appendRecord folds a tool invocation and its outcome back into the
// conversation so the next planning round can observe it.
func appendRecord(msgs []reasoning.Message, tc *reasoning.ToolCall, rec *tools.InvocationRecord) []reasoning.Message {
	return append(msgs,
		reasoning.Message{Role: reasoning.RoleAssistant, ToolCall: tc},
		reasoning.Message{Role: reasoning.RoleTool, ToolCallID: tc.ID, Content: recordPayload(rec)},
	)
}

func recordPayload(rec *tools.InvocationRecord) string {
	payload := map[string]interface{}{"status": string(rec.Status)}
	if rec.Succeeded() {
		payload["result"] = rec.Result
	} else {
		payload["error"] = rec.Error
		if len(rec.Suggestions) > 0 {
			payload["suggestions"] = rec.Suggestions
		}
	}
	b, err := json.Marshal(payload)
	if err != nil {
		return `{"status":"upstream_error","error":"result could not be serialized"}`
	}
	return string(b)
}

// synthesizeReply builds a partial answer from successful invocations,
// or the generic fallback when nothing succeeded.
func synthesizeReply(records []*tools.InvocationRecord) string {
	var succeeded []*tools.InvocationRecord
	for _, r := range records {
		if r.Succeeded() {
			succeeded = append(succeeded, r)
		}
	}
	if len(succeeded) == 0 {
		return fallbackReply
	}

	var sb strings.Builder
	sb.WriteString("I couldn't fully complete your request, but here is what I found:\n")
	for _, r := range succeeded {
		b, err := json.Marshal(r.Result)
		if err != nil {
			continue
		}
		result := string(b)
		if len(result) > 500 {
			result = result[:500] + "..."
		}
		sb.WriteString(fmt.Sprintf("- %s: %s\n", r.Tool, result))
	}
	return sb.String()
}

func systemPrompt(sess *session.Session, toolLess bool) string {
	perms := sess.Permissions.Strings()
	var sb strings.Builder
	sb.WriteString("You are ForgeChat, an assistant for the Forge build automation platform. ")
	sb.WriteString(fmt.Sprintf("The user is authenticated as %q with permissions: %s. ", sess.Identity, strings.Join(perms, ", ")))
	if toolLess {
		sb.WriteString("Platform tools are temporarily unavailable; answer from the conversation alone and say so when the user asks for live data.")
	} else {
		sb.WriteString("Use the provided tools to fetch real data before answering questions about jobs, builds or the platform. ")
		sb.WriteString("If a tool reports permission_denied, explain which permission the user is missing instead of retrying.")
	}
	return sb.String()
}
