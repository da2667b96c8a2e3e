// Package participation implements per-role self-selection: a synchronous
// fast filter over fixed vocabularies, with ambiguous cases deferred to the
// external reasoning service off the caller's control path.
package participation

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/synod/synod/internal/bus"
	"github.com/synod/synod/internal/config"
	"github.com/synod/synod/internal/org"
	"github.com/synod/synod/internal/reasoning"
)

// Decision values.
const (
	DecisionYes      = "yes"
	DecisionNo       = "no"
	DecisionDeferred = "deferred"
)

// Participation types.
const (
	TypeLead    = "lead"
	TypeAssist  = "assist"
	TypeObserve = "observe"
)

// ErrAlreadyEvaluated indicates the message id was evaluated within the
// dedup window; re-sent broadcasts are not re-processed.
var ErrAlreadyEvaluated = errors.New("message already evaluated")

// Result is the outcome of evaluating one broadcast for one role.
type Result struct {
	Role        string        `json:"role"`
	MessageID   string        `json:"message_id"`
	Decision    string        `json:"decision"`
	Confidence  float64       `json:"confidence"`
	Type        string        `json:"participation_type,omitempty"`
	Reason      string        `json:"reason,omitempty"`
	RetryAfter  time.Duration `json:"retry_after,omitempty"`
	EvaluatedAt time.Time     `json:"evaluated_at"`
}

// Publisher sends async deep-evaluation results back onto the bus.
type Publisher interface {
	Publish(ctx context.Context, msg *bus.Message) (int64, error)
}

// Evaluator performs self-selection for a single role.
type Evaluator struct {
	role      org.Role
	profile   Profile
	cfg       config.ParticipationConfig
	service   reasoning.Service
	publisher Publisher

	mu   sync.Mutex
	seen map[string]bool
	fifo []string
}

// NewEvaluator creates an evaluator for one role. The publisher may be nil;
// deep evaluation results are then only logged.
func NewEvaluator(role org.Role, profile Profile, cfg config.ParticipationConfig, svc reasoning.Service, pub Publisher) *Evaluator {
	if cfg.YesThreshold <= 0 {
		cfg.YesThreshold = 0.8
	}
	if cfg.NoThreshold <= 0 {
		cfg.NoThreshold = 0.2
	}
	if cfg.RetryAfter <= 0 {
		cfg.RetryAfter = 5 * time.Second
	}
	if cfg.DedupWindow <= 0 {
		cfg.DedupWindow = 512
	}
	if cfg.DeepEvTimeout <= 0 {
		cfg.DeepEvTimeout = 30 * time.Second
	}
	return &Evaluator{
		role:      role,
		profile:   profile,
		cfg:       cfg,
		service:   svc,
		publisher: pub,
		seen:      make(map[string]bool, cfg.DedupWindow),
	}
}

// Evaluate runs the fast filter and, for ambiguous scores, dispatches a deep
// evaluation off the caller's control path, returning immediately with a
// deferred result. A message id seen within the dedup window returns
// ErrAlreadyEvaluated.
func (e *Evaluator) Evaluate(ctx context.Context, msg *bus.Message) (*Result, error) {
	if e.remember(msg.ID) {
		return nil, ErrAlreadyEvaluated
	}

	score, matched, opposed := e.fastScore(msg.Subject + " " + msg.Content)
	now := time.Now().UTC()

	switch {
	case score >= e.cfg.YesThreshold:
		return &Result{
			Role:        string(e.role),
			MessageID:   msg.ID,
			Decision:    DecisionYes,
			Confidence:  score,
			Type:        e.participationType(msg),
			Reason:      fmt.Sprintf("fast path: matched %s", strings.Join(matched, ",")),
			EvaluatedAt: now,
		}, nil
	case score <= e.cfg.NoThreshold:
		return &Result{
			Role:        string(e.role),
			MessageID:   msg.ID,
			Decision:    DecisionNo,
			Confidence:  1 - score,
			Reason:      fmt.Sprintf("fast path: outside domain (%s)", strings.Join(opposed, ",")),
			EvaluatedAt: now,
		}, nil
	}

	e.spawnDeepEval(msg)
	return &Result{
		Role:        string(e.role),
		MessageID:   msg.ID,
		Decision:    DecisionDeferred,
		Reason:      "ambiguous relevance, deep evaluation in flight",
		RetryAfter:  e.cfg.RetryAfter,
		EvaluatedAt: now,
	}, nil
}

// Assess runs only the synchronous fast filter: no dedup, no deferred deep
// evaluation. For callers that need an immediate answer, such as voting.
func (e *Evaluator) Assess(text string) (score float64, reason string) {
	score, matched, opposed := e.fastScore(text)
	switch {
	case len(matched) > 0:
		reason = fmt.Sprintf("matched %s", strings.Join(matched, ","))
	case len(opposed) > 0:
		reason = fmt.Sprintf("outside domain (%s)", strings.Join(opposed, ","))
	default:
		reason = "no domain signal"
	}
	return score, reason
}

// YesThreshold reports the score at and above which the fast filter answers
// yes without deep evaluation.
func (e *Evaluator) YesThreshold() float64 { return e.cfg.YesThreshold }

// fastScore computes the synchronous relevance score from the role's fixed
// vocabulary. Target is well under 10ms: token matching only.
func (e *Evaluator) fastScore(text string) (score float64, matched, opposed []string) {
	tokens := tokenize(text)
	for _, kw := range e.profile.Keywords {
		if tokens[kw] {
			matched = append(matched, kw)
		}
	}
	for _, anti := range e.profile.AntiKeywords {
		if tokens[anti] {
			opposed = append(opposed, anti)
		}
	}
	score = clamp01(0.5 + 0.2*float64(len(matched)) - 0.25*float64(len(opposed)))
	return score, matched, opposed
}

func tokenize(text string) map[string]bool {
	out := make(map[string]bool)
	for _, tok := range strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !('a' <= r && r <= 'z') && !('0' <= r && r <= '9')
	}) {
		out[tok] = true
	}
	return out
}

// participationType picks lead when the sender outranks this role: a senior
// broadcast landing in this role's domain is work this role should own.
func (e *Evaluator) participationType(msg *bus.Message) string {
	sender, err := org.ParseRole(msg.From)
	if err != nil {
		return TypeAssist
	}
	if org.Outranks(sender, e.role) {
		return TypeLead
	}
	return TypeAssist
}

// spawnDeepEval runs the reasoning call on a monitored goroutine. The result
// is published as an async message keyed by (role, message id); failures are
// observed and fail closed to no.
func (e *Evaluator) spawnDeepEval(msg *bus.Message) {
	go func() {
		defer func() {
			if r := recover(); r != nil {
				slog.Error("deep evaluation panicked", "role", e.role, "message_id", msg.ID, "panic", r)
				e.publishResult(e.failClosed(msg.ID, "deep evaluation panicked"))
			}
		}()

		ctx, cancel := context.WithTimeout(context.Background(), e.cfg.DeepEvTimeout)
		defer cancel()
		result := e.deepEvaluate(ctx, msg)
		e.publishResult(result)
	}()
}

func (e *Evaluator) deepEvaluate(ctx context.Context, msg *bus.Message) *Result {
	prompt := fmt.Sprintf(`You are the %s of a company. Role description: %s

An organization-wide message arrived:
Subject: %s
Content: %s

Decide whether your role should participate. Respond with exactly these lines:
DECISION: yes or no
CONFIDENCE: a number between 0 and 1
PARTICIPATION: lead, assist, or observe
RATIONALE: one sentence`,
		e.role, e.profile.Description, msg.Subject, msg.Content)

	text, err := e.service.Generate(ctx, &reasoning.Request{
		Prompt:  prompt,
		Timeout: e.cfg.DeepEvTimeout,
	})
	if err != nil {
		// A missed participation is cheaper than default-yes flooding.
		slog.Warn("deep evaluation failed, defaulting to no", "role", e.role, "message_id", msg.ID, "error", err)
		return e.failClosed(msg.ID, fmt.Sprintf("reasoning service error: %v", err))
	}

	return &Result{
		Role:        string(e.role),
		MessageID:   msg.ID,
		Decision:    parseDecision(text),
		Confidence:  parseConfidence(text),
		Type:        parseParticipationType(text),
		Reason:      parseRationale(text),
		EvaluatedAt: time.Now().UTC(),
	}
}

func (e *Evaluator) failClosed(messageID, reason string) *Result {
	return &Result{
		Role:        string(e.role),
		MessageID:   messageID,
		Decision:    DecisionNo,
		Confidence:  0,
		Reason:      reason,
		EvaluatedAt: time.Now().UTC(),
	}
}

// publishResult sends the deep-evaluation outcome back to this role's
// channel. Stale results are discarded downstream when the decision window
// has already closed.
func (e *Evaluator) publishResult(result *Result) {
	if e.publisher == nil {
		slog.Info("participation result (no publisher)", "role", result.Role, "message_id", result.MessageID, "decision", result.Decision)
		return
	}
	payload, err := json.Marshal(result)
	if err != nil {
		slog.Error("encode participation result", "role", e.role, "error", err)
		return
	}
	msg := bus.NewMessage(e.role, bus.ChannelForRole(e.role), bus.TypeParticipation, result.MessageID, string(payload))
	if _, err := e.publisher.Publish(context.Background(), msg); err != nil {
		slog.Warn("publish participation result failed", "role", e.role, "message_id", result.MessageID, "error", err)
	}
}

// remember records a message id and reports whether it was already present
// in the bounded window.
func (e *Evaluator) remember(id string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.seen[id] {
		return true
	}
	e.seen[id] = true
	e.fifo = append(e.fifo, id)
	if len(e.fifo) > e.cfg.DedupWindow {
		oldest := e.fifo[0]
		e.fifo = e.fifo[1:]
		delete(e.seen, oldest)
	}
	return false
}
