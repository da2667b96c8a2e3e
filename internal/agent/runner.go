// Package agent implements the per-role runtime: one Runner per role, each
// an independently executing unit that services its bus channels, emits
// heartbeats, and engages in decisions through the coordinator.
package agent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/synod/synod/internal/bus"
	"github.com/synod/synod/internal/decision"
	"github.com/synod/synod/internal/health"
	"github.com/synod/synod/internal/org"
	"github.com/synod/synod/internal/participation"
	"github.com/synod/synod/internal/store"
)

// Options contains the dependencies for one role's runtime.
type Options struct {
	Role        org.Role
	Bus         *bus.Bus
	Health      *health.Monitor
	Evaluator   *participation.Evaluator
	Coordinator *decision.Coordinator
	// CatchUpWindow is how far back to replay missed role-channel messages
	// on startup. Zero skips catch-up.
	CatchUpWindow time.Duration
}

// Runner is one role's main loop. Inbound messages and heartbeats run on the
// primary path; deep evaluation and workflow steps run off it and come back
// as async bus messages.
type Runner struct {
	role        org.Role
	bus         *bus.Bus
	health      *health.Monitor
	evaluator   *participation.Evaluator
	coordinator *decision.Coordinator
	catchUp     time.Duration
}

func NewRunner(opts Options) *Runner {
	return &Runner{
		role:        opts.Role,
		bus:         opts.Bus,
		health:      opts.Health,
		evaluator:   opts.Evaluator,
		coordinator: opts.Coordinator,
		catchUp:     opts.CatchUpWindow,
	}
}

// Start subscribes the role's channels, replays missed messages, and begins
// heartbeating. It returns once the runner is wired; message handling runs on
// the bus's delivery path until ctx is cancelled.
func (r *Runner) Start(ctx context.Context) error {
	own := bus.ChannelForRole(r.role)
	if err := r.bus.Subscribe(bus.Broadcast, func(msg *bus.Message) { r.handleBroadcast(ctx, msg) }); err != nil {
		return fmt.Errorf("runner %s: %w", r.role, err)
	}
	if err := r.bus.Subscribe(own, func(msg *bus.Message) { r.handleDirect(ctx, msg) }); err != nil {
		return fmt.Errorf("runner %s: %w", r.role, err)
	}

	if r.catchUp > 0 {
		n, err := r.bus.CatchUp(ctx, own, time.Now().UTC().Add(-r.catchUp))
		if err != nil {
			slog.Warn("catch-up failed, continuing live", "role", r.role, "error", err)
		} else if n > 0 {
			slog.Info("replayed missed messages", "role", r.role, "count", n)
		}
	}

	if r.health != nil {
		r.supervise(ctx, "heartbeat", func(ctx context.Context) error {
			r.health.StartHeartbeat(ctx, r.role)
			return nil
		})
	}
	slog.Info("runner started", "role", r.role)
	return nil
}

// handleBroadcast runs the participation fast filter on org-wide traffic.
// Deferred evaluations come back later on the role's own channel.
func (r *Runner) handleBroadcast(ctx context.Context, msg *bus.Message) {
	switch msg.Type {
	case bus.TypeTask:
		res, err := r.evaluator.Evaluate(ctx, msg)
		if errors.Is(err, participation.ErrAlreadyEvaluated) {
			return
		}
		if err != nil {
			slog.Warn("participation evaluation failed", "role", r.role, "message_id", msg.ID, "error", err)
			return
		}
		slog.Info("participation decided", "role", r.role, "message_id", msg.ID,
			"decision", res.Decision, "type", res.Type, "confidence", res.Confidence)
	case bus.TypeDecisionResult:
		slog.Debug("decision result observed", "role", r.role, "decision_id", msg.Subject)
	}
}

// handleDirect services the role's own channel: vote requests, escalations,
// and the role's deferred deep-evaluation results.
func (r *Runner) handleDirect(ctx context.Context, msg *bus.Message) {
	switch msg.Type {
	case bus.TypeVoteRequest:
		r.castVote(ctx, msg)
	case bus.TypeEscalation:
		slog.Info("escalation received", "role", r.role, "from", msg.From, "subject", msg.Subject)
	case bus.TypeParticipation:
		r.actOnDeepResult(msg)
	}
}

// castVote answers a vote request with this role's own relevance assessment.
// Only the synchronous fast filter is consulted; a vote never blocks on the
// reasoning service. Clear relevance approves, everything else abstains.
func (r *Runner) castVote(ctx context.Context, msg *bus.Message) {
	decisionID := msg.Subject
	score, reason := r.evaluator.Assess(msg.Content)

	choice := store.VoteAbstain
	confidence := 0.5
	rationale := reason
	if score >= r.evaluator.YesThreshold() {
		choice = store.VoteApprove
		confidence = score
	}

	if err := r.coordinator.CastVote(ctx, decisionID, r.role, choice, confidence, rationale); err != nil {
		switch {
		case errors.Is(err, store.ErrDuplicateVote):
			slog.Debug("vote already recorded", "role", r.role, "decision_id", decisionID)
		case errors.Is(err, decision.ErrNotPending):
			slog.Debug("vote window closed", "role", r.role, "decision_id", decisionID)
		default:
			slog.Warn("vote failed", "role", r.role, "decision_id", decisionID, "error", err)
		}
		return
	}
	slog.Info("vote cast", "role", r.role, "decision_id", decisionID, "choice", choice)
}

// actOnDeepResult handles a deferred evaluation landing back on the role's
// channel. A late yes engages; everything else is dropped quietly.
func (r *Runner) actOnDeepResult(msg *bus.Message) {
	var res participation.Result
	if err := json.Unmarshal([]byte(msg.Content), &res); err != nil {
		slog.Warn("drop undecodable participation result", "role", r.role, "error", err)
		return
	}
	if res.Role != string(r.role) {
		return
	}
	slog.Info("deep evaluation landed", "role", r.role, "message_id", res.MessageID,
		"decision", res.Decision, "confidence", res.Confidence)
}

// supervise runs fn on a monitored goroutine. Panics and errors are observed
// and logged; nothing fails silently.
func (r *Runner) supervise(ctx context.Context, name string, fn func(ctx context.Context) error) {
	go func() {
		defer func() {
			if p := recover(); p != nil {
				slog.Error("supervised goroutine panicked", "role", r.role, "name", name, "panic", p)
			}
		}()
		if err := fn(ctx); err != nil && !errors.Is(err, context.Canceled) {
			slog.Error("supervised goroutine failed", "role", r.role, "name", name, "error", err)
		}
	}()
}
