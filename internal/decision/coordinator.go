// Package decision implements the four-mode resolution state machine:
// autonomous, collaborative, hierarchical, and human-in-the-loop.
package decision

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/google/uuid"

	"github.com/synod/synod/internal/bus"
	"github.com/synod/synod/internal/config"
	"github.com/synod/synod/internal/org"
	"github.com/synod/synod/internal/store"
)

// Mode selects who must agree before a decision resolves.
type Mode string

const (
	ModeAutonomous    Mode = "autonomous"
	ModeCollaborative Mode = "collaborative"
	ModeHierarchical  Mode = "hierarchical"
	ModeHuman         Mode = "human"
)

// Validation errors.
var (
	ErrUnknownMode    = errors.New("unknown decision mode")
	ErrNotPending     = errors.New("decision is not pending")
	ErrNotParticipant = errors.New("role is not in the participant set")
	// ErrSinkInitiated rejects autonomous or hierarchical requests from the
	// terminal authority: it has no parent to escalate to, and its own
	// verdicts arrive through human mode.
	ErrSinkInitiated = errors.New("terminal authority cannot initiate an escalating decision")
)

// Request describes a decision to initiate. Mode may be promoted to
// hierarchical before the record is created; once created it is fixed.
type Request struct {
	Type      string
	Initiator org.Role
	Mode      Mode
	// Amount is the budget impact checked against authority ceilings.
	Amount float64
	// Confidence is the initiator's self-assessed confidence. Below the
	// role's escalation threshold an autonomous request is promoted.
	Confidence float64
	Context    map[string]any
}

// Publisher sends coordination messages on the bus.
type Publisher interface {
	Publish(ctx context.Context, msg *bus.Message) (int64, error)
}

// Availability reports whether a role's circuit is closed.
type Availability interface {
	Available(role org.Role) bool
}

// Coordinator drives decisions from initiation to a terminal state. Every
// transition is persisted before it is visible.
type Coordinator struct {
	store     *store.Store
	publisher Publisher
	health    Availability
	authority org.AuthorityTable
	cfg       config.DecisionConfig
	human     *humanGate

	mu         sync.Mutex
	collectors map[string]*voteCollector
}

// New creates a coordinator. The escalation graph is validated here, once,
// from static configuration; an invalid graph refuses to start.
func New(st *store.Store, pub Publisher, health Availability, authority org.AuthorityTable, cfg config.DecisionConfig) (*Coordinator, error) {
	if err := authority.ValidateEscalationGraph(); err != nil {
		return nil, fmt.Errorf("authority configuration: %w", err)
	}
	if cfg.VoteTimeout <= 0 {
		cfg.VoteTimeout = config.DefaultConfig().Decision.VoteTimeout
	}
	if cfg.ConsensusThreshold <= 0 {
		cfg.ConsensusThreshold = config.DefaultConfig().Decision.ConsensusThreshold
	}
	return &Coordinator{
		store:      st,
		publisher:  pub,
		health:     health,
		authority:  authority,
		cfg:        cfg,
		human:      newHumanGate(),
		collectors: make(map[string]*voteCollector),
	}, nil
}

// Initiate validates the request, derives the participant set, persists the
// decision, and dispatches it per mode.
func (c *Coordinator) Initiate(ctx context.Context, req *Request) (*store.DecisionRecord, error) {
	if _, err := org.ParseRole(string(req.Initiator)); err != nil {
		return nil, err
	}
	if req.Type == "" {
		return nil, errors.New("decision type required")
	}
	switch req.Mode {
	case ModeAutonomous, ModeCollaborative, ModeHierarchical, ModeHuman:
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownMode, req.Mode)
	}
	// Autonomous and hierarchical requests must be able to walk upward; the
	// sink has nowhere to go and would leave the record pending forever.
	if req.Mode == ModeAutonomous || req.Mode == ModeHierarchical {
		if _, ok := c.authority.Escalate(req.Initiator); !ok {
			return nil, fmt.Errorf("%w: %s", ErrSinkInitiated, req.Initiator)
		}
	}

	// Below-threshold confidence promotes an autonomous request before the
	// record exists, so the persisted mode stays fixed for the record's life.
	mode := req.Mode
	if mode == ModeAutonomous {
		if auth, ok := c.authority[req.Initiator]; ok && req.Confidence < auth.EscalationThreshold {
			slog.Info("auto-promoting low-confidence decision to hierarchical",
				"initiator", req.Initiator, "confidence", req.Confidence, "threshold", auth.EscalationThreshold)
			mode = ModeHierarchical
		}
	}

	participants := c.participantsFor(mode, req.Initiator)
	participantsJSON, err := json.Marshal(participants)
	if err != nil {
		return nil, fmt.Errorf("encode participants: %w", err)
	}
	contextJSON, _ := json.Marshal(req.Context)

	rec := &store.DecisionRecord{
		ID:           uuid.NewString(),
		Type:         req.Type,
		Initiator:    string(req.Initiator),
		Mode:         string(mode),
		Status:       store.DecisionPending,
		Participants: string(participantsJSON),
		Context:      string(contextJSON),
	}
	if err := c.store.InsertDecision(rec); err != nil {
		return nil, err
	}
	slog.Info("decision initiated", "decision_id", rec.ID, "initiator", rec.Initiator, "mode", rec.Mode, "type", rec.Type)

	switch mode {
	case ModeAutonomous:
		err = c.resolveAutonomous(ctx, rec, req)
	case ModeCollaborative:
		err = c.startCollaborative(ctx, rec, participants)
	case ModeHierarchical:
		err = c.escalate(ctx, rec, req, req.Initiator)
	case ModeHuman:
		err = c.pauseForHuman(ctx, rec)
	}
	if err != nil {
		return nil, err
	}
	return c.store.GetDecision(rec.ID)
}

// participantsFor derives the participant set from the mode and role tables.
// Open circuits are excluded at creation; the set is never mutated after.
func (c *Coordinator) participantsFor(mode Mode, initiator org.Role) []org.Role {
	switch mode {
	case ModeAutonomous:
		return []org.Role{initiator}
	case ModeCollaborative:
		leadership := []org.Role{org.RoleCEO, org.RoleCTO, org.RoleCFO, org.RoleCOO}
		var out []org.Role
		for _, r := range leadership {
			if r != initiator && c.health != nil && !c.health.Available(r) {
				slog.Info("excluding unavailable role from participant set", "role", r)
				continue
			}
			out = append(out, r)
		}
		if len(out) == 0 {
			out = []org.Role{initiator}
		}
		return out
	case ModeHierarchical:
		if parent, ok := c.authority.Escalate(initiator); ok {
			return []org.Role{parent}
		}
		return []org.Role{initiator}
	case ModeHuman:
		return []org.Role{org.RoleBoard}
	}
	return nil
}

// resolveAutonomous resolves within the initiator's own authority limits, or
// escalates when the request exceeds them.
func (c *Coordinator) resolveAutonomous(ctx context.Context, rec *store.DecisionRecord, req *Request) error {
	if !c.authority.CanDecide(req.Initiator, req.Type, req.Amount) {
		slog.Info("request exceeds authority, escalating",
			"decision_id", rec.ID, "initiator", req.Initiator, "type", req.Type, "amount", req.Amount)
		return c.escalate(ctx, rec, req, req.Initiator)
	}

	outcome := fmt.Sprintf("resolved autonomously by %s", req.Initiator)
	if err := c.store.SetDecisionOutcome(rec.ID, store.DecisionApproved, outcome, req.Confidence); err != nil {
		return err
	}
	slog.Info("decision resolved", "decision_id", rec.ID, "actor", req.Initiator, "outcome", store.DecisionApproved)
	c.announceResult(ctx, rec.ID, req.Initiator, store.DecisionApproved, outcome)
	return nil
}

// escalate walks the statically validated escalation chain upward from the
// given level. The chain is a DAG with a unique human sink, so the walk
// terminates. The first authority able to decide resolves; otherwise the
// decision lands at the human sink and pauses.
func (c *Coordinator) escalate(ctx context.Context, rec *store.DecisionRecord, req *Request, from org.Role) error {
	level := from
	for {
		parent, ok := c.authority.Escalate(level)
		if !ok {
			break
		}
		msg := bus.NewMessage(level, bus.ChannelForRole(parent), bus.TypeEscalation,
			fmt.Sprintf("escalated decision %s", rec.ID), rec.Context)
		if _, err := c.publisher.Publish(ctx, msg); err != nil {
			slog.Warn("escalation notification failed", "decision_id", rec.ID, "to", parent, "error", err)
		}

		if parent.IsHuman() {
			if err := c.store.UpdateDecisionStatus(rec.ID, store.DecisionEscalated); err != nil {
				return err
			}
			slog.Info("decision escalated to human authority", "decision_id", rec.ID, "actor", level)
			c.human.register(rec.ID)
			return nil
		}
		if c.authority.CanDecide(parent, req.Type, req.Amount) {
			outcome := fmt.Sprintf("resolved by %s on escalation from %s", parent, req.Initiator)
			if err := c.store.SetDecisionOutcome(rec.ID, store.DecisionApproved, outcome, req.Confidence); err != nil {
				return err
			}
			slog.Info("decision resolved", "decision_id", rec.ID, "actor", parent, "outcome", store.DecisionApproved)
			c.announceResult(ctx, rec.ID, parent, store.DecisionApproved, outcome)
			return nil
		}
		level = parent
	}
	// Defensive: the validated DAG always ends at the human sink.
	return fmt.Errorf("escalation chain from %s has no terminal authority", from)
}

// pauseForHuman parks the decision in an unbounded wait. There is no
// timeout; only RespondHuman moves it.
func (c *Coordinator) pauseForHuman(ctx context.Context, rec *store.DecisionRecord) error {
	msg := bus.NewMessage(org.Role(rec.Initiator), bus.ChannelForRole(org.RoleBoard), bus.TypeEscalation,
		fmt.Sprintf("decision %s awaiting human approval", rec.ID), rec.Context)
	if _, err := c.publisher.Publish(ctx, msg); err != nil {
		slog.Warn("human approval notification failed", "decision_id", rec.ID, "error", err)
	}
	c.human.register(rec.ID)
	slog.Info("decision paused awaiting human", "decision_id", rec.ID, "initiator", rec.Initiator)
	return nil
}

// RespondHuman records an external human verdict for a paused decision.
func (c *Coordinator) RespondHuman(ctx context.Context, decisionID string, approved bool, rationale string) error {
	rec, err := c.store.GetDecision(decisionID)
	if err != nil {
		return err
	}
	if rec.Status != store.DecisionPending && rec.Status != store.DecisionEscalated {
		return fmt.Errorf("%w: %s is %s", ErrNotPending, decisionID, rec.Status)
	}

	status := store.DecisionRejected
	if approved {
		status = store.DecisionApproved
	}
	outcome := fmt.Sprintf("human verdict: %s", rationale)
	if err := c.store.SetDecisionOutcome(decisionID, status, outcome, 1.0); err != nil {
		return err
	}
	slog.Info("decision resolved", "decision_id", decisionID, "actor", org.RoleBoard, "outcome", status)
	c.human.resolve(decisionID, approved)
	c.announceResult(ctx, decisionID, org.RoleBoard, status, outcome)
	return nil
}

// AwaitHuman blocks until a paused decision receives a human verdict or the
// context is cancelled. The decision itself has no timeout; only the caller's
// patience does.
func (c *Coordinator) AwaitHuman(ctx context.Context, decisionID string) (bool, error) {
	return c.human.await(ctx, decisionID)
}

// ResumePending re-arms in-memory machinery for decisions that were mid
// flight when the process stopped. Durable state is the source of truth.
func (c *Coordinator) ResumePending(ctx context.Context) error {
	pending, err := c.store.PendingDecisions()
	if err != nil {
		return fmt.Errorf("resume: %w", err)
	}
	for i := range pending {
		rec := &pending[i]
		switch Mode(rec.Mode) {
		case ModeCollaborative:
			participants, err := decodeParticipants(rec.Participants)
			if err != nil {
				slog.Warn("resume: bad participant set", "decision_id", rec.ID, "error", err)
				continue
			}
			c.startCollector(rec.ID, participants)
			slog.Info("resumed vote collection", "decision_id", rec.ID)
		case ModeHuman:
			c.human.register(rec.ID)
			slog.Info("resumed human wait", "decision_id", rec.ID)
		}
	}
	return nil
}

func (c *Coordinator) announceResult(ctx context.Context, decisionID string, actor org.Role, status, outcome string) {
	msg := bus.NewMessage(actor, bus.Broadcast, bus.TypeDecisionResult, decisionID,
		fmt.Sprintf("%s: %s", status, outcome))
	if _, err := c.publisher.Publish(ctx, msg); err != nil {
		slog.Warn("decision result announcement failed", "decision_id", decisionID, "error", err)
	}
}

func decodeParticipants(raw string) ([]org.Role, error) {
	var names []string
	if err := json.Unmarshal([]byte(raw), &names); err != nil {
		return nil, err
	}
	out := make([]org.Role, 0, len(names))
	for _, n := range names {
		r, err := org.ParseRole(n)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, nil
}
