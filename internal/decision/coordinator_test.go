package decision

import (
	"context"
	"encoding/json"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/synod/synod/internal/bus"
	"github.com/synod/synod/internal/config"
	"github.com/synod/synod/internal/org"
	"github.com/synod/synod/internal/store"
)

type fakePublisher struct {
	mu   sync.Mutex
	msgs []*bus.Message
}

func (f *fakePublisher) Publish(ctx context.Context, msg *bus.Message) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.msgs = append(f.msgs, msg)
	return int64(len(f.msgs)), nil
}

func (f *fakePublisher) byType(msgType string) []*bus.Message {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*bus.Message
	for _, m := range f.msgs {
		if m.Type == msgType {
			out = append(out, m)
		}
	}
	return out
}

// allUp reports every circuit closed; down lists exceptions.
type fakeHealth struct {
	down map[org.Role]bool
}

func (f *fakeHealth) Available(role org.Role) bool { return !f.down[role] }

func newTestCoordinator(t *testing.T, cfg config.DecisionConfig) (*Coordinator, *store.Store, *fakePublisher) {
	t.Helper()
	st, err := store.Open(filepath.Join(t.TempDir(), "synod.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { st.Close() })

	pub := &fakePublisher{}
	c, err := New(st, pub, &fakeHealth{}, org.DefaultAuthorityTable(), cfg)
	if err != nil {
		t.Fatalf("new coordinator: %v", err)
	}
	return c, st, pub
}

func TestAutonomousWithinAuthorityApproves(t *testing.T) {
	c, _, pub := newTestCoordinator(t, config.DefaultConfig().Decision)

	rec, err := c.Initiate(context.Background(), &Request{
		Type:       "technical",
		Initiator:  org.RoleCTO,
		Mode:       ModeAutonomous,
		Amount:     50_000,
		Confidence: 0.9,
	})
	if err != nil {
		t.Fatalf("initiate: %v", err)
	}
	if rec.Mode != string(ModeAutonomous) {
		t.Errorf("mode changed to %s, should stay autonomous", rec.Mode)
	}
	if rec.Status != store.DecisionApproved {
		t.Errorf("expected approved, got %s (%s)", rec.Status, rec.Outcome)
	}
	if rec.CompletedAt == nil {
		t.Error("terminal decision must carry completed_at")
	}
	if len(pub.byType(bus.TypeDecisionResult)) != 1 {
		t.Error("resolution must be announced on the broadcast channel")
	}
}

func TestLowConfidencePromotesToHierarchical(t *testing.T) {
	c, _, _ := newTestCoordinator(t, config.DefaultConfig().Decision)

	// cto's escalation threshold is 0.7: confidence 0.5 must never resolve
	// autonomously, even though the amount is within the cto's ceiling.
	rec, err := c.Initiate(context.Background(), &Request{
		Type:       "technical",
		Initiator:  org.RoleCTO,
		Mode:       ModeAutonomous,
		Amount:     50_000,
		Confidence: 0.5,
	})
	if err != nil {
		t.Fatalf("initiate: %v", err)
	}
	if rec.Mode != string(ModeHierarchical) {
		t.Fatalf("expected promotion to hierarchical, got %s", rec.Mode)
	}
	// ceo can decide technical at this amount, so the escalation resolves
	// one level up rather than autonomously.
	if rec.Status != store.DecisionApproved {
		t.Errorf("expected approved by parent, got %s", rec.Status)
	}
	if rec.Outcome == "resolved autonomously by cto" {
		t.Error("promoted decision must not resolve autonomously")
	}
}

func TestEscalationBeyondEveryCeilingReachesHuman(t *testing.T) {
	c, _, pub := newTestCoordinator(t, config.DefaultConfig().Decision)

	// 2M exceeds even the ceo's ceiling, so the chain terminates at the
	// board and the decision pauses.
	rec, err := c.Initiate(context.Background(), &Request{
		Type:       "budget",
		Initiator:  org.RoleCFO,
		Mode:       ModeAutonomous,
		Amount:     2_000_000,
		Confidence: 0.9,
	})
	if err != nil {
		t.Fatalf("initiate: %v", err)
	}
	if rec.Status != store.DecisionEscalated {
		t.Fatalf("expected escalated, got %s", rec.Status)
	}
	if len(pub.byType(bus.TypeEscalation)) == 0 {
		t.Error("each escalation hop must be notified")
	}

	if err := c.RespondHuman(context.Background(), rec.ID, true, "board approved the spend"); err != nil {
		t.Fatalf("respond: %v", err)
	}
	got, err := c.store.GetDecision(rec.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.Status != store.DecisionApproved {
		t.Errorf("expected approved after human verdict, got %s", got.Status)
	}
}

func TestCollaborativeResolvesOnlyAfterAllVotes(t *testing.T) {
	cfg := config.DefaultConfig().Decision
	cfg.VoteTimeout = 10 * time.Second
	c, st, _ := newTestCoordinator(t, cfg)

	rec, err := c.Initiate(context.Background(), &Request{
		Type:      "strategic",
		Initiator: org.RoleCTO,
		Mode:      ModeCollaborative,
	})
	if err != nil {
		t.Fatalf("initiate: %v", err)
	}
	participants, err := decodeParticipants(rec.Participants)
	if err != nil {
		t.Fatal(err)
	}
	if len(participants) != 4 {
		t.Fatalf("expected full leadership participant set, got %v", participants)
	}

	for i, p := range participants[:len(participants)-1] {
		if err := c.CastVote(context.Background(), rec.ID, p, store.VoteApprove, 0.9, "in favor"); err != nil {
			t.Fatalf("vote %d: %v", i, err)
		}
	}
	// Votes are still outstanding: the decision must stay pending.
	time.Sleep(50 * time.Millisecond)
	mid, err := st.GetDecision(rec.ID)
	if err != nil {
		t.Fatal(err)
	}
	if mid.Status != store.DecisionPending {
		t.Fatalf("decision resolved with votes outstanding: %s", mid.Status)
	}

	last := participants[len(participants)-1]
	if err := c.CastVote(context.Background(), rec.ID, last, store.VoteApprove, 0.9, "in favor"); err != nil {
		t.Fatalf("final vote: %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := c.WaitForResolution(ctx, rec.ID); err != nil {
		t.Fatalf("wait: %v", err)
	}

	got, err := st.GetDecision(rec.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.Status != store.DecisionApproved {
		t.Errorf("unanimous approval must approve, got %s (%s)", got.Status, got.Outcome)
	}
	if got.ConsensusScore < 0.6 {
		t.Errorf("unexpected consensus score %v", got.ConsensusScore)
	}
}

func TestCollaborativeTimeoutAbstainsMissingVotes(t *testing.T) {
	cfg := config.DefaultConfig().Decision
	cfg.VoteTimeout = 100 * time.Millisecond
	c, st, _ := newTestCoordinator(t, cfg)

	rec, err := c.Initiate(context.Background(), &Request{
		Type:      "strategic",
		Initiator: org.RoleCEO,
		Mode:      ModeCollaborative,
	})
	if err != nil {
		t.Fatalf("initiate: %v", err)
	}

	// Nobody votes: every participant abstains at timeout and the neutral
	// consensus score 0.5 falls below the 0.6 threshold.
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := c.WaitForResolution(ctx, rec.ID); err != nil {
		t.Fatalf("wait: %v", err)
	}

	got, err := st.GetDecision(rec.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.Status != store.DecisionRejected {
		t.Errorf("all-abstain must reject, got %s", got.Status)
	}
	if got.Outcome == "" {
		t.Error("timeout resolution must record an outcome")
	}

	// A straggler vote after the timeout resolution is rejected and never
	// reaches the audit trail.
	err = c.CastVote(context.Background(), rec.ID, org.RoleCTO, store.VoteApprove, 0.9, "too late")
	if !errors.Is(err, ErrNotPending) {
		t.Errorf("expected ErrNotPending for a post-resolution vote, got %v", err)
	}
	votes, err := st.VotesForDecision(rec.ID)
	if err != nil {
		t.Fatal(err)
	}
	if len(votes) != 0 {
		t.Errorf("post-resolution vote must not be recorded, found %d", len(votes))
	}
}

func TestDuplicateAndOutsiderVotesRejected(t *testing.T) {
	cfg := config.DefaultConfig().Decision
	cfg.VoteTimeout = 10 * time.Second
	c, _, _ := newTestCoordinator(t, cfg)

	rec, err := c.Initiate(context.Background(), &Request{
		Type:      "strategic",
		Initiator: org.RoleCEO,
		Mode:      ModeCollaborative,
	})
	if err != nil {
		t.Fatalf("initiate: %v", err)
	}

	if err := c.CastVote(context.Background(), rec.ID, org.RoleCFO, store.VoteApprove, 0.8, ""); err != nil {
		t.Fatalf("first vote: %v", err)
	}
	err = c.CastVote(context.Background(), rec.ID, org.RoleCFO, store.VoteReject, 0.8, "changed my mind")
	if !errors.Is(err, store.ErrDuplicateVote) {
		t.Errorf("expected ErrDuplicateVote, got %v", err)
	}
	// hr_director is not in the leadership participant set.
	err = c.CastVote(context.Background(), rec.ID, org.RoleHRDirector, store.VoteApprove, 0.8, "")
	if !errors.Is(err, ErrNotParticipant) {
		t.Errorf("expected ErrNotParticipant, got %v", err)
	}
	if err := c.CastVote(context.Background(), rec.ID, org.RoleCTO, "veto", 0.8, ""); err == nil {
		t.Error("invalid choice must be rejected")
	}
}

func TestUnavailableRoleExcludedFromParticipants(t *testing.T) {
	st, err := store.Open(filepath.Join(t.TempDir(), "synod.db"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { st.Close() })

	cfg := config.DefaultConfig().Decision
	cfg.VoteTimeout = 10 * time.Second
	c, err := New(st, &fakePublisher{}, &fakeHealth{down: map[org.Role]bool{org.RoleCFO: true}}, org.DefaultAuthorityTable(), cfg)
	if err != nil {
		t.Fatal(err)
	}

	rec, err := c.Initiate(context.Background(), &Request{
		Type:      "strategic",
		Initiator: org.RoleCEO,
		Mode:      ModeCollaborative,
	})
	if err != nil {
		t.Fatalf("initiate: %v", err)
	}
	participants, err := decodeParticipants(rec.Participants)
	if err != nil {
		t.Fatal(err)
	}
	for _, p := range participants {
		if p == org.RoleCFO {
			t.Fatal("open-circuit role must be excluded at creation")
		}
	}
	if len(participants) != 3 {
		t.Errorf("expected 3 participants, got %v", participants)
	}
}

func TestHumanModePausesUntilVerdict(t *testing.T) {
	c, st, _ := newTestCoordinator(t, config.DefaultConfig().Decision)

	rec, err := c.Initiate(context.Background(), &Request{
		Type:      "strategic",
		Initiator: org.RoleCEO,
		Mode:      ModeHuman,
	})
	if err != nil {
		t.Fatalf("initiate: %v", err)
	}
	if rec.Status != store.DecisionPending {
		t.Fatalf("human decision must pause pending, got %s", rec.Status)
	}

	// No verdict yet: the wait outlives any internal deadline.
	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	if _, err := c.AwaitHuman(ctx, rec.ID); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected caller deadline, got %v", err)
	}

	if err := c.RespondHuman(context.Background(), rec.ID, false, "not this quarter"); err != nil {
		t.Fatalf("respond: %v", err)
	}
	approved, err := c.AwaitHuman(context.Background(), rec.ID)
	if err != nil {
		t.Fatalf("await: %v", err)
	}
	if approved {
		t.Error("expected rejection verdict")
	}

	got, err := st.GetDecision(rec.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.Status != store.DecisionRejected {
		t.Errorf("expected rejected, got %s", got.Status)
	}
	// A second verdict on a terminal decision is refused.
	if err := c.RespondHuman(context.Background(), rec.ID, true, "reconsidered"); !errors.Is(err, ErrNotPending) {
		t.Errorf("expected ErrNotPending, got %v", err)
	}
}

func TestResumePendingRearmsCollectorsFromDurableState(t *testing.T) {
	st, err := store.Open(filepath.Join(t.TempDir(), "synod.db"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { st.Close() })

	// Simulate a crash mid-collection: the record exists durably but no
	// collector is running.
	participants, _ := json.Marshal([]org.Role{org.RoleCEO, org.RoleCTO})
	rec := &store.DecisionRecord{
		ID:           uuid.NewString(),
		Type:         "strategic",
		Initiator:    "ceo",
		Mode:         string(ModeCollaborative),
		Status:       store.DecisionPending,
		Participants: string(participants),
	}
	if err := st.InsertDecision(rec); err != nil {
		t.Fatal(err)
	}

	cfg := config.DefaultConfig().Decision
	cfg.VoteTimeout = 10 * time.Second
	c, err := New(st, &fakePublisher{}, &fakeHealth{}, org.DefaultAuthorityTable(), cfg)
	if err != nil {
		t.Fatal(err)
	}
	if err := c.ResumePending(context.Background()); err != nil {
		t.Fatalf("resume: %v", err)
	}

	if err := c.CastVote(context.Background(), rec.ID, org.RoleCEO, store.VoteApprove, 0.9, ""); err != nil {
		t.Fatal(err)
	}
	if err := c.CastVote(context.Background(), rec.ID, org.RoleCTO, store.VoteApprove, 0.9, ""); err != nil {
		t.Fatal(err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := c.WaitForResolution(ctx, rec.ID); err != nil {
		t.Fatalf("wait: %v", err)
	}

	got, err := st.GetDecision(rec.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.Status != store.DecisionApproved {
		t.Errorf("resumed decision must resolve from durable state, got %s", got.Status)
	}
}

func TestSinkCannotInitiateEscalatingDecision(t *testing.T) {
	c, st, _ := newTestCoordinator(t, config.DefaultConfig().Decision)

	for _, mode := range []Mode{ModeAutonomous, ModeHierarchical} {
		_, err := c.Initiate(context.Background(), &Request{
			Type:       "strategic",
			Initiator:  org.RoleBoard,
			Mode:       mode,
			Confidence: 0.9,
		})
		if !errors.Is(err, ErrSinkInitiated) {
			t.Errorf("%s from the sink: expected ErrSinkInitiated, got %v", mode, err)
		}
	}
	// Rejection happens before the insert, so nothing is left pending.
	pending, err := st.PendingDecisions()
	if err != nil {
		t.Fatal(err)
	}
	if len(pending) != 0 {
		t.Errorf("rejected requests must not persist records, found %d", len(pending))
	}
}

func TestInvalidEscalationGraphRefusesToStart(t *testing.T) {
	st, err := store.Open(filepath.Join(t.TempDir(), "synod.db"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { st.Close() })

	bad := org.DefaultAuthorityTable()
	cto := bad[org.RoleCTO]
	cto.Parent = "" // second sink alongside the board
	bad[org.RoleCTO] = cto

	if _, err := New(st, &fakePublisher{}, &fakeHealth{}, bad, config.DefaultConfig().Decision); err == nil {
		t.Fatal("coordinator must refuse an escalation graph with two sinks")
	}
}

func TestConsensusScoreWeighting(t *testing.T) {
	c, _, _ := newTestCoordinator(t, config.DefaultConfig().Decision)
	participants := []org.Role{org.RoleCEO, org.RoleCTO, org.RoleCFO, org.RoleCOO}

	// ceo (weight 2.0) approves at full confidence, everyone else abstains:
	// (1 + 2.0/6.5) / 2 ≈ 0.654.
	byRole := map[org.Role]store.VoteRecord{
		org.RoleCEO: {Choice: store.VoteApprove, Confidence: 1.0},
	}
	got := c.consensusScore(participants, byRole)
	want := (1 + 2.0/6.5) / 2
	if diff := got - want; diff > 1e-9 || diff < -1e-9 {
		t.Errorf("consensusScore = %v, want %v", got, want)
	}

	// A full-confidence rejection from the same weight cancels it out.
	byRole[org.RoleCTO] = store.VoteRecord{Choice: store.VoteReject, Confidence: 1.0}
	byRole[org.RoleCFO] = store.VoteRecord{Choice: store.VoteReject, Confidence: 1.0}
	if got := c.consensusScore(participants, byRole); got >= 0.5 {
		t.Errorf("rejections must pull the score below neutral, got %v", got)
	}
}
