package decision

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/synod/synod/internal/bus"
	"github.com/synod/synod/internal/org"
	"github.com/synod/synod/internal/store"
)

// startCollaborative persists nothing beyond the already-created record: it
// requests votes from every participant and arms the collector.
func (c *Coordinator) startCollaborative(ctx context.Context, rec *store.DecisionRecord, participants []org.Role) error {
	for _, p := range participants {
		msg := bus.NewMessage(org.Role(rec.Initiator), bus.ChannelForRole(p), bus.TypeVoteRequest,
			rec.ID, fmt.Sprintf("vote requested on %s decision %s", rec.Type, rec.ID))
		if _, err := c.publisher.Publish(ctx, msg); err != nil {
			slog.Warn("vote request failed", "decision_id", rec.ID, "to", p, "error", err)
		}
	}
	c.startCollector(rec.ID, participants)
	return nil
}

// CastVote records one participant's vote. Exactly one vote per role: a
// duplicate surfaces store.ErrDuplicateVote. Votes on non-pending decisions
// and votes from outside the participant set are rejected.
func (c *Coordinator) CastVote(ctx context.Context, decisionID string, voter org.Role, choice string, confidence float64, rationale string) error {
	switch choice {
	case store.VoteApprove, store.VoteReject, store.VoteAbstain:
	default:
		return fmt.Errorf("invalid vote choice %q", choice)
	}

	rec, err := c.store.GetDecision(decisionID)
	if err != nil {
		return err
	}
	if rec.Status != store.DecisionPending {
		return fmt.Errorf("%w: %s is %s", ErrNotPending, decisionID, rec.Status)
	}
	participants, err := decodeParticipants(rec.Participants)
	if err != nil {
		return fmt.Errorf("decode participants: %w", err)
	}
	if !containsRole(participants, voter) {
		return fmt.Errorf("%w: %s on %s", ErrNotParticipant, voter, decisionID)
	}

	if err := c.store.InsertVote(&store.VoteRecord{
		DecisionID: decisionID,
		VoterRole:  string(voter),
		Choice:     choice,
		Confidence: confidence,
		Rationale:  rationale,
	}); err != nil {
		// The decision can resolve between the pending check above and the
		// insert; the store's gate catches that window.
		if errors.Is(err, store.ErrVoteClosed) {
			return fmt.Errorf("%w: %s resolved during voting", ErrNotPending, decisionID)
		}
		return err
	}
	slog.Info("vote recorded", "decision_id", decisionID, "actor", voter, "choice", choice)

	c.mu.Lock()
	collector := c.collectors[decisionID]
	c.mu.Unlock()
	if collector != nil {
		collector.signal()
	}
	return nil
}

// voteCollector finalizes a collaborative decision when all votes are in or
// the collection timeout elapses.
type voteCollector struct {
	decisionID   string
	participants []org.Role
	votes        chan struct{}
	done         chan struct{}
}

func (v *voteCollector) signal() {
	select {
	case v.votes <- struct{}{}:
	default:
	}
}

func (c *Coordinator) startCollector(decisionID string, participants []org.Role) {
	collector := &voteCollector{
		decisionID:   decisionID,
		participants: participants,
		votes:        make(chan struct{}, 1),
		done:         make(chan struct{}),
	}
	c.mu.Lock()
	c.collectors[decisionID] = collector
	c.mu.Unlock()

	go c.collect(collector)
}

func (c *Coordinator) collect(v *voteCollector) {
	defer func() {
		c.mu.Lock()
		delete(c.collectors, v.decisionID)
		c.mu.Unlock()
		close(v.done)
	}()

	timer := time.NewTimer(c.cfg.VoteTimeout)
	defer timer.Stop()

	for {
		select {
		case <-v.votes:
			votes, err := c.store.VotesForDecision(v.decisionID)
			if err != nil {
				slog.Warn("vote recount failed", "decision_id", v.decisionID, "error", err)
				continue
			}
			if len(votes) >= len(v.participants) {
				c.finalize(v, votes, false)
				return
			}
		case <-timer.C:
			votes, err := c.store.VotesForDecision(v.decisionID)
			if err != nil {
				slog.Warn("vote read at timeout failed", "decision_id", v.decisionID, "error", err)
				votes = nil
			}
			c.finalize(v, votes, true)
			return
		}
	}
}

// finalize computes the weighted consensus. Missing votes count as abstain
// (only possible at timeout).
func (c *Coordinator) finalize(v *voteCollector, votes []store.VoteRecord, timedOut bool) {
	byRole := make(map[org.Role]store.VoteRecord, len(votes))
	for _, vote := range votes {
		if r, err := org.ParseRole(vote.VoterRole); err == nil {
			byRole[r] = vote
		}
	}

	score := c.consensusScore(v.participants, byRole)
	status := store.DecisionRejected
	if score >= c.cfg.ConsensusThreshold {
		status = store.DecisionApproved
	}
	outcome := fmt.Sprintf("consensus %.2f from %d/%d votes", score, len(byRole), len(v.participants))
	if timedOut {
		outcome += " (collection timeout, missing votes abstained)"
	}

	if err := c.store.SetDecisionOutcome(v.decisionID, status, outcome, score); err != nil {
		slog.Error("persist consensus outcome failed", "decision_id", v.decisionID, "error", err)
		return
	}
	slog.Info("decision resolved", "decision_id", v.decisionID, "actor", "consensus", "outcome", status, "score", score)
	actor := org.RoleCEO
	if rec, err := c.store.GetDecision(v.decisionID); err == nil {
		if r, err := org.ParseRole(rec.Initiator); err == nil {
			actor = r
		}
	}
	c.announceResult(context.Background(), v.decisionID, actor, status, outcome)
}

// consensusScore maps weighted votes onto [0,1]: every approval pulls toward
// 1, every rejection toward 0, abstentions (and missing votes) stay neutral.
func (c *Coordinator) consensusScore(participants []org.Role, byRole map[org.Role]store.VoteRecord) float64 {
	var total, sum float64
	for _, p := range participants {
		weight := 1.0
		if auth, ok := c.authority[p]; ok && auth.VoteWeight > 0 {
			weight = auth.VoteWeight
		}
		total += weight

		vote, ok := byRole[p]
		if !ok {
			continue // missing vote defaults to abstain
		}
		switch vote.Choice {
		case store.VoteApprove:
			sum += weight * vote.Confidence
		case store.VoteReject:
			sum -= weight * vote.Confidence
		}
	}
	if total == 0 {
		return 0
	}
	return (1 + sum/total) / 2
}

// WaitForResolution blocks until the collector for a decision finishes, for
// tests and synchronous callers. Returns immediately if no collector is
// active.
func (c *Coordinator) WaitForResolution(ctx context.Context, decisionID string) error {
	c.mu.Lock()
	collector := c.collectors[decisionID]
	c.mu.Unlock()
	if collector == nil {
		return nil
	}
	select {
	case <-collector.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func containsRole(roles []org.Role, r org.Role) bool {
	for _, x := range roles {
		if x == r {
			return true
		}
	}
	return false
}
