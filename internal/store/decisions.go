package store

import (
	"database/sql"
	"fmt"
	"strings"
	"time"
)

// InsertDecision persists a new decision. Mode and participants are fixed
// here and never mutated afterwards.
func (s *Store) InsertDecision(d *DecisionRecord) error {
	if d.CreatedAt.IsZero() {
		d.CreatedAt = time.Now().UTC()
	}
	if d.Status == "" {
		d.Status = DecisionPending
	}
	_, err := s.db.Exec(`INSERT INTO decisions
		(id, type, initiator, mode, status, participants, consensus_score, context, outcome, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		d.ID, d.Type, d.Initiator, d.Mode, d.Status, d.Participants, d.ConsensusScore, d.Context, d.Outcome, d.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert decision %s: %w", d.ID, err)
	}
	return nil
}

// GetDecision fetches a decision by id.
func (s *Store) GetDecision(id string) (*DecisionRecord, error) {
	row := s.db.QueryRow(`SELECT id, type, initiator, mode, status, participants, consensus_score, context, outcome, created_at, completed_at
		FROM decisions WHERE id = ?`, id)
	var d DecisionRecord
	var completed sql.NullTime
	err := row.Scan(&d.ID, &d.Type, &d.Initiator, &d.Mode, &d.Status, &d.Participants, &d.ConsensusScore, &d.Context, &d.Outcome, &d.CreatedAt, &completed)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get decision %s: %w", id, err)
	}
	if completed.Valid {
		d.CompletedAt = &completed.Time
	}
	return &d, nil
}

// UpdateDecisionStatus persists a state transition. Transitions are durable
// before they are visible to anyone else.
func (s *Store) UpdateDecisionStatus(id, status string) error {
	var completedAt any
	if status == DecisionApproved || status == DecisionRejected {
		completedAt = time.Now().UTC()
	}
	res, err := s.db.Exec(`UPDATE decisions SET status = ?, completed_at = COALESCE(?, completed_at) WHERE id = ?`,
		status, completedAt, id)
	if err != nil {
		return fmt.Errorf("update decision %s status: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// SetDecisionOutcome records the resolution outcome and consensus score
// alongside the terminal status.
func (s *Store) SetDecisionOutcome(id, status, outcome string, score float64) error {
	res, err := s.db.Exec(`UPDATE decisions
		SET status = ?, outcome = ?, consensus_score = ?, completed_at = ?
		WHERE id = ?`,
		status, outcome, score, time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("set decision %s outcome: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// PendingDecisions returns non-terminal decisions, oldest first. Used on
// restart to resume from last persisted state.
func (s *Store) PendingDecisions() ([]DecisionRecord, error) {
	rows, err := s.db.Query(`SELECT id, type, initiator, mode, status, participants, consensus_score, context, outcome, created_at, completed_at
		FROM decisions WHERE status = ? ORDER BY created_at ASC`, DecisionPending)
	if err != nil {
		return nil, fmt.Errorf("pending decisions: %w", err)
	}
	defer rows.Close()

	var out []DecisionRecord
	for rows.Next() {
		var d DecisionRecord
		var completed sql.NullTime
		if err := rows.Scan(&d.ID, &d.Type, &d.Initiator, &d.Mode, &d.Status, &d.Participants, &d.ConsensusScore, &d.Context, &d.Outcome, &d.CreatedAt, &completed); err != nil {
			return nil, fmt.Errorf("scan decision: %w", err)
		}
		if completed.Valid {
			d.CompletedAt = &completed.Time
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

// InsertVote records a vote. A second vote from the same role on the same
// decision is a conflict, never an overwrite. The insert is gated on the
// decision still being pending in the same statement, so a vote can never
// land on a decision that resolved concurrently.
func (s *Store) InsertVote(v *VoteRecord) error {
	if v.CreatedAt.IsZero() {
		v.CreatedAt = time.Now().UTC()
	}
	res, err := s.db.Exec(`INSERT INTO votes (decision_id, voter_role, choice, confidence, rationale, created_at)
		SELECT ?, ?, ?, ?, ?, ?
		WHERE EXISTS (SELECT 1 FROM decisions WHERE id = ? AND status = ?)`,
		v.DecisionID, v.VoterRole, v.Choice, v.Confidence, v.Rationale, v.CreatedAt,
		v.DecisionID, DecisionPending)
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE") || strings.Contains(err.Error(), "PRIMARY") {
			return ErrDuplicateVote
		}
		return fmt.Errorf("insert vote on %s by %s: %w", v.DecisionID, v.VoterRole, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrVoteClosed
	}
	return nil
}

// VotesForDecision returns all recorded votes for a decision.
func (s *Store) VotesForDecision(decisionID string) ([]VoteRecord, error) {
	rows, err := s.db.Query(`SELECT decision_id, voter_role, choice, confidence, rationale, created_at
		FROM votes WHERE decision_id = ?`, decisionID)
	if err != nil {
		return nil, fmt.Errorf("votes for %s: %w", decisionID, err)
	}
	defer rows.Close()

	var out []VoteRecord
	for rows.Next() {
		var v VoteRecord
		if err := rows.Scan(&v.DecisionID, &v.VoterRole, &v.Choice, &v.Confidence, &v.Rationale, &v.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan vote: %w", err)
		}
		out = append(out, v)
	}
	return out, rows.Err()
}
