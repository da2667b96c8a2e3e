package store

import (
	"fmt"
	"time"
)

// UpsertAgentStatus records a heartbeat, keyed by role.
func (s *Store) UpsertAgentStatus(role, status string, at time.Time) error {
	_, err := s.db.Exec(`INSERT INTO agent_status (role, status, last_heartbeat)
		VALUES (?, ?, ?)
		ON CONFLICT(role) DO UPDATE SET
			status = excluded.status,
			last_heartbeat = excluded.last_heartbeat`,
		role, status, at.UTC())
	if err != nil {
		return fmt.Errorf("upsert status for %s: %w", role, err)
	}
	return nil
}

// ListAgentStatus returns the last reported status of every role.
func (s *Store) ListAgentStatus() ([]AgentStatusRecord, error) {
	rows, err := s.db.Query(`SELECT role, status, last_heartbeat FROM agent_status`)
	if err != nil {
		return nil, fmt.Errorf("list agent status: %w", err)
	}
	defer rows.Close()

	var out []AgentStatusRecord
	for rows.Next() {
		var r AgentStatusRecord
		if err := rows.Scan(&r.Role, &r.Status, &r.LastHeartbeat); err != nil {
			return nil, fmt.Errorf("scan agent status: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}
