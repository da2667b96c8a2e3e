package store

import (
	"database/sql"
	"fmt"
	"time"
)

// CreateWorkflowExecution persists a new run at version 1.
func (s *Store) CreateWorkflowExecution(w *WorkflowExecutionRecord) error {
	now := time.Now().UTC()
	if w.CreatedAt.IsZero() {
		w.CreatedAt = now
	}
	w.UpdatedAt = now
	if w.Version == 0 {
		w.Version = 1
	}
	if w.Status == "" {
		w.Status = WorkflowRunning
	}
	_, err := s.db.Exec(`INSERT INTO workflow_executions
		(id, workflow_kind, state, version, status, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		w.ID, w.Kind, w.State, w.Version, w.Status, w.CreatedAt, w.UpdatedAt)
	if err != nil {
		return fmt.Errorf("create workflow execution %s: %w", w.ID, err)
	}
	return nil
}

// GetWorkflowExecution fetches a run by id.
func (s *Store) GetWorkflowExecution(id string) (*WorkflowExecutionRecord, error) {
	row := s.db.QueryRow(`SELECT id, workflow_kind, state, version, status, created_at, updated_at
		FROM workflow_executions WHERE id = ?`, id)
	var w WorkflowExecutionRecord
	err := row.Scan(&w.ID, &w.Kind, &w.State, &w.Version, &w.Status, &w.CreatedAt, &w.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get workflow execution %s: %w", id, err)
	}
	return &w, nil
}

// UpdateWorkflowExecutionCAS applies a version-checked compare-and-swap.
// The writer presents the version it read; if the stored version has since
// advanced, ErrVersionConflict is returned and nothing is written. On
// success the stored version advances by exactly 1.
func (s *Store) UpdateWorkflowExecutionCAS(id string, fromVersion int64, state []byte, status string) error {
	res, err := s.db.Exec(`UPDATE workflow_executions
		SET state = ?, status = ?, version = version + 1, updated_at = ?
		WHERE id = ? AND version = ?`,
		state, status, time.Now().UTC(), id, fromVersion)
	if err != nil {
		return fmt.Errorf("cas workflow execution %s: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("cas workflow execution %s: %w", id, err)
	}
	if n == 0 {
		// Distinguish a missing row from a lost race.
		if _, err := s.GetWorkflowExecution(id); err != nil {
			return err
		}
		return ErrVersionConflict
	}
	return nil
}
