package store

import (
	"fmt"
	"time"
)

// InsertMessage persists a message and returns its assigned durable id.
func (s *Store) InsertMessage(m *MessageRecord) (int64, error) {
	if m.CreatedAt.IsZero() {
		m.CreatedAt = time.Now().UTC()
	}
	res, err := s.db.Exec(`INSERT INTO messages
		(message_id, from_role, to_channel, type, subject, content, priority, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		m.MessageID, m.FromRole, m.ToChannel, m.Type, m.Subject, m.Content, m.Priority, m.CreatedAt)
	if err != nil {
		return 0, fmt.Errorf("insert message: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("message durable id: %w", err)
	}
	m.DurableID = id
	return id, nil
}

// GetMessage fetches a message by durable id.
func (s *Store) GetMessage(durableID int64) (*MessageRecord, error) {
	row := s.db.QueryRow(`SELECT durable_id, message_id, from_role, to_channel, type, subject, content, priority, created_at
		FROM messages WHERE durable_id = ?`, durableID)
	var m MessageRecord
	err := row.Scan(&m.DurableID, &m.MessageID, &m.FromRole, &m.ToChannel, &m.Type, &m.Subject, &m.Content, &m.Priority, &m.CreatedAt)
	if err != nil {
		return nil, ErrNotFound
	}
	return &m, nil
}

// MessagesSince returns up to limit messages on a channel newer than the
// cutoff. Used by consumers to catch up after a missed notification.
func (s *Store) MessagesSince(channel string, cutoff time.Time, limit int) ([]MessageRecord, error) {
	rows, err := s.db.Query(`SELECT durable_id, message_id, from_role, to_channel, type, subject, content, priority, created_at
		FROM messages WHERE to_channel = ? AND created_at > ?
		ORDER BY durable_id ASC LIMIT ?`, channel, cutoff, limit)
	if err != nil {
		return nil, fmt.Errorf("messages since: %w", err)
	}
	defer rows.Close()

	var out []MessageRecord
	for rows.Next() {
		var m MessageRecord
		if err := rows.Scan(&m.DurableID, &m.MessageID, &m.FromRole, &m.ToChannel, &m.Type, &m.Subject, &m.Content, &m.Priority, &m.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		out = append(out, m)
	}
	return out, rows.Err()
}
