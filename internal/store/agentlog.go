package store

import (
	"context"
	"database/sql"
	"errors"
	"time"
)

// LogAgentAction appends one action record for a chat session.
func (s *Store) LogAgentAction(ctx context.Context, sessionID, eventType, message string) error {
	_, err := s.db.ExecContext(ctx, `INSERT INTO agent_action_logs (session_id, event_type, message, timestamp)
		VALUES (?, ?, ?, ?)`, sessionID, eventType, message, formatTime(time.Now()))
	return err
}

// AgentActions returns the ordered action records of one session.
func (s *Store) AgentActions(ctx context.Context, sessionID string) ([]AgentAction, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, session_id, event_type, message, timestamp
		FROM agent_action_logs WHERE session_id = ? ORDER BY id ASC`, sessionID)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var out []AgentAction
	for rows.Next() {
		var a AgentAction
		var ts string
		if err := rows.Scan(&a.ID, &a.SessionID, &a.EventType, &a.Message, &ts); err != nil {
			return nil, err
		}
		a.Timestamp = parseTime(ts)
		out = append(out, a)
	}
	return out, rows.Err()
}

// SetInsightsLayout stores the client's insights layout JSON blob.
func (s *Store) SetInsightsLayout(ctx context.Context, layout string) error {
	_, err := s.db.ExecContext(ctx, `INSERT INTO insights_layout_config (id, layout, updated_at)
		VALUES (1, ?, ?)
		ON CONFLICT(id) DO UPDATE SET layout = excluded.layout, updated_at = excluded.updated_at`,
		layout, formatTime(time.Now()))
	return err
}

// InsightsLayout returns the stored layout JSON, or "" when unset.
func (s *Store) InsightsLayout(ctx context.Context) (string, error) {
	var layout string
	err := s.db.QueryRowContext(ctx, `SELECT layout FROM insights_layout_config WHERE id = 1`).Scan(&layout)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	return layout, nil
}
