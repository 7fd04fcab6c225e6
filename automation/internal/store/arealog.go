package store

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/hazyhaar/area/dbopen"
)

// AppendLog writes one execution log row.
func (s *Store) AppendLog(ctx context.Context, l *AreaLog) error {
	switch l.Status {
	case StatusSuccess, StatusFailure, StatusSkipped:
	default:
		return fmt.Errorf("area log: invalid status %q", l.Status)
	}
	if l.ID == "" {
		l.ID = s.newID()
	}
	if l.TriggeredAt == 0 {
		l.TriggeredAt = s.Now()
	}
	payload := string(l.Payload)
	if payload == "" {
		payload = "{}"
	}
	_, err := dbopen.Exec(ctx, s.DB,
		`INSERT INTO area_logs (id, area_id, status, payload, error, triggered_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		l.ID, l.AreaID, l.Status, payload, l.Error, l.TriggeredAt)
	if err != nil {
		return fmt.Errorf("append area log %s: %w", l.AreaID, err)
	}
	return nil
}

// ListLogs returns the execution log of an area, newest first.
func (s *Store) ListLogs(ctx context.Context, areaID string, limit int) ([]*AreaLog, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.DB.QueryContext(ctx,
		`SELECT id, area_id, status, payload, error, triggered_at
		FROM area_logs WHERE area_id = ?
		ORDER BY triggered_at DESC, id DESC LIMIT ?`, areaID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*AreaLog
	for rows.Next() {
		var l AreaLog
		var payload string
		if err := rows.Scan(&l.ID, &l.AreaID, &l.Status, &payload, &l.Error, &l.TriggeredAt); err != nil {
			return nil, fmt.Errorf("scan area log: %w", err)
		}
		l.Payload = json.RawMessage(payload)
		out = append(out, &l)
	}
	return out, rows.Err()
}
