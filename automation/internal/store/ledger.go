package store

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/hazyhaar/area/dbopen"
)

// Seen reports whether (serviceID, externalID) is already in the ledger.
func (s *Store) Seen(ctx context.Context, serviceID, externalID string) (bool, error) {
	var one int
	err := s.DB.QueryRowContext(ctx,
		`SELECT COUNT(1) FROM webhook_events WHERE service_id = ? AND external_id = ?`,
		serviceID, externalID).Scan(&one)
	if err != nil {
		return false, fmt.Errorf("ledger seen %s: %w", externalID, err)
	}
	return one > 0, nil
}

// Record inserts the ledger row if absent. inserted is false when the key
// was already present; a duplicate is not an error.
func (s *Store) Record(ctx context.Context, serviceID, externalID string, payload json.RawMessage) (inserted bool, err error) {
	if len(payload) == 0 {
		payload = json.RawMessage(`{}`)
	}
	res, err := dbopen.Exec(ctx, s.DB,
		`INSERT INTO webhook_events (id, service_id, external_id, payload, received_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(service_id, external_id) DO NOTHING`,
		s.newID(), serviceID, externalID, string(payload), s.Now())
	if err != nil {
		if dbopen.IsUniqueViolation(err) {
			return false, nil
		}
		return false, fmt.Errorf("ledger record %s: %w", externalID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("ledger record %s: %w", externalID, err)
	}
	return n == 1, nil
}

// ListEvents returns ledger rows of a service, newest first.
func (s *Store) ListEvents(ctx context.Context, serviceID string, limit int) ([]*WebhookEvent, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.DB.QueryContext(ctx,
		`SELECT id, service_id, external_id, payload, received_at
		FROM webhook_events WHERE service_id = ?
		ORDER BY received_at DESC, id DESC LIMIT ?`, serviceID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*WebhookEvent
	for rows.Next() {
		var e WebhookEvent
		var payload string
		if err := rows.Scan(&e.ID, &e.ServiceID, &e.ExternalID, &payload, &e.ReceivedAt); err != nil {
			return nil, fmt.Errorf("scan webhook event: %w", err)
		}
		e.Payload = json.RawMessage(payload)
		out = append(out, &e)
	}
	return out, rows.Err()
}

// CountEvents returns the number of ledger rows of a service.
func (s *Store) CountEvents(ctx context.Context, serviceID string) (int, error) {
	var n int
	err := s.DB.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM webhook_events WHERE service_id = ?`, serviceID).Scan(&n)
	return n, err
}
