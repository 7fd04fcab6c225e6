package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

const areaSelect = `
SELECT a.id, a.user_id, a.action_id, a.reaction_id, a.enabled,
       a.action_config, a.reaction_config, a.dedup_key_strategy,
       a.created_at, a.updated_at,
       ac.id, ac.service_id, ac.key, ac.description, ac.config_schema,
       re.id, re.service_id, re.key, re.description, re.config_schema,
       rs.id, rs.slug, rs.name, rs.enabled,
       u.id, u.email, u.name, u.created_at
FROM areas a
JOIN actions   ac ON ac.id = a.action_id
JOIN reactions re ON re.id = a.reaction_id
JOIN services  rs ON rs.id = re.service_id
JOIN users     u  ON u.id  = a.user_id`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanArea(r rowScanner) (*Area, error) {
	var a Area
	var actionCfg, reactionCfg, actionSchema, reactionSchema string
	err := r.Scan(
		&a.ID, &a.UserID, &a.ActionID, &a.ReactionID, &a.Enabled,
		&actionCfg, &reactionCfg, &a.DedupKeyStrategy,
		&a.CreatedAt, &a.UpdatedAt,
		&a.Action.ID, &a.Action.ServiceID, &a.Action.Key, &a.Action.Description, &actionSchema,
		&a.Reaction.ID, &a.Reaction.ServiceID, &a.Reaction.Key, &a.Reaction.Description, &reactionSchema,
		&a.ReactionService.ID, &a.ReactionService.Slug, &a.ReactionService.Name, &a.ReactionService.Enabled,
		&a.User.ID, &a.User.Email, &a.User.Name, &a.User.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	a.ActionConfig = []byte(actionCfg)
	a.ReactionConfig = []byte(reactionCfg)
	a.Action.ConfigSchema = []byte(actionSchema)
	a.Reaction.ConfigSchema = []byte(reactionSchema)
	return &a, nil
}

// EnabledAreas returns every enabled area whose action belongs to the given
// service, with Action, Reaction, the reaction's Service and User joined.
func (s *Store) EnabledAreas(ctx context.Context, serviceID string) ([]*Area, error) {
	rows, err := s.DB.QueryContext(ctx,
		areaSelect+` WHERE a.enabled = 1 AND ac.service_id = ? ORDER BY a.created_at, a.id`,
		serviceID)
	if err != nil {
		return nil, fmt.Errorf("list enabled areas: %w", err)
	}
	defer rows.Close()

	var out []*Area
	for rows.Next() {
		a, err := scanArea(rows)
		if err != nil {
			return nil, fmt.Errorf("scan area: %w", err)
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

// GetArea returns one area, eager-joined.
func (s *Store) GetArea(ctx context.Context, id string) (*Area, error) {
	a, err := scanArea(s.DB.QueryRowContext(ctx, areaSelect+` WHERE a.id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("area %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get area %s: %w", id, err)
	}
	return a, nil
}

// InsertArea creates an area row. Areas are written by the CRUD
// collaborator; this exists for seeding and tests.
func (s *Store) InsertArea(ctx context.Context, a *Area) error {
	if a.ID == "" {
		a.ID = s.newID()
	}
	now := s.Now()
	if a.CreatedAt == 0 {
		a.CreatedAt = now
	}
	a.UpdatedAt = now
	if a.DedupKeyStrategy == "" {
		a.DedupKeyStrategy = DedupProvider
	}
	actionCfg, reactionCfg := string(a.ActionConfig), string(a.ReactionConfig)
	if actionCfg == "" {
		actionCfg = "{}"
	}
	if reactionCfg == "" {
		reactionCfg = "{}"
	}
	_, err := s.DB.ExecContext(ctx,
		`INSERT INTO areas (id, user_id, action_id, reaction_id, enabled,
		action_config, reaction_config, dedup_key_strategy, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		a.ID, a.UserID, a.ActionID, a.ReactionID, a.Enabled,
		actionCfg, reactionCfg, a.DedupKeyStrategy, a.CreatedAt, a.UpdatedAt)
	if err != nil {
		return fmt.Errorf("insert area: %w", err)
	}
	return nil
}
