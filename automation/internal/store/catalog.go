package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
)

// ServiceBySlug returns the catalog service with the given slug.
func (s *Store) ServiceBySlug(ctx context.Context, slug string) (*Service, error) {
	var svc Service
	err := s.DB.QueryRowContext(ctx,
		`SELECT id, slug, name, enabled FROM services WHERE slug = ?`, slug,
	).Scan(&svc.ID, &svc.Slug, &svc.Name, &svc.Enabled)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("service %q: %w", slug, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get service %q: %w", slug, err)
	}
	return &svc, nil
}

// UpsertService inserts or updates a service by slug and returns its id.
func (s *Store) UpsertService(ctx context.Context, svc *Service) (string, error) {
	if svc.ID == "" {
		svc.ID = s.newID()
	}
	var id string
	err := s.DB.QueryRowContext(ctx,
		`INSERT INTO services (id, slug, name, enabled) VALUES (?, ?, ?, ?)
		ON CONFLICT(slug) DO UPDATE SET name = excluded.name
		RETURNING id`,
		svc.ID, svc.Slug, svc.Name, svc.Enabled,
	).Scan(&id)
	if err != nil {
		return "", fmt.Errorf("upsert service %q: %w", svc.Slug, err)
	}
	svc.ID = id
	return id, nil
}

// UpsertAction inserts or updates an action by (service_id, key).
func (s *Store) UpsertAction(ctx context.Context, a *Action) (string, error) {
	return s.upsertDefinition(ctx, "actions", &a.ID, a.ServiceID, a.Key, a.Description, string(a.ConfigSchema))
}

// UpsertReaction inserts or updates a reaction by (service_id, key).
func (s *Store) UpsertReaction(ctx context.Context, r *Reaction) (string, error) {
	return s.upsertDefinition(ctx, "reactions", &r.ID, r.ServiceID, r.Key, r.Description, string(r.ConfigSchema))
}

func (s *Store) upsertDefinition(ctx context.Context, table string, id *string, serviceID, key, desc, schema string) (string, error) {
	if *id == "" {
		*id = s.newID()
	}
	if strings.TrimSpace(schema) == "" {
		schema = "{}"
	}
	var got string
	err := s.DB.QueryRowContext(ctx,
		`INSERT INTO `+table+` (id, service_id, key, description, config_schema)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(service_id, key) DO UPDATE SET
			description = excluded.description,
			config_schema = excluded.config_schema
		RETURNING id`,
		*id, serviceID, key, desc, schema,
	).Scan(&got)
	if err != nil {
		return "", fmt.Errorf("upsert %s %q: %w", table, key, err)
	}
	*id = got
	return got, nil
}

// ActionByKey returns an action of the given service.
func (s *Store) ActionByKey(ctx context.Context, serviceSlug, key string) (*Action, error) {
	return s.definitionByKey(ctx, "actions", serviceSlug, key)
}

// ReactionByKey returns a reaction of the given service.
func (s *Store) ReactionByKey(ctx context.Context, serviceSlug, key string) (*Reaction, error) {
	a, err := s.definitionByKey(ctx, "reactions", serviceSlug, key)
	if err != nil {
		return nil, err
	}
	r := Reaction(*a)
	return &r, nil
}

func (s *Store) definitionByKey(ctx context.Context, table, serviceSlug, key string) (*Action, error) {
	var a Action
	var schema string
	err := s.DB.QueryRowContext(ctx,
		`SELECT d.id, d.service_id, d.key, d.description, d.config_schema
		FROM `+table+` d JOIN services s ON s.id = d.service_id
		WHERE s.slug = ? AND d.key = ?`, serviceSlug, key,
	).Scan(&a.ID, &a.ServiceID, &a.Key, &a.Description, &schema)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%s %s.%s: %w", table, serviceSlug, key, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get %s %s.%s: %w", table, serviceSlug, key, err)
	}
	a.ConfigSchema = []byte(schema)
	return &a, nil
}

// InsertUser creates a user row. Users belong to the CRUD collaborator; the
// engine only needs this for seeding and tests.
func (s *Store) InsertUser(ctx context.Context, u *User) error {
	if u.ID == "" {
		u.ID = s.newID()
	}
	if u.CreatedAt == 0 {
		u.CreatedAt = s.Now()
	}
	_, err := s.DB.ExecContext(ctx,
		`INSERT INTO users (id, email, name, created_at) VALUES (?, ?, ?, ?)`,
		u.ID, u.Email, u.Name, u.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert user: %w", err)
	}
	return nil
}
