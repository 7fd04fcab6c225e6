package store

import "database/sql"

// Schema creates the tables the engine reads and writes. Users, areas and
// provider accounts are owned by the CRUD and OAuth collaborators; the engine
// reads them and writes webhook_events and area_logs.
const Schema = `
CREATE TABLE IF NOT EXISTS users (
    id         TEXT PRIMARY KEY,
    email      TEXT NOT NULL UNIQUE,
    name       TEXT NOT NULL DEFAULT '',
    created_at INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS services (
    id      TEXT PRIMARY KEY,
    slug    TEXT NOT NULL UNIQUE,
    name    TEXT NOT NULL,
    enabled INTEGER NOT NULL DEFAULT 1
);

CREATE TABLE IF NOT EXISTS actions (
    id            TEXT PRIMARY KEY,
    service_id    TEXT NOT NULL REFERENCES services(id) ON DELETE CASCADE,
    key           TEXT NOT NULL,
    description   TEXT NOT NULL DEFAULT '',
    config_schema TEXT NOT NULL DEFAULT '{}',
    UNIQUE(service_id, key)
);

CREATE TABLE IF NOT EXISTS reactions (
    id            TEXT PRIMARY KEY,
    service_id    TEXT NOT NULL REFERENCES services(id) ON DELETE CASCADE,
    key           TEXT NOT NULL,
    description   TEXT NOT NULL DEFAULT '',
    config_schema TEXT NOT NULL DEFAULT '{}',
    UNIQUE(service_id, key)
);

CREATE TABLE IF NOT EXISTS areas (
    id                 TEXT PRIMARY KEY,
    user_id            TEXT NOT NULL REFERENCES users(id) ON DELETE CASCADE,
    action_id          TEXT NOT NULL REFERENCES actions(id),
    reaction_id        TEXT NOT NULL REFERENCES reactions(id),
    enabled            INTEGER NOT NULL DEFAULT 1,
    action_config      TEXT NOT NULL DEFAULT '{}',
    reaction_config    TEXT NOT NULL DEFAULT '{}',
    dedup_key_strategy TEXT NOT NULL DEFAULT 'provider',
    created_at         INTEGER NOT NULL,
    updated_at         INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_areas_action ON areas(action_id, enabled);

CREATE TABLE IF NOT EXISTS provider_accounts (
    id               TEXT PRIMARY KEY,
    user_id          TEXT NOT NULL REFERENCES users(id) ON DELETE CASCADE,
    provider         TEXT NOT NULL,
    provider_user_id TEXT NOT NULL,
    access_token     TEXT NOT NULL,
    refresh_token    TEXT NOT NULL DEFAULT '',
    expires_at       INTEGER,
    created_at       INTEGER NOT NULL,
    updated_at       INTEGER NOT NULL,
    UNIQUE(user_id, provider),
    UNIQUE(provider, provider_user_id)
);

-- Dedup ledger: write-once marker per external event.
CREATE TABLE IF NOT EXISTS webhook_events (
    id          TEXT PRIMARY KEY,
    service_id  TEXT NOT NULL REFERENCES services(id) ON DELETE CASCADE,
    external_id TEXT NOT NULL,
    payload     TEXT NOT NULL DEFAULT '{}',
    received_at INTEGER NOT NULL,
    UNIQUE(service_id, external_id)
);
CREATE INDEX IF NOT EXISTS idx_webhook_events_time ON webhook_events(service_id, received_at DESC);

-- Execution log.
CREATE TABLE IF NOT EXISTS area_logs (
    id           TEXT PRIMARY KEY,
    area_id      TEXT NOT NULL REFERENCES areas(id) ON DELETE CASCADE,
    status       TEXT NOT NULL CHECK (status IN ('success', 'failure', 'skipped')),
    payload      TEXT NOT NULL DEFAULT '{}',
    error        TEXT NOT NULL DEFAULT '',
    triggered_at INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_area_logs_area ON area_logs(area_id, triggered_at DESC);
`

// ApplySchema creates all tables if they do not exist.
func ApplySchema(db *sql.DB) error {
	_, err := db.Exec(Schema)
	return err
}
