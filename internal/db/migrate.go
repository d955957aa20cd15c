package db

import (
	"context"
	"fmt"
)

var schemaStatements = []string{
	`CREATE TABLE IF NOT EXISTS youtube_users (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL DEFAULT '',
		points INTEGER NOT NULL DEFAULT 0
	)`,
	`CREATE TABLE IF NOT EXISTS discord_users (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL DEFAULT '',
		points INTEGER NOT NULL DEFAULT 0
	)`,
	`CREATE TABLE IF NOT EXISTS twitch_users (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL DEFAULT '',
		points INTEGER NOT NULL DEFAULT 0
	)`,
	`CREATE TABLE IF NOT EXISTS links_youtube (
		discord_id TEXT PRIMARY KEY,
		youtube_id TEXT NOT NULL UNIQUE
	)`,
	`CREATE TABLE IF NOT EXISTS links_twitch (
		discord_id TEXT PRIMARY KEY,
		twitch_id TEXT NOT NULL UNIQUE
	)`,
	`CREATE TABLE IF NOT EXISTS hours_youtube (
		id TEXT PRIMARY KEY,
		last_seen TIMESTAMPTZ NOT NULL,
		watchtime INTEGER NOT NULL DEFAULT 0
	)`,
	`CREATE TABLE IF NOT EXISTS hours_discord (
		id TEXT PRIMARY KEY,
		last_seen TIMESTAMPTZ NOT NULL,
		watchtime INTEGER NOT NULL DEFAULT 0
	)`,
	`CREATE TABLE IF NOT EXISTS hours_twitch (
		id TEXT PRIMARY KEY,
		last_seen TIMESTAMPTZ NOT NULL,
		watchtime INTEGER NOT NULL DEFAULT 0
	)`,
	`CREATE TABLE IF NOT EXISTS mod_actions_youtube (
		id BIGSERIAL PRIMARY KEY,
		platform_id TEXT NOT NULL,
		action TEXT NOT NULL,
		reason TEXT NOT NULL,
		at TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,
	`CREATE TABLE IF NOT EXISTS mod_actions_discord (
		id BIGSERIAL PRIMARY KEY,
		platform_id TEXT NOT NULL,
		action TEXT NOT NULL,
		reason TEXT NOT NULL,
		at TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,
	`CREATE TABLE IF NOT EXISTS mod_actions_twitch (
		id BIGSERIAL PRIMARY KEY,
		platform_id TEXT NOT NULL,
		action TEXT NOT NULL,
		reason TEXT NOT NULL,
		at TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,
}

// EnsureSchema creates the tables the store expects. Statements are
// idempotent so repeated startups are safe.
func (s *Store) EnsureSchema(ctx context.Context) error {
	for _, stmt := range schemaStatements {
		if _, err := s.pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("apply schema: %w", err)
		}
	}
	return nil
}
