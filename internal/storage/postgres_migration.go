package storage

import (
	"context"
	"fmt"
)

var schemaStatements = []string{
	`CREATE TABLE IF NOT EXISTS users (
		id TEXT PRIMARY KEY,
		username TEXT NOT NULL,
		avatar_url TEXT NOT NULL DEFAULT '',
		followers INTEGER NOT NULL DEFAULT 0,
		following INTEGER NOT NULL DEFAULT 0,
		videos_count INTEGER NOT NULL DEFAULT 0,
		total_likes INTEGER NOT NULL DEFAULT 0,
		can_go_live BOOLEAN NOT NULL DEFAULT FALSE,
		is_live BOOLEAN NOT NULL DEFAULT FALSE,
		balance NUMERIC(30, 8) NOT NULL DEFAULT 0,
		reward_balance NUMERIC(30, 8) NOT NULL DEFAULT 0,
		password_hash TEXT NOT NULL DEFAULT '',
		created_at TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,
	`CREATE UNIQUE INDEX IF NOT EXISTS users_username_unique ON users (lower(username))`,
	`CREATE TABLE IF NOT EXISTS follows (
		follower_id TEXT NOT NULL REFERENCES users (id) ON DELETE CASCADE,
		following_id TEXT NOT NULL REFERENCES users (id) ON DELETE CASCADE,
		followed_at TIMESTAMPTZ NOT NULL DEFAULT now(),
		PRIMARY KEY (follower_id, following_id)
	)`,
	`CREATE INDEX IF NOT EXISTS follows_following_idx ON follows (following_id)`,
	`CREATE TABLE IF NOT EXISTS videos (
		id TEXT PRIMARY KEY,
		owner_id TEXT NOT NULL REFERENCES users (id) ON DELETE CASCADE,
		url TEXT NOT NULL,
		description TEXT NOT NULL DEFAULT '',
		likes INTEGER NOT NULL DEFAULT 0,
		comments INTEGER NOT NULL DEFAULT 0,
		shares INTEGER NOT NULL DEFAULT 0,
		views INTEGER NOT NULL DEFAULT 0,
		created_at TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,
	`CREATE INDEX IF NOT EXISTS videos_created_idx ON videos (created_at DESC)`,
	`CREATE TABLE IF NOT EXISTS video_comments (
		id TEXT PRIMARY KEY,
		video_id TEXT NOT NULL REFERENCES videos (id) ON DELETE CASCADE,
		user_id TEXT NOT NULL,
		username TEXT NOT NULL,
		body TEXT NOT NULL,
		created_at TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,
	`CREATE INDEX IF NOT EXISTS video_comments_video_idx ON video_comments (video_id, created_at)`,
	`CREATE TABLE IF NOT EXISTS gift_records (
		id TEXT PRIMARY KEY,
		session_id TEXT NOT NULL,
		sender_id TEXT NOT NULL,
		sender_username TEXT NOT NULL DEFAULT '',
		target_id TEXT NOT NULL,
		kind TEXT NOT NULL,
		diamonds INTEGER NOT NULL DEFAULT 0,
		price NUMERIC(30, 8) NOT NULL DEFAULT 0,
		reward NUMERIC(30, 8) NOT NULL DEFAULT 0,
		created_at TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,
	`CREATE INDEX IF NOT EXISTS gift_records_target_idx ON gift_records (target_id, created_at)`,
}

func (r *postgresRepository) ensureSchema(ctx context.Context) error {
	for _, statement := range schemaStatements {
		if _, err := r.pool.Exec(ctx, statement); err != nil {
			return fmt.Errorf("apply schema: %w", err)
		}
	}
	return nil
}
