package repository

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

// Identifiants stockés en text (uuid générés côté service).
const schema = `
CREATE TABLE IF NOT EXISTS users (
	id    text PRIMARY KEY,
	name  text NOT NULL DEFAULT '',
	image text NOT NULL DEFAULT ''
);

CREATE TABLE IF NOT EXISTS posts (
	id         text PRIMARY KEY,
	user_id    text NOT NULL,
	body       text NOT NULL DEFAULT '',
	file       text NOT NULL DEFAULT '',
	created_at timestamptz NOT NULL DEFAULT now()
);
CREATE INDEX IF NOT EXISTS posts_created_at_idx ON posts (created_at DESC, id DESC);
CREATE INDEX IF NOT EXISTS posts_user_created_idx ON posts (user_id, created_at DESC);

CREATE TABLE IF NOT EXISTS post_likes (
	post_id    text NOT NULL REFERENCES posts (id) ON DELETE CASCADE,
	user_id    text NOT NULL,
	created_at timestamptz NOT NULL DEFAULT now(),
	PRIMARY KEY (post_id, user_id)
);

CREATE TABLE IF NOT EXISTS comments (
	id         text PRIMARY KEY,
	post_id    text NOT NULL REFERENCES posts (id) ON DELETE CASCADE,
	user_id    text NOT NULL,
	text       text NOT NULL,
	created_at timestamptz NOT NULL DEFAULT now()
);
CREATE INDEX IF NOT EXISTS comments_post_idx ON comments (post_id, created_at DESC);

CREATE TABLE IF NOT EXISTS notifications (
	id          text PRIMARY KEY,
	sender_id   text NOT NULL,
	receiver_id text NOT NULL,
	title       text NOT NULL DEFAULT '',
	data        text NOT NULL DEFAULT '{}',
	created_at  timestamptz NOT NULL DEFAULT now()
);
`

// EnsureSchema crée les tables si besoin (idempotent).
func EnsureSchema(ctx context.Context, db *pgxpool.Pool) error {
	if _, err := db.Exec(ctx, schema); err != nil {
		return fmt.Errorf("db: ensure schema: %w", err)
	}
	return nil
}
