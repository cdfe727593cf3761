package postgres

import (
	"context"

	"github.com/xraph/grove/migrate"
)

// Migrations is the grove migration group for the credits store.
var Migrations = migrate.NewGroup("credits")

func init() {
	Migrations.MustRegister(
		&migrate.Migration{
			Name:    "create_credits_accounts",
			Version: "20240101000001",
			Up: func(ctx context.Context, exec migrate.Executor) error {
				_, err := exec.Exec(ctx, `
CREATE TABLE IF NOT EXISTS credits_accounts (
    id           TEXT PRIMARY KEY,
    user_id      TEXT NOT NULL,
    workspace_id TEXT NOT NULL DEFAULT '',
    credits      BIGINT NOT NULL DEFAULT 0 CHECK (credits >= 0),
    plan         TEXT NOT NULL DEFAULT 'free',
    created_at   TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    updated_at   TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE UNIQUE INDEX IF NOT EXISTS idx_credits_accounts_user ON credits_accounts (user_id);
CREATE INDEX IF NOT EXISTS idx_credits_accounts_workspace ON credits_accounts (workspace_id);
`)
				return err
			},
			Down: func(ctx context.Context, exec migrate.Executor) error {
				_, err := exec.Exec(ctx, `DROP TABLE IF EXISTS credits_accounts`)
				return err
			},
		},
		&migrate.Migration{
			Name:    "create_credits_usage_records",
			Version: "20240101000002",
			Up: func(ctx context.Context, exec migrate.Executor) error {
				_, err := exec.Exec(ctx, `
CREATE TABLE IF NOT EXISTS credits_usage_records (
    id               TEXT PRIMARY KEY,
    user_id          TEXT NOT NULL,
    workspace_id     TEXT NOT NULL DEFAULT '',
    operation        TEXT NOT NULL,
    provider         TEXT NOT NULL DEFAULT '',
    model            TEXT NOT NULL DEFAULT '',
    input_tokens     BIGINT NOT NULL DEFAULT 0,
    output_tokens    BIGINT NOT NULL DEFAULT 0,
    total_tokens     BIGINT NOT NULL DEFAULT 0,
    credits_used     BIGINT NOT NULL DEFAULT 0,
    credits_before   BIGINT NOT NULL DEFAULT 0,
    credits_after    BIGINT NOT NULL DEFAULT 0,
    success          BOOLEAN NOT NULL DEFAULT FALSE,
    error_message    TEXT NOT NULL DEFAULT '',
    response_time_ms BIGINT NOT NULL DEFAULT 0,
    idempotency_key  TEXT NOT NULL DEFAULT '',
    metadata         JSONB NOT NULL DEFAULT '{}',
    created_at       TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE INDEX IF NOT EXISTS idx_credits_usage_user_time ON credits_usage_records (user_id, created_at DESC);
CREATE INDEX IF NOT EXISTS idx_credits_usage_user_op ON credits_usage_records (user_id, operation, created_at DESC);
CREATE INDEX IF NOT EXISTS idx_credits_usage_created ON credits_usage_records (created_at);
CREATE INDEX IF NOT EXISTS idx_credits_usage_idempotency ON credits_usage_records (user_id, idempotency_key) WHERE idempotency_key != '';
`)
				return err
			},
			Down: func(ctx context.Context, exec migrate.Executor) error {
				_, err := exec.Exec(ctx, `DROP TABLE IF EXISTS credits_usage_records`)
				return err
			},
		},
	)
}
