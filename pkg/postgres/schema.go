package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pkg/errors"
)

const schemaDDL = `
CREATE TABLE IF NOT EXISTS outbox_messages (
	id            UUID PRIMARY KEY,
	event_type    TEXT NOT NULL,
	aggregate_id  TEXT NOT NULL,
	payload       JSONB NOT NULL,
	status        TEXT NOT NULL DEFAULT 'pending',
	created_at    TIMESTAMPTZ NOT NULL DEFAULT now(),
	claimed_at    TIMESTAMPTZ,
	retry_count   INT NOT NULL DEFAULT 0,
	next_retry_at TIMESTAMPTZ,
	last_error    TEXT NOT NULL DEFAULT ''
);

CREATE INDEX IF NOT EXISTS idx_outbox_messages_claim
	ON outbox_messages (status, created_at);

CREATE TABLE IF NOT EXISTS dead_letter_messages (
	id                   UUID PRIMARY KEY,
	outbox_id            UUID NOT NULL,
	event_type           TEXT NOT NULL,
	aggregate_id         TEXT NOT NULL,
	payload              JSONB NOT NULL,
	failure_reason       TEXT NOT NULL,
	retry_count_at_death INT NOT NULL,
	first_failed_at      TIMESTAMPTZ NOT NULL,
	dead_lettered_at     TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_dead_letter_messages_listing
	ON dead_letter_messages (dead_lettered_at DESC);
`

const readModelDDL = `
CREATE TABLE IF NOT EXISTS %s (
	key          TEXT PRIMARY KEY,
	data         JSONB NOT NULL,
	version      BIGINT NOT NULL,
	last_updated TIMESTAMPTZ NOT NULL DEFAULT now()
);
`

// EnsureSchema creates the outbox and dead-letter tables plus one table per
// registered read-model kind. Safe to run on every startup.
func EnsureSchema(ctx context.Context, pool *pgxpool.Pool, readModelKinds []string) error {
	if _, err := pool.Exec(ctx, schemaDDL); err != nil {
		return errors.Wrap(err, "failed to create outbox schema")
	}

	for _, kind := range readModelKinds {
		table, err := readModelTable(kind)
		if err != nil {
			return err
		}
		if _, err := pool.Exec(ctx, fmt.Sprintf(readModelDDL, table)); err != nil {
			return errors.Wrapf(err, "failed to create read model table for kind %s", kind)
		}
	}

	return nil
}

// readModelTable maps a read-model kind to its table name. Kinds are
// identifiers chosen at compile time, but the name still ends up interpolated
// into DDL/DML, so reject anything that is not a plain identifier.
func readModelTable(kind string) (string, error) {
	if kind == "" {
		return "", errors.New("read model kind is required")
	}
	for _, r := range kind {
		if (r < 'a' || r > 'z') && r != '_' {
			return "", errors.Errorf("invalid read model kind: %q", kind)
		}
	}
	return "read_model_" + kind + "s", nil
}
