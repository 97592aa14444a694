package postgres

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pkg/errors"

	"github.com/taskdeck/eventrelay/pkg/common"
)

// ReadModelStore implements common.ReadModelStore with one table per
// read-model kind. Writes are guarded by an optimistic version check instead
// of row locks, so a lost race surfaces as ErrVersionConflict and the handler
// re-applies against the fresh row.
type ReadModelStore struct {
	pool *pgxpool.Pool
}

func NewReadModelStore(pool *pgxpool.Pool) *ReadModelStore {
	return &ReadModelStore{pool: pool}
}

func (s *ReadModelStore) Get(ctx context.Context, kind, key string) (*common.ReadModelRecord, error) {
	table, err := readModelTable(kind)
	if err != nil {
		return nil, err
	}

	row := s.pool.QueryRow(ctx,
		`SELECT key, data, version, last_updated FROM `+table+` WHERE key = $1`, key)

	record := common.ReadModelRecord{Kind: kind}
	err = row.Scan(&record.Key, &record.Data, &record.Version, &record.LastUpdated)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, errors.Wrapf(common.ErrNotFound, "read model %s/%s", kind, key)
		}
		return nil, errors.Wrap(err, "failed to get read model")
	}
	return &record, nil
}

func (s *ReadModelStore) Save(ctx context.Context, record *common.ReadModelRecord, expectedVersion int64) error {
	table, err := readModelTable(record.Kind)
	if err != nil {
		return err
	}

	now := time.Now().UTC()
	record.LastUpdated = now

	if expectedVersion == 0 {
		tag, err := s.pool.Exec(ctx,
			`INSERT INTO `+table+` (key, data, version, last_updated)
			 VALUES ($1, $2, $3, $4)
			 ON CONFLICT (key) DO NOTHING`,
			record.Key, record.Data, record.Version, now)
		if err != nil {
			return errors.Wrap(err, "failed to insert read model")
		}
		if tag.RowsAffected() == 0 {
			return errors.Wrapf(common.ErrVersionConflict, "read model %s/%s already exists", record.Kind, record.Key)
		}
		return nil
	}

	tag, err := s.pool.Exec(ctx,
		`UPDATE `+table+` SET data = $2, version = $3, last_updated = $4
		 WHERE key = $1 AND version = $5`,
		record.Key, record.Data, record.Version, now, expectedVersion)
	if err != nil {
		return errors.Wrap(err, "failed to update read model")
	}
	if tag.RowsAffected() == 0 {
		return errors.Wrapf(common.ErrVersionConflict, "read model %s/%s moved past version %d", record.Kind, record.Key, expectedVersion)
	}
	return nil
}

var _ common.ReadModelStore = (*ReadModelStore)(nil)
