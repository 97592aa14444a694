package memory

import (
	"context"
	"sync"
	"time"

	"github.com/pkg/errors"

	"github.com/taskdeck/eventrelay/pkg/common"
)

type readModelKey struct {
	kind string
	key  string
}

// ReadModelStore is a mutex-guarded projection store with the same optimistic
// versioning contract as the Postgres one.
type ReadModelStore struct {
	mu      sync.Mutex
	records map[readModelKey]*common.ReadModelRecord
}

func NewReadModelStore() *ReadModelStore {
	return &ReadModelStore{records: make(map[readModelKey]*common.ReadModelRecord)}
}

func (s *ReadModelStore) Get(ctx context.Context, kind, key string) (*common.ReadModelRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	record, ok := s.records[readModelKey{kind: kind, key: key}]
	if !ok {
		return nil, errors.Wrapf(common.ErrNotFound, "read model %s/%s", kind, key)
	}
	copied := *record
	return &copied, nil
}

func (s *ReadModelStore) Save(ctx context.Context, record *common.ReadModelRecord, expectedVersion int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	k := readModelKey{kind: record.Kind, key: record.Key}
	existing, ok := s.records[k]

	if expectedVersion == 0 {
		if ok {
			return errors.Wrapf(common.ErrVersionConflict, "read model %s/%s already exists", record.Kind, record.Key)
		}
	} else {
		if !ok || existing.Version != expectedVersion {
			return errors.Wrapf(common.ErrVersionConflict, "read model %s/%s moved past version %d", record.Kind, record.Key, expectedVersion)
		}
	}

	record.LastUpdated = time.Now().UTC()
	stored := *record
	s.records[k] = &stored
	return nil
}

var _ common.ReadModelStore = (*ReadModelStore)(nil)
