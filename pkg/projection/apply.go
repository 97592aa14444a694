package projection

import (
	"context"

	"github.com/pkg/errors"

	"github.com/taskdeck/eventrelay/pkg/common"
)

// Read-model kinds maintained by this package. Each maps to its own table.
const (
	KindTaskBoard       = "task_board"
	KindProjectOverview = "project_overview"
	KindSprintSummary   = "sprint_summary"
)

// Kinds lists every read-model kind, for schema setup.
var Kinds = []string{KindTaskBoard, KindProjectOverview, KindSprintSummary}

// conflictRetries bounds how often an apply is replayed against a fresh row
// after losing an optimistic-version race.
const conflictRetries = 3

// applyRecord loads the record for (kind, key), hands its current data to
// apply and saves the result with version+1 under the optimistic check.
// Missing records are created lazily: apply sees nil data and version 0. A
// lost version race reloads and re-applies; handler idempotence makes the
// replay safe.
func applyRecord(ctx context.Context, store common.ReadModelStore, kind, key string, apply func(data []byte) ([]byte, error)) error {
	var lastErr error
	for attempt := 0; attempt <= conflictRetries; attempt++ {
		record, err := store.Get(ctx, kind, key)
		if err != nil && !errors.Is(err, common.ErrNotFound) {
			return errors.Wrap(err, "failed to load read model")
		}

		var currentData []byte
		var currentVersion int64
		if record != nil {
			currentData = record.Data
			currentVersion = record.Version
		}

		newData, err := apply(currentData)
		if err != nil {
			return err
		}

		err = store.Save(ctx, &common.ReadModelRecord{
			Kind:    kind,
			Key:     key,
			Data:    newData,
			Version: currentVersion + 1,
		}, currentVersion)
		if err == nil {
			return nil
		}
		if !errors.Is(err, common.ErrVersionConflict) {
			return errors.Wrap(err, "failed to save read model")
		}
		lastErr = err
	}
	return errors.Wrapf(lastErr, "gave up applying to %s/%s after %d version conflicts", kind, key, conflictRetries)
}
