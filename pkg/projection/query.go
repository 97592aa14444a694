package projection

import (
	"context"

	"github.com/pkg/errors"

	"github.com/taskdeck/eventrelay/pkg/common"
)

// Reader is the query-side entry point. Read models are stale-but-available:
// a delivery problem never fails a read, the caller just sees the last
// successfully applied state.
type Reader struct {
	store common.ReadModelStore
}

func NewReader(store common.ReadModelStore) *Reader {
	return &Reader{store: store}
}

// GetReadModel returns the serialized read model with its version and last
// update time, or common.ErrNotFound when no relevant event has arrived yet.
func (r *Reader) GetReadModel(ctx context.Context, kind, key string) (*common.ReadModelRecord, error) {
	switch kind {
	case KindTaskBoard, KindProjectOverview, KindSprintSummary:
	default:
		return nil, errors.Errorf("unknown read model kind: %q", kind)
	}
	return r.store.Get(ctx, kind, key)
}
