package snapstore

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/compozy/tasktree/engine/core"
	"github.com/compozy/tasktree/engine/workflow"
)

// Store persists workflow snapshots keyed by workflow id.
type Store interface {
	Save(ctx context.Context, snap *workflow.Snapshot) error
	Load(ctx context.Context, id core.ID) (*workflow.Snapshot, error)
	Delete(ctx context.Context, id core.ID) error
	List(ctx context.Context) ([]core.ID, error)
	Close() error
}

// New returns a Redis store when cfg names a URL and an in-process store
// otherwise.
func New(ctx context.Context, cfg *Config) (Store, error) {
	if cfg == nil || cfg.URL == "" {
		return NewMemoryStore(), nil
	}
	return NewRedisStore(ctx, cfg)
}

func snapshotID(snap *workflow.Snapshot) (core.ID, error) {
	if snap == nil || snap.Tree == nil || snap.Tree.ID.IsZero() {
		return "", core.NewError(fmt.Errorf("snapshot has no workflow id"), core.CodeData, nil)
	}
	return snap.Tree.ID, nil
}

func encode(snap *workflow.Snapshot) ([]byte, error) {
	raw, err := json.Marshal(snap)
	if err != nil {
		return nil, fmt.Errorf("failed to encode snapshot: %w", err)
	}
	return raw, nil
}

func decode(raw []byte) (*workflow.Snapshot, error) {
	var snap workflow.Snapshot
	if err := json.Unmarshal(raw, &snap); err != nil {
		return nil, fmt.Errorf("failed to decode snapshot: %w", err)
	}
	return &snap, nil
}
