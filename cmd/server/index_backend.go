package main

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"

	"landclaim.ai/internal/claim/gate"
	"landclaim.ai/internal/config"
	"landclaim.ai/internal/persistence/indexdb"
)

type runtimeIndex interface {
	gate.Recorder
	Close() error
	RecordConfig(digest string, raw []byte)
	Stats() indexdb.Stats
	Decisions(ctx context.Context, world string, limit int) ([]indexdb.Decision, error)
}

var _ runtimeIndex = (*indexdb.SQLiteIndex)(nil)

func openRuntimeIndex(dataDir, backend string, disableDB bool) (runtimeIndex, error) {
	if disableDB {
		return nil, nil
	}
	switch strings.ToLower(strings.TrimSpace(backend)) {
	case "none", "off", "disabled":
		return nil, nil
	case "", "sqlite":
		idx, err := indexdb.OpenSQLite(filepath.Join(dataDir, "index", "decisions.sqlite"))
		if err != nil {
			return nil, err
		}
		return idx, nil
	default:
		return nil, fmt.Errorf("unsupported CLAIMGATE_INDEX_BACKEND: %s", backend)
	}
}

// recordConfig stores cfg in the index so decisions can be tied to the rules
// that produced them.
func recordConfig(idx runtimeIndex, cfg *config.Tree) error {
	if idx == nil {
		return nil
	}
	b, err := cfg.JSON()
	if err != nil {
		return err
	}
	idx.RecordConfig(cfg.Digest(), b)
	return nil
}
