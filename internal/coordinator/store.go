package coordinator

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	fileutil "feeder/internal/file"
)

// StatusStore persists status snapshots.
type StatusStore interface {
	SaveStatus(ctx context.Context, s Status) error
	LoadStatus(ctx context.Context) (Status, error)
}

// fileStore keeps the latest snapshot at <dataDir>/status.json.
type fileStore struct {
	dataDir string
}

// NewFileStore returns a StatusStore rooted at dataDir.
func NewFileStore(dataDir string) StatusStore { //nolint:ireturn
	if dataDir == "" {
		dataDir = "data"
	}
	return &fileStore{dataDir: dataDir}
}

func (s *fileStore) statusPath() string {
	return filepath.Join(s.dataDir, "status.json")
}

func (s *fileStore) SaveStatus(ctx context.Context, st Status) error { //nolint:revive // context reserved for remote stores
	return fileutil.WriteJSONAtomic(s.statusPath(), st) //nolint:wrapcheck
}

func (s *fileStore) LoadStatus(ctx context.Context) (Status, error) { //nolint:revive // context reserved for remote stores
	var st Status
	raw, err := os.ReadFile(s.statusPath()) //nolint:gosec // path is controlled by application
	if err != nil {
		return st, fmt.Errorf("read status: %w", err)
	}
	if err := json.Unmarshal(raw, &st); err != nil {
		return st, fmt.Errorf("decode status: %w", err)
	}
	return st, nil
}
