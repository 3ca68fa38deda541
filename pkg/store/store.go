package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/vango-dev/treesync/pkg/markup"
)

// Store errors.
var (
	// ErrNotFound is returned by Load when no live snapshot exists.
	ErrNotFound = errors.New("store: snapshot not found")

	// ErrClosed is returned for operations on a closed store.
	ErrClosed = errors.New("store: closed")
)

// SnapshotStore persists document snapshots. Implementations must be safe
// for concurrent use.
type SnapshotStore interface {
	// Save stores snap under key, overwriting any previous snapshot.
	Save(ctx context.Context, key string, snap *Snapshot) error

	// Load returns the snapshot stored under key, or ErrNotFound.
	Load(ctx context.Context, key string) (*Snapshot, error)

	// Delete removes a snapshot. Missing keys are not an error.
	Delete(ctx context.Context, key string) error

	// Close releases resources held by the store.
	Close() error
}

// CurrentVersion is the snapshot encoding version. Snapshots with another
// version are treated as missing.
const CurrentVersion = 1

// Snapshot is the persisted state of one document session.
type Snapshot struct {
	URL     string         `json:"url"`
	Root    *markup.Record `json:"root"`
	SavedAt time.Time      `json:"saved_at"`
	Version int            `json:"version"`
}

// NewSnapshot serializes root.
func NewSnapshot(url string, root *markup.Node) *Snapshot {
	return &Snapshot{
		URL:     url,
		Root:    markup.Serialize(root),
		SavedAt: time.Now(),
		Version: CurrentVersion,
	}
}

// Tree rebuilds the stored tree.
func (s *Snapshot) Tree() (*markup.Node, error) {
	if s.Root == nil {
		return nil, fmt.Errorf("store: snapshot of %s has no root", s.URL)
	}
	return markup.Deserialize(s.Root)
}

// Encode converts a snapshot to bytes.
func Encode(s *Snapshot) ([]byte, error) {
	s.Version = CurrentVersion
	return json.Marshal(s)
}

// Decode converts bytes back to a snapshot.
func Decode(data []byte) (*Snapshot, error) {
	var s Snapshot
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("store: decode snapshot: %w", err)
	}
	if s.Version != CurrentVersion {
		return nil, fmt.Errorf("%w: version %d", ErrNotFound, s.Version)
	}
	return &s, nil
}
