// Package file implements connectoragents.SnapshotStore directly against
// the local filesystem, writing a literal "<dir>/state.json" layout. It has
// no teacher-code ancestor — it is the simplest possible backend and the
// default the Scheduler examples reach for — but follows the same
// Save/Load contract the sqlite and postgres backends implement.
package file

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/git5001/connectoragents"
)

// Store implements connectoragents.SnapshotStore by writing one
// "state.json" file per directory.
type Store struct {
	// FileMode is the permission bits used for newly created directories
	// and files. Defaults to 0o755/0o644 when zero.
	DirMode  os.FileMode
	FileMode os.FileMode
}

var _ connectoragents.SnapshotStore = (*Store)(nil)

// New constructs a file-backed SnapshotStore with default permissions.
func New() *Store {
	return &Store{DirMode: 0o755, FileMode: 0o644}
}

// Save writes snap to "<dir>/state.json", creating dir if necessary.
func (s *Store) Save(dir string, snap connectoragents.Snapshot) error {
	dirMode := s.DirMode
	if dirMode == 0 {
		dirMode = 0o755
	}
	fileMode := s.FileMode
	if fileMode == 0 {
		fileMode = 0o644
	}
	if err := os.MkdirAll(dir, dirMode); err != nil {
		return fmt.Errorf("connectoragents/store/file: mkdir %q: %w", dir, err)
	}
	data, err := connectoragents.MarshalSnapshot(snap)
	if err != nil {
		return fmt.Errorf("connectoragents/store/file: encode snapshot: %w", err)
	}
	path := filepath.Join(dir, "state.json")
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, fileMode); err != nil {
		return fmt.Errorf("connectoragents/store/file: write %q: %w", tmp, err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("connectoragents/store/file: rename %q: %w", tmp, err)
	}
	return nil
}

// Load reads "<dir>/state.json" back into a Snapshot.
func (s *Store) Load(dir string) (connectoragents.Snapshot, error) {
	path := filepath.Join(dir, "state.json")
	data, err := os.ReadFile(path)
	if err != nil {
		return connectoragents.Snapshot{}, fmt.Errorf("connectoragents/store/file: read %q: %w", path, err)
	}
	return connectoragents.UnmarshalSnapshot(data)
}
