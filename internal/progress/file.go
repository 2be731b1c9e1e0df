package progress

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	appErrors "github.com/unclebandit/outreach-orchestrator/internal/errors"
)

// DefaultFile is used when a run asks to save progress without naming a file.
const DefaultFile = "campaign-progress.json"

// FileStore keeps the checkpoint in a single JSON file. Writes go to a temp file
// in the same directory and are renamed over the target, so a crash mid-write
// leaves the previous checkpoint intact.
type FileStore struct {
	Path string
}

// NewFileStore returns a store at path, or DefaultFile when path is empty.
func NewFileStore(path string) *FileStore {
	if path == "" {
		path = DefaultFile
	}
	return &FileStore{Path: path}
}

func (s *FileStore) Save(ctx context.Context, snap *Snapshot) error {
	if err := ctx.Err(); err != nil {
		return appErrors.NewPersistenceError("save", err)
	}
	data, err := encode(snap)
	if err != nil {
		return err
	}

	dir := filepath.Dir(s.Path)
	tmp, err := os.CreateTemp(dir, filepath.Base(s.Path)+".*.tmp")
	if err != nil {
		return appErrors.NewPersistenceError("save", fmt.Errorf("create temp file: %w", err))
	}
	tmpName := tmp.Name()
	cleanup := func() { _ = os.Remove(tmpName) }

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		cleanup()
		return appErrors.NewPersistenceError("save", fmt.Errorf("write %s: %w", tmpName, err))
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		cleanup()
		return appErrors.NewPersistenceError("save", fmt.Errorf("sync %s: %w", tmpName, err))
	}
	if err := tmp.Close(); err != nil {
		cleanup()
		return appErrors.NewPersistenceError("save", fmt.Errorf("close %s: %w", tmpName, err))
	}
	if err := os.Rename(tmpName, s.Path); err != nil {
		cleanup()
		return appErrors.NewPersistenceError("save", fmt.Errorf("rename to %s: %w", s.Path, err))
	}
	return nil
}

func (s *FileStore) Load(ctx context.Context) (*Snapshot, error) {
	data, err := os.ReadFile(s.Path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, appErrors.NewPersistenceError("load", fmt.Errorf("read %s: %w", s.Path, err))
	}
	return decode(data)
}
