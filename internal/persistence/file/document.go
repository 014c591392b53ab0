// Package file stores the activity collection as a pretty-printed JSON file.
package file

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"

	"go.uber.org/zap"

	"example.com/smarttracker/internal/domain"
)

// Document is a domain.Document backed by a single JSON file.
type Document struct {
	path   string
	logger *zap.Logger
	// mu orders writers that share this Document value.
	mu sync.Mutex
}

// NewDocument constructs a Document for path.
func NewDocument(path string, logger *zap.Logger) *Document {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Document{path: path, logger: logger}
}

// Path returns the location of the backing file.
func (d *Document) Path() string {
	return d.path
}

// Initialize writes an empty collection when the file does not exist yet.
func (d *Document) Initialize(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if _, err := os.Stat(d.path); err == nil {
		return nil
	} else if !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("stat %s: %w", d.path, err)
	}

	if dir := filepath.Dir(d.path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create data directory: %w", err)
		}
	}

	if err := d.writeAtomic(ctx, []byte("[]")); err != nil {
		return err
	}
	d.logger.Info("initialized activity data file", zap.String("path", d.path))
	return nil
}

// Load reads and decodes the whole file.
func (d *Document) Load(ctx context.Context) ([]domain.Activity, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	data, err := os.ReadFile(d.path)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", d.path, err)
	}

	var activities []domain.Activity
	if err := json.Unmarshal(data, &activities); err != nil {
		return nil, fmt.Errorf("decode %s: %w", d.path, err)
	}
	return activities, nil
}

// Save encodes activities with two-space indentation and swaps the file into place.
func (d *Document) Save(ctx context.Context, activities []domain.Activity) error {
	if activities == nil {
		activities = []domain.Activity{}
	}
	data, err := json.MarshalIndent(activities, "", "  ")
	if err != nil {
		return fmt.Errorf("encode activities: %w", err)
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	return d.writeAtomic(ctx, data)
}

// writeAtomic writes to a temporary sibling and renames it over the target so
// a concurrent reader sees either the old or the new document.
func (d *Document) writeAtomic(ctx context.Context, data []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	tmp, err := os.CreateTemp(filepath.Dir(d.path), "."+filepath.Base(d.path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpName := tmp.Name()
	defer func() {
		if err != nil {
			_ = os.Remove(tmpName)
		}
	}()

	if _, err = tmp.Write(data); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("write temp file: %w", err)
	}
	if err = tmp.Sync(); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("sync temp file: %w", err)
	}
	if err = tmp.Close(); err != nil {
		return fmt.Errorf("close temp file: %w", err)
	}
	if err = os.Chmod(tmpName, 0o644); err != nil {
		return fmt.Errorf("chmod temp file: %w", err)
	}
	if err = os.Rename(tmpName, d.path); err != nil {
		return fmt.Errorf("replace %s: %w", d.path, err)
	}
	return nil
}
