// Package memory keeps the activity collection in process memory.
package memory

import (
	"context"
	"slices"
	"sync"

	"example.com/smarttracker/internal/domain"
)

// Document is a volatile domain.Document. Loads and saves copy the slice so
// callers never share backing arrays with the stored collection.
type Document struct {
	mu         sync.RWMutex
	activities []domain.Activity
}

// NewDocument returns a Document seeded with activities.
func NewDocument(activities ...domain.Activity) *Document {
	return &Document{activities: slices.Clone(activities)}
}

// Initialize is a no-op; an empty Document is already initialized.
func (d *Document) Initialize(context.Context) error {
	return nil
}

// Load returns a copy of the stored collection.
func (d *Document) Load(context.Context) ([]domain.Activity, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	out := make([]domain.Activity, len(d.activities))
	copy(out, d.activities)
	return out, nil
}

// Save replaces the stored collection.
func (d *Document) Save(_ context.Context, activities []domain.Activity) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.activities = slices.Clone(activities)
	return nil
}
