package domain

import (
	"errors"
	"fmt"
	"strings"
)

// MissingFieldsMessage is reported when a create request lacks required fields.
const MissingFieldsMessage = "Missing required fields: title, description, latitude, longitude"

var (
	// ErrActivityNotFound is returned when no activity has the requested ID.
	ErrActivityNotFound = errors.New("activity not found")
	// ErrStoreUnavailable marks the document as unreadable; writes are refused until a load succeeds.
	ErrStoreUnavailable = errors.New("activity store unavailable")
)

// ValidationError reports client input that cannot be accepted.
type ValidationError struct {
	Fields  []string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Message != "" {
		return e.Message
	}
	return "invalid fields: " + strings.Join(e.Fields, ", ")
}

// PersistenceError wraps a failed read or write of the activity document.
type PersistenceError struct {
	Op  string
	Err error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("activity document %s failed: %v", e.Op, e.Err)
}

func (e *PersistenceError) Unwrap() error {
	return e.Err
}
