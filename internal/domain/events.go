package domain

import (
	"context"
	"time"
)

// EventType names a committed change to the activity collection.
type EventType string

const (
	EventActivityCreated EventType = "activity.created"
	EventActivityUpdated EventType = "activity.updated"
	EventActivityDeleted EventType = "activity.deleted"
)

// ChangeEvent is emitted after a mutation has been persisted.
type ChangeEvent struct {
	Type       EventType
	Activity   Activity
	OccurredAt time.Time
}

// EventPublisher delivers change events to downstream consumers.
type EventPublisher interface {
	Publish(ctx context.Context, event ChangeEvent) error
}

type nopPublisher struct{}

func (nopPublisher) Publish(context.Context, ChangeEvent) error { return nil }
