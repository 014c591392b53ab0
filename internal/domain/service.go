// Package domain defines the activity record and the store that owns the
// persisted collection.
package domain

import (
	"context"
	"errors"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"example.com/smarttracker/internal/observability"
)

// Document persists the whole activity collection as a single unit.
type Document interface {
	// Initialize creates an empty collection when storage is missing.
	Initialize(ctx context.Context) error
	// Load returns the full ordered collection.
	Load(ctx context.Context) ([]Activity, error)
	// Save replaces the stored collection. Readers never observe a partial write.
	Save(ctx context.Context, activities []Activity) error
}

// Option configures optional behaviour for the Store.
type Option func(*Store)

// WithLogger overrides the logger used to report storage problems and changes.
func WithLogger(logger *zap.Logger) Option {
	return func(s *Store) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithPublisher sends change events after every committed mutation.
func WithPublisher(publisher EventPublisher) Option {
	return func(s *Store) {
		if publisher != nil {
			s.publisher = publisher
		}
	}
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(s *Store) {
		s.now = now
	}
}

// WithIDGenerator overrides activity ID generation.
func WithIDGenerator(newID func() string) Option {
	return func(s *Store) {
		s.newID = newID
	}
}

// Store serializes every load, mutate and save cycle over the activity document.
type Store struct {
	mu          sync.Mutex
	doc         Document
	publisher   EventPublisher
	logger      *zap.Logger
	now         func() time.Time
	newID       func() string
	unavailable bool
	events      *sequencer
}

// NewStore constructs a Store over doc.
func NewStore(doc Document, opts ...Option) *Store {
	s := &Store{
		doc:       doc,
		publisher: nopPublisher{},
		logger:    zap.NewNop(),
		now:       time.Now,
		newID:     uuid.NewString,
		events:    newSequencer(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Initialize prepares the underlying document.
func (s *Store) Initialize(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.doc.Initialize(ctx); err != nil {
		return &PersistenceError{Op: "initialize", Err: err}
	}
	return nil
}

// Available reports whether the last load of the document succeeded.
func (s *Store) Available() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return !s.unavailable
}

// List returns every activity in insertion order. An unreadable document
// yields an empty collection.
func (s *Store) List(ctx context.Context) ([]Activity, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	activities, _ := s.load(ctx)
	observability.RecordOperation("list", observability.OutcomeSuccess)
	return activities, nil
}

// Get returns the first activity whose ID matches.
func (s *Store) Get(ctx context.Context, id string) (*Activity, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	activities, _ := s.load(ctx)
	idx := indexOf(activities, id)
	if idx < 0 {
		observability.RecordOperation("get", observability.OutcomeNotFound)
		return nil, ErrActivityNotFound
	}

	observability.RecordOperation("get", observability.OutcomeSuccess)
	activity := activities[idx]
	return &activity, nil
}

// Create validates input, assigns identity and timestamps, and appends the
// new activity to the collection.
func (s *Store) Create(ctx context.Context, input CreateActivityInput) (*Activity, error) {
	lat, lon, err := input.validate()
	if err != nil {
		observability.RecordOperation("create", observability.OutcomeInvalid)
		return nil, err
	}

	var activity Activity
	err = s.commit(ctx, func() (ChangeEvent, error) {
		activities, err := s.loadForWrite(ctx, "create")
		if err != nil {
			return ChangeEvent{}, err
		}

		now := s.timestamp()
		userID := input.UserID
		if userID == "" {
			userID = AnonymousUserID
		}
		activity = Activity{
			ID:          s.newID(),
			Title:       input.Title,
			Description: input.Description,
			Latitude:    Coordinate(lat),
			Longitude:   Coordinate(lon),
			UserID:      userID,
			ImageURL:    normalizeImageURL(input.ImageURL),
			Timestamp:   now,
			CreatedAt:   now,
			UpdatedAt:   now,
		}

		next := append(slices.Clone(activities), activity)
		if err := s.save(ctx, "create", next); err != nil {
			return ChangeEvent{}, err
		}

		s.logger.Info("created activity", zap.String("activity_id", activity.ID), zap.String("title", activity.Title))
		return ChangeEvent{Type: EventActivityCreated, Activity: activity, OccurredAt: now}, nil
	})
	if err != nil {
		return nil, err
	}
	return &activity, nil
}

// Update overlays patch onto the stored activity. The ID, creation time and
// legacy timestamp never change; updatedAt is always refreshed.
func (s *Store) Update(ctx context.Context, id string, patch ActivityPatch) (*Activity, error) {
	var updated Activity
	err := s.commit(ctx, func() (ChangeEvent, error) {
		activities, err := s.loadForWrite(ctx, "update")
		if err != nil {
			return ChangeEvent{}, err
		}

		idx := indexOf(activities, id)
		if idx < 0 {
			observability.RecordOperation("update", observability.OutcomeNotFound)
			return ChangeEvent{}, ErrActivityNotFound
		}

		original := activities[idx]
		updated = original
		patch.apply(&updated)
		updated.ID = original.ID
		updated.CreatedAt = original.CreatedAt
		updated.Timestamp = original.Timestamp

		now := s.timestamp()
		if now.Before(original.UpdatedAt) {
			now = original.UpdatedAt
		}
		updated.UpdatedAt = now

		next := slices.Clone(activities)
		next[idx] = updated
		if err := s.save(ctx, "update", next); err != nil {
			return ChangeEvent{}, err
		}

		s.logger.Info("updated activity", zap.String("activity_id", updated.ID), zap.String("title", updated.Title))
		return ChangeEvent{Type: EventActivityUpdated, Activity: updated, OccurredAt: now}, nil
	})
	if err != nil {
		return nil, err
	}
	return &updated, nil
}

// Delete removes the first activity with the given ID and returns it.
func (s *Store) Delete(ctx context.Context, id string) (*Activity, error) {
	var removed Activity
	err := s.commit(ctx, func() (ChangeEvent, error) {
		activities, err := s.loadForWrite(ctx, "delete")
		if err != nil {
			return ChangeEvent{}, err
		}

		idx := indexOf(activities, id)
		if idx < 0 {
			observability.RecordOperation("delete", observability.OutcomeNotFound)
			return ChangeEvent{}, ErrActivityNotFound
		}

		removed = activities[idx]
		next := slices.Delete(slices.Clone(activities), idx, idx+1)
		if err := s.save(ctx, "delete", next); err != nil {
			return ChangeEvent{}, err
		}

		s.logger.Info("deleted activity", zap.String("activity_id", removed.ID), zap.String("title", removed.Title))
		return ChangeEvent{Type: EventActivityDeleted, Activity: removed, OccurredAt: s.timestamp()}, nil
	})
	if err != nil {
		return nil, err
	}
	return &removed, nil
}

// commit runs mutate under the store lock and publishes the resulting event
// once the lock is released. Events are published in commit order.
func (s *Store) commit(ctx context.Context, mutate func() (ChangeEvent, error)) error {
	event, ticket, err := s.mutateLocked(mutate)
	if err != nil {
		return err
	}

	s.events.wait(ticket)
	defer s.events.done()
	s.publish(ctx, event)
	return nil
}

func (s *Store) mutateLocked(mutate func() (ChangeEvent, error)) (ChangeEvent, uint64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	event, err := mutate()
	if err != nil {
		return ChangeEvent{}, 0, err
	}
	return event, s.events.take(), nil
}

// load reads the document. Failures are logged, mark the store unavailable
// and produce an empty collection.
func (s *Store) load(ctx context.Context) ([]Activity, error) {
	activities, err := s.doc.Load(ctx)
	if err != nil {
		s.unavailable = true
		observability.RecordLoadFailure()
		s.logger.Error("error reading activities", zap.Error(err))
		return []Activity{}, err
	}
	if s.unavailable {
		s.logger.Info("activity document readable again")
	}
	s.unavailable = false
	if activities == nil {
		activities = []Activity{}
	}
	return activities, nil
}

func (s *Store) loadForWrite(ctx context.Context, op string) ([]Activity, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	activities, err := s.load(ctx)
	if err != nil {
		observability.RecordOperation(op, observability.OutcomePersistErr)
		return nil, &PersistenceError{Op: "load", Err: errors.Join(ErrStoreUnavailable, err)}
	}
	return activities, nil
}

func (s *Store) save(ctx context.Context, op string, activities []Activity) error {
	started := time.Now()
	if err := s.doc.Save(ctx, activities); err != nil {
		observability.RecordOperation(op, observability.OutcomePersistErr)
		s.logger.Error("error writing activities", zap.String("operation", op), zap.Error(err))
		return &PersistenceError{Op: "save", Err: err}
	}
	observability.RecordPersisted(len(activities), s.now(), time.Since(started))
	observability.RecordOperation(op, observability.OutcomeSuccess)
	return nil
}

func (s *Store) publish(ctx context.Context, event ChangeEvent) {
	// Committed changes are published even when the request has been cancelled.
	if err := s.publisher.Publish(context.WithoutCancel(ctx), event); err != nil {
		s.logger.Warn("failed to publish change event",
			zap.String("event_type", string(event.Type)),
			zap.String("activity_id", event.Activity.ID),
			zap.Error(err))
	}
}

// timestamp returns the current instant at the millisecond precision used in
// stored documents.
func (s *Store) timestamp() time.Time {
	return s.now().UTC().Truncate(time.Millisecond)
}

func indexOf(activities []Activity, id string) int {
	return slices.IndexFunc(activities, func(a Activity) bool { return a.ID == id })
}

// sequencer hands out tickets and lets their holders through one at a time in
// ticket order.
type sequencer struct {
	mu      sync.Mutex
	cond    *sync.Cond
	next    uint64
	serving uint64
}

func newSequencer() *sequencer {
	q := &sequencer{}
	q.cond = sync.NewCond(&q.mu)
	return q
}

func (q *sequencer) take() uint64 {
	q.mu.Lock()
	defer q.mu.Unlock()
	ticket := q.next
	q.next++
	return ticket
}

func (q *sequencer) wait(ticket uint64) {
	q.mu.Lock()
	defer q.mu.Unlock()
	for q.serving != ticket {
		q.cond.Wait()
	}
}

func (q *sequencer) done() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.serving++
	q.cond.Broadcast()
}
