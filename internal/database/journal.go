package database

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"gorm.io/gorm"
)

// ErrNotFound is returned when no presence event has the requested id.
var ErrNotFound = errors.New("presence event not found")

const (
	maxRecent = 500
	recentTTL = 2 * time.Second
)

// Journal appends presence events to the database. Reads of the newest
// events are cached briefly and dropped on every write.
type Journal struct {
	db     *gorm.DB
	recent *expirable.LRU[int, []PresenceEvent]
}

func NewJournal(db *gorm.DB) *Journal {
	return &Journal{
		db:     db,
		recent: expirable.NewLRU[int, []PresenceEvent](32, nil, recentTTL),
	}
}

func (j *Journal) RecordJoin(ctx context.Context, sessionID, username string) error {
	return j.record(ctx, sessionID, username, KindJoin)
}

func (j *Journal) RecordLeave(ctx context.Context, sessionID, username string) error {
	return j.record(ctx, sessionID, username, KindLeave)
}

func (j *Journal) record(ctx context.Context, sessionID, username, kind string) error {
	event := PresenceEvent{SessionID: sessionID, Username: username, Kind: kind}
	if err := Create(ctx, j.db, &event); err != nil {
		return fmt.Errorf("record %s for %q: %w", kind, sessionID, err)
	}
	j.recent.Purge()
	return nil
}

// Recent returns the newest presence events. limit is clamped to [1, 500].
func (j *Journal) Recent(ctx context.Context, limit int) ([]PresenceEvent, error) {
	if limit <= 0 || limit > maxRecent {
		limit = maxRecent
	}
	if events, ok := j.recent.Get(limit); ok {
		return clone(events), nil
	}

	events, err := Latest[PresenceEvent](ctx, j.db, limit)
	if err != nil {
		return nil, fmt.Errorf("list presence events: %w", err)
	}
	j.recent.Add(limit, events)
	return clone(events), nil
}

func clone(events []PresenceEvent) []PresenceEvent {
	return append([]PresenceEvent(nil), events...)
}

// Event returns the presence event stored under id.
func (j *Journal) Event(ctx context.Context, id uint) (PresenceEvent, error) {
	event, err := FindByID[PresenceEvent](ctx, j.db, id)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return PresenceEvent{}, fmt.Errorf("presence event %d: %w", id, ErrNotFound)
	}
	if err != nil {
		return PresenceEvent{}, fmt.Errorf("find presence event %d: %w", id, err)
	}
	return event, nil
}
