// Package bridge provides the typed event channel between the sync core
// and the application's in-memory state. Subscribers register explicitly;
// the coordinator and the conflict resolver publish without knowing who
// consumes the outcome.
package bridge

import (
	"sync"

	"github.com/kimhsiao/appdeck/internal/logging"
	"github.com/kimhsiao/appdeck/internal/models"
)

// EventKind identifies a bridge event.
type EventKind string

const (
	EventCategoryAdded     EventKind = "category_added"
	EventCategoryUpdated   EventKind = "category_updated"
	EventAssignmentAdded   EventKind = "assignment_added"
	EventAssignmentUpdated EventKind = "assignment_updated"

	// Conflict lifecycle events carry the resolver's tagged results.
	EventConflictDetected EventKind = "conflict_detected"
	EventConflictResolved EventKind = "conflict_resolved"
	EventDeletionResolved EventKind = "deletion_resolved"
)

// Event is one bridge notification. Exactly one payload field is set for
// the payload the Kind implies.
type Event struct {
	Kind EventKind

	Category   *models.SyncableCategory
	Assignment *models.SyncableAppAssignment
	Conflict   *models.SyncConflict

	// Decision accompanies EventDeletionResolved.
	Decision models.DeletionDecision
}

// Bus is a fan-out event bus with explicit subscriber registration.
type Bus struct {
	mu   sync.RWMutex
	subs map[int]chan Event
	next int
}

// NewBus creates an empty Bus.
func NewBus() *Bus {
	return &Bus{subs: make(map[int]chan Event)}
}

// Subscribe registers a subscriber with the given channel buffer size and
// returns its event channel plus a cancel function. The channel is closed
// on cancel.
func (b *Bus) Subscribe(buffer int) (<-chan Event, func()) {
	if buffer <= 0 {
		buffer = 64
	}
	ch := make(chan Event, buffer)

	b.mu.Lock()
	id := b.next
	b.next++
	b.subs[id] = ch
	b.mu.Unlock()

	cancel := func() {
		b.mu.Lock()
		if sub, ok := b.subs[id]; ok {
			delete(b.subs, id)
			close(sub)
		}
		b.mu.Unlock()
	}
	return ch, cancel
}

// Publish delivers the event to every subscriber. Delivery never blocks
// the publisher; a subscriber whose buffer is full misses the event.
func (b *Bus) Publish(ev Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	for id, ch := range b.subs {
		select {
		case ch <- ev:
		default:
			logging.Warn("Bridge subscriber buffer full, dropping event",
				map[string]interface{}{"subscriber": id, "kind": string(ev.Kind)})
		}
	}
}

// Subscribers returns the number of registered subscribers.
func (b *Bus) Subscribers() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}
