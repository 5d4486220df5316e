// Package queue provides the durable queue of pending remote writes.
//
// Operations are appended when an upload attempt cannot complete (offline
// or transient failure) and replayed in one pass on reconnect. The full
// queue is persisted on every mutation so a process restart loses nothing.
package queue

import (
	"context"
	"sync"
	"time"

	"github.com/kimhsiao/appdeck/internal/logging"
	"github.com/kimhsiao/appdeck/internal/models"
	"github.com/kimhsiao/appdeck/internal/uuid"
)

// Storage persists the queue contents. *db.Repository implements it.
type Storage interface {
	ReplacePendingOperations(ops []*models.PendingOperation) error
	LoadPendingOperations() ([]*models.PendingOperation, error)
}

// Sender delivers one operation to the remote store during a drain.
type Sender func(ctx context.Context, op *models.PendingOperation) error

// OperationQueue is a durable FIFO of pending write operations.
type OperationQueue struct {
	mu      sync.Mutex
	storage Storage
	ops     []*models.PendingOperation
}

// New creates an OperationQueue, restoring any operations persisted by a
// previous process before any sync activity begins.
func New(storage Storage) (*OperationQueue, error) {
	ops, err := storage.LoadPendingOperations()
	if err != nil {
		return nil, err
	}
	if len(ops) > 0 {
		logging.Info("Restored pending operations from previous run",
			map[string]interface{}{"count": len(ops)})
	}
	return &OperationQueue{storage: storage, ops: ops}, nil
}

// EnqueueCategory appends a save-category operation and persists the queue.
func (q *OperationQueue) EnqueueCategory(c *models.SyncableCategory) error {
	return q.enqueue(&models.PendingOperation{
		Kind:     models.OperationSaveCategory,
		Category: c.Clone(),
	})
}

// EnqueueAssignment appends a save-assignment operation and persists the
// queue.
func (q *OperationQueue) EnqueueAssignment(a *models.SyncableAppAssignment) error {
	return q.enqueue(&models.PendingOperation{
		Kind:       models.OperationSaveAssignment,
		Assignment: a.Clone(),
	})
}

func (q *OperationQueue) enqueue(op *models.PendingOperation) error {
	op.ID = models.UUID(uuid.New())
	op.Timestamp = time.Now().Unix()
	if err := op.Validate(); err != nil {
		return err
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	q.ops = append(q.ops, op)
	if err := q.storage.ReplacePendingOperations(q.ops); err != nil {
		// Keep the in-memory entry; the next successful persist includes it.
		logging.Error("Failed to persist operation queue", err,
			map[string]interface{}{"size": len(q.ops)})
		return err
	}

	logging.Info("Queued pending operation",
		map[string]interface{}{"kind": string(op.Kind), "key": op.Key(), "size": len(q.ops)})
	return nil
}

// Len returns the number of queued operations.
func (q *OperationQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.ops)
}

// Snapshot returns a copy of the queued operations in append order.
func (q *OperationQueue) Snapshot() []*models.PendingOperation {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make([]*models.PendingOperation, len(q.ops))
	copy(out, q.ops)
	return out
}

// Drain sends every queued operation to the remote store in one pass.
// Failed operations are logged and skipped; after the pass the entire
// queue is cleared and the cleared state persisted regardless of
// individual failures. A record lost this way is re-sent by the next sync
// cycle's upload phase as long as it still exists locally.
func (q *OperationQueue) Drain(ctx context.Context, send Sender) (sent, failed int) {
	q.mu.Lock()
	snapshot := make([]*models.PendingOperation, len(q.ops))
	copy(snapshot, q.ops)
	q.mu.Unlock()

	if len(snapshot) == 0 {
		return 0, 0
	}

	logging.Info("Draining operation queue",
		map[string]interface{}{"count": len(snapshot)})

	for _, op := range snapshot {
		if err := ctx.Err(); err != nil {
			failed += len(snapshot) - sent - failed
			break
		}
		if err := send(ctx, op); err != nil {
			logging.Warn("Dropping failed pending operation",
				map[string]interface{}{
					"kind":  string(op.Kind),
					"key":   op.Key(),
					"error": err.Error(),
				})
			failed++
			continue
		}
		sent++
	}

	q.mu.Lock()
	q.ops = nil
	if err := q.storage.ReplacePendingOperations(nil); err != nil {
		logging.Error("Failed to persist cleared operation queue", err)
	}
	q.mu.Unlock()

	logging.Info("Operation queue drained",
		map[string]interface{}{"sent": sent, "failed": failed})
	return sent, failed
}
