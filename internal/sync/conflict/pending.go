package conflict

import (
	"sort"
	"sync"

	"github.com/kimhsiao/appdeck/internal/models"
)

// pendingSet holds parked conflicts awaiting user decisions. Conflicts are
// transient; they are never persisted.
type pendingSet struct {
	mu        sync.Mutex
	conflicts map[models.UUID]*models.SyncConflict
}

func newPendingSet() *pendingSet {
	return &pendingSet{conflicts: make(map[models.UUID]*models.SyncConflict)}
}

func (p *pendingSet) add(c *models.SyncConflict) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.conflicts[c.ID] = c
}

func (p *pendingSet) take(id models.UUID) (*models.SyncConflict, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	c, ok := p.conflicts[id]
	if ok {
		delete(p.conflicts, id)
	}
	return c, ok
}

func (p *pendingSet) list() []*models.SyncConflict {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]*models.SyncConflict, 0, len(p.conflicts))
	for _, c := range p.conflicts {
		cp := *c
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].DetectedAt != out[j].DetectedAt {
			return out[i].DetectedAt < out[j].DetectedAt
		}
		return out[i].ID < out[j].ID
	})
	return out
}
