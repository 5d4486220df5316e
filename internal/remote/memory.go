package remote

import (
	"context"
	"fmt"
	"sync"
)

// MemoryStore is an in-memory Store used for tests and the default
// single-machine configuration. Hooks allow tests to inject failures.
type MemoryStore struct {
	mu      sync.RWMutex
	records map[string]Record // keyed by type/key
	refs    map[string]string
	status  AccountStatus
	nextRef int

	// SaveHook, when set, runs before every save; a returned error fails
	// the save.
	SaveHook func(rec Record) error

	// QueryHook, when set, runs before every query; a returned error fails
	// the query.
	QueryHook func(q Query) error
}

// NewMemoryStore creates an empty MemoryStore with an available account.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		records: make(map[string]Record),
		refs:    make(map[string]string),
		status:  AccountAvailable,
	}
}

func recordKey(typ RecordType, key string) string {
	return string(typ) + "/" + key
}

// Save implements Store.
func (s *MemoryStore) Save(ctx context.Context, rec Record) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if s.SaveHook != nil {
		if err := s.SaveHook(rec); err != nil {
			return "", err
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	k := recordKey(rec.Type, rec.Key)
	s.records[k] = rec
	ref, ok := s.refs[k]
	if !ok {
		s.nextRef++
		ref = fmt.Sprintf("mem-%06d", s.nextRef)
		s.refs[k] = ref
	}
	return ref, nil
}

// Query implements Store.
func (s *MemoryStore) Query(ctx context.Context, q Query) ([]Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if s.QueryHook != nil {
		if err := s.QueryHook(q); err != nil {
			return nil, err
		}
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []Record
	for _, rec := range s.records {
		if rec.Type != q.Type {
			continue
		}
		if q.ModifiedSince != 0 && rec.Modified < q.ModifiedSince {
			continue
		}
		out = append(out, rec)
	}
	return out, nil
}

// AccountStatus implements Store.
func (s *MemoryStore) AccountStatus(ctx context.Context) (AccountStatus, error) {
	if err := ctx.Err(); err != nil {
		return AccountIndeterminate, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.status, nil
}

// SetAccountStatus changes the reported account status.
func (s *MemoryStore) SetAccountStatus(status AccountStatus) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.status = status
}

// Delete removes a record, simulating a remote deletion.
func (s *MemoryStore) Delete(typ RecordType, key string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	k := recordKey(typ, key)
	delete(s.records, k)
	delete(s.refs, k)
}

// Get returns the stored record for (typ, key), if any.
func (s *MemoryStore) Get(typ RecordType, key string) (Record, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.records[recordKey(typ, key)]
	return rec, ok
}

// Len returns the number of stored records.
func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.records)
}

var _ Store = (*MemoryStore)(nil)
