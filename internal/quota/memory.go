package quota

import (
	"context"
	"sync"
	"time"

	"github.com/sakif/code-reviewer/internal/model"
	"github.com/sakif/code-reviewer/internal/repository"
)

var _ repository.QuotaRepository = (*MemoryStore)(nil)

// MemoryStore is an in-process QuotaRepository. One mutex guards the whole
// map, so Admit is atomic across all keys. Counters are lost on restart.
type MemoryStore struct {
	mu      sync.Mutex
	records map[string]model.QuotaRecord
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{records: make(map[string]model.QuotaRecord)}
}

// Admit implements repository.QuotaRepository.
func (s *MemoryStore) Admit(_ context.Context, key string, limit int, window time.Duration, now time.Time) (*model.QuotaRecord, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec := s.current(key, limit, window, now)
	admitted := rec.Count < rec.Limit
	if admitted {
		rec.Count++
	}
	s.records[key] = rec

	return &rec, admitted, nil
}

// Peek implements repository.QuotaRepository.
func (s *MemoryStore) Peek(_ context.Context, key string, limit int, window time.Duration, now time.Time) (*model.QuotaRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec := s.current(key, limit, window, now)
	return &rec, nil
}

// current returns the record for key with an elapsed window already reset.
// Callers must hold s.mu.
func (s *MemoryStore) current(key string, limit int, window time.Duration, now time.Time) model.QuotaRecord {
	rec, ok := s.records[key]
	if !ok || rec.Expired(now, window) {
		rec = model.QuotaRecord{Key: key, WindowStart: now}
	}
	rec.Limit = limit
	return rec
}
