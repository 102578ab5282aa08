package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/collector-cli/internal/model"
)

// MemoryRepository keeps records in process memory. Used for dry runs
// and tests.
type MemoryRepository struct {
	mu      sync.Mutex
	records map[string]model.PropertyRecord
}

func NewMemory() *MemoryRepository {
	return &MemoryRepository{records: map[string]model.PropertyRecord{}}
}

func (r *MemoryRepository) Create(ctx context.Context, rec *model.PropertyRecord) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.records[rec.PropertyID]; exists {
		return "", eris.Errorf("memory: property %s already exists", rec.PropertyID)
	}
	r.records[rec.PropertyID] = *rec
	return rec.PropertyID, nil
}

func (r *MemoryRepository) GetByPropertyID(ctx context.Context, propertyID string) (*model.PropertyRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, ok := r.records[propertyID]
	if !ok {
		return nil, nil
	}
	return &rec, nil
}

func (r *MemoryRepository) SearchByZipcode(ctx context.Context, zipcode string, limit, offset int) ([]model.PropertyRecord, int64, error) {
	if limit <= 0 {
		limit = 100
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	var matched []model.PropertyRecord
	for _, rec := range r.records {
		if rec.Address.Zipcode == zipcode {
			matched = append(matched, rec)
		}
	}
	sort.Slice(matched, func(i, j int) bool {
		return matched[i].LastUpdated.After(matched[j].LastUpdated)
	})

	total := int64(len(matched))
	if offset >= len(matched) {
		return nil, total, nil
	}
	matched = matched[offset:]
	if len(matched) > limit {
		matched = matched[:limit]
	}
	return matched, total, nil
}

func (r *MemoryRepository) GetRecentUpdates(ctx context.Context, since time.Time, limit int) ([]model.PropertyRecord, error) {
	if limit <= 0 {
		limit = 100
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	var matched []model.PropertyRecord
	for _, rec := range r.records {
		if !rec.LastUpdated.Before(since) {
			matched = append(matched, rec)
		}
	}
	sort.Slice(matched, func(i, j int) bool {
		return matched[i].LastUpdated.After(matched[j].LastUpdated)
	})
	if len(matched) > limit {
		matched = matched[:limit]
	}
	return matched, nil
}

func (r *MemoryRepository) Close(ctx context.Context) error { return nil }

// Len reports the stored record count.
func (r *MemoryRepository) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.records)
}
