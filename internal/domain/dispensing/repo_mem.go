package dispensing

import (
	"context"
	"sync"

	"github.com/google/uuid"

	"github.com/pharmd/pharmd/internal/domain/inventory"
)

// MemRepository is an in-memory Repository used in tests and embedded runs.
type MemRepository struct {
	mu      sync.RWMutex
	records map[uuid.UUID]*Record
}

func NewMemRepository() *MemRepository {
	return &MemRepository{records: make(map[uuid.UUID]*Record)}
}

func copyRecord(r *Record) *Record {
	cp := *r
	cp.Items = make([]Item, len(r.Items))
	copy(cp.Items, r.Items)
	for i := range cp.Items {
		cp.Items[i].Allocations = append([]inventory.Allocation(nil), r.Items[i].Allocations...)
	}
	return &cp
}

func (m *MemRepository) Create(_ context.Context, r *Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if r.ID == uuid.Nil {
		r.ID = uuid.New()
	}
	for i := range r.Items {
		if r.Items[i].ID == uuid.Nil {
			r.Items[i].ID = uuid.New()
		}
		r.Items[i].RecordID = r.ID
	}
	m.records[r.ID] = copyRecord(r)
	return nil
}

func (m *MemRepository) GetByID(_ context.Context, id uuid.UUID) (*Record, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	r, ok := m.records[id]
	if !ok {
		return nil, nil
	}
	return copyRecord(r), nil
}

func (m *MemRepository) Update(_ context.Context, r *Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.records[r.ID] = copyRecord(r)
	return nil
}

func (m *MemRepository) FindActive(_ context.Context, prescriptionID uuid.UUID) (*Record, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, r := range m.records {
		if r.PrescriptionID == prescriptionID && r.Active() {
			return copyRecord(r), nil
		}
	}
	return nil, nil
}

func (m *MemRepository) List(_ context.Context, filter ListFilter, limit, offset int) ([]*Record, int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var matched []*Record
	for _, r := range m.records {
		if filter.PrescriptionID != uuid.Nil && r.PrescriptionID != filter.PrescriptionID {
			continue
		}
		if filter.PatientID != uuid.Nil && r.PatientID != filter.PatientID {
			continue
		}
		if filter.Status != "" && r.Status != filter.Status {
			continue
		}
		matched = append(matched, copyRecord(r))
	}
	total := len(matched)
	if offset >= total {
		return nil, total, nil
	}
	end := offset + limit
	if limit <= 0 || end > total {
		end = total
	}
	return matched[offset:end], total, nil
}
