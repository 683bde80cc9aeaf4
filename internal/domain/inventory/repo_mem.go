package inventory

import (
	"context"
	"sort"
	"sync"

	"github.com/google/uuid"
)

// MemRepository is an in-memory Repository. It backs unit tests and embedded
// (library) use of the engine where the host supplies its own durability.
// Batches are stored by value; reads return copies so callers can mutate
// freely and commit through UpdateBatch.
type MemRepository struct {
	mu      sync.RWMutex
	batches map[uuid.UUID]map[string]*Batch
	ledger  []*Transaction
}

func NewMemRepository() *MemRepository {
	return &MemRepository{
		batches: make(map[uuid.UUID]map[string]*Batch),
	}
}

func copyBatch(b *Batch) *Batch {
	cp := *b
	return &cp
}

func (r *MemRepository) CreateBatch(_ context.Context, b *Batch) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if b.ID == uuid.Nil {
		b.ID = uuid.New()
	}
	byNo, ok := r.batches[b.MedicineID]
	if !ok {
		byNo = make(map[string]*Batch)
		r.batches[b.MedicineID] = byNo
	}
	b.Version = 1
	byNo[b.BatchNo] = copyBatch(b)
	return nil
}

func (r *MemRepository) GetBatch(_ context.Context, medicineID uuid.UUID, batchNo string) (*Batch, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	b, ok := r.batches[medicineID][batchNo]
	if !ok {
		return nil, ErrBatchNotFound
	}
	return copyBatch(b), nil
}

func (r *MemRepository) ListBatches(_ context.Context, medicineID uuid.UUID) ([]*Batch, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var result []*Batch
	for _, b := range r.batches[medicineID] {
		result = append(result, copyBatch(b))
	}
	sort.Slice(result, func(i, j int) bool {
		if !result[i].ExpiryDate.Equal(result[j].ExpiryDate) {
			return result[i].ExpiryDate.Before(result[j].ExpiryDate)
		}
		return result[i].BatchNo < result[j].BatchNo
	})
	return result, nil
}

func (r *MemRepository) UpdateBatch(_ context.Context, b *Batch) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	stored, ok := r.batches[b.MedicineID][b.BatchNo]
	if !ok {
		return ErrBatchNotFound
	}
	if stored.Version != b.Version {
		return ErrVersionConflict
	}
	b.Version++
	r.batches[b.MedicineID][b.BatchNo] = copyBatch(b)
	return nil
}

func (r *MemRepository) AppendTransaction(_ context.Context, tx *Transaction) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if tx.ID == uuid.Nil {
		tx.ID = uuid.New()
	}
	cp := *tx
	r.ledger = append(r.ledger, &cp)
	return nil
}

func (r *MemRepository) ListTransactions(_ context.Context, medicineID uuid.UUID, batchNo string, limit, offset int) ([]*Transaction, int, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var matched []*Transaction
	for _, tx := range r.ledger {
		if tx.MedicineID != medicineID {
			continue
		}
		if batchNo != "" && tx.BatchNo != batchNo {
			continue
		}
		cp := *tx
		matched = append(matched, &cp)
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
