package inventory

import (
	"context"
	"errors"

	"github.com/google/uuid"
)

// ErrVersionConflict is returned by UpdateBatch when the batch was modified
// concurrently (optimistic version mismatch). The service retries a bounded
// number of times before surfacing a concurrency conflict.
var ErrVersionConflict = errors.New("batch version conflict")

// ErrBatchNotFound is returned when no batch exists for (medicine, batch no).
var ErrBatchNotFound = errors.New("batch not found")

// Repository persists batches and the append-only transaction ledger.
// The ledger owns both lifecycles: callers outside this package only request
// mutations through the Service.
type Repository interface {
	CreateBatch(ctx context.Context, b *Batch) error
	GetBatch(ctx context.Context, medicineID uuid.UUID, batchNo string) (*Batch, error)
	// ListBatches returns every batch for the medicine, expired included,
	// sorted by expiry date ascending then batch number.
	ListBatches(ctx context.Context, medicineID uuid.UUID) ([]*Batch, error)
	// UpdateBatch persists b if the stored version still matches b.Version,
	// then increments the version. Returns ErrVersionConflict otherwise.
	UpdateBatch(ctx context.Context, b *Batch) error

	AppendTransaction(ctx context.Context, tx *Transaction) error
	// ListTransactions returns ledger entries for a medicine, oldest first.
	// batchNo narrows to a single batch when non-empty.
	ListTransactions(ctx context.Context, medicineID uuid.UUID, batchNo string, limit, offset int) ([]*Transaction, int, error)
}
