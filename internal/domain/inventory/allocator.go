package inventory

import (
	"fmt"
	"time"
)

// ShortfallError reports that the available stock across candidate batches
// cannot cover a requested quantity. Allocation is all-or-nothing: when this
// error is returned no batch has been touched.
type ShortfallError struct {
	Required  int64
	Available int64
}

func (e *ShortfallError) Error() string {
	return fmt.Sprintf("insufficient stock: required %d, available %d", e.Required, e.Available)
}

func (e *ShortfallError) ShortBy() int64 {
	return e.Required - e.Available
}

// Allocate plans how a requested quantity is drawn from the given batches.
// Batches are consumed earliest expiry first; ties break on batch number.
// Expired batches and batches with nothing available never participate.
// The input must already be sorted by expiry then batch number, which is
// the order Repository.ListBatches guarantees.
func Allocate(batches []*Batch, quantity int64, now time.Time) ([]Allocation, error) {
	if quantity <= 0 {
		return nil, fmt.Errorf("allocation quantity must be positive, got %d", quantity)
	}

	available := Availability(batches, now)
	if available < quantity {
		return nil, &ShortfallError{Required: quantity, Available: available}
	}

	var plan []Allocation
	remaining := quantity
	for _, b := range batches {
		if remaining == 0 {
			break
		}
		if b.IsExpired(now) || b.AvailableStock <= 0 {
			continue
		}
		take := b.AvailableStock
		if take > remaining {
			take = remaining
		}
		plan = append(plan, Allocation{BatchNo: b.BatchNo, Quantity: take})
		remaining -= take
	}
	return plan, nil
}

// Availability sums the available stock of non-expired batches.
func Availability(batches []*Batch, now time.Time) int64 {
	var total int64
	for _, b := range batches {
		if b.IsExpired(now) || b.AvailableStock <= 0 {
			continue
		}
		total += b.AvailableStock
	}
	return total
}
