package inventory

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/pharmd/pharmd/pkg/bizerror"
)

// hold is an in-memory record of an active reservation, kept so abandoned
// reservations can be swept back into available stock.
type hold struct {
	medicineID uuid.UUID
	legs       []Allocation
	ref        string
	expiresAt  time.Time
}

// Reserve soft-holds a quantity against future dispensing, drawing from
// batches earliest expiry first. The returned legs identify exactly which
// batches carry the hold; callers pass them back to Release or Lock.
func (s *Service) Reserve(ctx context.Context, medicineID uuid.UUID, quantity int64, ref string) ([]Allocation, error) {
	return s.ReserveBatch(ctx, medicineID, "", quantity, ref)
}

// ReserveBatch reserves against one specific batch. An empty batch number
// falls back to the earliest-expiry walk.
func (s *Service) ReserveBatch(ctx context.Context, medicineID uuid.UUID, batchNo string, quantity int64, ref string) ([]Allocation, error) {
	if medicineID == uuid.Nil {
		return nil, bizerror.New(bizerror.CodeInvalidInput, "medicine id is required")
	}
	if quantity <= 0 {
		return nil, bizerror.New(bizerror.CodeInvalidInput, "reserve quantity must be positive, got %d", quantity)
	}

	var plan []Allocation
	err := s.withMedicineLock(ctx, medicineID, func(ctx context.Context) error {
		now := s.now()
		batches, err := s.candidateBatches(ctx, medicineID, batchNo, now)
		if err != nil {
			return err
		}
		plan, err = Allocate(batches, quantity, now)
		if err != nil {
			var short *ShortfallError
			if errors.As(err, &short) {
				return bizerror.New(bizerror.CodeInsufficientStock,
					"medicine %s: need %d, only %d available to reserve", medicineID, short.Required, short.Available)
			}
			return err
		}
		return s.applyLegs(ctx, batches, plan, now, func(b *Batch, qty int64) error {
			b.ReservedStock += qty
			return nil
		}, nil)
	})
	if err != nil {
		return nil, err
	}

	s.registerHold(medicineID, plan, ref)
	return plan, nil
}

// registerHold records an active reservation so abandoned ones can be swept.
func (s *Service) registerHold(medicineID uuid.UUID, legs []Allocation, ref string) {
	s.holdMu.Lock()
	s.holds = append(s.holds, &hold{
		medicineID: medicineID,
		legs:       legs,
		ref:        ref,
		expiresAt:  s.now().Add(s.holdTTL),
	})
	s.holdMu.Unlock()
}

// Release gives reserved stock back to the available pool. Releasing more
// than a batch holds is rejected outright, not clamped.
func (s *Service) Release(ctx context.Context, medicineID uuid.UUID, legs []Allocation, ref string) error {
	if err := s.adjustHolds(ctx, medicineID, legs, func(b *Batch, qty int64) error {
		if qty > b.ReservedStock {
			return bizerror.New(bizerror.CodeOverRelease,
				"batch %s: releasing %d but only %d reserved", b.BatchNo, qty, b.ReservedStock)
		}
		b.ReservedStock -= qty
		return nil
	}); err != nil {
		return err
	}
	s.dropHold(medicineID, ref, legs)
	return nil
}

// Lock converts reserved stock into locked stock for a dispense in progress.
// The legs leave the hold registry here: once locked, the stock is committed
// and no longer the sweeper's to reclaim.
func (s *Service) Lock(ctx context.Context, medicineID uuid.UUID, legs []Allocation, ref string) error {
	if err := s.adjustHolds(ctx, medicineID, legs, func(b *Batch, qty int64) error {
		if qty > b.ReservedStock {
			return bizerror.New(bizerror.CodeOverRelease,
				"batch %s: locking %d but only %d reserved", b.BatchNo, qty, b.ReservedStock)
		}
		b.ReservedStock -= qty
		b.LockedStock += qty
		return nil
	}); err != nil {
		return err
	}
	s.dropHold(medicineID, ref, legs)
	return nil
}

// Unlock moves locked stock back to reserved, the inverse of Lock. The legs
// re-enter the hold registry with a fresh TTL.
func (s *Service) Unlock(ctx context.Context, medicineID uuid.UUID, legs []Allocation, ref string) error {
	if err := s.adjustHolds(ctx, medicineID, legs, func(b *Batch, qty int64) error {
		if qty > b.LockedStock {
			return bizerror.New(bizerror.CodeOverRelease,
				"batch %s: unlocking %d but only %d locked", b.BatchNo, qty, b.LockedStock)
		}
		b.LockedStock -= qty
		b.ReservedStock += qty
		return nil
	}); err != nil {
		return err
	}
	s.registerHold(medicineID, legs, ref)
	return nil
}

// ConsumeLocked burns locked stock out of inventory and writes the outbound
// ledger entries. This is the final step of a dispense.
func (s *Service) ConsumeLocked(ctx context.Context, medicineID uuid.UUID, legs []Allocation, reason, ref, recordedBy string) error {
	if len(legs) == 0 {
		return bizerror.New(bizerror.CodeInvalidInput, "no allocation legs to consume")
	}
	return s.withMedicineLock(ctx, medicineID, func(ctx context.Context) error {
		now := s.now()
		batches, err := s.repo.ListBatches(ctx, medicineID)
		if err != nil {
			return err
		}
		byNo := make(map[string]*Batch, len(batches))
		for _, b := range batches {
			byNo[b.BatchNo] = b
		}
		for _, leg := range legs {
			b, ok := byNo[leg.BatchNo]
			if !ok {
				return bizerror.New(bizerror.CodeNotFound, "batch %s not found for medicine %s", leg.BatchNo, medicineID)
			}
			if leg.Quantity <= 0 {
				return bizerror.New(bizerror.CodeInvalidInput, "leg quantity must be positive, got %d", leg.Quantity)
			}
			if leg.Quantity > b.LockedStock {
				return bizerror.New(bizerror.CodeOverRelease,
					"batch %s: consuming %d but only %d locked", leg.BatchNo, leg.Quantity, b.LockedStock)
			}
		}
		return s.applyLegs(ctx, batches, legs, now, func(b *Batch, qty int64) error {
			b.LockedStock -= qty
			b.CurrentStock -= qty
			return nil
		}, &Transaction{
			MedicineID: medicineID,
			Type:       TxOut,
			Reason:     reason,
			Ref:        ref,
			RecordedBy: recordedBy,
		})
	})
}

// adjustHolds applies a hold-counter mutation across the given legs with the
// same all-or-nothing validation as outbound movements.
func (s *Service) adjustHolds(ctx context.Context, medicineID uuid.UUID, legs []Allocation, mutate func(*Batch, int64) error) error {
	if medicineID == uuid.Nil {
		return bizerror.New(bizerror.CodeInvalidInput, "medicine id is required")
	}
	if len(legs) == 0 {
		return bizerror.New(bizerror.CodeInvalidInput, "no allocation legs given")
	}
	return s.withMedicineLock(ctx, medicineID, func(ctx context.Context) error {
		batches, err := s.repo.ListBatches(ctx, medicineID)
		if err != nil {
			return err
		}
		byNo := make(map[string]*Batch, len(batches))
		for _, b := range batches {
			byNo[b.BatchNo] = b
		}
		// Validate every leg before committing any.
		for _, leg := range legs {
			b, ok := byNo[leg.BatchNo]
			if !ok {
				return bizerror.New(bizerror.CodeNotFound, "batch %s not found for medicine %s", leg.BatchNo, medicineID)
			}
			if leg.Quantity <= 0 {
				return bizerror.New(bizerror.CodeInvalidInput, "leg quantity must be positive, got %d", leg.Quantity)
			}
			trial := *b
			if err := mutate(&trial, leg.Quantity); err != nil {
				return err
			}
		}
		return s.applyLegs(ctx, batches, legs, s.now(), mutate, nil)
	})
}

// dropHold removes (or shrinks) the in-memory hold matching released legs.
func (s *Service) dropHold(medicineID uuid.UUID, ref string, legs []Allocation) {
	released := make(map[string]int64, len(legs))
	for _, leg := range legs {
		released[leg.BatchNo] += leg.Quantity
	}

	s.holdMu.Lock()
	defer s.holdMu.Unlock()

	kept := s.holds[:0]
	for _, h := range s.holds {
		if h.medicineID != medicineID || (ref != "" && h.ref != ref) {
			kept = append(kept, h)
			continue
		}
		var remaining []Allocation
		for _, leg := range h.legs {
			take := released[leg.BatchNo]
			if take >= leg.Quantity {
				released[leg.BatchNo] -= leg.Quantity
				continue
			}
			if take > 0 {
				released[leg.BatchNo] = 0
				leg.Quantity -= take
			}
			remaining = append(remaining, leg)
		}
		if len(remaining) > 0 {
			h.legs = remaining
			kept = append(kept, h)
		}
	}
	s.holds = kept
}

// SweepExpiredHolds releases reservations whose TTL has lapsed and returns
// how many holds were cleaned up. Run it periodically from the server loop.
func (s *Service) SweepExpiredHolds(ctx context.Context) int {
	now := s.now()

	s.holdMu.Lock()
	var expired []*hold
	kept := s.holds[:0]
	for _, h := range s.holds {
		if h.expiresAt.Before(now) {
			expired = append(expired, h)
		} else {
			kept = append(kept, h)
		}
	}
	s.holds = kept
	s.holdMu.Unlock()

	swept := 0
	for _, h := range expired {
		err := s.adjustHolds(ctx, h.medicineID, h.legs, func(b *Batch, qty int64) error {
			if qty > b.ReservedStock {
				return bizerror.New(bizerror.CodeOverRelease,
					"batch %s: sweeping %d but only %d reserved", b.BatchNo, qty, b.ReservedStock)
			}
			b.ReservedStock -= qty
			return nil
		})
		if err != nil {
			s.log.Error().Err(err).
				Str("medicine_id", h.medicineID.String()).
				Str("ref", h.ref).
				Msg("failed to sweep expired hold")
			continue
		}
		swept++
		s.log.Info().
			Str("medicine_id", h.medicineID.String()).
			Str("ref", h.ref).
			Msg("released expired reservation hold")
	}
	return swept
}
