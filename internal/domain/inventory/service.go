package inventory

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/pharmd/pharmd/pkg/bizerror"
)

// SafetyStockLookup resolves the safety stock threshold for a medicine.
// A nil lookup disables the below-safety-stock marking in stock queries.
type SafetyStockLookup interface {
	SafetyStockFor(ctx context.Context, medicineID uuid.UUID) (int64, error)
}

// Options tunes the service. Zero values fall back to sensible defaults.
type Options struct {
	// Retries bounds how often a mutating operation is replayed after an
	// optimistic version conflict before giving up.
	Retries int
	// ExpiringWindow is the lead time during which a batch is reported as
	// expiring in stock queries.
	ExpiringWindow time.Duration
	// HoldTTL is how long a reservation hold lives before the sweeper
	// releases it.
	HoldTTL time.Duration
}

const (
	defaultRetries        = 3
	defaultExpiringWindow = 30 * 24 * time.Hour
	defaultHoldTTL        = 30 * time.Minute
)

// Service is the inventory ledger: the single writer of batch counters and
// the append-only transaction log. All mutations for one medicine serialize
// on a per-medicine mutex; cross-process writers are caught by the
// repository's optimistic version check and replayed.
type Service struct {
	repo    Repository
	safety  SafetyStockLookup
	log     zerolog.Logger
	retries int

	expiringWindow time.Duration
	holdTTL        time.Duration

	mu    sync.Mutex
	locks map[uuid.UUID]*sync.Mutex

	holdMu sync.Mutex
	holds  []*hold

	now func() time.Time
}

func NewService(repo Repository, safety SafetyStockLookup, log zerolog.Logger, opts Options) *Service {
	if opts.Retries <= 0 {
		opts.Retries = defaultRetries
	}
	if opts.ExpiringWindow <= 0 {
		opts.ExpiringWindow = defaultExpiringWindow
	}
	if opts.HoldTTL <= 0 {
		opts.HoldTTL = defaultHoldTTL
	}
	return &Service{
		repo:           repo,
		safety:         safety,
		log:            log,
		retries:        opts.Retries,
		expiringWindow: opts.ExpiringWindow,
		holdTTL:        opts.HoldTTL,
		locks:          make(map[uuid.UUID]*sync.Mutex),
		now:            func() time.Time { return time.Now().UTC() },
	}
}

func (s *Service) medicineLock(medicineID uuid.UUID) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.locks[medicineID]
	if !ok {
		l = &sync.Mutex{}
		s.locks[medicineID] = l
	}
	return l
}

// withMedicineLock serializes fn per medicine and replays it on version
// conflicts from concurrent out-of-process writers.
func (s *Service) withMedicineLock(ctx context.Context, medicineID uuid.UUID, fn func(ctx context.Context) error) error {
	l := s.medicineLock(medicineID)
	l.Lock()
	defer l.Unlock()

	var err error
	for attempt := 0; attempt < s.retries; attempt++ {
		err = fn(ctx)
		if !errors.Is(err, ErrVersionConflict) {
			return err
		}
		s.log.Warn().
			Str("medicine_id", medicineID.String()).
			Int("attempt", attempt+1).
			Msg("stock version conflict, retrying")
	}
	return bizerror.New(bizerror.CodeConcurrencyConflict,
		"stock update for medicine %s kept conflicting after %d attempts", medicineID, s.retries)
}

// StockInInput describes an intake of new stock into a batch.
type StockInInput struct {
	MedicineID uuid.UUID       `json:"medicine_id"`
	BatchNo    string          `json:"batch_no"`
	Quantity   int64           `json:"quantity"`
	ExpiryDate time.Time       `json:"expiry_date"`
	UnitCost   decimal.Decimal `json:"unit_cost"`
	Location   string          `json:"location"`
	Reason     string          `json:"reason"`
	Ref        string          `json:"ref"`
	RecordedBy string          `json:"recorded_by"`
}

// RecordIn books new stock into a batch, creating the batch on first intake.
// Expired stock is never accepted; returns and cancellations go through
// RecordCredit instead.
func (s *Service) RecordIn(ctx context.Context, in StockInInput) (*Batch, error) {
	in.BatchNo = strings.TrimSpace(in.BatchNo)
	if in.MedicineID == uuid.Nil {
		return nil, bizerror.New(bizerror.CodeInvalidInput, "medicine id is required")
	}
	if in.BatchNo == "" {
		return nil, bizerror.New(bizerror.CodeInvalidInput, "batch number is required")
	}
	if in.Quantity <= 0 {
		return nil, bizerror.New(bizerror.CodeInvalidInput, "intake quantity must be positive, got %d", in.Quantity)
	}
	if in.UnitCost.IsNegative() {
		return nil, bizerror.New(bizerror.CodeInvalidInput, "unit cost must not be negative")
	}
	now := s.now()
	if !in.ExpiryDate.After(now) {
		return nil, bizerror.New(bizerror.CodeInvalidInput,
			"batch %s is already expired (%s)", in.BatchNo, in.ExpiryDate.Format("2006-01-02"))
	}

	var result *Batch
	err := s.withMedicineLock(ctx, in.MedicineID, func(ctx context.Context) error {
		b, err := s.repo.GetBatch(ctx, in.MedicineID, in.BatchNo)
		switch {
		case errors.Is(err, ErrBatchNotFound):
			b = &Batch{
				MedicineID:   in.MedicineID,
				BatchNo:      in.BatchNo,
				CurrentStock: in.Quantity,
				ExpiryDate:   in.ExpiryDate.UTC(),
				UnitCost:     in.UnitCost,
				Location:     in.Location,
				Status:       BatchNormal,
			}
			b.recomputeAvailable()
			b.Status = b.StatusAt(now, s.expiringWindow)
			if err := s.repo.CreateBatch(ctx, b); err != nil {
				return err
			}
		case err != nil:
			return err
		default:
			if !b.ExpiryDate.Equal(in.ExpiryDate.UTC()) {
				return bizerror.New(bizerror.CodeInvalidInput,
					"batch %s already exists with expiry %s", in.BatchNo, b.ExpiryDate.Format("2006-01-02"))
			}
			b.CurrentStock += in.Quantity
			b.recomputeAvailable()
			if err := s.repo.UpdateBatch(ctx, b); err != nil {
				return err
			}
		}

		result = b
		return s.repo.AppendTransaction(ctx, &Transaction{
			MedicineID:  in.MedicineID,
			BatchNo:     in.BatchNo,
			Type:        TxIn,
			Delta:       in.Quantity,
			StockBefore: b.CurrentStock - in.Quantity,
			StockAfter:  b.CurrentStock,
			Reason:      in.Reason,
			Ref:         in.Ref,
			RecordedBy:  in.RecordedBy,
			OccurredAt:  now,
		})
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// StockOutInput describes an outbound stock movement. When BatchNo is empty
// the ledger picks batches itself, earliest expiry first.
type StockOutInput struct {
	MedicineID uuid.UUID `json:"medicine_id"`
	BatchNo    string    `json:"batch_no"`
	Quantity   int64     `json:"quantity"`
	Type       TxType    `json:"tx_type"`
	Reason     string    `json:"reason"`
	Ref        string    `json:"ref"`
	RecordedBy string    `json:"recorded_by"`
}

// RecordOut removes stock, all-or-nothing. Only unheld (available) stock is
// drawn; reservations and locks are untouched.
func (s *Service) RecordOut(ctx context.Context, in StockOutInput) ([]Allocation, error) {
	if in.MedicineID == uuid.Nil {
		return nil, bizerror.New(bizerror.CodeInvalidInput, "medicine id is required")
	}
	if in.Quantity <= 0 {
		return nil, bizerror.New(bizerror.CodeInvalidInput, "outbound quantity must be positive, got %d", in.Quantity)
	}
	switch in.Type {
	case "":
		in.Type = TxOut
	case TxOut, TxLoss, TxTransfer:
	default:
		return nil, bizerror.New(bizerror.CodeInvalidInput, "invalid outbound transaction type %q", in.Type)
	}

	var plan []Allocation
	err := s.withMedicineLock(ctx, in.MedicineID, func(ctx context.Context) error {
		now := s.now()
		batches, err := s.candidateBatches(ctx, in.MedicineID, in.BatchNo, now)
		if err != nil {
			return err
		}

		plan, err = Allocate(batches, in.Quantity, now)
		if err != nil {
			var short *ShortfallError
			if errors.As(err, &short) {
				return bizerror.New(bizerror.CodeInsufficientStock,
					"medicine %s: need %d, only %d available", in.MedicineID, short.Required, short.Available)
			}
			return bizerror.New(bizerror.CodeInvalidInput, "%v", err)
		}

		return s.applyLegs(ctx, batches, plan, now, func(b *Batch, qty int64) error {
			b.CurrentStock -= qty
			return nil
		}, &Transaction{
			MedicineID: in.MedicineID,
			Type:       in.Type,
			Delta:      -in.Quantity,
			Reason:     in.Reason,
			Ref:        in.Ref,
			RecordedBy: in.RecordedBy,
		})
	})
	if err != nil {
		return nil, err
	}
	return plan, nil
}

// CreditInput describes stock returning to a batch through a compensating
// movement (patient return or dispense cancellation).
type CreditInput struct {
	MedicineID uuid.UUID `json:"medicine_id"`
	BatchNo    string    `json:"batch_no"`
	Quantity   int64     `json:"quantity"`
	Type       TxType    `json:"tx_type"`
	Reason     string    `json:"reason"`
	Ref        string    `json:"ref"`
	RecordedBy string    `json:"recorded_by"`
}

// RecordCredit books stock back into an existing batch. Unlike RecordIn it
// accepts expired batches: a cancelled dispense must restore the exact batch
// it drew from, whatever its state.
func (s *Service) RecordCredit(ctx context.Context, in CreditInput) (*Batch, error) {
	if in.MedicineID == uuid.Nil {
		return nil, bizerror.New(bizerror.CodeInvalidInput, "medicine id is required")
	}
	if strings.TrimSpace(in.BatchNo) == "" {
		return nil, bizerror.New(bizerror.CodeInvalidInput, "batch number is required")
	}
	if in.Quantity <= 0 {
		return nil, bizerror.New(bizerror.CodeInvalidInput, "credit quantity must be positive, got %d", in.Quantity)
	}
	if in.Type != TxReturn && in.Type != TxCancel {
		return nil, bizerror.New(bizerror.CodeInvalidInput, "invalid credit transaction type %q", in.Type)
	}

	var result *Batch
	err := s.withMedicineLock(ctx, in.MedicineID, func(ctx context.Context) error {
		b, err := s.repo.GetBatch(ctx, in.MedicineID, in.BatchNo)
		if err != nil {
			if errors.Is(err, ErrBatchNotFound) {
				return bizerror.New(bizerror.CodeNotFound, "batch %s not found for medicine %s", in.BatchNo, in.MedicineID)
			}
			return err
		}
		b.CurrentStock += in.Quantity
		b.recomputeAvailable()
		if err := s.repo.UpdateBatch(ctx, b); err != nil {
			return err
		}
		result = b
		return s.repo.AppendTransaction(ctx, &Transaction{
			MedicineID:  in.MedicineID,
			BatchNo:     in.BatchNo,
			Type:        in.Type,
			Delta:       in.Quantity,
			StockBefore: b.CurrentStock - in.Quantity,
			StockAfter:  b.CurrentStock,
			Reason:      in.Reason,
			Ref:         in.Ref,
			RecordedBy:  in.RecordedBy,
			OccurredAt:  s.now(),
		})
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// AdjustInput sets a batch to a physically counted quantity.
type AdjustInput struct {
	MedicineID   uuid.UUID `json:"medicine_id"`
	BatchNo      string    `json:"batch_no"`
	CountedStock int64     `json:"counted_stock"`
	Reason       string    `json:"reason"`
	RecordedBy   string    `json:"recorded_by"`
}

// RecordAdjustment reconciles a batch against a physical count. Any nonzero
// delta flags the batch for audit review. The counted quantity can never
// undercut stock already promised to reservations or locks.
func (s *Service) RecordAdjustment(ctx context.Context, in AdjustInput) (*Batch, error) {
	if in.MedicineID == uuid.Nil {
		return nil, bizerror.New(bizerror.CodeInvalidInput, "medicine id is required")
	}
	if strings.TrimSpace(in.BatchNo) == "" {
		return nil, bizerror.New(bizerror.CodeInvalidInput, "batch number is required")
	}
	if in.CountedStock < 0 {
		return nil, bizerror.New(bizerror.CodeInvalidInput, "counted stock must not be negative, got %d", in.CountedStock)
	}

	var result *Batch
	err := s.withMedicineLock(ctx, in.MedicineID, func(ctx context.Context) error {
		b, err := s.repo.GetBatch(ctx, in.MedicineID, in.BatchNo)
		if err != nil {
			if errors.Is(err, ErrBatchNotFound) {
				return bizerror.New(bizerror.CodeNotFound, "batch %s not found for medicine %s", in.BatchNo, in.MedicineID)
			}
			return err
		}
		held := b.ReservedStock + b.LockedStock
		if in.CountedStock < held {
			return bizerror.New(bizerror.CodeInvalidInput,
				"counted stock %d undercuts %d units on hold for batch %s", in.CountedStock, held, in.BatchNo)
		}

		delta := in.CountedStock - b.CurrentStock
		before := b.CurrentStock
		b.CurrentStock = in.CountedStock
		b.recomputeAvailable()
		if delta != 0 {
			b.FlaggedForAudit = true
		}
		if err := s.repo.UpdateBatch(ctx, b); err != nil {
			return err
		}
		result = b
		return s.repo.AppendTransaction(ctx, &Transaction{
			MedicineID:  in.MedicineID,
			BatchNo:     in.BatchNo,
			Type:        TxStockTake,
			Delta:       delta,
			StockBefore: before,
			StockAfter:  b.CurrentStock,
			Reason:      in.Reason,
			RecordedBy:  in.RecordedBy,
			OccurredAt:  s.now(),
		})
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// candidateBatches loads the batches an outbound or hold operation may draw
// from: every batch when batchNo is empty, or exactly that batch.
func (s *Service) candidateBatches(ctx context.Context, medicineID uuid.UUID, batchNo string, now time.Time) ([]*Batch, error) {
	if batchNo == "" {
		return s.repo.ListBatches(ctx, medicineID)
	}
	b, err := s.repo.GetBatch(ctx, medicineID, batchNo)
	if err != nil {
		if errors.Is(err, ErrBatchNotFound) {
			return nil, bizerror.New(bizerror.CodeNotFound, "batch %s not found for medicine %s", batchNo, medicineID)
		}
		return nil, err
	}
	if b.IsExpired(now) {
		return nil, bizerror.New(bizerror.CodeInvalidInput, "batch %s is expired", batchNo)
	}
	return []*Batch{b}, nil
}

// applyLegs commits an allocation plan: mutate applies the per-batch change,
// txTemplate (when non-nil) seeds one ledger entry per leg. A version
// conflict mid-plan rolls back the already committed legs before the error
// propagates, so a retry starts from a clean state.
func (s *Service) applyLegs(ctx context.Context, batches []*Batch, plan []Allocation, now time.Time, mutate func(*Batch, int64) error, txTemplate *Transaction) error {
	byNo := make(map[string]*Batch, len(batches))
	for _, b := range batches {
		byNo[b.BatchNo] = b
	}

	var applied []Allocation
	for _, leg := range plan {
		b := byNo[leg.BatchNo]
		before := b.CurrentStock
		if err := mutate(b, leg.Quantity); err != nil {
			s.revertLegs(ctx, byNo, applied, mutate)
			return err
		}
		b.recomputeAvailable()
		if err := b.CheckInvariants(); err != nil {
			s.revertLegs(ctx, byNo, applied, mutate)
			return err
		}
		if err := s.repo.UpdateBatch(ctx, b); err != nil {
			s.revertLegs(ctx, byNo, applied, mutate)
			return err
		}
		applied = append(applied, leg)

		if txTemplate != nil {
			tx := *txTemplate
			tx.ID = uuid.Nil
			tx.BatchNo = leg.BatchNo
			tx.Delta = -leg.Quantity
			tx.StockBefore = before
			tx.StockAfter = b.CurrentStock
			tx.OccurredAt = now
			if err := s.repo.AppendTransaction(ctx, &tx); err != nil {
				// The counter moved but no ledger entry exists for it; take
				// the leg back out so replay stays consistent.
				s.revertLegs(ctx, byNo, []Allocation{leg}, mutate)
				return err
			}
		}
	}
	return nil
}

// revertLegs undoes committed legs after a mid-plan failure, applying the
// inverse mutation against a fresh read of each batch.
func (s *Service) revertLegs(ctx context.Context, byNo map[string]*Batch, applied []Allocation, mutate func(*Batch, int64) error) {
	for i := len(applied) - 1; i >= 0; i-- {
		leg := applied[i]
		stale := byNo[leg.BatchNo]
		fresh, err := s.repo.GetBatch(ctx, stale.MedicineID, leg.BatchNo)
		if err != nil {
			s.log.Error().Err(err).Str("batch_no", leg.BatchNo).Msg("revert: reread failed")
			continue
		}
		if err := mutate(fresh, -leg.Quantity); err != nil {
			s.log.Error().Err(err).Str("batch_no", leg.BatchNo).Msg("revert: inverse mutation failed")
			continue
		}
		fresh.recomputeAvailable()
		if err := s.repo.UpdateBatch(ctx, fresh); err != nil {
			s.log.Error().Err(err).Str("batch_no", leg.BatchNo).Msg("revert: update failed")
		}
	}
}

// QueryStock aggregates per-batch and total stock for a medicine. Expired
// batches appear in the detail list but never count toward the totals.
func (s *Service) QueryStock(ctx context.Context, medicineID uuid.UUID) (*StockSummary, error) {
	if medicineID == uuid.Nil {
		return nil, bizerror.New(bizerror.CodeInvalidInput, "medicine id is required")
	}
	batches, err := s.repo.ListBatches(ctx, medicineID)
	if err != nil {
		return nil, err
	}

	now := s.now()
	summary := &StockSummary{MedicineID: medicineID, Batches: make([]BatchDetail, 0, len(batches))}
	for _, b := range batches {
		status := b.StatusAt(now, s.expiringWindow)
		summary.Batches = append(summary.Batches, BatchDetail{
			BatchNo:        b.BatchNo,
			CurrentStock:   b.CurrentStock,
			ReservedStock:  b.ReservedStock,
			LockedStock:    b.LockedStock,
			AvailableStock: b.AvailableStock,
			ExpiryDate:     b.ExpiryDate,
			UnitCost:       b.UnitCost,
			Location:       b.Location,
			Status:         status,
		})
		if status == BatchExpired {
			continue
		}
		summary.TotalCurrent += b.CurrentStock
		summary.TotalReserved += b.ReservedStock
		summary.TotalLocked += b.LockedStock
		summary.TotalAvailable += b.AvailableStock
	}

	if s.safety != nil {
		threshold, err := s.safety.SafetyStockFor(ctx, medicineID)
		if err == nil && threshold > 0 {
			summary.BelowSafetyStock = summary.TotalAvailable < threshold
		}
	}
	return summary, nil
}

// AvailableStock sums available stock across non-expired batches. This is
// the snapshot the validation pipeline consults.
func (s *Service) AvailableStock(ctx context.Context, medicineID uuid.UUID) (int64, error) {
	batches, err := s.repo.ListBatches(ctx, medicineID)
	if err != nil {
		return 0, err
	}
	return Availability(batches, s.now()), nil
}

// ListLedger pages through the transaction log for a medicine, oldest first.
func (s *Service) ListLedger(ctx context.Context, medicineID uuid.UUID, batchNo string, limit, offset int) ([]*Transaction, int, error) {
	if medicineID == uuid.Nil {
		return nil, 0, bizerror.New(bizerror.CodeInvalidInput, "medicine id is required")
	}
	return s.repo.ListTransactions(ctx, medicineID, batchNo, limit, offset)
}

// Discrepancy is one batch whose replayed ledger total disagrees with its
// stored counter.
type Discrepancy struct {
	BatchNo      string `json:"batch_no"`
	LedgerStock  int64  `json:"ledger_stock"`
	CounterStock int64  `json:"counter_stock"`
}

// VerifyLedger replays every transaction for a medicine and compares the
// result against the stored batch counters. A healthy ledger returns an
// empty slice.
func (s *Service) VerifyLedger(ctx context.Context, medicineID uuid.UUID) ([]Discrepancy, error) {
	batches, err := s.repo.ListBatches(ctx, medicineID)
	if err != nil {
		return nil, err
	}

	replayed := make(map[string]int64)
	offset := 0
	const page = 500
	for {
		txs, total, err := s.repo.ListTransactions(ctx, medicineID, "", page, offset)
		if err != nil {
			return nil, err
		}
		for _, tx := range txs {
			replayed[tx.BatchNo] += tx.Delta
		}
		offset += len(txs)
		if offset >= total || len(txs) == 0 {
			break
		}
	}

	var diffs []Discrepancy
	for _, b := range batches {
		if got := replayed[b.BatchNo]; got != b.CurrentStock {
			diffs = append(diffs, Discrepancy{BatchNo: b.BatchNo, LedgerStock: got, CounterStock: b.CurrentStock})
		}
	}
	return diffs, nil
}
