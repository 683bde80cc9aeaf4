package inventory

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/pharmd/pharmd/pkg/bizerror"
)

// BatchStatus is the lifecycle status of a stock batch.
type BatchStatus string

const (
	BatchNormal   BatchStatus = "normal"
	BatchExpiring BatchStatus = "expiring"
	BatchExpired  BatchStatus = "expired"
)

// TxType classifies a ledger transaction.
type TxType string

const (
	TxIn        TxType = "in"
	TxOut       TxType = "out"
	TxTransfer  TxType = "transfer"
	TxStockTake TxType = "stock-take"
	TxLoss      TxType = "loss"
	TxReturn    TxType = "return"
	TxCancel    TxType = "cancel"
)

// Batch maps to the stock_batch table: one medicine + one batch number.
// Batches are never deleted; zero-stock batches persist for audit.
type Batch struct {
	ID              uuid.UUID       `db:"id" json:"id"`
	MedicineID      uuid.UUID       `db:"medicine_id" json:"medicine_id"`
	BatchNo         string          `db:"batch_no" json:"batch_no"`
	CurrentStock    int64           `db:"current_stock" json:"current_stock"`
	ReservedStock   int64           `db:"reserved_stock" json:"reserved_stock"`
	LockedStock     int64           `db:"locked_stock" json:"locked_stock"`
	AvailableStock  int64           `db:"available_stock" json:"available_stock"`
	ExpiryDate      time.Time       `db:"expiry_date" json:"expiry_date"`
	UnitCost        decimal.Decimal `db:"unit_cost" json:"unit_cost"`
	Location        string          `db:"location" json:"location"`
	Status          BatchStatus     `db:"status" json:"status"`
	FlaggedForAudit bool            `db:"flagged_for_audit" json:"flagged_for_audit"`
	Version         int64           `db:"version" json:"-"`
	CreatedAt       time.Time       `db:"created_at" json:"created_at"`
	UpdatedAt       time.Time       `db:"updated_at" json:"updated_at"`
}

// recomputeAvailable keeps the derived counter in sync after any mutation.
func (b *Batch) recomputeAvailable() {
	b.AvailableStock = b.CurrentStock - b.ReservedStock - b.LockedStock
}

// CheckInvariants verifies the batch counters. A violation is an integrity
// fault: the engine never corrects it silently.
func (b *Batch) CheckInvariants() error {
	if b.CurrentStock < 0 {
		return bizerror.New(bizerror.CodeIntegrityFault,
			"batch %s: negative current stock %d", b.BatchNo, b.CurrentStock)
	}
	if b.ReservedStock < 0 || b.LockedStock < 0 {
		return bizerror.New(bizerror.CodeIntegrityFault,
			"batch %s: negative hold counters (reserved %d, locked %d)", b.BatchNo, b.ReservedStock, b.LockedStock)
	}
	if b.CurrentStock < b.ReservedStock+b.LockedStock {
		return bizerror.New(bizerror.CodeIntegrityFault,
			"batch %s: current stock %d below holds %d", b.BatchNo, b.CurrentStock, b.ReservedStock+b.LockedStock)
	}
	if b.AvailableStock != b.CurrentStock-b.ReservedStock-b.LockedStock {
		return bizerror.New(bizerror.CodeIntegrityFault,
			"batch %s: available stock %d out of sync", b.BatchNo, b.AvailableStock)
	}
	return nil
}

// IsExpired reports whether the batch expiry has passed at the given time.
func (b *Batch) IsExpired(now time.Time) bool {
	return !b.ExpiryDate.After(now)
}

// StatusAt derives the batch status at the given time. expiringWindow is the
// configured lead time during which a batch counts as expiring.
func (b *Batch) StatusAt(now time.Time, expiringWindow time.Duration) BatchStatus {
	if b.IsExpired(now) {
		return BatchExpired
	}
	if b.ExpiryDate.Before(now.Add(expiringWindow)) {
		return BatchExpiring
	}
	return BatchNormal
}

// Transaction maps to the stock_transaction table. Transactions are
// append-only: created once per mutating operation, never updated.
type Transaction struct {
	ID          uuid.UUID `db:"id" json:"id"`
	MedicineID  uuid.UUID `db:"medicine_id" json:"medicine_id"`
	BatchNo     string    `db:"batch_no" json:"batch_no"`
	Type        TxType    `db:"tx_type" json:"tx_type"`
	Delta       int64     `db:"delta" json:"delta"`
	StockBefore int64     `db:"stock_before" json:"stock_before"`
	StockAfter  int64     `db:"stock_after" json:"stock_after"`
	Reason      string    `db:"reason" json:"reason"`
	Ref         string    `db:"ref" json:"ref,omitempty"`
	RecordedBy  string    `db:"recorded_by" json:"recorded_by,omitempty"`
	OccurredAt  time.Time `db:"occurred_at" json:"occurred_at"`
}

// Allocation is one leg of an allocation plan: take Quantity from BatchNo.
type Allocation struct {
	BatchNo  string `json:"batch_no"`
	Quantity int64  `json:"quantity"`
}

// BatchDetail is the per-batch view returned by stock queries.
type BatchDetail struct {
	BatchNo        string          `json:"batch_no"`
	CurrentStock   int64           `json:"current_stock"`
	ReservedStock  int64           `json:"reserved_stock"`
	LockedStock    int64           `json:"locked_stock"`
	AvailableStock int64           `json:"available_stock"`
	ExpiryDate     time.Time       `json:"expiry_date"`
	UnitCost       decimal.Decimal `json:"unit_cost"`
	Location       string          `json:"location,omitempty"`
	Status         BatchStatus     `json:"status"`
}

// StockSummary aggregates stock for one medicine across non-expired batches.
type StockSummary struct {
	MedicineID       uuid.UUID     `json:"medicine_id"`
	TotalCurrent     int64         `json:"total_current"`
	TotalReserved    int64         `json:"total_reserved"`
	TotalLocked      int64         `json:"total_locked"`
	TotalAvailable   int64         `json:"total_available"`
	BelowSafetyStock bool          `json:"below_safety_stock"`
	Batches          []BatchDetail `json:"batches"`
}
