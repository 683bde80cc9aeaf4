package inventory

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/pharmd/pharmd/internal/platform/db"
)

// PgRepository persists batches and the stock ledger in PostgreSQL.
// Batch updates use an optimistic version check so concurrent writers of
// the same batch surface ErrVersionConflict instead of lost updates.
type PgRepository struct {
	pool *pgxpool.Pool
}

func NewPgRepository(pool *pgxpool.Pool) *PgRepository {
	return &PgRepository{pool: pool}
}

type queryable interface {
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row
	Exec(ctx context.Context, sql string, args ...interface{}) (pgconn.CommandTag, error)
}

func (r *PgRepository) conn(ctx context.Context) queryable {
	if tx := db.TxFromContext(ctx); tx != nil {
		return tx
	}
	return r.pool
}

const batchCols = `id, medicine_id, batch_no, current_stock, reserved_stock, locked_stock,
	expiry_date, unit_cost, location, status, flagged_for_audit, version, created_at, updated_at`

func scanBatch(row pgx.Row) (*Batch, error) {
	var b Batch
	var cost string
	err := row.Scan(
		&b.ID, &b.MedicineID, &b.BatchNo, &b.CurrentStock, &b.ReservedStock, &b.LockedStock,
		&b.ExpiryDate, &cost, &b.Location, &b.Status, &b.FlaggedForAudit, &b.Version,
		&b.CreatedAt, &b.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	b.UnitCost, err = decimal.NewFromString(cost)
	if err != nil {
		return nil, fmt.Errorf("parse unit cost: %w", err)
	}
	b.recomputeAvailable()
	return &b, nil
}

func (r *PgRepository) CreateBatch(ctx context.Context, b *Batch) error {
	if b.ID == uuid.Nil {
		b.ID = uuid.New()
	}
	b.Version = 1
	now := time.Now().UTC()
	b.CreatedAt = now
	b.UpdatedAt = now

	query := `
		INSERT INTO stock_batch (
			id, medicine_id, batch_no, current_stock, reserved_stock, locked_stock,
			expiry_date, unit_cost, location, status, flagged_for_audit, version,
			created_at, updated_at
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14)`

	_, err := r.conn(ctx).Exec(ctx, query,
		b.ID, b.MedicineID, b.BatchNo, b.CurrentStock, b.ReservedStock, b.LockedStock,
		b.ExpiryDate, b.UnitCost.String(), b.Location, b.Status, b.FlaggedForAudit,
		b.Version, b.CreatedAt, b.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("create batch: %w", err)
	}
	return nil
}

func (r *PgRepository) GetBatch(ctx context.Context, medicineID uuid.UUID, batchNo string) (*Batch, error) {
	query := `SELECT ` + batchCols + ` FROM stock_batch WHERE medicine_id = $1 AND batch_no = $2`
	b, err := scanBatch(r.conn(ctx).QueryRow(ctx, query, medicineID, batchNo))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrBatchNotFound
		}
		return nil, fmt.Errorf("get batch: %w", err)
	}
	return b, nil
}

func (r *PgRepository) ListBatches(ctx context.Context, medicineID uuid.UUID) ([]*Batch, error) {
	query := `SELECT ` + batchCols + ` FROM stock_batch
		WHERE medicine_id = $1 ORDER BY expiry_date ASC, batch_no ASC`

	rows, err := r.conn(ctx).Query(ctx, query, medicineID)
	if err != nil {
		return nil, fmt.Errorf("list batches: %w", err)
	}
	defer rows.Close()

	var batches []*Batch
	for rows.Next() {
		b, err := scanBatch(rows)
		if err != nil {
			return nil, fmt.Errorf("scan batch: %w", err)
		}
		batches = append(batches, b)
	}
	return batches, rows.Err()
}

func (r *PgRepository) UpdateBatch(ctx context.Context, b *Batch) error {
	b.UpdatedAt = time.Now().UTC()

	query := `
		UPDATE stock_batch SET
			current_stock = $1, reserved_stock = $2, locked_stock = $3,
			unit_cost = $4, location = $5, status = $6, flagged_for_audit = $7,
			version = version + 1, updated_at = $8
		WHERE medicine_id = $9 AND batch_no = $10 AND version = $11
		RETURNING version`

	var newVersion int64
	err := r.conn(ctx).QueryRow(ctx, query,
		b.CurrentStock, b.ReservedStock, b.LockedStock,
		b.UnitCost.String(), b.Location, b.Status, b.FlaggedForAudit,
		b.UpdatedAt, b.MedicineID, b.BatchNo, b.Version,
	).Scan(&newVersion)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			// Row missing or stale version; disambiguate for callers.
			var exists bool
			checkErr := r.conn(ctx).QueryRow(ctx,
				`SELECT EXISTS (SELECT 1 FROM stock_batch WHERE medicine_id = $1 AND batch_no = $2)`,
				b.MedicineID, b.BatchNo,
			).Scan(&exists)
			if checkErr == nil && !exists {
				return ErrBatchNotFound
			}
			return ErrVersionConflict
		}
		return fmt.Errorf("update batch: %w", err)
	}
	b.Version = newVersion
	return nil
}

func (r *PgRepository) AppendTransaction(ctx context.Context, tx *Transaction) error {
	if tx.ID == uuid.Nil {
		tx.ID = uuid.New()
	}

	query := `
		INSERT INTO stock_transaction (
			id, medicine_id, batch_no, tx_type, delta, stock_before, stock_after,
			reason, ref, recorded_by, occurred_at
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)`

	_, err := r.conn(ctx).Exec(ctx, query,
		tx.ID, tx.MedicineID, tx.BatchNo, tx.Type, tx.Delta, tx.StockBefore,
		tx.StockAfter, tx.Reason, tx.Ref, tx.RecordedBy, tx.OccurredAt,
	)
	if err != nil {
		return fmt.Errorf("append transaction: %w", err)
	}
	return nil
}

func (r *PgRepository) ListTransactions(ctx context.Context, medicineID uuid.UUID, batchNo string, limit, offset int) ([]*Transaction, int, error) {
	countQuery := `SELECT COUNT(*) FROM stock_transaction WHERE medicine_id = $1 AND ($2 = '' OR batch_no = $2)`
	var total int
	if err := r.conn(ctx).QueryRow(ctx, countQuery, medicineID, batchNo).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count transactions: %w", err)
	}

	query := `
		SELECT id, medicine_id, batch_no, tx_type, delta, stock_before, stock_after,
			reason, ref, recorded_by, occurred_at
		FROM stock_transaction
		WHERE medicine_id = $1 AND ($2 = '' OR batch_no = $2)
		ORDER BY occurred_at ASC, id ASC
		LIMIT $3 OFFSET $4`

	rows, err := r.conn(ctx).Query(ctx, query, medicineID, batchNo, limit, offset)
	if err != nil {
		return nil, 0, fmt.Errorf("list transactions: %w", err)
	}
	defer rows.Close()

	var txs []*Transaction
	for rows.Next() {
		var tx Transaction
		err := rows.Scan(
			&tx.ID, &tx.MedicineID, &tx.BatchNo, &tx.Type, &tx.Delta,
			&tx.StockBefore, &tx.StockAfter, &tx.Reason, &tx.Ref,
			&tx.RecordedBy, &tx.OccurredAt,
		)
		if err != nil {
			return nil, 0, fmt.Errorf("scan transaction: %w", err)
		}
		txs = append(txs, &tx)
	}
	return txs, total, rows.Err()
}
