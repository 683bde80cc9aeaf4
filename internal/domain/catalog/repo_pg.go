package catalog

import (
	"context"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/pharmd/pharmd/internal/platform/db"
)

type queryable interface {
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row
	Exec(ctx context.Context, sql string, args ...interface{}) (pgconn.CommandTag, error)
}

type medicineRepoPG struct{ pool *pgxpool.Pool }

func NewMedicineRepoPG(pool *pgxpool.Pool) MedicineRepository {
	return &medicineRepoPG{pool: pool}
}

func (r *medicineRepoPG) conn(ctx context.Context) queryable {
	if tx := db.TxFromContext(ctx); tx != nil {
		return tx
	}
	return r.pool
}

const medicineCols = `id, code, name, generic_name, unit, manufacturer, status,
	min_stock, max_stock, safety_stock,
	requires_prescription, is_controlled, is_special,
	description, created_at, updated_at`

func (r *medicineRepoPG) scan(row pgx.Row) (*Medicine, error) {
	var m Medicine
	err := row.Scan(&m.ID, &m.Code, &m.Name, &m.GenericName, &m.Unit, &m.Manufacturer, &m.Status,
		&m.MinStock, &m.MaxStock, &m.SafetyStock,
		&m.RequiresPrescription, &m.IsControlled, &m.IsSpecial,
		&m.Description, &m.CreatedAt, &m.UpdatedAt)
	return &m, err
}

func (r *medicineRepoPG) Create(ctx context.Context, m *Medicine) error {
	m.ID = uuid.New()
	_, err := r.conn(ctx).Exec(ctx, `
		INSERT INTO medicine (id, code, name, generic_name, unit, manufacturer, status,
			min_stock, max_stock, safety_stock,
			requires_prescription, is_controlled, is_special, description)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14)`,
		m.ID, m.Code, m.Name, m.GenericName, m.Unit, m.Manufacturer, m.Status,
		m.MinStock, m.MaxStock, m.SafetyStock,
		m.RequiresPrescription, m.IsControlled, m.IsSpecial, m.Description)
	return err
}

func (r *medicineRepoPG) GetByID(ctx context.Context, id uuid.UUID) (*Medicine, error) {
	return r.scan(r.conn(ctx).QueryRow(ctx, `SELECT `+medicineCols+` FROM medicine WHERE id = $1`, id))
}

func (r *medicineRepoPG) GetByCode(ctx context.Context, code string) (*Medicine, error) {
	return r.scan(r.conn(ctx).QueryRow(ctx, `SELECT `+medicineCols+` FROM medicine WHERE code = $1`, code))
}

func (r *medicineRepoPG) Update(ctx context.Context, m *Medicine) error {
	_, err := r.conn(ctx).Exec(ctx, `
		UPDATE medicine SET name=$2, generic_name=$3, unit=$4, manufacturer=$5, status=$6,
			min_stock=$7, max_stock=$8, safety_stock=$9,
			requires_prescription=$10, is_controlled=$11, is_special=$12,
			description=$13, updated_at=NOW()
		WHERE id = $1`,
		m.ID, m.Name, m.GenericName, m.Unit, m.Manufacturer, m.Status,
		m.MinStock, m.MaxStock, m.SafetyStock,
		m.RequiresPrescription, m.IsControlled, m.IsSpecial,
		m.Description)
	return err
}

func (r *medicineRepoPG) List(ctx context.Context, limit, offset int) ([]*Medicine, int, error) {
	var total int
	if err := r.conn(ctx).QueryRow(ctx, `SELECT COUNT(*) FROM medicine`).Scan(&total); err != nil {
		return nil, 0, err
	}

	rows, err := r.conn(ctx).Query(ctx,
		`SELECT `+medicineCols+` FROM medicine ORDER BY code LIMIT $1 OFFSET $2`, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var result []*Medicine
	for rows.Next() {
		m, err := r.scan(rows)
		if err != nil {
			return nil, 0, err
		}
		result = append(result, m)
	}
	return result, total, rows.Err()
}

func (r *medicineRepoPG) Search(ctx context.Context, name string, limit, offset int) ([]*Medicine, int, error) {
	pattern := "%" + name + "%"

	var total int
	if err := r.conn(ctx).QueryRow(ctx,
		`SELECT COUNT(*) FROM medicine WHERE name ILIKE $1 OR generic_name ILIKE $1`, pattern).Scan(&total); err != nil {
		return nil, 0, err
	}

	rows, err := r.conn(ctx).Query(ctx,
		`SELECT `+medicineCols+` FROM medicine WHERE name ILIKE $1 OR generic_name ILIKE $1
		 ORDER BY code LIMIT $2 OFFSET $3`, pattern, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var result []*Medicine
	for rows.Next() {
		m, err := r.scan(rows)
		if err != nil {
			return nil, 0, err
		}
		result = append(result, m)
	}
	return result, total, rows.Err()
}
