package taxes

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/defter-erp/defter/internal/shared"
)

// Repository defines persistence for tax rules.
type Repository interface {
	List(ctx context.Context, activeOnly bool) ([]Tax, error)
	Get(ctx context.Context, id int64) (Tax, error)
	Create(ctx context.Context, tax Tax) (Tax, error)
	Update(ctx context.Context, id int64, tax Tax) error
	SetActive(ctx context.Context, id int64, active bool) error
}

type repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a PostgreSQL backed repository.
func NewRepository(pool *pgxpool.Pool) Repository {
	return &repository{pool: pool}
}

// ErrDuplicateCode indicates a tax code already exists.
var ErrDuplicateCode = errors.New("taxes: duplicate code")

func (r *repository) List(ctx context.Context, activeOnly bool) ([]Tax, error) {
	query := `SELECT id, code, name, rate_percent, active FROM taxes`
	if activeOnly {
		query += ` WHERE active`
	}
	query += ` ORDER BY code`

	rows, err := r.pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("taxes: list: %v: %w", err, shared.ErrPersistence)
	}
	defer rows.Close()

	var out []Tax
	for rows.Next() {
		var t Tax
		if err := rows.Scan(&t.ID, &t.Code, &t.Name, &t.RatePercent, &t.Active); err != nil {
			return nil, fmt.Errorf("taxes: scan: %v: %w", err, shared.ErrPersistence)
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

func (r *repository) Get(ctx context.Context, id int64) (Tax, error) {
	var t Tax
	err := r.pool.QueryRow(ctx,
		`SELECT id, code, name, rate_percent, active FROM taxes WHERE id = $1`, id,
	).Scan(&t.ID, &t.Code, &t.Name, &t.RatePercent, &t.Active)
	if errors.Is(err, pgx.ErrNoRows) {
		return Tax{}, shared.ErrNotFound
	}
	if err != nil {
		return Tax{}, fmt.Errorf("taxes: get %d: %v: %w", id, err, shared.ErrPersistence)
	}
	return t, nil
}

func (r *repository) Create(ctx context.Context, tax Tax) (Tax, error) {
	err := r.pool.QueryRow(ctx,
		`INSERT INTO taxes (code, name, rate_percent, active) VALUES ($1, $2, $3, $4) RETURNING id`,
		tax.Code, tax.Name, tax.RatePercent, tax.Active,
	).Scan(&tax.ID)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return Tax{}, ErrDuplicateCode
		}
		return Tax{}, fmt.Errorf("taxes: create: %v: %w", err, shared.ErrPersistence)
	}
	return tax, nil
}

func (r *repository) Update(ctx context.Context, id int64, tax Tax) error {
	tag, err := r.pool.Exec(ctx,
		`UPDATE taxes SET code = $1, name = $2, rate_percent = $3 WHERE id = $4`,
		tax.Code, tax.Name, tax.RatePercent, id,
	)
	if err != nil {
		return fmt.Errorf("taxes: update %d: %v: %w", id, err, shared.ErrPersistence)
	}
	if tag.RowsAffected() == 0 {
		return shared.ErrNotFound
	}
	return nil
}

func (r *repository) SetActive(ctx context.Context, id int64, active bool) error {
	tag, err := r.pool.Exec(ctx, `UPDATE taxes SET active = $1 WHERE id = $2`, active, id)
	if err != nil {
		return fmt.Errorf("taxes: set active %d: %v: %w", id, err, shared.ErrPersistence)
	}
	if tag.RowsAffected() == 0 {
		return shared.ErrNotFound
	}
	return nil
}
