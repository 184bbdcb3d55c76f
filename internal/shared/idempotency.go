package shared

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

// IdempotencyStore persists client supplied request keys so retried
// submissions are detected across instances. Claims are scoped per
// operation; the same key may be reused under different scopes.
type IdempotencyStore struct {
	pool *pgxpool.Pool
}

// NewIdempotencyStore constructs a store.
func NewIdempotencyStore(pool *pgxpool.Pool) *IdempotencyStore {
	return &IdempotencyStore{pool: pool}
}

// Claim records the key and reports whether this caller won it. A false
// return means an earlier request already claimed the key.
func (s *IdempotencyStore) Claim(ctx context.Context, scope, key string) (bool, error) {
	tag, err := s.pool.Exec(ctx, `
		INSERT INTO idempotency_keys (scope, key, created_at)
		VALUES ($1, $2, NOW())
		ON CONFLICT (scope, key) DO NOTHING`, scope, key)
	if err != nil {
		return false, fmt.Errorf("shared: claim idempotency key: %v: %w", err, ErrPersistence)
	}
	return tag.RowsAffected() == 1, nil
}

// Release frees a claimed key so the request may be retried, used when the
// guarded operation failed.
func (s *IdempotencyStore) Release(ctx context.Context, scope, key string) error {
	if _, err := s.pool.Exec(ctx,
		`DELETE FROM idempotency_keys WHERE scope = $1 AND key = $2`, scope, key); err != nil {
		return fmt.Errorf("shared: release idempotency key: %v: %w", err, ErrPersistence)
	}
	return nil
}
