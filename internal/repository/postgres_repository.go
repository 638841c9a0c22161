// Package repository is the Postgres implementation of the ledger stores.
// Every business event runs in one transaction that locks the inventory rows
// it touches, so the stock it checks is the stock it writes.
package repository

import (
	"context"
	"errors"
	"fmt"
	"net"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"kitchenledger/internal/domain"
	"kitchenledger/internal/feed"
)

const (
	channelInventory = "inventory_changed"
	channelRecipes   = "recipes_changed"

	lockTimeout = "5s"
)

// Repository serves subscriptions from in-process feeds. Run Listen alongside
// it to forward database change notifications into those feeds; without it a
// subscriber only receives its initial snapshot.
type Repository struct {
	pool *pgxpool.Pool

	inventoryFeed *feed.Feed
	recipeFeed    *feed.Feed
}

func New(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool, inventoryFeed: feed.New(), recipeFeed: feed.New()}
}

// inTx runs fn in a transaction and classifies whatever error comes out of it.
func (r *Repository) inTx(ctx context.Context, op string, fn func(pgx.Tx) error) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return storeError(op, fmt.Errorf("begin tx: %w", err))
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, "SET LOCAL lock_timeout = '"+lockTimeout+"'"); err != nil {
		return storeError(op, fmt.Errorf("set lock timeout: %w", err))
	}
	if err := fn(tx); err != nil {
		return storeError(op, err)
	}
	if err := tx.Commit(ctx); err != nil {
		return storeError(op, fmt.Errorf("commit: %w", err))
	}
	return nil
}

// storeError maps driver failures onto the domain error taxonomy. Domain
// errors raised inside a transaction pass through untouched.
func storeError(op string, err error) error {
	if err == nil {
		return nil
	}
	if isDomainError(err) {
		return err
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%s: %w", op, err)
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case "40P01", "40001", "55P03":
			return &domain.ConcurrencyConflictError{Op: op, Err: err}
		case "23514":
			if pgErr.ConstraintName == "inventory_items_current_stock_check" {
				return &domain.InsufficientStockError{}
			}
		}
		return fmt.Errorf("%s: %w", op, err)
	}

	if pgconn.SafeToRetry(err) {
		return &domain.TransientStoreError{Op: op, Unsent: true, Err: err}
	}
	var netErr net.Error
	if pgconn.Timeout(err) || errors.As(err, &netErr) {
		return &domain.TransientStoreError{Op: op, Err: err}
	}
	return fmt.Errorf("%s: %w", op, err)
}

func isDomainError(err error) bool {
	return errors.Is(err, domain.ErrNotFound) ||
		errors.Is(err, domain.ErrValidation) ||
		errors.Is(err, domain.ErrInsufficientStock) ||
		errors.Is(err, domain.ErrInvalidRecipe) ||
		errors.Is(err, domain.ErrConcurrencyConflict) ||
		errors.Is(err, domain.ErrTransientStore)
}

// claimKey records key for kind inside tx. When the key is already taken it
// returns the id of the original result and true; a concurrent claimant
// blocks until the first transaction ends.
func claimKey(ctx context.Context, tx pgx.Tx, kind, key, resultID string) (string, bool, error) {
	if key == "" {
		return "", false, nil
	}
	tag, err := tx.Exec(ctx, `
		INSERT INTO idempotency_keys (key, kind, result_id)
		VALUES ($1, $2, $3)
		ON CONFLICT (key) DO NOTHING
	`, key, kind, resultID)
	if err != nil {
		return "", false, fmt.Errorf("claim idempotency key: %w", err)
	}
	if tag.RowsAffected() == 1 {
		return "", false, nil
	}

	var existingKind, existingID string
	if err := tx.QueryRow(ctx,
		"SELECT kind, result_id FROM idempotency_keys WHERE key = $1",
		key,
	).Scan(&existingKind, &existingID); err != nil {
		return "", false, fmt.Errorf("load idempotency key: %w", err)
	}
	if existingKind != kind {
		return "", false, domain.NewValidationError("idempotency_key", "already used for a "+existingKind)
	}
	return existingID, true, nil
}
