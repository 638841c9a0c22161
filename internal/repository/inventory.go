package repository

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"

	"kitchenledger/internal/domain"
)

const inventoryColumns = `
	id,
	name,
	unit,
	current_stock,
	cost_per_unit,
	reorder_level,
	category,
	created_at,
	updated_at
`

type querier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

func scanInventoryItem(row pgx.Row) (domain.InventoryItem, error) {
	var item domain.InventoryItem
	err := row.Scan(
		&item.ID,
		&item.Name,
		&item.Unit,
		&item.CurrentStock,
		&item.CostPerUnit,
		&item.ReorderLevel,
		&item.Category,
		&item.CreatedAt,
		&item.UpdatedAt,
	)
	return item, err
}

func queryInventory(ctx context.Context, q querier, sql string, args ...any) ([]domain.InventoryItem, error) {
	rows, err := q.Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("query inventory: %w", err)
	}
	defer rows.Close()

	items := make([]domain.InventoryItem, 0)
	for rows.Next() {
		item, err := scanInventoryItem(rows)
		if err != nil {
			return nil, fmt.Errorf("scan inventory item: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate inventory: %w", err)
	}
	return items, nil
}

func (r *Repository) ListInventory(ctx context.Context) ([]domain.InventoryItem, error) {
	items, err := queryInventory(ctx, r.pool,
		"SELECT "+inventoryColumns+" FROM inventory_items ORDER BY category ASC, name ASC, id ASC")
	if err != nil {
		return nil, storeError("list inventory", err)
	}
	return items, nil
}

func (r *Repository) GetInventoryItem(ctx context.Context, id string) (*domain.InventoryItem, error) {
	item, err := scanInventoryItem(r.pool.QueryRow(ctx,
		"SELECT "+inventoryColumns+" FROM inventory_items WHERE id = $1", id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, &domain.NotFoundError{Entity: "inventory item", ID: id}
		}
		return nil, storeError("get inventory item", err)
	}
	return &item, nil
}

func (r *Repository) CreateInventoryItem(ctx context.Context, item domain.InventoryItem) (domain.InventoryItem, error) {
	created, err := scanInventoryItem(r.pool.QueryRow(ctx, `
		INSERT INTO inventory_items (
			id,
			name,
			unit,
			current_stock,
			cost_per_unit,
			reorder_level,
			category
		) VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING `+inventoryColumns,
		item.ID,
		item.Name,
		item.Unit,
		item.CurrentStock,
		item.CostPerUnit,
		item.ReorderLevel,
		item.Category,
	))
	if err != nil {
		return domain.InventoryItem{}, storeError("create inventory item", err)
	}
	return created, nil
}

func (r *Repository) UpdateInventoryItem(ctx context.Context, id string, patch domain.InventoryItemPatch) (*domain.InventoryItem, error) {
	item, err := scanInventoryItem(r.pool.QueryRow(ctx, `
		UPDATE inventory_items
		SET
			name = COALESCE($2, name),
			unit = COALESCE($3, unit),
			cost_per_unit = COALESCE($4::numeric, cost_per_unit),
			reorder_level = COALESCE($5::numeric, reorder_level),
			category = COALESCE($6, category),
			updated_at = NOW()
		WHERE id = $1
		RETURNING `+inventoryColumns,
		id,
		patch.Name,
		patch.Unit,
		patch.CostPerUnit,
		patch.ReorderLevel,
		patch.Category,
	))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, &domain.NotFoundError{Entity: "inventory item", ID: id}
		}
		return nil, storeError("update inventory item", err)
	}
	return &item, nil
}

func (r *Repository) DeleteInventoryItem(ctx context.Context, id string) error {
	tag, err := r.pool.Exec(ctx, "DELETE FROM inventory_items WHERE id = $1", id)
	if err != nil {
		return storeError("delete inventory item", err)
	}
	if tag.RowsAffected() == 0 {
		return &domain.NotFoundError{Entity: "inventory item", ID: id}
	}
	return nil
}

// UpsertInventoryItems matches rows to existing items by case-insensitive
// name and overwrites them; unmatched rows are inserted.
func (r *Repository) UpsertInventoryItems(ctx context.Context, items []domain.InventoryItem) (int, int, error) {
	if len(items) == 0 {
		return 0, 0, nil
	}
	created, updated := 0, 0
	err := r.inTx(ctx, "import inventory", func(tx pgx.Tx) error {
		created, updated = 0, 0
		for _, item := range items {
			name := strings.TrimSpace(item.Name)
			var existingID string
			err := tx.QueryRow(ctx,
				"SELECT id FROM inventory_items WHERE LOWER(name) = LOWER($1) ORDER BY id LIMIT 1 FOR UPDATE",
				name,
			).Scan(&existingID)
			if err != nil && !errors.Is(err, pgx.ErrNoRows) {
				return fmt.Errorf("query existing item %q: %w", name, err)
			}

			if errors.Is(err, pgx.ErrNoRows) {
				if _, err := tx.Exec(ctx, `
					INSERT INTO inventory_items (
						id,
						name,
						unit,
						current_stock,
						cost_per_unit,
						reorder_level,
						category
					) VALUES ($1, $2, $3, $4, $5, $6, $7)
				`,
					item.ID,
					name,
					item.Unit,
					item.CurrentStock,
					item.CostPerUnit,
					item.ReorderLevel,
					item.Category,
				); err != nil {
					return fmt.Errorf("insert imported item %q: %w", name, err)
				}
				created++
				continue
			}

			if _, err := tx.Exec(ctx, `
				UPDATE inventory_items
				SET
					name = $2,
					unit = $3,
					current_stock = $4,
					cost_per_unit = $5,
					reorder_level = $6,
					category = $7,
					updated_at = NOW()
				WHERE id = $1
			`,
				existingID,
				name,
				item.Unit,
				item.CurrentStock,
				item.CostPerUnit,
				item.ReorderLevel,
				item.Category,
			); err != nil {
				return fmt.Errorf("update imported item %q: %w", name, err)
			}
			updated++
		}
		return nil
	})
	if err != nil {
		return 0, 0, err
	}
	return created, updated, nil
}

func (r *Repository) SubscribeInventory(ctx context.Context, onChange func([]domain.InventoryItem)) error {
	return r.inventoryFeed.Run(ctx, func(ctx context.Context) error {
		items, err := r.ListInventory(ctx)
		if err != nil {
			return err
		}
		onChange(items)
		return nil
	})
}
