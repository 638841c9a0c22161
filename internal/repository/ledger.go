package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"kitchenledger/internal/bom"
	"kitchenledger/internal/domain"
)

const (
	kindPurchase   = "purchase"
	kindWaste      = "waste"
	kindProduction = "production"
	kindSale       = "sale"
)

// lockItem locks one inventory row for the rest of tx.
func lockItem(ctx context.Context, tx pgx.Tx, id string) (domain.InventoryItem, error) {
	item, err := scanInventoryItem(tx.QueryRow(ctx,
		"SELECT "+inventoryColumns+" FROM inventory_items WHERE id = $1 FOR UPDATE", id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.InventoryItem{}, &domain.NotFoundError{Entity: "inventory item", ID: id}
		}
		return domain.InventoryItem{}, fmt.Errorf("lock inventory item: %w", err)
	}
	return item, nil
}

func (r *Repository) RecordPurchase(ctx context.Context, cmd domain.PurchaseCommand) (domain.PurchaseRecord, bool, error) {
	var (
		record   domain.PurchaseRecord
		replayed bool
	)
	err := r.inTx(ctx, "record purchase", func(tx pgx.Tx) error {
		record, replayed = cmd.Record, false

		existingID, ok, err := claimKey(ctx, tx, kindPurchase, cmd.Commit.IdempotencyKey, record.ID)
		if err != nil {
			return err
		}
		if ok {
			replayed = true
			record, err = getPurchase(ctx, tx, existingID)
			return err
		}

		item, err := lockItem(ctx, tx, record.InventoryItemID)
		if err != nil {
			return err
		}
		record.ItemName = item.Name

		if _, err := tx.Exec(ctx, `
			UPDATE inventory_items
			SET
				current_stock = current_stock + $2,
				cost_per_unit = $3,
				updated_at = NOW()
			WHERE id = $1
		`, item.ID, record.Quantity, record.UnitCost); err != nil {
			return fmt.Errorf("add purchased stock: %w", err)
		}

		if _, err := tx.Exec(ctx, `
			INSERT INTO purchase_records (
				id,
				inventory_item_id,
				item_name,
				quantity,
				unit_cost,
				total_cost,
				purchase_date
			) VALUES ($1, $2, $3, $4, $5, $6, $7)
		`,
			record.ID,
			record.InventoryItemID,
			record.ItemName,
			record.Quantity,
			record.UnitCost,
			record.TotalCost,
			record.PurchaseDate,
		); err != nil {
			return fmt.Errorf("insert purchase record: %w", err)
		}
		return nil
	})
	if err != nil {
		return domain.PurchaseRecord{}, false, err
	}
	return record, replayed, nil
}

func (r *Repository) RecordWaste(ctx context.Context, cmd domain.WasteCommand) (domain.WasteEntry, bool, error) {
	var (
		entry    domain.WasteEntry
		replayed bool
	)
	err := r.inTx(ctx, "record waste", func(tx pgx.Tx) error {
		entry, replayed = cmd.Entry, false

		existingID, ok, err := claimKey(ctx, tx, kindWaste, cmd.Commit.IdempotencyKey, entry.ID)
		if err != nil {
			return err
		}
		if ok {
			replayed = true
			entry, err = getWaste(ctx, tx, existingID)
			return err
		}

		item, err := lockItem(ctx, tx, entry.InventoryItemID)
		if err != nil {
			return err
		}
		entry.ItemName = item.Name

		if _, err := tx.Exec(ctx, `
			UPDATE inventory_items
			SET
				current_stock = GREATEST(current_stock - $2, 0),
				updated_at = NOW()
			WHERE id = $1
		`, item.ID, entry.Quantity); err != nil {
			return fmt.Errorf("remove wasted stock: %w", err)
		}

		if _, err := tx.Exec(ctx, `
			INSERT INTO waste_entries (
				id,
				inventory_item_id,
				item_name,
				quantity,
				reason,
				unit_cost,
				total_cost,
				waste_date
			) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		`,
			entry.ID,
			entry.InventoryItemID,
			entry.ItemName,
			entry.Quantity,
			entry.Reason,
			entry.UnitCost,
			entry.TotalCost,
			entry.WasteDate,
		); err != nil {
			return fmt.Errorf("insert waste entry: %w", err)
		}

		return applyDelta(ctx, tx, cmd.Commit.DateKey, cmd.Delta)
	})
	if err != nil {
		return domain.WasteEntry{}, false, err
	}
	return entry, replayed, nil
}

// ExecuteProduction locks the ingredient rows in id order, lets the plan
// decide against them and applies its deductions. The conditional UPDATE is
// a second guard: a deduction that would go below zero aborts the run.
func (r *Repository) ExecuteProduction(ctx context.Context, cmd domain.ProductionCommand) (domain.UsageLog, bool, error) {
	var (
		log      domain.UsageLog
		replayed bool
	)
	err := r.inTx(ctx, "execute production", func(tx pgx.Tx) error {
		replayed = false

		existingID, ok, err := claimKey(ctx, tx, kindProduction, cmd.Commit.IdempotencyKey, cmd.ID)
		if err != nil {
			return err
		}
		if ok {
			replayed = true
			log, err = getUsageLog(ctx, tx, existingID)
			return err
		}

		locked, err := queryInventory(ctx, tx,
			"SELECT "+inventoryColumns+" FROM inventory_items WHERE id = ANY($1) ORDER BY id FOR UPDATE",
			cmd.ItemIDs,
		)
		if err != nil {
			return fmt.Errorf("lock ingredients: %w", err)
		}

		planned, delta, err := cmd.Plan(locked)
		if err != nil {
			return err
		}
		log = planned

		byID := bom.Index(locked)
		for _, line := range bom.Deductions(log.Ingredients) {
			if line.QuantityUsed.IsZero() {
				continue
			}
			tag, err := tx.Exec(ctx, `
				UPDATE inventory_items
				SET
					current_stock = current_stock - $2,
					updated_at = NOW()
				WHERE id = $1 AND current_stock >= $2
			`, line.InventoryItemID, line.QuantityUsed)
			if err != nil {
				return fmt.Errorf("deduct %s: %w", line.InventoryItemID, err)
			}
			if tag.RowsAffected() == 0 {
				return &domain.InsufficientStockError{Shortages: []domain.Shortage{{
					InventoryItemID: line.InventoryItemID,
					Name:            line.Name,
					RequiredQty:     line.QuantityUsed,
					CurrentStock:    byID[line.InventoryItemID].CurrentStock,
				}}}
			}
		}

		if err := insertUsageLog(ctx, tx, log); err != nil {
			return err
		}
		return applyDelta(ctx, tx, cmd.Commit.DateKey, delta)
	})
	if err != nil {
		return domain.UsageLog{}, false, err
	}
	return log, replayed, nil
}

func (r *Repository) RecordSale(ctx context.Context, cmd domain.SaleCommand) (string, bool, error) {
	var (
		saleID   string
		replayed bool
	)
	err := r.inTx(ctx, "record sale", func(tx pgx.Tx) error {
		existingID, ok, err := claimKey(ctx, tx, kindSale, cmd.Commit.IdempotencyKey, cmd.ID)
		if err != nil {
			return err
		}
		if ok {
			saleID, replayed = existingID, true
			return nil
		}
		saleID, replayed = cmd.ID, false
		return applyDelta(ctx, tx, cmd.Commit.DateKey, cmd.Delta)
	})
	if err != nil {
		return "", false, err
	}
	return saleID, replayed, nil
}

func insertUsageLog(ctx context.Context, tx pgx.Tx, log domain.UsageLog) error {
	ingredients := log.Ingredients
	if ingredients == nil {
		ingredients = []domain.IngredientUsage{}
	}
	body, err := json.Marshal(ingredients)
	if err != nil {
		return fmt.Errorf("encode usage ingredients: %w", err)
	}
	if _, err := tx.Exec(ctx, `
		INSERT INTO usage_logs (
			id,
			recipe_id,
			recipe_name,
			target_quantity,
			output_unit,
			multiplier,
			ingredients,
			total_cost,
			logged_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`,
		log.ID,
		log.RecipeID,
		log.RecipeName,
		log.TargetQuantity,
		log.OutputUnit,
		log.Multiplier,
		body,
		log.TotalCost,
		log.Timestamp,
	); err != nil {
		return fmt.Errorf("insert usage log: %w", err)
	}
	return nil
}
