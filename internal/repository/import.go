package repository

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5"

	"kitchenledger/internal/dailymetrics"
	"kitchenledger/internal/domain"
)

// Snapshot is a complete ledger loaded from outside the service.
type Snapshot struct {
	Inventory []domain.InventoryItem
	Recipes   []domain.Recipe
	Purchases []domain.PurchaseRecord
	Waste     []domain.WasteEntry
	UsageLogs []domain.UsageLog
	Metrics   []dailymetrics.Record
}

// ImportSnapshot loads snap in one transaction. Inventory, recipes and daily
// metrics are upserted by id or date; event rows are bulk copied and must not
// exist yet unless replace truncates everything first.
func (r *Repository) ImportSnapshot(ctx context.Context, snap Snapshot, replace bool) error {
	return r.inTx(ctx, "import snapshot", func(tx pgx.Tx) error {
		if replace {
			if _, err := tx.Exec(ctx, `
				TRUNCATE TABLE
					inventory_items,
					recipes,
					purchase_records,
					waste_entries,
					usage_logs,
					daily_metrics,
					daily_item_sales,
					item_sales_names,
					idempotency_keys
			`); err != nil {
				return fmt.Errorf("truncate tables: %w", err)
			}
		}

		steps := []func(context.Context, pgx.Tx, Snapshot) error{
			importInventory,
			importRecipes,
			importPurchases,
			importWaste,
			importUsageLogs,
			importMetrics,
		}
		for _, step := range steps {
			if err := step(ctx, tx, snap); err != nil {
				return err
			}
		}
		return nil
	})
}

func importInventory(ctx context.Context, tx pgx.Tx, snap Snapshot) error {
	batch := &pgx.Batch{}
	for _, item := range snap.Inventory {
		batch.Queue(`
			INSERT INTO inventory_items (
				id,
				name,
				unit,
				current_stock,
				cost_per_unit,
				reorder_level,
				category,
				created_at,
				updated_at
			) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
			ON CONFLICT (id) DO UPDATE SET
				name = EXCLUDED.name,
				unit = EXCLUDED.unit,
				current_stock = EXCLUDED.current_stock,
				cost_per_unit = EXCLUDED.cost_per_unit,
				reorder_level = EXCLUDED.reorder_level,
				category = EXCLUDED.category,
				updated_at = EXCLUDED.updated_at
		`,
			item.ID,
			item.Name,
			item.Unit,
			item.CurrentStock,
			item.CostPerUnit,
			item.ReorderLevel,
			item.Category,
			item.CreatedAt,
			item.UpdatedAt,
		)
	}
	return sendBatch(ctx, tx, batch, "import inventory")
}

func importRecipes(ctx context.Context, tx pgx.Tx, snap Snapshot) error {
	batch := &pgx.Batch{}
	for _, recipe := range snap.Recipes {
		ingredients, err := encodeIngredients(recipe.Ingredients)
		if err != nil {
			return err
		}
		batch.Queue(`
			INSERT INTO recipes (
				id,
				name,
				output_quantity,
				output_unit,
				ingredients,
				linked_menu_item_id,
				created_at,
				updated_at
			) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
			ON CONFLICT (id) DO UPDATE SET
				name = EXCLUDED.name,
				output_quantity = EXCLUDED.output_quantity,
				output_unit = EXCLUDED.output_unit,
				ingredients = EXCLUDED.ingredients,
				linked_menu_item_id = EXCLUDED.linked_menu_item_id,
				updated_at = EXCLUDED.updated_at
		`,
			recipe.ID,
			recipe.Name,
			recipe.OutputQuantity,
			recipe.OutputUnit,
			ingredients,
			recipe.LinkedMenuItemID,
			recipe.CreatedAt,
			recipe.UpdatedAt,
		)
	}
	return sendBatch(ctx, tx, batch, "import recipes")
}

func importPurchases(ctx context.Context, tx pgx.Tx, snap Snapshot) error {
	_, err := tx.CopyFrom(ctx,
		pgx.Identifier{"purchase_records"},
		[]string{"id", "inventory_item_id", "item_name", "quantity", "unit_cost", "total_cost", "purchase_date"},
		pgx.CopyFromSlice(len(snap.Purchases), func(i int) ([]any, error) {
			p := snap.Purchases[i]
			return []any{p.ID, p.InventoryItemID, p.ItemName, p.Quantity, p.UnitCost, p.TotalCost, p.PurchaseDate}, nil
		}),
	)
	if err != nil {
		return fmt.Errorf("copy purchase records: %w", err)
	}
	return nil
}

func importWaste(ctx context.Context, tx pgx.Tx, snap Snapshot) error {
	_, err := tx.CopyFrom(ctx,
		pgx.Identifier{"waste_entries"},
		[]string{"id", "inventory_item_id", "item_name", "quantity", "reason", "unit_cost", "total_cost", "waste_date"},
		pgx.CopyFromSlice(len(snap.Waste), func(i int) ([]any, error) {
			w := snap.Waste[i]
			return []any{w.ID, w.InventoryItemID, w.ItemName, w.Quantity, w.Reason, w.UnitCost, w.TotalCost, w.WasteDate}, nil
		}),
	)
	if err != nil {
		return fmt.Errorf("copy waste entries: %w", err)
	}
	return nil
}

func importUsageLogs(ctx context.Context, tx pgx.Tx, snap Snapshot) error {
	_, err := tx.CopyFrom(ctx,
		pgx.Identifier{"usage_logs"},
		[]string{"id", "recipe_id", "recipe_name", "target_quantity", "output_unit", "multiplier", "ingredients", "total_cost", "logged_at"},
		pgx.CopyFromSlice(len(snap.UsageLogs), func(i int) ([]any, error) {
			u := snap.UsageLogs[i]
			ingredients := u.Ingredients
			if ingredients == nil {
				ingredients = []domain.IngredientUsage{}
			}
			body, err := json.Marshal(ingredients)
			if err != nil {
				return nil, fmt.Errorf("encode ingredients of usage log %s: %w", u.ID, err)
			}
			return []any{u.ID, u.RecipeID, u.RecipeName, u.TargetQuantity, u.OutputUnit, u.Multiplier, string(body), u.TotalCost, u.Timestamp}, nil
		}),
	)
	if err != nil {
		return fmt.Errorf("copy usage logs: %w", err)
	}
	return nil
}

// importMetrics overwrites whole day records; the legacy totals are already
// final.
func importMetrics(ctx context.Context, tx pgx.Tx, snap Snapshot) error {
	batch := &pgx.Batch{}
	for _, rec := range snap.Metrics {
		batch.Queue(`
			INSERT INTO daily_metrics (
				date_key,
				total_sales,
				total_orders,
				dine_in_tables,
				total_cogs,
				total_wastage_loss
			) VALUES ($1, $2, $3, $4, $5, $6)
			ON CONFLICT (date_key) DO UPDATE SET
				total_sales = EXCLUDED.total_sales,
				total_orders = EXCLUDED.total_orders,
				dine_in_tables = EXCLUDED.dine_in_tables,
				total_cogs = EXCLUDED.total_cogs,
				total_wastage_loss = EXCLUDED.total_wastage_loss,
				updated_at = NOW()
		`,
			rec.Date,
			rec.Counters.Sales,
			rec.Counters.Orders,
			rec.Counters.DineInTables,
			rec.Counters.COGS,
			rec.Counters.WastageLoss,
		)
		batch.Queue("DELETE FROM daily_item_sales WHERE date_key = $1", rec.Date)
		for key, bucket := range rec.ItemSales {
			batch.Queue(`
				INSERT INTO daily_item_sales (date_key, item_key, name, qty, revenue)
				VALUES ($1, $2, $3, $4, $5)
			`, rec.Date, key, bucket.Name, bucket.Qty, bucket.Revenue)
			if bucket.Name != "" {
				batch.Queue(`
					INSERT INTO item_sales_names (item_key, display_name)
					VALUES ($1, $2)
					ON CONFLICT (item_key, display_name) DO NOTHING
				`, key, bucket.Name)
			}
		}
	}
	return sendBatch(ctx, tx, batch, "import daily metrics")
}

func sendBatch(ctx context.Context, tx pgx.Tx, batch *pgx.Batch, op string) error {
	if batch.Len() == 0 {
		return nil
	}
	results := tx.SendBatch(ctx, batch)
	for i := 0; i < batch.Len(); i++ {
		if _, err := results.Exec(); err != nil {
			_ = results.Close()
			return fmt.Errorf("%s: statement %d: %w", op, i+1, err)
		}
	}
	if err := results.Close(); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}
