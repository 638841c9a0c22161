package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"

	"kitchenledger/internal/domain"
)

const purchaseColumns = `
	id,
	inventory_item_id,
	item_name,
	quantity,
	unit_cost,
	total_cost,
	purchase_date
`

const wasteColumns = `
	id,
	inventory_item_id,
	item_name,
	quantity,
	reason,
	unit_cost,
	total_cost,
	waste_date
`

const usageColumns = `
	id,
	recipe_id,
	recipe_name,
	target_quantity,
	output_unit,
	multiplier,
	ingredients,
	total_cost,
	logged_at
`

func scanPurchase(row pgx.Row) (domain.PurchaseRecord, error) {
	var p domain.PurchaseRecord
	err := row.Scan(&p.ID, &p.InventoryItemID, &p.ItemName, &p.Quantity, &p.UnitCost, &p.TotalCost, &p.PurchaseDate)
	return p, err
}

func scanWaste(row pgx.Row) (domain.WasteEntry, error) {
	var w domain.WasteEntry
	err := row.Scan(&w.ID, &w.InventoryItemID, &w.ItemName, &w.Quantity, &w.Reason, &w.UnitCost, &w.TotalCost, &w.WasteDate)
	return w, err
}

func scanUsageLog(row pgx.Row) (domain.UsageLog, error) {
	var (
		u           domain.UsageLog
		ingredients []byte
	)
	if err := row.Scan(
		&u.ID,
		&u.RecipeID,
		&u.RecipeName,
		&u.TargetQuantity,
		&u.OutputUnit,
		&u.Multiplier,
		&ingredients,
		&u.TotalCost,
		&u.Timestamp,
	); err != nil {
		return domain.UsageLog{}, err
	}
	u.Ingredients = make([]domain.IngredientUsage, 0)
	if len(ingredients) > 0 {
		if err := json.Unmarshal(ingredients, &u.Ingredients); err != nil {
			return domain.UsageLog{}, fmt.Errorf("decode ingredients of usage log %s: %w", u.ID, err)
		}
	}
	return u, nil
}

func getPurchase(ctx context.Context, q querier, id string) (domain.PurchaseRecord, error) {
	p, err := scanPurchase(q.QueryRow(ctx, "SELECT "+purchaseColumns+" FROM purchase_records WHERE id = $1", id))
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.PurchaseRecord{}, &domain.NotFoundError{Entity: "purchase record", ID: id}
	}
	return p, err
}

func getWaste(ctx context.Context, q querier, id string) (domain.WasteEntry, error) {
	w, err := scanWaste(q.QueryRow(ctx, "SELECT "+wasteColumns+" FROM waste_entries WHERE id = $1", id))
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.WasteEntry{}, &domain.NotFoundError{Entity: "waste entry", ID: id}
	}
	return w, err
}

func getUsageLog(ctx context.Context, q querier, id string) (domain.UsageLog, error) {
	u, err := scanUsageLog(q.QueryRow(ctx, "SELECT "+usageColumns+" FROM usage_logs WHERE id = $1", id))
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.UsageLog{}, &domain.NotFoundError{Entity: "usage log", ID: id}
	}
	return u, err
}

// eventFilter renders the WHERE/ORDER/LIMIT tail of an event query.
// itemClause receives the placeholder for the inventory item id.
func eventFilter(q domain.EventQuery, timeColumn string, itemClause func(placeholder string) string) (string, []any) {
	clauses := make([]string, 0, 4)
	args := make([]any, 0, 4)
	next := func(v any) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}

	if q.InventoryItemID != "" {
		clauses = append(clauses, itemClause(next(q.InventoryItemID)))
	}
	if q.RecipeID != "" && timeColumn == "logged_at" {
		clauses = append(clauses, "recipe_id = "+next(q.RecipeID))
	}
	if q.From != nil {
		clauses = append(clauses, timeColumn+" >= "+next(*q.From))
	}
	if q.To != nil {
		clauses = append(clauses, timeColumn+" <= "+next(*q.To))
	}

	var b strings.Builder
	if len(clauses) > 0 {
		b.WriteString(" WHERE ")
		b.WriteString(strings.Join(clauses, " AND "))
	}
	direction := "ASC"
	if q.Order == domain.OrderDesc {
		direction = "DESC"
	}
	fmt.Fprintf(&b, " ORDER BY %s %s, id ASC", timeColumn, direction)
	if q.Limit > 0 {
		b.WriteString(" LIMIT " + next(q.Limit))
	}
	return b.String(), args
}

func byItemColumn(placeholder string) string {
	return "inventory_item_id = " + placeholder
}

func byUsedItem(placeholder string) string {
	return "ingredients @> jsonb_build_array(jsonb_build_object('inventory_item_id', " + placeholder + "::text))"
}

func (r *Repository) ListPurchases(ctx context.Context, q domain.EventQuery) ([]domain.PurchaseRecord, error) {
	tail, args := eventFilter(q, "purchase_date", byItemColumn)
	rows, err := r.pool.Query(ctx, "SELECT "+purchaseColumns+" FROM purchase_records"+tail, args...)
	if err != nil {
		return nil, storeError("list purchases", err)
	}
	defer rows.Close()

	out := make([]domain.PurchaseRecord, 0)
	for rows.Next() {
		p, err := scanPurchase(rows)
		if err != nil {
			return nil, storeError("list purchases", err)
		}
		out = append(out, p)
	}
	if err := rows.Err(); err != nil {
		return nil, storeError("list purchases", err)
	}
	return out, nil
}

func (r *Repository) ListWaste(ctx context.Context, q domain.EventQuery) ([]domain.WasteEntry, error) {
	tail, args := eventFilter(q, "waste_date", byItemColumn)
	rows, err := r.pool.Query(ctx, "SELECT "+wasteColumns+" FROM waste_entries"+tail, args...)
	if err != nil {
		return nil, storeError("list waste", err)
	}
	defer rows.Close()

	out := make([]domain.WasteEntry, 0)
	for rows.Next() {
		w, err := scanWaste(rows)
		if err != nil {
			return nil, storeError("list waste", err)
		}
		out = append(out, w)
	}
	if err := rows.Err(); err != nil {
		return nil, storeError("list waste", err)
	}
	return out, nil
}

func (r *Repository) ListUsageLogs(ctx context.Context, q domain.EventQuery) ([]domain.UsageLog, error) {
	tail, args := eventFilter(q, "logged_at", byUsedItem)
	rows, err := r.pool.Query(ctx, "SELECT "+usageColumns+" FROM usage_logs"+tail, args...)
	if err != nil {
		return nil, storeError("list usage logs", err)
	}
	defer rows.Close()

	out := make([]domain.UsageLog, 0)
	for rows.Next() {
		u, err := scanUsageLog(rows)
		if err != nil {
			return nil, storeError("list usage logs", err)
		}
		out = append(out, u)
	}
	if err := rows.Err(); err != nil {
		return nil, storeError("list usage logs", err)
	}
	return out, nil
}
