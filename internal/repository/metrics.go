package repository

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"

	"kitchenledger/internal/dailymetrics"
	"kitchenledger/internal/domain"
)

// applyDelta adds delta to the day's record with one upsert per field group.
// Nothing is read back: concurrent deltas for the same day commute.
func applyDelta(ctx context.Context, tx pgx.Tx, dateKey string, delta domain.MetricsDelta) error {
	if delta.IsZero() {
		return nil
	}

	batch := &pgx.Batch{}
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
			total_sales = daily_metrics.total_sales + EXCLUDED.total_sales,
			total_orders = daily_metrics.total_orders + EXCLUDED.total_orders,
			dine_in_tables = daily_metrics.dine_in_tables + EXCLUDED.dine_in_tables,
			total_cogs = daily_metrics.total_cogs + EXCLUDED.total_cogs,
			total_wastage_loss = daily_metrics.total_wastage_loss + EXCLUDED.total_wastage_loss,
			updated_at = NOW()
	`,
		dateKey,
		delta.Sales,
		delta.Orders,
		delta.DineInTables,
		delta.COGS,
		delta.WastageLoss,
	)

	for _, item := range dailymetrics.Items(delta) {
		batch.Queue(`
			INSERT INTO daily_item_sales (date_key, item_key, name, qty, revenue)
			VALUES ($1, $2, $3, $4, $5)
			ON CONFLICT (date_key, item_key) DO UPDATE SET
				name = EXCLUDED.name,
				qty = daily_item_sales.qty + EXCLUDED.qty,
				revenue = daily_item_sales.revenue + EXCLUDED.revenue
		`, dateKey, item.Key, item.Name, item.Qty, item.Revenue)
	}
	for _, item := range delta.Items {
		key := dailymetrics.Sanitize(item.Name)
		if key == "" {
			continue
		}
		batch.Queue(`
			INSERT INTO item_sales_names (item_key, display_name)
			VALUES ($1, $2)
			ON CONFLICT (item_key, display_name) DO NOTHING
		`, key, item.Name)
	}

	return sendBatch(ctx, tx, batch, "apply metrics delta for "+dateKey)
}

func (r *Repository) ApplyDelta(ctx context.Context, dateKey string, delta domain.MetricsDelta) error {
	return r.inTx(ctx, "apply metrics delta", func(tx pgx.Tx) error {
		return applyDelta(ctx, tx, dateKey, delta)
	})
}

// ListDailyMetrics returns the records in [fromKey, toKey] in date order, in
// the nested document shape. Both reads share one snapshot.
func (r *Repository) ListDailyMetrics(ctx context.Context, fromKey, toKey string) ([]domain.MetricsDoc, error) {
	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.RepeatableRead, AccessMode: pgx.ReadOnly})
	if err != nil {
		return nil, storeError("list daily metrics", fmt.Errorf("begin tx: %w", err))
	}
	defer tx.Rollback(ctx)

	rows, err := tx.Query(ctx, `
		SELECT date_key, total_sales, total_orders, dine_in_tables, total_cogs, total_wastage_loss
		FROM daily_metrics
		WHERE ($1::text = '' OR date_key >= $1) AND ($2::text = '' OR date_key <= $2)
		ORDER BY date_key ASC
	`, fromKey, toKey)
	if err != nil {
		return nil, storeError("list daily metrics", err)
	}
	records := make([]*dailymetrics.Record, 0)
	byDate := make(map[string]*dailymetrics.Record)
	for rows.Next() {
		rec := &dailymetrics.Record{ItemSales: make(map[string]dailymetrics.Bucket)}
		if err := rows.Scan(
			&rec.Date,
			&rec.Counters.Sales,
			&rec.Counters.Orders,
			&rec.Counters.DineInTables,
			&rec.Counters.COGS,
			&rec.Counters.WastageLoss,
		); err != nil {
			rows.Close()
			return nil, storeError("list daily metrics", err)
		}
		records = append(records, rec)
		byDate[rec.Date] = rec
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, storeError("list daily metrics", err)
	}

	itemRows, err := tx.Query(ctx, `
		SELECT date_key, item_key, name, qty, revenue
		FROM daily_item_sales
		WHERE ($1::text = '' OR date_key >= $1) AND ($2::text = '' OR date_key <= $2)
	`, fromKey, toKey)
	if err != nil {
		return nil, storeError("list daily item sales", err)
	}
	defer itemRows.Close()
	for itemRows.Next() {
		var (
			dateKey, itemKey string
			bucket           dailymetrics.Bucket
		)
		if err := itemRows.Scan(&dateKey, &itemKey, &bucket.Name, &bucket.Qty, &bucket.Revenue); err != nil {
			return nil, storeError("list daily item sales", err)
		}
		if rec, ok := byDate[dateKey]; ok {
			rec.ItemSales[itemKey] = bucket
		}
	}
	if err := itemRows.Err(); err != nil {
		return nil, storeError("list daily item sales", err)
	}

	docs := make([]domain.MetricsDoc, 0, len(records))
	for _, rec := range records {
		docs = append(docs, rec.Doc())
	}
	return docs, nil
}

func (r *Repository) ItemKeyIndex(ctx context.Context) ([]domain.ItemKeyNames, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT item_key, display_name
		FROM item_sales_names
		ORDER BY item_key ASC, display_name ASC
	`)
	if err != nil {
		return nil, storeError("load item key index", err)
	}
	defer rows.Close()

	out := make([]domain.ItemKeyNames, 0)
	for rows.Next() {
		var key, name string
		if err := rows.Scan(&key, &name); err != nil {
			return nil, storeError("load item key index", err)
		}
		if n := len(out); n > 0 && out[n-1].Key == key {
			out[n-1].Names = append(out[n-1].Names, name)
			continue
		}
		out = append(out, domain.ItemKeyNames{Key: key, Names: []string{name}})
	}
	if err := rows.Err(); err != nil {
		return nil, storeError("load item key index", err)
	}
	return out, nil
}
