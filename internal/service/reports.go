package service

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	"kitchenledger/internal/analytics"
	"kitchenledger/internal/dailymetrics"
	"kitchenledger/internal/domain"
	"kitchenledger/internal/logger"
)

type eventSet struct {
	purchases []domain.PurchaseRecord
	usages    []domain.UsageLog
	wastes    []domain.WasteEntry
}

// loadEvents reads the three event collections concurrently. Limits apply to
// the merged result, not to each collection.
func (s *Service) loadEvents(ctx context.Context, q domain.EventQuery) (eventSet, error) {
	q.Limit = 0
	var set eventSet
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		set.purchases, err = s.store.ListPurchases(gctx, q)
		return err
	})
	g.Go(func() error {
		var err error
		set.usages, err = s.store.ListUsageLogs(gctx, q)
		return err
	})
	g.Go(func() error {
		var err error
		set.wastes, err = s.store.ListWaste(gctx, q)
		return err
	})
	if err := g.Wait(); err != nil {
		return eventSet{}, fmt.Errorf("load ledger events: %w", err)
	}
	return set, nil
}

func (s *Service) ListPurchases(ctx context.Context, q domain.EventQuery) ([]domain.PurchaseRecord, error) {
	return s.store.ListPurchases(ctx, q)
}

func (s *Service) ListWaste(ctx context.Context, q domain.EventQuery) ([]domain.WasteEntry, error) {
	return s.store.ListWaste(ctx, q)
}

func (s *Service) ListUsageLogs(ctx context.Context, q domain.EventQuery) ([]domain.UsageLog, error) {
	return s.store.ListUsageLogs(ctx, q)
}

// Ledger is the unified timeline of purchases, production runs and waste,
// newest first.
func (s *Service) Ledger(ctx context.Context, q domain.EventQuery) ([]domain.LedgerEvent, error) {
	ctx, span := tracer.Start(ctx, "service.Ledger")
	defer span.End()

	return cached(ctx, s, "ledger:"+queryKey(q), func(ctx context.Context) ([]domain.LedgerEvent, error) {
		set, err := s.loadEvents(ctx, q)
		if err != nil {
			return nil, err
		}
		ledger := analytics.BuildLedger(set.purchases, set.usages, set.wastes)
		if q.Limit > 0 && len(ledger) > q.Limit {
			ledger = ledger[:q.Limit]
		}
		return ledger, nil
	})
}

func (s *Service) CategoryBreakdown(ctx context.Context, q domain.EventQuery) ([]domain.CategoryBreakdown, error) {
	ctx, span := tracer.Start(ctx, "service.CategoryBreakdown")
	defer span.End()

	return cached(ctx, s, "categories:"+queryKey(q), func(ctx context.Context) ([]domain.CategoryBreakdown, error) {
		var (
			set       eventSet
			inventory []domain.InventoryItem
		)
		g, gctx := errgroup.WithContext(ctx)
		g.Go(func() error {
			var err error
			set, err = s.loadEvents(gctx, q)
			return err
		})
		g.Go(func() error {
			var err error
			inventory, err = s.store.ListInventory(gctx)
			return err
		})
		if err := g.Wait(); err != nil {
			return nil, err
		}
		return analytics.BuildCategoricalBreakdown(set.purchases, set.usages, set.wastes, inventory), nil
	})
}

// ItemSales totals the per-item sales buckets over [fromKey, toKey]. Empty
// bounds are open.
func (s *Service) ItemSales(ctx context.Context, fromKey, toKey string) ([]domain.ItemSalesTotal, error) {
	ctx, span := tracer.Start(ctx, "service.ItemSales")
	defer span.End()

	if err := validateRange(fromKey, toKey); err != nil {
		return nil, err
	}
	return cached(ctx, s, "item-sales:"+fromKey+":"+toKey, func(ctx context.Context) ([]domain.ItemSalesTotal, error) {
		docs, err := s.store.ListDailyMetrics(ctx, fromKey, toKey)
		if err != nil {
			return nil, fmt.Errorf("list daily metrics: %w", err)
		}
		return analytics.BuildItemSalesAggregate(docs), nil
	})
}

// ItemSalesCollisions lists sales buckets that more than one display name has
// been written into.
func (s *Service) ItemSalesCollisions(ctx context.Context) ([]domain.ItemKeyNames, error) {
	index, err := s.store.ItemKeyIndex(ctx)
	if err != nil {
		return nil, fmt.Errorf("load item key index: %w", err)
	}
	return analytics.DetectCollisions(index), nil
}

func (s *Service) DailyMetrics(ctx context.Context, fromKey, toKey string) ([]domain.MetricsDoc, error) {
	if err := validateRange(fromKey, toKey); err != nil {
		return nil, err
	}
	return s.store.ListDailyMetrics(ctx, fromKey, toKey)
}

func (s *Service) DailySummary(ctx context.Context, fromKey, toKey string) (domain.DailySummary, error) {
	ctx, span := tracer.Start(ctx, "service.DailySummary")
	defer span.End()

	if err := validateRange(fromKey, toKey); err != nil {
		return domain.DailySummary{}, err
	}
	return cached(ctx, s, "daily-summary:"+fromKey+":"+toKey, func(ctx context.Context) (domain.DailySummary, error) {
		docs, err := s.store.ListDailyMetrics(ctx, fromKey, toKey)
		if err != nil {
			return domain.DailySummary{}, fmt.Errorf("list daily metrics: %w", err)
		}
		return analytics.BuildDailySummary(fromKey, toKey, docs), nil
	})
}

// Location is the zone local dates are computed in.
func (s *Service) Location() *time.Location { return s.loc }

// Today is the date key events committed now are filed under.
func (s *Service) Today() string {
	return dailymetrics.DateKey(s.now(), s.loc)
}

// LowStock lists items whose stock is below their reorder level, largest
// shortfall first.
func (s *Service) LowStock(ctx context.Context) ([]domain.LowStockRow, error) {
	items, err := s.store.ListInventory(ctx)
	if err != nil {
		return nil, err
	}
	rows := lowStockRows(items)
	return rows, nil
}

func (s *Service) InventorySummary(ctx context.Context) (domain.InventorySummary, error) {
	items, err := s.store.ListInventory(ctx)
	if err != nil {
		return domain.InventorySummary{}, err
	}
	summary := domain.InventorySummary{TotalItems: len(items), InventoryValue: decimal.Zero}
	for _, item := range items {
		summary.InventoryValue = summary.InventoryValue.Add(item.CurrentStock.Mul(item.CostPerUnit))
	}
	summary.InventoryValue = summary.InventoryValue.Round(2)
	summary.LowStockCount = len(lowStockRows(items))
	return summary, nil
}

func lowStockRows(items []domain.InventoryItem) []domain.LowStockRow {
	rows := make([]domain.LowStockRow, 0)
	for _, item := range items {
		if !item.CurrentStock.LessThan(item.ReorderLevel) {
			continue
		}
		rows = append(rows, domain.LowStockRow{
			InventoryItemID: item.ID,
			Name:            item.Name,
			Category:        item.Category,
			Unit:            item.Unit,
			CurrentStock:    item.CurrentStock,
			ReorderLevel:    item.ReorderLevel,
			Needed:          item.ReorderLevel.Sub(item.CurrentStock),
		})
	}
	sortLowStock(rows)
	return rows
}

// cached serves key from the report cache, computing and storing it on a
// miss. Cache failures degrade to a direct computation.
func cached[T any](ctx context.Context, s *Service, key string, load func(context.Context) (T, error)) (T, error) {
	if s.cache == nil {
		return load(ctx)
	}
	var hit T
	gen, ok, readErr := s.cache.Get(ctx, key, &hit)
	if readErr != nil {
		logger.Warn(ctx).Err(readErr).Str("key", key).Msg("read report cache")
	} else if ok {
		return hit, nil
	}

	value, err := load(ctx)
	if err != nil {
		return value, err
	}
	// Without a generation there is nothing safe to write under.
	if readErr == nil {
		if err := s.cache.Set(ctx, gen, key, value); err != nil {
			logger.Warn(ctx).Err(err).Str("key", key).Msg("write report cache")
		}
	}
	return value, nil
}

func queryKey(q domain.EventQuery) string {
	return fmt.Sprintf("%s|%s|%s|%s|%s|%d", q.InventoryItemID, q.RecipeID, timeKey(q.From), timeKey(q.To), q.Order, q.Limit)
}

func timeKey(t *time.Time) string {
	if t == nil {
		return ""
	}
	return t.UTC().Format(time.RFC3339Nano)
}

func validateRange(fromKey, toKey string) error {
	for field, value := range map[string]string{"from": fromKey, "to": toKey} {
		if value == "" {
			continue
		}
		if _, err := time.Parse(dailymetrics.DateLayout, value); err != nil {
			return domain.NewValidationError(field, "must be a date in YYYY-MM-DD format")
		}
	}
	if fromKey != "" && toKey != "" && fromKey > toKey {
		return domain.NewValidationError("from", "must not be after to")
	}
	return nil
}

func sortLowStock(rows []domain.LowStockRow) {
	sort.Slice(rows, func(i, j int) bool {
		if c := rows[i].Needed.Cmp(rows[j].Needed); c != 0 {
			return c > 0
		}
		return rows[i].Name < rows[j].Name
	})
}
