// Package analytics rebuilds reports from the append-only event collections
// and the DailyMetrics records. Everything here is pure.
package analytics

import (
	"fmt"
	"sort"
	"strings"

	"github.com/shopspring/decimal"

	"kitchenledger/internal/dailymetrics"
	"kitchenledger/internal/domain"
)

const Uncategorized = "Uncategorized"

// BuildLedger merges the three event streams into one timeline, newest first.
// Events at the same instant are ordered by id.
func BuildLedger(purchases []domain.PurchaseRecord, usages []domain.UsageLog, wastes []domain.WasteEntry) []domain.LedgerEvent {
	events := make([]domain.LedgerEvent, 0, len(purchases)+len(usages)+len(wastes))

	for _, p := range purchases {
		events = append(events, domain.LedgerEvent{
			ID:            p.ID,
			Type:          domain.LedgerPurchase,
			Label:         fmt.Sprintf("Purchased %s", p.ItemName),
			Date:          p.PurchaseDate,
			QuantityDelta: p.Quantity,
			Value:         p.TotalCost,
		})
	}
	for _, u := range usages {
		events = append(events, domain.LedgerEvent{
			ID:            u.ID,
			Type:          domain.LedgerProduction,
			Label:         strings.TrimSpace(fmt.Sprintf("Produced %s %s %s", u.TargetQuantity.String(), u.OutputUnit, u.RecipeName)),
			Date:          u.Timestamp,
			QuantityDelta: u.TargetQuantity,
			Value:         u.TotalCost,
		})
	}
	for _, w := range wastes {
		label := fmt.Sprintf("Wasted %s", w.ItemName)
		if reason := strings.TrimSpace(w.Reason); reason != "" {
			label += " (" + reason + ")"
		}
		events = append(events, domain.LedgerEvent{
			ID:            w.ID,
			Type:          domain.LedgerWaste,
			Label:         label,
			Date:          w.WasteDate,
			QuantityDelta: w.Quantity.Neg(),
			Value:         w.TotalCost,
		})
	}

	sort.SliceStable(events, func(i, j int) bool {
		if !events[i].Date.Equal(events[j].Date) {
			return events[i].Date.After(events[j].Date)
		}
		return events[i].ID < events[j].ID
	})
	return events
}

// BuildCategoricalBreakdown buckets money by category. The category comes from
// the inventory as it is now, not as it was when the event happened.
func BuildCategoricalBreakdown(
	purchases []domain.PurchaseRecord,
	usages []domain.UsageLog,
	wastes []domain.WasteEntry,
	inventory []domain.InventoryItem,
) []domain.CategoryBreakdown {
	categories := make(map[string]string, len(inventory))
	for _, item := range inventory {
		category := strings.TrimSpace(item.Category)
		if category == "" {
			category = Uncategorized
		}
		categories[item.ID] = category
	}
	categoryOf := func(itemID string) string {
		if category, ok := categories[itemID]; ok {
			return category
		}
		return Uncategorized
	}

	buckets := make(map[string]*domain.CategoryBreakdown)
	bucket := func(category string) *domain.CategoryBreakdown {
		b, ok := buckets[category]
		if !ok {
			b = &domain.CategoryBreakdown{Category: category}
			buckets[category] = b
		}
		return b
	}

	for _, p := range purchases {
		b := bucket(categoryOf(p.InventoryItemID))
		b.Spent = b.Spent.Add(p.TotalCost)
	}
	for _, u := range usages {
		for _, line := range u.Ingredients {
			b := bucket(categoryOf(line.InventoryItemID))
			b.Utilized = b.Utilized.Add(line.Cost)
		}
	}
	for _, w := range wastes {
		b := bucket(categoryOf(w.InventoryItemID))
		b.Wasted = b.Wasted.Add(w.TotalCost)
	}

	out := make([]domain.CategoryBreakdown, 0, len(buckets))
	for _, b := range buckets {
		out = append(out, *b)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Category < out[j].Category })
	return out
}

// BuildItemSalesAggregate sums the per-item buckets of every document, keyed
// by sanitized name. docs are expected in chronological order; the name of a
// bucket is the one from the last document that carries it.
func BuildItemSalesAggregate(docs []domain.MetricsDoc) []domain.ItemSalesTotal {
	totals := make(map[string]*domain.ItemSalesTotal)
	for _, doc := range docs {
		for key, bucket := range dailymetrics.ItemSales(doc) {
			total, ok := totals[key]
			if !ok {
				total = &domain.ItemSalesTotal{Key: key}
				totals[key] = total
			}
			if bucket.Name != "" {
				total.Name = bucket.Name
			}
			total.Qty = total.Qty.Add(bucket.Qty)
			total.Revenue = total.Revenue.Add(bucket.Revenue)
		}
	}

	out := make([]domain.ItemSalesTotal, 0, len(totals))
	for _, total := range totals {
		if total.Name == "" {
			total.Name = total.Key
		}
		out = append(out, *total)
	}
	sort.Slice(out, func(i, j int) bool {
		if c := out[i].Revenue.Cmp(out[j].Revenue); c != 0 {
			return c > 0
		}
		return out[i].Key < out[j].Key
	})
	return out
}

// BuildDailySummary totals the counters of docs.
func BuildDailySummary(from, to string, docs []domain.MetricsDoc) domain.DailySummary {
	summary := domain.DailySummary{
		From:             from,
		To:               to,
		TotalSales:       decimal.Zero,
		TotalCOGS:        decimal.Zero,
		TotalWastageLoss: decimal.Zero,
	}
	for _, doc := range docs {
		counters := dailymetrics.ParseDoc(doc).Counters
		summary.Days++
		summary.TotalSales = summary.TotalSales.Add(counters.Sales)
		summary.TotalOrders += counters.Orders
		summary.DineInTables += counters.DineInTables
		summary.TotalCOGS = summary.TotalCOGS.Add(counters.COGS)
		summary.TotalWastageLoss = summary.TotalWastageLoss.Add(counters.WastageLoss)
	}
	return summary
}

// DetectCollisions returns the keys under which more than one display name
// has been written, i.e. distinct items sharing one sales bucket.
func DetectCollisions(index []domain.ItemKeyNames) []domain.ItemKeyNames {
	out := make([]domain.ItemKeyNames, 0)
	for _, entry := range index {
		names := uniqueSorted(entry.Names)
		if len(names) > 1 {
			out = append(out, domain.ItemKeyNames{Key: entry.Key, Names: names})
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out
}

func uniqueSorted(values []string) []string {
	seen := make(map[string]struct{}, len(values))
	out := make([]string, 0, len(values))
	for _, v := range values {
		if _, ok := seen[v]; ok {
			continue
		}
		seen[v] = struct{}{}
		out = append(out, v)
	}
	sort.Strings(out)
	return out
}
