package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"kitchenledger/internal/dailymetrics"
	"kitchenledger/internal/domain"
	"kitchenledger/internal/repository"
)

// legacyExport is the JSON dump of the previous document store: one array per
// collection, dailyMetrics keyed by date.
type legacyExport struct {
	Inventory    []legacyItem                 `json:"inventory"`
	Recipes      []legacyRecipe               `json:"recipes"`
	Purchases    []legacyPurchase             `json:"purchases"`
	Waste        []legacyWaste                `json:"waste"`
	UsageLogs    []legacyUsageLog             `json:"usageLogs"`
	DailyMetrics map[string]domain.MetricsDoc `json:"dailyMetrics"`
}

type legacyItem struct {
	ID           string          `json:"id"`
	Name         string          `json:"name"`
	Unit         string          `json:"unit"`
	CurrentStock decimal.Decimal `json:"currentStock"`
	CostPerUnit  decimal.Decimal `json:"costPerUnit"`
	ReorderLevel decimal.Decimal `json:"reorderLevel"`
	Category     string          `json:"category"`
	CreatedAt    legacyTime      `json:"createdAt"`
	UpdatedAt    legacyTime      `json:"updatedAt"`
}

type legacyIngredient struct {
	InventoryItemID string          `json:"inventoryItemId"`
	Name            string          `json:"name"`
	Quantity        decimal.Decimal `json:"quantity"`
	Unit            string          `json:"unit"`
}

type legacyRecipe struct {
	ID               string             `json:"id"`
	Name             string             `json:"name"`
	OutputQuantity   decimal.Decimal    `json:"outputQuantity"`
	OutputUnit       string             `json:"outputUnit"`
	Ingredients      []legacyIngredient `json:"ingredients"`
	LinkedMenuItemID *string            `json:"linkedMenuItemId"`
	CreatedAt        legacyTime         `json:"createdAt"`
	UpdatedAt        legacyTime         `json:"updatedAt"`
}

type legacyPurchase struct {
	ID              string          `json:"id"`
	InventoryItemID string          `json:"inventoryItemId"`
	ItemName        string          `json:"itemName"`
	Quantity        decimal.Decimal `json:"quantity"`
	UnitCost        decimal.Decimal `json:"unitCost"`
	TotalCost       decimal.Decimal `json:"totalCost"`
	PurchaseDate    legacyTime      `json:"purchaseDate"`
}

type legacyWaste struct {
	ID              string          `json:"id"`
	InventoryItemID string          `json:"inventoryItemId"`
	ItemName        string          `json:"itemName"`
	Quantity        decimal.Decimal `json:"quantity"`
	Reason          string          `json:"reason"`
	UnitCost        decimal.Decimal `json:"unitCost"`
	TotalCost       decimal.Decimal `json:"totalCost"`
	WasteDate       legacyTime      `json:"wasteDate"`
}

type legacyUsage struct {
	InventoryItemID string          `json:"inventoryItemId"`
	Name            string          `json:"name"`
	QuantityUsed    decimal.Decimal `json:"quantityUsed"`
	Unit            string          `json:"unit"`
	Cost            decimal.Decimal `json:"cost"`
}

type legacyUsageLog struct {
	ID             string          `json:"id"`
	RecipeID       string          `json:"recipeId"`
	RecipeName     string          `json:"recipeName"`
	TargetQuantity decimal.Decimal `json:"targetQuantity"`
	OutputUnit     string          `json:"outputUnit"`
	Multiplier     decimal.Decimal `json:"multiplier"`
	Ingredients    []legacyUsage   `json:"ingredients"`
	TotalCost      decimal.Decimal `json:"totalCost"`
	Timestamp      legacyTime      `json:"timestamp"`
}

// legacyTime accepts the timestamp encodings found in exports: RFC 3339
// strings, epoch milliseconds, and {"_seconds", "_nanoseconds"} objects.
type legacyTime struct {
	time.Time
}

func (t *legacyTime) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		return nil
	}
	switch data[0] {
	case '"':
		var raw string
		if err := json.Unmarshal(data, &raw); err != nil {
			return err
		}
		return t.parseString(raw)
	case '{':
		var stamp struct {
			Seconds     int64 `json:"_seconds"`
			Nanoseconds int64 `json:"_nanoseconds"`
		}
		if err := json.Unmarshal(data, &stamp); err != nil {
			return err
		}
		t.Time = time.Unix(stamp.Seconds, stamp.Nanoseconds).UTC()
		return nil
	default:
		millis, err := strconv.ParseFloat(string(data), 64)
		if err != nil {
			return fmt.Errorf("invalid timestamp %s", data)
		}
		t.Time = time.UnixMilli(int64(millis)).UTC()
		return nil
	}
}

func (t *legacyTime) parseString(raw string) error {
	value := strings.TrimSpace(raw)
	if value == "" {
		return nil
	}
	layouts := []string{
		time.RFC3339Nano,
		"2006-01-02 15:04:05",
		"2006-01-02T15:04:05",
		"2006-01-02",
	}
	for _, layout := range layouts {
		if parsed, err := time.Parse(layout, value); err == nil {
			t.Time = parsed.UTC()
			return nil
		}
	}
	return fmt.Errorf("invalid timestamp %q", raw)
}

func (t legacyTime) or(fallback time.Time) time.Time {
	if t.IsZero() {
		return fallback
	}
	return t.Time
}

func readExport(r io.Reader) (legacyExport, error) {
	dec := json.NewDecoder(r)
	dec.UseNumber()
	var export legacyExport
	if err := dec.Decode(&export); err != nil {
		return legacyExport{}, fmt.Errorf("decode export: %w", err)
	}
	return export, nil
}

// toSnapshot converts the export. Records without an id are rejected: ids
// are what ledger rows and recipes point at.
func toSnapshot(export legacyExport, now time.Time) (repository.Snapshot, error) {
	snap := repository.Snapshot{
		Inventory: make([]domain.InventoryItem, 0, len(export.Inventory)),
		Recipes:   make([]domain.Recipe, 0, len(export.Recipes)),
		Purchases: make([]domain.PurchaseRecord, 0, len(export.Purchases)),
		Waste:     make([]domain.WasteEntry, 0, len(export.Waste)),
		UsageLogs: make([]domain.UsageLog, 0, len(export.UsageLogs)),
		Metrics:   make([]dailymetrics.Record, 0, len(export.DailyMetrics)),
	}

	for i, item := range export.Inventory {
		if item.ID == "" {
			return repository.Snapshot{}, fmt.Errorf("inventory[%d]: missing id", i)
		}
		created := item.CreatedAt.or(now)
		stock := item.CurrentStock
		if stock.IsNegative() {
			stock = decimal.Zero
		}
		snap.Inventory = append(snap.Inventory, domain.InventoryItem{
			ID:           item.ID,
			Name:         strings.TrimSpace(item.Name),
			Unit:         item.Unit,
			CurrentStock: stock,
			CostPerUnit:  item.CostPerUnit,
			ReorderLevel: item.ReorderLevel,
			Category:     item.Category,
			CreatedAt:    created,
			UpdatedAt:    item.UpdatedAt.or(created),
		})
	}

	for i, recipe := range export.Recipes {
		if recipe.ID == "" {
			return repository.Snapshot{}, fmt.Errorf("recipes[%d]: missing id", i)
		}
		if !recipe.OutputQuantity.IsPositive() {
			return repository.Snapshot{}, fmt.Errorf("recipes[%d] %q: %w", i, recipe.Name, domain.ErrInvalidRecipe)
		}
		ingredients := make([]domain.RecipeIngredient, 0, len(recipe.Ingredients))
		for _, ing := range recipe.Ingredients {
			ingredients = append(ingredients, domain.RecipeIngredient{
				InventoryItemID: ing.InventoryItemID,
				Name:            ing.Name,
				Quantity:        ing.Quantity,
				Unit:            ing.Unit,
			})
		}
		created := recipe.CreatedAt.or(now)
		snap.Recipes = append(snap.Recipes, domain.Recipe{
			ID:               recipe.ID,
			Name:             recipe.Name,
			OutputQuantity:   recipe.OutputQuantity,
			OutputUnit:       recipe.OutputUnit,
			Ingredients:      ingredients,
			LinkedMenuItemID: recipe.LinkedMenuItemID,
			CreatedAt:        created,
			UpdatedAt:        recipe.UpdatedAt.or(created),
		})
	}

	for i, p := range export.Purchases {
		if p.ID == "" {
			return repository.Snapshot{}, fmt.Errorf("purchases[%d]: missing id", i)
		}
		total := p.TotalCost
		if total.IsZero() {
			total = p.Quantity.Mul(p.UnitCost)
		}
		snap.Purchases = append(snap.Purchases, domain.PurchaseRecord{
			ID:              p.ID,
			InventoryItemID: p.InventoryItemID,
			ItemName:        p.ItemName,
			Quantity:        p.Quantity,
			UnitCost:        p.UnitCost,
			TotalCost:       total,
			PurchaseDate:    p.PurchaseDate.or(now),
		})
	}

	for i, w := range export.Waste {
		if w.ID == "" {
			return repository.Snapshot{}, fmt.Errorf("waste[%d]: missing id", i)
		}
		total := w.TotalCost
		if total.IsZero() {
			total = w.Quantity.Mul(w.UnitCost)
		}
		snap.Waste = append(snap.Waste, domain.WasteEntry{
			ID:              w.ID,
			InventoryItemID: w.InventoryItemID,
			ItemName:        w.ItemName,
			Quantity:        w.Quantity,
			Reason:          w.Reason,
			UnitCost:        w.UnitCost,
			TotalCost:       total,
			WasteDate:       w.WasteDate.or(now),
		})
	}

	for i, u := range export.UsageLogs {
		if u.ID == "" {
			return repository.Snapshot{}, fmt.Errorf("usageLogs[%d]: missing id", i)
		}
		used := make([]domain.IngredientUsage, 0, len(u.Ingredients))
		for _, ing := range u.Ingredients {
			used = append(used, domain.IngredientUsage{
				InventoryItemID: ing.InventoryItemID,
				Name:            ing.Name,
				QuantityUsed:    ing.QuantityUsed,
				Unit:            ing.Unit,
				Cost:            ing.Cost,
			})
		}
		snap.UsageLogs = append(snap.UsageLogs, domain.UsageLog{
			ID:             u.ID,
			RecipeID:       u.RecipeID,
			RecipeName:     u.RecipeName,
			TargetQuantity: u.TargetQuantity,
			OutputUnit:     u.OutputUnit,
			Multiplier:     u.Multiplier,
			Ingredients:    used,
			TotalCost:      u.TotalCost,
			Timestamp:      u.Timestamp.or(now),
		})
	}

	dates := make([]string, 0, len(export.DailyMetrics))
	for date := range export.DailyMetrics {
		dates = append(dates, date)
	}
	sort.Strings(dates)
	for _, date := range dates {
		if _, err := time.Parse(dailymetrics.DateLayout, date); err != nil {
			return repository.Snapshot{}, fmt.Errorf("dailyMetrics: invalid date key %q", date)
		}
		rec := dailymetrics.ParseDoc(export.DailyMetrics[date])
		rec.Date = date
		snap.Metrics = append(snap.Metrics, rec)
	}

	return snap, nil
}
