// Package bom scales recipes against inventory snapshots.
package bom

import (
	"sort"

	"github.com/shopspring/decimal"

	"kitchenledger/internal/domain"
)

const (
	quantityPlaces = 3
	moneyPlaces    = 2
)

// Calculate scales recipe to target against snapshot. It never mutates its
// inputs and never reports business failures: a missing inventory item is
// treated as zero stock at zero cost.
func Calculate(recipe domain.Recipe, target decimal.Decimal, snapshot []domain.InventoryItem) (domain.BOMResult, error) {
	if !recipe.OutputQuantity.IsPositive() {
		return domain.BOMResult{}, domain.ErrInvalidRecipe
	}
	if !target.IsPositive() {
		return domain.BOMResult{}, domain.NewValidationError("target_quantity", "must be greater than 0")
	}

	byID := Index(snapshot)
	multiplier := target.Div(recipe.OutputQuantity)

	result := domain.BOMResult{
		RecipeID:       recipe.ID,
		RecipeName:     recipe.Name,
		TargetQuantity: target,
		OutputUnit:     recipe.OutputUnit,
		Multiplier:     multiplier,
		Ingredients:    make([]domain.IngredientRequirement, 0, len(recipe.Ingredients)),
		TotalCost:      decimal.Zero,
		AllInStock:     true,
	}

	for _, ingredient := range recipe.Ingredients {
		required := ingredient.Quantity.Mul(multiplier).Round(quantityPlaces)

		stock := decimal.Zero
		cost := decimal.Zero
		unit := ingredient.Unit
		if item, ok := byID[ingredient.InventoryItemID]; ok {
			stock = item.CurrentStock
			cost = item.CostPerUnit
			if unit == "" {
				unit = item.Unit
			}
		}

		sufficient := stock.GreaterThanOrEqual(required)
		deficit := decimal.Zero
		if !sufficient {
			deficit = required.Sub(stock).RoundUp(quantityPlaces)
		}
		ingredientCost := required.Mul(cost).Round(moneyPlaces)

		result.Ingredients = append(result.Ingredients, domain.IngredientRequirement{
			InventoryItemID: ingredient.InventoryItemID,
			Name:            ingredient.Name,
			Unit:            unit,
			RequiredQty:     required,
			CurrentStock:    stock,
			CostPerUnit:     cost,
			IngredientCost:  ingredientCost,
			Sufficient:      sufficient,
			Deficit:         deficit,
		})
		result.TotalCost = result.TotalCost.Add(ingredientCost)
		result.AllInStock = result.AllInStock && sufficient
	}
	result.TotalCost = result.TotalCost.Round(moneyPlaces)

	return result, nil
}

// Shortages lists every inventory item whose combined requirement across the
// result exceeds its stock. A recipe naming the same item twice can pass the
// per-line check in Calculate and still overdraw; this catches that case.
func Shortages(result domain.BOMResult, snapshot []domain.InventoryItem) []domain.Shortage {
	byID := Index(snapshot)
	required := make(map[string]decimal.Decimal)
	names := make(map[string]string)
	order := make([]string, 0, len(result.Ingredients))
	for _, line := range result.Ingredients {
		if _, seen := required[line.InventoryItemID]; !seen {
			order = append(order, line.InventoryItemID)
			required[line.InventoryItemID] = decimal.Zero
			names[line.InventoryItemID] = line.Name
		}
		required[line.InventoryItemID] = required[line.InventoryItemID].Add(line.RequiredQty)
	}

	shortages := make([]domain.Shortage, 0)
	for _, id := range order {
		stock := decimal.Zero
		name := names[id]
		if item, ok := byID[id]; ok {
			stock = item.CurrentStock
			if name == "" {
				name = item.Name
			}
		}
		if stock.LessThan(required[id]) {
			shortages = append(shortages, domain.Shortage{
				InventoryItemID: id,
				Name:            name,
				RequiredQty:     required[id],
				CurrentStock:    stock,
			})
		}
	}
	return shortages
}

// Usage converts a fully stocked result into the ingredient snapshot stored on
// a UsageLog. Lines with a zero requirement are kept so the log mirrors the
// recipe.
func Usage(result domain.BOMResult) []domain.IngredientUsage {
	usage := make([]domain.IngredientUsage, 0, len(result.Ingredients))
	for _, line := range result.Ingredients {
		usage = append(usage, domain.IngredientUsage{
			InventoryItemID: line.InventoryItemID,
			Name:            line.Name,
			QuantityUsed:    line.RequiredQty,
			Unit:            line.Unit,
			Cost:            line.IngredientCost,
		})
	}
	return usage
}

// Deductions sums the quantity used per inventory item, sorted by id so that
// callers lock and update rows in a stable order.
func Deductions(usage []domain.IngredientUsage) []domain.IngredientUsage {
	totals := make(map[string]domain.IngredientUsage)
	for _, line := range usage {
		current, ok := totals[line.InventoryItemID]
		if !ok {
			totals[line.InventoryItemID] = line
			continue
		}
		current.QuantityUsed = current.QuantityUsed.Add(line.QuantityUsed)
		current.Cost = current.Cost.Add(line.Cost)
		totals[line.InventoryItemID] = current
	}
	out := make([]domain.IngredientUsage, 0, len(totals))
	for _, line := range totals {
		out = append(out, line)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].InventoryItemID < out[j].InventoryItemID })
	return out
}

// ItemIDs returns the distinct inventory ids a recipe references, sorted.
func ItemIDs(recipe domain.Recipe) []string {
	seen := make(map[string]struct{}, len(recipe.Ingredients))
	ids := make([]string, 0, len(recipe.Ingredients))
	for _, ingredient := range recipe.Ingredients {
		if _, ok := seen[ingredient.InventoryItemID]; ok {
			continue
		}
		seen[ingredient.InventoryItemID] = struct{}{}
		ids = append(ids, ingredient.InventoryItemID)
	}
	sort.Strings(ids)
	return ids
}

func Index(snapshot []domain.InventoryItem) map[string]domain.InventoryItem {
	byID := make(map[string]domain.InventoryItem, len(snapshot))
	for _, item := range snapshot {
		byID[item.ID] = item
	}
	return byID
}
