package bom

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"kitchenledger/internal/domain"
)

func dec(v string) decimal.Decimal { return decimal.RequireFromString(v) }

func assertDecimal(t *testing.T, want string, got decimal.Decimal, msgAndArgs ...any) {
	t.Helper()
	assert.Truef(t, dec(want).Equal(got), "want %s, got %s %v", want, got.String(), msgAndArgs)
}

func nihari() domain.Recipe {
	return domain.Recipe{
		ID:             "r-nihari",
		Name:           "Nihari",
		OutputQuantity: dec("10"),
		OutputUnit:     "kg",
		Ingredients: []domain.RecipeIngredient{
			{InventoryItemID: "A", Name: "Beef shank", Quantity: dec("2"), Unit: "kg"},
		},
	}
}

func stockA(stock string) []domain.InventoryItem {
	return []domain.InventoryItem{
		{ID: "A", Name: "Beef shank", Unit: "kg", CurrentStock: dec(stock), CostPerUnit: dec("100")},
	}
}

func TestCalculateHalfBatch(t *testing.T) {
	result, err := Calculate(nihari(), dec("5"), stockA("5"))
	require.NoError(t, err)

	assertDecimal(t, "0.5", result.Multiplier)
	require.Len(t, result.Ingredients, 1)
	line := result.Ingredients[0]
	assertDecimal(t, "1", line.RequiredQty)
	assert.True(t, line.Sufficient)
	assertDecimal(t, "0", line.Deficit)
	assertDecimal(t, "100", line.IngredientCost)
	assertDecimal(t, "100", result.TotalCost)
	assert.True(t, result.AllInStock)
}

func TestCalculateShortBatch(t *testing.T) {
	result, err := Calculate(nihari(), dec("60"), stockA("5"))
	require.NoError(t, err)

	assertDecimal(t, "6", result.Multiplier)
	line := result.Ingredients[0]
	assertDecimal(t, "12", line.RequiredQty)
	assert.False(t, line.Sufficient)
	assertDecimal(t, "7", line.Deficit)
	assert.False(t, result.AllInStock)
}

func TestCalculateMissingItemIsFullyShort(t *testing.T) {
	result, err := Calculate(nihari(), dec("5"), nil)
	require.NoError(t, err)

	line := result.Ingredients[0]
	assertDecimal(t, "0", line.CurrentStock)
	assertDecimal(t, "0", line.IngredientCost)
	assertDecimal(t, "1", line.Deficit)
	assert.False(t, result.AllInStock)
}

func TestCalculateRejectsMalformedInput(t *testing.T) {
	recipe := nihari()
	recipe.OutputQuantity = decimal.Zero
	_, err := Calculate(recipe, dec("1"), nil)
	require.ErrorIs(t, err, domain.ErrInvalidRecipe)

	_, err = Calculate(nihari(), dec("0"), nil)
	require.ErrorIs(t, err, domain.ErrValidation)
}

func TestCalculateRounding(t *testing.T) {
	recipe := domain.Recipe{
		ID:             "r-chai",
		Name:           "Chai",
		OutputQuantity: dec("3"),
		OutputUnit:     "l",
		Ingredients: []domain.RecipeIngredient{
			{InventoryItemID: "milk", Name: "Milk", Quantity: dec("1"), Unit: "l"},
			{InventoryItemID: "tea", Name: "Tea", Quantity: dec("0.05"), Unit: "kg"},
		},
	}
	snapshot := []domain.InventoryItem{
		{ID: "milk", CurrentStock: dec("10"), CostPerUnit: dec("55.5")},
		{ID: "tea", CurrentStock: dec("0.01"), CostPerUnit: dec("800")},
	}

	result, err := Calculate(recipe, dec("1"), snapshot)
	require.NoError(t, err)

	assertDecimal(t, "0.333", result.Ingredients[0].RequiredQty)
	assertDecimal(t, "18.48", result.Ingredients[0].IngredientCost)
	assertDecimal(t, "0.017", result.Ingredients[1].RequiredQty)
	assertDecimal(t, "13.6", result.Ingredients[1].IngredientCost)
	assertDecimal(t, "0.007", result.Ingredients[1].Deficit)
	assertDecimal(t, "32.08", result.TotalCost)
}

func TestCalculateProperties(t *testing.T) {
	recipe := domain.Recipe{
		ID:             "r-mix",
		Name:           "Mix",
		OutputQuantity: dec("7"),
		Ingredients: []domain.RecipeIngredient{
			{InventoryItemID: "a", Quantity: dec("1.25")},
			{InventoryItemID: "b", Quantity: dec("0.333")},
			{InventoryItemID: "c", Quantity: dec("4")},
		},
	}
	snapshots := map[string][]domain.InventoryItem{
		"coarse": {
			{ID: "a", CurrentStock: dec("3"), CostPerUnit: dec("12.75")},
			{ID: "b", CurrentStock: dec("0.5"), CostPerUnit: dec("99.99")},
			{ID: "c", CurrentStock: dec("40"), CostPerUnit: dec("0.3")},
		},
		// stock finer than the requirement precision, as left by a purchase
		// of 0.9996
		"fine": {
			{ID: "a", CurrentStock: dec("0.9996"), CostPerUnit: dec("12.75")},
			{ID: "b", CurrentStock: dec("0.0475"), CostPerUnit: dec("99.99")},
			{ID: "c", CurrentStock: dec("5.71428"), CostPerUnit: dec("0.3")},
		},
	}

	for name, snapshot := range snapshots {
		for _, q := range []string{"0.5", "1", "3.3", "5.6", "7", "10", "13", "70.001"} {
			target := dec(q)
			result, err := Calculate(recipe, target, snapshot)
			require.NoError(t, err)

			assert.True(t, result.Multiplier.Equal(target.Div(recipe.OutputQuantity)), "multiplier for %s/%s", name, q)

			sum := decimal.Zero
			anyDeficit := false
			for _, line := range result.Ingredients {
				sum = sum.Add(line.IngredientCost)
				if line.Deficit.IsPositive() {
					anyDeficit = true
				}
				if line.Sufficient {
					assert.True(t, line.Deficit.IsZero(), "sufficient line has deficit for %s/%s", name, q)
				} else {
					assert.True(t, line.Deficit.IsPositive(), "short line has no deficit for %s/%s", name, q)
				}
			}
			assert.True(t, sum.Sub(result.TotalCost).Abs().LessThanOrEqual(dec("0.01")), "total cost for %s/%s", name, q)
			assert.Equal(t, !anyDeficit, result.AllInStock, "all in stock for %s/%s", name, q)
		}
	}
}

func TestCalculateSubThousandthShortfallRoundsUp(t *testing.T) {
	result, err := Calculate(nihari(), dec("5"), stockA("0.9996"))
	require.NoError(t, err)

	line := result.Ingredients[0]
	assertDecimal(t, "1", line.RequiredQty)
	assert.False(t, line.Sufficient)
	assertDecimal(t, "0.001", line.Deficit)
	assert.False(t, result.AllInStock)
}

func TestCalculateDoesNotMutateSnapshot(t *testing.T) {
	snapshot := stockA("5")
	_, err := Calculate(nihari(), dec("5"), snapshot)
	require.NoError(t, err)
	assertDecimal(t, "5", snapshot[0].CurrentStock)
}

func TestShortagesAggregatesRepeatedItems(t *testing.T) {
	recipe := nihari()
	recipe.Ingredients = append(recipe.Ingredients, domain.RecipeIngredient{
		InventoryItemID: "A", Name: "Beef shank", Quantity: dec("2"), Unit: "kg",
	})

	result, err := Calculate(recipe, dec("15"), stockA("5"))
	require.NoError(t, err)
	assert.True(t, result.AllInStock, "each line alone fits")

	shortages := Shortages(result, stockA("5"))
	require.Len(t, shortages, 1)
	assert.Equal(t, "A", shortages[0].InventoryItemID)
	assertDecimal(t, "6", shortages[0].RequiredQty)
	assertDecimal(t, "5", shortages[0].CurrentStock)
}

func TestDeductionsAndItemIDs(t *testing.T) {
	usage := []domain.IngredientUsage{
		{InventoryItemID: "b", QuantityUsed: dec("1")},
		{InventoryItemID: "a", QuantityUsed: dec("2")},
		{InventoryItemID: "b", QuantityUsed: dec("0.5")},
	}
	out := Deductions(usage)
	require.Len(t, out, 2)
	assert.Equal(t, "a", out[0].InventoryItemID)
	assertDecimal(t, "1.5", out[1].QuantityUsed)

	recipe := domain.Recipe{Ingredients: []domain.RecipeIngredient{
		{InventoryItemID: "z"}, {InventoryItemID: "m"}, {InventoryItemID: "z"},
	}}
	assert.Equal(t, []string{"m", "z"}, ItemIDs(recipe))
}
