package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"kitchenledger/internal/dailymetrics"
	"kitchenledger/internal/domain"
	"kitchenledger/internal/events"
	"kitchenledger/internal/memstore"
	"kitchenledger/internal/telemetry"
)

var fixedNow = time.Date(2024, 5, 1, 10, 30, 0, 0, time.UTC)

func d(v string) decimal.Decimal { return decimal.RequireFromString(v) }

type recordingPublisher struct {
	mu     sync.Mutex
	events []events.Event
}

func (p *recordingPublisher) Publish(_ context.Context, e events.Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, e)
	return nil
}

func (p *recordingPublisher) Close() error { return nil }

type fixture struct {
	svc     *Service
	store   *memstore.Store
	metrics *telemetry.Metrics
	pub     *recordingPublisher
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	store := memstore.New()
	return newFixtureWithStore(t, store, store)
}

func newFixtureWithStore(t *testing.T, mem *memstore.Store, store Store) *fixture {
	t.Helper()
	var seq atomic.Int64
	metrics := telemetry.New(prometheus.NewRegistry())
	pub := &recordingPublisher{}
	svc := New(store, Options{
		Metrics:      metrics,
		Publisher:    pub,
		Clock:        func() time.Time { return fixedNow },
		NewID:        func() string { return fmt.Sprintf("id-%04d", seq.Add(1)) },
		MaxAttempts:  3,
		RetryBackoff: time.Millisecond,
	})
	return &fixture{svc: svc, store: mem, metrics: metrics, pub: pub}
}

func (f *fixture) item(t *testing.T, name, stock, cost string) domain.InventoryItem {
	t.Helper()
	item, err := f.svc.CreateInventoryItem(context.Background(), domain.InventoryItemInput{
		Name:         name,
		Unit:         "kg",
		CurrentStock: d(stock),
		CostPerUnit:  d(cost),
		Category:     "Meat",
	})
	require.NoError(t, err)
	return item
}

func (f *fixture) stock(t *testing.T, id string) decimal.Decimal {
	t.Helper()
	item, err := f.svc.GetInventoryItem(context.Background(), id)
	require.NoError(t, err)
	return item.CurrentStock
}

func (f *fixture) nihari(t *testing.T, itemID string) domain.Recipe {
	t.Helper()
	recipe, err := f.svc.CreateRecipe(context.Background(), domain.RecipeInput{
		Name:           "Nihari",
		OutputQuantity: d("10"),
		OutputUnit:     "kg",
		Ingredients:    []domain.RecipeIngredient{{InventoryItemID: itemID, Quantity: d("2")}},
	})
	require.NoError(t, err)
	return recipe
}

func (f *fixture) today(t *testing.T) dailymetrics.Record {
	t.Helper()
	docs, err := f.svc.DailyMetrics(context.Background(), "2024-05-01", "2024-05-01")
	require.NoError(t, err)
	if len(docs) == 0 {
		return dailymetrics.Record{}
	}
	require.Len(t, docs, 1)
	return dailymetrics.ParseDoc(docs[0])
}

func TestExecuteProductionDeductsStockAndBooksCOGS(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	a := f.item(t, "Beef Shank", "5", "100")
	recipe := f.nihari(t, a.ID)

	log, replayed, err := f.svc.ExecuteProduction(ctx, domain.ProductionRequest{RecipeID: recipe.ID, TargetQuantity: d("5")})
	require.NoError(t, err)
	assert.False(t, replayed)
	assert.True(t, log.Multiplier.Equal(d("0.5")))
	assert.True(t, log.TotalCost.Equal(d("100")))
	require.Len(t, log.Ingredients, 1)
	assert.Equal(t, "Beef Shank", log.Ingredients[0].Name)
	assert.True(t, log.Ingredients[0].QuantityUsed.Equal(d("1")))

	assert.True(t, f.stock(t, a.ID).Equal(d("4")))
	assert.True(t, f.today(t).Counters.COGS.Equal(d("100")))

	logs, err := f.svc.ListUsageLogs(ctx, domain.EventQuery{RecipeID: recipe.ID})
	require.NoError(t, err)
	require.Len(t, logs, 1)
	assert.Equal(t, log.ID, logs[0].ID)

	require.Len(t, f.pub.events, 1)
	assert.Equal(t, events.TypeProductionExecuted, f.pub.events[0].Type)
	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.EventCounter(kindProduction, telemetry.OutcomeOK)))
}

func TestExecuteProductionRejectsShortRunWithoutWrites(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	a := f.item(t, "Beef Shank", "5", "100")
	recipe := f.nihari(t, a.ID)

	_, _, err := f.svc.ExecuteProduction(ctx, domain.ProductionRequest{RecipeID: recipe.ID, TargetQuantity: d("60")})
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrInsufficientStock)

	var short *domain.InsufficientStockError
	require.True(t, errors.As(err, &short))
	require.Len(t, short.Shortages, 1)
	assert.Equal(t, a.ID, short.Shortages[0].InventoryItemID)
	assert.True(t, short.Shortages[0].RequiredQty.Equal(d("12")))
	assert.True(t, short.Shortages[0].CurrentStock.Equal(d("5")))

	assert.True(t, f.stock(t, a.ID).Equal(d("5")))
	logs, err := f.svc.ListUsageLogs(ctx, domain.EventQuery{})
	require.NoError(t, err)
	assert.Empty(t, logs)
	assert.True(t, f.today(t).Counters.COGS.IsZero())
	assert.Empty(t, f.pub.events)
}

func TestExecuteProductionUnknownIngredientIsShort(t *testing.T) {
	f := newFixture(t)
	recipe, err := f.svc.CreateRecipe(context.Background(), domain.RecipeInput{
		Name:           "Ghost stew",
		OutputQuantity: d("1"),
		OutputUnit:     "pot",
		Ingredients:    []domain.RecipeIngredient{{InventoryItemID: "missing", Name: "Ghost", Quantity: d("1")}},
	})
	require.NoError(t, err)

	_, _, err = f.svc.ExecuteProduction(context.Background(), domain.ProductionRequest{RecipeID: recipe.ID, TargetQuantity: d("1")})
	assert.ErrorIs(t, err, domain.ErrInsufficientStock)
}

func TestExecuteProductionRepeatedIngredientCannotOverdraw(t *testing.T) {
	f := newFixture(t)
	a := f.item(t, "Ghee", "3", "10")
	recipe, err := f.svc.CreateRecipe(context.Background(), domain.RecipeInput{
		Name:           "Halwa",
		OutputQuantity: d("1"),
		OutputUnit:     "tray",
		Ingredients: []domain.RecipeIngredient{
			{InventoryItemID: a.ID, Quantity: d("2")},
			{InventoryItemID: a.ID, Quantity: d("2")},
		},
	})
	require.NoError(t, err)

	_, _, err = f.svc.ExecuteProduction(context.Background(), domain.ProductionRequest{RecipeID: recipe.ID, TargetQuantity: d("1")})
	assert.ErrorIs(t, err, domain.ErrInsufficientStock)
	assert.True(t, f.stock(t, a.ID).Equal(d("3")))
}

func TestConcurrentProductionNeverDrivesStockNegative(t *testing.T) {
	f := newFixture(t)
	a := f.item(t, "Beef Shank", "10", "100")
	recipe, err := f.svc.CreateRecipe(context.Background(), domain.RecipeInput{
		Name:           "Kebab",
		OutputQuantity: d("1"),
		OutputUnit:     "plate",
		Ingredients:    []domain.RecipeIngredient{{InventoryItemID: a.ID, Quantity: d("1")}},
	})
	require.NoError(t, err)

	var (
		wg        sync.WaitGroup
		succeeded atomic.Int64
		rejected  atomic.Int64
	)
	for i := 0; i < 25; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _, err := f.svc.ExecuteProduction(context.Background(), domain.ProductionRequest{RecipeID: recipe.ID, TargetQuantity: d("1")})
			switch {
			case err == nil:
				succeeded.Add(1)
			case errors.Is(err, domain.ErrInsufficientStock):
				rejected.Add(1)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int64(10), succeeded.Load())
	assert.Equal(t, int64(15), rejected.Load())
	assert.True(t, f.stock(t, a.ID).IsZero())
}

func TestRecordPurchaseAppliesLatestCost(t *testing.T) {
	f := newFixture(t)
	a := f.item(t, "Beef Shank", "5", "100")

	record, replayed, err := f.svc.RecordPurchase(context.Background(), domain.PurchaseRequest{
		InventoryItemID: a.ID, Quantity: d("10"), UnitCost: d("120"),
	})
	require.NoError(t, err)
	assert.False(t, replayed)
	assert.Equal(t, "Beef Shank", record.ItemName)
	assert.True(t, record.TotalCost.Equal(d("1200")))
	assert.Equal(t, fixedNow, record.PurchaseDate)

	item, err := f.svc.GetInventoryItem(context.Background(), a.ID)
	require.NoError(t, err)
	assert.True(t, item.CurrentStock.Equal(d("15")))
	assert.True(t, item.CostPerUnit.Equal(d("120")))
}

func TestRecordPurchaseUnknownItem(t *testing.T) {
	f := newFixture(t)
	_, _, err := f.svc.RecordPurchase(context.Background(), domain.PurchaseRequest{
		InventoryItemID: "nope", Quantity: d("1"), UnitCost: d("1"),
	})
	assert.ErrorIs(t, err, domain.ErrNotFound)
	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.EventCounter(kindPurchase, telemetry.OutcomeRejected)))
}

func TestRecordPurchaseValidation(t *testing.T) {
	f := newFixture(t)
	a := f.item(t, "Rice", "1", "1")
	cases := map[string]domain.PurchaseRequest{
		"inventory_item_id": {Quantity: d("1"), UnitCost: d("1")},
		"quantity":          {InventoryItemID: a.ID, Quantity: d("0"), UnitCost: d("1")},
		"unit_cost":         {InventoryItemID: a.ID, Quantity: d("1"), UnitCost: d("-1")},
	}
	for field, req := range cases {
		t.Run(field, func(t *testing.T) {
			_, _, err := f.svc.RecordPurchase(context.Background(), req)
			var verr *domain.ValidationError
			require.True(t, errors.As(err, &verr))
			assert.Equal(t, field, verr.Field)
		})
	}
	assert.True(t, f.stock(t, a.ID).Equal(d("1")))
}

func TestRecordWasteClampsStockButKeepsQuantity(t *testing.T) {
	f := newFixture(t)
	a := f.item(t, "Beef Shank", "15", "120")

	entry, _, err := f.svc.RecordWaste(context.Background(), domain.WasteRequest{
		InventoryItemID: a.ID, Quantity: d("20"), Reason: "expired", UnitCost: d("120"),
	})
	require.NoError(t, err)
	assert.True(t, entry.Quantity.Equal(d("20")))
	assert.True(t, entry.TotalCost.Equal(d("2400")))
	assert.Equal(t, "expired", entry.Reason)

	assert.True(t, f.stock(t, a.ID).IsZero())
	assert.True(t, f.today(t).Counters.WastageLoss.Equal(d("2400")))
}

func TestRecordWasteUnknownItem(t *testing.T) {
	f := newFixture(t)
	_, _, err := f.svc.RecordWaste(context.Background(), domain.WasteRequest{
		InventoryItemID: "nope", Quantity: d("1"), Reason: "spilled",
	})
	assert.ErrorIs(t, err, domain.ErrNotFound)
	assert.True(t, f.today(t).Counters.WastageLoss.IsZero())
}

func TestIdempotentPurchaseIsAppliedOnce(t *testing.T) {
	f := newFixture(t)
	a := f.item(t, "Beef Shank", "5", "100")
	req := domain.PurchaseRequest{InventoryItemID: a.ID, Quantity: d("10"), UnitCost: d("120"), IdempotencyKey: "po-17"}

	first, replayed, err := f.svc.RecordPurchase(context.Background(), req)
	require.NoError(t, err)
	assert.False(t, replayed)

	second, replayed, err := f.svc.RecordPurchase(context.Background(), req)
	require.NoError(t, err)
	assert.True(t, replayed)
	assert.Equal(t, first.ID, second.ID)

	assert.True(t, f.stock(t, a.ID).Equal(d("15")))
	assert.Len(t, f.pub.events, 1)
	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.EventCounter(kindPurchase, telemetry.OutcomeReplayed)))
}

func TestIdempotencyKeyCannotBeReusedAcrossKinds(t *testing.T) {
	f := newFixture(t)
	a := f.item(t, "Beef Shank", "5", "100")

	_, _, err := f.svc.RecordPurchase(context.Background(), domain.PurchaseRequest{
		InventoryItemID: a.ID, Quantity: d("1"), UnitCost: d("1"), IdempotencyKey: "k-1",
	})
	require.NoError(t, err)

	_, _, err = f.svc.RecordWaste(context.Background(), domain.WasteRequest{
		InventoryItemID: a.ID, Quantity: d("1"), IdempotencyKey: "k-1",
	})
	assert.ErrorIs(t, err, domain.ErrValidation)
	assert.True(t, f.stock(t, a.ID).Equal(d("6")))
}

func TestIdempotentSaleIsCountedOnce(t *testing.T) {
	f := newFixture(t)
	req := domain.SaleRequest{
		Items:          []domain.SaleLine{{Name: "Chai", Qty: d("2"), UnitPrice: d("30")}},
		DineIn:         true,
		IdempotencyKey: "order-9",
	}

	first, err := f.svc.RecordSale(context.Background(), req)
	require.NoError(t, err)
	second, err := f.svc.RecordSale(context.Background(), req)
	require.NoError(t, err)

	assert.True(t, second.Replayed)
	assert.Equal(t, first.ID, second.ID)

	record := f.today(t)
	assert.True(t, record.Counters.Sales.Equal(d("60")))
	assert.Equal(t, int64(1), record.Counters.Orders)
	assert.Equal(t, int64(1), record.Counters.DineInTables)
}

func TestSalesWithCollidingNamesMergeIntoOneBucket(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.svc.RecordSale(ctx, domain.SaleRequest{Items: []domain.SaleLine{{Name: "Goat Leg!", Qty: d("1"), UnitPrice: d("500")}}})
	require.NoError(t, err)
	_, err = f.svc.RecordSale(ctx, domain.SaleRequest{Items: []domain.SaleLine{{Name: "Goat Leg?", Qty: d("2"), UnitPrice: d("450")}}})
	require.NoError(t, err)

	totals, err := f.svc.ItemSales(ctx, "", "")
	require.NoError(t, err)
	require.Len(t, totals, 1)
	assert.Equal(t, "Goat_Leg_", totals[0].Key)
	assert.Equal(t, "Goat Leg?", totals[0].Name)
	assert.True(t, totals[0].Qty.Equal(d("3")))
	assert.True(t, totals[0].Revenue.Equal(d("1400")))

	collisions, err := f.svc.ItemSalesCollisions(ctx)
	require.NoError(t, err)
	require.Len(t, collisions, 1)
	assert.Equal(t, []string{"Goat Leg!", "Goat Leg?"}, collisions[0].Names)

	summary, err := f.svc.DailySummary(ctx, "2024-05-01", "2024-05-01")
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Days)
	assert.Equal(t, int64(2), summary.TotalOrders)
	assert.True(t, summary.TotalSales.Equal(d("1400")))
}

func TestRecordSaleValidation(t *testing.T) {
	f := newFixture(t)
	_, err := f.svc.RecordSale(context.Background(), domain.SaleRequest{})
	assert.ErrorIs(t, err, domain.ErrValidation)

	_, err = f.svc.RecordSale(context.Background(), domain.SaleRequest{Items: []domain.SaleLine{{Name: " ", Qty: d("1")}}})
	assert.ErrorIs(t, err, domain.ErrValidation)

	_, err = f.svc.RecordSale(context.Background(), domain.SaleRequest{Items: []domain.SaleLine{{Name: "Chai", Qty: d("0")}}})
	assert.ErrorIs(t, err, domain.ErrValidation)
}

func TestEventsAreFiledUnderLocalDate(t *testing.T) {
	store := memstore.New()
	svc := New(store, Options{
		Location: time.FixedZone("IRST", 3*3600+1800),
		Clock:    func() time.Time { return time.Date(2024, 5, 1, 22, 0, 0, 0, time.UTC) },
	})

	result, err := svc.RecordSale(context.Background(), domain.SaleRequest{Items: []domain.SaleLine{{Name: "Chai", Qty: d("1"), UnitPrice: d("10")}}})
	require.NoError(t, err)
	assert.Equal(t, "2024-05-02", result.DateKey)
	assert.Equal(t, "2024-05-02", svc.Today())
}

func TestLedgerAndCategoryBreakdown(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	a := f.item(t, "Beef Shank", "5", "100")
	recipe := f.nihari(t, a.ID)

	_, _, err := f.svc.RecordPurchase(ctx, domain.PurchaseRequest{InventoryItemID: a.ID, Quantity: d("10"), UnitCost: d("100")})
	require.NoError(t, err)
	_, _, err = f.svc.ExecuteProduction(ctx, domain.ProductionRequest{RecipeID: recipe.ID, TargetQuantity: d("5")})
	require.NoError(t, err)
	_, _, err = f.svc.RecordWaste(ctx, domain.WasteRequest{InventoryItemID: a.ID, Quantity: d("1"), Reason: "spoiled", UnitCost: d("100")})
	require.NoError(t, err)

	ledger, err := f.svc.Ledger(ctx, domain.EventQuery{})
	require.NoError(t, err)
	require.Len(t, ledger, 3)
	types := []domain.LedgerEventType{ledger[0].Type, ledger[1].Type, ledger[2].Type}
	assert.ElementsMatch(t, []domain.LedgerEventType{domain.LedgerPurchase, domain.LedgerProduction, domain.LedgerWaste}, types)

	limited, err := f.svc.Ledger(ctx, domain.EventQuery{Limit: 2})
	require.NoError(t, err)
	assert.Len(t, limited, 2)

	breakdown, err := f.svc.CategoryBreakdown(ctx, domain.EventQuery{})
	require.NoError(t, err)
	require.Len(t, breakdown, 1)
	assert.Equal(t, "Meat", breakdown[0].Category)
	assert.True(t, breakdown[0].Spent.Equal(d("1000")))
	assert.True(t, breakdown[0].Utilized.Equal(d("100")))
	assert.True(t, breakdown[0].Wasted.Equal(d("100")))
}

func TestLowStockAndInventorySummary(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	_, err := f.svc.CreateInventoryItem(ctx, domain.InventoryItemInput{Name: "Salt", Unit: "kg", CurrentStock: d("1"), CostPerUnit: d("2"), ReorderLevel: d("5")})
	require.NoError(t, err)
	_, err = f.svc.CreateInventoryItem(ctx, domain.InventoryItemInput{Name: "Oil", Unit: "l", CurrentStock: d("10"), CostPerUnit: d("3.5"), ReorderLevel: d("2")})
	require.NoError(t, err)

	low, err := f.svc.LowStock(ctx)
	require.NoError(t, err)
	require.Len(t, low, 1)
	assert.Equal(t, "Salt", low[0].Name)
	assert.True(t, low[0].Needed.Equal(d("4")))

	summary, err := f.svc.InventorySummary(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, summary.TotalItems)
	assert.Equal(t, 1, summary.LowStockCount)
	assert.True(t, summary.InventoryValue.Equal(d("37")))
}

func TestCreateRecipeFillsIngredientDetails(t *testing.T) {
	f := newFixture(t)
	a := f.item(t, "Beef Shank", "5", "100")
	recipe := f.nihari(t, a.ID)

	require.Len(t, recipe.Ingredients, 1)
	assert.Equal(t, "Beef Shank", recipe.Ingredients[0].Name)
	assert.Equal(t, "kg", recipe.Ingredients[0].Unit)

	_, err := f.svc.CreateRecipe(context.Background(), domain.RecipeInput{Name: "Broken", OutputQuantity: d("0")})
	assert.ErrorIs(t, err, domain.ErrValidation)
}

func TestImportInventoryUpsertsByName(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.item(t, "Beef Shank", "5", "100")

	created, updated, err := f.svc.ImportInventory(ctx, []domain.InventoryImportRow{
		{Name: "beef shank", Unit: "kg", Category: "Meat", CurrentStock: d("8"), CostPerUnit: d("110")},
		{Name: "Onion", Unit: "kg", Category: "Produce", CurrentStock: d("20"), CostPerUnit: d("4")},
	})
	require.NoError(t, err)
	assert.Equal(t, 1, created)
	assert.Equal(t, 1, updated)

	items, err := f.svc.ListInventory(ctx)
	require.NoError(t, err)
	require.Len(t, items, 2)
	assert.Equal(t, "beef shank", items[0].Name)
	assert.True(t, items[0].CurrentStock.Equal(d("8")))

	_, _, err = f.svc.ImportInventory(ctx, nil)
	assert.ErrorIs(t, err, domain.ErrValidation)
}

func TestPreviewProduction(t *testing.T) {
	f := newFixture(t)
	a := f.item(t, "Beef Shank", "5", "100")
	recipe := f.nihari(t, a.ID)

	result, err := f.svc.PreviewProduction(context.Background(), recipe.ID, d("60"))
	require.NoError(t, err)
	assert.False(t, result.AllInStock)
	assert.True(t, result.Ingredients[0].Deficit.Equal(d("7")))

	_, err = f.svc.PreviewProduction(context.Background(), "missing", d("1"))
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

type generationCache struct {
	gen     int64
	readErr error
	sets    []int64
}

func (c *generationCache) Get(context.Context, string, any) (int64, bool, error) {
	return c.gen, false, c.readErr
}

func (c *generationCache) Set(_ context.Context, gen int64, _ string, _ any) error {
	c.sets = append(c.sets, gen)
	return nil
}

func (c *generationCache) Invalidate(context.Context) error {
	c.gen++
	return nil
}

func TestReportsAreCachedUnderTheGenerationTheyWereReadAt(t *testing.T) {
	store := memstore.New()
	reportCache := &generationCache{gen: 7}
	svc := New(store, Options{Cache: reportCache, Clock: func() time.Time { return fixedNow }})

	_, err := svc.DailySummary(context.Background(), "2024-05-01", "2024-05-01")
	require.NoError(t, err)
	assert.Equal(t, []int64{7}, reportCache.sets)

	reportCache.readErr = errors.New("redis: connection refused")
	_, err = svc.DailySummary(context.Background(), "2024-05-01", "2024-05-01")
	require.NoError(t, err)
	assert.Equal(t, []int64{7}, reportCache.sets, "no write without a known generation")
}
