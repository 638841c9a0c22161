// Package memstore is an in-process store with the same contracts as the
// Postgres repository. A single mutex serializes every write, so the stock
// check of a production run and its deduction can never interleave with
// another event.
package memstore

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"kitchenledger/internal/bom"
	"kitchenledger/internal/dailymetrics"
	"kitchenledger/internal/domain"
	"kitchenledger/internal/feed"
)

type idempotencyEntry struct {
	kind     string
	resultID string
}

type Store struct {
	mu sync.Mutex

	inventory map[string]domain.InventoryItem
	recipes   map[string]domain.Recipe
	purchases []domain.PurchaseRecord
	wastes    []domain.WasteEntry
	usages    []domain.UsageLog
	metrics   map[string]*dailymetrics.Record
	keyNames  map[string]map[string]struct{}
	idem      map[string]idempotencyEntry

	inventoryFeed *feed.Feed
	recipeFeed    *feed.Feed

	now func() time.Time
}

func New() *Store {
	return &Store{
		inventory:     make(map[string]domain.InventoryItem),
		recipes:       make(map[string]domain.Recipe),
		metrics:       make(map[string]*dailymetrics.Record),
		keyNames:      make(map[string]map[string]struct{}),
		idem:          make(map[string]idempotencyEntry),
		inventoryFeed: feed.New(),
		recipeFeed:    feed.New(),
		now:           func() time.Time { return time.Now().UTC() },
	}
}

// Inventory

func (s *Store) ListInventory(_ context.Context) ([]domain.InventoryItem, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sortedInventory(), nil
}

func (s *Store) GetInventoryItem(_ context.Context, id string) (*domain.InventoryItem, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	item, ok := s.inventory[id]
	if !ok {
		return nil, &domain.NotFoundError{Entity: "inventory item", ID: id}
	}
	return &item, nil
}

func (s *Store) CreateInventoryItem(_ context.Context, item domain.InventoryItem) (domain.InventoryItem, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now()
	item.CreatedAt = now
	item.UpdatedAt = now
	s.inventory[item.ID] = item
	s.inventoryFeed.Notify()
	return item, nil
}

func (s *Store) UpdateInventoryItem(_ context.Context, id string, patch domain.InventoryItemPatch) (*domain.InventoryItem, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	item, ok := s.inventory[id]
	if !ok {
		return nil, &domain.NotFoundError{Entity: "inventory item", ID: id}
	}
	if patch.Name != nil {
		item.Name = *patch.Name
	}
	if patch.Unit != nil {
		item.Unit = *patch.Unit
	}
	if patch.CostPerUnit != nil {
		item.CostPerUnit = *patch.CostPerUnit
	}
	if patch.ReorderLevel != nil {
		item.ReorderLevel = *patch.ReorderLevel
	}
	if patch.Category != nil {
		item.Category = *patch.Category
	}
	item.UpdatedAt = s.now()
	s.inventory[id] = item
	s.inventoryFeed.Notify()
	return &item, nil
}

func (s *Store) DeleteInventoryItem(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.inventory[id]; !ok {
		return &domain.NotFoundError{Entity: "inventory item", ID: id}
	}
	delete(s.inventory, id)
	s.inventoryFeed.Notify()
	return nil
}

func (s *Store) UpsertInventoryItems(_ context.Context, items []domain.InventoryItem) (int, int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	byName := make(map[string]string, len(s.inventory))
	for id, item := range s.inventory {
		byName[strings.ToLower(item.Name)] = id
	}

	created, updated := 0, 0
	now := s.now()
	for _, item := range items {
		if id, ok := byName[strings.ToLower(item.Name)]; ok {
			existing := s.inventory[id]
			existing.Name = item.Name
			existing.Unit = item.Unit
			existing.Category = item.Category
			existing.CurrentStock = item.CurrentStock
			existing.CostPerUnit = item.CostPerUnit
			existing.ReorderLevel = item.ReorderLevel
			existing.UpdatedAt = now
			s.inventory[id] = existing
			updated++
			continue
		}
		item.CreatedAt = now
		item.UpdatedAt = now
		s.inventory[item.ID] = item
		byName[strings.ToLower(item.Name)] = item.ID
		created++
	}
	s.inventoryFeed.Notify()
	return created, updated, nil
}

func (s *Store) SubscribeInventory(ctx context.Context, onChange func([]domain.InventoryItem)) error {
	return s.inventoryFeed.Run(ctx, func(ctx context.Context) error {
		items, err := s.ListInventory(ctx)
		if err != nil {
			return err
		}
		onChange(items)
		return nil
	})
}

func (s *Store) sortedInventory() []domain.InventoryItem {
	items := make([]domain.InventoryItem, 0, len(s.inventory))
	for _, item := range s.inventory {
		items = append(items, item)
	}
	sort.Slice(items, func(i, j int) bool {
		if items[i].Category != items[j].Category {
			return items[i].Category < items[j].Category
		}
		if items[i].Name != items[j].Name {
			return items[i].Name < items[j].Name
		}
		return items[i].ID < items[j].ID
	})
	return items
}

// Recipes

func (s *Store) ListRecipes(_ context.Context) ([]domain.Recipe, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sortedRecipes(), nil
}

func (s *Store) GetRecipe(_ context.Context, id string) (*domain.Recipe, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	recipe, ok := s.recipes[id]
	if !ok {
		return nil, &domain.NotFoundError{Entity: "recipe", ID: id}
	}
	recipe = cloneRecipe(recipe)
	return &recipe, nil
}

func (s *Store) CreateRecipe(_ context.Context, recipe domain.Recipe) (domain.Recipe, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now()
	recipe.CreatedAt = now
	recipe.UpdatedAt = now
	recipe = cloneRecipe(recipe)
	s.recipes[recipe.ID] = recipe
	s.recipeFeed.Notify()
	return cloneRecipe(recipe), nil
}

func (s *Store) UpdateRecipe(_ context.Context, id string, patch domain.RecipePatch) (*domain.Recipe, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	recipe, ok := s.recipes[id]
	if !ok {
		return nil, &domain.NotFoundError{Entity: "recipe", ID: id}
	}
	if patch.Name != nil {
		recipe.Name = *patch.Name
	}
	if patch.OutputQuantity != nil {
		recipe.OutputQuantity = *patch.OutputQuantity
	}
	if patch.OutputUnit != nil {
		recipe.OutputUnit = *patch.OutputUnit
	}
	if patch.Ingredients != nil {
		recipe.Ingredients = append([]domain.RecipeIngredient(nil), (*patch.Ingredients)...)
	}
	if patch.LinkedMenuItemID != nil {
		linked := *patch.LinkedMenuItemID
		if linked == "" {
			recipe.LinkedMenuItemID = nil
		} else {
			recipe.LinkedMenuItemID = &linked
		}
	}
	recipe.UpdatedAt = s.now()
	s.recipes[id] = recipe
	s.recipeFeed.Notify()
	recipe = cloneRecipe(recipe)
	return &recipe, nil
}

func (s *Store) DeleteRecipe(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.recipes[id]; !ok {
		return &domain.NotFoundError{Entity: "recipe", ID: id}
	}
	delete(s.recipes, id)
	s.recipeFeed.Notify()
	return nil
}

func (s *Store) SubscribeRecipes(ctx context.Context, onChange func([]domain.Recipe)) error {
	return s.recipeFeed.Run(ctx, func(ctx context.Context) error {
		recipes, err := s.ListRecipes(ctx)
		if err != nil {
			return err
		}
		onChange(recipes)
		return nil
	})
}

func (s *Store) sortedRecipes() []domain.Recipe {
	recipes := make([]domain.Recipe, 0, len(s.recipes))
	for _, recipe := range s.recipes {
		recipes = append(recipes, cloneRecipe(recipe))
	}
	sort.Slice(recipes, func(i, j int) bool {
		if recipes[i].Name != recipes[j].Name {
			return recipes[i].Name < recipes[j].Name
		}
		return recipes[i].ID < recipes[j].ID
	})
	return recipes
}

// cloneRecipe copies the slices and pointers of r so callers cannot reach
// the stored value.
func cloneRecipe(r domain.Recipe) domain.Recipe {
	r.Ingredients = append([]domain.RecipeIngredient(nil), r.Ingredients...)
	if r.LinkedMenuItemID != nil {
		linked := *r.LinkedMenuItemID
		r.LinkedMenuItemID = &linked
	}
	return r
}

// Ledger

func (s *Store) RecordPurchase(_ context.Context, cmd domain.PurchaseCommand) (domain.PurchaseRecord, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if id, ok, err := s.replayed("purchase", cmd.Commit.IdempotencyKey); err != nil {
		return domain.PurchaseRecord{}, false, err
	} else if ok {
		for _, p := range s.purchases {
			if p.ID == id {
				return p, true, nil
			}
		}
	}

	record := cmd.Record
	item, ok := s.inventory[record.InventoryItemID]
	if !ok {
		return domain.PurchaseRecord{}, false, &domain.NotFoundError{Entity: "inventory item", ID: record.InventoryItemID}
	}
	record.ItemName = item.Name

	item.CurrentStock = item.CurrentStock.Add(record.Quantity)
	item.CostPerUnit = record.UnitCost
	item.UpdatedAt = s.now()
	s.inventory[item.ID] = item

	s.purchases = append(s.purchases, record)
	s.remember("purchase", cmd.Commit.IdempotencyKey, record.ID)
	s.inventoryFeed.Notify()
	return record, false, nil
}

func (s *Store) RecordWaste(_ context.Context, cmd domain.WasteCommand) (domain.WasteEntry, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if id, ok, err := s.replayed("waste", cmd.Commit.IdempotencyKey); err != nil {
		return domain.WasteEntry{}, false, err
	} else if ok {
		for _, w := range s.wastes {
			if w.ID == id {
				return w, true, nil
			}
		}
	}

	entry := cmd.Entry
	item, ok := s.inventory[entry.InventoryItemID]
	if !ok {
		return domain.WasteEntry{}, false, &domain.NotFoundError{Entity: "inventory item", ID: entry.InventoryItemID}
	}
	entry.ItemName = item.Name

	item.CurrentStock = decimal.Max(decimal.Zero, item.CurrentStock.Sub(entry.Quantity))
	item.UpdatedAt = s.now()
	s.inventory[item.ID] = item

	s.wastes = append(s.wastes, entry)
	s.applyDelta(cmd.Commit.DateKey, cmd.Delta)
	s.remember("waste", cmd.Commit.IdempotencyKey, entry.ID)
	s.inventoryFeed.Notify()
	return entry, false, nil
}

func (s *Store) ExecuteProduction(_ context.Context, cmd domain.ProductionCommand) (domain.UsageLog, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if id, ok, err := s.replayed("production", cmd.Commit.IdempotencyKey); err != nil {
		return domain.UsageLog{}, false, err
	} else if ok {
		for _, u := range s.usages {
			if u.ID == id {
				return u, true, nil
			}
		}
	}

	locked := make([]domain.InventoryItem, 0, len(cmd.ItemIDs))
	for _, id := range cmd.ItemIDs {
		if item, ok := s.inventory[id]; ok {
			locked = append(locked, item)
		}
	}

	log, delta, err := cmd.Plan(locked)
	if err != nil {
		return domain.UsageLog{}, false, err
	}

	deductions := bom.Deductions(log.Ingredients)
	shortages := make([]domain.Shortage, 0)
	for _, line := range deductions {
		if line.QuantityUsed.IsZero() {
			continue
		}
		item, ok := s.inventory[line.InventoryItemID]
		if !ok || item.CurrentStock.LessThan(line.QuantityUsed) {
			shortages = append(shortages, domain.Shortage{
				InventoryItemID: line.InventoryItemID,
				Name:            line.Name,
				RequiredQty:     line.QuantityUsed,
				CurrentStock:    item.CurrentStock,
			})
		}
	}
	if len(shortages) > 0 {
		return domain.UsageLog{}, false, &domain.InsufficientStockError{Shortages: shortages}
	}

	now := s.now()
	for _, line := range deductions {
		if line.QuantityUsed.IsZero() {
			continue
		}
		item := s.inventory[line.InventoryItemID]
		item.CurrentStock = item.CurrentStock.Sub(line.QuantityUsed)
		item.UpdatedAt = now
		s.inventory[item.ID] = item
	}

	s.usages = append(s.usages, log)
	s.applyDelta(cmd.Commit.DateKey, delta)
	s.remember("production", cmd.Commit.IdempotencyKey, log.ID)
	s.inventoryFeed.Notify()
	return log, false, nil
}

func (s *Store) RecordSale(_ context.Context, cmd domain.SaleCommand) (string, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if id, ok, err := s.replayed("sale", cmd.Commit.IdempotencyKey); err != nil {
		return "", false, err
	} else if ok {
		return id, true, nil
	}
	s.applyDelta(cmd.Commit.DateKey, cmd.Delta)
	s.remember("sale", cmd.Commit.IdempotencyKey, cmd.ID)
	return cmd.ID, false, nil
}

func (s *Store) ListPurchases(_ context.Context, q domain.EventQuery) ([]domain.PurchaseRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]domain.PurchaseRecord, 0)
	for _, p := range s.purchases {
		if matches(q, p.InventoryItemID, p.PurchaseDate) {
			out = append(out, p)
		}
	}
	sortByTime(out, q.Order, func(p domain.PurchaseRecord) (time.Time, string) { return p.PurchaseDate, p.ID })
	return limit(out, q.Limit), nil
}

func (s *Store) ListWaste(_ context.Context, q domain.EventQuery) ([]domain.WasteEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]domain.WasteEntry, 0)
	for _, w := range s.wastes {
		if matches(q, w.InventoryItemID, w.WasteDate) {
			out = append(out, w)
		}
	}
	sortByTime(out, q.Order, func(w domain.WasteEntry) (time.Time, string) { return w.WasteDate, w.ID })
	return limit(out, q.Limit), nil
}

func (s *Store) ListUsageLogs(_ context.Context, q domain.EventQuery) ([]domain.UsageLog, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]domain.UsageLog, 0)
	for _, u := range s.usages {
		if q.RecipeID != "" && u.RecipeID != q.RecipeID {
			continue
		}
		if q.InventoryItemID != "" && !usesItem(u, q.InventoryItemID) {
			continue
		}
		if !inRange(q, u.Timestamp) {
			continue
		}
		u.Ingredients = append([]domain.IngredientUsage(nil), u.Ingredients...)
		out = append(out, u)
	}
	sortByTime(out, q.Order, func(u domain.UsageLog) (time.Time, string) { return u.Timestamp, u.ID })
	return limit(out, q.Limit), nil
}

// Metrics

func (s *Store) ApplyDelta(_ context.Context, dateKey string, delta domain.MetricsDelta) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.applyDelta(dateKey, delta)
	return nil
}

func (s *Store) ListDailyMetrics(_ context.Context, fromKey, toKey string) ([]domain.MetricsDoc, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	keys := make([]string, 0, len(s.metrics))
	for key := range s.metrics {
		if fromKey != "" && key < fromKey {
			continue
		}
		if toKey != "" && key > toKey {
			continue
		}
		keys = append(keys, key)
	}
	sort.Strings(keys)
	docs := make([]domain.MetricsDoc, 0, len(keys))
	for _, key := range keys {
		docs = append(docs, s.metrics[key].Doc())
	}
	return docs, nil
}

func (s *Store) ItemKeyIndex(_ context.Context) ([]domain.ItemKeyNames, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]domain.ItemKeyNames, 0, len(s.keyNames))
	for key, names := range s.keyNames {
		entry := domain.ItemKeyNames{Key: key, Names: make([]string, 0, len(names))}
		for name := range names {
			entry.Names = append(entry.Names, name)
		}
		sort.Strings(entry.Names)
		out = append(out, entry)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out, nil
}

func (s *Store) applyDelta(dateKey string, delta domain.MetricsDelta) {
	if delta.IsZero() {
		return
	}
	record, ok := s.metrics[dateKey]
	if !ok {
		record = &dailymetrics.Record{Date: dateKey}
		s.metrics[dateKey] = record
	}
	record.Apply(delta)
	for _, item := range delta.Items {
		key := dailymetrics.Sanitize(item.Name)
		if key == "" {
			continue
		}
		if s.keyNames[key] == nil {
			s.keyNames[key] = make(map[string]struct{})
		}
		s.keyNames[key][item.Name] = struct{}{}
	}
}

func (s *Store) replayed(kind, key string) (string, bool, error) {
	if key == "" {
		return "", false, nil
	}
	entry, ok := s.idem[key]
	if !ok {
		return "", false, nil
	}
	if entry.kind != kind {
		return "", false, domain.NewValidationError("idempotency_key", "already used for a "+entry.kind)
	}
	return entry.resultID, true, nil
}

func (s *Store) remember(kind, key, resultID string) {
	if key == "" {
		return
	}
	s.idem[key] = idempotencyEntry{kind: kind, resultID: resultID}
}

func matches(q domain.EventQuery, itemID string, at time.Time) bool {
	if q.InventoryItemID != "" && q.InventoryItemID != itemID {
		return false
	}
	return inRange(q, at)
}

func inRange(q domain.EventQuery, at time.Time) bool {
	if q.From != nil && at.Before(*q.From) {
		return false
	}
	if q.To != nil && at.After(*q.To) {
		return false
	}
	return true
}

func usesItem(u domain.UsageLog, itemID string) bool {
	for _, line := range u.Ingredients {
		if line.InventoryItemID == itemID {
			return true
		}
	}
	return false
}

func sortByTime[T any](items []T, order domain.EventOrder, key func(T) (time.Time, string)) {
	sort.SliceStable(items, func(i, j int) bool {
		ti, idi := key(items[i])
		tj, idj := key(items[j])
		if !ti.Equal(tj) {
			if order == domain.OrderDesc {
				return ti.After(tj)
			}
			return ti.Before(tj)
		}
		return idi < idj
	})
}

func limit[T any](items []T, n int) []T {
	if n > 0 && len(items) > n {
		return items[:n]
	}
	return items
}
