package service

import (
	"context"

	"kitchenledger/internal/domain"
)

// InventoryStore is CRUD plus a push-based change feed over inventory items.
// List and the feed return items ordered by category, then name.
type InventoryStore interface {
	ListInventory(ctx context.Context) ([]domain.InventoryItem, error)
	GetInventoryItem(ctx context.Context, id string) (*domain.InventoryItem, error)
	CreateInventoryItem(ctx context.Context, item domain.InventoryItem) (domain.InventoryItem, error)
	UpdateInventoryItem(ctx context.Context, id string, patch domain.InventoryItemPatch) (*domain.InventoryItem, error)
	DeleteInventoryItem(ctx context.Context, id string) error
	UpsertInventoryItems(ctx context.Context, items []domain.InventoryItem) (created int, updated int, err error)
	// SubscribeInventory calls onChange with the full list once, then again
	// after every change, until ctx is done.
	SubscribeInventory(ctx context.Context, onChange func([]domain.InventoryItem)) error
}

type RecipeStore interface {
	ListRecipes(ctx context.Context) ([]domain.Recipe, error)
	GetRecipe(ctx context.Context, id string) (*domain.Recipe, error)
	CreateRecipe(ctx context.Context, recipe domain.Recipe) (domain.Recipe, error)
	UpdateRecipe(ctx context.Context, id string, patch domain.RecipePatch) (*domain.Recipe, error)
	DeleteRecipe(ctx context.Context, id string) error
	SubscribeRecipes(ctx context.Context, onChange func([]domain.Recipe)) error
}

// LedgerStore applies business events. Every method is one atomic batch: the
// event record, the stock change and the DailyMetrics increments land
// together or not at all. The bool result reports that the idempotency key of
// the command had already been used and the original record was returned. A
// key reused for a different kind of event is a validation error.
type LedgerStore interface {
	RecordPurchase(ctx context.Context, cmd domain.PurchaseCommand) (domain.PurchaseRecord, bool, error)
	RecordWaste(ctx context.Context, cmd domain.WasteCommand) (domain.WasteEntry, bool, error)
	ExecuteProduction(ctx context.Context, cmd domain.ProductionCommand) (domain.UsageLog, bool, error)
	RecordSale(ctx context.Context, cmd domain.SaleCommand) (string, bool, error)

	ListPurchases(ctx context.Context, q domain.EventQuery) ([]domain.PurchaseRecord, error)
	ListWaste(ctx context.Context, q domain.EventQuery) ([]domain.WasteEntry, error)
	ListUsageLogs(ctx context.Context, q domain.EventQuery) ([]domain.UsageLog, error)
}

// MetricsStore holds one DailyMetrics record per local date. ApplyDelta adds
// each field independently and never reads the record first.
type MetricsStore interface {
	ApplyDelta(ctx context.Context, dateKey string, delta domain.MetricsDelta) error
	ListDailyMetrics(ctx context.Context, fromKey, toKey string) ([]domain.MetricsDoc, error)
	ItemKeyIndex(ctx context.Context) ([]domain.ItemKeyNames, error)
}

type Store interface {
	InventoryStore
	RecipeStore
	LedgerStore
	MetricsStore
}
