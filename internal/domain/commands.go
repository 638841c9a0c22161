package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// Commit identifies where a business event lands: the local date of the
// DailyMetrics record it touches and an optional caller idempotency token.
type Commit struct {
	DateKey        string
	IdempotencyKey string
}

type ItemSalesDelta struct {
	Name    string          `json:"name"`
	Qty     decimal.Decimal `json:"qty"`
	Revenue decimal.Decimal `json:"revenue"`
}

// MetricsDelta is a set of independent increments for one DailyMetrics record.
type MetricsDelta struct {
	Sales        decimal.Decimal  `json:"sales"`
	Orders       int64            `json:"orders"`
	DineInTables int64            `json:"dine_in_tables"`
	COGS         decimal.Decimal  `json:"cogs"`
	WastageLoss  decimal.Decimal  `json:"wastage_loss"`
	Items        []ItemSalesDelta `json:"items,omitempty"`
}

func (d MetricsDelta) IsZero() bool {
	return d.Sales.IsZero() && d.Orders == 0 && d.DineInTables == 0 &&
		d.COGS.IsZero() && d.WastageLoss.IsZero() && len(d.Items) == 0
}

type PurchaseCommand struct {
	Record PurchaseRecord
	Commit Commit
}

type WasteCommand struct {
	Entry  WasteEntry
	Delta  MetricsDelta
	Commit Commit
}

// ProductionPlan decides a production run against ingredient rows that the
// store has already locked. Returning an error aborts the run with no writes.
type ProductionPlan func(locked []InventoryItem) (UsageLog, MetricsDelta, error)

// ProductionCommand runs Plan against the locked ItemIDs. ID is the id the
// planned UsageLog carries; stores claim it before planning.
type ProductionCommand struct {
	ID      string
	ItemIDs []string
	Plan    ProductionPlan
	Commit  Commit
}

type SaleCommand struct {
	ID     string
	Delta  MetricsDelta
	Commit Commit
}

type PurchaseRequest struct {
	InventoryItemID string          `json:"inventory_item_id"`
	Quantity        decimal.Decimal `json:"quantity"`
	UnitCost        decimal.Decimal `json:"unit_cost"`
	IdempotencyKey  string          `json:"idempotency_key,omitempty"`
}

type WasteRequest struct {
	InventoryItemID string          `json:"inventory_item_id"`
	Quantity        decimal.Decimal `json:"quantity"`
	Reason          string          `json:"reason"`
	UnitCost        decimal.Decimal `json:"unit_cost"`
	IdempotencyKey  string          `json:"idempotency_key,omitempty"`
}

type ProductionRequest struct {
	RecipeID       string          `json:"recipe_id"`
	TargetQuantity decimal.Decimal `json:"target_quantity"`
	IdempotencyKey string          `json:"idempotency_key,omitempty"`
}

type SaleLine struct {
	Name      string          `json:"name"`
	Qty       decimal.Decimal `json:"qty"`
	UnitPrice decimal.Decimal `json:"unit_price"`
}

type SaleRequest struct {
	Items          []SaleLine `json:"items"`
	DineIn         bool       `json:"dine_in"`
	IdempotencyKey string     `json:"idempotency_key,omitempty"`
}

type SaleResult struct {
	ID       string          `json:"id"`
	DateKey  string          `json:"date_key"`
	Revenue  decimal.Decimal `json:"revenue"`
	Replayed bool            `json:"replayed,omitempty"`
	At       time.Time       `json:"at"`
}
