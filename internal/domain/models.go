package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

type InventoryItem struct {
	ID           string          `json:"id"`
	Name         string          `json:"name"`
	Unit         string          `json:"unit"`
	CurrentStock decimal.Decimal `json:"current_stock"`
	CostPerUnit  decimal.Decimal `json:"cost_per_unit"`
	ReorderLevel decimal.Decimal `json:"reorder_level"`
	Category     string          `json:"category"`
	CreatedAt    time.Time       `json:"created_at"`
	UpdatedAt    time.Time       `json:"updated_at"`
}

type InventoryItemInput struct {
	Name         string          `json:"name"`
	Unit         string          `json:"unit"`
	CurrentStock decimal.Decimal `json:"current_stock"`
	CostPerUnit  decimal.Decimal `json:"cost_per_unit"`
	ReorderLevel decimal.Decimal `json:"reorder_level"`
	Category     string          `json:"category"`
}

// InventoryItemPatch carries the fields to overwrite; nil means unchanged.
// Stock is deliberately absent: it only moves through purchases, waste and
// production.
type InventoryItemPatch struct {
	Name         *string          `json:"name"`
	Unit         *string          `json:"unit"`
	CostPerUnit  *decimal.Decimal `json:"cost_per_unit"`
	ReorderLevel *decimal.Decimal `json:"reorder_level"`
	Category     *string          `json:"category"`
}

type RecipeIngredient struct {
	InventoryItemID string          `json:"inventory_item_id"`
	Name            string          `json:"name"`
	Quantity        decimal.Decimal `json:"quantity"`
	Unit            string          `json:"unit"`
}

type Recipe struct {
	ID               string             `json:"id"`
	Name             string             `json:"name"`
	OutputQuantity   decimal.Decimal    `json:"output_quantity"`
	OutputUnit       string             `json:"output_unit"`
	Ingredients      []RecipeIngredient `json:"ingredients"`
	LinkedMenuItemID *string            `json:"linked_menu_item_id,omitempty"`
	CreatedAt        time.Time          `json:"created_at"`
	UpdatedAt        time.Time          `json:"updated_at"`
}

type RecipeInput struct {
	Name             string             `json:"name"`
	OutputQuantity   decimal.Decimal    `json:"output_quantity"`
	OutputUnit       string             `json:"output_unit"`
	Ingredients      []RecipeIngredient `json:"ingredients"`
	LinkedMenuItemID *string            `json:"linked_menu_item_id,omitempty"`
}

type RecipePatch struct {
	Name             *string             `json:"name"`
	OutputQuantity   *decimal.Decimal    `json:"output_quantity"`
	OutputUnit       *string             `json:"output_unit"`
	Ingredients      *[]RecipeIngredient `json:"ingredients"`
	LinkedMenuItemID *string             `json:"linked_menu_item_id"`
}

type PurchaseRecord struct {
	ID              string          `json:"id"`
	InventoryItemID string          `json:"inventory_item_id"`
	ItemName        string          `json:"item_name"`
	Quantity        decimal.Decimal `json:"quantity"`
	UnitCost        decimal.Decimal `json:"unit_cost"`
	TotalCost       decimal.Decimal `json:"total_cost"`
	PurchaseDate    time.Time       `json:"purchase_date"`
}

type WasteEntry struct {
	ID              string          `json:"id"`
	InventoryItemID string          `json:"inventory_item_id"`
	ItemName        string          `json:"item_name"`
	Quantity        decimal.Decimal `json:"quantity"`
	Reason          string          `json:"reason"`
	UnitCost        decimal.Decimal `json:"unit_cost"`
	TotalCost       decimal.Decimal `json:"total_cost"`
	WasteDate       time.Time       `json:"waste_date"`
}

type IngredientUsage struct {
	InventoryItemID string          `json:"inventory_item_id"`
	Name            string          `json:"name"`
	QuantityUsed    decimal.Decimal `json:"quantity_used"`
	Unit            string          `json:"unit"`
	Cost            decimal.Decimal `json:"cost"`
}

// UsageLog is the production record. TotalCost is a snapshot and is never
// recomputed when costPerUnit changes later.
type UsageLog struct {
	ID             string            `json:"id"`
	RecipeID       string            `json:"recipe_id"`
	RecipeName     string            `json:"recipe_name"`
	TargetQuantity decimal.Decimal   `json:"target_quantity"`
	OutputUnit     string            `json:"output_unit"`
	Multiplier     decimal.Decimal   `json:"multiplier"`
	Ingredients    []IngredientUsage `json:"ingredients"`
	TotalCost      decimal.Decimal   `json:"total_cost"`
	Timestamp      time.Time         `json:"timestamp"`
}

type IngredientRequirement struct {
	InventoryItemID string          `json:"inventory_item_id"`
	Name            string          `json:"name"`
	Unit            string          `json:"unit"`
	RequiredQty     decimal.Decimal `json:"required_qty"`
	CurrentStock    decimal.Decimal `json:"current_stock"`
	CostPerUnit     decimal.Decimal `json:"cost_per_unit"`
	IngredientCost  decimal.Decimal `json:"ingredient_cost"`
	Sufficient      bool            `json:"sufficient"`
	Deficit         decimal.Decimal `json:"deficit"`
}

type BOMResult struct {
	RecipeID       string                  `json:"recipe_id"`
	RecipeName     string                  `json:"recipe_name"`
	TargetQuantity decimal.Decimal         `json:"target_quantity"`
	OutputUnit     string                  `json:"output_unit"`
	Multiplier     decimal.Decimal         `json:"multiplier"`
	Ingredients    []IngredientRequirement `json:"ingredients"`
	TotalCost      decimal.Decimal         `json:"total_cost"`
	AllInStock     bool                    `json:"all_in_stock"`
}

// MetricsDoc is one DailyMetrics record in its document form. Item sales may
// appear either nested under "itemSales" or as flattened "itemSales.<key>.<field>"
// keys, depending on how the record was written.
type MetricsDoc map[string]any

const (
	MetricsFieldDate        = "date"
	MetricsFieldSales       = "totalSales"
	MetricsFieldOrders      = "totalOrders"
	MetricsFieldDineIn      = "dineInTables"
	MetricsFieldCOGS        = "totalCOGS"
	MetricsFieldWastageLoss = "totalWastageLoss"
	MetricsFieldItemSales   = "itemSales"
)

type ItemKeyNames struct {
	Key   string   `json:"key"`
	Names []string `json:"names"`
}

type EventOrder string

const (
	OrderAsc  EventOrder = "asc"
	OrderDesc EventOrder = "desc"
)

type EventQuery struct {
	InventoryItemID string
	RecipeID        string
	From            *time.Time
	To              *time.Time
	Order           EventOrder
	Limit           int
}

type LedgerEventType string

const (
	LedgerPurchase   LedgerEventType = "PURCHASE"
	LedgerProduction LedgerEventType = "PRODUCTION"
	LedgerWaste      LedgerEventType = "WASTE"
)

type LedgerEvent struct {
	ID            string          `json:"id"`
	Type          LedgerEventType `json:"type"`
	Label         string          `json:"label"`
	Date          time.Time       `json:"date"`
	QuantityDelta decimal.Decimal `json:"quantity_delta"`
	Value         decimal.Decimal `json:"value"`
}

type CategoryBreakdown struct {
	Category string          `json:"category"`
	Spent    decimal.Decimal `json:"spent"`
	Utilized decimal.Decimal `json:"utilized"`
	Wasted   decimal.Decimal `json:"wasted"`
}

type ItemSalesTotal struct {
	Key     string          `json:"key"`
	Name    string          `json:"name"`
	Qty     decimal.Decimal `json:"qty"`
	Revenue decimal.Decimal `json:"revenue"`
}

type DailySummary struct {
	From             string          `json:"from"`
	To               string          `json:"to"`
	Days             int             `json:"days"`
	TotalSales       decimal.Decimal `json:"total_sales"`
	TotalOrders      int64           `json:"total_orders"`
	DineInTables     int64           `json:"dine_in_tables"`
	TotalCOGS        decimal.Decimal `json:"total_cogs"`
	TotalWastageLoss decimal.Decimal `json:"total_wastage_loss"`
}

type InventorySummary struct {
	TotalItems     int             `json:"total_items"`
	InventoryValue decimal.Decimal `json:"inventory_value"`
	LowStockCount  int             `json:"low_stock_count"`
}

type LowStockRow struct {
	InventoryItemID string          `json:"inventory_item_id"`
	Name            string          `json:"name"`
	Category        string          `json:"category"`
	Unit            string          `json:"unit"`
	CurrentStock    decimal.Decimal `json:"current_stock"`
	ReorderLevel    decimal.Decimal `json:"reorder_level"`
	Needed          decimal.Decimal `json:"needed"`
}

type InventoryImportRow struct {
	Name         string          `json:"name"`
	Unit         string          `json:"unit"`
	Category     string          `json:"category"`
	CurrentStock decimal.Decimal `json:"current_stock"`
	CostPerUnit  decimal.Decimal `json:"cost_per_unit"`
	ReorderLevel decimal.Decimal `json:"reorder_level"`
}
