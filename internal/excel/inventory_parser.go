// Package excel reads inventory stocktakes from spreadsheets and writes
// ledger exports back out.
package excel

import (
	"fmt"
	"io"
	"strings"

	"github.com/shopspring/decimal"
	"github.com/xuri/excelize/v2"

	"kitchenledger/internal/domain"
)

var headerAliases = map[string]string{
	"name":          "name",
	"item":          "name",
	"item name":     "name",
	"ingredient":    "name",
	"product name":  "name",
	"unit":          "unit",
	"uom":           "unit",
	"category":      "category",
	"group":         "category",
	"current stock": "current_stock",
	"stock":         "current_stock",
	"quantity":      "current_stock",
	"qty":           "current_stock",
	"on hand":       "current_stock",
	"cost per unit": "cost_per_unit",
	"unit cost":     "cost_per_unit",
	"cost":          "cost_per_unit",
	"price":         "cost_per_unit",
	"reorder level": "reorder_level",
	"reorder":       "reorder_level",
	"min stock":     "reorder_level",
	"par level":     "reorder_level",
}

// ParseInventoryRows reads the first sheet of an xlsx stocktake. The header
// row decides the column order; name and current_stock are required.
func ParseInventoryRows(reader io.Reader) ([]domain.InventoryImportRow, error) {
	file, err := excelize.OpenReader(reader)
	if err != nil {
		return nil, fmt.Errorf("open excel file: %w", err)
	}
	defer file.Close()

	sheets := file.GetSheetList()
	if len(sheets) == 0 {
		return nil, fmt.Errorf("excel file has no sheets")
	}

	rows, err := file.GetRows(sheets[0])
	if err != nil {
		return nil, fmt.Errorf("read sheet rows: %w", err)
	}
	if len(rows) == 0 {
		return nil, fmt.Errorf("excel file is empty")
	}

	colMap := mapColumns(rows[0])
	for _, column := range []string{"name", "current_stock"} {
		if _, ok := colMap[column]; !ok {
			return nil, fmt.Errorf("missing required column: %s", column)
		}
	}

	result := make([]domain.InventoryImportRow, 0, len(rows)-1)
	for index := 1; index < len(rows); index++ {
		cells := rows[index]
		name := strings.TrimSpace(readCell(cells, colMap["name"]))
		if name == "" {
			continue
		}

		stock, err := parseDecimal(readCell(cells, colMap["current_stock"]))
		if err != nil {
			return nil, fmt.Errorf("row %d invalid current_stock: %w", index+1, err)
		}

		row := domain.InventoryImportRow{
			Name:         name,
			Unit:         optionalText(cells, colMap, "unit"),
			Category:     optionalText(cells, colMap, "category"),
			CurrentStock: stock,
		}
		if row.CostPerUnit, err = optionalDecimal(cells, colMap, "cost_per_unit"); err != nil {
			return nil, fmt.Errorf("row %d invalid cost_per_unit: %w", index+1, err)
		}
		if row.ReorderLevel, err = optionalDecimal(cells, colMap, "reorder_level"); err != nil {
			return nil, fmt.Errorf("row %d invalid reorder_level: %w", index+1, err)
		}
		result = append(result, row)
	}

	if len(result) == 0 {
		return nil, fmt.Errorf("excel file has no valid data rows")
	}
	return result, nil
}

func mapColumns(header []string) map[string]int {
	mapped := make(map[string]int)
	for idx, col := range header {
		normalized := normalizeHeader(col)
		if normalized == "" {
			continue
		}
		canonical, ok := headerAliases[normalized]
		if !ok {
			continue
		}
		if _, exists := mapped[canonical]; !exists {
			mapped[canonical] = idx
		}
	}
	return mapped
}

func normalizeHeader(raw string) string {
	value := strings.TrimSpace(raw)
	value = strings.TrimPrefix(value, "\ufeff")
	value = strings.ToLower(value)
	value = strings.ReplaceAll(value, "_", " ")
	return strings.Join(strings.Fields(value), " ")
}

func readCell(row []string, idx int) string {
	if idx < 0 || idx >= len(row) {
		return ""
	}
	return row[idx]
}

func optionalText(cells []string, colMap map[string]int, column string) string {
	idx, ok := colMap[column]
	if !ok {
		return ""
	}
	return strings.TrimSpace(readCell(cells, idx))
}

func optionalDecimal(cells []string, colMap map[string]int, column string) (decimal.Decimal, error) {
	raw := optionalText(cells, colMap, column)
	if raw == "" {
		return decimal.Zero, nil
	}
	return parseDecimal(raw)
}

func parseDecimal(raw string) (decimal.Decimal, error) {
	value := strings.ReplaceAll(strings.TrimSpace(raw), ",", "")
	if value == "" {
		return decimal.Zero, fmt.Errorf("value is empty")
	}
	parsed, err := decimal.NewFromString(value)
	if err != nil {
		return decimal.Zero, fmt.Errorf("not a number")
	}
	return parsed, nil
}
