package excel

import (
	"bytes"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"

	"kitchenledger/internal/domain"
)

func workbook(t *testing.T, rows [][]any) *bytes.Buffer {
	t.Helper()
	file := excelize.NewFile()
	defer file.Close()
	sheet := file.GetSheetName(0)
	for i, row := range rows {
		cell, err := excelize.CoordinatesToCellName(1, i+1)
		require.NoError(t, err)
		require.NoError(t, file.SetSheetRow(sheet, cell, &row))
	}
	var buf bytes.Buffer
	require.NoError(t, file.Write(&buf))
	return &buf
}

func TestParseInventoryRows(t *testing.T) {
	buf := workbook(t, [][]any{
		{"Item Name", "UOM", "Category", "On Hand", "Unit Cost", "Reorder_Level"},
		{"Flour", "kg", "Dry", "12.5", "0.8", "5"},
		{"", "", "", "", "", ""},
		{" Milk ", "l", "Dairy", "1,200", "", ""},
	})

	rows, err := ParseInventoryRows(buf)
	require.NoError(t, err)
	require.Len(t, rows, 2)

	assert.Equal(t, "Flour", rows[0].Name)
	assert.Equal(t, "kg", rows[0].Unit)
	assert.Equal(t, "Dry", rows[0].Category)
	assert.True(t, rows[0].CurrentStock.Equal(decimal.RequireFromString("12.5")))
	assert.True(t, rows[0].CostPerUnit.Equal(decimal.RequireFromString("0.8")))
	assert.True(t, rows[0].ReorderLevel.Equal(decimal.NewFromInt(5)))

	assert.Equal(t, "Milk", rows[1].Name)
	assert.True(t, rows[1].CurrentStock.Equal(decimal.NewFromInt(1200)))
	assert.True(t, rows[1].CostPerUnit.IsZero())
}

func TestParseInventoryRowsErrors(t *testing.T) {
	_, err := ParseInventoryRows(workbook(t, [][]any{{"Name", "Unit"}, {"Flour", "kg"}}))
	assert.ErrorContains(t, err, "missing required column: current_stock")

	_, err = ParseInventoryRows(workbook(t, [][]any{{"Name", "Stock"}, {"Flour", "lots"}}))
	assert.ErrorContains(t, err, "row 2 invalid current_stock")

	_, err = ParseInventoryRows(workbook(t, [][]any{{"Name", "Stock"}}))
	assert.ErrorContains(t, err, "no valid data rows")

	_, err = ParseInventoryRows(bytes.NewBufferString("not a workbook"))
	assert.Error(t, err)
}

func TestWriteLedger(t *testing.T) {
	at := time.Date(2026, 3, 1, 9, 30, 0, 0, time.UTC)
	ledger := []domain.LedgerEvent{
		{ID: "p1", Type: domain.LedgerPurchase, Label: "Flour", Date: at, QuantityDelta: decimal.NewFromInt(10), Value: decimal.NewFromInt(8)},
		{ID: "w1", Type: domain.LedgerWaste, Label: "Milk", Date: at.Add(time.Hour), QuantityDelta: decimal.NewFromInt(-2), Value: decimal.NewFromInt(3)},
	}
	breakdown := []domain.CategoryBreakdown{
		{Category: "Dry", Spent: decimal.NewFromInt(8), Utilized: decimal.Zero, Wasted: decimal.Zero},
	}

	var buf bytes.Buffer
	require.NoError(t, WriteLedger(&buf, ledger, breakdown, time.UTC))

	file, err := excelize.OpenReader(&buf)
	require.NoError(t, err)
	defer file.Close()

	assert.Equal(t, []string{ledgerSheet, breakdownSheet}, file.GetSheetList())

	rows, err := file.GetRows(ledgerSheet)
	require.NoError(t, err)
	require.Len(t, rows, 3)
	assert.Equal(t, []string{"Date", "Type", "Label", "Quantity", "Value"}, rows[0])
	assert.Equal(t, []string{"2026-03-01 09:30", "PURCHASE", "Flour", "10", "8"}, rows[1])
	assert.Equal(t, "-2", rows[2][3])

	categories, err := file.GetRows(breakdownSheet)
	require.NoError(t, err)
	require.Len(t, categories, 2)
	assert.Equal(t, "Dry", categories[1][0])
}
