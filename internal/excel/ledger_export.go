package excel

import (
	"fmt"
	"io"
	"time"

	"github.com/xuri/excelize/v2"

	"kitchenledger/internal/domain"
)

const (
	ledgerSheet    = "Ledger"
	breakdownSheet = "Categories"
)

var ledgerHeader = []any{"Date", "Type", "Label", "Quantity", "Value"}

var breakdownHeader = []any{"Category", "Spent", "Utilized", "Wasted"}

// WriteLedger writes the ledger and, when given, the category breakdown as
// an xlsx workbook. Dates are written in loc.
func WriteLedger(w io.Writer, ledger []domain.LedgerEvent, breakdown []domain.CategoryBreakdown, loc *time.Location) error {
	if loc == nil {
		loc = time.UTC
	}
	file := excelize.NewFile()
	defer file.Close()

	if err := file.SetSheetName(file.GetSheetName(0), ledgerSheet); err != nil {
		return fmt.Errorf("rename sheet: %w", err)
	}
	if err := file.SetSheetRow(ledgerSheet, "A1", &ledgerHeader); err != nil {
		return fmt.Errorf("write ledger header: %w", err)
	}
	for i, event := range ledger {
		cell, err := excelize.CoordinatesToCellName(1, i+2)
		if err != nil {
			return err
		}
		row := []any{
			event.Date.In(loc).Format("2006-01-02 15:04"),
			string(event.Type),
			event.Label,
			event.QuantityDelta.InexactFloat64(),
			event.Value.InexactFloat64(),
		}
		if err := file.SetSheetRow(ledgerSheet, cell, &row); err != nil {
			return fmt.Errorf("write ledger row %d: %w", i+2, err)
		}
	}

	if len(breakdown) > 0 {
		if _, err := file.NewSheet(breakdownSheet); err != nil {
			return fmt.Errorf("create breakdown sheet: %w", err)
		}
		if err := file.SetSheetRow(breakdownSheet, "A1", &breakdownHeader); err != nil {
			return fmt.Errorf("write breakdown header: %w", err)
		}
		for i, row := range breakdown {
			cell, err := excelize.CoordinatesToCellName(1, i+2)
			if err != nil {
				return err
			}
			values := []any{
				row.Category,
				row.Spent.InexactFloat64(),
				row.Utilized.InexactFloat64(),
				row.Wasted.InexactFloat64(),
			}
			if err := file.SetSheetRow(breakdownSheet, cell, &values); err != nil {
				return fmt.Errorf("write breakdown row %d: %w", i+2, err)
			}
		}
	}

	if err := file.Write(w); err != nil {
		return fmt.Errorf("write workbook: %w", err)
	}
	return nil
}
