// Package report renders backfill run outcomes as spreadsheet files for the
// operations team.
package report

import (
	"fmt"
	"strconv"

	"github.com/xuri/excelize/v2"

	"github.com/ttavares/comexsync/internal/backfill"
)

const (
	summarySheet = "Summary"
	itemsSheet   = "Items"
)

// WriteXLSX writes a run summary plus the unknown/error items to path.
// Dry runs are labeled as such so their previews are not mistaken for writes.
func WriteXLSX(path string, summary backfill.Summary) error {
	f := excelize.NewFile()
	defer func() { _ = f.Close() }()

	f.SetSheetName(f.GetSheetName(0), summarySheet)

	label := "backfill run"
	if summary.DryRun {
		label = "backfill DRY RUN (no writes performed)"
	}
	rows := [][]string{
		{label, ""},
		{"scanned", strconv.Itoa(summary.Scanned)},
		{"migrated", strconv.Itoa(summary.Migrated)},
		{"existing", strconv.Itoa(summary.Existing)},
		{"skipped", strconv.Itoa(summary.Skipped)},
		{"unknown", strconv.Itoa(summary.Unknown)},
		{"errors", strconv.Itoa(summary.Errors)},
	}
	for i, row := range rows {
		cell, _ := excelize.CoordinatesToCellName(1, i+1)
		if err := f.SetSheetRow(summarySheet, cell, &row); err != nil {
			return fmt.Errorf("failed to write summary row: %w", err)
		}
	}

	if _, err := f.NewSheet(itemsSheet); err != nil {
		return fmt.Errorf("failed to create items sheet: %w", err)
	}
	header := []string{"number", "kind", "status", "detail"}
	if err := f.SetSheetRow(itemsSheet, "A1", &header); err != nil {
		return fmt.Errorf("failed to write items header: %w", err)
	}
	for i, item := range summary.SortedUnknowns() {
		row := []string{item.Number, string(item.Kind), item.Status, item.Detail}
		cell, _ := excelize.CoordinatesToCellName(1, i+2)
		if err := f.SetSheetRow(itemsSheet, cell, &row); err != nil {
			return fmt.Errorf("failed to write item row: %w", err)
		}
	}

	if err := f.SaveAs(path); err != nil {
		return fmt.Errorf("failed to save report %s: %w", path, err)
	}
	return nil
}
