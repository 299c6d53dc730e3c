package sink

import (
	"os"
	"path/filepath"

	"github.com/xuri/excelize/v2"

	"stocktracker/internal"
)

// ExportRowsToXLSX writes the report rows to a local workbook for offline
// use, with the same column layout as the sheet sink.
func ExportRowsToXLSX(rows []internal.ReportRow, outputPath string) error {
	f := excelize.NewFile()
	sheet := f.GetSheetName(0)

	for i, h := range Header {
		cell, _ := excelize.CoordinatesToCellName(i+1, 1)
		_ = f.SetCellValue(sheet, cell, h)
	}

	for i, row := range rows {
		for col, value := range Values(row) {
			cell, _ := excelize.CoordinatesToCellName(col+1, i+2)
			_ = f.SetCellValue(sheet, cell, value)
		}
	}

	if err := os.MkdirAll(filepath.Dir(outputPath), 0o755); err != nil {
		return err
	}
	return f.SaveAs(outputPath)
}
