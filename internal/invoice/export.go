package invoice

import (
	"fmt"
	"strings"

	"github.com/xuri/excelize/v2"
)

const exportSheet = "Invoices"

var exportHeaders = []string{
	"ID",
	"Filename",
	"Upload Time",
	"Date",
	"Vendor",
	"Invoice ID",
	"Tax",
	"Total",
	"Pages",
	"Valid",
	"Duplicates",
	"Notes",
}

// ExportXLSX renders invoices as a single-sheet workbook, one row per invoice
// in the order given
func ExportXLSX(invoices []*Invoice) ([]byte, error) {
	f := excelize.NewFile()
	defer f.Close()

	if err := f.SetSheetName("Sheet1", exportSheet); err != nil {
		return nil, fmt.Errorf("naming sheet: %w", err)
	}

	for i, h := range exportHeaders {
		cell, _ := excelize.CoordinatesToCellName(i+1, 1)
		if err := f.SetCellValue(exportSheet, cell, h); err != nil {
			return nil, fmt.Errorf("writing header: %w", err)
		}
	}

	for i, inv := range invoices {
		row := i + 2
		dups := make([]string, 0, len(inv.Fields.Duplicates))
		for _, id := range inv.Fields.Duplicates {
			dups = append(dups, fmt.Sprintf("%d", id))
		}
		values := []any{
			inv.ID,
			inv.Filename,
			inv.UploadTime.Format("2006-01-02 15:04:05"),
			inv.Fields.Date,
			inv.Fields.Vendor,
			inv.Fields.InvoiceID,
			ParseAmount(inv.Fields.Tax),
			ParseAmount(inv.Fields.TotalAmount),
			inv.Fields.PageCount,
			inv.Fields.Validation.Valid,
			strings.Join(dups, ", "),
			inv.Notes,
		}
		for col, v := range values {
			cell, _ := excelize.CoordinatesToCellName(col+1, row)
			if err := f.SetCellValue(exportSheet, cell, v); err != nil {
				return nil, fmt.Errorf("writing row %d: %w", row, err)
			}
		}
	}

	for col, width := range map[string]float64{"B": 32, "C": 20, "E": 28, "L": 48} {
		if err := f.SetColWidth(exportSheet, col, col, width); err != nil {
			return nil, fmt.Errorf("setting width of column %s: %w", col, err)
		}
	}

	buf, err := f.WriteToBuffer()
	if err != nil {
		return nil, fmt.Errorf("xlsx write: %w", err)
	}
	return buf.Bytes(), nil
}
