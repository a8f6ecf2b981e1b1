/*
Package report renders finished runs into distributable artifacts.

PURPOSE:
  Turns an engine.RunResult into the workbook the compensation office
  actually reviews: per-physician summaries, the full line item detail, the
  issue report, unattributed billing, and excluded input rows, each on its
  own sheet.

FORMAT NOTES:
  Money and wRVU cells are written as decimal strings, never floats, so
  nothing is re-rounded by the spreadsheet. Timestamps use the run's
  canonical timezone as stored on the result.
*/
package report

import (
	"bytes"
	"fmt"

	"github.com/shopspring/decimal"
	"github.com/xuri/excelize/v2"

	"github.com/warp/comp-engine/engine"
)

// =============================================================================
// SHEET LAYOUTS
// =============================================================================

var summaryHeader = []string{
	"Physician", "Shifts", "Hours", "wRVU", "wRVU/Hour", "Base Pay", "Differentials",
	"Productivity Incentive", "Performance Incentive", "Period Total",
}

var lineItemHeader = []string{
	"Physician", "Shift", "Start", "End", "Hours", "Base Rate", "Base Pay",
	"Differentials", "wRVU", "Productivity Incentive", "Performance Incentive", "Total",
}

var issueHeader = []string{"Physician", "Shift", "Kind", "Severity", "Detail"}

var unattributedHeader = []string{"Physician", "Date", "wRVU", "Shift Key"}

var failureHeader = []string{"Source", "Source Key", "Kind", "Detail"}

const timeLayout = "2006-01-02 15:04"

// =============================================================================
// WORKBOOK GENERATION
// =============================================================================

// ExcelWorkbook renders the run into a multi-sheet .xlsx workbook.
func ExcelWorkbook(result *engine.RunResult) ([]byte, error) {
	f := excelize.NewFile()
	// WriteTo needs the file open; close only on error paths.

	headerStyle, err := f.NewStyle(&excelize.Style{
		Font: &excelize.Font{Bold: true},
		Fill: excelize.Fill{Type: "pattern", Color: []string{"#E6F3FF"}, Pattern: 1},
		Border: []excelize.Border{
			{Type: "left", Color: "000000", Style: 1},
			{Type: "top", Color: "000000", Style: 1},
			{Type: "bottom", Color: "000000", Style: 1},
			{Type: "right", Color: "000000", Style: 1},
		},
		Alignment: &excelize.Alignment{Horizontal: "center", Vertical: "center"},
	})
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("failed to create header style: %w", err)
	}

	sheets := []struct {
		name   string
		header []string
		rows   [][]any
	}{
		{"Summary", summaryHeader, summaryRows(result)},
		{"Line Items", lineItemHeader, lineItemRows(result)},
		{"Issues", issueHeader, issueRows(result)},
		{"Unattributed", unattributedHeader, unattributedRows(result)},
		{"Failures", failureHeader, failureRows(result)},
	}

	for i, sheet := range sheets {
		index, err := f.NewSheet(sheet.name)
		if err != nil {
			f.Close()
			return nil, fmt.Errorf("failed to create sheet %q: %w", sheet.name, err)
		}
		if i == 0 {
			f.SetActiveSheet(index)
		}
		if err := writeSheet(f, sheet.name, headerStyle, sheet.header, sheet.rows); err != nil {
			f.Close()
			return nil, err
		}
	}
	f.DeleteSheet("Sheet1")

	var buf bytes.Buffer
	if _, err := f.WriteTo(&buf); err != nil {
		f.Close()
		return nil, fmt.Errorf("failed to write workbook: %w", err)
	}
	if err := f.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func writeSheet(f *excelize.File, name string, headerStyle int, header []string, rows [][]any) error {
	for col, title := range header {
		cell, err := excelize.CoordinatesToCellName(col+1, 1)
		if err != nil {
			return fmt.Errorf("failed to convert coordinates: %w", err)
		}
		if err := f.SetCellValue(name, cell, title); err != nil {
			return fmt.Errorf("failed to set header cell %s: %w", cell, err)
		}
		if err := f.SetCellStyle(name, cell, cell, headerStyle); err != nil {
			return fmt.Errorf("failed to set header style: %w", err)
		}
		colName, err := excelize.ColumnNumberToName(col + 1)
		if err != nil {
			return fmt.Errorf("failed to convert column number: %w", err)
		}
		if err := f.SetColWidth(name, colName, colName, 20); err != nil {
			return fmt.Errorf("failed to set column width: %w", err)
		}
	}

	for rowIdx, row := range rows {
		for col, value := range row {
			cell, err := excelize.CoordinatesToCellName(col+1, rowIdx+2)
			if err != nil {
				return fmt.Errorf("failed to convert coordinates: %w", err)
			}
			if err := f.SetCellValue(name, cell, value); err != nil {
				return fmt.Errorf("failed to set cell %s: %w", cell, err)
			}
		}
	}
	return nil
}

// =============================================================================
// ROW EXTRACTION
// =============================================================================

func summaryRows(result *engine.RunResult) [][]any {
	rows := make([][]any, 0, len(result.Ledgers))
	for _, ledger := range result.Ledgers {
		rows = append(rows, []any{
			string(ledger.Physician),
			len(ledger.LineItems),
			ledger.TotalHours.String(),
			ledger.TotalWRVU.String(),
			wrvuPerHour(ledger).String(),
			ledger.TotalBase.String(),
			ledger.TotalDifferential.String(),
			ledger.ProductivityIncentive.String(),
			ledger.PerformanceIncentive.String(),
			ledger.PeriodTotal.String(),
		})
	}
	return rows
}

// wrvuPerHour derives the productivity rate. Issue-only ledgers have zero
// hours; report zero rather than dividing.
func wrvuPerHour(ledger engine.PeriodLedger) decimal.Decimal {
	if ledger.TotalHours.IsZero() {
		return decimal.Zero
	}
	return ledger.TotalWRVU.Div(ledger.TotalHours).Round(2)
}

func lineItemRows(result *engine.RunResult) [][]any {
	var rows [][]any
	for _, ledger := range result.Ledgers {
		for _, item := range ledger.LineItems {
			rows = append(rows, []any{
				string(item.Physician),
				string(item.ShiftID),
				item.Start.Format(timeLayout),
				item.End.Format(timeLayout),
				item.Hours.String(),
				item.BaseRate.String(),
				item.Base.String(),
				item.DifferentialTotal().String(),
				item.WRVU.String(),
				item.ProductivityIncentive.String(),
				item.PerformanceIncentive.String(),
				item.Total.String(),
			})
		}
	}
	return rows
}

func issueRows(result *engine.RunResult) [][]any {
	rows := make([][]any, 0, len(result.Issues))
	for _, issue := range result.Issues {
		rows = append(rows, []any{
			string(issue.Physician),
			string(issue.ShiftID),
			string(issue.Kind),
			string(issue.Severity),
			issue.Detail,
		})
	}
	return rows
}

func unattributedRows(result *engine.RunResult) [][]any {
	rows := make([][]any, 0, len(result.Unattributed))
	for _, b := range result.Unattributed {
		rows = append(rows, []any{
			string(b.Physician),
			b.Date.Format("2006-01-02"),
			b.WRVU.String(),
			b.ShiftKey,
		})
	}
	return rows
}

func failureRows(result *engine.RunResult) [][]any {
	rows := make([][]any, 0, len(result.Failures)+len(result.Skipped))
	for _, f := range result.Failures {
		rows = append(rows, []any{string(f.Source), f.SourceKey, string(f.Kind), f.Detail})
	}
	for _, sk := range result.Skipped {
		rows = append(rows, []any{"engine", string(sk.Physician), "physician_skipped", sk.Detail})
	}
	return rows
}
