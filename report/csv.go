package report

import (
	"bytes"
	"encoding/csv"
	"fmt"

	"github.com/warp/comp-engine/engine"
)

// =============================================================================
// CSV EXPORT - flat line item detail for downstream payroll ingestion
// =============================================================================

// LineItemsCSV renders the run's line item detail as CSV. Payroll systems
// consume this; the workbook is for human review.
func LineItemsCSV(result *engine.RunResult) ([]byte, error) {
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)

	if err := w.Write(lineItemHeader); err != nil {
		return nil, fmt.Errorf("failed to write csv header: %w", err)
	}
	for _, row := range lineItemRows(result) {
		record := make([]string, len(row))
		for i, v := range row {
			record[i] = fmt.Sprint(v)
		}
		if err := w.Write(record); err != nil {
			return nil, fmt.Errorf("failed to write csv row: %w", err)
		}
	}

	w.Flush()
	if err := w.Error(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
