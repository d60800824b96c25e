package artifact

import (
	"os"

	"github.com/rotisserie/eris"
	"github.com/xuri/excelize/v2"
)

const (
	sheetIntents  = "Intents"
	sheetCoverage = "Coverage"
)

// WriteSummaryXLSX writes the ranked intents and the coverage tables as a
// workbook.
func (r *Run) WriteSummaryXLSX(s Summary) error {
	f := excelize.NewFile()
	defer f.Close() //nolint:errcheck

	if err := f.SetSheetName("Sheet1", sheetIntents); err != nil {
		return eris.Wrap(err, "artifact: rename sheet")
	}
	rows := [][]any{{"Intent", "Volume", "Percentage", "Level1", "Level2", "Level3"}}
	for _, in := range s.Intents {
		rows = append(rows, []any{in.Intent, in.Volume, in.Percentage, in.Level1, in.Level2, in.Level3})
	}
	if err := setRows(f, sheetIntents, 1, rows); err != nil {
		return err
	}

	if s.Coverage != nil {
		if _, err := f.NewSheet(sheetCoverage); err != nil {
			return eris.Wrap(err, "artifact: add coverage sheet")
		}
		cov := s.Coverage
		rows = [][]any{{"Threshold", "Count", "Percent"}}
		for _, th := range cov.Thresholds {
			rows = append(rows, []any{th.Threshold, th.Count, th.Percent})
		}
		rows = append(rows, []any{}, []any{"Stage", "In", "Out", "Lost", "Percent"})
		for _, st := range cov.Stages {
			rows = append(rows, []any{st.Stage, st.In, st.Out, st.Lost, st.Percent})
		}
		rows = append(rows, []any{}, []any{"Score", "Count", "% of mapped", "% of total"})
		for _, h := range cov.Histogram {
			rows = append(rows, []any{h.Score, h.Count, h.PercentMapped, h.PercentTotal})
		}
		if len(cov.Recommendations) > 0 {
			rows = append(rows, []any{}, []any{"Recommendations"})
			for _, rec := range cov.Recommendations {
				rows = append(rows, []any{rec})
			}
		}
		if err := setRows(f, sheetCoverage, 1, rows); err != nil {
			return err
		}
	}

	path := r.Path(FileSummaryXLSX)
	if _, err := os.Stat(path); err == nil {
		return eris.Errorf("artifact: %s already exists", FileSummaryXLSX)
	}
	if err := f.SaveAs(path); err != nil {
		return eris.Wrapf(err, "artifact: save %s", FileSummaryXLSX)
	}
	r.mu.Lock()
	r.written = append(r.written, FileSummaryXLSX)
	r.mu.Unlock()
	return nil
}

func setRows(f *excelize.File, sheet string, start int, rows [][]any) error {
	for i, row := range rows {
		if len(row) == 0 {
			continue
		}
		cell, err := excelize.CoordinatesToCellName(1, start+i)
		if err != nil {
			return eris.Wrap(err, "artifact: cell name")
		}
		if err := f.SetSheetRow(sheet, cell, &row); err != nil {
			return eris.Wrapf(err, "artifact: write %s row %d", sheet, start+i)
		}
	}
	return nil
}
