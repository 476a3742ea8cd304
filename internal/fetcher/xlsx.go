package fetcher

import (
	"github.com/rotisserie/eris"
	"github.com/tealeg/xlsx/v2"
)

// XLSXOptions selects a worksheet and trims it.
type XLSXOptions struct {
	SheetIndex int    // default 0
	SheetName  string // if set, overrides SheetIndex
	SkipRows   int    // number of leading rows to skip
	MaxCols    int    // if > 0, rows are truncated to this many columns
}

// Workbook is an opened XLSX file.
type Workbook struct {
	f *xlsx.File
}

// OpenXLSX opens an XLSX workbook from disk.
func OpenXLSX(path string) (*Workbook, error) {
	f, err := xlsx.OpenFile(path)
	if err != nil {
		return nil, eris.Wrap(err, "xlsx: open file")
	}
	return &Workbook{f: f}, nil
}

// SheetNames returns the worksheet names in workbook order.
func (w *Workbook) SheetNames() []string {
	names := make([]string, len(w.f.Sheets))
	for i, s := range w.f.Sheets {
		names[i] = s.Name
	}
	return names
}

// Rows returns the selected worksheet as string rows.
func (w *Workbook) Rows(opts XLSXOptions) ([][]string, error) {
	sheet, err := w.sheet(opts)
	if err != nil {
		return nil, err
	}

	var rows [][]string
	for i, row := range sheet.Rows {
		if i < opts.SkipRows || row == nil {
			continue
		}
		cells := make([]string, len(row.Cells))
		for j, cell := range row.Cells {
			cells[j] = cell.String()
		}
		if opts.MaxCols > 0 && len(cells) > opts.MaxCols {
			cells = cells[:opts.MaxCols]
		}
		rows = append(rows, cells)
	}
	return rows, nil
}

func (w *Workbook) sheet(opts XLSXOptions) (*xlsx.Sheet, error) {
	if opts.SheetName != "" {
		sheet, ok := w.f.Sheet[opts.SheetName]
		if !ok {
			return nil, eris.Errorf("xlsx: sheet %q not found", opts.SheetName)
		}
		return sheet, nil
	}
	if opts.SheetIndex >= len(w.f.Sheets) {
		return nil, eris.Errorf("xlsx: sheet index %d out of range (file has %d sheets)", opts.SheetIndex, len(w.f.Sheets))
	}
	return w.f.Sheets[opts.SheetIndex], nil
}
