// Package sheet reads a tabular workbook into a plain cell grid so that the
// roster heuristics can be tested without real spreadsheet files.
package sheet

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/xuri/excelize/v2"
)

// Cell is one worksheet cell. Text holds the formatted value as displayed;
// Time is set only when the cell holds a native date/time value.
type Cell struct {
	Text string
	Time *time.Time
}

// Trimmed returns the cell text with surrounding whitespace removed.
func (c Cell) Trimmed() string {
	return strings.TrimSpace(c.Text)
}

// Empty reports whether the cell carries no value.
func (c Cell) Empty() bool {
	return c.Time == nil && c.Trimmed() == ""
}

// Sheet is one worksheet as ordered rows of ordered cells.
type Sheet struct {
	Name string
	Rows [][]Cell
}

// Row returns the cells of the given 0-based row, or nil when out of range.
func (s *Sheet) Row(i int) []Cell {
	if i < 0 || i >= len(s.Rows) {
		return nil
	}
	return s.Rows[i]
}

// Read opens the workbook at path and reads its active worksheet.
func Read(path string) (*Sheet, error) {
	f, err := excelize.OpenFile(path)
	if err != nil {
		return nil, fmt.Errorf("open workbook %s: %w", path, err)
	}
	defer f.Close()

	name := f.GetSheetName(f.GetActiveSheetIndex())
	if name == "" {
		sheets := f.GetSheetList()
		if len(sheets) == 0 {
			return nil, fmt.Errorf("workbook %s has no worksheets", path)
		}
		name = sheets[0]
	}

	rows, err := f.GetRows(name)
	if err != nil {
		return nil, fmt.Errorf("read worksheet %s: %w", name, err)
	}

	s := &Sheet{Name: name, Rows: make([][]Cell, len(rows))}
	for r, cols := range rows {
		cells := make([]Cell, len(cols))
		for c, text := range cols {
			cells[c] = Cell{Text: text}
			if t, ok := nativeTime(f, name, r, c); ok {
				cells[c].Time = &t
			}
		}
		s.Rows[r] = cells
	}
	return s, nil
}

// nativeTime resolves the cell at (row, col) to a time value when the cell
// stores an Excel date serial under a date number format.
func nativeTime(f *excelize.File, sheetName string, row, col int) (time.Time, bool) {
	axis, err := excelize.CoordinatesToCellName(col+1, row+1)
	if err != nil {
		return time.Time{}, false
	}
	styleID, err := f.GetCellStyle(sheetName, axis)
	if err != nil {
		return time.Time{}, false
	}
	style, err := f.GetStyle(styleID)
	if err != nil || style == nil || !dateNumFmt(style) {
		return time.Time{}, false
	}
	raw, err := f.GetCellValue(sheetName, axis, excelize.Options{RawCellValue: true})
	if err != nil {
		return time.Time{}, false
	}
	serial, err := strconv.ParseFloat(strings.TrimSpace(raw), 64)
	if err != nil {
		return time.Time{}, false
	}
	t, err := excelize.ExcelDateToTime(serial, false)
	if err != nil {
		return time.Time{}, false
	}
	return t, true
}

var customDateTokens = regexp.MustCompile(`[dmyDMY]`)

// dateNumFmt reports whether the style renders numeric values as dates or
// times. Built-in formats 14-22 and 27-36 are dates, 45-58 are time and
// locale date variants.
func dateNumFmt(style *excelize.Style) bool {
	switch {
	case style.NumFmt >= 14 && style.NumFmt <= 22:
		return true
	case style.NumFmt >= 27 && style.NumFmt <= 36:
		return true
	case style.NumFmt >= 45 && style.NumFmt <= 58:
		return true
	}
	if style.CustomNumFmt != nil {
		return customDateTokens.MatchString(*style.CustomNumFmt)
	}
	return false
}
