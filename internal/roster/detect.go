package roster

import (
	"regexp"
	"sort"
	"strings"

	"github.com/palikkayhteiso/emmet/internal/sheet"
)

const (
	// headerScanRows is how many leading rows are scanned for the header.
	headerScanRows = 10
	// sampleDataRows is how many data rows each detector samples.
	sampleDataRows = 20
)

var (
	multiWordPattern  = regexp.MustCompile(`^\S+\s+\S+`)
	dateStringPattern = regexp.MustCompile(`^\d{1,2}\.\d{1,2}\.\d{4}$`)
)

// DetectHeaderRow returns the 0-based index of the header row: the first of
// the leading rows containing a cell with "bricklink" in it, or row 0.
func DetectHeaderRow(rows [][]sheet.Cell) int {
	limit := headerScanRows
	if len(rows) < limit {
		limit = len(rows)
	}
	for r := 0; r < limit; r++ {
		for _, cell := range rows[r] {
			if strings.Contains(strings.ToLower(cell.Text), "bricklink") {
				return r
			}
		}
	}
	return 0
}

// DetectEmailColumn returns the column whose sampled values most often look
// like email addresses. ok is false when no column matches at all.
func DetectEmailColumn(rows [][]sheet.Cell, headerRow int) (col int, ok bool) {
	counts := countColumnMatches(rows, headerRow, nil, func(c sheet.Cell) bool {
		return c.Time == nil && ValidEmail(c.Trimmed())
	})
	return bestColumn(counts)
}

// DetectNameColumn returns the column whose sampled values most often hold
// two or more whitespace-separated tokens, excluding the email column.
func DetectNameColumn(rows [][]sheet.Cell, headerRow, emailCol int) (col int, ok bool) {
	skip := map[int]bool{emailCol: true}
	counts := countColumnMatches(rows, headerRow, skip, func(c sheet.Cell) bool {
		return c.Time == nil && multiWordPattern.MatchString(c.Trimmed())
	})
	return bestColumn(counts)
}

// DetectDateColumns returns the columns holding at least one date-like sample
// in ascending index order. Callers take the first as the effective date and
// the second as the expiration date.
func DetectDateColumns(rows [][]sheet.Cell, headerRow int, skip map[int]bool) []int {
	counts := countColumnMatches(rows, headerRow, skip, func(c sheet.Cell) bool {
		return c.Time != nil || dateStringPattern.MatchString(c.Trimmed())
	})
	cols := make([]int, 0, len(counts))
	for c := range counts {
		cols = append(cols, c)
	}
	sort.Ints(cols)
	return cols
}

// DetectColumnByName returns the first header cell containing term,
// case-insensitively.
func DetectColumnByName(header []sheet.Cell, term string) (col int, ok bool) {
	term = strings.ToLower(term)
	for i, cell := range header {
		if cell.Text == "" {
			continue
		}
		if strings.Contains(strings.ToLower(cell.Text), term) {
			return i, true
		}
	}
	return 0, false
}

// countColumnMatches samples up to sampleDataRows rows below the header and
// counts per column how many cells satisfy match. Columns in skip are ignored.
func countColumnMatches(rows [][]sheet.Cell, headerRow int, skip map[int]bool, match func(sheet.Cell) bool) map[int]int {
	counts := make(map[int]int)
	start := headerRow + 1
	end := start + sampleDataRows
	if end > len(rows) {
		end = len(rows)
	}
	for r := start; r < end; r++ {
		for c, cell := range rows[r] {
			if skip[c] || cell.Empty() {
				continue
			}
			if match(cell) {
				counts[c]++
			}
		}
	}
	return counts
}

// bestColumn returns the lowest column index carrying the maximum match
// count, so ties resolve deterministically to the leftmost column.
func bestColumn(counts map[int]int) (int, bool) {
	cols := make([]int, 0, len(counts))
	for c := range counts {
		cols = append(cols, c)
	}
	sort.Ints(cols)

	best, bestCount := -1, 0
	for _, c := range cols {
		if counts[c] > bestCount {
			best, bestCount = c, counts[c]
		}
	}
	if best < 0 {
		return 0, false
	}
	return best, true
}
