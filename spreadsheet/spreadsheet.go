// --- qpgen-server/spreadsheet/spreadsheet.go ---
package spreadsheet

import (
	"bytes"
	"encoding/csv"
	"errors"
	"fmt"
	"strings"

	"github.com/xuri/excelize/v2"
)

// Grid is the raw cell matrix of an uploaded sheet, before any header
// detection. Rows may be ragged; callers must bounds-check columns.
type Grid [][]string

// ErrUnreadable marks bytes that parse as neither xlsx nor csv.
var ErrUnreadable = errors.New("unreadable spreadsheet file")

var xlsxMagic = []byte{0x50, 0x4b, 0x03, 0x04} // zip container

// Parse decodes uploaded bytes into a raw grid. The format is sniffed:
// xlsx is a zip container, anything else is treated as csv.
func Parse(fileBytes []byte) (Grid, error) {
	if len(fileBytes) == 0 {
		return nil, ErrUnreadable
	}
	if bytes.HasPrefix(fileBytes, xlsxMagic) {
		return parseXLSX(fileBytes)
	}
	return parseCSV(fileBytes)
}

func parseXLSX(fileBytes []byte) (Grid, error) {
	f, err := excelize.OpenReader(bytes.NewReader(fileBytes))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnreadable, err)
	}
	defer f.Close()

	sheets := f.GetSheetList()
	if len(sheets) == 0 {
		return nil, fmt.Errorf("%w: workbook has no sheets", ErrUnreadable)
	}
	rows, err := f.GetRows(sheets[0])
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnreadable, err)
	}
	return Grid(rows), nil
}

func parseCSV(fileBytes []byte) (Grid, error) {
	fileBytes = bytes.TrimPrefix(fileBytes, []byte{0xef, 0xbb, 0xbf}) // UTF-8 BOM
	reader := csv.NewReader(bytes.NewReader(fileBytes))
	reader.FieldsPerRecord = -1 // preamble rows are ragged
	rows, err := reader.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnreadable, err)
	}
	if len(rows) == 0 {
		return nil, ErrUnreadable
	}
	return Grid(rows), nil
}

// RowText concatenates a row's cells into one upper-cased string for
// substring scanning.
func RowText(cells []string) string {
	parts := make([]string, 0, len(cells))
	for _, c := range cells {
		c = strings.TrimSpace(c)
		if c != "" {
			parts = append(parts, strings.ToUpper(c))
		}
	}
	return strings.Join(parts, " ")
}

// ContainsInRows reports whether needle (upper-cased substring match)
// appears anywhere in the first scanRows rows.
func (g Grid) ContainsInRows(needle string, scanRows int) bool {
	needle = strings.ToUpper(strings.TrimSpace(needle))
	if needle == "" {
		return false
	}
	limit := min(scanRows, len(g))
	for r := 0; r < limit; r++ {
		if strings.Contains(RowText(g[r]), needle) {
			return true
		}
	}
	return false
}

// FindHeaderRow scans the first scanRows rows for the first row whose cell
// set is a superset of the required column names (case-insensitive). It
// returns the 0-based row index and a column-name -> column-index map built
// from the detected row.
func (g Grid) FindHeaderRow(required []string, scanRows int) (int, map[string]int, bool) {
	limit := min(scanRows, len(g))
	for r := 0; r < limit; r++ {
		cols := make(map[string]int, len(g[r]))
		for c, cell := range g[r] {
			name := strings.ToUpper(strings.TrimSpace(cell))
			if name == "" {
				continue
			}
			if _, dup := cols[name]; !dup {
				cols[name] = c
			}
		}
		covered := true
		for _, name := range required {
			if _, ok := cols[strings.ToUpper(name)]; !ok {
				covered = false
				break
			}
		}
		if covered {
			return r, cols, true
		}
	}
	return 0, nil, false
}

// Cell returns the trimmed value at (row, col), tolerating ragged rows.
func (g Grid) Cell(row, col int) string {
	if row < 0 || row >= len(g) {
		return ""
	}
	if col < 0 || col >= len(g[row]) {
		return ""
	}
	return strings.TrimSpace(g[row][col])
}

func min(a, b int) int {
	if a < b {
		return a
	}
	return b
}
