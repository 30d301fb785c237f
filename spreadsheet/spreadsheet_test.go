// --- qpgen-server/spreadsheet/spreadsheet_test.go ---
package spreadsheet

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"
)

func TestParseCSV(t *testing.T) {
	data := []byte("DEPT OF CSE\nSubject Code: CS8501\nUNIT,SECTION,MARKS,K LEVEL,QUESTIONS\n1,A,2,K1,Define compiler\n")
	grid, err := Parse(data)
	require.NoError(t, err)
	assert.Equal(t, "Subject Code: CS8501", grid.Cell(1, 0))
	assert.Equal(t, "Define compiler", grid.Cell(3, 4))
	assert.Len(t, grid, 4)
}

func TestParseCSVStripsBOM(t *testing.T) {
	data := append([]byte{0xef, 0xbb, 0xbf}, []byte("UNIT,SECTION\n1,A\n")...)
	grid, err := Parse(data)
	require.NoError(t, err)
	assert.Equal(t, "UNIT", grid.Cell(0, 0))
}

func TestParseXLSX(t *testing.T) {
	f := excelize.NewFile()
	sheet := f.GetSheetName(0)
	require.NoError(t, f.SetSheetRow(sheet, "A1", &[]interface{}{"UNIT", "SECTION", "MARKS"}))
	require.NoError(t, f.SetSheetRow(sheet, "A2", &[]interface{}{1, "A", 2}))
	var buf bytes.Buffer
	require.NoError(t, f.Write(&buf))

	grid, err := Parse(buf.Bytes())
	require.NoError(t, err)
	assert.Equal(t, "UNIT", grid.Cell(0, 0))
	assert.Equal(t, "A", grid.Cell(1, 1))
}

func TestParseRejectsEmptyAndGarbage(t *testing.T) {
	_, err := Parse(nil)
	assert.ErrorIs(t, err, ErrUnreadable)

	// zip magic without a valid workbook behind it
	_, err = Parse([]byte{0x50, 0x4b, 0x03, 0x04, 0x00, 0x00})
	assert.ErrorIs(t, err, ErrUnreadable)
}

func TestContainsInRows(t *testing.T) {
	grid := Grid{
		{"Anna University", ""},
		{"Subject Code:", "cs8501"},
		{"UNIT", "SECTION"},
	}
	assert.True(t, grid.ContainsInRows("CS8501", 2))
	assert.False(t, grid.ContainsInRows("CS8501", 1), "scan window respected")
	assert.False(t, grid.ContainsInRows("EC8395", 3))
}

func TestFindHeaderRowWithPreamble(t *testing.T) {
	grid := Grid{
		{"DEPARTMENT OF COMPUTER SCIENCE"},
		{"Subject Code: CS8501"},
		{},
		{"S.NO", "unit", "Section", "Marks", "K Level", "Questions"},
		{"1", "1", "A", "2", "K1", "Define compiler"},
	}
	idx, cols, ok := grid.FindHeaderRow([]string{"UNIT", "SECTION", "MARKS", "K LEVEL", "QUESTIONS"}, 40)
	require.True(t, ok)
	assert.Equal(t, 3, idx)
	assert.Equal(t, 1, cols["UNIT"])
	assert.Equal(t, 5, cols["QUESTIONS"])
}

func TestFindHeaderRowMissingColumn(t *testing.T) {
	grid := Grid{
		{"UNIT", "SECTION", "MARKS"},
	}
	_, _, ok := grid.FindHeaderRow([]string{"UNIT", "SECTION", "MARKS", "K LEVEL", "QUESTIONS"}, 40)
	assert.False(t, ok)
}

func TestFindHeaderRowScanWindow(t *testing.T) {
	grid := Grid{
		{"preamble"},
		{"UNIT", "SECTION"},
	}
	_, _, ok := grid.FindHeaderRow([]string{"UNIT", "SECTION"}, 1)
	assert.False(t, ok)
	_, _, ok = grid.FindHeaderRow([]string{"UNIT", "SECTION"}, 2)
	assert.True(t, ok)
}

func TestCellToleratesRaggedRows(t *testing.T) {
	grid := Grid{
		{"a"},
		{"b", " c "},
	}
	assert.Equal(t, "c", grid.Cell(1, 1))
	assert.Equal(t, "", grid.Cell(0, 5))
	assert.Equal(t, "", grid.Cell(9, 0))
}
