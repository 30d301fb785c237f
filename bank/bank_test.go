// --- qpgen-server/bank/bank_test.go ---
package bank

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"qpgen-server/models"
	"qpgen-server/pattern"
	"qpgen-server/spreadsheet"
)

func TestNormalizeText(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"Define compiler", "define compiler"},
		{"  Define   Compiler  ", "define compiler"},
		{"Define\tcompiler\n", "define compiler"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, NormalizeText(tt.in))
	}
}

func TestHashTextTreatsCosmeticVariantsAsEqual(t *testing.T) {
	a := HashText("Define Compiler.")
	b := HashText("  define   compiler.  ")
	c := HashText("Define interpreter.")
	assert.Equal(t, a, b)
	assert.NotEqual(t, a, c)
	assert.Len(t, a, 64)
}

func TestHashFileDiffersByByte(t *testing.T) {
	a := HashFile([]byte("abc"))
	b := HashFile([]byte("abd"))
	assert.NotEqual(t, a, b)
	assert.Len(t, a, 64)
}

// testStructure is a two-section pattern: A carries 2-mark questions,
// B carries 13-mark questions.
func testStructure() models.PatternStructure {
	return models.PatternStructure{
		"A": {Marks: 2, AnswerCount: 10, TotalInPaper: 10},
		"B": {Marks: 13, AnswerCount: 5, TotalInPaper: 10},
	}
}

func testRequired() map[pattern.QuotaKey]int {
	return pattern.RequiredCountMap([]models.SubjectWeightage{
		{Unit: 1, SecACount: 1, SecBCount: 1},
		{Unit: 2, SecACount: 1, SecBCount: 0},
	})
}

// sheetGrid builds a grid with preamble, header, and the given data rows.
func sheetGrid(subjectCode string, dataRows [][]string) spreadsheet.Grid {
	grid := spreadsheet.Grid{
		{"DEPARTMENT OF COMPUTER SCIENCE"},
		{"Subject Code: " + subjectCode},
		{"UNIT", "SECTION", "MARKS", "K LEVEL", "QUESTIONS"},
	}
	return append(grid, dataRows...)
}

func TestValidateSheetAccepts(t *testing.T) {
	grid := sheetGrid("CS8501", [][]string{
		{"1", "A", "2", "K1", "Define compiler"},
		{"1", "B", "13", "K2", "Explain parsing phases"},
		{"2", "A", "2", "K1", "Define token"},
	})
	result := ValidateSheet(grid, "CS8501", testStructure(), testRequired())
	require.True(t, result.Valid, "errors: %v", result.Errors)
	require.NotNil(t, result.Summary)
	assert.Equal(t, 3, result.Summary.Rows)
	assert.Equal(t, []int{1, 2}, result.Summary.Units)
}

func TestValidateSheetSubjectCodeMismatch(t *testing.T) {
	grid := sheetGrid("EC8395", nil)
	result := ValidateSheet(grid, "CS8501", testStructure(), testRequired())
	require.False(t, result.Valid)
	require.Len(t, result.Errors, 1)
	assert.Equal(t, models.ErrCodeSubjectCodeMismatch, result.Errors[0].Type)
}

func TestValidateSheetHeaderNotFound(t *testing.T) {
	grid := spreadsheet.Grid{
		{"Subject Code: CS8501"},
		{"UNIT", "SECTION", "MARKS"}, // missing K LEVEL and QUESTIONS
	}
	result := ValidateSheet(grid, "CS8501", testStructure(), testRequired())
	require.False(t, result.Valid)
	assert.Equal(t, models.ErrCodeHeaderNotFound, result.Errors[0].Type)
}

func TestValidateSheetRowErrors(t *testing.T) {
	grid := sheetGrid("CS8501", [][]string{
		{"9", "A", "2", "K1", "Unit out of range"},
		{"x", "A", "2", "K1", "Unit not numeric"},
		{"1", "D", "2", "K1", "Unknown section"},
		{"3", "A", "2", "K1", "Unit with no weightage row"},
	})
	result := ValidateSheet(grid, "CS8501", testStructure(), testRequired())
	require.False(t, result.Valid)

	byType := map[string]int{}
	for _, e := range result.Errors {
		byType[e.Type]++
	}
	assert.Equal(t, 2, byType[models.ErrCodeUnitInvalid])
	assert.Equal(t, 1, byType[models.ErrCodeSectionInvalid])
	assert.Equal(t, 1, byType[models.ErrCodeWeightageNotAllowed])
}

func TestValidateSheetAcceptsZeroQuotaCellOfWeightedUnit(t *testing.T) {
	// Unit 2 Section B has a weightage row with count 0. Rows tagged to it
	// are legitimate bank content; they just never satisfy any quota.
	grid := sheetGrid("CS8501", [][]string{
		{"1", "A", "2", "K1", "Define compiler"},
		{"1", "B", "13", "K2", "Explain parsing phases"},
		{"2", "A", "2", "K1", "Define token"},
		{"2", "B", "13", "K2", "Spare question beyond the quota grid"},
	})
	result := ValidateSheet(grid, "CS8501", testStructure(), testRequired())
	require.True(t, result.Valid, "errors: %v", result.Errors)
	require.NotNil(t, result.Summary)
	assert.Equal(t, 4, result.Summary.Rows)
}

func TestValidateSheetRowErrorsCarryRowNumbers(t *testing.T) {
	grid := sheetGrid("CS8501", [][]string{
		{"1", "A", "2", "K1", "fine"},
		{"7", "A", "2", "K1", "bad unit"},
	})
	result := ValidateSheet(grid, "CS8501", testStructure(), testRequired())
	require.False(t, result.Valid)

	var found bool
	for _, e := range result.Errors {
		if e.Type == models.ErrCodeUnitInvalid {
			assert.Equal(t, 5, e.Row, "1-based spreadsheet row below the 3-row preamble")
			found = true
		}
	}
	assert.True(t, found)
}

func TestValidateSheetAggregateShortfall(t *testing.T) {
	// Quota wants 1 question per cell; Unit 1 Section B is missing entirely.
	grid := sheetGrid("CS8501", [][]string{
		{"1", "A", "2", "K1", "Define compiler"},
		{"2", "A", "2", "K1", "Define token"},
	})
	result := ValidateSheet(grid, "CS8501", testStructure(), testRequired())
	require.False(t, result.Valid)
	require.Len(t, result.Errors, 1, "one aggregate error per quota cell, not per missing row")
	assert.Equal(t, models.ErrCodeInsufficientQuestions, result.Errors[0].Type)
	assert.Contains(t, result.Errors[0].Message, "Unit 1 Section B: required 1, found 0")
}

func TestValidateSheetAcceptsExcelUnitForms(t *testing.T) {
	grid := sheetGrid("CS8501", [][]string{
		{"1.0", "A", "2", "K1", "Define compiler"},
		{"1", "B", "13", "K2", "Explain parsing"},
		{"2.0", "A", "2", "K1", "Define token"},
	})
	result := ValidateSheet(grid, "CS8501", testStructure(), testRequired())
	assert.True(t, result.Valid, "errors: %v", result.Errors)
}

func TestValidateSheetSkipsEmptyPaddingRows(t *testing.T) {
	grid := sheetGrid("CS8501", [][]string{
		{"1", "A", "2", "K1", "Define compiler"},
		{"", "", "", "", ""},
		{"1", "B", "13", "K2", "Explain parsing"},
		{"2", "A", "2", "K1", "Define token"},
		{},
	})
	result := ValidateSheet(grid, "CS8501", testStructure(), testRequired())
	require.True(t, result.Valid, "errors: %v", result.Errors)
	assert.Equal(t, 3, result.Summary.Rows)
}

// fakeIngestStore records ingestion writes in memory. GetOrCreateMaster
// deduplicates by (subject, hash) the way the unique index does.
type fakeIngestStore struct {
	banks      []*models.QuestionBank
	masters    map[string]int // subjectID:hash -> master id
	masterText map[int]string
	items      []*models.QuestionBankItem
	nextID     int
}

func newFakeIngestStore() *fakeIngestStore {
	return &fakeIngestStore{masters: map[string]int{}, masterText: map[int]string{}, nextID: 1}
}

func (f *fakeIngestStore) FindBankByFileHash(ctx context.Context, svID int, fileHash string) (*models.QuestionBank, error) {
	for _, b := range f.banks {
		if b.SubjectVersionID == svID && b.FileHash == fileHash {
			return b, nil
		}
	}
	return nil, nil
}

func (f *fakeIngestStore) CountBanks(ctx context.Context, svID int) (int, error) {
	n := 0
	for _, b := range f.banks {
		if b.SubjectVersionID == svID {
			n++
		}
	}
	return n, nil
}

func (f *fakeIngestStore) InsertBank(ctx context.Context, b *models.QuestionBank) error {
	b.ID = f.nextID
	f.nextID++
	f.banks = append(f.banks, b)
	return nil
}

func (f *fakeIngestStore) GetOrCreateMaster(ctx context.Context, m *models.QuestionMaster) (int, error) {
	key := fmt.Sprintf("%d:%s", m.SubjectID, m.QuestionHash)
	if id, ok := f.masters[key]; ok {
		return id, nil
	}
	id := f.nextID
	f.nextID++
	f.masters[key] = id
	f.masterText[id] = m.QuestionText
	return id, nil
}

func (f *fakeIngestStore) InsertBankItem(ctx context.Context, it *models.QuestionBankItem) error {
	it.ID = f.nextID
	f.nextID++
	f.items = append(f.items, it)
	return nil
}

func testSubjectVersion() *models.SubjectVersion {
	return &models.SubjectVersion{ID: 10, SubjectID: 3, SubjectCode: "CS8501", SubjectName: "Compiler Design"}
}

func TestIngestSheetStoresBankAndItems(t *testing.T) {
	f := newFakeIngestStore()
	grid := sheetGrid("CS8501", [][]string{
		{"1", "A", "2", "K1", "Define compiler"},
		{"1", "B", "13", "K2", "Explain parsing phases"},
	})

	b, err := ingestSheet(context.Background(), f, grid, testSubjectVersion(), testStructure(), "hash-1", 7)
	require.NoError(t, err)
	assert.Equal(t, 1, b.VersionNo)
	assert.True(t, b.IsDefault, "first bank becomes the default")
	require.Len(t, f.items, 2)

	// Marks come from the pattern, regardless of what the sheet said.
	assert.Equal(t, 2, f.items[0].Marks)
	assert.Equal(t, 13, f.items[1].Marks)
	assert.Equal(t, b.ID, f.items[0].QuestionBankID)
}

func TestIngestSheetSecondUploadIsNotDefault(t *testing.T) {
	f := newFakeIngestStore()
	sv := testSubjectVersion()
	grid1 := sheetGrid("CS8501", [][]string{{"1", "A", "2", "K1", "Define compiler"}})
	grid2 := sheetGrid("CS8501", [][]string{{"1", "A", "2", "K1", "Define interpreter"}})

	b1, err := ingestSheet(context.Background(), f, grid1, sv, testStructure(), "hash-1", 7)
	require.NoError(t, err)
	b2, err := ingestSheet(context.Background(), f, grid2, sv, testStructure(), "hash-2", 7)
	require.NoError(t, err)

	assert.True(t, b1.IsDefault)
	assert.False(t, b2.IsDefault)
	assert.Equal(t, 2, b2.VersionNo)
}

func TestIsUniqueViolation(t *testing.T) {
	// The loser of a concurrent same-file upload sees the winner's unique
	// (subject_version_id, file_hash) constraint as a wrapped 23505.
	dup := fmt.Errorf("failed to insert question bank: %w", &pgconn.PgError{Code: "23505"})
	assert.True(t, isUniqueViolation(dup))
	assert.False(t, isUniqueViolation(errors.New("failed to insert question bank")))
	assert.False(t, isUniqueViolation(fmt.Errorf("query failed: %w", &pgconn.PgError{Code: "40P01"})))
}

func TestIngestSheetIdempotentOnSameFileHash(t *testing.T) {
	f := newFakeIngestStore()
	sv := testSubjectVersion()
	grid := sheetGrid("CS8501", [][]string{{"1", "A", "2", "K1", "Define compiler"}})

	b1, err := ingestSheet(context.Background(), f, grid, sv, testStructure(), "hash-1", 7)
	require.NoError(t, err)
	b2, err := ingestSheet(context.Background(), f, grid, sv, testStructure(), "hash-1", 7)
	require.NoError(t, err)

	assert.Equal(t, b1.ID, b2.ID, "byte-identical re-upload returns the existing bank")
	assert.Len(t, f.banks, 1)
	assert.Len(t, f.items, 1)
}

func TestIngestSheetDeduplicatesCatalogAcrossBanks(t *testing.T) {
	f := newFakeIngestStore()
	sv := testSubjectVersion()
	// Same question text with cosmetic whitespace differences.
	grid1 := sheetGrid("CS8501", [][]string{{"1", "A", "2", "K1", "Define compiler"}})
	grid2 := sheetGrid("CS8501", [][]string{{"1", "A", "2", "K1", "  Define   COMPILER "}})

	_, err := ingestSheet(context.Background(), f, grid1, sv, testStructure(), "hash-1", 7)
	require.NoError(t, err)
	_, err = ingestSheet(context.Background(), f, grid2, sv, testStructure(), "hash-2", 7)
	require.NoError(t, err)

	assert.Len(t, f.masters, 1, "one catalog entry for both banks")
	require.Len(t, f.items, 2)
	assert.Equal(t, f.items[0].QuestionID, f.items[1].QuestionID)
}
