// --- qpgen-server/bank/validator.go ---
package bank

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/jackc/pgx/v5/pgxpool"

	"qpgen-server/models"
	"qpgen-server/pattern"
	"qpgen-server/spreadsheet"
	"qpgen-server/subjects"
)

// Scan windows. Uploaded sheets carry free-form preambles, so neither the
// subject code nor the header row sits at a fixed position.
const (
	SubjectCodeScanRows = 15
	HeaderScanRows      = 40
)

// RequiredColumns must all appear in the header row, case- and
// order-insensitive.
var RequiredColumns = []string{"UNIT", "SECTION", "MARKS", "K LEVEL", "QUESTIONS"}

// SheetRow is one parsed data row of an uploaded bank sheet.
type SheetRow struct {
	RowNumber int // 1-based spreadsheet row
	UnitRaw   string
	Unit      int
	UnitOK    bool
	Section   string
	KLevel    string
	Text      string
}

// parseDataRows extracts data rows below a detected header. Fully empty
// rows (trailing padding in exported sheets) are skipped.
func parseDataRows(grid spreadsheet.Grid, headerIdx int, cols map[string]int) []SheetRow {
	var out []SheetRow
	for r := headerIdx + 1; r < len(grid); r++ {
		unitRaw := grid.Cell(r, cols["UNIT"])
		section := strings.ToUpper(grid.Cell(r, cols["SECTION"]))
		kLevel := grid.Cell(r, cols["K LEVEL"])
		text := grid.Cell(r, cols["QUESTIONS"])
		if unitRaw == "" && section == "" && kLevel == "" && text == "" {
			continue
		}

		row := SheetRow{
			RowNumber: r + 1,
			UnitRaw:   unitRaw,
			Section:   section,
			KLevel:    kLevel,
			Text:      text,
		}
		// Excel numeric cells often render as "1.0"; accept both forms.
		if unit, err := strconv.Atoi(strings.TrimSuffix(unitRaw, ".0")); err == nil {
			row.Unit = unit
			row.UnitOK = true
		}
		out = append(out, row)
	}
	return out
}

// ValidateSheet is the validation core: structural and quota checks over an
// already-parsed grid, against the subject's pattern and weightage map.
// Row-level errors are collected fail-slow; the aggregate shortfall check
// yields one error per (unit, section).
func ValidateSheet(
	grid spreadsheet.Grid,
	subjectCode string,
	structure models.PatternStructure,
	required map[pattern.QuotaKey]int,
) models.ValidationResult {
	subjectCode = strings.ToUpper(strings.TrimSpace(subjectCode))
	if !grid.ContainsInRows(subjectCode, SubjectCodeScanRows) {
		return failResult(models.ErrCodeSubjectCodeMismatch,
			fmt.Sprintf("Subject code '%s' not found in first %d rows", subjectCode, SubjectCodeScanRows))
	}

	headerIdx, cols, found := grid.FindHeaderRow(RequiredColumns, HeaderScanRows)
	if !found {
		return failResult(models.ErrCodeHeaderNotFound,
			fmt.Sprintf("Required columns not found within first %d rows", HeaderScanRows))
	}

	allowedSections := make(map[string]bool, len(structure))
	for label := range structure {
		allowedSections[label] = true
	}

	var errs []models.ValidationError
	supplied := make(map[pattern.QuotaKey]int, len(required))
	unitsSeen := make(map[int]bool)

	dataRows := parseDataRows(grid, headerIdx, cols)
	for _, row := range dataRows {
		if !row.UnitOK || row.Unit < 1 || row.Unit > 5 {
			errs = append(errs, rowErr(models.ErrCodeUnitInvalid, row.RowNumber,
				fmt.Sprintf("Invalid unit '%s' (allowed 1-5)", row.UnitRaw)))
			continue
		}
		unitsSeen[row.Unit] = true

		if !allowedSections[row.Section] {
			errs = append(errs, rowErr(models.ErrCodeSectionInvalid, row.RowNumber,
				fmt.Sprintf("Invalid section '%s' (allowed %s)", row.Section,
					strings.Join(pattern.SortedSections(structure), ", "))))
			continue
		}

		// A zero-quota cell of a weighted unit is fine: the row is accepted
		// and simply never counts toward a shortfall. Only units with no
		// weightage row at all are rejected.
		key := pattern.QuotaKey{Unit: row.Unit, Section: row.Section}
		if _, weighted := required[key]; !weighted {
			errs = append(errs, rowErr(models.ErrCodeWeightageNotAllowed, row.RowNumber,
				fmt.Sprintf("Unit %d Section %s not allowed by weightage", row.Unit, row.Section)))
			continue
		}

		supplied[key]++
	}

	// Aggregate shortfall: one error per quota cell, not one per missing row.
	for _, key := range sortedQuotaKeys(required) {
		if provided := supplied[key]; provided < required[key] {
			errs = append(errs, models.ValidationError{
				Type: models.ErrCodeInsufficientQuestions,
				Message: fmt.Sprintf("Unit %d Section %s: required %d, found %d",
					key.Unit, key.Section, required[key], provided),
			})
		}
	}

	if len(errs) > 0 {
		return models.ValidationResult{Valid: false, Errors: errs}
	}

	units := make([]int, 0, len(unitsSeen))
	for u := range unitsSeen {
		units = append(units, u)
	}
	sort.Ints(units)

	return models.ValidationResult{
		Valid:   true,
		Summary: &models.ValidationSummary{Rows: len(dataRows), Units: units},
	}
}

// ValidateUpload resolves the subject version's configuration, parses the
// uploaded bytes, and runs the validation core. Structural and content
// problems come back as a structured result; only infrastructure failures
// (unknown id, query errors) are returned as Go errors.
func ValidateUpload(ctx context.Context, pool *pgxpool.Pool, fileBytes []byte, subjectVersionID int) (models.ValidationResult, error) {
	sv, err := subjects.GetSubjectVersion(ctx, pool, subjectVersionID)
	if err != nil {
		return models.ValidationResult{}, err
	}

	p, err := pattern.GetPatternForSubjectVersion(ctx, pool, subjectVersionID)
	if err != nil {
		return models.ValidationResult{}, err
	}
	if p == nil {
		return failResult(models.ErrCodePatternMissing, "Pattern not assigned to subject"), nil
	}

	weightages, err := pattern.GetWeightages(ctx, pool, subjectVersionID)
	if err != nil {
		return models.ValidationResult{}, err
	}
	if len(weightages) == 0 {
		return failResult(models.ErrCodeWeightageMissing, "Weightage not defined for subject"), nil
	}

	grid, err := spreadsheet.Parse(fileBytes)
	if err != nil {
		return failResult(models.ErrCodeFileInvalid, "Unable to read spreadsheet file"), nil
	}

	return ValidateSheet(grid, sv.SubjectCode, p.Structure, pattern.RequiredCountMap(weightages)), nil
}

func failResult(code, message string) models.ValidationResult {
	return models.ValidationResult{
		Valid:  false,
		Errors: []models.ValidationError{{Type: code, Message: message}},
	}
}

func rowErr(code string, row int, message string) models.ValidationError {
	return models.ValidationError{Type: code, Row: row, Message: message}
}

func sortedQuotaKeys(required map[pattern.QuotaKey]int) []pattern.QuotaKey {
	keys := make([]pattern.QuotaKey, 0, len(required))
	for k := range required {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		if keys[i].Unit != keys[j].Unit {
			return keys[i].Unit < keys[j].Unit
		}
		return keys[i].Section < keys[j].Section
	})
	return keys
}
