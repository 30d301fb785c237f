// --- qpgen-server/pattern/weightage.go ---
package pattern

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5/pgxpool"

	"qpgen-server/db"
	"qpgen-server/models"
)

// QuotaKey identifies one weightage cell.
type QuotaKey struct {
	Unit    int
	Section string
}

// WeightageValidationError reports every section whose unit sums disagree
// with the pattern, so the caller can surface all problems at once.
type WeightageValidationError struct {
	Problems []string
}

func (e *WeightageValidationError) Error() string {
	return strings.Join(e.Problems, " | ")
}

// ValidateWeightageRows checks each row in isolation: unit range, negative
// counts, and all-zero rows.
func ValidateWeightageRows(rows []models.WeightageRow) error {
	if len(rows) == 0 {
		return errors.New("no weightage data provided")
	}
	seen := make(map[int]bool, len(rows))
	for _, row := range rows {
		if row.Unit < 1 || row.Unit > 5 {
			return fmt.Errorf("unit must be between 1 and 5, got %d", row.Unit)
		}
		if seen[row.Unit] {
			return fmt.Errorf("duplicate weightage row for unit %d", row.Unit)
		}
		seen[row.Unit] = true
		for _, sc := range []struct {
			name  string
			count int
		}{{"Section A", row.A}, {"Section B", row.B}, {"Section C", row.C}} {
			if sc.count < 0 {
				return fmt.Errorf("%s count cannot be negative", sc.name)
			}
		}
		if row.A == 0 && row.B == 0 && row.C == 0 {
			return fmt.Errorf("unit %d: at least one section must have a count greater than zero", row.Unit)
		}
	}
	return nil
}

// ValidateWeightageAgainstPattern enforces the write-time invariant: the sum
// over units of each section's count must equal that section's total in
// paper as declared by the pattern.
func ValidateWeightageAgainstPattern(structure models.PatternStructure, rows []models.WeightageRow) error {
	totals := map[string]int{"A": 0, "B": 0, "C": 0}
	for _, row := range rows {
		totals["A"] += row.A
		totals["B"] += row.B
		totals["C"] += row.C
	}

	var problems []string
	for _, label := range SectionLabels {
		cfg, declared := structure[label]
		if declared {
			if totals[label] != cfg.TotalInPaper {
				problems = append(problems, fmt.Sprintf(
					"Section %s: Sum of all units must be %d (currently %d)",
					label, cfg.TotalInPaper, totals[label]))
			}
		} else if totals[label] != 0 {
			problems = append(problems, fmt.Sprintf(
				"Section %s: not declared by pattern but has %d questions assigned",
				label, totals[label]))
		}
	}

	if len(problems) > 0 {
		return &WeightageValidationError{Problems: problems}
	}
	return nil
}

// AddOrUpdateWeightages replaces the full weightage set for a subject
// version in one transaction: validate rows, validate against the assigned
// pattern, delete the old set, insert the new one.
func AddOrUpdateWeightages(ctx context.Context, pool *pgxpool.Pool, subjectVersionID int, rows []models.WeightageRow) error {
	if err := ValidateWeightageRows(rows); err != nil {
		return err
	}

	tx, err := pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	p, err := GetPatternForSubjectVersion(ctx, tx, subjectVersionID)
	if err != nil {
		return err
	}
	if p == nil {
		return errors.New("no pattern assigned to this subject version")
	}

	if err := ValidateWeightageAgainstPattern(p.Structure, rows); err != nil {
		return err
	}

	if _, err := tx.Exec(ctx, `DELETE FROM subject_weightages WHERE subject_version_id = $1`, subjectVersionID); err != nil {
		return fmt.Errorf("failed to clear existing weightages: %w", err)
	}

	for _, row := range rows {
		_, err := tx.Exec(ctx, `
			INSERT INTO subject_weightages (subject_version_id, unit, sec_a_count, sec_b_count, sec_c_count)
			VALUES ($1, $2, $3, $4, $5)
		`, subjectVersionID, row.Unit, row.A, row.B, row.C)
		if err != nil {
			return fmt.Errorf("failed to insert weightage for unit %d: %w", row.Unit, err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit weightage update: %w", err)
	}
	return nil
}

// GetWeightages lists a subject version's weightage rows ordered by unit.
func GetWeightages(ctx context.Context, q db.Querier, subjectVersionID int) ([]models.SubjectWeightage, error) {
	rows, err := q.Query(ctx, `
		SELECT id, subject_version_id, unit, sec_a_count, sec_b_count, sec_c_count
		FROM subject_weightages
		WHERE subject_version_id = $1
		ORDER BY unit
	`, subjectVersionID)
	if err != nil {
		return nil, fmt.Errorf("failed to query weightages: %w", err)
	}
	defer rows.Close()

	var weightages []models.SubjectWeightage
	for rows.Next() {
		var w models.SubjectWeightage
		if err := rows.Scan(&w.ID, &w.SubjectVersionID, &w.Unit, &w.SecACount, &w.SecBCount, &w.SecCCount); err != nil {
			return nil, fmt.Errorf("failed to scan weightage row: %w", err)
		}
		weightages = append(weightages, w)
	}
	return weightages, rows.Err()
}

// DeleteWeightages removes a subject version's weightage set.
func DeleteWeightages(ctx context.Context, q db.Querier, subjectVersionID int) error {
	_, err := q.Exec(ctx, `DELETE FROM subject_weightages WHERE subject_version_id = $1`, subjectVersionID)
	if err != nil {
		return fmt.Errorf("failed to delete weightages: %w", err)
	}
	return nil
}

// RequiredCountMap builds the (unit, section) -> required count map used by
// bank validation and selection. All three section labels are keyed even
// when a pattern omits one, mirroring the zero-filled weightage columns.
func RequiredCountMap(weightages []models.SubjectWeightage) map[QuotaKey]int {
	required := make(map[QuotaKey]int, len(weightages)*3)
	for _, w := range weightages {
		required[QuotaKey{w.Unit, "A"}] = w.SecACount
		required[QuotaKey{w.Unit, "B"}] = w.SecBCount
		required[QuotaKey{w.Unit, "C"}] = w.SecCCount
	}
	return required
}
