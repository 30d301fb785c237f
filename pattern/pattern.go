// --- qpgen-server/pattern/pattern.go ---
package pattern

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/jackc/pgx/v5"

	"qpgen-server/db"
	"qpgen-server/models"
)

// SectionLabels are the section keys a pattern may declare.
var SectionLabels = []string{"A", "B", "C"}

// ErrPatternNotFound is returned when a pattern id does not resolve.
var ErrPatternNotFound = errors.New("pattern not found")

// BuildStructure normalizes a pattern grid form into a validated structure
// and computes total marks. Sections with zero answer count and zero total
// are treated as unused and dropped. TotalInPaper defaults to AnswerCount
// when absent.
func BuildStructure(sections map[string]models.SectionConfig) (models.PatternStructure, int, error) {
	structure := models.PatternStructure{}
	totalMarks := 0

	for _, label := range SectionLabels {
		cfg, ok := lookupSection(sections, label)
		if !ok {
			continue
		}
		if cfg.AnswerCount == 0 && cfg.TotalInPaper == 0 {
			continue // skip unused sections
		}
		if cfg.Marks <= 0 {
			return nil, 0, fmt.Errorf("section %s: marks must be positive", label)
		}
		if cfg.AnswerCount <= 0 {
			return nil, 0, fmt.Errorf("section %s: answer count must be positive", label)
		}
		if cfg.TotalInPaper == 0 {
			cfg.TotalInPaper = cfg.AnswerCount
		}
		if cfg.TotalInPaper < cfg.AnswerCount {
			return nil, 0, fmt.Errorf("section %s: total in paper (%d) cannot be below answer count (%d)",
				label, cfg.TotalInPaper, cfg.AnswerCount)
		}
		cfg.Note = strings.TrimSpace(cfg.Note)
		structure[label] = cfg
		totalMarks += cfg.AnswerCount * cfg.Marks
	}

	for label := range sections {
		if _, ok := structure[strings.ToUpper(strings.TrimSpace(label))]; !ok {
			if cfg := sections[label]; cfg.AnswerCount != 0 || cfg.TotalInPaper != 0 {
				return nil, 0, fmt.Errorf("unknown section label %q (allowed %s)",
					label, strings.Join(SectionLabels, ", "))
			}
		}
	}

	if len(structure) == 0 {
		return nil, 0, errors.New("at least one section is required")
	}

	return structure, totalMarks, nil
}

func lookupSection(sections map[string]models.SectionConfig, label string) (models.SectionConfig, bool) {
	for k, v := range sections {
		if strings.ToUpper(strings.TrimSpace(k)) == label {
			return v, true
		}
	}
	return models.SectionConfig{}, false
}

// SectionForMarks resolves the section implied by a marks value.
func SectionForMarks(structure models.PatternStructure, marks int) (string, bool) {
	for label, cfg := range structure {
		if cfg.Marks == marks {
			return label, true
		}
	}
	return "", false
}

// SortedSections returns the pattern's declared section labels in order.
func SortedSections(structure models.PatternStructure) []string {
	labels := make([]string, 0, len(structure))
	for label := range structure {
		labels = append(labels, label)
	}
	sort.Strings(labels)
	return labels
}

// CreatePattern validates the grid form and inserts a new pattern.
// Patterns are immutable after creation; an existing name is rejected.
func CreatePattern(ctx context.Context, q db.Querier, name string, sections map[string]models.SectionConfig) (*models.Pattern, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, errors.New("pattern name is required")
	}

	var existingID int
	err := q.QueryRow(ctx, `SELECT id FROM patterns WHERE name = $1`, name).Scan(&existingID)
	if err == nil {
		return nil, fmt.Errorf("pattern %q already exists and cannot be changed", name)
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("failed to check pattern name: %w", err)
	}

	structure, totalMarks, err := BuildStructure(sections)
	if err != nil {
		return nil, err
	}

	structureJSON, err := json.Marshal(structure)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal pattern structure: %w", err)
	}

	p := &models.Pattern{Name: name, TotalMarks: totalMarks, Structure: structure, IsActive: true}
	err = q.QueryRow(ctx, `
		INSERT INTO patterns (name, total_marks, structure, is_active)
		VALUES ($1, $2, $3, TRUE) RETURNING id
	`, name, totalMarks, structureJSON).Scan(&p.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to insert pattern %q: %w", name, err)
	}
	return p, nil
}

// GetPatterns lists all patterns ordered by name.
func GetPatterns(ctx context.Context, q db.Querier) ([]models.Pattern, error) {
	rows, err := q.Query(ctx, `SELECT id, name, total_marks, structure, is_active FROM patterns ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("failed to query patterns: %w", err)
	}
	defer rows.Close()

	var patterns []models.Pattern
	for rows.Next() {
		p, err := scanPattern(rows)
		if err != nil {
			return nil, err
		}
		patterns = append(patterns, *p)
	}
	return patterns, rows.Err()
}

// GetPatternByID fetches one pattern.
func GetPatternByID(ctx context.Context, q db.Querier, patternID int) (*models.Pattern, error) {
	row := q.QueryRow(ctx, `SELECT id, name, total_marks, structure, is_active FROM patterns WHERE id = $1`, patternID)
	p, err := scanPattern(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrPatternNotFound
	}
	return p, err
}

// GetPatternByName fetches one pattern by its unique name, or nil when it
// does not exist.
func GetPatternByName(ctx context.Context, q db.Querier, name string) (*models.Pattern, error) {
	row := q.QueryRow(ctx, `SELECT id, name, total_marks, structure, is_active FROM patterns WHERE name = $1`, name)
	p, err := scanPattern(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	return p, err
}

// GetPatternForSubjectVersion resolves the pattern assigned to a subject
// version, or nil when none is assigned.
func GetPatternForSubjectVersion(ctx context.Context, q db.Querier, subjectVersionID int) (*models.Pattern, error) {
	row := q.QueryRow(ctx, `
		SELECT p.id, p.name, p.total_marks, p.structure, p.is_active
		FROM patterns p
		JOIN subject_versions sv ON sv.pattern_id = p.id
		WHERE sv.id = $1
	`, subjectVersionID)
	p, err := scanPattern(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	return p, err
}

// DeletePattern removes a pattern. Subject versions referencing it keep
// their FK, so deletion fails while any version still points at it.
func DeletePattern(ctx context.Context, q db.Querier, patternID int) error {
	tag, err := q.Exec(ctx, `DELETE FROM patterns WHERE id = $1`, patternID)
	if err != nil {
		return fmt.Errorf("failed to delete pattern %d: %w", patternID, err)
	}
	if tag.RowsAffected() == 0 {
		return ErrPatternNotFound
	}
	return nil
}

func scanPattern(row pgx.Row) (*models.Pattern, error) {
	var p models.Pattern
	var structureJSON []byte
	if err := row.Scan(&p.ID, &p.Name, &p.TotalMarks, &structureJSON, &p.IsActive); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to scan pattern row: %w", err)
	}
	if err := json.Unmarshal(structureJSON, &p.Structure); err != nil {
		return nil, fmt.Errorf("failed to unmarshal pattern structure: %w", err)
	}
	return &p, nil
}
