// --- qpgen-server/paper/skeleton.go ---
package paper

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"qpgen-server/bank"
	"qpgen-server/db"
	"qpgen-server/models"
	"qpgen-server/pattern"
	"qpgen-server/subjects"
)

// CreatePaper builds a GENERATED paper skeleton for a subject version. The
// skeleton holds one placeholder slot per required question, ordered unit by
// unit and section by section, with marks taken from the assigned pattern.
func CreatePaper(ctx context.Context, pool *pgxpool.Pool, req models.CreatePaperRequest, createdBy int) (*models.QuestionPaper, error) {
	sv, err := subjects.GetSubjectVersion(ctx, pool, req.SubjectVersionID)
	if err != nil {
		return nil, err
	}

	pat, err := pattern.GetPatternForSubjectVersion(ctx, pool, sv.ID)
	if err != nil {
		return nil, err
	}
	if pat == nil {
		return nil, &GenerationError{Message: fmt.Sprintf(
			"No pattern assigned for subject %s. Assign a pattern before generating paper.", sv.SubjectCode)}
	}

	weightages, err := pattern.GetWeightages(ctx, pool, sv.ID)
	if err != nil {
		return nil, err
	}
	if len(weightages) == 0 {
		return nil, &GenerationError{Message: fmt.Sprintf(
			"Weightage not defined for subject %s. Define weightage before generating paper.", sv.SubjectCode)}
	}

	srcBank, err := resolveSourceBank(ctx, pool, sv, req.QuestionBankID)
	if err != nil {
		return nil, err
	}

	tx, err := pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	paperCode := strings.TrimSpace(req.PaperCode)
	if paperCode == "" {
		paperCode = strings.ToUpper(uuid.NewString()[:8])
	}
	title := strings.TrimSpace(req.Title)
	if title == "" {
		title = fmt.Sprintf("%s - %s", sv.SubjectCode, sv.SubjectName)
	}
	paperType := strings.TrimSpace(req.PaperType)
	if paperType == "" {
		paperType = "SEMESTER"
		if v, err := db.GetSetting(pool, "default_paper_type"); err == nil && v != "" {
			paperType = v
		}
	}

	var paper models.QuestionPaper
	err = tx.QueryRow(ctx, `
		INSERT INTO question_papers
			(subject_version_id, source_question_bank_id, paper_code, paper_type, status, title, created_by)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING `+paperColumns+`
	`, sv.ID, srcBank.ID, paperCode, paperType, models.PaperStatusGenerated, title, createdBy).Scan(
		&paper.ID, &paper.SubjectVersionID, &paper.SourceQuestionBankID, &paper.PaperCode, &paper.PaperType,
		&paper.Status, &paper.Title, &paper.CreatedBy, &paper.CreatedAt, &paper.LastModifiedBy, &paper.LastModifiedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to insert question paper: %w", err)
	}

	for i, slot := range placeholderSlots(pat.Structure, weightages) {
		_, err = tx.Exec(ctx, `
			INSERT INTO question_paper_items
				(question_paper_id, unit, section, marks, order_index, source_type, original_text)
			VALUES ($1, $2, $3, $4, $5, $6, $7)
		`, paper.ID, slot.Unit, slot.Section, slot.Marks, i+1, models.SourceTypeBank, PlaceholderText)
		if err != nil {
			return nil, fmt.Errorf("failed to insert placeholder item: %w", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("failed to commit paper creation: %w", err)
	}
	return &paper, nil
}

type placeholderSlot struct {
	Unit    int
	Section string
	Marks   int
}

// placeholderSlots lays out the skeleton unit by unit, walking sections in
// order within each unit, so the printed paper reads unit 1's A/B/C slots
// before unit 2's.
func placeholderSlots(structure models.PatternStructure, weightages []models.SubjectWeightage) []placeholderSlot {
	sections := pattern.SortedSections(structure)
	var slots []placeholderSlot
	for _, w := range weightages {
		for _, label := range sections {
			for i := 0; i < w.SectionCount(label); i++ {
				slots = append(slots, placeholderSlot{Unit: w.Unit, Section: label, Marks: structure[label].Marks})
			}
		}
	}
	return slots
}

// resolveSourceBank picks the bank the paper will draw from: an explicit
// request, or the subject version's default bank.
func resolveSourceBank(ctx context.Context, pool *pgxpool.Pool, sv *models.SubjectVersion, bankID *int) (*models.QuestionBank, error) {
	if bankID != nil {
		b, err := bank.GetBank(ctx, pool, *bankID)
		if err != nil {
			return nil, err
		}
		if b == nil {
			return nil, &GenerationError{Message: "invalid question bank"}
		}
		if b.SubjectVersionID != sv.ID {
			return nil, &GenerationError{Message: fmt.Sprintf(
				"question bank %d does not belong to subject %s", b.ID, sv.SubjectCode)}
		}
		return b, nil
	}
	b, err := bank.GetDefaultBank(ctx, pool, sv.ID)
	if err != nil {
		return nil, err
	}
	if b == nil {
		return nil, &GenerationError{Message: fmt.Sprintf(
			"No question bank found for subject %s. Upload a question bank before generating paper.", sv.SubjectCode)}
	}
	return b, nil
}
