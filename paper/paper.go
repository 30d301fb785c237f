// --- qpgen-server/paper/paper.go ---
package paper

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"qpgen-server/db"
	"qpgen-server/models"
)

// PlaceholderText fills a skeleton slot until selection assigns a question.
const PlaceholderText = "[TO BE SELECTED]"

// ErrPaperImmutable guards every mutation of an ACTIVE paper.
var ErrPaperImmutable = errors.New("ACTIVE question paper cannot be modified")

// GenerationError aborts skeleton creation.
type GenerationError struct{ Message string }

func (e *GenerationError) Error() string { return e.Message }

// SelectionError aborts auto-selection; nothing is left partially filled.
type SelectionError struct{ Message string }

func (e *SelectionError) Error() string { return e.Message }

// EditError rejects an edit of a missing or invalid item.
type EditError struct{ Message string }

func (e *EditError) Error() string { return e.Message }

// ActivationError rejects activation of a nonexistent paper.
type ActivationError struct{ Message string }

func (e *ActivationError) Error() string { return e.Message }

// store is the persistence surface shared by selection, editing and
// activation. pgPaperStore implements it over pgx; tests fake it.
type store interface {
	GetPaper(ctx context.Context, paperID int) (*models.QuestionPaper, error)
	GetPaperForUpdate(ctx context.Context, paperID int) (*models.QuestionPaper, error)
	LockPapers(ctx context.Context, subjectVersionID int) error
	FindActivePaper(ctx context.Context, subjectVersionID int) (*models.QuestionPaper, error)
	SetPaperStatus(ctx context.Context, paperID int, status string, actorID int) error
	GetPaperItems(ctx context.Context, paperID int) ([]models.QuestionPaperItem, error)
	GetPaperItem(ctx context.Context, itemID int) (*models.QuestionPaperItem, error)
	GetBankItem(ctx context.Context, bankItemID int) (*models.QuestionBankItem, error)
	GetBankItemsByUnitMarks(ctx context.Context, bankID, unit, marks int) ([]models.QuestionBankItem, error)
	UpdatePaperItem(ctx context.Context, it *models.QuestionPaperItem) error
	TouchPaper(ctx context.Context, paperID, actorID int) error
}

type pgPaperStore struct {
	q db.Querier
}

const paperColumns = `id, subject_version_id, source_question_bank_id, paper_code, paper_type,
	status, title, created_by, created_at, last_modified_by, last_modified_at`

func scanPaper(row pgx.Row) (*models.QuestionPaper, error) {
	var p models.QuestionPaper
	err := row.Scan(
		&p.ID, &p.SubjectVersionID, &p.SourceQuestionBankID, &p.PaperCode, &p.PaperType,
		&p.Status, &p.Title, &p.CreatedBy, &p.CreatedAt, &p.LastModifiedBy, &p.LastModifiedAt,
	)
	if err != nil {
		return nil, err
	}
	return &p, nil
}

func (s *pgPaperStore) GetPaper(ctx context.Context, paperID int) (*models.QuestionPaper, error) {
	p, err := scanPaper(s.q.QueryRow(ctx,
		`SELECT `+paperColumns+` FROM question_papers WHERE id = $1`, paperID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to fetch paper %d: %w", paperID, err)
	}
	return p, nil
}

func (s *pgPaperStore) GetPaperForUpdate(ctx context.Context, paperID int) (*models.QuestionPaper, error) {
	p, err := scanPaper(s.q.QueryRow(ctx,
		`SELECT `+paperColumns+` FROM question_papers WHERE id = $1 FOR UPDATE`, paperID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to lock paper %d: %w", paperID, err)
	}
	return p, nil
}

// LockPapers serializes concurrent activations for one subject version by
// locking its full paper set in a single statement.
func (s *pgPaperStore) LockPapers(ctx context.Context, subjectVersionID int) error {
	rows, err := s.q.Query(ctx,
		`SELECT id FROM question_papers WHERE subject_version_id = $1 ORDER BY id FOR UPDATE`, subjectVersionID)
	if err != nil {
		return fmt.Errorf("failed to lock papers for subject version %d: %w", subjectVersionID, err)
	}
	rows.Close()
	return rows.Err()
}

func (s *pgPaperStore) FindActivePaper(ctx context.Context, subjectVersionID int) (*models.QuestionPaper, error) {
	p, err := scanPaper(s.q.QueryRow(ctx,
		`SELECT `+paperColumns+` FROM question_papers WHERE subject_version_id = $1 AND status = 'ACTIVE'`,
		subjectVersionID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find active paper: %w", err)
	}
	return p, nil
}

func (s *pgPaperStore) SetPaperStatus(ctx context.Context, paperID int, status string, actorID int) error {
	_, err := s.q.Exec(ctx, `
		UPDATE question_papers
		SET status = $2, last_modified_by = $3, last_modified_at = CURRENT_TIMESTAMP
		WHERE id = $1
	`, paperID, status, actorID)
	if err != nil {
		return fmt.Errorf("failed to set paper %d status to %s: %w", paperID, status, err)
	}
	return nil
}

const itemColumns = `id, question_paper_id, unit, section, marks, k_level, order_index,
	source_type, source_question_id, original_text, manual_text_override, is_duplicate_flag,
	created_at, last_modified_at`

func scanPaperItem(row pgx.Row) (*models.QuestionPaperItem, error) {
	var it models.QuestionPaperItem
	err := row.Scan(
		&it.ID, &it.QuestionPaperID, &it.Unit, &it.Section, &it.Marks, &it.KLevel, &it.OrderIndex,
		&it.SourceType, &it.SourceQuestionID, &it.OriginalText, &it.ManualTextOverride, &it.IsDuplicateFlag,
		&it.CreatedAt, &it.LastModifiedAt,
	)
	if err != nil {
		return nil, err
	}
	return &it, nil
}

func (s *pgPaperStore) GetPaperItems(ctx context.Context, paperID int) ([]models.QuestionPaperItem, error) {
	rows, err := s.q.Query(ctx,
		`SELECT `+itemColumns+` FROM question_paper_items WHERE question_paper_id = $1 ORDER BY order_index`,
		paperID)
	if err != nil {
		return nil, fmt.Errorf("failed to query paper items: %w", err)
	}
	defer rows.Close()

	var items []models.QuestionPaperItem
	for rows.Next() {
		it, err := scanPaperItem(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan paper item row: %w", err)
		}
		items = append(items, *it)
	}
	return items, rows.Err()
}

func (s *pgPaperStore) GetPaperItem(ctx context.Context, itemID int) (*models.QuestionPaperItem, error) {
	it, err := scanPaperItem(s.q.QueryRow(ctx,
		`SELECT `+itemColumns+` FROM question_paper_items WHERE id = $1`, itemID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to fetch paper item %d: %w", itemID, err)
	}
	return it, nil
}

func (s *pgPaperStore) GetBankItem(ctx context.Context, bankItemID int) (*models.QuestionBankItem, error) {
	var it models.QuestionBankItem
	err := s.q.QueryRow(ctx, `
		SELECT bi.id, bi.question_bank_id, bi.question_id, bi.unit, bi.section, bi.marks, bi.k_level, bi.created_at,
		       qm.question_text
		FROM question_bank_items bi
		JOIN question_masters qm ON qm.id = bi.question_id
		WHERE bi.id = $1
	`, bankItemID).Scan(
		&it.ID, &it.QuestionBankID, &it.QuestionID, &it.Unit, &it.Section, &it.Marks, &it.KLevel, &it.CreatedAt,
		&it.QuestionText,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to fetch bank item %d: %w", bankItemID, err)
	}
	return &it, nil
}

func (s *pgPaperStore) GetBankItemsByUnitMarks(ctx context.Context, bankID, unit, marks int) ([]models.QuestionBankItem, error) {
	rows, err := s.q.Query(ctx, `
		SELECT bi.id, bi.question_bank_id, bi.question_id, bi.unit, bi.section, bi.marks, bi.k_level, bi.created_at,
		       qm.question_text
		FROM question_bank_items bi
		JOIN question_masters qm ON qm.id = bi.question_id
		WHERE bi.question_bank_id = $1 AND bi.unit = $2 AND bi.marks = $3
		ORDER BY bi.id
	`, bankID, unit, marks)
	if err != nil {
		return nil, fmt.Errorf("failed to query bank items for unit %d marks %d: %w", unit, marks, err)
	}
	defer rows.Close()

	var items []models.QuestionBankItem
	for rows.Next() {
		var it models.QuestionBankItem
		if err := rows.Scan(&it.ID, &it.QuestionBankID, &it.QuestionID, &it.Unit, &it.Section, &it.Marks, &it.KLevel, &it.CreatedAt, &it.QuestionText); err != nil {
			return nil, fmt.Errorf("failed to scan bank item row: %w", err)
		}
		items = append(items, it)
	}
	return items, rows.Err()
}

func (s *pgPaperStore) UpdatePaperItem(ctx context.Context, it *models.QuestionPaperItem) error {
	_, err := s.q.Exec(ctx, `
		UPDATE question_paper_items
		SET k_level = $2, source_type = $3, source_question_id = $4, original_text = $5,
		    manual_text_override = $6, is_duplicate_flag = $7, last_modified_at = CURRENT_TIMESTAMP
		WHERE id = $1
	`, it.ID, it.KLevel, it.SourceType, it.SourceQuestionID, it.OriginalText, it.ManualTextOverride, it.IsDuplicateFlag)
	if err != nil {
		return fmt.Errorf("failed to update paper item %d: %w", it.ID, err)
	}
	return nil
}

func (s *pgPaperStore) TouchPaper(ctx context.Context, paperID, actorID int) error {
	_, err := s.q.Exec(ctx, `
		UPDATE question_papers
		SET last_modified_by = $2, last_modified_at = CURRENT_TIMESTAMP
		WHERE id = $1
	`, paperID, actorID)
	if err != nil {
		return fmt.Errorf("failed to touch paper %d: %w", paperID, err)
	}
	return nil
}

// GetPaper fetches one paper outside any transaction.
func GetPaper(ctx context.Context, q db.Querier, paperID int) (*models.QuestionPaper, error) {
	return (&pgPaperStore{q: q}).GetPaper(ctx, paperID)
}

// GetPaperItems lists a paper's items in order.
func GetPaperItems(ctx context.Context, q db.Querier, paperID int) ([]models.QuestionPaperItem, error) {
	return (&pgPaperStore{q: q}).GetPaperItems(ctx, paperID)
}

// ListPapers lists a subject version's papers, newest first.
func ListPapers(ctx context.Context, q db.Querier, subjectVersionID int) ([]models.QuestionPaper, error) {
	rows, err := q.Query(ctx,
		`SELECT `+paperColumns+` FROM question_papers WHERE subject_version_id = $1 ORDER BY created_at DESC`,
		subjectVersionID)
	if err != nil {
		return nil, fmt.Errorf("failed to query papers: %w", err)
	}
	defer rows.Close()

	var papers []models.QuestionPaper
	for rows.Next() {
		p, err := scanPaper(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan paper row: %w", err)
		}
		papers = append(papers, *p)
	}
	return papers, rows.Err()
}
