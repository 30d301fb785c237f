// --- qpgen-server/paper/edit.go ---
package paper

import (
	"context"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5/pgxpool"

	"qpgen-server/models"
)

// SwapQuestion replaces one slot's question with another item from the
// paper's source bank. The slot keeps its unit, section, marks and order;
// text snapshot and k-level follow the new question, and any manual
// override or duplicate flag is cleared.
func SwapQuestion(ctx context.Context, pool *pgxpool.Pool, paperItemID, bankItemID, actorID int) (*models.QuestionPaperItem, error) {
	return editItem(ctx, pool, paperItemID, actorID, swapMutation(bankItemID))
}

func swapMutation(bankItemID int) mutation {
	return func(ctx context.Context, s store, paper *models.QuestionPaper, it *models.QuestionPaperItem) error {
		bi, err := s.GetBankItem(ctx, bankItemID)
		if err != nil {
			return err
		}
		if bi == nil {
			return &EditError{Message: "invalid question bank item"}
		}
		if paper.SourceQuestionBankID == nil || bi.QuestionBankID != *paper.SourceQuestionBankID {
			return &EditError{Message: fmt.Sprintf(
				"bank item %d does not belong to this paper's question bank", bi.ID)}
		}
		assignBankItem(it, bi)
		return nil
	}
}

// ApplyManualEdit overrides a slot's text without touching the original
// snapshot, and marks the slot MANUAL.
func ApplyManualEdit(ctx context.Context, pool *pgxpool.Pool, paperItemID int, newText string, actorID int) (*models.QuestionPaperItem, error) {
	text := strings.TrimSpace(newText)
	if text == "" {
		return nil, &EditError{Message: "manual edit text cannot be empty"}
	}
	return editItem(ctx, pool, paperItemID, actorID, manualEditMutation(text))
}

func manualEditMutation(text string) mutation {
	return func(ctx context.Context, s store, paper *models.QuestionPaper, it *models.QuestionPaperItem) error {
		it.ManualTextOverride = &text
		it.SourceType = models.SourceTypeManual
		return nil
	}
}

// SetDuplicateFlag toggles a reviewer's duplicate mark on a slot.
func SetDuplicateFlag(ctx context.Context, pool *pgxpool.Pool, paperItemID int, flag bool, actorID int) (*models.QuestionPaperItem, error) {
	return editItem(ctx, pool, paperItemID, actorID, duplicateFlagMutation(flag))
}

func duplicateFlagMutation(flag bool) mutation {
	return func(ctx context.Context, s store, paper *models.QuestionPaper, it *models.QuestionPaperItem) error {
		it.IsDuplicateFlag = flag
		return nil
	}
}

// mutation changes one item while its paper row is locked.
type mutation func(ctx context.Context, s store, paper *models.QuestionPaper, it *models.QuestionPaperItem) error

// editItem runs one item mutation under the paper's immutability guard: the
// owning paper row is locked and its status re-read inside the transaction,
// so a concurrent activation cannot slip an edit onto an ACTIVE paper.
func editItem(ctx context.Context, pool *pgxpool.Pool, paperItemID, actorID int, mutate mutation) (*models.QuestionPaperItem, error) {
	tx, err := pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	s := &pgPaperStore{q: tx}
	it, err := applyEdit(ctx, s, paperItemID, actorID, mutate)
	if err != nil {
		return nil, err
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("failed to commit edit: %w", err)
	}
	return it, nil
}

func applyEdit(ctx context.Context, s store, paperItemID, actorID int, mutate mutation) (*models.QuestionPaperItem, error) {
	it, err := s.GetPaperItem(ctx, paperItemID)
	if err != nil {
		return nil, err
	}
	if it == nil {
		return nil, &EditError{Message: "invalid question paper item"}
	}

	paper, err := s.GetPaperForUpdate(ctx, it.QuestionPaperID)
	if err != nil {
		return nil, err
	}
	if paper == nil {
		return nil, &EditError{Message: "invalid question paper"}
	}
	if paper.Status == models.PaperStatusActive {
		return nil, ErrPaperImmutable
	}

	if err := mutate(ctx, s, paper, it); err != nil {
		return nil, err
	}
	if err := s.UpdatePaperItem(ctx, it); err != nil {
		return nil, err
	}
	if err := s.TouchPaper(ctx, paper.ID, actorID); err != nil {
		return nil, err
	}
	return it, nil
}
