// --- qpgen-server/paper/activate.go ---
package paper

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"qpgen-server/db"
	"qpgen-server/models"
)

// ActivatePaper promotes a paper to ACTIVE and archives whichever paper held
// that status for the same subject version. At most one paper per subject
// version is ACTIVE at any time; concurrent activations serialize on the
// subject version's paper rows.
func ActivatePaper(ctx context.Context, pool *pgxpool.Pool, paperID, actorID int) (*models.QuestionPaper, error) {
	tx, err := pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	s := &pgPaperStore{q: tx}
	paper, err := activate(ctx, s, paperID, actorID)
	if err != nil {
		return nil, err
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("failed to commit activation: %w", err)
	}
	db.LogAuditEvent(pool, fmt.Sprintf("user:%d", actorID), "PAPER_ACTIVATED",
		paper.PaperCode, fmt.Sprintf("question paper %d set ACTIVE", paper.ID))
	return paper, nil
}

func activate(ctx context.Context, s store, paperID, actorID int) (*models.QuestionPaper, error) {
	paper, err := s.GetPaper(ctx, paperID)
	if err != nil {
		return nil, err
	}
	if paper == nil {
		return nil, &ActivationError{Message: "invalid question paper"}
	}

	// Lock the whole paper set for this subject version, then re-read the
	// target under the lock. Two racing activations both take these locks,
	// so the loser sees the winner's result.
	if err := s.LockPapers(ctx, paper.SubjectVersionID); err != nil {
		return nil, err
	}
	paper, err = s.GetPaperForUpdate(ctx, paperID)
	if err != nil {
		return nil, err
	}
	if paper == nil {
		return nil, &ActivationError{Message: "invalid question paper"}
	}
	if paper.Status == models.PaperStatusActive {
		return paper, nil
	}

	current, err := s.FindActivePaper(ctx, paper.SubjectVersionID)
	if err != nil {
		return nil, err
	}
	if current != nil && current.ID != paper.ID {
		if err := s.SetPaperStatus(ctx, current.ID, models.PaperStatusArchived, actorID); err != nil {
			return nil, err
		}
	}
	if err := s.SetPaperStatus(ctx, paper.ID, models.PaperStatusActive, actorID); err != nil {
		return nil, err
	}
	paper.Status = models.PaperStatusActive
	return paper, nil
}

// MarkUnderScrutiny records that a paper entered review: the first rendered
// copy moves a GENERATED paper to UNDER_SCRUTINY. Other statuses are left
// untouched.
func MarkUnderScrutiny(ctx context.Context, pool *pgxpool.Pool, paperID, actorID int) (*models.QuestionPaper, error) {
	tx, err := pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	s := &pgPaperStore{q: tx}
	paper, err := s.GetPaperForUpdate(ctx, paperID)
	if err != nil {
		return nil, err
	}
	if paper == nil {
		return nil, &ActivationError{Message: "invalid question paper"}
	}
	if paper.Status == models.PaperStatusGenerated {
		if err := s.SetPaperStatus(ctx, paper.ID, models.PaperStatusUnderScrutiny, actorID); err != nil {
			return nil, err
		}
		paper.Status = models.PaperStatusUnderScrutiny
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("failed to commit status change: %w", err)
	}
	return paper, nil
}
