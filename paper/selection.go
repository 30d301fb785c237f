// --- qpgen-server/paper/selection.go ---
package paper

import (
	"context"
	"crypto/sha256"
	"fmt"
	"math/rand"
	"sort"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"qpgen-server/models"
	"qpgen-server/utils"
)

// slotGroup keys the unfilled placeholders that compete for the same
// candidate pool.
type slotGroup struct {
	Unit  int
	Marks int
}

// AutoSelect fills every empty placeholder of a GENERATED paper with
// questions drawn at random from the paper's source bank. The fill is all
// or nothing: any shortfall rolls the whole transaction back. Pass a seeded
// rng for reproducible drafts; nil uses the clock.
func AutoSelect(ctx context.Context, pool *pgxpool.Pool, paperID, actorID int, rng *rand.Rand) (*models.QuestionPaper, error) {
	if rng == nil {
		// Derive a seed from the paper and the clock so concurrent draws on
		// different papers never share a stream.
		hasher := sha256.New()
		fmt.Fprintf(hasher, "%d:%d", paperID, time.Now().UnixNano())
		rng = rand.New(rand.NewSource(int64(utils.BytesToInt(hasher.Sum(nil)))))
	}

	tx, err := pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	s := &pgPaperStore{q: tx}
	paper, err := autoSelect(ctx, s, paperID, actorID, rng)
	if err != nil {
		return nil, err
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("failed to commit selection: %w", err)
	}
	return paper, nil
}

func autoSelect(ctx context.Context, s store, paperID, actorID int, rng *rand.Rand) (*models.QuestionPaper, error) {
	paper, err := s.GetPaperForUpdate(ctx, paperID)
	if err != nil {
		return nil, err
	}
	if paper == nil {
		return nil, &SelectionError{Message: "invalid question paper"}
	}
	if paper.Status != models.PaperStatusGenerated {
		return nil, &SelectionError{Message: fmt.Sprintf(
			"only %s papers can be auto-filled, paper is %s", models.PaperStatusGenerated, paper.Status)}
	}
	if paper.SourceQuestionBankID == nil {
		return nil, &SelectionError{Message: "paper has no source question bank"}
	}
	bankID := *paper.SourceQuestionBankID

	items, err := s.GetPaperItems(ctx, paperID)
	if err != nil {
		return nil, err
	}

	groups := map[slotGroup][]models.QuestionPaperItem{}
	for _, it := range items {
		if it.SourceQuestionID != nil {
			continue
		}
		key := slotGroup{Unit: it.Unit, Marks: it.Marks}
		groups[key] = append(groups[key], it)
	}
	if len(groups) == 0 {
		return paper, nil
	}

	keys := make([]slotGroup, 0, len(groups))
	for k := range groups {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		if keys[i].Unit != keys[j].Unit {
			return keys[i].Unit < keys[j].Unit
		}
		return keys[i].Marks < keys[j].Marks
	})

	// Draw every group before assigning anything so a shortfall in a later
	// group cannot leave earlier slots half filled.
	picks := map[slotGroup][]models.QuestionBankItem{}
	for _, key := range keys {
		slots := groups[key]
		candidates, err := s.GetBankItemsByUnitMarks(ctx, bankID, key.Unit, key.Marks)
		if err != nil {
			return nil, err
		}
		if len(candidates) < len(slots) {
			return nil, &SelectionError{Message: fmt.Sprintf(
				"not enough questions for Unit %d, %d marks: required %d, found %d",
				key.Unit, key.Marks, len(slots), len(candidates))}
		}
		chosen := make([]models.QuestionBankItem, 0, len(slots))
		for _, idx := range rng.Perm(len(candidates))[:len(slots)] {
			chosen = append(chosen, candidates[idx])
		}
		picks[key] = chosen
	}

	for _, key := range keys {
		slots := groups[key]
		for i, slot := range slots {
			assignBankItem(&slot, &picks[key][i])
			if err := s.UpdatePaperItem(ctx, &slot); err != nil {
				return nil, err
			}
		}
	}

	if err := s.TouchPaper(ctx, paperID, actorID); err != nil {
		return nil, err
	}
	return paper, nil
}

// assignBankItem snapshots a bank question into a placeholder slot. Any
// manual override or duplicate flag from a previous fill is cleared.
func assignBankItem(slot *models.QuestionPaperItem, bi *models.QuestionBankItem) {
	qid := bi.QuestionID
	slot.SourceType = models.SourceTypeBank
	slot.SourceQuestionID = &qid
	slot.OriginalText = bi.QuestionText
	slot.KLevel = bi.KLevel
	slot.ManualTextOverride = nil
	slot.IsDuplicateFlag = false
}
