// --- qpgen-server/paper/paper_test.go ---
package paper

import (
	"context"
	"errors"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"qpgen-server/models"
)

type fakePaperStore struct {
	papers    map[int]*models.QuestionPaper
	items     map[int]*models.QuestionPaperItem
	itemOrder []int
	bankItems []models.QuestionBankItem

	updates     int
	statusCalls []string
	touched     int
}

func newFakePaperStore() *fakePaperStore {
	return &fakePaperStore{
		papers: map[int]*models.QuestionPaper{},
		items:  map[int]*models.QuestionPaperItem{},
	}
}

func (f *fakePaperStore) addPaper(p models.QuestionPaper) {
	cp := p
	f.papers[p.ID] = &cp
}

func (f *fakePaperStore) addItem(it models.QuestionPaperItem) {
	cp := it
	f.items[it.ID] = &cp
	f.itemOrder = append(f.itemOrder, it.ID)
}

func (f *fakePaperStore) GetPaper(ctx context.Context, paperID int) (*models.QuestionPaper, error) {
	return f.papers[paperID], nil
}

func (f *fakePaperStore) GetPaperForUpdate(ctx context.Context, paperID int) (*models.QuestionPaper, error) {
	return f.papers[paperID], nil
}

func (f *fakePaperStore) LockPapers(ctx context.Context, subjectVersionID int) error { return nil }

func (f *fakePaperStore) FindActivePaper(ctx context.Context, subjectVersionID int) (*models.QuestionPaper, error) {
	for _, p := range f.papers {
		if p.SubjectVersionID == subjectVersionID && p.Status == models.PaperStatusActive {
			return p, nil
		}
	}
	return nil, nil
}

func (f *fakePaperStore) SetPaperStatus(ctx context.Context, paperID int, status string, actorID int) error {
	f.papers[paperID].Status = status
	f.statusCalls = append(f.statusCalls, status)
	return nil
}

func (f *fakePaperStore) GetPaperItems(ctx context.Context, paperID int) ([]models.QuestionPaperItem, error) {
	var out []models.QuestionPaperItem
	for _, id := range f.itemOrder {
		if f.items[id].QuestionPaperID == paperID {
			out = append(out, *f.items[id])
		}
	}
	return out, nil
}

func (f *fakePaperStore) GetPaperItem(ctx context.Context, itemID int) (*models.QuestionPaperItem, error) {
	return f.items[itemID], nil
}

func (f *fakePaperStore) GetBankItem(ctx context.Context, bankItemID int) (*models.QuestionBankItem, error) {
	for i := range f.bankItems {
		if f.bankItems[i].ID == bankItemID {
			return &f.bankItems[i], nil
		}
	}
	return nil, nil
}

func (f *fakePaperStore) GetBankItemsByUnitMarks(ctx context.Context, bankID, unit, marks int) ([]models.QuestionBankItem, error) {
	var out []models.QuestionBankItem
	for _, bi := range f.bankItems {
		if bi.QuestionBankID == bankID && bi.Unit == unit && bi.Marks == marks {
			out = append(out, bi)
		}
	}
	return out, nil
}

func (f *fakePaperStore) UpdatePaperItem(ctx context.Context, it *models.QuestionPaperItem) error {
	cp := *it
	f.items[it.ID] = &cp
	f.updates++
	return nil
}

func (f *fakePaperStore) TouchPaper(ctx context.Context, paperID, actorID int) error {
	f.touched++
	return nil
}

func intPtr(v int) *int { return &v }

func strPtr(v string) *string { return &v }

func seededRng(seed int64) *rand.Rand { return rand.New(rand.NewSource(seed)) }

func placeholder(id, paperID, unit int, section string, marks, order int) models.QuestionPaperItem {
	return models.QuestionPaperItem{
		ID: id, QuestionPaperID: paperID, Unit: unit, Section: section, Marks: marks,
		OrderIndex: order, SourceType: models.SourceTypeBank, OriginalText: PlaceholderText,
	}
}

func bankQuestion(id, bankID, questionID, unit int, section string, marks int, text string) models.QuestionBankItem {
	return models.QuestionBankItem{
		ID: id, QuestionBankID: bankID, QuestionID: questionID, Unit: unit, Section: section,
		Marks: marks, KLevel: strPtr("K2"), QuestionText: text,
	}
}

func TestPlaceholderSlotsAreUnitMajor(t *testing.T) {
	structure := models.PatternStructure{
		"A": {Marks: 2, AnswerCount: 3, TotalInPaper: 3},
		"B": {Marks: 13, AnswerCount: 2, TotalInPaper: 2},
	}
	weightages := []models.SubjectWeightage{
		{Unit: 1, SecACount: 2, SecBCount: 1},
		{Unit: 2, SecACount: 1, SecBCount: 1},
	}

	slots := placeholderSlots(structure, weightages)

	want := []placeholderSlot{
		{Unit: 1, Section: "A", Marks: 2},
		{Unit: 1, Section: "A", Marks: 2},
		{Unit: 1, Section: "B", Marks: 13},
		{Unit: 2, Section: "A", Marks: 2},
		{Unit: 2, Section: "B", Marks: 13},
	}
	assert.Equal(t, want, slots)
}

func TestAutoSelectFillsEverySlot(t *testing.T) {
	f := newFakePaperStore()
	f.addPaper(models.QuestionPaper{
		ID: 1, SubjectVersionID: 10, SourceQuestionBankID: intPtr(5),
		Status: models.PaperStatusGenerated,
	})
	f.addItem(placeholder(101, 1, 1, "A", 2, 1))
	f.addItem(placeholder(102, 1, 1, "A", 2, 2))
	f.addItem(placeholder(103, 1, 2, "B", 5, 3))
	f.bankItems = []models.QuestionBankItem{
		bankQuestion(201, 5, 301, 1, "A", 2, "define x"),
		bankQuestion(202, 5, 302, 1, "A", 2, "define y"),
		bankQuestion(203, 5, 303, 1, "A", 2, "define z"),
		bankQuestion(204, 5, 304, 2, "B", 5, "explain w"),
	}

	_, err := autoSelect(context.Background(), f, 1, 7, seededRng(42))
	require.NoError(t, err)

	seen := map[int]bool{}
	for _, id := range []int{101, 102, 103} {
		it := f.items[id]
		require.NotNil(t, it.SourceQuestionID, "slot %d should be filled", id)
		assert.False(t, seen[*it.SourceQuestionID], "question %d reused", *it.SourceQuestionID)
		seen[*it.SourceQuestionID] = true
		assert.NotEqual(t, PlaceholderText, it.OriginalText)
		assert.Equal(t, models.SourceTypeBank, it.SourceType)
		assert.Nil(t, it.ManualTextOverride)
		assert.False(t, it.IsDuplicateFlag)
	}
	assert.Equal(t, 1, f.touched)
}

func TestAutoSelectIsReproducibleWithSeed(t *testing.T) {
	build := func() *fakePaperStore {
		f := newFakePaperStore()
		f.addPaper(models.QuestionPaper{
			ID: 1, SubjectVersionID: 10, SourceQuestionBankID: intPtr(5),
			Status: models.PaperStatusGenerated,
		})
		f.addItem(placeholder(101, 1, 1, "A", 2, 1))
		f.addItem(placeholder(102, 1, 1, "A", 2, 2))
		for i := 0; i < 6; i++ {
			f.bankItems = append(f.bankItems, bankQuestion(201+i, 5, 301+i, 1, "A", 2, "q"))
		}
		return f
	}

	first := build()
	_, err := autoSelect(context.Background(), first, 1, 7, seededRng(99))
	require.NoError(t, err)

	second := build()
	_, err = autoSelect(context.Background(), second, 1, 7, seededRng(99))
	require.NoError(t, err)

	for _, id := range []int{101, 102} {
		assert.Equal(t, *first.items[id].SourceQuestionID, *second.items[id].SourceQuestionID)
	}
}

func TestAutoSelectShortfallChangesNothing(t *testing.T) {
	f := newFakePaperStore()
	f.addPaper(models.QuestionPaper{
		ID: 1, SubjectVersionID: 10, SourceQuestionBankID: intPtr(5),
		Status: models.PaperStatusGenerated,
	})
	for i := 0; i < 5; i++ {
		f.addItem(placeholder(101+i, 1, 3, "B", 5, i+1))
	}
	for i := 0; i < 4; i++ {
		f.bankItems = append(f.bankItems, bankQuestion(201+i, 5, 301+i, 3, "B", 5, "q"))
	}

	_, err := autoSelect(context.Background(), f, 1, 7, seededRng(1))
	var selErr *SelectionError
	require.ErrorAs(t, err, &selErr)
	assert.Contains(t, selErr.Message, "required 5, found 4")
	assert.Equal(t, 0, f.updates, "no placeholder may change on shortfall")
	for i := 0; i < 5; i++ {
		assert.Nil(t, f.items[101+i].SourceQuestionID)
	}
}

func TestAutoSelectSkipsFilledSlots(t *testing.T) {
	f := newFakePaperStore()
	f.addPaper(models.QuestionPaper{
		ID: 1, SubjectVersionID: 10, SourceQuestionBankID: intPtr(5),
		Status: models.PaperStatusGenerated,
	})
	filled := placeholder(101, 1, 1, "A", 2, 1)
	filled.SourceQuestionID = intPtr(301)
	filled.OriginalText = "kept"
	f.addItem(filled)
	f.addItem(placeholder(102, 1, 1, "A", 2, 2))
	f.bankItems = []models.QuestionBankItem{
		bankQuestion(201, 5, 301, 1, "A", 2, "q1"),
		bankQuestion(202, 5, 302, 1, "A", 2, "q2"),
	}

	_, err := autoSelect(context.Background(), f, 1, 7, seededRng(3))
	require.NoError(t, err)
	assert.Equal(t, "kept", f.items[101].OriginalText)
	assert.Equal(t, 1, f.updates)
	require.NotNil(t, f.items[102].SourceQuestionID)
}

func TestAutoSelectRejectsNonGeneratedPaper(t *testing.T) {
	for _, status := range []string{
		models.PaperStatusUnderScrutiny, models.PaperStatusActive, models.PaperStatusArchived,
	} {
		f := newFakePaperStore()
		f.addPaper(models.QuestionPaper{
			ID: 1, SubjectVersionID: 10, SourceQuestionBankID: intPtr(5), Status: status,
		})
		_, err := autoSelect(context.Background(), f, 1, 7, seededRng(1))
		var selErr *SelectionError
		assert.ErrorAs(t, err, &selErr, "status %s", status)
	}
}

func TestSwapReplacesSnapshotAndClearsOverride(t *testing.T) {
	f := newFakePaperStore()
	f.addPaper(models.QuestionPaper{
		ID: 1, SubjectVersionID: 10, SourceQuestionBankID: intPtr(5),
		Status: models.PaperStatusUnderScrutiny,
	})
	it := placeholder(101, 1, 2, "B", 5, 1)
	it.SourceQuestionID = intPtr(300)
	it.OriginalText = "old text"
	it.ManualTextOverride = strPtr("edited by hand")
	it.IsDuplicateFlag = true
	f.addItem(it)
	f.bankItems = []models.QuestionBankItem{
		bankQuestion(201, 5, 305, 2, "B", 5, "new text"),
	}

	got, err := applyEdit(context.Background(), f, 101, 7, swapMutation(201))
	require.NoError(t, err)
	assert.Equal(t, 305, *got.SourceQuestionID)
	assert.Equal(t, "new text", got.OriginalText)
	assert.Nil(t, got.ManualTextOverride)
	assert.False(t, got.IsDuplicateFlag)
	assert.Equal(t, 2, got.Unit, "slot keeps its unit")
	assert.Equal(t, 5, got.Marks, "slot keeps its marks")
}

func TestSwapRejectsItemFromAnotherBank(t *testing.T) {
	f := newFakePaperStore()
	f.addPaper(models.QuestionPaper{
		ID: 1, SubjectVersionID: 10, SourceQuestionBankID: intPtr(5),
		Status: models.PaperStatusUnderScrutiny,
	})
	f.addItem(placeholder(101, 1, 2, "B", 5, 1))
	f.bankItems = []models.QuestionBankItem{
		bankQuestion(201, 6, 305, 2, "B", 5, "foreign"),
	}

	_, err := applyEdit(context.Background(), f, 101, 7, swapMutation(201))
	var editErr *EditError
	require.ErrorAs(t, err, &editErr)
	assert.Nil(t, f.items[101].SourceQuestionID)
}

func TestEditsRejectedOnActivePaper(t *testing.T) {
	f := newFakePaperStore()
	f.addPaper(models.QuestionPaper{
		ID: 1, SubjectVersionID: 10, SourceQuestionBankID: intPtr(5),
		Status: models.PaperStatusActive,
	})
	it := placeholder(101, 1, 1, "A", 2, 1)
	it.OriginalText = "frozen"
	f.addItem(it)

	for name, m := range map[string]mutation{
		"swap":      swapMutation(201),
		"manual":    manualEditMutation("new"),
		"duplicate": duplicateFlagMutation(true),
	} {
		_, err := applyEdit(context.Background(), f, 101, 7, m)
		assert.ErrorIs(t, err, ErrPaperImmutable, name)
	}
	assert.Equal(t, "frozen", f.items[101].OriginalText)
	assert.Equal(t, 0, f.updates)
}

func TestManualEditKeepsOriginalSnapshot(t *testing.T) {
	f := newFakePaperStore()
	f.addPaper(models.QuestionPaper{
		ID: 1, SubjectVersionID: 10, Status: models.PaperStatusUnderScrutiny,
	})
	it := placeholder(101, 1, 1, "A", 2, 1)
	it.OriginalText = "original wording"
	f.addItem(it)

	got, err := applyEdit(context.Background(), f, 101, 7, manualEditMutation("reworded"))
	require.NoError(t, err)
	assert.Equal(t, "original wording", got.OriginalText)
	assert.Equal(t, "reworded", *got.ManualTextOverride)
	assert.Equal(t, models.SourceTypeManual, got.SourceType)
	assert.Equal(t, "reworded", got.DisplayText())
}

func TestManualEditRejectsEmptyText(t *testing.T) {
	_, err := ApplyManualEdit(context.Background(), nil, 101, "   ", 7)
	var editErr *EditError
	require.ErrorAs(t, err, &editErr)
}

func TestEditMissingItem(t *testing.T) {
	f := newFakePaperStore()
	_, err := applyEdit(context.Background(), f, 999, 7, duplicateFlagMutation(true))
	var editErr *EditError
	require.ErrorAs(t, err, &editErr)
}

func TestActivateArchivesPreviousActive(t *testing.T) {
	f := newFakePaperStore()
	f.addPaper(models.QuestionPaper{ID: 1, SubjectVersionID: 10, Status: models.PaperStatusActive})
	f.addPaper(models.QuestionPaper{ID: 2, SubjectVersionID: 10, Status: models.PaperStatusUnderScrutiny})
	f.addPaper(models.QuestionPaper{ID: 3, SubjectVersionID: 99, Status: models.PaperStatusActive})

	got, err := activate(context.Background(), f, 2, 7)
	require.NoError(t, err)
	assert.Equal(t, models.PaperStatusActive, got.Status)
	assert.Equal(t, models.PaperStatusArchived, f.papers[1].Status)
	assert.Equal(t, models.PaperStatusActive, f.papers[3].Status, "other subject version untouched")

	active := 0
	for _, p := range f.papers {
		if p.SubjectVersionID == 10 && p.Status == models.PaperStatusActive {
			active++
		}
	}
	assert.Equal(t, 1, active)
}

func TestActivateAlreadyActiveIsNoop(t *testing.T) {
	f := newFakePaperStore()
	f.addPaper(models.QuestionPaper{ID: 1, SubjectVersionID: 10, Status: models.PaperStatusActive})

	got, err := activate(context.Background(), f, 1, 7)
	require.NoError(t, err)
	assert.Equal(t, models.PaperStatusActive, got.Status)
	assert.Empty(t, f.statusCalls)
}

func TestActivateUnknownPaper(t *testing.T) {
	f := newFakePaperStore()
	_, err := activate(context.Background(), f, 42, 7)
	var actErr *ActivationError
	require.ErrorAs(t, err, &actErr)
}

func TestSelectionErrorUnwrap(t *testing.T) {
	err := error(&SelectionError{Message: "boom"})
	var selErr *SelectionError
	assert.True(t, errors.As(err, &selErr))
	assert.Equal(t, "boom", err.Error())
}
