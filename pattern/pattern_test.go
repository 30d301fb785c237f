// --- qpgen-server/pattern/pattern_test.go ---
package pattern

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"qpgen-server/models"
)

func TestBuildStructureComputesTotalMarks(t *testing.T) {
	tests := []struct {
		name       string
		sections   map[string]models.SectionConfig
		totalMarks int
	}{
		{
			name: "semester pattern",
			sections: map[string]models.SectionConfig{
				"A": {Marks: 2, AnswerCount: 10, TotalInPaper: 10},
				"B": {Marks: 13, AnswerCount: 5, TotalInPaper: 10},
				"C": {Marks: 15, AnswerCount: 1, TotalInPaper: 2},
			},
			totalMarks: 100,
		},
		{
			name: "mid term without section C",
			sections: map[string]models.SectionConfig{
				"A": {Marks: 2, AnswerCount: 10},
				"B": {Marks: 5, AnswerCount: 5},
			},
			totalMarks: 45,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			structure, totalMarks, err := BuildStructure(tt.sections)
			require.NoError(t, err)
			assert.Equal(t, tt.totalMarks, totalMarks)
			assert.Len(t, structure, len(tt.sections))
		})
	}
}

func TestBuildStructureDefaultsTotalToAnswerCount(t *testing.T) {
	structure, _, err := BuildStructure(map[string]models.SectionConfig{
		"A": {Marks: 2, AnswerCount: 10},
	})
	require.NoError(t, err)
	assert.Equal(t, 10, structure["A"].TotalInPaper)
}

func TestBuildStructureDropsUnusedSections(t *testing.T) {
	structure, _, err := BuildStructure(map[string]models.SectionConfig{
		"A": {Marks: 2, AnswerCount: 10},
		"C": {},
	})
	require.NoError(t, err)
	_, hasC := structure["C"]
	assert.False(t, hasC)
}

func TestBuildStructureRejections(t *testing.T) {
	tests := []struct {
		name     string
		sections map[string]models.SectionConfig
	}{
		{"zero marks", map[string]models.SectionConfig{"A": {Marks: 0, AnswerCount: 10}}},
		{"total below count", map[string]models.SectionConfig{"B": {Marks: 13, AnswerCount: 5, TotalInPaper: 3}}},
		{"unknown label", map[string]models.SectionConfig{"D": {Marks: 5, AnswerCount: 2}}},
		{"no sections", map[string]models.SectionConfig{}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, _, err := BuildStructure(tt.sections)
			assert.Error(t, err)
		})
	}
}

func TestSectionForMarks(t *testing.T) {
	structure := models.PatternStructure{
		"A": {Marks: 2, AnswerCount: 10, TotalInPaper: 10},
		"B": {Marks: 13, AnswerCount: 5, TotalInPaper: 10},
	}
	label, ok := SectionForMarks(structure, 13)
	require.True(t, ok)
	assert.Equal(t, "B", label)

	_, ok = SectionForMarks(structure, 15)
	assert.False(t, ok)
}

func TestValidateWeightageRows(t *testing.T) {
	tests := []struct {
		name    string
		rows    []models.WeightageRow
		wantErr string
	}{
		{
			name: "valid",
			rows: []models.WeightageRow{{Unit: 1, A: 2, B: 2}, {Unit: 2, A: 8, B: 8, C: 2}},
		},
		{
			name:    "empty",
			rows:    nil,
			wantErr: "no weightage data",
		},
		{
			name:    "unit out of range",
			rows:    []models.WeightageRow{{Unit: 6, A: 1}},
			wantErr: "between 1 and 5",
		},
		{
			name:    "duplicate unit",
			rows:    []models.WeightageRow{{Unit: 1, A: 1}, {Unit: 1, B: 1}},
			wantErr: "duplicate",
		},
		{
			name:    "negative count",
			rows:    []models.WeightageRow{{Unit: 1, A: -1, B: 2}},
			wantErr: "cannot be negative",
		},
		{
			name:    "all zero row",
			rows:    []models.WeightageRow{{Unit: 3}},
			wantErr: "greater than zero",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateWeightageRows(tt.rows)
			if tt.wantErr == "" {
				assert.NoError(t, err)
			} else {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.wantErr)
			}
		})
	}
}

func TestValidateWeightageAgainstPattern(t *testing.T) {
	structure := models.PatternStructure{
		"A": {Marks: 2, AnswerCount: 10, TotalInPaper: 10},
		"B": {Marks: 13, AnswerCount: 5, TotalInPaper: 10},
	}

	t.Run("sums match", func(t *testing.T) {
		err := ValidateWeightageAgainstPattern(structure, []models.WeightageRow{
			{Unit: 1, A: 5, B: 5},
			{Unit: 2, A: 5, B: 5},
		})
		assert.NoError(t, err)
	})

	t.Run("section sum off by one", func(t *testing.T) {
		err := ValidateWeightageAgainstPattern(structure, []models.WeightageRow{
			{Unit: 1, A: 4, B: 5},
			{Unit: 2, A: 5, B: 5},
		})
		var wvErr *WeightageValidationError
		require.ErrorAs(t, err, &wvErr)
		assert.Contains(t, wvErr.Error(), "Section A: Sum of all units must be 10 (currently 9)")
	})

	t.Run("undeclared section has counts", func(t *testing.T) {
		err := ValidateWeightageAgainstPattern(structure, []models.WeightageRow{
			{Unit: 1, A: 10, B: 10, C: 1},
		})
		var wvErr *WeightageValidationError
		require.ErrorAs(t, err, &wvErr)
		assert.Contains(t, wvErr.Error(), "Section C")
	})

	t.Run("all problems reported together", func(t *testing.T) {
		err := ValidateWeightageAgainstPattern(structure, []models.WeightageRow{
			{Unit: 1, A: 3, B: 2},
		})
		var wvErr *WeightageValidationError
		require.ErrorAs(t, err, &wvErr)
		assert.Len(t, wvErr.Problems, 2)
	})
}

func TestRequiredCountMap(t *testing.T) {
	required := RequiredCountMap([]models.SubjectWeightage{
		{Unit: 1, SecACount: 2, SecBCount: 1},
		{Unit: 2, SecACount: 3, SecCCount: 1},
	})
	assert.Equal(t, 2, required[QuotaKey{1, "A"}])
	assert.Equal(t, 1, required[QuotaKey{1, "B"}])
	assert.Equal(t, 0, required[QuotaKey{1, "C"}])
	assert.Equal(t, 1, required[QuotaKey{2, "C"}])
}
