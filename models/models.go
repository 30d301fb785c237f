
package models

import (
	"time"
)

// Paper lifecycle statuses. Activation and the paper edit guard accept no
// other values.
const (
	PaperStatusGenerated     = "GENERATED"
	PaperStatusUnderScrutiny = "UNDER_SCRUTINY"
	PaperStatusActive        = "ACTIVE"
	PaperStatusArchived      = "ARCHIVED"
)

// Paper item source tracking.
const (
	SourceTypeBank   = "QBANK"
	SourceTypeManual = "MANUAL"
)

// Validation error codes returned by the bank validator. These travel as
// structured data, never as Go errors.
const (
	ErrCodePatternMissing        = "PATTERN_MISSING"
	ErrCodeWeightageMissing      = "WEIGHTAGE_MISSING"
	ErrCodeFileInvalid           = "FILE_INVALID"
	ErrCodeSubjectCodeMismatch   = "SUBJECT_CODE_MISMATCH"
	ErrCodeHeaderNotFound        = "HEADER_NOT_FOUND"
	ErrCodeUnitInvalid           = "UNIT_INVALID"
	ErrCodeSectionInvalid        = "SECTION_INVALID"
	ErrCodeWeightageNotAllowed   = "WEIGHTAGE_NOT_ALLOWED"
	ErrCodeInsufficientQuestions = "INSUFFICIENT_QUESTIONS"
)

// ValidationError is one entry in a validation payload. Row is the 1-based
// spreadsheet row and is set only for row-scoped errors.
type ValidationError struct {
	Type    string `json:"type"`
	Row     int    `json:"row,omitempty"`
	Message string `json:"message"`
}

// ValidationSummary describes a sheet that passed validation.
type ValidationSummary struct {
	Rows  int   `json:"rows"`
	Units []int `json:"units"`
}

// ValidationResult is the full outcome of a bank validation pass.
type ValidationResult struct {
	Valid   bool               `json:"valid"`
	Errors  []ValidationError  `json:"errors,omitempty"`
	Summary *ValidationSummary `json:"summary,omitempty"`
}

// SectionConfig is one section's row in an exam pattern: marks per
// question, how many the candidate answers, and how many must appear in
// the printed paper.
type SectionConfig struct {
	Marks        int    `json:"marks"`
	AnswerCount  int    `json:"count"`
	TotalInPaper int    `json:"total"`
	Note         string `json:"note,omitempty"`
}

// PatternStructure maps section label (A/B/C) to its configuration.
type PatternStructure map[string]SectionConfig

// Pattern is an exam blueprint. Immutable after creation; delete only.
type Pattern struct {
	ID         int              `json:"id"`
	Name       string           `json:"name"`
	TotalMarks int              `json:"total_marks"`
	Structure  PatternStructure `json:"structure"`
	IsActive   bool             `json:"is_active"`
}

type School struct {
	ID   int    `json:"id"`
	Name string `json:"name"`
}

type Department struct {
	ID       int    `json:"id"`
	SchoolID int    `json:"school_id"`
	Name     string `json:"name"`
}

type GridType struct {
	ID   int    `json:"id"`
	Name string `json:"name"`
}

type User struct {
	ID    int    `json:"id"`
	Email string `json:"email"`
	Name  string `json:"name"`
	Role  string `json:"role"`
}

// Subject is the master record for a subject code.
type Subject struct {
	ID         int    `json:"id"`
	Code       string `json:"code"`
	Name       string `json:"name"`
	GridTypeID *int   `json:"grid_type_id"`
}

// SubjectVersion identifies a (subject, department, batch, semester,
// revision) tuple. At most one version is active per (subject, department,
// batch); (subject, department, batch, version) is unique.
type SubjectVersion struct {
	ID           int  `json:"id"`
	SubjectID    int  `json:"subject_id"`
	DepartmentID int  `json:"department_id"`
	Batch        int  `json:"batch"`
	Semester     int  `json:"semester"`
	Version      int  `json:"version"`
	IsActive     bool `json:"is_active"`
	PatternID    *int `json:"pattern_id"`

	// Filled by joined lookups, not stored on the row itself.
	SubjectCode string `json:"subject_code,omitempty"`
	SubjectName string `json:"subject_name,omitempty"`
}

// SubjectWeightage is one unit's required per-section question counts for
// a subject version.
type SubjectWeightage struct {
	ID               int `json:"id"`
	SubjectVersionID int `json:"subject_version_id"`
	Unit             int `json:"unit"`
	SecACount        int `json:"sec_a_count"`
	SecBCount        int `json:"sec_b_count"`
	SecCCount        int `json:"sec_c_count"`
}

// SectionCount returns this unit's required count for a section label.
func (w SubjectWeightage) SectionCount(section string) int {
	switch section {
	case "A":
		return w.SecACount
	case "B":
		return w.SecBCount
	case "C":
		return w.SecCCount
	}
	return 0
}

// WeightageRow is the write-side shape of one weightage unit row.
type WeightageRow struct {
	Unit int `json:"unit" binding:"required"`
	A    int `json:"a"`
	B    int `json:"b"`
	C    int `json:"c"`
}

// QuestionMaster is the subject-scoped catalog entry for a unique
// (by normalized text) question. Referenced by bank items, never owned.
type QuestionMaster struct {
	ID             int       `json:"id"`
	SubjectID      int       `json:"subject_id"`
	QuestionHash   string    `json:"question_hash"`
	QuestionText   string    `json:"question_text"`
	DefaultUnit    *int      `json:"default_unit"`
	DefaultSection *string   `json:"default_section"`
	DefaultMarks   *int      `json:"default_marks"`
	KLevel         *string   `json:"k_level"`
	CreatedAt      time.Time `json:"created_at"`
}

// QuestionBank is one uploaded, validated snapshot for a subject version.
type QuestionBank struct {
	ID               int       `json:"id"`
	SubjectVersionID int       `json:"subject_version_id"`
	VersionNo        int       `json:"version_no"`
	Status           string    `json:"status"`
	FileHash         string    `json:"file_hash"`
	IsDefault        bool      `json:"is_default"`
	UploadedBy       int       `json:"uploaded_by"`
	UploadedAt       time.Time `json:"uploaded_at"`
}

// QuestionBankItem is one validated spreadsheet row. Unit/section/marks/
// k-level are this bank's tagging and may diverge from catalog defaults.
type QuestionBankItem struct {
	ID             int       `json:"id"`
	QuestionBankID int       `json:"question_bank_id"`
	QuestionID     int       `json:"question_id"`
	Unit           int       `json:"unit"`
	Section        string    `json:"section"`
	Marks          int       `json:"marks"`
	KLevel         *string   `json:"k_level"`
	CreatedAt      time.Time `json:"created_at"`

	// Joined catalog text for selection and swap flows.
	QuestionText string `json:"question_text,omitempty"`
}

// QuestionPaper is one generated paper instance for a subject version.
type QuestionPaper struct {
	ID                   int       `json:"id"`
	SubjectVersionID     int       `json:"subject_version_id"`
	SourceQuestionBankID *int      `json:"source_question_bank_id"`
	PaperCode            string    `json:"paper_code"`
	PaperType            string    `json:"paper_type"`
	Status               string    `json:"status"`
	Title                *string   `json:"title"`
	CreatedBy            int       `json:"created_by"`
	CreatedAt            time.Time `json:"created_at"`
	LastModifiedBy       *int      `json:"last_modified_by"`
	LastModifiedAt       time.Time `json:"last_modified_at"`
}

// QuestionPaperItem is a single numbered slot in a paper.
type QuestionPaperItem struct {
	ID                 int       `json:"id"`
	QuestionPaperID    int       `json:"question_paper_id"`
	Unit               int       `json:"unit"`
	Section            string    `json:"section"`
	Marks              int       `json:"marks"`
	KLevel             *string   `json:"k_level"`
	OrderIndex         int       `json:"order_index"`
	SourceType         string    `json:"source_type"`
	SourceQuestionID   *int      `json:"source_question_id"`
	OriginalText       string    `json:"original_text"`
	ManualTextOverride *string   `json:"manual_text_override"`
	IsDuplicateFlag    bool      `json:"is_duplicate_flag"`
	CreatedAt          time.Time `json:"created_at"`
	LastModifiedAt     time.Time `json:"last_modified_at"`
}

// DisplayText returns the text to show: the manual override wins when set.
func (it *QuestionPaperItem) DisplayText() string {
	if it.ManualTextOverride != nil && *it.ManualTextOverride != "" {
		return *it.ManualTextOverride
	}
	return it.OriginalText
}

// CreatePaperRequest starts a paper skeleton.
type CreatePaperRequest struct {
	SubjectVersionID int    `json:"subject_version_id" binding:"required"`
	PaperCode        string `json:"paper_code"`
	PaperType        string `json:"paper_type"`
	Title            string `json:"title"`
	QuestionBankID   *int   `json:"question_bank_id"`
}

// SwapRequest replaces a paper item's source question.
type SwapRequest struct {
	BankItemID int `json:"bank_item_id" binding:"required"`
}

// ManualEditRequest overrides a paper item's text.
type ManualEditRequest struct {
	Text string `json:"text" binding:"required"`
}

// DuplicateFlagRequest sets or clears the advisory duplicate flag.
type DuplicateFlagRequest struct {
	IsDuplicate bool `json:"is_duplicate"`
}

// CreatePatternRequest carries the pattern grid form.
type CreatePatternRequest struct {
	Name     string                   `json:"name" binding:"required"`
	Sections map[string]SectionConfig `json:"sections" binding:"required"`
}

// CreateSubjectVersionRequest creates a new subject version, deactivating
// the previous active version for the same (subject, department, batch).
type CreateSubjectVersionRequest struct {
	Code         string `json:"code" binding:"required"`
	Name         string `json:"name" binding:"required"`
	DepartmentID int    `json:"department_id" binding:"required"`
	Semester     int    `json:"semester" binding:"required"`
	Batch        int    `json:"batch" binding:"required"`
	GridTypeID   *int   `json:"grid_type_id"`
	PatternID    int    `json:"pattern_id" binding:"required"`
}

// ErrorLog is an entry in the error_logs table.
type ErrorLog struct {
	ID           int       `json:"id"`
	Timestamp    time.Time `json:"timestamp"`
	Source       string    `json:"source"`
	SubjectCode  string    `json:"subject_code"`
	RowNumber    *int      `json:"row_number"`
	FieldName    *string   `json:"field_name"`
	ErrorMessage string    `json:"error_message"`
	SuggestedFix *string   `json:"suggested_fix"`
}

// AuditEvent is an entry in the audit_events table.
type AuditEvent struct {
	ID        int       `json:"id"`
	Timestamp time.Time `json:"timestamp"`
	Action    string    `json:"action"`
	Actor     string    `json:"actor"`
	Target    string    `json:"target"`
	Notes     string    `json:"notes"`
}
