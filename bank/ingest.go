// --- qpgen-server/bank/ingest.go ---
package bank

import (
	"context"
	"errors"
	"fmt"
	"log"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"qpgen-server/db"
	"qpgen-server/models"
	"qpgen-server/pattern"
	"qpgen-server/spreadsheet"
	"qpgen-server/subjects"
	"qpgen-server/utils"
)

// IngestionError aborts an upload. When validation failed, Result carries
// the structured error list for display.
type IngestionError struct {
	Message string
	Result  *models.ValidationResult
}

func (e *IngestionError) Error() string {
	return e.Message
}

// ingestStore is the persistence surface the ingestion core needs.
// Implemented over pgx in production and faked in tests.
type ingestStore interface {
	FindBankByFileHash(ctx context.Context, subjectVersionID int, fileHash string) (*models.QuestionBank, error)
	CountBanks(ctx context.Context, subjectVersionID int) (int, error)
	InsertBank(ctx context.Context, b *models.QuestionBank) error
	GetOrCreateMaster(ctx context.Context, m *models.QuestionMaster) (int, error)
	InsertBankItem(ctx context.Context, it *models.QuestionBankItem) error
}

// IngestUpload consumes a validated spreadsheet and persists a new
// question bank with its items, deduplicating at the file level and at the
// question level. Re-uploading byte-identical content returns the existing
// bank unchanged. Everything after validation runs in one transaction.
func IngestUpload(ctx context.Context, pool *pgxpool.Pool, fileBytes []byte, subjectVersionID, uploadedBy int) (*models.QuestionBank, error) {
	fileHash := HashFile(fileBytes)

	// Fast path: byte-identical re-upload.
	existing, err := (&pgIngestStore{q: pool}).FindBankByFileHash(ctx, subjectVersionID, fileHash)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		log.Printf("Bank upload for subject version %d matches bank %d (file hash %.12s), returning existing",
			subjectVersionID, existing.ID, fileHash)
		return existing, nil
	}

	result, err := ValidateUpload(ctx, pool, fileBytes, subjectVersionID)
	if err != nil {
		return nil, err
	}
	if !result.Valid {
		return nil, &IngestionError{
			Message: "spreadsheet validation failed, fix errors before upload",
			Result:  &result,
		}
	}

	sv, err := subjects.GetSubjectVersion(ctx, pool, subjectVersionID)
	if err != nil {
		return nil, err
	}
	p, err := pattern.GetPatternForSubjectVersion(ctx, pool, subjectVersionID)
	if err != nil {
		return nil, err
	}

	grid, err := spreadsheet.Parse(fileBytes)
	if err != nil {
		return nil, &IngestionError{Message: "unable to read spreadsheet file"}
	}

	tx, err := pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	b, err := ingestSheet(ctx, &pgIngestStore{q: tx}, grid, sv, p.Structure, fileHash, uploadedBy)
	if err != nil {
		// A concurrent upload of the same file can win the unique
		// (subject_version_id, file_hash) race. The loser's INSERT fails
		// with a unique violation once the rival commits; surface the
		// winner's bank instead.
		if isUniqueViolation(err) {
			tx.Rollback(ctx)
			if raceWinner, findErr := (&pgIngestStore{q: pool}).FindBankByFileHash(ctx, subjectVersionID, fileHash); findErr == nil && raceWinner != nil {
				return raceWinner, nil
			}
		}
		return nil, err
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("failed to commit bank ingestion: %w", err)
	}
	return b, nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

// ingestSheet is the ingestion core, transaction-agnostic. Marks are
// derived from the pattern's section configuration, not from the sheet.
func ingestSheet(
	ctx context.Context,
	s ingestStore,
	grid spreadsheet.Grid,
	sv *models.SubjectVersion,
	structure models.PatternStructure,
	fileHash string,
	uploadedBy int,
) (*models.QuestionBank, error) {
	// Concurrent attempts of the same file must not create two banks.
	if existing, err := s.FindBankByFileHash(ctx, sv.ID, fileHash); err != nil {
		return nil, err
	} else if existing != nil {
		return existing, nil
	}

	existingCount, err := s.CountBanks(ctx, sv.ID)
	if err != nil {
		return nil, err
	}

	b := &models.QuestionBank{
		SubjectVersionID: sv.ID,
		VersionNo:        existingCount + 1,
		Status:           "ACTIVE",
		FileHash:         fileHash,
		IsDefault:        existingCount == 0, // first upload wins
		UploadedBy:       uploadedBy,
	}
	if err := s.InsertBank(ctx, b); err != nil {
		return nil, err
	}

	headerIdx, cols, found := grid.FindHeaderRow(RequiredColumns, HeaderScanRows)
	if !found {
		return nil, &IngestionError{Message: "header row disappeared between validation and ingestion"}
	}

	for _, row := range parseDataRows(grid, headerIdx, cols) {
		cfg, ok := structure[row.Section]
		if !ok {
			return nil, &IngestionError{
				Message: fmt.Sprintf("row %d: section %s not declared by pattern", row.RowNumber, row.Section),
			}
		}

		masterID, err := s.GetOrCreateMaster(ctx, &models.QuestionMaster{
			SubjectID:      sv.SubjectID,
			QuestionHash:   HashText(row.Text),
			QuestionText:   row.Text,
			DefaultUnit:    &row.Unit,
			DefaultSection: &row.Section,
			DefaultMarks:   &cfg.Marks,
			KLevel:         utils.StringPtr(row.KLevel),
		})
		if err != nil {
			return nil, err
		}

		err = s.InsertBankItem(ctx, &models.QuestionBankItem{
			QuestionBankID: b.ID,
			QuestionID:     masterID,
			Unit:           row.Unit,
			Section:        row.Section,
			Marks:          cfg.Marks,
			KLevel:         utils.StringPtr(row.KLevel),
		})
		if err != nil {
			return nil, err
		}
	}

	return b, nil
}

// pgIngestStore is the pgx-backed ingestStore.
type pgIngestStore struct {
	q db.Querier
}

func (s *pgIngestStore) FindBankByFileHash(ctx context.Context, subjectVersionID int, fileHash string) (*models.QuestionBank, error) {
	var b models.QuestionBank
	err := s.q.QueryRow(ctx, `
		SELECT id, subject_version_id, version_no, status, file_hash, is_default, uploaded_by, uploaded_at
		FROM question_banks
		WHERE subject_version_id = $1 AND file_hash = $2
	`, subjectVersionID, fileHash).Scan(
		&b.ID, &b.SubjectVersionID, &b.VersionNo, &b.Status, &b.FileHash, &b.IsDefault, &b.UploadedBy, &b.UploadedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to look up bank by file hash: %w", err)
	}
	return &b, nil
}

func (s *pgIngestStore) CountBanks(ctx context.Context, subjectVersionID int) (int, error) {
	var count int
	err := s.q.QueryRow(ctx, `SELECT COUNT(*) FROM question_banks WHERE subject_version_id = $1`, subjectVersionID).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count banks: %w", err)
	}
	return count, nil
}

func (s *pgIngestStore) InsertBank(ctx context.Context, b *models.QuestionBank) error {
	err := s.q.QueryRow(ctx, `
		INSERT INTO question_banks (subject_version_id, version_no, status, file_hash, is_default, uploaded_by)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id, uploaded_at
	`, b.SubjectVersionID, b.VersionNo, b.Status, b.FileHash, b.IsDefault, b.UploadedBy).Scan(&b.ID, &b.UploadedAt)
	if err != nil {
		return fmt.Errorf("failed to insert question bank: %w", err)
	}
	return nil
}

func (s *pgIngestStore) GetOrCreateMaster(ctx context.Context, m *models.QuestionMaster) (int, error) {
	// No-op update so the conflicting row's id comes back; catalog defaults
	// are captured at first sighting only and never overwritten here.
	var id int
	err := s.q.QueryRow(ctx, `
		INSERT INTO question_masters (subject_id, question_hash, question_text, default_unit, default_section, default_marks, k_level)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (subject_id, question_hash) DO UPDATE SET subject_id = EXCLUDED.subject_id
		RETURNING id
	`, m.SubjectID, m.QuestionHash, m.QuestionText, m.DefaultUnit, m.DefaultSection, m.DefaultMarks, m.KLevel).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("failed to get or create catalog question: %w", err)
	}
	return id, nil
}

func (s *pgIngestStore) InsertBankItem(ctx context.Context, it *models.QuestionBankItem) error {
	_, err := s.q.Exec(ctx, `
		INSERT INTO question_bank_items (question_bank_id, question_id, unit, section, marks, k_level)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, it.QuestionBankID, it.QuestionID, it.Unit, it.Section, it.Marks, it.KLevel)
	if err != nil {
		return fmt.Errorf("failed to insert bank item: %w", err)
	}
	return nil
}

// GetBank fetches one bank.
func GetBank(ctx context.Context, q db.Querier, bankID int) (*models.QuestionBank, error) {
	var b models.QuestionBank
	err := q.QueryRow(ctx, `
		SELECT id, subject_version_id, version_no, status, file_hash, is_default, uploaded_by, uploaded_at
		FROM question_banks WHERE id = $1
	`, bankID).Scan(
		&b.ID, &b.SubjectVersionID, &b.VersionNo, &b.Status, &b.FileHash, &b.IsDefault, &b.UploadedBy, &b.UploadedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to fetch bank %d: %w", bankID, err)
	}
	return &b, nil
}

// GetDefaultBank resolves the default ACTIVE bank for a subject version.
func GetDefaultBank(ctx context.Context, q db.Querier, subjectVersionID int) (*models.QuestionBank, error) {
	var b models.QuestionBank
	err := q.QueryRow(ctx, `
		SELECT id, subject_version_id, version_no, status, file_hash, is_default, uploaded_by, uploaded_at
		FROM question_banks
		WHERE subject_version_id = $1 AND is_default = TRUE AND status = 'ACTIVE'
	`, subjectVersionID).Scan(
		&b.ID, &b.SubjectVersionID, &b.VersionNo, &b.Status, &b.FileHash, &b.IsDefault, &b.UploadedBy, &b.UploadedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to fetch default bank: %w", err)
	}
	return &b, nil
}

// ListBanks lists a subject version's banks, newest first.
func ListBanks(ctx context.Context, q db.Querier, subjectVersionID int) ([]models.QuestionBank, error) {
	rows, err := q.Query(ctx, `
		SELECT id, subject_version_id, version_no, status, file_hash, is_default, uploaded_by, uploaded_at
		FROM question_banks
		WHERE subject_version_id = $1
		ORDER BY version_no DESC
	`, subjectVersionID)
	if err != nil {
		return nil, fmt.Errorf("failed to query banks: %w", err)
	}
	defer rows.Close()

	var banks []models.QuestionBank
	for rows.Next() {
		var b models.QuestionBank
		if err := rows.Scan(&b.ID, &b.SubjectVersionID, &b.VersionNo, &b.Status, &b.FileHash, &b.IsDefault, &b.UploadedBy, &b.UploadedAt); err != nil {
			return nil, fmt.Errorf("failed to scan bank row: %w", err)
		}
		banks = append(banks, b)
	}
	return banks, rows.Err()
}

// ListBankItems lists a bank's items with catalog text joined in.
func ListBankItems(ctx context.Context, q db.Querier, bankID int) ([]models.QuestionBankItem, error) {
	rows, err := q.Query(ctx, `
		SELECT bi.id, bi.question_bank_id, bi.question_id, bi.unit, bi.section, bi.marks, bi.k_level, bi.created_at,
		       qm.question_text
		FROM question_bank_items bi
		JOIN question_masters qm ON qm.id = bi.question_id
		WHERE bi.question_bank_id = $1
		ORDER BY bi.unit, bi.section, bi.id
	`, bankID)
	if err != nil {
		return nil, fmt.Errorf("failed to query bank items: %w", err)
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
