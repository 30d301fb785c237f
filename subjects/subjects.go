// --- qpgen-server/subjects/subjects.go ---
package subjects

import (
	"bytes"
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"qpgen-server/db"
	"qpgen-server/models"
)

// ErrSubjectVersionNotFound is returned when an id does not resolve.
var ErrSubjectVersionNotFound = errors.New("subject version not found")

// GetSubjectVersion fetches one subject version with its subject code and
// name joined in.
func GetSubjectVersion(ctx context.Context, q db.Querier, subjectVersionID int) (*models.SubjectVersion, error) {
	var sv models.SubjectVersion
	err := q.QueryRow(ctx, `
		SELECT sv.id, sv.subject_id, sv.department_id, sv.batch, sv.semester,
		       sv.version, sv.is_active, sv.pattern_id, s.code, s.name
		FROM subject_versions sv
		JOIN subjects s ON s.id = sv.subject_id
		WHERE sv.id = $1
	`, subjectVersionID).Scan(
		&sv.ID, &sv.SubjectID, &sv.DepartmentID, &sv.Batch, &sv.Semester,
		&sv.Version, &sv.IsActive, &sv.PatternID, &sv.SubjectCode, &sv.SubjectName,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrSubjectVersionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to fetch subject version %d: %w", subjectVersionID, err)
	}
	return &sv, nil
}

// ListSubjectVersions lists active subject versions, optionally filtered by
// department, semester and batch.
func ListSubjectVersions(ctx context.Context, q db.Querier, departmentID, semester, batch int) ([]models.SubjectVersion, error) {
	query := `
		SELECT sv.id, sv.subject_id, sv.department_id, sv.batch, sv.semester,
		       sv.version, sv.is_active, sv.pattern_id, s.code, s.name
		FROM subject_versions sv
		JOIN subjects s ON s.id = sv.subject_id
		WHERE sv.is_active = TRUE`
	var args []any
	if departmentID > 0 {
		args = append(args, departmentID)
		query += fmt.Sprintf(" AND sv.department_id = $%d", len(args))
	}
	if semester > 0 {
		args = append(args, semester)
		query += fmt.Sprintf(" AND sv.semester = $%d", len(args))
	}
	if batch > 0 {
		args = append(args, batch)
		query += fmt.Sprintf(" AND sv.batch = $%d", len(args))
	}
	query += " ORDER BY s.code, sv.version"

	rows, err := q.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query subject versions: %w", err)
	}
	defer rows.Close()

	var versions []models.SubjectVersion
	for rows.Next() {
		var sv models.SubjectVersion
		if err := rows.Scan(
			&sv.ID, &sv.SubjectID, &sv.DepartmentID, &sv.Batch, &sv.Semester,
			&sv.Version, &sv.IsActive, &sv.PatternID, &sv.SubjectCode, &sv.SubjectName,
		); err != nil {
			return nil, fmt.Errorf("failed to scan subject version row: %w", err)
		}
		versions = append(versions, sv)
	}
	return versions, rows.Err()
}

// CreateSubjectVersion creates a new version for (subject, department,
// batch), creating or refreshing the master subject record and deactivating
// the previously active version. One transaction.
func CreateSubjectVersion(ctx context.Context, pool *pgxpool.Pool, req models.CreateSubjectVersionRequest) (*models.SubjectVersion, error) {
	code := strings.ToUpper(strings.TrimSpace(req.Code))
	name := strings.TrimSpace(req.Name)
	if code == "" || name == "" {
		return nil, errors.New("subject code and name are required")
	}

	tx, err := pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	// Master subject record: create on first sighting, refresh name and
	// grid type otherwise.
	var subjectID int
	err = tx.QueryRow(ctx, `
		INSERT INTO subjects (code, name, grid_type_id)
		VALUES ($1, $2, $3)
		ON CONFLICT (code) DO UPDATE SET
			name = EXCLUDED.name,
			grid_type_id = COALESCE(EXCLUDED.grid_type_id, subjects.grid_type_id)
		RETURNING id
	`, code, name, req.GridTypeID).Scan(&subjectID)
	if err != nil {
		return nil, fmt.Errorf("failed to upsert subject %s: %w", code, err)
	}

	// Version is per (subject, department, batch).
	var nextVersion int
	err = tx.QueryRow(ctx, `
		SELECT COALESCE(MAX(version), 0) + 1
		FROM subject_versions
		WHERE subject_id = $1 AND department_id = $2 AND batch = $3
	`, subjectID, req.DepartmentID, req.Batch).Scan(&nextVersion)
	if err != nil {
		return nil, fmt.Errorf("failed to compute next version: %w", err)
	}

	_, err = tx.Exec(ctx, `
		UPDATE subject_versions SET is_active = FALSE
		WHERE subject_id = $1 AND department_id = $2 AND batch = $3 AND is_active = TRUE
	`, subjectID, req.DepartmentID, req.Batch)
	if err != nil {
		return nil, fmt.Errorf("failed to deactivate previous versions: %w", err)
	}

	sv := &models.SubjectVersion{
		SubjectID:    subjectID,
		DepartmentID: req.DepartmentID,
		Batch:        req.Batch,
		Semester:     req.Semester,
		Version:      nextVersion,
		IsActive:     true,
		PatternID:    &req.PatternID,
		SubjectCode:  code,
		SubjectName:  name,
	}
	err = tx.QueryRow(ctx, `
		INSERT INTO subject_versions (subject_id, department_id, batch, semester, version, is_active, pattern_id)
		VALUES ($1, $2, $3, $4, $5, TRUE, $6)
		RETURNING id
	`, subjectID, req.DepartmentID, req.Batch, req.Semester, nextVersion, req.PatternID).Scan(&sv.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to insert subject version: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("failed to commit subject version: %w", err)
	}
	return sv, nil
}

// CanDeleteSubjectVersion reports whether a version has no dependent
// weightage, banks or papers.
func CanDeleteSubjectVersion(ctx context.Context, q db.Querier, subjectVersionID int) (bool, error) {
	var dependents int
	err := q.QueryRow(ctx, `
		SELECT
			(SELECT COUNT(*) FROM subject_weightages WHERE subject_version_id = $1) +
			(SELECT COUNT(*) FROM question_banks WHERE subject_version_id = $1) +
			(SELECT COUNT(*) FROM question_papers WHERE subject_version_id = $1)
	`, subjectVersionID).Scan(&dependents)
	if err != nil {
		return false, fmt.Errorf("failed to count dependents: %w", err)
	}
	return dependents == 0, nil
}

// ErrSubjectVersionInUse rejects deletion of a version that still owns
// weightages, banks or papers.
var ErrSubjectVersionInUse = errors.New("subject version has dependent data and cannot be deleted")

// DeleteSubjectVersion removes an unused subject version.
func DeleteSubjectVersion(ctx context.Context, pool *pgxpool.Pool, subjectVersionID int) error {
	tx, err := pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	ok, err := CanDeleteSubjectVersion(ctx, tx, subjectVersionID)
	if err != nil {
		return err
	}
	if !ok {
		return ErrSubjectVersionInUse
	}
	if _, err := tx.Exec(ctx, `DELETE FROM subject_versions WHERE id = $1`, subjectVersionID); err != nil {
		return fmt.Errorf("failed to delete subject version: %w", err)
	}
	return tx.Commit(ctx)
}

// ExportSubjectsCSV renders active subject versions as CSV for download.
func ExportSubjectsCSV(ctx context.Context, q db.Querier, departmentID, semester, batch int) ([]byte, error) {
	versions, err := ListSubjectVersions(ctx, q, departmentID, semester, batch)
	if err != nil {
		return nil, err
	}

	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	_ = w.Write([]string{"Code", "Subject Name", "Semester", "Batch", "Version"})
	for _, sv := range versions {
		_ = w.Write([]string{
			sv.SubjectCode,
			sv.SubjectName,
			strconv.Itoa(sv.Semester),
			strconv.Itoa(sv.Batch),
			strconv.Itoa(sv.Version),
		})
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return nil, fmt.Errorf("failed to write subjects csv: %w", err)
	}
	return buf.Bytes(), nil
}
