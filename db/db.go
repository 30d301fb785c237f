// --- qpgen-server/db/db.go ---
package db

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Querier is the subset of pgx satisfied by both *pgxpool.Pool and pgx.Tx.
// Engine operations run their reads and writes against a Querier so the
// same code works inside and outside a transaction.
type Querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// InitDB initializes the PostgreSQL database connection pool
func InitDB(connString string) (*pgxpool.Pool, error) {
	pool, err := pgxpool.New(context.Background(), connString)
	if err != nil {
		return nil, fmt.Errorf("unable to create connection pool: %w", err)
	}

	// Ping the database to verify connection
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := pool.Ping(ctx); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	log.Println("Successfully connected to PostgreSQL database!")
	return pool, nil
}

// CreateSchema sets up the tables for QPGEN.
// In a production environment, use a proper migration tool (e.g., golang-migrate).
func CreateSchema(pool *pgxpool.Pool) error {
	schemaSQL := `
	CREATE TABLE IF NOT EXISTS schools (
		id SERIAL PRIMARY KEY,
		name VARCHAR(255) NOT NULL UNIQUE
	);

	CREATE TABLE IF NOT EXISTS departments (
		id SERIAL PRIMARY KEY,
		school_id INT NOT NULL,
		name VARCHAR(255) NOT NULL,
		FOREIGN KEY (school_id) REFERENCES schools(id) ON DELETE CASCADE,
		UNIQUE (school_id, name)
	);

	CREATE TABLE IF NOT EXISTS users (
		id SERIAL PRIMARY KEY,
		email VARCHAR(255) NOT NULL UNIQUE,
		name VARCHAR(255) NOT NULL,
		role VARCHAR(50) NOT NULL DEFAULT 'staff'
	);

	CREATE TABLE IF NOT EXISTS grid_types (
		id SERIAL PRIMARY KEY,
		name VARCHAR(100) NOT NULL UNIQUE
	);

	CREATE TABLE IF NOT EXISTS patterns (
		id SERIAL PRIMARY KEY,
		name VARCHAR(50) NOT NULL UNIQUE,
		total_marks INT NOT NULL,
		structure JSONB NOT NULL,
		is_active BOOLEAN NOT NULL DEFAULT TRUE
	);

	CREATE TABLE IF NOT EXISTS subjects (
		id SERIAL PRIMARY KEY,
		code VARCHAR(20) NOT NULL UNIQUE,
		name VARCHAR(200) NOT NULL,
		grid_type_id INT,
		FOREIGN KEY (grid_type_id) REFERENCES grid_types(id)
	);

	CREATE TABLE IF NOT EXISTS subject_versions (
		id SERIAL PRIMARY KEY,
		subject_id INT NOT NULL,
		department_id INT NOT NULL,
		batch INT NOT NULL,
		semester INT NOT NULL,
		version INT NOT NULL,
		is_active BOOLEAN NOT NULL DEFAULT TRUE,
		pattern_id INT,
		FOREIGN KEY (subject_id) REFERENCES subjects(id),
		FOREIGN KEY (department_id) REFERENCES departments(id),
		FOREIGN KEY (pattern_id) REFERENCES patterns(id),
		UNIQUE (subject_id, department_id, batch, version)
	);

	CREATE TABLE IF NOT EXISTS subject_weightages (
		id SERIAL PRIMARY KEY,
		subject_version_id INT NOT NULL,
		unit INT NOT NULL CHECK (unit BETWEEN 1 AND 5),
		sec_a_count INT NOT NULL DEFAULT 0 CHECK (sec_a_count >= 0),
		sec_b_count INT NOT NULL DEFAULT 0 CHECK (sec_b_count >= 0),
		sec_c_count INT NOT NULL DEFAULT 0 CHECK (sec_c_count >= 0),
		FOREIGN KEY (subject_version_id) REFERENCES subject_versions(id) ON DELETE CASCADE,
		UNIQUE (subject_version_id, unit)
	);

	CREATE TABLE IF NOT EXISTS question_masters (
		id SERIAL PRIMARY KEY,
		subject_id INT NOT NULL,
		question_hash VARCHAR(64) NOT NULL,
		question_text TEXT NOT NULL,
		default_unit INT,
		default_section VARCHAR(10),
		default_marks INT,
		k_level VARCHAR(20),
		created_at TIMESTAMP WITH TIME ZONE DEFAULT CURRENT_TIMESTAMP,
		FOREIGN KEY (subject_id) REFERENCES subjects(id),
		UNIQUE (subject_id, question_hash)
	);

	CREATE TABLE IF NOT EXISTS question_banks (
		id SERIAL PRIMARY KEY,
		subject_version_id INT NOT NULL,
		version_no INT NOT NULL DEFAULT 1,
		status VARCHAR(20) NOT NULL DEFAULT 'ACTIVE',
		file_hash VARCHAR(64) NOT NULL,
		is_default BOOLEAN NOT NULL DEFAULT FALSE,
		uploaded_by INT NOT NULL,
		uploaded_at TIMESTAMP WITH TIME ZONE DEFAULT CURRENT_TIMESTAMP,
		FOREIGN KEY (subject_version_id) REFERENCES subject_versions(id) ON DELETE CASCADE,
		FOREIGN KEY (uploaded_by) REFERENCES users(id),
		UNIQUE (subject_version_id, file_hash)
	);

	CREATE TABLE IF NOT EXISTS question_bank_items (
		id SERIAL PRIMARY KEY,
		question_bank_id INT NOT NULL,
		question_id INT NOT NULL,
		unit INT NOT NULL,
		section VARCHAR(1) NOT NULL,
		marks INT NOT NULL,
		k_level VARCHAR(20),
		created_at TIMESTAMP WITH TIME ZONE DEFAULT CURRENT_TIMESTAMP,
		FOREIGN KEY (question_bank_id) REFERENCES question_banks(id) ON DELETE CASCADE,
		FOREIGN KEY (question_id) REFERENCES question_masters(id)
	);

	CREATE TABLE IF NOT EXISTS question_papers (
		id SERIAL PRIMARY KEY,
		subject_version_id INT NOT NULL,
		source_question_bank_id INT,
		paper_code VARCHAR(40) NOT NULL,
		paper_type VARCHAR(20) NOT NULL DEFAULT 'NORMAL',
		status VARCHAR(30) NOT NULL DEFAULT 'GENERATED'
			CHECK (status IN ('GENERATED', 'UNDER_SCRUTINY', 'ACTIVE', 'ARCHIVED')),
		title VARCHAR(255),
		created_by INT NOT NULL,
		created_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT CURRENT_TIMESTAMP,
		last_modified_by INT,
		last_modified_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT CURRENT_TIMESTAMP,
		FOREIGN KEY (subject_version_id) REFERENCES subject_versions(id) ON DELETE CASCADE,
		FOREIGN KEY (source_question_bank_id) REFERENCES question_banks(id),
		FOREIGN KEY (created_by) REFERENCES users(id),
		FOREIGN KEY (last_modified_by) REFERENCES users(id)
	);

	CREATE TABLE IF NOT EXISTS question_paper_items (
		id SERIAL PRIMARY KEY,
		question_paper_id INT NOT NULL,
		unit INT NOT NULL,
		section VARCHAR(1) NOT NULL,
		marks INT NOT NULL,
		k_level VARCHAR(20),
		order_index INT NOT NULL,
		source_type VARCHAR(20) NOT NULL DEFAULT 'QBANK' CHECK (source_type IN ('QBANK', 'MANUAL')),
		source_question_id INT,
		original_text TEXT NOT NULL,
		manual_text_override TEXT,
		is_duplicate_flag BOOLEAN NOT NULL DEFAULT FALSE,
		created_at TIMESTAMP WITH TIME ZONE DEFAULT CURRENT_TIMESTAMP,
		last_modified_at TIMESTAMP WITH TIME ZONE DEFAULT CURRENT_TIMESTAMP,
		FOREIGN KEY (question_paper_id) REFERENCES question_papers(id) ON DELETE CASCADE,
		FOREIGN KEY (source_question_id) REFERENCES question_bank_items(id),
		UNIQUE (question_paper_id, order_index)
	);

	CREATE INDEX IF NOT EXISTS idx_papers_active
		ON question_papers (subject_version_id) WHERE status = 'ACTIVE';

	CREATE TABLE IF NOT EXISTS error_logs (
		id SERIAL PRIMARY KEY,
		timestamp TIMESTAMP WITH TIME ZONE DEFAULT CURRENT_TIMESTAMP,
		source TEXT NOT NULL, -- e.g., "bank_validation", "bank_ingestion", "paper_selection"
		subject_code VARCHAR(50),
		row_number INT,
		field_name TEXT,
		error_message TEXT NOT NULL,
		suggested_fix TEXT
	);

	CREATE TABLE IF NOT EXISTS audit_events (
		id SERIAL PRIMARY KEY,
		timestamp TIMESTAMP WITH TIME ZONE DEFAULT CURRENT_TIMESTAMP,
		action VARCHAR(255),
		actor VARCHAR(255), -- user email or 'system'
		target TEXT,        -- e.g., subject code, paper id, bank id
		notes TEXT
	);

	CREATE TABLE IF NOT EXISTS settings (
		key VARCHAR(255) PRIMARY KEY,
		value TEXT NOT NULL,
		description TEXT,
		updated_at TIMESTAMP WITH TIME ZONE DEFAULT CURRENT_TIMESTAMP,
		updated_by VARCHAR(255)
	);
	`
	_, err := pool.Exec(context.Background(), schemaSQL)
	if err != nil {
		return fmt.Errorf("error executing schema SQL: %w", err)
	}

	// Insert default settings if not already present
	defaultSettings := map[string]string{
		"subject_code_scan_rows": "15",
		"header_scan_rows":       "40",
		"max_upload_bytes":       "10485760",
	}

	for key, value := range defaultSettings {
		_, err := pool.Exec(context.Background(), `
			INSERT INTO settings (key, value, description)
			VALUES ($1, $2, $3)
			ON CONFLICT (key) DO NOTHING;
		`, key, value, fmt.Sprintf("Default setting for %s", key))
		if err != nil {
			log.Printf("Warning: Failed to insert default setting %s: %v", key, err)
		}
	}

	return nil
}

// LogError adds an entry to the error_logs table
func LogError(pool *pgxpool.Pool, source, subjectCode string, rowNumber int, fieldName, errMsg, fixSug string) {
	_, err := pool.Exec(context.Background(), `
		INSERT INTO error_logs (source, subject_code, row_number, field_name, error_message, suggested_fix)
		VALUES ($1, $2, NULLIF($3, 0), NULLIF($4, ''), $5, NULLIF($6, ''))
	`, source, subjectCode, rowNumber, fieldName, errMsg, fixSug)
	if err != nil {
		log.Printf("ERROR: Failed to log error to database: %v. Original error: %s", err, errMsg)
	}
}

// LogAuditEvent adds an entry to the audit_events table
func LogAuditEvent(pool *pgxpool.Pool, actor, action, target, notes string) {
	_, err := pool.Exec(context.Background(), `
		INSERT INTO audit_events (action, actor, target, notes)
		VALUES ($1, $2, $3, $4)
	`, action, actor, target, notes)
	if err != nil {
		log.Printf("ERROR: Failed to log audit event to database: %v. Event: %s by %s on %s", err, action, actor, target)
	}
}

// GetSetting fetches a setting value from the settings table
func GetSetting(pool *pgxpool.Pool, key string) (string, error) {
	var value string
	err := pool.QueryRow(context.Background(), "SELECT value FROM settings WHERE key = $1", key).Scan(&value)
	if err != nil {
		return "", fmt.Errorf("setting %s not found: %w", key, err)
	}
	return value, nil
}
