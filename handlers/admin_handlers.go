// --- qpgen-server/handlers/admin_handlers.go ---
package handlers

import (
	"context"
	"errors"
	"log"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/jackc/pgx/v5/pgxpool"

	"qpgen-server/db"
	"qpgen-server/middleware"
	"qpgen-server/models"
	"qpgen-server/paper"
	"qpgen-server/pattern"
	"qpgen-server/subjects"
	"qpgen-server/utils"
)

// AdminDashboard renders the admin dashboard with metrics and recent activity.
// GET /admin/dashboard
func AdminDashboard(pool *pgxpool.Pool) gin.HandlerFunc {
	return func(c *gin.Context) {
		var totalSubjectVersions int
		_ = pool.QueryRow(context.Background(), `SELECT COUNT(id) FROM subject_versions WHERE is_active`).Scan(&totalSubjectVersions)

		var totalBanks int
		_ = pool.QueryRow(context.Background(), `SELECT COUNT(id) FROM question_banks`).Scan(&totalBanks)

		var activePapers int
		_ = pool.QueryRow(context.Background(), `SELECT COUNT(id) FROM question_papers WHERE status = 'ACTIVE'`).Scan(&activePapers)

		var papersInScrutiny int
		_ = pool.QueryRow(context.Background(), `SELECT COUNT(id) FROM question_papers WHERE status = 'UNDER_SCRUTINY'`).Scan(&papersInScrutiny)

		var validationFailures int
		_ = pool.QueryRow(context.Background(), `SELECT COUNT(id) FROM error_logs WHERE source = 'bank_upload'`).Scan(&validationFailures)

		auditQuery := `SELECT id, timestamp, action, actor, target, notes FROM audit_events ORDER BY timestamp DESC LIMIT 5`
		auditRows, err := pool.Query(context.Background(), auditQuery)
		var recentAuditEvents []models.AuditEvent
		if err == nil {
			for auditRows.Next() {
				var ae models.AuditEvent
				_ = auditRows.Scan(&ae.ID, &ae.Timestamp, &ae.Action, &ae.Actor, &ae.Target, &ae.Notes)
				recentAuditEvents = append(recentAuditEvents, ae)
			}
			auditRows.Close()
		} else {
			log.Printf("Error fetching recent audit events: %v", err)
		}

		papersQuery := `
			SELECT qp.id, qp.paper_code, qp.status, s.code
			FROM question_papers qp
			JOIN subject_versions sv ON sv.id = qp.subject_version_id
			JOIN subjects s ON s.id = sv.subject_id
			ORDER BY qp.created_at DESC LIMIT 5
		`
		paperRows, err := pool.Query(context.Background(), papersQuery)
		type recentPaper struct {
			ID          int
			PaperCode   string
			Status      string
			SubjectCode string
		}
		var recentPapers []recentPaper
		if err == nil {
			for paperRows.Next() {
				var rp recentPaper
				_ = paperRows.Scan(&rp.ID, &rp.PaperCode, &rp.Status, &rp.SubjectCode)
				recentPapers = append(recentPapers, rp)
			}
			paperRows.Close()
		} else {
			log.Printf("Error fetching recent papers: %v", err)
		}

		c.HTML(http.StatusOK, "admin_dashboard", gin.H{
			"Title":                "QPGEN Admin Dashboard",
			"TotalSubjectVersions": totalSubjectVersions,
			"TotalQuestionBanks":   totalBanks,
			"ActivePapers":         activePapers,
			"PapersInScrutiny":     papersInScrutiny,
			"ValidationFailures":   validationFailures,
			"RecentAuditEvents":    recentAuditEvents,
			"RecentPapers":         recentPapers,
			"UserEmail":            c.GetString("user_email"),
		})
	}
}

// AdminListPatterns lists every pattern grid.
// GET /admin/patterns
func AdminListPatterns(pool *pgxpool.Pool) gin.HandlerFunc {
	return func(c *gin.Context) {
		patterns, err := pattern.GetPatterns(context.Background(), pool)
		if err != nil {
			log.Printf("Error listing patterns: %v", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to retrieve patterns"})
			return
		}
		c.JSON(http.StatusOK, patterns)
	}
}

// AdminCreatePattern creates a new immutable pattern grid.
// POST /admin/patterns
func AdminCreatePattern(pool *pgxpool.Pool) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req models.CreatePatternRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body: " + err.Error()})
			return
		}
		p, err := pattern.CreatePattern(context.Background(), pool, req.Name, req.Sections)
		if err != nil {
			c.JSON(http.StatusUnprocessableEntity, gin.H{"error": err.Error()})
			return
		}
		db.LogAuditEvent(pool, c.GetString("user_email"), "PATTERN_CREATED", p.Name, "")
		c.JSON(http.StatusCreated, p)
	}
}

// AdminDeletePattern deletes an unreferenced pattern.
// DELETE /admin/patterns/:pattern_id
func AdminDeletePattern(pool *pgxpool.Pool) gin.HandlerFunc {
	return func(c *gin.Context) {
		patternID, ok := utils.ParseIntParam(c.Param("pattern_id"))
		if !ok {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid pattern id"})
			return
		}
		p, err := pattern.GetPatternByID(context.Background(), pool, patternID)
		if err != nil {
			log.Printf("Error fetching pattern %d: %v", patternID, err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to retrieve pattern"})
			return
		}
		if p == nil {
			c.JSON(http.StatusNotFound, gin.H{"error": "Pattern not found"})
			return
		}
		if err := pattern.DeletePattern(context.Background(), pool, patternID); err != nil {
			if errors.Is(err, pattern.ErrPatternNotFound) {
				c.JSON(http.StatusNotFound, gin.H{"error": "Pattern not found"})
				return
			}
			c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
			return
		}
		db.LogAuditEvent(pool, c.GetString("user_email"), "PATTERN_DELETED", p.Name, "")
		c.JSON(http.StatusOK, gin.H{"message": "Pattern deleted"})
	}
}

// AdminCreateSubjectVersion registers a subject revision, retiring the
// previous active version of the same (subject, department, batch).
// POST /admin/subject_versions
func AdminCreateSubjectVersion(pool *pgxpool.Pool) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req models.CreateSubjectVersionRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body: " + err.Error()})
			return
		}
		sv, err := subjects.CreateSubjectVersion(context.Background(), pool, req)
		if err != nil {
			log.Printf("Error creating subject version for %s: %v", req.Code, err)
			c.JSON(http.StatusUnprocessableEntity, gin.H{"error": err.Error()})
			return
		}
		db.LogAuditEvent(pool, c.GetString("user_email"), "SUBJECT_VERSION_CREATED", req.Code, "")
		c.JSON(http.StatusCreated, sv)
	}
}

// AdminDeleteSubjectVersion removes a version that has no weightages,
// banks or papers attached.
// DELETE /admin/subject_versions/:sv_id
func AdminDeleteSubjectVersion(pool *pgxpool.Pool) gin.HandlerFunc {
	return func(c *gin.Context) {
		svID, ok := utils.ParseIntParam(c.Param("sv_id"))
		if !ok {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid subject version id"})
			return
		}
		if err := subjects.DeleteSubjectVersion(context.Background(), pool, svID); err != nil {
			if errors.Is(err, subjects.ErrSubjectVersionInUse) {
				c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
				return
			}
			log.Printf("Error deleting subject version %d: %v", svID, err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to delete subject version"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"message": "Subject version deleted"})
	}
}

// AdminActivatePaper promotes one paper to ACTIVE, archiving the previous
// holder for the same subject version.
// POST /admin/papers/:paper_id/activate
func AdminActivatePaper(pool *pgxpool.Pool) gin.HandlerFunc {
	return func(c *gin.Context) {
		paperID, ok := utils.ParseIntParam(c.Param("paper_id"))
		if !ok {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid paper id"})
			return
		}
		p, err := paper.ActivatePaper(context.Background(), pool, paperID, middleware.UserID(c))
		if err != nil {
			var actErr *paper.ActivationError
			if errors.As(err, &actErr) {
				c.JSON(http.StatusNotFound, gin.H{"error": actErr.Message})
				return
			}
			log.Printf("Error activating paper %d: %v", paperID, err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to activate paper"})
			return
		}
		c.JSON(http.StatusOK, p)
	}
}

// AdminErrorLogs lists recent validation and ingestion errors.
// GET /admin/error_logs
func AdminErrorLogs(pool *pgxpool.Pool) gin.HandlerFunc {
	return func(c *gin.Context) {
		limit, ok := utils.ParseIntParam(c.DefaultQuery("limit", "100"))
		if !ok || limit < 1 || limit > 1000 {
			limit = 100
		}
		rows, err := pool.Query(context.Background(), `
			SELECT id, timestamp, source, subject_code, row_number, field_name, error_message, suggested_fix
			FROM error_logs ORDER BY timestamp DESC LIMIT $1
		`, limit)
		if err != nil {
			log.Printf("Error querying error logs: %v", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to retrieve error logs"})
			return
		}
		defer rows.Close()

		var logs []models.ErrorLog
		for rows.Next() {
			var l models.ErrorLog
			if err := rows.Scan(&l.ID, &l.Timestamp, &l.Source, &l.SubjectCode, &l.RowNumber, &l.FieldName, &l.ErrorMessage, &l.SuggestedFix); err != nil {
				log.Printf("Error scanning error log row: %v", err)
				c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to process error logs"})
				return
			}
			logs = append(logs, l)
		}
		c.JSON(http.StatusOK, logs)
	}
}

// AdminAuditEvents lists the audit trail, newest first.
// GET /admin/audit_events
func AdminAuditEvents(pool *pgxpool.Pool) gin.HandlerFunc {
	return func(c *gin.Context) {
		limit, ok := utils.ParseIntParam(c.DefaultQuery("limit", "100"))
		if !ok || limit < 1 || limit > 1000 {
			limit = 100
		}
		rows, err := pool.Query(context.Background(), `
			SELECT id, timestamp, action, actor, target, notes
			FROM audit_events ORDER BY timestamp DESC LIMIT $1
		`, limit)
		if err != nil {
			log.Printf("Error querying audit events: %v", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to retrieve audit events"})
			return
		}
		defer rows.Close()

		var events []models.AuditEvent
		for rows.Next() {
			var ae models.AuditEvent
			if err := rows.Scan(&ae.ID, &ae.Timestamp, &ae.Action, &ae.Actor, &ae.Target, &ae.Notes); err != nil {
				log.Printf("Error scanning audit event row: %v", err)
				c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to process audit events"})
				return
			}
			events = append(events, ae)
		}
		c.JSON(http.StatusOK, events)
	}
}

// AdminExportSubjects streams the subject version register as CSV.
// GET /admin/subjects/export
func AdminExportSubjects(pool *pgxpool.Pool) gin.HandlerFunc {
	return func(c *gin.Context) {
		deptID, _ := utils.ParseIntParam(c.Query("department_id"))
		semester, _ := utils.ParseIntParam(c.Query("semester"))
		batch, _ := utils.ParseIntParam(c.Query("batch"))

		data, err := subjects.ExportSubjectsCSV(context.Background(), pool, deptID, semester, batch)
		if err != nil {
			log.Printf("Error exporting subjects CSV: %v", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to export subjects"})
			return
		}
		c.Header("Content-Disposition", `attachment; filename="subjects.csv"`)
		c.Data(http.StatusOK, "text/csv", data)
	}
}

// AdminSettings shows the tunable scan and upload limits.
// GET /admin/settings
func AdminSettings(pool *pgxpool.Pool) gin.HandlerFunc {
	return func(c *gin.Context) {
		rows, err := pool.Query(context.Background(), `SELECT key, value FROM settings ORDER BY key`)
		if err != nil {
			log.Printf("Error querying settings: %v", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to retrieve settings"})
			return
		}
		defer rows.Close()

		settings := map[string]string{}
		for rows.Next() {
			var key, value string
			if err := rows.Scan(&key, &value); err != nil {
				log.Printf("Error scanning setting row: %v", err)
				c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to process settings"})
				return
			}
			settings[key] = value
		}
		c.JSON(http.StatusOK, settings)
	}
}

// AdminUpdateSettings upserts one setting key.
// POST /admin/settings
func AdminUpdateSettings(pool *pgxpool.Pool) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req struct {
			Key   string `json:"key" binding:"required"`
			Value string `json:"value" binding:"required"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body: " + err.Error()})
			return
		}
		_, err := pool.Exec(context.Background(), `
			INSERT INTO settings (key, value) VALUES ($1, $2)
			ON CONFLICT (key) DO UPDATE SET value = EXCLUDED.value
		`, req.Key, req.Value)
		if err != nil {
			log.Printf("Error updating setting %s: %v", req.Key, err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to update setting"})
			return
		}
		db.LogAuditEvent(pool, c.GetString("user_email"), "SETTING_UPDATED", req.Key, req.Value)
		c.JSON(http.StatusOK, gin.H{"message": "Setting updated"})
	}
}
