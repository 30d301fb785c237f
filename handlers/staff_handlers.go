// --- qpgen-server/handlers/staff_handlers.go ---
package handlers

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"math/rand"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/jackc/pgx/v5/pgxpool"

	"qpgen-server/bank"
	"qpgen-server/db"
	"qpgen-server/middleware"
	"qpgen-server/models"
	"qpgen-server/paper"
	"qpgen-server/pattern"
	"qpgen-server/subjects"
	"qpgen-server/utils"
)

// GetSubjectVersions lists active subject versions, optionally filtered by
// department, semester and batch query parameters.
// GET /api/v1/subject_versions
func GetSubjectVersions(pool *pgxpool.Pool) gin.HandlerFunc {
	return func(c *gin.Context) {
		deptID, _ := utils.ParseIntParam(c.Query("department_id"))
		semester, _ := utils.ParseIntParam(c.Query("semester"))
		batch, _ := utils.ParseIntParam(c.Query("batch"))

		versions, err := subjects.ListSubjectVersions(context.Background(), pool, deptID, semester, batch)
		if err != nil {
			log.Printf("Error listing subject versions: %v", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to retrieve subject versions"})
			return
		}
		c.JSON(http.StatusOK, versions)
	}
}

// GetSubjectVersionPattern shows the pattern assigned to a subject version.
// GET /api/v1/subject_versions/:sv_id/pattern
func GetSubjectVersionPattern(pool *pgxpool.Pool) gin.HandlerFunc {
	return func(c *gin.Context) {
		svID, ok := utils.ParseIntParam(c.Param("sv_id"))
		if !ok {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid subject version id"})
			return
		}
		p, err := pattern.GetPatternForSubjectVersion(context.Background(), pool, svID)
		if err != nil {
			log.Printf("Error fetching pattern for subject version %d: %v", svID, err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to retrieve pattern"})
			return
		}
		if p == nil {
			c.JSON(http.StatusNotFound, gin.H{"error": "No pattern assigned to this subject version"})
			return
		}
		c.JSON(http.StatusOK, p)
	}
}

// GetWeightages lists the per-unit weightage rows for a subject version.
// GET /api/v1/subject_versions/:sv_id/weightages
func GetWeightages(pool *pgxpool.Pool) gin.HandlerFunc {
	return func(c *gin.Context) {
		svID, ok := utils.ParseIntParam(c.Param("sv_id"))
		if !ok {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid subject version id"})
			return
		}
		rows, err := pattern.GetWeightages(context.Background(), pool, svID)
		if err != nil {
			log.Printf("Error fetching weightages for subject version %d: %v", svID, err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to retrieve weightages"})
			return
		}
		c.JSON(http.StatusOK, rows)
	}
}

// PutWeightages replaces the weightage grid for a subject version after
// validating it against the assigned pattern.
// PUT /api/v1/subject_versions/:sv_id/weightages
func PutWeightages(pool *pgxpool.Pool) gin.HandlerFunc {
	return func(c *gin.Context) {
		svID, ok := utils.ParseIntParam(c.Param("sv_id"))
		if !ok {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid subject version id"})
			return
		}
		var req struct {
			Rows []models.WeightageRow `json:"rows" binding:"required"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body: " + err.Error()})
			return
		}

		err := pattern.AddOrUpdateWeightages(context.Background(), pool, svID, req.Rows)
		if err != nil {
			var wvErr *pattern.WeightageValidationError
			if errors.As(err, &wvErr) {
				c.JSON(http.StatusUnprocessableEntity, gin.H{"error": wvErr.Error()})
				return
			}
			log.Printf("Error updating weightages for subject version %d: %v", svID, err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to update weightages"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"message": "Weightages updated"})
	}
}

// DeleteWeightages clears the weightage grid for a subject version.
// DELETE /api/v1/subject_versions/:sv_id/weightages
func DeleteWeightages(pool *pgxpool.Pool) gin.HandlerFunc {
	return func(c *gin.Context) {
		svID, ok := utils.ParseIntParam(c.Param("sv_id"))
		if !ok {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid subject version id"})
			return
		}
		if err := pattern.DeleteWeightages(context.Background(), pool, svID); err != nil {
			log.Printf("Error deleting weightages for subject version %d: %v", svID, err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to delete weightages"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"message": "Weightages deleted"})
	}
}

// readUpload pulls the spreadsheet out of a multipart form, enforcing the
// configured size cap.
func readUpload(c *gin.Context, maxUploadBytes int64) ([]byte, bool) {
	fileHeader, err := c.FormFile("file")
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Spreadsheet file is required in field 'file'"})
		return nil, false
	}
	if fileHeader.Size > maxUploadBytes {
		c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": "Uploaded file exceeds size limit"})
		return nil, false
	}
	f, err := fileHeader.Open()
	if err != nil {
		log.Printf("Error opening uploaded file: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to read uploaded file"})
		return nil, false
	}
	defer f.Close()

	data, err := io.ReadAll(io.LimitReader(f, maxUploadBytes+1))
	if err != nil {
		log.Printf("Error reading uploaded file: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to read uploaded file"})
		return nil, false
	}
	if int64(len(data)) > maxUploadBytes {
		c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": "Uploaded file exceeds size limit"})
		return nil, false
	}
	return data, true
}

// ValidateBankUpload dry-runs bank validation: the full error report comes
// back without anything being stored.
// POST /api/v1/subject_versions/:sv_id/banks/validate
func ValidateBankUpload(pool *pgxpool.Pool, maxUploadBytes int64) gin.HandlerFunc {
	return func(c *gin.Context) {
		svID, ok := utils.ParseIntParam(c.Param("sv_id"))
		if !ok {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid subject version id"})
			return
		}
		data, ok := readUpload(c, maxUploadBytes)
		if !ok {
			return
		}
		result, err := bank.ValidateUpload(context.Background(), pool, data, svID)
		if err != nil {
			if errors.Is(err, subjects.ErrSubjectVersionNotFound) {
				c.JSON(http.StatusNotFound, gin.H{"error": "Subject version not found"})
				return
			}
			log.Printf("Error validating upload for subject version %d: %v", svID, err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Validation failed"})
			return
		}
		c.JSON(http.StatusOK, result)
	}
}

// IngestBankUpload validates and stores a question bank upload.
// POST /api/v1/subject_versions/:sv_id/banks
func IngestBankUpload(pool *pgxpool.Pool, maxUploadBytes int64) gin.HandlerFunc {
	return func(c *gin.Context) {
		svID, ok := utils.ParseIntParam(c.Param("sv_id"))
		if !ok {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid subject version id"})
			return
		}
		data, ok := readUpload(c, maxUploadBytes)
		if !ok {
			return
		}

		b, err := bank.IngestUpload(context.Background(), pool, data, svID, middleware.UserID(c))
		if err != nil {
			var ingErr *bank.IngestionError
			if errors.As(err, &ingErr) {
				if ingErr.Result != nil {
					for _, ve := range ingErr.Result.Errors {
						db.LogError(pool, "bank_upload", fmt.Sprintf("sv:%d", svID), ve.Row, ve.Type, ve.Message, "")
					}
				}
				c.JSON(http.StatusUnprocessableEntity, gin.H{
					"error":  ingErr.Message,
					"result": ingErr.Result,
				})
				return
			}
			if errors.Is(err, subjects.ErrSubjectVersionNotFound) {
				c.JSON(http.StatusNotFound, gin.H{"error": "Subject version not found"})
				return
			}
			log.Printf("Error ingesting upload for subject version %d: %v", svID, err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Ingestion failed"})
			return
		}
		c.JSON(http.StatusCreated, b)
	}
}

// GetBanks lists a subject version's banks, newest version first.
// GET /api/v1/subject_versions/:sv_id/banks
func GetBanks(pool *pgxpool.Pool) gin.HandlerFunc {
	return func(c *gin.Context) {
		svID, ok := utils.ParseIntParam(c.Param("sv_id"))
		if !ok {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid subject version id"})
			return
		}
		banks, err := bank.ListBanks(context.Background(), pool, svID)
		if err != nil {
			log.Printf("Error listing banks for subject version %d: %v", svID, err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to retrieve question banks"})
			return
		}
		c.JSON(http.StatusOK, banks)
	}
}

// GetBankItems lists a bank's rows with catalog text.
// GET /api/v1/banks/:bank_id/items
func GetBankItems(pool *pgxpool.Pool) gin.HandlerFunc {
	return func(c *gin.Context) {
		bankID, ok := utils.ParseIntParam(c.Param("bank_id"))
		if !ok {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid bank id"})
			return
		}
		items, err := bank.ListBankItems(context.Background(), pool, bankID)
		if err != nil {
			log.Printf("Error listing items for bank %d: %v", bankID, err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to retrieve bank items"})
			return
		}
		c.JSON(http.StatusOK, items)
	}
}

// CreatePaper builds a placeholder skeleton for a new question paper.
// POST /api/v1/papers
func CreatePaper(pool *pgxpool.Pool) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req models.CreatePaperRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body: " + err.Error()})
			return
		}

		p, err := paper.CreatePaper(context.Background(), pool, req, middleware.UserID(c))
		if err != nil {
			var genErr *paper.GenerationError
			if errors.As(err, &genErr) {
				c.JSON(http.StatusUnprocessableEntity, gin.H{"error": genErr.Message})
				return
			}
			if errors.Is(err, subjects.ErrSubjectVersionNotFound) {
				c.JSON(http.StatusNotFound, gin.H{"error": "Subject version not found"})
				return
			}
			log.Printf("Error creating paper: %v", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to create question paper"})
			return
		}
		c.JSON(http.StatusCreated, p)
	}
}

// GetPapers lists a subject version's papers.
// GET /api/v1/subject_versions/:sv_id/papers
func GetPapers(pool *pgxpool.Pool) gin.HandlerFunc {
	return func(c *gin.Context) {
		svID, ok := utils.ParseIntParam(c.Param("sv_id"))
		if !ok {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid subject version id"})
			return
		}
		papers, err := paper.ListPapers(context.Background(), pool, svID)
		if err != nil {
			log.Printf("Error listing papers for subject version %d: %v", svID, err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to retrieve papers"})
			return
		}
		c.JSON(http.StatusOK, papers)
	}
}

// GetPaper returns one paper with its ordered items.
// GET /api/v1/papers/:paper_id
func GetPaper(pool *pgxpool.Pool) gin.HandlerFunc {
	return func(c *gin.Context) {
		paperID, ok := utils.ParseIntParam(c.Param("paper_id"))
		if !ok {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid paper id"})
			return
		}
		p, err := paper.GetPaper(context.Background(), pool, paperID)
		if err != nil {
			log.Printf("Error fetching paper %d: %v", paperID, err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to retrieve paper"})
			return
		}
		if p == nil {
			c.JSON(http.StatusNotFound, gin.H{"error": "Question paper not found"})
			return
		}
		items, err := paper.GetPaperItems(context.Background(), pool, paperID)
		if err != nil {
			log.Printf("Error fetching items for paper %d: %v", paperID, err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to retrieve paper items"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"paper": p, "items": items})
	}
}

// AutoSelectPaper fills every empty slot of a GENERATED paper from its
// source bank. An optional seed in the body makes the draw reproducible.
// POST /api/v1/papers/:paper_id/select
func AutoSelectPaper(pool *pgxpool.Pool) gin.HandlerFunc {
	return func(c *gin.Context) {
		paperID, ok := utils.ParseIntParam(c.Param("paper_id"))
		if !ok {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid paper id"})
			return
		}
		var req struct {
			Seed *int64 `json:"seed"`
		}
		if err := c.ShouldBindJSON(&req); err != nil && !errors.Is(err, io.EOF) {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body: " + err.Error()})
			return
		}
		var rng *rand.Rand
		if req.Seed != nil {
			rng = rand.New(rand.NewSource(*req.Seed))
		}

		p, err := paper.AutoSelect(context.Background(), pool, paperID, middleware.UserID(c), rng)
		if err != nil {
			var selErr *paper.SelectionError
			if errors.As(err, &selErr) {
				c.JSON(http.StatusUnprocessableEntity, gin.H{"error": selErr.Message})
				return
			}
			log.Printf("Error auto-selecting paper %d: %v", paperID, err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to fill question paper"})
			return
		}
		items, err := paper.GetPaperItems(context.Background(), pool, paperID)
		if err != nil {
			log.Printf("Error fetching items for paper %d: %v", paperID, err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to retrieve paper items"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"paper": p, "items": items})
	}
}

// MarkPaperUnderScrutiny records that a paper's rendered copy went out for
// review.
// POST /api/v1/papers/:paper_id/scrutiny
func MarkPaperUnderScrutiny(pool *pgxpool.Pool) gin.HandlerFunc {
	return func(c *gin.Context) {
		paperID, ok := utils.ParseIntParam(c.Param("paper_id"))
		if !ok {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid paper id"})
			return
		}
		p, err := paper.MarkUnderScrutiny(context.Background(), pool, paperID, middleware.UserID(c))
		if err != nil {
			var actErr *paper.ActivationError
			if errors.As(err, &actErr) {
				c.JSON(http.StatusNotFound, gin.H{"error": actErr.Message})
				return
			}
			log.Printf("Error marking paper %d under scrutiny: %v", paperID, err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to update paper status"})
			return
		}
		c.JSON(http.StatusOK, p)
	}
}

// SwapPaperItem replaces one slot's question with another bank item.
// PUT /api/v1/paper_items/:item_id/swap
func SwapPaperItem(pool *pgxpool.Pool) gin.HandlerFunc {
	return func(c *gin.Context) {
		itemID, ok := utils.ParseIntParam(c.Param("item_id"))
		if !ok {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid paper item id"})
			return
		}
		var req models.SwapRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body: " + err.Error()})
			return
		}
		it, err := paper.SwapQuestion(context.Background(), pool, itemID, req.BankItemID, middleware.UserID(c))
		if err != nil {
			respondEditError(c, itemID, err)
			return
		}
		c.JSON(http.StatusOK, it)
	}
}

// EditPaperItemText applies a manual wording override to one slot.
// PUT /api/v1/paper_items/:item_id/text
func EditPaperItemText(pool *pgxpool.Pool) gin.HandlerFunc {
	return func(c *gin.Context) {
		itemID, ok := utils.ParseIntParam(c.Param("item_id"))
		if !ok {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid paper item id"})
			return
		}
		var req models.ManualEditRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body: " + err.Error()})
			return
		}
		it, err := paper.ApplyManualEdit(context.Background(), pool, itemID, req.Text, middleware.UserID(c))
		if err != nil {
			respondEditError(c, itemID, err)
			return
		}
		c.JSON(http.StatusOK, it)
	}
}

// FlagPaperItemDuplicate sets or clears the reviewer's duplicate mark.
// PUT /api/v1/paper_items/:item_id/duplicate
func FlagPaperItemDuplicate(pool *pgxpool.Pool) gin.HandlerFunc {
	return func(c *gin.Context) {
		itemID, ok := utils.ParseIntParam(c.Param("item_id"))
		if !ok {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid paper item id"})
			return
		}
		var req models.DuplicateFlagRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body: " + err.Error()})
			return
		}
		it, err := paper.SetDuplicateFlag(context.Background(), pool, itemID, req.IsDuplicate, middleware.UserID(c))
		if err != nil {
			respondEditError(c, itemID, err)
			return
		}
		c.JSON(http.StatusOK, it)
	}
}

func respondEditError(c *gin.Context, itemID int, err error) {
	if errors.Is(err, paper.ErrPaperImmutable) {
		c.JSON(http.StatusConflict, gin.H{"error": paper.ErrPaperImmutable.Error()})
		return
	}
	var editErr *paper.EditError
	if errors.As(err, &editErr) {
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": editErr.Message})
		return
	}
	log.Printf("Error editing paper item %d: %v", itemID, err)
	c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to edit paper item"})
}
