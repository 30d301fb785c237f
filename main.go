
package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-contrib/multitemplate"
	"github.com/gin-gonic/gin"

	"qpgen-server/config"
	"qpgen-server/db"
	"qpgen-server/handlers"
	"qpgen-server/middleware"
	"qpgen-server/seed"
)

func main() {
	// Load configuration
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("Error loading configuration: %v", err)
	}
	// Initialize database connection pool
	pool, err := db.InitDB(cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("Unable to connect to database: %v", err)
	}
	defer pool.Close()
	// Ensure database schema is set up (simple creation for demo)
	if err := db.CreateSchema(pool); err != nil {
		log.Fatalf("Error creating database schema: %v", err)
	}
	// Apply reference seed data (schools, departments, users, patterns)
	if err := seed.Load(context.Background(), pool, cfg.SeedFilePath); err != nil {
		log.Fatalf("Error applying seed data: %v", err)
	}
	// Set Gin mode
	gin.SetMode(cfg.GinMode)
	// Initialize Gin router
	router := gin.Default()
	// Load HTML templates for admin UI
	renderer := multitemplate.NewRenderer()
	renderer.AddFromFiles("admin_dashboard", "templates/layout.html", "templates/admin_dashboard.html")
	router.HTMLRender = renderer
	// Middleware
	router.Use(middleware.Logger())
	// SSO JWT authentication middleware for API and Admin routes
	authMiddleware := middleware.AuthMiddleware(cfg.Auth.JWTSigningKey, cfg.Auth.Issuer)
	// API Routes (version 1)
	apiV1 := router.Group("/api/v1")
	apiV1.Use(authMiddleware)
	{
		apiV1.GET("/subject_versions", handlers.GetSubjectVersions(pool))
		apiV1.GET("/subject_versions/:sv_id/pattern", handlers.GetSubjectVersionPattern(pool))
		apiV1.GET("/subject_versions/:sv_id/weightages", handlers.GetWeightages(pool))
		apiV1.PUT("/subject_versions/:sv_id/weightages", handlers.PutWeightages(pool))
		apiV1.DELETE("/subject_versions/:sv_id/weightages", handlers.DeleteWeightages(pool))
		apiV1.POST("/subject_versions/:sv_id/banks/validate", handlers.ValidateBankUpload(pool, cfg.MaxUploadBytes))
		apiV1.POST("/subject_versions/:sv_id/banks", handlers.IngestBankUpload(pool, cfg.MaxUploadBytes))
		apiV1.GET("/subject_versions/:sv_id/banks", handlers.GetBanks(pool))
		apiV1.GET("/banks/:bank_id/items", handlers.GetBankItems(pool))
		apiV1.POST("/papers", handlers.CreatePaper(pool))
		apiV1.GET("/subject_versions/:sv_id/papers", handlers.GetPapers(pool))
		apiV1.GET("/papers/:paper_id", handlers.GetPaper(pool))
		apiV1.POST("/papers/:paper_id/select", handlers.AutoSelectPaper(pool))
		apiV1.POST("/papers/:paper_id/scrutiny", handlers.MarkPaperUnderScrutiny(pool))
		apiV1.PUT("/paper_items/:item_id/swap", handlers.SwapPaperItem(pool))
		apiV1.PUT("/paper_items/:item_id/text", handlers.EditPaperItemText(pool))
		apiV1.PUT("/paper_items/:item_id/duplicate", handlers.FlagPaperItemDuplicate(pool))
	}
	// Admin Routes
	admin := router.Group("/admin")
	admin.Use(authMiddleware)
	admin.Use(middleware.RoleCheckMiddleware([]string{"admin"})) // Exam cell administrators only
	{
		admin.GET("/dashboard", handlers.AdminDashboard(pool))
		admin.GET("/patterns", handlers.AdminListPatterns(pool))
		admin.POST("/patterns", handlers.AdminCreatePattern(pool))
		admin.DELETE("/patterns/:pattern_id", handlers.AdminDeletePattern(pool))
		admin.POST("/subject_versions", handlers.AdminCreateSubjectVersion(pool))
		admin.DELETE("/subject_versions/:sv_id", handlers.AdminDeleteSubjectVersion(pool))
		admin.POST("/papers/:paper_id/activate", handlers.AdminActivatePaper(pool))
		admin.GET("/error_logs", handlers.AdminErrorLogs(pool))
		admin.GET("/audit_events", handlers.AdminAuditEvents(pool))
		admin.GET("/subjects/export", handlers.AdminExportSubjects(pool))
		admin.GET("/settings", handlers.AdminSettings(pool))
		admin.POST("/settings", handlers.AdminUpdateSettings(pool))
	}
	// Start the server
	srv := &http.Server{
		Addr:    cfg.ServerPort,
		Handler: router,
	}
	// Goroutine to gracefully shut down the server
	go func() {
		quit := make(chan os.Signal, 1)
		signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
		<-quit
		log.Println("Shutting down server...")
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(ctx); err != nil {
			log.Fatalf("Server forced to shutdown: %v", err)
		}
	}()
	log.Printf("QPGEN Server starting on %s", cfg.ServerPort)
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.Fatalf("Server startup error: %v", err)
	}
	log.Println("Server exited gracefully.")
}
