// Package handlers exposes the audit workflows as a small JSON admin API.
package handlers

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/mmdatafocus/payroll_audit/importer"
	"github.com/mmdatafocus/payroll_audit/middlewares"
	"github.com/mmdatafocus/payroll_audit/models"
	"github.com/mmdatafocus/payroll_audit/utils"
	"github.com/mmdatafocus/payroll_audit/workflow"
	"gorm.io/gorm"
)

type Handler struct {
	svc *workflow.Services
}

func New(svc *workflow.Services) *Handler {
	return &Handler{svc: svc}
}

// Attach supplies the services to a Handler registered before they existed.
// Callers must keep requests out until it has returned.
func (h *Handler) Attach(svc *workflow.Services) {
	h.svc = svc
}

// Register mounts the push endpoint on r and every authenticated route under /api.
func (h *Handler) Register(r gin.IRouter) {
	r.POST("/pubsub/redetect", h.redetectPush())

	api := r.Group("/api", middlewares.RequireActor())

	api.POST("/jobs/detect", h.runDetection())
	api.GET("/jobs/detect/last", h.lastDetection())
	api.POST("/jobs/escalate", h.runEscalation())
	api.GET("/jobs/escalate/statistics", h.escalationStatistics())

	api.GET("/discrepancies", h.listDiscrepancies())
	api.GET("/discrepancies/:id", h.getDiscrepancy())
	api.POST("/discrepancies/:id/review", h.reviewDiscrepancy())
	api.POST("/discrepancies/:id/resolve", h.resolveDiscrepancy())
	api.POST("/discrepancies/:id/dismiss", h.dismissDiscrepancy())
	api.POST("/discrepancies/:id/notes", h.addDiscrepancyNote())

	api.GET("/imports/columns/:type", h.expectedColumns())
	api.POST("/imports", h.uploadImport())
	api.GET("/imports/:id", h.getImport())
	api.PUT("/imports/:id/mapping", h.confirmMapping())
	api.POST("/imports/:id/process", h.processImport())
	api.POST("/imports/:id/rollback", h.rollbackImport())
	api.GET("/imports/:id/errors", h.listImportErrors())
	api.GET("/imports/:id/errors/export", h.exportImportErrors())

	api.POST("/headcount/sessions/:id/start", h.sessionAction(sessionStart))
	api.POST("/headcount/sessions/:id/pause", h.sessionAction(sessionPause))
	api.POST("/headcount/sessions/:id/resume", h.sessionAction(sessionResume))
	api.POST("/headcount/sessions/:id/complete", h.sessionAction(sessionComplete))
	api.POST("/headcount/sessions/:id/cancel", h.sessionAction(sessionCancel))
	api.GET("/headcount/sessions/:id/stats", h.sessionStats())
	api.POST("/headcount/sessions/:id/bulk-verify", h.bulkVerify())
	api.POST("/headcount/verifications", h.captureVerification())
	api.POST("/headcount/verifications/:id/ghost", h.markGhost())
}

func paramId(c *gin.Context) (int, bool) {
	id, err := strconv.Atoi(c.Param("id"))
	if err != nil || id <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid id"})
		return 0, false
	}
	return id, true
}

func queryInt(c *gin.Context, key string, def int) int {
	if v, err := strconv.Atoi(c.Query(key)); err == nil {
		return v
	}
	return def
}

func badRequest(c *gin.Context, err error) {
	c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request", "fields": utils.ProcessValidationErrors(err)})
}

// respondError maps domain errors to status codes; anything unknown is a 500 and is logged.
func respondError(c *gin.Context, err error) {
	var mappingErr *importer.MappingError
	switch {
	case errors.Is(err, gorm.ErrRecordNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": utils.ErrorRecordNotFound.Error()})
	case errors.Is(err, models.ErrInvalidTransition),
		errors.Is(err, models.ErrSessionAlreadyActive),
		errors.Is(err, models.ErrSessionNotActive),
		errors.Is(err, models.ErrDuplicateVerification),
		errors.Is(err, models.ErrImportNotCompleted),
		errors.Is(err, models.ErrImportAlreadyRolledBack),
		errors.Is(err, models.ErrResolutionExists),
		errors.Is(err, workflow.ErrJobLocked):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
	case errors.Is(err, models.ErrLocationOutsideStation),
		errors.Is(err, importer.ErrEmptyFile),
		errors.As(err, &mappingErr):
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": err.Error()})
	default:
		_ = c.Error(err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
	}
}
