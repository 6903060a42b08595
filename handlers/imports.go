package handlers

import (
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/mmdatafocus/payroll_audit/importer"
	"github.com/mmdatafocus/payroll_audit/middlewares"
	"github.com/mmdatafocus/payroll_audit/models"
)

const maxUploadBytes = 10 << 20

type mappingRequest struct {
	Mapping map[string]string `json:"mapping" binding:"required"`
}

func (h *Handler) expectedColumns() gin.HandlerFunc {
	return func(c *gin.Context) {
		t, err := models.ParseImportType(c.Param("type"))
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		cols, err := importer.ExpectedColumns(t)
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"data": cols})
	}
}

// uploadImport takes a multipart "file" plus "import_type" and returns the preview and suggested mapping.
func (h *Handler) uploadImport() gin.HandlerFunc {
	return func(c *gin.Context) {
		t, err := models.ParseImportType(c.PostForm("import_type"))
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		fh, err := c.FormFile("file")
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "file is required"})
			return
		}
		if fh.Size > maxUploadBytes {
			c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": "file exceeds 10 MB"})
			return
		}
		f, err := fh.Open()
		if err != nil {
			respondError(c, err)
			return
		}
		defer f.Close()

		upload, err := h.svc.Importer().CreateImport(c.Request.Context(), importer.UploadInput{
			ImportType: t,
			FileName:   fh.Filename,
			Content:    f,
			UploadedBy: middlewares.ActorId(c),
		})
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusCreated, gin.H{"data": upload})
	}
}

func (h *Handler) getImport() gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := paramId(c)
		if !ok {
			return
		}
		history, err := models.GetImportHistory(c.Request.Context(), h.svc.DB, id)
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"data": history})
	}
}

func (h *Handler) confirmMapping() gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := paramId(c)
		if !ok {
			return
		}
		var req mappingRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			badRequest(c, err)
			return
		}
		history, err := h.svc.Importer().ConfirmMapping(c.Request.Context(), id, req.Mapping)
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"data": history})
	}
}

// processImport runs the import inline; large files should go through the CLI instead.
func (h *Handler) processImport() gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := paramId(c)
		if !ok {
			return
		}
		result, err := h.svc.ImportJob(middlewares.ActorId(c)).Run(c.Request.Context(), id)
		if err != nil {
			if result != nil && result.Import != nil && result.Import.Status == models.ImportStatusFailed {
				c.JSON(http.StatusUnprocessableEntity, gin.H{"error": err.Error(), "data": result.Import})
				return
			}
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"data": result})
	}
}

func (h *Handler) rollbackImport() gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := paramId(c)
		if !ok {
			return
		}
		removed, err := h.svc.Importer().Rollback(c.Request.Context(), id, middlewares.ActorId(c))
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"removed": removed})
	}
}

func (h *Handler) listImportErrors() gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := paramId(c)
		if !ok {
			return
		}
		page := queryInt(c, "page", 1)
		rows, total, err := models.ListImportErrors(c.Request.Context(), h.svc.DB, id, page)
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"data": rows, "total": total, "page": page, "page_size": models.ImportErrorPageSize})
	}
}

func (h *Handler) exportImportErrors() gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := paramId(c)
		if !ok {
			return
		}
		ctx := c.Request.Context()
		if _, err := models.GetImportHistory(ctx, h.svc.DB, id); err != nil {
			respondError(c, err)
			return
		}
		format := c.DefaultQuery("format", "csv")
		switch format {
		case "csv":
			c.Header("Content-Type", "text/csv")
			c.Header("Content-Disposition", fmt.Sprintf(`attachment; filename="import-%d-errors.csv"`, id))
			if err := importer.ExportErrorsCSV(ctx, h.svc.DB, id, c.Writer); err != nil {
				_ = c.Error(err)
			}
		case "xlsx":
			c.Header("Content-Type", "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet")
			c.Header("Content-Disposition", fmt.Sprintf(`attachment; filename="import-%d-errors.xlsx"`, id))
			if err := importer.ExportErrorsXLSX(ctx, h.svc.DB, id, c.Writer); err != nil {
				_ = c.Error(err)
			}
		default:
			c.JSON(http.StatusBadRequest, gin.H{"error": "format must be csv or xlsx"})
		}
	}
}
