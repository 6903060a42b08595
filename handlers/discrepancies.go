package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/mmdatafocus/payroll_audit/middlewares"
	"github.com/mmdatafocus/payroll_audit/models"
)

type reasonRequest struct {
	Reason string `json:"reason"`
}

type noteRequest struct {
	Content    string `json:"content" binding:"required,max=5000"`
	IsInternal bool   `json:"is_internal"`
}

func (h *Handler) listDiscrepancies() gin.HandlerFunc {
	return func(c *gin.Context) {
		f := models.DiscrepancyFilter{
			Status:   models.DiscrepancyStatus(c.Query("status")),
			Type:     models.DiscrepancyType(c.Query("type")),
			StaffId:  queryInt(c, "staff_id", 0),
			Page:     queryInt(c, "page", 1),
			PageSize: queryInt(c, "page_size", 50),
		}
		if s := c.Query("severity"); s != "" {
			sev, err := models.ParseSeverity(s)
			if err != nil {
				c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
				return
			}
			f.Severity = sev
		}
		if f.Type != "" && !f.Type.IsValid() {
			c.JSON(http.StatusBadRequest, gin.H{"error": "unknown discrepancy type"})
			return
		}
		rows, total, err := models.ListDiscrepancies(c.Request.Context(), h.svc.DB, f)
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"data": rows, "total": total, "page": f.Page})
	}
}

// discrepancy loads the :id finding or writes the error response.
func (h *Handler) discrepancy(c *gin.Context) (*models.Discrepancy, bool) {
	id, ok := paramId(c)
	if !ok {
		return nil, false
	}
	d, err := models.GetDiscrepancy(c.Request.Context(), h.svc.DB, id)
	if err != nil {
		respondError(c, err)
		return nil, false
	}
	return d, true
}

func (h *Handler) getDiscrepancy() gin.HandlerFunc {
	return func(c *gin.Context) {
		d, ok := h.discrepancy(c)
		if !ok {
			return
		}
		c.JSON(http.StatusOK, gin.H{
			"data":      d,
			"days_open": d.DaysOpen(h.svc.Clock.Now()),
		})
	}
}

func (h *Handler) reviewDiscrepancy() gin.HandlerFunc {
	return func(c *gin.Context) {
		d, ok := h.discrepancy(c)
		if !ok {
			return
		}
		if err := d.MarkUnderReview(c.Request.Context(), h.svc.DB); err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"data": d})
	}
}

func (h *Handler) resolveDiscrepancy() gin.HandlerFunc {
	return func(c *gin.Context) {
		var input models.ResolveInput
		input.ResolvedBy = middlewares.ActorId(c)
		if err := c.ShouldBindJSON(&input); err != nil {
			badRequest(c, err)
			return
		}
		if !input.ResolutionType.IsValid() || !input.Outcome.IsValid() {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid resolution type or outcome"})
			return
		}
		d, ok := h.discrepancy(c)
		if !ok {
			return
		}
		resolution, err := d.Resolve(c.Request.Context(), h.svc.DB, input, h.svc.Clock.Now())
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"data": d, "resolution": resolution})
	}
}

func (h *Handler) dismissDiscrepancy() gin.HandlerFunc {
	return func(c *gin.Context) {
		var req reasonRequest
		if c.Request.ContentLength > 0 {
			if err := c.ShouldBindJSON(&req); err != nil {
				badRequest(c, err)
				return
			}
		}
		d, ok := h.discrepancy(c)
		if !ok {
			return
		}
		if err := d.Dismiss(c.Request.Context(), h.svc.DB, middlewares.ActorId(c), req.Reason); err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"data": d})
	}
}

func (h *Handler) addDiscrepancyNote() gin.HandlerFunc {
	return func(c *gin.Context) {
		var req noteRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			badRequest(c, err)
			return
		}
		d, ok := h.discrepancy(c)
		if !ok {
			return
		}
		note, err := d.AddNote(c.Request.Context(), h.svc.DB, middlewares.ActorId(c), req.Content, req.IsInternal)
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusCreated, gin.H{"data": note})
	}
}
