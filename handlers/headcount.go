package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/mmdatafocus/payroll_audit/middlewares"
	"github.com/mmdatafocus/payroll_audit/models"
	"github.com/mmdatafocus/payroll_audit/workflow"
)

type sessionOp int

const (
	sessionStart sessionOp = iota
	sessionPause
	sessionResume
	sessionComplete
	sessionCancel
)

type captureForm struct {
	SessionId int      `form:"headcount_session_id" binding:"required,gt=0"`
	StaffId   int      `form:"staff_id" binding:"required,gt=0"`
	StationId *int     `form:"station_id"`
	Status    string   `form:"verification_status" binding:"required"`
	Latitude  *float64 `form:"latitude" binding:"omitempty,gte=-90,lte=90"`
	Longitude *float64 `form:"longitude" binding:"omitempty,gte=-180,lte=180"`
	Notes     string   `form:"notes" binding:"max=1000"`
}

type bulkVerifyRequest struct {
	StaffIds  []int  `json:"staff_ids" binding:"required,min=1,dive,gt=0"`
	Status    string `json:"verification_status" binding:"required"`
	StationId *int   `json:"station_id"`
}

func (h *Handler) sessionAction(op sessionOp) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := paramId(c)
		if !ok {
			return
		}
		svc := h.svc.Headcount()
		ctx := c.Request.Context()
		var (
			session *models.HeadcountSession
			err     error
		)
		switch op {
		case sessionStart:
			session, err = svc.StartSession(ctx, id)
		case sessionPause:
			session, err = svc.PauseSession(ctx, id)
		case sessionResume:
			session, err = svc.ResumeSession(ctx, id)
		case sessionComplete:
			session, err = svc.CompleteSession(ctx, id)
		case sessionCancel:
			var req reasonRequest
			if c.Request.ContentLength > 0 {
				if err := c.ShouldBindJSON(&req); err != nil {
					badRequest(c, err)
					return
				}
			}
			session, err = svc.CancelSession(ctx, id, req.Reason)
		}
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"data": session})
	}
}

func (h *Handler) sessionStats() gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := paramId(c)
		if !ok {
			return
		}
		ctx := c.Request.Context()
		var session models.HeadcountSession
		if err := h.svc.DB.WithContext(ctx).Take(&session, id).Error; err != nil {
			respondError(c, err)
			return
		}
		stats, err := session.VerificationStats(ctx, h.svc.DB)
		if err != nil {
			respondError(c, err)
			return
		}
		pct, err := session.CompletionPercentage(ctx, h.svc.DB)
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"data": session, "stats": stats, "completion_percentage": pct})
	}
}

// captureVerification takes a multipart form with an optional "photo" file.
func (h *Handler) captureVerification() gin.HandlerFunc {
	return func(c *gin.Context) {
		var form captureForm
		if err := c.ShouldBind(&form); err != nil {
			badRequest(c, err)
			return
		}
		status := models.VerificationStatus(form.Status)
		if !status.IsValid() {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid verification status"})
			return
		}
		if (form.Latitude == nil) != (form.Longitude == nil) {
			c.JSON(http.StatusBadRequest, gin.H{"error": "latitude and longitude must be provided together"})
			return
		}

		input := workflow.CaptureInput{
			SessionId:  form.SessionId,
			StaffId:    form.StaffId,
			StationId:  form.StationId,
			Status:     status,
			Latitude:   form.Latitude,
			Longitude:  form.Longitude,
			Notes:      form.Notes,
			VerifiedBy: middlewares.ActorId(c),
		}
		if fh, err := c.FormFile("photo"); err == nil {
			if fh.Size > maxUploadBytes {
				c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": "photo exceeds 10 MB"})
				return
			}
			f, err := fh.Open()
			if err != nil {
				respondError(c, err)
				return
			}
			defer f.Close()
			input.Photo = f
		}

		v, err := h.svc.Headcount().CaptureVerification(c.Request.Context(), input)
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusCreated, gin.H{"data": v})
	}
}

func (h *Handler) bulkVerify() gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := paramId(c)
		if !ok {
			return
		}
		var req bulkVerifyRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			badRequest(c, err)
			return
		}
		status := models.VerificationStatus(req.Status)
		if !status.IsValid() || status == models.VerificationStatusGhost {
			c.JSON(http.StatusBadRequest, gin.H{"error": "ghost cannot be bulk verified"})
			return
		}
		n, err := h.svc.Headcount().BulkVerify(c.Request.Context(), id, req.StaffIds, status, req.StationId, middlewares.ActorId(c))
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"verified": n})
	}
}

func (h *Handler) markGhost() gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := paramId(c)
		if !ok {
			return
		}
		var req reasonRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			badRequest(c, err)
			return
		}
		v, err := h.svc.Headcount().MarkVerificationAsGhost(c.Request.Context(), id, req.Reason, middlewares.ActorId(c))
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"data": v})
	}
}
