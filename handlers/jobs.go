package handlers

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/mmdatafocus/payroll_audit/config"
	"github.com/mmdatafocus/payroll_audit/utils"
	"github.com/mmdatafocus/payroll_audit/workflow"
	"github.com/sirupsen/logrus"
)

// PubSubMessage is the push envelope; Data is base64 in JSON and decoded by the []byte unmarshal.
type PubSubMessage struct {
	Message struct {
		Data []byte `json:"data,omitempty"`
		ID   string `json:"id"`
	} `json:"message"`
	Subscription string `json:"subscription"`
}

// redetectPush runs detection for a push delivery. Poisoned messages are acked with 204,
// a failed run returns 500 so Pub/Sub redelivers.
func (h *Handler) redetectPush() gin.HandlerFunc {
	return func(c *gin.Context) {
		logger := h.svc.Logger
		var msg PubSubMessage

		body, err := io.ReadAll(c.Request.Body)
		if err != nil {
			config.LogError(logger, "handlers/jobs.go", "redetectPush", "io.ReadAll", nil, err)
			c.Status(http.StatusNoContent)
			return
		}
		if err := json.Unmarshal(body, &msg); err != nil {
			config.LogError(logger, "handlers/jobs.go", "redetectPush", "Unmarshal body", string(body), err)
			c.Status(http.StatusNoContent)
			return
		}
		var m config.AuditPubSubMessage
		if err := json.Unmarshal(msg.Message.Data, &m); err != nil {
			config.LogError(logger, "handlers/jobs.go", "redetectPush", "Unmarshal pubsub message", string(msg.Message.Data), err)
			c.Status(http.StatusNoContent)
			return
		}
		if m.Action != config.AuditActionDetect {
			config.LogError(logger, "handlers/jobs.go", "redetectPush", "unknown action", m, errors.New("action must be "+config.AuditActionDetect))
			c.Status(http.StatusNoContent)
			return
		}

		correlationId := m.CorrelationId
		if correlationId == "" {
			correlationId = msg.Message.ID
		}
		ctx := utils.SetCorrelationIdInContext(c.Request.Context(), correlationId)
		fields := logrus.Fields{
			"field":          "redetectPush",
			"import_id":      m.ImportId,
			"message_id":     msg.Message.ID,
			"correlation_id": correlationId,
		}

		summary, err := h.svc.DetectJob().Run(ctx)
		if errors.Is(err, workflow.ErrJobLocked) {
			// the running pass will see the same data
			logger.WithFields(fields).Info("detection already running; acking re-detection request")
			c.Status(http.StatusNoContent)
			return
		}
		if err != nil {
			logger.WithFields(fields).Error("re-detection failed: " + err.Error())
			c.Status(http.StatusInternalServerError)
			return
		}
		fields["total"] = summary.Total
		logger.WithFields(fields).Info("re-detection completed")
		c.Status(http.StatusNoContent)
	}
}

func (h *Handler) runDetection() gin.HandlerFunc {
	return func(c *gin.Context) {
		summary, err := h.svc.DetectJob().Run(c.Request.Context())
		if err != nil {
			if summary != nil {
				_ = c.Error(err)
				c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error(), "data": summary})
				return
			}
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"data": summary})
	}
}

func (h *Handler) lastDetection() gin.HandlerFunc {
	return func(c *gin.Context) {
		summary, ok, err := workflow.LastDetectionSummary(c.Request.Context())
		if err != nil {
			respondError(c, err)
			return
		}
		if !ok {
			c.JSON(http.StatusNotFound, gin.H{"error": "no detection run cached"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"data": summary})
	}
}

func (h *Handler) runEscalation() gin.HandlerFunc {
	return func(c *gin.Context) {
		result, err := h.svc.EscalateJob().Run(c.Request.Context())
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"data": result})
	}
}

func (h *Handler) escalationStatistics() gin.HandlerFunc {
	return func(c *gin.Context) {
		stats, err := workflow.OverdueStatistics(c.Request.Context(), h.svc.DB, h.svc.Clock.Now())
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"data": stats})
	}
}
