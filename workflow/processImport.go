package workflow

import (
	"context"
	"fmt"
	"time"

	"github.com/mmdatafocus/payroll_audit/config"
	"github.com/mmdatafocus/payroll_audit/importer"
	"github.com/mmdatafocus/payroll_audit/models"
	"github.com/mmdatafocus/payroll_audit/utils"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/attribute"
)

const ProcessImportJobName = "process-import"

// RedetectPublisher asks the detection job to run again after data changes.
type RedetectPublisher func(ctx context.Context, msg config.AuditPubSubMessage) error

// PublishRedetect sends msg on the configured topic. It does nothing when no topic is set.
func PublishRedetect(ctx context.Context, msg config.AuditPubSubMessage) error {
	topic := config.RedetectTopicName()
	if topic == "" {
		return nil
	}
	_, err := config.PublishAuditMessage(ctx, topic, msg)
	return err
}

type ImportResult struct {
	Import    *models.ImportHistory  `json:"import"`
	Anomalies []models.ImportAnomaly `json:"anomalies"`
}

// ProcessImportJob processes one import, reviews the result and requests re-detection.
type ProcessImportJob struct {
	Processor   *importer.Processor
	Locker      JobLocker
	Publish     RedetectPublisher
	RequestedBy int
}

func (j *ProcessImportJob) Run(ctx context.Context, importId int) (*ImportResult, error) {
	ctx, cid := utils.EnsureCorrelationId(ctx)
	ctx, span := tracer.Start(ctx, "job."+ProcessImportJobName)
	defer span.End()
	span.SetAttributes(attribute.String("correlation_id", cid), attribute.Int("import_id", importId))

	logger := j.Processor.Logger
	var result *ImportResult
	err := withJobLock(ctx, j.Locker, logger, fmt.Sprintf(ImportJobLockKey, importId), 2*time.Hour, func(ctx context.Context) error {
		h, err := j.Processor.Process(ctx, importId)
		result = &ImportResult{Import: h}
		if err != nil {
			return err
		}
		anomalies, err := j.Processor.ValidateImportedData(ctx, importId)
		if err != nil {
			// the import itself succeeded
			config.LogError(logger, "processImport.go", "Run", "ValidateImportedData", importId, err)
		}
		result.Anomalies = anomalies
		j.requestRedetect(ctx, h, cid)
		return nil
	})
	if err != nil {
		span.RecordError(err)
	}
	return result, err
}

func (j *ProcessImportJob) requestRedetect(ctx context.Context, h *models.ImportHistory, cid string) {
	if j.Publish == nil || h.SuccessfulRecords == 0 {
		return
	}
	msg := config.AuditPubSubMessage{
		Action:        config.AuditActionDetect,
		ImportId:      uint(h.ID),
		RequestedBy:   j.RequestedBy,
		RequestedAt:   j.Processor.Clock.Now(),
		CorrelationId: cid,
	}
	if err := j.Publish(ctx, msg); err != nil {
		config.LogError(j.Processor.Logger, "processImport.go", "requestRedetect", "Publish", h.ID, err)
		return
	}
	j.Processor.Logger.WithFields(logrus.Fields{"job": ProcessImportJobName, "import_id": h.ID}).Info("re-detection requested")
}
