package workflow

import (
	"context"
	"time"

	"github.com/mmdatafocus/payroll_audit/models"
	"github.com/mmdatafocus/payroll_audit/utils"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

func startJobRun(ctx context.Context, db *gorm.DB, jobName string, now time.Time) (*models.JobRun, error) {
	cid, _ := utils.GetCorrelationIdFromContext(ctx)
	run := &models.JobRun{
		JobName:       jobName,
		CorrelationId: cid,
		Status:        models.JobRunStatusRunning,
		StartedAt:     now,
		Summary:       datatypes.NewJSONType(map[string]int64{}),
	}
	if err := db.WithContext(ctx).Create(run).Error; err != nil {
		return nil, err
	}
	return run, nil
}

func completeJobRun(ctx context.Context, db *gorm.DB, run *models.JobRun, summary map[string]int64, now time.Time) error {
	run.Status = models.JobRunStatusCompleted
	run.CompletedAt = &now
	run.Summary = datatypes.NewJSONType(summary)
	return db.WithContext(ctx).Model(run).Updates(map[string]interface{}{
		"status":       run.Status,
		"completed_at": now,
		"summary":      run.Summary,
	}).Error
}

// failJobRun uses a fresh context so a cancelled job can still be marked failed.
func failJobRun(db *gorm.DB, run *models.JobRun, cause error, now time.Time) error {
	run.Status = models.JobRunStatusFailed
	run.CompletedAt = &now
	run.ErrorMessage = cause.Error()
	return db.WithContext(context.Background()).Model(run).Updates(map[string]interface{}{
		"status":        run.Status,
		"completed_at":  now,
		"error_message": run.ErrorMessage,
	}).Error
}
