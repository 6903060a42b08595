package workflow

import (
	"context"
	"fmt"
	"time"

	"github.com/mmdatafocus/payroll_audit/config"
	"github.com/mmdatafocus/payroll_audit/models"
	"github.com/mmdatafocus/payroll_audit/utils"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/attribute"
	"gorm.io/gorm"
)

const EscalateJobName = "escalate-overdue-discrepancies"

// SLA ages
const (
	CriticalEscalationAge = 3 * 24 * time.Hour
	HighEscalationAge     = 7 * 24 * time.Hour
	AutoReviewAge         = 14 * 24 * time.Hour
)

type EscalationResult struct {
	CriticalEscalated int `json:"critical_escalated"`
	HighEscalated     int `json:"high_escalated"`
	AutoReviewed      int `json:"auto_reviewed"`
}

type EscalationStatistics struct {
	CriticalOverdue int64                     `json:"critical_overdue"`
	HighOverdue     int64                     `json:"high_overdue"`
	AllOverdue      int64                     `json:"all_overdue"`
	OpenBySeverity  map[models.Severity]int64 `json:"open_by_severity"`
}

type EscalateOverdueJob struct {
	DB            *gorm.DB
	Logger        *logrus.Logger
	Clock         utils.Clock
	SystemActorId int
	Locker        JobLocker
}

var pendingStatuses = []models.DiscrepancyStatus{models.DiscrepancyStatusOpen, models.DiscrepancyStatusUnderReview}

func (j *EscalateOverdueJob) Run(ctx context.Context) (*EscalationResult, error) {
	ctx, cid := utils.EnsureCorrelationId(ctx)
	ctx, span := tracer.Start(ctx, "job."+EscalateJobName)
	defer span.End()
	span.SetAttributes(attribute.String("correlation_id", cid))

	var result *EscalationResult
	err := withJobLock(ctx, j.Locker, j.Logger, EscalateJobLockKey, 30*time.Minute, func(ctx context.Context) error {
		var err error
		result, err = j.run(ctx)
		return err
	})
	if err != nil {
		span.RecordError(err)
	}
	return result, err
}

func (j *EscalateOverdueJob) run(ctx context.Context) (*EscalationResult, error) {
	now := j.Clock.Now()
	j.Logger.WithFields(logrus.Fields{"job": EscalateJobName}).Info("starting discrepancy escalation check")

	run, err := startJobRun(ctx, j.DB, EscalateJobName, now)
	if err != nil {
		config.LogError(j.Logger, "escalateOverdue.go", "run", "startJobRun", nil, err)
		return nil, err
	}
	fail := func(step string, err error) (*EscalationResult, error) {
		config.LogError(j.Logger, "escalateOverdue.go", "run", step, run.ID, err)
		if ferr := failJobRun(j.DB, run, err, j.Clock.Now()); ferr != nil {
			config.LogError(j.Logger, "escalateOverdue.go", "run", "failJobRun", run.ID, ferr)
		}
		return nil, err
	}

	result := &EscalationResult{}
	if result.CriticalEscalated, err = j.escalate(ctx, now, models.SeverityCritical, CriticalEscalationAge,
		"CRITICAL ESCALATION: This critical discrepancy has been open for %d days without resolution. Immediate action required."); err != nil {
		return fail("critical", err)
	}
	if result.HighEscalated, err = j.escalate(ctx, now, models.SeverityHigh, HighEscalationAge,
		"ESCALATION: This high-priority discrepancy has been open for %d days without resolution. Please prioritize investigation."); err != nil {
		return fail("high", err)
	}
	if result.AutoReviewed, err = j.autoReview(ctx, now); err != nil {
		return fail("autoReview", err)
	}

	summary := map[string]int64{
		"critical_escalated": int64(result.CriticalEscalated),
		"high_escalated":     int64(result.HighEscalated),
		"auto_reviewed":      int64(result.AutoReviewed),
	}
	if err := completeJobRun(ctx, j.DB, run, summary, j.Clock.Now()); err != nil {
		return fail("completeJobRun", err)
	}
	j.Logger.WithFields(logrus.Fields{
		"job":                EscalateJobName,
		"critical_escalated": result.CriticalEscalated,
		"high_escalated":     result.HighEscalated,
		"auto_reviewed":      result.AutoReviewed,
	}).Info("discrepancy escalation check completed")

	if stats, err := OverdueStatistics(ctx, j.DB, now); err != nil {
		config.LogError(j.Logger, "escalateOverdue.go", "run", "OverdueStatistics", nil, err)
	} else {
		j.Logger.WithFields(logrus.Fields{"job": EscalateJobName, "statistics": stats}).Info("escalation statistics")
	}
	return result, nil
}

func (j *EscalateOverdueJob) overdue(ctx context.Context, severity models.Severity, statuses []models.DiscrepancyStatus, cutoff time.Time) ([]models.Discrepancy, error) {
	q := j.DB.WithContext(ctx).Where("status IN ? AND detected_at <= ?", statuses, cutoff)
	if severity != "" {
		q = q.Where("severity = ?", severity)
	}
	var rows []models.Discrepancy
	err := q.Order("detected_at ASC").Order("id ASC").Find(&rows).Error
	return rows, err
}

// escalate adds a public note to every pending finding of the severity older than age.
// A failure on one finding is logged and the pass continues.
func (j *EscalateOverdueJob) escalate(ctx context.Context, now time.Time, severity models.Severity, age time.Duration, format string) (int, error) {
	rows, err := j.overdue(ctx, severity, pendingStatuses, now.Add(-age))
	if err != nil {
		return 0, err
	}
	count := 0
	for i := range rows {
		d := &rows[i]
		if _, err := d.AddNote(ctx, j.DB, j.SystemActorId, fmt.Sprintf(format, d.DaysOpen(now)), false); err != nil {
			config.LogError(j.Logger, "escalateOverdue.go", "escalate", string(severity), d.ID, err)
			continue
		}
		count++
	}
	return count, nil
}

// autoReview moves long-open findings to under_review with an internal note.
func (j *EscalateOverdueJob) autoReview(ctx context.Context, now time.Time) (int, error) {
	rows, err := j.overdue(ctx, "", []models.DiscrepancyStatus{models.DiscrepancyStatusOpen}, now.Add(-AutoReviewAge))
	if err != nil {
		return 0, err
	}
	count := 0
	for i := range rows {
		d := &rows[i]
		err := j.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			if err := d.MarkUnderReview(ctx, tx); err != nil {
				return err
			}
			_, err := d.AddNote(ctx, tx, j.SystemActorId,
				fmt.Sprintf("Automatically marked as under review after being open for %d days.", d.DaysOpen(now)), true)
			return err
		})
		if err != nil {
			config.LogError(j.Logger, "escalateOverdue.go", "autoReview", "MarkUnderReview", d.ID, err)
			continue
		}
		count++
	}
	return count, nil
}

// OverdueStatistics reports overdue counts and pending findings per severity as of now.
func OverdueStatistics(ctx context.Context, db *gorm.DB, now time.Time) (EscalationStatistics, error) {
	stats := EscalationStatistics{OpenBySeverity: make(map[models.Severity]int64, len(models.AllSeverities))}
	pending := func() *gorm.DB {
		return db.WithContext(ctx).Model(&models.Discrepancy{}).Where("status IN ?", pendingStatuses)
	}
	if err := pending().Where("severity = ? AND detected_at <= ?", models.SeverityCritical, now.Add(-CriticalEscalationAge)).
		Count(&stats.CriticalOverdue).Error; err != nil {
		return stats, err
	}
	if err := pending().Where("severity = ? AND detected_at <= ?", models.SeverityHigh, now.Add(-HighEscalationAge)).
		Count(&stats.HighOverdue).Error; err != nil {
		return stats, err
	}
	if err := pending().Where("detected_at <= ?", now.Add(-HighEscalationAge)).
		Count(&stats.AllOverdue).Error; err != nil {
		return stats, err
	}
	for _, sev := range models.AllSeverities {
		var n int64
		if err := db.WithContext(ctx).Model(&models.Discrepancy{}).
			Where("status = ? AND severity = ?", models.DiscrepancyStatusOpen, sev).
			Count(&n).Error; err != nil {
			return stats, err
		}
		stats.OpenBySeverity[sev] = n
	}
	return stats, nil
}
