package workflow

import (
	"context"
	"fmt"
	"time"

	"github.com/mmdatafocus/payroll_audit/config"
	"github.com/mmdatafocus/payroll_audit/detection"
	"github.com/mmdatafocus/payroll_audit/utils"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
)

const (
	DetectJobName = "detect-discrepancies"

	// LastDetectionCacheKey holds the most recent DetectionSummary in Redis.
	LastDetectionCacheKey = "audit:detection:last"
)

var tracer = otel.Tracer("github.com/mmdatafocus/payroll_audit/workflow")

type DetectionSummary struct {
	JobRunId      int       `json:"job_run_id"`
	Ghost         int       `json:"ghost_employee"`
	Station       int       `json:"station_mismatch"`
	DuplicateBank int       `json:"duplicate_bank_account"`
	MobileMoney   int       `json:"duplicate_mobile_money"`
	Salary        int       `json:"salary_anomaly"`
	Total         int       `json:"total"`
	FinishedAt    time.Time `json:"finished_at"`
}

func (s DetectionSummary) asMap() map[string]int64 {
	return map[string]int64{
		"ghost_employee":         int64(s.Ghost),
		"station_mismatch":       int64(s.Station),
		"duplicate_bank_account": int64(s.DuplicateBank),
		"duplicate_mobile_money": int64(s.MobileMoney),
		"salary_anomaly":         int64(s.Salary),
		"total":                  int64(s.Total),
	}
}

// DetectDiscrepanciesJob runs every analyzer in a fixed order under the job lock.
type DetectDiscrepanciesJob struct {
	Deps   detection.Deps
	Cipher utils.Cipher
	Locker JobLocker
}

type detectStep struct {
	name   string
	run    func(context.Context) (int, error)
	record func(*DetectionSummary, int)
}

func (j *DetectDiscrepanciesJob) Run(ctx context.Context) (*DetectionSummary, error) {
	ctx, cid := utils.EnsureCorrelationId(ctx)
	ctx, span := tracer.Start(ctx, "job."+DetectJobName)
	defer span.End()
	span.SetAttributes(attribute.String("correlation_id", cid))

	logger := j.Deps.Logger
	var summary *DetectionSummary
	err := withJobLock(ctx, j.Locker, logger, DetectJobLockKey, time.Hour, func(ctx context.Context) error {
		var err error
		summary, err = j.run(ctx)
		return err
	})
	if err != nil {
		span.RecordError(err)
		return summary, err
	}
	return summary, nil
}

func (j *DetectDiscrepanciesJob) run(ctx context.Context) (*DetectionSummary, error) {
	db, logger, clock := j.Deps.DB, j.Deps.Logger, j.Deps.Clock
	logger.WithFields(logrus.Fields{"job": DetectJobName}).Info("starting scheduled discrepancy detection")

	run, err := startJobRun(ctx, db, DetectJobName, clock.Now())
	if err != nil {
		config.LogError(logger, "detectDiscrepancies.go", "run", "startJobRun", nil, err)
		return nil, err
	}

	ghost := detection.NewGhostEmployeeDetector(j.Deps)
	station := detection.NewStationMismatchDetector(j.Deps)
	duplicate := detection.NewDuplicateBankAccountDetector(j.Deps, j.Cipher)
	salary := detection.NewSalaryAnomalyDetector(j.Deps)

	steps := []detectStep{
		{"ghost employee", ghost.Detect, func(s *DetectionSummary, n int) { s.Ghost = n }},
		{"station mismatch", station.Detect, func(s *DetectionSummary, n int) { s.Station = n }},
		{"duplicate bank account", duplicate.Detect, func(s *DetectionSummary, n int) { s.DuplicateBank = n }},
		{"duplicate mobile money", duplicate.DetectMobileMoney, func(s *DetectionSummary, n int) { s.MobileMoney = n }},
		{"salary anomaly", salary.Detect, func(s *DetectionSummary, n int) { s.Salary = n }},
	}

	summary := &DetectionSummary{JobRunId: run.ID}
	for _, step := range steps {
		n, err := step.run(ctx)
		step.record(summary, n)
		summary.Total += n
		if err != nil {
			err = fmt.Errorf("%s detection: %w", step.name, err)
			config.LogError(logger, "detectDiscrepancies.go", "run", step.name, summary, err)
			if ferr := failJobRun(db, run, err, clock.Now()); ferr != nil {
				config.LogError(logger, "detectDiscrepancies.go", "run", "failJobRun", run.ID, ferr)
			}
			return summary, err
		}
		logger.WithFields(logrus.Fields{"job": DetectJobName, "detector": step.name, "created": n}).
			Info(fmt.Sprintf("%s detection: %d new discrepancies", step.name, n))
	}

	summary.FinishedAt = clock.Now()
	if err := completeJobRun(ctx, db, run, summary.asMap(), summary.FinishedAt); err != nil {
		config.LogError(logger, "detectDiscrepancies.go", "run", "completeJobRun", run.ID, err)
		return summary, err
	}
	logger.WithFields(logrus.Fields{"job": DetectJobName, "total": summary.Total}).
		Info(fmt.Sprintf("discrepancy detection completed. Total new discrepancies: %d", summary.Total))

	if err := config.SetRedisObject(ctx, LastDetectionCacheKey, summary, 7*24*time.Hour); err != nil {
		logger.WithFields(logrus.Fields{"job": DetectJobName}).Warn("failed to cache detection summary: " + err.Error())
	}
	j.logStatistics(ctx, ghost, station, duplicate, salary)
	return summary, nil
}

// logStatistics is informational; failures are logged and the run still counts as completed.
func (j *DetectDiscrepanciesJob) logStatistics(ctx context.Context, ghost *detection.GhostEmployeeDetector, station *detection.StationMismatchDetector, duplicate *detection.DuplicateBankAccountDetector, salary *detection.SalaryAnomalyDetector) {
	logger := j.Deps.Logger
	fields := logrus.Fields{"job": DetectJobName}

	if s, err := ghost.Statistics(ctx); err == nil {
		fields["ghost_employees"] = s
	} else {
		config.LogError(logger, "detectDiscrepancies.go", "logStatistics", "ghost", nil, err)
	}
	if s, err := station.Statistics(ctx); err == nil {
		fields["station_mismatches"] = s
	} else {
		config.LogError(logger, "detectDiscrepancies.go", "logStatistics", "station", nil, err)
	}
	if s, err := duplicate.Statistics(ctx); err == nil {
		fields["duplicate_accounts"] = s
	} else {
		config.LogError(logger, "detectDiscrepancies.go", "logStatistics", "duplicate", nil, err)
	}
	if s, err := salary.Statistics(ctx); err == nil {
		fields["salary_anomalies"] = s
	} else {
		config.LogError(logger, "detectDiscrepancies.go", "logStatistics", "salary", nil, err)
	}
	logger.WithFields(fields).Info("discrepancy detection summary")
}

// LastDetectionSummary reads the cached summary; ok is false when nothing is cached.
func LastDetectionSummary(ctx context.Context) (summary DetectionSummary, ok bool, err error) {
	ok, err = config.GetRedisObject(ctx, LastDetectionCacheKey, &summary)
	return summary, ok, err
}
