// Package detection holds the rule-based analyzers that turn payroll, bank and
// headcount data into Discrepancy findings.
//
// Every analyzer is safe to re-run: before writing a finding it checks for an
// existing one on the same dedup key and skips when found.
package detection

import (
	"context"
	"time"

	"github.com/mmdatafocus/payroll_audit/config"
	"github.com/mmdatafocus/payroll_audit/models"
	"github.com/mmdatafocus/payroll_audit/utils"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"gorm.io/gorm"
)

const moduleName = "detection"

var tracer = otel.Tracer("github.com/mmdatafocus/payroll_audit/detection")

// Thresholds tunes the analyzers. Percentages are whole numbers (20 means 20%).
type Thresholds struct {
	PaymentLookbackMonths   int
	ConsecutiveAbsences     int
	StationMaxDistanceKm    float64
	StationDedupWindow      time.Duration
	GradeTolerancePct       float64
	SpikeThresholdPct       float64
	SpikeMinHistory         int
	DuplicateAmountMinStaff int
	DuplicateAmountHigh     int
	SalaryMismatchPct       float64
	SalaryMismatchHighPct   float64
}

func DefaultThresholds() Thresholds {
	return Thresholds{
		PaymentLookbackMonths:   3,
		ConsecutiveAbsences:     3,
		StationMaxDistanceKm:    5,
		StationDedupWindow:      24 * time.Hour,
		GradeTolerancePct:       20,
		SpikeThresholdPct:       50,
		SpikeMinHistory:         3,
		DuplicateAmountMinStaff: 5,
		DuplicateAmountHigh:     10,
		SalaryMismatchPct:       30,
		SalaryMismatchHighPct:   50,
	}
}

// ThresholdsFromEnv applies DETECT_* overrides on top of the defaults.
func ThresholdsFromEnv() Thresholds {
	t := DefaultThresholds()
	t.PaymentLookbackMonths = config.IntFromEnv("DETECT_PAYMENT_LOOKBACK_MONTHS", t.PaymentLookbackMonths)
	t.ConsecutiveAbsences = config.IntFromEnv("DETECT_CONSECUTIVE_ABSENCES", t.ConsecutiveAbsences)
	t.StationMaxDistanceKm = config.FloatFromEnv("DETECT_STATION_MAX_DISTANCE_KM", t.StationMaxDistanceKm)
	t.GradeTolerancePct = config.FloatFromEnv("DETECT_GRADE_TOLERANCE_PCT", t.GradeTolerancePct)
	t.SpikeThresholdPct = config.FloatFromEnv("DETECT_SPIKE_THRESHOLD_PCT", t.SpikeThresholdPct)
	t.SpikeMinHistory = config.IntFromEnv("DETECT_SPIKE_MIN_HISTORY", t.SpikeMinHistory)
	t.DuplicateAmountMinStaff = config.IntFromEnv("DETECT_DUPLICATE_AMOUNT_MIN_STAFF", t.DuplicateAmountMinStaff)
	t.DuplicateAmountHigh = config.IntFromEnv("DETECT_DUPLICATE_AMOUNT_HIGH", t.DuplicateAmountHigh)
	t.SalaryMismatchPct = config.FloatFromEnv("DETECT_SALARY_MISMATCH_PCT", t.SalaryMismatchPct)
	t.SalaryMismatchHighPct = config.FloatFromEnv("DETECT_SALARY_MISMATCH_HIGH_PCT", t.SalaryMismatchHighPct)
	return t
}

// Deps are the collaborators shared by every analyzer.
type Deps struct {
	DB            *gorm.DB
	Logger        *logrus.Logger
	Clock         utils.Clock
	SystemActorId int
	Thresholds    Thresholds
}

// Finding is one discrepancy about to be written.
type Finding struct {
	StaffId     int
	Type        models.DiscrepancyType
	Rule        string
	Severity    models.Severity
	Description string
	IncidentAt  *time.Time
}

// Rule codes identify which sub-check produced a finding.
const (
	RulePaymentWithoutVerification = "ghost.payment_without_verification"
	RuleConsecutiveAbsence         = "ghost.consecutive_absence"
	RuleFlaggedButPaid             = "ghost.flagged_but_paid"
	RuleSharedBankAccount          = "duplicate.bank_account"
	RuleSharedMobileMoney          = "duplicate.mobile_money"
	RuleStationDistance            = "station.distance"
	RuleGradeRange                 = "salary.grade_range"
	RulePaymentSpike               = "salary.payment_spike"
	RuleDuplicateAmount            = "salary.duplicate_amount"
	RuleSalaryMismatch             = "salary.payment_mismatch"
)

type base struct {
	Deps
}

func (b *base) db(ctx context.Context) *gorm.DB {
	return b.DB.WithContext(ctx)
}

func (b *base) now() time.Time {
	return b.Clock.Now()
}

func (b *base) lookbackStart() time.Time {
	return b.now().AddDate(0, -b.Thresholds.PaymentLookbackMonths, 0)
}

// exists is the standard dedup key: same staff and type, any status except dismissed.
func (b *base) exists(ctx context.Context, staffId int, typ models.DiscrepancyType) (bool, error) {
	var n int64
	err := b.db(ctx).Model(&models.Discrepancy{}).
		Where("staff_id = ? AND discrepancy_type = ? AND status <> ?", staffId, typ, models.DiscrepancyStatusDismissed).
		Count(&n).Error
	return n > 0, err
}

// staffWithFinding returns the staff ids that already hold a non-dismissed finding of the type.
func (b *base) staffWithFinding(ctx context.Context, typ models.DiscrepancyType) (map[int]bool, error) {
	var ids []int
	err := b.db(ctx).Model(&models.Discrepancy{}).
		Where("discrepancy_type = ? AND status <> ?", typ, models.DiscrepancyStatusDismissed).
		Distinct().Pluck("staff_id", &ids).Error
	if err != nil {
		return nil, err
	}
	out := make(map[int]bool, len(ids))
	for _, id := range ids {
		out[id] = true
	}
	return out, nil
}

// existsForIncident scopes the dedup to an incident window instead of the staff member.
func (b *base) existsForIncident(ctx context.Context, staffId int, typ models.DiscrepancyType, from, to time.Time, includeDismissed bool) (bool, error) {
	q := b.db(ctx).Model(&models.Discrepancy{}).
		Where("staff_id = ? AND discrepancy_type = ?", staffId, typ).
		Where("incident_at >= ? AND incident_at <= ?", from, to)
	if !includeDismissed {
		q = q.Where("status <> ?", models.DiscrepancyStatusDismissed)
	}
	var n int64
	err := q.Count(&n).Error
	return n > 0, err
}

func (b *base) create(ctx context.Context, f Finding) error {
	d := models.Discrepancy{
		StaffId:         f.StaffId,
		DiscrepancyType: f.Type,
		Rule:            f.Rule,
		Severity:        f.Severity,
		Status:          models.DiscrepancyStatusOpen,
		Description:     f.Description,
		DetectedBy:      b.SystemActorId,
		DetectedAt:      b.now(),
		IncidentAt:      f.IncidentAt,
	}
	return b.db(ctx).Create(&d).Error
}

// logSkip records a per-staff failure; the scan continues.
func (b *base) logSkip(funcName string, staffId int, err error) {
	config.LogError(b.Logger, moduleName, funcName, "skipping staff", map[string]int{"staff_id": staffId}, err)
}

func (b *base) startSpan(ctx context.Context, name string) (context.Context, trace.Span) {
	return tracer.Start(ctx, name, trace.WithAttributes(attribute.String("detector", name)))
}

// DeviationSeverity buckets a percent deviation: >100 critical, >50 high, >30 medium, else low.
func DeviationSeverity(pct float64) models.Severity {
	switch {
	case pct > 100:
		return models.SeverityCritical
	case pct > 50:
		return models.SeverityHigh
	case pct > 30:
		return models.SeverityMedium
	default:
		return models.SeverityLow
	}
}

// DistanceSeverity buckets a distance in km: >50 critical, >20 high, >10 medium, else low.
func DistanceSeverity(km float64) models.Severity {
	switch {
	case km > 50:
		return models.SeverityCritical
	case km > 20:
		return models.SeverityHigh
	case km > 10:
		return models.SeverityMedium
	default:
		return models.SeverityLow
	}
}

// loadStaff fetches staff by id in chunks; soft-deleted rows are absent from the map.
func (b *base) loadStaff(ctx context.Context, ids []int) (map[int]*models.Staff, error) {
	out := make(map[int]*models.Staff, len(ids))
	for _, chunk := range utils.ChunkSlice(ids, 500) {
		var rows []*models.Staff
		if err := b.db(ctx).Where("id IN ?", chunk).Find(&rows).Error; err != nil {
			return nil, err
		}
		for _, s := range rows {
			out[s.ID] = s
		}
	}
	return out, nil
}

func countByStatus(ctx context.Context, db *gorm.DB, typ models.DiscrepancyType) (total, open, resolved int64, err error) {
	type row struct {
		Status models.DiscrepancyStatus
		N      int64
	}
	var rows []row
	err = db.WithContext(ctx).Model(&models.Discrepancy{}).
		Select("status, COUNT(*) AS n").
		Where("discrepancy_type = ?", typ).
		Group("status").
		Scan(&rows).Error
	if err != nil {
		return 0, 0, 0, err
	}
	for _, r := range rows {
		total += r.N
		switch r.Status {
		case models.DiscrepancyStatusOpen:
			open = r.N
		case models.DiscrepancyStatusResolved:
			resolved = r.N
		}
	}
	return total, open, resolved, nil
}
