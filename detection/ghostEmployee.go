package detection

import (
	"context"
	"fmt"

	"github.com/mmdatafocus/payroll_audit/models"
	"github.com/mmdatafocus/payroll_audit/utils"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
)

// GhostEmployeeDetector flags staff who are paid but cannot be shown to exist.
type GhostEmployeeDetector struct {
	base
}

func NewGhostEmployeeDetector(deps Deps) *GhostEmployeeDetector {
	return &GhostEmployeeDetector{base{deps}}
}

type GhostStatistics struct {
	TotalGhostDiscrepancies int64 `json:"total_ghost_discrepancies"`
	OpenGhostDiscrepancies  int64 `json:"open_ghost_discrepancies"`
	ResolvedGhostCases      int64 `json:"resolved_ghost_cases"`
	StaffFlaggedAsGhost     int64 `json:"staff_flagged_as_ghost"`
	GhostsStillPaid         int64 `json:"ghosts_still_paid"`
}

type paymentTotals struct {
	count int
	total decimal.Decimal
}

// Detect runs the three sub-checks and returns the number of findings created.
func (d *GhostEmployeeDetector) Detect(ctx context.Context) (int, error) {
	ctx, span := d.startSpan(ctx, "detect.ghost_employee")
	defer span.End()

	// Staff already carrying a ghost finding are settled for this pass. Taken once,
	// so sibling sub-checks can still each report a staff member new to this run.
	flagged, err := d.staffWithFinding(ctx, models.DiscrepancyTypeGhostEmployee)
	if err != nil {
		span.RecordError(err)
		return 0, err
	}

	created := 0
	checks := []func(context.Context, map[int]bool) (int, error){
		d.detectPaymentsWithoutVerification,
		d.detectConsecutiveAbsences,
		d.detectFlaggedButPaid,
	}
	for _, check := range checks {
		n, err := check(ctx, flagged)
		created += n
		if err != nil {
			span.RecordError(err)
			return created, err
		}
	}
	d.Logger.WithFields(logrus.Fields{"detector": "ghost_employee", "created": created}).Info("ghost employee detection finished")
	return created, nil
}

// recentPayments sums non-failed payments dated inside the lookback window, per staff.
func (d *GhostEmployeeDetector) recentPayments(ctx context.Context) (map[int]*paymentTotals, error) {
	var payments []models.MonthlyPayment
	err := d.db(ctx).Select("staff_id", "net_amount").
		Where("payment_date >= ? AND payment_status <> ?", d.lookbackStart(), models.PaymentStatusFailed).
		Find(&payments).Error
	if err != nil {
		return nil, err
	}
	out := make(map[int]*paymentTotals)
	for _, p := range payments {
		t, ok := out[p.StaffId]
		if !ok {
			t = &paymentTotals{}
			out[p.StaffId] = t
		}
		t.count++
		t.total = t.total.Add(p.NetAmount)
	}
	return out, nil
}

func (d *GhostEmployeeDetector) detectPaymentsWithoutVerification(ctx context.Context, flagged map[int]bool) (int, error) {
	var staff []models.Staff
	err := d.db(ctx).
		Where("is_active = ?", true).
		Where("NOT EXISTS (SELECT 1 FROM headcount_verifications hv WHERE hv.staff_id = staff.id)").
		Find(&staff).Error
	if err != nil {
		return 0, err
	}
	if len(staff) == 0 {
		return 0, nil
	}
	paid, err := d.recentPayments(ctx)
	if err != nil {
		return 0, err
	}

	created := 0
	for _, s := range staff {
		totals, ok := paid[s.ID]
		if !ok {
			continue
		}
		if flagged[s.ID] {
			continue
		}
		now := d.now()
		err = d.create(ctx, Finding{
			StaffId:  s.ID,
			Type:     models.DiscrepancyTypeGhostEmployee,
			Rule:     RulePaymentWithoutVerification,
			Severity: models.SeverityCritical,
			Description: fmt.Sprintf(
				"Staff member has received %d monthly payments totaling GHS %s over the past %d months but has NEVER been verified in any headcount session. This is a strong indicator of a ghost employee.",
				totals.count, utils.FormatMoney(totals.total), d.Thresholds.PaymentLookbackMonths),
			IncidentAt: &now,
		})
		if err != nil {
			d.logSkip("detectPaymentsWithoutVerification", s.ID, err)
			continue
		}
		created++
	}
	return created, nil
}

// absenceRun walks verifications oldest first. Absent and ghost extend the run,
// present and on_leave reset it; the longest run is returned.
func absenceRun(statuses []models.VerificationStatus) (longest, ghostFlags int) {
	run := 0
	for _, st := range statuses {
		if !st.CountsAsMissing() {
			run = 0
			continue
		}
		run++
		if st == models.VerificationStatusGhost {
			ghostFlags++
		}
		if run > longest {
			longest = run
		}
	}
	return longest, ghostFlags
}

func (d *GhostEmployeeDetector) detectConsecutiveAbsences(ctx context.Context, flagged map[int]bool) (int, error) {
	var verifications []models.HeadcountVerification
	err := d.db(ctx).
		Select("headcount_verifications.staff_id, headcount_verifications.status, headcount_verifications.verified_at").
		Joins("JOIN staff ON staff.id = headcount_verifications.staff_id AND staff.deleted_at IS NULL").
		Where("staff.is_active = ?", true).
		Order("headcount_verifications.staff_id").
		Order("headcount_verifications.verified_at").
		Order("headcount_verifications.id").
		Find(&verifications).Error
	if err != nil {
		return 0, err
	}

	byStaff := make(map[int][]models.VerificationStatus)
	var order []int
	for _, v := range verifications {
		if _, ok := byStaff[v.StaffId]; !ok {
			order = append(order, v.StaffId)
		}
		byStaff[v.StaffId] = append(byStaff[v.StaffId], v.Status)
	}

	created := 0
	for _, staffId := range order {
		longest, ghostFlags := absenceRun(byStaff[staffId])
		if longest < d.Thresholds.ConsecutiveAbsences && ghostFlags == 0 {
			continue
		}
		if flagged[staffId] {
			continue
		}

		severity := models.SeverityHigh
		description := fmt.Sprintf(
			"Staff member has been marked absent in %d consecutive headcount verification sessions, indicating possible ghost employee.",
			longest)
		if ghostFlags > 0 {
			severity = models.SeverityCritical
			description = fmt.Sprintf(
				"Staff member was explicitly flagged as GHOST %d time(s) during headcount verifications. Additionally, they have been marked absent in %d consecutive verification sessions.",
				ghostFlags, longest)
		}
		now := d.now()
		err = d.create(ctx, Finding{
			StaffId:     staffId,
			Type:        models.DiscrepancyTypeGhostEmployee,
			Rule:        RuleConsecutiveAbsence,
			Severity:    severity,
			Description: description,
			IncidentAt:  &now,
		})
		if err != nil {
			d.logSkip("detectConsecutiveAbsences", staffId, err)
			continue
		}
		created++
	}
	return created, nil
}

func (d *GhostEmployeeDetector) detectFlaggedButPaid(ctx context.Context, flagged map[int]bool) (int, error) {
	var staff []models.Staff
	if err := d.db(ctx).Where("is_ghost = ?", true).Find(&staff).Error; err != nil {
		return 0, err
	}
	if len(staff) == 0 {
		return 0, nil
	}
	paid, err := d.recentPayments(ctx)
	if err != nil {
		return 0, err
	}

	created := 0
	for _, s := range staff {
		totals, ok := paid[s.ID]
		if !ok {
			continue
		}
		if flagged[s.ID] {
			continue
		}
		now := d.now()
		err = d.create(ctx, Finding{
			StaffId:  s.ID,
			Type:     models.DiscrepancyTypeGhostEmployee,
			Rule:     RuleFlaggedButPaid,
			Severity: models.SeverityCritical,
			Description: fmt.Sprintf(
				"Staff member is flagged as GHOST in the system (is_ghost=true) but has received %d payments totaling GHS %s in the past %d months. Payments should be stopped immediately.",
				totals.count, utils.FormatMoney(totals.total), d.Thresholds.PaymentLookbackMonths),
			IncidentAt: &now,
		})
		if err != nil {
			d.logSkip("detectFlaggedButPaid", s.ID, err)
			continue
		}
		created++
	}
	return created, nil
}

func (d *GhostEmployeeDetector) Statistics(ctx context.Context) (GhostStatistics, error) {
	var stats GhostStatistics
	var err error
	stats.TotalGhostDiscrepancies, stats.OpenGhostDiscrepancies, stats.ResolvedGhostCases, err =
		countByStatus(ctx, d.DB, models.DiscrepancyTypeGhostEmployee)
	if err != nil {
		return stats, err
	}
	if err := d.db(ctx).Model(&models.Staff{}).Where("is_ghost = ?", true).Count(&stats.StaffFlaggedAsGhost).Error; err != nil {
		return stats, err
	}
	err = d.db(ctx).Model(&models.Staff{}).
		Where("is_ghost = ?", true).
		Where("EXISTS (SELECT 1 FROM monthly_payments mp WHERE mp.staff_id = staff.id AND mp.deleted_at IS NULL AND mp.payment_date >= ? AND mp.payment_status <> ?)",
			d.lookbackStart(), models.PaymentStatusFailed).
		Count(&stats.GhostsStillPaid).Error
	return stats, err
}
