package detection

import (
	"context"
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/mmdatafocus/payroll_audit/models"
	"github.com/mmdatafocus/payroll_audit/utils"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
)

// SalaryAnomalyDetector checks salaries against grade bands and payment history.
type SalaryAnomalyDetector struct {
	base
}

func NewSalaryAnomalyDetector(deps Deps) *SalaryAnomalyDetector {
	return &SalaryAnomalyDetector{base{deps}}
}

type SalaryAnomalyStatistics struct {
	TotalSalaryAnomalies int64                     `json:"total_salary_anomalies"`
	OpenSalaryAnomalies  int64                     `json:"open_salary_anomalies"`
	BySeverity           map[models.Severity]int64 `json:"by_severity"`
}

func (d *SalaryAnomalyDetector) Detect(ctx context.Context) (int, error) {
	ctx, span := d.startSpan(ctx, "detect.salary_anomaly")
	defer span.End()

	created := 0
	checks := []func(context.Context) (int, error){
		d.detectGradeRangeViolations,
		d.detectPaymentSpikes,
		d.detectDuplicateAmounts,
		d.detectSalaryMismatches,
	}
	for _, check := range checks {
		n, err := check(ctx)
		created += n
		if err != nil {
			span.RecordError(err)
			return created, err
		}
	}
	d.Logger.WithFields(logrus.Fields{"detector": "salary_anomaly", "created": created}).Info("salary anomaly detection finished")
	return created, nil
}

func pct(part, whole decimal.Decimal) float64 {
	return part.Div(whole).Mul(decimal.NewFromInt(100)).InexactFloat64()
}

func (d *SalaryAnomalyDetector) detectGradeRangeViolations(ctx context.Context) (int, error) {
	var staff []models.Staff
	err := d.db(ctx).Preload("JobTitle.JobGrade").
		Where("is_active = ? AND job_title_id IS NOT NULL", true).
		Order("id").
		Find(&staff).Error
	if err != nil {
		return 0, err
	}

	tolerance := decimal.NewFromFloat(d.Thresholds.GradeTolerancePct).Div(decimal.NewFromInt(100))
	one := decimal.NewFromInt(1)
	created := 0
	for i := range staff {
		s := &staff[i]
		if s.JobTitle == nil || s.JobTitle.JobGrade == nil {
			continue
		}
		grade := s.JobTitle.JobGrade
		salary := s.CurrentSalary
		minAcceptable := grade.MinSalary.Mul(one.Sub(tolerance))
		maxAcceptable := grade.MaxSalary.Mul(one.Add(tolerance))
		if salary.GreaterThanOrEqual(minAcceptable) && salary.LessThanOrEqual(maxAcceptable) {
			continue
		}

		var deviation float64
		var direction string
		switch {
		case salary.LessThan(minAcceptable) && grade.MinSalary.IsPositive():
			deviation = pct(grade.MinSalary.Sub(salary), grade.MinSalary)
			direction = "below"
		case salary.GreaterThan(maxAcceptable) && grade.MaxSalary.IsPositive():
			deviation = pct(salary.Sub(grade.MaxSalary), grade.MaxSalary)
			direction = "above"
		default:
			continue
		}

		exists, err := d.exists(ctx, s.ID, models.DiscrepancyTypeSalaryAnomaly)
		if err != nil {
			d.logSkip("detectGradeRangeViolations", s.ID, err)
			continue
		}
		if exists {
			continue
		}
		now := d.now()
		err = d.create(ctx, Finding{
			StaffId:  s.ID,
			Type:     models.DiscrepancyTypeSalaryAnomaly,
			Rule:     RuleGradeRange,
			Severity: DeviationSeverity(deviation),
			Description: fmt.Sprintf(
				"Staff member's current salary (GHS %s) is %.1f%% %s the expected range for their job grade \"%s\" (GHS %s - GHS %s). This may indicate a data entry error or unauthorized salary adjustment.",
				utils.FormatMoney(salary), deviation, direction, grade.Name,
				utils.FormatMoney(grade.MinSalary), utils.FormatMoney(grade.MaxSalary)),
			IncidentAt: &now,
		})
		if err != nil {
			d.logSkip("detectGradeRangeViolations", s.ID, err)
			continue
		}
		created++
	}
	return created, nil
}

// paymentsSince loads non-failed payments dated on or after from, newest first per staff.
func (d *SalaryAnomalyDetector) paymentsSince(ctx context.Context, from time.Time) ([]models.MonthlyPayment, error) {
	var payments []models.MonthlyPayment
	err := d.db(ctx).
		Where("payment_date >= ? AND payment_status <> ?", from, models.PaymentStatusFailed).
		Order("staff_id").
		Order("payment_date DESC").
		Order("id DESC").
		Find(&payments).Error
	return payments, err
}

// existsForMonth is the month-scoped key used by the spike and mismatch rules.
func (d *SalaryAnomalyDetector) existsForMonth(ctx context.Context, staffId int, p *models.MonthlyPayment) (bool, error) {
	return d.existsForIncident(ctx, staffId, models.DiscrepancyTypeSalaryAnomaly,
		utils.StartOfMonth(p.PaymentMonth), utils.EndOfMonth(p.PaymentMonth), false)
}

func (d *SalaryAnomalyDetector) detectPaymentSpikes(ctx context.Context) (int, error) {
	minHistory := d.Thresholds.SpikeMinHistory
	payments, err := d.paymentsSince(ctx, d.now().AddDate(0, -(minHistory+1), 0))
	if err != nil {
		return 0, err
	}

	byStaff := make(map[int][]*models.MonthlyPayment)
	var order []int
	for i := range payments {
		p := &payments[i]
		if _, ok := byStaff[p.StaffId]; !ok {
			order = append(order, p.StaffId)
		}
		byStaff[p.StaffId] = append(byStaff[p.StaffId], p)
	}

	created := 0
	for _, staffId := range order {
		history := byStaff[staffId]
		if len(history) < minHistory || len(history) < 2 {
			continue
		}
		latest, previous := history[0], history[1:]
		sum := decimal.Zero
		for _, p := range previous {
			sum = sum.Add(p.NetAmount)
		}
		average := sum.Div(decimal.NewFromInt(int64(len(previous))))
		if !average.IsPositive() {
			continue
		}
		increase := pct(latest.NetAmount.Sub(average), average)
		if increase <= d.Thresholds.SpikeThresholdPct {
			continue
		}

		exists, err := d.existsForMonth(ctx, staffId, latest)
		if err != nil {
			d.logSkip("detectPaymentSpikes", staffId, err)
			continue
		}
		if exists {
			continue
		}
		incident := utils.StartOfMonth(latest.PaymentMonth)
		err = d.create(ctx, Finding{
			StaffId:  staffId,
			Type:     models.DiscrepancyTypeSalaryAnomaly,
			Rule:     RulePaymentSpike,
			Severity: DeviationSeverity(increase),
			Description: fmt.Sprintf(
				"Staff member received a payment of GHS %s in %s, which is %.1f%% higher than their average payment of GHS %s over the previous %d months. This sudden spike requires investigation.",
				utils.FormatMoney(latest.NetAmount), latest.PaymentMonth.Format("January 2006"),
				increase, utils.FormatMoney(average), len(previous)),
			IncidentAt: &incident,
		})
		if err != nil {
			d.logSkip("detectPaymentSpikes", staffId, err)
			continue
		}
		created++
	}
	return created, nil
}

func (d *SalaryAnomalyDetector) detectDuplicateAmounts(ctx context.Context) (int, error) {
	payments, err := d.paymentsSince(ctx, d.lookbackStart())
	if err != nil {
		return 0, err
	}

	type group struct {
		amount   decimal.Decimal
		staffIds []int
		seen     map[int]bool
	}
	groups := make(map[string]*group)
	for _, p := range payments {
		if !p.NetAmount.IsPositive() {
			continue
		}
		key := p.NetAmount.StringFixed(2)
		g, ok := groups[key]
		if !ok {
			g = &group{amount: p.NetAmount, seen: make(map[int]bool)}
			groups[key] = g
		}
		if !g.seen[p.StaffId] {
			g.seen[p.StaffId] = true
			g.staffIds = append(g.staffIds, p.StaffId)
		}
	}

	keys := make([]string, 0, len(groups))
	var ids []int
	for k, g := range groups {
		if len(g.staffIds) >= d.Thresholds.DuplicateAmountMinStaff {
			keys = append(keys, k)
			ids = append(ids, g.staffIds...)
		}
	}
	if len(keys) == 0 {
		return 0, nil
	}
	sort.Strings(keys)
	staff, err := d.loadStaff(ctx, ids)
	if err != nil {
		return 0, err
	}

	created := 0
	for _, k := range keys {
		g := groups[k]
		severity := models.SeverityMedium
		if len(g.staffIds) >= d.Thresholds.DuplicateAmountHigh {
			severity = models.SeverityHigh
		}
		for _, staffId := range g.staffIds {
			if _, ok := staff[staffId]; !ok {
				continue
			}
			exists, err := d.exists(ctx, staffId, models.DiscrepancyTypeSalaryAnomaly)
			if err != nil {
				d.logSkip("detectDuplicateAmounts", staffId, err)
				continue
			}
			if exists {
				continue
			}
			now := d.now()
			err = d.create(ctx, Finding{
				StaffId:  staffId,
				Type:     models.DiscrepancyTypeSalaryAnomaly,
				Rule:     RuleDuplicateAmount,
				Severity: severity,
				Description: fmt.Sprintf(
					"Staff member received a payment of exactly GHS %s, which is identical to payments received by %d other staff members. This pattern may indicate systematic error, template usage, or fraudulent activity requiring investigation.",
					utils.FormatMoney(g.amount), len(g.staffIds)-1),
				IncidentAt: &now,
			})
			if err != nil {
				d.logSkip("detectDuplicateAmounts", staffId, err)
				continue
			}
			created++
		}
	}
	return created, nil
}

func (d *SalaryAnomalyDetector) detectSalaryMismatches(ctx context.Context) (int, error) {
	payments, err := d.paymentsSince(ctx, d.lookbackStart())
	if err != nil {
		return 0, err
	}
	// oldest month first so repeated months surface in calendar order
	sort.SliceStable(payments, func(i, j int) bool {
		if payments[i].StaffId != payments[j].StaffId {
			return payments[i].StaffId < payments[j].StaffId
		}
		return payments[i].PaymentDate.Before(payments[j].PaymentDate)
	})
	ids := make([]int, 0, len(payments))
	for _, p := range payments {
		ids = append(ids, p.StaffId)
	}
	staff, err := d.loadStaff(ctx, utils.UniqueSlice(ids))
	if err != nil {
		return 0, err
	}

	created := 0
	for i := range payments {
		p := &payments[i]
		s, ok := staff[p.StaffId]
		if !ok || !s.CurrentSalary.IsPositive() {
			continue
		}
		expected := s.CurrentSalary
		difference := math.Abs(pct(p.NetAmount.Sub(expected), expected))
		if difference <= d.Thresholds.SalaryMismatchPct {
			continue
		}

		exists, err := d.existsForMonth(ctx, s.ID, p)
		if err != nil {
			d.logSkip("detectSalaryMismatches", s.ID, err)
			continue
		}
		if exists {
			continue
		}
		direction := "lower"
		if p.NetAmount.GreaterThan(expected) {
			direction = "higher"
		}
		severity := models.SeverityMedium
		if difference > d.Thresholds.SalaryMismatchHighPct {
			severity = models.SeverityHigh
		}
		incident := utils.StartOfMonth(p.PaymentMonth)
		err = d.create(ctx, Finding{
			StaffId:  s.ID,
			Type:     models.DiscrepancyTypeSalaryAnomaly,
			Rule:     RuleSalaryMismatch,
			Severity: severity,
			Description: fmt.Sprintf(
				"Staff member received a payment of GHS %s in %s, which is %.1f%% %s than their expected salary of GHS %s. This significant mismatch requires verification.",
				utils.FormatMoney(p.NetAmount), p.PaymentMonth.Format("January 2006"),
				difference, direction, utils.FormatMoney(expected)),
			IncidentAt: &incident,
		})
		if err != nil {
			d.logSkip("detectSalaryMismatches", s.ID, err)
			continue
		}
		created++
	}
	return created, nil
}

func (d *SalaryAnomalyDetector) Statistics(ctx context.Context) (SalaryAnomalyStatistics, error) {
	stats := SalaryAnomalyStatistics{BySeverity: make(map[models.Severity]int64)}
	var err error
	stats.TotalSalaryAnomalies, stats.OpenSalaryAnomalies, _, err =
		countByStatus(ctx, d.DB, models.DiscrepancyTypeSalaryAnomaly)
	if err != nil {
		return stats, err
	}
	type row struct {
		Severity models.Severity
		N        int64
	}
	var rows []row
	err = d.db(ctx).Model(&models.Discrepancy{}).
		Select("severity, COUNT(*) AS n").
		Where("discrepancy_type = ? AND status <> ?", models.DiscrepancyTypeSalaryAnomaly, models.DiscrepancyStatusDismissed).
		Group("severity").
		Scan(&rows).Error
	if err != nil {
		return stats, err
	}
	for _, sev := range models.AllSeverities {
		stats.BySeverity[sev] = 0
	}
	for _, r := range rows {
		stats.BySeverity[r.Severity] = r.N
	}
	return stats, nil
}
