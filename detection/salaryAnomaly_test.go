package detection_test

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/mmdatafocus/payroll_audit/detection"
	"github.com/mmdatafocus/payroll_audit/models"
	"github.com/mmdatafocus/payroll_audit/testutil"
)

func TestSalaryOutsideGradeBand(t *testing.T) {
	db := testutil.NewDB(t)
	title := testutil.CreateGradedTitle(t, db, "2000", "3000")
	above := testutil.CreateStaff(t, db, testutil.WithJobTitle(title.ID), testutil.WithSalary("5000"))
	testutil.CreateStaff(t, db, testutil.WithJobTitle(title.ID), testutil.WithSalary("3500"))
	below := testutil.CreateStaff(t, db, testutil.WithJobTitle(title.ID), testutil.WithSalary("1500"))

	d := detection.NewSalaryAnomalyDetector(newDeps(db))
	if n := mustDetect(t, d.Detect); n != 2 {
		t.Fatalf("created %d findings, want 2", n)
	}
	rows := findings(t, db, models.DiscrepancyTypeSalaryAnomaly)
	byStaff := map[int]models.Discrepancy{}
	for _, f := range rows {
		byStaff[f.StaffId] = f
	}
	if f := byStaff[above.ID]; f.Severity != models.SeverityHigh || !strings.Contains(f.Description, "66.7% above") {
		t.Fatalf("above-band finding %+v", f)
	}
	if f := byStaff[below.ID]; f.Severity != models.SeverityLow || !strings.Contains(f.Description, "25.0% below") {
		t.Fatalf("below-band finding %+v", f)
	}
	if n := mustDetect(t, d.Detect); n != 0 {
		t.Fatalf("rerun created %d findings", n)
	}
}

func TestPaymentSpike(t *testing.T) {
	db := testutil.NewDB(t)
	staff := testutil.CreateStaff(t, db)
	testutil.CreatePayment(t, db, staff.ID, day(time.March, 10), "3000")
	testutil.CreatePayment(t, db, staff.ID, day(time.April, 10), "3000")
	testutil.CreatePayment(t, db, staff.ID, day(time.May, 10), "3000")
	testutil.CreatePayment(t, db, staff.ID, day(time.June, 10), "6000")

	d := detection.NewSalaryAnomalyDetector(newDeps(db))
	// the June mismatch falls in the month already covered by the spike
	if n := mustDetect(t, d.Detect); n != 1 {
		t.Fatalf("created %d findings, want 1", n)
	}
	f := findings(t, db, models.DiscrepancyTypeSalaryAnomaly)[0]
	if f.Rule != detection.RulePaymentSpike || f.Severity != models.SeverityHigh {
		t.Fatalf("unexpected finding %+v", f)
	}
	if !strings.Contains(f.Description, "June 2025") || !strings.Contains(f.Description, "100.0% higher") {
		t.Fatalf("description = %q", f.Description)
	}
}

func TestSpikeNeedsHistory(t *testing.T) {
	db := testutil.NewDB(t)
	staff := testutil.CreateStaff(t, db, testutil.WithSalary("9000"))
	testutil.CreatePayment(t, db, staff.ID, day(time.May, 10), "3000")
	testutil.CreatePayment(t, db, staff.ID, day(time.June, 10), "9000")

	d := detection.NewSalaryAnomalyDetector(newDeps(db))
	if n := mustDetect(t, d.Detect); n != 1 {
		t.Fatalf("created %d findings, want only the May mismatch", n)
	}
	f := findings(t, db, models.DiscrepancyTypeSalaryAnomaly)[0]
	if f.Rule != detection.RuleSalaryMismatch {
		t.Fatalf("rule = %q", f.Rule)
	}
}

func TestDuplicateNetAmounts(t *testing.T) {
	db := testutil.NewDB(t)
	for i := 0; i < 5; i++ {
		s := testutil.CreateStaff(t, db, testutil.WithSalary("2500"))
		testutil.CreatePayment(t, db, s.ID, day(time.June, 1), "2500")
	}
	for i := 0; i < 4; i++ {
		s := testutil.CreateStaff(t, db, testutil.WithSalary("2600"))
		testutil.CreatePayment(t, db, s.ID, day(time.June, 1), "2600")
	}

	d := detection.NewSalaryAnomalyDetector(newDeps(db))
	if n := mustDetect(t, d.Detect); n != 5 {
		t.Fatalf("created %d findings, want 5", n)
	}
	for _, f := range findings(t, db, models.DiscrepancyTypeSalaryAnomaly) {
		if f.Severity != models.SeverityMedium || f.Rule != detection.RuleDuplicateAmount {
			t.Fatalf("unexpected finding %+v", f)
		}
		if !strings.Contains(f.Description, "GHS 2,500.00") || !strings.Contains(f.Description, "4 other staff members") {
			t.Fatalf("description = %q", f.Description)
		}
	}
	stats, err := d.Statistics(context.Background())
	if err != nil {
		t.Fatalf("statistics: %v", err)
	}
	if stats.BySeverity[models.SeverityMedium] != 5 || stats.BySeverity[models.SeverityCritical] != 0 {
		t.Fatalf("unexpected stats %+v", stats)
	}
}

func TestSalaryMismatchPerMonth(t *testing.T) {
	db := testutil.NewDB(t)
	staff := testutil.CreateStaff(t, db, testutil.WithSalary("3000"))
	testutil.CreatePayment(t, db, staff.ID, day(time.May, 10), "4200")
	testutil.CreatePayment(t, db, staff.ID, day(time.June, 10), "1000")

	d := detection.NewSalaryAnomalyDetector(newDeps(db))
	if n := mustDetect(t, d.Detect); n != 2 {
		t.Fatalf("created %d findings, want 2", n)
	}
	rows := findings(t, db, models.DiscrepancyTypeSalaryAnomaly)
	if rows[0].Severity != models.SeverityMedium || !strings.Contains(rows[0].Description, "40.0% higher") {
		t.Fatalf("May finding %+v", rows[0])
	}
	if rows[1].Severity != models.SeverityHigh || !strings.Contains(rows[1].Description, "66.7% lower") {
		t.Fatalf("June finding %+v", rows[1])
	}
	if n := mustDetect(t, d.Detect); n != 0 {
		t.Fatalf("rerun created %d findings", n)
	}
}
