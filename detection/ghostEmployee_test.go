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

func day(month time.Month, d int) time.Time {
	return time.Date(2025, month, d, 9, 0, 0, 0, time.UTC)
}

func TestPaidButNeverVerifiedIsCritical(t *testing.T) {
	db := testutil.NewDB(t)
	staff := testutil.CreateStaff(t, db)
	for _, m := range []time.Month{time.March, time.April, time.May, time.June} {
		testutil.CreatePayment(t, db, staff.ID, day(m, 20-(int(m)-3)*5), "3000")
	}

	d := detection.NewGhostEmployeeDetector(newDeps(db))
	if n := mustDetect(t, d.Detect); n != 1 {
		t.Fatalf("created %d findings, want 1", n)
	}
	rows := findings(t, db, models.DiscrepancyTypeGhostEmployee)
	if len(rows) != 1 {
		t.Fatalf("stored %d findings, want 1", len(rows))
	}
	f := rows[0]
	if f.Severity != models.SeverityCritical || f.Status != models.DiscrepancyStatusOpen {
		t.Fatalf("unexpected finding %+v", f)
	}
	if !strings.Contains(f.Description, "4 monthly payments") || !strings.Contains(f.Description, "GHS 12,000.00") {
		t.Fatalf("description missing count or total: %q", f.Description)
	}
	if f.DetectedBy != testutil.SystemActor || !f.DetectedAt.Equal(testutil.Now) {
		t.Fatalf("detected_by/at not stamped: %+v", f)
	}
	if f.Rule != detection.RulePaymentWithoutVerification {
		t.Fatalf("rule = %q", f.Rule)
	}

	if n := mustDetect(t, d.Detect); n != 0 {
		t.Fatalf("second run created %d findings, want 0", n)
	}
}

func TestPaymentsOutsideLookbackAreIgnored(t *testing.T) {
	db := testutil.NewDB(t)
	staff := testutil.CreateStaff(t, db)
	testutil.CreatePayment(t, db, staff.ID, day(time.January, 20), "3000")
	verified := testutil.CreateStaff(t, db)
	testutil.CreatePayment(t, db, verified.ID, day(time.June, 1), "3000")
	session := testutil.CreateSession(t, db, "Q2", models.HeadcountSessionStatusCompleted)
	testutil.CreateVerification(t, db, session.ID, verified.ID, models.VerificationStatusPresent, day(time.May, 2), nil)

	d := detection.NewGhostEmployeeDetector(newDeps(db))
	if n := mustDetect(t, d.Detect); n != 0 {
		t.Fatalf("created %d findings, want 0", n)
	}
}

func TestConsecutiveAbsence(t *testing.T) {
	tests := []struct {
		name     string
		statuses []models.VerificationStatus
		want     int
		severity models.Severity
	}{
		{
			name:     "three absences in a row",
			statuses: []models.VerificationStatus{models.VerificationStatusPresent, models.VerificationStatusAbsent, models.VerificationStatusAbsent, models.VerificationStatusAbsent},
			want:     1,
			severity: models.SeverityHigh,
		},
		{
			name:     "run broken by leave",
			statuses: []models.VerificationStatus{models.VerificationStatusAbsent, models.VerificationStatusAbsent, models.VerificationStatusOnLeave, models.VerificationStatusAbsent},
			want:     0,
		},
		{
			name:     "single explicit ghost",
			statuses: []models.VerificationStatus{models.VerificationStatusPresent, models.VerificationStatusGhost},
			want:     1,
			severity: models.SeverityCritical,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			db := testutil.NewDB(t)
			staff := testutil.CreateStaff(t, db)
			for i, st := range tt.statuses {
				session := testutil.CreateSession(t, db, tt.name, models.HeadcountSessionStatusCompleted)
				testutil.CreateVerification(t, db, session.ID, staff.ID, st, day(time.January, 1).AddDate(0, i, 0), nil)
			}

			d := detection.NewGhostEmployeeDetector(newDeps(db))
			if n := mustDetect(t, d.Detect); n != tt.want {
				t.Fatalf("created %d findings, want %d", n, tt.want)
			}
			if tt.want == 0 {
				return
			}
			f := findings(t, db, models.DiscrepancyTypeGhostEmployee)[0]
			if f.Severity != tt.severity || f.Rule != detection.RuleConsecutiveAbsence {
				t.Fatalf("unexpected finding %+v", f)
			}
		})
	}
}

func TestInactiveStaffSkipsVerificationChecks(t *testing.T) {
	db := testutil.NewDB(t)
	staff := testutil.CreateStaff(t, db, testutil.Inactive())
	testutil.CreatePayment(t, db, staff.ID, day(time.May, 30), "3000")

	d := detection.NewGhostEmployeeDetector(newDeps(db))
	if n := mustDetect(t, d.Detect); n != 0 {
		t.Fatalf("created %d findings for inactive staff", n)
	}
}

func TestFlaggedGhostStillPaid(t *testing.T) {
	db := testutil.NewDB(t)
	staff := testutil.CreateStaff(t, db, testutil.AsGhost("not found at station"))
	session := testutil.CreateSession(t, db, "Q1", models.HeadcountSessionStatusCompleted)
	testutil.CreateVerification(t, db, session.ID, staff.ID, models.VerificationStatusPresent, day(time.February, 2), nil)
	testutil.CreatePayment(t, db, staff.ID, day(time.May, 28), "2500")
	testutil.CreatePayment(t, db, staff.ID, day(time.June, 1), "2500")

	d := detection.NewGhostEmployeeDetector(newDeps(db))
	if n := mustDetect(t, d.Detect); n != 1 {
		t.Fatalf("created %d findings, want 1", n)
	}
	f := findings(t, db, models.DiscrepancyTypeGhostEmployee)[0]
	if f.Rule != detection.RuleFlaggedButPaid || f.Severity != models.SeverityCritical {
		t.Fatalf("unexpected finding %+v", f)
	}
	if !strings.Contains(f.Description, "GHS 5,000.00") || !strings.Contains(f.Description, "Payments should be stopped immediately") {
		t.Fatalf("description = %q", f.Description)
	}

	stats, err := d.Statistics(context.Background())
	if err != nil {
		t.Fatalf("statistics: %v", err)
	}
	if stats.StaffFlaggedAsGhost != 1 || stats.GhostsStillPaid != 1 || stats.OpenGhostDiscrepancies != 1 {
		t.Fatalf("unexpected stats %+v", stats)
	}
}

func TestGhostSubChecksEachReportOnce(t *testing.T) {
	db := testutil.NewDB(t)
	staff := testutil.CreateStaff(t, db, testutil.AsGhost("manual"))
	testutil.CreatePayment(t, db, staff.ID, day(time.June, 1), "3000")

	d := detection.NewGhostEmployeeDetector(newDeps(db))
	if n := mustDetect(t, d.Detect); n != 2 {
		t.Fatalf("created %d findings, want 2 (never verified, flagged but paid)", n)
	}
	if n := mustDetect(t, d.Detect); n != 0 {
		t.Fatalf("rerun created %d findings", n)
	}
}

func TestDismissedFindingDoesNotBlockRedetection(t *testing.T) {
	db := testutil.NewDB(t)
	staff := testutil.CreateStaff(t, db)
	testutil.CreatePayment(t, db, staff.ID, day(time.June, 1), "3000")

	d := detection.NewGhostEmployeeDetector(newDeps(db))
	mustDetect(t, d.Detect)
	first := findings(t, db, models.DiscrepancyTypeGhostEmployee)[0]
	if err := first.Dismiss(context.Background(), db, 1, "payroll error"); err != nil {
		t.Fatalf("dismiss: %v", err)
	}
	if n := mustDetect(t, d.Detect); n != 1 {
		t.Fatalf("created %d findings after dismissal, want 1", n)
	}
}

func TestExistingGhostFindingBlocksEverySubCheck(t *testing.T) {
	db := testutil.NewDB(t)
	staff := testutil.CreateStaff(t, db, testutil.AsGhost("not found at station"))
	testutil.CreatePayment(t, db, staff.ID, day(time.June, 1), "3000")
	session := testutil.CreateSession(t, db, "Q2", models.HeadcountSessionStatusCompleted)
	testutil.CreateVerification(t, db, session.ID, staff.ID, models.VerificationStatusGhost, day(time.May, 2), nil)
	testutil.CreateDiscrepancy(t, db, staff.ID, models.DiscrepancyTypeGhostEmployee, models.SeverityCritical,
		models.DiscrepancyStatusUnderReview, day(time.May, 2))

	d := detection.NewGhostEmployeeDetector(newDeps(db))
	if n := mustDetect(t, d.Detect); n != 0 {
		t.Fatalf("created %d findings, want 0", n)
	}
	if rows := findings(t, db, models.DiscrepancyTypeGhostEmployee); len(rows) != 1 {
		t.Fatalf("stored %d ghost findings, want 1", len(rows))
	}
}
