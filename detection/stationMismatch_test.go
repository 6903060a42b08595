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

const (
	accraLat = 5.6037
	accraLng = -0.1870
)

// roughly 111.2 km per degree of latitude
func located(latOffset float64) *models.VerificationLocation {
	return &models.VerificationLocation{
		Latitude:  testutil.Float(accraLat + latOffset),
		Longitude: testutil.Float(accraLng),
	}
}

func TestStationDistanceThreshold(t *testing.T) {
	db := testutil.NewDB(t)
	station := testutil.CreateStation(t, db, "Accra Central", accraLat, accraLng)
	near := testutil.CreateStaff(t, db, testutil.WithStation(station.ID))
	far := testutil.CreateStaff(t, db, testutil.WithStation(station.ID), testutil.WithName("Esi", "Asante"))
	session := testutil.CreateSession(t, db, "June headcount", models.HeadcountSessionStatusInProgress)
	testutil.CreateVerification(t, db, session.ID, near.ID, models.VerificationStatusPresent, day(time.June, 10), located(0.0405))
	testutil.CreateVerification(t, db, session.ID, far.ID, models.VerificationStatusPresent, day(time.June, 10), located(0.405))

	d := detection.NewStationMismatchDetector(newDeps(db))
	if n := mustDetect(t, d.Detect); n != 1 {
		t.Fatalf("created %d findings, want 1", n)
	}
	f := findings(t, db, models.DiscrepancyTypeStationMismatch)[0]
	if f.StaffId != far.ID || f.Severity != models.SeverityHigh {
		t.Fatalf("unexpected finding %+v", f)
	}
	for _, want := range []string{"Esi Asante", "45.0", "Accra Central", "June headcount", "5.0 km"} {
		if !strings.Contains(f.Description, want) {
			t.Fatalf("description missing %q: %q", want, f.Description)
		}
	}
	if f.IncidentAt == nil || !f.IncidentAt.Equal(day(time.June, 10)) {
		t.Fatalf("incident_at = %v", f.IncidentAt)
	}
}

func TestStationMismatchDedupIsPerIncident(t *testing.T) {
	db := testutil.NewDB(t)
	station := testutil.CreateStation(t, db, "Kumasi", accraLat, accraLng)
	staff := testutil.CreateStaff(t, db, testutil.WithStation(station.ID))
	first := testutil.CreateSession(t, db, "May", models.HeadcountSessionStatusCompleted)
	testutil.CreateVerification(t, db, first.ID, staff.ID, models.VerificationStatusPresent, day(time.May, 5), located(0.2))

	d := detection.NewStationMismatchDetector(newDeps(db))
	if n := mustDetect(t, d.Detect); n != 1 {
		t.Fatalf("created %d findings, want 1", n)
	}
	if n := mustDetect(t, d.Detect); n != 0 {
		t.Fatalf("rerun created %d findings", n)
	}

	// a dismissed finding still covers its own incident window
	f := findings(t, db, models.DiscrepancyTypeStationMismatch)[0]
	if err := f.Dismiss(context.Background(), db, 1, "field trip"); err != nil {
		t.Fatalf("dismiss: %v", err)
	}
	if n := mustDetect(t, d.Detect); n != 0 {
		t.Fatalf("dismissed incident re-reported %d times", n)
	}

	second := testutil.CreateSession(t, db, "June", models.HeadcountSessionStatusCompleted)
	testutil.CreateVerification(t, db, second.ID, staff.ID, models.VerificationStatusPresent, day(time.June, 5), located(0.2))
	if n := mustDetect(t, d.Detect); n != 1 {
		t.Fatalf("new incident created %d findings, want 1", n)
	}

	stats, err := d.Statistics(context.Background())
	if err != nil {
		t.Fatalf("statistics: %v", err)
	}
	if stats.TotalStationMismatches != 2 || stats.OpenStationMismatches != 1 || stats.StaffWithStationMismatch != 1 {
		t.Fatalf("unexpected stats %+v", stats)
	}
}

func TestStationMismatchSkipsMissingCoordinates(t *testing.T) {
	db := testutil.NewDB(t)
	unmapped := &models.Station{Name: "Unmapped", Code: "UNM"}
	if err := db.Create(unmapped).Error; err != nil {
		t.Fatalf("create station: %v", err)
	}
	mapped := testutil.CreateStation(t, db, "Tema", accraLat, accraLng)
	a := testutil.CreateStaff(t, db, testutil.WithStation(unmapped.ID))
	b := testutil.CreateStaff(t, db, testutil.WithStation(mapped.ID))
	c := testutil.CreateStaff(t, db)
	session := testutil.CreateSession(t, db, "June", models.HeadcountSessionStatusInProgress)
	testutil.CreateVerification(t, db, session.ID, a.ID, models.VerificationStatusPresent, day(time.June, 1), located(1))
	testutil.CreateVerification(t, db, session.ID, b.ID, models.VerificationStatusPresent, day(time.June, 1), nil)
	testutil.CreateVerification(t, db, session.ID, c.ID, models.VerificationStatusPresent, day(time.June, 1), located(1))

	d := detection.NewStationMismatchDetector(newDeps(db))
	if n := mustDetect(t, d.Detect); n != 0 {
		t.Fatalf("created %d findings, want 0", n)
	}
}
