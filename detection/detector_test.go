package detection_test

import (
	"context"
	"testing"

	"github.com/mmdatafocus/payroll_audit/detection"
	"github.com/mmdatafocus/payroll_audit/models"
	"github.com/mmdatafocus/payroll_audit/testutil"
	"github.com/mmdatafocus/payroll_audit/utils"
	"gorm.io/gorm"
)

func newDeps(db *gorm.DB) detection.Deps {
	return detection.Deps{
		DB:            db,
		Logger:        testutil.Logger(),
		Clock:         utils.NewFixedClock(testutil.Now),
		SystemActorId: testutil.SystemActor,
		Thresholds:    detection.DefaultThresholds(),
	}
}

func findings(t *testing.T, db *gorm.DB, typ models.DiscrepancyType) []models.Discrepancy {
	t.Helper()
	var rows []models.Discrepancy
	if err := db.Where("discrepancy_type = ?", typ).Order("id").Find(&rows).Error; err != nil {
		t.Fatalf("load findings: %v", err)
	}
	return rows
}

func mustDetect(t *testing.T, detect func(context.Context) (int, error)) int {
	t.Helper()
	n, err := detect(context.Background())
	if err != nil {
		t.Fatalf("detect: %v", err)
	}
	return n
}

func TestSeverityBucketsAreMonotonic(t *testing.T) {
	prev := 0
	for pct := 0.0; pct <= 300; pct += 0.5 {
		p := detection.DeviationSeverity(pct).Priority()
		if p < prev {
			t.Fatalf("deviation %.1f%% dropped priority to %d", pct, p)
		}
		prev = p
	}
	prev = 0
	for km := 0.0; km <= 200; km += 0.25 {
		p := detection.DistanceSeverity(km).Priority()
		if p < prev {
			t.Fatalf("distance %.2fkm dropped priority to %d", km, p)
		}
		prev = p
	}
}

func TestSeverityBucketEdges(t *testing.T) {
	tests := []struct {
		name string
		got  models.Severity
		want models.Severity
	}{
		{"deviation 30 is low", detection.DeviationSeverity(30), models.SeverityLow},
		{"deviation 30.1 is medium", detection.DeviationSeverity(30.1), models.SeverityMedium},
		{"deviation 50 is medium", detection.DeviationSeverity(50), models.SeverityMedium},
		{"deviation 100 is high", detection.DeviationSeverity(100), models.SeverityHigh},
		{"deviation 100.5 is critical", detection.DeviationSeverity(100.5), models.SeverityCritical},
		{"distance 10 is low", detection.DistanceSeverity(10), models.SeverityLow},
		{"distance 15 is medium", detection.DistanceSeverity(15), models.SeverityMedium},
		{"distance 45 is high", detection.DistanceSeverity(45), models.SeverityHigh},
		{"distance 51 is critical", detection.DistanceSeverity(51), models.SeverityCritical},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.got != tt.want {
				t.Fatalf("got %s, want %s", tt.got, tt.want)
			}
		})
	}
}

func TestThresholdsFromEnv(t *testing.T) {
	t.Setenv("DETECT_CONSECUTIVE_ABSENCES", "5")
	t.Setenv("DETECT_STATION_MAX_DISTANCE_KM", "7.5")
	t.Setenv("DETECT_DUPLICATE_AMOUNT_HIGH", "25")
	t.Setenv("DETECT_SALARY_MISMATCH_HIGH_PCT", "75.5")
	t.Setenv("DETECT_SPIKE_MIN_HISTORY", "not-a-number")
	got := detection.ThresholdsFromEnv()
	if got.ConsecutiveAbsences != 5 || got.StationMaxDistanceKm != 7.5 {
		t.Fatalf("overrides not applied: %+v", got)
	}
	if got.DuplicateAmountHigh != 25 || got.SalaryMismatchHighPct != 75.5 {
		t.Fatalf("high-band overrides not applied: %+v", got)
	}
	if got.PaymentLookbackMonths != 3 || got.SpikeThresholdPct != 50 || got.SpikeMinHistory != 3 {
		t.Fatalf("defaults lost: %+v", got)
	}
}
