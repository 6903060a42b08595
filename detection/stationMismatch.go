package detection

import (
	"context"
	"fmt"

	"github.com/mmdatafocus/payroll_audit/geo"
	"github.com/mmdatafocus/payroll_audit/models"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

// StationMismatchDetector compares where staff were verified against their assigned station.
type StationMismatchDetector struct {
	base
}

func NewStationMismatchDetector(deps Deps) *StationMismatchDetector {
	return &StationMismatchDetector{base{deps}}
}

type StationMismatchStatistics struct {
	TotalStationMismatches    int64 `json:"total_station_mismatch_discrepancies"`
	OpenStationMismatches     int64 `json:"open_station_mismatch_discrepancies"`
	CriticalStationMismatches int64 `json:"critical_station_mismatches"`
	StaffWithStationMismatch  int64 `json:"staff_with_station_mismatches"`
}

func (d *StationMismatchDetector) Detect(ctx context.Context) (int, error) {
	ctx, span := d.startSpan(ctx, "detect.station_mismatch")
	defer span.End()

	var verifications []models.HeadcountVerification
	err := d.db(ctx).
		Preload("Session").
		Preload("Staff.Station").
		Where("location IS NOT NULL").
		Order("verified_at").
		Order("id").
		Find(&verifications).Error
	if err != nil {
		span.RecordError(err)
		return 0, err
	}

	created := 0
	window := d.Thresholds.StationDedupWindow
	for i := range verifications {
		v := &verifications[i]
		if v.Staff == nil || v.Staff.Station == nil {
			continue
		}
		verifiedAt, ok := v.Location.Data().Point()
		if !ok {
			continue
		}
		station := v.Staff.Station
		stationAt, ok := station.Coordinates()
		if !ok {
			continue
		}

		distance := geo.HaversineKm(verifiedAt, stationAt)
		if distance <= d.Thresholds.StationMaxDistanceKm {
			continue
		}

		exists, err := d.existsForIncident(ctx, v.StaffId, models.DiscrepancyTypeStationMismatch,
			v.VerifiedAt.Add(-window), v.VerifiedAt.Add(window), true)
		if err != nil {
			d.logSkip("Detect", v.StaffId, err)
			continue
		}
		if exists {
			continue
		}

		sessionName := "an unknown"
		if v.Session != nil {
			sessionName = v.Session.Name
		}
		incident := v.VerifiedAt
		err = d.create(ctx, Finding{
			StaffId:  v.StaffId,
			Type:     models.DiscrepancyTypeStationMismatch,
			Rule:     RuleStationDistance,
			Severity: DistanceSeverity(distance),
			Description: fmt.Sprintf(
				"Staff member %s was verified at a location %.2f km away from their assigned station (%s). They were verified at GPS coordinates (%.6f, %.6f) during %s session, but their assigned station (%s) is located at (%.6f, %.6f). Maximum allowed distance is %.1f km.",
				v.Staff.FullName(), distance, station.Name,
				verifiedAt.Latitude, verifiedAt.Longitude, sessionName,
				station.Name, stationAt.Latitude, stationAt.Longitude,
				d.Thresholds.StationMaxDistanceKm),
			IncidentAt: &incident,
		})
		if err != nil {
			d.logSkip("Detect", v.StaffId, err)
			continue
		}
		created++
	}

	d.Logger.WithFields(logrus.Fields{"detector": "station_mismatch", "created": created}).Info("station mismatch detection finished")
	return created, nil
}

func (d *StationMismatchDetector) Statistics(ctx context.Context) (StationMismatchStatistics, error) {
	var stats StationMismatchStatistics
	var err error
	stats.TotalStationMismatches, stats.OpenStationMismatches, _, err =
		countByStatus(ctx, d.DB, models.DiscrepancyTypeStationMismatch)
	if err != nil {
		return stats, err
	}
	live := d.db(ctx).Model(&models.Discrepancy{}).
		Where("discrepancy_type = ? AND status <> ?", models.DiscrepancyTypeStationMismatch, models.DiscrepancyStatusDismissed)
	if err := live.Session(&gorm.Session{}).Where("severity = ?", models.SeverityCritical).Count(&stats.CriticalStationMismatches).Error; err != nil {
		return stats, err
	}
	err = live.Session(&gorm.Session{}).Distinct("staff_id").Count(&stats.StaffWithStationMismatch).Error
	return stats, err
}
