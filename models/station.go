package models

import (
	"context"
	"time"

	"github.com/mmdatafocus/payroll_audit/geo"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// StationRadiusKm is the fallback acceptance radius when a station has no boundary polygon.
const StationRadiusKm = 5.0

type Station struct {
	ID                int                             `gorm:"primary_key" json:"id"`
	Name              string                          `gorm:"size:150;not null" json:"name"`
	Code              string                          `gorm:"size:30;uniqueIndex" json:"code"`
	Region            string                          `gorm:"size:100" json:"region"`
	Latitude          *float64                        `json:"latitude"`
	Longitude         *float64                        `json:"longitude"`
	GpsBoundary       datatypes.JSONType[[]geo.Point] `json:"gps_boundary"`
	ExpectedHeadcount int                             `gorm:"not null" json:"expected_headcount"`
	CreatedAt         time.Time                       `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt         time.Time                       `gorm:"autoUpdateTime" json:"updated_at"`
}

// Coordinates returns the station point when both latitude and longitude are set.
func (s *Station) Coordinates() (geo.Point, bool) {
	if s == nil || s.Latitude == nil || s.Longitude == nil {
		return geo.Point{}, false
	}
	return geo.Point{Latitude: *s.Latitude, Longitude: *s.Longitude}, true
}

// ValidateGPSLocation checks the boundary polygon when one exists, else the fallback radius.
// A station with neither cannot validate anything.
func (s *Station) ValidateGPSLocation(p geo.Point) bool {
	if boundary := s.GpsBoundary.Data(); len(boundary) >= 3 {
		return geo.InPolygon(p, boundary)
	}
	centre, ok := s.Coordinates()
	if !ok {
		return false
	}
	return geo.HaversineKm(centre, p) <= StationRadiusKm
}

// ActualHeadcount counts active staff currently assigned to the station.
func (s *Station) ActualHeadcount(ctx context.Context, db *gorm.DB) (int64, error) {
	var n int64
	err := db.WithContext(ctx).Model(&Staff{}).
		Where("station_id = ? AND is_active = ?", s.ID, true).
		Count(&n).Error
	return n, err
}
