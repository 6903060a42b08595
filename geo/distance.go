// Package geo holds the great-circle and polygon helpers used by station checks.
package geo

import "math"

const EarthRadiusKm = 6371.0

type Point struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
}

// HaversineKm returns the great-circle distance between two points in kilometres.
func HaversineKm(a, b Point) float64 {
	lat1 := toRadians(a.Latitude)
	lat2 := toRadians(b.Latitude)
	dLat := toRadians(b.Latitude - a.Latitude)
	dLon := toRadians(b.Longitude - a.Longitude)

	h := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(lat1)*math.Cos(lat2)*math.Sin(dLon/2)*math.Sin(dLon/2)
	c := 2 * math.Atan2(math.Sqrt(h), math.Sqrt(1-h))
	return EarthRadiusKm * c
}

// InPolygon reports whether p lies inside the polygon (ray casting).
// Polygons with fewer than three vertices contain nothing.
func InPolygon(p Point, polygon []Point) bool {
	n := len(polygon)
	if n < 3 {
		return false
	}
	inside := false
	for i, j := 0, n-1; i < n; j, i = i, i+1 {
		xi, yi := polygon[i].Latitude, polygon[i].Longitude
		xj, yj := polygon[j].Latitude, polygon[j].Longitude
		if (yi > p.Longitude) != (yj > p.Longitude) &&
			p.Latitude < (xj-xi)*(p.Longitude-yi)/(yj-yi)+xi {
			inside = !inside
		}
	}
	return inside
}

func toRadians(deg float64) float64 {
	return deg * math.Pi / 180
}
