package geo

import (
	"math"
	"testing"
)

func TestHaversineKm(t *testing.T) {
	station := Point{Latitude: 5.56, Longitude: -0.21}
	tests := []struct {
		name    string
		p       Point
		wantMin float64
		wantMax float64
	}{
		{"same point", station, 0, 1e-9},
		{"near accra", Point{5.60, -0.20}, 4.4, 4.7},
		{"far north", Point{6.00, -0.20}, 48, 50},
		{"one degree of latitude", Point{6.56, -0.21}, 111.0, 111.4},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := HaversineKm(station, tt.p)
			if got < tt.wantMin || got > tt.wantMax {
				t.Fatalf("HaversineKm = %.4f, want in [%.2f, %.2f]", got, tt.wantMin, tt.wantMax)
			}
		})
	}
}

func TestHaversineSymmetric(t *testing.T) {
	a := Point{5.6037, -0.1870}
	b := Point{6.6885, -1.6244}
	if d := math.Abs(HaversineKm(a, b) - HaversineKm(b, a)); d > 1e-9 {
		t.Fatalf("distance not symmetric, diff %v", d)
	}
}

func TestInPolygon(t *testing.T) {
	square := []Point{{0, 0}, {0, 1}, {1, 1}, {1, 0}}
	tests := []struct {
		name string
		p    Point
		want bool
	}{
		{"centre", Point{0.5, 0.5}, true},
		{"outside east", Point{0.5, 1.5}, false},
		{"outside south", Point{-0.1, 0.5}, false},
		{"near corner inside", Point{0.99, 0.01}, true},
	}
	for _, tt := range tests {
		if got := InPolygon(tt.p, square); got != tt.want {
			t.Fatalf("%s: InPolygon = %v, want %v", tt.name, got, tt.want)
		}
	}
	if InPolygon(Point{0, 0}, square[:2]) {
		t.Fatal("degenerate polygon must contain nothing")
	}
}
