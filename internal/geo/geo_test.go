package geo

import (
	"math"
	"testing"
)

func TestDistanceKmSymmetry(t *testing.T) {
	cases := [][4]float64{
		{29.3759, 47.9774, 29.3117, 47.4818},
		{0, 0, 0, 0},
		{-33.8688, 151.2093, 51.5074, -0.1278},
		{29.33, 48.0, 29.34, 48.01},
	}
	for _, c := range cases {
		ab := DistanceKm(c[0], c[1], c[2], c[3])
		ba := DistanceKm(c[2], c[3], c[0], c[1])
		if math.Abs(ab-ba) > 1e-9 {
			t.Errorf("DistanceKm not symmetric: %v vs %v for %v", ab, ba, c)
		}
		if ab < 0 {
			t.Errorf("DistanceKm negative: %v for %v", ab, c)
		}
	}
}

func TestDistanceKmIdentity(t *testing.T) {
	if d := DistanceKm(29.3759, 47.9774, 29.3759, 47.9774); d != 0 {
		t.Errorf("expected zero distance to self, got %v", d)
	}
}

func TestDistanceKmKnownValue(t *testing.T) {
	// Kuwait City to Ahmadi, roughly 30 km.
	d := DistanceKm(29.3759, 47.9774, 29.0769, 48.0839)
	if d < 25 || d > 40 {
		t.Errorf("implausible distance: %v", d)
	}
}

func TestDistanceKmNaNPropagates(t *testing.T) {
	if d := DistanceKm(math.NaN(), 0, 0, 0); !math.IsNaN(d) {
		t.Errorf("expected NaN, got %v", d)
	}
}

func TestFormatDistance(t *testing.T) {
	cases := []struct {
		km   float64
		want string
	}{
		{math.NaN(), Unavailable},
		{math.Inf(1), Unavailable},
		{0.05, Under100m},
		{0.0999, Under100m},
		{0.1, "0.10 km"},
		{2.345, "2.35 km"},
		{12, "12.00 km"},
	}
	for _, c := range cases {
		if got := FormatDistance(c.km); got != c.want {
			t.Errorf("FormatDistance(%v) = %q, want %q", c.km, got, c.want)
		}
	}
}

func TestEstimateETA(t *testing.T) {
	cases := []struct {
		name     string
		km       float64
		speedMps float64
		want     string
	}{
		{"non-finite distance", math.NaN(), 5, Unavailable},
		{"at the door", 0.2, 0, ArrivingNow},
		{"slow gps falls back to assumed speed", 7, 1, "12 min"},
		{"fast gps speed is trusted", 10, 10, "17 min"}, // 36 km/h
		{"far away", 200, 0, OverThreeHrs},
	}
	for _, c := range cases {
		if got := EstimateETA(c.km, c.speedMps); got != c.want {
			t.Errorf("%s: EstimateETA(%v, %v) = %q, want %q", c.name, c.km, c.speedMps, got, c.want)
		}
	}
}

func TestSpeedKmh(t *testing.T) {
	if _, ok := SpeedKmh(0); ok {
		t.Error("zero speed should not be displayable")
	}
	if _, ok := SpeedKmh(-1); ok {
		t.Error("negative speed should not be displayable")
	}
	kmh, ok := SpeedKmh(10)
	if !ok || math.Abs(kmh-36) > 1e-9 {
		t.Errorf("SpeedKmh(10) = %v, %v; want 36, true", kmh, ok)
	}
}
