package geo

import (
	"fmt"
	"math"
)

const earthRadiusKm = 6371

// Display sentinels for distance and ETA formatting.
const (
	Unavailable   = "unavailable"
	Under100m     = "under 100 meters"
	ArrivingNow   = "arriving now"
	OverThreeHrs  = "over 3 hours"
	assumedKmh    = 35
	minGpsKmh     = 8
	mpsToKmh      = 3.6
	nearThreshold = 0.1
)

// DistanceKm returns the great-circle distance between two coordinates
// using the haversine formula. NaN inputs propagate to the result.
func DistanceKm(lat1, lng1, lat2, lng2 float64) float64 {
	dLat := toRad(lat2 - lat1)
	dLng := toRad(lng2 - lng1)

	a := math.Pow(math.Sin(dLat/2), 2) +
		math.Cos(toRad(lat1))*math.Cos(toRad(lat2))*math.Pow(math.Sin(dLng/2), 2)

	return 2 * earthRadiusKm * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))
}

// FormatDistance renders a distance for display.
func FormatDistance(km float64) string {
	if math.IsNaN(km) || math.IsInf(km, 0) {
		return Unavailable
	}
	if km < nearThreshold {
		return Under100m
	}
	return fmt.Sprintf("%.2f km", km)
}

// EstimateETA renders an arrival estimate from a distance and a raw
// GPS speed in m/s. GPS speed is trusted only above a walking-pace
// floor; otherwise a fixed cruising speed is assumed.
func EstimateETA(distanceKm, speedMps float64) string {
	if math.IsNaN(distanceKm) || math.IsInf(distanceKm, 0) {
		return Unavailable
	}

	gpsKmh := 0.0
	if speedMps > 0 {
		gpsKmh = speedMps * mpsToKmh
	}
	effectiveKmh := float64(assumedKmh)
	if gpsKmh >= minGpsKmh {
		effectiveKmh = gpsKmh
	}

	minutes := distanceKm / effectiveKmh * 60
	if math.IsNaN(minutes) || math.IsInf(minutes, 0) {
		return Unavailable
	}
	if minutes <= 1 {
		return ArrivingNow
	}
	if minutes >= 180 {
		return OverThreeHrs
	}
	return fmt.Sprintf("%d min", int(math.Round(minutes)))
}

// SpeedKmh converts a raw sensor speed to km/h for display, returning
// ok=false when the reading is absent or non-positive.
func SpeedKmh(speedMps float64) (float64, bool) {
	if speedMps <= 0 || math.IsNaN(speedMps) {
		return 0, false
	}
	return speedMps * mpsToKmh, true
}

func toRad(deg float64) float64 {
	return deg * math.Pi / 180
}
