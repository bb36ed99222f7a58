package anomaly

import (
	"math"
	"strconv"
	"strings"
	"time"
)

// DefaultMaxSpeedKmh is roughly cruising speed of air freight.
const DefaultMaxSpeedKmh = 900

const earthRadiusKm = 6371.0

// TravelPolicy estimates the shortest plausible time between two declared
// locations. ok is false when the locations cannot be compared.
type TravelPolicy interface {
	MinTransit(from, to string) (least time.Duration, ok bool)
}

// SpeedPolicy understands locations written as "lat,lng" in decimal degrees
// and bounds travel by great-circle distance at MaxSpeedKmh.
type SpeedPolicy struct {
	MaxSpeedKmh float64
}

// MinTransit implements TravelPolicy.
func (p SpeedPolicy) MinTransit(from, to string) (time.Duration, bool) {
	if p.MaxSpeedKmh <= 0 {
		return 0, false
	}
	lat1, lng1, ok := parseCoordinates(from)
	if !ok {
		return 0, false
	}
	lat2, lng2, ok := parseCoordinates(to)
	if !ok {
		return 0, false
	}
	hours := haversineKm(lat1, lng1, lat2, lng2) / p.MaxSpeedKmh
	return time.Duration(hours * float64(time.Hour)), true
}

func parseCoordinates(s string) (lat, lng float64, ok bool) {
	parts := strings.Split(s, ",")
	if len(parts) != 2 {
		return 0, 0, false
	}
	lat, err := strconv.ParseFloat(strings.TrimSpace(parts[0]), 64)
	if err != nil || lat < -90 || lat > 90 {
		return 0, 0, false
	}
	lng, err = strconv.ParseFloat(strings.TrimSpace(parts[1]), 64)
	if err != nil || lng < -180 || lng > 180 {
		return 0, 0, false
	}
	return lat, lng, true
}

func haversineKm(lat1, lng1, lat2, lng2 float64) float64 {
	rad := math.Pi / 180
	dLat := (lat2 - lat1) * rad
	dLng := (lng2 - lng1) * rad
	a := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(lat1*rad)*math.Cos(lat2*rad)*math.Sin(dLng/2)*math.Sin(dLng/2)
	return 2 * earthRadiusKm * math.Asin(math.Min(1, math.Sqrt(a)))
}
