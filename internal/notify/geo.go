package notify

import (
	"math"
)

const earthRadiusKM = 6371.0

// HaversineKM returns the great-circle distance between two points in
// kilometers.
func HaversineKM(lat1, lon1, lat2, lon2 float64) float64 {
	dLat := radians(lat2 - lat1)
	dLon := radians(lon2 - lon1)

	a := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(radians(lat1))*math.Cos(radians(lat2))*
			math.Sin(dLon/2)*math.Sin(dLon/2)

	return 2 * earthRadiusKM * math.Asin(math.Sqrt(a))
}

// BearingDeg returns the initial bearing from the first point to the second
// in degrees from north, normalized to [0, 360).
func BearingDeg(lat1, lon1, lat2, lon2 float64) float64 {
	dLon := radians(lon2 - lon1)
	y := math.Sin(dLon) * math.Cos(radians(lat2))
	x := math.Cos(radians(lat1))*math.Sin(radians(lat2)) -
		math.Sin(radians(lat1))*math.Cos(radians(lat2))*math.Cos(dLon)

	bearing := math.Mod(degrees(math.Atan2(y, x))+360, 360)

	return bearing
}

// CompassPoint renders a bearing as one of eight compass points.
func CompassPoint(bearing float64) string {
	points := []string{"N", "NE", "E", "SE", "S", "SW", "W", "NW"}
	index := int(math.Mod(bearing, 360)/45.0+0.5) % 8

	return points[index]
}

func radians(deg float64) float64 {
	return deg * math.Pi / 180
}

func degrees(rad float64) float64 {
	return rad * 180 / math.Pi
}
