// Package timing turns map distance and unit speed into travel time.
//
// A convoy moves at its slowest member's pace. Speeds are tiles per hour;
// the server speed multiplier scales every unit uniformly.
package timing

import (
	"math"
	"time"

	"github.com/daviddao/rallypoint/pkg/catalog"
	"github.com/daviddao/rallypoint/pkg/model"
)

const msPerHour = float64(time.Hour / time.Millisecond)

// Distance returns the Euclidean tile distance between a and b.
func Distance(a, b model.Coordinates) float64 {
	dx := float64(a.X - b.X)
	dy := float64(a.Y - b.Y)
	return math.Sqrt(dx*dx + dy*dy)
}

// SlowestSpeed returns the minimum speed among unit types with a positive
// count. An empty composition or an unknown unit id is an input error.
func SlowestSpeed(units model.Units, cat catalog.Catalog) (float64, error) {
	slowest := math.Inf(1)
	for _, id := range units.IDs() {
		stats, ok := cat.Lookup(id)
		if !ok {
			return 0, model.InputErrorf("unknown unit %q", id)
		}
		if stats.Speed < slowest {
			slowest = stats.Speed
		}
	}
	if math.IsInf(slowest, 1) {
		return 0, model.InputErrorf("empty composition has no speed")
	}
	return slowest, nil
}

// TravelTimeMs returns round(distance / (speed * serverSpeed) hours) in
// milliseconds. Non-positive speeds yield 0 rather than dividing by zero;
// callers obtain speed from SlowestSpeed, which never returns one.
func TravelTimeMs(distance, slowestSpeed, serverSpeed float64) int64 {
	if distance <= 0 || slowestSpeed <= 0 || serverSpeed <= 0 {
		return 0
	}
	hours := distance / (slowestSpeed * serverSpeed)
	return int64(math.Round(hours * msPerHour))
}

// TravelTime is TravelTimeMs as a time.Duration.
func TravelTime(distance, slowestSpeed, serverSpeed float64) time.Duration {
	return time.Duration(TravelTimeMs(distance, slowestSpeed, serverSpeed)) * time.Millisecond
}

// Route is the timing of one convoy between two points.
func Route(from, to model.Coordinates, units model.Units, cat catalog.Catalog, serverSpeed float64) (time.Duration, error) {
	speed, err := SlowestSpeed(units, cat)
	if err != nil {
		return 0, err
	}
	return TravelTime(Distance(from, to), speed, serverSpeed), nil
}
