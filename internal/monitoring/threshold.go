package monitoring

import (
	"fmt"
	"math"

	"github.com/KevinKickass/SensorIntegration/internal/storage"
)

type Direction string

const (
	Above Direction = "above"
	Below Direction = "below"
)

const (
	CriticalityWarning  = "warning"
	CriticalityCritical = "critical"
)

// criticalRatio is the overshoot, relative to the band width or the limit
// magnitude, from which a breach counts as critical.
const criticalRatio = 0.2

// Breach describes a value outside its sensor's thresholds.
type Breach struct {
	Direction   Direction `json:"direction"`
	Limit       float64   `json:"limit"`
	Value       float64   `json:"value"`
	Deviation   float64   `json:"deviation"`
	Criticality string    `json:"criticality"`
}

// AlertType is the persisted alert type of the breach.
func (b *Breach) AlertType() string {
	return "threshold_" + string(b.Direction)
}

func (b *Breach) Describe(sensor *storage.Sensor) string {
	op := ">"
	bound := "max"
	if b.Direction == Below {
		op = "<"
		bound = "min"
	}
	return fmt.Sprintf("%s %s threshold exceeded: %.2f %s %.2f %s",
		sensor.Type, bound, b.Value, op, b.Limit, sensor.Unit)
}

// Evaluate checks value against the sensor thresholds. A nil threshold never
// breaches; nil is returned when the value is within bounds.
func Evaluate(sensor *storage.Sensor, value float64) *Breach {
	var b *Breach
	switch {
	case sensor.MinThreshold != nil && value < *sensor.MinThreshold:
		b = &Breach{Direction: Below, Limit: *sensor.MinThreshold, Value: value, Deviation: *sensor.MinThreshold - value}
	case sensor.MaxThreshold != nil && value > *sensor.MaxThreshold:
		b = &Breach{Direction: Above, Limit: *sensor.MaxThreshold, Value: value, Deviation: value - *sensor.MaxThreshold}
	default:
		return nil
	}

	ref := math.Abs(b.Limit)
	if sensor.MinThreshold != nil && sensor.MaxThreshold != nil && *sensor.MaxThreshold > *sensor.MinThreshold {
		ref = *sensor.MaxThreshold - *sensor.MinThreshold
	}

	b.Criticality = CriticalityWarning
	if ref == 0 || b.Deviation > ref*criticalRatio {
		b.Criticality = CriticalityCritical
	}
	return b
}

// OutOfThreshold reports whether value breaches the sensor thresholds.
func OutOfThreshold(sensor *storage.Sensor, value float64) bool {
	return Evaluate(sensor, value) != nil
}
