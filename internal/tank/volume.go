// Package tank converts a pump's latest distance reading into volume and
// fill percentage using the configured tank geometry.
package tank

import (
	"errors"
	"math"

	"github.com/prite36/water-tank-system/internal/models"
)

var (
	ErrNoReading       = errors.New("no reading available")
	ErrMissingGeometry = errors.New("missing tank dimensions")
)

// DefaultMaxHeight is assumed when a tank has no configured height.
const DefaultMaxHeight = 100.0

// Volume describes the computed tank state. Rounding is presentational:
// volume to 2 decimals, the rest to 1.
type Volume struct {
	Volume     float64          `json:"volume"`
	Percentage float64          `json:"percentage"`
	WaterLevel float64          `json:"water_level"`
	MaxHeight  float64          `json:"max_height"`
	TankShape  models.TankShape `json:"tank_shape"`
}

// Calculate derives volume and fill percentage from the pump's last reading.
// The reading is the distance from the sensor down to the water surface, so
// a larger reading means less water.
func Calculate(pump *models.Pump) (*Volume, error) {
	if pump.LastReading == nil {
		return nil, ErrNoReading
	}
	waterLevel := *pump.LastReading

	maxHeight := DefaultMaxHeight
	if pump.TankHeight != nil && *pump.TankHeight > 0 {
		maxHeight = *pump.TankHeight
	}

	var volume float64
	switch pump.TankShape {
	case models.TankBox:
		if pump.TankLength == nil || pump.TankWidth == nil {
			return nil, ErrMissingGeometry
		}
		volume = *pump.TankLength * *pump.TankWidth * (maxHeight - waterLevel) / 1000
	case models.TankCylinder:
		if pump.TankDiameter == nil {
			return nil, ErrMissingGeometry
		}
		radius := *pump.TankDiameter / 2
		volume = math.Pi * radius * radius * (maxHeight - waterLevel) / 1000
	default:
		return nil, ErrMissingGeometry
	}

	percentage := (maxHeight - waterLevel) / maxHeight * 100
	percentage = math.Max(0, math.Min(100, percentage))

	return &Volume{
		Volume:     round(volume, 2),
		Percentage: round(percentage, 1),
		WaterLevel: round(waterLevel, 1),
		MaxHeight:  round(maxHeight, 1),
		TankShape:  pump.TankShape,
	}, nil
}

func round(v float64, decimals int) float64 {
	f := math.Pow10(decimals)
	return math.Round(v*f) / f
}
