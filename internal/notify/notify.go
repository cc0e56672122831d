// Package notify delivers structured events to the external push sink.
// Delivery is best-effort: the sink never blocks or fails the ingestion and
// rule paths.
package notify

import (
	"time"

	"github.com/prite36/water-tank-system/internal/models"
	"github.com/prite36/water-tank-system/internal/tank"
)

// SensorEvent is emitted for every persisted telemetry reading.
type SensorEvent struct {
	DeviceID  string    `json:"device_id"`
	Topic     string    `json:"topic"`
	Value     float64   `json:"value"`
	Timestamp time.Time `json:"timestamp"`
}

// PumpEvent is the richer event emitted for pump water-level readings once
// the volume computes.
type PumpEvent struct {
	PumpID    string            `json:"pump_id"`
	Reading   float64           `json:"reading"`
	Timestamp time.Time         `json:"timestamp"`
	IsRunning bool              `json:"is_running"`
	Status    models.PumpStatus `json:"status"`
	Volume    *tank.Volume      `json:"volume"`
}

// Notifier is the external real-time sink. It receives events and emits
// nothing back.
type Notifier interface {
	SensorReading(event SensorEvent)
	PumpReading(event PumpEvent)
}

// Noop discards all events. Used when no sink is configured.
type Noop struct{}

func (Noop) SensorReading(SensorEvent) {}
func (Noop) PumpReading(PumpEvent)     {}
