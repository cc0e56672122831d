// Package ingest is the telemetry path: it persists readings, keeps device
// liveness fresh, drives the rule engine and acknowledges devices.
package ingest

import (
	"encoding/json"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/prite36/water-tank-system/internal/models"
	"github.com/prite36/water-tank-system/internal/mqtt"
	"github.com/prite36/water-tank-system/internal/notify"
	"github.com/prite36/water-tank-system/internal/tank"
)

type Store interface {
	AppendReading(deviceID, sensorType string, value float64) error
	TouchSensor(deviceID string) error
	GetPump(pumpID string) (*models.Pump, error)
	UpdatePumpReading(pumpID string, reading float64, at time.Time) error
}

type RuleEvaluator interface {
	Evaluate(sensorID, readingType string, value float64)
}

type Publisher interface {
	Publish(topic string, payload interface{}) error
}

type Ingestor struct {
	store    Store
	engine   RuleEvaluator
	pub      Publisher
	notifier notify.Notifier
	topics   mqtt.Topics
	now      func() time.Time

	// Statuses is the in-memory view of device-reported pump state. It is
	// liveness only; is_running on the pump row stays the actuation truth.
	Statuses *StatusView
}

func New(s Store, engine RuleEvaluator, pub Publisher, notifier notify.Notifier, topics mqtt.Topics) *Ingestor {
	if notifier == nil {
		notifier = notify.Noop{}
	}
	return &Ingestor{
		store:    s,
		engine:   engine,
		pub:      pub,
		notifier: notifier,
		topics:   topics,
		now:      time.Now,
		Statuses: NewStatusView(),
	}
}

// SensorHandler returns the bus handler for one sensor reading topic. The
// reading type is encoded in the topic's last segment.
func (i *Ingestor) SensorHandler(topic string) mqtt.Handler {
	parts := strings.Split(topic, "/")
	sensorType := strings.ToLower(parts[len(parts)-1])

	return func(deviceID string, payload []byte) {
		var data map[string]interface{}
		if err := json.Unmarshal(payload, &data); err != nil {
			return
		}
		value, ok := data[sensorType].(float64)
		if !ok {
			// No value for the reading type this topic carries: drop silently.
			return
		}

		if err := i.store.AppendReading(deviceID, sensorType, value); err != nil {
			log.Printf("[DATA] Failed to store %s reading from %s: %v", sensorType, deviceID, err)
			return
		}
		if err := i.store.TouchSensor(deviceID); err != nil {
			log.Printf("[DATA] Failed to update last_seen for %s: %v", deviceID, err)
		}

		i.engine.Evaluate(deviceID, sensorType, value)

		i.ack(deviceID)
		i.notifier.SensorReading(notify.SensorEvent{
			DeviceID:  deviceID,
			Topic:     topic,
			Value:     value,
			Timestamp: i.now(),
		})
		log.Printf("[DATA] Acknowledged %s reading from %s", sensorType, deviceID)
	}
}

type waterLevelPayload struct {
	Reading    *float64 `json:"reading"`
	WaterLevel *float64 `json:"water_level"`
	Value      *float64 `json:"value"`
	Timestamp  string   `json:"timestamp"`
}

// HandleWaterLevel processes pump tank readings. On top of the regular
// telemetry path it refreshes the pump row and, when the tank volume
// computes, emits the richer pump notification.
func (i *Ingestor) HandleWaterLevel(pumpID string, payload []byte) {
	if !strings.HasPrefix(pumpID, models.PumpIDPrefix) {
		return
	}

	var data waterLevelPayload
	if err := json.Unmarshal(payload, &data); err != nil {
		return
	}

	var reading *float64
	for _, candidate := range []*float64{data.Reading, data.WaterLevel, data.Value} {
		if candidate != nil {
			reading = candidate
			break
		}
	}
	if reading == nil {
		log.Printf("[PUMP] No valid reading in water_level message from %s", pumpID)
		return
	}

	timestamp := i.now()
	if data.Timestamp != "" {
		if parsed, err := time.Parse(time.RFC3339, data.Timestamp); err == nil {
			timestamp = parsed
		} else {
			log.Printf("[PUMP] Invalid timestamp from %s, using current time", pumpID)
		}
	}

	if err := i.store.AppendReading(pumpID, models.ReadingWaterLevel, *reading); err != nil {
		log.Printf("[PUMP] Failed to store water level from %s: %v", pumpID, err)
		return
	}
	if err := i.store.UpdatePumpReading(pumpID, *reading, timestamp); err != nil {
		log.Printf("[PUMP] Failed to update pump %s: %v", pumpID, err)
		return
	}

	i.engine.Evaluate(pumpID, models.ReadingWaterLevel, *reading)
	i.ack(pumpID)

	pump, err := i.store.GetPump(pumpID)
	if err != nil {
		log.Printf("[PUMP] Failed to reload pump %s: %v", pumpID, err)
		return
	}
	volume, err := tank.Calculate(pump)
	if err != nil {
		// No geometry or no usable reading: the plain path already ran,
		// only the rich notification is skipped.
		return
	}
	i.notifier.PumpReading(notify.PumpEvent{
		PumpID:    pumpID,
		Reading:   *reading,
		Timestamp: timestamp,
		IsRunning: pump.IsRunning,
		Status:    pump.Status,
		Volume:    volume,
	})
}

type pumpStatusPayload struct {
	Status    string `json:"status"`
	Timestamp string `json:"timestamp"`
}

// HandlePumpStatus records device-reported state in the liveness view.
func (i *Ingestor) HandlePumpStatus(pumpID string, payload []byte) {
	if !strings.HasPrefix(pumpID, models.PumpIDPrefix) {
		return
	}
	var data pumpStatusPayload
	if err := json.Unmarshal(payload, &data); err != nil {
		return
	}

	reportedAt := data.Timestamp
	if reportedAt == "" {
		reportedAt = i.now().Format(time.RFC3339)
	}
	i.Statuses.Update(pumpID, data.Status == models.ActionOn, reportedAt)
	log.Printf("[PUMP] Updated reported status for %s: %s", pumpID, data.Status)
}

func (i *Ingestor) ack(deviceID string) {
	msg := mqtt.AckMessage{DeviceID: deviceID, Status: "received"}
	if err := i.pub.Publish(i.topics.Ack(), msg); err != nil {
		log.Printf("[DATA] Failed to acknowledge %s: %v", deviceID, err)
	}
}

// ReportedStatus is the device-side view of a pump.
type ReportedStatus struct {
	IsRunning  bool   `json:"is_running"`
	ReportedAt string `json:"reported_at"`
}

// StatusView is the owned in-memory registry of device-reported pump
// states, keyed by pump id.
type StatusView struct {
	mu       sync.Mutex
	statuses map[string]ReportedStatus
}

func NewStatusView() *StatusView {
	return &StatusView{statuses: make(map[string]ReportedStatus)}
}

func (v *StatusView) Update(pumpID string, isRunning bool, reportedAt string) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.statuses[pumpID] = ReportedStatus{IsRunning: isRunning, ReportedAt: reportedAt}
}

func (v *StatusView) Get(pumpID string) (ReportedStatus, bool) {
	v.mu.Lock()
	defer v.mu.Unlock()
	status, ok := v.statuses[pumpID]
	return status, ok
}
