// Package registry implements the device handshake protocol: sensor auth,
// pump registration, operator-side pump setup and the sleep sub-protocol.
package registry

import (
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"strconv"
	"strings"

	"github.com/prite36/water-tank-system/internal/models"
	"github.com/prite36/water-tank-system/internal/mqtt"
	"github.com/prite36/water-tank-system/internal/store"
)

var (
	ErrInvalidTankShape    = errors.New("invalid tank shape")
	ErrInvalidBoxDims      = errors.New("invalid box dimensions")
	ErrInvalidCylinderDims = errors.New("invalid cylinder dimensions")
	ErrInvalidParams       = errors.New("invalid parameters")
)

type Store interface {
	EnsureSensor(deviceID string) error
	GetSensor(deviceID string) (*models.Sensor, error)
	TouchSensor(deviceID string) error
	UpsertSensorSleep(deviceID string, sleepSeconds int) error
	GetPump(pumpID string) (*models.Pump, error)
	CreatePump(pump *models.Pump) error
	ConfigurePump(pumpID string, cfg store.PumpConfig) error
}

type Publisher interface {
	Publish(topic string, payload interface{}) error
}

type Registry struct {
	store   Store
	pub     Publisher
	topics  mqtt.Topics
	Pending *PendingRegistry
}

func New(s Store, pub Publisher, topics mqtt.Topics) *Registry {
	return &Registry{
		store:   s,
		pub:     pub,
		topics:  topics,
		Pending: NewPendingRegistry(),
	}
}

type authReply struct {
	DeviceID string `json:"device_id"`
	Status   string `json:"status"`
}

type pumpAuthReply struct {
	DeviceID   string `json:"device_id"`
	Status     string `json:"status"`
	Configured *bool  `json:"configured,omitempty"`
	Message    string `json:"message,omitempty"`
}

// HandleSensorAuth answers an auth_request by ensuring a sensor row exists
// and replying approved. Resending the request yields the same reply; a
// sensor is never rejected.
func (r *Registry) HandleSensorAuth(deviceID string, payload []byte) {
	var req struct {
		Action string `json:"action"`
	}
	if err := json.Unmarshal(payload, &req); err != nil || req.Action != "auth_request" {
		return
	}

	if err := r.store.EnsureSensor(deviceID); err != nil {
		log.Printf("[AUTH] Database error in sensor auth for %s: %v", deviceID, err)
		return
	}

	if err := r.pub.Publish(r.topics.Auth(), authReply{DeviceID: deviceID, Status: "approved"}); err != nil {
		log.Printf("[AUTH] Failed to send approval to %s: %v", deviceID, err)
		return
	}
	log.Printf("[AUTH] Sent approval to sensor: %s", deviceID)
}

// HandlePumpAuth processes a pump handshake message. Existing pumps get a
// confirmation with their configured flag; unknown pumps announcing
// status=new are registered as pending; anything else is a no-op.
func (r *Registry) HandlePumpAuth(pumpID string, payload []byte) {
	if !strings.HasPrefix(pumpID, models.PumpIDPrefix) {
		log.Printf("[PUMP] Invalid pump ID: %s", pumpID)
		return
	}

	var req struct {
		Status string `json:"status"`
	}
	if err := json.Unmarshal(payload, &req); err != nil {
		return
	}

	pump, err := r.store.GetPump(pumpID)
	switch {
	case err == nil:
		configured := pump.Status == models.PumpConfigured
		reply := pumpAuthReply{DeviceID: pumpID, Status: "confirmed", Configured: &configured}
		if err := r.pub.Publish(r.topics.PumpAuth(), reply); err != nil {
			log.Printf("[PUMP] Failed to confirm %s: %v", pumpID, err)
			return
		}
		r.Pending.Remove(pumpID)
		log.Printf("[PUMP] Confirmed existing pump: %s (configured=%v)", pumpID, configured)

	case errors.Is(err, store.ErrNotFound):
		if req.Status != "new" {
			return
		}
		newPump := &models.Pump{
			PumpID:    pumpID,
			Name:      pumpID,
			Status:    models.PumpPending,
			TankShape: models.TankNone,
		}
		if err := r.store.CreatePump(newPump); err != nil {
			log.Printf("[PUMP] Database error registering %s: %v", pumpID, err)
			return
		}
		r.Pending.Add(pumpID)
		reply := pumpAuthReply{DeviceID: pumpID, Status: "registered", Message: "Ready for setup"}
		if err := r.pub.Publish(r.topics.PumpAuth(), reply); err != nil {
			log.Printf("[PUMP] Failed to send registration to %s: %v", pumpID, err)
			return
		}
		log.Printf("[PUMP] Registered new pump: %s", pumpID)

	default:
		log.Printf("[PUMP] Database error in pump auth for %s: %v", pumpID, err)
	}
}

type sleepReply struct {
	DeviceID  string `json:"device_id"`
	SleepTime int    `json:"sleep_time"`
}

// HandleSleepConfig answers a get_sleep_time request with the stored sleep
// duration (or the default) and refreshes the device's liveness.
func (r *Registry) HandleSleepConfig(deviceID string, payload []byte) {
	var req struct {
		Action string `json:"action"`
	}
	if err := json.Unmarshal(payload, &req); err != nil || req.Action != "get_sleep_time" {
		return
	}

	sleepTime := models.DefaultSleepSeconds
	if sensor, err := r.store.GetSensor(deviceID); err == nil {
		sleepTime = sensor.SleepDuration
	}

	if err := r.store.TouchSensor(deviceID); err != nil {
		log.Printf("[SLEEP] Failed to update last_seen for %s: %v", deviceID, err)
	}

	if err := r.pub.Publish(r.topics.SleepConfig(), sleepReply{DeviceID: deviceID, SleepTime: sleepTime}); err != nil {
		log.Printf("[SLEEP] Failed to send sleep time to %s: %v", deviceID, err)
		return
	}
	log.Printf("[SLEEP] Sent sleep time %d to device: %s", sleepTime, deviceID)
}

// SetSleepTime upserts a sensor's sleep duration and proactively pushes the
// new value to the device.
func (r *Registry) SetSleepTime(deviceID string, sleepSeconds int) error {
	if deviceID == "" || sleepSeconds < 1 {
		return ErrInvalidParams
	}
	if err := r.store.UpsertSensorSleep(deviceID, sleepSeconds); err != nil {
		return err
	}
	return r.pub.Publish(r.topics.DeviceSleepConfig(deviceID), sleepReply{
		DeviceID:  deviceID,
		SleepTime: sleepSeconds,
	})
}

// SetupPump validates and applies operator-supplied tank geometry, then
// re-announces the pump as confirmed and configured. Validation failures
// reject the whole call; nothing is written.
func (r *Registry) SetupPump(pumpID string, data map[string]interface{}) (*models.Pump, error) {
	if _, err := r.store.GetPump(pumpID); err != nil {
		return nil, err
	}

	shape, _ := data["tank_shape"].(string)
	if shape == "" {
		shape = string(models.TankBox)
	}
	if shape != string(models.TankBox) && shape != string(models.TankCylinder) {
		return nil, ErrInvalidTankShape
	}

	cfg := store.PumpConfig{
		TankShape: models.TankShape(shape),
	}
	if name, _ := data["name"].(string); name != "" {
		cfg.Name = name
	} else {
		cfg.Name = pumpID
	}
	cfg.Location, _ = data["location"].(string)

	if cfg.TankShape == models.TankBox {
		length, errL := parseDimension(data["tank_length"])
		width, errW := parseDimension(data["tank_width"])
		height, errH := parseDimension(data["tank_height"])
		if errL != nil || errW != nil || errH != nil {
			return nil, ErrInvalidBoxDims
		}
		cfg.TankLength, cfg.TankWidth, cfg.TankHeight = length, width, height
	} else {
		diameter, errD := parseDimension(data["tank_diameter"])
		height, errH := parseDimension(data["tank_height"])
		if errD != nil || errH != nil {
			return nil, ErrInvalidCylinderDims
		}
		cfg.TankDiameter, cfg.TankHeight = diameter, height
	}

	if err := r.store.ConfigurePump(pumpID, cfg); err != nil {
		return nil, err
	}

	configured := true
	if err := r.pub.Publish(r.topics.PumpAuth(), pumpAuthReply{
		DeviceID:   pumpID,
		Status:     "confirmed",
		Configured: &configured,
	}); err != nil {
		log.Printf("[PUMP] Failed to announce configuration of %s: %v", pumpID, err)
	}
	r.Pending.Remove(pumpID)

	return r.store.GetPump(pumpID)
}

// parseDimension accepts the number encodings the dashboard sends (JSON
// numbers or numeric strings). Absent values default to zero; negative
// values are rejected.
func parseDimension(v interface{}) (*float64, error) {
	var f float64
	switch value := v.(type) {
	case nil:
		f = 0
	case float64:
		f = value
	case json.Number:
		parsed, err := value.Float64()
		if err != nil {
			return nil, err
		}
		f = parsed
	case string:
		parsed, err := strconv.ParseFloat(value, 64)
		if err != nil {
			return nil, err
		}
		f = parsed
	default:
		return nil, fmt.Errorf("unsupported dimension type %T", v)
	}
	if f < 0 {
		return nil, fmt.Errorf("negative dimension %v", f)
	}
	return &f, nil
}
