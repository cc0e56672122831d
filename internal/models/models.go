package models

import "time"

// PumpIDPrefix is the reserved device id prefix that identifies pumps on
// the shared auth channels.
const PumpIDPrefix = "PUMP_"

// Pump lifecycle states.
type PumpStatus string

const (
	PumpPending    PumpStatus = "pending"
	PumpConfigured PumpStatus = "configured"
)

// Tank shapes supported by the volume calculator.
type TankShape string

const (
	TankBox      TankShape = "box"
	TankCylinder TankShape = "cylinder"
	TankNone     TankShape = "none"
)

// Rule vocabulary.
const (
	ComparisonAbove = "above"
	ComparisonBelow = "below"

	ActionOn  = "on"
	ActionOff = "off"

	ReadingTemperature = "temperature"
	ReadingMoisture    = "moisture"
	ReadingWaterLevel  = "water_level"
)

// Sensor is a telemetry device that completed the auth handshake.
// DefaultSleepSeconds applies until the operator pushes a different value.
const DefaultSleepSeconds = 30

type Sensor struct {
	ID            uint      `gorm:"primarykey" json:"id"`
	DeviceID      string    `gorm:"uniqueIndex;not null" json:"device_id"`
	SleepDuration int       `gorm:"not null;default:30" json:"sleep_duration"`
	LastSeen      time.Time `json:"last_seen"`
	CreatedAt     time.Time `json:"created_at"`
}

func (Sensor) TableName() string { return "device_settings" }

// SensorLocation binds a claimed sensor to an operator-supplied name and place.
type SensorLocation struct {
	ID        uint      `gorm:"primarykey" json:"id"`
	DeviceID  string    `gorm:"uniqueIndex;not null" json:"device_id"`
	Location  string    `gorm:"not null" json:"location"`
	Name      string    `gorm:"not null" json:"name"`
	CreatedAt time.Time `json:"created_at"`
}

func (SensorLocation) TableName() string { return "sensor_locations" }

// Reading is one telemetry event. Rows are append-only; the latest value per
// device is derived by max timestamp.
type Reading struct {
	ID         uint      `gorm:"primarykey" json:"id"`
	DeviceID   string    `gorm:"index;not null" json:"device_id"`
	SensorType string    `gorm:"not null" json:"sensor_type"`
	Value      float64   `gorm:"not null" json:"value"`
	Timestamp  time.Time `gorm:"index" json:"timestamp"`
}

func (Reading) TableName() string { return "sensor_readings" }

// Pump is an actuator with optional tank geometry. IsRunning is the single
// source of truth for actuation state; every writer goes through the store.
type Pump struct {
	ID           uint       `gorm:"primarykey" json:"id"`
	PumpID       string     `gorm:"uniqueIndex;not null" json:"pump_id"`
	Name         string     `gorm:"not null" json:"name"`
	Location     string     `json:"location"`
	TankShape    TankShape  `gorm:"not null" json:"tank_shape"`
	TankLength   *float64   `json:"tank_length"`
	TankWidth    *float64   `json:"tank_width"`
	TankHeight   *float64   `json:"tank_height"`
	TankDiameter *float64   `json:"tank_diameter"`
	Status       PumpStatus `gorm:"default:pending" json:"status"`
	LastReading  *float64   `json:"last_reading"`
	LastUpdate   *time.Time `json:"last_update"`
	IsRunning    bool       `gorm:"default:false" json:"is_running"`
	CreatedAt    time.Time  `json:"created_at"`
}

func (Pump) TableName() string { return "pumps" }

// Rule is a persistent condition-action binding between a sensor threshold
// and a pump command. Duration is minutes and only meaningful for action=on.
type Rule struct {
	ID             uint      `gorm:"primarykey" json:"id"`
	PumpID         string    `gorm:"index;not null" json:"pump_id"`
	SensorID       string    `gorm:"index;not null" json:"sensor_id"`
	ReadingType    string    `gorm:"not null;default:temperature" json:"reading_type"`
	ThresholdValue float64   `gorm:"not null" json:"threshold_value"`
	ComparisonType string    `gorm:"not null" json:"comparison_type"`
	Action         string    `gorm:"not null" json:"action"`
	Duration       int       `gorm:"not null" json:"duration"`
	IsActive       bool      `gorm:"default:true" json:"is_active"`
	CreatedAt      time.Time `json:"created_at"`
}

func (Rule) TableName() string { return "pump_rules" }

// RuleAction is the append-only audit log of rule evaluations that took
// (or refused) an action. ActionTaken is "on", "off" or an "error: ..." tag.
type RuleAction struct {
	ID          uint      `gorm:"primarykey" json:"id"`
	RuleID      uint      `gorm:"index;not null" json:"rule_id"`
	SensorValue float64   `gorm:"not null" json:"sensor_value"`
	ActionTaken string    `gorm:"not null" json:"action_taken"`
	ExecutedAt  time.Time `json:"executed_at"`
}

func (RuleAction) TableName() string { return "rule_actions" }

// Schedule is a one-shot calendar activation. The (pump, date, time) triple
// is unique; the row is deleted when it fires or is cancelled.
type Schedule struct {
	ID           uint      `gorm:"primarykey" json:"id"`
	PumpID       string    `gorm:"uniqueIndex:idx_schedule_slot;not null" json:"pump_id"`
	ScheduleDate string    `gorm:"uniqueIndex:idx_schedule_slot;not null" json:"schedule_date"`
	ScheduleTime string    `gorm:"uniqueIndex:idx_schedule_slot;not null" json:"schedule_time"`
	Duration     int       `gorm:"not null" json:"duration"`
	CreatedAt    time.Time `json:"created_at"`
}

func (Schedule) TableName() string { return "schedules" }

// DelayedTask is a persisted auto-off commitment: turn PumpID off at FireAt.
// Persisting these instead of holding bare timers lets a restart recover
// in-flight auto-offs instead of leaving pumps stuck on.
type DelayedTask struct {
	ID        uint      `gorm:"primarykey" json:"id"`
	PumpID    string    `gorm:"index;not null" json:"pump_id"`
	FireAt    time.Time `gorm:"index;not null" json:"fire_at"`
	Scheduled bool      `gorm:"default:false" json:"scheduled"`
	JobKey    string    `json:"job_key"`
	CreatedAt time.Time `json:"created_at"`
}

func (DelayedTask) TableName() string { return "delayed_tasks" }
