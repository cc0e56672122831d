// Package store is the persistence layer. Every method maps to a single
// statement; the store makes no multi-statement transaction guarantee, which
// is exactly the contract the concurrency model of the rest of the system
// assumes (last write wins on pump state, append-only audit rows).
package store

import (
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/prite36/water-tank-system/internal/models"
)

var (
	ErrNotFound       = errors.New("record not found")
	ErrAlreadyClaimed = errors.New("sensor already claimed")
)

type Store struct {
	db *gorm.DB
}

func New(db *gorm.DB) *Store {
	return &Store{db: db}
}

// Migrate creates or updates all tables.
func Migrate(db *gorm.DB) error {
	return db.AutoMigrate(
		&models.Sensor{},
		&models.SensorLocation{},
		&models.Reading{},
		&models.Pump{},
		&models.Rule{},
		&models.RuleAction{},
		&models.Schedule{},
		&models.DelayedTask{},
	)
}

// --- Sensors ---

// EnsureSensor inserts a sensor row if none exists for the device. Existing
// rows are left untouched, so repeated auth requests are idempotent.
func (s *Store) EnsureSensor(deviceID string) error {
	sensor := models.Sensor{
		DeviceID:      deviceID,
		SleepDuration: models.DefaultSleepSeconds,
		LastSeen:      time.Now(),
	}
	return s.db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "device_id"}},
		DoNothing: true,
	}).Create(&sensor).Error
}

func (s *Store) GetSensor(deviceID string) (*models.Sensor, error) {
	var sensor models.Sensor
	if err := s.db.Where("device_id = ?", deviceID).First(&sensor).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &sensor, nil
}

// TouchSensor updates last_seen for a device.
func (s *Store) TouchSensor(deviceID string) error {
	return s.db.Model(&models.Sensor{}).
		Where("device_id = ?", deviceID).
		Update("last_seen", time.Now()).Error
}

// UpsertSensorSleep sets a sensor's sleep duration, creating the row when
// the device has not been seen before.
func (s *Store) UpsertSensorSleep(deviceID string, sleepSeconds int) error {
	res := s.db.Model(&models.Sensor{}).
		Where("device_id = ?", deviceID).
		Updates(map[string]interface{}{
			"sleep_duration": sleepSeconds,
			"last_seen":      time.Now(),
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected > 0 {
		return nil
	}
	return s.db.Create(&models.Sensor{
		DeviceID:      deviceID,
		SleepDuration: sleepSeconds,
		LastSeen:      time.Now(),
	}).Error
}

func (s *Store) ListSensors() ([]models.Sensor, error) {
	var sensors []models.Sensor
	err := s.db.Order("device_id").Find(&sensors).Error
	return sensors, err
}

// UnclaimedSensors returns sensors that have no location assignment yet.
func (s *Store) UnclaimedSensors() ([]models.Sensor, error) {
	var sensors []models.Sensor
	sub := s.db.Model(&models.SensorLocation{}).Select("device_id")
	err := s.db.Where("device_id NOT IN (?)", sub).Find(&sensors).Error
	return sensors, err
}

// ClaimSensor assigns a discovered sensor to a location. Fails when the
// sensor is unknown or already claimed.
func (s *Store) ClaimSensor(deviceID, name, location string) error {
	if _, err := s.GetSensor(deviceID); err != nil {
		return err
	}
	var existing models.SensorLocation
	err := s.db.Where("device_id = ?", deviceID).First(&existing).Error
	if err == nil {
		return fmt.Errorf("sensor %s: %w", deviceID, ErrAlreadyClaimed)
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return err
	}
	return s.db.Create(&models.SensorLocation{
		DeviceID: deviceID,
		Name:     name,
		Location: location,
	}).Error
}

// DeleteSensor removes a sensor along with its readings and location
// assignment. The deletes run as independent statements.
func (s *Store) DeleteSensor(deviceID string) error {
	if err := s.db.Where("device_id = ?", deviceID).Delete(&models.Sensor{}).Error; err != nil {
		return err
	}
	if err := s.db.Where("device_id = ?", deviceID).Delete(&models.Reading{}).Error; err != nil {
		return err
	}
	return s.db.Where("device_id = ?", deviceID).Delete(&models.SensorLocation{}).Error
}

// --- Readings ---

func (s *Store) AppendReading(deviceID, sensorType string, value float64) error {
	return s.db.Create(&models.Reading{
		DeviceID:   deviceID,
		SensorType: sensorType,
		Value:      value,
		Timestamp:  time.Now(),
	}).Error
}

func (s *Store) RecentReadings(deviceID string, limit int) ([]models.Reading, error) {
	var readings []models.Reading
	q := s.db.Order("timestamp DESC").Limit(limit)
	if deviceID != "" && deviceID != "all" {
		q = q.Where("device_id = ?", deviceID)
	}
	err := q.Find(&readings).Error
	return readings, err
}

// WaterLevelReadings returns the water-level history for one pump.
func (s *Store) WaterLevelReadings(pumpID string, limit int) ([]models.Reading, error) {
	var readings []models.Reading
	err := s.db.Where("device_id = ? AND sensor_type = ?", pumpID, models.ReadingWaterLevel).
		Order("timestamp DESC").Limit(limit).Find(&readings).Error
	return readings, err
}

// --- Pumps ---

func (s *Store) CreatePump(pump *models.Pump) error {
	return s.db.Create(pump).Error
}

func (s *Store) GetPump(pumpID string) (*models.Pump, error) {
	var pump models.Pump
	if err := s.db.Where("pump_id = ?", pumpID).First(&pump).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &pump, nil
}

func (s *Store) ListPumps() ([]models.Pump, error) {
	var pumps []models.Pump
	err := s.db.Order("created_at DESC").Find(&pumps).Error
	return pumps, err
}

// SetPumpRunning flips the actuation state. The row is the single source of
// truth; callers never cache is_running.
func (s *Store) SetPumpRunning(pumpID string, running bool, at time.Time) error {
	return s.db.Model(&models.Pump{}).
		Where("pump_id = ?", pumpID).
		Updates(map[string]interface{}{
			"is_running":  running,
			"last_update": at,
		}).Error
}

// UpdatePumpReading stores the latest water-level reading. A pending pump
// stays pending; any other status normalizes to configured.
func (s *Store) UpdatePumpReading(pumpID string, reading float64, at time.Time) error {
	return s.db.Model(&models.Pump{}).
		Where("pump_id = ?", pumpID).
		Updates(map[string]interface{}{
			"last_reading": reading,
			"last_update":  at,
			"status":       gorm.Expr("CASE WHEN status = 'pending' THEN 'pending' ELSE 'configured' END"),
		}).Error
}

// PumpConfig is the operator-supplied setup payload after validation.
type PumpConfig struct {
	Name         string
	Location     string
	TankShape    models.TankShape
	TankLength   *float64
	TankWidth    *float64
	TankHeight   *float64
	TankDiameter *float64
}

// ConfigurePump writes the full geometry and marks the pump configured in a
// single statement, so a failed setup never leaves a partial write.
func (s *Store) ConfigurePump(pumpID string, cfg PumpConfig) error {
	return s.db.Model(&models.Pump{}).
		Where("pump_id = ?", pumpID).
		Updates(map[string]interface{}{
			"name":          cfg.Name,
			"location":      cfg.Location,
			"tank_shape":    cfg.TankShape,
			"tank_length":   cfg.TankLength,
			"tank_width":    cfg.TankWidth,
			"tank_height":   cfg.TankHeight,
			"tank_diameter": cfg.TankDiameter,
			"status":        models.PumpConfigured,
		}).Error
}

// --- Rules ---

func (s *Store) CreateRule(rule *models.Rule) error {
	return s.db.Create(rule).Error
}

func (s *Store) DeleteRule(ruleID uint) error {
	return s.db.Delete(&models.Rule{}, ruleID).Error
}

func (s *Store) ToggleRule(ruleID uint) error {
	return s.db.Model(&models.Rule{}).
		Where("id = ?", ruleID).
		Update("is_active", gorm.Expr("NOT is_active")).Error
}

func (s *Store) RulesForPump(pumpID string) ([]models.Rule, error) {
	var rules []models.Rule
	err := s.db.Where("pump_id = ?", pumpID).Order("created_at DESC").Find(&rules).Error
	return rules, err
}

// ActiveRules returns the active rules matching a sensor and reading type,
// in ascending rule id so evaluation order is deterministic.
func (s *Store) ActiveRules(sensorID, readingType string) ([]models.Rule, error) {
	var rules []models.Rule
	err := s.db.Where("sensor_id = ? AND reading_type = ? AND is_active = ?",
		sensorID, readingType, true).
		Order("id ASC").Find(&rules).Error
	return rules, err
}

func (s *Store) AppendRuleAction(ruleID uint, sensorValue float64, actionTaken string) error {
	return s.db.Create(&models.RuleAction{
		RuleID:      ruleID,
		SensorValue: sensorValue,
		ActionTaken: actionTaken,
		ExecutedAt:  time.Now(),
	}).Error
}

func (s *Store) RuleHistory(pumpID string, limit int) ([]models.RuleAction, error) {
	var actions []models.RuleAction
	err := s.db.Table("rule_actions").
		Select("rule_actions.*").
		Joins("JOIN pump_rules ON pump_rules.id = rule_actions.rule_id").
		Where("pump_rules.pump_id = ?", pumpID).
		Order("rule_actions.executed_at DESC").
		Limit(limit).
		Find(&actions).Error
	return actions, err
}

// --- Schedules ---

func (s *Store) CreateSchedule(sched *models.Schedule) error {
	return s.db.Create(sched).Error
}

func (s *Store) ScheduleExists(pumpID, date, timeStr string) (bool, error) {
	var count int64
	err := s.db.Model(&models.Schedule{}).
		Where("pump_id = ? AND schedule_date = ? AND schedule_time = ?", pumpID, date, timeStr).
		Count(&count).Error
	return count > 0, err
}

// DeleteSchedule removes the exact (pump, date, time) row and reports
// whether anything was deleted.
func (s *Store) DeleteSchedule(pumpID, date, timeStr string) (bool, error) {
	res := s.db.Where("pump_id = ? AND schedule_date = ? AND schedule_time = ?",
		pumpID, date, timeStr).Delete(&models.Schedule{})
	return res.RowsAffected > 0, res.Error
}

// FutureSchedules returns rows strictly in the future relative to the given
// date and HH:MM strings.
func (s *Store) FutureSchedules(date, timeStr string) ([]models.Schedule, error) {
	var schedules []models.Schedule
	err := s.db.Where("schedule_date > ? OR (schedule_date = ? AND schedule_time > ?)",
		date, date, timeStr).
		Order("schedule_date, schedule_time").Find(&schedules).Error
	return schedules, err
}

// PurgePastSchedules deletes rows at or before the given date and time.
func (s *Store) PurgePastSchedules(date, timeStr string) error {
	return s.db.Where("schedule_date < ? OR (schedule_date = ? AND schedule_time <= ?)",
		date, date, timeStr).Delete(&models.Schedule{}).Error
}

func (s *Store) SchedulesForPump(pumpID, date, timeStr string) ([]models.Schedule, error) {
	var schedules []models.Schedule
	err := s.db.Where("pump_id = ? AND (schedule_date > ? OR (schedule_date = ? AND schedule_time > ?))",
		pumpID, date, date, timeStr).
		Order("schedule_date, schedule_time").Find(&schedules).Error
	return schedules, err
}

// --- Delayed tasks ---

func (s *Store) CreateTask(task *models.DelayedTask) error {
	return s.db.Create(task).Error
}

// DueTasks returns tasks whose fire time has passed.
func (s *Store) DueTasks(now time.Time) ([]models.DelayedTask, error) {
	var tasks []models.DelayedTask
	err := s.db.Where("fire_at <= ?", now).Order("fire_at ASC").Find(&tasks).Error
	return tasks, err
}

func (s *Store) DeleteTask(taskID uint) error {
	return s.db.Delete(&models.DelayedTask{}, taskID).Error
}
