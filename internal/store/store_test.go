package store

import (
	"testing"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/prite36/water-tank-system/internal/models"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)
	require.NoError(t, Migrate(db))
	return New(db)
}

func ptr(f float64) *float64 { return &f }

func TestEnsureSensorIsIdempotent(t *testing.T) {
	s := newTestStore(t)

	require.NoError(t, s.EnsureSensor("esp32-01"))
	require.NoError(t, s.EnsureSensor("esp32-01"))

	sensors, err := s.ListSensors()
	require.NoError(t, err)
	require.Len(t, sensors, 1)
	assert.Equal(t, models.DefaultSleepSeconds, sensors[0].SleepDuration)
}

func TestUpsertSensorSleep(t *testing.T) {
	s := newTestStore(t)

	// Creates the row when the device is unknown.
	require.NoError(t, s.UpsertSensorSleep("esp32-01", 600))
	sensor, err := s.GetSensor("esp32-01")
	require.NoError(t, err)
	assert.Equal(t, 600, sensor.SleepDuration)

	// Updates in place afterwards.
	require.NoError(t, s.UpsertSensorSleep("esp32-01", 120))
	sensor, err = s.GetSensor("esp32-01")
	require.NoError(t, err)
	assert.Equal(t, 120, sensor.SleepDuration)

	sensors, err := s.ListSensors()
	require.NoError(t, err)
	assert.Len(t, sensors, 1)
}

func TestClaimSensor(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, s.EnsureSensor("esp32-01"))
	require.NoError(t, s.EnsureSensor("esp32-02"))

	err := s.ClaimSensor("unknown", "Garden", "North bed")
	assert.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, s.ClaimSensor("esp32-01", "Garden", "North bed"))
	err = s.ClaimSensor("esp32-01", "Garden", "South bed")
	assert.ErrorIs(t, err, ErrAlreadyClaimed)

	unclaimed, err := s.UnclaimedSensors()
	require.NoError(t, err)
	require.Len(t, unclaimed, 1)
	assert.Equal(t, "esp32-02", unclaimed[0].DeviceID)
}

func TestDeleteSensorRemovesReadingsAndLocation(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, s.EnsureSensor("esp32-01"))
	require.NoError(t, s.ClaimSensor("esp32-01", "Garden", "North bed"))
	require.NoError(t, s.AppendReading("esp32-01", models.ReadingTemperature, 28.5))

	require.NoError(t, s.DeleteSensor("esp32-01"))

	sensors, err := s.ListSensors()
	require.NoError(t, err)
	assert.Empty(t, sensors)

	readings, err := s.RecentReadings("esp32-01", 10)
	require.NoError(t, err)
	assert.Empty(t, readings)

	// The device can be discovered again from scratch.
	require.NoError(t, s.EnsureSensor("esp32-01"))
	unclaimed, err := s.UnclaimedSensors()
	require.NoError(t, err)
	assert.Len(t, unclaimed, 1)
}

func TestRecentReadingsFilterAndOrder(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, s.AppendReading("esp32-01", models.ReadingTemperature, 28.5))
	require.NoError(t, s.AppendReading("esp32-02", models.ReadingMoisture, 41.0))

	all, err := s.RecentReadings("all", 10)
	require.NoError(t, err)
	assert.Len(t, all, 2)

	one, err := s.RecentReadings("esp32-01", 10)
	require.NoError(t, err)
	require.Len(t, one, 1)
	assert.Equal(t, 28.5, one[0].Value)
}

func TestPumpLifecycle(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, s.CreatePump(&models.Pump{
		PumpID:    "PUMP_01",
		Name:      "PUMP_01",
		TankShape: models.TankNone,
		Status:    models.PumpPending,
	}))

	_, err := s.GetPump("PUMP_99")
	assert.ErrorIs(t, err, ErrNotFound)

	pump, err := s.GetPump("PUMP_01")
	require.NoError(t, err)
	assert.Equal(t, models.PumpPending, pump.Status)
	assert.False(t, pump.IsRunning)

	at := time.Date(2026, 8, 28, 12, 0, 0, 0, time.UTC)
	require.NoError(t, s.SetPumpRunning("PUMP_01", true, at))
	pump, err = s.GetPump("PUMP_01")
	require.NoError(t, err)
	assert.True(t, pump.IsRunning)
	require.NotNil(t, pump.LastUpdate)

	require.NoError(t, s.ConfigurePump("PUMP_01", PumpConfig{
		Name:       "Main tank",
		Location:   "Roof",
		TankShape:  models.TankBox,
		TankLength: ptr(50),
		TankWidth:  ptr(30),
		TankHeight: ptr(100),
	}))
	pump, err = s.GetPump("PUMP_01")
	require.NoError(t, err)
	assert.Equal(t, models.PumpConfigured, pump.Status)
	assert.Equal(t, "Main tank", pump.Name)
	require.NotNil(t, pump.TankLength)
	assert.Equal(t, 50.0, *pump.TankLength)
}

func TestUpdatePumpReadingPreservesPendingStatus(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, s.CreatePump(&models.Pump{
		PumpID:    "PUMP_01",
		Name:      "PUMP_01",
		TankShape: models.TankNone,
		Status:    models.PumpPending,
	}))

	at := time.Date(2026, 8, 28, 12, 0, 0, 0, time.UTC)
	require.NoError(t, s.UpdatePumpReading("PUMP_01", 42.5, at))

	pump, err := s.GetPump("PUMP_01")
	require.NoError(t, err)
	assert.Equal(t, models.PumpPending, pump.Status, "telemetry does not complete setup")
	require.NotNil(t, pump.LastReading)
	assert.Equal(t, 42.5, *pump.LastReading)

	// Once configured, readings keep the pump configured.
	require.NoError(t, s.ConfigurePump("PUMP_01", PumpConfig{Name: "Main tank", TankShape: models.TankBox}))
	require.NoError(t, s.UpdatePumpReading("PUMP_01", 40.0, at))
	pump, err = s.GetPump("PUMP_01")
	require.NoError(t, err)
	assert.Equal(t, models.PumpConfigured, pump.Status)
}

func TestActiveRulesOrderAndFilter(t *testing.T) {
	s := newTestStore(t)
	mk := func(sensorID, readingType string, active bool) *models.Rule {
		return &models.Rule{
			PumpID:         "PUMP_01",
			SensorID:       sensorID,
			ReadingType:    readingType,
			ThresholdValue: 35,
			ComparisonType: models.ComparisonAbove,
			Action:         models.ActionOn,
			Duration:       10,
			IsActive:       active,
		}
	}
	for _, r := range []*models.Rule{
		mk("esp32-01", models.ReadingTemperature, true),
		mk("esp32-01", models.ReadingTemperature, true),
		mk("esp32-01", models.ReadingMoisture, true),
		mk("esp32-02", models.ReadingTemperature, true),
		mk("esp32-01", models.ReadingTemperature, false),
	} {
		require.NoError(t, s.CreateRule(r))
	}

	rules, err := s.ActiveRules("esp32-01", models.ReadingTemperature)
	require.NoError(t, err)
	require.Len(t, rules, 2)
	assert.Less(t, rules[0].ID, rules[1].ID, "evaluation order is ascending rule id")
}

func TestToggleRule(t *testing.T) {
	s := newTestStore(t)
	rule := &models.Rule{
		PumpID: "PUMP_01", SensorID: "esp32-01",
		ReadingType: models.ReadingTemperature, ComparisonType: models.ComparisonAbove,
		Action: models.ActionOn, Duration: 10, IsActive: true,
	}
	require.NoError(t, s.CreateRule(rule))

	require.NoError(t, s.ToggleRule(rule.ID))
	rules, err := s.RulesForPump("PUMP_01")
	require.NoError(t, err)
	require.Len(t, rules, 1)
	assert.False(t, rules[0].IsActive)

	require.NoError(t, s.ToggleRule(rule.ID))
	rules, err = s.RulesForPump("PUMP_01")
	require.NoError(t, err)
	assert.True(t, rules[0].IsActive)
}

func TestRuleHistoryJoinsThroughRules(t *testing.T) {
	s := newTestStore(t)
	mine := &models.Rule{
		PumpID: "PUMP_01", SensorID: "esp32-01",
		ReadingType: models.ReadingTemperature, ComparisonType: models.ComparisonAbove,
		Action: models.ActionOn, Duration: 10, IsActive: true,
	}
	other := &models.Rule{
		PumpID: "PUMP_02", SensorID: "esp32-01",
		ReadingType: models.ReadingTemperature, ComparisonType: models.ComparisonAbove,
		Action: models.ActionOn, Duration: 10, IsActive: true,
	}
	require.NoError(t, s.CreateRule(mine))
	require.NoError(t, s.CreateRule(other))

	require.NoError(t, s.AppendRuleAction(mine.ID, 36.0, models.ActionOn))
	require.NoError(t, s.AppendRuleAction(mine.ID, 38.0, "error: pump_already_on"))
	require.NoError(t, s.AppendRuleAction(other.ID, 36.0, models.ActionOn))

	history, err := s.RuleHistory("PUMP_01", 50)
	require.NoError(t, err)
	require.Len(t, history, 2)
	for _, h := range history {
		assert.Equal(t, mine.ID, h.RuleID)
	}
}

func TestScheduleQueries(t *testing.T) {
	s := newTestStore(t)
	rows := []models.Schedule{
		{PumpID: "PUMP_01", ScheduleDate: "2026-08-27", ScheduleTime: "07:30", Duration: 15},
		{PumpID: "PUMP_01", ScheduleDate: "2026-08-28", ScheduleTime: "18:00", Duration: 15},
		{PumpID: "PUMP_02", ScheduleDate: "2026-08-29", ScheduleTime: "07:30", Duration: 15},
	}
	for i := range rows {
		require.NoError(t, s.CreateSchedule(&rows[i]))
	}

	exists, err := s.ScheduleExists("PUMP_01", "2026-08-28", "18:00")
	require.NoError(t, err)
	assert.True(t, exists)

	// Relative to 2026-08-28 12:00.
	future, err := s.FutureSchedules("2026-08-28", "12:00")
	require.NoError(t, err)
	assert.Len(t, future, 2)

	mine, err := s.SchedulesForPump("PUMP_01", "2026-08-28", "12:00")
	require.NoError(t, err)
	require.Len(t, mine, 1)
	assert.Equal(t, "18:00", mine[0].ScheduleTime)

	require.NoError(t, s.PurgePastSchedules("2026-08-28", "12:00"))
	remaining, err := s.FutureSchedules("2000-01-01", "00:00")
	require.NoError(t, err)
	assert.Len(t, remaining, 2, "only the stale row is purged")

	deleted, err := s.DeleteSchedule("PUMP_01", "2026-08-28", "18:00")
	require.NoError(t, err)
	assert.True(t, deleted)

	deleted, err = s.DeleteSchedule("PUMP_01", "2026-08-28", "18:00")
	require.NoError(t, err)
	assert.False(t, deleted)
}

func TestDelayedTaskQueries(t *testing.T) {
	s := newTestStore(t)
	now := time.Date(2026, 8, 28, 12, 0, 0, 0, time.UTC)

	due := &models.DelayedTask{PumpID: "PUMP_01", FireAt: now.Add(-time.Minute)}
	pending := &models.DelayedTask{PumpID: "PUMP_02", FireAt: now.Add(time.Hour)}
	require.NoError(t, s.CreateTask(due))
	require.NoError(t, s.CreateTask(pending))

	tasks, err := s.DueTasks(now)
	require.NoError(t, err)
	require.Len(t, tasks, 1)
	assert.Equal(t, "PUMP_01", tasks[0].PumpID)

	require.NoError(t, s.DeleteTask(due.ID))
	tasks, err = s.DueTasks(now)
	require.NoError(t, err)
	assert.Empty(t, tasks)
}
