package scheduler

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/prite36/water-tank-system/internal/models"
	"github.com/prite36/water-tank-system/internal/mqtt"
	"github.com/prite36/water-tank-system/internal/store"
)

type fakeStore struct {
	pumps     map[string]*models.Pump
	schedules []models.Schedule
	running   map[string]bool
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		pumps:   map[string]*models.Pump{"PUMP_01": {PumpID: "PUMP_01"}},
		running: make(map[string]bool),
	}
}

func (f *fakeStore) GetPump(pumpID string) (*models.Pump, error) {
	if p, ok := f.pumps[pumpID]; ok {
		return p, nil
	}
	return nil, store.ErrNotFound
}

func (f *fakeStore) CreateSchedule(sched *models.Schedule) error {
	f.schedules = append(f.schedules, *sched)
	return nil
}

func (f *fakeStore) ScheduleExists(pumpID, date, timeStr string) (bool, error) {
	for _, s := range f.schedules {
		if s.PumpID == pumpID && s.ScheduleDate == date && s.ScheduleTime == timeStr {
			return true, nil
		}
	}
	return false, nil
}

func (f *fakeStore) DeleteSchedule(pumpID, date, timeStr string) (bool, error) {
	for i, s := range f.schedules {
		if s.PumpID == pumpID && s.ScheduleDate == date && s.ScheduleTime == timeStr {
			f.schedules = append(f.schedules[:i], f.schedules[i+1:]...)
			return true, nil
		}
	}
	return false, nil
}

func (f *fakeStore) FutureSchedules(date, timeStr string) ([]models.Schedule, error) {
	var out []models.Schedule
	for _, s := range f.schedules {
		if s.ScheduleDate > date || (s.ScheduleDate == date && s.ScheduleTime > timeStr) {
			out = append(out, s)
		}
	}
	return out, nil
}

func (f *fakeStore) PurgePastSchedules(date, timeStr string) error { return nil }

func (f *fakeStore) SchedulesForPump(pumpID, date, timeStr string) ([]models.Schedule, error) {
	var out []models.Schedule
	for _, s := range f.schedules {
		if s.PumpID == pumpID {
			out = append(out, s)
		}
	}
	return out, nil
}

func (f *fakeStore) SetPumpRunning(pumpID string, running bool, _ time.Time) error {
	f.running[pumpID] = running
	return nil
}

type published struct {
	topic string
	msg   mqtt.ControlMessage
}

type fakePublisher struct {
	messages []published
}

func (f *fakePublisher) Publish(topic string, payload interface{}) error {
	f.messages = append(f.messages, published{topic: topic, msg: payload.(mqtt.ControlMessage)})
	return nil
}

type armed struct {
	pumpID string
	after  time.Duration
	jobKey string
}

type fakeArmer struct {
	calls []armed
	err   error
}

func (f *fakeArmer) ArmAutoOff(pumpID string, after time.Duration, scheduled bool, jobKey string) error {
	if f.err != nil {
		return f.err
	}
	f.calls = append(f.calls, armed{pumpID: pumpID, after: after, jobKey: jobKey})
	return nil
}

// newTestScheduler builds a scheduler whose gocron instance is never
// started, so armed jobs cannot fire on their own during a test.
func newTestScheduler() (*Scheduler, *fakeStore, *fakePublisher, *fakeArmer) {
	fs := newFakeStore()
	pub := &fakePublisher{}
	armer := &fakeArmer{}
	s := New(fs, pub, armer, mqtt.Topics{Prefix: "mynode"})
	s.now = func() time.Time {
		return time.Date(2026, 8, 28, 12, 0, 0, 0, time.Local)
	}
	return s, fs, pub, armer
}

func TestAddPersistsAndArms(t *testing.T) {
	s, fs, _, _ := newTestScheduler()

	require.NoError(t, s.Add("PUMP_01", "2026-08-30", "07:30", 15))

	require.Len(t, fs.schedules, 1)
	assert.Equal(t, "2026-08-30", fs.schedules[0].ScheduleDate)
	assert.Equal(t, 15, fs.schedules[0].Duration)
	assert.Contains(t, s.jobs, "PUMP_01_07:30")
}

func TestAddValidation(t *testing.T) {
	tests := []struct {
		name     string
		pumpID   string
		date     string
		time     string
		duration int
		wantErr  error
	}{
		{"unknown pump", "PUMP_99", "2026-08-30", "07:30", 15, store.ErrNotFound},
		{"bad date", "PUMP_01", "30-08-2026", "07:30", 15, ErrInvalidDateTime},
		{"bad time", "PUMP_01", "2026-08-30", "7:30pm", 15, ErrInvalidDateTime},
		{"in the past", "PUMP_01", "2026-08-20", "07:30", 15, ErrPastSchedule},
		{"duration too short", "PUMP_01", "2026-08-30", "07:30", 0, ErrInvalidDuration},
		{"duration too long", "PUMP_01", "2026-08-30", "07:30", 121, ErrInvalidDuration},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, fs, _, _ := newTestScheduler()
			err := s.Add(tt.pumpID, tt.date, tt.time, tt.duration)
			assert.ErrorIs(t, err, tt.wantErr)
			assert.Empty(t, fs.schedules, "no row persisted on rejection")
		})
	}
}

func TestAddRejectsDuplicateSlot(t *testing.T) {
	s, fs, _, _ := newTestScheduler()

	require.NoError(t, s.Add("PUMP_01", "2026-08-30", "07:30", 15))
	err := s.Add("PUMP_01", "2026-08-30", "07:30", 30)

	assert.ErrorIs(t, err, ErrConflict)
	assert.Len(t, fs.schedules, 1)
}

func TestFireConsumesRowAndPublishesBothTopics(t *testing.T) {
	s, fs, pub, armer := newTestScheduler()
	fs.schedules = []models.Schedule{{
		PumpID:       "PUMP_01",
		ScheduleDate: "2026-08-28",
		ScheduleTime: "12:00",
		Duration:     15,
	}}

	s.fire("PUMP_01", "12:00", 15)

	assert.Empty(t, fs.schedules, "fired row consumed")
	assert.True(t, fs.running["PUMP_01"])

	require.Len(t, pub.messages, 2)
	assert.Equal(t, "mynode/pump_control", pub.messages[0].topic)
	assert.Equal(t, "mynode/PUMP_01/control", pub.messages[1].topic)
	for _, m := range pub.messages {
		assert.Equal(t, "on", m.msg.Command)
		assert.Equal(t, 15, m.msg.Duration)
		assert.True(t, m.msg.Scheduled)
	}

	require.Len(t, armer.calls, 1)
	assert.Equal(t, 15*time.Minute, armer.calls[0].after)
	assert.Equal(t, "PUMP_01_12:00", armer.calls[0].jobKey)
}

func TestFireSkipsWhenNoRowForToday(t *testing.T) {
	s, fs, pub, armer := newTestScheduler()
	// Row exists for a later date; the daily tick before that date is a no-op.
	fs.schedules = []models.Schedule{{
		PumpID:       "PUMP_01",
		ScheduleDate: "2026-08-30",
		ScheduleTime: "12:00",
		Duration:     15,
	}}

	s.fire("PUMP_01", "12:00", 15)

	assert.Len(t, fs.schedules, 1, "future row untouched")
	assert.False(t, fs.running["PUMP_01"])
	assert.Empty(t, pub.messages)
	assert.Empty(t, armer.calls)
}

func TestCancel(t *testing.T) {
	s, fs, _, _ := newTestScheduler()
	require.NoError(t, s.Add("PUMP_01", "2026-08-30", "07:30", 15))

	require.NoError(t, s.Cancel("PUMP_01", "2026-08-30", "07:30"))
	assert.Empty(t, fs.schedules)
	assert.NotContains(t, s.jobs, "PUMP_01_07:30")

	err := s.Cancel("PUMP_01", "2026-08-30", "07:30")
	assert.ErrorIs(t, err, ErrScheduleNotFound)
}

func TestStartArmsPersistedFutureSchedules(t *testing.T) {
	s, fs, _, _ := newTestScheduler()
	fs.schedules = []models.Schedule{
		{PumpID: "PUMP_01", ScheduleDate: "2026-08-30", ScheduleTime: "07:30", Duration: 15},
		{PumpID: "PUMP_01", ScheduleDate: "2026-08-27", ScheduleTime: "07:30", Duration: 15},
	}

	require.NoError(t, s.Start())
	defer s.Stop()

	assert.Contains(t, s.jobs, "PUMP_01_07:30")
	assert.Len(t, s.jobs, 1, "only the future row is armed")
}

func TestArmJobRejectsBadTimeSpec(t *testing.T) {
	s, _, _, _ := newTestScheduler()

	err := s.armJob("PUMP_01", "99:99", 15)
	require.Error(t, err)
	assert.NotContains(t, s.jobs, "PUMP_01_99:99")
}
