// Package scheduler manages calendar-based one-shot pump activations. Jobs
// are armed on a daily-recurring primitive; firing deletes the backing row,
// which is what makes them one-shot.
package scheduler

import (
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/go-co-op/gocron"

	"github.com/prite36/water-tank-system/internal/models"
	"github.com/prite36/water-tank-system/internal/mqtt"
)

const (
	dateLayout = "2006-01-02"
	timeLayout = "15:04"

	minDurationMinutes = 1
	maxDurationMinutes = 120
)

var (
	ErrInvalidDateTime  = errors.New("invalid date or time format")
	ErrPastSchedule     = errors.New("cannot schedule in the past")
	ErrInvalidDuration  = fmt.Errorf("duration must be between %d and %d minutes", minDurationMinutes, maxDurationMinutes)
	ErrConflict         = errors.New("a schedule already exists for this time")
	ErrScheduleNotFound = errors.New("schedule not found")
)

type Store interface {
	GetPump(pumpID string) (*models.Pump, error)
	CreateSchedule(sched *models.Schedule) error
	ScheduleExists(pumpID, date, timeStr string) (bool, error)
	DeleteSchedule(pumpID, date, timeStr string) (bool, error)
	FutureSchedules(date, timeStr string) ([]models.Schedule, error)
	PurgePastSchedules(date, timeStr string) error
	SchedulesForPump(pumpID, date, timeStr string) ([]models.Schedule, error)
	SetPumpRunning(pumpID string, running bool, at time.Time) error
}

type Publisher interface {
	Publish(topic string, payload interface{}) error
}

// AutoOffArmer persists the duration-bounded turn-off that follows a fired
// schedule.
type AutoOffArmer interface {
	ArmAutoOff(pumpID string, after time.Duration, scheduled bool, jobKey string) error
}

type Scheduler struct {
	cron   *gocron.Scheduler
	store  Store
	pub    Publisher
	armer  AutoOffArmer
	topics mqtt.Topics
	now    func() time.Time

	mu   sync.Mutex
	jobs map[string]*gocron.Job
}

func New(s Store, pub Publisher, armer AutoOffArmer, topics mqtt.Topics) *Scheduler {
	return &Scheduler{
		cron:   gocron.NewScheduler(time.Local),
		store:  s,
		pub:    pub,
		armer:  armer,
		topics: topics,
		now:    time.Now,
		jobs:   make(map[string]*gocron.Job),
	}
}

// Start arms the persisted future schedules, purges stale rows and begins
// job execution.
func (s *Scheduler) Start() error {
	now := s.now()
	date, timeStr := now.Format(dateLayout), now.Format(timeLayout)

	schedules, err := s.store.FutureSchedules(date, timeStr)
	if err != nil {
		return fmt.Errorf("failed to load existing schedules: %w", err)
	}
	for _, sched := range schedules {
		if err := s.armJob(sched.PumpID, sched.ScheduleTime, sched.Duration); err != nil {
			log.Printf("[SCHEDULER] Failed to arm job for %s at %s: %v", sched.PumpID, sched.ScheduleTime, err)
		}
	}
	log.Printf("[SCHEDULER] Loaded %d existing schedules", len(schedules))

	// Rows already fired or stale are never re-armed.
	if err := s.store.PurgePastSchedules(date, timeStr); err != nil {
		log.Printf("[SCHEDULER] Failed to clean up old schedules: %v", err)
	}

	s.cron.StartAsync()
	log.Println("[SCHEDULER] Scheduler started")
	return nil
}

func (s *Scheduler) Stop() {
	log.Println("[SCHEDULER] Stopping scheduler")
	s.cron.Stop()
}

// Add validates and persists a new schedule, then arms the in-memory job.
// The persisted row is rolled back if arming fails.
func (s *Scheduler) Add(pumpID, date, timeStr string, duration int) error {
	if _, err := s.store.GetPump(pumpID); err != nil {
		return err
	}

	when, err := time.ParseInLocation(dateLayout+" "+timeLayout, date+" "+timeStr, time.Local)
	if err != nil {
		return ErrInvalidDateTime
	}
	if when.Before(s.now()) {
		return ErrPastSchedule
	}
	if duration < minDurationMinutes || duration > maxDurationMinutes {
		return ErrInvalidDuration
	}

	exists, err := s.store.ScheduleExists(pumpID, date, timeStr)
	if err != nil {
		return err
	}
	if exists {
		return ErrConflict
	}

	if err := s.store.CreateSchedule(&models.Schedule{
		PumpID:       pumpID,
		ScheduleDate: date,
		ScheduleTime: timeStr,
		Duration:     duration,
	}); err != nil {
		return err
	}

	if err := s.armJob(pumpID, timeStr, duration); err != nil {
		if _, rollbackErr := s.store.DeleteSchedule(pumpID, date, timeStr); rollbackErr != nil {
			log.Printf("[SCHEDULER] Failed to roll back schedule for %s: %v", pumpID, rollbackErr)
		}
		return fmt.Errorf("failed to arm schedule job: %w", err)
	}

	log.Printf("[SCHEDULER] Schedule added for pump %s at %s %s (%d min)", pumpID, date, timeStr, duration)
	return nil
}

// List returns a pump's upcoming schedules.
func (s *Scheduler) List(pumpID string) ([]models.Schedule, error) {
	now := s.now()
	return s.store.SchedulesForPump(pumpID, now.Format(dateLayout), now.Format(timeLayout))
}

// Cancel deletes a schedule row and disarms its job.
func (s *Scheduler) Cancel(pumpID, date, timeStr string) error {
	deleted, err := s.store.DeleteSchedule(pumpID, date, timeStr)
	if err != nil {
		return err
	}
	if !deleted {
		return ErrScheduleNotFound
	}
	s.RemoveJob(jobKey(pumpID, timeStr))
	log.Printf("[SCHEDULER] Schedule deleted for pump %s at %s %s", pumpID, date, timeStr)
	return nil
}

func jobKey(pumpID, timeStr string) string {
	return pumpID + "_" + timeStr
}

func (s *Scheduler) armJob(pumpID, timeStr string, duration int) error {
	key := jobKey(pumpID, timeStr)

	s.mu.Lock()
	defer s.mu.Unlock()

	// Re-arming a slot replaces any existing job.
	if existing, ok := s.jobs[key]; ok {
		s.cron.RemoveByReference(existing)
		delete(s.jobs, key)
	}

	job, err := s.cron.Every(1).Day().At(timeStr).Do(s.fire, pumpID, timeStr, duration)
	if err != nil {
		return err
	}
	s.jobs[key] = job
	return nil
}

// RemoveJob disarms the in-memory job for a slot. It also serves the task
// runner, which drops the job once a scheduled auto-off has completed.
func (s *Scheduler) RemoveJob(key string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if job, ok := s.jobs[key]; ok {
		s.cron.RemoveByReference(job)
		delete(s.jobs, key)
		log.Printf("[SCHEDULER] Removed job %s", key)
	}
}

// fire executes one due activation. Deleting the row first is what turns
// the daily-recurring primitive into a one-shot: a daily tick with no row
// for today's date is not this schedule's day and is skipped.
func (s *Scheduler) fire(pumpID, timeStr string, duration int) {
	now := s.now()
	date := now.Format(dateLayout)

	deleted, err := s.store.DeleteSchedule(pumpID, date, timeStr)
	if err != nil {
		log.Printf("[SCHEDULER] Failed to consume schedule row for %s: %v", pumpID, err)
		return
	}
	if !deleted {
		return
	}

	if err := s.store.SetPumpRunning(pumpID, true, now); err != nil {
		log.Printf("[SCHEDULER] Failed to turn on pump %s: %v", pumpID, err)
		return
	}

	msg := mqtt.ControlMessage{
		DeviceID:  pumpID,
		Command:   models.ActionOn,
		Duration:  duration,
		Scheduled: true,
		Timestamp: now.Format(time.RFC3339),
	}
	if err := s.pub.Publish(s.topics.PumpControl(), msg); err != nil {
		log.Printf("[SCHEDULER] Failed to publish ON for pump %s: %v", pumpID, err)
	}
	if err := s.pub.Publish(s.topics.DeviceControl(pumpID), msg); err != nil {
		log.Printf("[SCHEDULER] Failed to publish ON for pump %s: %v", pumpID, err)
	}

	if err := s.armer.ArmAutoOff(pumpID, time.Duration(duration)*time.Minute, true, jobKey(pumpID, timeStr)); err != nil {
		log.Printf("[SCHEDULER] %v", err)
	}
	log.Printf("[SCHEDULER] Fired schedule for pump %s (%d min)", pumpID, duration)
}
