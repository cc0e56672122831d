// Package tasks runs durable delayed auto-off commitments. Instead of bare
// in-process timers, every pending "turn the pump off at T" is persisted as
// a row and executed by a polling loop, so a restart picks up where the
// previous process left off.
package tasks

import (
	"fmt"
	"log"
	"time"

	"github.com/prite36/water-tank-system/internal/models"
	"github.com/prite36/water-tank-system/internal/mqtt"
)

type Store interface {
	CreateTask(task *models.DelayedTask) error
	DueTasks(now time.Time) ([]models.DelayedTask, error)
	DeleteTask(taskID uint) error
	SetPumpRunning(pumpID string, running bool, at time.Time) error
}

type Publisher interface {
	Publish(topic string, payload interface{}) error
}

// JobRemover drops an in-memory calendar job once its auto-off has run.
type JobRemover interface {
	RemoveJob(key string)
}

type Runner struct {
	store  Store
	pub    Publisher
	topics mqtt.Topics

	// Jobs is optional; when set, tasks carrying a job key remove the
	// corresponding calendar job after firing.
	Jobs JobRemover

	pollInterval time.Duration
	errBackoff   time.Duration
	now          func() time.Time
	stopCh       chan struct{}
}

func NewRunner(s Store, pub Publisher, topics mqtt.Topics) *Runner {
	return &Runner{
		store:        s,
		pub:          pub,
		topics:       topics,
		pollInterval: time.Second,
		errBackoff:   5 * time.Second,
		now:          time.Now,
		stopCh:       make(chan struct{}),
	}
}

// ArmAutoOff persists a commitment to turn the pump off after the given
// delay. jobKey names the calendar job to drop on execution (empty for
// rule-engine auto-offs).
func (r *Runner) ArmAutoOff(pumpID string, after time.Duration, scheduled bool, jobKey string) error {
	task := &models.DelayedTask{
		PumpID:    pumpID,
		FireAt:    r.now().Add(after),
		Scheduled: scheduled,
		JobKey:    jobKey,
	}
	if err := r.store.CreateTask(task); err != nil {
		return fmt.Errorf("failed to persist auto-off for %s: %w", pumpID, err)
	}
	log.Printf("[TASKS] Auto-off armed for pump %s at %s", pumpID, task.FireAt.Format(time.RFC3339))
	return nil
}

// Start runs a recovery pass over tasks that came due while the process was
// down, then begins the polling loop.
func (r *Runner) Start() {
	if err := r.tick(); err != nil {
		log.Printf("[TASKS] Recovery pass failed: %v", err)
	}
	go r.run()
	log.Println("[TASKS] Delayed-task runner started")
}

func (r *Runner) Stop() {
	close(r.stopCh)
}

func (r *Runner) run() {
	for {
		select {
		case <-r.stopCh:
			return
		case <-time.After(r.pollInterval):
			if err := r.tick(); err != nil {
				log.Printf("[TASKS] Poll error: %v", err)
				select {
				case <-r.stopCh:
					return
				case <-time.After(r.errBackoff):
				}
			}
		}
	}
}

// tick executes every task whose fire time has passed. A task that fails to
// update the pump row stays persisted and is retried on the next tick.
func (r *Runner) tick() error {
	due, err := r.store.DueTasks(r.now())
	if err != nil {
		return fmt.Errorf("failed to load due tasks: %w", err)
	}
	for _, task := range due {
		r.execute(task)
	}
	return nil
}

func (r *Runner) execute(task models.DelayedTask) {
	now := r.now()
	if err := r.store.SetPumpRunning(task.PumpID, false, now); err != nil {
		log.Printf("[TASKS] Failed to turn off pump %s, will retry: %v", task.PumpID, err)
		return
	}

	msg := mqtt.ControlMessage{
		DeviceID:  task.PumpID,
		Command:   models.ActionOff,
		Scheduled: task.Scheduled,
		Timestamp: now.Format(time.RFC3339),
	}
	if err := r.pub.Publish(r.topics.PumpControl(), msg); err != nil {
		log.Printf("[TASKS] Failed to publish OFF for pump %s: %v", task.PumpID, err)
	}
	if task.Scheduled {
		if err := r.pub.Publish(r.topics.DeviceControl(task.PumpID), msg); err != nil {
			log.Printf("[TASKS] Failed to publish OFF for pump %s: %v", task.PumpID, err)
		}
	}

	if err := r.store.DeleteTask(task.ID); err != nil {
		log.Printf("[TASKS] Failed to delete completed task %d: %v", task.ID, err)
	}
	if task.JobKey != "" && r.Jobs != nil {
		r.Jobs.RemoveJob(task.JobKey)
	}
	log.Printf("[TASKS] Pump %s turned off after its scheduled duration", task.PumpID)
}
