// Package rules evaluates the operator's automation rules against incoming
// telemetry and issues pump commands.
package rules

import (
	"errors"
	"log"
	"time"

	"github.com/prite36/water-tank-system/internal/models"
	"github.com/prite36/water-tank-system/internal/mqtt"
	"github.com/prite36/water-tank-system/internal/store"
)

// Audit tags recorded for refused actions.
const (
	errPumpAlreadyOn    = "error: pump_already_on"
	errWaterLevelTooLow = "error: water_level_too_low"
)

// lowWaterCutoff is the water-level percentage below which an "on" rule is
// refused to protect the pump from running dry.
const lowWaterCutoff = 10.0

type Store interface {
	ActiveRules(sensorID, readingType string) ([]models.Rule, error)
	GetPump(pumpID string) (*models.Pump, error)
	SetPumpRunning(pumpID string, running bool, at time.Time) error
	AppendRuleAction(ruleID uint, sensorValue float64, actionTaken string) error
}

type Publisher interface {
	Publish(topic string, payload interface{}) error
}

// AutoOffArmer persists a delayed turn-off commitment.
type AutoOffArmer interface {
	ArmAutoOff(pumpID string, after time.Duration, scheduled bool, jobKey string) error
}

type Engine struct {
	store  Store
	pub    Publisher
	armer  AutoOffArmer
	topics mqtt.Topics
	now    func() time.Time
}

func NewEngine(s Store, pub Publisher, armer AutoOffArmer, topics mqtt.Topics) *Engine {
	return &Engine{
		store:  s,
		pub:    pub,
		armer:  armer,
		topics: topics,
		now:    time.Now,
	}
}

// Evaluate runs every active rule matching the sensor and reading type, in
// ascending rule id. Rules are independent: one rule's refusal never blocks
// another's action.
func (e *Engine) Evaluate(sensorID, readingType string, value float64) {
	rules, err := e.store.ActiveRules(sensorID, readingType)
	if err != nil {
		log.Printf("[RULE] Failed to load rules for %s/%s: %v", sensorID, readingType, err)
		return
	}

	for _, rule := range rules {
		e.evaluateRule(rule, readingType, value)
	}
}

func (e *Engine) evaluateRule(rule models.Rule, readingType string, value float64) {
	triggered := false
	switch rule.ComparisonType {
	case models.ComparisonAbove:
		triggered = value > rule.ThresholdValue
	case models.ComparisonBelow:
		triggered = value < rule.ThresholdValue
	}
	if !triggered {
		return
	}

	log.Printf("[RULE] Rule %d triggered by %s=%v for pump %s", rule.ID, readingType, value, rule.PumpID)

	pump, err := e.store.GetPump(rule.PumpID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			log.Printf("[RULE] Pump %s not found, skipping rule %d", rule.PumpID, rule.ID)
		} else {
			log.Printf("[RULE] Failed to load pump %s: %v", rule.PumpID, err)
		}
		return
	}

	switch rule.Action {
	case models.ActionOn:
		e.turnOn(rule, pump, readingType, value)
	case models.ActionOff:
		e.turnOff(rule, pump, value)
	}
}

func (e *Engine) turnOn(rule models.Rule, pump *models.Pump, readingType string, value float64) {
	// An existing run is left untouched; in particular its duration timer
	// is not restarted.
	if pump.IsRunning {
		log.Printf("[RULE] Pump %s is already on, ignoring turn-on from rule %d", pump.PumpID, rule.ID)
		e.audit(rule.ID, value, errPumpAlreadyOn)
		return
	}

	if readingType == models.ReadingWaterLevel && value < lowWaterCutoff {
		log.Printf("[RULE] Water level too low (%v), refusing turn-on of pump %s", value, pump.PumpID)
		e.audit(rule.ID, value, errWaterLevelTooLow)
		return
	}

	now := e.now()
	if err := e.store.SetPumpRunning(pump.PumpID, true, now); err != nil {
		log.Printf("[RULE] Failed to turn on pump %s: %v", pump.PumpID, err)
		return
	}
	e.audit(rule.ID, value, models.ActionOn)

	msg := mqtt.ControlMessage{
		DeviceID:  pump.PumpID,
		Command:   models.ActionOn,
		Timestamp: now.Format(time.RFC3339),
	}
	if err := e.pub.Publish(e.topics.DeviceControl(pump.PumpID), msg); err != nil {
		log.Printf("[RULE] Failed to publish ON for pump %s: %v", pump.PumpID, err)
	}

	if rule.Duration > 0 {
		after := time.Duration(rule.Duration) * time.Minute
		if err := e.armer.ArmAutoOff(pump.PumpID, after, false, ""); err != nil {
			log.Printf("[RULE] %v", err)
		}
	}
}

func (e *Engine) turnOff(rule models.Rule, pump *models.Pump, value float64) {
	// Already off: skip silently, asymmetric with the turn-on case.
	if !pump.IsRunning {
		return
	}

	now := e.now()
	if err := e.store.SetPumpRunning(pump.PumpID, false, now); err != nil {
		log.Printf("[RULE] Failed to turn off pump %s: %v", pump.PumpID, err)
		return
	}
	e.audit(rule.ID, value, models.ActionOff)

	// An off rule is always instantaneous and absolute.
	msg := mqtt.ControlMessage{
		DeviceID:  pump.PumpID,
		Command:   models.ActionOff,
		Timestamp: now.Format(time.RFC3339),
	}
	if err := e.pub.Publish(e.topics.PumpControl(), msg); err != nil {
		log.Printf("[RULE] Failed to publish OFF for pump %s: %v", pump.PumpID, err)
	}
}

func (e *Engine) audit(ruleID uint, value float64, action string) {
	if err := e.store.AppendRuleAction(ruleID, value, action); err != nil {
		log.Printf("[RULE] Failed to record action %q for rule %d: %v", action, ruleID, err)
	}
}
