// Package server exposes the REST API for the dashboard: sensor discovery
// and claiming, pump setup and control, automation rules and schedules.
package server

import (
	"log"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/rs/cors"

	"github.com/prite36/water-tank-system/internal/config"
	"github.com/prite36/water-tank-system/internal/ingest"
	"github.com/prite36/water-tank-system/internal/models"
	"github.com/prite36/water-tank-system/internal/mqtt"
	"github.com/prite36/water-tank-system/internal/registry"
)

type Store interface {
	ListSensors() ([]models.Sensor, error)
	UnclaimedSensors() ([]models.Sensor, error)
	ClaimSensor(deviceID, name, location string) error
	DeleteSensor(deviceID string) error
	RecentReadings(deviceID string, limit int) ([]models.Reading, error)
	WaterLevelReadings(pumpID string, limit int) ([]models.Reading, error)
	ListPumps() ([]models.Pump, error)
	GetPump(pumpID string) (*models.Pump, error)
	SetPumpRunning(pumpID string, running bool, at time.Time) error
	CreateRule(rule *models.Rule) error
	DeleteRule(ruleID uint) error
	ToggleRule(ruleID uint) error
	RulesForPump(pumpID string) ([]models.Rule, error)
	RuleHistory(pumpID string, limit int) ([]models.RuleAction, error)
}

// Registrar is the handshake-side surface the API needs: operator pushes
// that also notify the device over MQTT.
type Registrar interface {
	SetSleepTime(deviceID string, sleepSeconds int) error
	SetupPump(pumpID string, data map[string]interface{}) (*models.Pump, error)
}

type Scheduler interface {
	Add(pumpID, date, timeStr string, duration int) error
	List(pumpID string) ([]models.Schedule, error)
	Cancel(pumpID, date, timeStr string) error
}

type Publisher interface {
	Publish(topic string, payload interface{}) error
}

type Server struct {
	store    Store
	reg      Registrar
	sched    Scheduler
	pub      Publisher
	pending  *registry.PendingRegistry
	statuses *ingest.StatusView
	topics   mqtt.Topics
	now      func() time.Time
}

func NewServer(store Store, reg Registrar, sched Scheduler, pub Publisher,
	pending *registry.PendingRegistry, statuses *ingest.StatusView, topics mqtt.Topics) *Server {
	return &Server{
		store:    store,
		reg:      reg,
		sched:    sched,
		pub:      pub,
		pending:  pending,
		statuses: statuses,
		topics:   topics,
		now:      time.Now,
	}
}

// Router wires all API routes.
func (s *Server) Router() *mux.Router {
	r := mux.NewRouter()

	r.HandleFunc("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.Write([]byte("OK"))
	}).Methods(http.MethodGet)

	// Sensors
	r.HandleFunc("/api/sensors", s.handleListSensors).Methods(http.MethodGet)
	r.HandleFunc("/api/sensors/unclaimed", s.handleUnclaimedSensors).Methods(http.MethodGet)
	r.HandleFunc("/api/sensors/claim", s.handleClaimSensor).Methods(http.MethodPost)
	r.HandleFunc("/api/delete-sensor", s.handleDeleteSensor).Methods(http.MethodPost)
	r.HandleFunc("/api/get-readings", s.handleGetReadings).Methods(http.MethodGet)
	r.HandleFunc("/api/set-sleep-time", s.handleSetSleepTime).Methods(http.MethodPost)

	// Pumps
	r.HandleFunc("/api/pumps", s.handleListPumps).Methods(http.MethodGet)
	r.HandleFunc("/api/pending-pumps", s.handlePendingPumps).Methods(http.MethodGet)
	r.HandleFunc("/api/pumps/readings", s.handleAllPumpReadings).Methods(http.MethodGet)
	r.HandleFunc("/api/pump/{pump_id}/readings", s.handlePumpReadings).Methods(http.MethodGet)
	r.HandleFunc("/api/pump/{pump_id}/setup", s.handleSetupPump).Methods(http.MethodPost)
	r.HandleFunc("/api/pump/{pump_id}/control", s.handleControlPump).Methods(http.MethodPost)
	r.HandleFunc("/api/pump/{pump_id}/status", s.handlePumpStatus).Methods(http.MethodGet)

	// Automation rules
	r.HandleFunc("/api/pump/{pump_id}/rules", s.handleGetRules).Methods(http.MethodGet)
	r.HandleFunc("/api/pump/{pump_id}/rules", s.handleAddRule).Methods(http.MethodPost)
	r.HandleFunc("/api/pump/rule/{rule_id}", s.handleDeleteRule).Methods(http.MethodDelete)
	r.HandleFunc("/api/pump/rule/{rule_id}/toggle", s.handleToggleRule).Methods(http.MethodPost)
	r.HandleFunc("/api/pump/{pump_id}/rule-history", s.handleRuleHistory).Methods(http.MethodGet)

	// Schedules
	r.HandleFunc("/api/pump/{pump_id}/schedule", s.handleAddSchedule).Methods(http.MethodPost)
	r.HandleFunc("/api/pump/{pump_id}/schedules", s.handleGetSchedules).Methods(http.MethodGet)
	r.HandleFunc("/api/pump/{pump_id}/schedule", s.handleDeleteSchedule).Methods(http.MethodDelete)

	return r
}

// New builds the HTTP server with CORS applied, listening on the configured
// address.
func New(cfg *config.Config, s *Server) *http.Server {
	c := cors.New(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Requested-With"},
		AllowCredentials: false,
	})

	log.Printf("[API] Server configured to listen on %s", cfg.HTTP.Addr)
	return &http.Server{
		Addr:    cfg.HTTP.Addr,
		Handler: c.Handler(s.Router()),
	}
}
