package server

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"

	"github.com/prite36/water-tank-system/internal/ingest"
	"github.com/prite36/water-tank-system/internal/models"
	"github.com/prite36/water-tank-system/internal/mqtt"
	"github.com/prite36/water-tank-system/internal/registry"
	"github.com/prite36/water-tank-system/internal/scheduler"
	"github.com/prite36/water-tank-system/internal/store"
	"github.com/prite36/water-tank-system/internal/tank"
)

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("[API] Failed to encode response: %v", err)
	}
}

func apiError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// --- Sensors ---

func (s *Server) handleListSensors(w http.ResponseWriter, _ *http.Request) {
	sensors, err := s.store.ListSensors()
	if err != nil {
		apiError(w, http.StatusInternalServerError, "Failed to list sensors")
		return
	}
	writeJSON(w, http.StatusOK, sensors)
}

func (s *Server) handleUnclaimedSensors(w http.ResponseWriter, _ *http.Request) {
	sensors, err := s.store.UnclaimedSensors()
	if err != nil {
		apiError(w, http.StatusInternalServerError, "Failed to list unclaimed sensors")
		return
	}
	writeJSON(w, http.StatusOK, sensors)
}

func (s *Server) handleClaimSensor(w http.ResponseWriter, r *http.Request) {
	var req struct {
		DeviceID string `json:"device_id"`
		Location string `json:"location"`
		Name     string `json:"name"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]interface{}{"success": false, "message": "No data received"})
		return
	}
	if req.DeviceID == "" || req.Location == "" || req.Name == "" {
		writeJSON(w, http.StatusBadRequest, map[string]interface{}{"success": false, "message": "Missing required fields"})
		return
	}

	if err := s.store.ClaimSensor(req.DeviceID, req.Name, req.Location); err != nil {
		if errors.Is(err, store.ErrNotFound) || errors.Is(err, store.ErrAlreadyClaimed) {
			writeJSON(w, http.StatusBadRequest, map[string]interface{}{
				"success": false, "message": "Sensor not found or already claimed",
			})
			return
		}
		writeJSON(w, http.StatusInternalServerError, map[string]interface{}{"success": false, "message": "Error claiming sensor"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"success": true, "message": "Sensor claimed successfully"})
}

func (s *Server) handleDeleteSensor(w http.ResponseWriter, r *http.Request) {
	var req struct {
		DeviceID string `json:"device_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.DeviceID == "" {
		writeJSON(w, http.StatusBadRequest, map[string]interface{}{"success": false, "message": "Missing device_id"})
		return
	}
	if err := s.store.DeleteSensor(req.DeviceID); err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]interface{}{"success": false, "message": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"success": true, "message": "Sensor deleted successfully"})
}

func (s *Server) handleGetReadings(w http.ResponseWriter, r *http.Request) {
	sensorID := r.URL.Query().Get("sensor")
	if sensorID == "" {
		sensorID = "all"
	}
	limit := queryInt(r, "limit", 100)

	readings, err := s.store.RecentReadings(sensorID, limit)
	if err != nil {
		apiError(w, http.StatusInternalServerError, "Failed to load readings")
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"success": true, "readings": readings})
}

func (s *Server) handleSetSleepTime(w http.ResponseWriter, r *http.Request) {
	var req struct {
		DeviceID  string `json:"device_id"`
		SleepTime int    `json:"sleep_time"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]interface{}{"success": false, "message": "Invalid parameters"})
		return
	}
	if err := s.reg.SetSleepTime(req.DeviceID, req.SleepTime); err != nil {
		if errors.Is(err, registry.ErrInvalidParams) {
			writeJSON(w, http.StatusBadRequest, map[string]interface{}{"success": false, "message": "Invalid parameters"})
			return
		}
		writeJSON(w, http.StatusInternalServerError, map[string]interface{}{"success": false, "message": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"success": true})
}

// --- Pumps ---

func (s *Server) handleListPumps(w http.ResponseWriter, _ *http.Request) {
	pumps, err := s.store.ListPumps()
	if err != nil {
		apiError(w, http.StatusInternalServerError, "Failed to list pumps")
		return
	}
	writeJSON(w, http.StatusOK, pumps)
}

func (s *Server) handlePendingPumps(w http.ResponseWriter, _ *http.Request) {
	ids := s.pending.IDs()
	if ids == nil {
		ids = []string{}
	}
	writeJSON(w, http.StatusOK, ids)
}

func (s *Server) handlePumpReadings(w http.ResponseWriter, r *http.Request) {
	pumpID := mux.Vars(r)["pump_id"]
	limit := queryInt(r, "limit", 100)

	readings, err := s.store.WaterLevelReadings(pumpID, limit)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]interface{}{"success": false, "error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"success": true, "readings": readings})
}

// pumpReading is the latest-reading view derived from the pump rows.
type pumpReading struct {
	PumpID      string     `json:"pump_id"`
	Name        string     `json:"name"`
	Location    string     `json:"location"`
	LastReading *float64   `json:"last_reading"`
	LastUpdate  *time.Time `json:"last_update"`
}

func (s *Server) handleAllPumpReadings(w http.ResponseWriter, _ *http.Request) {
	pumps, err := s.store.ListPumps()
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]interface{}{"success": false, "error": err.Error()})
		return
	}
	readings := make([]pumpReading, 0, len(pumps))
	for _, p := range pumps {
		readings = append(readings, pumpReading{
			PumpID:      p.PumpID,
			Name:        p.Name,
			Location:    p.Location,
			LastReading: p.LastReading,
			LastUpdate:  p.LastUpdate,
		})
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"success": true, "readings": readings})
}

func (s *Server) handleSetupPump(w http.ResponseWriter, r *http.Request) {
	pumpID := mux.Vars(r)["pump_id"]

	var data map[string]interface{}
	if err := json.NewDecoder(r.Body).Decode(&data); err != nil || data == nil {
		apiError(w, http.StatusBadRequest, "No data provided")
		return
	}

	pump, err := s.reg.SetupPump(pumpID, data)
	switch {
	case err == nil:
	case errors.Is(err, store.ErrNotFound):
		apiError(w, http.StatusNotFound, "Pump not found")
		return
	case errors.Is(err, registry.ErrInvalidTankShape),
		errors.Is(err, registry.ErrInvalidBoxDims),
		errors.Is(err, registry.ErrInvalidCylinderDims):
		apiError(w, http.StatusBadRequest, err.Error())
		return
	default:
		apiError(w, http.StatusInternalServerError, "Failed to setup pump")
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{"status": "success", "pump": pump})
}

func (s *Server) handleControlPump(w http.ResponseWriter, r *http.Request) {
	pumpID := mux.Vars(r)["pump_id"]

	var req struct {
		Command string `json:"command"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		apiError(w, http.StatusBadRequest, "No data provided")
		return
	}
	if req.Command != models.ActionOn && req.Command != models.ActionOff {
		apiError(w, http.StatusBadRequest, `Invalid command. Must be "on" or "off"`)
		return
	}

	if _, err := s.store.GetPump(pumpID); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			apiError(w, http.StatusNotFound, "Pump not found")
			return
		}
		apiError(w, http.StatusInternalServerError, "Failed to control pump")
		return
	}

	now := s.now()
	if err := s.store.SetPumpRunning(pumpID, req.Command == models.ActionOn, now); err != nil {
		apiError(w, http.StatusInternalServerError, "Failed to control pump")
		return
	}

	msg := mqtt.ControlMessage{
		DeviceID:  pumpID,
		Command:   req.Command,
		Timestamp: now.Format(time.RFC3339),
	}
	// Both topics, for device compatibility.
	if err := s.pub.Publish(s.topics.PumpControl(), msg); err != nil {
		log.Printf("[PUMP] Failed to publish control for %s: %v", pumpID, err)
	}
	if err := s.pub.Publish(s.topics.DeviceControl(pumpID), msg); err != nil {
		log.Printf("[PUMP] Failed to publish control for %s: %v", pumpID, err)
	}
	log.Printf("[PUMP] Sent control command %s to %s", req.Command, pumpID)

	writeJSON(w, http.StatusOK, map[string]string{
		"status":  "success",
		"message": "Pump " + req.Command + " command sent successfully",
	})
}

type pumpStatusResponse struct {
	PumpID     string                 `json:"pump_id"`
	Name       string                 `json:"name"`
	Location   string                 `json:"location"`
	Status     models.PumpStatus      `json:"status"`
	IsRunning  bool                   `json:"is_running"`
	LastUpdate *time.Time             `json:"last_update"`
	Volume     *tank.Volume           `json:"volume,omitempty"`
	Reported   *ingest.ReportedStatus `json:"reported,omitempty"`
}

func (s *Server) handlePumpStatus(w http.ResponseWriter, r *http.Request) {
	pumpID := mux.Vars(r)["pump_id"]

	pump, err := s.store.GetPump(pumpID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			apiError(w, http.StatusNotFound, "Pump not found")
			return
		}
		apiError(w, http.StatusInternalServerError, "Failed to get pump status")
		return
	}

	resp := pumpStatusResponse{
		PumpID:     pump.PumpID,
		Name:       pump.Name,
		Location:   pump.Location,
		Status:     pump.Status,
		IsRunning:  pump.IsRunning,
		LastUpdate: pump.LastUpdate,
	}
	if volume, err := tank.Calculate(pump); err == nil {
		resp.Volume = volume
	}
	if reported, ok := s.statuses.Get(pumpID); ok {
		resp.Reported = &reported
	}
	writeJSON(w, http.StatusOK, resp)
}

// --- Automation rules ---

func (s *Server) handleGetRules(w http.ResponseWriter, r *http.Request) {
	rules, err := s.store.RulesForPump(mux.Vars(r)["pump_id"])
	if err != nil {
		apiError(w, http.StatusInternalServerError, "Failed to list rules")
		return
	}
	if rules == nil {
		rules = []models.Rule{}
	}
	writeJSON(w, http.StatusOK, rules)
}

func (s *Server) handleAddRule(w http.ResponseWriter, r *http.Request) {
	pumpID := mux.Vars(r)["pump_id"]

	var req struct {
		SensorID       string   `json:"sensor_id"`
		ReadingType    string   `json:"reading_type"`
		ComparisonType string   `json:"comparison_type"`
		ThresholdValue *float64 `json:"threshold_value"`
		Action         string   `json:"action"`
		Duration       *int     `json:"duration"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		apiError(w, http.StatusBadRequest, "No data provided")
		return
	}
	if req.SensorID == "" || req.ReadingType == "" || req.ComparisonType == "" ||
		req.Action == "" || req.ThresholdValue == nil || req.Duration == nil {
		apiError(w, http.StatusBadRequest, "Missing required fields")
		return
	}
	if req.ReadingType != models.ReadingTemperature && req.ReadingType != models.ReadingMoisture {
		apiError(w, http.StatusBadRequest, "Invalid reading type")
		return
	}

	rule := models.Rule{
		PumpID:         pumpID,
		SensorID:       req.SensorID,
		ReadingType:    req.ReadingType,
		ThresholdValue: *req.ThresholdValue,
		ComparisonType: req.ComparisonType,
		Action:         req.Action,
		Duration:       *req.Duration,
		IsActive:       true,
	}
	if err := s.store.CreateRule(&rule); err != nil {
		apiError(w, http.StatusInternalServerError, "Failed to create rule")
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"success": true, "id": rule.ID})
}

func (s *Server) handleDeleteRule(w http.ResponseWriter, r *http.Request) {
	ruleID, err := parseID(mux.Vars(r)["rule_id"])
	if err != nil {
		apiError(w, http.StatusBadRequest, "Invalid rule id")
		return
	}
	if err := s.store.DeleteRule(ruleID); err != nil {
		apiError(w, http.StatusInternalServerError, "Failed to delete rule")
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"success": true})
}

func (s *Server) handleToggleRule(w http.ResponseWriter, r *http.Request) {
	ruleID, err := parseID(mux.Vars(r)["rule_id"])
	if err != nil {
		apiError(w, http.StatusBadRequest, "Invalid rule id")
		return
	}
	if err := s.store.ToggleRule(ruleID); err != nil {
		apiError(w, http.StatusInternalServerError, "Failed to toggle rule")
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"success": true})
}

func (s *Server) handleRuleHistory(w http.ResponseWriter, r *http.Request) {
	history, err := s.store.RuleHistory(mux.Vars(r)["pump_id"], 50)
	if err != nil {
		apiError(w, http.StatusInternalServerError, "Failed to load rule history")
		return
	}
	if history == nil {
		history = []models.RuleAction{}
	}
	writeJSON(w, http.StatusOK, history)
}

// --- Schedules ---

func (s *Server) handleAddSchedule(w http.ResponseWriter, r *http.Request) {
	pumpID := mux.Vars(r)["pump_id"]

	var req struct {
		Date     string `json:"date"`
		Time     string `json:"time"`
		Duration *int   `json:"duration"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		apiError(w, http.StatusBadRequest, "No data provided")
		return
	}
	if req.Date == "" || req.Time == "" || req.Duration == nil {
		apiError(w, http.StatusBadRequest, "Missing required fields")
		return
	}

	err := s.sched.Add(pumpID, req.Date, req.Time, *req.Duration)
	switch {
	case err == nil:
	case errors.Is(err, store.ErrNotFound):
		apiError(w, http.StatusNotFound, "Pump not found")
		return
	case errors.Is(err, scheduler.ErrConflict):
		apiError(w, http.StatusConflict, err.Error())
		return
	case errors.Is(err, scheduler.ErrInvalidDateTime),
		errors.Is(err, scheduler.ErrPastSchedule),
		errors.Is(err, scheduler.ErrInvalidDuration):
		apiError(w, http.StatusBadRequest, err.Error())
		return
	default:
		apiError(w, http.StatusInternalServerError, "Failed to add schedule")
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{
		"status":  "success",
		"message": "Schedule added successfully",
	})
}

func (s *Server) handleGetSchedules(w http.ResponseWriter, r *http.Request) {
	schedules, err := s.sched.List(mux.Vars(r)["pump_id"])
	if err != nil {
		apiError(w, http.StatusInternalServerError, "Failed to list schedules")
		return
	}
	if schedules == nil {
		schedules = []models.Schedule{}
	}
	writeJSON(w, http.StatusOK, schedules)
}

func (s *Server) handleDeleteSchedule(w http.ResponseWriter, r *http.Request) {
	pumpID := mux.Vars(r)["pump_id"]

	var req struct {
		Date string `json:"date"`
		Time string `json:"time"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Date == "" || req.Time == "" {
		apiError(w, http.StatusBadRequest, "Missing required fields (date and time)")
		return
	}

	if err := s.sched.Cancel(pumpID, req.Date, req.Time); err != nil {
		if errors.Is(err, scheduler.ErrScheduleNotFound) {
			apiError(w, http.StatusNotFound, "Schedule not found")
			return
		}
		apiError(w, http.StatusInternalServerError, "Failed to delete schedule")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"status":  "success",
		"message": "Schedule deleted successfully",
	})
}

// --- helpers ---

func parseID(raw string) (uint, error) {
	id, err := strconv.ParseUint(raw, 10, 32)
	return uint(id), err
}

func queryInt(r *http.Request, key string, fallback int) int {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return fallback
	}
	v, err := strconv.Atoi(raw)
	if err != nil || v < 1 {
		return fallback
	}
	return v
}
