package mqtt

import "fmt"

// Topics builds the canonical topic names under a configurable prefix
// (default "mynode").
type Topics struct {
	Prefix string
}

func (t Topics) Auth() string        { return t.Prefix + "/auth" }
func (t Topics) Ack() string         { return t.Prefix + "/ack" }
func (t Topics) Temperature() string { return t.Prefix + "/Temperature" }
func (t Topics) Moisture() string    { return t.Prefix + "/moisture" }
func (t Topics) SleepConfig() string { return t.Prefix + "/default/config/sleep" }
func (t Topics) PumpAuth() string    { return t.Prefix + "/pump_auth" }
func (t Topics) WaterLevel() string  { return t.Prefix + "/water_level" }
func (t Topics) PumpStatus() string  { return t.Prefix + "/pump_status" }
func (t Topics) PumpControl() string { return t.Prefix + "/pump_control" }

// DeviceSleepConfig is the per-device channel for proactive sleep pushes.
func (t Topics) DeviceSleepConfig(deviceID string) string {
	return fmt.Sprintf("%s/%s/config/sleep", t.Prefix, deviceID)
}

// DeviceControl is the per-pump control channel, published alongside the
// shared pump_control topic for device compatibility.
func (t Topics) DeviceControl(pumpID string) string {
	return fmt.Sprintf("%s/%s/control", t.Prefix, pumpID)
}
