package mqtt

// ControlMessage is the outbound pump command payload.
type ControlMessage struct {
	DeviceID  string `json:"device_id"`
	Command   string `json:"command"`
	Duration  int    `json:"duration,omitempty"`
	Scheduled bool   `json:"scheduled,omitempty"`
	Timestamp string `json:"timestamp"`
}

// AckMessage acknowledges a received telemetry event.
type AckMessage struct {
	DeviceID string `json:"device_id"`
	Status   string `json:"status"`
}
