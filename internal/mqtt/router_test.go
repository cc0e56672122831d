package mqtt

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRouterDispatchExact(t *testing.T) {
	r := NewRouter()

	var gotDevice string
	r.HandleExact("mynode/auth", func(deviceID string, _ []byte) {
		gotDevice = deviceID
	})

	r.Dispatch("mynode/auth", []byte(`{"device_id":"sensor_01","action":"auth_request"}`))
	assert.Equal(t, "sensor_01", gotDevice)
}

func TestRouterNormalizesTopicCase(t *testing.T) {
	r := NewRouter()

	called := false
	r.HandleExact("mynode/Temperature", func(string, []byte) { called = true })

	// Devices publish with inconsistent casing.
	r.Dispatch("mynode/temperature", []byte(`{"device_id":"sensor_01"}`))
	assert.True(t, called)
}

func TestRouterExactWinsOverPrefix(t *testing.T) {
	r := NewRouter()

	var got string
	r.HandlePrefix("mynode/", func(string, []byte) { got = "prefix" })
	r.HandleExact("mynode/auth", func(string, []byte) { got = "exact" })

	r.Dispatch("mynode/auth", []byte(`{"device_id":"d"}`))
	assert.Equal(t, "exact", got)
}

func TestRouterPrefixFallback(t *testing.T) {
	r := NewRouter()

	var gotDevice string
	r.HandlePrefix("mynode/", func(deviceID string, _ []byte) { gotDevice = deviceID })

	r.Dispatch("mynode/PUMP_01/status", []byte(`{"device_id":"PUMP_01"}`))
	assert.Equal(t, "PUMP_01", gotDevice)
}

func TestRouterDropsMalformedMessages(t *testing.T) {
	tests := []struct {
		name    string
		payload string
	}{
		{"invalid json", `{not json`},
		{"missing device_id", `{"action":"auth_request"}`},
		{"empty device_id", `{"device_id":""}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := NewRouter()
			called := false
			r.HandleExact("mynode/auth", func(string, []byte) { called = true })

			r.Dispatch("mynode/auth", []byte(tt.payload))
			assert.False(t, called, "handler must not run for malformed messages")
		})
	}
}

func TestRouterUnknownTopicIsDropped(t *testing.T) {
	r := NewRouter()
	r.HandleExact("mynode/auth", func(string, []byte) {
		t.Fatal("wrong handler invoked")
	})

	r.Dispatch("othernode/auth", []byte(`{"device_id":"d"}`))
}

func TestTopics(t *testing.T) {
	topics := Topics{Prefix: "mynode"}

	assert.Equal(t, "mynode/auth", topics.Auth())
	assert.Equal(t, "mynode/default/config/sleep", topics.SleepConfig())
	assert.Equal(t, "mynode/sensor_7/config/sleep", topics.DeviceSleepConfig("sensor_7"))
	assert.Equal(t, "mynode/PUMP_01/control", topics.DeviceControl("PUMP_01"))
	assert.Equal(t, "mynode/pump_control", topics.PumpControl())
}
