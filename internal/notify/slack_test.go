package notify

import (
	"errors"
	"testing"
	"time"
)

func TestIsRateLimitError(t *testing.T) {
	testCases := []struct {
		name     string
		err      error
		expected bool
	}{
		{
			name:     "message_limit_exceeded error",
			err:      errors.New("message_limit_exceeded"),
			expected: true,
		},
		{
			name:     "rate_limited error",
			err:      errors.New("rate_limited"),
			expected: true,
		},
		{
			name:     "too_many_requests error",
			err:      errors.New("too_many_requests"),
			expected: true,
		},
		{
			name:     "other error",
			err:      errors.New("some other error"),
			expected: false,
		},
		{
			name:     "case insensitive",
			err:      errors.New("MESSAGE_LIMIT_EXCEEDED"),
			expected: true,
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			result := isRateLimitError(tc.err)
			if result != tc.expected {
				t.Errorf("Expected %v, got %v for error: %v", tc.expected, result, tc.err)
			}
		})
	}
}

func TestHandleRateLimit(t *testing.T) {
	client := &SlackNotifier{}

	// message_limit_exceeded gets the longer backoff.
	client.handleRateLimit(errors.New("message_limit_exceeded"))
	remaining := time.Until(client.backoffUntil)
	if remaining < 4*time.Minute || remaining > 5*time.Minute {
		t.Errorf("Expected ~5 minute backoff for message_limit_exceeded, got %v", remaining)
	}

	client.backoffUntil = time.Time{}
	client.handleRateLimit(errors.New("rate_limited"))
	remaining = time.Until(client.backoffUntil)
	if remaining < 30*time.Second || remaining > time.Minute {
		t.Errorf("Expected ~1 minute backoff for rate_limited, got %v", remaining)
	}
}

func TestIsRateLimited(t *testing.T) {
	client := &SlackNotifier{}

	if client.IsRateLimited() {
		t.Error("Expected client to not be rate limited initially")
	}

	client.backoffUntil = time.Now().Add(time.Minute)
	if !client.IsRateLimited() {
		t.Error("Expected client to be rate limited after setting backoff")
	}

	client.backoffUntil = time.Now().Add(-time.Second)
	if client.IsRateLimited() {
		t.Error("Expected client to not be rate limited after backoff expires")
	}
}

func TestNilNotifierIsSafe(t *testing.T) {
	var client *SlackNotifier

	client.SensorReading(SensorEvent{DeviceID: "sensor_01"})
	client.PumpReading(PumpEvent{PumpID: "PUMP_01"})
	if client.IsRateLimited() {
		t.Error("nil notifier must report not rate limited")
	}
}
