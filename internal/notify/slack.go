package notify

import (
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/slack-go/slack"
)

// SlackNotifier pushes events to a Slack channel. It is nil-safe: an
// unconfigured notifier silently drops everything, and rate-limit errors
// suppress messages for a backoff window instead of hammering the API.
type SlackNotifier struct {
	api       *slack.Client
	channelID string

	mu           sync.Mutex
	backoffUntil time.Time
}

// NewSlackNotifier returns nil when token or channel are unset; the nil
// receiver is safe to call.
func NewSlackNotifier(token, channelID string) *SlackNotifier {
	if token == "" || channelID == "" {
		log.Println("[SLACK] Token or channel ID not configured, notifications disabled")
		return nil
	}
	return &SlackNotifier{
		api:       slack.New(token),
		channelID: channelID,
	}
}

func (c *SlackNotifier) SensorReading(event SensorEvent) {
	if c == nil {
		return
	}
	text := fmt.Sprintf("Reading from %s on %s: %v", event.DeviceID, event.Topic, event.Value)
	go c.post(text)
}

func (c *SlackNotifier) PumpReading(event PumpEvent) {
	if c == nil {
		return
	}
	state := "off"
	if event.IsRunning {
		state = "on"
	}
	text := fmt.Sprintf("Pump %s reading %v (tank %.1f%%, pump %s)",
		event.PumpID, event.Reading, event.Volume.Percentage, state)
	go c.post(text)
}

func (c *SlackNotifier) post(text string) {
	c.mu.Lock()
	suppressed := time.Now().Before(c.backoffUntil)
	c.mu.Unlock()
	if suppressed {
		return
	}

	_, _, err := c.api.PostMessage(c.channelID, slack.MsgOptionText(text, false))
	if err != nil {
		if isRateLimitError(err) {
			c.handleRateLimit(err)
		} else {
			log.Printf("[SLACK] Failed to send message: %v", err)
		}
	}
}

func isRateLimitError(err error) bool {
	errStr := strings.ToLower(err.Error())
	return strings.Contains(errStr, "rate_limited") ||
		strings.Contains(errStr, "message_limit_exceeded") ||
		strings.Contains(errStr, "too_many_requests")
}

func (c *SlackNotifier) handleRateLimit(err error) {
	backoff := 1 * time.Minute
	if strings.Contains(strings.ToLower(err.Error()), "message_limit_exceeded") {
		backoff = 5 * time.Minute
	}

	c.mu.Lock()
	c.backoffUntil = time.Now().Add(backoff)
	c.mu.Unlock()

	log.Printf("[SLACK] Rate limit detected (%v), suppressing messages for %v", err, backoff)
}

// IsRateLimited reports whether the notifier is in a backoff window.
func (c *SlackNotifier) IsRateLimited() bool {
	if c == nil {
		return false
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return time.Now().Before(c.backoffUntil)
}
