package mqtt

import (
	"encoding/json"
	"log"
	"strings"
)

// Handler processes one inbound message. The device id has already been
// extracted from the envelope; payload is the raw JSON body.
type Handler func(deviceID string, payload []byte)

type prefixRoute struct {
	prefix  string
	handler Handler
}

// Router demultiplexes inbound messages by topic. Exact matches win over
// prefix rules; topics are normalized to lower case before exact matching
// (devices publish with inconsistent casing, e.g. mynode/Temperature).
type Router struct {
	exact    map[string]Handler
	prefixes []prefixRoute
}

func NewRouter() *Router {
	return &Router{exact: make(map[string]Handler)}
}

func (r *Router) HandleExact(topic string, h Handler) {
	r.exact[strings.ToLower(topic)] = h
}

// HandlePrefix registers a handler for all topics under the given prefix.
// Prefix rules are tried in registration order after exact matches.
func (r *Router) HandlePrefix(prefix string, h Handler) {
	r.prefixes = append(r.prefixes, prefixRoute{prefix: strings.ToLower(prefix), handler: h})
}

type envelope struct {
	DeviceID string `json:"device_id"`
}

// Dispatch validates the envelope and invokes the matching handler.
// Malformed messages are logged and dropped with no reply.
func (r *Router) Dispatch(topic string, payload []byte) {
	var env envelope
	if err := json.Unmarshal(payload, &env); err != nil {
		log.Printf("[ROUTER] Invalid JSON payload on %s: %v", topic, err)
		return
	}
	if env.DeviceID == "" {
		log.Printf("[ROUTER] No device_id in message on %s", topic)
		return
	}

	normalized := strings.ToLower(topic)
	if h, ok := r.exact[normalized]; ok {
		h(env.DeviceID, payload)
		return
	}
	for _, p := range r.prefixes {
		if strings.HasPrefix(normalized, p.prefix) {
			p.handler(env.DeviceID, payload)
			return
		}
	}
	log.Printf("[ROUTER] No handler for topic: %s", topic)
}
