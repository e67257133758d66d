package event

import (
	"net/http"
	"time"
)

// Inbound is the ephemeral representation of one webhook delivery. It is
// constructed per HTTP request and discarded after routing; nothing persists
// it.
type Inbound struct {
	Provider   Provider
	EventKey   string
	RawBody    []byte
	Headers    http.Header
	Payload    map[string]any
	ReceivedAt time.Time
}

// Normalized is the parser output the router consumes.
type Normalized struct {
	// EventKey is the provider-native event type (e.g. "issues", "message").
	EventKey string
	// DedupKey deterministically identifies this logical event occurrence.
	// Two deliveries of the same occurrence always produce the same key.
	DedupKey string
	// Payload is the structured event data handed to matching automations.
	Payload map[string]any
	// FilterFields are the payload fields that carry filter semantics for
	// this provider/event (e.g. channel_id, guild_id, database_id). The
	// router compares them against instance params of the same name.
	FilterFields map[string]string
}
