package event

import (
	"fmt"
	"net/http"
)

// GoogleParser handles Google push-notification relays (Gmail watch, Drive
// changes). These deliveries carry no HMAC signature; authenticity relies on
// transport-level trust and the provider must be configured with
// auth_scheme none. Deliveries carry no stable id either, so the canonical
// payload digest keys deduplication.
type GoogleParser struct{}

var googleDefinitionKeys = map[string][]string{
	"message_received": {"new_email"},
	"file_changed":     {"file_updated"},
	"event_created":    {"new_calendar_event"},
}

func (p *GoogleParser) Provider() Provider { return ProviderGoogle }

func (p *GoogleParser) DefinitionKeys(eventKey string) []string {
	return googleDefinitionKeys[eventKey]
}

func (p *GoogleParser) Parse(eventKey string, headers http.Header, payload map[string]any) (*Normalized, error) {
	if eventKey == "" {
		eventKey = stringField(payload, "event_type")
	}
	if eventKey == "" {
		return nil, fmt.Errorf("google: missing event type")
	}

	dedupKey := stringField(payload, "history_id")
	if dedupKey == "" {
		dedupKey = stringField(payload, "message_id")
	}
	if dedupKey == "" {
		digest, err := CanonicalDigest(payload)
		if err != nil {
			return nil, fmt.Errorf("google: dedup digest: %w", err)
		}
		dedupKey = digest
	}

	filters := map[string]string{}
	if label := stringField(payload, "label_id"); label != "" {
		filters["label_id"] = label
	}
	if cal := stringField(payload, "calendar_id"); cal != "" {
		filters["calendar_id"] = cal
	}

	return &Normalized{
		EventKey:     eventKey,
		DedupKey:     fmt.Sprintf("google_%s_%s", eventKey, dedupKey),
		Payload:      payload,
		FilterFields: filters,
	}, nil
}
