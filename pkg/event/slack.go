package event

import (
	"fmt"
	"net/http"
)

// SlackParser handles Slack Events API deliveries. The outer envelope wraps
// the actual event under "event"; the envelope's event_id is unique per
// logical event and is reused verbatim on redelivery.
type SlackParser struct{}

var slackDefinitionKeys = map[string][]string{
	"message":          {"new_message", "message_posted"},
	"reaction_added":   {"new_reaction"},
	"channel_created":  {"new_channel"},
	"member_joined_channel": {"member_joined"},
	"app_mention":      {"new_mention"},
}

func (p *SlackParser) Provider() Provider { return ProviderSlack }

func (p *SlackParser) DefinitionKeys(eventKey string) []string {
	return slackDefinitionKeys[eventKey]
}

func (p *SlackParser) Parse(eventKey string, headers http.Header, payload map[string]any) (*Normalized, error) {
	inner, _ := payload["event"].(map[string]any)
	if inner == nil {
		inner = payload
	}
	if eventKey == "" {
		eventKey = stringField(inner, "type")
	}
	if eventKey == "" {
		return nil, fmt.Errorf("slack: missing event type")
	}

	dedupKey := p.dedupKey(eventKey, payload, inner)

	filters := map[string]string{}
	if ch := stringField(inner, "channel"); ch != "" {
		filters["channel_id"] = ch
	}
	if team := stringField(payload, "team_id"); team != "" {
		filters["team_id"] = team
	}
	if user := stringField(inner, "user"); user != "" {
		filters["user_id"] = user
	}

	return &Normalized{
		EventKey:     eventKey,
		DedupKey:     dedupKey,
		Payload:      inner,
		FilterFields: filters,
	}, nil
}

// dedupKey prefers the envelope event_id; message and reaction events fall
// back to keys built from the fields that identify the occurrence, so a
// redelivered message and a new message on the same channel never collide.
func (p *SlackParser) dedupKey(eventKey string, envelope, inner map[string]any) string {
	if id := stringField(envelope, "event_id"); id != "" {
		return fmt.Sprintf("slack_event_%s", id)
	}
	switch eventKey {
	case "message":
		return fmt.Sprintf("slack_message_%s_%s",
			stringField(inner, "channel"), stringField(inner, "ts"))
	case "reaction_added":
		return fmt.Sprintf("slack_reaction_%s_%s_%s",
			stringField(inner, "item", "ts"),
			stringField(inner, "user"),
			stringField(inner, "reaction"))
	}
	digest, err := CanonicalDigest(inner)
	if err != nil {
		return fmt.Sprintf("slack_%s_unkeyed", eventKey)
	}
	return fmt.Sprintf("slack_%s_%s", eventKey, digest)
}
