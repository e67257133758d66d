package event

import (
	"fmt"
	"net/http"
)

// DiscordParser handles Discord gateway events relayed over the webhook
// endpoint. Message and reaction snowflake ids key deduplication.
type DiscordParser struct{}

var discordDefinitionKeys = map[string][]string{
	"MESSAGE_CREATE":       {"new_message"},
	"MESSAGE_REACTION_ADD": {"new_reaction"},
	"GUILD_MEMBER_ADD":     {"new_member"},
	"CHANNEL_CREATE":       {"new_channel"},
}

func (p *DiscordParser) Provider() Provider { return ProviderDiscord }

func (p *DiscordParser) DefinitionKeys(eventKey string) []string {
	return discordDefinitionKeys[eventKey]
}

func (p *DiscordParser) Parse(eventKey string, headers http.Header, payload map[string]any) (*Normalized, error) {
	if eventKey == "" {
		eventKey = stringField(payload, "t")
	}
	if eventKey == "" {
		return nil, fmt.Errorf("discord: missing event type")
	}
	data, _ := payload["d"].(map[string]any)
	if data == nil {
		data = payload
	}

	filters := map[string]string{}
	if ch := stringField(data, "channel_id"); ch != "" {
		filters["channel_id"] = ch
	}
	if guild := stringField(data, "guild_id"); guild != "" {
		filters["guild_id"] = guild
	}

	return &Normalized{
		EventKey:     eventKey,
		DedupKey:     p.dedupKey(eventKey, data),
		Payload:      data,
		FilterFields: filters,
	}, nil
}

func (p *DiscordParser) dedupKey(eventKey string, data map[string]any) string {
	switch eventKey {
	case "MESSAGE_CREATE":
		return fmt.Sprintf("discord_message_%s", stringField(data, "id"))
	case "MESSAGE_REACTION_ADD":
		return fmt.Sprintf("discord_reaction_%s_%s_%s",
			stringField(data, "message_id"),
			stringField(data, "user_id"),
			stringField(data, "emoji", "name"))
	case "GUILD_MEMBER_ADD":
		return fmt.Sprintf("discord_member_%s_%s",
			stringField(data, "guild_id"),
			stringField(data, "user", "id"))
	}
	digest, err := CanonicalDigest(data)
	if err != nil {
		return fmt.Sprintf("discord_%s_unkeyed", eventKey)
	}
	return fmt.Sprintf("discord_%s_%s", eventKey, digest)
}
