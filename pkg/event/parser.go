package event

import (
	"fmt"
	"net/http"
)

// Parser normalizes one provider's webhook deliveries. Implementations are
// registered in a Registry at startup; adding a provider means registering a
// new variant, not editing a dispatch switch.
type Parser interface {
	// Provider returns the provider this parser handles.
	Provider() Provider
	// Parse normalizes a delivery. eventKey is the provider-native event
	// type extracted by the HTTP layer (header or payload, provider
	// dependent; may be empty when the payload carries it).
	Parse(eventKey string, headers http.Header, payload map[string]any) (*Normalized, error)
	// DefinitionKeys maps a provider event key to the action definition
	// keys it can trigger. An empty result means the event is unroutable.
	DefinitionKeys(eventKey string) []string
}

// Registry is the provider parser lookup table.
type Registry struct {
	parsers map[Provider]Parser
}

// NewRegistry returns a registry pre-populated with all built-in parsers.
func NewRegistry() *Registry {
	r := &Registry{parsers: make(map[Provider]Parser)}
	r.Register(&GitHubParser{})
	r.Register(&SlackParser{})
	r.Register(&DiscordParser{})
	r.Register(&NotionParser{})
	r.Register(&GoogleParser{})
	return r
}

// Register adds or replaces the parser for its provider.
func (r *Registry) Register(p Parser) {
	r.parsers[p.Provider()] = p
}

// Lookup returns the parser for a provider.
func (r *Registry) Lookup(provider Provider) (Parser, error) {
	p, ok := r.parsers[provider]
	if !ok {
		return nil, fmt.Errorf("no parser registered for provider %q", provider)
	}
	return p, nil
}

// stringField extracts a string payload field, walking one level of nesting
// for each path element.
func stringField(payload map[string]any, path ...string) string {
	cur := any(payload)
	for _, key := range path {
		m, ok := cur.(map[string]any)
		if !ok {
			return ""
		}
		cur = m[key]
	}
	s, _ := cur.(string)
	return s
}
