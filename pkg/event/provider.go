// Package event defines the normalized inbound event model and the
// per-provider parsers that turn raw webhook payloads into routable events.
package event

import "fmt"

// Provider identifies the external service an event originated from.
type Provider string

const (
	ProviderGitHub  Provider = "github"
	ProviderSlack   Provider = "slack"
	ProviderDiscord Provider = "discord"
	ProviderNotion  Provider = "notion"
	ProviderGoogle  Provider = "google"
)

// ParseProvider validates a provider path segment.
func ParseProvider(s string) (Provider, error) {
	switch Provider(s) {
	case ProviderGitHub, ProviderSlack, ProviderDiscord, ProviderNotion, ProviderGoogle:
		return Provider(s), nil
	}
	return "", fmt.Errorf("unknown provider %q", s)
}

// String implements fmt.Stringer.
func (p Provider) String() string { return string(p) }
