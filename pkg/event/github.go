package event

import (
	"fmt"
	"net/http"
)

// GitHubParser handles GitHub webhook deliveries. The event key arrives in
// the X-GitHub-Event header and every delivery carries a unique
// X-GitHub-Delivery id, which doubles as the dedup key.
type GitHubParser struct{}

var githubDefinitionKeys = map[string][]string{
	"issues":       {"new_issue", "issue_updated"},
	"issue_comment": {"new_issue_comment"},
	"push":         {"new_push"},
	"pull_request": {"new_pull_request", "pull_request_updated"},
	"star":         {"new_star"},
	"release":      {"new_release"},
}

func (p *GitHubParser) Provider() Provider { return ProviderGitHub }

func (p *GitHubParser) DefinitionKeys(eventKey string) []string {
	return githubDefinitionKeys[eventKey]
}

func (p *GitHubParser) Parse(eventKey string, headers http.Header, payload map[string]any) (*Normalized, error) {
	if eventKey == "" {
		eventKey = headers.Get("X-GitHub-Event")
	}
	if eventKey == "" {
		return nil, fmt.Errorf("github: missing X-GitHub-Event header")
	}

	dedupKey := headers.Get("X-GitHub-Delivery")
	if dedupKey == "" {
		digest, err := CanonicalDigest(payload)
		if err != nil {
			return nil, fmt.Errorf("github: dedup digest: %w", err)
		}
		dedupKey = digest
	}

	filters := map[string]string{}
	if repo := stringField(payload, "repository", "full_name"); repo != "" {
		filters["repository"] = repo
	}
	if owner := stringField(payload, "repository", "owner", "login"); owner != "" {
		filters["owner"] = owner
	}
	if action := stringField(payload, "action"); action != "" {
		filters["action"] = action
	}

	return &Normalized{
		EventKey:     eventKey,
		DedupKey:     fmt.Sprintf("github_delivery_%s", dedupKey),
		Payload:      payload,
		FilterFields: filters,
	}, nil
}
