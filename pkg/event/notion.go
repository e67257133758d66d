package event

import (
	"fmt"
	"net/http"
)

// NotionParser handles Notion webhook deliveries. Notion sends a top-level
// unique id per event and a dotted type string ("page.created").
type NotionParser struct{}

var notionDefinitionKeys = map[string][]string{
	"page.created":            {"new_page"},
	"page.properties_updated": {"page_updated"},
	"page.deleted":            {"page_deleted"},
	"database.created":        {"new_database"},
	"comment.created":         {"new_comment"},
}

func (p *NotionParser) Provider() Provider { return ProviderNotion }

func (p *NotionParser) DefinitionKeys(eventKey string) []string {
	return notionDefinitionKeys[eventKey]
}

func (p *NotionParser) Parse(eventKey string, headers http.Header, payload map[string]any) (*Normalized, error) {
	if eventKey == "" {
		eventKey = stringField(payload, "type")
	}
	if eventKey == "" {
		return nil, fmt.Errorf("notion: missing event type")
	}

	dedupKey := stringField(payload, "id")
	if dedupKey == "" {
		digest, err := CanonicalDigest(payload)
		if err != nil {
			return nil, fmt.Errorf("notion: dedup digest: %w", err)
		}
		dedupKey = digest
	}

	filters := map[string]string{}
	if ws := stringField(payload, "workspace_id"); ws != "" {
		filters["workspace_id"] = ws
	}
	if db := stringField(payload, "entity", "database_id"); db != "" {
		filters["database_id"] = db
	}
	if page := stringField(payload, "entity", "id"); page != "" {
		filters["page_id"] = page
	}

	return &Normalized{
		EventKey:     eventKey,
		DedupKey:     fmt.Sprintf("notion_event_%s", dedupKey),
		Payload:      payload,
		FilterFields: filters,
	}, nil
}
