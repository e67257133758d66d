package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/hookline-dev/hookline/pkg/audit"
	"github.com/hookline-dev/hookline/pkg/dedup"
	"github.com/hookline-dev/hookline/pkg/event"
	"github.com/hookline-dev/hookline/pkg/mapper"
	"github.com/hookline-dev/hookline/pkg/observability"
	"github.com/hookline-dev/hookline/pkg/router"
	"github.com/hookline-dev/hookline/pkg/secrets"
	"github.com/hookline-dev/hookline/pkg/signature"
	"github.com/hookline-dev/hookline/pkg/trigger"

	"log/slog"
)

// WebhookService handles POST /webhooks/{provider}/{userId}. The whole
// ingestion pipeline runs synchronously inside the request; publishing to
// the stream never waits on worker execution.
type WebhookService struct {
	Validator *signature.Validator
	Secrets   *secrets.Store
	Dedup     dedup.Deduplicator
	Parsers   *event.Registry
	Mappings  *mapper.Set
	Router    *router.Router
	Trigger   *trigger.Trigger
	Audit     audit.Logger
	Obs       *observability.Provider
	Logger    *slog.Logger
}

// WebhookResponse is the JSON summary returned to the provider.
type WebhookResponse struct {
	Status    string `json:"status"`
	EventType string `json:"event_type,omitempty"`
	Matched   int    `json:"matched"`
	Triggered int    `json:"triggered"`
}

const maxWebhookBody = 1 << 20 // 1MB

// HandleWebhook implements the ingestion endpoint.
func (s *WebhookService) HandleWebhook(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		WriteMethodNotAllowed(w)
		return
	}
	provider, userID, ok := parseWebhookPath(r.URL.Path)
	if !ok {
		WriteNotFound(w, "Expected /webhooks/{provider}/{userId}")
		return
	}
	prov, err := event.ParseProvider(provider)
	if err != nil {
		WriteNotFound(w, err.Error())
		return
	}
	ctx := r.Context()
	logger := s.Logger.With("provider", provider, "user_id", userID)

	body, err := readBody(w, r)
	if err != nil {
		WriteBadRequest(w, "Unreadable request body")
		return
	}

	// Authenticate before anything touches the payload.
	scheme := s.Secrets.Scheme(prov)
	if scheme == signature.SchemeNone {
		s.Audit.Record(ctx, audit.DecisionUnauthenticated, provider, userID, "", "auth_scheme none", nil)
	} else {
		secret, found := s.Secrets.UserSecret(prov, userID)
		if !found {
			s.reject(ctx, w, provider, userID, "no signing secret configured")
			return
		}
		sigHeader, tsHeader := signatureHeaders(scheme, r.Header)
		if !s.Validator.Validate(scheme, body, sigHeader, secret, tsHeader) {
			s.reject(ctx, w, provider, userID, "signature verification failed")
			return
		}
	}

	var payload map[string]any
	if err := json.Unmarshal(body, &payload); err != nil {
		WriteBadRequest(w, "Invalid JSON body")
		return
	}

	// Slack URL verification handshake answers with the posted challenge.
	if prov == event.ProviderSlack {
		if t, _ := payload["type"].(string); t == "url_verification" {
			writeJSON(w, http.StatusOK, map[string]any{"challenge": payload["challenge"]})
			return
		}
	}

	parser, err := s.Parsers.Lookup(prov)
	if err != nil {
		WriteInternal(w, err)
		return
	}
	norm, err := parser.Parse("", r.Header, payload)
	if err != nil {
		logger.WarnContext(ctx, "unparseable delivery", "error", err)
		WriteBadRequest(w, "Unrecognized event payload")
		return
	}
	logger = logger.With("event_key", norm.EventKey)

	seen, err := s.Dedup.CheckAndMark(ctx, provider, norm.DedupKey)
	if err != nil {
		// Dedup backend loss degrades to at-least-once, the delivery
		// still flows.
		logger.ErrorContext(ctx, "dedup check failed, processing anyway", "error", err)
	}
	if seen {
		s.Audit.Record(ctx, audit.DecisionDuplicate, provider, userID, norm.EventKey, "", nil)
		if s.Obs != nil {
			s.Obs.RecordDuplicate(ctx, provider)
		}
		writeJSON(w, http.StatusOK, WebhookResponse{Status: "duplicate", EventType: norm.EventKey})
		return
	}

	routed := norm.Payload
	if m := s.Mappings.ForEvent(prov, norm.EventKey); m != nil {
		routed = m.Apply(norm.Payload)
	}

	instances, err := s.Router.Route(ctx, prov, norm, userID)
	if err != nil {
		logger.ErrorContext(ctx, "routing failed", "error", err)
		WriteInternal(w, err)
		return
	}

	triggered := 0
	for _, inst := range instances {
		if _, err := s.Trigger.Fire(ctx, inst, router.ModeWebhook, routed); err != nil {
			// One failed instance never blocks its siblings.
			if !errors.Is(err, trigger.ErrNoActivationMode) {
				logger.ErrorContext(ctx, "trigger failed", "instance_id", inst.ID, "error", err)
			}
			continue
		}
		triggered++
	}

	s.Audit.Record(ctx, audit.DecisionAccepted, provider, userID, norm.EventKey, "",
		map[string]any{"matched": len(instances), "triggered": triggered})
	if s.Obs != nil {
		s.Obs.RecordIngest(ctx, provider, "processed")
	}
	writeJSON(w, http.StatusOK, WebhookResponse{
		Status:    "processed",
		EventType: norm.EventKey,
		Matched:   len(instances),
		Triggered: triggered,
	})
}

// reject audits and answers an authentication failure. No execution is
// created and nothing crashes.
func (s *WebhookService) reject(ctx context.Context, w http.ResponseWriter, provider, userID, reason string) {
	s.Audit.Record(ctx, audit.DecisionRejected, provider, userID, "", reason, nil)
	if s.Obs != nil {
		s.Obs.RecordIngest(ctx, provider, "rejected")
	}
	WriteUnauthorized(w, "Webhook signature rejected")
}

func readBody(w http.ResponseWriter, r *http.Request) ([]byte, error) {
	r.Body = http.MaxBytesReader(w, r.Body, maxWebhookBody)
	defer func() { _ = r.Body.Close() }()
	return io.ReadAll(r.Body)
}

// signatureHeaders picks the provider-specific signature and timestamp
// headers for a scheme.
func signatureHeaders(scheme signature.Scheme, h http.Header) (sig, ts string) {
	switch scheme {
	case signature.SchemeGitHub:
		return h.Get("X-Hub-Signature-256"), ""
	case signature.SchemeSlack:
		return h.Get("X-Slack-Signature"), h.Get("X-Slack-Request-Timestamp")
	default:
		return h.Get("X-Webhook-Signature"), ""
	}
}

// parseWebhookPath splits /webhooks/{provider}/{userId}.
func parseWebhookPath(path string) (provider, userID string, ok bool) {
	rest, found := strings.CutPrefix(path, "/webhooks/")
	if !found {
		return "", "", false
	}
	parts := strings.Split(strings.Trim(rest, "/"), "/")
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", "", false
	}
	return parts[0], parts[1], true
}
