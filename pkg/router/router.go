package router

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/hookline-dev/hookline/pkg/event"
)

// Router finds the enabled instances an inbound event should trigger.
type Router struct {
	source  InstanceSource
	parsers *event.Registry
	filters *FilterEvaluator
	logger  *slog.Logger
}

// New creates a Router. filters may be nil to disable CEL filter support.
func New(source InstanceSource, parsers *event.Registry, filters *FilterEvaluator, logger *slog.Logger) *Router {
	if logger == nil {
		logger = slog.Default()
	}
	return &Router{source: source, parsers: parsers, filters: filters, logger: logger.With("component", "router")}
}

// Route returns the instances matching a normalized event, scoped to userID
// when non-empty. The result contains no duplicates and no disabled
// instances; a match failure on one instance never blocks the others.
func (r *Router) Route(ctx context.Context, provider event.Provider, norm *event.Normalized, userID string) ([]*ActionInstance, error) {
	parser, err := r.parsers.Lookup(provider)
	if err != nil {
		return nil, err
	}
	definitionKeys := parser.DefinitionKeys(norm.EventKey)
	if len(definitionKeys) == 0 && norm.EventKey == "" {
		return nil, fmt.Errorf("route: empty event key for provider %s", provider)
	}

	instances, err := r.source.EnabledInstances(ctx, provider, userID)
	if err != nil {
		return nil, fmt.Errorf("route: fetch instances: %w", err)
	}

	var matched []*ActionInstance
	seen := make(map[string]bool, len(instances))
	for _, inst := range instances {
		if seen[inst.ID] {
			continue
		}
		ok, err := r.matches(inst, norm, definitionKeys)
		if err != nil {
			r.logger.WarnContext(ctx, "instance match failed",
				"instance_id", inst.ID, "event_key", norm.EventKey, "error", err)
			continue
		}
		if ok {
			seen[inst.ID] = true
			matched = append(matched, inst)
		}
	}
	return matched, nil
}

func (r *Router) matches(inst *ActionInstance, norm *event.Normalized, definitionKeys []string) (bool, error) {
	if !inst.Enabled {
		return false, nil
	}
	if _, ok := inst.Mode(ModeWebhook); !ok {
		return false, nil
	}
	if !definitionKeyMatches(inst.DefinitionKey, norm.EventKey, definitionKeys) {
		return false, nil
	}
	if !paramFiltersMatch(inst.Params, norm.FilterFields) {
		return false, nil
	}
	if r.filters != nil {
		if expr, ok := inst.Params[filterExprParam].(string); ok && expr != "" {
			return r.filters.Eval(expr, norm.Payload, inst.Params)
		}
	}
	return true, nil
}

// definitionKeyMatches accepts direct equality with the provider event key or
// membership in the provider alias table. Unmapped combinations fail.
func definitionKeyMatches(definitionKey, eventKey string, aliases []string) bool {
	if definitionKey == eventKey {
		return true
	}
	for _, k := range aliases {
		if definitionKey == k {
			return true
		}
	}
	return false
}

// paramFiltersMatch applies equality filters: every filter field the instance
// constrains must equal the value extracted from the payload. Params the
// event has no filter semantics for impose no constraint, and an instance
// with no relevant params always matches.
func paramFiltersMatch(params map[string]any, filterFields map[string]string) bool {
	for field, eventValue := range filterFields {
		raw, ok := params[field]
		if !ok {
			continue
		}
		want, ok := raw.(string)
		if !ok || want == "" {
			continue
		}
		if want != eventValue {
			return false
		}
	}
	return true
}
