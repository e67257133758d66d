// Package mapper re-shapes provider payloads into the field names an
// automation expects, driven by declarative mapping documents.
package mapper

import (
	"strings"
	"sync"

	"github.com/hookline-dev/hookline/pkg/event"
)

// Rule produces one output field. Exactly one of Source or Const is used:
// Source plucks a dot-path from the inbound payload, Const injects a fixed
// value.
type Rule struct {
	Target string `yaml:"target" json:"target"`
	Source string `yaml:"source,omitempty" json:"source,omitempty"`
	Const  any    `yaml:"const,omitempty" json:"const,omitempty"`
}

// Mapping reshapes payloads for one (provider, eventKey) pair.
type Mapping struct {
	Provider event.Provider `yaml:"provider" json:"provider"`
	EventKey string         `yaml:"event_key" json:"event_key"`
	// PassThrough keeps the original fields and lays the mapped ones over
	// them; otherwise the output contains only mapped fields.
	PassThrough bool   `yaml:"pass_through,omitempty" json:"pass_through,omitempty"`
	Rules       []Rule `yaml:"rules" json:"rules"`
}

// Apply produces the mapped payload. Missing source paths are skipped, not
// errors: providers omit optional fields routinely.
func (m *Mapping) Apply(payload map[string]any) map[string]any {
	out := make(map[string]any, len(m.Rules))
	if m.PassThrough {
		for k, v := range payload {
			out[k] = v
		}
	}
	for _, r := range m.Rules {
		if r.Const != nil {
			out[r.Target] = r.Const
			continue
		}
		if v, ok := pluck(payload, r.Source); ok {
			out[r.Target] = v
		}
	}
	return out
}

// pluck resolves a dot-path ("issue.user.login") against nested maps.
func pluck(payload map[string]any, path string) (any, bool) {
	if path == "" {
		return nil, false
	}
	cur := any(payload)
	for _, part := range strings.Split(path, ".") {
		m, ok := cur.(map[string]any)
		if !ok {
			return nil, false
		}
		cur, ok = m[part]
		if !ok {
			return nil, false
		}
	}
	return cur, true
}

// Set indexes mappings by provider and event key.
type Set struct {
	mu       sync.RWMutex
	mappings map[event.Provider]map[string]*Mapping
}

// NewSet builds an index over validated mappings.
func NewSet(mappings []*Mapping) *Set {
	s := &Set{mappings: make(map[event.Provider]map[string]*Mapping)}
	for _, m := range mappings {
		byKey, ok := s.mappings[m.Provider]
		if !ok {
			byKey = make(map[string]*Mapping)
			s.mappings[m.Provider] = byKey
		}
		byKey[m.EventKey] = m
	}
	return s
}

// ForEvent returns the mapping for an event, or nil when the payload should
// pass through untouched.
func (s *Set) ForEvent(provider event.Provider, eventKey string) *Mapping {
	s.mu.RLock()
	defer s.mu.RUnlock()
	byKey, ok := s.mappings[provider]
	if !ok {
		return nil
	}
	return byKey[eventKey]
}
