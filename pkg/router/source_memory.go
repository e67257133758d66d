package router

import (
	"context"
	"fmt"
	"sync"

	"github.com/hookline-dev/hookline/pkg/event"
)

// MemoryInstanceSource is the in-process InstanceSource used by tests and
// single-node deployments loading instances from configuration.
type MemoryInstanceSource struct {
	mu        sync.RWMutex
	instances map[string]*ActionInstance
}

// NewMemoryInstanceSource creates a source seeded with the given instances.
func NewMemoryInstanceSource(instances ...*ActionInstance) *MemoryInstanceSource {
	s := &MemoryInstanceSource{instances: make(map[string]*ActionInstance, len(instances))}
	for _, inst := range instances {
		s.instances[inst.ID] = inst
	}
	return s
}

// Put adds or replaces an instance.
func (s *MemoryInstanceSource) Put(inst *ActionInstance) {
	s.mu.Lock()
	s.instances[inst.ID] = inst
	s.mu.Unlock()
}

// EnabledInstances implements InstanceSource.
func (s *MemoryInstanceSource) EnabledInstances(_ context.Context, provider event.Provider, userID string) ([]*ActionInstance, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*ActionInstance
	for _, inst := range s.instances {
		if !inst.Enabled || inst.Provider != provider {
			continue
		}
		if userID != "" && inst.UserID != userID {
			continue
		}
		out = append(out, inst)
	}
	return out, nil
}

// Instance implements InstanceSource.
func (s *MemoryInstanceSource) Instance(_ context.Context, id string) (*ActionInstance, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	inst, ok := s.instances[id]
	if !ok {
		return nil, fmt.Errorf("instance %s not found", id)
	}
	return inst, nil
}
