// Package router matches normalized inbound events to the enabled automation
// instances they should trigger.
package router

import (
	"context"

	"github.com/hookline-dev/hookline/pkg/event"
)

// ModeType is the mechanism an action instance can be triggered by.
type ModeType string

const (
	ModeWebhook  ModeType = "WEBHOOK"
	ModePoll     ModeType = "POLL"
	ModeSchedule ModeType = "SCHEDULE"
	ModeManual   ModeType = "MANUAL"
)

// ActivationMode is one enabled/disabled trigger mechanism on an instance.
type ActivationMode struct {
	ID      string
	Type    ModeType
	Enabled bool
}

// ActionInstance is a user-configured automation step, consumed read-only
// here. Params serve both as execution input and as event-filter values.
type ActionInstance struct {
	ID            string
	AreaID        string
	UserID        string
	Provider      event.Provider
	DefinitionKey string
	Enabled       bool
	Params        map[string]any
	Modes         []ActivationMode
}

// Mode returns the first enabled activation mode of the given type.
func (a *ActionInstance) Mode(t ModeType) (*ActivationMode, bool) {
	for i := range a.Modes {
		if a.Modes[i].Type == t && a.Modes[i].Enabled {
			return &a.Modes[i], true
		}
	}
	return nil, false
}

// InstanceSource fetches enabled instances for routing. Implementations must
// only return instances with Enabled set; the router re-checks anyway.
type InstanceSource interface {
	// EnabledInstances lists enabled instances for a provider, optionally
	// scoped to one user (empty userID means all users).
	EnabledInstances(ctx context.Context, provider event.Provider, userID string) ([]*ActionInstance, error)
	// Instance fetches one instance by id; workers use it to resolve the
	// definition key and params at execution time.
	Instance(ctx context.Context, id string) (*ActionInstance, error)
}
