package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/hookline-dev/hookline/pkg/execution"
	"github.com/hookline-dev/hookline/pkg/router"
	"github.com/hookline-dev/hookline/pkg/stream"
	"github.com/hookline-dev/hookline/pkg/trigger"
	"github.com/hookline-dev/hookline/pkg/worker"
)

// ControlService exposes the operator endpoints: worker snapshots, stream
// introspection, stream initialization, cancellation and manual triggering.
type ControlService struct {
	Store     execution.Store
	Log       stream.Log
	Tracker   *worker.Tracker
	Instances router.InstanceSource
	Trigger   *trigger.Trigger
	Logger    *slog.Logger
}

// HandleInitializeStream implements POST /webhook-control/initialize-stream.
// Safe to call repeatedly; an existing stream and group are left untouched.
func (s *ControlService) HandleInitializeStream(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		WriteMethodNotAllowed(w)
		return
	}
	if err := s.Log.Initialize(r.Context()); err != nil {
		WriteInternal(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "initialized"})
}

// HandleWorkerStatus implements GET /worker/status.
func (s *ControlService) HandleWorkerStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		WriteMethodNotAllowed(w)
		return
	}
	snap := s.Tracker.Snapshot(r.Context())
	writeJSON(w, http.StatusOK, map[string]any{
		"status":             "ok",
		"active_workers":     snap.ActiveWorkers,
		"configured_workers": snap.ConfiguredWorkers,
	})
}

// HandleWorkerStatistics implements GET /worker/statistics.
func (s *ControlService) HandleWorkerStatistics(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		WriteMethodNotAllowed(w)
		return
	}
	writeJSON(w, http.StatusOK, s.Tracker.Snapshot(r.Context()))
}

// HandleStreamInfo implements GET /worker/stream-info.
func (s *ControlService) HandleStreamInfo(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		WriteMethodNotAllowed(w)
		return
	}
	info, err := s.Log.Stats(r.Context())
	if err != nil {
		WriteInternal(w, err)
		return
	}
	writeJSON(w, http.StatusOK, info)
}

// HandleExecutions routes /worker/executions/... subpaths: cancellation and
// manual triggering.
func (s *ControlService) HandleExecutions(w http.ResponseWriter, r *http.Request) {
	rest, ok := strings.CutPrefix(r.URL.Path, "/worker/executions/")
	if !ok || rest == "" {
		WriteNotFound(w, "")
		return
	}
	switch {
	case rest == "trigger":
		s.handleManualTrigger(w, r)
	case strings.HasSuffix(rest, "/cancel"):
		s.handleCancel(w, r, strings.TrimSuffix(rest, "/cancel"))
	default:
		WriteNotFound(w, "")
	}
}

// handleCancel implements POST /worker/executions/{id}/cancel?reason=.
// Cancellation is cooperative: it wins only while the execution is QUEUED or
// RUNNING and never preempts an in-flight provider call.
func (s *ControlService) handleCancel(w http.ResponseWriter, r *http.Request, id string) {
	if r.Method != http.MethodPost {
		WriteMethodNotAllowed(w)
		return
	}
	reason := r.URL.Query().Get("reason")
	if reason == "" {
		reason = "canceled by operator"
	}

	e, canceled, err := execution.Cancel(r.Context(), s.Store, id, reason)
	if err != nil {
		if errors.Is(err, execution.ErrNotFound) {
			WriteNotFound(w, "Unknown execution id")
			return
		}
		WriteInternal(w, err)
		return
	}
	if !canceled {
		WriteConflict(w, "Execution already reached a terminal status")
		return
	}
	s.Logger.InfoContext(r.Context(), "execution canceled",
		"execution_id", id, "reason", reason)
	writeJSON(w, http.StatusOK, e)
}

type manualTriggerRequest struct {
	InstanceID string         `json:"instance_id"`
	Payload    map[string]any `json:"payload"`
}

// handleManualTrigger implements POST /worker/executions/trigger, firing the
// MANUAL activation mode of one instance.
func (s *ControlService) handleManualTrigger(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		WriteMethodNotAllowed(w)
		return
	}
	r.Body = http.MaxBytesReader(w, r.Body, maxWebhookBody)
	var req manualTriggerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		WriteBadRequest(w, "Invalid request body")
		return
	}
	if req.InstanceID == "" {
		WriteBadRequest(w, "Missing required field: instance_id")
		return
	}

	inst, err := s.Instances.Instance(r.Context(), req.InstanceID)
	if err != nil {
		WriteNotFound(w, "Unknown instance id")
		return
	}
	e, err := s.Trigger.Fire(r.Context(), inst, router.ModeManual, req.Payload)
	if err != nil {
		if errors.Is(err, trigger.ErrNoActivationMode) {
			WriteBadRequest(w, "Instance has no enabled MANUAL activation mode")
			return
		}
		WriteInternal(w, err)
		return
	}
	writeJSON(w, http.StatusOK, e)
}
