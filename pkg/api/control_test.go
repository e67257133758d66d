package api

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hookline-dev/hookline/pkg/event"
	"github.com/hookline-dev/hookline/pkg/execution"
	"github.com/hookline-dev/hookline/pkg/router"
	"github.com/hookline-dev/hookline/pkg/stream"
	"github.com/hookline-dev/hookline/pkg/trigger"
	"github.com/hookline-dev/hookline/pkg/worker"
)

const controlKey = "control-signing-key"

type controlFixture struct {
	store   *execution.MemoryStore
	log     *stream.MemoryLog
	source  *router.MemoryInstanceSource
	trigger *trigger.Trigger
	server  *Server
}

func newControlFixture(t *testing.T, instances ...*router.ActionInstance) *controlFixture {
	t.Helper()
	f := &controlFixture{
		store:  execution.NewMemoryStore(),
		log:    stream.NewMemoryLog(time.Minute),
		source: router.NewMemoryInstanceSource(instances...),
	}
	f.trigger = trigger.New(f.store, f.log, nil)
	f.server = &Server{
		Webhooks: newWebhookFixture(t).service,
		Control: &ControlService{
			Store:     f.store,
			Log:       f.log,
			Tracker:   worker.NewTracker(4, f.store, f.log),
			Instances: f.source,
			Trigger:   f.trigger,
			Logger:    slog.Default(),
		},
		Auth: NewControlAuth(controlKey),
	}
	return f
}

func controlToken(t *testing.T, key string) string {
	t.Helper()
	claims := &ControlClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   "ops",
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
		Roles: []string{"operator"},
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(key))
	require.NoError(t, err)
	return token
}

func (f *controlFixture) request(t *testing.T, method, path, token string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	f.server.Routes().ServeHTTP(rec, req)
	return rec
}

func TestControlRequiresToken(t *testing.T) {
	f := newControlFixture(t)

	rec := f.request(t, http.MethodGet, "/worker/status", "", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = f.request(t, http.MethodGet, "/worker/status", controlToken(t, "wrong-key"), nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = f.request(t, http.MethodGet, "/worker/status", controlToken(t, controlKey), nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.NotEmpty(t, rec.Header().Get("X-Request-ID"))
}

func TestControlAuthFailsClosedWithoutKey(t *testing.T) {
	f := newControlFixture(t)
	f.server.Auth = NewControlAuth("")

	rec := f.request(t, http.MethodGet, "/worker/status", controlToken(t, controlKey), nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestHealthAndReadinessArePublic(t *testing.T) {
	f := newControlFixture(t)

	rec := f.request(t, http.MethodGet, "/health", "", nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = f.request(t, http.MethodGet, "/readiness", "", nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	f.server.Ready = func() bool { return false }
	rec = f.request(t, http.MethodGet, "/readiness", "", nil)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestInitializeStream(t *testing.T) {
	f := newControlFixture(t)
	token := controlToken(t, controlKey)

	rec := f.request(t, http.MethodPost, "/webhook-control/initialize-stream", token, nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	// Idempotent: a second call succeeds too.
	rec = f.request(t, http.MethodPost, "/webhook-control/initialize-stream", token, nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = f.request(t, http.MethodGet, "/webhook-control/initialize-stream", token, nil)
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestWorkerStatistics(t *testing.T) {
	f := newControlFixture(t)
	token := controlToken(t, controlKey)

	require.NoError(t, f.store.Create(context.Background(), &execution.Execution{
		ID: "e1", CorrelationID: "c1", Status: execution.StatusQueued, QueuedAt: time.Now().UTC(),
	}))

	rec := f.request(t, http.MethodGet, "/worker/statistics", token, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var snap worker.Snapshot
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &snap))
	assert.Equal(t, 4, snap.ConfiguredWorkers)
	assert.Equal(t, int64(1), snap.ByStatus[execution.StatusQueued])
}

func TestStreamInfo(t *testing.T) {
	f := newControlFixture(t)
	token := controlToken(t, controlKey)

	require.NoError(t, f.log.Publish(context.Background(), &stream.Entry{ExecutionID: "e1"}))

	rec := f.request(t, http.MethodGet, "/worker/stream-info", token, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var info stream.Info
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &info))
	assert.Equal(t, int64(1), info.Length)
	assert.Equal(t, int64(1), info.Backlog)
}

func TestCancelExecution(t *testing.T) {
	f := newControlFixture(t)
	token := controlToken(t, controlKey)
	ctx := context.Background()

	require.NoError(t, f.store.Create(ctx, &execution.Execution{
		ID: "e1", CorrelationID: "c1", Status: execution.StatusQueued, QueuedAt: time.Now().UTC(),
	}))

	rec := f.request(t, http.MethodPost, "/worker/executions/e1/cancel?reason=test", token, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var e execution.Execution
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &e))
	assert.Equal(t, execution.StatusCanceled, e.Status)
	assert.Equal(t, "test", e.Error)

	// Terminal executions conflict.
	rec = f.request(t, http.MethodPost, "/worker/executions/e1/cancel", token, nil)
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = f.request(t, http.MethodPost, "/worker/executions/missing/cancel", token, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestManualTrigger(t *testing.T) {
	inst := &router.ActionInstance{
		ID:            "inst-1",
		AreaID:        "area-1",
		UserID:        "u1",
		Provider:      event.ProviderGitHub,
		DefinitionKey: "new_issue",
		Enabled:       true,
		Modes: []router.ActivationMode{
			{ID: "m-manual", Type: router.ModeManual, Enabled: true},
		},
	}
	webhookOnly := &router.ActionInstance{
		ID:            "inst-2",
		AreaID:        "area-2",
		UserID:        "u1",
		Provider:      event.ProviderGitHub,
		DefinitionKey: "new_issue",
		Enabled:       true,
		Modes: []router.ActivationMode{
			{ID: "m-wh", Type: router.ModeWebhook, Enabled: true},
		},
	}
	f := newControlFixture(t, inst, webhookOnly)
	token := controlToken(t, controlKey)

	rec := f.request(t, http.MethodPost, "/worker/executions/trigger", token,
		map[string]any{"instance_id": "inst-1", "payload": map[string]any{"k": "v"}})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var e execution.Execution
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &e))
	assert.Equal(t, execution.StatusQueued, e.Status)
	assert.Equal(t, "m-manual", e.ActivationModeID)

	// No MANUAL mode on the instance.
	rec = f.request(t, http.MethodPost, "/worker/executions/trigger", token,
		map[string]any{"instance_id": "inst-2"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = f.request(t, http.MethodPost, "/worker/executions/trigger", token,
		map[string]any{"instance_id": "ghost"})
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = f.request(t, http.MethodPost, "/worker/executions/trigger", token,
		map[string]any{})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestControlAuthValidate(t *testing.T) {
	a := NewControlAuth(controlKey)

	claims, err := a.Validate(controlToken(t, controlKey))
	require.NoError(t, err)
	assert.Equal(t, "ops", claims.Subject)
	assert.Equal(t, []string{"operator"}, claims.Roles)

	_, err = a.Validate(controlToken(t, "other-key"))
	assert.Error(t, err)

	// Expired token.
	expired := &ControlClaims{RegisteredClaims: jwt.RegisteredClaims{
		Subject:   "ops",
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(-time.Hour)),
	}}
	tokenStr, err := jwt.NewWithClaims(jwt.SigningMethodHS256, expired).SignedString([]byte(controlKey))
	require.NoError(t, err)
	_, err = a.Validate(tokenStr)
	assert.Error(t, err)

	// Missing subject.
	anon := &ControlClaims{RegisteredClaims: jwt.RegisteredClaims{
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
	}}
	tokenStr, err = jwt.NewWithClaims(jwt.SigningMethodHS256, anon).SignedString([]byte(controlKey))
	require.NoError(t, err)
	_, err = a.Validate(tokenStr)
	assert.Error(t, err)
}
