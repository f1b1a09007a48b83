package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/EternisAI/fleet-enroll/internal/api/http/dto"
	"github.com/EternisAI/fleet-enroll/internal/policy"
	"github.com/EternisAI/fleet-enroll/internal/provisioner"
	"github.com/EternisAI/fleet-enroll/internal/runs"
	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type mockProvisioner struct {
	mock.Mock
}

func (m *mockProvisioner) Run(ctx context.Context) (*provisioner.Result, error) {
	args := m.Called(ctx)
	result, _ := args.Get(0).(*provisioner.Result)
	return result, args.Error(1)
}

type fakeTrigger struct {
	calls int
	err   error
}

func (f *fakeTrigger) Trigger(context.Context) error {
	f.calls++
	return f.err
}

func setupRouter(p Provisioner, trigger MaintenanceTrigger, store runs.Store) *gin.Engine {
	r := gin.New()
	r.GET("/health", NewHealthHandler().Check)
	r.POST("/api/v1/provision", NewProvisionHandler(p, time.Minute).Provision)
	r.POST("/api/v1/maintenance/run", NewMaintenanceHandler(trigger).Run)
	r.GET("/api/v1/runs", NewRunsHandler(store).List)
	r.GET("/api/v1/runs/:id", NewRunsHandler(store).Get)
	return r
}

func serve(r *gin.Engine, method, path string) *httptest.ResponseRecorder {
	req, _ := http.NewRequest(method, path, nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestHealth(t *testing.T) {
	r := setupRouter(&mockProvisioner{}, &fakeTrigger{}, runs.NewMemoryStore(0))
	w := serve(r, "GET", "/health")

	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"status":"ok"}`, w.Body.String())
}

func TestProvisionInstalled(t *testing.T) {
	start := time.Now()
	p := &mockProvisioner{}
	p.On("Run", mock.Anything).Return(&provisioner.Result{
		RunID:             "run-1",
		PolicyName:        "Agent policy 1",
		State:             provisioner.StateInstalled,
		Policy:            policy.Policy{ID: "pol-1"},
		CredentialID:      "key-1",
		CredentialCreated: true,
		StartedAt:         start,
		FinishedAt:        start.Add(1500 * time.Millisecond),
	}, nil)
	r := setupRouter(p, &fakeTrigger{}, runs.NewMemoryStore(0))

	w := serve(r, "POST", "/api/v1/provision")
	require.Equal(t, http.StatusOK, w.Code)

	var resp dto.ProvisionResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "INSTALLED", resp.State)
	assert.Equal(t, "pol-1", resp.PolicyID)
	assert.True(t, resp.CredentialCreated)
	assert.Equal(t, int64(1500), resp.DurationMS)
	assert.Empty(t, resp.Error)
}

func TestProvisionAborted(t *testing.T) {
	p := &mockProvisioner{}
	stageErr := &provisioner.StageError{
		Stage: provisioner.StageResolvePolicy,
		Err:   &provisioner.NotFoundError{PolicyName: "missing"},
	}
	p.On("Run", mock.Anything).Return(&provisioner.Result{
		RunID:      "run-2",
		PolicyName: "missing",
		State:      provisioner.StateAborted,
		Err:        stageErr,
	}, stageErr)
	r := setupRouter(p, &fakeTrigger{}, runs.NewMemoryStore(0))

	w := serve(r, "POST", "/api/v1/provision")
	require.Equal(t, http.StatusBadGateway, w.Code)

	var resp dto.ProvisionResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "ABORTED", resp.State)
	assert.Equal(t, "resolve_policy", resp.FailedStage)
	assert.Contains(t, resp.Error, `policy "missing" not found`)
}

func TestProvisionInProgress(t *testing.T) {
	p := &mockProvisioner{}
	p.On("Run", mock.Anything).Return(nil, provisioner.ErrRunInProgress)
	r := setupRouter(p, &fakeTrigger{}, runs.NewMemoryStore(0))

	w := serve(r, "POST", "/api/v1/provision")
	assert.Equal(t, http.StatusConflict, w.Code)
}

func TestProvisionWithoutResult(t *testing.T) {
	p := &mockProvisioner{}
	p.On("Run", mock.Anything).Return(nil, errors.New("unexpected"))
	r := setupRouter(p, &fakeTrigger{}, runs.NewMemoryStore(0))

	w := serve(r, "POST", "/api/v1/provision")
	assert.Equal(t, http.StatusInternalServerError, w.Code)
}

func TestProvisionRunOutlivesRequest(t *testing.T) {
	p := &mockProvisioner{}
	p.On("Run", mock.MatchedBy(func(ctx context.Context) bool {
		_, hasDeadline := ctx.Deadline()
		return hasDeadline
	})).Return(&provisioner.Result{State: provisioner.StateInstalled}, nil)
	r := setupRouter(p, &fakeTrigger{}, runs.NewMemoryStore(0))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	req, _ := http.NewRequestWithContext(ctx, "POST", "/api/v1/provision", nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	p.AssertExpectations(t)
}

func TestMaintenanceRunReturnsNoContent(t *testing.T) {
	for _, triggerErr := range []error{nil, errors.New("still failing")} {
		trigger := &fakeTrigger{err: triggerErr}
		r := setupRouter(&mockProvisioner{}, trigger, runs.NewMemoryStore(0))

		w := serve(r, "POST", "/api/v1/maintenance/run")
		assert.Equal(t, http.StatusNoContent, w.Code)
		assert.Empty(t, w.Body.String())
		assert.Equal(t, 1, trigger.calls)
	}
}
