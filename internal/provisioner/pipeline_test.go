package provisioner

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync"
	"testing"

	"github.com/EternisAI/fleet-enroll/internal/auth"
	"github.com/EternisAI/fleet-enroll/internal/controlplane"
	"github.com/EternisAI/fleet-enroll/internal/enrollment"
	"github.com/EternisAI/fleet-enroll/internal/installer"
	"github.com/EternisAI/fleet-enroll/internal/policy"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fleetKey struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	APIKey   string `json:"api_key"`
	PolicyID string `json:"policy_id"`
}

// controlPlane is an in-memory stand-in for the policy, enrollment key and
// security endpoints.
type controlPlane struct {
	mu          sync.Mutex
	policies    []policy.Policy
	keys        []fleetKey
	securityErr int
	requests    map[string]int
	creates     int
}

func newControlPlane() *controlPlane {
	return &controlPlane{requests: map[string]int{}}
}

func (c *controlPlane) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.requests[r.Method+" "+r.URL.Path]++

	switch {
	case r.URL.Path == auth.APIKeyPath:
		if c.securityErr != 0 {
			w.WriteHeader(c.securityErr)
			_, _ = w.Write([]byte(`{"error":"insufficient privileges"}`))
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]string{"id": "minted", "api_key": "minted-secret"})
	case r.URL.Path == policy.PoliciesPath:
		kuery := r.URL.Query().Get("kuery")
		items := []policy.Policy{}
		for _, p := range c.policies {
			if kuery == fmt.Sprintf("ingest-agent-policies.name:%q", p.Name) {
				items = append(items, p)
			}
		}
		_ = json.NewEncoder(w).Encode(map[string]any{"items": items, "total": len(items)})
	case r.URL.Path == enrollment.KeysPath && r.Method == http.MethodGet:
		kuery := r.URL.Query().Get("kuery")
		items := []fleetKey{}
		for _, k := range c.keys {
			if kuery == fmt.Sprintf("policy_id:%q", k.PolicyID) {
				items = append(items, k)
			}
		}
		_ = json.NewEncoder(w).Encode(map[string]any{"items": items, "total": len(items)})
	case r.URL.Path == enrollment.KeysPath && r.Method == http.MethodPost:
		var req struct {
			Name     string `json:"name"`
			PolicyID string `json:"policy_id"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		c.creates++
		k := fleetKey{
			ID:       fmt.Sprintf("key-%d", c.creates),
			Name:     req.Name,
			APIKey:   fmt.Sprintf("secret-%d", c.creates),
			PolicyID: req.PolicyID,
		}
		c.keys = append(c.keys, k)
		_ = json.NewEncoder(w).Encode(map[string]any{"item": k})
	default:
		w.WriteHeader(http.StatusNotFound)
	}
}

func (c *controlPlane) count(key string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.requests[key]
}

type execCall struct {
	name string
	args []string
}

type recordingRunner struct {
	calls []execCall
}

func (r *recordingRunner) Run(_ context.Context, _ string, name string, args ...string) ([]byte, error) {
	r.calls = append(r.calls, execCall{name: name, args: args})
	return nil, nil
}

type pipeline struct {
	cp     *controlPlane
	runner *recordingRunner
	orc    *Orchestrator
	url    string
}

func newPipeline(t *testing.T, cp *controlPlane, authMode string) *pipeline {
	t.Helper()
	srv := httptest.NewServer(cp)
	t.Cleanup(srv.Close)

	client := controlplane.NewClient(controlplane.Config{URL: srv.URL})
	provider, err := auth.NewProvider(auth.Config{Mode: authMode}, client, auth.Credentials{Username: "elastic", Password: "changeme"})
	require.NoError(t, err)

	runner := &recordingRunner{}
	inst := installer.New(installer.Config{
		DownloadURL: "https://artifacts.example.com/elastic-agent-8.15.2-linux-x86_64.tar.gz",
		WorkDir:     t.TempDir(),
		InstallArgs: []string{"install", "--non-interactive"},
	}, runner)

	orc := NewOrchestrator(
		Config{PolicyName: testPolicyName, EnrollURL: srv.URL},
		provider,
		policy.NewResolver(client, policy.Config{}),
		enrollment.NewManager(client, enrollment.Config{}),
		inst,
	)
	return &pipeline{cp: cp, runner: runner, orc: orc, url: srv.URL}
}

func (p *pipeline) installArgs() []string {
	for _, c := range p.runner.calls {
		if filepath.Base(c.name) == "elastic-agent" {
			return c.args
		}
	}
	return nil
}

func TestPipelineCreatesCredentialForFreshPolicy(t *testing.T) {
	cp := newControlPlane()
	cp.policies = []policy.Policy{{ID: "P1", Name: testPolicyName}}
	p := newPipeline(t, cp, auth.ModeStatic)

	result, err := p.orc.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, StateInstalled, result.State)
	assert.True(t, result.CredentialCreated)
	assert.Equal(t, 1, cp.count("POST "+enrollment.KeysPath))

	args := p.installArgs()
	require.NotNil(t, args)
	assert.Contains(t, args, "secret-1")
	assert.Contains(t, args, p.url)

	// A second run finds the key created by the first.
	result, err = p.orc.Run(context.Background())
	require.NoError(t, err)
	assert.False(t, result.CredentialCreated)
	assert.Equal(t, 1, cp.count("POST "+enrollment.KeysPath))
}

func TestPipelineReusesExistingCredential(t *testing.T) {
	cp := newControlPlane()
	cp.policies = []policy.Policy{{ID: "P1", Name: testPolicyName}}
	cp.keys = []fleetKey{{ID: "K1", Name: "existing", APIKey: "S1", PolicyID: "P1"}}
	p := newPipeline(t, cp, auth.ModeStatic)

	result, err := p.orc.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, StateInstalled, result.State)
	assert.Equal(t, "K1", result.CredentialID)
	assert.Zero(t, cp.count("POST "+enrollment.KeysPath))
	assert.Contains(t, p.installArgs(), "S1")
}

func TestPipelineMintRejectedAbortsRun(t *testing.T) {
	cp := newControlPlane()
	cp.policies = []policy.Policy{{ID: "P1", Name: testPolicyName}}
	cp.securityErr = http.StatusForbidden
	p := newPipeline(t, cp, auth.ModeAPIKey)

	result, err := p.orc.Run(context.Background())
	require.Error(t, err)
	assert.Equal(t, StateAborted, result.State)
	assert.Equal(t, StageAuthenticate, result.FailedStage())
	assert.Equal(t, 1, cp.count("POST "+auth.APIKeyPath))
	assert.Zero(t, cp.count("GET "+policy.PoliciesPath))
	assert.Empty(t, p.runner.calls)
}

func TestPipelineMissingPolicy(t *testing.T) {
	cp := newControlPlane()
	p := newPipeline(t, cp, auth.ModeStatic)

	result, err := p.orc.Run(context.Background())
	require.Error(t, err)
	assert.Equal(t, StageResolvePolicy, result.FailedStage())
	assert.Zero(t, cp.count("GET "+enrollment.KeysPath))
	assert.Zero(t, cp.count("POST "+enrollment.KeysPath))
	assert.Empty(t, p.runner.calls)
}

func TestPipelineMintsKeyPerRun(t *testing.T) {
	cp := newControlPlane()
	cp.policies = []policy.Policy{{ID: "P1", Name: testPolicyName}}
	p := newPipeline(t, cp, auth.ModeAPIKey)

	result, err := p.orc.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, StateInstalled, result.State)
	assert.Equal(t, 1, cp.count("POST "+auth.APIKeyPath))

	result, err = p.orc.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, StateInstalled, result.State)
	assert.Equal(t, 2, cp.count("POST "+auth.APIKeyPath))
}

func TestPipelineRecoversAfterRejectedMint(t *testing.T) {
	cp := newControlPlane()
	cp.policies = []policy.Policy{{ID: "P1", Name: testPolicyName}}
	p := newPipeline(t, cp, auth.ModeAPIKey)

	result, err := p.orc.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, StateInstalled, result.State)

	cp.mu.Lock()
	cp.securityErr = http.StatusUnauthorized
	cp.mu.Unlock()

	result, err = p.orc.Run(context.Background())
	require.Error(t, err)
	assert.Equal(t, StageAuthenticate, result.FailedStage())

	cp.mu.Lock()
	cp.securityErr = 0
	cp.mu.Unlock()

	result, err = p.orc.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, StateInstalled, result.State)
	assert.Equal(t, 3, cp.count("POST "+auth.APIKeyPath))
}
