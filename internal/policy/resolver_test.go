package policy

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/EternisAI/fleet-enroll/internal/controlplane"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newResolver(t *testing.T, body string, status int) *Resolver {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, PoliciesPath, r.URL.Path)
		assert.Equal(t, "1000", r.URL.Query().Get("perPage"))
		w.WriteHeader(status)
		_, _ = w.Write([]byte(body))
	}))
	t.Cleanup(srv.Close)
	return NewResolver(controlplane.NewClient(controlplane.Config{URL: srv.URL}), Config{})
}

func TestFindPolicy(t *testing.T) {
	r := newResolver(t, `{"items":[
		{"id":"pol-0","name":"Agent policy 10"},
		{"id":"pol-1","name":"Agent policy 1"},
		{"id":"pol-2","name":"Agent policy 1"}
	],"total":3}`, http.StatusOK)

	p, found, err := r.FindPolicy(context.Background(), controlplane.Auth{}, "Agent policy 1")
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, "pol-1", p.ID)

	again, found, err := r.FindPolicy(context.Background(), controlplane.Auth{}, "Agent policy 1")
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, p, again)
}

func TestFindPolicyCaseSensitive(t *testing.T) {
	r := newResolver(t, `{"items":[{"id":"pol-1","name":"agent policy 1"}],"total":1}`, http.StatusOK)

	_, found, err := r.FindPolicy(context.Background(), controlplane.Auth{}, "Agent policy 1")
	require.NoError(t, err)
	assert.False(t, found)
}

func TestFindPolicyNotFound(t *testing.T) {
	r := newResolver(t, `{"items":[],"total":0}`, http.StatusOK)

	p, found, err := r.FindPolicy(context.Background(), controlplane.Auth{}, "Agent policy 1")
	require.NoError(t, err)
	assert.False(t, found)
	assert.Empty(t, p.ID)
}

func TestFindPolicyError(t *testing.T) {
	r := newResolver(t, `{"message":"unauthorized"}`, http.StatusUnauthorized)

	_, _, err := r.FindPolicy(context.Background(), controlplane.Auth{}, "Agent policy 1")
	require.Error(t, err)

	var policyErr *Error
	require.True(t, errors.As(err, &policyErr))
	assert.Equal(t, http.StatusUnauthorized, policyErr.StatusCode)
	assert.Contains(t, policyErr.Error(), "unauthorized")
}

func TestFindPolicySendsKuery(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, `ingest-agent-policies.name:"Agent policy 1"`, r.URL.Query().Get("kuery"))
		assert.Equal(t, "5", r.URL.Query().Get("perPage"))
		_, _ = w.Write([]byte(`{"items":[]}`))
	}))
	defer srv.Close()

	r := NewResolver(controlplane.NewClient(controlplane.Config{URL: srv.URL}), Config{PageSize: 5})
	_, _, err := r.FindPolicy(context.Background(), controlplane.Auth{}, "Agent policy 1")
	require.NoError(t, err)
}
