package enrollment

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/EternisAI/fleet-enroll/internal/controlplane"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeFleet keeps enrollment keys in memory and serves the list/create endpoints.
type fakeFleet struct {
	mu         sync.Mutex
	keys       []apiKey
	creates    int
	listFail   int
	createFail int
}

func (f *fakeFleet) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()

	switch r.Method {
	case http.MethodGet:
		if f.listFail != 0 {
			w.WriteHeader(f.listFail)
			_, _ = w.Write([]byte(`{"message":"list failed"}`))
			return
		}
		kuery := r.URL.Query().Get("kuery")
		var items []apiKey
		for _, k := range f.keys {
			if kuery == fmt.Sprintf("policy_id:%q", k.PolicyID) {
				items = append(items, k)
			}
		}
		_ = json.NewEncoder(w).Encode(listResponse{Items: items, Total: len(items)})
	case http.MethodPost:
		if f.createFail != 0 {
			w.WriteHeader(f.createFail)
			_, _ = w.Write([]byte(`{"message":"create failed"}`))
			return
		}
		var req createRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		f.creates++
		k := apiKey{
			ID:       fmt.Sprintf("key-%d", f.creates),
			Name:     req.Name,
			APIKey:   fmt.Sprintf("secret-%d", f.creates),
			PolicyID: req.PolicyID,
		}
		f.keys = append(f.keys, k)
		_ = json.NewEncoder(w).Encode(createResponse{Item: k})
	}
}

func newManager(t *testing.T, fleet http.Handler) *Manager {
	t.Helper()
	srv := httptest.NewServer(fleet)
	t.Cleanup(srv.Close)
	return NewManager(controlplane.NewClient(controlplane.Config{URL: srv.URL}), Config{})
}

func TestGetOrCreateCreatesOnce(t *testing.T) {
	fleet := &fakeFleet{}
	m := newManager(t, fleet)

	first, err := m.GetOrCreate(context.Background(), controlplane.Auth{}, "pol-1")
	require.NoError(t, err)
	assert.True(t, first.Created)
	assert.Equal(t, "pol-1", first.PolicyID)
	assert.Equal(t, "secret-1", first.Secret)
	assert.Equal(t, "fleet-enroll-pol-1", first.Name)

	second, err := m.GetOrCreate(context.Background(), controlplane.Auth{}, "pol-1")
	require.NoError(t, err)
	assert.False(t, second.Created)
	assert.Equal(t, first.Secret, second.Secret)
	assert.Equal(t, first.ID, second.ID)

	assert.Equal(t, 1, fleet.creates)
}

func TestGetOrCreateUsesExisting(t *testing.T) {
	fleet := &fakeFleet{keys: []apiKey{
		{ID: "key-a", APIKey: "existing", PolicyID: "pol-1"},
		{ID: "key-b", APIKey: "other", PolicyID: "pol-1"},
	}}
	m := newManager(t, fleet)

	cred, err := m.GetOrCreate(context.Background(), controlplane.Auth{}, "pol-1")
	require.NoError(t, err)
	assert.False(t, cred.Created)
	assert.Equal(t, "existing", cred.Secret)
	assert.Equal(t, 0, fleet.creates)
}

func TestGetOrCreateSkipsInactiveAndForeignKeys(t *testing.T) {
	inactive := false
	srv := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodPost {
			_, _ = w.Write([]byte(`{"item":{"id":"new","api_key":"fresh","policy_id":"pol-1"}}`))
			return
		}
		_ = json.NewEncoder(w).Encode(listResponse{Items: []apiKey{
			{ID: "k1", APIKey: "foreign", PolicyID: "pol-2"},
			{ID: "k2", APIKey: "revoked", PolicyID: "pol-1", Active: &inactive},
		}})
	})
	m := newManager(t, srv)

	cred, err := m.GetOrCreate(context.Background(), controlplane.Auth{}, "pol-1")
	require.NoError(t, err)
	assert.True(t, cred.Created)
	assert.Equal(t, "fresh", cred.Secret)
	assert.Equal(t, "pol-1", cred.PolicyID)
}

func TestGetOrCreateLookupError(t *testing.T) {
	fleet := &fakeFleet{listFail: http.StatusInternalServerError}
	m := newManager(t, fleet)

	_, err := m.GetOrCreate(context.Background(), controlplane.Auth{}, "pol-1")
	require.Error(t, err)

	var credErr *Error
	require.True(t, errors.As(err, &credErr))
	assert.Equal(t, "lookup", credErr.Op)
	assert.Equal(t, http.StatusInternalServerError, credErr.StatusCode)
	assert.Equal(t, 0, fleet.creates)
}

func TestGetOrCreateCreateError(t *testing.T) {
	fleet := &fakeFleet{createFail: http.StatusBadRequest}
	m := newManager(t, fleet)

	_, err := m.GetOrCreate(context.Background(), controlplane.Auth{}, "pol-1")
	require.Error(t, err)

	var credErr *Error
	require.True(t, errors.As(err, &credErr))
	assert.Equal(t, "create", credErr.Op)
	assert.Equal(t, http.StatusBadRequest, credErr.StatusCode)
	assert.True(t, strings.Contains(credErr.Error(), "create failed"))
}

func TestGetOrCreateMissingSecret(t *testing.T) {
	srv := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodPost {
			_, _ = w.Write([]byte(`{"item":{"id":"new","policy_id":"pol-1"}}`))
			return
		}
		_, _ = w.Write([]byte(`{"items":[]}`))
	})
	m := newManager(t, srv)

	_, err := m.GetOrCreate(context.Background(), controlplane.Auth{}, "pol-1")
	assert.ErrorIs(t, err, ErrMissingSecret)
}

func TestDisplayName(t *testing.T) {
	m := NewManager(nil, Config{NamePrefix: "demo"})
	assert.Equal(t, "demo-pol-9", m.DisplayName("pol-9"))
}
