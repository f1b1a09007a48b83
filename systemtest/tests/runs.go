package tests

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/EternisAI/fleet-enroll/internal/api/http/dto"
	"github.com/EternisAI/fleet-enroll/internal/enrollment"
	"github.com/EternisAI/fleet-enroll/internal/policy"
	"github.com/EternisAI/fleet-enroll/internal/provisioner"
	"github.com/EternisAI/fleet-enroll/internal/runs"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var base = time.Date(2024, 10, 1, 12, 0, 0, 0, time.UTC)

func TestRunStore(t *testing.T, store runs.Store) {
	ctx := context.Background()

	t.Run("record and get", func(t *testing.T) {
		run := runs.Run{
			ID:                uuid.NewString(),
			PolicyName:        "Agent policy 1",
			PolicyID:          "pol-1",
			State:             "INSTALLED",
			CredentialID:      "key-1",
			CredentialCreated: true,
			StartedAt:         base,
			FinishedAt:        base.Add(2 * time.Second),
		}
		require.NoError(t, store.Record(ctx, run))

		got, err := store.Get(ctx, run.ID)
		require.NoError(t, err)
		assert.Equal(t, run.PolicyID, got.PolicyID)
		assert.True(t, got.CredentialCreated)
		assert.True(t, run.StartedAt.Equal(got.StartedAt))
	})

	t.Run("duplicate id is ignored", func(t *testing.T) {
		run := runs.Run{ID: uuid.NewString(), PolicyName: "p", State: "ABORTED", StartedAt: base, FinishedAt: base}
		require.NoError(t, store.Record(ctx, run))
		require.NoError(t, store.Record(ctx, run))
	})

	t.Run("missing run", func(t *testing.T) {
		_, err := store.Get(ctx, uuid.NewString())
		assert.True(t, errors.Is(err, runs.ErrNotFound))
	})

	t.Run("list newest first", func(t *testing.T) {
		for i := 0; i < 3; i++ {
			require.NoError(t, store.Record(ctx, runs.Run{
				ID:         fmt.Sprintf("ordered-%d", i),
				PolicyName: "p",
				State:      "INSTALLED",
				StartedAt:  base.Add(time.Duration(i+10) * time.Hour),
				FinishedAt: base.Add(time.Duration(i+10) * time.Hour),
			}))
		}

		list, err := store.List(ctx, 2)
		require.NoError(t, err)
		require.Len(t, list, 2)
		assert.Equal(t, "ordered-2", list[0].ID)
		assert.Equal(t, "ordered-1", list[1].ID)
	})
}

func TestRecorder(t *testing.T, store runs.Store) {
	result := &provisioner.Result{
		RunID:      uuid.NewString(),
		PolicyName: "Agent policy 1",
		State:      provisioner.StateAborted,
		Policy:     policy.Policy{ID: "pol-1"},
		Err: &provisioner.StageError{
			Stage: provisioner.StageCredential,
			Err:   &enrollment.Error{Op: "create", StatusCode: 403, Body: "forbidden"},
		},
		StartedAt:  base,
		FinishedAt: base.Add(time.Second),
	}
	runs.NewRecorder(store).RunFinished(context.Background(), result)

	got, err := store.Get(context.Background(), result.RunID)
	require.NoError(t, err)
	assert.Equal(t, "ABORTED", got.State)
	assert.Equal(t, "enrollment_credential", got.FailedStage)
	assert.Contains(t, got.Error, "HTTP 403")
}

func TestRunsAPI(t *testing.T, router *gin.Engine) {
	req := httptest.NewRequest(http.MethodGet, "/api/v1/runs?limit=5", nil)
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)
	require.Equal(t, http.StatusOK, rr.Code)

	var resp dto.ListRunsResponse
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
	assert.Equal(t, 5, resp.Count)

	req = httptest.NewRequest(http.MethodGet, "/api/v1/runs/"+resp.Runs[0].ID, nil)
	rr = httptest.NewRecorder()
	router.ServeHTTP(rr, req)
	assert.Equal(t, http.StatusOK, rr.Code)
}
