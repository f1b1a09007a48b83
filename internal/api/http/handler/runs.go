package handler

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/EternisAI/fleet-enroll/internal/api/http/dto"
	"github.com/EternisAI/fleet-enroll/internal/runs"
	"github.com/gin-gonic/gin"
)

type RunsHandler struct {
	store runs.Store
}

func NewRunsHandler(store runs.Store) *RunsHandler {
	return &RunsHandler{store: store}
}

func (h *RunsHandler) List(ctx *gin.Context) {
	limit := runs.DefaultLimit
	if raw := ctx.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			ctx.JSON(http.StatusBadRequest, gin.H{"error": "limit must be a positive integer"})
			return
		}
		limit = runs.ClampLimit(n)
	}

	list, err := h.store.List(ctx.Request.Context(), limit)
	if err != nil {
		slog.Error("Failed to list runs", "error", err)
		ctx.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to list runs"})
		return
	}

	infos := make([]dto.RunInfo, len(list))
	for i, r := range list {
		infos[i] = toRunInfo(r)
	}
	ctx.JSON(http.StatusOK, dto.ListRunsResponse{Runs: infos, Count: len(infos)})
}

func (h *RunsHandler) Get(ctx *gin.Context) {
	run, err := h.store.Get(ctx.Request.Context(), ctx.Param("id"))
	if errors.Is(err, runs.ErrNotFound) {
		ctx.JSON(http.StatusNotFound, gin.H{"error": "Run not found"})
		return
	}
	if err != nil {
		slog.Error("Failed to get run", "run_id", ctx.Param("id"), "error", err)
		ctx.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to get run"})
		return
	}
	ctx.JSON(http.StatusOK, toRunInfo(run))
}

func toRunInfo(r runs.Run) dto.RunInfo {
	return dto.RunInfo{
		ID:                r.ID,
		PolicyName:        r.PolicyName,
		PolicyID:          r.PolicyID,
		State:             r.State,
		FailedStage:       r.FailedStage,
		CredentialCreated: r.CredentialCreated,
		Error:             r.Error,
		StartedAt:         r.StartedAt,
		FinishedAt:        r.FinishedAt,
	}
}
