package handler

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/EternisAI/fleet-enroll/internal/api/http/dto"
	"github.com/EternisAI/fleet-enroll/internal/provisioner"
	"github.com/gin-gonic/gin"
)

const defaultRunTimeout = 15 * time.Minute

type Provisioner interface {
	Run(ctx context.Context) (*provisioner.Result, error)
}

type ProvisionHandler struct {
	provisioner Provisioner
	timeout     time.Duration
}

func NewProvisionHandler(p Provisioner, timeout time.Duration) *ProvisionHandler {
	if timeout <= 0 {
		timeout = defaultRunTimeout
	}
	return &ProvisionHandler{provisioner: p, timeout: timeout}
}

// Provision runs the pipeline synchronously. The run is detached from the
// request context so a disconnecting client cannot interrupt an install.
func (h *ProvisionHandler) Provision(ctx *gin.Context) {
	runCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx.Request.Context()), h.timeout)
	defer cancel()

	result, err := h.provisioner.Run(runCtx)
	if errors.Is(err, provisioner.ErrRunInProgress) {
		ctx.JSON(http.StatusConflict, gin.H{"error": err.Error()})
		return
	}
	if result == nil {
		slog.Error("Provisioning run returned no result", "error", err)
		ctx.JSON(http.StatusInternalServerError, gin.H{"error": "Provisioning failed"})
		return
	}

	resp := toProvisionResponse(result)
	if err != nil {
		ctx.JSON(http.StatusBadGateway, resp)
		return
	}
	ctx.JSON(http.StatusOK, resp)
}

func toProvisionResponse(result *provisioner.Result) dto.ProvisionResponse {
	resp := dto.ProvisionResponse{
		RunID:             result.RunID,
		State:             string(result.State),
		PolicyName:        result.PolicyName,
		PolicyID:          result.Policy.ID,
		CredentialID:      result.CredentialID,
		CredentialCreated: result.CredentialCreated,
		FailedStage:       string(result.FailedStage()),
		DurationMS:        result.Duration().Milliseconds(),
	}
	if result.Err != nil {
		resp.Error = result.Err.Error()
	}
	return resp
}
