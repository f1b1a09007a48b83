// Package runs keeps the history of provisioning runs. Records never hold
// enrollment secrets or auth headers.
package runs

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/EternisAI/fleet-enroll/internal/provisioner"
)

const (
	DefaultLimit = 20
	MaxLimit     = 500
)

var ErrNotFound = errors.New("run not found")

type Run struct {
	ID                string    `json:"id" db:"id"`
	PolicyName        string    `json:"policy_name" db:"policy_name"`
	PolicyID          string    `json:"policy_id,omitempty" db:"policy_id"`
	State             string    `json:"state" db:"state"`
	FailedStage       string    `json:"failed_stage,omitempty" db:"failed_stage"`
	CredentialID      string    `json:"credential_id,omitempty" db:"credential_id"`
	CredentialCreated bool      `json:"credential_created" db:"credential_created"`
	Error             string    `json:"error,omitempty" db:"error"`
	StartedAt         time.Time `json:"started_at" db:"started_at"`
	FinishedAt        time.Time `json:"finished_at" db:"finished_at"`
}

// Store persists finished runs. List returns the newest first.
type Store interface {
	Record(ctx context.Context, run Run) error
	Get(ctx context.Context, id string) (Run, error)
	List(ctx context.Context, limit int) ([]Run, error)
}

func FromResult(result *provisioner.Result) Run {
	run := Run{
		ID:                result.RunID,
		PolicyName:        result.PolicyName,
		PolicyID:          result.Policy.ID,
		State:             string(result.State),
		FailedStage:       string(result.FailedStage()),
		CredentialID:      result.CredentialID,
		CredentialCreated: result.CredentialCreated,
		StartedAt:         result.StartedAt.UTC(),
		FinishedAt:        result.FinishedAt.UTC(),
	}
	if result.Err != nil {
		run.Error = result.Err.Error()
	}
	return run
}

// ClampLimit maps a requested page size into [1, MaxLimit].
func ClampLimit(limit int) int {
	if limit <= 0 {
		return DefaultLimit
	}
	if limit > MaxLimit {
		return MaxLimit
	}
	return limit
}

// Recorder writes every finished run to a Store. Write failures are logged
// and never change the run's outcome.
type Recorder struct {
	store Store
}

func NewRecorder(store Store) *Recorder {
	return &Recorder{store: store}
}

func (r *Recorder) RunFinished(ctx context.Context, result *provisioner.Result) {
	run := FromResult(result)
	if err := r.store.Record(context.WithoutCancel(ctx), run); err != nil {
		slog.Error("Failed to record provisioning run", "run_id", run.ID, "error", err)
	}
}
