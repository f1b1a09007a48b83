// Package provisioner sequences one agent provisioning run:
//
//	START -> AUTHENTICATED -> POLICY_RESOLVED -> CREDENTIAL_READY -> INSTALLED
//
// Any stage failure moves the run to ABORTED and no later stage executes.
// Stages are never retried within a run; re-running is safe because policy
// lookup and credential find-or-create are idempotent.
package provisioner

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/EternisAI/fleet-enroll/internal/controlplane"
	"github.com/EternisAI/fleet-enroll/internal/enrollment"
	"github.com/EternisAI/fleet-enroll/internal/installer"
	"github.com/EternisAI/fleet-enroll/internal/policy"
	"github.com/google/uuid"
)

type Config struct {
	PolicyName string `mapstructure:"policy_name"`
	EnrollURL  string `mapstructure:"enroll_url"`
	DryRun     bool   `mapstructure:"dry_run"`
}

// Authenticator builds the credential for one run. Renew is called once at
// the start of every run, so no run inherits a key minted for an earlier one.
type Authenticator interface {
	Renew(ctx context.Context) (controlplane.Auth, error)
}

type PolicyFinder interface {
	FindPolicy(ctx context.Context, auth controlplane.Auth, name string) (policy.Policy, bool, error)
}

type CredentialManager interface {
	GetOrCreate(ctx context.Context, auth controlplane.Auth, policyID string) (enrollment.Credential, error)
}

type AgentInstaller interface {
	Install(ctx context.Context, controlPlaneURL, secret string) (installer.Outcome, error)
}

// Observer is told about every finished run.
type Observer interface {
	RunFinished(ctx context.Context, result *Result)
}

type Result struct {
	RunID             string
	PolicyName        string
	State             State
	Policy            policy.Policy
	CredentialID      string
	CredentialCreated bool
	// SecretHint is a masked prefix of the enrollment secret, safe to print.
	SecretHint string
	Outcome    installer.Outcome
	Err        error
	StartedAt  time.Time
	FinishedAt time.Time
}

func (r *Result) FailedStage() Stage {
	stage, _ := FailedStage(r.Err)
	return stage
}

func (r *Result) Duration() time.Duration {
	return r.FinishedAt.Sub(r.StartedAt)
}

type Option func(*Orchestrator)

func WithObserver(o Observer) Option {
	return func(orc *Orchestrator) {
		orc.observers = append(orc.observers, o)
	}
}

func WithClock(now func() time.Time) Option {
	return func(orc *Orchestrator) {
		orc.now = now
	}
}

// Orchestrator owns one run at a time. Concurrent Run calls in the same
// process are rejected with ErrRunInProgress.
type Orchestrator struct {
	cfg         Config
	auth        Authenticator
	policies    PolicyFinder
	credentials CredentialManager
	installer   AgentInstaller
	observers   []Observer
	now         func() time.Time

	mu sync.Mutex
}

func NewOrchestrator(cfg Config, auth Authenticator, policies PolicyFinder, credentials CredentialManager, inst AgentInstaller, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		cfg:         cfg,
		auth:        auth,
		policies:    policies,
		credentials: credentials,
		installer:   inst,
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Run executes the pipeline. The returned Result is always populated; the
// error is the run's StageError when it ends ABORTED.
func (o *Orchestrator) Run(ctx context.Context) (*Result, error) {
	if !o.mu.TryLock() {
		return nil, ErrRunInProgress
	}
	defer o.mu.Unlock()

	result := &Result{
		RunID:      uuid.NewString(),
		PolicyName: o.cfg.PolicyName,
		State:      StateStart,
		StartedAt:  o.now(),
	}
	log := slog.With("run_id", result.RunID, "policy", o.cfg.PolicyName)
	log.Info("Provisioning run started")

	auth, err := o.auth.Renew(ctx)
	if err != nil {
		return o.abort(ctx, log, result, StageAuthenticate, err)
	}
	o.advance(log, result, StateAuthenticated)

	pol, found, err := o.policies.FindPolicy(ctx, auth, o.cfg.PolicyName)
	if err != nil {
		return o.abort(ctx, log, result, StageResolvePolicy, err)
	}
	if !found {
		return o.abort(ctx, log, result, StageResolvePolicy, &NotFoundError{PolicyName: o.cfg.PolicyName})
	}
	result.Policy = pol
	o.advance(log, result, StatePolicyResolved, "policy_id", pol.ID)

	cred, err := o.credentials.GetOrCreate(ctx, auth, pol.ID)
	if err != nil {
		return o.abort(ctx, log, result, StageCredential, err)
	}
	if cred.PolicyID != "" && cred.PolicyID != pol.ID {
		return o.abort(ctx, log, result, StageCredential, ErrCredentialScope)
	}
	result.CredentialID = cred.ID
	result.CredentialCreated = cred.Created
	result.SecretHint = maskSecret(cred.Secret)
	o.advance(log, result, StateCredentialReady, "credential_id", cred.ID, "created", cred.Created)

	if o.cfg.DryRun {
		log.Info("Dry run, skipping install")
		return o.finish(ctx, result), nil
	}

	outcome, err := o.installer.Install(ctx, o.cfg.EnrollURL, cred.Secret)
	result.Outcome = outcome
	if err != nil {
		return o.abort(ctx, log, result, StageInstall, err)
	}
	o.advance(log, result, StateInstalled)

	return o.finish(ctx, result), nil
}

func (o *Orchestrator) advance(log *slog.Logger, result *Result, next State, attrs ...any) {
	log.Info("Provisioning state changed", append([]any{"from", result.State, "to", next}, attrs...)...)
	result.State = next
}

func (o *Orchestrator) abort(ctx context.Context, log *slog.Logger, result *Result, stage Stage, err error) (*Result, error) {
	log.Error("Provisioning run aborted", "state", result.State, "stage", stage, "error", err)
	result.State = StateAborted
	result.Err = &StageError{Stage: stage, Err: err}
	return o.finish(ctx, result), result.Err
}

func (o *Orchestrator) finish(ctx context.Context, result *Result) *Result {
	result.FinishedAt = o.now()
	for _, obs := range o.observers {
		obs.RunFinished(ctx, result)
	}
	return result
}

func maskSecret(secret string) string {
	if len(secret) <= 8 {
		return "****"
	}
	return secret[:4] + "****"
}
