// Package policy looks up agent policies on the control plane by name.
// Policies are never created here; they are expected to exist already.
package policy

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strconv"

	"github.com/EternisAI/fleet-enroll/internal/controlplane"
)

const (
	PoliciesPath    = "/api/fleet/agent_policies"
	defaultPageSize = 1000
)

type Config struct {
	Name     string `mapstructure:"name"`
	PageSize int    `mapstructure:"page_size"`
}

type Policy struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

type listResponse struct {
	Items   []Policy `json:"items"`
	Total   int      `json:"total"`
	Page    int      `json:"page"`
	PerPage int      `json:"perPage"`
}

// Error reports a failed policy listing.
type Error struct {
	StatusCode int
	Body       string
	Err        error
}

func (e *Error) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("listing policies failed (HTTP %d): %s", e.StatusCode, e.Body)
	}
	return fmt.Sprintf("listing policies failed: %v", e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

type Resolver struct {
	client   *controlplane.Client
	pageSize int
}

func NewResolver(client *controlplane.Client, cfg Config) *Resolver {
	pageSize := cfg.PageSize
	if pageSize <= 0 {
		pageSize = defaultPageSize
	}
	return &Resolver{client: client, pageSize: pageSize}
}

// FindPolicy returns the first policy whose name matches exactly.
// A missing policy is reported with found=false and a nil error.
func (r *Resolver) FindPolicy(ctx context.Context, auth controlplane.Auth, name string) (Policy, bool, error) {
	query := url.Values{}
	query.Set("perPage", strconv.Itoa(r.pageSize))
	query.Set("kuery", fmt.Sprintf("ingest-agent-policies.name:%q", name))

	var resp listResponse
	if err := r.client.Get(ctx, PoliciesPath, query, auth, &resp); err != nil {
		return Policy{}, false, newError(err)
	}

	if resp.Total > len(resp.Items) {
		slog.Warn("Policy listing truncated", "total", resp.Total, "returned", len(resp.Items))
	}

	for _, p := range resp.Items {
		if p.Name == name && p.ID != "" {
			return p, true, nil
		}
	}

	slog.Info("Policy not found", "name", name, "candidates", len(resp.Items))
	return Policy{}, false, nil
}

func newError(err error) *Error {
	policyErr := &Error{Err: err}
	var statusErr *controlplane.StatusError
	if errors.As(err, &statusErr) {
		policyErr.StatusCode = statusErr.StatusCode
		policyErr.Body = statusErr.Body
	}
	return policyErr
}
