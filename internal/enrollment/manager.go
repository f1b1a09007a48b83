// Package enrollment finds or creates the enrollment credential an agent
// uses to register with a policy.
//
// GetOrCreate is a check-then-act sequence and is not atomic: two callers
// racing on the same policy can both see no credential and both create one.
// Callers must serialise runs against a policy (fleet-enroll runs one
// orchestration at a time).
package enrollment

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"

	"github.com/EternisAI/fleet-enroll/internal/controlplane"
)

const (
	KeysPath          = "/api/fleet/enrollment_api_keys"
	defaultNamePrefix = "fleet-enroll"
)

var ErrMissingSecret = errors.New("enrollment credential response has no api_key")

type Config struct {
	NamePrefix string `mapstructure:"name_prefix"`
}

// Credential is a secret scoped to exactly one policy.
type Credential struct {
	ID       string
	PolicyID string
	Name     string
	Secret   string
	Created  bool
}

type apiKey struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	APIKey   string `json:"api_key"`
	PolicyID string `json:"policy_id"`
	Active   *bool  `json:"active,omitempty"`
}

func (k apiKey) active() bool {
	return k.Active == nil || *k.Active
}

type listResponse struct {
	Items []apiKey `json:"items"`
	Total int      `json:"total"`
}

type createRequest struct {
	Name     string `json:"name"`
	PolicyID string `json:"policy_id"`
}

type createResponse struct {
	Item apiKey `json:"item"`
}

// Error reports a rejected lookup or create call.
type Error struct {
	Op         string
	StatusCode int
	Body       string
	Err        error
}

func (e *Error) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("enrollment credential %s failed (HTTP %d): %s", e.Op, e.StatusCode, e.Body)
	}
	return fmt.Sprintf("enrollment credential %s failed: %v", e.Op, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

type Manager struct {
	client     *controlplane.Client
	namePrefix string
}

func NewManager(client *controlplane.Client, cfg Config) *Manager {
	prefix := cfg.NamePrefix
	if prefix == "" {
		prefix = defaultNamePrefix
	}
	return &Manager{client: client, namePrefix: prefix}
}

// GetOrCreate returns the first active credential scoped to policyID, creating
// one when none exists.
func (m *Manager) GetOrCreate(ctx context.Context, auth controlplane.Auth, policyID string) (Credential, error) {
	if existing, ok, err := m.find(ctx, auth, policyID); err != nil {
		return Credential{}, err
	} else if ok {
		slog.Info("Using existing enrollment credential", "policy_id", policyID, "credential_id", existing.ID)
		return existing, nil
	}

	return m.create(ctx, auth, policyID)
}

func (m *Manager) find(ctx context.Context, auth controlplane.Auth, policyID string) (Credential, bool, error) {
	query := url.Values{}
	query.Set("kuery", fmt.Sprintf("policy_id:%q", policyID))

	var resp listResponse
	if err := m.client.Get(ctx, KeysPath, query, auth, &resp); err != nil {
		return Credential{}, false, newError("lookup", err)
	}

	for _, k := range resp.Items {
		// The filter is applied server side, but a credential for another
		// policy must never be handed to the installer.
		if k.PolicyID != policyID || !k.active() || k.APIKey == "" {
			continue
		}
		return Credential{
			ID:       k.ID,
			PolicyID: k.PolicyID,
			Name:     k.Name,
			Secret:   k.APIKey,
			Created:  false,
		}, true, nil
	}
	return Credential{}, false, nil
}

func (m *Manager) create(ctx context.Context, auth controlplane.Auth, policyID string) (Credential, error) {
	req := createRequest{
		Name:     m.DisplayName(policyID),
		PolicyID: policyID,
	}

	var resp createResponse
	if err := m.client.Post(ctx, KeysPath, auth, req, &resp); err != nil {
		return Credential{}, newError("create", err)
	}
	if resp.Item.APIKey == "" {
		return Credential{}, &Error{Op: "create", Err: ErrMissingSecret}
	}

	slog.Info("Enrollment credential created", "policy_id", policyID, "credential_id", resp.Item.ID, "name", req.Name)
	return Credential{
		ID:       resp.Item.ID,
		PolicyID: policyID,
		Name:     req.Name,
		Secret:   resp.Item.APIKey,
		Created:  true,
	}, nil
}

// DisplayName derives the credential name from the policy id.
func (m *Manager) DisplayName(policyID string) string {
	return m.namePrefix + "-" + policyID
}

func newError(op string, err error) *Error {
	credErr := &Error{Op: op, Err: err}
	var statusErr *controlplane.StatusError
	if errors.As(err, &statusErr) {
		credErr.StatusCode = statusErr.StatusCode
		credErr.Body = statusErr.Body
	}
	return credErr
}
