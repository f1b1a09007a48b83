package auth

import (
	"context"
	"log/slog"
	"sync"

	"github.com/EternisAI/fleet-enroll/internal/controlplane"
)

const (
	APIKeyPath     = "/_security/api_key"
	defaultKeyName = "fleet-enroll"
)

var defaultDataStreams = []string{"logs-*-*", "metrics-*-*", "traces-*-*"}

// Privileges granted to the minted key: write into the agent data streams
// and manage their lifecycle policies.
var indexPrivileges = []string{"auto_configure", "create_doc", "write", "manage_ilm"}

type indexPrivilege struct {
	Names      []string `json:"names"`
	Privileges []string `json:"privileges"`
}

type roleDescriptor struct {
	Cluster []string         `json:"cluster"`
	Indices []indexPrivilege `json:"indices"`
}

type apiKeyRequest struct {
	Name            string                    `json:"name"`
	Expiration      string                    `json:"expiration,omitempty"`
	RoleDescriptors map[string]roleDescriptor `json:"role_descriptors"`
}

type apiKeyResponse struct {
	ID         string `json:"id"`
	Name       string `json:"name"`
	APIKey     string `json:"api_key"`
	Expiration int64  `json:"expiration,omitempty"`
}

// MintedProvider creates a scoped API key with the operator credentials and
// returns it as an ApiKey header. The key is cached until Renew replaces it.
type MintedProvider struct {
	client  *controlplane.Client
	creds   Credentials
	request apiKeyRequest

	mu   sync.Mutex
	auth controlplane.Auth
}

func NewMintedProvider(client *controlplane.Client, creds Credentials, cfg Config) *MintedProvider {
	name := cfg.KeyName
	if name == "" {
		name = defaultKeyName
	}
	streams := cfg.DataStreams
	if len(streams) == 0 {
		streams = defaultDataStreams
	}

	return &MintedProvider{
		client: client,
		creds:  creds,
		request: apiKeyRequest{
			Name:       name,
			Expiration: cfg.Expiration,
			RoleDescriptors: map[string]roleDescriptor{
				name: {
					Cluster: []string{"monitor"},
					Indices: []indexPrivilege{{Names: streams, Privileges: indexPrivileges}},
				},
			},
		},
	}
}

// Resolve returns the cached key, minting one on first use.
func (p *MintedProvider) Resolve(ctx context.Context) (controlplane.Auth, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if !p.auth.IsZero() {
		return p.auth, nil
	}
	return p.mint(ctx)
}

// Renew always mints a new key and makes it the cached one. A failed mint
// clears the cache so a stale key is never handed out again.
func (p *MintedProvider) Renew(ctx context.Context) (controlplane.Auth, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.auth = controlplane.Auth{}
	return p.mint(ctx)
}

func (p *MintedProvider) mint(ctx context.Context) (controlplane.Auth, error) {
	var resp apiKeyResponse
	bootstrap := controlplane.BasicAuth(p.creds.Username, p.creds.Password)
	if err := p.client.Post(ctx, APIKeyPath, bootstrap, p.request, &resp); err != nil {
		slog.Error("Failed to mint API key", "name", p.request.Name, "error", err)
		return controlplane.Auth{}, newError(err)
	}
	if resp.ID == "" || resp.APIKey == "" {
		return controlplane.Auth{}, &Error{Err: ErrIncompleteAPIKey}
	}

	p.auth = controlplane.APIKeyAuth(resp.ID, resp.APIKey)
	slog.Info("API key minted", "key_id", resp.ID, "name", p.request.Name)
	return p.auth, nil
}
