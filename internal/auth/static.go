package auth

import (
	"context"

	"github.com/EternisAI/fleet-enroll/internal/controlplane"
)

// StaticProvider wraps the operator credentials into a basic-auth header.
// It never touches the network.
type StaticProvider struct {
	auth controlplane.Auth
}

func NewStaticProvider(creds Credentials) *StaticProvider {
	return &StaticProvider{auth: controlplane.BasicAuth(creds.Username, creds.Password)}
}

func (p *StaticProvider) Resolve(_ context.Context) (controlplane.Auth, error) {
	return p.auth, nil
}

// Renew is Resolve: basic credentials have nothing to refresh.
func (p *StaticProvider) Renew(ctx context.Context) (controlplane.Auth, error) {
	return p.Resolve(ctx)
}
