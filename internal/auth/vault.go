package auth

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/hashicorp/vault/api"
)

const (
	defaultUsernameField = "username"
	defaultPasswordField = "password"
	vaultTimeout         = 30 * time.Second
)

var ErrSecretNotFound = errors.New("operator secret not found in vault")

type VaultConfig struct {
	Address       string `mapstructure:"address"`
	Token         string `mapstructure:"token"`
	Namespace     string `mapstructure:"namespace"`
	Path          string `mapstructure:"path"`
	UsernameField string `mapstructure:"username_field"`
	PasswordField string `mapstructure:"password_field"`
}

func (c VaultConfig) Enabled() bool {
	return c.Address != ""
}

// VaultSource reads the operator credentials from a Vault KV secret.
// Both KV v1 paths and KV v2 "<mount>/data/<path>" paths are accepted.
type VaultSource struct {
	client        *api.Client
	path          string
	usernameField string
	passwordField string
}

// NewVaultSource builds a client from the standard VAULT_* environment
// (TLS material, VAULT_TOKEN, VAULT_NAMESPACE) and then applies cfg on top,
// so explicit settings win and the environment only fills the gaps.
func NewVaultSource(cfg VaultConfig) (*VaultSource, error) {
	if cfg.Path == "" {
		return nil, fmt.Errorf("vault path is required")
	}

	vaultCfg := api.DefaultConfig()
	vaultCfg.Address = cfg.Address
	vaultCfg.AgentAddress = ""
	vaultCfg.Timeout = vaultTimeout

	client, err := api.NewClient(vaultCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create Vault client: %w", err)
	}
	if cfg.Token != "" {
		client.SetToken(cfg.Token)
	}
	if cfg.Namespace != "" {
		client.SetNamespace(cfg.Namespace)
	}

	return NewVaultSourceWithClient(client, cfg), nil
}

func NewVaultSourceWithClient(client *api.Client, cfg VaultConfig) *VaultSource {
	usernameField := cfg.UsernameField
	if usernameField == "" {
		usernameField = defaultUsernameField
	}
	passwordField := cfg.PasswordField
	if passwordField == "" {
		passwordField = defaultPasswordField
	}
	return &VaultSource{
		client:        client,
		path:          cfg.Path,
		usernameField: usernameField,
		passwordField: passwordField,
	}
}

func (v *VaultSource) Credentials(ctx context.Context) (Credentials, error) {
	secret, err := v.client.Logical().ReadWithContext(ctx, v.path)
	if err != nil {
		return Credentials{}, fmt.Errorf("failed to read secret from Vault: %w", err)
	}
	if secret == nil || secret.Data == nil {
		return Credentials{}, ErrSecretNotFound
	}

	data := secret.Data
	// KV v2 nests the payload under "data".
	if nested, ok := data["data"].(map[string]interface{}); ok {
		data = nested
	}

	username, _ := data[v.usernameField].(string)
	password, _ := data[v.passwordField].(string)
	creds := Credentials{Username: username, Password: password}
	if !creds.Valid() {
		return Credentials{}, fmt.Errorf("%w: fields %q/%q missing at %s", ErrSecretNotFound, v.usernameField, v.passwordField, v.path)
	}
	return creds, nil
}
