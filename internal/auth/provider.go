// Package auth resolves the credential fleet-enroll uses for its own
// control-plane calls: either the operator's basic-auth pair, or an API key
// minted with that pair and exchanged for an "ApiKey" authorization header.
package auth

import (
	"context"
	"errors"
	"fmt"

	"github.com/EternisAI/fleet-enroll/internal/controlplane"
)

const (
	ModeStatic = "static"
	ModeAPIKey = "api_key"
)

var (
	ErrUnknownMode      = errors.New("unknown auth mode")
	ErrMissingOperator  = errors.New("operator username and password are required")
	ErrIncompleteAPIKey = errors.New("api key response is missing id or api_key")
)

type Config struct {
	Mode        string   `mapstructure:"mode"`
	SecurityURL string   `mapstructure:"security_url"`
	KeyName     string   `mapstructure:"key_name"`
	Expiration  string   `mapstructure:"expiration"`
	DataStreams []string `mapstructure:"data_streams"`
}

// Credentials is the operator's basic-auth pair.
type Credentials struct {
	Username string
	Password string
}

func (c Credentials) Valid() bool {
	return c.Username != "" && c.Password != ""
}

// Provider resolves the Auth for the remainder of a run. Resolve may return
// a cached credential; Renew always builds a fresh one.
type Provider interface {
	Resolve(ctx context.Context) (controlplane.Auth, error)
	Renew(ctx context.Context) (controlplane.Auth, error)
}

// CredentialSource supplies the operator credentials.
type CredentialSource interface {
	Credentials(ctx context.Context) (Credentials, error)
}

// StaticSource returns fixed credentials taken from configuration.
type StaticSource Credentials

func (s StaticSource) Credentials(_ context.Context) (Credentials, error) {
	return Credentials(s), nil
}

// NewProvider builds the provider selected by cfg.Mode.
func NewProvider(cfg Config, client *controlplane.Client, creds Credentials) (Provider, error) {
	if !creds.Valid() {
		return nil, ErrMissingOperator
	}

	switch cfg.Mode {
	case "", ModeStatic:
		return NewStaticProvider(creds), nil
	case ModeAPIKey:
		target := client
		if cfg.SecurityURL != "" {
			target = client.WithBaseURL(cfg.SecurityURL)
		}
		return NewMintedProvider(target, creds, cfg), nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownMode, cfg.Mode)
	}
}

// Error reports a rejected credential exchange. It is fatal to the run.
type Error struct {
	StatusCode int
	Body       string
	Err        error
}

func (e *Error) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("api key creation rejected (HTTP %d): %s", e.StatusCode, e.Body)
	}
	return fmt.Sprintf("api key creation failed: %v", e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

func newError(err error) *Error {
	authErr := &Error{Err: err}
	var statusErr *controlplane.StatusError
	if errors.As(err, &statusErr) {
		authErr.StatusCode = statusErr.StatusCode
		authErr.Body = statusErr.Body
	}
	return authErr
}
