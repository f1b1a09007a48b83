package controlplane

import (
	"encoding/base64"
)

const (
	schemeBasic  = "Basic"
	schemeAPIKey = "ApiKey"
)

// Auth is the Authorization header value used for control-plane calls.
// It is immutable once built.
type Auth struct {
	scheme      string
	credentials string
}

func BasicAuth(username, password string) Auth {
	return Auth{
		scheme:      schemeBasic,
		credentials: base64.StdEncoding.EncodeToString([]byte(username + ":" + password)),
	}
}

// APIKeyAuth encodes a minted key pair as "ApiKey base64(id:key)".
func APIKeyAuth(id, key string) Auth {
	return Auth{
		scheme:      schemeAPIKey,
		credentials: base64.StdEncoding.EncodeToString([]byte(id + ":" + key)),
	}
}

func (a Auth) IsZero() bool {
	return a.scheme == ""
}

func (a Auth) Scheme() string {
	return a.scheme
}

func (a Auth) Header() string {
	if a.IsZero() {
		return ""
	}
	return a.scheme + " " + a.credentials
}

// String never exposes the credentials.
func (a Auth) String() string {
	if a.IsZero() {
		return "none"
	}
	return a.scheme + " [redacted]"
}
