package maintenance

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"

	"github.com/EternisAI/fleet-enroll/internal/controlplane"
)

var ErrInvalidDocument = errors.New("setup document is not valid JSON")

type DocumentConfig struct {
	// URL overrides the control-plane base URL, e.g. to target Elasticsearch
	// instead of Kibana. Empty keeps the control-plane URL.
	URL    string `mapstructure:"url"`
	File   string `mapstructure:"file"`
	Path   string `mapstructure:"path"`
	Method string `mapstructure:"method"`
}

type Authenticator interface {
	Resolve(ctx context.Context) (controlplane.Auth, error)
}

// DocumentTask sends a JSON document from disk to a control-plane path.
// The file is re-read on every attempt so it can be fixed while the loop runs.
type DocumentTask struct {
	client *controlplane.Client
	auth   Authenticator
	cfg    DocumentConfig
}

func NewDocumentTask(client *controlplane.Client, auth Authenticator, cfg DocumentConfig) *DocumentTask {
	if cfg.Method == "" {
		cfg.Method = http.MethodPost
	}
	if cfg.URL != "" {
		client = client.WithBaseURL(cfg.URL)
	}
	return &DocumentTask{client: client, auth: auth, cfg: cfg}
}

func (t *DocumentTask) Name() string {
	return t.cfg.Method + " " + t.cfg.Path
}

func (t *DocumentTask) Run(ctx context.Context) error {
	data, err := os.ReadFile(t.cfg.File)
	if err != nil {
		return fmt.Errorf("failed to read setup document: %w", err)
	}
	if !json.Valid(data) {
		return fmt.Errorf("%w: %s", ErrInvalidDocument, t.cfg.File)
	}

	auth, err := t.auth.Resolve(ctx)
	if err != nil {
		return fmt.Errorf("failed to authenticate: %w", err)
	}

	if err := t.client.Do(ctx, t.cfg.Method, t.cfg.Path, nil, auth, json.RawMessage(data), nil); err != nil {
		return fmt.Errorf("failed to apply setup document: %w", err)
	}
	return nil
}
