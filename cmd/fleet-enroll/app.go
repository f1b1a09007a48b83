package main

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/EternisAI/fleet-enroll/internal/auth"
	"github.com/EternisAI/fleet-enroll/internal/controlplane"
	"github.com/EternisAI/fleet-enroll/internal/enrollment"
	"github.com/EternisAI/fleet-enroll/internal/installer"
	"github.com/EternisAI/fleet-enroll/internal/policy"
	"github.com/EternisAI/fleet-enroll/internal/provisioner"
)

// components are built once from Config and shared by the subcommands.
type components struct {
	client       *controlplane.Client
	auth         auth.Provider
	orchestrator *provisioner.Orchestrator
}

func operatorCredentials(ctx context.Context, cfg Config) (auth.Credentials, error) {
	if !cfg.Vault.Enabled() {
		return auth.Credentials{Username: cfg.ControlPlane.Username, Password: cfg.ControlPlane.Password}, nil
	}

	source, err := auth.NewVaultSource(cfg.Vault)
	if err != nil {
		return auth.Credentials{}, err
	}
	creds, err := source.Credentials(ctx)
	if err != nil {
		return auth.Credentials{}, err
	}
	slog.Info("Operator credentials loaded from Vault", "address", cfg.Vault.Address, "path", cfg.Vault.Path)
	return creds, nil
}

func buildComponents(ctx context.Context, cfg Config, dryRun bool, observers ...provisioner.Observer) (*components, error) {
	creds, err := operatorCredentials(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to load operator credentials: %w", err)
	}

	client := controlplane.NewClient(cfg.ControlPlane)
	provider, err := auth.NewProvider(cfg.Auth, client, creds)
	if err != nil {
		return nil, fmt.Errorf("failed to configure auth: %w", err)
	}

	opts := make([]provisioner.Option, 0, len(observers))
	for _, o := range observers {
		opts = append(opts, provisioner.WithObserver(o))
	}

	orc := provisioner.NewOrchestrator(
		provisioner.Config{
			PolicyName: cfg.Policy.Name,
			EnrollURL:  cfg.enrollURL(),
			DryRun:     dryRun,
		},
		provider,
		policy.NewResolver(client, cfg.Policy),
		enrollment.NewManager(client, cfg.Enrollment),
		installer.New(cfg.Installer, installer.ExecRunner{}),
		opts...,
	)

	slog.Info("Components ready",
		"control_plane", client.BaseURL(),
		"auth_mode", cfg.Auth.Mode,
		"policy", cfg.Policy.Name,
		"work_dir", cfg.Installer.WorkDir,
		"install_dir", cfg.Installer.InstallDir)

	return &components{client: client, auth: provider, orchestrator: orc}, nil
}
