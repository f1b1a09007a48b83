package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/EternisAI/fleet-enroll/internal/provisioner"
	"github.com/spf13/pflag"
)

func runProvision(args []string) int {
	var (
		configFile string
		policyName string
		insecure   bool
		dryRun     bool
	)

	flagSet := pflag.NewFlagSet("provision", pflag.ContinueOnError)
	flagSet.StringVar(&configFile, "config", "", "path to a config file (default: ./application.yaml)")
	flagSet.StringVar(&policyName, "policy", "", "agent policy name (overrides policy.name)")
	flagSet.BoolVar(&insecure, "insecure", false, "skip TLS verification for the control plane and the installed agent")
	flagSet.BoolVar(&dryRun, "dry-run", false, "stop once the enrollment credential is ready")
	if err := flagSet.Parse(args); err != nil {
		if err == pflag.ErrHelp {
			return 0
		}
		fmt.Fprintln(os.Stderr, err)
		return 2
	}

	InitConfig(configFile)
	if policyName != "" {
		config.Policy.Name = policyName
	}
	if insecure {
		config.ControlPlane.InsecureSkipVerify = true
		config.Installer.Insecure = true
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	comps, err := buildComponents(ctx, config, dryRun)
	if err != nil {
		fmt.Fprintf(os.Stderr, "fleet-enroll: %v\n", err)
		return 1
	}

	result, err := comps.orchestrator.Run(ctx)
	printResult(os.Stdout, result)
	if err != nil {
		fmt.Fprintf(os.Stderr, "fleet-enroll: provisioning aborted: %v\n", err)
		return 1
	}
	return 0
}

func printResult(w io.Writer, result *provisioner.Result) {
	if result == nil {
		return
	}
	fmt.Fprintf(w, "run:        %s\n", result.RunID)
	fmt.Fprintf(w, "state:      %s\n", result.State)
	fmt.Fprintf(w, "policy:     %s", result.PolicyName)
	if result.Policy.ID != "" {
		fmt.Fprintf(w, " (%s)", result.Policy.ID)
	}
	fmt.Fprintln(w)
	if result.CredentialID != "" {
		fmt.Fprintf(w, "credential: %s created=%t token=%s\n", result.CredentialID, result.CredentialCreated, result.SecretHint)
	}
	if result.Outcome.BinaryPath != "" {
		fmt.Fprintf(w, "agent:      %s\n", result.Outcome.BinaryPath)
	}
	if stage := result.FailedStage(); stage != "" {
		fmt.Fprintf(w, "failed:     %s\n", stage)
	}
	fmt.Fprintf(w, "duration:   %s\n", result.Duration())
}
