// Package installer downloads the agent archive, unpacks it and runs the
// bundled installer with the enrollment token.
package installer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"os/exec"
	"path"
	"path/filepath"
	"strings"
)

type Step string

const (
	StepPrepare  Step = "prepare"
	StepDownload Step = "download"
	StepVerify   Step = "verify"
	StepExtract  Step = "extract"
	StepInstall  Step = "install"
)

const (
	defaultArchiveName = "elastic-agent.tar.gz"
	defaultBinary      = "elastic-agent"
	maxOutputLen       = 8192
)

var (
	ErrMissingToken  = errors.New("enrollment token is empty")
	ErrWorkDirInside = errors.New("work directory must not be inside the agent install directory")
)

type Config struct {
	DownloadURL string `mapstructure:"download_url"`
	// WorkDir receives the archive and its extracted tree. Empty means
	// <os temp dir>/fleet-enroll.
	WorkDir string `mapstructure:"work_dir"`
	// InstallDir is where the agent ends up, e.g. /opt/Elastic/Agent. It is
	// handed to the installer as --base-path; empty keeps the agent default.
	InstallDir  string   `mapstructure:"install_dir"`
	Binary      string   `mapstructure:"binary"`
	InstallArgs []string `mapstructure:"install_args"`
	Insecure    bool     `mapstructure:"insecure"`
	Checksum    string   `mapstructure:"checksum"`
}

// Target describes what a run installs and where.
type Target struct {
	DownloadURL     string `json:"download_url"`
	WorkDir         string `json:"work_dir"`
	InstallDir      string `json:"install_dir"`
	ControlPlaneURL string `json:"control_plane_url"`
	EnrollmentToken string `json:"-"`
}

type Outcome struct {
	Target       Target
	ArchivePath  string
	ExtractedDir string
	BinaryPath   string
	Output       string
}

// Error wraps the failure of one external step.
type Error struct {
	Step     Step
	ExitCode int
	Output   string
	Err      error
}

func (e *Error) Error() string {
	msg := fmt.Sprintf("%s step failed", e.Step)
	if e.ExitCode != 0 {
		msg += fmt.Sprintf(" (exit %d)", e.ExitCode)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	if e.Output != "" {
		msg += ", output: " + e.Output
	}
	return msg
}

func (e *Error) Unwrap() error {
	return e.Err
}

type Installer struct {
	cfg    Config
	runner Runner
}

func New(cfg Config, runner Runner) *Installer {
	if runner == nil {
		runner = ExecRunner{}
	}
	if cfg.Binary == "" {
		cfg.Binary = defaultBinary
	}
	if cfg.WorkDir == "" {
		cfg.WorkDir = filepath.Join(os.TempDir(), "fleet-enroll")
	}
	return &Installer{cfg: cfg, runner: runner}
}

// Install runs download, optional checksum verification, extraction and the
// installer binary. Every step is blocking and any failure stops the sequence.
func (i *Installer) Install(ctx context.Context, controlPlaneURL, secret string) (Outcome, error) {
	outcome := Outcome{
		Target: Target{
			DownloadURL:     i.cfg.DownloadURL,
			WorkDir:         i.cfg.WorkDir,
			InstallDir:      i.cfg.InstallDir,
			ControlPlaneURL: controlPlaneURL,
			EnrollmentToken: secret,
		},
	}

	if secret == "" {
		return outcome, &Error{Step: StepInstall, Err: ErrMissingToken}
	}

	// The installer replaces its target directory, so its own source tree
	// must live elsewhere.
	if i.cfg.InstallDir != "" && within(i.cfg.WorkDir, i.cfg.InstallDir) {
		return outcome, &Error{Step: StepPrepare, Err: fmt.Errorf("%w: %s in %s", ErrWorkDirInside, i.cfg.WorkDir, i.cfg.InstallDir)}
	}
	if err := os.MkdirAll(i.cfg.WorkDir, 0755); err != nil {
		return outcome, &Error{Step: StepPrepare, Err: fmt.Errorf("failed to create directory %s: %w", i.cfg.WorkDir, err)}
	}

	archive := ArchiveName(i.cfg.DownloadURL)
	outcome.ArchivePath = filepath.Join(i.cfg.WorkDir, archive)

	slog.Info("Downloading agent", "url", i.cfg.DownloadURL, "dest", outcome.ArchivePath)
	if _, err := i.run(ctx, StepDownload, i.cfg.WorkDir, "curl", "-fsSL", i.cfg.DownloadURL, "-o", outcome.ArchivePath); err != nil {
		return outcome, err
	}

	if i.cfg.Checksum != "" {
		if err := VerifyChecksum(outcome.ArchivePath, i.cfg.Checksum); err != nil {
			return outcome, &Error{Step: StepVerify, Err: err}
		}
	}

	slog.Info("Extracting agent", "archive", outcome.ArchivePath)
	if _, err := i.run(ctx, StepExtract, i.cfg.WorkDir, "tar", "-xzf", outcome.ArchivePath, "-C", i.cfg.WorkDir); err != nil {
		return outcome, err
	}

	outcome.ExtractedDir = filepath.Join(i.cfg.WorkDir, archiveStem(archive))
	outcome.BinaryPath = filepath.Join(outcome.ExtractedDir, i.cfg.Binary)

	args := append([]string{}, i.cfg.InstallArgs...)
	if base := BasePath(i.cfg.InstallDir); base != "" {
		args = append(args, "--base-path", base)
	}
	args = append(args, "--url", controlPlaneURL, "--enrollment-token", secret)
	if i.cfg.Insecure {
		slog.Warn("Installing agent with TLS verification disabled")
		args = append(args, "--insecure")
	}

	slog.Info("Installing agent", "binary", outcome.BinaryPath, "url", controlPlaneURL)
	output, err := i.run(ctx, StepInstall, outcome.ExtractedDir, outcome.BinaryPath, args...)
	if err != nil {
		return outcome, err
	}
	outcome.Output = output

	slog.Info("Agent installed", "binary", outcome.BinaryPath)
	return outcome, nil
}

func (i *Installer) run(ctx context.Context, step Step, dir, name string, args ...string) (string, error) {
	out, err := i.runner.Run(ctx, dir, name, args...)
	output := truncate(string(out))
	if err != nil {
		exitCode := -1
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			exitCode = exitErr.ExitCode()
		}
		slog.Error("Install step failed", "step", step, "exit_code", exitCode)
		return output, &Error{Step: step, ExitCode: exitCode, Output: output, Err: err}
	}
	return output, nil
}

// BasePath turns an agent install directory into the installer's
// --base-path value. The agent always installs into <base>/Elastic/Agent, so
// a trailing Elastic/Agent is stripped.
func BasePath(installDir string) string {
	if installDir == "" {
		return ""
	}
	dir := filepath.Clean(installDir)
	if filepath.Base(dir) == "Agent" && filepath.Base(filepath.Dir(dir)) == "Elastic" {
		return filepath.Dir(filepath.Dir(dir))
	}
	return dir
}

// within reports whether dir is parent or a directory below it.
func within(dir, parent string) bool {
	rel, err := filepath.Rel(filepath.Clean(parent), filepath.Clean(dir))
	if err != nil {
		return false
	}
	return rel == "." || (rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator)))
}

// ArchiveName returns the file name of the download URL.
func ArchiveName(downloadURL string) string {
	u, err := url.Parse(downloadURL)
	if err != nil {
		return defaultArchiveName
	}
	name := path.Base(u.Path)
	if name == "." || name == "/" || name == "" {
		return defaultArchiveName
	}
	return name
}

func archiveStem(archive string) string {
	for _, ext := range []string{".tar.gz", ".tgz"} {
		if strings.HasSuffix(archive, ext) {
			return strings.TrimSuffix(archive, ext)
		}
	}
	return strings.TrimSuffix(archive, filepath.Ext(archive))
}

func truncate(s string) string {
	if len(s) > maxOutputLen {
		return s[len(s)-maxOutputLen:]
	}
	return s
}
