package deployment

import (
	"context"
	"fmt"
	"os/exec"

	ocierrors "github.com/giuseppe/atomic/pkg/errors"
)

// Supervisor is the adapter interface for enable/disable, start/stop,
// health queries, and the two reload operations a checkout or uninstall
// needs to take effect. Concrete implementations shell out to a specific
// init system; Systemd is the only one this repo ships.
type Supervisor interface {
	Enable(ctx context.Context, unit string) error
	Disable(ctx context.Context, unit string) error
	Start(ctx context.Context, unit string) error
	Stop(ctx context.Context, unit string) error
	IsActive(ctx context.Context, unit string) (bool, error)
	IsFailed(ctx context.Context, unit string) (bool, error)
	DaemonReload(ctx context.Context) error
	Tmpfiles(ctx context.Context, confPath string) error
}

// Systemd shells out to systemctl/systemd-tmpfiles to drive unit
// lifecycle management for a single deployed service.
type Systemd struct {
	UserMode bool
}

func (s *Systemd) systemctl(ctx context.Context, args ...string) ([]byte, error) {
	full := args
	if s.UserMode {
		full = append([]string{"--user"}, args...)
	}
	out, err := exec.CommandContext(ctx, "systemctl", full...).CombinedOutput()
	if err != nil {
		if _, lookErr := exec.LookPath("systemctl"); lookErr != nil {
			return out, fmt.Errorf("%w: systemctl not found", ocierrors.ErrSupervisorMissingFeature)
		}
		return out, fmt.Errorf("systemctl %v: %w: %s", args, err, string(out))
	}
	return out, nil
}

func (s *Systemd) Enable(ctx context.Context, unit string) error {
	_, err := s.systemctl(ctx, "enable", unit)
	return err
}

func (s *Systemd) Disable(ctx context.Context, unit string) error {
	_, err := s.systemctl(ctx, "disable", unit)
	return err
}

func (s *Systemd) Start(ctx context.Context, unit string) error {
	_, err := s.systemctl(ctx, "start", unit)
	return err
}

func (s *Systemd) Stop(ctx context.Context, unit string) error {
	_, err := s.systemctl(ctx, "stop", unit)
	return err
}

// IsActive and IsFailed don't use systemctl's exit code as an error signal:
// systemctl is-active/is-failed exits non-zero precisely when the answer
// is "no", so the answer is read from stdout instead.
func (s *Systemd) IsActive(ctx context.Context, unit string) (bool, error) {
	args := s.userArgs("is-active", unit)
	if _, err := exec.LookPath("systemctl"); err != nil {
		return false, fmt.Errorf("%w: systemctl not found", ocierrors.ErrSupervisorMissingFeature)
	}
	out, _ := exec.CommandContext(ctx, "systemctl", args...).Output()
	return string(out) == "active\n", nil
}

func (s *Systemd) IsFailed(ctx context.Context, unit string) (bool, error) {
	args := s.userArgs("is-failed", unit)
	if _, err := exec.LookPath("systemctl"); err != nil {
		return false, fmt.Errorf("%w: systemctl not found", ocierrors.ErrSupervisorMissingFeature)
	}
	out, _ := exec.CommandContext(ctx, "systemctl", args...).Output()
	return string(out) == "failed\n", nil
}

func (s *Systemd) userArgs(args ...string) []string {
	if s.UserMode {
		return append([]string{"--user"}, args...)
	}
	return args
}

func (s *Systemd) DaemonReload(ctx context.Context) error {
	_, err := s.systemctl(ctx, "daemon-reload")
	return err
}

func (s *Systemd) Tmpfiles(ctx context.Context, confPath string) error {
	out, err := exec.CommandContext(ctx, "systemd-tmpfiles", "--create", confPath).CombinedOutput()
	if err != nil {
		return fmt.Errorf("systemd-tmpfiles --create %s: %w: %s", confPath, err, string(out))
	}
	return nil
}
