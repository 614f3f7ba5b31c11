package service

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/xkilldash9x/cookiekeeper/internal/config"
)

// CommandRunner executes an external command and returns its combined output.
type CommandRunner interface {
	Run(ctx context.Context, name string, args ...string) ([]byte, error)
}

// ExecRunner runs commands with os/exec.
type ExecRunner struct{}

// Run executes name with args. A non-zero exit is returned as an error that
// carries the trimmed output.
func (ExecRunner) Run(ctx context.Context, name string, args ...string) ([]byte, error) {
	var out bytes.Buffer
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Stdout = &out
	cmd.Stderr = &out
	// Without this, a stuck child could hold the pipes open past the deadline.
	cmd.WaitDelay = time.Second
	if err := cmd.Run(); err != nil {
		return out.Bytes(), fmt.Errorf("%s %s: %w: %s", name, strings.Join(args, " "), err, strings.TrimSpace(out.String()))
	}
	return out.Bytes(), nil
}

// Systemd controls a systemd unit through systemctl, optionally via
// non-interactive sudo.
type Systemd struct {
	unit    string
	useSudo bool
	timeout time.Duration
	runner  CommandRunner
	logger  *zap.Logger
}

var _ Controller = (*Systemd)(nil)

// NewSystemd creates a controller for cfg.Unit. A nil runner uses ExecRunner.
func NewSystemd(cfg config.ServiceConfig, runner CommandRunner, logger *zap.Logger) *Systemd {
	if runner == nil {
		runner = ExecRunner{}
	}
	return &Systemd{
		unit:    cfg.Unit,
		useSudo: cfg.UseSudo,
		timeout: cfg.Timeout,
		runner:  runner,
		logger:  logger.Named("service"),
	}
}

func (s *Systemd) systemctl(ctx context.Context, args ...string) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	if s.useSudo {
		// -n fails instead of prompting when no sudoers rule allows this.
		return s.runner.Run(ctx, "sudo", append([]string{"-n", "systemctl"}, args...)...)
	}
	return s.runner.Run(ctx, "systemctl", args...)
}

// Restart restarts the unit. systemctl waits for the start job to finish.
func (s *Systemd) Restart(ctx context.Context) error {
	s.logger.Info("Restarting service.", zap.String("unit", s.unit))
	if _, err := s.systemctl(ctx, "restart", s.unit); err != nil {
		return fmt.Errorf("%w: %s: %w", ErrRestartFailed, s.unit, err)
	}
	return nil
}

// unitStates are the answers "systemctl is-active" can print.
var unitStates = map[string]struct{}{
	"active": {}, "reloading": {}, "refreshing": {}, "inactive": {}, "failed": {},
	"activating": {}, "deactivating": {}, "maintenance": {}, "unknown": {},
}

// Status reports whether the unit is active. "systemctl is-active" exits
// non-zero for every state but active, so the printed state decides; an
// error is returned only when systemctl never answered.
func (s *Systemd) Status(ctx context.Context) (State, error) {
	out, err := s.systemctl(ctx, "is-active", s.unit)
	state := strings.TrimSpace(firstLine(out))
	if state == "active" {
		return StateRunning, nil
	}
	if _, known := unitStates[state]; known {
		s.logger.Debug("Service is not active.", zap.String("unit", s.unit), zap.String("systemd_state", state))
		return StateStopped, nil
	}
	if err == nil {
		err = fmt.Errorf("unexpected systemctl output %q", state)
	}
	return StateStopped, fmt.Errorf("%w: querying %s: %w", ErrRestartFailed, s.unit, err)
}

func firstLine(out []byte) string {
	line, _, _ := strings.Cut(string(out), "\n")
	return line
}
