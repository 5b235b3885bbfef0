package registrar

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"go.uber.org/zap"

	"github.com/shuttlehq/shuttled-installer/internal/execrun"
	"github.com/shuttlehq/shuttled-installer/internal/platform"
)

// unitTemplate is the templated systemd unit written during installation.
// %i is systemd's instance specifier: the unit is enabled as
// shuttled@<identity>.service and runs as that account. The {placeholders}
// are substituted with the target's paths.
const unitTemplate = `[Unit]
Description=Shuttled file transfer service (instance %i)
After=network-online.target
Wants=network-online.target

[Service]
Type=simple
User=%i
ExecStart={binPath}
WorkingDirectory={dataDir}
Restart=on-failure
RestartSec=3
KillSignal=SIGTERM
TimeoutStopSec=10
StandardOutput=append:{logDir}/shuttled.log
StandardError=append:{logDir}/shuttled.err.log

[Install]
WantedBy=multi-user.target
`

// systemdRegistrar manages the Linux system-scope registration.
type systemdRegistrar struct {
	unitDir  string
	instance string
	binPath  string
	dataDir  string
	logDir   string
	runner   execrun.Runner
	logger   *zap.Logger
}

func newSystemd(t platform.Target, runner execrun.Runner, logger *zap.Logger) *systemdRegistrar {
	return &systemdRegistrar{
		unitDir:  "/etc/systemd/system",
		instance: t.ServiceUser,
		binPath:  t.BinPath,
		dataDir:  t.DataDir,
		logDir:   t.LogDir,
		runner:   runner,
		logger:   logger,
	}
}

func (s *systemdRegistrar) Kind() string { return "systemd" }

// ArtifactPath is the templated unit file.
func (s *systemdRegistrar) ArtifactPath() string {
	return filepath.Join(s.unitDir, "shuttled@.service")
}

// unitName is the concrete instance enabled and started.
func (s *systemdRegistrar) unitName() string {
	return fmt.Sprintf("shuttled@%s.service", s.instance)
}

// generateUnit renders the unit file content for the target paths.
func (s *systemdRegistrar) generateUnit() string {
	unit := strings.ReplaceAll(unitTemplate, "{binPath}", s.binPath)
	unit = strings.ReplaceAll(unit, "{dataDir}", s.dataDir)
	return strings.ReplaceAll(unit, "{logDir}", s.logDir)
}

// Register writes the unit, reloads systemd, enables the instance for boot
// and (re)starts it. restart covers the stop-replace-start reinstall path.
func (s *systemdRegistrar) Register() error {
	if err := writeFileAtomic(s.ArtifactPath(), []byte(s.generateUnit()), 0644); err != nil {
		return fmt.Errorf("writing unit file: %w", err)
	}
	s.logger.Info("Wrote systemd unit", zap.String("path", s.ArtifactPath()))

	steps := [][]string{
		{"systemctl", "daemon-reload"},
		{"systemctl", "enable", s.unitName()},
		{"systemctl", "restart", s.unitName()},
	}
	for _, args := range steps {
		if out, err := s.runner.Run(args[0], args[1:]...); err != nil {
			return &ServiceManagerError{
				Cmd:    strings.Join(args, " "),
				Output: strings.TrimSpace(string(out)),
				Err:    err,
			}
		}
	}
	s.logger.Info("Enabled and started service", zap.String("unit", s.unitName()))
	return nil
}

// Unregister stops and disables the instance, removes the unit and reloads
// the unit cache. Every step is best-effort: residual files beat a teardown
// that aborts halfway.
func (s *systemdRegistrar) Unregister() error {
	if err := s.Stop(); err != nil {
		s.logger.Warn("Stop failed, continuing teardown", zap.Error(err))
	}
	if out, err := s.runner.Run("systemctl", "disable", s.unitName()); err != nil {
		s.logger.Warn("Disable failed, continuing teardown",
			zap.String("output", strings.TrimSpace(string(out))), zap.Error(err))
	}

	if err := os.Remove(s.ArtifactPath()); err != nil {
		if !os.IsNotExist(err) {
			return fmt.Errorf("removing unit file: %w", err)
		}
		s.logger.Info("Unit file not found, nothing to remove", zap.String("path", s.ArtifactPath()))
	} else {
		s.logger.Info("Removed systemd unit", zap.String("path", s.ArtifactPath()))
	}

	if out, err := s.runner.Run("systemctl", "daemon-reload"); err != nil {
		s.logger.Warn("daemon-reload failed",
			zap.String("output", strings.TrimSpace(string(out))), zap.Error(err))
	}
	return nil
}

// Stop halts the instance. A unit that was never registered or is already
// stopped is a success.
func (s *systemdRegistrar) Stop() error {
	if _, err := os.Stat(s.ArtifactPath()); os.IsNotExist(err) {
		return nil
	}
	if out, err := s.runner.Run("systemctl", "stop", s.unitName()); err != nil {
		return &ServiceManagerError{
			Cmd:    "systemctl stop " + s.unitName(),
			Output: strings.TrimSpace(string(out)),
			Err:    err,
		}
	}
	return nil
}

func (s *systemdRegistrar) Status() (Status, error) {
	var st Status
	if _, err := os.Stat(s.ArtifactPath()); err == nil {
		st.Registered = true
	} else if !os.IsNotExist(err) {
		return st, fmt.Errorf("checking unit file: %w", err)
	}

	out, err := s.runner.Run("systemctl", "is-active", s.unitName())
	if err == nil && strings.TrimSpace(string(out)) == "active" {
		st.Active = true
	}
	return st, nil
}
