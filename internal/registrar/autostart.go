package registrar

import (
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/shuttlehq/shuttled-installer/internal/platform"
)

// desktopTemplate is the XDG autostart entry. The entry only guarantees a
// launch at the next graphical login; registration never starts the process.
const desktopTemplate = `[Desktop Entry]
Type=Application
Name=Shuttled
Comment=Shuttled file transfer service
Exec={binPath}
Terminal=false
X-GNOME-Autostart-enabled=true
`

// autostartRegistrar manages the Linux user-scope registration: a desktop
// entry in the per-user autostart directory. There is no supervisor to ask,
// so activity probing and teardown work on the process itself.
type autostartRegistrar struct {
	dir        string
	binPath    string
	binaryName string
	procs      processControl
	startFn    func(binPath string) error
	logger     *zap.Logger
}

func newAutostart(t platform.Target, logger *zap.Logger) *autostartRegistrar {
	home, _ := os.UserHomeDir()
	return &autostartRegistrar{
		dir:        filepath.Join(home, ".config", "autostart"),
		binPath:    t.BinPath,
		binaryName: t.BinaryName,
		procs:      gopsControl{},
		startFn:    startDetached,
		logger:     logger,
	}
}

func (a *autostartRegistrar) Kind() string { return "autostart" }

func (a *autostartRegistrar) ArtifactPath() string {
	return filepath.Join(a.dir, "shuttled.desktop")
}

func (a *autostartRegistrar) generateEntry() string {
	return strings.ReplaceAll(desktopTemplate, "{binPath}", a.binPath)
}

// Register writes the autostart entry, user-private. It does not start the
// process; the entry takes effect at the next graphical session start.
func (a *autostartRegistrar) Register() error {
	if err := os.MkdirAll(a.dir, 0700); err != nil {
		return fmt.Errorf("creating autostart directory: %w", err)
	}
	if err := writeFileAtomic(a.ArtifactPath(), []byte(a.generateEntry()), 0600); err != nil {
		return fmt.Errorf("writing autostart entry: %w", err)
	}
	a.logger.Info("Wrote autostart entry, service starts at next login",
		zap.String("path", a.ArtifactPath()))
	return nil
}

// StartNow launches the service immediately, detached from the installer.
func (a *autostartRegistrar) StartNow() error {
	if err := a.startFn(a.binPath); err != nil {
		return fmt.Errorf("starting %s: %w", a.binPath, err)
	}
	a.logger.Info("Started service", zap.String("binary", a.binPath))
	return nil
}

// Unregister removes the entry and terminates any running instance by
// process name. A host with neither is already in the desired state.
func (a *autostartRegistrar) Unregister() error {
	if err := os.Remove(a.ArtifactPath()); err != nil {
		if !os.IsNotExist(err) {
			return fmt.Errorf("removing autostart entry: %w", err)
		}
		a.logger.Info("Autostart entry not found, nothing to remove",
			zap.String("path", a.ArtifactPath()))
	} else {
		a.logger.Info("Removed autostart entry", zap.String("path", a.ArtifactPath()))
	}
	return a.Stop()
}

// Stop terminates a running instance: graceful signal first, forceful after
// the grace period. No running instance is a success.
func (a *autostartRegistrar) Stop() error {
	n, err := a.procs.Terminate(a.binaryName, 3*time.Second)
	if err != nil {
		return fmt.Errorf("terminating %s: %w", a.binaryName, err)
	}
	if n > 0 {
		a.logger.Info("Terminated running instance",
			zap.String("process", a.binaryName), zap.Int("count", n))
	}
	return nil
}

func (a *autostartRegistrar) Status() (Status, error) {
	var st Status
	if _, err := os.Stat(a.ArtifactPath()); err == nil {
		st.Registered = true
	} else if !os.IsNotExist(err) {
		return st, fmt.Errorf("checking autostart entry: %w", err)
	}

	running, err := a.procs.Running(a.binaryName)
	if err != nil {
		return st, fmt.Errorf("probing process: %w", err)
	}
	st.Active = running
	return st, nil
}

// startDetached launches the binary in its own session so it survives the
// installer exiting.
func startDetached(binPath string) error {
	cmd := exec.Command(binPath)
	cmd.Stdout = nil
	cmd.Stderr = nil
	if err := cmd.Start(); err != nil {
		return err
	}
	// Detach; the process is long-lived and must not be reaped by us.
	return cmd.Process.Release()
}
