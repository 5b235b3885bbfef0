// Package registrar persists the service with the platform's supervisor:
// a templated systemd unit on Linux system installs, a launchd property list
// on macOS, or an XDG autostart entry for Linux desktop sessions. One variant
// is selected at startup by (platform, scope); no per-operation branching.
package registrar

import (
	"fmt"
	"os"
	"path/filepath"

	"go.uber.org/zap"

	"github.com/shuttlehq/shuttled-installer/internal/execrun"
	"github.com/shuttlehq/shuttled-installer/internal/platform"
)

// Status reports the supervisor's view of the service.
type Status struct {
	// Registered is true when the registration artifact (unit, plist or
	// desktop entry) exists on disk.
	Registered bool
	// Active is true when the supervisor reports the service running.
	Active bool
}

// Registrar is the capability set every variant provides.
type Registrar interface {
	// Register writes the registration artifact and, for system variants,
	// enables and starts the service. Re-running overwrites, never
	// duplicates. A failed Register leaves no partial artifact behind.
	Register() error
	// Unregister stops, disables and removes the registration. Steps are
	// idempotent; a service that was never registered is not an error.
	Unregister() error
	// Stop halts a running instance. Already-stopped is a success.
	Stop() error
	// Status probes the supervisor and filesystem.
	Status() (Status, error)
	// ArtifactPath is where the registration artifact lives.
	ArtifactPath() string
	// Kind names the variant for log and status output.
	Kind() string
}

// SessionStarter is implemented by the autostart variant, whose Register
// deliberately does not start the process: launching it before the next
// graphical login is a separate, optional action.
type SessionStarter interface {
	StartNow() error
}

// ServiceManagerError wraps a failed supervisor invocation with the command
// and its combined output.
type ServiceManagerError struct {
	Cmd    string
	Output string
	Err    error
}

func (e *ServiceManagerError) Error() string {
	if e.Output != "" {
		return fmt.Sprintf("%s: %s: %v", e.Cmd, e.Output, e.Err)
	}
	return fmt.Sprintf("%s: %v", e.Cmd, e.Err)
}

func (e *ServiceManagerError) Unwrap() error { return e.Err }

// New selects the variant for the target. The choice happens exactly once
// per run.
func New(t platform.Target, runner execrun.Runner, logger *zap.Logger) Registrar {
	switch {
	case t.Platform == platform.Darwin:
		return newLaunchd(t, runner, logger)
	case t.Scope == platform.System:
		return newSystemd(t, runner, logger)
	default:
		return newAutostart(t, logger)
	}
}

// writeFileAtomic writes data to a temp file in the destination directory and
// renames it into place, so a half-written unit file is never visible to the
// supervisor. The temp file is removed on any failure.
func writeFileAtomic(path string, data []byte, mode os.FileMode) error {
	tmp := path + ".tmp"
	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, mode)
	if err != nil {
		return err
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		os.Remove(tmp)
		return err
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return err
	}
	if err := os.Rename(tmp, filepath.Clean(path)); err != nil {
		os.Remove(tmp)
		return err
	}
	return nil
}
