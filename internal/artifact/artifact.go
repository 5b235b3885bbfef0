// Package artifact places the opaque service binary and its directories on
// disk, and removes them again on teardown. The binary is treated as a black
// box: copy it, make it executable, own it correctly.
package artifact

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"go.uber.org/zap"

	"github.com/shuttlehq/shuttled-installer/internal/platform"
)

// ErrMissingArtifact is returned when the source binary cannot be found.
var ErrMissingArtifact = errors.New("source binary not found")

// Owner identifies the service account that owns the data and log
// directories on system-scope installs. Nil means no ownership change.
type Owner struct {
	UID int
	GID int
}

// Install copies the binary from source into the target layout, creating the
// destination, data and log directories as needed. Re-running overwrites the
// prior binary. On system scope the binary stays owned by the installing
// account while data and logs are handed to the service identity: whoever can
// replace the binary is deliberately not who runs it.
func Install(t platform.Target, source string, owner *Owner, logger *zap.Logger) error {
	info, err := os.Stat(source)
	if err != nil {
		if os.IsNotExist(err) {
			return fmt.Errorf("%w: %s", ErrMissingArtifact, source)
		}
		return fmt.Errorf("checking source binary: %w", err)
	}
	if !info.Mode().IsRegular() {
		return fmt.Errorf("%w: %s is not a regular file", ErrMissingArtifact, source)
	}

	for _, dir := range []string{t.BinDir, t.DataDir, t.LogDir, t.ConfigDir} {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("creating directory %s: %w", dir, err)
		}
	}

	if err := copyFile(source, t.BinPath, 0755); err != nil {
		return fmt.Errorf("copying binary: %w", err)
	}
	logger.Info("Placed binary", zap.String("path", t.BinPath))

	if t.Scope == platform.System && owner != nil {
		for _, dir := range []string{t.DataDir, t.LogDir} {
			if err := os.Chown(dir, owner.UID, owner.GID); err != nil {
				return fmt.Errorf("chown %s: %w", dir, err)
			}
		}
		logger.Info("Handed data and log directories to service account",
			zap.Int("uid", owner.UID), zap.Int("gid", owner.GID))
	}

	return nil
}

// Remove deletes the installed binary. A missing binary is a notice, not an
// error: uninstall must succeed on a never-installed host. User-scope
// installs also drop the data directory here; system scope leaves that to a
// separately confirmed step.
func Remove(t platform.Target, logger *zap.Logger) error {
	if err := os.Remove(t.BinPath); err != nil {
		if !os.IsNotExist(err) {
			return fmt.Errorf("removing binary: %w", err)
		}
		logger.Info("Binary not found, nothing to remove", zap.String("path", t.BinPath))
	} else {
		logger.Info("Removed binary", zap.String("path", t.BinPath))
	}

	if t.Scope == platform.User {
		if err := RemoveData(t, logger); err != nil {
			return err
		}
	}
	return nil
}

// RemoveData deletes the data directory and the service config file.
// Irreversible; system-scope callers must confirm first.
func RemoveData(t platform.Target, logger *zap.Logger) error {
	if err := os.RemoveAll(t.DataDir); err != nil {
		return fmt.Errorf("removing data directory: %w", err)
	}
	if err := os.Remove(t.ConfigPath); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("removing config file: %w", err)
	}
	logger.Info("Removed data directory", zap.String("path", t.DataDir))
	return nil
}

// copyFile writes src to dst via a temp file in the same directory followed
// by a rename, so a failed copy never leaves a truncated binary at dst.
func copyFile(src, dst string, mode os.FileMode) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	tmp := dst + ".tmp"
	out, err := os.OpenFile(tmp, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, mode)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		os.Remove(tmp)
		return err
	}
	if err := out.Close(); err != nil {
		os.Remove(tmp)
		return err
	}
	return os.Rename(tmp, filepath.Clean(dst))
}
