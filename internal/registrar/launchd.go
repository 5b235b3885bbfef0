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

const launchdLabel = "com.shuttlehq.shuttled"

// systemDaemonPlist is the daemon descriptor for machine-wide installs.
// UserName drops the daemon to the dedicated service account.
const systemDaemonPlist = `<?xml version="1.0" encoding="UTF-8"?>
<!DOCTYPE plist PUBLIC "-//Apple//DTD PLIST 1.0//EN" "http://www.apple.com/DTDs/PropertyList-1.0.dtd">
<plist version="1.0">
<dict>
    <key>Label</key>
    <string>{label}</string>
    <key>ProgramArguments</key>
    <array>
        <string>{binPath}</string>
    </array>
    <key>UserName</key>
    <string>{serviceUser}</string>
    <key>WorkingDirectory</key>
    <string>{dataDir}</string>
    <key>RunAtLoad</key>
    <true/>
    <key>KeepAlive</key>
    <true/>
    <key>StandardOutPath</key>
    <string>{logDir}/shuttled.log</string>
    <key>StandardErrorPath</key>
    <string>{logDir}/shuttled.err.log</string>
</dict>
</plist>
`

// userAgentPlist is the per-user agent descriptor; it runs as the logged-in
// user, so it carries no UserName key.
const userAgentPlist = `<?xml version="1.0" encoding="UTF-8"?>
<!DOCTYPE plist PUBLIC "-//Apple//DTD PLIST 1.0//EN" "http://www.apple.com/DTDs/PropertyList-1.0.dtd">
<plist version="1.0">
<dict>
    <key>Label</key>
    <string>{label}</string>
    <key>ProgramArguments</key>
    <array>
        <string>{binPath}</string>
    </array>
    <key>WorkingDirectory</key>
    <string>{dataDir}</string>
    <key>RunAtLoad</key>
    <true/>
    <key>KeepAlive</key>
    <true/>
    <key>StandardOutPath</key>
    <string>{logDir}/shuttled.log</string>
    <key>StandardErrorPath</key>
    <string>{logDir}/shuttled.err.log</string>
</dict>
</plist>
`

// launchdRegistrar manages macOS registrations: a LaunchDaemon for system
// scope, a LaunchAgent for user scope.
type launchdRegistrar struct {
	plistDir    string
	scope       platform.Scope
	binPath     string
	dataDir     string
	logDir      string
	serviceUser string
	runner      execrun.Runner
	logger      *zap.Logger
}

func newLaunchd(t platform.Target, runner execrun.Runner, logger *zap.Logger) *launchdRegistrar {
	l := &launchdRegistrar{
		scope:       t.Scope,
		binPath:     t.BinPath,
		dataDir:     t.DataDir,
		logDir:      t.LogDir,
		serviceUser: t.ServiceUser,
		runner:      runner,
		logger:      logger,
	}
	if t.Scope == platform.User {
		home, _ := os.UserHomeDir()
		l.plistDir = filepath.Join(home, "Library", "LaunchAgents")
	} else {
		l.plistDir = "/Library/LaunchDaemons"
	}
	return l
}

func (l *launchdRegistrar) Kind() string { return "launchd" }

func (l *launchdRegistrar) ArtifactPath() string {
	return filepath.Join(l.plistDir, launchdLabel+".plist")
}

func (l *launchdRegistrar) generatePlist() string {
	tmpl := systemDaemonPlist
	if l.scope == platform.User {
		tmpl = userAgentPlist
	}
	out := strings.ReplaceAll(tmpl, "{label}", launchdLabel)
	out = strings.ReplaceAll(out, "{binPath}", l.binPath)
	out = strings.ReplaceAll(out, "{dataDir}", l.dataDir)
	out = strings.ReplaceAll(out, "{serviceUser}", l.serviceUser)
	return strings.ReplaceAll(out, "{logDir}", l.logDir)
}

// Register writes the plist and loads it. A prior registration is unloaded
// first so reinstall behaves as stop-replace-start.
func (l *launchdRegistrar) Register() error {
	if err := os.MkdirAll(l.plistDir, 0755); err != nil {
		return fmt.Errorf("creating %s: %w", l.plistDir, err)
	}

	// Unload any previous generation before overwriting; absence is fine.
	if _, err := os.Stat(l.ArtifactPath()); err == nil {
		if out, err := l.runner.Run("launchctl", "unload", l.ArtifactPath()); err != nil {
			l.logger.Debug("Unload of previous registration failed",
				zap.String("output", strings.TrimSpace(string(out))), zap.Error(err))
		}
	}

	if err := writeFileAtomic(l.ArtifactPath(), []byte(l.generatePlist()), 0644); err != nil {
		return fmt.Errorf("writing plist: %w", err)
	}
	l.logger.Info("Wrote launchd property list", zap.String("path", l.ArtifactPath()))

	if out, err := l.runner.Run("launchctl", "load", "-w", l.ArtifactPath()); err != nil {
		// Do not leave a plist the supervisor refused to load.
		os.Remove(l.ArtifactPath())
		return &ServiceManagerError{
			Cmd:    "launchctl load -w " + l.ArtifactPath(),
			Output: strings.TrimSpace(string(out)),
			Err:    err,
		}
	}
	l.logger.Info("Loaded service", zap.String("label", launchdLabel))
	return nil
}

// Unregister unloads the daemon and removes the plist, best-effort.
func (l *launchdRegistrar) Unregister() error {
	if out, err := l.runner.Run("launchctl", "unload", l.ArtifactPath()); err != nil {
		l.logger.Warn("Unload failed, continuing teardown",
			zap.String("output", strings.TrimSpace(string(out))), zap.Error(err))
	}

	if err := os.Remove(l.ArtifactPath()); err != nil {
		if !os.IsNotExist(err) {
			return fmt.Errorf("removing plist: %w", err)
		}
		l.logger.Info("Property list not found, nothing to remove", zap.String("path", l.ArtifactPath()))
	} else {
		l.logger.Info("Removed property list", zap.String("path", l.ArtifactPath()))
	}
	return nil
}

// Stop halts a loaded instance; an unloaded one is a success.
func (l *launchdRegistrar) Stop() error {
	if _, err := os.Stat(l.ArtifactPath()); os.IsNotExist(err) {
		return nil
	}
	if out, err := l.runner.Run("launchctl", "stop", launchdLabel); err != nil {
		return &ServiceManagerError{
			Cmd:    "launchctl stop " + launchdLabel,
			Output: strings.TrimSpace(string(out)),
			Err:    err,
		}
	}
	return nil
}

func (l *launchdRegistrar) Status() (Status, error) {
	var st Status
	if _, err := os.Stat(l.ArtifactPath()); err == nil {
		st.Registered = true
	} else if !os.IsNotExist(err) {
		return st, fmt.Errorf("checking plist: %w", err)
	}

	// launchctl list <label> exits non-zero when the job is not loaded.
	if _, err := l.runner.Run("launchctl", "list", launchdLabel); err == nil {
		st.Active = true
	}
	return st, nil
}
