// Package lifecycle orchestrates install and uninstall: it queries the
// platform once, then drives identity provisioning, artifact placement and
// service registration in a fixed order, and the exact reverse for teardown.
// Install fails fast and loud; uninstall cleans up as much as it can.
package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"go.uber.org/zap"

	"github.com/shuttlehq/shuttled-installer/internal/artifact"
	"github.com/shuttlehq/shuttled-installer/internal/config"
	"github.com/shuttlehq/shuttled-installer/internal/identity"
	"github.com/shuttlehq/shuttled-installer/internal/platform"
	"github.com/shuttlehq/shuttled-installer/internal/registrar"
)

// State is the install state reconstructed by probing the filesystem and
// service manager each run; it is never persisted.
type State int

const (
	StateAbsent State = iota
	StateIdentityReady
	StateArtifactPlaced
	StateRegistered
	StateRunning
)

func (s State) String() string {
	switch s {
	case StateAbsent:
		return "absent"
	case StateIdentityReady:
		return "identity ready"
	case StateArtifactPlaced:
		return "artifact placed"
	case StateRegistered:
		return "registered"
	case StateRunning:
		return "running"
	default:
		return "unknown"
	}
}

// Identity is the slice of the identity provisioner the controller needs.
type Identity interface {
	Ensure(t platform.Target) error
	Remove(t platform.Target) error
	Exists(name string) bool
	UID(name string) (int, int, error)
}

// Controller drives the whole lifecycle for one resolved target.
type Controller struct {
	target    platform.Target
	registrar registrar.Registrar
	identity  Identity
	confirm   Confirmer
	logger    *zap.Logger

	euid       func() int
	activeWait time.Duration
	pollEvery  time.Duration
}

// New builds a controller. All collaborators are resolved once, before the
// first step runs.
func New(t platform.Target, reg registrar.Registrar, id Identity, confirm Confirmer, logger *zap.Logger) *Controller {
	return &Controller{
		target:     t,
		registrar:  reg,
		identity:   id,
		confirm:    confirm,
		logger:     logger,
		euid:       os.Geteuid,
		activeWait: 10 * time.Second,
		pollEvery:  500 * time.Millisecond,
	}
}

// Probe reconstructs the current install state from the host.
func (c *Controller) Probe() (State, error) {
	st, err := c.registrar.Status()
	if err != nil {
		return StateAbsent, err
	}
	if st.Active {
		return StateRunning, nil
	}
	if st.Registered {
		return StateRegistered, nil
	}
	if _, err := os.Stat(c.target.BinPath); err == nil {
		return StateArtifactPlaced, nil
	}
	if c.target.Scope == platform.System && c.identity.Exists(c.target.ServiceUser) {
		return StateIdentityReady, nil
	}
	return StateAbsent, nil
}

// Install advances the host to the running state: ensure identity, stop any
// running instance, place the binary, provision the config, register.
// Every step is idempotent; re-running on an installed host re-applies each
// step and lands in the same terminal state. Any failure aborts immediately.
func (c *Controller) Install(ctx context.Context, source string, startNow bool) error {
	c.logger.Info("Installing shuttled service",
		zap.Stringer("platform", c.target.Platform),
		zap.Stringer("scope", c.target.Scope))

	if err := c.identity.Ensure(c.target); err != nil {
		return err
	}

	// Replace under a stopped service: stop, swap the binary, start again.
	if st, err := c.registrar.Status(); err == nil && st.Active {
		c.logger.Info("Service is running, stopping before replacing the binary")
		if err := c.registrar.Stop(); err != nil {
			c.logger.Warn("Pre-install stop failed, replacing anyway", zap.Error(err))
		}
	}

	var owner *artifact.Owner
	if c.target.Scope == platform.System {
		uid, gid, err := c.identity.UID(c.target.ServiceUser)
		if err != nil {
			return fmt.Errorf("resolving service account: %w", err)
		}
		owner = &artifact.Owner{UID: uid, GID: gid}
	}
	if err := artifact.Install(c.target, source, owner, c.logger); err != nil {
		return err
	}

	if err := c.writeConfig(); err != nil {
		return err
	}

	if err := c.registrar.Register(); err != nil {
		// A service that cannot be registered is an incomplete install.
		return fmt.Errorf("registering service: %w", err)
	}

	if c.target.Scope == platform.System {
		c.waitActive(ctx)
	}

	if startNow {
		if s, ok := c.registrar.(registrar.SessionStarter); ok {
			if err := s.StartNow(); err != nil {
				return err
			}
		}
	}

	c.logger.Info("Install complete")
	return nil
}

// Uninstall walks the install steps backwards. Individual step failures are
// logged and the teardown continues: residual files beat an aborted,
// half-removed host. Missing privilege is the one fatal case: no later step
// could succeed either.
func (c *Controller) Uninstall(ctx context.Context) error {
	if c.target.Scope == platform.System && c.euid() != 0 {
		return fmt.Errorf("%w: system-scope uninstall requires root", identity.ErrPrivilege)
	}

	c.logger.Info("Uninstalling shuttled service",
		zap.Stringer("platform", c.target.Platform),
		zap.Stringer("scope", c.target.Scope))

	failed := 0

	if err := c.registrar.Unregister(); err != nil {
		c.logger.Error("Unregister failed, continuing", zap.Error(err))
		failed++
	}

	if err := artifact.Remove(c.target, c.logger); err != nil {
		c.logger.Error("Artifact removal failed, continuing", zap.Error(err))
		failed++
	}

	if c.target.Scope == platform.System {
		// Both removals below destroy data or state that cannot be
		// recreated; they run only on explicit confirmation and the
		// unattended default is to keep everything.
		if c.confirm.Confirm(fmt.Sprintf("Remove the data directory %s and all stored files?", c.target.DataDir)) {
			if err := artifact.RemoveData(c.target, c.logger); err != nil {
				c.logger.Error("Data removal failed, continuing", zap.Error(err))
				failed++
			}
		} else {
			c.logger.Info("Keeping data directory", zap.String("path", c.target.DataDir))
		}

		if c.confirm.Confirm(fmt.Sprintf("Remove the service account %q?", c.target.ServiceUser)) {
			if err := c.identity.Remove(c.target); err != nil {
				if errors.Is(err, identity.ErrPrivilege) {
					return err
				}
				c.logger.Error("Account removal failed, continuing", zap.Error(err))
				failed++
			}
		} else {
			c.logger.Info("Keeping service account", zap.String("user", c.target.ServiceUser))
		}
	}

	if failed > 0 {
		return fmt.Errorf("uninstall finished with %d failed step(s), see log above", failed)
	}
	c.logger.Info("Uninstall complete")
	return nil
}

// writeConfig provisions the service config on first install. An existing
// file is operator-owned and left untouched.
func (c *Controller) writeConfig() error {
	if _, err := os.Stat(c.target.ConfigPath); err == nil {
		c.logger.Info("Keeping existing config", zap.String("path", c.target.ConfigPath))
		return nil
	}

	cfg := config.Default()
	cfg.Storage.DataDir = c.target.DataDir
	if err := config.Write(cfg, c.target.ConfigPath); err != nil {
		return fmt.Errorf("writing service config: %w", err)
	}
	c.logger.Info("Wrote service config", zap.String("path", c.target.ConfigPath))
	return nil
}

// waitActive gives the service manager a bounded window to report the
// service running. A timeout is a warning, never a hang or a failure: the
// registration itself already succeeded.
func (c *Controller) waitActive(ctx context.Context) {
	ctx, cancel := context.WithTimeout(ctx, c.activeWait)
	defer cancel()

	ticker := time.NewTicker(c.pollEvery)
	defer ticker.Stop()

	for {
		if st, err := c.registrar.Status(); err == nil && st.Active {
			c.logger.Info("Service is running")
			return
		}
		select {
		case <-ctx.Done():
			c.logger.Warn("Service did not report active in time; check its status manually")
			return
		case <-ticker.C:
		}
	}
}
