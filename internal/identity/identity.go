// Package identity provisions the dedicated, non-interactive OS account the
// service runs as. System-scope installs only; user-scope installs run the
// service as the invoking user and this package no-ops.
package identity

import (
	"errors"
	"fmt"
	"os"
	"os/user"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/shuttlehq/shuttled-installer/internal/execrun"
	"github.com/shuttlehq/shuttled-installer/internal/platform"
)

// ErrPrivilege is returned when account management is attempted without root.
var ErrPrivilege = errors.New("insufficient privilege")

// Provisioner creates and removes the service account.
type Provisioner struct {
	Runner execrun.Runner
	Logger *zap.Logger

	// lookup is overridable in tests; defaults to os/user.Lookup.
	lookup func(name string) (*user.User, error)
	euid   func() int
}

// New returns a Provisioner using the real user database and command runner.
func New(runner execrun.Runner, logger *zap.Logger) *Provisioner {
	return &Provisioner{
		Runner: runner,
		Logger: logger,
		lookup: user.Lookup,
		euid:   os.Geteuid,
	}
}

// Ensure makes sure the service account named by the target exists.
// Re-running with an existing account is a success, not an error.
func (p *Provisioner) Ensure(t platform.Target) error {
	if t.Scope == platform.User {
		return nil
	}
	if p.euid() != 0 {
		return fmt.Errorf("%w: creating user %q requires root", ErrPrivilege, t.ServiceUser)
	}

	if _, err := p.lookup(t.ServiceUser); err == nil {
		p.Logger.Info("Service account already exists", zap.String("user", t.ServiceUser))
		return nil
	}

	p.Logger.Info("Creating service account", zap.String("user", t.ServiceUser))
	switch t.Platform {
	case platform.Linux:
		return p.createLinux(t.ServiceUser)
	case platform.Darwin:
		return p.createDarwin(t.ServiceUser)
	default:
		return fmt.Errorf("no account provisioning for platform %s", t.Platform)
	}
}

// Remove deletes the service account. Callers must confirm first: removal is
// irreversible and the account owns the data directory.
func (p *Provisioner) Remove(t platform.Target) error {
	if t.Scope == platform.User {
		return nil
	}
	if p.euid() != 0 {
		return fmt.Errorf("%w: removing user %q requires root", ErrPrivilege, t.ServiceUser)
	}
	if _, err := p.lookup(t.ServiceUser); err != nil {
		p.Logger.Info("Service account not found, nothing to remove", zap.String("user", t.ServiceUser))
		return nil
	}

	switch t.Platform {
	case platform.Darwin:
		if out, err := p.Runner.Run("dscl", ".", "-delete", "/Users/"+t.ServiceUser); err != nil {
			return fmt.Errorf("dscl delete: %s: %w", strings.TrimSpace(string(out)), err)
		}
	default:
		if out, err := p.Runner.Run("userdel", t.ServiceUser); err != nil {
			return fmt.Errorf("userdel: %s: %w", strings.TrimSpace(string(out)), err)
		}
	}
	p.Logger.Info("Removed service account", zap.String("user", t.ServiceUser))
	return nil
}

// Exists reports whether the named account is present in the user database.
func (p *Provisioner) Exists(name string) bool {
	_, err := p.lookup(name)
	return err == nil
}

// UID returns the numeric uid and gid of the service account.
func (p *Provisioner) UID(name string) (int, int, error) {
	u, err := p.lookup(name)
	if err != nil {
		return 0, 0, fmt.Errorf("looking up %q: %w", name, err)
	}
	uid, err := strconv.Atoi(u.Uid)
	if err != nil {
		return 0, 0, fmt.Errorf("parsing uid %q: %w", u.Uid, err)
	}
	gid, err := strconv.Atoi(u.Gid)
	if err != nil {
		return 0, 0, fmt.Errorf("parsing gid %q: %w", u.Gid, err)
	}
	return uid, gid, nil
}

func (p *Provisioner) createLinux(name string) error {
	out, err := p.Runner.Run("useradd",
		"--system", "--no-create-home", "--shell", "/usr/sbin/nologin", name)
	if err != nil {
		return fmt.Errorf("useradd: %s: %w", strings.TrimSpace(string(out)), err)
	}
	return nil
}

// createDarwin provisions a hidden system account through dscl: no login
// shell, /var/empty home, and a free UID in the system range.
func (p *Provisioner) createDarwin(name string) error {
	uid, err := p.freeDarwinUID()
	if err != nil {
		return err
	}
	path := "/Users/" + name
	steps := [][]string{
		{"dscl", ".", "-create", path},
		{"dscl", ".", "-create", path, "UserShell", "/usr/bin/false"},
		{"dscl", ".", "-create", path, "UniqueID", strconv.Itoa(uid)},
		{"dscl", ".", "-create", path, "PrimaryGroupID", "20"},
		{"dscl", ".", "-create", path, "NFSHomeDirectory", "/var/empty"},
		{"dscl", ".", "-create", path, "IsHidden", "1"},
	}
	for _, args := range steps {
		if out, err := p.Runner.Run(args[0], args[1:]...); err != nil {
			return fmt.Errorf("%s: %s: %w", strings.Join(args, " "), strings.TrimSpace(string(out)), err)
		}
	}
	return nil
}

// freeDarwinUID picks an unused UID in the 200-400 system range from the
// output of `dscl . -list /Users UniqueID`.
func (p *Provisioner) freeDarwinUID() (int, error) {
	out, err := p.Runner.Run("dscl", ".", "-list", "/Users", "UniqueID")
	if err != nil {
		return 0, fmt.Errorf("dscl list: %w", err)
	}
	return pickFreeUID(string(out), 200, 400)
}

// pickFreeUID returns the first UID in [low, high] not present in the dscl
// listing. Each listing line is "name<spaces>uid".
func pickFreeUID(listing string, low, high int) (int, error) {
	used := make(map[int]bool)
	for _, line := range strings.Split(listing, "\n") {
		fields := strings.Fields(line)
		if len(fields) < 2 {
			continue
		}
		if uid, err := strconv.Atoi(fields[len(fields)-1]); err == nil {
			used[uid] = true
		}
	}
	for uid := low; uid <= high; uid++ {
		if !used[uid] {
			return uid, nil
		}
	}
	return 0, fmt.Errorf("no free uid in range %d-%d", low, high)
}
