// Package platform inspects the host once at startup and produces the
// immutable install target every downstream lifecycle step is parameterized
// by: OS family, install scope, and the scope-dependent filesystem layout.
package platform

import (
	"errors"
	"fmt"
	"os"
	"runtime"
)

// ErrUnsupportedPlatform is returned when the host OS is neither Linux nor macOS.
var ErrUnsupportedPlatform = errors.New("unsupported platform")

// Platform is the host OS family.
type Platform int

const (
	Linux Platform = iota
	Darwin
)

func (p Platform) String() string {
	switch p {
	case Linux:
		return "linux"
	case Darwin:
		return "darwin"
	default:
		return "unknown"
	}
}

// Scope determines whether the service is installed machine-wide or for the
// current user's session only.
type Scope int

const (
	System Scope = iota
	User
)

func (s Scope) String() string {
	switch s {
	case System:
		return "system"
	case User:
		return "user"
	default:
		return "unknown"
	}
}

// ParseScope parses a --scope flag value. "auto" derives the scope from the
// caller's effective privilege: root gets a system install, everyone else a
// user install.
func ParseScope(s string) (Scope, error) {
	switch s {
	case "system":
		return System, nil
	case "user":
		return User, nil
	case "auto", "":
		if os.Geteuid() == 0 {
			return System, nil
		}
		return User, nil
	default:
		return 0, fmt.Errorf("invalid scope %q (expected \"auto\", \"system\" or \"user\")", s)
	}
}

// Target is the immutable install descriptor resolved once per run.
// It is never mutated after Detect returns.
type Target struct {
	Platform Platform
	Scope    Scope

	// BinaryName is the service process name, used for registration labels
	// and for finding a running instance during user-scope teardown.
	BinaryName string

	BinDir     string
	BinPath    string
	DataDir    string
	LogDir     string
	ConfigDir  string
	ConfigPath string

	// ServiceUser is the dedicated identity the service runs as.
	// Empty for user-scope installs.
	ServiceUser string
}

// Detect inspects the running OS and the caller's effective privilege and
// returns the install target. scope is a --scope flag value ("auto" preserves
// the privilege-derived default). Detect has no side effects.
func Detect(scope string) (Target, error) {
	var p Platform
	switch runtime.GOOS {
	case "linux":
		p = Linux
	case "darwin":
		p = Darwin
	default:
		return Target{}, fmt.Errorf("%w: %s", ErrUnsupportedPlatform, runtime.GOOS)
	}

	s, err := ParseScope(scope)
	if err != nil {
		return Target{}, err
	}

	return resolveTarget(p, s)
}

func resolveTarget(p Platform, s Scope) (Target, error) {
	t := Target{
		Platform:   p,
		Scope:      s,
		BinaryName: binaryName,
	}

	if s == User {
		home, err := os.UserHomeDir()
		if err != nil {
			return Target{}, fmt.Errorf("resolving home directory: %w", err)
		}
		applyUserPaths(&t, home)
		return t, nil
	}

	applySystemPaths(&t)
	t.ServiceUser = serviceUserName(p)
	return t, nil
}
