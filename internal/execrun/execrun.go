// Package execrun wraps external command execution behind a small interface
// so service-manager calls (systemctl, launchctl, useradd, dscl) can be
// recorded and faked in tests.
package execrun

import (
	"fmt"
	"os/exec"
)

// Runner executes external commands and reports their combined output.
type Runner interface {
	// Run executes name with args and returns combined stdout+stderr.
	Run(name string, args ...string) ([]byte, error)
	// LookPath reports the absolute path of name, or an error if it is
	// not on PATH.
	LookPath(name string) (string, error)
}

type osRunner struct{}

// New returns a Runner backed by os/exec.
func New() Runner { return osRunner{} }

func (osRunner) Run(name string, args ...string) ([]byte, error) {
	out, err := exec.Command(name, args...).CombinedOutput()
	if err != nil {
		return out, fmt.Errorf("%s: %w", name, err)
	}
	return out, nil
}

func (osRunner) LookPath(name string) (string, error) {
	return exec.LookPath(name)
}
