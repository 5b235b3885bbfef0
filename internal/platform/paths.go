package platform

import "path/filepath"

const binaryName = "shuttled"

// serviceUserName returns the dedicated service account name. macOS system
// accounts are conventionally underscore-prefixed.
func serviceUserName(p Platform) string {
	if p == Darwin {
		return "_shuttled"
	}
	return binaryName
}

// applySystemPaths fills the machine-wide layout. Install and uninstall must
// agree exactly on these paths so teardown can find everything creation
// produced.
func applySystemPaths(t *Target) {
	t.BinDir = "/opt/shuttled"
	t.BinPath = "/opt/shuttled/shuttled"
	t.DataDir = "/var/lib/shuttled"
	t.LogDir = "/var/log/shuttled"
	t.ConfigDir = "/etc/shuttled"
	t.ConfigPath = "/etc/shuttled/shuttled.yaml"
}

// applyUserPaths fills the per-user layout under the caller's home directory.
func applyUserPaths(t *Target, home string) {
	base := filepath.Join(home, ".shuttled")
	t.BinDir = filepath.Join(base, "bin")
	t.BinPath = filepath.Join(base, "bin", binaryName)
	t.DataDir = filepath.Join(base, "data")
	t.LogDir = filepath.Join(base, "logs")
	t.ConfigDir = base
	t.ConfigPath = filepath.Join(base, "shuttled.yaml")
}
