package lifecycle

import (
	"fmt"
	"io"
	"os"

	"github.com/shuttlehq/shuttled-installer/internal/platform"
)

// Report writes a doctor-style status report: host, resolved target, install
// state and the per-path findings that produced it.
func (c *Controller) Report(w io.Writer) error {
	state, err := c.Probe()
	if err != nil {
		return fmt.Errorf("probing install state: %w", err)
	}

	fmt.Fprintln(w, "Shuttled Install Report")
	fmt.Fprintln(w, "-----------------------")
	fmt.Fprintf(w, "Host              : %s\n", platform.HostSummary())
	fmt.Fprintf(w, "Platform          : %s\n", c.target.Platform)
	fmt.Fprintf(w, "Scope             : %s\n", c.target.Scope)
	fmt.Fprintf(w, "State             : %s\n", state)
	fmt.Fprintln(w)

	fmt.Fprintf(w, "Binary            : %s\n", describePath(c.target.BinPath))
	fmt.Fprintf(w, "Registration      : %s (%s)\n", describePath(c.registrar.ArtifactPath()), c.registrar.Kind())
	fmt.Fprintf(w, "Config            : %s\n", describePath(c.target.ConfigPath))
	fmt.Fprintf(w, "Data directory    : %s\n", describePath(c.target.DataDir))
	fmt.Fprintf(w, "Log directory     : %s\n", describePath(c.target.LogDir))

	if c.target.Scope == platform.System {
		present := "missing"
		if c.identity.Exists(c.target.ServiceUser) {
			present = "present"
		}
		fmt.Fprintf(w, "Service account   : %s (%s)\n", c.target.ServiceUser, present)
	}

	if st, err := c.registrar.Status(); err == nil {
		active := "no"
		if st.Active {
			active = "yes"
		}
		fmt.Fprintf(w, "Service active    : %s\n", active)
	}
	return nil
}

func describePath(path string) string {
	if _, err := os.Stat(path); err != nil {
		return path + " (missing)"
	}
	return path + " (present)"
}
