package platform

import (
	"fmt"

	"github.com/shirou/gopsutil/v3/host"
)

// HostSummary returns a one-line description of the host for the status
// report. Failures degrade to a minimal summary rather than an error; the
// report is informational only.
func HostSummary() string {
	info, err := host.Info()
	if err != nil {
		return "unknown host"
	}
	return fmt.Sprintf("%s %s %s (kernel %s, up %s)",
		info.Hostname, info.Platform, info.PlatformVersion, info.KernelVersion,
		formatUptime(info.Uptime))
}

func formatUptime(seconds uint64) string {
	const day = 86400
	if seconds >= day {
		return fmt.Sprintf("%dd%dh", seconds/day, seconds%day/3600)
	}
	return fmt.Sprintf("%dh%dm", seconds/3600, seconds%3600/60)
}
