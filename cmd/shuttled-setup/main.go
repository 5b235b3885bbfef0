// Command shuttled-setup installs the shuttled file transfer service:
// it provisions the service account, places the binary, writes the service
// config and registers the service with the platform's supervisor.
// --uninstall reverses every step.
package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	flag "github.com/spf13/pflag"

	"github.com/shuttlehq/shuttled-installer/internal/execrun"
	"github.com/shuttlehq/shuttled-installer/internal/identity"
	"github.com/shuttlehq/shuttled-installer/internal/lifecycle"
	"github.com/shuttlehq/shuttled-installer/internal/logging"
	"github.com/shuttlehq/shuttled-installer/internal/platform"
	"github.com/shuttlehq/shuttled-installer/internal/registrar"
)

// version is set at build time via -ldflags.
var version = "dev"

var (
	binarySource = flag.String("binary", "", "path to the shuttled binary (default: next to this installer)")
	scope        = flag.String("scope", "auto", "install scope: auto | system | user")
	uninstall    = flag.Bool("uninstall", false, "remove the service instead of installing it")
	status       = flag.Bool("status", false, "print the install state report and exit")
	startNow     = flag.Bool("start-now", false, "user scope: start the service immediately, not just at next login")
	assumeYes    = flag.Bool("assume-yes", false, "answer yes to all confirmation prompts")
	assumeNo     = flag.Bool("assume-no", false, "answer no to all confirmation prompts")
	logLevel     = flag.String("log-level", "info", "log level: debug | info | warn | error")
	logFile      = flag.String("log-file", "", "write a JSON log file in addition to console output")
	showVersion  = flag.Bool("version", false, "show version and exit")
	help         = flag.BoolP("help", "h", false, "show this help and exit")
)

func main() {
	flag.Parse()

	if *help {
		usage()
		os.Exit(0)
	}
	if *showVersion {
		fmt.Printf("shuttled-setup %s\n", version)
		os.Exit(0)
	}
	if *assumeYes && *assumeNo {
		fatal(fmt.Errorf("--assume-yes and --assume-no are mutually exclusive"))
	}

	target, err := platform.Detect(*scope)
	if err != nil {
		fatal(err)
	}

	logger := logging.New(*logLevel, resolveLogFile(target))
	defer logger.Sync()

	runner := execrun.New()
	controller := lifecycle.New(
		target,
		registrar.New(target, runner, logger),
		identity.New(runner, logger),
		lifecycle.NewConfirmer(*assumeYes, *assumeNo),
		logger,
	)

	ctx := context.Background()
	switch {
	case *status:
		err = controller.Report(os.Stdout)
	case *uninstall:
		err = controller.Uninstall(ctx)
	default:
		err = controller.Install(ctx, sourcePath(), *startNow)
	}
	if err != nil {
		fatal(err)
	}
}

// sourcePath resolves the binary to install: the --binary flag, or a file
// named shuttled next to the installer itself.
func sourcePath() string {
	if *binarySource != "" {
		return *binarySource
	}
	self, err := os.Executable()
	if err != nil {
		return "shuttled"
	}
	return filepath.Join(filepath.Dir(self), "shuttled")
}

// resolveLogFile picks the JSON log destination. System installs keep an
// audit trail under the service log directory unless overridden.
func resolveLogFile(t platform.Target) string {
	if *logFile != "" {
		return *logFile
	}
	if t.Scope == platform.System {
		return filepath.Join(t.LogDir, "install.log")
	}
	return ""
}

func usage() {
	fmt.Printf("shuttled-setup %s - install or remove the shuttled file transfer service\n\n", version)
	fmt.Println("Usage:")
	fmt.Println("  shuttled-setup [flags]")
	fmt.Println()
	fmt.Println("Run as root for a machine-wide install (systemd/launchd); run as a")
	fmt.Println("regular user for a per-session install (autostart at next login).")
	fmt.Println()
	fmt.Println("Flags:")
	fmt.Print(flag.CommandLine.FlagUsages())
}

func fatal(err error) {
	fmt.Fprintf(os.Stderr, "shuttled-setup: %v\n", err)
	os.Exit(1)
}
