// Command shuttled-uninstall removes the shuttled service: stop, disable,
// remove the registration, remove the binary. Data-directory and
// service-account removal are offered behind confirmations and default to
// "keep" when unattended.
package main

import (
	"context"
	"fmt"
	"os"

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
	scope       = flag.String("scope", "auto", "uninstall scope: auto | system | user")
	assumeYes   = flag.Bool("assume-yes", false, "answer yes to all confirmation prompts")
	assumeNo    = flag.Bool("assume-no", false, "answer no to all confirmation prompts")
	logLevel    = flag.String("log-level", "info", "log level: debug | info | warn | error")
	showVersion = flag.Bool("version", false, "show version and exit")
	help        = flag.BoolP("help", "h", false, "show this help and exit")
)

func main() {
	flag.Parse()

	if *help {
		usage()
		os.Exit(0)
	}
	if *showVersion {
		fmt.Printf("shuttled-uninstall %s\n", version)
		os.Exit(0)
	}
	if *assumeYes && *assumeNo {
		fatal(fmt.Errorf("--assume-yes and --assume-no are mutually exclusive"))
	}

	target, err := platform.Detect(*scope)
	if err != nil {
		fatal(err)
	}

	logger := logging.New(*logLevel, "")
	defer logger.Sync()

	runner := execrun.New()
	controller := lifecycle.New(
		target,
		registrar.New(target, runner, logger),
		identity.New(runner, logger),
		lifecycle.NewConfirmer(*assumeYes, *assumeNo),
		logger,
	)

	if err := controller.Uninstall(context.Background()); err != nil {
		fatal(err)
	}
}

func usage() {
	fmt.Printf("shuttled-uninstall %s - remove the shuttled file transfer service\n\n", version)
	fmt.Println("Usage:")
	fmt.Println("  shuttled-uninstall [flags]")
	fmt.Println()
	fmt.Println("Flags:")
	fmt.Print(flag.CommandLine.FlagUsages())
}

func fatal(err error) {
	fmt.Fprintf(os.Stderr, "shuttled-uninstall: %v\n", err)
	os.Exit(1)
}
