// Package cli parses command-line arguments.
package cli

import (
	"flag"
	"fmt"
	"io"
	"os"

	"github.com/borgsave/borgsave/internal/types"
	"github.com/borgsave/borgsave/internal/version"
)

const (
	defaultConfigPath   = "/etc/borgsave/backup.env"
	configSourceDefault = "default path"
	configSourceFlag    = "specified via --config/-c flag"
)

// Args holds the parsed command-line arguments
type Args struct {
	ConfigPath       string
	ConfigPathSource string
	LogLevel         types.LogLevel
	DryRun           bool
	ShowVersion      bool
	ShowHelp         bool

	// Setup launches the interactive configuration wizard
	Setup bool

	// ProtectSecrets seals plain repository passphrase files with the
	// master key and rewrites the configuration to use the sealed files
	ProtectSecrets bool
}

// Parse parses command-line arguments and returns Args struct
func Parse() *Args {
	args := &Args{}

	configFlag := newStringFlag(defaultConfigPath)

	flag.Var(configFlag, "config", "Path to configuration file")
	flag.Var(configFlag, "c", "Path to configuration file (shorthand)")

	var logLevelStr string
	flag.StringVar(&logLevelStr, "log-level", "",
		"Log level (debug|info|warning|error|critical)")
	flag.StringVar(&logLevelStr, "l", "",
		"Log level (shorthand)")

	flag.BoolVar(&args.DryRun, "dry-run", false,
		"Perform a dry run without taking snapshots or running borg")
	flag.BoolVar(&args.DryRun, "n", false,
		"Perform a dry run (shorthand)")

	flag.BoolVar(&args.Setup, "setup", false,
		"Run the interactive setup wizard (generates backup.env)")
	flag.BoolVar(&args.ProtectSecrets, "protect-secrets", false,
		"Seal plain repository passphrase files with the master key")

	flag.BoolVar(&args.ShowVersion, "version", false,
		"Show version information")
	flag.BoolVar(&args.ShowVersion, "v", false,
		"Show version information (shorthand)")

	flag.BoolVar(&args.ShowHelp, "help", false,
		"Show help message")
	flag.BoolVar(&args.ShowHelp, "h", false,
		"Show help message (shorthand)")

	flag.Usage = func() {
		printHelp(os.Stderr, os.Args[0])
	}

	flag.Parse()

	args.ConfigPath = configFlag.value
	if configFlag.set {
		args.ConfigPathSource = configSourceFlag
	} else {
		args.ConfigPathSource = configSourceDefault
	}

	// Log level from the command line beats the config file; None means
	// the config decides.
	if logLevelStr != "" {
		args.LogLevel = parseLogLevel(logLevelStr)
	} else {
		args.LogLevel = types.LogLevelNone
	}

	return args
}

// parseLogLevel converts string to LogLevel
func parseLogLevel(s string) types.LogLevel {
	switch s {
	case "debug", "5":
		return types.LogLevelDebug
	case "info", "4":
		return types.LogLevelInfo
	case "warning", "3":
		return types.LogLevelWarning
	case "error", "2":
		return types.LogLevelError
	case "critical", "1":
		return types.LogLevelCritical
	case "none", "0":
		return types.LogLevelNone
	default:
		return types.LogLevelInfo
	}
}

// ShowHelp displays help message and exits
func ShowHelp() {
	printHelp(os.Stderr, os.Args[0])
	os.Exit(0)
}

// ShowVersion displays version information and exits
func ShowVersion() {
	printVersion(os.Stdout)
	os.Exit(0)
}

func printHelp(w io.Writer, argv0 string) {
	fmt.Fprintf(w, "Usage: %s [options]\n\n", argv0)
	fmt.Fprintln(w, "borgsave - ZFS snapshot + borg backup orchestrator")
	fmt.Fprintln(w, "")
	fmt.Fprintln(w, "Options:")
	flag.PrintDefaults()
	fmt.Fprintln(w, "")
	fmt.Fprintln(w, "Examples:")
	fmt.Fprintf(w, "  %s -c /etc/borgsave/backup.env\n", argv0)
	fmt.Fprintf(w, "  %s --dry-run --log-level debug\n", argv0)
	fmt.Fprintf(w, "  %s --setup\n", argv0)
}

func printVersion(w io.Writer) {
	fmt.Fprintln(w, "borgsave")
	fmt.Fprintf(w, "Version: %s\n", version.String())
}

type stringFlag struct {
	value string
	set   bool
}

func newStringFlag(defaultValue string) *stringFlag {
	return &stringFlag{value: defaultValue}
}

func (s *stringFlag) String() string {
	return s.value
}

func (s *stringFlag) Set(val string) error {
	s.value = val
	s.set = true
	return nil
}
