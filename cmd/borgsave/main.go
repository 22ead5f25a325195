package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"runtime/debug"
	"syscall"

	"golang.org/x/term"

	"github.com/borgsave/borgsave/internal/cli"
	"github.com/borgsave/borgsave/internal/command"
	"github.com/borgsave/borgsave/internal/config"
	"github.com/borgsave/borgsave/internal/logging"
	"github.com/borgsave/borgsave/internal/metrics"
	"github.com/borgsave/borgsave/internal/notify"
	"github.com/borgsave/borgsave/internal/orchestrator"
	"github.com/borgsave/borgsave/internal/tui/wizard"
	"github.com/borgsave/borgsave/internal/types"
)

func main() {
	os.Exit(run())
}

func run() int {
	defer func() {
		if r := recover(); r != nil {
			fmt.Fprintf(os.Stderr, "panic: %v\n%s\n", r, debug.Stack())
			os.Exit(types.ExitPanicError.Int())
		}
	}()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigChan
		fmt.Fprintf(os.Stderr, "\nreceived signal %v, shutting down\n", sig)
		cancel()
	}()

	args := cli.Parse()

	if args.ShowVersion {
		cli.ShowVersion()
		return types.ExitSuccess.Int()
	}
	if args.ShowHelp {
		cli.ShowHelp()
		return types.ExitSuccess.Int()
	}

	if args.Setup {
		if err := wizard.RunSetupWizard(ctx, args.ConfigPath); err != nil {
			fmt.Fprintf(os.Stderr, "setup failed: %v\n", err)
			return types.ExitConfigError.Int()
		}
		fmt.Printf("Configuration written to %s\n", args.ConfigPath)
		return types.ExitSuccess.Int()
	}

	cfg, err := config.LoadConfig(args.ConfigPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "configuration error (%s, %s): %v\n",
			args.ConfigPath, args.ConfigPathSource, err)
		return types.ExitConfigError.Int()
	}

	// Command line beats config file.
	if args.DryRun {
		cfg.DryRun = true
	}
	level := cfg.DebugLevel
	if args.LogLevel != types.LogLevelNone {
		level = args.LogLevel
	}
	useColor := cfg.UseColor && term.IsTerminal(int(os.Stdout.Fd()))

	logger, logPath, closeLog, err := logging.StartRunLogger(cfg.LogPath, level, useColor)
	if err != nil {
		fmt.Fprintf(os.Stderr, "cannot open run log: %v\n", err)
		return types.ExitConfigError.Int()
	}
	defer closeLog()

	if args.ProtectSecrets {
		if err := protectSecrets(ctx, cfg, logger); err != nil {
			logger.Error("protect-secrets failed: %v", err)
			return types.ExitConfigError.Int()
		}
		return types.ExitSuccess.Int()
	}

	runner := command.NewOSRunner()
	orch := orchestrator.New(cfg, logger, runner)
	report, runErr := orch.Run(ctx)
	if runErr != nil {
		// Aborted before any side effect; the report still gets delivered
		// so an operator hears about a stuck lock or dirty workspace.
		logger.Error("Run aborted: %v", runErr)
	}

	sendNotifications(ctx, cfg, logger, runner, report, logPath)
	exportMetrics(cfg, logger, report)

	if removed, err := logging.PruneOldLogs(logger, cfg.LogPath, cfg.LogKeepFiles, logPath); err != nil {
		logger.Warning("Log retention: %v", err)
	} else if removed > 0 {
		logger.Debug("Log retention removed %d old file(s)", removed)
	}

	return report.ExitCode.Int()
}

func sendNotifications(ctx context.Context, cfg *config.Config, logger *logging.Logger, runner command.Runner, report *orchestrator.RunReport, logPath string) {
	notifier := notify.NewEmailNotifier(cfg, runner, logger)
	if !notifier.IsEnabled() {
		logger.Debug("Email notifications disabled")
		return
	}

	var logContent string
	if data, err := os.ReadFile(logPath); err == nil {
		logContent = string(data)
	} else {
		logger.Warning("Cannot read run log for email: %v", err)
	}

	hostname, _ := os.Hostname()
	data := notify.FromReport(report, hostname, logContent)
	if err := notifier.Send(ctx, data); err != nil {
		// Notification failures never change the run's exit code.
		logger.Warning("Email notification failed: %v", err)
	}
}

func exportMetrics(cfg *config.Config, logger *logging.Logger, report *orchestrator.RunReport) {
	if !cfg.MetricsEnabled {
		return
	}
	hostname, _ := os.Hostname()
	exporter := metrics.NewPrometheusExporter(cfg.MetricsPath, logger)
	if err := exporter.Export(metrics.FromReport(report, hostname)); err != nil {
		logger.Warning("Metrics export failed: %v", err)
	}
}
