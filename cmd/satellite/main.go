package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"text/tabwriter"

	"github.com/spf13/pflag"

	"github.com/tomyedwab/satellite/central"
	"github.com/tomyedwab/satellite/config"
	"github.com/tomyedwab/satellite/history"
	"github.com/tomyedwab/satellite/launch"
	"github.com/tomyedwab/satellite/processes"
	"github.com/tomyedwab/satellite/tokens"
)

func main() {
	if err := run(os.Args[1:]); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return
		}
		fmt.Fprintf(os.Stderr, "satellite: %v\n", err)
		os.Exit(1)
	}
}

func run(args []string) error {
	flagSet := pflag.NewFlagSet("satellite", pflag.ContinueOnError)
	configPath := flagSet.String("config", "", "path to the YAML config file (default $"+config.EnvConfigPath+")")
	once := flagSet.Bool("once", false, "run a single reconciliation cycle and exit")
	historyLimit := flagSet.Int("history", 0, "print the N most recent history events and exit")
	logLevel := flagSet.String("log-level", "info", "log level: debug, info, warn or error")
	if err := flagSet.Parse(args); err != nil {
		return err
	}

	// 1. Setup logger
	level, err := parseLevel(*logLevel)
	if err != nil {
		return err
	}
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)

	// 2. Load configuration
	cfg, err := config.Load(*configPath)
	if err != nil {
		return err
	}

	var store *history.Store
	if cfg.HistoryDBPath != "" {
		store, err = history.Open(cfg.HistoryDBPath)
		if err != nil {
			return err
		}
		defer store.Close()
	}

	if *historyLimit > 0 {
		if store == nil {
			return fmt.Errorf("--history needs history_db_path to be configured")
		}
		return printHistory(os.Stdout, store, *historyLimit)
	}

	logger.Info("Starting satellite agent", "server", cfg.ServerID, "central", cfg.CentralURL)

	// 3. Token signer and control-plane client
	signer := tokens.NewSigner(tokens.Config{NodeID: cfg.ServerID, PrivateKeyPath: cfg.PrivateKeyPath})
	if err := signer.Err(); err != nil {
		// Every control-plane call fails until the key is fixed and the agent restarted
		logger.Error("Token signer is unusable", "error", err)
	}

	client, err := central.NewClient(central.Config{
		BaseURL:        cfg.CentralURL,
		StagingDir:     cfg.StagingDir,
		RequestTimeout: cfg.RequestTimeout.Std(),
		Logger:         logger,
	}, signer)
	if err != nil {
		return err
	}

	// 4. Launch pipeline
	clusterTemplate := launch.DefaultClusterTemplate
	if cfg.ClusterTemplatePath != "" {
		clusterTemplate, err = launch.LoadClusterTemplate(cfg.ClusterTemplatePath)
		if err != nil {
			return err
		}
	}
	builder, err := launch.NewBuilder(launch.BuilderConfig{
		Artifacts:        client,
		LauncherPath:     cfg.LauncherPath,
		JavaPath:         cfg.JavaPath,
		IdentityProperty: cfg.IdentityProperty,
		StagingDir:       cfg.StagingDir,
		LogDir:           cfg.LogDir,
		ClusterTemplate:  clusterTemplate,
		Logger:           logger,
	})
	if err != nil {
		return err
	}

	// 5. Reconciler
	reconcilerConfig := processes.Config{
		ServerID: cfg.ServerID,
		Desired:  client,
		Scanner: processes.NewScanner(processes.ScannerConfig{
			RuntimeMarker:    cfg.RuntimeMarker,
			IdentityProperty: cfg.IdentityProperty,
			Timeout:          cfg.ScanTimeout.Std(),
			Logger:           logger,
		}),
		Killer:       processes.SignalKiller{},
		Launcher:     &launch.Launcher{Builder: builder, Spawner: &launch.Spawner{Logger: logger}},
		Logger:       logger,
		PollInterval: cfg.PollInterval.Std(),
		InitialDelay: cfg.InitialDelay.Std(),
		CycleTimeout: cfg.CycleTimeout.Std(),
	}
	if store != nil {
		reconcilerConfig.Recorder = store
	}
	if cfg.GeneratedFileMaxAge > 0 {
		reconcilerConfig.Sweeper = &launch.GeneratedFileSweeper{Dir: cfg.StagingDir, MaxAge: cfg.GeneratedFileMaxAge.Std()}
	}
	reconciler, err := processes.NewReconciler(reconcilerConfig)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if *once {
		report, err := reconciler.RunCycle(ctx)
		if err != nil {
			return fmt.Errorf("reconciliation failed: %w", err)
		}
		logger.Info("Single cycle complete", "killed", len(report.Killed), "started", len(report.Started), "failures", report.Failures())
		return nil
	}

	// 6. Setup signal handling: SIGINT/SIGTERM stop the agent, SIGHUP forces a cycle
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM, syscall.SIGHUP)
	defer signal.Stop(sigChan)

	go func() {
		for sig := range sigChan {
			if sig == syscall.SIGHUP {
				if !reconciler.Trigger() {
					logger.Info("Reconciliation already pending, ignoring SIGHUP")
				}
				continue
			}
			logger.Info("Received signal, initiating graceful shutdown...", "signal", sig.String())
			reconciler.Stop()
			cancel()
			return
		}
	}()

	reconciler.Run(ctx)
	logger.Info("Satellite agent stopped.")
	return nil
}

func parseLevel(s string) (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(strings.ToUpper(s))); err != nil {
		return level, fmt.Errorf("invalid --log-level %q", s)
	}
	return level, nil
}

func printHistory(w io.Writer, store *history.Store, limit int) error {
	events, err := store.RecentEvents(context.Background(), limit)
	if err != nil {
		return fmt.Errorf("failed to read history: %w", err)
	}
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "TIME\tEVENT\tINSTANCE\tPID\tDETAIL")
	for _, e := range events {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n", e.Time().Format("2006-01-02T15:04:05Z"), e.EventType, e.Instance, e.PID, e.Detail)
	}
	return tw.Flush()
}
