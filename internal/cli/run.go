package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/wesleyorama2/swarm/internal/swarm/config"
	"github.com/wesleyorama2/swarm/internal/swarm/metrics"
	"github.com/wesleyorama2/swarm/internal/swarm/output"
	"github.com/wesleyorama2/swarm/internal/swarm/runner"
	"github.com/wesleyorama2/swarm/internal/swarm/scenario"
)

func newRunCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run a load test from a test definition",
		Long: `Spawn the configured population of virtual users and run them until the
run time elapses or the process is interrupted. A first interrupt stops the
users gracefully; running tasks get --stop-timeout to finish.`,
		Example: `  swarm run --config shop.yaml
  swarm run -c shop.yaml --host http://staging:8080 --users 50 --spawn-rate 10 --run-time 5m
  swarm run -c shop.yaml --prometheus :9090 --json > result.json`,
		RunE: runSwarm,
	}

	flags := cmd.Flags()
	flags.StringP("config", "c", "", "Test definition file (YAML or JSON)")
	_ = cmd.MarkFlagRequired("config")
	flags.String("host", "", "Target base URL, overriding every user class host")
	flags.IntP("users", "u", 0, "Number of virtual users")
	flags.Float64P("spawn-rate", "r", 0, "Users started per second")
	flags.DurationP("run-time", "t", 0, "Stop after this long (e.g. 30s, 5m); 0 runs until interrupted")
	flags.Duration("stop-timeout", 0, "Time running tasks get to finish when stopping")
	flags.String("prometheus", "", "Serve Prometheus metrics on this address (e.g. :9090)")
	flags.Duration("progress-interval", 5*time.Second, "Interval between progress lines")
	flags.Bool("json", false, "Print the result as JSON")
	flags.BoolP("quiet", "q", false, "Only print a one-line summary")
	flags.Bool("no-color", false, "Disable colored output")
	return cmd
}

// flagOverrides turns the explicitly set flags into config overrides.
func flagOverrides(cmd *cobra.Command) []config.Override {
	flags := cmd.Flags()
	var overrides []config.Override

	if flags.Changed("host") {
		host, _ := flags.GetString("host")
		overrides = append(overrides, func(c *config.TestConfig) { c.Host = host })
	}
	if flags.Changed("users") {
		users, _ := flags.GetInt("users")
		overrides = append(overrides, func(c *config.TestConfig) { c.Users = users })
	}
	if flags.Changed("spawn-rate") {
		rate, _ := flags.GetFloat64("spawn-rate")
		overrides = append(overrides, func(c *config.TestConfig) { c.SpawnRate = rate })
	}
	if flags.Changed("run-time") {
		d, _ := flags.GetDuration("run-time")
		overrides = append(overrides, func(c *config.TestConfig) { c.RunTime = config.Duration(d) })
	}
	if flags.Changed("stop-timeout") {
		d, _ := flags.GetDuration("stop-timeout")
		overrides = append(overrides, func(c *config.TestConfig) { c.StopTimeout = config.Duration(d) })
	}
	return overrides
}

func runSwarm(cmd *cobra.Command, args []string) error {
	configFile, _ := cmd.Flags().GetString("config")
	host, _ := cmd.Flags().GetString("host")
	promAddr, _ := cmd.Flags().GetString("prometheus")
	interval, _ := cmd.Flags().GetDuration("progress-interval")
	jsonOutput, _ := cmd.Flags().GetBool("json")
	quiet, _ := cmd.Flags().GetBool("quiet")
	noColor, _ := cmd.Flags().GetBool("no-color")

	logger, err := newLogger(cmd)
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	cfg, err := config.LoadConfig(configFile, flagOverrides(cmd)...)
	if err != nil {
		return err
	}
	s, err := scenario.Build(cfg, scenario.WithLogger(logger))
	if err != nil {
		return err
	}

	var recorders []metrics.Recorder
	if promAddr != "" {
		promCfg := metrics.DefaultPrometheusExporterConfig()
		promCfg.Addr = promAddr
		exporter := metrics.NewPrometheusExporter(promCfg)
		if err := exporter.Start(); err != nil {
			return fmt.Errorf("failed to start Prometheus exporter: %w", err)
		}
		defer func() {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := exporter.Stop(ctx); err != nil {
				logger.Warn("failed to stop Prometheus exporter", zap.Error(err))
			}
		}()
		logger.Info("serving Prometheus metrics", zap.String("url", exporter.URL()))
		recorders = append(recorders, exporter)
	}
	engine := metrics.NewEngine(recorders...)

	r := runner.New(s.Runnable(), runner.Options{
		Users:         cfg.Users,
		SpawnRate:     cfg.SpawnRate,
		RunTime:       cfg.RunTime.GetDuration(0),
		StopTimeout:   cfg.StopTimeout.GetDuration(config.DefaultStopTimeout),
		RespawnFailed: cfg.RespawnFailed,
		Host:          host,
		Logger:        logger,
		Engine:        engine,
		ClientOptions: s.ClientOptions(),
	})

	console := output.NewConsole(output.ConsoleConfig{
		Writer:  cmd.OutOrStdout(),
		Quiet:   quiet || jsonOutput,
		NoColor: noColor,
	})
	console.PrintHeader(cfg.Name, cfg.Users, cfg.SpawnRate, cfg.RunTime.GetDuration(0))

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	done := make(chan struct{})
	if interval > 0 && !quiet && !jsonOutput {
		go func() {
			ticker := time.NewTicker(interval)
			defer ticker.Stop()
			for {
				select {
				case <-done:
					return
				case <-ticker.C:
					console.PrintProgress(engine.Snapshot())
				}
			}
		}()
	}

	res, err := r.Run(ctx)
	close(done)
	if err != nil {
		return err
	}

	if jsonOutput {
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		if err := enc.Encode(res); err != nil {
			return fmt.Errorf("failed to encode result: %w", err)
		}
		return nil
	}
	console.PrintSummary(cfg.Name, res)
	return nil
}
