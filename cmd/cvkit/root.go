package main

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/sanonone/cvkit/pkg/config"
	"github.com/sanonone/cvkit/pkg/datastore"
	"github.com/sanonone/cvkit/pkg/logging"
	"github.com/sanonone/cvkit/pkg/processor"
)

// commandContext carries the global flags and lazily loaded state shared by
// every subcommand.
type commandContext struct {
	configPath  string
	logLevel    string
	logFormat   string
	metricsAddr string

	logger  *slog.Logger
	cfg     *config.Config
	stores  *datastore.Registry
	metrics *http.Server
}

func (c *commandContext) config() (*config.Config, error) {
	if c.cfg != nil {
		return c.cfg, nil
	}
	if c.configPath == "" {
		return nil, errors.New("a project configuration is required (--config)")
	}
	cfg, err := config.Load(c.configPath)
	if err != nil {
		return nil, err
	}
	c.cfg = cfg
	return cfg, nil
}

func (c *commandContext) env() (processor.Env, error) {
	cfg, err := c.config()
	if err != nil {
		return processor.Env{}, err
	}
	return processor.Env{Config: cfg, Stores: c.stores}, nil
}

func (c *commandContext) startMetrics() error {
	if c.metricsAddr == "" {
		return nil
	}
	ln, err := net.Listen("tcp", c.metricsAddr)
	if err != nil {
		return err
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	c.metrics = &http.Server{Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		if err := c.metrics.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			c.logger.Error("[Metrics] Server stopped", "error", err)
		}
	}()
	c.logger.Info("[Metrics] Serving", "addr", ln.Addr().String())
	return nil
}

func (c *commandContext) stopMetrics() {
	if c.metrics == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	_ = c.metrics.Shutdown(ctx)
}

func newRootCommand() *cobra.Command {
	ctx := &commandContext{stores: datastore.DefaultRegistry()}

	rootCmd := &cobra.Command{
		Use:           "cvkit",
		Short:         "Multi-view 3D keypoint reconstruction toolkit",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			logger, err := logging.Setup(ctx.logLevel, ctx.logFormat)
			if err != nil {
				return err
			}
			ctx.logger = logger
			return ctx.startMetrics()
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			ctx.stopMetrics()
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}

	flags := rootCmd.PersistentFlags()
	flags.StringVarP(&ctx.configPath, "config", "c", "", "Project configuration file (YAML or TOML)")
	flags.StringVar(&ctx.logLevel, "log-level", "info", "Log level: debug, info, warn, error")
	flags.StringVar(&ctx.logFormat, "log-format", "auto", "Log format: auto, text, json")
	flags.StringVar(&ctx.metricsAddr, "metrics-addr", "", "Serve Prometheus metrics on this address while running")

	rootCmd.AddCommand(newReconstructCommand(ctx))
	rootCmd.AddCommand(newStatsCommand(ctx))
	rootCmd.AddCommand(newConvertCommand(ctx))
	rootCmd.AddCommand(newCalibrateCommand(ctx))
	rootCmd.AddCommand(newRunCommand(ctx))

	return rootCmd
}
