/*
Copyright 2025.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"time"

	"github.com/go-logr/logr"
	"github.com/go-logr/zapr"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/chazu/modport/internal/config"
	"github.com/chazu/modport/internal/tracing"
)

var version = "dev"

// shutdownTimeout bounds flushing spans and stopping the metrics server
const shutdownTimeout = 5 * time.Second

// app holds the state shared by all commands of one invocation
type app struct {
	v       *viper.Viper
	cfgFile string
	cfg     config.Config

	out    io.Writer
	errOut io.Writer

	logger  logr.Logger
	zapLog  *zap.Logger
	tracer  *tracing.Provider
	metrics *http.Server
}

func main() {
	if err := execute(context.Background(), os.Args[1:], os.Stdout, os.Stderr); err != nil {
		os.Exit(1)
	}
}

// execute runs the command line in args and releases everything the
// commands started
func execute(ctx context.Context, args []string, out, errOut io.Writer) error {
	a := &app{
		v:      viper.New(),
		out:    out,
		errOut: errOut,
		logger: logr.Discard(),
	}
	defer a.shutdown()

	root := a.newRootCmd()
	root.SetArgs(args)
	root.SetOut(out)
	root.SetErr(errOut)
	return root.ExecuteContext(ctx)
}

func (a *app) newRootCmd() *cobra.Command {
	defaults := config.Defaults()

	root := &cobra.Command{
		Use:   "modport",
		Short: "Load and inspect module graphs",
		Long: `modport resolves module specifiers relative to their importer, loads each
module at most once per realm, and links Lua or CUE module graphs.`,
		Version:           version,
		SilenceUsage:      true,
		PersistentPreRunE: a.setup,
	}

	flags := root.PersistentFlags()
	flags.StringVarP(&a.cfgFile, "config", "c", "",
		"config file (default: .modport.yaml or ~/.config/modport/config.yaml)")
	flags.String("engine", defaults.Engine, "module engine: auto, lua or cue")
	flags.String("log-level", defaults.LogLevel, "log level: debug, info, warn or error")
	flags.String("log-format", defaults.LogFormat, "log format: console or json")
	flags.Bool("development", defaults.Development, "enable development logging")
	flags.Bool("strict-not-found", defaults.StrictNotFound,
		"report missing module files as ModuleNotFoundError instead of SyntaxError")
	flags.Int("max-concurrency", defaults.MaxConcurrency, "entries checked in parallel")
	flags.String("metrics-bind-address", defaults.MetricsBindAddress,
		"The address the metrics endpoint binds to. Leave as 0 to disable the metrics service.")
	flags.Duration("watch-debounce", defaults.WatchDebounce, "delay before re-running after a change")
	flags.String("trace-exporter", defaults.Tracing.Exporter, "span exporter: none, stdout or otlp")
	flags.String("otlp-endpoint", defaults.Tracing.OTLPEndpoint, "OTLP collector address")

	for _, name := range []string{
		"engine", "log-level", "log-format", "development", "strict-not-found",
		"max-concurrency", "metrics-bind-address", "watch-debounce",
	} {
		_ = a.v.BindPFlag(name, flags.Lookup(name))
	}
	_ = a.v.BindPFlag("tracing.exporter", flags.Lookup("trace-exporter"))
	_ = a.v.BindPFlag("tracing.otlp-endpoint", flags.Lookup("otlp-endpoint"))

	root.AddCommand(
		a.newRunCmd(),
		a.newCheckCmd(),
		a.newGraphCmd(),
		a.newWatchCmd(),
	)
	return root
}

// setup loads configuration and starts logging, tracing and metrics
func (a *app) setup(cmd *cobra.Command, _ []string) error {
	cfg, err := config.Load(a.v, a.cfgFile)
	if err != nil {
		return err
	}
	a.cfg = cfg

	a.zapLog, err = newZapLogger(cfg, a.errOut)
	if err != nil {
		return err
	}
	a.logger = zapr.NewLogger(a.zapLog)
	a.logger.V(1).Info("Configuration loaded", "engine", cfg.Engine, "config", a.v.ConfigFileUsed())

	a.tracer, err = tracing.NewProvider(cmd.Context(), cfg.Tracing, a.errOut)
	if err != nil {
		return err
	}

	if cfg.MetricsBindAddress != "0" && cfg.MetricsBindAddress != "" {
		srv, addr, err := startMetricsServer(cfg.MetricsBindAddress, a.logger)
		if err != nil {
			return err
		}
		a.metrics = srv
		a.logger.Info("Serving metrics", "address", addr.String())
	}

	cmd.SetContext(logr.NewContext(cmd.Context(), a.logger))
	return nil
}

func (a *app) shutdown() {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if a.metrics != nil {
		if err := a.metrics.Shutdown(ctx); err != nil {
			a.logger.Error(err, "Failed to stop metrics server")
		}
	}
	if a.tracer != nil {
		if err := a.tracer.Shutdown(ctx); err != nil {
			a.logger.Error(err, "Failed to shut down tracer provider")
		}
	}
	if a.zapLog != nil {
		_ = a.zapLog.Sync()
	}
}

// newZapLogger builds a zap logger writing to w at the configured level and
// format
func newZapLogger(cfg config.Config, w io.Writer) (*zap.Logger, error) {
	level, err := zapcore.ParseLevel(cfg.LogLevel)
	if err != nil {
		return nil, fmt.Errorf("parsing log level: %w", err)
	}

	encCfg := zap.NewProductionEncoderConfig()
	if cfg.Development {
		encCfg = zap.NewDevelopmentEncoderConfig()
	}
	encCfg.EncodeTime = zapcore.ISO8601TimeEncoder

	var enc zapcore.Encoder
	if cfg.LogFormat == "json" {
		enc = zapcore.NewJSONEncoder(encCfg)
	} else {
		enc = zapcore.NewConsoleEncoder(encCfg)
	}

	var opts []zap.Option
	if cfg.Development {
		opts = append(opts, zap.Development(), zap.AddCaller())
	}
	return zap.New(zapcore.NewCore(enc, zapcore.AddSync(w), level), opts...), nil
}

// startMetricsServer serves the Prometheus default registry on /metrics
func startMetricsServer(addr string, logger logr.Logger) (*http.Server, net.Addr, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, nil, fmt.Errorf("listening on %s: %w", addr, err)
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	srv := &http.Server{
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error(err, "Metrics server stopped")
		}
	}()
	return srv, ln.Addr(), nil
}
