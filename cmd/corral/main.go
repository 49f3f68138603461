// Copyright 2021 FerretDB Inc.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Corral is a multi-tenant document engine with dynamic schemas.
package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"sync"
	"time"

	"github.com/alecthomas/kong"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/common/expfmt"
	"go.uber.org/automaxprocs/maxprocs"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/corraldb/corral/build/version"
	"github.com/corraldb/corral/internal/engine"
	"github.com/corraldb/corral/internal/engine/sqlite"
	"github.com/corraldb/corral/internal/util/ctxutil"
	"github.com/corraldb/corral/internal/util/debug"
	"github.com/corraldb/corral/internal/util/debugbuild"
	"github.com/corraldb/corral/internal/util/logging"
	"github.com/corraldb/corral/internal/util/must"
	"github.com/corraldb/corral/internal/util/observability"
	"github.com/corraldb/corral/internal/util/state"
)

// The cli struct represents all command-line commands, fields and flags.
// It's used for parsing the user input.
var cli struct {
	Version  bool   `default:"false"  help:"Print version to stdout and exit." env:"-"`
	Dir      string `default:"data"   help:"Directory for per-project database files."`
	StateDir string `default:"."      help:"Process state directory."`

	QueueCapacity int `default:"0" help:"Write queue capacity; 0 means the default."`

	DebugAddr string `default:"127.0.0.1:8088" help:"Listen address for HTTP handlers for metrics, pprof, etc."`

	Log struct {
		Level  string `default:"${default_log_level}" help:"${help_log_level}"`
		Format string `default:"console"              help:"${help_log_format}"                     enum:"${enum_log_format}"`
		UUID   bool   `default:"false"                help:"Add instance UUID to all log messages." negatable:""`
	} `embed:"" prefix:"log-"`

	MetricsUUID bool `default:"false" help:"Add instance UUID to all metrics." negatable:""`

	OTLPEndpoint string `default:"" help:"OTLP trace exporter endpoint; empty disables tracing export." name:"otlp-endpoint"`

	LogActivity bool `default:"true" help:"Log an entry for every successful mutation." negatable:""`
}

// Additional variables for the kong parsers.
var (
	logLevels = []string{
		zap.DebugLevel.String(),
		zap.InfoLevel.String(),
		zap.WarnLevel.String(),
		zap.ErrorLevel.String(),
	}

	logFormats = []string{"console", "json"}

	kongOptions = []kong.Option{
		kong.Vars{
			"default_log_level": defaultLogLevel().String(),

			"enum_log_format": strings.Join(logFormats, ","),

			"help_log_format": fmt.Sprintf("Log format: '%s'.", strings.Join(logFormats, "', '")),
			"help_log_level":  fmt.Sprintf("Log level: '%s'.", strings.Join(logLevels, "', '")),
		},
		kong.DefaultEnvars("CORRAL"),
	}
)

func main() {
	kong.Parse(&cli, kongOptions...)

	run()
}

// defaultLogLevel returns the default log level.
func defaultLogLevel() zapcore.Level {
	if version.Get().DebugBuild {
		return zap.DebugLevel
	}

	return zap.InfoLevel
}

// setupState setups state provider.
func setupState() *state.Provider {
	var f string

	// https://github.com/alecthomas/kong/issues/389
	if cli.StateDir != "" && cli.StateDir != "-" {
		var err error
		if f, err = filepath.Abs(filepath.Join(cli.StateDir, "state.json")); err != nil {
			log.Fatalf("Failed to get path for state file: %s.", err)
		}
	}

	sp, err := state.NewProvider(f)
	if err != nil {
		log.Fatalf("Failed to create state provider: %s.", err)
	}

	return sp
}

// setupMetrics setups Prometheus metrics registerer with some metrics.
func setupMetrics(stateProvider *state.Provider) prometheus.Registerer {
	r := prometheus.DefaultRegisterer
	m := stateProvider.MetricsCollector(true)

	// we don't do it by default due to
	// https://prometheus.io/docs/instrumenting/writing_exporters/#target-labels-not-static-scraped-labels
	if cli.MetricsUUID {
		r = prometheus.WrapRegistererWith(
			prometheus.Labels{"uuid": stateProvider.Get().UUID},
			prometheus.DefaultRegisterer,
		)
		m = stateProvider.MetricsCollector(false)
	}

	r.MustRegister(m)

	return r
}

// setupLogger setups zap logger.
func setupLogger(stateProvider *state.Provider, format string) *zap.Logger {
	info := version.Get()

	startupFields := []zap.Field{
		zap.String("version", info.Version),
		zap.String("commit", info.Commit),
		zap.Bool("dirty", info.Dirty),
		zap.Bool("debugBuild", info.DebugBuild),
	}
	logUUID := stateProvider.Get().UUID

	// Similarly to Prometheus, unless requested, don't add UUID to all messages, but log it once at startup.
	if !cli.Log.UUID {
		startupFields = append(startupFields, zap.String("uuid", logUUID))
		logUUID = ""
	}

	level, err := zapcore.ParseLevel(cli.Log.Level)
	if err != nil {
		log.Fatal(err)
	}

	logging.Setup(level, format, logUUID)
	l := zap.L()

	l.Info("Starting Corral "+info.Version+"...", startupFields...)

	if debugbuild.Enabled {
		l.Info("This is debug build. The performance will be affected.")
	}

	return l
}

// activityLogger returns an activity hook that logs every successful mutation.
func activityLogger(l *zap.Logger) engine.ActivityFunc {
	return func(e engine.Event) {
		l.Info(
			"Mutation applied.",
			zap.String("action", e.Action),
			zap.String("resourceType", e.ResourceType),
			zap.String("resourceID", e.ResourceID),
			zap.String("project", e.Project),
			zap.String("collection", e.Collection),
		)
	}
}

// dumpMetrics dumps all Prometheus metrics to stderr.
func dumpMetrics() {
	mfs := must.NotFail(prometheus.DefaultGatherer.Gather())

	for _, mf := range mfs {
		must.NotFail(expfmt.MetricFamilyToText(os.Stderr, mf))
	}
}

// run sets up environment based on provided flags and runs Corral.
func run() {
	// to increase a chance of resource finalizers to spot problems
	if debugbuild.Enabled {
		defer func() {
			runtime.GC()
			runtime.GC()
		}()
	}

	info := version.Get()

	if cli.Version {
		fmt.Fprintln(os.Stdout, "version:", info.Version)
		fmt.Fprintln(os.Stdout, "commit:", info.Commit)
		fmt.Fprintln(os.Stdout, "dirty:", info.Dirty)
		fmt.Fprintln(os.Stdout, "debugBuild:", info.DebugBuild)

		return
	}

	// safe to always enable
	runtime.SetBlockProfileRate(10000)

	stateProvider := setupState()

	metricsRegisterer := setupMetrics(stateProvider)

	logger := setupLogger(stateProvider, cli.Log.Format)

	if _, err := maxprocs.Set(maxprocs.Logger(logger.Sugar().Debugf)); err != nil {
		logger.Sugar().Warnf("Failed to set GOMAXPROCS: %s.", err)
	}

	if err := os.MkdirAll(cli.Dir, 0o777); err != nil {
		logger.Sugar().Fatalf("Failed to create data directory: %s.", err)
	}

	otelShutdown, err := observability.SetupOtel("corral", cli.OTLPEndpoint)
	if err != nil {
		logger.Sugar().Fatalf("Failed to set up OTLP exporter: %s.", err)
	}

	ctx, stop := ctxutil.SigTerm(context.Background())

	go func() {
		<-ctx.Done()
		logger.Info("Stopping...")
		stop()
	}()

	var activity engine.ActivityFunc
	if cli.LogActivity {
		activity = activityLogger(logger.Named("activity"))
	}

	b, err := sqlite.NewBackend(&sqlite.NewBackendParams{
		Dir:           cli.Dir,
		L:             logger,
		P:             stateProvider,
		QueueCapacity: cli.QueueCapacity,
		Activity:      activity,
		R:             metricsRegisterer,
	})
	if err != nil {
		logger.Sugar().Fatalf("Failed to construct engine: %s.", err)
	}

	var wg sync.WaitGroup

	// https://github.com/alecthomas/kong/issues/389
	if cli.DebugAddr != "" && cli.DebugAddr != "-" {
		wg.Add(1)

		go func() {
			defer wg.Done()

			// the process is healthy even while the queue is draining
			debug.RunHandler(ctx, cli.DebugAddr, metricsRegisterer, func() bool { return true }, logger.Named("debug"))
		}()
	}

	<-ctx.Done()

	// Close drains queued writes before releasing the store.
	b.Close()
	logger.Info("Engine stopped.")

	if otelShutdown != nil {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer shutdownCancel()

		if err := otelShutdown(shutdownCtx); err != nil {
			logger.Sugar().Warnf("Failed to shut down OTLP exporter: %s.", err)
		}
	}

	stop()

	wg.Wait()

	if info.DebugBuild {
		dumpMetrics()
	}
}
