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

package main

import (
	"context"
	"fmt"
	"log"
	"net"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/alecthomas/kong"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/common/expfmt"
	"go.uber.org/automaxprocs/maxprocs"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	_ "golang.org/x/crypto/x509roots/fallback" // register root TLS certificates for production Docker image

	"github.com/drenlia/easy-kanban-sub014/build/version"
	"github.com/drenlia/easy-kanban-sub014/internal/api"
	"github.com/drenlia/easy-kanban-sub014/internal/api/server"
	"github.com/drenlia/easy-kanban-sub014/internal/proxy"
	"github.com/drenlia/easy-kanban-sub014/internal/sqlfilter"
	"github.com/drenlia/easy-kanban-sub014/internal/tenant/pool"
	"github.com/drenlia/easy-kanban-sub014/internal/tenant/queue"
	"github.com/drenlia/easy-kanban-sub014/internal/util/ctxutil"
	"github.com/drenlia/easy-kanban-sub014/internal/util/debug"
	"github.com/drenlia/easy-kanban-sub014/internal/util/devbuild"
	"github.com/drenlia/easy-kanban-sub014/internal/util/logging"
	"github.com/drenlia/easy-kanban-sub014/internal/util/must"
	"github.com/drenlia/easy-kanban-sub014/internal/util/observability"
	"github.com/drenlia/easy-kanban-sub014/internal/util/state"
)

// The cli struct represents all command-line commands, fields and flags.
// It's used for parsing the user input.
//
//nolint:lll // some tags are long
var cli struct {
	Version  bool   `default:"false" help:"Print version to stdout and exit." env:"-"`
	StateDir string `default:"."     help:"Process state directory."`

	DataDir    string `default:"data"                      help:"Base directory for tenant databases."`
	DBFilename string `default:"${default_db_filename}" help:"Database file name inside each tenant directory." name:"db-filename"`

	ListenAddr string `default:":3001"          help:"Listen TCP address."`
	Port       int    `default:"0"              help:"Listen TCP port; overrides the port of --listen-addr." env:"PORT"`
	DebugAddr  string `default:"127.0.0.1:8089" help:"Listen address for HTTP handlers for metrics, pprof, etc."`

	StatementTimeout time.Duration `default:"${default_statement_timeout}" help:"Timeout of a single statement or transaction, negative to disable."`
	ShutdownTimeout  time.Duration `default:"${default_shutdown_timeout}"  help:"Time given to in-flight requests on shutdown."`
	CacheSize        int           `default:"${default_cache_size}"        help:"Size of statement classification cache."`

	Log struct {
		Level              string        `default:"${default_log_level}" help:"${help_log_level}"`
		Format             string        `default:"console"              help:"${help_log_format}"         enum:"${enum_log_format}"`
		UUID               bool          `default:"false"                help:"Add instance UUID to all log messages." negatable:""`
		SlowQueries        bool          `default:"false"                help:"Log slow statements at warn level."     name:"slow-queries"`
		SlowQueryThreshold time.Duration `default:"100ms"                help:"Threshold for --log-slow-queries."     name:"slow-query-threshold"`
	} `embed:"" prefix:"log-"`

	Verbose bool `default:"false" help:"Log every statement; same as --log-level=debug." short:"v"`

	MetricsUUID bool `default:"false" help:"Add instance UUID to all metrics." negatable:""`

	OTelTracesURL string `default:"" help:"OpenTelemetry OTLP/HTTP traces endpoint URL; tracing is disabled if empty." name:"otel-traces-url"`
}

// Additional variables for the kong parsers.
var (
	logLevels = []string{
		zap.DebugLevel.String(),
		zap.InfoLevel.String(),
		zap.WarnLevel.String(),
		zap.ErrorLevel.String(),
	}

	kongOptions = []kong.Option{
		kong.Vars{
			"default_log_level":         defaultLogLevel().String(),
			"default_db_filename":       pool.DefaultFilename,
			"default_statement_timeout": proxy.DefaultStatementTimeout.String(),
			"default_shutdown_timeout":  api.DefaultShutdownTimeout.String(),
			"default_cache_size":        strconv.Itoa(sqlfilter.DefaultCacheSize),

			"enum_log_format": strings.Join(logging.Formats, ","),

			"help_log_format": fmt.Sprintf("Log format: '%s'.", strings.Join(logging.Formats, "', '")),
			"help_log_level":  fmt.Sprintf("Log level: '%s'.", strings.Join(logLevels, "', '")),
		},
		kong.DefaultEnvars("DBPROXY"),
	}
)

func main() {
	kong.Parse(&cli, kongOptions...)

	run()
}

// defaultLogLevel returns the default log level.
func defaultLogLevel() zapcore.Level {
	if version.Get().DevBuild {
		return zap.DebugLevel
	}

	return zap.InfoLevel
}

// listenAddr returns TCP address to listen on, replacing the port of addr if port is set.
func listenAddr(addr string, port int) (string, error) {
	if port == 0 {
		return addr, nil
	}

	if port < 0 || port > 65535 {
		return "", fmt.Errorf("invalid port %d", port)
	}

	host, _, err := net.SplitHostPort(addr)
	if err != nil {
		return "", fmt.Errorf("invalid listen address %q: %w", addr, err)
	}

	return net.JoinHostPort(host, strconv.Itoa(port)), nil
}

// logLevel returns the log level from flags.
func logLevel() (zapcore.Level, error) {
	if cli.Verbose {
		return zap.DebugLevel, nil
	}

	return zapcore.ParseLevel(cli.Log.Level)
}

// slowThreshold returns the threshold for slow statement logging, zero if disabled.
func slowThreshold() time.Duration {
	if !cli.Log.SlowQueries {
		return 0
	}

	return cli.Log.SlowQueryThreshold
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
func setupLogger(stateProvider *state.Provider) *zap.Logger {
	info := version.Get()

	startupFields := []zap.Field{
		zap.String("version", info.Version),
		zap.String("commit", info.Commit),
		zap.String("branch", info.Branch),
		zap.Bool("dirty", info.Dirty),
		zap.Bool("devBuild", info.DevBuild),
		zap.Any("buildEnvironment", info.BuildEnvironment),
	}
	logUUID := stateProvider.Get().UUID

	// Similarly to Prometheus, unless requested, don't add UUID to all messages, but log it once at startup.
	if !cli.Log.UUID {
		startupFields = append(startupFields, zap.String("uuid", logUUID))
		logUUID = ""
	}

	level, err := logLevel()
	if err != nil {
		log.Fatal(err)
	}

	logging.Setup(level, cli.Log.Format, logUUID)
	l := zap.L()

	l.Info("Starting dbproxy "+info.Version+"...", startupFields...)

	if devbuild.Enabled {
		l.Info("This is development build. The performance will be affected.")
	}

	return l
}

// dumpMetrics dumps all Prometheus metrics to stderr.
func dumpMetrics() {
	mfs := must.NotFail(prometheus.DefaultGatherer.Gather())

	for _, mf := range mfs {
		must.NotFail(expfmt.MetricFamilyToText(os.Stderr, mf))
	}
}

// run sets up environment based on provided flags and runs the proxy.
func run() {
	// to increase a chance of resource finalizers to spot problems
	if devbuild.Enabled {
		defer func() {
			runtime.GC()
			runtime.GC()
		}()
	}

	info := version.Get()

	if cli.Version {
		fmt.Fprintln(os.Stdout, "version:", info.Version)
		fmt.Fprintln(os.Stdout, "commit:", info.Commit)
		fmt.Fprintln(os.Stdout, "branch:", info.Branch)
		fmt.Fprintln(os.Stdout, "dirty:", info.Dirty)
		fmt.Fprintln(os.Stdout, "devBuild:", info.DevBuild)

		return
	}

	// safe to always enable
	runtime.SetBlockProfileRate(10000)

	stateProvider := setupState()

	metricsRegisterer := setupMetrics(stateProvider)

	logger := setupLogger(stateProvider)

	if _, err := maxprocs.Set(maxprocs.Logger(logger.Sugar().Debugf)); err != nil {
		logger.Sugar().Warnf("Failed to set GOMAXPROCS: %s.", err)
	}

	addr, err := listenAddr(cli.ListenAddr, cli.Port)
	if err != nil {
		logger.Sugar().Fatalf("Failed to get listen address: %s.", err)
	}

	shutdownOtel, err := observability.SetupOtel("dbproxy", cli.OTelTracesURL)
	if err != nil {
		logger.Sugar().Fatalf("Failed to setup OpenTelemetry: %s.", err)
	}

	ctx, stop := ctxutil.SigTerm(context.Background())

	go func() {
		<-ctx.Done()
		logger.Info("Stopping...")
		stop()
	}()

	var wg sync.WaitGroup

	// https://github.com/alecthomas/kong/issues/389
	if cli.DebugAddr != "" && cli.DebugAddr != "-" {
		wg.Add(1)

		go func() {
			defer wg.Done()
			debug.RunHandler(ctx, cli.DebugAddr, metricsRegisterer, prometheus.DefaultGatherer, logger.Named("debug"))
		}()
	}

	p, err := pool.New(&pool.NewOpts{
		Dir:           cli.DataDir,
		Filename:      cli.DBFilename,
		SlowThreshold: slowThreshold(),
		L:             logger.Named("pool"),
	})
	if err != nil {
		logger.Sugar().Fatalf("Failed to create tenant pool: %s.", err)
	}

	q := queue.New(logger.Named("queue"))

	classifier, err := sqlfilter.NewClassifier(cli.CacheSize)
	if err != nil {
		logger.Sugar().Fatalf("Failed to create classifier: %s.", err)
	}

	registry, err := proxy.NewRegistry(&proxy.NewRegistryOpts{
		Pool:             p,
		Queue:            q,
		Classifier:       classifier,
		L:                logger.Named("proxy"),
		StatementTimeout: cli.StatementTimeout,
	})
	if err != nil {
		logger.Sugar().Fatalf("Failed to create registry: %s.", err)
	}

	metrics := server.NewMetrics()

	metricsRegisterer.MustRegister(registry, metrics)

	lis, err := api.Listen(&api.ListenOpts{
		L:               logger.Named("api"),
		Registry:        registry,
		Metrics:         metrics,
		TCPAddr:         addr,
		ShutdownTimeout: cli.ShutdownTimeout,
	})
	if err != nil {
		logger.Sugar().Fatalf("Failed to listen: %s.", err)
	}

	lis.Run(ctx)

	stop()

	wg.Wait()

	// all in-flight requests are done
	p.Close()

	otelCtx, otelCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer otelCancel()

	if err = shutdownOtel(otelCtx); err != nil {
		logger.Warn("Failed to shutdown OpenTelemetry", zap.Error(err))
	}

	if info.DevBuild {
		dumpMetrics()
	}
}
