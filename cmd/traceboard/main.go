package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/123zcr/traceboard/internal/analytics"
	"github.com/123zcr/traceboard/internal/api"
	"github.com/123zcr/traceboard/internal/config"
	"github.com/123zcr/traceboard/internal/live"
	"github.com/123zcr/traceboard/internal/observability"
	"github.com/123zcr/traceboard/internal/trace"
	"github.com/123zcr/traceboard/internal/version"
)

const defaultConfigPath = "traceboard.yaml"

const writerShutdownTimeout = 5 * time.Second
const otelShutdownTimeout = 5 * time.Second
const serverReadHeaderTimeout = 10 * time.Second
const serverIdleTimeout = 2 * time.Minute

var newTraceWriter = func(store trace.TraceStore, bufferSize int) *trace.Writer {
	return trace.NewWriter(store, bufferSize)
}

var signalNotifyContext = signal.NotifyContext

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	if len(args) == 0 {
		return runServe(nil)
	}

	switch args[0] {
	case "version", "--version", "-v":
		fmt.Println(version.String())
		return 0
	case "serve":
		return runServe(args[1:])
	case "config":
		return runConfig(args[1:], os.Stdout, os.Stderr)
	case "export":
		return runExport(args[1:], os.Stdout, os.Stderr)
	case "clean":
		return runClean(args[1:], os.Stdout, os.Stderr)
	default:
		printUsage(os.Stderr)
		return 2
	}
}

func runConfig(args []string, out io.Writer, errOut io.Writer) int {
	if len(args) == 0 {
		printConfigUsage(errOut)
		return 2
	}

	switch args[0] {
	case "validate":
		return runConfigValidate(args[1:], out, errOut)
	default:
		printConfigUsage(errOut)
		return 2
	}
}

func runConfigValidate(args []string, out io.Writer, errOut io.Writer) int {
	flagSet := flag.NewFlagSet("config validate", flag.ContinueOnError)
	flagSet.SetOutput(errOut)
	configPath := flagSet.String("config", defaultConfigPath, "Path to config file")
	if err := flagSet.Parse(args); err != nil {
		return 2
	}
	if flagSet.NArg() != 0 {
		fmt.Fprintln(errOut, "config validate does not accept positional arguments")
		return 2
	}

	if _, err := loadAndValidateConfig(*configPath); err != nil {
		fmt.Fprintf(errOut, "config is invalid: %v\n", err)
		return 1
	}

	fmt.Fprintf(out, "config is valid: %s\n", *configPath)
	return 0
}

// runExport dumps every stored trace with its spans as a JSON document, for
// backups or moving data between database files.
func runExport(args []string, out io.Writer, errOut io.Writer) int {
	flagSet := flag.NewFlagSet("export", flag.ContinueOnError)
	flagSet.SetOutput(errOut)
	configPath := flagSet.String("config", defaultConfigPath, "Path to config file")
	outputPath := flagSet.String("out", "", "Write to file instead of stdout")
	if err := flagSet.Parse(args); err != nil {
		return 2
	}

	cfg, err := loadAndValidateConfig(*configPath)
	if err != nil {
		fmt.Fprintf(errOut, "config is invalid: %v\n", err)
		return 1
	}

	store, err := trace.NewSQLiteStore(cfg.Storage.Path)
	if err != nil {
		fmt.Fprintf(errOut, "failed to open storage: %v\n", err)
		return 1
	}
	defer store.Close()

	exports, err := store.ExportAll(context.Background())
	if err != nil {
		fmt.Fprintf(errOut, "failed to export traces: %v\n", err)
		return 1
	}

	destination := out
	if *outputPath != "" {
		file, err := os.Create(*outputPath)
		if err != nil {
			fmt.Fprintf(errOut, "failed to create output file: %v\n", err)
			return 1
		}
		defer file.Close()
		destination = file
	}

	encoder := json.NewEncoder(destination)
	encoder.SetIndent("", "  ")
	if err := encoder.Encode(map[string]any{
		"exported_at": time.Now().UTC(),
		"trace_count": len(exports),
		"traces":      exports,
	}); err != nil {
		fmt.Fprintf(errOut, "failed to write export: %v\n", err)
		return 1
	}
	return 0
}

// runClean deletes every stored trace and span. It refuses to run without
// --yes so a stray invocation cannot wipe a database.
func runClean(args []string, out io.Writer, errOut io.Writer) int {
	flagSet := flag.NewFlagSet("clean", flag.ContinueOnError)
	flagSet.SetOutput(errOut)
	configPath := flagSet.String("config", defaultConfigPath, "Path to config file")
	confirmed := flagSet.Bool("yes", false, "Confirm deleting all stored traces")
	if err := flagSet.Parse(args); err != nil {
		return 2
	}
	if !*confirmed {
		fmt.Fprintln(errOut, "clean deletes all stored traces; pass --yes to confirm")
		return 2
	}

	cfg, err := loadAndValidateConfig(*configPath)
	if err != nil {
		fmt.Fprintf(errOut, "config is invalid: %v\n", err)
		return 1
	}

	store, err := trace.NewSQLiteStore(cfg.Storage.Path)
	if err != nil {
		fmt.Fprintf(errOut, "failed to open storage: %v\n", err)
		return 1
	}
	defer store.Close()

	deleted, err := store.DeleteAll(context.Background())
	if err != nil {
		fmt.Fprintf(errOut, "failed to delete traces: %v\n", err)
		return 1
	}
	fmt.Fprintf(out, "deleted %d traces\n", deleted)
	return 0
}

func runServe(args []string) int {
	flagSet := flag.NewFlagSet("serve", flag.ContinueOnError)
	flagSet.SetOutput(os.Stderr)
	configPath := flagSet.String("config", defaultConfigPath, "Path to config file")
	if err := flagSet.Parse(args); err != nil {
		return 2
	}

	cfg, err := loadAndValidateConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		return 1
	}

	baseHandler := slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo})
	logger := slog.New(observability.NewLogCorrelationHandler(baseHandler))
	otelRuntime, otelErr := observability.Setup(context.Background(), cfg.Observability.OTel, version.String(), logger)
	if otelErr != nil {
		logger.Error("failed to initialize opentelemetry; continuing with instrumentation disabled", "error", otelErr)
	}
	if otelRuntime != nil {
		defer shutdownOpenTelemetry(logger, otelRuntime, otelShutdownTimeout)
	}

	store, err := trace.NewSQLiteStore(cfg.Storage.Path)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialize storage: %v\n", err)
		return 1
	}
	defer func() {
		if err := store.Close(); err != nil {
			logger.Error("failed to close storage", "error", err)
		}
	}()

	writer := newTraceWriter(store, cfg.Ingest.BufferSize)
	writer.Start(context.Background())
	defer shutdownWriter(logger, writer, writerShutdownTimeout)
	attachWriterInstrumentation(logger, writer, otelRuntime)

	metricsService := analytics.NewMetricsService(store)
	broadcaster := live.NewBroadcaster(metricsService, logger, live.Options{
		Interval:          time.Duration(cfg.Live.BroadcastIntervalMS) * time.Millisecond,
		HeartbeatInterval: time.Duration(cfg.Live.HeartbeatIntervalMS) * time.Millisecond,
		SendBuffer:        cfg.Live.SendBuffer,
	})
	writer.SetMetrics(writerMetricsWithNotify(broadcaster, otelRuntime))

	apiHandler := api.NewRouter(api.RouterOptions{
		AppVersion:  version.String(),
		Store:       store,
		StoragePath: cfg.Storage.Path,
		Metrics:     metricsService,
		Broadcaster: broadcaster,
		Ingestor:    writer,
		Diagnostics: writer,
	})

	serverHandler := http.Handler(apiHandler)
	if otelRuntime != nil && otelRuntime.Enabled() {
		serverHandler = otelRuntime.SpanEnrichmentMiddleware(serverHandler)
		serverHandler = otelRuntime.WrapHTTPHandler(serverHandler)
	}
	server := &http.Server{
		Addr:              cfg.Server.Address(),
		Handler:           api.LoggingMiddleware(logger, serverHandler),
		ReadHeaderTimeout: serverReadHeaderTimeout,
		IdleTimeout:       serverIdleTimeout,
	}

	logger.Info(
		"startup banner",
		"version", version.String(),
		"addr", server.Addr,
		"storage_path", cfg.Storage.Path,
		"ingest_buffer", cfg.Ingest.BufferSize,
		"broadcast_interval_ms", cfg.Live.BroadcastIntervalMS,
		"config_path", *configPath,
	)

	ctx, stop := signalNotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	go broadcaster.Run(ctx)

	errCh := make(chan error, 1)
	go func() {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.Error("failed to shutdown", "error", err)
			return 1
		}
		logger.Info("traceboard stopped")
		return 0
	case err := <-errCh:
		if err != nil {
			logger.Error("traceboard failed", "error", err)
			return 1
		}
		return 0
	}
}

func loadAndValidateConfig(path string) (config.Config, error) {
	cfg, err := config.Load(path)
	if err != nil {
		return config.Config{}, err
	}
	if err := config.Validate(cfg); err != nil {
		return config.Config{}, err
	}
	return cfg, nil
}

// writerMetricsWithNotify marks the live broadcaster dirty after every flush
// and forwards pipeline signals to OpenTelemetry when it is enabled.
func writerMetricsWithNotify(broadcaster *live.Broadcaster, otelRuntime *observability.Runtime) *trace.WriterMetrics {
	metrics := &trace.WriterMetrics{
		OnFlush: func(batchSize int, duration time.Duration) {
			broadcaster.Notify()
			if otelRuntime != nil {
				otelRuntime.RecordFlush(batchSize, duration)
			}
		},
	}
	if otelRuntime != nil && otelRuntime.Enabled() {
		metrics.OnDrop = otelRuntime.RecordIngestDrop
	}
	return metrics
}

func attachWriterInstrumentation(logger *slog.Logger, writer *trace.Writer, otelRuntime *observability.Runtime) {
	writer.SetWriteFailureHandler(func(failure trace.WriteFailure) {
		if failure.FailedCount <= 0 {
			return
		}
		if otelRuntime != nil {
			otelRuntime.RecordWriteFailure(failure.Operation, failure.ErrorClass, failure.FailedCount)
		}
		logger.Error(
			"trace persistence failed; dropped records",
			"operation", failure.Operation,
			"batch_size", failure.BatchSize,
			"failed_count", failure.FailedCount,
			"error_class", failure.ErrorClass,
		)
	})
	if otelRuntime != nil && otelRuntime.Enabled() {
		if err := otelRuntime.RegisterQueueDepthGauge(writer.QueueLen); err != nil {
			logger.Warn("failed to register queue depth gauge", "error", err)
		}
	}
}

func shutdownWriter(logger *slog.Logger, writer *trace.Writer, timeout time.Duration) {
	if writer == nil {
		return
	}

	start := time.Now()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	if err := writer.Shutdown(shutdownCtx); err != nil {
		logger.Error(
			"failed to flush pending events before shutdown",
			"error", err,
			"timeout", timeout.String(),
		)
		return
	}

	logger.Info("flushed pending events before shutdown", "duration_ms", time.Since(start).Milliseconds())
}

func shutdownOpenTelemetry(logger *slog.Logger, runtime *observability.Runtime, timeout time.Duration) {
	if runtime == nil || !runtime.Enabled() {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	if err := runtime.Shutdown(ctx); err != nil {
		logger.Error("failed to shutdown opentelemetry providers", "error", err, "timeout", timeout.String())
	}
}

func printUsage(out *os.File) {
	fmt.Fprintln(out, "Usage:")
	fmt.Fprintln(out, "  traceboard serve [--config path/to/traceboard.yaml]")
	fmt.Fprintln(out, "  traceboard version")
	fmt.Fprintln(out, "  traceboard config validate [--config path/to/traceboard.yaml]")
	fmt.Fprintln(out, "  traceboard export [--config path/to/traceboard.yaml] [--out FILE]")
	fmt.Fprintln(out, "  traceboard clean [--config path/to/traceboard.yaml] --yes")
	fmt.Fprintln(out, "")
	fmt.Fprintln(out, "Environment: TRACEBOARD_HOST, TRACEBOARD_PORT, TRACEBOARD_DB_PATH,")
	fmt.Fprintln(out, "  TRACEBOARD_INGEST_BUFFER, TRACEBOARD_BROADCAST_INTERVAL_MS, OTEL_*")
}

func printConfigUsage(out io.Writer) {
	fmt.Fprintln(out, "Usage:")
	fmt.Fprintln(out, "  traceboard config validate [--config path/to/traceboard.yaml]")
}
