// main package for the higgs-api HTTP service
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"net"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/book-expert/logger"
	"github.com/joho/godotenv"
	"github.com/nats-io/nats.go"

	"github.com/book-expert/higgs-tts/internal/config"
	"github.com/book-expert/higgs-tts/internal/generator"
	"github.com/book-expert/higgs-tts/internal/httpapi"
	"github.com/book-expert/higgs-tts/internal/metrics"
	"github.com/book-expert/higgs-tts/internal/objectstore"
	"github.com/book-expert/higgs-tts/internal/staging"
	"github.com/book-expert/higgs-tts/internal/tts"
	"github.com/book-expert/higgs-tts/internal/worker"
)

// Flag names and descriptions.
const (
	flagHost       = "host"
	flagPort       = "port"
	flagDebug      = "debug"
	flagConfig     = "config"
	flagHostDesc   = "Listen address (default from config, 0.0.0.0)"
	flagPortDesc   = "Listen port (default from config, 5902)"
	flagDebugDesc  = "Print routes at startup and log every request to stdout"
	flagConfigDesc = "Path to a TOML config file (defaults to the project configuration)"
)

const (
	bootstrapLogFile = "higgs-api-bootstrap.log"
	serviceLogFile   = "higgs-api.log"
	shutdownTimeout  = 30 * time.Second
)

// Log messages.
const (
	logConfigLoaded   = "Configuration loaded (root: %s)"
	logListening      = "Higgs audio API listening on %s (output: %s)"
	logWorkerEnabled  = "NATS worker enabled: %s subject %s"
	logShuttingDown   = "Shutting down"
	logShutdownFailed = "Graceful shutdown failed: %v"
	logStopped        = "Stopped"
)

// appFlags holds the parsed command-line flag values.
type appFlags struct {
	host   string
	port   int
	debug  bool
	config string
}

func main() {
	err := run()
	if err != nil {
		fmt.Fprintf(os.Stderr, "higgs-api exited with error: %v\n", err)
		os.Exit(1)
	}
}

func parseFlags() appFlags {
	var flags appFlags
	flag.StringVar(&flags.host, flagHost, "", flagHostDesc)
	flag.IntVar(&flags.port, flagPort, 0, flagPortDesc)
	flag.BoolVar(&flags.debug, flagDebug, false, flagDebugDesc)
	flag.StringVar(&flags.config, flagConfig, "", flagConfigDesc)
	flag.Parse()

	return flags
}

func run() error {
	flags := parseFlags()

	// A missing .env file is normal.
	_ = godotenv.Load()

	cfg, log, err := setup(flags.config)
	if err != nil {
		return err
	}

	defer func() {
		closeErr := log.Close()
		if closeErr != nil {
			fmt.Fprintf(os.Stderr, "error closing logger: %v\n", closeErr)
		}
	}()

	if flags.host != "" {
		cfg.Server.Host = flags.host
	}

	if flags.port > 0 {
		cfg.Server.Port = flags.port
	}

	m := metrics.New()
	stager := staging.New(cfg.Paths.VoicePromptsDir, cfg.Paths.TempDir, log)
	service := tts.NewService(newRunner(cfg, log), stager, log, tts.WithMetrics(m))

	var accessLog io.Writer
	if flags.debug {
		accessLog = os.Stdout
	}

	server, err := httpapi.New(httpapi.Deps{
		Service:         service,
		Stager:          stager,
		Metrics:         m,
		Log:             log,
		OutputDir:       cfg.Paths.OutputDir,
		MaxNewTokensCap: cfg.Server.MaxNewTokensCap,
		BodyLimit:       cfg.BodyLimitBytes(),
		AccessLog:       accessLog,
		Debug:           flags.debug,
	})
	if err != nil {
		return fmt.Errorf("failed to build HTTP server: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	errChan := make(chan error, 2)

	if cfg.NATS.URL != "" {
		natsConnection, workerErr := startWorker(ctx, cfg, service, log, errChan)
		if workerErr != nil {
			return workerErr
		}
		defer natsConnection.Close()
	}

	addr := net.JoinHostPort(cfg.Server.Host, strconv.Itoa(cfg.Server.Port))
	log.System(logListening, addr, cfg.Paths.OutputDir)

	go func() {
		errChan <- server.Listen(addr)
	}()

	select {
	case err = <-errChan:
		if err != nil {
			return fmt.Errorf("server stopped: %w", err)
		}

		return nil
	case <-ctx.Done():
	}

	log.Info(logShuttingDown)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	err = server.Shutdown(shutdownCtx)
	if err != nil {
		log.Error(logShutdownFailed, err)

		return fmt.Errorf("failed to shut down: %w", err)
	}

	log.Info(logStopped)

	return nil
}

// setup loads configuration with a bootstrap logger, prepares the directory
// layout, and opens the service logger.
func setup(configPath string) (*config.Config, *logger.Logger, error) {
	bootstrapLog, err := logger.New(os.TempDir(), bootstrapLogFile)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create bootstrap logger: %w", err)
	}

	defer func() { _ = bootstrapLog.Close() }()

	root, err := config.RootFromEnv()
	if err != nil {
		return nil, nil, err
	}

	cfg, err := config.Discover(configPath, root, bootstrapLog)
	if err != nil {
		bootstrapLog.Error("Failed to load configuration: %v", err)

		return nil, nil, fmt.Errorf("failed to load configuration: %w", err)
	}

	err = cfg.EnsureDirectories()
	if err != nil {
		bootstrapLog.Error("Failed to create directories: %v", err)

		return nil, nil, err
	}

	log, err := logger.New(cfg.Paths.BaseLogsDir, serviceLogFile)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create logger: %w", err)
	}

	log.Info(logConfigLoaded, cfg.Paths.Root)

	return cfg, log, nil
}

func newRunner(cfg *config.Config, log *logger.Logger) *generator.Runner {
	return generator.New(generator.Config{
		Command:        cfg.Generator.Command,
		Script:         cfg.Generator.Script,
		WorkDir:        cfg.Generator.WorkDir,
		ModelPath:      cfg.Generator.ModelPath,
		AudioTokenizer: cfg.Generator.AudioTokenizer,
		Device:         cfg.Generator.Device,
		ToolchainDir:   cfg.Generator.ToolchainDir,
		Timeout:        cfg.GeneratorTimeout(),
	}, log)
}

// startWorker connects to NATS, binds both object store buckets, and runs the
// job worker until ctx is cancelled. Run errors are sent to errChan.
func startWorker(
	ctx context.Context,
	cfg *config.Config,
	service *tts.Service,
	log *logger.Logger,
	errChan chan<- error,
) (*nats.Conn, error) {
	natsConnection, err := nats.Connect(cfg.NATS.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS at %s: %w", cfg.NATS.URL, err)
	}

	w, err := newWorker(natsConnection, cfg, service, log)
	if err != nil {
		natsConnection.Close()

		return nil, err
	}

	log.Info(logWorkerEnabled, cfg.NATS.URL, cfg.NATS.JobsSubject)

	go func() {
		runErr := w.Run(ctx)
		if runErr != nil && !errors.Is(runErr, context.Canceled) {
			errChan <- fmt.Errorf("worker: %w", runErr)
		}
	}()

	return natsConnection, nil
}

func newWorker(
	natsConnection *nats.Conn,
	cfg *config.Config,
	service *tts.Service,
	log *logger.Logger,
) (*worker.NatsWorker, error) {
	js, err := natsConnection.JetStream()
	if err != nil {
		return nil, fmt.Errorf("failed to get JetStream context: %w", err)
	}

	texts, err := objectstore.New(js, cfg.NATS.TextObjectStoreBucket)
	if err != nil {
		return nil, err
	}

	audio, err := objectstore.New(js, cfg.NATS.AudioObjectStoreBucket)
	if err != nil {
		return nil, err
	}

	return worker.NewNatsWorker(natsConnection, worker.Config{
		Subject:         cfg.NATS.JobsSubject,
		OutputDir:       cfg.Paths.OutputDir,
		MaxNewTokensCap: cfg.Server.MaxNewTokensCap,
	}, texts, audio, service, log)
}
