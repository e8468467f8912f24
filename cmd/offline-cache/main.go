package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	offlinecache "github.com/always-cache/offline-cache"
	"github.com/always-cache/offline-cache/cache"
	"github.com/always-cache/offline-cache/pkg/metrics"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/hlog"
	"github.com/rs/zerolog/log"
)

const (
	messagePath     = "/.offline-cache/message"
	shutdownTimeout = 10 * time.Second
)

var (
	// CLI flags
	configFilenameFlag string
	portFlag           int
	originFlag         string
	hostFlag           string
	providerFlag       string
	dbFilenameFlag     string
	verbosityTraceFlag bool
	logFilenameFlag    string

	// this is set by goreleaser
	version string
)

func init() {
	flag.StringVar(&configFilenameFlag, "config", "", "Path to config file")
	flag.StringVar(&originFlag, "origin", "", "Origin URL to proxy to (overrides config)")
	flag.StringVar(&hostFlag, "host", "", "Hostname of origin (overrides config)")
	flag.IntVar(&portFlag, "port", 0, "Port to listen on (overrides config, default 8080)")
	flag.StringVar(&providerFlag, "provider", "", "Storage provider to use: sqlite or memory (overrides config)")
	flag.StringVar(&dbFilenameFlag, "db", "", "Cache DB file name, 'memory' for in-memory db (overrides config)")
	flag.BoolVar(&verbosityTraceFlag, "vv", false, "Verbosity: trace logging")
	flag.StringVar(&logFilenameFlag, "log-file", "", "Log file to use (in addition to stdout)")

	if version == "" {
		version = "DEV"
	}
}

func main() {
	flag.Parse()

	// set log level
	logLevel := zerolog.DebugLevel
	if verbosityTraceFlag {
		logLevel = zerolog.TraceLevel
	}

	// set up log output to stdout
	// also output to logfile if specified
	logOutputs := make([]io.Writer, 0)
	logOutputs = append(logOutputs, zerolog.ConsoleWriter{Out: os.Stdout})
	if logFilenameFlag != "" {
		if logFileOutput, err := os.OpenFile(logFilenameFlag, os.O_APPEND|os.O_WRONLY|os.O_CREATE, 0644); err != nil {
			log.Fatal().Err(err).Msg("Cannot open log file")
		} else {
			logOutputs = append(logOutputs, logFileOutput)
		}
	}
	multiWriter := zerolog.MultiLevelWriter(logOutputs...)
	log.Logger = log.Level(logLevel).Output(multiWriter).
		With().Str("version", version).Logger()

	config, err := loadConfig()
	if err != nil {
		log.Fatal().Err(err).Msg("Could not load config")
	}

	storage, closeStorage, err := openStorage(config)
	if err != nil {
		log.Fatal().Err(err).Msg("Could not open cache storage")
	}
	defer closeStorage()

	m := metrics.New(prometheus.DefaultRegisterer)
	controller := offlinecache.NewController(log.Logger)
	engine, err := createEngine(config, storage, m)
	if err != nil {
		log.Fatal().Err(err).Msg("Could not create engine")
	}
	if err := controller.Install(engine); err != nil {
		log.Error().Err(err).Msg("Could not purge orphaned namespaces")
	}

	go reloadOnHangup(controller, storage, m)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	ln, err := net.Listen("tcp", fmt.Sprintf(":%d", config.Port))
	if err != nil {
		log.Fatal().Err(err).Msg("Could not listen")
	}
	log.Info().Msgf("Proxying port %v to %s (with hostname '%s')", config.Port, config.Origin, config.Host)
	if err := runServer(ctx, &http.Server{Handler: router(controller)}, ln, controller); err != nil {
		log.Error().Err(err).Msg("Server stopped")
		return
	}
	log.Info().Msg("Server stopped")
}

// runServer serves on ln until ctx is done, then shuts the server down
// and waits for background revalidations before returning.
func runServer(ctx context.Context, srv *http.Server, ln net.Listener, controller *offlinecache.Controller) error {
	errs := make(chan error, 1)
	go func() {
		errs <- srv.Serve(ln)
	}()
	select {
	case err := <-errs:
		return err
	case <-ctx.Done():
	}

	log.Info().Msg("Shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	controller.Wait()
	return nil
}

// loadConfig reads the config file and applies the CLI flags on top.
func loadConfig() (Config, error) {
	config, err := getConfig(configFilenameFlag)
	if err != nil {
		return config, err
	}
	if originFlag != "" {
		config.Origin = originFlag
	}
	if hostFlag != "" {
		config.Host = hostFlag
	}
	if portFlag > 0 {
		config.Port = portFlag
	}
	if providerFlag != "" {
		config.Provider = providerFlag
	}
	if dbFilenameFlag != "" {
		config.DB = dbFilenameFlag
	}
	return config, nil
}

func openStorage(config Config) (cache.Storage, func(), error) {
	switch config.Provider {
	case "sqlite", "":
		s, err := cache.NewSQLiteStorage(config.DB)
		if err != nil {
			return nil, nil, err
		}
		return s, func() { s.Close() }, nil
	case "memory":
		capacity := config.MemCapacity
		if capacity <= 0 {
			capacity = cache.DefaultMemCapacity
		}
		return cache.NewMemStorage(capacity), func() {}, nil
	default:
		return nil, nil, fmt.Errorf("unsupported storage provider: %s", config.Provider)
	}
}

func createEngine(config Config, storage cache.Storage, m *metrics.Metrics) (*offlinecache.Engine, error) {
	originURL, err := config.originURL()
	if err != nil {
		return nil, err
	}
	return offlinecache.CreateEngine(offlinecache.Config{
		Storage:         storage,
		OriginURL:       *originURL,
		OriginHost:      config.Host,
		Logger:          &log.Logger,
		NamespacePrefix: config.NamespacePrefix,
		NetworkTimeout:  config.NetworkTimeout,
		Metrics:         m,
	})
}

// reloadOnHangup installs a new engine version from the re-read config on SIGHUP.
// The new version waits until the host page sends SKIP_WAITING.
// Storage settings are not reloaded.
func reloadOnHangup(controller *offlinecache.Controller, storage cache.Storage, m *metrics.Metrics) {
	hup := make(chan os.Signal, 1)
	signal.Notify(hup, syscall.SIGHUP)
	for range hup {
		config, err := loadConfig()
		if err != nil {
			log.Error().Err(err).Msg("Could not reload config")
			continue
		}
		engine, err := createEngine(config, storage, m)
		if err != nil {
			log.Error().Err(err).Msg("Could not create engine from reloaded config")
			continue
		}
		if err := controller.Install(engine); err != nil {
			log.Error().Err(err).Msg("Could not install engine")
		}
	}
}

func router(controller *offlinecache.Controller) http.Handler {
	r := chi.NewRouter()
	r.Use(hlog.NewHandler(log.Logger))
	r.Use(hlog.RequestIDHandler("req_id", "Request-Id"))
	r.Use(hlog.AccessHandler(func(r *http.Request, status, size int, duration time.Duration) {
		hlog.FromRequest(r).Trace().
			Str("method", r.Method).
			Stringer("url", r.URL).
			Int("status", status).
			Int("size", size).
			Dur("duration", duration).
			Msg("")
	}))
	r.Method(http.MethodGet, "/metrics", promhttp.Handler())
	r.Method(http.MethodPost, messagePath, controller.MessageHandler())
	r.Handle("/*", controller)
	return r
}
