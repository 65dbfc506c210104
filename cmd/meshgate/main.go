package main

import (
	_ "embed"
	"flag"
	"os"
	"strings"
	"time"

	"meshgate/pkg/catalog"
	"meshgate/pkg/config"
	"meshgate/pkg/log"
	"meshgate/pkg/metrics"
	"meshgate/pkg/proxy"
	"meshgate/pkg/registry"
	"meshgate/pkg/server"

	"github.com/hashicorp/go-cleanhttp"
)

//go:embed VERSION
var Version string

func main() {
	// Initialize logger first
	_ = log.Logger

	configPath := flag.String("config", "", "YAML config file path")
	addr := flag.String("addr", config.DefaultListen, "Gateway listen address")
	dbPath := flag.String("db", "", "SQLite database path for the registration catalog (re-registers services at startup)")
	healthInterval := flag.Duration("health-check-interval", config.DefaultHealthInterval, "Interval between health check cycles")
	healthTimeout := flag.Duration("health-check-timeout", config.DefaultHealthTimeout, "Timeout for a single health check")
	requestTimeout := flag.Duration("request-timeout", config.DefaultProxyTimeout, "Timeout for a proxied request")
	retryMax := flag.Int("retry-max", 0, "Retries on proxy transport errors")
	debug := flag.Bool("debug", false, "Enable debug logging and the pprof server")
	debugAddr := flag.String("debug-addr", "localhost:6060", "Debug server address (pprof)")
	logJSON := flag.Bool("log-json", false, "Write logs as JSON")
	flag.Parse()

	cfg := config.Default()
	if *configPath != "" {
		loaded, err := config.Load(*configPath)
		if err != nil {
			log.Fatal().Err(err).Str("config", *configPath).Msg("Failed to load config")
		}
		cfg = loaded
	}

	// Flags given on the command line win over the file.
	flag.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "addr":
			cfg.Listen = *addr
		case "db":
			cfg.Database = *dbPath
		case "health-check-interval":
			cfg.Health.Interval = config.Duration(*healthInterval)
		case "health-check-timeout":
			cfg.Health.Timeout = config.Duration(*healthTimeout)
		case "request-timeout":
			cfg.Proxy.Timeout = config.Duration(*requestTimeout)
		case "retry-max":
			cfg.Proxy.Retries = *retryMax
		case "debug":
			cfg.Debug = *debug
		case "log-json":
			cfg.LogJSON = *logJSON
		}
	})
	if err := cfg.Validate(); err != nil {
		log.Fatal().Err(err).Msg("Invalid configuration")
	}

	configureLogging(cfg)

	client := cleanhttp.DefaultPooledClient()
	observer := metrics.New()

	reg := registry.New(client,
		registry.WithInterval(cfg.Health.Interval.Duration()),
		registry.WithProbeTimeout(cfg.Health.Timeout.Duration()),
		registry.WithRetryBackoff(cfg.Health.RetryBackoff.Duration()),
		registry.WithObserver(observer),
	)

	var store *catalog.Store
	if cfg.Database != "" {
		var err error
		store, err = catalog.NewStore(cfg.Database)
		if err != nil {
			log.Fatal().Err(err).Str("db", cfg.Database).Msg("Failed to open catalog")
		}
		restoreCatalog(store, reg)
	}
	seedServices(cfg.Services, store, reg)

	gateway := proxy.New(reg, client,
		proxy.WithTimeout(cfg.Proxy.Timeout.Duration()),
		proxy.WithRetries(cfg.Proxy.Retries, cfg.Proxy.RetryWaitMin.Duration(), cfg.Proxy.RetryWaitMax.Duration()),
		proxy.WithObserver(observer),
	)

	var persist server.Catalog
	if store != nil {
		persist = store
	}

	log.Info().
		Dur("health_check_interval", cfg.Health.Interval.Duration()).
		Dur("health_check_timeout", cfg.Health.Timeout.Duration()).
		Dur("request_timeout", cfg.Proxy.Timeout.Duration()).
		Int("retry_max", cfg.Proxy.Retries).
		Int("services", len(reg.ListAll())).
		Msg("Gateway configured")

	gwServer, err := server.NewGatewayServer(reg, gateway, persist, observer.Handler(), server.Settings{
		CORS:            cfg.CORS,
		ShutdownTimeout: cfg.Shutdown.Duration(),
		Debug:           cfg.Debug,
		DebugAddr:       *debugAddr,
		Version:         strings.TrimSpace(Version),
	})
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to build server")
	}

	exitCode := 0
	if err := gwServer.Start(cfg.Listen); err != nil {
		log.Error().Err(err).Msg("Server stopped with error")
		exitCode = 1
	}

	reg.Stop()
	if store != nil {
		if err := store.Close(); err != nil {
			log.Warn().Err(err).Msg("Failed to close catalog")
		}
	}
	client.CloseIdleConnections()
	log.Info().Msg("Shutdown complete")

	os.Exit(exitCode)
}

func configureLogging(cfg *config.Config) {
	if cfg.LogJSON {
		log.SetJSONOutput(os.Stderr)
	}
	if cfg.Debug {
		log.SetDebugMode()
		log.Debug().Msg("Debug mode enabled")
		return
	}
	if !log.SetLevel(cfg.LogLevel) {
		log.Warn().Str("log_level", cfg.LogLevel).Msg("Unknown log level, keeping info")
	}
}

// restoreCatalog re-registers every service remembered from a previous run.
func restoreCatalog(store *catalog.Store, reg *registry.Registry) {
	entries, err := store.List()
	if err != nil {
		log.Error().Err(err).Msg("Failed to read catalog")
		return
	}
	for _, entry := range entries {
		reg.Register(entry.Record)
	}
	log.Info().Int("services", len(entries)).Msg("Restored services from catalog")
}

// seedServices registers services from the config file. They replace catalog
// entries of the same name.
func seedServices(services []config.ServiceConfig, store *catalog.Store, reg *registry.Registry) {
	start := time.Now()
	for _, svc := range services {
		rec := svc.Record()
		reg.Register(rec)
		if store != nil {
			if err := store.Save(rec); err != nil {
				log.Warn().Err(err).Str("service", rec.Name).Msg("Failed to persist seeded service")
			}
		}
	}
	if len(services) > 0 {
		log.Info().Int("services", len(services)).Dur("elapsed", time.Since(start)).Msg("Seeded services from config")
	}
}
