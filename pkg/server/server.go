// Package server is the gateway's HTTP surface: the service admin API and the
// /proxy routes on top of the registry and the proxy gateway.
package server

import (
	"context"
	"errors"
	"net/http"
	_ "net/http/pprof" //nolint:gosec
	"os"
	"os/signal"
	"regexp"
	"syscall"
	"time"

	"meshgate/pkg/config"
	"meshgate/pkg/log"
	"meshgate/pkg/models"
	"meshgate/pkg/proxy"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
)

const serviceName = "meshgate"

// Registry is the part of the service registry the HTTP layer uses.
type Registry interface {
	Register(rec models.ServiceRecord) bool
	Unregister(name string) bool
	Get(name string) (models.ServiceRecord, bool)
	ListAll() []models.ServiceRecord
}

// Forwarder sends a request on to a named service.
type Forwarder interface {
	Forward(req *http.Request, serviceName, subPath string) (*proxy.Response, error)
}

// Catalog persists registrations across restarts. Optional.
type Catalog interface {
	Save(rec models.ServiceRecord) error
	Delete(name string) error
}

// Settings holds the HTTP-level knobs.
type Settings struct {
	CORS            config.CORSConfig
	ShutdownTimeout time.Duration
	Debug           bool
	DebugAddr       string
	Version         string
}

type Server struct {
	registry Registry
	gateway  Forwarder
	catalog  Catalog
	metrics  http.Handler
	settings Settings
	echo     *echo.Echo
}

// NewGatewayServer wires routes and middleware. catalog and metrics may be nil.
func NewGatewayServer(registry Registry, gateway Forwarder, catalog Catalog, metrics http.Handler, settings Settings) (*Server, error) {
	if settings.ShutdownTimeout <= 0 {
		settings.ShutdownTimeout = config.DefaultShutdownTimeout
	}

	srv := &Server{
		registry: registry,
		gateway:  gateway,
		catalog:  catalog,
		metrics:  metrics,
		settings: settings,
		echo:     echo.New(),
	}
	if err := srv.setupRoutes(); err != nil {
		return nil, err
	}
	return srv, nil
}

// ServeHTTP lets the server be driven without a listener.
func (g *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	g.echo.ServeHTTP(w, r)
}

// Start serves on addr until SIGINT or SIGTERM, then shuts down gracefully.
func (g *Server) Start(addr string) error {
	if g.settings.Debug && g.settings.DebugAddr != "" {
		go func() {
			log.Info().Msgf("Starting pprof server on %s", g.settings.DebugAddr)
			log.Info().Msgf("%+v", http.ListenAndServe(g.settings.DebugAddr, nil)) //nolint:gosec
		}()
	}

	go func() {
		log.Info().
			Str("addr", addr).
			Str("version", g.settings.Version).
			Msg("Starting gateway")

		if err := g.echo.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("Server startup failed")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	return g.Shutdown()
}

// Shutdown stops accepting connections and waits for in-flight requests.
func (g *Server) Shutdown() error {
	log.Info().Msg("Shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), g.settings.ShutdownTimeout)
	defer cancel()

	if err := g.echo.Shutdown(ctx); err != nil {
		log.Error().Err(err).Msg("Server shutdown failed")
		return err
	}

	log.Info().Msg("Server gracefully stopped")
	return nil
}

func (g *Server) setupRoutes() error {
	g.echo.HideBanner = true
	g.echo.HidePort = true

	cors, err := corsConfig(g.settings.CORS)
	if err != nil {
		return err
	}

	g.echo.Use(middleware.RequestIDWithConfig(middleware.RequestIDConfig{
		Generator: uuid.NewString,
	}))
	g.echo.Use(middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		LogMethod:    true,
		LogURI:       true,
		LogStatus:    true,
		LogLatency:   true,
		LogRequestID: true,
		LogRemoteIP:  true,
		LogValuesFunc: func(_ echo.Context, v middleware.RequestLoggerValues) error {
			log.Info().
				Str("request_id", v.RequestID).
				Str("remote_ip", v.RemoteIP).
				Str("method", v.Method).
				Str("uri", v.URI).
				Int("status", v.Status).
				Dur("latency", v.Latency).
				Msg("Request")
			return nil
		},
	}))
	g.echo.Use(middleware.Recover())
	g.echo.Use(middleware.CORSWithConfig(cors))

	g.echo.GET("/health", g.health)
	g.echo.GET("/swagger.yml", g.serveSwaggerSpec)
	if g.metrics != nil {
		g.echo.GET("/metrics", echo.WrapHandler(g.metrics))
	}

	g.echo.POST("/services", g.registerService)
	g.echo.GET("/services", g.listServices)
	g.echo.GET("/services/:name", g.getService)
	g.echo.DELETE("/services/:name", g.unregisterService)

	g.echo.Any("/proxy/:name", g.proxyRequest)
	g.echo.Any("/proxy/:name/*", g.proxyRequest)
	return nil
}

// corsConfig turns the configured policy into echo's. An empty origin regex
// allows any origin.
func corsConfig(cfg config.CORSConfig) (middleware.CORSConfig, error) {
	out := middleware.CORSConfig{
		AllowMethods:     cfg.AllowMethods,
		AllowHeaders:     cfg.AllowHeaders,
		ExposeHeaders:    cfg.ExposeHeaders,
		AllowCredentials: cfg.AllowCredentials,
		MaxAge:           cfg.MaxAge,
	}
	if cfg.AllowOriginRegex == "" {
		out.AllowOrigins = []string{"*"}
		return out, nil
	}

	pattern, err := regexp.Compile(cfg.AllowOriginRegex)
	if err != nil {
		return out, err
	}
	out.AllowOriginFunc = func(origin string) (bool, error) {
		return pattern.MatchString(origin), nil
	}
	return out, nil
}

func (g *Server) health(ctx echo.Context) error {
	return ctx.JSON(http.StatusOK, models.GatewayHealth{
		Status:  "healthy",
		Service: serviceName,
		Message: "Gateway is running",
	})
}
