// Package server exposes ingestion and the aggregation queries over HTTP.
package server

import (
	"context"
	"errors"
	"net/http"
	"time"

	"sensor_telemetry/config"
	"sensor_telemetry/telemetry"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// Ingester is the write side used by the handlers
type Ingester interface {
	Ingest(ctx context.Context, s telemetry.Sample) (telemetry.Ingestion, error)
	RegisterTransmitter(ctx context.Context, mac string) (uint, bool, error)
	ConfigureSensorDepth(ctx context.Context, sensorID uint, depth *float64) error
}

// Querier is the read side used by the handlers
type Querier interface {
	LatestPerSensor(ctx context.Context, deviceID uint) ([]telemetry.SensorLatest, error)
	GroupedReadings(ctx context.Context, deviceID uint, from, to time.Time) ([]telemetry.SensorReadings, error)
	Transmitters(ctx context.Context) ([]telemetry.TransmitterInfo, error)
	Transmitter(ctx context.Context, id uint) (telemetry.TransmitterInfo, error)
}

// Server is the HTTP surface over an ingester and a querier
type Server struct {
	cfg      config.ServerConfig
	ingester Ingester
	querier  Querier
	log      *zap.Logger
	router   *gin.Engine
}

// New builds the routed engine. A nil log discards output.
func New(cfg config.ServerConfig, ingester Ingester, querier Querier, log *zap.Logger) *Server {
	if log == nil {
		log = zap.NewNop()
	}
	s := &Server{
		cfg:      cfg,
		ingester: ingester,
		querier:  querier,
		log:      log.Named("http"),
		router:   gin.New(),
	}
	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	s.router.Use(requestID(), recovery(s.log), accessLog(s.log), corsMiddleware(s.cfg.AllowedOrigins))

	s.router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "healthy"})
	})
	s.router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	s.router.POST("/data", s.handleIngest)
	s.router.POST("/transmitters/register", s.handleRegisterTransmitter)
	s.router.GET("/transmitters", s.handleTransmitters)
	s.router.GET("/transmitters/:id", s.handleTransmitter)
	s.router.PATCH("/sensors/:id", s.handleConfigureSensor)

	devices := s.router.Group("/sensor-devices/:id")
	{
		devices.GET("/latest-readings", s.handleLatestReadings)
		devices.GET("/grouped-readings", s.handleGroupedReadings)
	}
	s.router.GET("/reports/sensor-device/:id", s.handleReport)
}

// Handler returns the routed engine, mainly for tests
func (s *Server) Handler() http.Handler {
	return s.router
}

// Run serves until ctx is canceled, then drains in-flight requests for at
// most the configured shutdown timeout
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:         s.cfg.Addr,
		Handler:      s.router,
		ReadTimeout:  time.Duration(s.cfg.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(s.cfg.WriteTimeout) * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.log.Info("server starting", zap.String("addr", s.cfg.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.cfg.ShutdownDuration())
	defer cancel()

	s.log.Info("server shutting down")
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	return <-errCh
}
