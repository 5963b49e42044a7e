package api

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/JayJamieson/csv-sql/pkg/handlers"
	"github.com/JayJamieson/csv-sql/pkg/session"
	"github.com/JayJamieson/csv-sql/pkg/source"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/labstack/gommon/log"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	echoSwagger "github.com/swaggo/echo-swagger"
	"go.uber.org/zap"
)

type Config struct {
	Port           int
	MaxUploadBytes int64
}

type Server struct {
	config  Config
	router  *echo.Echo
	session *session.Session
	logger  *zap.Logger
}

func New(config Config, sess *session.Session, fetcher *source.Fetcher, logger *zap.Logger) (*Server, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	doc, err := LoadSpec(context.Background())
	if err != nil {
		return nil, fmt.Errorf("failed to load swagger: %w", err)
	}
	validator, err := RequestValidator(doc)
	if err != nil {
		return nil, err
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	server := &Server{
		config:  config,
		router:  e,
		session: sess,
		logger:  logger,
	}

	e.Use(middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		LogMethod:  true,
		LogURI:     true,
		LogStatus:  true,
		LogLatency: true,
		LogError:   true,
		LogValuesFunc: func(c echo.Context, v middleware.RequestLoggerValues) error {
			fields := []zap.Field{
				zap.String("method", v.Method),
				zap.String("uri", v.URI),
				zap.Int("status", v.Status),
				zap.Duration("latency", v.Latency),
			}
			if v.Error != nil {
				fields = append(fields, zap.Error(v.Error))
			}
			logger.Info("request", fields...)
			return nil
		},
	}))
	e.Use(middleware.Recover())
	e.Use(middleware.CORS())
	if config.MaxUploadBytes > 0 {
		e.Use(middleware.BodyLimit(fmt.Sprintf("%dB", config.MaxUploadBytes)))
	}
	e.Use(validator)

	e.Logger.SetLevel(log.INFO)

	handlers.NewHandler(sess, fetcher, config.MaxUploadBytes).Register(e)
	server.setupDefaultRoutes()
	return server, nil
}

func (s *Server) setupDefaultRoutes() {
	s.router.GET("/doc.yml", func(c echo.Context) error {
		return c.Blob(http.StatusOK, "application/yaml", specYAML)
	})
	s.router.GET("/swagger/*", echoSwagger.EchoWrapHandlerV3(func(c *echoSwagger.Config) {
		c.URLs = []string{"/doc.yml"}
	}))
	s.router.GET("/metrics", echo.WrapHandler(promhttp.Handler()))
}

// Handler exposes the router for tests and embedding.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) Start() error {
	go func() {
		addr := fmt.Sprintf(":%d", s.config.Port)
		s.logger.Info("starting server", zap.String("addr", addr))
		if err := s.router.Start(addr); err != nil && err != http.ErrServerClosed {
			s.logger.Fatal("failed to start server", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	s.logger.Info("shutting down")

	if err := s.router.Shutdown(ctx); err != nil {
		return fmt.Errorf("failed to shutdown server: %w", err)
	}

	if err := s.session.Close(); err != nil {
		return fmt.Errorf("failed to close database: %w", err)
	}

	return nil
}
