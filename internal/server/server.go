// Package server exposes a read-only admin surface for a running session:
// health, cached state, the latest frame and Prometheus metrics.
package server

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/danmuck/gazectl/internal/gaze"
	"github.com/danmuck/gazectl/internal/logging"
	"github.com/danmuck/gazectl/internal/observability"
	"github.com/danmuck/gazectl/internal/protocol"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
)

const shutdownTimeout = 5 * time.Second

// Status is the session view the admin routes read. *gaze.Manager
// satisfies it.
type Status interface {
	IsActivated() bool
	TrackerState() gaze.TrackerState
	FrameRate() gaze.FrameRate
	APIVersion() gaze.APIVersion
	Screen() gaze.Screen
	IsCalibrating() bool
	IsCalibrated() bool
	LastCalibrationResult() *protocol.CalibrationResult
	LatestGaze() (protocol.GazeData, bool)
}

type Config struct {
	Addr         string
	AllowOrigins []string
}

type Server struct {
	cfg       Config
	status    Status
	router    *gin.Engine
	startedAt time.Time
	log       zerolog.Logger
}

func New(cfg Config, status Status) *Server {
	gin.SetMode(gin.ReleaseMode)
	s := &Server{
		cfg:       cfg,
		status:    status,
		router:    gin.New(),
		startedAt: time.Now(),
		log:       logging.Component("server"),
	}

	s.router.Use(gin.Recovery())
	s.router.Use(observability.RequestLogger(s.log))
	s.router.Use(observability.RequestMetricsMiddleware())
	if len(cfg.AllowOrigins) > 0 {
		s.router.Use(cors.New(cors.Config{
			AllowOrigins: cfg.AllowOrigins,
			AllowMethods: []string{http.MethodGet},
			AllowHeaders: []string{"Origin", "Content-Type"},
			MaxAge:       12 * time.Hour,
		}))
	}
	s.registerRoutes()
	return s
}

func (s *Server) Handler() http.Handler {
	return s.router
}

// Run serves until ctx is done, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.cfg.Addr,
		Handler:           s.router,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.log.Info().Str("addr", s.cfg.Addr).Msg("admin server listening")
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	return nil
}
