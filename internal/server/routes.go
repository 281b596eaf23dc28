package server

import (
	"net/http"
	"time"

	"github.com/danmuck/gazectl/internal/observability"
	"github.com/gin-gonic/gin"
)

func (s *Server) registerRoutes() {
	s.router.GET("/health", s.health)
	s.router.GET("/state", s.state)
	s.router.GET("/gaze", s.latestGaze)
	s.router.GET("/metrics", gin.WrapH(observability.MetricsHandler()))
}

func (s *Server) health(c *gin.Context) {
	code := http.StatusOK
	status := "ok"
	if !s.status.IsActivated() {
		code = http.StatusServiceUnavailable
		status = "inactive"
	}
	c.JSON(code, gin.H{
		"status":  status,
		"uptime":  time.Since(s.startedAt).Round(time.Second).String(),
		"service": "gazectl",
	})
}

func (s *Server) state(c *gin.Context) {
	screen := s.status.Screen()
	body := gin.H{
		"activated":     s.status.IsActivated(),
		"api_version":   int(s.status.APIVersion()),
		"tracker_state": s.status.TrackerState().String(),
		"frame_rate":    int(s.status.FrameRate()),
		"screen": gin.H{
			"index":           screen.Index,
			"width":           screen.ResolutionWidth,
			"height":          screen.ResolutionHeight,
			"physical_width":  screen.PhysicalWidth,
			"physical_height": screen.PhysicalHeight,
		},
		"calibrating": s.status.IsCalibrating(),
		"calibrated":  s.status.IsCalibrated(),
	}
	if res := s.status.LastCalibrationResult(); res != nil {
		body["calibration_result"] = res
	}
	c.JSON(http.StatusOK, body)
}

func (s *Server) latestGaze(c *gin.Context) {
	frame, ok := s.status.LatestGaze()
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "no frame received"})
		return
	}
	c.JSON(http.StatusOK, frame)
}
