// Package server exposes the helper's controls over a small local JSON API.
package server

import (
	"context"
	"errors"
	"io"
	"net"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/nikshitha/douyin-live-helper/agent"
	"github.com/nikshitha/douyin-live-helper/config"
	"github.com/nikshitha/douyin-live-helper/events"
	"github.com/nikshitha/douyin-live-helper/feature"
	"github.com/nikshitha/douyin-live-helper/logger"
)

// Controller is the part of the agent the API drives
type Controller interface {
	Status() agent.Status
	Settings() config.Settings
	UpdateSettings(ctx context.Context, patch config.SettingsPatch) (config.Settings, error)
	StartFeature(ctx context.Context, name string) error
	StopFeature(ctx context.Context, name string) error
	ResetStats() error
	Logs() []logger.Entry
	ClearLogs() error
	Events() *events.Bus
}

type Server struct {
	cfg    config.ServerConfig
	log    *logger.Logger
	ctrl   Controller
	engine *gin.Engine
}

func New(cfg config.ServerConfig, log *logger.Logger, ctrl Controller) *Server {
	gin.SetMode(gin.ReleaseMode)
	s := &Server{
		cfg:  cfg,
		log:  log.WithModule("server"),
		ctrl: ctrl,
	}
	s.engine = s.routes()
	return s
}

// Handler returns the HTTP handler, mainly for tests
func (s *Server) Handler() http.Handler {
	return s.engine
}

func (s *Server) routes() *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())

	r.Use(func(c *gin.Context) {
		start := time.Now()
		c.Next()
		s.log.WithFields(map[string]interface{}{
			"method":   c.Request.Method,
			"path":     c.Request.URL.Path,
			"status":   c.Writer.Status(),
			"duration": time.Since(start).String(),
		}).Debug("HTTP")
	})

	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	api := r.Group("/api")
	api.GET("/status", func(c *gin.Context) {
		c.JSON(http.StatusOK, s.ctrl.Status())
	})

	api.GET("/settings", func(c *gin.Context) {
		c.JSON(http.StatusOK, s.ctrl.Settings())
	})

	api.PATCH("/settings", func(c *gin.Context) {
		var patch config.SettingsPatch
		if err := c.ShouldBindJSON(&patch); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		settings, err := s.ctrl.UpdateSettings(c.Request.Context(), patch)
		if err != nil {
			c.JSON(statusFor(err), gin.H{"error": err.Error(), "settings": settings})
			return
		}
		c.JSON(http.StatusOK, settings)
	})

	api.POST("/features/:feature/:op", func(c *gin.Context) {
		name := c.Param("feature")
		var err error
		switch c.Param("op") {
		case "start":
			err = s.ctrl.StartFeature(c.Request.Context(), name)
		case "stop":
			err = s.ctrl.StopFeature(c.Request.Context(), name)
		default:
			c.JSON(http.StatusNotFound, gin.H{"error": "unknown operation"})
			return
		}
		if err != nil {
			c.JSON(statusFor(err), gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, s.ctrl.Status())
	})

	api.POST("/stats/reset", func(c *gin.Context) {
		if err := s.ctrl.ResetStats(); err != nil {
			s.log.WithError(err).Error("Failed to reset statistics")
			c.JSON(http.StatusInternalServerError, gin.H{"error": "db error"})
			return
		}
		c.JSON(http.StatusOK, s.ctrl.Status())
	})

	api.GET("/logs", func(c *gin.Context) {
		c.JSON(http.StatusOK, s.ctrl.Logs())
	})

	api.DELETE("/logs", func(c *gin.Context) {
		if err := s.ctrl.ClearLogs(); err != nil {
			s.log.WithError(err).Error("Failed to clear logs")
			c.JSON(http.StatusInternalServerError, gin.H{"error": "db error"})
			return
		}
		c.Status(http.StatusNoContent)
	})

	// Server-sent events: every machine event and new log entry
	api.GET("/events", func(c *gin.Context) {
		ch, unsub := s.ctrl.Events().Subscribe(64)
		defer unsub()

		c.Writer.Header().Set("Content-Type", "text/event-stream")
		c.Writer.Header().Set("Cache-Control", "no-cache")
		c.Writer.WriteHeader(http.StatusOK)
		c.Writer.Flush()

		c.Stream(func(w io.Writer) bool {
			select {
			case <-c.Request.Context().Done():
				return false
			case ev, ok := <-ch:
				if !ok {
					return false
				}
				c.SSEvent(ev.Type, ev)
				return true
			}
		})
	})

	return r
}

// statusFor maps controller errors onto HTTP codes
func statusFor(err error) int {
	switch {
	case errors.Is(err, agent.ErrUnknownFeature):
		return http.StatusNotFound
	case errors.Is(err, agent.ErrInvalidSettings), errors.Is(err, feature.ErrInvalidConfig):
		return http.StatusBadRequest
	case errors.Is(err, feature.ErrNotPermitted):
		return http.StatusForbidden
	case errors.Is(err, agent.ErrNotAttached), errors.Is(err, feature.ErrEmptyPool),
		errors.Is(err, feature.ErrAlreadyRunning), errors.Is(err, feature.ErrDisabled):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

// Run serves until ctx is done, then shuts down gracefully
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.cfg.Addr,
		Handler:           s.engine,
		ReadHeaderTimeout: 10 * time.Second,
		// Open event streams end with ctx instead of holding up Shutdown
		BaseContext: func(net.Listener) context.Context { return ctx },
	}

	errCh := make(chan error, 1)
	go func() {
		s.log.WithField("addr", s.cfg.Addr).Info("Control API listening")
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}
