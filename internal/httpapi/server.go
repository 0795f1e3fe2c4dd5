// Package httpapi exposes the engine orchestrator over HTTP: a thin Gin
// transport binding, not a UI. The orchestrator has no dependency on this
// package.
package httpapi

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"

	"github.com/helixmem/engine/internal/engine"
)

// Server wraps a Provider with an HTTP surface.
type Server struct {
	provider *engine.Provider
	logger   *logrus.Logger
}

// Config controls router-level concerns independent of the orchestrator.
type Config struct {
	CORSOrigins []string
}

// New creates a Server for provider. logger nil defaults to logrus.New().
func New(provider *engine.Provider, logger *logrus.Logger) *Server {
	if logger == nil {
		logger = logrus.New()
	}
	return &Server{provider: provider, logger: logger}
}

// Router builds the configured Gin engine.
func (s *Server) Router(cfg Config) http.Handler {
	r := gin.New()
	r.SetTrustedProxies(nil) //nolint:errcheck // nil always succeeds.
	r.Use(ginLogger(s.logger))
	r.Use(gin.Recovery())
	r.Use(cors.New(cors.Config{
		AllowOrigins:     cfg.CORSOrigins,
		AllowMethods:     []string{"GET", "POST", "OPTIONS"},
		AllowHeaders:     []string{"Content-Type", "Authorization"},
		MaxAge:           time.Hour,
		AllowCredentials: false,
	}))

	r.GET("/healthz", s.handleHealthz)
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))
	r.POST("/ingest", s.handleIngest)
	r.POST("/search", s.handleSearch)
	r.POST("/clear/:containerTag", s.handleClear)

	return r
}

func ginLogger(log *logrus.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		log.WithFields(logrus.Fields{
			"method":   c.Request.Method,
			"path":     c.Request.URL.Path,
			"status":   c.Writer.Status(),
			"duration": time.Since(start).String(),
		}).Info("request handled")
	}
}

func (s *Server) handleHealthz(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

type messageWire struct {
	Speaker   string     `json:"speaker" binding:"required"`
	Timestamp *time.Time `json:"timestamp"`
	Content   string     `json:"content" binding:"required"`
}

type sessionWire struct {
	SessionID string            `json:"sessionId" binding:"required"`
	Date      string            `json:"date" binding:"required"`
	Messages  []messageWire     `json:"messages" binding:"required"`
	Metadata  map[string]string `json:"metadata"`
}

type ingestRequest struct {
	ContainerTag string        `json:"containerTag" binding:"required"`
	Sessions     []sessionWire `json:"sessions" binding:"required"`
}

func (s *Server) handleIngest(c *gin.Context) {
	var req ingestRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	sessions := make([]engine.Session, 0, len(req.Sessions))
	for _, sw := range req.Sessions {
		messages := make([]engine.Message, 0, len(sw.Messages))
		for _, mw := range sw.Messages {
			messages = append(messages, engine.Message{Speaker: mw.Speaker, Timestamp: mw.Timestamp, Content: mw.Content})
		}
		sessions = append(sessions, engine.Session{SessionID: sw.SessionID, Date: sw.Date, Messages: messages, Metadata: sw.Metadata})
	}

	result, err := s.provider.Ingest(c.Request.Context(), sessions, engine.IngestOptions{ContainerTag: req.ContainerTag})
	if err != nil {
		s.logger.WithError(err).WithField("container", req.ContainerTag).Error("ingest failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{"documentIds": result.DocumentIDs})
}

type searchRequest struct {
	ContainerTag string `json:"containerTag" binding:"required"`
	Query        string `json:"query" binding:"required"`
	Limit        int    `json:"limit"`
}

func (s *Server) handleSearch(c *gin.Context) {
	var req searchRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	results, err := s.provider.Search(c.Request.Context(), req.Query, engine.SearchOptions{ContainerTag: req.ContainerTag, Limit: req.Limit})
	if err != nil {
		s.logger.WithError(err).WithField("container", req.ContainerTag).Error("search failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{"results": results})
}

func (s *Server) handleClear(c *gin.Context) {
	tag := c.Param("containerTag")
	if err := s.provider.Clear(c.Request.Context(), tag); err != nil {
		s.logger.WithError(err).WithField("container", tag).Error("clear failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"cleared": tag})
}

// Serve blocks, running an http.Server on addr until ctx is cancelled.
func Serve(ctx context.Context, addr string, handler http.Handler, logger *logrus.Logger) error {
	srv := &http.Server{Addr: addr, Handler: handler}

	errCh := make(chan error, 1)
	go func() {
		logger.WithField("addr", addr).Info("http server listening")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	case err := <-errCh:
		return err
	}
}
