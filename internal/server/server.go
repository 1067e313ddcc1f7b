// Package server exposes upload, ingestion and chat over HTTP.
package server

import (
	"context"
	"errors"
	"net/http"
	"time"

	"manual-rag/internal/config"
	"manual-rag/internal/models"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
)

type Uploader interface {
	Upload(ctx context.Context, userID, filename string, data []byte) (*models.Document, error)
}

type Ingester interface {
	Ingest(ctx context.Context, req models.IngestRequest) (*models.IngestResult, error)
}

type Enqueuer interface {
	EnqueueIngest(ctx context.Context, req models.IngestRequest) (string, error)
}

type Answerer interface {
	Answer(ctx context.Context, query, userID string) (*models.Answer, error)
}

type DocumentReader interface {
	GetDocument(ctx context.Context, scope models.UserScope) (*models.Document, error)
}

// Services are what the handlers call. Queue is optional: without it
// ingestion runs inside the request.
type Services struct {
	Uploader  Uploader
	Ingester  Ingester
	Queue     Enqueuer
	Answerer  Answerer
	Documents DocumentReader
	AssetsDir string
	AssetsURL string
}

type Server struct {
	cfg      config.ServerConfig
	services Services
	router   *gin.Engine
}

func New(cfg config.ServerConfig, services Services) *Server {
	if cfg.Mode == gin.ReleaseMode {
		gin.SetMode(gin.ReleaseMode)
	}
	s := &Server{cfg: cfg, services: services}
	s.router = s.routes()
	return s
}

// Handler returns the router.
func (s *Server) Handler() http.Handler { return s.router }

func (s *Server) routes() *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(otelgin.Middleware("manual-rag"))
	router.Use(requestLogger())
	router.Use(cors.New(corsConfig(s.cfg.CORSOrigins)))
	router.MaxMultipartMemory = 8 << 20

	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "healthy", "timestamp": time.Now()})
	})
	if s.services.AssetsDir != "" {
		router.Static(s.services.AssetsURL, s.services.AssetsDir)
	}

	api := router.Group("/api")
	api.POST("/documents", s.uploadDocument)
	api.GET("/documents", s.getDocument)
	api.POST("/ingest", s.ingest)
	api.POST("/chat", s.chat)
	return router
}

func corsConfig(origins []string) cors.Config {
	cfg := cors.DefaultConfig()
	if len(origins) == 0 {
		cfg.AllowAllOrigins = true
	} else {
		cfg.AllowOrigins = origins
	}
	cfg.AllowMethods = []string{"GET", "POST", "OPTIONS"}
	cfg.AllowHeaders = []string{"Origin", "Content-Type", "Accept", "Authorization", "X-Requested-With"}
	return cfg
}

func requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		event := log.Info()
		if c.Writer.Status() >= http.StatusInternalServerError {
			event = log.Error()
		}
		event.Str("method", c.Request.Method).
			Str("path", c.FullPath()).
			Int("status", c.Writer.Status()).
			Dur("latency", time.Since(start)).
			Msg("Request")
	}
}

// Run serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              ":" + s.cfg.Port,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info().Str("port", s.cfg.Port).Msg("Server starting")
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

	log.Info().Msg("Shutting down server...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}
