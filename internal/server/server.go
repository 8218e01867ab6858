// Package server is the HTTP adapter over the pipeline: a thin layer that
// translates internally-authenticated requests into orchestrator calls.
package server

import (
	"context"
	"crypto/subtle"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/ledgerkeep/receiptpipe/internal/domain/entity"
	"github.com/ledgerkeep/receiptpipe/internal/export"
	"github.com/ledgerkeep/receiptpipe/internal/ingest"
	"go.uber.org/zap"
)

type pipeline interface {
	ProcessReceipt(ctx context.Context, req ingest.ProcessRequest) (*ingest.ProcessResult, error)
	IngestEmail(ctx context.Context, req ingest.IngestEmailRequest) (*ingest.IngestEmailResult, error)
}

type itemSplitter interface {
	Split(ctx context.Context, plan *entity.SplitPlan) ([]*entity.LineItem, error)
}

type receiptExporter interface {
	Export(ctx context.Context, req export.Request) (*export.Result, error)
}

// Server wires the internal HTTP endpoints.
type Server struct {
	router   *gin.Engine
	pipeline pipeline
	splitter itemSplitter
	exporter receiptExporter
	apiToken string
	logger   *zap.Logger
}

// New creates a new server
func New(apiToken string, p pipeline, splitter itemSplitter, exporter receiptExporter, logger *zap.Logger) *Server {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()

	s := &Server{
		router:   router,
		pipeline: p,
		splitter: splitter,
		exporter: exporter,
		apiToken: apiToken,
		logger:   logger,
	}

	router.Use(gin.Recovery())
	router.Use(s.loggingMiddleware())
	s.setupRoutes()
	return s
}

// Router returns the underlying gin router.
func (s *Server) Router() *gin.Engine {
	return s.router
}

func (s *Server) setupRoutes() {
	s.router.GET("/health", s.handleHealth)

	internal := s.router.Group("/internal")
	internal.Use(s.authMiddleware())
	{
		internal.POST("/process-receipt", s.handleProcessReceipt)
		internal.POST("/ingest-email", s.handleIngestEmail)
		internal.POST("/split-item", s.handleSplitItem)
		internal.POST("/export-receipts", s.handleExportReceipts)
	}
}

func (s *Server) loggingMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path

		c.Next()

		s.logger.Info("HTTP request",
			zap.String("method", c.Request.Method),
			zap.String("path", path),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("latency", time.Since(start)),
			zap.String("ip", c.ClientIP()))
	}
}

// authMiddleware enforces the server-to-server bearer token with a
// constant-time compare.
func (s *Server) authMiddleware() gin.HandlerFunc {
	expected := []byte("Bearer " + s.apiToken)
	return func(c *gin.Context) {
		provided := []byte(c.GetHeader("Authorization"))
		if subtle.ConstantTimeCompare(provided, expected) != 1 {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			return
		}
		c.Next()
	}
}

func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":  "healthy",
		"service": "receiptpipe",
		"time":    time.Now().Format(time.RFC3339),
	})
}
