// REST API server for node operators
package api

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/richmills3/bitcoin-sv/internal/logger"
	"github.com/richmills3/bitcoin-sv/pkg/chain"
	"github.com/richmills3/bitcoin-sv/pkg/config"
	"github.com/richmills3/bitcoin-sv/pkg/limiter"
	"github.com/richmills3/bitcoin-sv/pkg/safemode"
)

// Prometheus metrics
var (
	httpRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "svnode_http_requests_total",
			Help: "Total HTTP requests by endpoint and status",
		},
		[]string{"endpoint", "method", "status"},
	)

	httpRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "svnode_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"endpoint", "method"},
	)
)

// Server is the REST API server
type Server struct {
	config     config.APIConfig
	log        *logger.Logger
	limiter    *limiter.RateLimiter
	chainState *chain.ChainState
	monitor    *safemode.Monitor
	wsHub      *WSHub
	router     *gin.Engine
	httpServer *http.Server
}

// NewServer creates a new API server
func NewServer(
	cfg config.APIConfig,
	rateLimiter *limiter.RateLimiter,
	chainState *chain.ChainState,
	monitor *safemode.Monitor,
	log *logger.Logger,
) *Server {
	// Set Gin mode
	gin.SetMode(gin.ReleaseMode)

	router := gin.New()
	router.Use(gin.Recovery())

	// Create WebSocket hub
	wsHub := NewWSHub(log)
	go wsHub.Run()

	s := &Server{
		config:     cfg,
		log:        log,
		limiter:    rateLimiter,
		chainState: chainState,
		monitor:    monitor,
		wsHub:      wsHub,
		router:     router,
	}

	s.setupRoutes()
	return s
}

// Hub exposes the WebSocket hub so the daemon can push status changes
func (s *Server) Hub() *WSHub {
	return s.wsHub
}

// setupRoutes configures API routes
func (s *Server) setupRoutes() {
	// Middleware
	s.router.Use(s.rateLimitMiddleware())
	s.router.Use(s.loggingMiddleware())

	if s.config.EnableCORS {
		s.router.Use(corsMiddleware())
	}

	// Health check
	s.router.GET("/health", s.handleHealth)

	// Prometheus metrics endpoint
	s.router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	// WebSocket endpoint for real-time safe-mode updates
	s.router.GET("/ws", s.handleWebSocket)

	// API v1
	v1 := s.router.Group("/v1")
	{
		// Safe mode
		v1.GET("/safemode/status", s.handleSafeModeStatus)
		v1.POST("/safemode/clear", s.handleSafeModeClear)
		v1.POST("/safemode/ignore/:hash", s.handleSafeModeIgnore(true))
		v1.POST("/safemode/unignore/:hash", s.handleSafeModeIgnore(false))

		// Chain inspection
		v1.GET("/chain/tip", s.handleChainTip)
		v1.GET("/chain/tips", s.handleChainTips)
		v1.GET("/chain/blocks/:hash", s.handleGetBlock)
	}
}

// Start starts the API server
func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.config.Host, s.config.Port)

	s.httpServer = &http.Server{
		Addr:         addr,
		Handler:      s.router,
		ReadTimeout:  s.config.ReadTimeout,
		WriteTimeout: s.config.WriteTimeout,
	}

	s.log.WithField("address", addr).Info("API server starting")
	return s.httpServer.ListenAndServe()
}

// Shutdown gracefully shuts down the server
func (s *Server) Shutdown(ctx context.Context) error {
	if s.httpServer != nil {
		return s.httpServer.Shutdown(ctx)
	}
	return nil
}

// Middleware

func (s *Server) rateLimitMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		allowed, err := s.limiter.CheckRequest(c.Request.RemoteAddr)
		if !allowed {
			s.log.WithError(err).WithField("ip", c.ClientIP()).Warn("Rate limit exceeded")
			c.JSON(http.StatusTooManyRequests, gin.H{
				"error": "rate limit exceeded",
			})
			c.Abort()
			return
		}
		c.Next()
	}
}

func (s *Server) loggingMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path
		method := c.Request.Method

		c.Next()

		duration := time.Since(start)
		status := c.Writer.Status()

		// Prometheus metrics
		httpRequestsTotal.WithLabelValues(path, method, strconv.Itoa(status)).Inc()
		httpRequestDuration.WithLabelValues(path, method).Observe(duration.Seconds())

		// Logging
		s.log.WithFields(logger.Fields{
			"method":   method,
			"path":     path,
			"status":   status,
			"duration": duration,
			"ip":       c.ClientIP(),
		}).Info("API request")
	}
}

func corsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
		c.Writer.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		c.Writer.Header().Set("Access-Control-Allow-Headers", "Content-Type")

		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}

		c.Next()
	}
}

func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":         "healthy",
		"safemode_level": s.monitor.Level().String(),
	})
}
