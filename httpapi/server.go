// Package httpapi serves the weighbridge HTTP surface. It fronts a
// scale.Service and never touches the device directly.
package httpapi

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"slices"
	"strconv"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/scalewire/go-weighbridge/logger"
	"github.com/scalewire/go-weighbridge/scale"
)

// ServiceName identifies this service in health responses.
const ServiceName = "Weighbridge API"

// maxWeightTimeout bounds the per-request timeout a client may ask of
// GET /api/weight.
const maxWeightTimeout = 5 * time.Minute

// Options configures a Server.
type Options struct {
	// ListenAddr is the address Run serves on, e.g. ":5000".
	ListenAddr string
	// CORSOrigins lists the allowed origins. Empty or containing "*" allows
	// every origin.
	CORSOrigins []string
	// Logger receives server lifecycle logs. Nil uses the package default.
	Logger logger.Logger
	// RequestLog receives one structured line per request. Nil logs to
	// stdout.
	RequestLog *zerolog.Logger
}

// Server is the HTTP API server.
type Server struct {
	svc     *scale.Service
	logger  logger.Logger
	router  *gin.Engine
	metrics *apiMetrics
	httpSrv *http.Server
}

// New creates a Server for the given service.
func New(svc *scale.Service, opts Options) *Server {
	log := opts.Logger
	if log == nil {
		log = logger.GetLogger()
	}

	reqLog := opts.RequestLog
	if reqLog == nil {
		l := zerolog.New(os.Stdout).With().Timestamp().Logger()
		reqLog = &l
	}

	gin.SetMode(gin.ReleaseMode)

	metrics := newAPIMetrics(svc)

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(requestLogger(*reqLog))
	router.Use(requestMetrics(metrics))
	router.Use(cors.New(corsConfig(opts.CORSOrigins)))
	_ = router.SetTrustedProxies([]string{"127.0.0.1", "::1"})

	s := &Server{
		svc:     svc,
		logger:  log,
		router:  router,
		metrics: metrics,
		httpSrv: &http.Server{
			Addr:              opts.ListenAddr,
			Handler:           router,
			ReadHeaderTimeout: 5 * time.Second,
		},
	}
	s.registerRoutes()

	return s
}

func corsConfig(origins []string) cors.Config {
	cfg := cors.Config{
		AllowMethods: []string{http.MethodGet, http.MethodPost},
		AllowHeaders: []string{"Origin", "Content-Type"},
		MaxAge:       12 * time.Hour,
	}

	if len(origins) == 0 || slices.Contains(origins, "*") {
		cfg.AllowAllOrigins = true
	} else {
		cfg.AllowOrigins = origins
	}

	return cfg
}

// Router returns the underlying gin engine.
func (s *Server) Router() *gin.Engine {
	return s.router
}

// Run serves HTTP until Shutdown. It blocks.
func (s *Server) Run() error {
	s.logger.Info("http api listening", "addr", s.httpSrv.Addr)

	if err := s.httpSrv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
		return err
	}

	return nil
}

// Shutdown gracefully stops the server, waiting for in-flight requests up to
// the context deadline.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpSrv.Shutdown(ctx)
}

func (s *Server) registerRoutes() {
	api := s.router.Group("/api")
	api.GET("/current", s.handleCurrent)
	api.GET("/weight", s.handleWeight)
	api.GET("/health", s.handleHealth)
	api.GET("/ports", s.handlePorts)
	api.POST("/restart", s.handleRestart)

	s.router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(s.metrics.registry, promhttp.HandlerOpts{})))
}

// handleCurrent returns the most recently published reading.
func (s *Server) handleCurrent(c *gin.Context) {
	reading, ok := s.svc.LatestCached()
	if !ok {
		s.fail(c, http.StatusNotFound, "No data available yet")

		return
	}

	s.ok(c, gin.H{"data": reading})
}

// handleWeight performs a bounded fresh read against the device.
func (s *Server) handleWeight(c *gin.Context) {
	timeout, err := parseTimeoutSeconds(c.Query("timeout"))
	if err != nil {
		s.fail(c, http.StatusBadRequest, err.Error())

		return
	}

	reading, err := s.svc.Fresh(timeout)
	if err != nil {
		s.fail(c, freshStatus(err), err.Error())

		return
	}

	s.ok(c, gin.H{"data": reading})
}

// freshStatus maps a fresh-read failure to its HTTP status.
func freshStatus(err error) int {
	switch {
	case errors.Is(err, scale.ErrNoData):
		return http.StatusGatewayTimeout
	case errors.Is(err, scale.ErrSessionClosed):
		return http.StatusServiceUnavailable
	default:
		// Parse failures and device errors are upstream faults.
		return http.StatusBadGateway
	}
}

// handleHealth reports session health; unhealthy maps to 503.
func (s *Server) handleHealth(c *gin.Context) {
	h := s.svc.Health()

	status := http.StatusOK
	if h.Status == scale.StatusUnhealthy {
		status = http.StatusServiceUnavailable
	}

	serialPort := "disconnected"
	if h.PortOpen {
		serialPort = "connected"
	}

	body := gin.H{
		"status":             h.Status,
		"service":            ServiceName,
		"serial_port":        serialPort,
		"loop_running":       h.LoopRunning,
		"probe_ok":           h.ProbeOK,
		"consecutive_errors": h.ConsecutiveErrors,
		"timestamp":          timestamp(),
	}
	if h.ProbeError != "" {
		body["probe_error"] = h.ProbeError
	}
	if h.LastError != "" {
		body["last_error"] = h.LastError
	}
	if !h.LastReadingAt.IsZero() {
		body["last_reading_at"] = h.LastReadingAt
	}

	c.JSON(status, body)
}

// handlePorts lists the serial devices present on the host.
func (s *Server) handlePorts(c *gin.Context) {
	ports, err := s.svc.ListPorts()
	if err != nil {
		s.fail(c, http.StatusBadGateway, err.Error())

		return
	}

	s.ok(c, gin.H{"ports": ports})
}

// handleRestart closes and reopens the session on demand.
func (s *Server) handleRestart(c *gin.Context) {
	if err := s.svc.Restart(); err != nil {
		s.fail(c, http.StatusBadGateway, err.Error())

		return
	}

	s.ok(c, gin.H{"message": "session restarted"})
}

func (s *Server) ok(c *gin.Context, payload gin.H) {
	body := gin.H{
		"success":   true,
		"timestamp": timestamp(),
	}
	for k, v := range payload {
		body[k] = v
	}

	c.JSON(http.StatusOK, body)
}

func (s *Server) fail(c *gin.Context, status int, message string) {
	c.JSON(status, gin.H{
		"success":   false,
		"message":   message,
		"timestamp": timestamp(),
	})
}

func timestamp() string {
	return time.Now().UTC().Format(time.RFC3339Nano)
}

// parseTimeoutSeconds parses the timeout query parameter, given in seconds
// (fractions allowed). Empty or zero selects the service default.
func parseTimeoutSeconds(raw string) (time.Duration, error) {
	if raw == "" {
		return 0, nil
	}

	secs, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid timeout %q", raw)
	}
	if secs < 0 {
		return 0, fmt.Errorf("timeout must not be negative, got %v", secs)
	}

	timeout := time.Duration(secs * float64(time.Second))
	if timeout > maxWeightTimeout {
		return 0, fmt.Errorf("timeout %v exceeds maximum %v", timeout, maxWeightTimeout)
	}

	return timeout, nil
}
