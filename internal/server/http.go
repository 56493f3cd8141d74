package server

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"FundLedger/internal/observability"
	"FundLedger/internal/query"
)

const (
	defaultPageLimit = 50
	maxPageLimit     = 500
)

// HTTPServer serves the read-only query API from the projection tables.
// Writes never enter here: all state changes flow through NATS into the
// single-threaded core.
type HTTPServer struct {
	queries *query.Service
	health  *observability.HealthChecker
	metrics *observability.Metrics
	logger  zerolog.Logger
	srv     *http.Server
}

func NewHTTPServer(
	addr string,
	queries *query.Service,
	health *observability.HealthChecker,
	metrics *observability.Metrics,
) *HTTPServer {
	s := &HTTPServer{
		queries: queries,
		health:  health,
		metrics: metrics,
		logger:  observability.NewLogger("http"),
	}

	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery(), s.observe())

	router.GET("/healthz", gin.WrapF(health.LivenessHandler))
	router.GET("/readyz", gin.WrapF(health.ReadinessHandler))
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	v1 := router.Group("/v1")
	{
		v1.GET("/fund", s.handleFundSummary)
		v1.GET("/nav", s.handleCurrentNav)
		v1.GET("/nav/history", s.handleNavHistory)
		v1.GET("/investors/:id/balance", s.handleInvestorBalance)
		v1.GET("/investors/:id/requests", s.handleInvestorRequests)
		v1.GET("/investors/:id/journal", s.handleJournalHistory)
		v1.GET("/admin/integrity", s.handleIntegrity)
	}

	s.srv = &http.Server{
		Addr:              addr,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
	}
	return s
}

// Start serves until Shutdown. Blocks.
func (s *HTTPServer) Start() error {
	s.logger.Info().Str("addr", s.srv.Addr).Msg("http server listening")
	err := s.srv.ListenAndServe()
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// Shutdown drains in-flight requests.
func (s *HTTPServer) Shutdown(ctx context.Context) error {
	return s.srv.Shutdown(ctx)
}

// observe records per-endpoint request counts and latency.
func (s *HTTPServer) observe() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		endpoint := c.FullPath()
		if endpoint == "" {
			endpoint = "unmatched"
		}
		status := strconv.Itoa(c.Writer.Status())
		s.metrics.QueryRequests.WithLabelValues(endpoint, status).Inc()
		s.metrics.QueryDuration.WithLabelValues(endpoint).Observe(time.Since(start).Seconds())
	}
}

func (s *HTTPServer) handleFundSummary(c *gin.Context) {
	resp, err := s.queries.GetFundSummary(c.Request.Context())
	if err != nil {
		s.fail(c, http.StatusInternalServerError, err)
		return
	}
	c.JSON(http.StatusOK, resp)
}

func (s *HTTPServer) handleCurrentNav(c *gin.Context) {
	resp, err := s.queries.GetCurrentNav(c.Request.Context())
	if errors.Is(err, query.ErrNoValuation) {
		s.fail(c, http.StatusNotFound, err)
		return
	}
	if err != nil {
		s.fail(c, http.StatusInternalServerError, err)
		return
	}
	c.JSON(http.StatusOK, resp)
}

func (s *HTTPServer) handleNavHistory(c *gin.Context) {
	limit, before, ok := s.pagination(c, "before")
	if !ok {
		return
	}

	points, err := s.queries.GetNavHistory(c.Request.Context(), limit, before)
	if err != nil {
		s.fail(c, http.StatusInternalServerError, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"points": points})
}

func (s *HTTPServer) handleInvestorBalance(c *gin.Context) {
	investorID, ok := s.investorID(c)
	if !ok {
		return
	}

	resp, err := s.queries.GetInvestorBalance(c.Request.Context(), investorID)
	if err != nil {
		s.fail(c, http.StatusInternalServerError, err)
		return
	}
	c.JSON(http.StatusOK, resp)
}

func (s *HTTPServer) handleInvestorRequests(c *gin.Context) {
	investorID, ok := s.investorID(c)
	if !ok {
		return
	}
	limit, before, ok := s.pagination(c, "before")
	if !ok {
		return
	}

	var status *string
	if v := c.Query("status"); v != "" {
		switch v {
		case "pending", "settled", "rejected":
			status = &v
		default:
			s.fail(c, http.StatusBadRequest, errors.New("status must be pending, settled or rejected"))
			return
		}
	}

	reqs, err := s.queries.GetInvestorRequests(c.Request.Context(), investorID, status, limit, before)
	if err != nil {
		s.fail(c, http.StatusInternalServerError, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"requests": reqs})
}

func (s *HTTPServer) handleJournalHistory(c *gin.Context) {
	investorID, ok := s.investorID(c)
	if !ok {
		return
	}
	limit, before, ok := s.pagination(c, "before")
	if !ok {
		return
	}

	entries, err := s.queries.GetJournalHistory(c.Request.Context(), investorID, limit, before)
	if err != nil {
		s.fail(c, http.StatusInternalServerError, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"entries": entries})
}

func (s *HTTPServer) handleIntegrity(c *gin.Context) {
	report, err := s.queries.VerifyIntegrity(c.Request.Context())
	if err != nil {
		s.fail(c, http.StatusInternalServerError, err)
		return
	}

	status := http.StatusOK
	if !report.IsHealthy {
		status = http.StatusConflict
	}
	c.JSON(status, report)
}

// --- helpers ---

func (s *HTTPServer) investorID(c *gin.Context) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		s.fail(c, http.StatusBadRequest, errors.New("invalid investor id"))
		return uuid.Nil, false
	}
	return id, true
}

func (s *HTTPServer) pagination(c *gin.Context, cursorParam string) (int, *int64, bool) {
	limit := defaultPageLimit
	if v := c.Query("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 || n > maxPageLimit {
			s.fail(c, http.StatusBadRequest, errors.New("limit must be 1-500"))
			return 0, nil, false
		}
		limit = n
	}

	var cursor *int64
	if v := c.Query(cursorParam); v != "" {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			s.fail(c, http.StatusBadRequest, errors.New(cursorParam+" must be an integer"))
			return 0, nil, false
		}
		cursor = &n
	}

	return limit, cursor, true
}

func (s *HTTPServer) fail(c *gin.Context, status int, err error) {
	if status >= 500 {
		s.logger.Error().Err(err).Str("path", c.FullPath()).Msg("query failed")
	}
	s.metrics.QueryErrors.WithLabelValues(c.FullPath(), strconv.Itoa(status)).Inc()
	c.JSON(status, gin.H{"error": err.Error()})
}
