package main

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"github.com/rus-connect/filterbench/pkg/common"
	"github.com/rus-connect/filterbench/pkg/evaluator"
	"github.com/rus-connect/filterbench/pkg/filter"
	"github.com/rus-connect/filterbench/pkg/source"
	"github.com/rus-connect/filterbench/pkg/validator"
)

// evaluateRequest is the body of POST /api/v1/evaluate. Either Prices is set
// or Symbol (with an optional window) is loaded from the configured source.
type evaluateRequest struct {
	Symbol         string             `json:"symbol"`
	Prices         common.PriceSeries `json:"prices"`
	From           string             `json:"from"`
	To             string             `json:"to"`
	Interval       string             `json:"interval"`
	InitialBalance *float64           `json:"initial_balance"`
	Filters        []filter.Spec      `json:"filters"`
	Publish        bool               `json:"publish"`
}

type pinger interface {
	Ping(ctx context.Context) error
}

type server struct {
	log            zerolog.Logger
	eval           *evaluator.Evaluator
	loader         source.Loader
	sourceName     string
	ready          pinger
	publisher      evaluator.Sink
	initialBalance float64
	defaults       []filter.Spec
	limiter        *rate.Limiter
}

func (s *server) routes() *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(requestLogger(s.log))
	r.Use(securityHeadersMiddleware())
	r.Use(rateLimitMiddleware(s.limiter))

	r.GET("/health", handleHealthz)
	r.GET("/healthz", handleHealthz)
	r.GET("/readyz", s.handleReadyz)
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	r.GET("/api/v1/filters", s.listFilters)
	r.POST("/api/v1/evaluate", s.evaluate)
	return r
}

func handleHealthz(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status": "ok",
		"time":   time.Now().UTC(),
	})
}

func (s *server) handleReadyz(c *gin.Context) {
	sourceReady := true
	if s.ready != nil {
		ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
		defer cancel()
		if err := s.ready.Ping(ctx); err != nil {
			s.log.Warn().Err(err).Msg("price source not ready")
			sourceReady = false
		}
	}

	status, code := "ready", http.StatusOK
	if !sourceReady {
		status, code = "not_ready", http.StatusServiceUnavailable
	}
	c.JSON(code, gin.H{
		"status":       status,
		"source":       s.sourceName,
		"source_ready": sourceReady,
		"publishing":   s.publisher != nil,
		"time":         time.Now().UTC(),
	})
}

func (s *server) listFilters(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"filters": s.defaults})
}

func (s *server) evaluate(c *gin.Context) {
	var req evaluateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request: " + err.Error()})
		return
	}

	specs, err := s.resolveFilters(req.Filters)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	balance := s.initialBalance
	if req.InitialBalance != nil {
		balance = *req.InitialBalance
	}
	if err := validator.ValidateBalance(balance); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	symbol := strings.ToUpper(strings.TrimSpace(req.Symbol))
	prices := req.Prices
	sourceName := "request"
	if len(prices) == 0 {
		if symbol == "" {
			c.JSON(http.StatusBadRequest, gin.H{"error": "either prices or symbol is required"})
			return
		}
		if err := validator.ValidateSymbol(symbol); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid symbol format"})
			return
		}
		if s.loader == nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": "no price source configured"})
			return
		}
		q, err := buildQuery(symbol, req.From, req.To, req.Interval)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		prices, err = s.loader.Load(c.Request.Context(), q)
		if err != nil {
			if validator.IsValidation(err) {
				c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
				return
			}
			s.log.Error().Err(err).Str("symbol", symbol).Msg("price load failed")
			c.JSON(http.StatusBadGateway, gin.H{"error": "Failed to load prices"})
			return
		}
		sourceName = s.sourceName
	} else if err := validator.ValidateSeries(prices); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	report := s.eval.Run(c.Request.Context(), evaluator.Request{
		Symbol:         symbol,
		Source:         sourceName,
		Prices:         prices,
		Filters:        specs,
		InitialBalance: balance,
	})

	if req.Publish && s.publisher != nil {
		if err := s.publisher.Write(c.Request.Context(), report); err != nil {
			s.log.Error().Err(err).Str("run_id", report.RunID).Msg("report publish failed")
		}
	}
	c.JSON(http.StatusOK, report)
}

func (s *server) resolveFilters(in []filter.Spec) ([]filter.Spec, error) {
	if len(in) == 0 {
		return s.defaults, nil
	}
	out := make([]filter.Spec, 0, len(in))
	for _, spec := range in {
		kind, err := filter.Parse(string(spec.Kind))
		if err != nil {
			return nil, err
		}
		spec.Kind = kind
		out = append(out, spec.Named())
	}
	return out, nil
}

func buildQuery(symbol, from, to, interval string) (source.Query, error) {
	q := source.Query{Symbol: symbol, Interval: interval}
	if interval != "" {
		if _, err := source.IntervalDuration(interval); err != nil {
			return q, err
		}
	}
	var err error
	if from != "" {
		if q.From, err = source.ParseTime(from); err != nil {
			return q, err
		}
	}
	if to != "" {
		if q.To, err = source.ParseTime(to); err != nil {
			return q, err
		}
	}
	return q, nil
}

// securityHeadersMiddleware adds security headers to responses
func securityHeadersMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("X-Frame-Options", "DENY")
		c.Header("X-Content-Type-Options", "nosniff")
		c.Header("X-XSS-Protection", "1; mode=block")
		c.Header("Strict-Transport-Security", "max-age=31536000; includeSubDomains")
		c.Header("Content-Security-Policy", "default-src 'self'; frame-ancestors 'none'; object-src 'none'")
		c.Next()
	}
}

// rateLimitMiddleware provides rate limiting for API requests
func rateLimitMiddleware(limiter *rate.Limiter) gin.HandlerFunc {
	return func(c *gin.Context) {
		if !limiter.Allow() {
			c.JSON(http.StatusTooManyRequests, gin.H{"error": "Rate limit exceeded"})
			c.Abort()
			return
		}
		c.Next()
	}
}

func requestLogger(log zerolog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		log.Debug().
			Str("method", c.Request.Method).
			Str("path", c.FullPath()).
			Int("status", c.Writer.Status()).
			Dur("took", time.Since(start)).
			Msg("request")
	}
}
