package server

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"whale-mirror/internal/executor"
	"whale-mirror/internal/metrics"
)

// TokenHeader carries the manual trigger shared secret.
const TokenHeader = "X-Mirror-Token"

// Seller runs a manual SELL mirror.
type Seller interface {
	MirrorSell(ctx context.Context, token common.Address) (executor.Result, error)
}

// Options configure the HTTP surface.
type Options struct {
	Addr        string
	ManualToken string
	ManualRate  float64
	ManualBurst int
}

// Server exposes liveness, metrics and the manual sell trigger.
type Server struct {
	opts    Options
	seller  Seller
	metrics *metrics.Metrics
	limiter *rate.Limiter
	engine  *gin.Engine
	logger  zerolog.Logger

	mu      sync.Mutex
	baseCtx context.Context
	closing bool
	pending sync.WaitGroup
}

// New builds the router.
func New(opts Options, seller Seller, m *metrics.Metrics, logger zerolog.Logger) *Server {
	gin.SetMode(gin.ReleaseMode)

	limit := rate.Inf
	if opts.ManualRate > 0 {
		limit = rate.Limit(opts.ManualRate)
	}
	burst := opts.ManualBurst
	if burst <= 0 {
		burst = 1
	}

	s := &Server{
		opts:    opts,
		seller:  seller,
		metrics: m,
		limiter: rate.NewLimiter(limit, burst),
		logger:  logger.With().Str("component", "http").Logger(),
		baseCtx: context.Background(),
	}

	r := gin.New()
	r.Use(gin.Recovery(), s.requestLogger())
	r.GET("/", s.liveness)
	r.GET("/healthz", s.liveness)
	if m != nil {
		r.GET("/metrics", gin.WrapH(m.Handler()))
	}
	r.GET("/sell", s.requireToken(), s.rateLimit(), s.sell)
	s.engine = r
	return s
}

// Handler returns the underlying http.Handler.
func (s *Server) Handler() http.Handler {
	return s.engine
}

// Run serves until ctx is cancelled, then shuts down and waits for in-flight
// manual sells.
func (s *Server) Run(ctx context.Context) error {
	s.mu.Lock()
	s.baseCtx = ctx
	s.mu.Unlock()

	srv := &http.Server{
		Addr:              s.opts.Addr,
		Handler:           s.engine,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info().Str("addr", s.opts.Addr).Msg("http server listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err, ok := <-errCh:
		if ok {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		s.logger.Warn().Err(err).Msg("http shutdown")
	}
	s.Wait()
	return nil
}

func (s *Server) liveness(c *gin.Context) {
	c.String(http.StatusOK, "OK")
}

func (s *Server) sell(c *gin.Context) {
	raw := strings.TrimSpace(c.Query("token"))
	if raw == "" {
		s.countTrigger("bad_request")
		c.JSON(http.StatusBadRequest, gin.H{"error": "token query parameter required"})
		return
	}
	if !common.IsHexAddress(raw) {
		s.countTrigger("bad_request")
		c.JSON(http.StatusBadRequest, gin.H{"error": "token is not a valid address"})
		return
	}
	token := common.HexToAddress(raw)

	// Add happens under mu so it never races the final Wait.
	s.mu.Lock()
	if s.closing {
		s.mu.Unlock()
		s.countTrigger("rejected")
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "shutting down"})
		return
	}
	ctx := s.baseCtx
	s.pending.Add(1)
	s.mu.Unlock()

	go func() {
		defer s.pending.Done()
		res, err := s.seller.MirrorSell(ctx, token)
		if err != nil {
			s.logger.Warn().Err(err).Str("token", token.Hex()).Msg("manual sell failed")
			return
		}
		s.logger.Info().Str("token", token.Hex()).Str("tx", res.TxHash.Hex()).Msg("manual sell broadcast")
	}()

	s.countTrigger("accepted")
	c.String(http.StatusOK, "sell triggered for %s", token.Hex())
}

func (s *Server) requireToken() gin.HandlerFunc {
	secret := s.opts.ManualToken
	return func(c *gin.Context) {
		if secret == "" {
			c.Next()
			return
		}
		if subtle.ConstantTimeCompare([]byte(c.GetHeader(TokenHeader)), []byte(secret)) != 1 {
			s.countTrigger("unauthorized")
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
			return
		}
		c.Next()
	}
}

func (s *Server) rateLimit() gin.HandlerFunc {
	return func(c *gin.Context) {
		if !s.limiter.Allow() {
			s.countTrigger("rate_limited")
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{"error": "too many requests"})
			return
		}
		c.Next()
	}
}

func (s *Server) requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		s.logger.Debug().
			Str("method", c.Request.Method).
			Str("path", c.Request.URL.Path).
			Int("status", c.Writer.Status()).
			Dur("latency", time.Since(start)).
			Msg("request")
	}
}

func (s *Server) countTrigger(result string) {
	if s.metrics != nil {
		s.metrics.ManualTriggers.WithLabelValues(result).Inc()
	}
}

// Wait stops accepting manual sells and blocks until every accepted one has
// finished.
func (s *Server) Wait() {
	s.mu.Lock()
	s.closing = true
	s.mu.Unlock()
	s.pending.Wait()
}
