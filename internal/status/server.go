package status

import (
	"context"
	"errors"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"tokenflow/internal/cache"
	"tokenflow/internal/health"
	"tokenflow/internal/provider"
	"tokenflow/internal/stream"
	"tokenflow/logger"
)

// Server hosts a small JSON status API so operators can inspect the engine
// without tailing logs: adaptive timeout state, cache size, provider set and
// stream connectivity.
type Server struct {
	address    string
	appName    string
	version    string
	startedAt  time.Time
	monitor    *health.Monitor
	cache      *cache.Cache
	streamMgr  *stream.Manager
	providers  []provider.Provider
	httpServer *http.Server
	log        *logger.Log
}

type Options struct {
	Address   string
	AppName   string
	Version   string
	Monitor   *health.Monitor
	Cache     *cache.Cache
	Stream    *stream.Manager
	Providers []provider.Provider
}

func NewServer(opts Options) *Server {
	return &Server{
		address:   normalizeAddress(opts.Address),
		appName:   opts.AppName,
		version:   opts.Version,
		startedAt: time.Now(),
		monitor:   opts.Monitor,
		cache:     opts.Cache,
		streamMgr: opts.Stream,
		providers: opts.Providers,
		log:       logger.GetLogger(),
	}
}

// Run starts the status HTTP server and blocks until the context is cancelled
// or the server exits with an error.
func (s *Server) Run(ctx context.Context) error {
	if s == nil {
		return nil
	}

	router, err := s.buildRouter()
	if err != nil {
		return err
	}

	s.httpServer = &http.Server{
		Addr:    s.address,
		Handler: router,
	}

	s.log.WithComponent("status").WithFields(logger.Fields{
		"address": s.address,
	}).Info("status server listening")

	errCh := make(chan error, 1)
	go func() {
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.httpServer.Shutdown(shutdownCtx); err != nil && !errors.Is(err, context.Canceled) {
			return err
		}
		<-errCh
		return nil
	case err := <-errCh:
		return err
	}
}

func (s *Server) buildRouter() (*gin.Engine, error) {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())
	if err := router.SetTrustedProxies(nil); err != nil {
		return nil, err
	}

	router.GET("/api/status", s.handleStatus)
	router.GET("/api/health", s.handleHealth)
	router.GET("/api/providers", s.handleProviders)

	return router, nil
}

func (s *Server) handleStatus(c *gin.Context) {
	streamState := "disabled"
	var streamErr string
	if s.streamMgr != nil {
		streamState = s.streamMgr.State().String()
		if err := s.streamMgr.Err(); err != nil {
			streamErr = err.Error()
		}
	}

	c.JSON(http.StatusOK, gin.H{
		"service":        s.appName,
		"version":        s.version,
		"uptime_seconds": int(time.Since(s.startedAt).Seconds()),
		"cached_entries": s.cache.Len(),
		"stream_state":   streamState,
		"stream_error":   streamErr,
	})
}

func (s *Server) handleHealth(c *gin.Context) {
	budget := s.monitor.Budget()
	c.JSON(http.StatusOK, gin.H{
		"success_rate":        s.monitor.SuccessRate(),
		"avg_latency_ms":      s.monitor.AvgLatency().Milliseconds(),
		"adaptive_timeout_ms": s.monitor.AdaptiveTimeout().Milliseconds(),
		"budget": gin.H{
			"total_ms":   budget.Total.Milliseconds(),
			"connect_ms": budget.Connect.Milliseconds(),
			"read_ms":    budget.Read.Milliseconds(),
		},
	})
}

func (s *Server) handleProviders(c *gin.Context) {
	payload := make([]gin.H, 0, len(s.providers))
	for _, p := range s.providers {
		categories := make([]string, 0, len(p.Categories()))
		for _, category := range p.Categories() {
			categories = append(categories, string(category))
		}
		payload = append(payload, gin.H{
			"name":       p.Name(),
			"priority":   p.Priority(),
			"categories": categories,
		})
	}
	c.JSON(http.StatusOK, gin.H{"providers": payload})
}

func normalizeAddress(address string) string {
	address = strings.TrimSpace(address)
	if address == "" {
		return ":8080"
	}
	if strings.HasPrefix(address, ":") {
		return address
	}
	if _, _, err := net.SplitHostPort(address); err == nil {
		return address
	}
	return net.JoinHostPort(address, "8080")
}
