package admin

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/danmuck/chainstream/internal/ancestor"
	"github.com/danmuck/chainstream/internal/auth"
	"github.com/danmuck/chainstream/internal/feed"
	"github.com/danmuck/chainstream/internal/observability"
	"github.com/danmuck/chainstream/internal/protocol/block"
	"github.com/danmuck/chainstream/internal/protocol/blockstream"
	"github.com/danmuck/chainstream/internal/source"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"
)

const version = "0.1.0"

var ErrSourceNotAllowed = errors.New("admin: source not allowed")

var releaseMode sync.Once

type Config struct {
	ID          string
	Addr        string
	CorsOrigins []string
	Source      source.Config
	// Auth guards POST /resolve. Nil rejects every resolve request.
	Auth auth.Validator
	// DataDir holds the chain files /resolve may name. Sources are bare file names
	// inside it; paths, "-" and file:// URIs are refused.
	DataDir string
	// Feeds lists the host:port addresses /resolve may dial as tcp:// sources.
	Feeds []string
	// ResolveTimeout bounds one POST /resolve. Zero means the request context alone.
	ResolveTimeout time.Duration
	// Feed is reported under GET /feed when set.
	Feed *feed.Server
}

type Server struct {
	cfg      Config
	router   *gin.Engine
	appeared time.Time
}

type ResolveRequest struct {
	Sources     []string `json:"sources" binding:"required"`
	Concurrent  bool     `json:"concurrent"`
	Parallelism int      `json:"parallelism"`
	MaxRounds   int      `json:"max_rounds"`
}

type BlockView struct {
	Number     uint64 `json:"number"`
	ParentHash string `json:"parent_hash"`
	Content    string `json:"content"`
	Genesis    bool   `json:"genesis"`
}

// ChainView reports how far one chain was streamed.
type ChainView struct {
	Source    string `json:"source"`
	Pulls     int    `json:"pulls"`
	Exhausted bool   `json:"exhausted"`
}

type ResolveResponse struct {
	Found  bool        `json:"found"`
	Block  *BlockView  `json:"block,omitempty"`
	Rounds int         `json:"rounds"`
	Pulls  int         `json:"pulls"`
	Chains []ChainView `json:"chains,omitempty"`
}

// NewResolveResponse renders res; sources names the chains in resolver order.
func NewResolveResponse(res ancestor.Result, sources []string) ResolveResponse {
	out := ResolveResponse{Found: res.Found, Rounds: res.Rounds, Pulls: res.Pulls}
	if res.Found {
		view := NewBlockView(res.Block)
		out.Block = &view
	}
	for _, f := range res.Frontiers {
		name := ""
		if f.Index < len(sources) {
			name = sources[f.Index]
		}
		out.Chains = append(out.Chains, ChainView{Source: name, Pulls: f.Pulls, Exhausted: f.Exhausted})
	}
	return out
}

func NewBlockView(b block.Block) BlockView {
	return BlockView{
		Number:     b.Number,
		ParentHash: b.ParentHash.String(),
		Content:    fmt.Sprintf("%x", b.Content[:]),
		Genesis:    b.IsGenesis(),
	}
}

func New(cfg Config) *Server {
	if strings.TrimSpace(cfg.ID) == "" {
		cfg.ID = "chainstream"
	}
	if cfg.Source.DialAttempts == 0 {
		cfg.Source = source.DefaultConfig()
	}
	releaseMode.Do(func() {
		if os.Getenv(gin.EnvGinMode) == "" {
			gin.SetMode(gin.ReleaseMode)
		}
	})
	observability.RegisterMetrics()
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(observability.RequestLogger(log.Logger, cfg.ID))
	r.Use(observability.RequestMetricsMiddleware(cfg.ID))
	r.Use(cors.New(cors.Config{
		AllowOrigins: normalizeOrigins(cfg.CorsOrigins),
		AllowMethods: []string{"GET", "POST"},
		AllowHeaders: []string{"Origin", "Content-Type", "Authorization"},
		MaxAge:       12 * time.Hour,
	}))
	_ = r.SetTrustedProxies([]string{"127.0.0.1", "::1"})

	s := &Server{cfg: cfg, router: r, appeared: time.Now()}
	s.registerRoutes()
	return s
}

func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) registerRoutes() {
	s.router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":  "ok",
			"uptime":  time.Since(s.appeared).String(),
			"service": s.cfg.ID,
			"version": version,
		})
	})

	s.router.GET("/ready", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"ready":   true,
			"uptime":  time.Since(s.appeared).String(),
			"service": s.cfg.ID,
			"version": version,
		})
	})

	s.router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	s.router.GET("/feed", func(c *gin.Context) {
		if s.cfg.Feed == nil {
			c.JSON(http.StatusNotFound, gin.H{"error": "no feed configured"})
			return
		}
		stats := s.cfg.Feed.Stats()
		addr := ""
		if a := s.cfg.Feed.Addr(); a != nil {
			addr = a.String()
		}
		c.JSON(http.StatusOK, gin.H{
			"addr":        addr,
			"frames":      s.cfg.Feed.Frames(),
			"connections": stats.Connections,
			"active":      stats.Active,
			"bytes_sent":  stats.BytesSent,
			"failures":    stats.Failures,
		})
	})

	s.router.POST("/resolve", auth.Middleware(s.cfg.Auth), s.handleResolve)
}

// allowSource maps one requested source onto something the server may open: a chain
// file directly inside DataDir, or a listed feed.
func (s *Server) allowSource(uri string) (string, error) {
	uri = strings.TrimSpace(uri)
	if uri == "" {
		return "", source.ErrEmptyURI
	}
	if addr, ok := strings.CutPrefix(uri, "tcp://"); ok {
		for _, allowed := range s.cfg.Feeds {
			if addr == allowed {
				return uri, nil
			}
		}
		return "", fmt.Errorf("%w: feed %s is not listed", ErrSourceNotAllowed, addr)
	}
	if s.cfg.DataDir == "" || uri == "-" || strings.Contains(uri, "://") ||
		strings.ContainsAny(uri, `/\`) || uri == "." || uri == ".." || filepath.Base(uri) != uri {
		return "", fmt.Errorf("%w: %q", ErrSourceNotAllowed, uri)
	}
	return filepath.Join(s.cfg.DataDir, uri), nil
}

func (s *Server) handleResolve(c *gin.Context) {
	var req ResolveRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if req.Parallelism < 0 || req.MaxRounds < 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "parallelism and max_rounds must not be negative"})
		return
	}

	uris := make([]string, len(req.Sources))
	for i, src := range req.Sources {
		uri, err := s.allowSource(src)
		if err != nil {
			log.Warn().Err(err).Str("service", s.cfg.ID).Int("source", i).Msg("resolve source refused")
			c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("source[%d]: %v", i, err)})
			return
		}
		uris[i] = uri
	}

	ctx := c.Request.Context()
	if s.cfg.ResolveTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.cfg.ResolveTimeout)
		defer cancel()
	}

	rcs, err := source.OpenAll(ctx, uris, s.cfg.Source)
	if err != nil {
		c.JSON(openStatus(err), gin.H{"error": err.Error()})
		return
	}
	defer func() { _ = source.CloseAll(rcs) }()

	streams := make([]ancestor.Puller, len(rcs))
	for i, rc := range rcs {
		streams[i] = blockstream.New(rc, blockstream.WithName(req.Sources[i]))
	}
	opts := []ancestor.Option{ancestor.WithConcurrentPulls(req.Concurrent)}
	if req.Parallelism > 0 {
		opts = append(opts, ancestor.WithParallelism(req.Parallelism))
	}
	if req.MaxRounds > 0 {
		opts = append(opts, ancestor.WithMaxRounds(req.MaxRounds))
	}

	res, err := ancestor.Resolve(ctx, streams, opts...)
	if err != nil {
		c.JSON(resolveStatus(err), gin.H{"error": err.Error(), "rounds": res.Rounds})
		return
	}
	c.JSON(http.StatusOK, NewResolveResponse(res, req.Sources))
}

func openStatus(err error) int {
	switch {
	case errors.Is(err, source.ErrEmptyURI), errors.Is(err, source.ErrUnsupportedScheme):
		return http.StatusBadRequest
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	default:
		return http.StatusBadGateway
	}
}

func resolveStatus(err error) int {
	switch {
	case errors.Is(err, blockstream.ErrMalformedFrame), errors.Is(err, ancestor.ErrRoundLimit):
		return http.StatusUnprocessableEntity
	case errors.Is(err, blockstream.ErrSourceRead):
		return http.StatusBadGateway
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

// Serve runs the admin API on ln until ctx is done.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	srv := &http.Server{Handler: s.router, ReadHeaderTimeout: 5 * time.Second}
	stop := context.AfterFunc(ctx, func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	})
	defer stop()

	log.Info().Str("service", s.cfg.ID).Str("addr", ln.Addr().String()).Msg("admin listening")
	if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) ListenAndServe(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.cfg.Addr)
	if err != nil {
		return fmt.Errorf("admin: listen %s: %w", s.cfg.Addr, err)
	}
	return s.Serve(ctx, ln)
}

func normalizeOrigins(origins []string) []string {
	if len(origins) == 0 {
		return []string{"http://localhost:3000"}
	}
	return origins
}
