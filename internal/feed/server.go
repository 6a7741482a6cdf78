package feed

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/danmuck/chainstream/internal/observability"
	"github.com/danmuck/chainstream/internal/protocol/block"
	"github.com/danmuck/chainstream/internal/source"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"
)

var ErrPartialFrames = errors.New("feed: chain data is not a whole number of frames")

// Feed server configuration.
type Config struct {
	ID         string
	ListenAddr string
	ChainFile  string
	// ChunkBytes is the write size on the wire. Values that do not divide the frame
	// length split frames across writes.
	ChunkBytes int
	// BytesPerSecond throttles each connection. Zero disables throttling.
	BytesPerSecond int
	WriteTimeout   time.Duration
}

// Feed defaults.
func DefaultConfig() Config {
	return Config{
		ID:           "feed",
		ListenAddr:   "127.0.0.1:7400",
		ChunkBytes:   block.FrameLen,
		WriteTimeout: 10 * time.Second,
	}
}

func (c Config) withDefaults() Config {
	def := DefaultConfig()
	if strings.TrimSpace(c.ID) == "" {
		c.ID = def.ID
	}
	if strings.TrimSpace(c.ListenAddr) == "" {
		c.ListenAddr = def.ListenAddr
	}
	if c.ChunkBytes <= 0 {
		c.ChunkBytes = def.ChunkBytes
	}
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = def.WriteTimeout
	}
	return c
}

// Feed counters since start.
type Stats struct {
	Connections int64
	Active      int64
	BytesSent   int64
	Failures    int64
}

// Feed server that writes one chain, tip first, to every client and hangs up.
type Server struct {
	cfg    Config
	frames []byte
	logger zerolog.Logger

	addrMu sync.Mutex
	addr   net.Addr

	connsMu sync.Mutex
	conns   map[net.Conn]struct{}
	wg      sync.WaitGroup

	connections atomic.Int64
	active      atomic.Int64
	bytesSent   atomic.Int64
	failures    atomic.Int64
}

// Feed constructor that loads cfg.ChainFile through the source package.
func New(cfg Config) (*Server, error) {
	if strings.TrimSpace(cfg.ChainFile) == "" {
		return nil, fmt.Errorf("feed: chain file required")
	}
	rc, err := source.OpenFile(cfg.ChainFile)
	if err != nil {
		return nil, err
	}
	defer rc.Close()
	frames, err := io.ReadAll(rc)
	if err != nil {
		return nil, fmt.Errorf("feed: read %s: %w", cfg.ChainFile, err)
	}
	return NewWithFrames(cfg, frames)
}

// Feed constructor for already encoded frames.
func NewWithFrames(cfg Config, frames []byte) (*Server, error) {
	if len(frames)%block.FrameLen != 0 {
		return nil, fmt.Errorf("%w: %d bytes", ErrPartialFrames, len(frames))
	}
	cfg = cfg.withDefaults()
	return &Server{
		cfg:    cfg,
		frames: frames,
		logger: log.Logger.With().Str("feed", cfg.ID).Logger(),
		conns:  make(map[net.Conn]struct{}),
	}, nil
}

func (s *Server) Frames() int {
	return len(s.frames) / block.FrameLen
}

// Addr reports the bound listener address once serving.
func (s *Server) Addr() net.Addr {
	s.addrMu.Lock()
	defer s.addrMu.Unlock()
	return s.addr
}

func (s *Server) Stats() Stats {
	return Stats{
		Connections: s.connections.Load(),
		Active:      s.active.Load(),
		BytesSent:   s.bytesSent.Load(),
		Failures:    s.failures.Load(),
	}
}

// Feed runtime entrypoint bound to cfg.ListenAddr.
func (s *Server) ListenAndServe(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.cfg.ListenAddr)
	if err != nil {
		return fmt.Errorf("feed: listen %s: %w", s.cfg.ListenAddr, err)
	}
	return s.Serve(ctx, ln)
}

// Serve accepts until ctx is done, then closes open connections and waits for their
// handlers. Shutdown returns nil.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	s.addrMu.Lock()
	s.addr = ln.Addr()
	s.addrMu.Unlock()

	defer ln.Close()
	defer s.wg.Wait()
	stop := context.AfterFunc(ctx, func() {
		s.closeAllConns()
		_ = ln.Close()
	})
	defer stop()

	s.logger.Info().Str("addr", ln.Addr().String()).Int("frames", s.Frames()).Msg("feed listening")
	for {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				s.logger.Info().Msg("feed stopped")
				return nil
			}
			return err
		}
		s.trackConn(conn)
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.handleConn(ctx, conn)
		}()
	}
}

func (s *Server) handleConn(ctx context.Context, conn net.Conn) {
	defer conn.Close()
	defer s.untrackConn(conn)
	remote := conn.RemoteAddr().String()
	s.connections.Add(1)
	active := s.active.Add(1)
	defer s.active.Add(-1)
	s.logger.Debug().Str("remote", remote).Int64("active", active).Msg("client connected")

	sent, err := s.send(ctx, conn)
	s.bytesSent.Add(sent)
	observability.RecordFeedConnection(s.cfg.ID, sent, err == nil)
	if err != nil {
		s.failures.Add(1)
		s.logger.Warn().Str("remote", remote).Int64("sent", sent).Err(err).Msg("feed write failed")
		return
	}
	s.logger.Debug().Str("remote", remote).Int64("sent", sent).Msg("client served")
}

func (s *Server) send(ctx context.Context, conn net.Conn) (int64, error) {
	var limiter *rate.Limiter
	if s.cfg.BytesPerSecond > 0 {
		limiter = rate.NewLimiter(rate.Limit(s.cfg.BytesPerSecond), max(s.cfg.BytesPerSecond, s.cfg.ChunkBytes))
	}
	var sent int64
	for off := 0; off < len(s.frames); off += s.cfg.ChunkBytes {
		chunk := s.frames[off:min(off+s.cfg.ChunkBytes, len(s.frames))]
		if limiter != nil {
			if err := limiter.WaitN(ctx, len(chunk)); err != nil {
				return sent, err
			}
		}
		if err := conn.SetWriteDeadline(time.Now().Add(s.cfg.WriteTimeout)); err != nil {
			return sent, err
		}
		n, err := conn.Write(chunk)
		sent += int64(n)
		if err != nil {
			return sent, err
		}
	}
	return sent, nil
}

func (s *Server) trackConn(conn net.Conn) {
	s.connsMu.Lock()
	defer s.connsMu.Unlock()
	s.conns[conn] = struct{}{}
}

func (s *Server) untrackConn(conn net.Conn) {
	s.connsMu.Lock()
	defer s.connsMu.Unlock()
	delete(s.conns, conn)
}

func (s *Server) closeAllConns() {
	s.connsMu.Lock()
	defer s.connsMu.Unlock()
	for conn := range s.conns {
		_ = conn.Close()
		delete(s.conns, conn)
	}
}
