package source

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"strings"
	"time"

	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"
	"github.com/rs/zerolog/log"
)

var (
	ErrEmptyURI          = errors.New("source: empty uri")
	ErrUnsupportedScheme = errors.New("source: unsupported scheme")
)

// Config controls how sources are opened. Reads carry no timeout of their own; callers
// bound them with a context.
type Config struct {
	DialTimeout  time.Duration
	DialAttempts int
	Backoff      BackoffConfig
}

func (c Config) Validate() error {
	if c.DialTimeout < 0 {
		return fmt.Errorf("source: negative dial timeout %s", c.DialTimeout)
	}
	if c.DialAttempts < 0 {
		return fmt.Errorf("source: negative dial attempts %d", c.DialAttempts)
	}
	return c.Backoff.Validate()
}

func DefaultConfig() Config {
	return Config{
		DialTimeout:  5 * time.Second,
		DialAttempts: 3,
		Backoff: BackoffConfig{
			InitialDelay: 250 * time.Millisecond,
			Multiplier:   2.0,
			MaxDelay:     5 * time.Second,
			Jitter:       true,
		},
	}
}

// Open returns the byte source named by uri:
// - "-" reads stdin
// - "tcp://host:port" dials a block feed, retrying with backoff
// - "file://path" or a bare path opens a file; .gz and .zst are decompressed
func Open(ctx context.Context, uri string, cfg Config) (io.ReadCloser, error) {
	uri = strings.TrimSpace(uri)
	switch {
	case uri == "":
		return nil, ErrEmptyURI
	case uri == "-":
		return io.NopCloser(os.Stdin), nil
	case strings.HasPrefix(uri, "tcp://"):
		return Dial(ctx, strings.TrimPrefix(uri, "tcp://"), cfg)
	case strings.HasPrefix(uri, "file://"):
		return OpenFile(strings.TrimPrefix(uri, "file://"))
	case strings.Contains(uri, "://"):
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedScheme, uri)
	default:
		return OpenFile(uri)
	}
}

// OpenAll opens every uri in order. On failure the sources already opened are closed.
func OpenAll(ctx context.Context, uris []string, cfg Config) ([]io.ReadCloser, error) {
	out := make([]io.ReadCloser, 0, len(uris))
	for i, uri := range uris {
		rc, err := Open(ctx, uri, cfg)
		if err != nil {
			_ = CloseAll(out)
			return nil, fmt.Errorf("source[%d] %q: %w", i, uri, err)
		}
		out = append(out, rc)
	}
	return out, nil
}

func CloseAll(sources []io.ReadCloser) error {
	var errs []error
	for _, rc := range sources {
		if err := rc.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Dial connects to a block feed. Failed dials are retried with backoff up to
// cfg.DialAttempts; the context bounds the whole sequence.
func Dial(ctx context.Context, addr string, cfg Config) (net.Conn, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	attempts := max(cfg.DialAttempts, 1)
	d := net.Dialer{Timeout: cfg.DialTimeout}
	retry := newRetrier(cfg.Backoff)

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		conn, err := d.DialContext(ctx, "tcp", addr)
		if err == nil {
			return conn, nil
		}
		lastErr = err
		if attempt == attempts || ctx.Err() != nil {
			break
		}
		delay := retry.delay(attempt)
		log.Warn().Str("addr", addr).Int("attempt", attempt).Dur("retry_in", delay).Err(err).Msg("feed dial failed")
		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, ctx.Err()
		case <-timer.C:
		}
	}
	return nil, fmt.Errorf("source: dial %s failed after %d attempt(s): %w", addr, attempts, lastErr)
}

// closers runs every close func in order and joins the failures.
type closers []func() error

func (c closers) Close() error {
	var errs []error
	for _, fn := range c {
		if err := fn(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

type stackedReader struct {
	io.Reader
	closers
}

type stackedWriter struct {
	io.Writer
	closers
}

func OpenFile(path string) (io.ReadCloser, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("source: open %s: %w", path, err)
	}
	switch {
	case strings.HasSuffix(path, ".gz"):
		zr, err := gzip.NewReader(f)
		if err != nil {
			_ = f.Close()
			return nil, fmt.Errorf("source: gzip %s: %w", path, err)
		}
		return &stackedReader{Reader: zr, closers: closers{zr.Close, f.Close}}, nil
	case strings.HasSuffix(path, ".zst"):
		zr, err := zstd.NewReader(f)
		if err != nil {
			_ = f.Close()
			return nil, fmt.Errorf("source: zstd %s: %w", path, err)
		}
		rc := zr.IOReadCloser()
		return &stackedReader{Reader: rc, closers: closers{rc.Close, f.Close}}, nil
	default:
		return f, nil
	}
}

// Create opens path for writing, compressing by extension like OpenFile.
func Create(path string) (io.WriteCloser, error) {
	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("source: create %s: %w", path, err)
	}
	switch {
	case strings.HasSuffix(path, ".gz"):
		zw := gzip.NewWriter(f)
		return &stackedWriter{Writer: zw, closers: closers{zw.Close, f.Close}}, nil
	case strings.HasSuffix(path, ".zst"):
		zw, err := zstd.NewWriter(f)
		if err != nil {
			_ = f.Close()
			return nil, fmt.Errorf("source: zstd %s: %w", path, err)
		}
		return &stackedWriter{Writer: zw, closers: closers{zw.Close, f.Close}}, nil
	default:
		return f, nil
	}
}
