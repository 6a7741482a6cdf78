package blockstream

import (
	"context"
	"errors"
	"fmt"
	"io"
	"iter"
	"time"

	"github.com/danmuck/chainstream/internal/observability"
	"github.com/danmuck/chainstream/internal/protocol/block"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// maxEmptyReads bounds consecutive (0, nil) reads before the source is declared stuck.
const maxEmptyReads = 100

var (
	ErrMalformedFrame = errors.New("blockstream: malformed frame")
	ErrSourceRead     = errors.New("blockstream: source read failed")
)

// SourceError reports a failure of the underlying byte source. It matches both
// ErrSourceRead and the original cause under errors.Is.
type SourceError struct {
	Stream string
	Offset int64
	Err    error
}

func (e *SourceError) Error() string {
	return fmt.Sprintf("blockstream: source %q read failed at offset %d: %v", e.Stream, e.Offset, e.Err)
}

func (e *SourceError) Unwrap() []error {
	return []error{ErrSourceRead, e.Err}
}

// Stats counts what one stream has consumed so far.
type Stats struct {
	Frames int
	Bytes  int64
	Reads  int
}

type readDeadliner interface {
	SetReadDeadline(time.Time) error
}

// Stream lazily decodes blocks from one byte source. A Stream is finite and not restartable:
// after the first terminal outcome every call to Next returns io.EOF.
// It is not safe for concurrent use.
type Stream struct {
	src    io.Reader
	name   string
	logger zerolog.Logger
	buf    [block.FrameLen]byte
	done   bool
	stats  Stats
}

type Option func(*Stream)

func WithName(name string) Option {
	return func(s *Stream) { s.name = name }
}

func WithLogger(logger zerolog.Logger) Option {
	return func(s *Stream) { s.logger = logger }
}

func New(src io.Reader, opts ...Option) *Stream {
	s := &Stream{
		src:    src,
		name:   "stream",
		logger: log.Logger,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.With().Str("stream", s.name).Logger()
	return s
}

func (s *Stream) Name() string {
	return s.name
}

func (s *Stream) Stats() Stats {
	return s.stats
}

// Done reports whether the stream has reached a terminal outcome.
func (s *Stream) Done() bool {
	return s.done
}

// Next returns the next block. It returns io.EOF when the source ended cleanly on a frame
// boundary or the stream already terminated, ErrMalformedFrame when the source ended
// mid-frame, a *SourceError when a read failed, and the context error on cancellation.
func (s *Stream) Next(ctx context.Context) (block.Block, error) {
	if s.done {
		return block.Block{}, io.EOF
	}
	defer s.watch(ctx)()

	n := 0
	empty := 0
	for n < block.FrameLen {
		if err := ctx.Err(); err != nil {
			return s.cancel(err)
		}
		m, err := s.src.Read(s.buf[n:])
		s.stats.Reads++
		s.stats.Bytes += int64(m)
		n += m
		if n == block.FrameLen {
			break
		}
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return s.cancel(ctxErr)
			}
			if errors.Is(err, io.EOF) {
				if n == 0 {
					s.done = true
					s.logger.Debug().Int("frames", s.stats.Frames).Msg("stream exhausted")
					return block.Block{}, io.EOF
				}
				return s.malformed(n)
			}
			return s.sourceFailure(err)
		}
		if m > 0 {
			empty = 0
			continue
		}
		empty++
		if empty >= maxEmptyReads {
			return s.sourceFailure(io.ErrNoProgress)
		}
	}

	b := block.DecodeFrame(&s.buf)
	s.stats.Frames++
	observability.RecordFrameDecoded(s.name)
	s.logger.Trace().Uint64("number", b.Number).Stringer("parent", b.ParentHash).Msg("frame decoded")
	return b, nil
}

// All ranges over the remaining blocks. A terminal error is yielded once; clean
// exhaustion ends the sequence without an item.
func (s *Stream) All(ctx context.Context) iter.Seq2[block.Block, error] {
	return func(yield func(block.Block, error) bool) {
		for {
			b, err := s.Next(ctx)
			if err == io.EOF {
				return
			}
			if !yield(b, err) || err != nil {
				return
			}
		}
	}
}

// Close terminates the stream and closes the source when it is an io.Closer.
func (s *Stream) Close() error {
	s.done = true
	if c, ok := s.src.(io.Closer); ok {
		return c.Close()
	}
	return nil
}

// watch expires the read deadline of sources that support one once ctx is done, so a
// blocked read returns with ctx.Err() already set. The returned func clears the deadline,
// after waiting out an expiry that already started so it cannot land on a later call.
func (s *Stream) watch(ctx context.Context) func() {
	d, ok := s.src.(readDeadliner)
	if !ok || ctx.Done() == nil {
		return func() {}
	}
	expired := make(chan struct{})
	stop := context.AfterFunc(ctx, func() {
		defer close(expired)
		_ = d.SetReadDeadline(time.Now())
	})
	return func() {
		if !stop() {
			<-expired
		}
		_ = d.SetReadDeadline(time.Time{})
	}
}

func (s *Stream) offset() int64 {
	return int64(s.stats.Frames) * block.FrameLen
}

func (s *Stream) malformed(collected int) (block.Block, error) {
	s.done = true
	observability.RecordStreamFailure(s.name, "malformed")
	s.logger.Warn().Int("collected", collected).Int64("offset", s.offset()).Msg("source closed mid-frame")
	return block.Block{}, fmt.Errorf("%w: %q closed after %d of %d bytes at offset %d",
		ErrMalformedFrame, s.name, collected, block.FrameLen, s.offset())
}

func (s *Stream) sourceFailure(err error) (block.Block, error) {
	s.done = true
	observability.RecordStreamFailure(s.name, "source")
	s.logger.Warn().Err(err).Int64("offset", s.offset()).Msg("source read failed")
	return block.Block{}, &SourceError{Stream: s.name, Offset: s.offset(), Err: err}
}

func (s *Stream) cancel(err error) (block.Block, error) {
	s.done = true
	observability.RecordStreamFailure(s.name, "canceled")
	s.logger.Debug().Err(err).Msg("stream canceled")
	return block.Block{}, err
}
