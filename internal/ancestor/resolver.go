package ancestor

import (
	"context"
	"errors"
	"fmt"
	"io"
	"slices"
	"time"

	"github.com/danmuck/chainstream/internal/observability"
	"github.com/danmuck/chainstream/internal/protocol/block"
	"github.com/danmuck/chainstream/internal/protocol/blockstream"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"
)

var ErrRoundLimit = errors.New("ancestor: round limit reached")

// Result is the outcome of one resolution. Found=false with a nil error means no common
// ancestor exists in the streamed ranges. Frontiers holds the final cursor of every chain.
type Result struct {
	Block     block.Block
	Found     bool
	Rounds    int
	Pulls     int
	Frontiers []Frontier
}

// Exhausted returns the indices of the chains that ran out of blocks.
func (r Result) Exhausted() []int {
	var idx []int
	for _, f := range r.Frontiers {
		if f.Exhausted {
			idx = append(idx, f.Index)
		}
	}
	return idx
}

type resolver struct {
	concurrent  bool
	parallelism int
	maxRounds   int
	logger      zerolog.Logger
}

type Option func(*resolver)

// WithConcurrentPulls advances the chains of one round in parallel. The result is identical
// to sequential pulls.
func WithConcurrentPulls(enabled bool) Option {
	return func(r *resolver) { r.concurrent = enabled }
}

// WithParallelism caps in-flight pulls per round when concurrent pulls are enabled.
func WithParallelism(n int) Option {
	return func(r *resolver) { r.parallelism = n }
}

// WithMaxRounds aborts with ErrRoundLimit after n merge rounds. Zero means unbounded.
func WithMaxRounds(n int) Option {
	return func(r *resolver) { r.maxRounds = n }
}

func WithLogger(logger zerolog.Logger) Option {
	return func(r *resolver) { r.logger = logger }
}

// Resolve finds the highest block identical, by number and parent hash, across all chains.
// Fewer than two chains never have a common ancestor. A stream error aborts the resolution
// and is returned unmodified.
func Resolve(ctx context.Context, streams []Puller, opts ...Option) (Result, error) {
	r := &resolver{logger: log.Logger}
	for _, opt := range opts {
		opt(r)
	}

	start := time.Now()
	res, err := r.resolve(ctx, streams)

	outcome := observability.OutcomeNotFound
	switch {
	case err != nil:
		outcome = observability.OutcomeError
	case res.Found:
		outcome = observability.OutcomeFound
	}
	observability.RecordResolution(outcome, res.Rounds, time.Since(start))

	event := r.logger.Debug()
	if err != nil {
		event = r.logger.Warn().Err(err)
	}
	event.
		Int("chains", len(streams)).
		Str("outcome", outcome).
		Int("rounds", res.Rounds).
		Int("pulls", res.Pulls).
		Ints("exhausted", res.Exhausted()).
		Uint64("number", res.Block.Number).
		Msg("resolution finished")
	return res, err
}

// FindCommonAncestor returns nil when no common ancestor exists.
func FindCommonAncestor(ctx context.Context, streams []Puller, opts ...Option) (*block.Block, error) {
	res, err := Resolve(ctx, streams, opts...)
	if err != nil || !res.Found {
		return nil, err
	}
	b := res.Block
	return &b, nil
}

// ResolveReaders wraps each reader in a block stream named chain-<i> and resolves them.
func ResolveReaders(ctx context.Context, readers []io.Reader, opts ...Option) (Result, error) {
	streams := make([]Puller, len(readers))
	for i, rd := range readers {
		streams[i] = blockstream.New(rd, blockstream.WithName(fmt.Sprintf("chain-%d", i)))
	}
	return Resolve(ctx, streams, opts...)
}

func (r *resolver) resolve(ctx context.Context, streams []Puller) (res Result, err error) {
	if len(streams) < 2 {
		return res, nil
	}

	frontiers := newFrontiers(len(streams))
	defer func() { res.Frontiers = slices.Clone(frontiers) }()
	all := make([]int, len(streams))
	for i := range all {
		all[i] = i
	}
	exhausted, err := r.advance(ctx, streams, frontiers, all, &res)
	if err != nil || exhausted {
		return res, err
	}

	for {
		if converged(frontiers) {
			res.Block = frontiers[0].Current
			res.Found = true
			return res, nil
		}
		if r.maxRounds > 0 && res.Rounds >= r.maxRounds {
			return res, fmt.Errorf("%w: %d rounds", ErrRoundLimit, res.Rounds)
		}
		if err := ctx.Err(); err != nil {
			return res, err
		}

		res.Rounds++
		idx := lagging(frontiers)
		r.logger.Trace().
			Int("round", res.Rounds).
			Uint64("height", frontiers[idx[0]].Current.Number).
			Ints("advancing", idx).
			Msg("merge round")

		exhausted, err := r.advance(ctx, streams, frontiers, idx, &res)
		if err != nil || exhausted {
			return res, err
		}
	}
}

// advance pulls the next block for each listed chain. The first terminal outcome in index
// order decides the round, so concurrent and sequential pulls agree.
func (r *resolver) advance(ctx context.Context, streams []Puller, frontiers []Frontier, idx []int, res *Result) (bool, error) {
	if !r.concurrent || len(idx) < 2 {
		for _, i := range idx {
			b, err := streams[i].Next(ctx)
			res.Pulls++
			if done, err := apply(&frontiers[i], b, err); done || err != nil {
				return done, err
			}
		}
		return false, nil
	}

	type pull struct {
		b   block.Block
		err error
	}
	pulls := make([]pull, len(idx))
	var g errgroup.Group
	if r.parallelism > 0 {
		g.SetLimit(r.parallelism)
	}
	for n, i := range idx {
		g.Go(func() error {
			b, err := streams[i].Next(ctx)
			pulls[n] = pull{b: b, err: err}
			return nil
		})
	}
	_ = g.Wait()

	res.Pulls += len(idx)
	for n, i := range idx {
		if done, err := apply(&frontiers[i], pulls[n].b, pulls[n].err); done || err != nil {
			return done, err
		}
	}
	return false, nil
}

func apply(f *Frontier, b block.Block, err error) (bool, error) {
	f.Pulls++
	if errors.Is(err, io.EOF) {
		f.Exhausted = true
		return true, nil
	}
	if err != nil {
		return false, err
	}
	f.Current = b
	return false, nil
}
