package source

import (
	"errors"
	"fmt"
	"math"
	"math/rand"
	"time"
)

var ErrInvalidBackoff = errors.New("source: invalid backoff")

// BackoffConfig spaces out dial retries. The base delay for retry n is
// InitialDelay*Multiplier^(n-1), capped at MaxDelay. With Jitter each delay is drawn
// from [base/2, base] so dialers that failed together do not retry together.
type BackoffConfig struct {
	InitialDelay time.Duration
	Multiplier   float64
	MaxDelay     time.Duration
	Jitter       bool
}

func (c BackoffConfig) Validate() error {
	switch {
	case c.InitialDelay < 0:
		return fmt.Errorf("%w: negative initial delay %s", ErrInvalidBackoff, c.InitialDelay)
	case c.MaxDelay < 0:
		return fmt.Errorf("%w: negative max delay %s", ErrInvalidBackoff, c.MaxDelay)
	case c.Multiplier != 0 && c.Multiplier < 1:
		return fmt.Errorf("%w: multiplier %.2f below 1", ErrInvalidBackoff, c.Multiplier)
	case c.MaxDelay > 0 && c.MaxDelay < c.InitialDelay:
		return fmt.Errorf("%w: max delay %s below initial delay %s", ErrInvalidBackoff, c.MaxDelay, c.InitialDelay)
	}
	return nil
}

// retrier yields the delays of one dial sequence. Each Dial owns one, so the rng is
// never shared between goroutines.
type retrier struct {
	cfg BackoffConfig
	rng *rand.Rand
}

func newRetrier(cfg BackoffConfig) *retrier {
	if cfg.Multiplier == 0 {
		cfg.Multiplier = 1
	}
	return &retrier{cfg: cfg, rng: rand.New(rand.NewSource(time.Now().UnixNano()))}
}

// delay returns the wait after failed attempt n (1-based).
func (r *retrier) delay(attempt int) time.Duration {
	base := r.base(attempt)
	if !r.cfg.Jitter || base <= 1 {
		return base
	}
	half := base / 2
	return half + time.Duration(r.rng.Int63n(int64(base-half)+1))
}

func (r *retrier) base(attempt int) time.Duration {
	if r.cfg.InitialDelay <= 0 {
		return 0
	}
	d := float64(r.cfg.InitialDelay) * math.Pow(r.cfg.Multiplier, float64(max(attempt, 1)-1))
	if r.cfg.MaxDelay > 0 && d > float64(r.cfg.MaxDelay) {
		return r.cfg.MaxDelay
	}
	if d >= math.MaxInt64 {
		return time.Duration(math.MaxInt64)
	}
	return time.Duration(d)
}
