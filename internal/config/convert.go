package config

import (
	"path/filepath"
	"slices"
	"strings"
	"time"

	"github.com/danmuck/chainstream/internal/admin"
	"github.com/danmuck/chainstream/internal/ancestor"
	"github.com/danmuck/chainstream/internal/auth"
	"github.com/danmuck/chainstream/internal/feed"
	"github.com/danmuck/chainstream/internal/source"
)

// SourceConfig maps dial settings onto source.DefaultConfig. Call on validated configs.
func (c ResolveConfig) SourceConfig() source.Config {
	out := source.DefaultConfig()
	if d, _ := parseDuration("dial_timeout", c.DialTimeout); d > 0 {
		out.DialTimeout = d
	}
	if c.DialAttempts > 0 {
		out.DialAttempts = c.DialAttempts
	}
	if d, _ := parseDuration("dial_backoff", c.DialBackoff); d > 0 {
		out.Backoff.InitialDelay = d
	}
	if d, _ := parseDuration("dial_backoff_max", c.DialBackoffMax); d > 0 {
		out.Backoff.MaxDelay = d
	}
	return out
}

// TimeoutDuration is the bound for one whole resolution; zero means none.
func (c ResolveConfig) TimeoutDuration() time.Duration {
	d, _ := parseDuration("timeout", c.Timeout)
	return d
}

func (c ResolveConfig) ResolverOptions() []ancestor.Option {
	opts := []ancestor.Option{ancestor.WithConcurrentPulls(c.Concurrent)}
	if c.Parallelism > 0 {
		opts = append(opts, ancestor.WithParallelism(c.Parallelism))
	}
	if c.MaxRounds > 0 {
		opts = append(opts, ancestor.WithMaxRounds(c.MaxRounds))
	}
	return opts
}

func (c FeedConfig) Feed() feed.Config {
	wt, _ := parseDuration("write_timeout", c.WriteTimeout)
	return feed.Config{
		ID:             c.ID,
		ListenAddr:     c.Addr,
		ChainFile:      c.ChainFile,
		ChunkBytes:     c.ChunkBytes,
		BytesPerSecond: c.BytesPerSecond,
		WriteTimeout:   wt,
	}
}

// Admin builds the admin API config. Chain files next to chain_file are resolvable
// unless data_dir says otherwise, and the served feed is always dialable.
func (c FeedConfig) Admin(f *feed.Server) admin.Config {
	dataDir := strings.TrimSpace(c.DataDir)
	if dataDir == "" {
		dataDir = filepath.Dir(c.ChainFile)
	}
	feeds := slices.Clone(c.ResolveFeeds)
	if !slices.Contains(feeds, c.Addr) {
		feeds = append(feeds, c.Addr)
	}
	return admin.Config{
		ID:          c.ID,
		Addr:        c.AdminAddr,
		CorsOrigins: c.CorsOrigins,
		Auth:        auth.StaticToken{Token: strings.TrimSpace(c.AdminToken)},
		DataDir:     dataDir,
		Feeds:       feeds,
		Feed:        f,
	}
}
