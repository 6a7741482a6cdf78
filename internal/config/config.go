package config

import (
	"bytes"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"
)

// ResolveConfig drives `chainctl resolve`.
type ResolveConfig struct {
	Sources        []string `toml:"sources"`
	Concurrent     bool     `toml:"concurrent"`
	Parallelism    int      `toml:"parallelism"`
	MaxRounds      int      `toml:"max_rounds"`
	Timeout        string   `toml:"timeout"`
	DialTimeout    string   `toml:"dial_timeout"`
	DialAttempts   int      `toml:"dial_attempts"`
	DialBackoff    string   `toml:"dial_backoff"`
	DialBackoffMax string   `toml:"dial_backoff_max"`
}

// FeedConfig drives `chainctl serve`: one block feed plus an optional admin API.
type FeedConfig struct {
	ID             string   `toml:"id"`
	Addr           string   `toml:"addr"`
	AdminAddr      string   `toml:"admin_addr"`
	AdminToken     string   `toml:"admin_token"`
	DataDir        string   `toml:"data_dir"`
	ResolveFeeds   []string `toml:"resolve_feeds"`
	ChainFile      string   `toml:"chain_file"`
	ChunkBytes     int      `toml:"chunk_bytes"`
	BytesPerSecond int      `toml:"bytes_per_second"`
	WriteTimeout   string   `toml:"write_timeout"`
	CorsOrigins    []string `toml:"cors_origins"`
}

func DefaultResolveConfig() ResolveConfig {
	return ResolveConfig{
		Timeout:      "30s",
		DialTimeout:    "5s",
		DialAttempts:   3,
		DialBackoff:    "250ms",
		DialBackoffMax: "5s",
	}
}

func DefaultFeedConfig() FeedConfig {
	return FeedConfig{
		ID:           "feed",
		Addr:         "127.0.0.1:7400",
		ChunkBytes:   56,
		WriteTimeout: "10s",
	}
}

func LoadResolveConfig(path string) (ResolveConfig, error) {
	cfg := DefaultResolveConfig()
	if err := loadToml(path, &cfg); err != nil {
		return ResolveConfig{}, err
	}
	if err := ValidateResolveConfig(cfg); err != nil {
		return ResolveConfig{}, err
	}
	return cfg, nil
}

func LoadFeedConfig(path string) (FeedConfig, error) {
	cfg := DefaultFeedConfig()
	if err := loadToml(path, &cfg); err != nil {
		return FeedConfig{}, err
	}
	if err := ValidateFeedConfig(cfg); err != nil {
		return FeedConfig{}, err
	}
	return cfg, nil
}

func loadToml(path string, out any) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("config load failed (%s): %w", path, err)
	}
	dec := toml.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	if err := dec.Decode(out); err != nil {
		return fmt.Errorf("config parse failed (%s): %w", path, err)
	}
	return nil
}

func ValidateResolveConfig(cfg ResolveConfig) error {
	for i, src := range cfg.Sources {
		if strings.TrimSpace(src) == "" {
			return fmt.Errorf("source[%d] is empty", i)
		}
	}
	if cfg.Parallelism < 0 {
		return fmt.Errorf("parallelism must not be negative")
	}
	if cfg.MaxRounds < 0 {
		return fmt.Errorf("max_rounds must not be negative")
	}
	if cfg.DialAttempts < 1 {
		return fmt.Errorf("dial_attempts must be at least 1")
	}
	if _, err := parseDuration("timeout", cfg.Timeout); err != nil {
		return err
	}
	if _, err := parseDuration("dial_timeout", cfg.DialTimeout); err != nil {
		return err
	}
	if _, err := parseDuration("dial_backoff", cfg.DialBackoff); err != nil {
		return err
	}
	if _, err := parseDuration("dial_backoff_max", cfg.DialBackoffMax); err != nil {
		return err
	}
	return cfg.SourceConfig().Validate()
}

func ValidateFeedConfig(cfg FeedConfig) error {
	if strings.TrimSpace(cfg.ID) == "" {
		return fmt.Errorf("feed config missing id")
	}
	if strings.TrimSpace(cfg.Addr) == "" {
		return fmt.Errorf("feed config missing addr")
	}
	if strings.TrimSpace(cfg.ChainFile) == "" {
		return fmt.Errorf("feed config missing chain_file")
	}
	if cfg.ChunkBytes <= 0 {
		return fmt.Errorf("chunk_bytes must be positive")
	}
	if cfg.BytesPerSecond < 0 {
		return fmt.Errorf("bytes_per_second must not be negative")
	}
	if _, err := parseDuration("write_timeout", cfg.WriteTimeout); err != nil {
		return err
	}
	if strings.TrimSpace(cfg.AdminAddr) != "" && strings.TrimSpace(cfg.AdminToken) == "" {
		return fmt.Errorf("admin_addr requires admin_token")
	}
	for i, addr := range cfg.ResolveFeeds {
		if strings.TrimSpace(addr) == "" || strings.Contains(addr, "://") {
			return fmt.Errorf("resolve_feeds[%d] must be a host:port address", i)
		}
	}
	return nil
}

// parseDuration treats an empty value as zero.
func parseDuration(field, raw string) (time.Duration, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return 0, fmt.Errorf("%s invalid: %w", field, err)
	}
	if d < 0 {
		return 0, fmt.Errorf("%s must not be negative", field)
	}
	return d, nil
}
