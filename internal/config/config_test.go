package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/danmuck/chainstream/internal/chain"
	"github.com/danmuck/chainstream/internal/testutil/testlog"
)

func writeFile(t *testing.T, name, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write %s: %v", name, err)
	}
	return path
}

func TestLoadResolveConfigAppliesDefaults(t *testing.T) {
	testlog.Start(t)
	cfg, err := LoadResolveConfig(writeFile(t, "resolve.toml", `sources = ["a.chain", "tcp://127.0.0.1:1"]`))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(cfg.Sources) != 2 || cfg.DialAttempts != 3 {
		t.Fatalf("unexpected config: %+v", cfg)
	}
	if cfg.TimeoutDuration() != 30*time.Second {
		t.Fatalf("expected default timeout, got %s", cfg.TimeoutDuration())
	}
	sc := cfg.SourceConfig()
	if sc.DialTimeout != 5*time.Second || sc.DialAttempts != 3 {
		t.Fatalf("unexpected source config: %+v", sc)
	}
	if sc.Backoff.InitialDelay != 250*time.Millisecond || sc.Backoff.MaxDelay != 5*time.Second || !sc.Backoff.Jitter {
		t.Fatalf("unexpected backoff: %+v", sc.Backoff)
	}
	if len(cfg.ResolverOptions()) != 1 {
		t.Fatalf("expected only the pull mode option")
	}
}

func TestLoadResolveConfigRejectsBadValues(t *testing.T) {
	testlog.Start(t)
	cases := map[string]string{
		"unknown field": "sources = []\nretries = 4\n",
		"bad duration":  "timeout = \"soon\"\n",
		"negative":      "max_rounds = -1\n",
		"no dials":      "dial_attempts = 0\n",
		"empty source":  "sources = [\"\"]\n",
		"not toml":      "sources = [",
		"negative dur":  "dial_timeout = \"-1s\"\n",
		"bad parallel":  "parallelism = -2\n",
		"backoff cap":   "dial_backoff = \"10s\"\ndial_backoff_max = \"1s\"\n",
		"bad backoff":   "dial_backoff = \"later\"\n",
	}
	for name, body := range cases {
		if _, err := LoadResolveConfig(writeFile(t, "resolve.toml", body)); err == nil {
			t.Fatalf("%s: expected error", name)
		}
	}
	if _, err := LoadResolveConfig(filepath.Join(t.TempDir(), "missing.toml")); err == nil {
		t.Fatalf("expected load error for missing file")
	}
}

func TestLoadFeedConfig(t *testing.T) {
	testlog.Start(t)
	cfg, err := LoadFeedConfig(writeFile(t, "feed.toml", "id = \"main\"\nchain_file = \"main.chain\"\nchunk_bytes = 13\nwrite_timeout = \"2s\"\n"))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	fc := cfg.Feed()
	if fc.ID != "main" || fc.ListenAddr != "127.0.0.1:7400" || fc.ChunkBytes != 13 || fc.WriteTimeout != 2*time.Second {
		t.Fatalf("unexpected feed config: %+v", fc)
	}
	if _, err := LoadFeedConfig(writeFile(t, "feed.toml", "id = \"main\"\n")); err == nil ||
		!strings.Contains(err.Error(), "chain_file") {
		t.Fatalf("expected missing chain_file error, got %v", err)
	}
}

func TestFeedConfigAdmin(t *testing.T) {
	testlog.Start(t)
	body := "chain_file = \"data/main.chain\"\nadmin_addr = \"127.0.0.1:0\"\n"
	if _, err := LoadFeedConfig(writeFile(t, "feed.toml", body)); err == nil ||
		!strings.Contains(err.Error(), "admin_token") {
		t.Fatalf("expected admin_token error, got %v", err)
	}
	if _, err := LoadFeedConfig(writeFile(t, "feed.toml", body+"admin_token = \"t\"\nresolve_feeds = [\"tcp://x:1\"]\n")); err == nil {
		t.Fatalf("expected resolve_feeds error")
	}

	cfg, err := LoadFeedConfig(writeFile(t, "feed.toml", body+"admin_token = \" t0k \"\nresolve_feeds = [\"10.0.0.2:7400\"]\n"))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	ac := cfg.Admin(nil)
	if ac.DataDir != "data" {
		t.Fatalf("data dir must default to the chain file directory, got %q", ac.DataDir)
	}
	if len(ac.Feeds) != 2 || ac.Feeds[0] != "10.0.0.2:7400" || ac.Feeds[1] != "127.0.0.1:7400" {
		t.Fatalf("unexpected feeds: %v", ac.Feeds)
	}
	if ac.Auth == nil || ac.Auth.Validate("t0k") != nil || ac.Auth.Validate("other") == nil {
		t.Fatalf("admin auth must accept exactly the configured token")
	}

	cfg.DataDir = "/srv/chains"
	if got := cfg.Admin(nil).DataDir; got != "/srv/chains" {
		t.Fatalf("explicit data_dir ignored: %q", got)
	}
}

func TestTemplatesLoad(t *testing.T) {
	testlog.Start(t)
	dir := t.TempDir()

	resolvePath := filepath.Join(dir, "resolve.toml")
	if err := WriteTemplate(resolvePath, "resolve", false); err != nil {
		t.Fatalf("write resolve template: %v", err)
	}
	if _, err := LoadResolveConfig(resolvePath); err != nil {
		t.Fatalf("resolve template invalid: %v", err)
	}
	if err := WriteTemplate(resolvePath, "resolve", false); err == nil {
		t.Fatalf("expected refusal to overwrite")
	}

	feedPath := filepath.Join(dir, "feed.toml")
	if err := WriteTemplate(feedPath, "FEED", false); err != nil {
		t.Fatalf("write feed template: %v", err)
	}
	if _, err := LoadFeedConfig(feedPath); err != nil {
		t.Fatalf("feed template invalid: %v", err)
	}

	manifestPath := filepath.Join(dir, "chains.toml")
	if err := WriteTemplate(manifestPath, "manifest", false); err != nil {
		t.Fatalf("write manifest template: %v", err)
	}
	m, err := chain.LoadManifest(manifestPath)
	if err != nil {
		t.Fatalf("manifest template invalid: %v", err)
	}
	if _, err := m.Build(); err != nil {
		t.Fatalf("manifest template does not build: %v", err)
	}

	if _, err := Template("ghost"); err == nil {
		t.Fatalf("expected unknown kind error")
	}
}
