package source

import (
	"bytes"
	"context"
	"io"
	"net"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/danmuck/chainstream/internal/protocol/block"
	"github.com/danmuck/chainstream/internal/testutil/testlog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRetrierDelayGrowsAndCaps(t *testing.T) {
	testlog.Start(t)
	r := newRetrier(BackoffConfig{
		InitialDelay: 100 * time.Millisecond,
		Multiplier:   2.0,
		MaxDelay:     time.Second,
	})
	assert.Equal(t, 100*time.Millisecond, r.delay(1))
	assert.Equal(t, 200*time.Millisecond, r.delay(2))
	assert.Equal(t, 800*time.Millisecond, r.delay(4))
	assert.Equal(t, time.Second, r.delay(9))
	assert.Equal(t, time.Second, r.delay(200))

	r.cfg.Jitter = true
	for i := 0; i < 50; i++ {
		got := r.delay(3)
		assert.GreaterOrEqual(t, got, 200*time.Millisecond)
		assert.LessOrEqual(t, got, 400*time.Millisecond)
	}
}

func TestRetrierJittersFirstAttempt(t *testing.T) {
	testlog.Start(t)
	r := newRetrier(BackoffConfig{InitialDelay: time.Second, Multiplier: 2, Jitter: true})
	seen := make(map[time.Duration]bool)
	for i := 0; i < 64; i++ {
		got := r.delay(1)
		require.GreaterOrEqual(t, got, 500*time.Millisecond)
		require.LessOrEqual(t, got, time.Second)
		seen[got] = true
	}
	assert.Greater(t, len(seen), 1, "first retry delay must vary between dials")
}

func TestConfigValidate(t *testing.T) {
	testlog.Start(t)
	require.NoError(t, DefaultConfig().Validate())

	cases := []struct {
		name   string
		mutate func(*Config)
	}{
		{"negative timeout", func(c *Config) { c.DialTimeout = -time.Second }},
		{"negative attempts", func(c *Config) { c.DialAttempts = -1 }},
		{"negative initial", func(c *Config) { c.Backoff.InitialDelay = -time.Millisecond }},
		{"shrinking multiplier", func(c *Config) { c.Backoff.Multiplier = 0.5 }},
		{"cap below initial", func(c *Config) { c.Backoff.MaxDelay = time.Millisecond }},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tc.mutate(&cfg)
			assert.Error(t, cfg.Validate())
		})
	}

	cfg := DefaultConfig()
	cfg.Backoff.Multiplier = 0.5
	_, err := Dial(context.Background(), "127.0.0.1:1", cfg)
	assert.ErrorIs(t, err, ErrInvalidBackoff)
}

func sampleFrames(t *testing.T) []byte {
	t.Helper()
	var buf bytes.Buffer
	for n := uint64(6); n > 0; n-- {
		b := block.Block{Number: n, Content: block.ContentFrom([]byte{'s', byte(n)})}
		require.NoError(t, block.WriteBlock(&buf, b))
	}
	return buf.Bytes()
}

func TestCreateAndOpenFileByExtension(t *testing.T) {
	testlog.Start(t)
	frames := sampleFrames(t)
	dir := t.TempDir()

	for _, name := range []string{"plain.chain", "packed.chain.gz", "packed.chain.zst"} {
		t.Run(name, func(t *testing.T) {
			path := filepath.Join(dir, name)
			w, err := Create(path)
			require.NoError(t, err)
			_, err = w.Write(frames)
			require.NoError(t, err)
			require.NoError(t, w.Close())

			rc, err := Open(context.Background(), "file://"+path, DefaultConfig())
			require.NoError(t, err)
			got, err := io.ReadAll(rc)
			require.NoError(t, err)
			require.NoError(t, rc.Close())
			assert.Equal(t, frames, got)
		})
	}
}

func TestOpenRejectsBadURIs(t *testing.T) {
	testlog.Start(t)
	_, err := Open(context.Background(), "  ", DefaultConfig())
	assert.ErrorIs(t, err, ErrEmptyURI)

	_, err = Open(context.Background(), "s3://bucket/chain", DefaultConfig())
	assert.ErrorIs(t, err, ErrUnsupportedScheme)

	_, err = Open(context.Background(), filepath.Join(t.TempDir(), "missing.chain"), DefaultConfig())
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestOpenAllClosesOnFailure(t *testing.T) {
	testlog.Start(t)
	dir := t.TempDir()
	good := filepath.Join(dir, "good.chain")
	require.NoError(t, os.WriteFile(good, sampleFrames(t), 0o644))

	_, err := OpenAll(context.Background(), []string{good, filepath.Join(dir, "nope.chain")}, DefaultConfig())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "source[1]")

	rcs, err := OpenAll(context.Background(), []string{good, "file://" + good}, DefaultConfig())
	require.NoError(t, err)
	assert.Len(t, rcs, 2)
	assert.NoError(t, CloseAll(rcs))
}

func TestDialConnectsToListener(t *testing.T) {
	testlog.Start(t)
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()

	payload := sampleFrames(t)
	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		defer conn.Close()
		_, _ = conn.Write(payload)
	}()

	rc, err := Open(context.Background(), "tcp://"+ln.Addr().String(), DefaultConfig())
	require.NoError(t, err)
	defer rc.Close()
	got, err := io.ReadAll(rc)
	require.NoError(t, err)
	assert.Equal(t, payload, got)
}

func TestDialGivesUpAfterAttempts(t *testing.T) {
	testlog.Start(t)
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := ln.Addr().String()
	require.NoError(t, ln.Close())

	cfg := DefaultConfig()
	cfg.DialAttempts = 3
	cfg.Backoff = BackoffConfig{InitialDelay: 5 * time.Millisecond, Multiplier: 1}

	_, err = Dial(context.Background(), addr, cfg)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "after 3 attempt(s)")
}

func TestDialStopsOnCanceledContext(t *testing.T) {
	testlog.Start(t)
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := ln.Addr().String()
	require.NoError(t, ln.Close())

	cfg := DefaultConfig()
	cfg.DialAttempts = 10
	cfg.Backoff = BackoffConfig{InitialDelay: time.Hour}

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	start := time.Now()
	_, err = Dial(ctx, addr, cfg)
	require.Error(t, err)
	assert.Less(t, time.Since(start), 5*time.Second)
}
