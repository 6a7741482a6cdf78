package chain

import (
	"bytes"
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/danmuck/chainstream/internal/protocol/block"
	"github.com/danmuck/chainstream/internal/protocol/blockstream"
	"github.com/danmuck/chainstream/internal/testutil/testlog"
)

func TestBuilderLinksParents(t *testing.T) {
	testlog.Start(t)
	b := NewBuilder().Next([]byte("g")).Next([]byte("one")).Append(5, []byte("five"))
	if err := b.Err(); err != nil {
		t.Fatalf("build: %v", err)
	}
	blocks := b.Blocks()
	if len(blocks) != 3 {
		t.Fatalf("expected 3 blocks, got %d", len(blocks))
	}
	if !blocks[0].IsGenesis() || blocks[0].Number != 0 {
		t.Fatalf("first block must be genesis at 0: %s", blocks[0])
	}
	for i := 1; i < len(blocks); i++ {
		if blocks[i].ParentHash != block.Digest(blocks[i-1]) {
			t.Fatalf("block %d not linked to its parent", blocks[i].Number)
		}
	}
	if blocks[2].Number != 5 {
		t.Fatalf("append must keep explicit number, got %d", blocks[2].Number)
	}
}

func TestBuilderRejectsNonAscending(t *testing.T) {
	testlog.Start(t)
	b := NewBuilder().Append(4, nil).Append(4, nil).Next(nil)
	if !errors.Is(b.Err(), ErrNotAscending) {
		t.Fatalf("expected ErrNotAscending, got %v", b.Err())
	}
	if len(b.Blocks()) != 1 {
		t.Fatalf("builder must stop at the first error")
	}
}

func TestFromSharesPrefix(t *testing.T) {
	testlog.Start(t)
	base := NewBuilder().Next(nil).Next(nil).Next(nil).Next(nil).Blocks()
	side := From(base, 1).Next([]byte("side")).Blocks()
	if side[1] != base[1] {
		t.Fatalf("shared prefix must be identical")
	}
	if side[2] == base[2] || side[2].ParentHash != base[2].ParentHash {
		t.Fatalf("fork child must differ in content but share its parent")
	}
}

func TestFramesStreamTipFirst(t *testing.T) {
	testlog.Start(t)
	blocks := NewBuilder().Next(nil).Next(nil).Next(nil).Blocks()
	s := blockstream.New(bytes.NewReader(Frames(blocks)))
	for i := len(blocks) - 1; i >= 0; i-- {
		got, err := s.Next(context.Background())
		if err != nil {
			t.Fatalf("next: %v", err)
		}
		if got != blocks[i] {
			t.Fatalf("expected %s, got %s", blocks[i], got)
		}
	}
	if _, err := s.Next(context.Background()); err != io.EOF {
		t.Fatalf("expected io.EOF, got %v", err)
	}
}

const manifestTOML = `
[[chain]]
name = "main"
numbers = [0, 1, 2, 3, 4, 5]

[[chain]]
name = "side"
file = "side.chain.gz"
fork_of = "main"
fork_at = 3
numbers = [4, 5, 6, 7]

[[chain]]
name = "island"
roots = [40]
numbers = [40, 41]
`

func writeManifest(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "chains.toml")
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write manifest: %v", err)
	}
	return path
}

func TestManifestBuildAndWrite(t *testing.T) {
	testlog.Start(t)
	m, err := LoadManifest(writeManifest(t, manifestTOML))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	built, err := m.Build()
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	if len(built) != 3 {
		t.Fatalf("expected 3 chains, got %d", len(built))
	}
	main, side, island := built[0], built[1], built[2]
	if side.Blocks[3] != main.Blocks[3] {
		t.Fatalf("side must share main up to fork_at")
	}
	if side.Blocks[4].ParentHash != block.Digest(main.Blocks[3]) {
		t.Fatalf("side must fork from main block 3")
	}
	if !island.Blocks[0].IsGenesis() || island.Blocks[0].Number != 40 {
		t.Fatalf("island must start at root 40: %s", island.Blocks[0])
	}

	dir := t.TempDir()
	paths, err := WriteFiles(dir, built)
	if err != nil {
		t.Fatalf("write files: %v", err)
	}
	if filepath.Base(paths[1]) != "side.chain.gz" || filepath.Base(paths[0]) != "main.chain" {
		t.Fatalf("unexpected paths: %v", paths)
	}
	raw, err := os.ReadFile(paths[0])
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if !bytes.Equal(raw, Frames(main.Blocks)) {
		t.Fatalf("main chain file differs from encoded frames")
	}
}

func TestManifestRejectsBadInput(t *testing.T) {
	testlog.Start(t)
	cases := map[string]string{
		"unknown key":  "[[chain]]\nname = \"a\"\nnumbers = [1]\ncolour = \"red\"\n",
		"forward fork": "[[chain]]\nname = \"a\"\nfork_of = \"b\"\n[[chain]]\nname = \"b\"\nnumbers = [1]\n",
		"duplicate":    "[[chain]]\nname = \"a\"\nnumbers = [1]\n[[chain]]\nname = \"a\"\nnumbers = [2]\n",
		"empty":        "",
	}
	for name, body := range cases {
		if _, err := LoadManifest(writeManifest(t, body)); !errors.Is(err, ErrInvalidManifest) {
			t.Fatalf("%s: expected ErrInvalidManifest, got %v", name, err)
		}
	}

	m := Manifest{Chains: []Entry{{Name: "a", Numbers: []uint64{3, 2}}}}
	if _, err := m.Build(); !errors.Is(err, ErrNotAscending) {
		t.Fatalf("expected ErrNotAscending from Build, got %v", err)
	}
}
