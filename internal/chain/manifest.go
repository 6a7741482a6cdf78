package chain

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/danmuck/chainstream/internal/protocol/block"
	"github.com/danmuck/chainstream/internal/source"
)

var ErrInvalidManifest = errors.New("chain: invalid manifest")

// Entry describes one chain of a manifest. Blocks listed in Numbers are appended above the
// fork point, each linked to the previous block by digest. Numbers listed in Roots get the
// zero parent hash instead.
type Entry struct {
	Name    string   `toml:"name"`
	File    string   `toml:"file"`
	Numbers []uint64 `toml:"numbers"`
	Roots   []uint64 `toml:"roots"`
	ForkOf  string   `toml:"fork_of"`
	ForkAt  uint64   `toml:"fork_at"`
	Tag     string   `toml:"tag"`
}

// Manifest is a TOML description of related chains:
//
//	[[chain]]
//	name = "main"
//	numbers = [0, 1, 2, 3, 4, 5]
//
//	[[chain]]
//	name = "side"
//	fork_of = "main"
//	fork_at = 3
//	numbers = [4, 5, 6]
type Manifest struct {
	Chains []Entry `toml:"chain"`
}

// Built is one materialized chain, oldest block first.
type Built struct {
	Name   string
	File   string
	Blocks []block.Block
}

func LoadManifest(path string) (Manifest, error) {
	var m Manifest
	meta, err := toml.DecodeFile(path, &m)
	if err != nil {
		return Manifest{}, fmt.Errorf("load chain manifest: %w", err)
	}
	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		keys := make([]string, len(undecoded))
		for i, k := range undecoded {
			keys[i] = k.String()
		}
		return Manifest{}, fmt.Errorf("%w: unknown keys %s", ErrInvalidManifest, strings.Join(keys, ", "))
	}
	if err := m.Validate(); err != nil {
		return Manifest{}, err
	}
	return m, nil
}

func (m Manifest) Validate() error {
	if len(m.Chains) == 0 {
		return fmt.Errorf("%w: no chains", ErrInvalidManifest)
	}
	seen := make(map[string]bool, len(m.Chains))
	for i, c := range m.Chains {
		name := strings.TrimSpace(c.Name)
		if name == "" {
			return fmt.Errorf("%w: chain[%d] missing name", ErrInvalidManifest, i)
		}
		if seen[name] {
			return fmt.Errorf("%w: duplicate chain %q", ErrInvalidManifest, name)
		}
		if c.ForkOf != "" && !seen[c.ForkOf] {
			return fmt.Errorf("%w: chain %q forks unknown or later chain %q", ErrInvalidManifest, name, c.ForkOf)
		}
		if c.ForkOf == "" && len(c.Numbers) == 0 {
			return fmt.Errorf("%w: chain %q has no blocks", ErrInvalidManifest, name)
		}
		seen[name] = true
	}
	return nil
}

// Build materializes every chain in manifest order.
func (m Manifest) Build() ([]Built, error) {
	if err := m.Validate(); err != nil {
		return nil, err
	}
	byName := make(map[string][]block.Block, len(m.Chains))
	out := make([]Built, 0, len(m.Chains))
	for _, entry := range m.Chains {
		b := NewBuilder()
		if entry.ForkOf != "" {
			b = From(byName[entry.ForkOf], entry.ForkAt)
		}
		tag := entry.Tag
		if tag == "" {
			tag = entry.Name
		}
		roots := make(map[uint64]bool, len(entry.Roots))
		for _, r := range entry.Roots {
			roots[r] = true
		}
		for _, n := range entry.Numbers {
			content := []byte(fmt.Sprintf("%s:%d", tag, n))
			if roots[n] {
				b.Root(n, content)
			} else {
				b.Append(n, content)
			}
		}
		if err := b.Err(); err != nil {
			return nil, fmt.Errorf("chain %q: %w", entry.Name, err)
		}
		byName[entry.Name] = b.Blocks()
		file := entry.File
		if file == "" {
			file = entry.Name + ".chain"
		}
		out = append(out, Built{Name: entry.Name, File: file, Blocks: b.Blocks()})
	}
	return out, nil
}

// WriteFiles writes each chain tip first under dir and returns the written paths.
func WriteFiles(dir string, chains []Built) ([]string, error) {
	paths := make([]string, 0, len(chains))
	for _, c := range chains {
		path := filepath.Join(dir, c.File)
		w, err := source.Create(path)
		if err != nil {
			return paths, err
		}
		if err := block.WriteChain(w, Reverse(c.Blocks)); err != nil {
			_ = w.Close()
			return paths, fmt.Errorf("write chain %q: %w", c.Name, err)
		}
		if err := w.Close(); err != nil {
			return paths, fmt.Errorf("close chain %q: %w", c.Name, err)
		}
		paths = append(paths, path)
	}
	return paths, nil
}
