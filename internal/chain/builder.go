package chain

import (
	"bytes"
	"errors"
	"fmt"
	"slices"

	"github.com/danmuck/chainstream/internal/protocol/block"
)

var ErrNotAscending = errors.New("chain: block numbers must strictly increase")

// Builder grows one chain from its oldest block upward, linking each block to its
// parent by block.Digest.
type Builder struct {
	blocks []block.Block
	err    error
}

func NewBuilder() *Builder {
	return &Builder{}
}

// From seeds a builder with the blocks of base whose number is at most upTo.
func From(base []block.Block, upTo uint64) *Builder {
	b := &Builder{}
	for _, blk := range base {
		if blk.Number <= upTo {
			b.blocks = append(b.blocks, blk)
		}
	}
	return b
}

// Root appends a block with the zero parent hash regardless of what precedes it.
func (b *Builder) Root(number uint64, content []byte) *Builder {
	return b.push(block.Block{Number: number, Content: block.ContentFrom(content)})
}

// Append adds a block linked to the current tip. An empty builder starts at genesis.
func (b *Builder) Append(number uint64, content []byte) *Builder {
	next := block.Block{Number: number, Content: block.ContentFrom(content)}
	if tip, ok := b.Tip(); ok {
		next.ParentHash = block.Digest(tip)
	}
	return b.push(next)
}

// Next appends the block directly above the tip.
func (b *Builder) Next(content []byte) *Builder {
	var number uint64
	if tip, ok := b.Tip(); ok {
		number = tip.Number + 1
	}
	return b.Append(number, content)
}

func (b *Builder) Tip() (block.Block, bool) {
	if len(b.blocks) == 0 {
		return block.Block{}, false
	}
	return b.blocks[len(b.blocks)-1], true
}

func (b *Builder) push(next block.Block) *Builder {
	if b.err != nil {
		return b
	}
	if tip, ok := b.Tip(); ok && next.Number <= tip.Number {
		b.err = fmt.Errorf("%w: %d after %d", ErrNotAscending, next.Number, tip.Number)
		return b
	}
	b.blocks = append(b.blocks, next)
	return b
}

func (b *Builder) Err() error {
	return b.err
}

// Blocks returns the chain oldest first.
func (b *Builder) Blocks() []block.Block {
	return slices.Clone(b.blocks)
}

func Reverse(blocks []block.Block) []block.Block {
	out := slices.Clone(blocks)
	slices.Reverse(out)
	return out
}

// Frames encodes blocks oldest first into a tip-first frame stream.
func Frames(blocks []block.Block) []byte {
	var buf bytes.Buffer
	_ = block.WriteChain(&buf, Reverse(blocks))
	return buf.Bytes()
}
