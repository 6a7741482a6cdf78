package block

import (
	"encoding/binary"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
)

const (
	NumberLen  = 8
	HashLen    = 32
	ContentLen = 16

	// FrameLen is the fixed wire size of one block.
	FrameLen = NumberLen + HashLen + ContentLen

	hashOffset    = NumberLen
	contentOffset = NumberLen + HashLen
)

var ErrFrameLength = errors.New("block: frame must be exactly 56 bytes")

// Hash is an opaque 32-byte digest. The all-zero value marks genesis.
type Hash [HashLen]byte

// ZeroHash is the parent hash of a genesis block.
var ZeroHash Hash

func (h Hash) IsZero() bool {
	return h == ZeroHash
}

func (h Hash) String() string {
	return hex.EncodeToString(h[:])
}

// Content is the opaque fixed-length payload carried by a block.
type Content [ContentLen]byte

// ContentFrom copies up to ContentLen bytes of b and zero-pads the rest.
func ContentFrom(b []byte) Content {
	var c Content
	copy(c[:], b)
	return c
}

// Block is one decoded frame.
type Block struct {
	Number     uint64
	ParentHash Hash
	Content    Content
}

func (b Block) IsGenesis() bool {
	return b.ParentHash.IsZero()
}

func (b Block) String() string {
	return fmt.Sprintf("block{number=%d parent=%s content=%x}", b.Number, b.ParentHash, b.Content[:])
}

// Decode interprets a 56-byte buffer as a block.
func Decode(buf []byte) (Block, error) {
	if len(buf) != FrameLen {
		return Block{}, fmt.Errorf("%w: got %d", ErrFrameLength, len(buf))
	}
	return DecodeFrame((*[FrameLen]byte)(buf)), nil
}

// DecodeFrame never fails: every bit pattern of a full frame is a valid block.
func DecodeFrame(buf *[FrameLen]byte) Block {
	var b Block
	b.Number = binary.LittleEndian.Uint64(buf[0:NumberLen])
	copy(b.ParentHash[:], buf[hashOffset:contentOffset])
	copy(b.Content[:], buf[contentOffset:FrameLen])
	return b
}

func Encode(b Block) []byte {
	return AppendFrame(make([]byte, 0, FrameLen), b)
}

func AppendFrame(dst []byte, b Block) []byte {
	dst = binary.LittleEndian.AppendUint64(dst, b.Number)
	dst = append(dst, b.ParentHash[:]...)
	return append(dst, b.Content[:]...)
}

func WriteBlock(w io.Writer, b Block) error {
	_, err := w.Write(Encode(b))
	return err
}

// WriteChain writes blocks in the order given. Streams expect descendant-to-ancestor order.
func WriteChain(w io.Writer, blocks []Block) error {
	buf := make([]byte, 0, len(blocks)*FrameLen)
	for _, b := range blocks {
		buf = AppendFrame(buf, b)
	}
	_, err := w.Write(buf)
	return err
}
