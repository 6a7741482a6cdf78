package block

import "golang.org/x/crypto/blake2b"

// Digest is the BLAKE2b-256 hash of the encoded frame. Chain builders use it to link a child
// to its parent; readers of a stream never recompute it.
func Digest(b Block) Hash {
	return Hash(blake2b.Sum256(Encode(b)))
}
