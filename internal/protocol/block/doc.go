// Package block owns the fixed 56-byte block frame.
//
// Wire layout:
// - [0,8)   number, unsigned 64-bit little-endian
// - [8,40)  parent hash, all-zero for genesis
// - [40,56) opaque content
package block
