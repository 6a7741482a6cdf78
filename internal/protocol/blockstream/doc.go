// Package blockstream turns one byte source into a lazy sequence of blocks.
//
// Frames are accumulated across as many reads as the source needs; partial deliveries
// from sockets are normal. Terminal outcomes:
// - clean end on a frame boundary: io.EOF
// - clean end mid-frame: ErrMalformedFrame
// - read failure: *SourceError
// - context cancellation: the context error
package blockstream
