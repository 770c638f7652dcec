// Package sha256 computes streaming SHA-256 digests for downloaded archives.
package sha256

import (
	"crypto/sha256"
	"encoding/hex"
	"hash"
)

// Digest accumulates a SHA-256 sum over streamed writes.
type Digest struct {
	h hash.Hash
}

// NewDigest returns an empty streaming digest.
func NewDigest() *Digest {
	return &Digest{h: sha256.New()}
}

// Write adds p to the running sum. It never returns an error.
func (d *Digest) Write(p []byte) (int, error) {
	return d.h.Write(p)
}

// Hex returns the hex-encoded sum of everything written so far.
func (d *Digest) Hex() string {
	return hex.EncodeToString(d.h.Sum(nil))
}
