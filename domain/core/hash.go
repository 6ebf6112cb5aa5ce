package core

import (
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
)

// Hash represents a cryptographic hash
type Hash string

// NewHash creates a new hash from data
func NewHash(data []byte) Hash {
	sum := sha256.Sum256(data)
	return Hash(hex.EncodeToString(sum[:]))
}

// String returns the string representation
func (h Hash) String() string {
	return string(h)
}

// IsEmpty checks if the hash is empty
func (h Hash) IsEmpty() bool {
	return h == ""
}

// Equals checks if two hashes are equal
func (h Hash) Equals(other Hash) bool {
	return h == other
}

// UnitInterval hashes data onto [0, 1). The mapping is deterministic:
// the same bytes always land on the same point. Used for hash-based
// bucketing, where each subject must map to a stable position.
func UnitInterval(data []byte) float64 {
	sum := sha256.Sum256(data)
	u := binary.BigEndian.Uint64(sum[:8])
	return float64(u) / float64(1<<63) / 2
}

// Seed derives a deterministic uint64 seed from data. Used to give each
// subject or run its own reproducible random stream.
func Seed(data []byte) uint64 {
	sum := sha256.Sum256(data)
	return binary.BigEndian.Uint64(sum[8:16])
}
