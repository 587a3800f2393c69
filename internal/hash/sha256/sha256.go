// Package sha256 names archived pages by the SHA-256 digest of their body.
package sha256

import (
	"crypto/sha256"
	"encoding/hex"
	"path"
)

// Hasher implements crawler.Hasher using SHA-256.
type Hasher struct{}

// New returns a SHA-256 hasher.
func New() *Hasher {
	return &Hasher{}
}

// Hash returns the hex digest of data.
func (h *Hasher) Hash(data []byte) (string, error) {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:]), nil
}

// ObjectPath returns prefix/<digest>.html, the archive key for a page body.
func ObjectPath(prefix, digest string) string {
	return path.Join(prefix, digest+".html")
}
