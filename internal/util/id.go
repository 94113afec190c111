package util

import (
	"crypto/rand"
	"encoding/hex"
)

// NewID returns 32 random hex characters, joined to prefix with "_" when
// prefix is set. Used for entity etags and request ids.
func NewID(prefix string) string {
	bytes := make([]byte, 16)
	_, _ = rand.Read(bytes)
	id := hex.EncodeToString(bytes)
	if prefix == "" {
		return id
	}
	return prefix + "_" + id
}
