package hub

import (
	"crypto/rand"
	"encoding/hex"
)

// generateID mirrors the teacher's generateID helper (internal/api/handler.go):
// 16 random bytes, hex-encoded, used for admin-created resource ids that have
// no natural key of their own.
func generateID() string {
	var b [16]byte
	_, _ = rand.Read(b[:])
	return hex.EncodeToString(b[:])
}
