package cache

import (
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"

	"assistgen/completion"
)

// Fingerprint hashes the whole conversation, roles included. Fields are
// length-prefixed so no two distinct conversations share an encoding.
func Fingerprint(conv completion.Conversation) string {
	h := sha256.New()
	var n [8]byte
	write := func(s string) {
		binary.BigEndian.PutUint64(n[:], uint64(len(s)))
		h.Write(n[:])
		h.Write([]byte(s))
	}
	for _, m := range conv {
		write(string(m.Role))
		write(m.Content)
	}
	return hex.EncodeToString(h.Sum(nil))
}
