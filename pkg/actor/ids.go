package actor

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"time"
)

// NewID returns prefix_<unix seconds>_<16 hex chars>. The random part
// comes from crypto/rand so another actor cannot guess a live listing id.
func NewID(prefix string) string {
	var b [8]byte
	if _, err := rand.Read(b[:]); err != nil {
		// crypto/rand does not fail on supported platforms.
		panic(fmt.Sprintf("actor: crypto/rand: %v", err))
	}
	return fmt.Sprintf("%s_%d_%s", prefix, time.Now().Unix(), hex.EncodeToString(b[:]))
}
