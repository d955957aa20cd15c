package engine

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"time"
)

// newMessageID tags one inbound frame so the log lines of its concurrent rule
// runs can be correlated.
func newMessageID() string {
	var buffer [16]byte
	if _, err := rand.Read(buffer[:]); err == nil {
		return hex.EncodeToString(buffer[:])
	}
	return fmt.Sprintf("%d", time.Now().UnixNano())
}
