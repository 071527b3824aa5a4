package idgen

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"os"
)

// maxClientID is the longest client identifier MQTT 3.1 brokers must accept.
const maxClientID = 23

// Generator creates MQTT client identifiers of the form "<prefix>-<hex>".
type Generator struct {
	Prefix string
}

// NewID returns a random client identifier no longer than 23 bytes.
// When the random source fails the process id is used instead.
func (g Generator) NewID() string {
	prefix := g.Prefix
	if prefix == "" {
		prefix = "squeezed"
	}
	if len(prefix) > maxClientID-5 {
		prefix = prefix[:maxClientID-5]
	}
	n := (maxClientID - len(prefix) - 1) / 2
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		return fmt.Sprintf("%s-%d", prefix, os.Getpid())
	}
	return prefix + "-" + hex.EncodeToString(b)
}
