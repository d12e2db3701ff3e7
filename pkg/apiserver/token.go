package apiserver

import (
	"crypto/rand"
	"encoding/hex"
)

// randomToken generates a 256-bit random API key, hex-encoded.
func randomToken() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return hex.EncodeToString(buf), nil
}
