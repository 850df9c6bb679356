package redlock

import (
	"encoding/hex"

	uuid "github.com/hashicorp/go-uuid"
)

const tokenBytes = 16

var randomBytes = uuid.GenerateRandomBytes

// newToken returns 16 bytes from crypto/rand, hex encoded.
func newToken() (string, error) {
	b, err := randomBytes(tokenBytes)
	if err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}
