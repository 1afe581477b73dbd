package rooms

import (
	"crypto/rand"
	"math/big"
)

// Room codes are read aloud and typed by hand, so 0/O and 1/I/L are left out.
const alphabet = "ABCDEFGHJKMNPQRSTUVWXYZ23456789"

const codeLength = 6

// GenerateCode returns a random room identifier.
func GenerateCode() (string, error) {
	code := make([]byte, codeLength)
	for i := range code {
		n, err := rand.Int(rand.Reader, big.NewInt(int64(len(alphabet))))
		if err != nil {
			return "", err
		}
		code[i] = alphabet[n.Int64()]
	}
	return string(code), nil
}
