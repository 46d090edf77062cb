package secrets

import (
	"crypto/rand"
	"fmt"
	"math/big"
)

const (
	passwordAlphabet = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789!@#$%"

	// PasswordLength matches the platform's minimum for generated credentials.
	PasswordLength = 16
)

// GeneratePassword creates a cryptographically random password for a newly
// provisioned platform account. The value is write-only: callers send it once and
// must never log or persist it.
func GeneratePassword() (string, error) {
	return generate(PasswordLength)
}

func generate(length int) (string, error) {
	max := big.NewInt(int64(len(passwordAlphabet)))
	buf := make([]byte, length)
	for i := range buf {
		n, err := rand.Int(rand.Reader, max)
		if err != nil {
			return "", fmt.Errorf("could not generate password: %w", err)
		}
		buf[i] = passwordAlphabet[n.Int64()]
	}
	return string(buf), nil
}
