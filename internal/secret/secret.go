// Package secret generates client secrets and bearer tokens and derives the
// one-way digests that are stored in their place.
package secret

import (
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"errors"
	"fmt"
)

// Length is the size of generated client secrets and bearer tokens.
const Length = 64

const alphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789"

// maxByte is the largest multiple of len(alphabet) that fits in a byte;
// bytes at or above it are rejected so every symbol is equally likely.
const maxByte = 256 - (256 % len(alphabet))

// Generate returns an n character random alphanumeric string drawn from crypto/rand.
func Generate(n int) (string, error) {
	if n <= 0 {
		return "", errors.New("secret length must be positive")
	}
	out := make([]byte, 0, n)
	buf := make([]byte, n+n/4)
	for len(out) < n {
		if _, err := rand.Read(buf); err != nil {
			return "", fmt.Errorf("reading random bytes: %w", err)
		}
		for _, b := range buf {
			if int(b) >= maxByte {
				continue
			}
			out = append(out, alphabet[int(b)%len(alphabet)])
			if len(out) == n {
				break
			}
		}
	}
	return string(out), nil
}

// MustGenerate is Generate for callers that cannot continue without entropy.
func MustGenerate(n int) string {
	s, err := Generate(n)
	if err != nil {
		panic(err)
	}
	return s
}

// Hash returns the hex encoded SHA-256 digest of plaintext.
func Hash(plaintext string) string {
	sum := sha256.Sum256([]byte(plaintext))
	return hex.EncodeToString(sum[:])
}

// Equal compares two digests in constant time.
func Equal(a, b string) bool {
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}

// Matches reports whether plaintext hashes to digest.
func Matches(plaintext, digest string) bool {
	return Equal(Hash(plaintext), digest)
}
