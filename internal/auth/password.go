package auth

import (
	"crypto/sha256"
	"encoding/base64"
	"fmt"

	"golang.org/x/crypto/bcrypt"
)

// bcryptCost is the cost used for channel password hashes.
const bcryptCost = 10

// HashPassword generates a bcrypt hash of a channel password. An empty
// password means the channel is open and hashes to the empty string.
func HashPassword(password string) (string, error) {
	if password == "" {
		return "", nil
	}
	hash, err := bcrypt.GenerateFromPassword(prehash(password), bcryptCost)
	if err != nil {
		return "", fmt.Errorf("hash password: %w", err)
	}
	return string(hash), nil
}

// CheckPassword reports whether candidate satisfies hash. An empty hash
// accepts every candidate.
func CheckPassword(hash, candidate string) bool {
	if hash == "" {
		return true
	}
	return bcrypt.CompareHashAndPassword([]byte(hash), prehash(candidate)) == nil
}

// prehash folds a password of any length into 44 bytes, under bcrypt's
// 72-byte input limit and free of NUL bytes.
func prehash(password string) []byte {
	sum := sha256.Sum256([]byte(password))
	out := make([]byte, base64.StdEncoding.EncodedLen(len(sum)))
	base64.StdEncoding.Encode(out, sum[:])
	return out
}
