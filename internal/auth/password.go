package auth

import (
	"fmt"

	"golang.org/x/crypto/bcrypt"
)

// passwordCost keeps a register or login round trip in the tens of
// milliseconds; raising it slows both calls in lockstep.
const passwordCost = 10

// HashPassword derives the stored bcrypt hash for a plaintext password.
func HashPassword(password string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), passwordCost)
	if err != nil {
		return "", fmt.Errorf("hash password: %w", err)
	}
	return string(hash), nil
}

// ComparePassword checks a plaintext password against the stored hash.
func ComparePassword(hashedPassword, password string) error {
	return bcrypt.CompareHashAndPassword([]byte(hashedPassword), []byte(password))
}
