package auth

import (
	"crypto/rand"
	"errors"
	"fmt"
	"math/big"

	"golang.org/x/crypto/bcrypt"
)

const (
	pinMin = 100000
	pinMax = 999999
)

// pinSpan is the number of distinct PINs, pinMax-pinMin+1.
var pinSpan = big.NewInt(pinMax - pinMin + 1)

// GeneratePIN returns a six digit PIN drawn uniformly from 100000-999999.
// rand.Int rejects out-of-range samples, so the draw carries no modulo bias.
func GeneratePIN() (string, error) {
	n, err := rand.Int(rand.Reader, pinSpan)
	if err != nil {
		return "", fmt.Errorf("read random PIN: %w", err)
	}
	return fmt.Sprintf("%06d", n.Int64()+pinMin), nil
}

// HashPIN hashes pin with bcrypt at the given cost.
func HashPIN(pin string, cost int) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(pin), cost)
	if err != nil {
		return "", fmt.Errorf("hash PIN: %w", err)
	}
	return string(hash), nil
}

// ComparePIN reports whether pin matches hash. Any error other than a mismatch
// (for example a corrupt stored hash) is returned.
func ComparePIN(hash, pin string) (bool, error) {
	err := bcrypt.CompareHashAndPassword([]byte(hash), []byte(pin))
	if err == nil {
		return true, nil
	}
	if errors.Is(err, bcrypt.ErrMismatchedHashAndPassword) {
		return false, nil
	}
	return false, err
}
