package identity

import (
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"fmt"
	"math/big"
	"strings"

	"golang.org/x/crypto/pbkdf2"
)

const (
	saltSize   = 32
	keySize    = 32
	iterations = 10000
)

const (
	lowerChars  = "abcdefghijklmnopqrstuvwxyz"
	upperChars  = "ABCDEFGHIJKLMNOPQRSTUVWXYZ"
	digitChars  = "0123456789"
	symbolChars = "!@#$%^&*"
)

// strengthSymbols is the punctuation set accepted by IsPasswordStrong.
// Wider than the generation alphabet on purpose.
const strengthSymbols = `!@#$%^&*(),.?":{}|<>`

var weakSubstrings = []string{"123456", "password", "admin", "qwerty", "abc123"}

// HashPassword derives a PBKDF2-SHA256 key from password under a fresh
// random salt. Both values are returned base64-encoded; the salt must be
// stored alongside the hash.
func HashPassword(password string) (hash, salt string, err error) {
	if password == "" {
		return "", "", fmt.Errorf("%w: password is empty", ErrInvalidInput)
	}
	saltBytes := make([]byte, saltSize)
	if _, err := rand.Read(saltBytes); err != nil {
		return "", "", fmt.Errorf("generate salt: %w", err)
	}
	key := pbkdf2.Key([]byte(password), saltBytes, iterations, keySize, sha256.New)
	return base64.StdEncoding.EncodeToString(key),
		base64.StdEncoding.EncodeToString(saltBytes), nil
}

// VerifyPassword recomputes the derivation under the stored salt and compares
// in constant time. Any decode or internal failure reads as a mismatch, so a
// caller cannot distinguish corrupt records from wrong passwords.
func VerifyPassword(password, hash, salt string) bool {
	if password == "" || hash == "" || salt == "" {
		return false
	}
	saltBytes, err := base64.StdEncoding.DecodeString(salt)
	if err != nil {
		return false
	}
	hashBytes, err := base64.StdEncoding.DecodeString(hash)
	if err != nil {
		return false
	}
	computed := pbkdf2.Key([]byte(password), saltBytes, iterations, keySize, sha256.New)
	return subtle.ConstantTimeCompare(computed, hashBytes) == 1
}

// IsPasswordStrong enforces the back-office password policy: minimum length,
// all four character classes, and none of the well-known weak substrings.
func IsPasswordStrong(password string) bool {
	if len(password) < 8 {
		return false
	}
	var hasLower, hasUpper, hasDigit, hasSymbol bool
	for _, r := range password {
		switch {
		case r >= 'a' && r <= 'z':
			hasLower = true
		case r >= 'A' && r <= 'Z':
			hasUpper = true
		case r >= '0' && r <= '9':
			hasDigit = true
		case strings.ContainsRune(strengthSymbols, r):
			hasSymbol = true
		}
	}
	if !hasLower || !hasUpper || !hasDigit || !hasSymbol {
		return false
	}
	lowered := strings.ToLower(password)
	for _, weak := range weakSubstrings {
		if strings.Contains(lowered, weak) {
			return false
		}
	}
	return true
}

// GenerateRandomPassword produces a password of the given length with at
// least one character from each class. Positions are shuffled so the class
// guarantee leaks nothing about character placement.
func GenerateRandomPassword(length int) (string, error) {
	if length < 8 {
		return "", fmt.Errorf("%w: password length must be at least 8", ErrInvalidInput)
	}
	allChars := lowerChars + upperChars + digitChars + symbolChars
	out := make([]byte, 0, length)
	for _, class := range []string{lowerChars, upperChars, digitChars, symbolChars} {
		c, err := randomChar(class)
		if err != nil {
			return "", err
		}
		out = append(out, c)
	}
	for i := len(out); i < length; i++ {
		c, err := randomChar(allChars)
		if err != nil {
			return "", err
		}
		out = append(out, c)
	}
	// Fisher-Yates with crypto randomness.
	for i := len(out) - 1; i > 0; i-- {
		j, err := randomInt(i + 1)
		if err != nil {
			return "", err
		}
		out[i], out[j] = out[j], out[i]
	}
	return string(out), nil
}

func randomChar(alphabet string) (byte, error) {
	i, err := randomInt(len(alphabet))
	if err != nil {
		return 0, err
	}
	return alphabet[i], nil
}

func randomInt(n int) (int, error) {
	v, err := rand.Int(rand.Reader, big.NewInt(int64(n)))
	if err != nil {
		return 0, fmt.Errorf("read random: %w", err)
	}
	return int(v.Int64()), nil
}
