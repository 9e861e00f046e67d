// Package secrets generates the opaque identifiers and tokens used by
// the engine and hashes the ones that get persisted. Every generator
// draws from crypto/rand; plaintext tokens never touch storage.
package secrets

import (
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"encoding/hex"
	"io"
	"strings"
)

const (
	sessionIDBytes   = 16
	resetTokenBytes  = 36
	recoveryCodeByte = 5
)

// NewSessionID returns a 128-bit URL-safe session identifier.
func NewSessionID() (string, error) {
	return randomString(sessionIDBytes)
}

// NewChallengeID returns an identifier for a pending MFA login
// challenge. Same shape as a session ID but never interchangeable with
// one; the stores namespace them separately.
func NewChallengeID() (string, error) {
	return randomString(sessionIDBytes)
}

// NewResetToken returns a 48-character URL-safe password reset token.
// Only its hash is stored.
func NewResetToken() (string, error) {
	return randomString(resetTokenBytes)
}

// HashToken returns the hex SHA-256 of a token, the form used for
// storage and lookup.
func HashToken(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}

// NewRecoveryCode returns one recovery code formatted xxxxx-xxxxx.
func NewRecoveryCode() (string, error) {
	buf := make([]byte, recoveryCodeByte)
	if _, err := io.ReadFull(rand.Reader, buf); err != nil {
		return "", err
	}
	code := hex.EncodeToString(buf)
	return code[:5] + "-" + code[5:], nil
}

// NormalizeRecoveryCode strips separators and case so user input
// matches the generated form.
func NormalizeRecoveryCode(code string) string {
	code = strings.ToLower(strings.TrimSpace(code))
	code = strings.ReplaceAll(code, "-", "")
	return strings.ReplaceAll(code, " ", "")
}

// HashRecoveryCode hashes a recovery code for storage, normalizing
// first so presentation differences never cause false mismatches.
func HashRecoveryCode(code string) string {
	return HashToken(NormalizeRecoveryCode(code))
}

// ConstantTimeEqual compares two equal-purpose strings without leaking
// the position of the first difference.
func ConstantTimeEqual(a, b string) bool {
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}

func randomString(n int) (string, error) {
	buf := make([]byte, n)
	if _, err := io.ReadFull(rand.Reader, buf); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}
