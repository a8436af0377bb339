// Package auth turns request credentials into principals. It owns API key
// generation and verification, local session JWTs for the built-in OIDC login
// flow, and the Resolver that ties both paths together per request.
// See internal/middleware/principal.go for the request-time wiring.
package auth

import (
	"crypto/rand"
	"crypto/subtle"
	"fmt"
)

const (
	// AccessKeyIDPrefix marks every access key ID issued by this registry
	AccessKeyIDPrefix = "DH"

	// AccessKeyIDRandomLength is the number of random characters after the prefix
	AccessKeyIDRandomLength = 22

	// SecretAccessKeyLength is the total length of a secret access key
	SecretAccessKeyLength = 64
)

const (
	accessKeyAlphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"
	secretAlphabet    = "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789"
)

// randomString draws n characters from alphabet using crypto/rand.
// Each random byte is reduced modulo the alphabet size; the slight bias this
// introduces is negligible at these alphabet sizes and key lengths.
func randomString(alphabet string, n int) (string, error) {
	buf := make([]byte, n)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("failed to read random bytes: %w", err)
	}
	out := make([]byte, n)
	for i, b := range buf {
		out[i] = alphabet[int(b)%len(alphabet)]
	}
	return string(out), nil
}

// GenerateAccessKeyID creates a new access key ID: the "DH" prefix followed by
// 22 characters of uppercase letters and digits. The ID is a public handle and
// doubles as the key's primary identifier.
func GenerateAccessKeyID() (string, error) {
	random, err := randomString(accessKeyAlphabet, AccessKeyIDRandomLength)
	if err != nil {
		return "", err
	}
	return AccessKeyIDPrefix + random, nil
}

// GenerateSecretAccessKey creates a new 64-character secret from letters and
// digits. The secret is returned to the caller exactly once at creation and
// never serialized afterwards.
func GenerateSecretAccessKey() (string, error) {
	return randomString(secretAlphabet, SecretAccessKeyLength)
}

// VerifySecret compares a presented secret against the stored one in constant
// time so timing cannot leak how much of a guess matched.
func VerifySecret(presented, stored string) bool {
	if len(presented) == 0 || len(stored) == 0 {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(presented), []byte(stored)) == 1
}
