package auth

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"

	goerrors "github.com/goliatone/go-errors"
)

// opaqueSecretBytes gives 256 bits of entropy per secret
const opaqueSecretBytes = 32

// IssueOpaqueSecret returns a random URL safe secret. The plaintext is only
// ever handed to the user, the ledger stores HashOpaqueSecret of it.
func IssueOpaqueSecret() (string, error) {
	buf := make([]byte, opaqueSecretBytes)
	if _, err := rand.Read(buf); err != nil {
		return "", goerrors.Wrap(err, goerrors.CategoryInternal, "failed to read random bytes")
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}

// HashOpaqueSecret returns the SHA-256 hex digest of plaintext
func HashOpaqueSecret(plaintext string) string {
	sum := sha256.Sum256([]byte(plaintext))
	return hex.EncodeToString(sum[:])
}
