// Package tokens genera identificadores opacos (ids de sesión, secretos
// efímeros) y su hash de almacenamiento.
package tokens

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
)

var enc = base64.RawURLEncoding

// Random devuelve n bytes aleatorios en base64url sin padding.
func Random(n int) (string, error) {
	if n <= 0 {
		return "", fmt.Errorf("tokens: invalid length %d", n)
	}
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("tokens: %w", err)
	}
	return enc.EncodeToString(b), nil
}

// Hash es sha256(s) en base64url. Las sesiones se guardan bajo el hash, nunca
// bajo el id que viaja en la cookie.
func Hash(s string) string {
	sum := sha256.Sum256([]byte(s))
	return enc.EncodeToString(sum[:])
}
