// Package secretbox sella valores sensibles (p.ej. el bearer CFI que viaja en
// la cola de generación) con NaCl secretbox (XSalsa20-Poly1305).
package secretbox

import (
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"io"

	"golang.org/x/crypto/nacl/secretbox"
)

const (
	keySize   = 32
	nonceSize = 24
)

var (
	ErrInvalidKey    = fmt.Errorf("secretbox: la clave debe tener %d bytes", keySize)
	ErrMalformed     = errors.New("secretbox: formato inválido")
	ErrDecryptFailed = errors.New("secretbox: autenticación fallida")
)

// Sealer cifra y descifra con una clave fija. Es seguro para uso concurrente.
type Sealer struct {
	key [keySize]byte
}

// New crea un Sealer. key debe medir 32 bytes.
func New(key []byte) (*Sealer, error) {
	if len(key) != keySize {
		return nil, ErrInvalidKey
	}
	s := &Sealer{}
	copy(s.key[:], key)
	return s, nil
}

// Seal devuelve base64(nonce || box).
func (s *Sealer) Seal(plain string) (string, error) {
	var nonce [nonceSize]byte
	if _, err := io.ReadFull(rand.Reader, nonce[:]); err != nil {
		return "", fmt.Errorf("nonce random: %w", err)
	}
	out := secretbox.Seal(nonce[:], []byte(plain), &nonce, &s.key)
	return base64.StdEncoding.EncodeToString(out), nil
}

// Open invierte Seal.
func (s *Sealer) Open(sealed string) (string, error) {
	raw, err := base64.StdEncoding.DecodeString(sealed)
	if err != nil {
		return "", ErrMalformed
	}
	if len(raw) < nonceSize+secretbox.Overhead {
		return "", ErrMalformed
	}
	var nonce [nonceSize]byte
	copy(nonce[:], raw[:nonceSize])
	pt, ok := secretbox.Open(nil, raw[nonceSize:], &nonce, &s.key)
	if !ok {
		return "", ErrDecryptFailed
	}
	return string(pt), nil
}
