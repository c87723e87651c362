// Package token maneja el bearer emitido por la API CFI.
//
// SessionStore lo guarda en la sesión del usuario con un TTL fijo; Context
// resuelve el token tanto en un request HTTP como dentro de un worker, donde
// se inyecta explícitamente desde el mensaje de generación.
package token

import (
	"time"
)

const (
	keyToken = "cfi.token"
	keySetAt = "cfi.token_set_at"
	keyUser  = "cfi.user"

	DefaultTTL              = 30 * time.Minute
	DefaultRefreshThreshold = 5 * time.Minute
)

// Bag es el almacenamiento por-sesión sobre el que trabaja SessionStore
// (lo implementa *session.Session).
type Bag interface {
	Get(key string, dst any) bool
	Set(key string, v any)
	Delete(key string)
}

// Identity es la identidad CFI autenticada, guardada junto al token.
type Identity struct {
	UserID     int    `json:"user_id"`
	Login      string `json:"login"`
	Name       string `json:"name"`
	Email      string `json:"email"`
	DivisionID int    `json:"division_id"`
}

// SessionStore guarda el bearer de un usuario con vida fija.
type SessionStore struct {
	bag              Bag
	ttl              time.Duration
	refreshThreshold time.Duration
	now              func() time.Time
}

// Option configura un SessionStore.
type Option func(*SessionStore)

// WithClock reemplaza time.Now (tests).
func WithClock(now func() time.Time) Option {
	return func(s *SessionStore) { s.now = now }
}

// NewSessionStore crea un store sobre bag. ttl/threshold <= 0 usan los defaults.
func NewSessionStore(bag Bag, ttl, refreshThreshold time.Duration, opts ...Option) *SessionStore {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	if refreshThreshold <= 0 || refreshThreshold >= ttl {
		refreshThreshold = DefaultRefreshThreshold
	}
	s := &SessionStore{bag: bag, ttl: ttl, refreshThreshold: refreshThreshold, now: time.Now}
	for _, o := range opts {
		o(s)
	}
	return s
}

// SetToken guarda el token y el instante actual.
func (s *SessionStore) SetToken(token string) {
	s.bag.Set(keyToken, token)
	s.bag.Set(keySetAt, s.now().UnixNano())
}

// Token devuelve el token sólo si no superó el TTL. Un token vencido se
// borra y se informa ausente.
func (s *SessionStore) Token() (string, bool) {
	tok, age, ok := s.read()
	if !ok {
		return "", false
	}
	if age >= s.ttl {
		s.Clear()
		return "", false
	}
	return tok, true
}

// IsExpired es true si no hay token o si superó el TTL.
func (s *SessionStore) IsExpired() bool {
	_, age, ok := s.read()
	return !ok || age >= s.ttl
}

// ShouldRefresh es true cuando la edad alcanza ttl-threshold: conviene
// re-autenticar antes del vencimiento duro.
func (s *SessionStore) ShouldRefresh() bool {
	_, age, ok := s.read()
	if !ok {
		return false
	}
	return age >= s.ttl-s.refreshThreshold
}

// ExpiresAt devuelve el vencimiento del token actual.
func (s *SessionStore) ExpiresAt() (time.Time, bool) {
	var setAt int64
	if !s.bag.Get(keySetAt, &setAt) {
		return time.Time{}, false
	}
	return time.Unix(0, setAt).Add(s.ttl), true
}

// Clear borra token, timestamp e identidad.
func (s *SessionStore) Clear() {
	s.bag.Delete(keyToken)
	s.bag.Delete(keySetAt)
	s.bag.Delete(keyUser)
}

// SetUser guarda la identidad autenticada.
func (s *SessionStore) SetUser(id Identity) {
	s.bag.Set(keyUser, id)
}

// User devuelve la identidad si hay un token vigente.
func (s *SessionStore) User() (Identity, bool) {
	if s.IsExpired() {
		return Identity{}, false
	}
	var id Identity
	if !s.bag.Get(keyUser, &id) {
		return Identity{}, false
	}
	return id, true
}

func (s *SessionStore) read() (string, time.Duration, bool) {
	var tok string
	var setAt int64
	if !s.bag.Get(keyToken, &tok) || tok == "" {
		return "", 0, false
	}
	if !s.bag.Get(keySetAt, &setAt) {
		return "", 0, false
	}
	return tok, s.now().Sub(time.Unix(0, setAt)), true
}
