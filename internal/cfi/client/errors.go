package client

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind clasifica los fallos de la API remota.
type Kind int

const (
	// KindClient: 4xx, request inválido o token vencido/inválido.
	KindClient Kind = iota + 1
	// KindServer: 5xx, falla del backend remoto.
	KindServer
	// KindTransport: red, DNS o timeout.
	KindTransport
	// KindDecode: respuesta 2xx que no es JSON.
	KindDecode
)

func (k Kind) String() string {
	switch k {
	case KindClient:
		return "client"
	case KindServer:
		return "server"
	case KindTransport:
		return "transport"
	case KindDecode:
		return "decode"
	default:
		return "unknown"
	}
}

// Error es el error tipado que devuelve Client.Post.
type Error struct {
	Kind     Kind
	Endpoint string
	Status   int
	Body     string
	Err      error
}

func (e *Error) Error() string {
	switch {
	case e.Status != 0 && e.Err != nil:
		return fmt.Sprintf("cfi %s error on %s (status %d): %v", e.Kind, e.Endpoint, e.Status, e.Err)
	case e.Status != 0:
		return fmt.Sprintf("cfi %s error on %s (status %d)", e.Kind, e.Endpoint, e.Status)
	case e.Err != nil:
		return fmt.Sprintf("cfi %s error on %s: %v", e.Kind, e.Endpoint, e.Err)
	default:
		return fmt.Sprintf("cfi %s error on %s", e.Kind, e.Endpoint)
	}
}

func (e *Error) Unwrap() error { return e.Err }

// KindOf devuelve el Kind de err si es un *Error.
func KindOf(err error) (Kind, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind, true
	}
	return 0, false
}

// IsUnauthorized es true para 401/403 (hay que volver a autenticar).
func IsUnauthorized(err error) bool {
	var e *Error
	if !errors.As(err, &e) {
		return false
	}
	return e.Kind == KindClient && (e.Status == http.StatusUnauthorized || e.Status == http.StatusForbidden)
}

// IsRetryLater es true para fallos del servidor remoto o de conectividad.
func IsRetryLater(err error) bool {
	k, ok := KindOf(err)
	return ok && (k == KindServer || k == KindTransport)
}
