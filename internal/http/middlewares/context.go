package middlewares

import (
	"context"

	"github.com/dropDatabas3/cfihub/internal/cfi/token"
	"github.com/dropDatabas3/cfihub/internal/session"
	"github.com/dropDatabas3/cfihub/internal/tenant"
)

type ctxKey string

const (
	ctxRequestIDKey ctxKey = "request_id"
	ctxStateKey     ctxKey = "state"
)

// State es el estado por-request armado por WithSession: la sesión y los
// objetos explícitos que viven sobre ella.
type State struct {
	Session *session.Session
	Tokens  *token.SessionStore
	Token   *token.Context
	Tenant  *tenant.Context

	sessions *session.Store
}

// RotateSession cambia el id de la sesión (login). WithSession emite la
// cookie nueva al confirmar la respuesta. Sin store es un no-op.
func (s *State) RotateSession(ctx context.Context) error {
	if s == nil || s.sessions == nil || s.Session == nil {
		return nil
	}
	return s.sessions.Rotate(ctx, s.Session)
}

// Identity devuelve el usuario autenticado de la sesión.
func (s *State) Identity() (token.Identity, bool) {
	if s == nil || s.Tokens == nil {
		return token.Identity{}, false
	}
	return s.Tokens.User()
}

func setRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, ctxRequestIDKey, requestID)
}

// GetRequestID devuelve el request ID o "".
func GetRequestID(ctx context.Context) string {
	v, _ := ctx.Value(ctxRequestIDKey).(string)
	return v
}

// WithState inyecta st en el contexto (tests y WithSession).
func WithState(ctx context.Context, st *State) context.Context {
	return context.WithValue(ctx, ctxStateKey, st)
}

// GetState devuelve el estado del request, o nil si WithSession no corrió.
func GetState(ctx context.Context) *State {
	st, _ := ctx.Value(ctxStateKey).(*State)
	return st
}
