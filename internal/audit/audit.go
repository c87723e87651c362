// Package audit registra eventos de seguridad (login, logout, cambio de
// división) en el logger estructurado, bajo el componente "audit".
package audit

import (
	"context"
	"strings"

	"go.uber.org/zap"

	"github.com/dropDatabas3/cfihub/internal/observability/logger"
)

const (
	EventLogin        = "auth.login"
	EventLoginFailed  = "auth.login_failed"
	EventLogout       = "auth.logout"
	EventTenantSwitch = "tenant.switch"
	EventTenantDenied = "tenant.switch_denied"
)

// Log escribe el evento con el logger del request.
func Log(ctx context.Context, event string, fields ...zap.Field) {
	fs := make([]zap.Field, 0, len(fields)+2)
	fs = append(fs, logger.Component("audit"), zap.String("event", event))
	fs = append(fs, fields...)
	logger.From(ctx).Info("audit", fs...)
}

// Mask oculta un login o email dejando sólo los extremos:
// "jdupont" -> "j…t", "jean@acme.fr" -> "j…@a….fr".
func Mask(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	i := strings.IndexByte(s, '@')
	if i <= 0 {
		switch {
		case s == "":
			return ""
		case len(s) <= 3:
			return "***"
		}
		return s[:1] + "…" + s[len(s)-1:]
	}
	user, dom := s[:i], s[i+1:]
	if len(user) > 1 {
		user = user[:1] + "…"
	}
	parts := strings.Split(dom, ".")
	if len(parts[0]) > 1 {
		parts[0] = parts[0][:1] + "…"
	}
	return user + "@" + strings.Join(parts, ".")
}
