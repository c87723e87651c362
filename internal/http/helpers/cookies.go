package helpers

import (
	"net/http"
	"strings"
	"time"
)

// CookieConfig describe la cookie de sesión.
type CookieConfig struct {
	Name     string
	Domain   string
	SameSite string
	Secure   bool
	TTL      time.Duration
}

func ParseSameSite(s string) http.SameSite {
	switch strings.TrimSpace(strings.ToLower(s)) {
	case "strict":
		return http.SameSiteStrictMode
	case "none":
		return http.SameSiteNoneMode
	default:
		return http.SameSiteLaxMode
	}
}

// BuildCookie arma la cookie de sesión HttpOnly con value.
func BuildCookie(cfg CookieConfig, value string) *http.Cookie {
	ck := &http.Cookie{
		Name:     cfg.Name,
		Value:    value,
		Path:     "/",
		HttpOnly: true,
		Secure:   cfg.Secure,
		SameSite: ParseSameSite(cfg.SameSite),
	}
	if strings.TrimSpace(cfg.Domain) != "" {
		ck.Domain = cfg.Domain
	}
	if cfg.TTL > 0 {
		ck.Expires = time.Now().Add(cfg.TTL).UTC()
		ck.MaxAge = int(cfg.TTL.Seconds())
	}
	return ck
}

// BuildDeletionCookie arma una cookie que expira la de sesión.
func BuildDeletionCookie(cfg CookieConfig) *http.Cookie {
	ck := BuildCookie(cfg, "")
	ck.Expires = time.Unix(0, 0).UTC()
	ck.MaxAge = -1
	return ck
}
