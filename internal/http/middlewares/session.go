package middlewares

import (
	"net/http"
	"sync"
	"time"

	"github.com/dropDatabas3/cfihub/internal/cfi/token"
	"github.com/dropDatabas3/cfihub/internal/http/helpers"
	"github.com/dropDatabas3/cfihub/internal/observability/logger"
	"github.com/dropDatabas3/cfihub/internal/session"
	"github.com/dropDatabas3/cfihub/internal/tenant"
)

// SessionConfig agrupa lo necesario para armar el estado por-request.
type SessionConfig struct {
	Store  *session.Store
	Cookie helpers.CookieConfig
	Access tenant.AccessChecker

	TokenTTL              time.Duration
	TokenRefreshThreshold time.Duration
}

// WithSession carga (o crea) la sesión de la cookie y arma sobre ella el
// token store, el token context y el tenant context del request. La sesión se
// persiste justo antes de escribir el primer byte de la respuesta; una sesión
// nueva que quedó vacía no se guarda ni emite cookie. Una sesión rotada emite
// la cookie con el id nuevo.
func WithSession(cfg SessionConfig) Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()
			log := logger.From(ctx).With(logger.Component("session"))

			var sid string
			if ck, err := r.Cookie(cfg.Cookie.Name); err == nil {
				sid = ck.Value
			}
			sess, isNew, err := cfg.Store.Load(ctx, sid)
			if err != nil {
				// cache caído: se atiende el request con una sesión efímera
				log.Warn("session load failed", logger.Err(err))
				if sess, err = cfg.Store.New(); err != nil {
					sess = session.NewDetached()
				}
				isNew = true
			}

			tokens := token.NewSessionStore(sess, cfg.TokenTTL, cfg.TokenRefreshThreshold)
			st := &State{
				Session: sess,
				Tokens:  tokens,
				Token:   token.NewContext(tokens),
				Tenant:  tenant.New(sess, cfg.Access),

				sessions: cfg.Store,
			}
			loadedID := sess.ID

			sw := &sessionWriter{ResponseWriter: w}
			sw.commit = func() {
				switch {
				case sess.Destroyed():
					if !isNew {
						if err := cfg.Store.Save(ctx, sess); err != nil {
							log.Warn("session delete failed", logger.Err(err))
						}
					}
					http.SetCookie(w, helpers.BuildDeletionCookie(cfg.Cookie))
				case isNew && sess.Empty():
				default:
					if err := cfg.Store.Save(ctx, sess); err != nil {
						log.Error("session save failed", logger.Err(err))
						return
					}
					// nueva o rotada en el login
					if isNew || sess.ID != loadedID {
						http.SetCookie(w, helpers.BuildCookie(cfg.Cookie, sess.ID))
					}
				}
			}

			ctx = session.WithSession(ctx, sess)
			ctx = WithState(ctx, st)
			next.ServeHTTP(sw, r.WithContext(ctx))
			sw.flushSession()
		})
	}
}

// sessionWriter persiste la sesión antes de que salgan los headers.
type sessionWriter struct {
	http.ResponseWriter
	once   sync.Once
	commit func()
}

func (s *sessionWriter) flushSession() { s.once.Do(s.commit) }

func (s *sessionWriter) WriteHeader(code int) {
	s.flushSession()
	s.ResponseWriter.WriteHeader(code)
}

func (s *sessionWriter) Write(b []byte) (int, error) {
	s.flushSession()
	return s.ResponseWriter.Write(b)
}

func (s *sessionWriter) Flush() {
	s.flushSession()
	if f, ok := s.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func (s *sessionWriter) Unwrap() http.ResponseWriter { return s.ResponseWriter }
