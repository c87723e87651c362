// Package router arma el árbol de rutas chi de la API.
package router

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/dropDatabas3/cfihub/internal/http/controllers"
	httperrors "github.com/dropDatabas3/cfihub/internal/http/errors"
	mw "github.com/dropDatabas3/cfihub/internal/http/middlewares"
	"github.com/dropDatabas3/cfihub/internal/rate"
)

// Deps son los controllers y la configuración de sesión del router.
type Deps struct {
	Session      mw.SessionConfig
	Metrics      http.Handler
	LoginLimiter rate.Limiter

	Auth     *controllers.AuthController
	Tenant   *controllers.TenantController
	CFI      *controllers.CFIController
	Projects *controllers.ProjectsController
	Tasks    *controllers.TasksController
	Chat     *controllers.ChatController
	Events   *controllers.EventsController
	Health   *controllers.HealthController
}

// New devuelve el handler raíz.
//
// Orden de middlewares: request id y métricas afuera de todo; recover queda
// adentro de logging para que un panic se registre como 500.
func New(d Deps) http.Handler {
	r := chi.NewRouter()
	r.Use(mw.WithRequestID(), mw.WithMetrics())
	r.NotFound(func(w http.ResponseWriter, _ *http.Request) {
		httperrors.WriteError(w, httperrors.ErrRouteNotFound)
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, _ *http.Request) {
		httperrors.WriteError(w, httperrors.ErrMethodNotAllowed)
	})

	// infra: sin logging (muy frecuentes)
	r.Group(func(r chi.Router) {
		r.Use(mw.WithRecover())
		r.Get("/readyz", d.Health.Readyz)
		if d.Metrics != nil {
			r.Method(http.MethodGet, "/metrics", d.Metrics)
		}
	})

	// SSE: autorizado por token de suscripción, sin sesión
	r.Group(func(r chi.Router) {
		r.Use(mw.WithLogging(), mw.WithRecover())
		r.Get("/events", d.Events.Stream)
	})

	r.Group(func(r chi.Router) {
		r.Use(mw.WithSession(d.Session), mw.WithLogging(), mw.WithRecover())

		r.With(mw.WithRateLimit(d.LoginLimiter, "login")).Post("/api/auth/login", d.Auth.Login)
		r.Post("/api/auth/logout", d.Auth.Logout)

		r.Group(func(r chi.Router) {
			r.Use(mw.RequireAuth())

			r.Get("/api/auth/me", d.Auth.Me)
			r.Get("/api/tenant/divisions", d.Tenant.Divisions)
			r.Post("/api/tenant/switch", d.Tenant.Switch)
			r.Get("/api/tasks/{id}", d.Tasks.Get)

			r.Group(func(r chi.Router) {
				r.Use(mw.RequireTenant())

				r.Route("/api/cfi", func(r chi.Router) {
					r.Get("/stocks", d.CFI.Stocks)
					r.Get("/factures", d.CFI.Factures)
					r.Get("/operations", d.CFI.Operations)
					r.Get("/etats", d.CFI.Etats)
					r.Get("/droits", d.CFI.Droits)
				})

				r.Route("/api/projects", func(r chi.Router) {
					r.Post("/", d.Projects.Create)
					r.Get("/{id}/results", d.Projects.Results)
					r.Post("/{id}/personas/generate", d.Projects.GeneratePersonas)
					r.Post("/{id}/strategy/generate", d.Projects.GenerateStrategy)
					r.Post("/{id}/assets/generate", d.Projects.GenerateAssets)
				})

				r.Route("/chat", func(r chi.Router) {
					r.Get("/conversations/{id}/messages", d.Chat.Messages)
					r.Post("/conversations/{id}/favorite", d.Chat.Favorite)
					r.Delete("/conversations/{id}", d.Chat.Delete)
					r.Post("/{context}/stream", d.Chat.Stream)
					r.Get("/{context}/conversations", d.Chat.List)
				})
			})
		})
	})

	return r
}
