// Package app arma el grafo de dependencias de cfihub a partir de la
// configuración: storage, cache, sesiones, cliente CFI, cola, hub, agentes
// de IA y el pipeline de generación.
package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"

	"github.com/dropDatabas3/cfihub/internal/ai"
	"github.com/dropDatabas3/cfihub/internal/ai/mistral"
	"github.com/dropDatabas3/cfihub/internal/cache"
	"github.com/dropDatabas3/cfihub/internal/cfi/client"
	"github.com/dropDatabas3/cfihub/internal/cfi/services"
	"github.com/dropDatabas3/cfihub/internal/config"
	"github.com/dropDatabas3/cfihub/internal/domain/repository"
	"github.com/dropDatabas3/cfihub/internal/generation"
	"github.com/dropDatabas3/cfihub/internal/http/controllers"
	"github.com/dropDatabas3/cfihub/internal/http/helpers"
	mw "github.com/dropDatabas3/cfihub/internal/http/middlewares"
	"github.com/dropDatabas3/cfihub/internal/http/router"
	"github.com/dropDatabas3/cfihub/internal/metrics"
	"github.com/dropDatabas3/cfihub/internal/observability/logger"
	"github.com/dropDatabas3/cfihub/internal/pubsub"
	"github.com/dropDatabas3/cfihub/internal/queue"
	"github.com/dropDatabas3/cfihub/internal/rate"
	"github.com/dropDatabas3/cfihub/internal/security/secretbox"
	tokens "github.com/dropDatabas3/cfihub/internal/security/token"
	"github.com/dropDatabas3/cfihub/internal/session"
	"github.com/dropDatabas3/cfihub/internal/store/memory"
	"github.com/dropDatabas3/cfihub/internal/store/pg"
	"github.com/dropDatabas3/cfihub/migrations/postgres"
)

// Version se fija en build (-ldflags "-X ...app.Version=...").
var Version = "dev"

// App es el contenedor de dependencias.
type App struct {
	Config *config.Config

	Store    repository.Store
	Cache    cache.Client
	Sessions *session.Store
	CFI      *services.Services
	Queue    queue.Queue
	Hub      pubsub.Hub
	Issuer   *pubsub.TokenIssuer
	Agents   *ai.Registry

	Dispatcher *generation.Dispatcher

	pg     *pg.Store
	sealer generation.TokenSealer
	closer []func() error
}

// New construye el App. Con storage postgres aplica las migraciones
// pendientes al abrir.
func New(ctx context.Context, cfg *config.Config) (a *App, err error) {
	a = &App{Config: cfg}
	defer func() {
		if err != nil {
			a.Close()
		}
	}()
	log := logger.L().With(logger.Component("app"))

	if err := a.openStore(ctx, true); err != nil {
		return nil, err
	}

	a.Cache, err = cache.New(cache.Config{
		Driver:   cfg.Cache.Kind,
		Addr:     cfg.Cache.Redis.Addr,
		Password: cfg.Cache.Redis.Password,
		DB:       cfg.Cache.Redis.DB,
		Prefix:   cfg.Cache.Redis.Prefix,
	})
	if err != nil {
		return nil, fmt.Errorf("app: cache: %w", err)
	}
	a.closer = append(a.closer, a.Cache.Close)
	a.Sessions = session.NewStore(a.Cache, cfg.Session.TTL)

	cfiClient := client.New(client.Config{
		BaseURL:    cfg.CFI.BaseURL,
		AuthHeader: cfg.CFI.AuthHeader,
		Timeout:    cfg.CFI.Timeout,
		Anonymous:  []string{services.EndpointLogin},
	})
	a.CFI = services.New(cfiClient, a.Cache)

	a.Queue, err = queue.New(ctx, queue.Config{
		Driver:   cfg.Queue.Driver,
		URL:      cfg.Queue.URL,
		Name:     cfg.Queue.Name,
		DLQ:      cfg.Queue.DLQ,
		Prefetch: cfg.Queue.Prefetch,
	})
	if err != nil {
		return nil, fmt.Errorf("app: queue: %w", err)
	}
	a.closer = append(a.closer, a.Queue.Close)

	switch cfg.PubSub.Driver {
	case "redis":
		rdb := redis.NewClient(&redis.Options{
			Addr:     cfg.PubSub.RedisAddr,
			Password: cfg.Cache.Redis.Password,
			DB:       cfg.Cache.Redis.DB,
		})
		a.closer = append(a.closer, rdb.Close)
		pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		err = rdb.Ping(pingCtx).Err()
		cancel()
		if err != nil {
			return nil, fmt.Errorf("app: pubsub redis ping: %w", err)
		}
		a.Hub = pubsub.NewRedisHub(rdb, "")
	default:
		a.Hub = pubsub.NewMemoryHub()
	}
	a.closer = append(a.closer, a.Hub.Close)

	secret := []byte(cfg.Security.SubscriberSecret)
	if len(secret) == 0 {
		// sin secreto configurado los tokens de suscripción sólo valen para esta instancia
		s, err := tokens.Random(32)
		if err != nil {
			return nil, fmt.Errorf("app: subscriber secret: %w", err)
		}
		secret = []byte(s)
		log.Warn("security.subscriber_secret not set, using an ephemeral secret")
	}
	a.Issuer = pubsub.NewTokenIssuer(secret, cfg.Generation.SubscriberTTL)

	if key := cfg.SealKey(); key != nil {
		s, err := secretbox.New(key)
		if err != nil {
			return nil, fmt.Errorf("app: token sealer: %w", err)
		}
		a.sealer = s
	} else {
		log.Warn("security.token_seal_key not set, queued tokens travel in clear")
	}

	llm := mistral.New(mistral.Config{
		BaseURL: cfg.AI.BaseURL,
		APIKey:  cfg.AI.APIKey,
		Model:   cfg.AI.Model,
		Timeout: cfg.AI.Timeout,
	})
	a.Agents = ai.NewDefaultRegistry(llm, ai.Pricing{
		PromptPerMTok:     cfg.AI.PromptCostPerMTok,
		CompletionPerMTok: cfg.AI.CompletionCostPerMTok,
	})

	a.Dispatcher = generation.NewDispatcher(generation.DispatcherDeps{
		Tasks:         a.Store.Tasks(),
		Projects:      a.Store.Projects(),
		Conversations: a.Store.Conversations(),
		Queue:         a.Queue,
		Issuer:        a.Issuer,
		Sealer:        a.sealer,
		MaxPersonas:   cfg.Generation.MaxPersonas,
		MaxAssets:     cfg.Generation.MaxAssets,
	})

	log.Info("app ready",
		logger.String("storage", cfg.Storage.Driver),
		logger.String("cache", cfg.Cache.Kind),
		logger.String("queue", cfg.Queue.Driver),
		logger.String("pubsub", cfg.PubSub.Driver),
	)
	return a, nil
}

// OpenStore abre sólo el storage (comando migrate).
func OpenStore(ctx context.Context, cfg *config.Config) (*App, error) {
	a := &App{Config: cfg}
	if err := a.openStore(ctx, false); err != nil {
		return nil, err
	}
	return a, nil
}

func (a *App) openStore(ctx context.Context, migrate bool) error {
	cfg := a.Config
	switch cfg.Storage.Driver {
	case "postgres":
		st, err := pg.Open(ctx, cfg.Storage.DSN, cfg.Storage.MaxConns)
		if err != nil {
			return fmt.Errorf("app: open postgres: %w", err)
		}
		a.pg, a.Store = st, st
		a.closer = append(a.closer, func() error { st.Close(); return nil })
		if migrate {
			if _, err := a.Migrate(ctx); err != nil {
				return err
			}
		}
	default:
		a.Store = memory.New()
	}
	return nil
}

// Migrate aplica las migraciones pendientes. Con storage en memoria no hace nada.
func (a *App) Migrate(ctx context.Context) (*pg.MigrationResult, error) {
	if a.pg == nil {
		return &pg.MigrationResult{}, nil
	}
	res, err := pg.Migrate(ctx, a.pg.Pool(), migrations.FS, migrations.Dir)
	if err != nil {
		return nil, fmt.Errorf("app: migrate: %w", err)
	}
	return res, nil
}

// Handler arma el router HTTP y registra las métricas en reg (nil = default).
func (a *App) Handler(reg prometheus.Registerer) (http.Handler, error) {
	if err := metrics.Register(reg); err != nil {
		return nil, err
	}
	cacheStats := func(ctx context.Context) (int64, int64, int64, error) {
		st, err := a.Cache.Stats(ctx)
		return st.Keys, st.Hits, st.Misses, err
	}
	if err := metrics.RegisterCollector(reg, metrics.NewCacheCollector(a.Config.Cache.Kind, cacheStats)); err != nil {
		return nil, err
	}
	if a.pg != nil {
		if err := metrics.RegisterCollector(reg, metrics.NewPoolCollector(a.pg.Pool)); err != nil {
			return nil, err
		}
	}

	cfg := a.Config
	checks := []controllers.HealthCheck{
		{Name: "store", Critical: true, Check: a.Store.Ping},
		{Name: "cache", Critical: true, Check: a.Cache.Ping},
	}

	return router.New(router.Deps{
		Session: mw.SessionConfig{
			Store: a.Sessions,
			Cookie: helpers.CookieConfig{
				Name:     cfg.Session.CookieName,
				Domain:   cfg.Session.Domain,
				SameSite: cfg.Session.SameSite,
				Secure:   cfg.Session.Secure,
				TTL:      a.Sessions.TTL(),
			},
			Access:                a.Store.Access(),
			TokenTTL:              cfg.CFI.TokenTTL,
			TokenRefreshThreshold: cfg.CFI.TokenRefreshThreshold,
		},
		Metrics:      promhttp.Handler(),
		LoginLimiter: a.loginLimiter(),

		Auth:     controllers.NewAuthController(a.CFI.Utilisateur, a.Store),
		Tenant:   controllers.NewTenantController(a.Store.Access()),
		CFI:      controllers.NewCFIController(a.CFI),
		Projects: controllers.NewProjectsController(a.Store, a.Dispatcher),
		Tasks:    controllers.NewTasksController(a.Store.Tasks()),
		Chat:     controllers.NewChatController(a.Store.Conversations(), a.Dispatcher),
		Events:   controllers.NewEventsController(a.Hub, a.Issuer, 0),
		Health:   controllers.NewHealthController(Version, checks...),
	}), nil
}

func (a *App) loginLimiter() rate.Limiter {
	cfg := a.Config.Security
	if cfg.LoginRateLimit < 0 {
		return nil
	}
	if rc, ok := a.Cache.(*cache.RedisClient); ok {
		return rate.NewRedisLimiter(rc.Redis(), a.Config.Cache.Redis.Prefix+":rl:", cfg.LoginRateLimit, cfg.LoginRateWindow)
	}
	return rate.NewMemoryLimiter(cfg.LoginRateLimit, cfg.LoginRateWindow)
}

// Reaper devuelve el reaper de tareas colgadas.
func (a *App) Reaper() *generation.Reaper {
	return generation.NewReaper(a.Store.Tasks(), a.Store.Conversations(), a.Hub, a.Config.Generation.StuckAfter)
}

// Worker arma el worker con los handlers de cada tipo de tarea registrados.
func (a *App) Worker() *generation.Worker {
	cfg := a.Config
	w := generation.NewWorker(a.Queue, a.Store.Tasks(), a.Hub, generation.WorkerConfig{
		Concurrency:  cfg.Generation.Workers,
		Sealer:       a.sealer,
		Reaper:       a.Reaper(),
		ReapInterval: cfg.Generation.ReapInterval,
	})
	h := &generation.Handlers{
		Agents:        a.Agents,
		Enricher:      ai.NewEnricher(a.CFI),
		Projects:      a.Store.Projects(),
		Conversations: a.Store.Conversations(),
	}
	h.Register(w)
	return w
}

// Close libera los recursos en orden inverso al de apertura.
func (a *App) Close() error {
	var errs []error
	for i := len(a.closer) - 1; i >= 0; i-- {
		if err := a.closer[i](); err != nil {
			errs = append(errs, err)
		}
	}
	a.closer = nil
	return errors.Join(errs...)
}
