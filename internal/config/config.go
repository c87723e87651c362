package config

import (
	"encoding/base64"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	App struct {
		// dev | staging | prod
		Env      string `yaml:"env"`
		LogLevel string `yaml:"log_level"`
		BaseURL  string `yaml:"base_url"`
	} `yaml:"app"`

	Server struct {
		Addr         string        `yaml:"addr"`
		ReadTimeout  time.Duration `yaml:"read_timeout"`
		WriteTimeout time.Duration `yaml:"write_timeout"`
	} `yaml:"server"`

	Storage struct {
		// postgres | memory
		Driver   string `yaml:"driver"`
		DSN      string `yaml:"dsn"`
		MaxConns int32  `yaml:"max_conns"`
	} `yaml:"storage"`

	Cache struct {
		// memory | redis
		Kind  string `yaml:"kind"`
		Redis struct {
			Addr     string `yaml:"addr"`
			Password string `yaml:"password"`
			DB       int    `yaml:"db"`
			Prefix   string `yaml:"prefix"`
		} `yaml:"redis"`
	} `yaml:"cache"`

	Session struct {
		CookieName string        `yaml:"cookie_name"`
		Domain     string        `yaml:"domain"`
		Secure     bool          `yaml:"secure"`
		SameSite   string        `yaml:"samesite"`
		TTL        time.Duration `yaml:"ttl"`
	} `yaml:"session"`

	CFI struct {
		BaseURL    string        `yaml:"base_url"`
		AuthHeader string        `yaml:"auth_header"`
		Timeout    time.Duration `yaml:"timeout"`
		// TokenTTL es la vida fija del bearer emitido por CFI.
		TokenTTL time.Duration `yaml:"token_ttl"`
		// TokenRefreshThreshold: ventana antes de expirar en la que se pide re-login.
		TokenRefreshThreshold time.Duration `yaml:"token_refresh_threshold"`
	} `yaml:"cfi"`

	Queue struct {
		// memory | rabbitmq
		Driver   string `yaml:"driver"`
		URL      string `yaml:"url"`
		Name     string `yaml:"name"`
		DLQ      string `yaml:"dlq"`
		Prefetch int    `yaml:"prefetch"`
	} `yaml:"queue"`

	PubSub struct {
		// memory | redis (usa cache.redis.addr si no se indica otro)
		Driver    string `yaml:"driver"`
		RedisAddr string `yaml:"redis_addr"`
	} `yaml:"pubsub"`

	AI struct {
		BaseURL string        `yaml:"base_url"`
		APIKey  string        `yaml:"api_key"`
		Model   string        `yaml:"model"`
		Timeout time.Duration `yaml:"timeout"`
		// Coste en USD por millón de tokens (ej. 0.2).
		PromptCostPerMTok     float64 `yaml:"prompt_cost_per_mtok"`
		CompletionCostPerMTok float64 `yaml:"completion_cost_per_mtok"`
	} `yaml:"ai"`

	Generation struct {
		Workers       int           `yaml:"workers"`
		StuckAfter    time.Duration `yaml:"stuck_after"`
		ReapInterval  time.Duration `yaml:"reap_interval"`
		ListenTimeout time.Duration `yaml:"listen_timeout"`
		MaxPersonas   int           `yaml:"max_personas"`
		MaxAssets     int           `yaml:"max_assets"`
		SubscriberTTL time.Duration `yaml:"subscriber_ttl"`
	} `yaml:"generation"`

	Security struct {
		// base64(32 bytes). Si está vacío los tokens viajan sin sellar en la cola.
		TokenSealKey string `yaml:"token_seal_key"`
		// Secreto HS256 para los JWT de suscripción SSE.
		SubscriberSecret string `yaml:"subscriber_secret"`
		// Intentos de login por IP y ventana. Negativo desactiva el límite.
		LoginRateLimit  int           `yaml:"login_rate_limit"`
		LoginRateWindow time.Duration `yaml:"login_rate_window"`
	} `yaml:"security"`
}

// Load lee el YAML (si path no es vacío), aplica defaults y overrides por env.
func Load(path string) (*Config, error) {
	var c Config
	if strings.TrimSpace(path) != "" {
		b, err := os.ReadFile(path)
		if err != nil {
			return nil, err
		}
		if err := yaml.Unmarshal(b, &c); err != nil {
			return nil, fmt.Errorf("config: parse %s: %w", path, err)
		}
	}

	c.applyDefaults()
	c.applyEnvOverrides()

	if c.PubSub.RedisAddr == "" {
		c.PubSub.RedisAddr = c.Cache.Redis.Addr
	}

	if err := c.Validate(); err != nil {
		return nil, err
	}
	return &c, nil
}

func (c *Config) applyDefaults() {
	if c.App.Env == "" {
		c.App.Env = "dev"
	}
	if c.App.LogLevel == "" {
		c.App.LogLevel = "info"
	}
	if c.App.BaseURL == "" {
		c.App.BaseURL = "http://localhost:8080"
	}
	if c.Server.Addr == "" {
		c.Server.Addr = ":8080"
	}
	if c.Server.ReadTimeout == 0 {
		c.Server.ReadTimeout = 10 * time.Second
	}
	// WriteTimeout queda en 0: el endpoint SSE mantiene conexiones largas.
	if c.Storage.Driver == "" {
		c.Storage.Driver = "memory"
	}
	if c.Storage.MaxConns == 0 {
		c.Storage.MaxConns = 10
	}
	if c.Cache.Kind == "" {
		c.Cache.Kind = "memory"
	}
	if c.Cache.Redis.Prefix == "" {
		c.Cache.Redis.Prefix = "cfihub"
	}
	if c.Session.CookieName == "" {
		c.Session.CookieName = "sid"
	}
	if c.Session.SameSite == "" {
		c.Session.SameSite = "Lax"
	}
	if c.Session.TTL == 0 {
		c.Session.TTL = 12 * time.Hour
	}
	if c.CFI.AuthHeader == "" {
		c.CFI.AuthHeader = "X-Auth-Token"
	}
	if c.CFI.Timeout == 0 {
		c.CFI.Timeout = 15 * time.Second
	}
	if c.CFI.TokenTTL == 0 {
		c.CFI.TokenTTL = 30 * time.Minute
	}
	if c.CFI.TokenRefreshThreshold == 0 {
		c.CFI.TokenRefreshThreshold = 5 * time.Minute
	}
	if c.Queue.Driver == "" {
		c.Queue.Driver = "memory"
	}
	if c.Queue.Name == "" {
		c.Queue.Name = "cfihub.generation"
	}
	if c.Queue.DLQ == "" {
		c.Queue.DLQ = c.Queue.Name + ".dlq"
	}
	if c.Queue.Prefetch == 0 {
		c.Queue.Prefetch = 1
	}
	if c.PubSub.Driver == "" {
		c.PubSub.Driver = "memory"
	}
	if c.AI.BaseURL == "" {
		c.AI.BaseURL = "https://api.mistral.ai/v1"
	}
	if c.AI.Model == "" {
		c.AI.Model = "mistral-large-latest"
	}
	if c.AI.Timeout == 0 {
		c.AI.Timeout = 2 * time.Minute
	}
	if c.Generation.Workers == 0 {
		c.Generation.Workers = 2
	}
	if c.Generation.StuckAfter == 0 {
		c.Generation.StuckAfter = 30 * time.Minute
	}
	if c.Generation.ListenTimeout == 0 {
		c.Generation.ListenTimeout = 10 * time.Minute
	}
	if c.Generation.MaxPersonas == 0 {
		c.Generation.MaxPersonas = 10
	}
	if c.Generation.MaxAssets == 0 {
		c.Generation.MaxAssets = 20
	}
	if c.Generation.SubscriberTTL == 0 {
		c.Generation.SubscriberTTL = 30 * time.Minute
	}
	if c.Security.LoginRateLimit == 0 {
		c.Security.LoginRateLimit = 10
	}
	if c.Security.LoginRateWindow == 0 {
		c.Security.LoginRateWindow = time.Minute
	}
}

// applyEnvOverrides permite sobreescribir lo sensible sin tocar el YAML.
func (c *Config) applyEnvOverrides() {
	setStr := func(dst *string, key string) {
		if v, ok := os.LookupEnv(key); ok && strings.TrimSpace(v) != "" {
			*dst = strings.TrimSpace(v)
		}
	}
	setStr(&c.App.Env, "APP_ENV")
	setStr(&c.App.LogLevel, "LOG_LEVEL")
	setStr(&c.Server.Addr, "CFIHUB_ADDR")
	setStr(&c.Storage.Driver, "CFIHUB_STORAGE_DRIVER")
	setStr(&c.Storage.DSN, "CFIHUB_STORAGE_DSN")
	setStr(&c.Cache.Kind, "CFIHUB_CACHE_KIND")
	setStr(&c.Cache.Redis.Addr, "CFIHUB_REDIS_ADDR")
	setStr(&c.Cache.Redis.Password, "CFIHUB_REDIS_PASSWORD")
	setStr(&c.CFI.BaseURL, "CFIHUB_CFI_BASE_URL")
	setStr(&c.Queue.Driver, "CFIHUB_QUEUE_DRIVER")
	setStr(&c.Queue.URL, "CFIHUB_QUEUE_URL")
	setStr(&c.PubSub.Driver, "CFIHUB_PUBSUB_DRIVER")
	setStr(&c.PubSub.RedisAddr, "CFIHUB_PUBSUB_REDIS_ADDR")
	setStr(&c.AI.APIKey, "MISTRAL_API_KEY")
	setStr(&c.AI.Model, "CFIHUB_AI_MODEL")
	setStr(&c.Security.TokenSealKey, "CFIHUB_TOKEN_SEAL_KEY")
	setStr(&c.Security.SubscriberSecret, "CFIHUB_SUBSCRIBER_SECRET")

	if v, ok := getEnvInt("CFIHUB_WORKERS"); ok {
		c.Generation.Workers = v
	}
	if v, ok := getEnvInt("CFIHUB_REDIS_DB"); ok {
		c.Cache.Redis.DB = v
	}
}

func getEnvInt(key string) (int, bool) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return 0, false
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, false
	}
	return n, true
}

// Validate verifica combinaciones inválidas. En prod es más estricto.
func (c *Config) Validate() error {
	var errs []error

	switch c.Storage.Driver {
	case "memory":
	case "postgres":
		if strings.TrimSpace(c.Storage.DSN) == "" {
			errs = append(errs, errors.New("storage.dsn requerido con driver postgres"))
		}
	default:
		errs = append(errs, fmt.Errorf("storage.driver desconocido: %q", c.Storage.Driver))
	}

	switch c.Cache.Kind {
	case "memory":
	case "redis":
		if c.Cache.Redis.Addr == "" {
			errs = append(errs, errors.New("cache.redis.addr requerido con kind redis"))
		}
	default:
		errs = append(errs, fmt.Errorf("cache.kind desconocido: %q", c.Cache.Kind))
	}

	switch c.Queue.Driver {
	case "memory":
	case "rabbitmq":
		if c.Queue.URL == "" {
			errs = append(errs, errors.New("queue.url requerido con driver rabbitmq"))
		}
	default:
		errs = append(errs, fmt.Errorf("queue.driver desconocido: %q", c.Queue.Driver))
	}

	switch c.PubSub.Driver {
	case "memory":
	case "redis":
		if c.PubSub.RedisAddr == "" {
			errs = append(errs, errors.New("pubsub.redis_addr requerido con driver redis"))
		}
	default:
		errs = append(errs, fmt.Errorf("pubsub.driver desconocido: %q", c.PubSub.Driver))
	}

	if c.CFI.TokenRefreshThreshold >= c.CFI.TokenTTL {
		errs = append(errs, errors.New("cfi.token_refresh_threshold debe ser menor que cfi.token_ttl"))
	}
	if c.Generation.Workers < 1 {
		errs = append(errs, errors.New("generation.workers debe ser >= 1"))
	}
	if c.Security.LoginRateLimit > 0 && c.Security.LoginRateWindow <= 0 {
		errs = append(errs, errors.New("security.login_rate_window debe ser > 0"))
	}

	if k := strings.TrimSpace(c.Security.TokenSealKey); k != "" {
		raw, err := base64.StdEncoding.DecodeString(k)
		if err != nil || len(raw) != 32 {
			errs = append(errs, errors.New("security.token_seal_key debe ser base64 de 32 bytes"))
		}
	}

	if strings.EqualFold(c.App.Env, "prod") {
		if c.CFI.BaseURL == "" {
			errs = append(errs, errors.New("cfi.base_url requerido en prod"))
		}
		if len(c.Security.SubscriberSecret) < 32 {
			errs = append(errs, errors.New("security.subscriber_secret debe tener al menos 32 bytes en prod"))
		}
		if c.Storage.Driver == "memory" {
			errs = append(errs, errors.New("storage.driver memory no permitido en prod"))
		}
	}

	return errors.Join(errs...)
}

// SealKey decodifica security.token_seal_key. nil si no está configurada.
func (c *Config) SealKey() []byte {
	k := strings.TrimSpace(c.Security.TokenSealKey)
	if k == "" {
		return nil
	}
	raw, err := base64.StdEncoding.DecodeString(k)
	if err != nil {
		return nil
	}
	return raw
}
