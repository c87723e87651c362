// Package client es el wrapper HTTP de la API CFI: POST JSON con el bearer en
// un header propio, timeout configurable y errores clasificados por tipo.
// No reintenta: un solo intento, fallo rápido.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/dropDatabas3/cfihub/internal/metrics"
	"github.com/dropDatabas3/cfihub/internal/observability/logger"
)

const maxBodyBytes = 8 << 20 // 8MB

// ErrTokenRequired se devuelve, sin hacer I/O, cuando falta el token en un
// endpoint que no admite llamadas anónimas.
var ErrTokenRequired = errors.New("cfi: bearer token required")

// Config configura el cliente.
type Config struct {
	BaseURL    string
	AuthHeader string // default X-Auth-Token
	Timeout    time.Duration
	// Anonymous lista los endpoints que aceptan llamadas sin token.
	Anonymous []string
	// HTTPClient permite inyectar un transport (tests). Su Timeout se ignora.
	HTTPClient *http.Client
}

// Client llama a la API CFI. Seguro para uso concurrente.
type Client struct {
	baseURL    string
	authHeader string
	timeout    time.Duration
	anonymous  map[string]struct{}
	http       *http.Client
}

// New crea un Client.
func New(cfg Config) *Client {
	c := &Client{
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		authHeader: cfg.AuthHeader,
		timeout:    cfg.Timeout,
		anonymous:  map[string]struct{}{},
		http:       cfg.HTTPClient,
	}
	if c.authHeader == "" {
		c.authHeader = "X-Auth-Token"
	}
	if c.timeout <= 0 {
		c.timeout = 15 * time.Second
	}
	if c.http == nil {
		c.http = &http.Client{}
	}
	for _, ep := range cfg.Anonymous {
		c.AllowAnonymous(ep)
	}
	return c
}

// AllowAnonymous registra endpoint como invocable sin token.
func (c *Client) AllowAnonymous(endpoint string) {
	c.anonymous[normalize(endpoint)] = struct{}{}
}

func (c *Client) isAnonymous(endpoint string) bool {
	_, ok := c.anonymous[normalize(endpoint)]
	return ok
}

// Post envía body como JSON a endpoint y devuelve el cuerpo JSON de la
// respuesta. token vacío significa "sin token".
func (c *Client) Post(ctx context.Context, endpoint string, body any, token string) (json.RawMessage, error) {
	ep := normalize(endpoint)
	log := logger.From(ctx).With(logger.Component("cfi.client"), logger.Endpoint(ep))

	if token == "" && !c.isAnonymous(ep) {
		return nil, ErrTokenRequired
	}

	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("cfi: encode request %s: %w", ep, err)
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+ep, bytes.NewReader(payload))
	if err != nil {
		return nil, c.fail(ep, &Error{Kind: KindTransport, Endpoint: ep, Err: err})
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	if token != "" {
		req.Header.Set(c.authHeader, token)
	}

	start := time.Now()
	resp, err := c.http.Do(req)
	metrics.CFIRequestDuration.WithLabelValues(ep).Observe(time.Since(start).Seconds())
	if err != nil {
		log.Warn("cfi request failed", logger.Err(err), logger.Duration(time.Since(start)))
		return nil, c.fail(ep, &Error{Kind: KindTransport, Endpoint: ep, Err: err})
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return nil, c.fail(ep, &Error{Kind: KindTransport, Endpoint: ep, Status: resp.StatusCode, Err: err})
	}

	switch {
	case resp.StatusCode >= 500:
		log.Warn("cfi server error", logger.Status(resp.StatusCode))
		return nil, c.fail(ep, &Error{Kind: KindServer, Endpoint: ep, Status: resp.StatusCode, Body: snippet(raw)})
	case resp.StatusCode >= 400:
		log.Info("cfi client error", logger.Status(resp.StatusCode))
		return nil, c.fail(ep, &Error{Kind: KindClient, Endpoint: ep, Status: resp.StatusCode, Body: snippet(raw)})
	}

	if len(bytes.TrimSpace(raw)) == 0 || !json.Valid(raw) {
		return nil, c.fail(ep, &Error{Kind: KindDecode, Endpoint: ep, Status: resp.StatusCode, Body: snippet(raw)})
	}

	log.Debug("cfi request ok", logger.Status(resp.StatusCode), logger.Bytes(len(raw)), logger.Duration(time.Since(start)))
	return json.RawMessage(raw), nil
}

func (c *Client) fail(endpoint string, e *Error) error {
	metrics.CFIErrorsTotal.WithLabelValues(endpoint, e.Kind.String()).Inc()
	return e
}

func normalize(endpoint string) string {
	ep := strings.TrimSpace(endpoint)
	if !strings.HasPrefix(ep, "/") {
		ep = "/" + ep
	}
	return ep
}

func snippet(b []byte) string {
	const max = 256
	s := strings.TrimSpace(string(b))
	if len(s) > max {
		return s[:max] + "…"
	}
	return s
}
