// Package mistral es un cliente mínimo del endpoint chat/completions de
// Mistral: completions en modo JSON y streaming por líneas "data:".
package mistral

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/dropDatabas3/cfihub/internal/observability/logger"
)

const (
	DefaultBaseURL = "https://api.mistral.ai/v1"
	DefaultModel   = "mistral-small-latest"

	completionsPath = "/chat/completions"
)

var ErrEmptyCompletion = errors.New("mistral: empty completion")

// APIError es una respuesta no-2xx del proveedor.
type APIError struct {
	Status int
	Body   string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("mistral: status %d: %s", e.Status, e.Body)
}

// Retryable indica si vale la pena reintentar (429 o 5xx).
func (e *APIError) Retryable() bool {
	return e.Status == http.StatusTooManyRequests || e.Status >= 500
}

type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

type Message struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

// Usage es el consumo de tokens reportado por el proveedor.
type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// Add acumula u2 en u.
func (u *Usage) Add(u2 Usage) {
	u.PromptTokens += u2.PromptTokens
	u.CompletionTokens += u2.CompletionTokens
	u.TotalTokens += u2.TotalTokens
}

type responseFormat struct {
	Type string `json:"type"`
}

type request struct {
	Model          string          `json:"model"`
	Messages       []Message       `json:"messages"`
	Temperature    *float64        `json:"temperature,omitempty"`
	MaxTokens      int             `json:"max_tokens,omitempty"`
	Stream         bool            `json:"stream,omitempty"`
	ResponseFormat *responseFormat `json:"response_format,omitempty"`
}

type response struct {
	ID      string `json:"id"`
	Choices []struct {
		Message      Message `json:"message"`
		FinishReason string  `json:"finish_reason"`
	} `json:"choices"`
	Usage Usage `json:"usage"`
}

type streamChunk struct {
	Choices []struct {
		Delta struct {
			Content string `json:"content"`
		} `json:"delta"`
		FinishReason *string `json:"finish_reason"`
	} `json:"choices"`
	Usage *Usage `json:"usage,omitempty"`
}

// Completion es el resultado de Complete.
type Completion struct {
	Content      string
	FinishReason string
	Usage        Usage
}

// Option ajusta una llamada.
type Option func(*request)

// JSONMode pide al modelo una respuesta que sea un objeto JSON válido.
func JSONMode() Option {
	return func(r *request) { r.ResponseFormat = &responseFormat{Type: "json_object"} }
}

func Temperature(t float64) Option { return func(r *request) { r.Temperature = &t } }
func MaxTokens(n int) Option       { return func(r *request) { r.MaxTokens = n } }

// Config configura el cliente.
type Config struct {
	BaseURL    string
	APIKey     string
	Model      string
	Timeout    time.Duration
	HTTPClient *http.Client
}

// Client es seguro para uso concurrente.
type Client struct {
	baseURL string
	apiKey  string
	model   string
	timeout time.Duration
	http    *http.Client
}

func New(cfg Config) *Client {
	c := &Client{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:  cfg.APIKey,
		model:   cfg.Model,
		timeout: cfg.Timeout,
		http:    cfg.HTTPClient,
	}
	if c.baseURL == "" {
		c.baseURL = DefaultBaseURL
	}
	if c.model == "" {
		c.model = DefaultModel
	}
	if c.timeout <= 0 {
		c.timeout = 2 * time.Minute
	}
	if c.http == nil {
		c.http = &http.Client{}
	}
	return c
}

// Model devuelve el modelo configurado.
func (c *Client) Model() string { return c.model }

// Complete hace una llamada no-streaming.
func (c *Client) Complete(ctx context.Context, msgs []Message, opts ...Option) (Completion, error) {
	req := c.build(msgs, false, opts)

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	resp, err := c.do(ctx, req)
	if err != nil {
		return Completion{}, err
	}
	defer resp.Body.Close()

	var out response
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return Completion{}, fmt.Errorf("mistral: decode response: %w", err)
	}
	if len(out.Choices) == 0 || strings.TrimSpace(out.Choices[0].Message.Content) == "" {
		return Completion{Usage: out.Usage}, ErrEmptyCompletion
	}
	return Completion{
		Content:      out.Choices[0].Message.Content,
		FinishReason: out.Choices[0].FinishReason,
		Usage:        out.Usage,
	}, nil
}

// Stream hace una llamada streaming e invoca onDelta por cada fragmento de
// texto. Un error de onDelta corta el stream. Devuelve el texto completo y
// el uso reportado en el último chunk.
func (c *Client) Stream(ctx context.Context, msgs []Message, onDelta func(string) error, opts ...Option) (Completion, error) {
	req := c.build(msgs, true, opts)

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	resp, err := c.do(ctx, req)
	if err != nil {
		return Completion{}, err
	}
	defer resp.Body.Close()

	var (
		out  Completion
		text strings.Builder
	)
	sc := bufio.NewScanner(resp.Body)
	sc.Buffer(make([]byte, 64<<10), 1<<20)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if !strings.HasPrefix(line, "data:") {
			continue
		}
		data := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
		if data == "[DONE]" {
			break
		}
		var chunk streamChunk
		if err := json.Unmarshal([]byte(data), &chunk); err != nil {
			logger.From(ctx).Debug("skipping undecodable stream chunk", logger.Err(err))
			continue
		}
		if chunk.Usage != nil {
			out.Usage = *chunk.Usage
		}
		for _, ch := range chunk.Choices {
			if ch.FinishReason != nil {
				out.FinishReason = *ch.FinishReason
			}
			if ch.Delta.Content == "" {
				continue
			}
			text.WriteString(ch.Delta.Content)
			if onDelta != nil {
				if err := onDelta(ch.Delta.Content); err != nil {
					out.Content = text.String()
					return out, err
				}
			}
		}
	}
	if err := sc.Err(); err != nil {
		out.Content = text.String()
		return out, fmt.Errorf("mistral: read stream: %w", err)
	}
	out.Content = text.String()
	if out.Content == "" {
		return out, ErrEmptyCompletion
	}
	return out, nil
}

func (c *Client) build(msgs []Message, stream bool, opts []Option) request {
	r := request{Model: c.model, Messages: msgs, Stream: stream}
	for _, o := range opts {
		o(&r)
	}
	return r
}

func (c *Client) do(ctx context.Context, r request) (*http.Response, error) {
	payload, err := json.Marshal(r)
	if err != nil {
		return nil, fmt.Errorf("mistral: encode request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+completionsPath, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("mistral: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if r.Stream {
		req.Header.Set("Accept", "text/event-stream")
	} else {
		req.Header.Set("Accept", "application/json")
	}
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("mistral: request: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		defer resp.Body.Close()
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 4<<10))
		return nil, &APIError{Status: resp.StatusCode, Body: strings.TrimSpace(string(b))}
	}
	return resp, nil
}
