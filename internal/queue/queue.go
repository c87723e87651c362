// Package queue transporta los mensajes de generación entre el proceso HTTP
// (que encola) y los workers (que consumen). Drivers: memory (un solo
// proceso, tests) y rabbitmq.
package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

var (
	ErrClosed        = errors.New("queue: closed")
	ErrUnknownDriver = errors.New("queue: unknown driver")
)

// Envelope es la unidad que viaja por la cola. Body es el mensaje tipado
// serializado; Kind decide qué handler lo procesa.
type Envelope struct {
	ID         string          `json:"id"`
	Kind       string          `json:"kind"`
	Body       json.RawMessage `json:"body"`
	EnqueuedAt time.Time       `json:"enqueued_at"`

	// Attempt lo completa el driver al entregar (1 = primera entrega).
	Attempt int `json:"-"`
}

// NewEnvelope serializa msg.
func NewEnvelope(id, kind string, msg any) (Envelope, error) {
	b, err := json.Marshal(msg)
	if err != nil {
		return Envelope{}, fmt.Errorf("queue: encode %s: %w", kind, err)
	}
	return Envelope{ID: id, Kind: kind, Body: b, EnqueuedAt: time.Now().UTC()}, nil
}

// Decode deserializa Body en dst.
func (e Envelope) Decode(dst any) error {
	if err := json.Unmarshal(e.Body, dst); err != nil {
		return fmt.Errorf("queue: decode %s: %w", e.Kind, err)
	}
	return nil
}

// Handler procesa un envelope. nil confirma la entrega; un error la
// devuelve a la cola hasta agotar los reintentos.
type Handler func(ctx context.Context, env Envelope) error

// Queue publica y consume envelopes.
type Queue interface {
	Publish(ctx context.Context, env Envelope) error

	// Consume bloquea entregando envelopes a h hasta que ctx se cancele.
	// Puede llamarse desde varias goroutines para consumir en paralelo.
	Consume(ctx context.Context, h Handler) error

	Close() error
}

// Config selecciona el driver.
type Config struct {
	Driver      string // memory | rabbitmq
	URL         string
	Name        string
	DLQ         string
	Prefetch    int
	MaxAttempts int
}

// New construye la cola según cfg.Driver.
func New(ctx context.Context, cfg Config) (Queue, error) {
	switch cfg.Driver {
	case "", "memory":
		return NewMemory(MemoryOptions{MaxAttempts: cfg.MaxAttempts}), nil
	case "rabbitmq", "amqp":
		return DialRabbit(ctx, RabbitConfig{
			URL:         cfg.URL,
			Queue:       cfg.Name,
			DLQ:         cfg.DLQ,
			Prefetch:    cfg.Prefetch,
			MaxAttempts: cfg.MaxAttempts,
		})
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownDriver, cfg.Driver)
	}
}
