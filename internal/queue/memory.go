package queue

import (
	"context"
	"sync"

	"github.com/dropDatabas3/cfihub/internal/observability/logger"
)

// MemoryOptions configura la cola en memoria.
type MemoryOptions struct {
	Capacity    int // default 1024
	MaxAttempts int // default 3
}

// Memory es una cola FIFO in-process. Los envelopes que agotan los
// reintentos quedan en Dead().
type Memory struct {
	ch          chan Envelope
	maxAttempts int

	mu     sync.Mutex
	dead   []Envelope
	closed bool
	done   chan struct{}
}

func NewMemory(opts MemoryOptions) *Memory {
	if opts.Capacity <= 0 {
		opts.Capacity = 1024
	}
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = 3
	}
	return &Memory{
		ch:          make(chan Envelope, opts.Capacity),
		maxAttempts: opts.MaxAttempts,
		done:        make(chan struct{}),
	}
}

func (m *Memory) Publish(ctx context.Context, env Envelope) error {
	m.mu.Lock()
	closed := m.closed
	m.mu.Unlock()
	if closed {
		return ErrClosed
	}
	select {
	case m.ch <- env:
		return nil
	case <-m.done:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (m *Memory) Consume(ctx context.Context, h Handler) error {
	log := logger.From(ctx).With(logger.Component("queue.memory"))
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-m.done:
			return ErrClosed
		case env := <-m.ch:
			env.Attempt++
			if err := h(ctx, env); err != nil {
				if env.Attempt >= m.maxAttempts {
					log.Error("envelope exhausted retries",
						logger.TaskID(env.ID), logger.Kind(env.Kind), logger.Err(err))
					m.mu.Lock()
					m.dead = append(m.dead, env)
					m.mu.Unlock()
					continue
				}
				log.Warn("envelope requeued", logger.TaskID(env.ID), logger.Int("attempt", env.Attempt), logger.Err(err))
				select {
				case m.ch <- env:
				case <-ctx.Done():
					return ctx.Err()
				}
			}
		}
	}
}

// Len devuelve la cantidad de envelopes pendientes.
func (m *Memory) Len() int { return len(m.ch) }

// Dead devuelve una copia de los envelopes descartados.
func (m *Memory) Dead() []Envelope {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Envelope(nil), m.dead...)
}

func (m *Memory) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.closed {
		m.closed = true
		close(m.done)
	}
	return nil
}
