package pubsub

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/dropDatabas3/cfihub/internal/metrics"
)

// subscriberBuffer es la cola por suscriptor; si se llena, se descartan eventos.
const subscriberBuffer = 64

// ErrClosed indica que el hub fue cerrado.
var ErrClosed = errors.New("pubsub: hub closed")

// Hub publica y distribuye eventos por topic.
type Hub interface {
	// Publish envía ev a los suscriptores actuales de topic. No espera ack.
	Publish(ctx context.Context, topic string, ev Event) error

	// Subscribe devuelve un canal de eventos de topic. El canal se cierra al
	// cancelar ctx o llamar a la función de cancelación.
	Subscribe(ctx context.Context, topic string) (<-chan Event, func(), error)

	Close() error
}

// MemoryHub es un Hub in-process.
type MemoryHub struct {
	mu     sync.RWMutex
	subs   map[string]map[*memSub]struct{}
	closed bool
}

type memSub struct {
	ch   chan Event
	once sync.Once
}

func (s *memSub) close() { s.once.Do(func() { close(s.ch) }) }

// NewMemoryHub crea un hub en memoria.
func NewMemoryHub() *MemoryHub {
	return &MemoryHub{subs: map[string]map[*memSub]struct{}{}}
}

func (h *MemoryHub) Publish(_ context.Context, topic string, ev Event) error {
	ev = stamp(topic, ev)

	h.mu.RLock()
	defer h.mu.RUnlock()
	if h.closed {
		return ErrClosed
	}
	for s := range h.subs[topic] {
		select {
		case s.ch <- ev:
		default:
			// suscriptor lento: se pierde el evento (sin garantía de entrega)
		}
	}
	metrics.EventsPublishedTotal.WithLabelValues(string(ev.Type), "ok").Inc()
	return nil
}

func (h *MemoryHub) Subscribe(ctx context.Context, topic string) (<-chan Event, func(), error) {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return nil, nil, ErrClosed
	}
	s := &memSub{ch: make(chan Event, subscriberBuffer)}
	if h.subs[topic] == nil {
		h.subs[topic] = map[*memSub]struct{}{}
	}
	h.subs[topic][s] = struct{}{}
	h.mu.Unlock()

	var once sync.Once
	done := make(chan struct{})
	cancel := func() {
		once.Do(func() {
			h.mu.Lock()
			delete(h.subs[topic], s)
			if len(h.subs[topic]) == 0 {
				delete(h.subs, topic)
			}
			h.mu.Unlock()
			s.close()
			close(done)
		})
	}
	go func() {
		select {
		case <-ctx.Done():
			cancel()
		case <-done:
		}
	}()
	return s.ch, cancel, nil
}

// Close cierra todas las suscripciones.
func (h *MemoryHub) Close() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return nil
	}
	h.closed = true
	for topic, subs := range h.subs {
		for s := range subs {
			s.close()
		}
		delete(h.subs, topic)
	}
	return nil
}

func stamp(topic string, ev Event) Event {
	ev.Topic = topic
	if ev.At.IsZero() {
		ev.At = time.Now().UTC()
	}
	return ev
}
