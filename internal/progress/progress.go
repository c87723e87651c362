// Package progress sigue el avance de una tarea de generación desde el lado
// del cliente: cuenta ítems completados sin contar dos veces un replay y
// espera el final de la tarea con una ventana acotada, combinando los eventos
// con lecturas periódicas del estado persistido.
package progress

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/dropDatabas3/cfihub/internal/domain/repository"
	"github.com/dropDatabas3/cfihub/internal/pubsub"
)

// DefaultWindow es cuánto espera Watch un evento terminal.
const DefaultWindow = 10 * time.Minute

var (
	// ErrStillRunning se devuelve al agotar la ventana sin evento terminal.
	// La tarea sigue en segundo plano.
	ErrStillRunning = errors.New("still processing in background, check back later")

	// ErrStreamClosed indica que el canal de eventos se cerró antes del final.
	ErrStreamClosed = errors.New("progress: event stream closed before completion")
)

// Percent es floor(completed*100/total), acotado a [0,100].
func Percent(completed, total int) int {
	if total <= 0 || completed <= 0 {
		return 0
	}
	if completed >= total {
		return 100
	}
	return completed * 100 / total
}

// Tracker cuenta ítems completados por id. Seguro para uso concurrente.
type Tracker struct {
	mu    sync.Mutex
	total int
	done  map[string]struct{}
}

func NewTracker(total int) *Tracker {
	return &Tracker{total: total, done: map[string]struct{}{}}
}

func (t *Tracker) SetTotal(total int) {
	t.mu.Lock()
	t.total = total
	t.mu.Unlock()
}

// Complete marca itemID. added es false si ya estaba marcado.
func (t *Tracker) Complete(itemID string) (completed, percent int, added bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.done[itemID]; !ok {
		t.done[itemID] = struct{}{}
		added = true
	}
	completed = len(t.done)
	return completed, Percent(completed, t.total), added
}

func (t *Tracker) Completed() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.done)
}

func (t *Tracker) Total() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.total
}

func (t *Tracker) Percent() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return Percent(len(t.done), t.total)
}

// Update es lo que Watch informa por cada evento recibido.
type Update struct {
	Event   pubsub.Event
	Percent int
}

// DefaultPollInterval es cada cuánto Watch relee el estado autoritativo.
const DefaultPollInterval = 5 * time.Second

// PollFunc devuelve el estado persistido de la tarea.
type PollFunc func(ctx context.Context) (repository.TaskStatus, error)

// Options configura Watch. Los ceros usan los defaults.
type Options struct {
	// TaskID filtra los eventos de otras tareas del mismo topic
	// (conversations/<id> lleva todas las respuestas de la conversación).
	TaskID string

	Window time.Duration

	// Poll es opcional. Se llama apenas empieza Watch y luego cada
	// PollInterval; un estado terminal termina la espera aunque el evento
	// se haya perdido.
	Poll         PollFunc
	PollInterval time.Duration

	OnUpdate func(Update)
}

// Watch consume events hasta el primer evento terminal de la tarea, que
// devuelve. Si la ventana vence antes devuelve ErrStillRunning.
func Watch(ctx context.Context, events <-chan pubsub.Event, opts Options) (pubsub.Event, error) {
	window := opts.Window
	if window <= 0 {
		window = DefaultWindow
	}
	timer := time.NewTimer(window)
	defer timer.Stop()

	var tick <-chan time.Time
	if opts.Poll != nil {
		interval := opts.PollInterval
		if interval <= 0 {
			interval = DefaultPollInterval
		}
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		tick = ticker.C

		if ev, done := poll(ctx, opts); done {
			return ev, nil
		}
	}

	tr := NewTracker(0)
	for {
		select {
		case <-ctx.Done():
			return pubsub.Event{}, ctx.Err()
		case <-timer.C:
			return pubsub.Event{}, ErrStillRunning
		case <-tick:
			if ev, done := poll(ctx, opts); done {
				return ev, nil
			}
		case ev, ok := <-events:
			if !ok {
				return pubsub.Event{}, ErrStreamClosed
			}
			if opts.TaskID != "" && ev.TaskID != "" && ev.TaskID != opts.TaskID {
				continue
			}
			pct := apply(tr, ev)
			if opts.OnUpdate != nil {
				opts.OnUpdate(Update{Event: ev, Percent: pct})
			}
			if ev.Type.Terminal() {
				return ev, nil
			}
		}
	}
}

// poll traduce un estado terminal persistido al evento equivalente. Un error
// de lectura no corta la espera: el próximo tick reintenta.
func poll(ctx context.Context, opts Options) (pubsub.Event, bool) {
	st, err := opts.Poll(ctx)
	if err != nil || !st.Terminal() {
		return pubsub.Event{}, false
	}
	ev := pubsub.Event{Type: pubsub.EventCompleted, TaskID: opts.TaskID}
	if st == repository.TaskFailed {
		ev.Type = pubsub.EventFailed
	}
	if opts.OnUpdate != nil {
		pct := 100
		if ev.Type == pubsub.EventFailed {
			pct = 0
		}
		opts.OnUpdate(Update{Event: ev, Percent: pct})
	}
	return ev, true
}

func apply(tr *Tracker, ev pubsub.Event) int {
	switch ev.Type {
	case pubsub.EventItemCompleted:
		if ev.Total > 0 {
			tr.SetTotal(ev.Total)
		}
		_, pct, _ := tr.Complete(ev.ItemID)
		return pct
	case pubsub.EventProgress:
		if ev.Total > 0 {
			tr.SetTotal(ev.Total)
		}
		return ev.Percent
	case pubsub.EventCompleted:
		return 100
	}
	return tr.Percent()
}
