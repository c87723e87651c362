package generation

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"github.com/dropDatabas3/cfihub/internal/ai"
	"github.com/dropDatabas3/cfihub/internal/cfi/token"
	"github.com/dropDatabas3/cfihub/internal/domain/repository"
	"github.com/dropDatabas3/cfihub/internal/observability/logger"
	"github.com/dropDatabas3/cfihub/internal/progress"
	"github.com/dropDatabas3/cfihub/internal/pubsub"
	"github.com/dropDatabas3/cfihub/internal/queue"
)

// Run es el estado de una tarea mientras su handler se ejecuta.
type Run struct {
	Task *repository.GenerationTask
	Env  queue.Envelope

	// Token es el token del mensaje; se limpia al terminar el handler.
	Token *token.Context

	w       *Worker
	log     *zap.Logger
	topic   string
	tracker *progress.Tracker

	mu    sync.Mutex
	usage ai.Usage
}

// Decode deserializa el mensaje tipado.
func (r *Run) Decode(dst any) error { return r.Env.Decode(dst) }

func (r *Run) Logger() *zap.Logger { return r.log }

// AddUsage acumula consumo de IA para la tarea.
func (r *Run) AddUsage(u ai.Usage) {
	r.mu.Lock()
	r.usage.Add(u)
	r.mu.Unlock()
}

func (r *Run) Usage() ai.Usage {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.usage
}

// SetTotal fija la cantidad de ítems y publica progress al 0%.
func (r *Run) SetTotal(ctx context.Context, total int) {
	r.tracker.SetTotal(total)
	r.Task.TotalItems = total
	if err := r.w.tasks.SetProgress(ctx, r.Task.ID, r.tracker.Completed(), total); err != nil {
		r.log.Warn("persist progress", logger.Err(err))
	}
	r.w.publish(ctx, r.log, r.topic, r.event(pubsub.Event{
		Type:      pubsub.EventProgress,
		Completed: r.tracker.Completed(),
		Total:     total,
		Percent:   r.tracker.Percent(),
	}))
}

// ItemDone marca itemID como terminado. Repetir el mismo id no cuenta dos veces.
func (r *Run) ItemDone(ctx context.Context, itemID string) {
	completed, pct, added := r.tracker.Complete(itemID)
	if !added {
		return
	}
	total := r.tracker.Total()
	r.Task.CompletedItems = completed
	if err := r.w.tasks.SetProgress(ctx, r.Task.ID, completed, total); err != nil {
		r.log.Warn("persist progress", logger.Err(err))
	}
	r.w.publish(ctx, r.log, r.topic, r.event(pubsub.Event{
		Type:      pubsub.EventItemCompleted,
		ItemID:    itemID,
		Completed: completed,
		Total:     total,
		Percent:   pct,
	}))
}

// Chunk publica un fragmento de texto (chat en streaming).
func (r *Run) Chunk(ctx context.Context, delta string) {
	r.w.publish(ctx, r.log, r.topic, r.event(pubsub.Event{Type: pubsub.EventChunk, Delta: delta}))
}

func (r *Run) event(ev pubsub.Event) pubsub.Event {
	ev.TaskID = r.Task.ID
	if r.Task.Kind == repository.KindChat {
		ev.ConversationID = r.Task.ConversationID
		ev.MessageID = r.Task.Params.MessageID
	}
	return ev
}
