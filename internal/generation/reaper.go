package generation

import (
	"context"
	"fmt"
	"time"

	"github.com/dropDatabas3/cfihub/internal/domain/repository"
	"github.com/dropDatabas3/cfihub/internal/metrics"
	"github.com/dropDatabas3/cfihub/internal/observability/logger"
	"github.com/dropDatabas3/cfihub/internal/pubsub"
)

// DefaultStuckAfter es cuánto puede estar una tarea en processing.
const DefaultStuckAfter = 30 * time.Minute

// Reaper pasa a failed las tareas que quedaron en processing (worker caído).
// Usa la misma transición condicional que el worker, así que nunca publica
// un segundo evento terminal.
type Reaper struct {
	tasks      repository.TaskRepository
	convs      repository.ConversationRepository // opcional
	hub        pubsub.Hub
	stuckAfter time.Duration
	now        func() time.Time
}

func NewReaper(tasks repository.TaskRepository, convs repository.ConversationRepository, hub pubsub.Hub, stuckAfter time.Duration) *Reaper {
	if stuckAfter <= 0 {
		stuckAfter = DefaultStuckAfter
	}
	return &Reaper{tasks: tasks, convs: convs, hub: hub, stuckAfter: stuckAfter, now: time.Now}
}

// Reap falla las tareas trabadas y devuelve cuántas ganó.
func (r *Reaper) Reap(ctx context.Context) (int, error) {
	log := logger.From(ctx).With(logger.Component("generation.reaper"))
	now := r.now()
	stuck, err := r.tasks.FindStuck(ctx, now.Add(-r.stuckAfter))
	if err != nil {
		return 0, fmt.Errorf("find stuck tasks: %w", err)
	}

	reaped := 0
	reason := fmt.Sprintf("timed out after %s in processing", r.stuckAfter)
	for i := range stuck {
		t := &stuck[i]
		var usage repository.TaskUsage
		if t.StartedAt != nil {
			usage.DurationMs = now.Sub(*t.StartedAt).Milliseconds()
		}
		won, err := r.tasks.Fail(ctx, t.ID, reason, usage, now)
		if err != nil {
			log.Error("reap task", logger.TaskID(t.ID), logger.Err(err))
			continue
		}
		if !won {
			continue
		}
		reaped++
		metrics.GenerationTasksTotal.WithLabelValues(string(t.Kind), string(repository.TaskFailed)).Inc()

		ev := pubsub.Event{Type: pubsub.EventFailed, TaskID: t.ID, Reason: reason}
		if t.Kind == repository.KindChat {
			ev.ConversationID = t.ConversationID
			ev.MessageID = t.Params.MessageID
			if r.convs != nil && t.Params.MessageID != "" {
				if err := r.convs.UpdateMessage(ctx, t.Params.MessageID, "", repository.MessageError); err != nil {
					log.Warn("mark chat message as error", logger.TaskID(t.ID), logger.Err(err))
				}
			}
		}
		if r.hub != nil {
			if err := r.hub.Publish(ctx, TopicFor(t), ev); err != nil {
				log.Warn("publish reaped event", logger.TaskID(t.ID), logger.Err(err))
			}
		}
		log.Warn("stuck task failed", logger.TaskID(t.ID), logger.Kind(string(t.Kind)))
	}
	return reaped, nil
}

// Run ejecuta Reap cada interval hasta que ctx termine.
func (r *Reaper) Run(ctx context.Context, interval time.Duration) {
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			if _, err := r.Reap(ctx); err != nil {
				logger.From(ctx).Error("reaper pass failed", logger.Err(err))
			}
		}
	}
}
