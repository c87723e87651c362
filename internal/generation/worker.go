package generation

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/dropDatabas3/cfihub/internal/cfi/token"
	"github.com/dropDatabas3/cfihub/internal/domain/repository"
	"github.com/dropDatabas3/cfihub/internal/metrics"
	"github.com/dropDatabas3/cfihub/internal/observability/logger"
	"github.com/dropDatabas3/cfihub/internal/progress"
	"github.com/dropDatabas3/cfihub/internal/pubsub"
	"github.com/dropDatabas3/cfihub/internal/queue"
)

// Handler procesa una tarea reclamada. Un error (o panic) la deja en failed.
type Handler func(ctx context.Context, run *Run) error

// WorkerConfig configura el Worker.
type WorkerConfig struct {
	Concurrency  int // consumidores en paralelo (default 2)
	Sealer       TokenSealer
	Reaper       *Reaper
	ReapInterval time.Duration // 0 desactiva el reaper periódico
}

// Worker consume la cola y ejecuta handlers por tipo de tarea.
type Worker struct {
	q     queue.Queue
	tasks repository.TaskRepository
	hub   pubsub.Hub
	cfg   WorkerConfig
	now   func() time.Time

	mu       sync.RWMutex
	handlers map[repository.TaskKind]Handler
}

func NewWorker(q queue.Queue, tasks repository.TaskRepository, hub pubsub.Hub, cfg WorkerConfig) *Worker {
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 2
	}
	return &Worker{
		q:        q,
		tasks:    tasks,
		hub:      hub,
		cfg:      cfg,
		now:      time.Now,
		handlers: map[repository.TaskKind]Handler{},
	}
}

// Handle registra h para kind. Se llama al arrancar, antes de Run.
func (w *Worker) Handle(kind repository.TaskKind, h Handler) {
	w.mu.Lock()
	w.handlers[kind] = h
	w.mu.Unlock()
}

func (w *Worker) handler(kind repository.TaskKind) (Handler, bool) {
	w.mu.RLock()
	defer w.mu.RUnlock()
	h, ok := w.handlers[kind]
	return h, ok
}

// Run arranca los consumidores (y el reaper si está configurado) y bloquea
// hasta que ctx se cancele.
func (w *Worker) Run(ctx context.Context) error {
	log := logger.From(ctx).With(logger.Component("generation.worker"))
	log.Info("worker starting", logger.Int("concurrency", w.cfg.Concurrency))

	g, gctx := errgroup.WithContext(ctx)
	for i := 0; i < w.cfg.Concurrency; i++ {
		g.Go(func() error {
			err := w.q.Consume(gctx, w.Process)
			if errors.Is(err, context.Canceled) || errors.Is(err, queue.ErrClosed) {
				return nil
			}
			return err
		})
	}
	if w.cfg.Reaper != nil && w.cfg.ReapInterval > 0 {
		g.Go(func() error {
			w.cfg.Reaper.Run(gctx, w.cfg.ReapInterval)
			return nil
		})
	}
	err := g.Wait()
	log.Info("worker stopped")
	return err
}

// Process maneja un envelope. Devuelve error sólo ante fallas de
// infraestructura antes de reclamar la tarea (la cola reintenta); todo lo
// demás se resuelve en la tarea y se confirma.
func (w *Worker) Process(ctx context.Context, env queue.Envelope) error {
	log := logger.From(ctx).With(
		logger.Component("generation.worker"),
		logger.TaskID(env.ID),
		logger.Kind(env.Kind),
	)

	var meta Meta
	if err := env.Decode(&meta); err != nil || meta.TaskID == "" {
		log.Error("dropping undecodable generation message", logger.Err(err))
		return nil
	}
	log = log.With(logger.TenantID(meta.TenantID), logger.UserID(meta.UserID))

	task, err := w.tasks.Get(ctx, meta.TaskID)
	if err != nil {
		if repository.IsNotFound(err) {
			log.Warn("task not found, dropping message")
			return nil
		}
		return fmt.Errorf("load task %s: %w", meta.TaskID, err)
	}
	if task.Status != repository.TaskPending {
		log.Info("task already claimed, skipping redelivery", logger.String("status", string(task.Status)))
		return nil
	}

	startedAt := w.now()
	claimed, err := w.tasks.Claim(ctx, task.ID, startedAt)
	if err != nil {
		return fmt.Errorf("claim task %s: %w", task.ID, err)
	}
	if !claimed {
		log.Info("task claimed by another worker")
		return nil
	}
	task.Status = repository.TaskProcessing
	task.StartedAt = &startedAt

	tc := token.NewContext(nil)
	run := &Run{
		Task:    task,
		Env:     env,
		Token:   tc,
		w:       w,
		log:     log,
		topic:   TopicFor(task),
		tracker: progress.NewTracker(task.TotalItems),
	}

	w.publish(ctx, log, run.topic, run.event(pubsub.Event{Type: pubsub.EventStarted, Total: task.TotalItems}))

	herr := w.execute(ctx, run, meta)
	w.finish(ctx, run, startedAt, herr)
	return nil
}

// execute fija el token del mensaje, corre el handler y limpia el token en
// todos los caminos, incluido un panic.
func (w *Worker) execute(ctx context.Context, run *Run, meta Meta) (err error) {
	defer run.Token.ClearToken()
	defer func() {
		if rec := recover(); rec != nil {
			run.log.Error("generation handler panicked",
				logger.Any("panic", rec), zap.ByteString("stack", debug.Stack()))
			err = fmt.Errorf("internal error: %v", rec)
		}
	}()

	tok := meta.Token
	if meta.SealedToken != "" {
		if w.cfg.Sealer == nil {
			return errors.New("sealed token but no seal key configured")
		}
		tok, err = w.cfg.Sealer.Open(meta.SealedToken)
		if err != nil {
			return fmt.Errorf("open token: %w", err)
		}
	}
	run.Token.SetToken(tok)

	h, ok := w.handler(run.Task.Kind)
	if !ok {
		return fmt.Errorf("no handler for %s tasks", run.Task.Kind)
	}
	return h(ctx, run)
}

// finish hace la transición terminal. Sólo quien la gana publica el evento,
// así cada tarea emite un único completed o failed.
func (w *Worker) finish(ctx context.Context, run *Run, startedAt time.Time, herr error) {
	ctx = context.WithoutCancel(ctx)
	log := run.log
	kind := string(run.Task.Kind)
	now := w.now()
	elapsed := now.Sub(startedAt)

	u := run.Usage()
	usage := repository.TaskUsage{
		PromptTokens:     u.PromptTokens,
		CompletionTokens: u.CompletionTokens,
		CostMicros:       u.CostMicros,
		DurationMs:       elapsed.Milliseconds(),
	}

	var (
		won    bool
		err    error
		status = repository.TaskCompleted
		ev     = pubsub.Event{Type: pubsub.EventCompleted, Percent: 100}
	)
	if herr == nil {
		won, err = w.tasks.Complete(ctx, run.Task.ID, usage, now)
	} else {
		status = repository.TaskFailed
		ev = pubsub.Event{Type: pubsub.EventFailed, Reason: herr.Error()}
		log.Warn("generation task failed", logger.Err(herr))
		won, err = w.tasks.Fail(ctx, run.Task.ID, herr.Error(), usage, now)
	}
	if err != nil {
		log.Error("terminal transition failed, leaving task to the reaper", logger.Err(err))
		return
	}
	if !won {
		log.Warn("terminal transition lost, task already finished elsewhere")
		return
	}

	metrics.GenerationTasksTotal.WithLabelValues(kind, string(status)).Inc()
	metrics.GenerationDuration.WithLabelValues(kind).Observe(elapsed.Seconds())

	ev.Completed = run.tracker.Completed()
	ev.Total = run.tracker.Total()
	w.publish(ctx, log, run.topic, run.event(ev))
	log.Info("generation task finished",
		logger.String("status", string(status)),
		logger.Duration(elapsed),
		logger.Int("prompt_tokens", u.PromptTokens),
		logger.Int("completion_tokens", u.CompletionTokens),
	)
}

// publish es fire-and-forget: un error se registra y no afecta la tarea.
func (w *Worker) publish(ctx context.Context, log *zap.Logger, topic string, ev pubsub.Event) {
	if w.hub == nil {
		return
	}
	if err := w.hub.Publish(ctx, topic, ev); err != nil {
		log.Warn("publish event failed", logger.Topic(topic), logger.String("event", string(ev.Type)), logger.Err(err))
	}
}
