package controllers

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/dropDatabas3/cfihub/internal/domain/repository"
	"github.com/dropDatabas3/cfihub/internal/http/helpers"
	"github.com/dropDatabas3/cfihub/internal/observability/logger"
	"github.com/dropDatabas3/cfihub/internal/progress"
)

// TasksController sirve el estado autoritativo de una GenerationTask.
type TasksController struct {
	tasks repository.TaskRepository
}

func NewTasksController(tasks repository.TaskRepository) *TasksController {
	return &TasksController{tasks: tasks}
}

type taskDTO struct {
	ID               string     `json:"id"`
	Kind             string     `json:"kind"`
	Status           string     `json:"status"`
	ProjectID        string     `json:"project_id,omitempty"`
	ConversationID   string     `json:"conversation_id,omitempty"`
	TotalItems       int        `json:"total_items"`
	CompletedItems   int        `json:"completed_items"`
	Percent          int        `json:"percent"`
	Error            string     `json:"error,omitempty"`
	PromptTokens     int        `json:"prompt_tokens"`
	CompletionTokens int        `json:"completion_tokens"`
	CostMicros       int64      `json:"cost_micros"`
	DurationMs       int64      `json:"duration_ms"`
	CreatedAt        time.Time  `json:"created_at"`
	StartedAt        *time.Time `json:"started_at,omitempty"`
	FinishedAt       *time.Time `json:"finished_at,omitempty"`
}

func toTaskDTO(t *repository.GenerationTask) taskDTO {
	percent := progress.Percent(t.CompletedItems, t.TotalItems)
	if t.Status == repository.TaskCompleted {
		percent = 100
	}
	return taskDTO{
		ID:               t.ID,
		Kind:             string(t.Kind),
		Status:           string(t.Status),
		ProjectID:        t.ProjectID,
		ConversationID:   t.ConversationID,
		TotalItems:       t.TotalItems,
		CompletedItems:   t.CompletedItems,
		Percent:          percent,
		Error:            t.Error,
		PromptTokens:     t.PromptTokens,
		CompletionTokens: t.CompletionTokens,
		CostMicros:       t.CostMicros,
		DurationMs:       t.DurationMs,
		CreatedAt:        t.CreatedAt,
		StartedAt:        t.StartedAt,
		FinishedAt:       t.FinishedAt,
	}
}

// Get maneja GET /api/tasks/{id}. Sólo el dueño de la tarea puede verla.
func (c *TasksController) Get(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	log := logger.From(ctx).With(logger.Layer("controller"), logger.Op("TasksController.Get"))

	_, p, err := principal(ctx)
	if err != nil {
		fail(w, log, err)
		return
	}
	t, err := c.tasks.Get(ctx, chi.URLParam(r, "id"))
	if err != nil {
		fail(w, log, err)
		return
	}
	if t.UserID != p.UserID {
		fail(w, log, repository.ErrNotFound)
		return
	}
	helpers.WriteJSON(w, http.StatusOK, toTaskDTO(t))
}
