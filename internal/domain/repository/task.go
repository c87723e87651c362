package repository

import (
	"context"
	"time"
)

// TaskStatus es el estado de una GenerationTask.
type TaskStatus string

const (
	TaskPending    TaskStatus = "pending"
	TaskProcessing TaskStatus = "processing"
	TaskCompleted  TaskStatus = "completed"
	TaskFailed     TaskStatus = "failed"
)

// Terminal indica si el estado es final.
func (s TaskStatus) Terminal() bool {
	return s == TaskCompleted || s == TaskFailed
}

// TaskKind identifica el tipo de trabajo.
type TaskKind string

const (
	KindPersonas TaskKind = "personas"
	KindStrategy TaskKind = "strategy"
	KindAssets   TaskKind = "assets"
	KindChat     TaskKind = "chat"
)

// TaskParams son los parámetros de generación (se guardan como JSONB).
type TaskParams struct {
	Count          int      `json:"count,omitempty"`
	Tone           string   `json:"tone,omitempty"`
	Channels       []string `json:"channels,omitempty"`
	AssetTypes     []string `json:"asset_types,omitempty"`
	Question       string   `json:"question,omitempty"`
	Context        string   `json:"context,omitempty"`
	MessageID      string   `json:"message_id,omitempty"`
	Instructions   string   `json:"instructions,omitempty"`
	IncludeCFIData bool     `json:"include_cfi_data,omitempty"`
}

// GenerationTask registra un trabajo asíncrono de IA.
type GenerationTask struct {
	ID             string
	Kind           TaskKind
	Status         TaskStatus
	ProjectID      string
	ConversationID string
	UserID         int
	TenantID       int
	Params         TaskParams
	TotalItems     int
	CompletedItems int
	Error          string

	PromptTokens     int
	CompletionTokens int
	CostMicros       int64
	DurationMs       int64

	CreatedAt  time.Time
	StartedAt  *time.Time
	FinishedAt *time.Time
}

// TaskUsage son las métricas acumuladas al cerrar una tarea.
type TaskUsage struct {
	PromptTokens     int
	CompletionTokens int
	CostMicros       int64
	DurationMs       int64
}

// TaskRepository persiste GenerationTasks. Las transiciones de estado son
// condicionales: el bool indica si esta llamada ganó la transición.
type TaskRepository interface {
	Create(ctx context.Context, t *GenerationTask) error
	Get(ctx context.Context, id string) (*GenerationTask, error)

	// Claim: pending -> processing.
	Claim(ctx context.Context, id string, at time.Time) (bool, error)

	// SetProgress actualiza total/completados de una tarea en processing.
	SetProgress(ctx context.Context, id string, completed, total int) error

	// Complete: processing -> completed.
	Complete(ctx context.Context, id string, usage TaskUsage, at time.Time) (bool, error)

	// Fail: pending|processing -> failed.
	Fail(ctx context.Context, id, reason string, usage TaskUsage, at time.Time) (bool, error)

	// FindStuck lista tareas en processing con StartedAt anterior a before.
	FindStuck(ctx context.Context, before time.Time) ([]GenerationTask, error)

	// ListByProject lista tareas de un proyecto, más recientes primero.
	ListByProject(ctx context.Context, projectID string) ([]GenerationTask, error)
}
