package pg

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/dropDatabas3/cfihub/internal/domain/repository"
)

// ─── TaskRepository ───

type taskRepo struct{ pool *pgxpool.Pool }

const taskColumns = `
	id, kind, status, project_id, conversation_id, user_id, tenant_id, params,
	total_items, completed_items, error, prompt_tokens, completion_tokens,
	cost_micros, duration_ms, created_at, started_at, finished_at
`

func scanTask(row pgx.Row) (*repository.GenerationTask, error) {
	var t repository.GenerationTask
	var params []byte
	err := row.Scan(
		&t.ID, &t.Kind, &t.Status, &t.ProjectID, &t.ConversationID, &t.UserID, &t.TenantID, &params,
		&t.TotalItems, &t.CompletedItems, &t.Error, &t.PromptTokens, &t.CompletionTokens,
		&t.CostMicros, &t.DurationMs, &t.CreatedAt, &t.StartedAt, &t.FinishedAt,
	)
	if err != nil {
		return nil, err
	}
	if len(params) > 0 {
		if err := json.Unmarshal(params, &t.Params); err != nil {
			return nil, fmt.Errorf("decode task params: %w", err)
		}
	}
	return &t, nil
}

func (r *taskRepo) Create(ctx context.Context, t *repository.GenerationTask) error {
	params, err := json.Marshal(t.Params)
	if err != nil {
		return fmt.Errorf("encode task params: %w", err)
	}
	if t.Status == "" {
		t.Status = repository.TaskPending
	}
	const query = `
		INSERT INTO generation_tasks (id, kind, status, project_id, conversation_id, user_id, tenant_id, params, total_items, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, NOW())
		RETURNING created_at
	`
	err = r.pool.QueryRow(ctx, query,
		t.ID, t.Kind, t.Status, t.ProjectID, t.ConversationID, t.UserID, t.TenantID, params, t.TotalItems,
	).Scan(&t.CreatedAt)
	if err != nil {
		return fmt.Errorf("create task: %w", mapErr(err))
	}
	return nil
}

func (r *taskRepo) Get(ctx context.Context, id string) (*repository.GenerationTask, error) {
	t, err := scanTask(r.pool.QueryRow(ctx, `SELECT `+taskColumns+` FROM generation_tasks WHERE id = $1`, id))
	if err != nil {
		return nil, mapErr(err)
	}
	return t, nil
}

func (r *taskRepo) Claim(ctx context.Context, id string, at time.Time) (bool, error) {
	tag, err := r.pool.Exec(ctx,
		`UPDATE generation_tasks SET status = 'processing', started_at = $2 WHERE id = $1 AND status = 'pending'`,
		id, at)
	if err != nil {
		return false, err
	}
	if tag.RowsAffected() == 1 {
		return true, nil
	}
	return false, r.mustExist(ctx, id)
}

func (r *taskRepo) SetProgress(ctx context.Context, id string, completed, total int) error {
	_, err := r.pool.Exec(ctx,
		`UPDATE generation_tasks SET completed_items = $2, total_items = $3 WHERE id = $1 AND status = 'processing'`,
		id, completed, total)
	return err
}

func (r *taskRepo) Complete(ctx context.Context, id string, u repository.TaskUsage, at time.Time) (bool, error) {
	const query = `
		UPDATE generation_tasks SET status = 'completed', error = '',
			prompt_tokens = $2, completion_tokens = $3, cost_micros = $4, duration_ms = $5, finished_at = $6
		WHERE id = $1 AND status = 'processing'
	`
	tag, err := r.pool.Exec(ctx, query, id, u.PromptTokens, u.CompletionTokens, u.CostMicros, u.DurationMs, at)
	if err != nil {
		return false, err
	}
	if tag.RowsAffected() == 1 {
		return true, nil
	}
	return false, r.mustExist(ctx, id)
}

func (r *taskRepo) Fail(ctx context.Context, id, reason string, u repository.TaskUsage, at time.Time) (bool, error) {
	const query = `
		UPDATE generation_tasks SET status = 'failed', error = $2,
			prompt_tokens = $3, completion_tokens = $4, cost_micros = $5, duration_ms = $6, finished_at = $7
		WHERE id = $1 AND status IN ('pending', 'processing')
	`
	tag, err := r.pool.Exec(ctx, query, id, reason, u.PromptTokens, u.CompletionTokens, u.CostMicros, u.DurationMs, at)
	if err != nil {
		return false, err
	}
	if tag.RowsAffected() == 1 {
		return true, nil
	}
	return false, r.mustExist(ctx, id)
}

// mustExist distingue "perdí la transición" (nil) de "no existe" (ErrNotFound).
func (r *taskRepo) mustExist(ctx context.Context, id string) error {
	var one int
	err := r.pool.QueryRow(ctx, `SELECT 1 FROM generation_tasks WHERE id = $1`, id).Scan(&one)
	return mapErr(err)
}

func (r *taskRepo) FindStuck(ctx context.Context, before time.Time) ([]repository.GenerationTask, error) {
	return r.list(ctx,
		`SELECT `+taskColumns+` FROM generation_tasks WHERE status = 'processing' AND started_at < $1 ORDER BY started_at`,
		before)
}

func (r *taskRepo) ListByProject(ctx context.Context, projectID string) ([]repository.GenerationTask, error) {
	return r.list(ctx,
		`SELECT `+taskColumns+` FROM generation_tasks WHERE project_id = $1 ORDER BY created_at DESC`,
		projectID)
}

func (r *taskRepo) list(ctx context.Context, query string, args ...any) ([]repository.GenerationTask, error) {
	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []repository.GenerationTask
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *t)
	}
	return out, rows.Err()
}
