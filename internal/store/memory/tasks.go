package memory

import (
	"context"
	"sort"
	"time"

	"github.com/dropDatabas3/cfihub/internal/domain/repository"
)

type taskRepo struct{ s *Store }

func (r taskRepo) Create(_ context.Context, t *repository.GenerationTask) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if _, ok := r.s.tasks[t.ID]; ok {
		return repository.ErrConflict
	}
	if t.CreatedAt.IsZero() {
		t.CreatedAt = time.Now()
	}
	if t.Status == "" {
		t.Status = repository.TaskPending
	}
	r.s.tasks[t.ID] = *t
	return nil
}

func (r taskRepo) Get(_ context.Context, id string) (*repository.GenerationTask, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	t, ok := r.s.tasks[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return &t, nil
}

func (r taskRepo) Claim(_ context.Context, id string, at time.Time) (bool, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	t, ok := r.s.tasks[id]
	if !ok {
		return false, repository.ErrNotFound
	}
	if t.Status != repository.TaskPending {
		return false, nil
	}
	t.Status = repository.TaskProcessing
	ts := at
	t.StartedAt = &ts
	r.s.tasks[id] = t
	return true, nil
}

func (r taskRepo) SetProgress(_ context.Context, id string, completed, total int) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	t, ok := r.s.tasks[id]
	if !ok {
		return repository.ErrNotFound
	}
	if t.Status != repository.TaskProcessing {
		return nil
	}
	t.CompletedItems, t.TotalItems = completed, total
	r.s.tasks[id] = t
	return nil
}

func (r taskRepo) Complete(_ context.Context, id string, usage repository.TaskUsage, at time.Time) (bool, error) {
	return r.finish(id, repository.TaskCompleted, "", usage, at, repository.TaskProcessing)
}

func (r taskRepo) Fail(_ context.Context, id, reason string, usage repository.TaskUsage, at time.Time) (bool, error) {
	return r.finish(id, repository.TaskFailed, reason, usage, at, repository.TaskPending, repository.TaskProcessing)
}

func (r taskRepo) finish(id string, to repository.TaskStatus, reason string, usage repository.TaskUsage, at time.Time, from ...repository.TaskStatus) (bool, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	t, ok := r.s.tasks[id]
	if !ok {
		return false, repository.ErrNotFound
	}
	allowed := false
	for _, f := range from {
		if t.Status == f {
			allowed = true
			break
		}
	}
	if !allowed {
		return false, nil
	}
	t.Status = to
	t.Error = reason
	t.PromptTokens = usage.PromptTokens
	t.CompletionTokens = usage.CompletionTokens
	t.CostMicros = usage.CostMicros
	t.DurationMs = usage.DurationMs
	ts := at
	t.FinishedAt = &ts
	r.s.tasks[id] = t
	return true, nil
}

func (r taskRepo) FindStuck(_ context.Context, before time.Time) ([]repository.GenerationTask, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var out []repository.GenerationTask
	for _, t := range r.s.tasks {
		if t.Status == repository.TaskProcessing && t.StartedAt != nil && t.StartedAt.Before(before) {
			out = append(out, t)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartedAt.Before(*out[j].StartedAt) })
	return out, nil
}

func (r taskRepo) ListByProject(_ context.Context, projectID string) ([]repository.GenerationTask, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var out []repository.GenerationTask
	for _, t := range r.s.tasks {
		if t.ProjectID == projectID {
			out = append(out, t)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}
