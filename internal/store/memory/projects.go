package memory

import (
	"context"
	"time"

	"github.com/dropDatabas3/cfihub/internal/domain/repository"
)

type projectRepo struct{ s *Store }

func (r projectRepo) Create(_ context.Context, p *repository.Project) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if _, ok := r.s.projects[p.ID]; ok {
		return repository.ErrConflict
	}
	if p.CreatedAt.IsZero() {
		p.CreatedAt = time.Now()
	}
	r.s.projects[p.ID] = *p
	return nil
}

func (r projectRepo) Get(_ context.Context, id string) (*repository.Project, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	p, ok := r.s.projects[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return &p, nil
}

func (r projectRepo) AddPersonas(_ context.Context, ps []repository.Persona) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	now := time.Now()
	for _, p := range ps {
		if p.CreatedAt.IsZero() {
			p.CreatedAt = now
		}
		r.s.personas = append(r.s.personas, p)
	}
	return nil
}

func (r projectRepo) ListPersonas(_ context.Context, projectID string) ([]repository.Persona, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var out []repository.Persona
	for _, p := range r.s.personas {
		if p.ProjectID == projectID {
			out = append(out, p)
		}
	}
	return out, nil
}

func (r projectRepo) SaveStrategy(_ context.Context, st *repository.Strategy) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if st.CreatedAt.IsZero() {
		st.CreatedAt = time.Now()
	}
	r.s.strategies = append(r.s.strategies, *st)
	return nil
}

func (r projectRepo) LatestStrategy(_ context.Context, projectID string) (*repository.Strategy, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for i := len(r.s.strategies) - 1; i >= 0; i-- {
		if r.s.strategies[i].ProjectID == projectID {
			st := r.s.strategies[i]
			return &st, nil
		}
	}
	return nil, repository.ErrNotFound
}

func (r projectRepo) AddAsset(_ context.Context, a *repository.Asset) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if a.CreatedAt.IsZero() {
		a.CreatedAt = time.Now()
	}
	r.s.assets = append(r.s.assets, *a)
	return nil
}

func (r projectRepo) ListAssets(_ context.Context, projectID string) ([]repository.Asset, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var out []repository.Asset
	for _, a := range r.s.assets {
		if a.ProjectID == projectID {
			out = append(out, a)
		}
	}
	return out, nil
}
