package pg

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/dropDatabas3/cfihub/internal/domain/repository"
)

// ─── ProjectRepository ───

type projectRepo struct{ pool *pgxpool.Pool }

func (r *projectRepo) Create(ctx context.Context, p *repository.Project) error {
	const query = `
		INSERT INTO projects (id, tenant_id, user_id, name, description, created_at)
		VALUES ($1, $2, $3, $4, $5, NOW())
		RETURNING created_at
	`
	if err := r.pool.QueryRow(ctx, query, p.ID, p.TenantID, p.UserID, p.Name, p.Description).Scan(&p.CreatedAt); err != nil {
		return fmt.Errorf("create project: %w", mapErr(err))
	}
	return nil
}

func (r *projectRepo) Get(ctx context.Context, id string) (*repository.Project, error) {
	var p repository.Project
	err := r.pool.QueryRow(ctx,
		`SELECT id, tenant_id, user_id, name, description, created_at FROM projects WHERE id = $1`, id,
	).Scan(&p.ID, &p.TenantID, &p.UserID, &p.Name, &p.Description, &p.CreatedAt)
	if err != nil {
		return nil, mapErr(err)
	}
	return &p, nil
}

func (r *projectRepo) AddPersonas(ctx context.Context, ps []repository.Persona) error {
	if len(ps) == 0 {
		return nil
	}
	batch := &pgx.Batch{}
	for _, p := range ps {
		batch.Queue(
			`INSERT INTO personas (id, project_id, task_id, name, data, created_at) VALUES ($1, $2, $3, $4, $5, NOW())`,
			p.ID, p.ProjectID, p.TaskID, p.Name, []byte(p.Data),
		)
	}
	return mapErr(r.pool.SendBatch(ctx, batch).Close())
}

func (r *projectRepo) ListPersonas(ctx context.Context, projectID string) ([]repository.Persona, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT id, project_id, task_id, name, data, created_at FROM personas WHERE project_id = $1 ORDER BY created_at, id`,
		projectID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []repository.Persona
	for rows.Next() {
		var p repository.Persona
		var data []byte
		if err := rows.Scan(&p.ID, &p.ProjectID, &p.TaskID, &p.Name, &data, &p.CreatedAt); err != nil {
			return nil, err
		}
		p.Data = data
		out = append(out, p)
	}
	return out, rows.Err()
}

func (r *projectRepo) SaveStrategy(ctx context.Context, s *repository.Strategy) error {
	err := r.pool.QueryRow(ctx,
		`INSERT INTO strategies (id, project_id, task_id, data, created_at) VALUES ($1, $2, $3, $4, NOW()) RETURNING created_at`,
		s.ID, s.ProjectID, s.TaskID, []byte(s.Data),
	).Scan(&s.CreatedAt)
	return mapErr(err)
}

func (r *projectRepo) LatestStrategy(ctx context.Context, projectID string) (*repository.Strategy, error) {
	var s repository.Strategy
	var data []byte
	err := r.pool.QueryRow(ctx,
		`SELECT id, project_id, task_id, data, created_at FROM strategies WHERE project_id = $1 ORDER BY created_at DESC LIMIT 1`,
		projectID,
	).Scan(&s.ID, &s.ProjectID, &s.TaskID, &data, &s.CreatedAt)
	if err != nil {
		return nil, mapErr(err)
	}
	s.Data = data
	return &s, nil
}

func (r *projectRepo) AddAsset(ctx context.Context, a *repository.Asset) error {
	err := r.pool.QueryRow(ctx,
		`INSERT INTO assets (id, project_id, task_id, type, channel, data, created_at) VALUES ($1, $2, $3, $4, $5, $6, NOW()) RETURNING created_at`,
		a.ID, a.ProjectID, a.TaskID, a.Type, a.Channel, []byte(a.Data),
	).Scan(&a.CreatedAt)
	return mapErr(err)
}

func (r *projectRepo) ListAssets(ctx context.Context, projectID string) ([]repository.Asset, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT id, project_id, task_id, type, channel, data, created_at FROM assets WHERE project_id = $1 ORDER BY created_at, id`,
		projectID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []repository.Asset
	for rows.Next() {
		var a repository.Asset
		var data []byte
		if err := rows.Scan(&a.ID, &a.ProjectID, &a.TaskID, &a.Type, &a.Channel, &data, &a.CreatedAt); err != nil {
			return nil, err
		}
		a.Data = data
		out = append(out, a)
	}
	return out, rows.Err()
}
