package pg

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/dropDatabas3/cfihub/internal/domain/repository"
)

// ─── UserRepository ───

type userRepo struct{ pool *pgxpool.Pool }

func (r *userRepo) RecordLogin(ctx context.Context, u repository.User, at time.Time) (*repository.User, error) {
	const query = `
		INSERT INTO users (id, login, name, email, division_id, login_count, last_login_at, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, 1, $6, $6, $6)
		ON CONFLICT (id) DO UPDATE SET
			login = EXCLUDED.login,
			name = EXCLUDED.name,
			email = EXCLUDED.email,
			division_id = EXCLUDED.division_id,
			login_count = users.login_count + 1,
			last_login_at = EXCLUDED.last_login_at,
			updated_at = EXCLUDED.updated_at
		RETURNING id, login, name, email, division_id, login_count, last_login_at, created_at, updated_at
	`
	var out repository.User
	err := r.pool.QueryRow(ctx, query, u.ID, u.Login, u.Name, u.Email, u.DivisionID, at).Scan(
		&out.ID, &out.Login, &out.Name, &out.Email, &out.DivisionID,
		&out.LoginCount, &out.LastLoginAt, &out.CreatedAt, &out.UpdatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("record login: %w", mapErr(err))
	}
	return &out, nil
}

func (r *userRepo) GetByID(ctx context.Context, id int) (*repository.User, error) {
	const query = `
		SELECT id, login, name, email, division_id, login_count, last_login_at, created_at, updated_at
		FROM users WHERE id = $1
	`
	var out repository.User
	err := r.pool.QueryRow(ctx, query, id).Scan(
		&out.ID, &out.Login, &out.Name, &out.Email, &out.DivisionID,
		&out.LoginCount, &out.LastLoginAt, &out.CreatedAt, &out.UpdatedAt,
	)
	if err != nil {
		return nil, mapErr(err)
	}
	return &out, nil
}

// ─── DivisionRepository ───

type divisionRepo struct{ pool *pgxpool.Pool }

const upsertDivisionSQL = `
	INSERT INTO divisions (id, name, updated_at) VALUES ($1, $2, NOW())
	ON CONFLICT (id) DO UPDATE SET
		name = CASE WHEN EXCLUDED.name = '' THEN divisions.name ELSE EXCLUDED.name END,
		updated_at = NOW()
`

func (r *divisionRepo) Upsert(ctx context.Context, d repository.Division) error {
	_, err := r.pool.Exec(ctx, upsertDivisionSQL, d.ID, d.Name)
	return mapErr(err)
}

func (r *divisionRepo) UpsertMany(ctx context.Context, ds []repository.Division) error {
	if len(ds) == 0 {
		return nil
	}
	batch := &pgx.Batch{}
	for _, d := range ds {
		batch.Queue(upsertDivisionSQL, d.ID, d.Name)
	}
	return mapErr(r.pool.SendBatch(ctx, batch).Close())
}

func (r *divisionRepo) GetByID(ctx context.Context, id int) (*repository.Division, error) {
	var d repository.Division
	err := r.pool.QueryRow(ctx, `SELECT id, name, updated_at FROM divisions WHERE id = $1`, id).
		Scan(&d.ID, &d.Name, &d.UpdatedAt)
	if err != nil {
		return nil, mapErr(err)
	}
	return &d, nil
}

// ─── AccessRepository ───

type accessRepo struct{ pool *pgxpool.Pool }

func (r *accessRepo) ReplaceUserDivisions(ctx context.Context, userID int, divisionIDs []int) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, `DELETE FROM user_divisions WHERE user_id = $1`, userID); err != nil {
		return fmt.Errorf("replace user divisions: %w", err)
	}
	for _, id := range divisionIDs {
		// la división puede no existir aún si CFI no devolvió su nombre
		if _, err := tx.Exec(ctx,
			`INSERT INTO divisions (id) VALUES ($1) ON CONFLICT (id) DO NOTHING`, id); err != nil {
			return err
		}
		if _, err := tx.Exec(ctx,
			`INSERT INTO user_divisions (user_id, division_id) VALUES ($1, $2) ON CONFLICT DO NOTHING`,
			userID, id); err != nil {
			return fmt.Errorf("replace user divisions: %w", mapErr(err))
		}
	}
	return tx.Commit(ctx)
}

func (r *accessRepo) ListUserDivisions(ctx context.Context, userID int) ([]repository.Division, error) {
	const query = `
		SELECT d.id, d.name, d.updated_at
		FROM user_divisions ud JOIN divisions d ON d.id = ud.division_id
		WHERE ud.user_id = $1
		ORDER BY d.id
	`
	rows, err := r.pool.Query(ctx, query, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []repository.Division
	for rows.Next() {
		var d repository.Division
		if err := rows.Scan(&d.ID, &d.Name, &d.UpdatedAt); err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

func (r *accessRepo) HasAccess(ctx context.Context, userID, divisionID int) (bool, error) {
	var ok bool
	err := r.pool.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM user_divisions WHERE user_id = $1 AND division_id = $2)`,
		userID, divisionID).Scan(&ok)
	return ok, err
}
