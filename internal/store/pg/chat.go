package pg

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/dropDatabas3/cfihub/internal/domain/repository"
)

// ─── ConversationRepository ───

type conversationRepo struct{ pool *pgxpool.Pool }

func (r *conversationRepo) Create(ctx context.Context, c *repository.Conversation) error {
	const query = `
		INSERT INTO chat_conversations (id, user_id, tenant_id, context, title, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, NOW(), NOW())
		RETURNING created_at, updated_at
	`
	err := r.pool.QueryRow(ctx, query, c.ID, c.UserID, c.TenantID, c.Context, c.Title).
		Scan(&c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		return fmt.Errorf("create conversation: %w", mapErr(err))
	}
	return nil
}

func (r *conversationRepo) Get(ctx context.Context, id string) (*repository.Conversation, error) {
	const query = `
		SELECT id, user_id, tenant_id, context, title, favorite, deleted, created_at, updated_at
		FROM chat_conversations WHERE id = $1 AND NOT deleted
	`
	var c repository.Conversation
	err := r.pool.QueryRow(ctx, query, id).Scan(
		&c.ID, &c.UserID, &c.TenantID, &c.Context, &c.Title, &c.Favorite, &c.Deleted, &c.CreatedAt, &c.UpdatedAt,
	)
	if err != nil {
		return nil, mapErr(err)
	}
	return &c, nil
}

func (r *conversationRepo) List(ctx context.Context, userID, tenantID int, chatContext string) ([]repository.Conversation, error) {
	const query = `
		SELECT id, user_id, tenant_id, context, title, favorite, deleted, created_at, updated_at
		FROM chat_conversations
		WHERE user_id = $1 AND tenant_id = $2 AND NOT deleted AND ($3 = '' OR context = $3)
		ORDER BY updated_at DESC
	`
	rows, err := r.pool.Query(ctx, query, userID, tenantID, chatContext)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []repository.Conversation
	for rows.Next() {
		var c repository.Conversation
		if err := rows.Scan(&c.ID, &c.UserID, &c.TenantID, &c.Context, &c.Title, &c.Favorite, &c.Deleted, &c.CreatedAt, &c.UpdatedAt); err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func (r *conversationRepo) SetFavorite(ctx context.Context, id string, favorite bool) error {
	tag, err := r.pool.Exec(ctx,
		`UPDATE chat_conversations SET favorite = $2, updated_at = NOW() WHERE id = $1 AND NOT deleted`,
		id, favorite)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return repository.ErrNotFound
	}
	return nil
}

func (r *conversationRepo) SoftDelete(ctx context.Context, id string) error {
	tag, err := r.pool.Exec(ctx,
		`UPDATE chat_conversations SET deleted = TRUE, updated_at = NOW() WHERE id = $1 AND NOT deleted`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return repository.ErrNotFound
	}
	return nil
}

func (r *conversationRepo) AppendMessage(ctx context.Context, m *repository.Message) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	tag, err := tx.Exec(ctx,
		`UPDATE chat_conversations SET updated_at = NOW() WHERE id = $1 AND NOT deleted`, m.ConversationID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return repository.ErrNotFound
	}

	const query = `
		INSERT INTO chat_messages (id, conversation_id, role, content, status, created_at)
		VALUES ($1, $2, $3, $4, $5, COALESCE($6, NOW()))
		RETURNING created_at
	`
	var createdAt any
	if !m.CreatedAt.IsZero() {
		createdAt = m.CreatedAt
	}
	if err := tx.QueryRow(ctx, query, m.ID, m.ConversationID, m.Role, m.Content, m.Status, createdAt).
		Scan(&m.CreatedAt); err != nil {
		return fmt.Errorf("append message: %w", mapErr(err))
	}
	return tx.Commit(ctx)
}

func (r *conversationRepo) UpdateMessage(ctx context.Context, id, content string, status repository.MessageStatus) error {
	tag, err := r.pool.Exec(ctx, `UPDATE chat_messages SET content = $2, status = $3 WHERE id = $1`, id, content, status)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return repository.ErrNotFound
	}
	return nil
}

func (r *conversationRepo) ListMessages(ctx context.Context, conversationID string) ([]repository.Message, error) {
	const query = `
		SELECT id, conversation_id, role, content, status, favorite, deleted, created_at
		FROM chat_messages
		WHERE conversation_id = $1 AND NOT deleted
		ORDER BY created_at, id
	`
	rows, err := r.pool.Query(ctx, query, conversationID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []repository.Message
	for rows.Next() {
		var m repository.Message
		if err := rows.Scan(&m.ID, &m.ConversationID, &m.Role, &m.Content, &m.Status, &m.Favorite, &m.Deleted, &m.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}
