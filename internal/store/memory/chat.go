package memory

import (
	"context"
	"sort"
	"time"

	"github.com/dropDatabas3/cfihub/internal/domain/repository"
)

type conversationRepo struct{ s *Store }

func (r conversationRepo) Create(_ context.Context, c *repository.Conversation) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if _, ok := r.s.conversations[c.ID]; ok {
		return repository.ErrConflict
	}
	now := time.Now()
	if c.CreatedAt.IsZero() {
		c.CreatedAt = now
	}
	c.UpdatedAt = c.CreatedAt
	r.s.conversations[c.ID] = *c
	return nil
}

func (r conversationRepo) Get(_ context.Context, id string) (*repository.Conversation, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	c, ok := r.s.conversations[id]
	if !ok || c.Deleted {
		return nil, repository.ErrNotFound
	}
	return &c, nil
}

func (r conversationRepo) List(_ context.Context, userID, tenantID int, chatContext string) ([]repository.Conversation, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var out []repository.Conversation
	for _, c := range r.s.conversations {
		if c.Deleted || c.UserID != userID || c.TenantID != tenantID {
			continue
		}
		if chatContext != "" && c.Context != chatContext {
			continue
		}
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UpdatedAt.After(out[j].UpdatedAt) })
	return out, nil
}

func (r conversationRepo) SetFavorite(_ context.Context, id string, favorite bool) error {
	return r.mutate(id, func(c *repository.Conversation) { c.Favorite = favorite })
}

func (r conversationRepo) SoftDelete(_ context.Context, id string) error {
	return r.mutate(id, func(c *repository.Conversation) { c.Deleted = true })
}

func (r conversationRepo) mutate(id string, fn func(*repository.Conversation)) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	c, ok := r.s.conversations[id]
	if !ok || c.Deleted {
		return repository.ErrNotFound
	}
	fn(&c)
	c.UpdatedAt = time.Now()
	r.s.conversations[id] = c
	return nil
}

func (r conversationRepo) AppendMessage(_ context.Context, m *repository.Message) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	c, ok := r.s.conversations[m.ConversationID]
	if !ok || c.Deleted {
		return repository.ErrNotFound
	}
	if m.CreatedAt.IsZero() {
		m.CreatedAt = time.Now()
	}
	r.s.messages[m.ID] = *m
	c.UpdatedAt = m.CreatedAt
	r.s.conversations[c.ID] = c
	return nil
}

func (r conversationRepo) UpdateMessage(_ context.Context, id, content string, status repository.MessageStatus) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	m, ok := r.s.messages[id]
	if !ok {
		return repository.ErrNotFound
	}
	m.Content, m.Status = content, status
	r.s.messages[id] = m
	return nil
}

func (r conversationRepo) ListMessages(_ context.Context, conversationID string) ([]repository.Message, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var out []repository.Message
	for _, m := range r.s.messages {
		if m.ConversationID == conversationID && !m.Deleted {
			out = append(out, m)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}
