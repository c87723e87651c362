package repository

import (
	"context"
	"time"
)

// Conversation agrupa mensajes de chat por (usuario, tenant, contexto).
type Conversation struct {
	ID        string
	UserID    int
	TenantID  int
	Context   string
	Title     string
	Favorite  bool
	Deleted   bool
	CreatedAt time.Time
	UpdatedAt time.Time
}

// MessageRole es el autor de un mensaje.
type MessageRole string

const (
	RoleUser      MessageRole = "user"
	RoleAssistant MessageRole = "assistant"
)

// MessageStatus es el estado de un mensaje del asistente.
type MessageStatus string

const (
	MessageComplete  MessageStatus = "complete"
	MessageStreaming MessageStatus = "streaming"
	MessageError     MessageStatus = "error"
)

// Message es una entrada de chat. Se ordena por (CreatedAt, ID).
type Message struct {
	ID             string
	ConversationID string
	Role           MessageRole
	Content        string
	Status         MessageStatus
	Favorite       bool
	Deleted        bool
	CreatedAt      time.Time
}

// ConversationRepository persiste conversaciones y mensajes.
// Las conversaciones borradas (soft) se comportan como inexistentes.
type ConversationRepository interface {
	Create(ctx context.Context, c *Conversation) error
	Get(ctx context.Context, id string) (*Conversation, error)
	List(ctx context.Context, userID, tenantID int, chatContext string) ([]Conversation, error)
	SetFavorite(ctx context.Context, id string, favorite bool) error
	SoftDelete(ctx context.Context, id string) error

	AppendMessage(ctx context.Context, m *Message) error
	UpdateMessage(ctx context.Context, id, content string, status MessageStatus) error
	ListMessages(ctx context.Context, conversationID string) ([]Message, error)
}
