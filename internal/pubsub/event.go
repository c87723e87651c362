// Package pubsub es el canal de notificaciones de progreso: publish/subscribe
// por topic (tasks/<id>, conversations/<id>), fire-and-forget. Los eventos
// sólo avisan que algo cambió; el estado autoritativo se relee por REST.
package pubsub

import (
	"time"
)

// EventType es el tipo de evento.
type EventType string

const (
	EventStarted       EventType = "started"
	EventProgress      EventType = "progress"
	EventItemCompleted EventType = "item_completed"
	EventChunk         EventType = "chunk"
	EventCompleted     EventType = "completed"
	EventFailed        EventType = "failed"
)

// Terminal indica si el evento cierra la tarea.
func (t EventType) Terminal() bool {
	return t == EventCompleted || t == EventFailed
}

// Event es el mensaje publicado en un topic.
type Event struct {
	Type           EventType `json:"type"`
	Topic          string    `json:"topic"`
	TaskID         string    `json:"task_id,omitempty"`
	ConversationID string    `json:"conversation_id,omitempty"`
	MessageID      string    `json:"message_id,omitempty"`

	// progreso
	Percent   int    `json:"percent"`
	ItemID    string `json:"item_id,omitempty"`
	Completed int    `json:"completed,omitempty"`
	Total     int    `json:"total,omitempty"`

	// chat
	Delta string `json:"delta,omitempty"`

	// failed
	Reason string `json:"reason,omitempty"`

	At time.Time `json:"at"`
}

// TaskTopic es el topic de una GenerationTask.
func TaskTopic(taskID string) string { return "tasks/" + taskID }

// ConversationTopic es el topic de una conversación de chat.
func ConversationTopic(conversationID string) string { return "conversations/" + conversationID }
