// Package generation es el pipeline asíncrono de IA: el Dispatcher persiste
// la tarea en pending y encola un mensaje; el Worker la reclama, ejecuta el
// handler de su tipo y publica exactamente un evento terminal por tarea.
package generation

import (
	"github.com/dropDatabas3/cfihub/internal/domain/repository"
	"github.com/dropDatabas3/cfihub/internal/pubsub"
)

// Meta viaja en todos los mensajes: el worker no tiene sesión, así que el
// mensaje lleva su propia copia de usuario, tenant y token.
type Meta struct {
	TaskID   string `json:"task_id"`
	UserID   int    `json:"user_id"`
	TenantID int    `json:"tenant_id"`

	// Exactamente uno de los dos, según haya clave de sellado configurada.
	Token       string `json:"token,omitempty"`
	SealedToken string `json:"sealed_token,omitempty"`
}

func (m Meta) meta() Meta { return m }

// Message es un mensaje de generación encolable.
type Message interface {
	Kind() repository.TaskKind
	meta() Meta
}

type GeneratePersonas struct {
	Meta
	ProjectID      string `json:"project_id"`
	Count          int    `json:"count"`
	Tone           string `json:"tone,omitempty"`
	Instructions   string `json:"instructions,omitempty"`
	IncludeCFIData bool   `json:"include_cfi_data,omitempty"`
}

func (GeneratePersonas) Kind() repository.TaskKind { return repository.KindPersonas }

type GenerateStrategy struct {
	Meta
	ProjectID      string `json:"project_id"`
	Tone           string `json:"tone,omitempty"`
	Instructions   string `json:"instructions,omitempty"`
	IncludeCFIData bool   `json:"include_cfi_data,omitempty"`
}

func (GenerateStrategy) Kind() repository.TaskKind { return repository.KindStrategy }

type GenerateAssets struct {
	Meta
	ProjectID      string   `json:"project_id"`
	AssetTypes     []string `json:"asset_types"`
	Channels       []string `json:"channels,omitempty"`
	Tone           string   `json:"tone,omitempty"`
	Instructions   string   `json:"instructions,omitempty"`
	IncludeCFIData bool     `json:"include_cfi_data,omitempty"`
}

func (GenerateAssets) Kind() repository.TaskKind { return repository.KindAssets }

type ChatStream struct {
	Meta
	ConversationID string `json:"conversation_id"`
	MessageID      string `json:"message_id"`
	ChatContext    string `json:"chat_context"`
	Question       string `json:"question"`
	IncludeCFIData bool   `json:"include_cfi_data,omitempty"`
}

func (ChatStream) Kind() repository.TaskKind { return repository.KindChat }

// TopicFor es el topic donde se publican los eventos de t.
func TopicFor(t *repository.GenerationTask) string {
	if t.Kind == repository.KindChat && t.ConversationID != "" {
		return pubsub.ConversationTopic(t.ConversationID)
	}
	return pubsub.TaskTopic(t.ID)
}
