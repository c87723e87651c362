package controllers

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/dropDatabas3/cfihub/internal/domain/repository"
	"github.com/dropDatabas3/cfihub/internal/generation"
	httperrors "github.com/dropDatabas3/cfihub/internal/http/errors"
	"github.com/dropDatabas3/cfihub/internal/http/helpers"
	"github.com/dropDatabas3/cfihub/internal/observability/logger"
)

// ChatController maneja /chat/*. La respuesta del asistente no viaja en el
// request: llega como eventos chunk por el topic de la conversación.
type ChatController struct {
	convs      repository.ConversationRepository
	dispatcher *generation.Dispatcher
}

func NewChatController(convs repository.ConversationRepository, d *generation.Dispatcher) *ChatController {
	return &ChatController{convs: convs, dispatcher: d}
}

type streamRequest struct {
	Question       string `json:"question"`
	ConversationID string `json:"conversationId"`
	IncludeCFIData bool   `json:"includeCfiData"`
}

type streamResponse struct {
	Success bool   `json:"success"`
	Status  string `json:"status"`
	generation.ChatAck
}

type conversationDTO struct {
	ID        string    `json:"id"`
	Context   string    `json:"context"`
	Title     string    `json:"title"`
	Favorite  bool      `json:"favorite"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

type messageDTO struct {
	ID        string    `json:"id"`
	Role      string    `json:"role"`
	Content   string    `json:"content"`
	Status    string    `json:"status"`
	Favorite  bool      `json:"favorite"`
	CreatedAt time.Time `json:"created_at"`
}

// Stream maneja POST /chat/{context}/stream.
func (c *ChatController) Stream(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	log := logger.From(ctx).With(logger.Layer("controller"), logger.Op("ChatController.Stream"))

	_, p, err := principal(ctx)
	if err != nil {
		fail(w, log, err)
		return
	}
	var req streamRequest
	if err := helpers.ReadJSON(w, r, &req); err != nil {
		httperrors.WriteError(w, err)
		return
	}
	ack, err := c.dispatcher.DispatchChat(ctx, p, generation.ChatInput{
		ChatContext:    chi.URLParam(r, "context"),
		ConversationID: req.ConversationID,
		Question:       req.Question,
		IncludeCFIData: req.IncludeCFIData,
	})
	if err != nil {
		fail(w, log, err)
		return
	}
	helpers.WriteJSON(w, http.StatusAccepted, streamResponse{Success: true, Status: "streaming_started", ChatAck: *ack})
}

// List maneja GET /chat/{context}/conversations.
func (c *ChatController) List(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	log := logger.From(ctx).With(logger.Layer("controller"), logger.Op("ChatController.List"))

	_, p, err := principal(ctx)
	if err != nil {
		fail(w, log, err)
		return
	}
	convs, err := c.convs.List(ctx, p.UserID, p.TenantID, chi.URLParam(r, "context"))
	if err != nil {
		fail(w, log, err)
		return
	}
	out := make([]conversationDTO, 0, len(convs))
	for _, cv := range convs {
		out = append(out, conversationDTO{
			ID: cv.ID, Context: cv.Context, Title: cv.Title, Favorite: cv.Favorite,
			CreatedAt: cv.CreatedAt, UpdatedAt: cv.UpdatedAt,
		})
	}
	writeList(w, out)
}

// Messages maneja GET /chat/conversations/{id}/messages.
func (c *ChatController) Messages(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	log := logger.From(ctx).With(logger.Layer("controller"), logger.Op("ChatController.Messages"))

	conv, err := c.owned(r)
	if err != nil {
		fail(w, log, err)
		return
	}
	msgs, err := c.convs.ListMessages(ctx, conv.ID)
	if err != nil {
		fail(w, log, err)
		return
	}
	out := make([]messageDTO, 0, len(msgs))
	for _, m := range msgs {
		out = append(out, messageDTO{
			ID: m.ID, Role: string(m.Role), Content: m.Content, Status: string(m.Status),
			Favorite: m.Favorite, CreatedAt: m.CreatedAt,
		})
	}
	writeList(w, out)
}

// Favorite maneja POST /chat/conversations/{id}/favorite. Con body
// {"favorite": bool} fija el valor; sin body lo invierte.
func (c *ChatController) Favorite(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	log := logger.From(ctx).With(logger.Layer("controller"), logger.Op("ChatController.Favorite"))

	conv, err := c.owned(r)
	if err != nil {
		fail(w, log, err)
		return
	}
	var req struct {
		Favorite *bool `json:"favorite"`
	}
	r.Body = http.MaxBytesReader(w, r.Body, 1<<16)
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		httperrors.WriteError(w, httperrors.ErrInvalidJSON)
		return
	}
	fav := !conv.Favorite
	if req.Favorite != nil {
		fav = *req.Favorite
	}
	if err := c.convs.SetFavorite(ctx, conv.ID, fav); err != nil {
		fail(w, log, err)
		return
	}
	helpers.WriteJSON(w, http.StatusOK, map[string]any{"success": true, "favorite": fav})
}

// Delete maneja DELETE /chat/conversations/{id} (borrado lógico).
func (c *ChatController) Delete(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	log := logger.From(ctx).With(logger.Layer("controller"), logger.Op("ChatController.Delete"))

	conv, err := c.owned(r)
	if err != nil {
		fail(w, log, err)
		return
	}
	if err := c.convs.SoftDelete(ctx, conv.ID); err != nil {
		fail(w, log, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// owned resuelve {id} y exige que la conversación sea del usuario y del
// tenant activo.
func (c *ChatController) owned(r *http.Request) (*repository.Conversation, error) {
	_, p, err := principal(r.Context())
	if err != nil {
		return nil, err
	}
	conv, err := c.convs.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		return nil, err
	}
	if conv.UserID != p.UserID || conv.TenantID != p.TenantID {
		return nil, repository.ErrNotFound
	}
	return conv, nil
}
