package generation

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/dropDatabas3/cfihub/internal/ai"
	"github.com/dropDatabas3/cfihub/internal/domain/repository"
	"github.com/dropDatabas3/cfihub/internal/observability/logger"
)

// ErrNoPersonas: la estrategia necesita personas generadas antes.
var ErrNoPersonas = errors.New("generate personas before the strategy")

// Handlers implementa los handlers de cada TaskKind sobre los agentes de IA.
type Handlers struct {
	Agents        *ai.Registry
	Enricher      *ai.Enricher // opcional
	Projects      repository.ProjectRepository
	Conversations repository.ConversationRepository
	NewID         func() string
}

// Register asocia cada TaskKind a su handler.
func (h *Handlers) Register(w *Worker) {
	if h.NewID == nil {
		h.NewID = uuid.NewString
	}
	w.Handle(repository.KindPersonas, h.Personas)
	w.Handle(repository.KindStrategy, h.Strategy)
	w.Handle(repository.KindAssets, h.Assets)
	w.Handle(repository.KindChat, h.Chat)
}

func (h *Handlers) enrich(ctx context.Context, run *Run, include bool) string {
	if !include || h.Enricher == nil {
		return ""
	}
	return h.Enricher.Summary(ctx, run.Token, run.Task.TenantID)
}

func (h *Handlers) Personas(ctx context.Context, run *Run) error {
	var msg GeneratePersonas
	if err := run.Decode(&msg); err != nil {
		return err
	}
	project, err := h.Projects.Get(ctx, msg.ProjectID)
	if err != nil {
		return fmt.Errorf("load project: %w", err)
	}
	gen, err := h.Agents.Generator(ai.KindPersona)
	if err != nil {
		return err
	}

	run.SetTotal(ctx, msg.Count)
	biz := h.enrich(ctx, run, msg.IncludeCFIData)

	for i := 1; i <= msg.Count; i++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		res, err := gen.Generate(ctx, ai.Request{
			ProjectName:        project.Name,
			ProjectDescription: project.Description,
			Tone:               msg.Tone,
			Instructions:       msg.Instructions,
			Index:              i,
			Context:            biz,
		})
		run.AddUsage(res.Usage)
		if err != nil {
			return fmt.Errorf("persona %d of %d: %w", i, msg.Count, err)
		}
		p := repository.Persona{
			ID:        h.NewID(),
			ProjectID: project.ID,
			TaskID:    run.Task.ID,
			Name:      res.Name,
			Data:      res.Data,
		}
		if err := h.Projects.AddPersonas(ctx, []repository.Persona{p}); err != nil {
			return fmt.Errorf("save persona: %w", err)
		}
		run.ItemDone(ctx, p.ID)
	}
	return nil
}

func (h *Handlers) Strategy(ctx context.Context, run *Run) error {
	var msg GenerateStrategy
	if err := run.Decode(&msg); err != nil {
		return err
	}
	project, err := h.Projects.Get(ctx, msg.ProjectID)
	if err != nil {
		return fmt.Errorf("load project: %w", err)
	}
	personas, err := h.Projects.ListPersonas(ctx, project.ID)
	if err != nil {
		return fmt.Errorf("load personas: %w", err)
	}
	if len(personas) == 0 {
		return ErrNoPersonas
	}
	gen, err := h.Agents.Generator(ai.KindStrategy)
	if err != nil {
		return err
	}

	run.SetTotal(ctx, 1)
	prev := make([]json.RawMessage, 0, len(personas))
	for _, p := range personas {
		prev = append(prev, p.Data)
	}
	res, err := gen.Generate(ctx, ai.Request{
		ProjectName:        project.Name,
		ProjectDescription: project.Description,
		Tone:               msg.Tone,
		Instructions:       msg.Instructions,
		Context:            h.enrich(ctx, run, msg.IncludeCFIData),
		Previous:           prev,
	})
	run.AddUsage(res.Usage)
	if err != nil {
		return fmt.Errorf("strategy: %w", err)
	}
	st := &repository.Strategy{ID: h.NewID(), ProjectID: project.ID, TaskID: run.Task.ID, Data: res.Data}
	if err := h.Projects.SaveStrategy(ctx, st); err != nil {
		return fmt.Errorf("save strategy: %w", err)
	}
	run.ItemDone(ctx, st.ID)
	return nil
}

func (h *Handlers) Assets(ctx context.Context, run *Run) error {
	var msg GenerateAssets
	if err := run.Decode(&msg); err != nil {
		return err
	}
	project, err := h.Projects.Get(ctx, msg.ProjectID)
	if err != nil {
		return fmt.Errorf("load project: %w", err)
	}
	gen, err := h.Agents.Generator(ai.KindAsset)
	if err != nil {
		return err
	}

	var prev []json.RawMessage
	st, err := h.Projects.LatestStrategy(ctx, project.ID)
	switch {
	case err == nil:
		prev = append(prev, st.Data)
	case !repository.IsNotFound(err):
		return fmt.Errorf("load strategy: %w", err)
	}

	items := assetItems(msg.AssetTypes, msg.Channels)
	run.SetTotal(ctx, len(items))
	biz := h.enrich(ctx, run, msg.IncludeCFIData)

	for i, it := range items {
		if err := ctx.Err(); err != nil {
			return err
		}
		res, err := gen.Generate(ctx, ai.Request{
			ProjectName:        project.Name,
			ProjectDescription: project.Description,
			Tone:               msg.Tone,
			Instructions:       msg.Instructions,
			Item:               it.Type,
			Channel:            it.Channel,
			Index:              i + 1,
			Context:            biz,
			Previous:           prev,
		})
		run.AddUsage(res.Usage)
		if err != nil {
			return fmt.Errorf("asset %s: %w", it.Type, err)
		}
		a := &repository.Asset{
			ID:        h.NewID(),
			ProjectID: project.ID,
			TaskID:    run.Task.ID,
			Type:      it.Type,
			Channel:   it.Channel,
			Data:      res.Data,
		}
		if err := h.Projects.AddAsset(ctx, a); err != nil {
			return fmt.Errorf("save asset: %w", err)
		}
		run.ItemDone(ctx, a.ID)
	}
	return nil
}

// Chat responde en streaming: cada fragmento sale como evento chunk y el
// texto final se guarda en el mensaje del asistente creado al encolar.
func (h *Handlers) Chat(ctx context.Context, run *Run) error {
	var msg ChatStream
	if err := run.Decode(&msg); err != nil {
		return err
	}
	convs := h.Conversations
	streamer, err := h.Agents.Streamer(ai.KindChat)
	if err != nil {
		return err
	}
	history, err := convs.ListMessages(ctx, msg.ConversationID)
	if err != nil {
		return fmt.Errorf("load history: %w", err)
	}

	run.SetTotal(ctx, 1)
	text, usage, err := streamer.Stream(ctx, ai.ChatRequest{
		ChatContext: msg.ChatContext,
		History:     chatHistory(history, msg.MessageID, msg.Question),
		Question:    msg.Question,
		Context:     h.enrich(ctx, run, msg.IncludeCFIData),
	}, func(delta string) error {
		run.Chunk(ctx, delta)
		return nil
	})
	run.AddUsage(usage)
	if err != nil {
		if uerr := convs.UpdateMessage(context.WithoutCancel(ctx), msg.MessageID, text, repository.MessageError); uerr != nil {
			run.Logger().Warn("mark chat message as error", logger.Err(uerr))
		}
		return err
	}
	if err := convs.UpdateMessage(ctx, msg.MessageID, text, repository.MessageComplete); err != nil {
		return fmt.Errorf("save reply: %w", err)
	}
	run.ItemDone(ctx, msg.MessageID)
	return nil
}

// chatHistory devuelve los turnos completos previos a la pregunta actual.
func chatHistory(msgs []repository.Message, replyID, question string) []ai.ChatTurn {
	var turns []ai.ChatTurn
	for _, m := range msgs {
		if m.ID == replyID || m.Status != repository.MessageComplete || strings.TrimSpace(m.Content) == "" {
			continue
		}
		turns = append(turns, ai.ChatTurn{Assistant: m.Role == repository.RoleAssistant, Content: m.Content})
	}
	if n := len(turns); n > 0 && !turns[n-1].Assistant && turns[n-1].Content == question {
		turns = turns[:n-1]
	}
	return turns
}
