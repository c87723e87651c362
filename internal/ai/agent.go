// Package ai agrupa los agentes de generación (personas, estrategia, assets,
// chat) sobre un modelo de lenguaje. Los agentes se registran al arrancar en
// un Registry explícito; el pipeline de generación los busca por Kind.
package ai

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strings"

	"github.com/dropDatabas3/cfihub/internal/ai/mistral"
	"github.com/dropDatabas3/cfihub/internal/metrics"
)

// Kind identifica un agente.
type Kind string

const (
	KindPersona  Kind = "persona"
	KindStrategy Kind = "strategy"
	KindAsset    Kind = "asset"
	KindChat     Kind = "chat"
)

var (
	ErrUnknownAgent  = errors.New("ai: unknown agent")
	ErrInvalidOutput = errors.New("ai: model returned invalid output")
)

// LLM es lo que los agentes necesitan del modelo. *mistral.Client lo cumple.
type LLM interface {
	Complete(ctx context.Context, msgs []mistral.Message, opts ...mistral.Option) (mistral.Completion, error)
	Stream(ctx context.Context, msgs []mistral.Message, onDelta func(string) error, opts ...mistral.Option) (mistral.Completion, error)
}

// Pricing es el costo en USD por millón de tokens.
type Pricing struct {
	PromptPerMTok     float64
	CompletionPerMTok float64
}

// Usage es el consumo de una o varias llamadas.
type Usage struct {
	PromptTokens     int
	CompletionTokens int
	CostMicros       int64 // millonésimas de USD
}

func (u *Usage) Add(o Usage) {
	u.PromptTokens += o.PromptTokens
	u.CompletionTokens += o.CompletionTokens
	u.CostMicros += o.CostMicros
}

// usage convierte el uso del proveedor, calcula costo y lo registra en métricas.
func (p Pricing) usage(agent Kind, u mistral.Usage) Usage {
	metrics.AITokensTotal.WithLabelValues(string(agent), "prompt").Add(float64(u.PromptTokens))
	metrics.AITokensTotal.WithLabelValues(string(agent), "completion").Add(float64(u.CompletionTokens))
	// tokens * USD/MTok = micro-USD
	cost := float64(u.PromptTokens)*p.PromptPerMTok + float64(u.CompletionTokens)*p.CompletionPerMTok
	return Usage{
		PromptTokens:     u.PromptTokens,
		CompletionTokens: u.CompletionTokens,
		CostMicros:       int64(math.Round(cost)),
	}
}

// Agent es cualquier agente registrable.
type Agent interface {
	Kind() Kind
}

// Request es la entrada de un agente generador: un ítem por llamada.
type Request struct {
	ProjectName        string
	ProjectDescription string
	Tone               string
	Instructions       string
	// Item identifica qué generar dentro de la tarea (p.ej. tipo de asset).
	Item    string
	Channel string
	Index   int
	// Context es información de negocio (CFI) ya resumida por el Enricher.
	Context string
	// Previous son resultados ya generados de los que depende este ítem.
	Previous []json.RawMessage
}

// Result es un ítem generado.
type Result struct {
	Name  string
	Data  json.RawMessage
	Usage Usage
}

// Generator produce un ítem JSON por llamada.
type Generator interface {
	Agent
	Generate(ctx context.Context, req Request) (Result, error)
}

// ChatTurn es un mensaje previo de la conversación.
type ChatTurn struct {
	Assistant bool
	Content   string
}

// ChatRequest es la entrada del agente de chat.
type ChatRequest struct {
	ChatContext string
	History     []ChatTurn
	Question    string
	Context     string
}

// Streamer responde en streaming.
type Streamer interface {
	Agent
	Stream(ctx context.Context, req ChatRequest, onDelta func(string) error) (string, Usage, error)
}

// jsonAgent es un Generator que pide un objeto JSON al modelo.
type jsonAgent struct {
	kind    Kind
	system  string
	llm     LLM
	pricing Pricing
}

func (a *jsonAgent) Kind() Kind { return a.kind }

func (a *jsonAgent) Generate(ctx context.Context, req Request) (Result, error) {
	msgs := []mistral.Message{
		{Role: mistral.RoleSystem, Content: a.system},
		{Role: mistral.RoleUser, Content: renderRequest(req)},
	}
	out, err := a.llm.Complete(ctx, msgs, mistral.JSONMode())
	usage := a.pricing.usage(a.kind, out.Usage)
	if err != nil {
		return Result{Usage: usage}, fmt.Errorf("ai: %s: %w", a.kind, err)
	}

	raw := json.RawMessage(strings.TrimSpace(out.Content))
	var obj map[string]any
	if err := json.Unmarshal(raw, &obj); err != nil {
		return Result{Usage: usage}, fmt.Errorf("%w: %s: %v", ErrInvalidOutput, a.kind, err)
	}
	name, _ := obj["name"].(string)
	if name == "" {
		name, _ = obj["title"].(string)
	}
	return Result{Name: name, Data: raw, Usage: usage}, nil
}

func renderRequest(r Request) string {
	var b strings.Builder
	line := func(k, v string) {
		if v != "" {
			fmt.Fprintf(&b, "%s: %s\n", k, v)
		}
	}
	line("Project", r.ProjectName)
	line("Description", r.ProjectDescription)
	line("Tone", r.Tone)
	line("Item", r.Item)
	line("Channel", r.Channel)
	if r.Index > 0 {
		line("Index", fmt.Sprint(r.Index))
	}
	line("Instructions", r.Instructions)
	line("Business data", r.Context)
	for i, p := range r.Previous {
		line(fmt.Sprintf("Input %d", i+1), string(p))
	}
	b.WriteString("Answer with a single JSON object.")
	return b.String()
}

// NewPersonaAgent genera un perfil de cliente por llamada.
func NewPersonaAgent(llm LLM, p Pricing) Generator {
	return &jsonAgent{kind: KindPersona, llm: llm, pricing: p,
		system: "You create one distinct customer persona as JSON with at least a \"name\" field."}
}

// NewStrategyAgent genera la estrategia a partir de las personas.
func NewStrategyAgent(llm LLM, p Pricing) Generator {
	return &jsonAgent{kind: KindStrategy, llm: llm, pricing: p,
		system: "You write a marketing strategy as JSON with a \"title\" field, based on the given personas."}
}

// NewAssetAgent genera una pieza de contenido por tipo y canal.
func NewAssetAgent(llm LLM, p Pricing) Generator {
	return &jsonAgent{kind: KindAsset, llm: llm, pricing: p,
		system: "You write one marketing asset of the requested type for the requested channel as JSON with a \"title\" field."}
}

type chatAgent struct {
	llm     LLM
	pricing Pricing
}

// NewChatAgent responde preguntas de negocio en streaming.
func NewChatAgent(llm LLM, p Pricing) Streamer {
	return &chatAgent{llm: llm, pricing: p}
}

func (a *chatAgent) Kind() Kind { return KindChat }

func (a *chatAgent) Stream(ctx context.Context, req ChatRequest, onDelta func(string) error) (string, Usage, error) {
	sys := "You are a business assistant for the " + req.ChatContext + " area."
	if req.Context != "" {
		sys += "\nBusiness data:\n" + req.Context
	}
	msgs := []mistral.Message{{Role: mistral.RoleSystem, Content: sys}}
	for _, t := range req.History {
		role := mistral.RoleUser
		if t.Assistant {
			role = mistral.RoleAssistant
		}
		msgs = append(msgs, mistral.Message{Role: role, Content: t.Content})
	}
	msgs = append(msgs, mistral.Message{Role: mistral.RoleUser, Content: req.Question})

	out, err := a.llm.Stream(ctx, msgs, onDelta)
	usage := a.pricing.usage(KindChat, out.Usage)
	if err != nil {
		return out.Content, usage, fmt.Errorf("ai: chat: %w", err)
	}
	return out.Content, usage, nil
}
