package generation

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/dropDatabas3/cfihub/internal/domain/repository"
	"github.com/dropDatabas3/cfihub/internal/metrics"
	"github.com/dropDatabas3/cfihub/internal/observability/logger"
	"github.com/dropDatabas3/cfihub/internal/pubsub"
	"github.com/dropDatabas3/cfihub/internal/queue"
	"github.com/dropDatabas3/cfihub/internal/tenant"
)

const (
	DefaultMaxPersonas = 10
	DefaultMaxAssets   = 20
	maxQuestionLen     = 4000
)

// ErrEnqueue indica que la tarea quedó registrada como failed porque no se
// pudo encolar.
var ErrEnqueue = errors.New("generation: enqueue failed")

// TokenSealer cifra el token que viaja en la cola. *secretbox.Sealer lo cumple.
type TokenSealer interface {
	Seal(plain string) (string, error)
	Open(sealed string) (string, error)
}

// Principal es quién pide la generación, tomado de la sesión.
type Principal struct {
	UserID   int
	TenantID int
	Token    string
}

// Ack es la respuesta inmediata al encolar.
type Ack struct {
	TaskID          string `json:"taskId"`
	Topic           string `json:"topic"`
	SubscriberToken string `json:"subscriberToken,omitempty"`
}

// ChatAck agrega los ids de conversación y del mensaje del asistente.
type ChatAck struct {
	Ack
	ConversationID string `json:"conversationId"`
	MessageID      string `json:"messageId"`
}

type PersonasInput struct {
	Count          int    `json:"count"`
	Tone           string `json:"tone"`
	Instructions   string `json:"instructions"`
	IncludeCFIData bool   `json:"includeCfiData"`
}

type StrategyInput struct {
	Tone           string `json:"tone"`
	Instructions   string `json:"instructions"`
	IncludeCFIData bool   `json:"includeCfiData"`
}

type AssetsInput struct {
	AssetTypes     []string `json:"assetTypes"`
	Channels       []string `json:"channels"`
	Tone           string   `json:"tone"`
	Instructions   string   `json:"instructions"`
	IncludeCFIData bool     `json:"includeCfiData"`
}

type ChatInput struct {
	ChatContext    string
	ConversationID string
	Question       string
	IncludeCFIData bool
}

// DispatcherDeps son las dependencias del Dispatcher. Issuer y Sealer son opcionales.
type DispatcherDeps struct {
	Tasks         repository.TaskRepository
	Projects      repository.ProjectRepository
	Conversations repository.ConversationRepository
	Queue         queue.Queue
	Issuer        *pubsub.TokenIssuer
	Sealer        TokenSealer
	MaxPersonas   int
	MaxAssets     int
}

// Dispatcher valida, persiste la tarea en pending y encola el mensaje.
type Dispatcher struct {
	d     DispatcherDeps
	now   func() time.Time
	newID func() string
}

func NewDispatcher(deps DispatcherDeps) *Dispatcher {
	if deps.MaxPersonas <= 0 {
		deps.MaxPersonas = DefaultMaxPersonas
	}
	if deps.MaxAssets <= 0 {
		deps.MaxAssets = DefaultMaxAssets
	}
	return &Dispatcher{d: deps, now: time.Now, newID: uuid.NewString}
}

func invalid(format string, args ...any) error {
	return fmt.Errorf("%w: "+format, append([]any{repository.ErrInvalidInput}, args...)...)
}

// project carga el proyecto y verifica que sea del tenant actual.
func (d *Dispatcher) project(ctx context.Context, p Principal, projectID string) (*repository.Project, error) {
	if p.TenantID <= 0 {
		return nil, tenant.ErrNoTenant
	}
	if strings.TrimSpace(projectID) == "" {
		return nil, invalid("project id is required")
	}
	pr, err := d.d.Projects.Get(ctx, projectID)
	if err != nil {
		return nil, err
	}
	if pr.TenantID != p.TenantID {
		return nil, repository.ErrNotFound
	}
	return pr, nil
}

func (d *Dispatcher) DispatchPersonas(ctx context.Context, p Principal, projectID string, in PersonasInput) (*Ack, error) {
	if _, err := d.project(ctx, p, projectID); err != nil {
		return nil, err
	}
	if in.Count < 1 || in.Count > d.d.MaxPersonas {
		return nil, invalid("count must be between 1 and %d", d.d.MaxPersonas)
	}
	task := d.newTask(p, repository.KindPersonas, repository.TaskParams{
		Count: in.Count, Tone: in.Tone, Instructions: in.Instructions, IncludeCFIData: in.IncludeCFIData,
	})
	task.ProjectID = projectID
	task.TotalItems = in.Count
	msg := GeneratePersonas{
		ProjectID: projectID, Count: in.Count, Tone: in.Tone,
		Instructions: in.Instructions, IncludeCFIData: in.IncludeCFIData,
	}
	return d.dispatch(ctx, p, task, func(m Meta) Message { msg.Meta = m; return msg })
}

func (d *Dispatcher) DispatchStrategy(ctx context.Context, p Principal, projectID string, in StrategyInput) (*Ack, error) {
	if _, err := d.project(ctx, p, projectID); err != nil {
		return nil, err
	}
	task := d.newTask(p, repository.KindStrategy, repository.TaskParams{
		Tone: in.Tone, Instructions: in.Instructions, IncludeCFIData: in.IncludeCFIData,
	})
	task.ProjectID = projectID
	task.TotalItems = 1
	msg := GenerateStrategy{
		ProjectID: projectID, Tone: in.Tone,
		Instructions: in.Instructions, IncludeCFIData: in.IncludeCFIData,
	}
	return d.dispatch(ctx, p, task, func(m Meta) Message { msg.Meta = m; return msg })
}

func (d *Dispatcher) DispatchAssets(ctx context.Context, p Principal, projectID string, in AssetsInput) (*Ack, error) {
	if _, err := d.project(ctx, p, projectID); err != nil {
		return nil, err
	}
	types := compact(in.AssetTypes)
	channels := compact(in.Channels)
	if len(types) == 0 {
		return nil, invalid("at least one asset type is required")
	}
	total := len(assetItems(types, channels))
	if total > d.d.MaxAssets {
		return nil, invalid("at most %d assets per task", d.d.MaxAssets)
	}
	task := d.newTask(p, repository.KindAssets, repository.TaskParams{
		AssetTypes: types, Channels: channels, Tone: in.Tone,
		Instructions: in.Instructions, IncludeCFIData: in.IncludeCFIData,
	})
	task.ProjectID = projectID
	task.TotalItems = total
	msg := GenerateAssets{
		ProjectID: projectID, AssetTypes: types, Channels: channels, Tone: in.Tone,
		Instructions: in.Instructions, IncludeCFIData: in.IncludeCFIData,
	}
	return d.dispatch(ctx, p, task, func(m Meta) Message { msg.Meta = m; return msg })
}

// DispatchChat registra la pregunta y un mensaje del asistente en estado
// streaming (que el worker completa) y encola la respuesta. Sin
// ConversationID abre una conversación nueva.
func (d *Dispatcher) DispatchChat(ctx context.Context, p Principal, in ChatInput) (*ChatAck, error) {
	if p.TenantID <= 0 {
		return nil, tenant.ErrNoTenant
	}
	question := strings.TrimSpace(in.Question)
	chatContext := strings.TrimSpace(in.ChatContext)
	switch {
	case question == "":
		return nil, invalid("question is required")
	case utf8.RuneCountInString(question) > maxQuestionLen:
		return nil, invalid("question is too long")
	case chatContext == "":
		return nil, invalid("chat context is required")
	}

	convs := d.d.Conversations
	var conv *repository.Conversation
	if in.ConversationID != "" {
		c, err := convs.Get(ctx, in.ConversationID)
		if err != nil {
			return nil, err
		}
		if c.UserID != p.UserID || c.TenantID != p.TenantID || c.Context != chatContext {
			return nil, repository.ErrNotFound
		}
		conv = c
	} else {
		conv = &repository.Conversation{
			ID: d.newID(), UserID: p.UserID, TenantID: p.TenantID,
			Context: chatContext, Title: title(question),
		}
		if err := convs.Create(ctx, conv); err != nil {
			return nil, fmt.Errorf("create conversation: %w", err)
		}
	}

	now := d.now()
	userMsg := &repository.Message{
		ID: d.newID(), ConversationID: conv.ID, Role: repository.RoleUser,
		Content: question, Status: repository.MessageComplete, CreatedAt: now,
	}
	if err := convs.AppendMessage(ctx, userMsg); err != nil {
		return nil, fmt.Errorf("append question: %w", err)
	}
	reply := &repository.Message{
		ID: d.newID(), ConversationID: conv.ID, Role: repository.RoleAssistant,
		Status: repository.MessageStreaming, CreatedAt: now.Add(time.Microsecond),
	}
	if err := convs.AppendMessage(ctx, reply); err != nil {
		return nil, fmt.Errorf("append reply: %w", err)
	}

	task := d.newTask(p, repository.KindChat, repository.TaskParams{
		Question: question, Context: chatContext, MessageID: reply.ID, IncludeCFIData: in.IncludeCFIData,
	})
	task.ConversationID = conv.ID
	task.TotalItems = 1
	msg := ChatStream{
		ConversationID: conv.ID, MessageID: reply.ID, ChatContext: chatContext,
		Question: question, IncludeCFIData: in.IncludeCFIData,
	}
	ack, err := d.dispatch(ctx, p, task, func(m Meta) Message { msg.Meta = m; return msg })
	if err != nil {
		if errors.Is(err, ErrEnqueue) {
			_ = convs.UpdateMessage(ctx, reply.ID, "", repository.MessageError)
		}
		return nil, err
	}
	return &ChatAck{Ack: *ack, ConversationID: conv.ID, MessageID: reply.ID}, nil
}

func (d *Dispatcher) newTask(p Principal, kind repository.TaskKind, params repository.TaskParams) *repository.GenerationTask {
	return &repository.GenerationTask{
		ID:        d.newID(),
		Kind:      kind,
		Status:    repository.TaskPending,
		UserID:    p.UserID,
		TenantID:  p.TenantID,
		Params:    params,
		CreatedAt: d.now(),
	}
}

// dispatch persiste task en pending, emite el token de suscripción y encola.
// Si el encolado falla, la tarea pasa a failed para que nadie la espere.
func (d *Dispatcher) dispatch(ctx context.Context, p Principal, task *repository.GenerationTask, build func(Meta) Message) (*Ack, error) {
	log := logger.From(ctx).With(
		logger.Component("generation.dispatcher"),
		logger.TaskID(task.ID),
		logger.Kind(string(task.Kind)),
		logger.TenantID(p.TenantID),
	)

	meta := Meta{TaskID: task.ID, UserID: p.UserID, TenantID: p.TenantID}
	if p.Token != "" {
		if d.d.Sealer != nil {
			sealed, err := d.d.Sealer.Seal(p.Token)
			if err != nil {
				return nil, fmt.Errorf("seal token: %w", err)
			}
			meta.SealedToken = sealed
		} else {
			meta.Token = p.Token
		}
	}
	msg := build(meta)
	env, err := queue.NewEnvelope(task.ID, string(msg.Kind()), msg)
	if err != nil {
		return nil, err
	}

	if err := d.d.Tasks.Create(ctx, task); err != nil {
		return nil, fmt.Errorf("create task: %w", err)
	}

	topic := TopicFor(task)
	ack := &Ack{TaskID: task.ID, Topic: topic}
	if d.d.Issuer != nil {
		tok, err := d.d.Issuer.Issue(strconv.Itoa(p.UserID), topic, pubsub.TaskTopic(task.ID))
		if err != nil {
			d.failEnqueue(ctx, log, task, err)
			return nil, err
		}
		ack.SubscriberToken = tok
	}

	if err := d.d.Queue.Publish(ctx, env); err != nil {
		d.failEnqueue(ctx, log, task, err)
		return nil, fmt.Errorf("%w: %v", ErrEnqueue, err)
	}

	log.Info("generation task enqueued")
	return ack, nil
}

func (d *Dispatcher) failEnqueue(ctx context.Context, log *zap.Logger, task *repository.GenerationTask, cause error) {
	log.Error("dispatch failed, marking task failed", logger.Err(cause))
	ok, err := d.d.Tasks.Fail(context.WithoutCancel(ctx), task.ID, "could not be queued, try again later", repository.TaskUsage{}, d.now())
	if err != nil {
		log.Error("mark task failed", logger.Err(err))
	}
	if ok {
		metrics.GenerationTasksTotal.WithLabelValues(string(task.Kind), string(repository.TaskFailed)).Inc()
	}
}

func compact(in []string) []string {
	seen := map[string]struct{}{}
	var out []string
	for _, s := range in {
		s = strings.TrimSpace(s)
		if s == "" {
			continue
		}
		if _, ok := seen[s]; ok {
			continue
		}
		seen[s] = struct{}{}
		out = append(out, s)
	}
	return out
}

type assetItem struct {
	Type    string
	Channel string
}

// assetItems es el producto tipo × canal; sin canales, un ítem por tipo.
func assetItems(types, channels []string) []assetItem {
	var out []assetItem
	for _, t := range types {
		if len(channels) == 0 {
			out = append(out, assetItem{Type: t})
			continue
		}
		for _, c := range channels {
			out = append(out, assetItem{Type: t, Channel: c})
		}
	}
	return out
}

func title(question string) string {
	const max = 60
	if utf8.RuneCountInString(question) <= max {
		return question
	}
	r := []rune(question)
	return strings.TrimSpace(string(r[:max])) + "…"
}
