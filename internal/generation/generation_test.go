package generation

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/dropDatabas3/cfihub/internal/ai"
	"github.com/dropDatabas3/cfihub/internal/ai/mistral"
	"github.com/dropDatabas3/cfihub/internal/cfi/token"
	"github.com/dropDatabas3/cfihub/internal/domain/repository"
	"github.com/dropDatabas3/cfihub/internal/pubsub"
	"github.com/dropDatabas3/cfihub/internal/queue"
	"github.com/dropDatabas3/cfihub/internal/security/secretbox"
	"github.com/dropDatabas3/cfihub/internal/store/memory"
	"github.com/dropDatabas3/cfihub/internal/tenant"
)

// ─── fakes ───

type captureQueue struct {
	envs []queue.Envelope
	err  error
}

func (q *captureQueue) Publish(_ context.Context, env queue.Envelope) error {
	if q.err != nil {
		return q.err
	}
	q.envs = append(q.envs, env)
	return nil
}

func (q *captureQueue) Consume(ctx context.Context, _ queue.Handler) error { <-ctx.Done(); return ctx.Err() }
func (q *captureQueue) Close() error                                       { return nil }

type scriptedLLM struct {
	calls  atomic.Int32
	failAt int32 // 0 = nunca
	deltas []string
}

func (l *scriptedLLM) Complete(context.Context, []mistral.Message, ...mistral.Option) (mistral.Completion, error) {
	n := l.calls.Add(1)
	if l.failAt > 0 && n == l.failAt {
		return mistral.Completion{Usage: mistral.Usage{PromptTokens: 1}}, errors.New("model unavailable")
	}
	return mistral.Completion{
		Content: fmt.Sprintf(`{"name":"item-%d"}`, n),
		Usage:   mistral.Usage{PromptTokens: 10, CompletionTokens: 5},
	}, nil
}

func (l *scriptedLLM) Stream(_ context.Context, _ []mistral.Message, onDelta func(string) error, _ ...mistral.Option) (mistral.Completion, error) {
	var b strings.Builder
	for _, d := range l.deltas {
		b.WriteString(d)
		if err := onDelta(d); err != nil {
			return mistral.Completion{Content: b.String()}, err
		}
	}
	return mistral.Completion{Content: b.String(), Usage: mistral.Usage{CompletionTokens: len(l.deltas)}}, nil
}

type fixture struct {
	store *memory.Store
	q     *captureQueue
	hub   *pubsub.MemoryHub
	disp  *Dispatcher
	w     *Worker
	llm   *scriptedLLM
	p     Principal
	proj  *repository.Project
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	st := memory.New()
	f := &fixture{
		store: st,
		q:     &captureQueue{},
		hub:   pubsub.NewMemoryHub(),
		llm:   &scriptedLLM{},
		p:     Principal{UserID: 7, TenantID: 10, Token: "cfi-token"},
		proj:  &repository.Project{ID: "proj-1", TenantID: 10, UserID: 7, Name: "Rentrée"},
	}
	require.NoError(t, st.Projects().Create(context.Background(), f.proj))

	f.disp = NewDispatcher(DispatcherDeps{
		Tasks:         st.Tasks(),
		Projects:      st.Projects(),
		Conversations: st.Conversations(),
		Queue:         f.q,
		Issuer:        pubsub.NewTokenIssuer([]byte("subscriber-secret-subscriber-sec"), time.Minute),
	})
	f.w = NewWorker(f.q, st.Tasks(), f.hub, WorkerConfig{})
	(&Handlers{
		Agents:        ai.NewDefaultRegistry(f.llm, ai.Pricing{PromptPerMTok: 1, CompletionPerMTok: 2}),
		Projects:      st.Projects(),
		Conversations: st.Conversations(),
	}).Register(f.w)
	return f
}

func (f *fixture) subscribe(t *testing.T, topic string) <-chan pubsub.Event {
	t.Helper()
	ch, cancel, err := f.hub.Subscribe(context.Background(), topic)
	require.NoError(t, err)
	t.Cleanup(cancel)
	return ch
}

func drain(ch <-chan pubsub.Event) []pubsub.Event {
	var out []pubsub.Event
	for {
		select {
		case ev := <-ch:
			out = append(out, ev)
		default:
			return out
		}
	}
}

func terminals(evs []pubsub.Event) []pubsub.Event {
	var out []pubsub.Event
	for _, ev := range evs {
		if ev.Type.Terminal() {
			out = append(out, ev)
		}
	}
	return out
}

// ─── tests ───

func TestPersonas_EndToEnd(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	ack, err := f.disp.DispatchPersonas(ctx, f.p, f.proj.ID, PersonasInput{Count: 3})
	require.NoError(t, err)
	require.Equal(t, "tasks/"+ack.TaskID, ack.Topic)
	require.NotEmpty(t, ack.SubscriberToken)
	require.Len(t, f.q.envs, 1)

	task, err := f.store.Tasks().Get(ctx, ack.TaskID)
	require.NoError(t, err)
	require.Equal(t, repository.TaskPending, task.Status)

	events := f.subscribe(t, ack.Topic)
	require.NoError(t, f.w.Process(ctx, f.q.envs[0]))

	evs := drain(events)
	require.Equal(t, pubsub.EventStarted, evs[0].Type)
	var pcts []int
	for _, ev := range evs {
		if ev.Type == pubsub.EventItemCompleted {
			pcts = append(pcts, ev.Percent)
		}
	}
	require.Equal(t, []int{33, 66, 100}, pcts)
	term := terminals(evs)
	require.Len(t, term, 1)
	require.Equal(t, pubsub.EventCompleted, term[0].Type)
	require.Equal(t, ack.TaskID, term[0].TaskID)

	task, err = f.store.Tasks().Get(ctx, ack.TaskID)
	require.NoError(t, err)
	require.Equal(t, repository.TaskCompleted, task.Status)
	require.Equal(t, 3, task.CompletedItems)
	require.Equal(t, 30, task.PromptTokens)
	require.Equal(t, 15, task.CompletionTokens)
	require.Equal(t, int64(60), task.CostMicros)

	personas, err := f.store.Projects().ListPersonas(ctx, f.proj.ID)
	require.NoError(t, err)
	require.Len(t, personas, 3)

	// redelivery: la tarea ya no está pending, no se procesa ni publica nada
	require.NoError(t, f.w.Process(ctx, f.q.envs[0]))
	require.Empty(t, drain(events))
	require.Equal(t, int32(3), f.llm.calls.Load())
}

func TestHandlerError_FailsOnce(t *testing.T) {
	f := newFixture(t)
	f.llm.failAt = 2
	ctx := context.Background()

	ack, err := f.disp.DispatchPersonas(ctx, f.p, f.proj.ID, PersonasInput{Count: 3})
	require.NoError(t, err)
	events := f.subscribe(t, ack.Topic)

	require.NoError(t, f.w.Process(ctx, f.q.envs[0]))

	term := terminals(drain(events))
	require.Len(t, term, 1)
	require.Equal(t, pubsub.EventFailed, term[0].Type)
	require.Contains(t, term[0].Reason, "model unavailable")

	task, _ := f.store.Tasks().Get(ctx, ack.TaskID)
	require.Equal(t, repository.TaskFailed, task.Status)
	require.Equal(t, 1, task.CompletedItems)
	require.Contains(t, task.Error, "persona 2 of 3")
}

func TestHandlerPanic_FailsAndClearsToken(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	var seen *token.Context
	var during string
	f.w.Handle(repository.KindStrategy, func(_ context.Context, run *Run) error {
		seen = run.Token
		during, _ = run.Token.Token()
		panic("boom")
	})

	ack, err := f.disp.DispatchStrategy(ctx, f.p, f.proj.ID, StrategyInput{})
	require.NoError(t, err)
	events := f.subscribe(t, ack.Topic)

	require.NoError(t, f.w.Process(ctx, f.q.envs[0]))

	require.Equal(t, "cfi-token", during)
	require.False(t, seen.HasOverride())
	_, ok := seen.Token()
	require.False(t, ok)

	term := terminals(drain(events))
	require.Len(t, term, 1)
	require.Equal(t, pubsub.EventFailed, term[0].Type)
	require.Contains(t, term[0].Reason, "boom")
}

func TestSealedToken(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	sealer, err := secretbox.New([]byte("0123456789abcdef0123456789abcdef"))
	require.NoError(t, err)
	f.disp.d.Sealer = sealer
	f.w.cfg.Sealer = sealer

	var during string
	f.w.Handle(repository.KindStrategy, func(_ context.Context, run *Run) error {
		during, _ = run.Token.Token()
		return nil
	})

	_, err = f.disp.DispatchStrategy(ctx, f.p, f.proj.ID, StrategyInput{})
	require.NoError(t, err)
	require.NotContains(t, string(f.q.envs[0].Body), "cfi-token")

	require.NoError(t, f.w.Process(ctx, f.q.envs[0]))
	require.Equal(t, "cfi-token", during)
}

func TestStrategy_RequiresPersonas(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	ack, err := f.disp.DispatchStrategy(ctx, f.p, f.proj.ID, StrategyInput{})
	require.NoError(t, err)
	require.NoError(t, f.w.Process(ctx, f.q.envs[0]))

	task, _ := f.store.Tasks().Get(ctx, ack.TaskID)
	require.Equal(t, repository.TaskFailed, task.Status)
	require.Equal(t, ErrNoPersonas.Error(), task.Error)
}

func TestAssets_CrossProduct(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	ack, err := f.disp.DispatchAssets(ctx, f.p, f.proj.ID, AssetsInput{
		AssetTypes: []string{"post", "email", "post"},
		Channels:   []string{"instagram", "facebook"},
	})
	require.NoError(t, err)
	require.NoError(t, f.w.Process(ctx, f.q.envs[0]))

	task, _ := f.store.Tasks().Get(ctx, ack.TaskID)
	require.Equal(t, repository.TaskCompleted, task.Status)
	require.Equal(t, 4, task.TotalItems)

	assets, err := f.store.Projects().ListAssets(ctx, f.proj.ID)
	require.NoError(t, err)
	require.Len(t, assets, 4)
}

func TestDispatch_Validation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.disp.DispatchPersonas(ctx, f.p, f.proj.ID, PersonasInput{Count: 0})
	require.ErrorIs(t, err, repository.ErrInvalidInput)

	_, err = f.disp.DispatchPersonas(ctx, f.p, f.proj.ID, PersonasInput{Count: DefaultMaxPersonas + 1})
	require.ErrorIs(t, err, repository.ErrInvalidInput)

	other := f.p
	other.TenantID = 20
	_, err = f.disp.DispatchPersonas(ctx, other, f.proj.ID, PersonasInput{Count: 1})
	require.ErrorIs(t, err, repository.ErrNotFound)

	other.TenantID = 0
	_, err = f.disp.DispatchStrategy(ctx, other, f.proj.ID, StrategyInput{})
	require.ErrorIs(t, err, tenant.ErrNoTenant)

	_, err = f.disp.DispatchAssets(ctx, f.p, f.proj.ID, AssetsInput{AssetTypes: []string{" "}})
	require.ErrorIs(t, err, repository.ErrInvalidInput)

	require.Empty(t, f.q.envs)
}

func TestDispatch_EnqueueFailureMarksFailed(t *testing.T) {
	f := newFixture(t)
	f.q.err = errors.New("broker down")
	ctx := context.Background()

	_, err := f.disp.DispatchPersonas(ctx, f.p, f.proj.ID, PersonasInput{Count: 2})
	require.ErrorIs(t, err, ErrEnqueue)

	tasks, err := f.store.Tasks().ListByProject(ctx, f.proj.ID)
	require.NoError(t, err)
	require.Len(t, tasks, 1)
	require.Equal(t, repository.TaskFailed, tasks[0].Status)
}

func TestChat_StreamsChunksAndSavesReply(t *testing.T) {
	f := newFixture(t)
	f.llm.deltas = []string{"Les ", "ventes ", "montent."}
	ctx := context.Background()

	ack, err := f.disp.DispatchChat(ctx, f.p, ChatInput{ChatContext: "ventes", Question: "Comment vont les ventes ?"})
	require.NoError(t, err)
	require.NotEmpty(t, ack.ConversationID)
	require.NotEmpty(t, ack.MessageID)
	require.Equal(t, "conversations/"+ack.ConversationID, ack.Topic)

	events := f.subscribe(t, ack.Topic)
	require.NoError(t, f.w.Process(ctx, f.q.envs[0]))

	var chunks []string
	evs := drain(events)
	for _, ev := range evs {
		if ev.Type == pubsub.EventChunk {
			chunks = append(chunks, ev.Delta)
			require.Equal(t, ack.MessageID, ev.MessageID)
		}
	}
	require.Equal(t, f.llm.deltas, chunks)
	require.Len(t, terminals(evs), 1)

	msgs, err := f.store.Conversations().ListMessages(ctx, ack.ConversationID)
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	require.Equal(t, repository.RoleUser, msgs[0].Role)
	require.Equal(t, "Les ventes montent.", msgs[1].Content)
	require.Equal(t, repository.MessageComplete, msgs[1].Status)

	// otra pregunta en la misma conversación; otro usuario no puede usarla
	intruder := f.p
	intruder.UserID = 99
	_, err = f.disp.DispatchChat(ctx, intruder, ChatInput{ChatContext: "ventes", ConversationID: ack.ConversationID, Question: "?"})
	require.ErrorIs(t, err, repository.ErrNotFound)

	ack2, err := f.disp.DispatchChat(ctx, f.p, ChatInput{ChatContext: "ventes", ConversationID: ack.ConversationID, Question: "Et le stock ?"})
	require.NoError(t, err)
	require.Equal(t, ack.ConversationID, ack2.ConversationID)
}

func TestChatHistory_ExcludesCurrentTurn(t *testing.T) {
	msgs := []repository.Message{
		{ID: "1", Role: repository.RoleUser, Content: "q1", Status: repository.MessageComplete},
		{ID: "2", Role: repository.RoleAssistant, Content: "a1", Status: repository.MessageComplete},
		{ID: "3", Role: repository.RoleAssistant, Content: "", Status: repository.MessageError},
		{ID: "4", Role: repository.RoleUser, Content: "q2", Status: repository.MessageComplete},
		{ID: "5", Role: repository.RoleAssistant, Status: repository.MessageStreaming},
	}
	turns := chatHistory(msgs, "5", "q2")
	require.Equal(t, []ai.ChatTurn{{Content: "q1"}, {Assistant: true, Content: "a1"}}, turns)
}

func TestReaper_FailsStuckTasksOnce(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	ack, err := f.disp.DispatchPersonas(ctx, f.p, f.proj.ID, PersonasInput{Count: 1})
	require.NoError(t, err)
	ok, err := f.store.Tasks().Claim(ctx, ack.TaskID, time.Now().Add(-time.Hour))
	require.NoError(t, err)
	require.True(t, ok)

	events := f.subscribe(t, ack.Topic)
	r := NewReaper(f.store.Tasks(), f.store.Conversations(), f.hub, 30*time.Minute)

	n, err := r.Reap(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, n)

	n, err = r.Reap(ctx)
	require.NoError(t, err)
	require.Zero(t, n)

	term := terminals(drain(events))
	require.Len(t, term, 1)
	require.Equal(t, pubsub.EventFailed, term[0].Type)

	// el worker llega tarde: la tarea ya no está pending
	require.NoError(t, f.w.Process(ctx, f.q.envs[0]))
	require.Empty(t, drain(events))
}

func TestWorker_RunConsumesFromQueue(t *testing.T) {
	f := newFixture(t)
	q := queue.NewMemory(queue.MemoryOptions{})
	f.disp.d.Queue = q
	f.w.q = q

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- f.w.Run(ctx) }()

	ack, err := f.disp.DispatchPersonas(ctx, f.p, f.proj.ID, PersonasInput{Count: 2})
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		task, err := f.store.Tasks().Get(context.Background(), ack.TaskID)
		return err == nil && task.Status == repository.TaskCompleted
	}, 2*time.Second, 10*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("worker did not stop")
	}
}
