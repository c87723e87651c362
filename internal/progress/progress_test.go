package progress

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/dropDatabas3/cfihub/internal/domain/repository"
	"github.com/dropDatabas3/cfihub/internal/pubsub"
)

func TestPercent_Floor(t *testing.T) {
	require.Equal(t, 0, Percent(0, 3))
	require.Equal(t, 33, Percent(1, 3))
	require.Equal(t, 66, Percent(2, 3))
	require.Equal(t, 100, Percent(3, 3))
	require.Equal(t, 100, Percent(5, 3))
	require.Equal(t, 0, Percent(1, 0))
}

func TestTracker_ReplayDoesNotDoubleCount(t *testing.T) {
	tr := NewTracker(3)

	n, pct, added := tr.Complete("a")
	require.True(t, added)
	require.Equal(t, 1, n)
	require.Equal(t, 33, pct)

	n, pct, added = tr.Complete("a")
	require.False(t, added)
	require.Equal(t, 1, n)
	require.Equal(t, 33, pct)

	_, pct, _ = tr.Complete("b")
	require.Equal(t, 66, pct)
}

func TestWatch_ReturnsOnTerminal(t *testing.T) {
	ch := make(chan pubsub.Event, 8)
	ch <- pubsub.Event{Type: pubsub.EventStarted}
	ch <- pubsub.Event{Type: pubsub.EventItemCompleted, ItemID: "p1", Total: 3}
	ch <- pubsub.Event{Type: pubsub.EventItemCompleted, ItemID: "p1", Total: 3}
	ch <- pubsub.Event{Type: pubsub.EventItemCompleted, ItemID: "p2", Total: 3}
	ch <- pubsub.Event{Type: pubsub.EventFailed, Reason: "model unavailable"}
	ch <- pubsub.Event{Type: pubsub.EventCompleted}

	var pcts []int
	ev, err := Watch(context.Background(), ch, Options{
		Window:   time.Second,
		OnUpdate: func(u Update) { pcts = append(pcts, u.Percent) },
	})
	require.NoError(t, err)
	require.Equal(t, pubsub.EventFailed, ev.Type)
	require.Equal(t, "model unavailable", ev.Reason)
	require.Equal(t, []int{0, 33, 33, 66, 66}, pcts)
	require.Len(t, ch, 1)
}

func TestWatch_StillRunningAfterWindow(t *testing.T) {
	ch := make(chan pubsub.Event)
	_, err := Watch(context.Background(), ch, Options{Window: 20 * time.Millisecond})
	require.ErrorIs(t, err, ErrStillRunning)
	require.Equal(t, "still processing in background, check back later", err.Error())
}

func TestWatch_ClosedStream(t *testing.T) {
	ch := make(chan pubsub.Event)
	close(ch)
	_, err := Watch(context.Background(), ch, Options{Window: time.Second})
	require.ErrorIs(t, err, ErrStreamClosed)
}

func TestWatch_TaskFinishedBeforeSubscribe(t *testing.T) {
	// la tarea terminó antes de abrir el stream: no llega ningún evento
	ch := make(chan pubsub.Event)
	var polls int32
	ev, err := Watch(context.Background(), ch, Options{
		TaskID: "t-1",
		Window: time.Second,
		Poll: func(context.Context) (repository.TaskStatus, error) {
			atomic.AddInt32(&polls, 1)
			return repository.TaskCompleted, nil
		},
		PollInterval: time.Hour,
	})
	require.NoError(t, err)
	require.Equal(t, pubsub.EventCompleted, ev.Type)
	require.Equal(t, "t-1", ev.TaskID)
	require.EqualValues(t, 1, atomic.LoadInt32(&polls))
}

func TestWatch_PollDetectsLostTerminalEvent(t *testing.T) {
	ch := make(chan pubsub.Event, 1)
	ch <- pubsub.Event{Type: pubsub.EventStarted, TaskID: "t-1"}

	var polls int32
	ev, err := Watch(context.Background(), ch, Options{
		TaskID: "t-1",
		Window: 5 * time.Second,
		Poll: func(context.Context) (repository.TaskStatus, error) {
			switch atomic.AddInt32(&polls, 1) {
			case 1:
				return repository.TaskProcessing, nil
			case 2:
				return "", errors.New("temporary")
			}
			return repository.TaskFailed, nil
		},
		PollInterval: 10 * time.Millisecond,
	})
	require.NoError(t, err)
	require.Equal(t, pubsub.EventFailed, ev.Type)
	require.GreaterOrEqual(t, atomic.LoadInt32(&polls), int32(3))
}

func TestWatch_IgnoresOtherTasksOnSameTopic(t *testing.T) {
	ch := make(chan pubsub.Event, 4)
	ch <- pubsub.Event{Type: pubsub.EventCompleted, TaskID: "older", ConversationID: "c-1"}
	ch <- pubsub.Event{Type: pubsub.EventChunk, TaskID: "t-2", ConversationID: "c-1", Delta: "hola"}
	ch <- pubsub.Event{Type: pubsub.EventCompleted, TaskID: "t-2", ConversationID: "c-1"}

	var seen []string
	ev, err := Watch(context.Background(), ch, Options{
		TaskID:   "t-2",
		Window:   time.Second,
		OnUpdate: func(u Update) { seen = append(seen, u.Event.TaskID) },
	})
	require.NoError(t, err)
	require.Equal(t, "t-2", ev.TaskID)
	require.Equal(t, []string{"t-2", "t-2"}, seen)
}
