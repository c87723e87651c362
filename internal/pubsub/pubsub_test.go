package pubsub

import (
	"bytes"
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestMemoryHub_DeliversPerTopic(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	h := NewMemoryHub()

	a, stopA, err := h.Subscribe(ctx, TaskTopic("a"))
	require.NoError(t, err)
	defer stopA()
	b, stopB, err := h.Subscribe(ctx, TaskTopic("b"))
	require.NoError(t, err)
	defer stopB()

	require.NoError(t, h.Publish(ctx, TaskTopic("a"), Event{Type: EventProgress, Percent: 33}))

	select {
	case ev := <-a:
		require.Equal(t, EventProgress, ev.Type)
		require.Equal(t, "tasks/a", ev.Topic)
		require.Equal(t, 33, ev.Percent)
		require.False(t, ev.At.IsZero())
	case <-time.After(time.Second):
		t.Fatal("event not delivered")
	}

	select {
	case ev := <-b:
		t.Fatalf("unexpected event on other topic: %+v", ev)
	default:
	}
}

func TestMemoryHub_CancelClosesChannel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	h := NewMemoryHub()

	ch, _, err := h.Subscribe(ctx, "tasks/x")
	require.NoError(t, err)
	cancel()

	select {
	case _, ok := <-ch:
		require.False(t, ok)
	case <-time.After(time.Second):
		t.Fatal("channel not closed after ctx cancel")
	}

	// publicar sin suscriptores no falla (fire-and-forget)
	require.NoError(t, h.Publish(context.Background(), "tasks/x", Event{Type: EventCompleted}))

	require.NoError(t, h.Close())
	require.ErrorIs(t, h.Publish(context.Background(), "tasks/x", Event{}), ErrClosed)
}

func TestSSE_RoundTrip(t *testing.T) {
	var buf bytes.Buffer
	buf.WriteString(": ping\n\n")
	require.NoError(t, WriteSSE(&buf, Event{Type: EventItemCompleted, ItemID: "asset-1", Completed: 1, Total: 3, Percent: 33}))
	require.NoError(t, WriteSSE(&buf, Event{Type: EventCompleted, TaskID: "t1"}))
	require.NoError(t, WriteSSE(&buf, Event{Type: EventProgress}))

	var got []Event
	require.NoError(t, ReadSSE(&buf, func(ev Event) bool {
		got = append(got, ev)
		return !ev.Type.Terminal()
	}))
	require.Len(t, got, 2)
	require.Equal(t, "asset-1", got[0].ItemID)
	require.Equal(t, EventCompleted, got[1].Type)
}

func TestTokenIssuer_TopicsAndExpiry(t *testing.T) {
	iss := NewTokenIssuer([]byte("0123456789abcdef0123456789abcdef"), time.Minute)
	now := time.Unix(1_700_000_000, 0)
	iss.now = func() time.Time { return now }

	raw, err := iss.Issue("7", TaskTopic("t1"))
	require.NoError(t, err)

	claims, err := iss.Authorize(raw, "tasks/t1")
	require.NoError(t, err)
	require.Equal(t, "7", claims.Subject)

	_, err = iss.Authorize(raw, "tasks/other")
	require.ErrorIs(t, err, ErrTopicNotAllowed)

	other := NewTokenIssuer([]byte("another-secret-another-secret-xx"), time.Minute)
	other.now = iss.now
	_, err = other.Verify(raw)
	require.ErrorIs(t, err, ErrInvalidSubscriberToken)

	now = now.Add(2 * time.Minute)
	_, err = iss.Verify(raw)
	require.ErrorIs(t, err, ErrInvalidSubscriberToken)
}
