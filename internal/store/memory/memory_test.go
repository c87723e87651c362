package memory

import (
	"context"
	"testing"
	"time"

	"github.com/dropDatabas3/cfihub/internal/domain/repository"
	"github.com/stretchr/testify/require"
)

func TestTasks_ConditionalTransitions(t *testing.T) {
	ctx := context.Background()
	s := New()
	tasks := s.Tasks()
	now := time.Now()

	require.NoError(t, tasks.Create(ctx, &repository.GenerationTask{ID: "t1", Kind: repository.KindAssets}))
	require.ErrorIs(t, tasks.Create(ctx, &repository.GenerationTask{ID: "t1"}), repository.ErrConflict)

	// completar antes de reclamar no gana
	ok, err := tasks.Complete(ctx, "t1", repository.TaskUsage{}, now)
	require.NoError(t, err)
	require.False(t, ok)

	ok, err = tasks.Claim(ctx, "t1", now)
	require.NoError(t, err)
	require.True(t, ok)

	// redelivery: segundo claim pierde
	ok, err = tasks.Claim(ctx, "t1", now)
	require.NoError(t, err)
	require.False(t, ok)

	ok, err = tasks.Complete(ctx, "t1", repository.TaskUsage{PromptTokens: 10}, now)
	require.NoError(t, err)
	require.True(t, ok)

	// ya terminal: Fail no gana
	ok, err = tasks.Fail(ctx, "t1", "late", repository.TaskUsage{}, now)
	require.NoError(t, err)
	require.False(t, ok)

	got, err := tasks.Get(ctx, "t1")
	require.NoError(t, err)
	require.Equal(t, repository.TaskCompleted, got.Status)
	require.Equal(t, 10, got.PromptTokens)
	require.Empty(t, got.Error)
}

func TestTasks_FindStuck(t *testing.T) {
	ctx := context.Background()
	tasks := New().Tasks()
	base := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)

	for _, id := range []string{"old", "fresh", "pending"} {
		require.NoError(t, tasks.Create(ctx, &repository.GenerationTask{ID: id}))
	}
	_, _ = tasks.Claim(ctx, "old", base.Add(-time.Hour))
	_, _ = tasks.Claim(ctx, "fresh", base.Add(-time.Minute))

	stuck, err := tasks.FindStuck(ctx, base.Add(-30*time.Minute))
	require.NoError(t, err)
	require.Len(t, stuck, 1)
	require.Equal(t, "old", stuck[0].ID)
}

func TestAccess_ReplaceAndCheck(t *testing.T) {
	ctx := context.Background()
	s := New()
	require.NoError(t, s.Divisions().Upsert(ctx, repository.Division{ID: 10, Name: "Nord"}))
	require.NoError(t, s.Access().ReplaceUserDivisions(ctx, 1, []int{20, 10}))

	divs, err := s.Access().ListUserDivisions(ctx, 1)
	require.NoError(t, err)
	require.Len(t, divs, 2)
	require.Equal(t, 10, divs[0].ID)
	require.Equal(t, "Nord", divs[0].Name)

	require.NoError(t, s.Access().ReplaceUserDivisions(ctx, 1, []int{20}))
	ok, err := s.Access().HasAccess(ctx, 1, 10)
	require.NoError(t, err)
	require.False(t, ok)
}

func TestConversations_SoftDeleteAndOrdering(t *testing.T) {
	ctx := context.Background()
	conv := New().Conversations()
	require.NoError(t, conv.Create(ctx, &repository.Conversation{ID: "c1", UserID: 1, TenantID: 10, Context: "marketing"}))

	at := time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC)
	require.NoError(t, conv.AppendMessage(ctx, &repository.Message{ID: "b", ConversationID: "c1", Role: repository.RoleUser, CreatedAt: at}))
	require.NoError(t, conv.AppendMessage(ctx, &repository.Message{ID: "a", ConversationID: "c1", Role: repository.RoleAssistant, CreatedAt: at}))

	msgs, err := conv.ListMessages(ctx, "c1")
	require.NoError(t, err)
	require.Equal(t, "a", msgs[0].ID)
	require.Equal(t, "b", msgs[1].ID)

	require.NoError(t, conv.SoftDelete(ctx, "c1"))
	_, err = conv.Get(ctx, "c1")
	require.ErrorIs(t, err, repository.ErrNotFound)

	list, err := conv.List(ctx, 1, 10, "")
	require.NoError(t, err)
	require.Empty(t, list)
}
