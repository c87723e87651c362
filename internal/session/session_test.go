package session

import (
	"context"
	"testing"
	"time"

	"github.com/dropDatabas3/cfihub/internal/cache"
	"github.com/stretchr/testify/require"
)

func TestStore_SaveLoadRoundTrip(t *testing.T) {
	ctx := context.Background()
	st := NewStore(cache.NewMemory("t"), time.Hour)

	s, isNew, err := st.Load(ctx, "")
	require.NoError(t, err)
	require.True(t, isNew)
	require.NotEmpty(t, s.ID)

	s.Set("tenant.current", 20)
	require.NoError(t, st.Save(ctx, s))

	loaded, isNew, err := st.Load(ctx, s.ID)
	require.NoError(t, err)
	require.False(t, isNew)

	var tenant int
	require.True(t, loaded.Get("tenant.current", &tenant))
	require.Equal(t, 20, tenant)
}

func TestStore_UnknownIDStartsFresh(t *testing.T) {
	st := NewStore(cache.NewMemory(""), 0)
	s, isNew, err := st.Load(context.Background(), "does-not-exist")
	require.NoError(t, err)
	require.True(t, isNew)
	require.NotEqual(t, "does-not-exist", s.ID)
}

func TestStore_DestroyDeletes(t *testing.T) {
	ctx := context.Background()
	c := cache.NewMemory("")
	st := NewStore(c, time.Hour)

	s, _ := st.New()
	s.Set("k", "v")
	require.NoError(t, st.Save(ctx, s))

	s.Destroy()
	require.True(t, s.Destroyed())
	require.NoError(t, st.Save(ctx, s))

	_, isNew, err := st.Load(ctx, s.ID)
	require.NoError(t, err)
	require.True(t, isNew)
}

func TestSession_GetMissingOrWrongType(t *testing.T) {
	s := NewDetached()
	var n int
	require.False(t, s.Get("missing", &n))

	s.Set("str", "hola")
	require.False(t, s.Get("str", &n))

	s.Delete("str")
	var str string
	require.False(t, s.Get("str", &str))
}

func TestStore_RotateMovesValuesToNewID(t *testing.T) {
	ctx := context.Background()
	st := NewStore(cache.NewMemory("t"), time.Hour)

	s, _, err := st.Load(ctx, "")
	require.NoError(t, err)
	s.Set("k", "v")
	require.NoError(t, st.Save(ctx, s))
	old := s.ID

	require.NoError(t, st.Rotate(ctx, s))
	require.NotEqual(t, old, s.ID)
	require.NoError(t, st.Save(ctx, s))

	// el id anterior ya no resuelve la sesión
	stale, isNew, err := st.Load(ctx, old)
	require.NoError(t, err)
	require.True(t, isNew)
	require.True(t, stale.Empty())

	cur, isNew, err := st.Load(ctx, s.ID)
	require.NoError(t, err)
	require.False(t, isNew)
	var v string
	require.True(t, cur.Get("k", &v))
	require.Equal(t, "v", v)
}
