package audit

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/dropDatabas3/cfihub/internal/observability/logger"
)

func TestMask(t *testing.T) {
	cases := map[string]string{
		"":              "",
		"ab":            "***",
		"JDupont":       "j…t",
		"jean@acme.fr":  "j…@a….fr",
		" x@y.com ":     "x@y.com",
		"@nouser.local": "@…l",
	}
	for in, want := range cases {
		require.Equal(t, want, Mask(in), in)
	}
}

func TestLog_UsesContextLogger(t *testing.T) {
	core, logs := observer.New(zapcore.InfoLevel)
	ctx := logger.ToContext(context.Background(), zap.New(core))

	Log(ctx, EventLogin, zap.Int("user_id", 7))

	require.Equal(t, 1, logs.Len())
	fields := logs.All()[0].ContextMap()
	require.Equal(t, "audit", fields["component"])
	require.Equal(t, EventLogin, fields["event"])
	require.EqualValues(t, 7, fields["user_id"])
}
