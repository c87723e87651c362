package logger

import (
	"time"

	"go.uber.org/zap"
)

// ─── HTTP ───

func RequestID(v string) zap.Field       { return zap.String("request_id", v) }
func Method(v string) zap.Field          { return zap.String("method", v) }
func Path(v string) zap.Field            { return zap.String("path", v) }
func Status(v int) zap.Field             { return zap.Int("status", v) }
func Bytes(v int) zap.Field              { return zap.Int("bytes", v) }
func DurationMs(v int64) zap.Field       { return zap.Int64("duration_ms", v) }
func Duration(v time.Duration) zap.Field { return zap.Duration("duration", v) }
func ClientIP(v string) zap.Field        { return zap.String("client_ip", v) }

// ─── Negocio ───

// TenantID identifica la división activa.
func TenantID(v int) zap.Field { return zap.Int("tenant_id", v) }

// UserID identifica al usuario local (espejo del usuario CFI).
func UserID(v int) zap.Field { return zap.Int("user_id", v) }

func TaskID(v string) zap.Field         { return zap.String("task_id", v) }
func Kind(v string) zap.Field           { return zap.String("kind", v) }
func Topic(v string) zap.Field          { return zap.String("topic", v) }
func Resource(v string) zap.Field       { return zap.String("resource", v) }
func Endpoint(v string) zap.Field       { return zap.String("endpoint", v) }
func ConversationID(v string) zap.Field { return zap.String("conversation_id", v) }

// ─── Sistema ───

func Component(v string) zap.Field { return zap.String("component", v) }
func Op(v string) zap.Field        { return zap.String("op", v) }
func Layer(v string) zap.Field     { return zap.String("layer", v) }
func Err(err error) zap.Field      { return zap.Error(err) }

// ─── Genéricos ───

func Count(v int) zap.Field           { return zap.Int("count", v) }
func Key(v string) zap.Field          { return zap.String("key", v) }
func String(k, v string) zap.Field    { return zap.String(k, v) }
func Int(k string, v int) zap.Field   { return zap.Int(k, v) }
func Bool(k string, v bool) zap.Field { return zap.Bool(k, v) }
func Any(k string, v any) zap.Field   { return zap.Any(k, v) }
