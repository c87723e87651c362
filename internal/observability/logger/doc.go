// Package logger expone un logger Zap singleton con scoping por contexto.
//
// Inicialización (una vez en cmd/cfihub):
//
//	logger.Init(logger.Config{Env: cfg.App.Env, Level: cfg.App.LogLevel, ServiceName: "cfihub"})
//	defer logger.Sync()
//
// En controllers, services y handlers de mensajes:
//
//	log := logger.From(ctx).With(logger.Component("cfi.stock"))
//	log.Warn("skipping malformed record", logger.TenantID(tenantID))
//
// Los middlewares HTTP inyectan un logger con request_id/method/path; el
// worker inyecta uno con task_id/kind por mensaje.
package logger
