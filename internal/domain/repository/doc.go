// Package repository define los tipos de dominio persistidos y sus
// interfaces de repositorio.
//
// Las implementaciones viven en internal/store/pg (PostgreSQL vía pgxpool) e
// internal/store/memory (tests y desarrollo).
//
//	┌──────────────────────────────────────────────────────────┐
//	│      Controllers / Services / Worker de generación       │
//	└──────────────────────────────────────────────────────────┘
//	                           │
//	                           ▼
//	┌──────────────────────────────────────────────────────────┐
//	│            domain/repository (interfaces)                │
//	│  Users, Divisions, Access, Tasks, Conversations, Projects│
//	└──────────────────────────────────────────────────────────┘
//	                 │                       │
//	                 ▼                       ▼
//	        ┌─────────────────┐     ┌─────────────────┐
//	        │    store/pg     │     │  store/memory   │
//	        └─────────────────┘     └─────────────────┘
//
// Convenciones:
//   - Usuarios y divisiones usan los ids enteros de CFI (son espejos locales)
//   - Proyectos, tareas, conversaciones y mensajes usan UUID
//   - Context siempre es el primer parámetro
//   - Errores de dominio están en errors.go
package repository
