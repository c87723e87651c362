// Package metrics define las métricas Prometheus del servicio. Vive en un
// paquete aparte para evitar ciclos entre http, cfi y generation.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	// HTTP
	HTTPRequestsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "http_requests_total",
		Help: "Número total de requests procesadas",
	}, []string{"method", "path", "status"})

	HTTPRequestDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "http_request_duration_seconds",
		Help:    "Latencia de los requests HTTP",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "path"})

	HTTPInflight = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "http_inflight_requests",
		Help: "Requests en vuelo por método y ruta",
	}, []string{"method", "path"})

	// API remota CFI
	CFIRequestDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "cfi_remote_request_duration_seconds",
		Help:    "Latencia de las llamadas a la API CFI",
		Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10, 15},
	}, []string{"endpoint"})

	CFIErrorsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "cfi_remote_errors_total",
		Help: "Errores de la API CFI por tipo (client|server|transport|decode)",
	}, []string{"endpoint", "kind"})

	// Cache read-through
	CacheRequestsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "cache_requests_total",
		Help: "Lecturas de cache por recurso y resultado (hit|miss)",
	}, []string{"resource", "result"})

	// Generación asíncrona
	GenerationTasksTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "generation_tasks_total",
		Help: "Tareas de generación por tipo y estado final",
	}, []string{"kind", "status"})

	GenerationDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "generation_duration_seconds",
		Help:    "Duración de las tareas de generación",
		Buckets: []float64{1, 5, 10, 30, 60, 120, 300, 600, 1200},
	}, []string{"kind"})

	AITokensTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "ai_tokens_total",
		Help: "Tokens consumidos por agente y tipo (prompt|completion)",
	}, []string{"agent", "type"})

	EventsPublishedTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "pubsub_events_published_total",
		Help: "Eventos publicados por tipo y resultado",
	}, []string{"type", "result"})
)

// Register registra todas las métricas en reg (o en el default si es nil),
// ignorando duplicados.
func Register(reg prometheus.Registerer) error {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	for _, c := range []prometheus.Collector{
		HTTPRequestsTotal, HTTPRequestDuration, HTTPInflight,
		CFIRequestDuration, CFIErrorsTotal,
		CacheRequestsTotal,
		GenerationTasksTotal, GenerationDuration, AITokensTotal,
		EventsPublishedTotal,
	} {
		if err := RegisterCollector(reg, c); err != nil {
			return err
		}
	}
	return nil
}

// RegisterCollector registra el collector en el registry indicado, ignorando duplicados.
func RegisterCollector(reg prometheus.Registerer, collector prometheus.Collector) error {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	if err := reg.Register(collector); err != nil {
		if _, ok := err.(prometheus.AlreadyRegisteredError); ok {
			return nil
		}
		return err
	}
	return nil
}
