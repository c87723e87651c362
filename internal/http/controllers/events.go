package controllers

import (
	"fmt"
	"net/http"
	"strings"
	"time"

	httperrors "github.com/dropDatabas3/cfihub/internal/http/errors"
	"github.com/dropDatabas3/cfihub/internal/observability/logger"
	"github.com/dropDatabas3/cfihub/internal/pubsub"
)

const defaultPingInterval = 15 * time.Second

// EventsController retransmite un topic del hub como text/event-stream. El
// acceso se autoriza con el token de suscripción emitido al encolar, no con
// la sesión.
type EventsController struct {
	hub    pubsub.Hub
	issuer *pubsub.TokenIssuer
	ping   time.Duration
}

func NewEventsController(hub pubsub.Hub, issuer *pubsub.TokenIssuer, ping time.Duration) *EventsController {
	if ping <= 0 {
		ping = defaultPingInterval
	}
	return &EventsController{hub: hub, issuer: issuer, ping: ping}
}

// Stream maneja GET /events?topic=...&token=... (el token también se acepta
// como "Authorization: Bearer").
func (c *EventsController) Stream(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	log := logger.From(ctx).With(logger.Layer("controller"), logger.Op("EventsController.Stream"))

	topic := strings.TrimSpace(r.URL.Query().Get("topic"))
	if topic == "" {
		httperrors.WriteError(w, httperrors.ErrBadRequest.WithDetail("topic is required"))
		return
	}
	if c.issuer == nil {
		httperrors.WriteError(w, httperrors.ErrServiceUnavailable.WithDetail("subscriptions are disabled"))
		return
	}
	raw := r.URL.Query().Get("token")
	if raw == "" {
		raw = strings.TrimSpace(strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer "))
	}
	claims, err := c.issuer.Authorize(raw, topic)
	if err != nil {
		fail(w, log, err)
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		fail(w, log, fmt.Errorf("response writer does not support flushing"))
		return
	}

	events, cancel, err := c.hub.Subscribe(ctx, topic)
	if err != nil {
		fail(w, log, err)
		return
	}
	defer cancel()

	log = log.With(logger.Topic(topic), logger.String("subscriber", claims.Subject))
	log.Debug("sse subscriber connected")

	h := w.Header()
	h.Set("Content-Type", "text/event-stream")
	h.Set("Cache-Control", "no-cache")
	h.Set("Connection", "keep-alive")
	h.Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	_, _ = fmt.Fprint(w, ": connected\n\n")
	flusher.Flush()

	ticker := time.NewTicker(c.ping)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Debug("sse subscriber disconnected")
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			if err := pubsub.WriteSSE(w, ev); err != nil {
				log.Debug("sse write failed", logger.Err(err))
				return
			}
			flusher.Flush()
		case <-ticker.C:
			if _, err := fmt.Fprint(w, ": ping\n\n"); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}
