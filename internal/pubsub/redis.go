package pubsub

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/redis/go-redis/v9"

	"github.com/dropDatabas3/cfihub/internal/metrics"
	"github.com/dropDatabas3/cfihub/internal/observability/logger"
)

// RedisHub es un Hub sobre PUBLISH/SUBSCRIBE de Redis: los workers publican
// y cualquier nodo HTTP reenvía a sus clientes SSE.
type RedisHub struct {
	rdb    *redis.Client
	prefix string
}

// NewRedisHub crea un hub. prefix se antepone a cada topic (default "cfihub:events:").
func NewRedisHub(rdb *redis.Client, prefix string) *RedisHub {
	if prefix == "" {
		prefix = "cfihub:events:"
	}
	return &RedisHub{rdb: rdb, prefix: prefix}
}

func (h *RedisHub) channel(topic string) string { return h.prefix + topic }

func (h *RedisHub) Publish(ctx context.Context, topic string, ev Event) error {
	ev = stamp(topic, ev)
	b, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("pubsub: encode event: %w", err)
	}
	if err := h.rdb.Publish(ctx, h.channel(topic), b).Err(); err != nil {
		metrics.EventsPublishedTotal.WithLabelValues(string(ev.Type), "error").Inc()
		return fmt.Errorf("pubsub: publish %s: %w", topic, err)
	}
	metrics.EventsPublishedTotal.WithLabelValues(string(ev.Type), "ok").Inc()
	return nil
}

func (h *RedisHub) Subscribe(ctx context.Context, topic string) (<-chan Event, func(), error) {
	sub := h.rdb.Subscribe(ctx, h.channel(topic))
	// Receive confirma la suscripción antes de devolver
	if _, err := sub.Receive(ctx); err != nil {
		_ = sub.Close()
		return nil, nil, fmt.Errorf("pubsub: subscribe %s: %w", topic, err)
	}

	out := make(chan Event, subscriberBuffer)
	ctx, cancelCtx := context.WithCancel(ctx)
	var once sync.Once
	cancel := func() {
		once.Do(func() {
			cancelCtx()
			_ = sub.Close()
		})
	}

	go func() {
		defer close(out)
		defer cancel()
		log := logger.From(ctx).With(logger.Component("pubsub.redis"), logger.Topic(topic))
		msgs := sub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case m, ok := <-msgs:
				if !ok {
					return
				}
				var ev Event
				if err := json.Unmarshal([]byte(m.Payload), &ev); err != nil {
					log.Warn("dropping undecodable event", logger.Err(err))
					continue
				}
				select {
				case out <- ev:
				default:
				}
			}
		}
	}()
	return out, cancel, nil
}

func (h *RedisHub) Close() error { return nil }
