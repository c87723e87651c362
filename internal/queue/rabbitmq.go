package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"

	"github.com/dropDatabas3/cfihub/internal/observability/logger"
)

// RabbitConfig configura el driver AMQP.
type RabbitConfig struct {
	URL      string
	Queue    string // default "cfihub.generation"
	DLQ      string // default Queue + ".dlq"
	Prefetch int    // default 1

	MaxAttempts       int           // entregas antes de mandar al DLQ (default 3)
	ConfirmTimeout    time.Duration // default 10s
	ReconnectInterval time.Duration // default 5s
	MaxRetries        int           // reintentos de Dial (default 3)
}

func (c *RabbitConfig) defaults() {
	if c.Queue == "" {
		c.Queue = "cfihub.generation"
	}
	if c.DLQ == "" {
		c.DLQ = c.Queue + ".dlq"
	}
	if c.Prefetch <= 0 {
		c.Prefetch = 1
	}
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = 3
	}
	if c.ConfirmTimeout <= 0 {
		c.ConfirmTimeout = 10 * time.Second
	}
	if c.ReconnectInterval <= 0 {
		c.ReconnectInterval = 5 * time.Second
	}
	if c.MaxRetries < 0 {
		c.MaxRetries = 0
	}
}

const attemptHeader = "x-cfihub-attempt"

// Rabbit publica con confirmaciones y consume con ack manual. Los mensajes
// rechazados tras MaxAttempts terminan en el DLQ vía dead-letter.
type Rabbit struct {
	cfg  RabbitConfig
	conn *amqp.Connection

	pubMu sync.Mutex
	pub   publisher
}

// confirmation es la confirmación de una publicación, atada a su delivery tag.
type confirmation interface {
	WaitContext(ctx context.Context) (bool, error)
}

type publisher interface {
	publish(ctx context.Context, queue string, msg amqp.Publishing) (confirmation, error)
	Close() error
}

// channelPublisher publica sobre un canal en confirm mode.
type channelPublisher struct{ ch *amqp.Channel }

func (p channelPublisher) publish(ctx context.Context, queue string, msg amqp.Publishing) (confirmation, error) {
	dc, err := p.ch.PublishWithDeferredConfirmWithContext(ctx, "", queue, false, false, msg)
	if err != nil {
		return nil, err
	}
	if dc == nil {
		return nil, errors.New("queue: publish channel not in confirm mode")
	}
	return dc, nil
}

func (p channelPublisher) Close() error { return p.ch.Close() }

// DialRabbit conecta (con reintentos), declara cola + DLQ y deja un canal
// de publicación en confirm mode.
func DialRabbit(ctx context.Context, cfg RabbitConfig) (*Rabbit, error) {
	cfg.defaults()

	var (
		conn    *amqp.Connection
		lastErr error
	)
	for i := 0; i <= cfg.MaxRetries; i++ {
		conn, lastErr = amqp.Dial(cfg.URL)
		if lastErr == nil {
			break
		}
		if i < cfg.MaxRetries {
			select {
			case <-time.After(cfg.ReconnectInterval):
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}
	}
	if lastErr != nil {
		return nil, fmt.Errorf("queue: connect rabbitmq after %d retries: %w", cfg.MaxRetries, lastErr)
	}

	r := &Rabbit{cfg: cfg, conn: conn}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("queue: open channel: %w", err)
	}
	if err := r.declare(ch); err != nil {
		_ = ch.Close()
		_ = conn.Close()
		return nil, err
	}
	if err := ch.Confirm(false); err != nil {
		_ = ch.Close()
		_ = conn.Close()
		return nil, fmt.Errorf("queue: enable confirm mode: %w", err)
	}
	r.pub = channelPublisher{ch: ch}
	return r, nil
}

func (r *Rabbit) declare(ch *amqp.Channel) error {
	if _, err := ch.QueueDeclare(r.cfg.DLQ, true, false, false, false, nil); err != nil {
		return fmt.Errorf("queue: declare DLQ %s: %w", r.cfg.DLQ, err)
	}
	args := amqp.Table{
		"x-dead-letter-exchange":    "",
		"x-dead-letter-routing-key": r.cfg.DLQ,
	}
	if _, err := ch.QueueDeclare(r.cfg.Queue, true, false, false, false, args); err != nil {
		return fmt.Errorf("queue: declare %s: %w", r.cfg.Queue, err)
	}
	return nil
}

func (r *Rabbit) Publish(ctx context.Context, env Envelope) error {
	return r.publish(ctx, env, 0)
}

func (r *Rabbit) publish(ctx context.Context, env Envelope, attempt int) error {
	body, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("queue: encode envelope: %w", err)
	}
	msg := amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		MessageId:    env.ID,
		Type:         env.Kind,
		Timestamp:    time.Now(),
		Body:         body,
		Headers:      amqp.Table{attemptHeader: int32(attempt)},
	}

	r.pubMu.Lock()
	if r.pub == nil {
		r.pubMu.Unlock()
		return ErrClosed
	}
	conf, err := r.pub.publish(ctx, r.cfg.Queue, msg)
	r.pubMu.Unlock()
	if err != nil {
		return fmt.Errorf("queue: publish: %w", err)
	}

	wctx, cancel := context.WithTimeout(ctx, r.cfg.ConfirmTimeout)
	defer cancel()
	ack, err := conf.WaitContext(wctx)
	switch {
	case err != nil && ctx.Err() != nil:
		return fmt.Errorf("queue: waiting for confirmation: %w", ctx.Err())
	case err != nil:
		return errors.New("queue: timeout waiting for confirmation")
	case !ack:
		return errors.New("queue: message rejected by broker")
	}
	return nil
}

// Consume abre un canal propio con prefetch y procesa hasta que ctx termine.
func (r *Rabbit) Consume(ctx context.Context, h Handler) error {
	log := logger.From(ctx).With(logger.Component("queue.rabbitmq"))

	ch, err := r.conn.Channel()
	if err != nil {
		return fmt.Errorf("queue: open consumer channel: %w", err)
	}
	defer ch.Close()
	if err := ch.Qos(r.cfg.Prefetch, 0, false); err != nil {
		return fmt.Errorf("queue: set QoS: %w", err)
	}

	msgs, err := ch.ConsumeWithContext(ctx, r.cfg.Queue, "", false, false, false, false, nil)
	if err != nil {
		return fmt.Errorf("queue: register consumer: %w", err)
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case d, ok := <-msgs:
			if !ok {
				return errors.New("queue: consumer channel closed")
			}
			r.handle(ctx, log, d, h)
		}
	}
}

func (r *Rabbit) handle(ctx context.Context, log *zap.Logger, d amqp.Delivery, h Handler) {
	var env Envelope
	if err := json.Unmarshal(d.Body, &env); err != nil {
		log.Error("undecodable delivery sent to DLQ", logger.Err(err))
		_ = d.Nack(false, false)
		return
	}
	env.Attempt = deliveryAttempt(d) + 1

	herr := h(ctx, env)
	if herr == nil {
		if err := d.Ack(false); err != nil {
			log.Warn("ack failed", logger.TaskID(env.ID), logger.Err(err))
		}
		return
	}

	if env.Attempt >= r.cfg.MaxAttempts {
		log.Error("envelope exhausted retries, sent to DLQ",
			logger.TaskID(env.ID), logger.Kind(env.Kind), logger.Err(herr))
		_ = d.Nack(false, false)
		return
	}

	// Republicar con el contador incrementado y confirmar la entrega original.
	if err := r.publish(ctx, env, env.Attempt); err != nil {
		log.Warn("requeue failed, nacking", logger.TaskID(env.ID), logger.Err(err))
		_ = d.Nack(false, true)
		return
	}
	_ = d.Ack(false)
}

func deliveryAttempt(d amqp.Delivery) int {
	switch v := d.Headers[attemptHeader].(type) {
	case int32:
		return int(v)
	case int64:
		return int(v)
	case int:
		return v
	}
	return 0
}

func (r *Rabbit) Close() error {
	r.pubMu.Lock()
	if r.pub != nil {
		_ = r.pub.Close()
		r.pub = nil
	}
	r.pubMu.Unlock()
	if r.conn != nil {
		return r.conn.Close()
	}
	return nil
}
