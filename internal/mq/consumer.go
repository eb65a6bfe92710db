package mq

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
)

// ErrConnectionClosed — Connection закрыт, потребление невозможно.
var ErrConnectionClosed = errors.New("amqp connection closed")

var errDeliveriesClosed = errors.New("deliveries channel closed")

// Handler обрабатывает доставленное сообщение.
// Ошибка — nack: первая неудача возвращает сообщение в очередь,
// повторная отправляет его в DLQ.
type Handler func(ctx context.Context, d *Delivery) error

// Delivery — доставленное сообщение.
type Delivery struct {
	Message Message

	// Redelivered — сообщение уже доставлялось и не было подтверждено.
	Redelivered bool
}

// ConsumerConfig — конфигурация Consumer.
type ConsumerConfig struct {
	// Queue — имя очереди, объявленной SetupTopology.
	Queue string

	Handler Handler

	// Prefetch — сколько сообщений обрабатывается без подтверждения (default: 1).
	Prefetch int
}

// Consumer потребляет очередь с ручным подтверждением и
// возобновляет потребление после переподключения.
type Consumer struct {
	conn    *Connection
	sub     subscription
	handler Handler
	logger  *slog.Logger

	mu     sync.Mutex
	cancel context.CancelFunc
}

// NewConsumer создаёт Consumer.
func NewConsumer(conn *Connection, logger *slog.Logger, cfg ConsumerConfig) *Consumer {
	return &Consumer{
		conn: conn,
		sub: subscription{
			queue:    cfg.Queue,
			prefetch: max(cfg.Prefetch, 1),
		},
		handler: cfg.Handler,
		logger:  logger.With("queue", cfg.Queue),
	}
}

// Start потребляет сообщения до отмены ctx, вызова Stop или Close
// соединения. Всегда возвращает ненулевую ошибку.
func (c *Consumer) Start(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	c.mu.Lock()
	c.cancel = cancel
	c.mu.Unlock()
	defer cancel()

	for {
		err := c.session(ctx)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		c.logger.Warn("consumer interrupted", "error", err)

		if err := c.awaitConnection(ctx); err != nil {
			return err
		}
	}
}

// Stop останавливает Start.
func (c *Consumer) Stop() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.cancel != nil {
		c.cancel()
	}
}

// session потребляет сообщения на одном канале до его закрытия.
func (c *Consumer) session(ctx context.Context) error {
	sub, err := c.sub.open(c.conn)
	if err != nil {
		return err
	}
	defer sub.Close()

	c.logger.Info("consumer started")

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case raw, ok := <-sub.deliveries:
			if !ok {
				return errDeliveriesClosed
			}
			if err := settle(raw, c.handle(ctx, raw)); err != nil {
				c.logger.Warn("failed to settle delivery", "error", err)
			}
		}
	}
}

// awaitConnection выдерживает паузу и ждёт установленного соединения.
func (c *Consumer) awaitConnection(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-c.conn.Done():
		return ErrConnectionClosed
	case <-time.After(reconnectMinDelay):
	}

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-c.conn.Done():
		return ErrConnectionClosed
	case <-c.conn.Ready():
		return nil
	}
}

// outcome — судьба обработанного сообщения.
type outcome int

const (
	outcomeAck outcome = iota
	outcomeRequeue
	outcomeReject
)

func (c *Consumer) handle(ctx context.Context, raw amqp.Delivery) outcome {
	var msg Message
	if err := json.Unmarshal(raw.Body, &msg); err != nil {
		c.logger.Error("malformed message", "error", err, "body", string(raw.Body))
		return outcomeReject
	}

	logger := c.logger.With("message_id", msg.ID, "type", msg.Type)
	logger.Debug("received message")

	err := c.handler(ctx, &Delivery{Message: msg, Redelivered: raw.Redelivered})
	if err == nil {
		return outcomeAck
	}

	logger.Error("handler failed", "error", err, "redelivered", raw.Redelivered)
	if raw.Redelivered {
		return outcomeReject
	}
	return outcomeRequeue
}

func settle(raw amqp.Delivery, o outcome) error {
	switch o {
	case outcomeAck:
		return raw.Ack(false)
	case outcomeRequeue:
		return raw.Nack(false, true)
	default:
		// Без requeue сообщение уходит в dead letter exchange очереди
		return raw.Nack(false, false)
	}
}

// ParsePayload декодирует payload сообщения в T.
func ParsePayload[T any](msg *Message) (T, error) {
	var out T

	raw, ok := msg.Payload.(json.RawMessage)
	if !ok {
		var err error
		if raw, err = json.Marshal(msg.Payload); err != nil {
			return out, fmt.Errorf("marshal payload: %w", err)
		}
	}

	if err := json.Unmarshal(raw, &out); err != nil {
		return out, fmt.Errorf("decode %s payload: %w", msg.Type, err)
	}
	return out, nil
}
