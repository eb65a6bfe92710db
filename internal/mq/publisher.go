package mq

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"
)

// MessageType — тип сообщения в очереди.
type MessageType string

// Типы сообщений.
const (
	MessageTypeRunPending  MessageType = "run.pending"
	MessageTypeRunFinished MessageType = "run.finished"
)

// Publisher публикует сообщения в RabbitMQ.
type Publisher struct {
	conn   *Connection
	logger *slog.Logger
}

// NewPublisher создаёт новый Publisher.
func NewPublisher(conn *Connection, logger *slog.Logger) *Publisher {
	return &Publisher{
		conn:   conn,
		logger: logger,
	}
}

// Message — сообщение для публикации.
type Message struct {
	// ID — уникальный идентификатор сообщения.
	ID string `json:"id"`

	// Type — тип сообщения. Для событий flow — имя события.
	Type MessageType `json:"type"`

	// Payload — полезная нагрузка.
	Payload any `json:"payload"`

	// Timestamp — время создания.
	Timestamp time.Time `json:"timestamp"`
}

// NewMessage создаёт сообщение с новым ID.
func NewMessage(msgType MessageType, payload any) *Message {
	return &Message{
		ID:        uuid.New().String(),
		Type:      msgType,
		Payload:   payload,
		Timestamp: time.Now(),
	}
}

// RunPendingPayload — payload для сообщения о новом run.
type RunPendingPayload struct {
	RunID uuid.UUID `json:"run_id"`
}

// RunFinishedPayload — payload для сообщения о завершённом run.
type RunFinishedPayload struct {
	RunID    uuid.UUID `json:"run_id"`
	FlowID   uuid.UUID `json:"flow_id"`
	Status   string    `json:"status"`
	Terminal string    `json:"terminal,omitempty"`
	Error    string    `json:"error,omitempty"`
}

// appID — отправитель в свойствах AMQP сообщения.
const appID = "relay"

// encode собирает AMQP сообщение. Тело — JSON всего Message,
// ID и тип дублируются в свойствах для management UI и фильтров.
func (m *Message) encode() (amqp.Publishing, error) {
	body, err := json.Marshal(m)
	if err != nil {
		return amqp.Publishing{}, fmt.Errorf("marshal message %s: %w", m.Type, err)
	}

	return amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		MessageId:    m.ID,
		Type:         string(m.Type),
		AppId:        appID,
		Timestamp:    m.Timestamp,
		Body:         body,
	}, nil
}

// Publish публикует msg в exchange. Без соединения возвращает ErrNoChannel.
func (p *Publisher) Publish(ctx context.Context, exchange Exchange, routingKey RoutingKey, msg *Message) error {
	pub, err := msg.encode()
	if err != nil {
		return err
	}

	err = p.conn.WithChannel(ctx, func(ch *amqp.Channel) error {
		return ch.PublishWithContext(ctx, string(exchange), string(routingKey), false, false, pub)
	})
	if err != nil {
		return fmt.Errorf("publish %s to %s/%s: %w", msg.Type, exchange, routingKey, err)
	}

	p.logger.Debug("published message",
		"exchange", exchange,
		"routing_key", routingKey,
		"message_id", msg.ID,
		"type", msg.Type,
	)
	return nil
}

// PublishRunPending публикует событие о новом run, ожидающем выполнения.
// Потребитель: Orchestrator.
func (p *Publisher) PublishRunPending(ctx context.Context, runID uuid.UUID) error {
	msg := NewMessage(MessageTypeRunPending, RunPendingPayload{RunID: runID})
	return p.Publish(ctx, ExchangeRuns, RoutingKeyPending, msg)
}

// PublishRunFinished публикует событие о завершённом run.
func (p *Publisher) PublishRunFinished(ctx context.Context, payload RunFinishedPayload) error {
	msg := NewMessage(MessageTypeRunFinished, payload)
	return p.Publish(ctx, ExchangeRuns, RoutingKeyFinished, msg)
}

// PublishEvent публикует событие flow в relay.events и возвращает ID сообщения.
// Используется шагом publish.
func (p *Publisher) PublishEvent(ctx context.Context, routingKey, msgType string, payload any) (string, error) {
	msg := NewMessage(MessageType(msgType), payload)
	if err := p.Publish(ctx, ExchangeEvents, RoutingKey(routingKey), msg); err != nil {
		return "", err
	}
	return msg.ID, nil
}
