package mq

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/shaiso/relay/internal/adapters"
)

// Sources выдаёт источники событий над relay.events.
// Реализует steps.EventSources.
type Sources struct {
	conn   *Connection
	logger *slog.Logger
}

// NewSources создаёт Sources.
func NewSources(conn *Connection, logger *slog.Logger) *Sources {
	return &Sources{conn: conn, logger: logger}
}

// Source возвращает источник событий для очереди queue, привязанной
// к relay.events ключом binding. Пустой queue — временная очередь,
// которая удаляется вместе с подпиской.
func (s *Sources) Source(queue, binding string) adapters.EventSource {
	return &QueueSource{
		conn:    s.conn,
		logger:  s.logger,
		queue:   queue,
		binding: binding,
	}
}

// QueueSource — adapters.EventSource над очередью RabbitMQ.
//
// Каждое сообщение становится событием: имя — Message.Type,
// значения — [Message.Payload].
type QueueSource struct {
	conn    *Connection
	logger  *slog.Logger
	queue   string
	binding string
}

// Subscribe начинает потребление на отдельном канале. Сообщения
// подтверждаются сразу при получении. Канал событий закрывается
// при отмене ctx или потере соединения.
func (s *QueueSource) Subscribe(ctx context.Context) (<-chan adapters.Event, error) {
	sub, err := subscription{
		queue:    s.queue,
		exchange: ExchangeEvents,
		binding:  s.binding,
		autoAck:  true,
	}.open(s.conn)
	if err != nil {
		return nil, err
	}

	logger := s.logger.With("queue", sub.queue, "binding", s.binding)
	logger.Debug("event subscription started")

	out := make(chan adapters.Event)
	go func() {
		defer close(out)
		defer sub.Close()

		for {
			var raw amqp.Delivery
			select {
			case <-ctx.Done():
				return
			case d, ok := <-sub.deliveries:
				if !ok {
					logger.Warn("event subscription interrupted")
					return
				}
				raw = d
			}

			ev, err := toEvent(raw)
			if err != nil {
				logger.Warn("skip malformed event", "error", err)
				continue
			}

			select {
			case out <- ev:
			case <-ctx.Done():
				return
			}
		}
	}()

	return out, nil
}

// toEvent превращает AMQP сообщение в событие.
// Тип берётся из тела сообщения, а если его нет — из свойства Type.
func toEvent(raw amqp.Delivery) (adapters.Event, error) {
	var msg Message
	if err := json.Unmarshal(raw.Body, &msg); err != nil {
		return adapters.Event{}, fmt.Errorf("unmarshal event: %w", err)
	}

	name := string(msg.Type)
	if name == "" {
		name = raw.Type
	}
	if name == "" {
		return adapters.Event{}, fmt.Errorf("event %s has no type", msg.ID)
	}

	return adapters.Event{Name: name, Values: []any{msg.Payload}}, nil
}
