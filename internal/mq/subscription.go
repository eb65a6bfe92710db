package mq

import (
	"fmt"

	amqp "github.com/rabbitmq/amqp091-go"
)

// subscription описывает канал потребления одной очереди.
//
// Очередь с привязкой объявляется при открытии. Очереди без привязки
// (runs.pending) объявляет SetupTopology.
type subscription struct {
	// queue — имя очереди. "" — временная очередь с именем от сервера,
	// которая удаляется вместе с каналом.
	queue string

	exchange Exchange
	binding  string

	// prefetch — лимит неподтверждённых сообщений на канал. 0 — без лимита.
	prefetch int
	autoAck  bool
}

func (s subscription) temporary() bool {
	return s.queue == ""
}

// consumer — открытый канал потребления.
type consumer struct {
	ch         *amqp.Channel
	queue      string
	deliveries <-chan amqp.Delivery
}

func (c *consumer) Close() error {
	return c.ch.Close()
}

// open открывает отдельный канал и начинает потребление.
func (s subscription) open(conn *Connection) (*consumer, error) {
	ch, err := conn.OpenChannel()
	if err != nil {
		return nil, err
	}

	c, err := s.start(ch)
	if err != nil {
		ch.Close()
		return nil, err
	}
	return c, nil
}

func (s subscription) start(ch *amqp.Channel) (*consumer, error) {
	if s.prefetch > 0 {
		if err := ch.Qos(s.prefetch, 0, false); err != nil {
			return nil, fmt.Errorf("set qos: %w", err)
		}
	}

	name := s.queue
	if s.binding != "" || s.temporary() {
		q, err := ch.QueueDeclare(
			s.queue,
			!s.temporary(), // durable
			s.temporary(),  // delete when unused
			s.temporary(),  // exclusive
			false,          // no-wait
			nil,
		)
		if err != nil {
			return nil, fmt.Errorf("declare queue %q: %w", s.queue, err)
		}
		name = q.Name

		if err := ch.QueueBind(name, s.binding, string(s.exchange), false, nil); err != nil {
			return nil, fmt.Errorf("bind queue %s to %s: %w", name, s.exchange, err)
		}
	}

	deliveries, err := ch.Consume(
		name,
		"", // consumer tag от сервера
		s.autoAck,
		s.temporary(), // exclusive
		false,         // no-local
		false,         // no-wait
		nil,
	)
	if err != nil {
		return nil, fmt.Errorf("consume %s: %w", name, err)
	}

	return &consumer{ch: ch, queue: name, deliveries: deliveries}, nil
}
