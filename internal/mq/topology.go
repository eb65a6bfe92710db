package mq

import (
	"context"
	"fmt"

	amqp "github.com/rabbitmq/amqp091-go"
)

// Exchange — имя обменника.
type Exchange string

// Queue — имя очереди.
type Queue string

// RoutingKey — ключ маршрутизации.
type RoutingKey string

// Обменники.
const (
	ExchangeRuns   Exchange = "relay.runs"
	ExchangeEvents Exchange = "relay.events"
	ExchangeDLQ    Exchange = "relay.dlq"
)

// Очереди.
const (
	QueueRunsPending  Queue = "runs.pending"
	QueueRunsFinished Queue = "runs.finished"
	QueueDLQRuns      Queue = "dlq.runs"
)

// Ключи маршрутизации.
const (
	RoutingKeyPending  RoutingKey = "pending"
	RoutingKeyFinished RoutingKey = "finished"
	RoutingKeyDLQRuns  RoutingKey = "runs"
)

type exchangeDecl struct {
	name Exchange
	kind string
}

type queueDecl struct {
	name Queue
	args amqp.Table
}

type bindingDecl struct {
	queue    Queue
	exchange Exchange
	key      RoutingKey
}

// topology — постоянные объекты брокера.
//
//	relay.runs (direct)
//	  runs.pending  [pending]   → Orchestrator, после второй неудачи → relay.dlq
//	  runs.finished [finished]  → внешние подписчики
//	relay.events (topic)
//	  очереди шага await         ← шаг publish
//	relay.dlq (direct)
//	  dlq.runs      [runs]      → ручной разбор
var topology = struct {
	exchanges []exchangeDecl
	queues    []queueDecl
	bindings  []bindingDecl
}{
	exchanges: []exchangeDecl{
		{ExchangeRuns, amqp.ExchangeDirect},
		{ExchangeEvents, amqp.ExchangeTopic},
		{ExchangeDLQ, amqp.ExchangeDirect},
	},
	queues: []queueDecl{
		{QueueRunsPending, amqp.Table{
			"x-dead-letter-exchange":    string(ExchangeDLQ),
			"x-dead-letter-routing-key": string(RoutingKeyDLQRuns),
		}},
		{QueueRunsFinished, nil},
		{QueueDLQRuns, nil},
	},
	bindings: []bindingDecl{
		{QueueRunsPending, ExchangeRuns, RoutingKeyPending},
		{QueueRunsFinished, ExchangeRuns, RoutingKeyFinished},
		{QueueDLQRuns, ExchangeDLQ, RoutingKeyDLQRuns},
	},
}

// SetupTopology объявляет обменники, очереди и привязки.
// Объявления идемпотентны, каждый сервис вызывает её при старте.
func SetupTopology(ctx context.Context, conn *Connection) error {
	return conn.WithChannel(ctx, declareTopology)
}

func declareTopology(ch *amqp.Channel) error {
	for _, ex := range topology.exchanges {
		// durable, без auto-delete
		if err := ch.ExchangeDeclare(string(ex.name), ex.kind, true, false, false, false, nil); err != nil {
			return fmt.Errorf("declare exchange %s: %w", ex.name, err)
		}
	}

	for _, q := range topology.queues {
		if _, err := ch.QueueDeclare(string(q.name), true, false, false, false, q.args); err != nil {
			return fmt.Errorf("declare queue %s: %w", q.name, err)
		}
	}

	for _, b := range topology.bindings {
		if err := ch.QueueBind(string(b.queue), string(b.key), string(b.exchange), false, nil); err != nil {
			return fmt.Errorf("bind queue %s to %s: %w", b.queue, b.exchange, err)
		}
	}

	return nil
}
