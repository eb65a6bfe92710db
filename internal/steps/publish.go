package steps

import (
	"context"
	"fmt"
)

const (
	// StepTypePublish — тип шага публикации события.
	StepTypePublish = "publish"

	// Ключи конфигурации publish.
	configRoutingKey = "routing_key"
	configType       = "type"
	configPayload    = "payload"
)

// EventPublisher публикует события. Реализуется mq.Publisher.
type EventPublisher interface {
	PublishEvent(ctx context.Context, routingKey, msgType string, payload any) (string, error)
}

// PublishStep — шаг публикации события в брокер.
//
// Конфигурация:
//
//	{
//	    "routing_key": "orders.created",
//	    "type": "order.created",          // по умолчанию routing_key
//	    "payload": {"id": {"$ref": "create.body.id"}}
//	}
//
// Outputs: {"message_id": "..."}
type PublishStep struct {
	publisher EventPublisher
}

// NewPublishStep создаёт новый PublishStep.
func NewPublishStep(publisher EventPublisher) *PublishStep {
	return &PublishStep{publisher: publisher}
}

// Type возвращает тип шага.
func (s *PublishStep) Type() string {
	return StepTypePublish
}

// Execute публикует событие.
func (s *PublishStep) Execute(ctx context.Context, req *Request) (*Response, error) {
	routingKey := req.Config.String(configRoutingKey)
	if routingKey == "" {
		return nil, fmt.Errorf("%w: %s: routing_key is required", ErrInvalidConfig, StepTypePublish)
	}

	msgType := req.Config.String(configType)
	if msgType == "" {
		msgType = routingKey
	}

	id, err := s.publisher.PublishEvent(ctx, routingKey, msgType, req.Config[configPayload])
	if err != nil {
		return nil, fmt.Errorf("publish %s: %w", routingKey, err)
	}

	return &Response{Outputs: map[string]any{"message_id": id}}, nil
}
