package steps

import (
	"context"
	"fmt"
	"time"

	"github.com/shaiso/relay/internal/adapters"
)

const (
	// StepTypeAwait — тип шага ожидания события.
	StepTypeAwait = "await"

	// Ключи конфигурации await.
	configQueue            = "queue"
	configBinding          = "binding"
	configEvents           = "events"
	configTimeoutMs        = "timeout_ms"
	configMaxEvents        = "max_events"
	configMaxErrorEvents   = "max_error_events"
	configImplyError       = "imply_error"
	configResolveOnTimeout = "resolve_on_timeout"

	defaultBinding = "#"
)

// EventSources выдаёт источник событий для очереди брокера.
// Реализуется mq.Sources.
type EventSources interface {
	Source(queue, binding string) adapters.EventSource
}

// AwaitStep — шаг ожидания событий из брокера.
//
// Конфигурация:
//
//	{
//	    "queue": "",                 // пусто — временная очередь
//	    "binding": "orders.#",       // ключ привязки, по умолчанию "#"
//	    "events": ["order.paid", {"name": "order.shipped", "timeout_ms": 5000}],
//	    "timeout_ms": 60000,
//	    "max_events": 1,
//	    "max_error_events": 1,
//	    "imply_error": true,         // слушать событие "error"
//	    "resolve_on_timeout": false
//	}
//
// Результат при max_events = 1 — payload события, иначе массив payload.
// При resolve_on_timeout результатом становится ошибка таймаута.
type AwaitStep struct {
	sources EventSources
}

// NewAwaitStep создаёт новый AwaitStep.
func NewAwaitStep(sources EventSources) *AwaitStep {
	return &AwaitStep{sources: sources}
}

// Type возвращает тип шага.
func (s *AwaitStep) Type() string {
	return StepTypeAwait
}

// Execute ожидает события.
func (s *AwaitStep) Execute(ctx context.Context, req *Request) (*Response, error) {
	specs, err := s.parseEvents(req.Config)
	if err != nil {
		return nil, err
	}

	opts := adapters.DefaultEventOptions()
	if ms := req.Config.Int(configTimeoutMs); ms != 0 {
		opts.Timeout = time.Duration(ms) * time.Millisecond
	}
	if n := req.Config.Int(configMaxEvents); n > 0 {
		opts.MaxEvents = n
	}
	if n := req.Config.Int(configMaxErrorEvents); n > 0 {
		opts.MaxErrorEvents = n
	}
	opts.ImplyError = req.Config.Bool(configImplyError, opts.ImplyError)

	binding := req.Config.String(configBinding)
	if binding == "" {
		binding = defaultBinding
	}
	src := s.sources.Source(req.Config.String(configQueue), binding)

	result, err := adapters.NewEventWaiter(src, opts).Operation(specs, adapters.First)(ctx)
	if err != nil {
		return nil, err
	}

	if terr, ok := result.(*adapters.EventTimeoutError); ok {
		return &Response{Outputs: map[string]any{
			"timeout": true,
			"event":   terr.Event,
			"message": terr.Error(),
		}}, nil
	}

	outputs := map[string]any{"event": result}
	if events, ok := result.([]any); ok {
		outputs = map[string]any{"events": events}
	}
	return &Response{Outputs: outputs}, nil
}

// parseEvents разбирает список ожидаемых событий: строки или объекты
// {"name", "timeout_ms", "resolve_on_timeout"}.
func (s *AwaitStep) parseEvents(config Config) ([]adapters.EventSpec, error) {
	raw, ok := config[configEvents].([]any)
	if !ok || len(raw) == 0 {
		return nil, fmt.Errorf("%w: %s: events are required", ErrInvalidConfig, StepTypeAwait)
	}

	resolve := config.Bool(configResolveOnTimeout, false)
	specs := make([]adapters.EventSpec, 0, len(raw))
	for i, item := range raw {
		switch ev := item.(type) {
		case string:
			specs = append(specs, adapters.EventSpec{Name: ev, ResolveOnTimeout: resolve})
		case map[string]any:
			obj := Config(ev)
			name := obj.String("name")
			if name == "" {
				return nil, fmt.Errorf("%w: %s: events[%d]: name is required", ErrInvalidConfig, StepTypeAwait, i)
			}
			spec := adapters.EventSpec{
				Name:             name,
				ResolveOnTimeout: obj.Bool(configResolveOnTimeout, resolve),
			}
			if ms := obj.Int(configTimeoutMs); ms != 0 {
				spec.Timeout = time.Duration(ms) * time.Millisecond
			}
			specs = append(specs, spec)
		default:
			return nil, fmt.Errorf("%w: %s: events[%d]: expected string or object", ErrInvalidConfig, StepTypeAwait, i)
		}
	}
	return specs, nil
}
