package adapters

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shaiso/relay/internal/engine"
)

// ErrorEvent — имя события, которое слушается неявно при ImplyError.
const ErrorEvent = "error"

// DefaultEventTimeout — таймаут ожидания события по умолчанию.
const DefaultEventTimeout = 60 * time.Second

// ErrSourceClosed — источник событий закрыл канал до завершения ожидания.
var ErrSourceClosed = errors.New("event source closed")

// Event — событие источника.
// Событие с ненулевым Err считается ошибочным независимо от имени.
type Event struct {
	Name   string
	Values []any
	Err    error
}

// EventSource — источник событий.
// Канал должен закрываться, когда ctx отменён.
type EventSource interface {
	Subscribe(ctx context.Context) (<-chan Event, error)
}

// EventSpec — ожидаемое событие.
type EventSpec struct {
	// Name — имя события.
	Name string

	// Timeout — таймаут для этого события. 0 — таймаут EventOptions,
	// отрицательное значение — без таймаута.
	Timeout time.Duration

	// ResolveOnTimeout — по таймауту завершиться успешно,
	// с *EventTimeoutError в качестве результата.
	ResolveOnTimeout bool
}

// EventOptions — параметры ожидания.
type EventOptions struct {
	// Timeout — общий таймаут. 0 — DefaultEventTimeout, отрицательный — без таймаута.
	Timeout time.Duration

	// ImplyError — дополнительно слушать событие "error".
	ImplyError bool

	// MaxEvents — сколько успешных событий нужно для завершения (по умолчанию 1).
	MaxEvents int

	// MaxErrorEvents — сколько ошибочных событий нужно для отказа (по умолчанию 1).
	MaxErrorEvents int
}

// DefaultEventOptions возвращает параметры по умолчанию: таймаут 60s,
// неявное событие "error", одно событие до завершения.
func DefaultEventOptions() EventOptions {
	return EventOptions{
		Timeout:        DefaultEventTimeout,
		ImplyError:     true,
		MaxEvents:      1,
		MaxErrorEvents: 1,
	}
}

// EventTimeoutError — событие не пришло вовремя.
type EventTimeoutError struct {
	Event   string
	Timeout time.Duration
}

// Error реализует интерфейс error.
func (e *EventTimeoutError) Error() string {
	return fmt.Sprintf("event %q timeout at %s", e.Event, e.Timeout)
}

// Fields возвращает поля для политик MatchFields.
func (e *EventTimeoutError) Fields() map[string]any {
	return map[string]any{"code": "EVENT_TIMEOUT", "event": e.Event}
}

// EventWaiter превращает ожидание событий в engine.Operation.
type EventWaiter struct {
	source EventSource
	opts   EventOptions
}

// NewEventWaiter создаёт EventWaiter.
func NewEventWaiter(src EventSource, opts EventOptions) *EventWaiter {
	if opts.Timeout == 0 {
		opts.Timeout = DefaultEventTimeout
	}
	if opts.MaxEvents <= 0 {
		opts.MaxEvents = 1
	}
	if opts.MaxErrorEvents <= 0 {
		opts.MaxErrorEvents = 1
	}
	return &EventWaiter{source: src, opts: opts}
}

// Operation возвращает операцию, ожидающую события specs.
//
// При MaxEvents == 1 результат — extract(values) первого события,
// иначе []any из extract(values) каждого события.
// Ошибочные события завершают операцию их ошибкой
// (несколько — через errors.Join).
func (w *EventWaiter) Operation(specs []EventSpec, extract Extractor) engine.Operation {
	if extract == nil {
		extract = First
	}

	return func(ctx context.Context, args ...any) (any, error) {
		return w.wait(ctx, specs, extract)
	}
}

// eventTimer — сработавший таймаут конкретного события.
type eventTimer struct {
	spec    EventSpec
	timeout time.Duration
}

func (w *EventWaiter) wait(ctx context.Context, specs []EventSpec, extract Extractor) (any, error) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	listened := make(map[string]bool, len(specs)+1)
	for _, s := range specs {
		listened[s.Name] = true
	}
	all := specs
	if w.opts.ImplyError && !listened[ErrorEvent] {
		all = append(append([]EventSpec(nil), specs...), EventSpec{Name: ErrorEvent})
		listened[ErrorEvent] = true
	}

	events, err := w.source.Subscribe(ctx)
	if err != nil {
		return nil, fmt.Errorf("subscribe to events: %w", err)
	}

	fired := make(chan eventTimer, len(all))
	for _, s := range all {
		timeout := s.Timeout
		if timeout == 0 {
			timeout = w.opts.Timeout
		}
		if timeout < 0 {
			continue
		}
		t := time.AfterFunc(timeout, func() {
			fired <- eventTimer{spec: s, timeout: timeout}
		})
		defer t.Stop()
	}

	var (
		results []any
		errs    []error
	)
	for {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()

		case ft := <-fired:
			terr := &EventTimeoutError{Event: ft.spec.Name, Timeout: ft.timeout}
			if ft.spec.ResolveOnTimeout {
				return terr, nil
			}
			return nil, terr

		case ev, ok := <-events:
			if !ok {
				return nil, ErrSourceClosed
			}
			if !listened[ev.Name] {
				continue
			}

			if ev.Err != nil || ev.Name == ErrorEvent {
				evErr := ev.Err
				if evErr == nil {
					evErr = fmt.Errorf("error event: %v", ev.Values)
				}
				errs = append(errs, evErr)
				if len(errs) >= w.opts.MaxErrorEvents {
					return nil, errors.Join(errs...)
				}
				continue
			}

			results = append(results, extract(ev.Values))
			if len(results) >= w.opts.MaxEvents {
				if w.opts.MaxEvents == 1 {
					return results[0], nil
				}
				return results, nil
			}
		}
	}
}
