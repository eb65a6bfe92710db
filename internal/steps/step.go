package steps

import (
	"context"
	"errors"
	"time"

	"github.com/shaiso/relay/internal/engine"
)

var (
	ErrStepNotFound = errors.New("step type not found")
	ErrInvalidConfig = errors.New("invalid step config")
	ErrStepCancelled = errors.New("step execution cancelled")
)

// Step — тип задачи FlowSpec: http, delay, transform, sql, publish, await.
//
// Execute должен завершаться при отмене ctx.
type Step interface {
	Type() string
	Execute(ctx context.Context, req *Request) (*Response, error)
}

// Request — вызов шага движком.
type Request struct {
	StepID string
	Config Config

	// Timeout задачи из FlowSpec, 0 — без ограничения.
	Timeout time.Duration
}

// Response — результат шага. Outputs сохраняются под именем задачи
// и доступны следующим задачам через $ref и шаблоны.
type Response struct {
	Outputs map[string]any
}

// NewRequest создаёт Request. Пустая конфигурация заменяется на {}.
func NewRequest(stepID string, config map[string]any, timeout time.Duration) *Request {
	if config == nil {
		config = map[string]any{}
	}
	return &Request{StepID: stepID, Config: config, Timeout: timeout}
}

// NewResponse создаёт Response. nil outputs заменяются на {}.
func NewResponse(outputs map[string]any) *Response {
	if outputs == nil {
		outputs = map[string]any{}
	}
	return &Response{Outputs: outputs}
}

// Operation превращает шаг в операцию движка.
//
// Первый аргумент операции — вычисленная конфигурация задачи,
// результат операции — Response.Outputs.
func Operation(step Step, stepID string, timeout time.Duration) engine.Operation {
	return func(ctx context.Context, args ...any) (any, error) {
		var config map[string]any
		if len(args) > 0 {
			config, _ = args[0].(map[string]any)
		}

		if timeout > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, timeout)
			defer cancel()
		}

		resp, err := step.Execute(ctx, NewRequest(stepID, config, timeout))
		if err != nil || resp == nil {
			return nil, err
		}
		return resp.Outputs, nil
	}
}
