package flow

import (
	"context"
	"errors"
	"time"

	"github.com/shaiso/relay/internal/domain"
	"github.com/shaiso/relay/internal/engine"
)

// Report — итог запуска flow.
type Report struct {
	// Status — итоговый статус запуска.
	Status domain.RunStatus `json:"status"`

	// Terminal — ID очереди, на которой закончилось выполнение.
	Terminal string `json:"terminal"`

	// Result — результаты задач без входных параметров.
	Result map[string]any `json:"result,omitempty"`

	// Messages — сообщения задач в порядке появления.
	Messages []string `json:"messages,omitempty"`

	// Errors — тексты подавленных ошибок.
	Errors []string `json:"errors,omitempty"`

	// Queues — статусы всех очередей flow.
	Queues map[string]domain.QueueStatus `json:"queues"`

	// Duration — длительность запуска вместе с фоновыми задачами.
	Duration time.Duration `json:"duration"`

	// Error — текст ошибки, прервавшей выполнение.
	Error string `json:"error,omitempty"`

	// Err — ошибка, прервавшая выполнение (Run и фоновые задачи).
	Err error `json:"-"`
}

// Execute собирает очереди flow, запускает стартовую очередь
// и дожидается фоновых задач.
//
// Ошибка возвращается только если flow не удалось собрать.
// Ошибки выполнения попадают в Report.Err и определяют Report.Status.
func Execute(ctx context.Context, b *Builder, spec *domain.FlowSpec, inputs map[string]any) (*Report, error) {
	start := time.Now()

	plan, err := b.Build(spec, inputs)
	if err != nil {
		return nil, err
	}

	b.logger.Debug("flow started", "name", spec.Name, "entry", plan.QueueID(plan.Entry))

	_, runErr := plan.Entry.Run(ctx)
	terminal, bgFailed, bgErr := plan.Entry.BackgroundWaiter(ctx, plan.Store)
	if len(bgFailed) > 0 {
		b.logger.Warn("background tasks failed", "name", spec.Name, "count", len(bgFailed))
	}

	report := &Report{
		Terminal: plan.QueueID(terminal),
		Result:   resultOf(plan.Store),
		Messages: terminal.MessageList(),
		Errors:   errorTexts(terminal.Errors()),
		Queues:   plan.Statuses(),
		Duration: time.Since(start),
		Err:      errors.Join(runErr, bgErr),
	}

	switch {
	case ctx.Err() != nil:
		report.Status = domain.RunStatusCancelled
	case runErr != nil, bgErr != nil:
		report.Status = domain.RunStatusFailed
	default:
		report.Status = domain.RunStatusFromQueue(terminal.Status())
	}
	if report.Err != nil {
		report.Error = report.Err.Error()
	}

	b.logger.Info("flow finished",
		"name", spec.Name,
		"status", report.Status,
		"terminal", report.Terminal,
		"duration", report.Duration,
	)

	return report, nil
}

// resultOf копирует Store без входных параметров.
func resultOf(s engine.Store) map[string]any {
	out := make(map[string]any, len(s))
	for k, v := range s {
		if k == InputsTask {
			continue
		}
		out[k] = v
	}
	return out
}

func errorTexts(errs []error) []string {
	if len(errs) == 0 {
		return nil
	}
	out := make([]string, len(errs))
	for i, err := range errs {
		out[i] = err.Error()
	}
	return out
}
