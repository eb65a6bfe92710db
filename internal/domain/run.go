package domain

import (
	"time"

	"github.com/google/uuid"
)

// Run — запуск конкретной версии flow.
//
// Run создаётся API, CLI или планировщиком в статусе PENDING и
// выполняется оркестратором. Завершённый run хранит отчёт: результаты
// задач, сообщения, подавленные ошибки и очередь, на которой
// закончилось выполнение.
type Run struct {
	ID      uuid.UUID      `json:"id"`
	FlowID  uuid.UUID      `json:"flow_id"`
	Version int            `json:"version"`
	Status  RunStatus      `json:"status"`
	Inputs  map[string]any `json:"inputs,omitempty"`

	Result        map[string]any `json:"result,omitempty"`
	Messages      []string       `json:"messages,omitempty"`
	Errors        []string       `json:"errors,omitempty"`
	TerminalQueue string         `json:"terminal_queue,omitempty"`

	StartedAt  *time.Time `json:"started_at,omitempty"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`

	// Error — ошибка, прервавшая выполнение. Ошибки задач, подавленные
	// политикой, лежат в Errors.
	Error string `json:"error,omitempty"`

	// IdempotencyKey уникален в рамках flow. Планировщик использует
	// "<flow_id>_<unix>" момента срабатывания.
	IdempotencyKey string `json:"idempotency_key,omitempty"`

	CreatedAt time.Time `json:"created_at"`
}

// Duration — время от старта до завершения, 0 для незавершённого run.
func (r *Run) Duration() time.Duration {
	if r.StartedAt == nil || r.FinishedAt == nil {
		return 0
	}
	return r.FinishedAt.Sub(*r.StartedAt)
}

func (r *Run) IsFinished() bool {
	return r.Status.IsTerminal()
}

func (r *Run) MarkRunning() {
	now := time.Now()
	r.Status = RunStatusRunning
	r.StartedAt = &now
}

// MarkFinished переводит run в терминальный статус status.
func (r *Run) MarkFinished(status RunStatus, errText string) {
	now := time.Now()
	r.Status = status
	r.FinishedAt = &now
	r.Error = errText
}

func (r *Run) MarkFailed(errText string) {
	r.MarkFinished(RunStatusFailed, errText)
}

func (r *Run) MarkCancelled() {
	r.MarkFinished(RunStatusCancelled, "")
}
