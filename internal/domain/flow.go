package domain

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Flow — определение рабочего процесса.
//
// Один flow может иметь множество версий (FlowVersion).
// Каждый запуск (Run) выполняет конкретную версию flow.
type Flow struct {
	// ID — уникальный идентификатор flow.
	ID uuid.UUID `json:"id"`

	// Name — уникальное имя flow (например, "sync-orders").
	Name string `json:"name"`

	// IsActive — флаг активности. Неактивные flows не запускаются по расписанию.
	IsActive bool `json:"is_active"`

	// CreatedAt — время создания flow.
	CreatedAt time.Time `json:"created_at"`
}

// FlowVersion — версия flow с конкретной спецификацией.
type FlowVersion struct {
	// FlowID — ссылка на родительский flow.
	FlowID uuid.UUID `json:"flow_id"`

	// Version — номер версии (1, 2, 3, ...).
	Version int `json:"version"`

	// Spec — спецификация flow (JSONB).
	Spec FlowSpec `json:"spec"`

	// CreatedAt — время создания версии.
	CreatedAt time.Time `json:"created_at"`
}

// FlowSpec — спецификация flow.
//
// Flow описывает набор очередей. Выполнение начинается с очереди Entry;
// verify-правила могут остановить его или передать другой очереди.
// Все очереди одного запуска разделяют общее хранилище результатов.
type FlowSpec struct {
	// Version — версия формата спецификации.
	Version string `json:"version,omitempty"`

	// Name — имя flow.
	Name string `json:"name,omitempty"`

	// Description — описание назначения flow.
	Description string `json:"description,omitempty"`

	// Inputs — входные параметры flow.
	// Доступны задачам как {"$ref": "inputs.x"} и {{ .inputs.x }}.
	Inputs map[string]InputDef `json:"inputs,omitempty"`

	// Policy — политика ошибок по умолчанию для всех очередей.
	// Формат: true | false | "system" | {"invert": bool, "matches": ...}.
	Policy json.RawMessage `json:"policy,omitempty"`

	// IncludeErrorMessages — включать ли текст ошибок в messages.
	// Если false, в сообщение попадает только "Internal ERROR for ...".
	IncludeErrorMessages bool `json:"include_error_messages,omitempty"`

	// Entry — ID очереди, с которой начинается выполнение.
	// По умолчанию — первая очередь.
	Entry string `json:"entry,omitempty"`

	// Schedule — расписание автоматического запуска.
	Schedule *ScheduleDef `json:"schedule,omitempty"`

	// Queues — очереди flow.
	Queues []QueueDef `json:"queues"`
}

// EntryQueue возвращает ID стартовой очереди.
func (s *FlowSpec) EntryQueue() string {
	if s.Entry != "" {
		return s.Entry
	}
	if len(s.Queues) > 0 {
		return s.Queues[0].ID
	}
	return ""
}

// Queue возвращает определение очереди по ID.
func (s *FlowSpec) Queue(id string) (*QueueDef, bool) {
	for i := range s.Queues {
		if s.Queues[i].ID == id {
			return &s.Queues[i], true
		}
	}
	return nil, false
}

// InputDef — определение входного параметра.
type InputDef struct {
	// Type — тип параметра: "string", "number", "boolean", "object", "array".
	Type string `json:"type"`

	// Required — обязательный ли параметр.
	Required bool `json:"required,omitempty"`

	// Default — значение по умолчанию.
	Default any `json:"default,omitempty"`

	// Description — описание параметра.
	Description string `json:"description,omitempty"`
}

// ScheduleDef — расписание автоматического запуска flow.
type ScheduleDef struct {
	// Cron — cron-выражение ("*/5 * * * *").
	Cron string `json:"cron"`

	// Timezone — часовой пояс (по умолчанию "UTC").
	Timezone string `json:"timezone,omitempty"`

	// Inputs — входные параметры для запусков по расписанию.
	Inputs map[string]any `json:"inputs,omitempty"`
}

// QueueDef — определение очереди.
type QueueDef struct {
	// ID — уникальный идентификатор очереди в рамках flow.
	ID string `json:"id"`

	// Policy — политика ошибок очереди, переопределяет FlowSpec.Policy.
	Policy json.RawMessage `json:"policy,omitempty"`

	// Tasks — задачи в порядке постановки.
	Tasks []TaskDef `json:"tasks"`

	// Verify — verify-правила для задач очереди.
	Verify []VerifyDef `json:"verify,omitempty"`
}

// TaskDef — определение задачи в очереди.
type TaskDef struct {
	// Name — имя задачи; результат сохраняется под этим именем.
	// Пустое имя — результат не сохраняется.
	Name string `json:"name,omitempty"`

	// Mode — режим выполнения: series (по умолчанию), parallel, background.
	Mode TaskMode `json:"mode,omitempty"`

	// Type — тип шага: "http", "delay", "transform", "sql", "publish", "await".
	Type string `json:"type"`

	// Config — конфигурация шага.
	// Значения {"$ref": "path"} и строки с {{ }} вычисляются в момент запуска задачи.
	Config map[string]any `json:"config,omitempty"`

	// Policy — политика ошибок задачи, переопределяет политику очереди.
	Policy json.RawMessage `json:"policy,omitempty"`
}

// EffectiveMode возвращает режим с учётом значения по умолчанию.
func (t *TaskDef) EffectiveMode() TaskMode {
	if t.Mode == "" {
		return TaskModeSeries
	}
	return t.Mode
}

// Verify trigger values.
const (
	VerifyOnSettled = "settled"
	VerifyOnError   = "error"
	VerifyOnSuccess = "success"
	VerifyOnPending = "pending"
	VerifyOnAlways  = "always"
)

// Verify action values.
const (
	VerifyActionContinue = "continue"
	VerifyActionStop     = "stop"
	VerifyActionTransfer = "transfer"
	VerifyActionSuppress = "suppress"
	VerifyActionFail     = "fail"
)

// VerifyDef — verify-правило для задачи.
//
// Правило срабатывает, когда выполнено условие On, и применяет Action.
type VerifyDef struct {
	// Task — имя задачи, к которой привязано правило.
	Task string `json:"task"`

	// On — условие срабатывания: settled (по умолчанию), error, success, pending, always.
	On string `json:"on,omitempty"`

	// Action — действие: continue (по умолчанию), stop, transfer, suppress, fail.
	Action string `json:"action,omitempty"`

	// Target — ID очереди для action=transfer.
	Target string `json:"target,omitempty"`

	// Result — замена результата задачи.
	Result any `json:"result,omitempty"`

	// Message — замена сообщения задачи.
	Message string `json:"message,omitempty"`

	// Error — текст ошибки для action=fail.
	Error string `json:"error,omitempty"`
}

// EffectiveOn возвращает условие с учётом значения по умолчанию.
func (v *VerifyDef) EffectiveOn() string {
	if v.On == "" {
		return VerifyOnSettled
	}
	return v.On
}

// EffectiveAction возвращает действие с учётом значения по умолчанию.
func (v *VerifyDef) EffectiveAction() string {
	if v.Action == "" {
		return VerifyActionContinue
	}
	return v.Action
}
