package flow

import "errors"

// Ошибки валидации FlowSpec.
var (
	// ErrNoQueues — flow не содержит очередей.
	ErrNoQueues = errors.New("flow spec has no queues")

	// ErrEmptyQueueID — очередь не имеет ID.
	ErrEmptyQueueID = errors.New("queue has empty ID")

	// ErrDuplicateQueueID — несколько очередей с одинаковым ID.
	ErrDuplicateQueueID = errors.New("duplicate queue ID")

	// ErrUnknownEntry — стартовая очередь не существует.
	ErrUnknownEntry = errors.New("entry queue not found")

	// ErrEmptyTasks — очередь не содержит задач.
	ErrEmptyTasks = errors.New("queue has no tasks")

	// ErrDuplicateTaskName — несколько задач очереди с одинаковым именем.
	ErrDuplicateTaskName = errors.New("duplicate task name")

	// ErrReservedTaskName — имя задачи зарезервировано.
	ErrReservedTaskName = errors.New("reserved task name")

	// ErrInvalidTaskMode — неизвестный режим выполнения.
	ErrInvalidTaskMode = errors.New("invalid task mode")

	// ErrUnknownStepType — неизвестный тип шага.
	ErrUnknownStepType = errors.New("unknown step type")

	// ErrInvalidPolicy — политику ошибок не удалось разобрать.
	ErrInvalidPolicy = errors.New("invalid error policy")

	// ErrInvalidRef — $ref или шаблон в конфигурации задачи не разбираются.
	ErrInvalidRef = errors.New("invalid config reference")
)

// Ошибки verify-правил.
var (
	// ErrUnknownVerifyTask — правило ссылается на несуществующую задачу.
	ErrUnknownVerifyTask = errors.New("verify rule references unknown task")

	// ErrInvalidVerifyOn — неизвестное условие срабатывания.
	ErrInvalidVerifyOn = errors.New("invalid verify trigger")

	// ErrInvalidVerifyAction — неизвестное действие.
	ErrInvalidVerifyAction = errors.New("invalid verify action")

	// ErrMissingTarget — transfer без целевой очереди.
	ErrMissingTarget = errors.New("transfer has no target")

	// ErrUnknownTarget — целевая очередь не существует.
	ErrUnknownTarget = errors.New("transfer target not found")

	// ErrSelfTransfer — очередь передаёт выполнение самой себе.
	ErrSelfTransfer = errors.New("queue transfers to itself")

	// ErrCyclicTransfer — обнаружен цикл в графе передач.
	ErrCyclicTransfer = errors.New("cyclic transfer detected")
)

// Ошибки входных параметров и расписания.
var (
	// ErrInvalidInput — некорректное определение входного параметра.
	ErrInvalidInput = errors.New("invalid input definition")

	// ErrMissingInput — не передан обязательный входной параметр.
	ErrMissingInput = errors.New("required input missing")

	// ErrInputType — значение входного параметра не соответствует типу.
	ErrInputType = errors.New("input type mismatch")

	// ErrInvalidSchedule — cron-выражение или часовой пояс не разбираются.
	ErrInvalidSchedule = errors.New("invalid schedule")
)

// ValidationError — ошибка валидации с контекстом.
type ValidationError struct {
	Queue   string // ID очереди, где произошла ошибка
	Task    string // имя задачи (может быть пустым)
	Field   string // поле, вызвавшее ошибку
	Message string // описание ошибки
	Err     error  // базовая ошибка
}

// Error реализует интерфейс error.
func (e *ValidationError) Error() string {
	switch {
	case e.Queue != "" && e.Task != "":
		return "queue " + e.Queue + ", task " + e.Task + ": " + e.Message
	case e.Queue != "":
		return "queue " + e.Queue + ": " + e.Message
	default:
		return e.Message
	}
}

// Unwrap возвращает базовую ошибку.
func (e *ValidationError) Unwrap() error {
	return e.Err
}

// NewValidationError создаёт новую ошибку валидации.
func NewValidationError(queue, task, field, message string, err error) *ValidationError {
	return &ValidationError{
		Queue:   queue,
		Task:    task,
		Field:   field,
		Message: message,
		Err:     err,
	}
}

// VerifyError — ошибка, которую создаёт verify-правило с action=fail.
type VerifyError struct {
	Task string
	Text string
}

// Error реализует интерфейс error.
func (e *VerifyError) Error() string {
	if e.Text != "" {
		return e.Text
	}
	return "verification failed for " + e.Task
}

// Fields возвращает поля для политик MatchFields.
func (e *VerifyError) Fields() map[string]any {
	return map[string]any{
		"code": "VERIFY_FAILED",
		"task": e.Task,
	}
}
