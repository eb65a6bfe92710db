package domain

// QueueStatus — статус очереди задач (engine.Queue).
//
// Жизненный цикл:
//
//	QUEUEING → RUNNING → SUCCEEDED
//	                   ↘ FAILED
//	                   ↘ STOPPED
//	                   ↘ TRANSFERRED (выполнение передано другой очереди)
//
// Терминальный статус окончателен: очередь нельзя запустить повторно.
type QueueStatus string

const (
	// QueueStatusQueueing — очередь принимает новые задачи.
	QueueStatusQueueing QueueStatus = "QUEUEING"

	// QueueStatusRunning — очередь выполняется, список задач заморожен.
	QueueStatusRunning QueueStatus = "RUNNING"

	// QueueStatusSucceeded — выполнение завершено без ошибок.
	QueueStatusSucceeded QueueStatus = "SUCCEEDED"

	// QueueStatusFailed — накоплена хотя бы одна ошибка.
	QueueStatusFailed QueueStatus = "FAILED"

	// QueueStatusStopped — выполнение остановлено verify-хуком.
	QueueStatusStopped QueueStatus = "STOPPED"

	// QueueStatusTransferred — выполнение передано другой очереди.
	QueueStatusTransferred QueueStatus = "TRANSFERRED"
)

// IsTerminal возвращает true, если статус финальный.
func (s QueueStatus) IsTerminal() bool {
	switch s {
	case QueueStatusSucceeded, QueueStatusFailed, QueueStatusStopped, QueueStatusTransferred:
		return true
	default:
		return false
	}
}

// String возвращает строковое представление QueueStatus.
func (s QueueStatus) String() string {
	return string(s)
}

// TaskMode — режим выполнения задачи в очереди.
type TaskMode string

const (
	// TaskModeSeries — задача ожидается до запуска следующей.
	TaskModeSeries TaskMode = "series"

	// TaskModeParallel — задача запускается без ожидания,
	// результаты собираются после основного прохода.
	TaskModeParallel TaskMode = "parallel"

	// TaskModeBackground — задача запускается и никогда не ожидается run'ом.
	TaskModeBackground TaskMode = "background"
)

// IsValid проверяет, что режим известен.
func (m TaskMode) IsValid() bool {
	switch m {
	case TaskModeSeries, TaskModeParallel, TaskModeBackground:
		return true
	default:
		return false
	}
}

// RunStatus — статус выполнения run (запуска flow).
//
// Жизненный цикл:
//
//	PENDING → RUNNING → SUCCEEDED
//	                  ↘ FAILED
//	                  ↘ STOPPED
//	          (или) → CANCELLED (из PENDING или RUNNING)
type RunStatus string

const (
	// RunStatusPending — run создан, но ещё не начал выполняться.
	RunStatusPending RunStatus = "PENDING"

	// RunStatusRunning — run в процессе выполнения.
	RunStatusRunning RunStatus = "RUNNING"

	// RunStatusSucceeded — run успешно завершён.
	RunStatusSucceeded RunStatus = "SUCCEEDED"

	// RunStatusFailed — run завершился с ошибкой.
	RunStatusFailed RunStatus = "FAILED"

	// RunStatusStopped — выполнение остановлено verify-правилом.
	RunStatusStopped RunStatus = "STOPPED"

	// RunStatusCancelled — run отменён пользователем.
	RunStatusCancelled RunStatus = "CANCELLED"
)

// IsTerminal возвращает true, если статус финальный (run завершён).
func (s RunStatus) IsTerminal() bool {
	switch s {
	case RunStatusSucceeded, RunStatusFailed, RunStatusStopped, RunStatusCancelled:
		return true
	default:
		return false
	}
}

// RunStatusFromQueue переводит статус терминальной очереди в статус run.
func RunStatusFromQueue(s QueueStatus) RunStatus {
	switch s {
	case QueueStatusSucceeded:
		return RunStatusSucceeded
	case QueueStatusStopped, QueueStatusTransferred:
		return RunStatusStopped
	case QueueStatusRunning, QueueStatusQueueing:
		return RunStatusRunning
	default:
		return RunStatusFailed
	}
}
