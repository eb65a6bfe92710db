package engine

import (
	"errors"
	"fmt"

	pkgerrors "github.com/pkg/errors"

	"github.com/shaiso/relay/internal/domain"
)

// Ошибки использования очереди. Они всегда возвращаются вызывающему
// и никогда не проходят через политику ошибок.
var (
	// ErrNotQueueing — операция допустима только в статусе QUEUEING.
	ErrNotQueueing = errors.New("queue is not in QUEUEING status")

	// ErrNothingToRun — run вызван для пустой очереди.
	ErrNothingToRun = errors.New("nothing to run")

	// ErrNilOperation — в очередь передана nil операция.
	ErrNilOperation = errors.New("operation must not be nil")

	// ErrInvalidMode — неизвестный режим выполнения.
	ErrInvalidMode = errors.New("invalid task mode")

	// ErrEmptyVerifyName — verify зарегистрирован без имени задачи.
	ErrEmptyVerifyName = errors.New("verify name must not be blank")

	// ErrNilHook — verify зарегистрирован с nil хуком.
	ErrNilHook = errors.New("verify hook must not be nil")

	// ErrInvalidPath — путь к результату не удалось разобрать.
	ErrInvalidPath = errors.New("invalid result path")

	// ErrMissingSettlement — у запущенной задачи нет handle завершения.
	ErrMissingSettlement = errors.New("task has no settlement handle")
)

// Ошибки рендеринга шаблонов.
var (
	// ErrTemplateRender — ошибка рендеринга шаблона.
	ErrTemplateRender = errors.New("template render failed")

	// ErrTemplateParse — ошибка парсинга шаблона.
	ErrTemplateParse = errors.New("template parse failed")
)

// TaskError — ошибка задачи очереди.
//
// Error() возвращает текст исходной ошибки, Unwrap — саму исходную ошибку,
// поэтому errors.Is/As видят то, что вернула операция (или verify-хук).
// Cause — ошибка задачи, поверх которой хук создал новую.
type TaskError struct {
	Name      string          // имя задачи
	Operation string          // идентификатор операции
	Mode      domain.TaskMode // режим выполнения
	Err       error           // исходная ошибка
	Cause     error           // ошибка, на которую наложена Err (может быть nil)
}

// Error реализует интерфейс error.
func (e *TaskError) Error() string {
	return e.Err.Error()
}

// Unwrap возвращает исходную ошибку.
func (e *TaskError) Unwrap() error {
	return e.Err
}

// PanicError — паника операции, превращённая в ошибку.
//
// Если значение паники само является ошибкой (например, runtime.Error),
// оно доступно через errors.As. %+v печатает стек места восстановления.
type PanicError struct {
	Value any
	stack error
}

func newPanicError(v any) *PanicError {
	return &PanicError{
		Value: v,
		stack: pkgerrors.WithStack(fmt.Errorf("panic: %v", v)),
	}
}

// Error реализует интерфейс error.
func (e *PanicError) Error() string {
	return fmt.Sprintf("panic: %v", e.Value)
}

// Unwrap возвращает значение паники, если это ошибка.
func (e *PanicError) Unwrap() error {
	if err, ok := e.Value.(error); ok {
		return err
	}
	return nil
}

// Format поддерживает %+v со стеком.
func (e *PanicError) Format(s fmt.State, verb rune) {
	if verb == 'v' && s.Flag('+') {
		fmt.Fprintf(s, "%+v", e.stack)
		return
	}
	fmt.Fprint(s, e.Error())
}
