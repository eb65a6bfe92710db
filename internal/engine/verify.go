package engine

import (
	"context"

	"github.com/shaiso/relay/internal/domain"
)

// Hook — verify-хук задачи.
//
// Вызывается после завершения задачи (для parallel — дважды: при запуске
// и при завершении). q — очередь, которой принадлежит задача.
// Возвращённая ошибка накладывается на ошибку задачи (TaskError.Cause)
// и проходит через политику ошибок.
type Hook func(ctx context.Context, q *Queue, v *Verification) (Decision, error)

// Verification — изменяемое представление задачи для verify-хука.
//
// Error и Result можно менять: новая ошибка ведёт себя так, как если бы
// её вернула операция, nil в Error снимает ошибку задачи.
type Verification struct {
	// Error — ошибка задачи.
	Error error

	// Result — результат задачи.
	Result any

	name      string
	operation string
	mode      domain.TaskMode
	pending   bool
	message   string
	hasMsg    bool
}

// Name возвращает имя задачи.
func (v *Verification) Name() string { return v.name }

// Operation возвращает идентификатор операции.
func (v *Verification) Operation() string { return v.operation }

// IsPending — true при первом вызове для parallel и всегда для background.
func (v *Verification) IsPending() bool { return v.pending }

// IsParallel — задача в режиме parallel.
func (v *Verification) IsParallel() bool { return v.mode == domain.TaskModeParallel }

// IsBackground — задача в режиме background.
func (v *Verification) IsBackground() bool { return v.mode == domain.TaskModeBackground }

// SetMessage заменяет сообщение задачи в Messages.
func (v *Verification) SetMessage(msg string) {
	v.message = msg
	v.hasMsg = true
}

// decisionKind — вид решения хука.
type decisionKind int

const (
	decisionContinue decisionKind = iota
	decisionStop
	decisionTransfer
)

// Decision — решение verify-хука.
type Decision struct {
	kind   decisionKind
	target *Queue
}

// Continue — продолжить выполнение.
func Continue() Decision {
	return Decision{kind: decisionContinue}
}

// Stop — остановить выполнение; статус очереди станет STOPPED
// (или FAILED при накопленных ошибках).
func Stop() Decision {
	return Decision{kind: decisionStop}
}

// Transfer — передать оставшееся выполнение очереди target.
// Передача самой себе и nil эквивалентны Continue.
func Transfer(target *Queue) Decision {
	if target == nil {
		return Continue()
	}
	return Decision{kind: decisionTransfer, target: target}
}

// IsStop сообщает, что решение — остановка.
func (d Decision) IsStop() bool { return d.kind == decisionStop }

// Target возвращает очередь для передачи выполнения или nil.
func (d Decision) Target() *Queue { return d.target }

// halts сообщает, останавливает ли решение основной проход для очереди q.
func (d Decision) halts(q *Queue) bool {
	switch d.kind {
	case decisionStop:
		return true
	case decisionTransfer:
		return d.target != q
	default:
		return false
	}
}
